// Package manifest implements the per-chunk directory mapping a fingerprint
// to the [start,end) byte range within the chunk that holds its revisions
// (§4.3). Entries live in an arena-backed open-addressed bucket array
// (§9: "Arena+index for manifests... represent entries as (fingerprint ->
// (u64,u64)) over a byte arena rather than pointer-heavy per-entry
// allocations"), adapted from the teacher's slot-cache bucket layout
// (pkg/slotcache/slotcache.go lookupKey) to this package's simpler
// two-phase put/freeze/load lifecycle instead of slotcache's live
// read/write/rehash cycle.
package manifest

import (
	"fmt"
	"io"
	"sync"

	"github.com/concourse-db/kernel/pkg/atom"
	"github.com/concourse-db/kernel/pkg/fs"
)

// Manifest is a mutable-then-frozen directory of fingerprint -> byte range
// entries. A freshly created Manifest accepts putStart/putEnd; once frozen
// (P5) all mutating calls fail with ErrIllegalTransition. A Manifest
// obtained from Load is frozen and unloaded: its bucket bytes are not read
// until the first Lookup (P6).
type Manifest struct {
	mu sync.RWMutex

	frozen bool
	loaded bool

	buckets     []byte
	bucketCount uint32
	entryCount  uint64
	capacity    uint64

	// Lazy-load source, set only when obtained via Load.
	fsys   fs.FS
	path   string
	offset int64
	length int64
}

// Create returns a new mutable Manifest sized for capacity entries.
func Create(capacity uint64) *Manifest {
	bucketCount := bucketCountFor(capacity, 0.5)
	return &Manifest{
		buckets:     make([]byte, int(bucketCount)*slotSize),
		bucketCount: bucketCount,
		capacity:    capacity,
		loaded:      true,
	}
}

// PutStart reserves a bucket for fp and records its range start. A
// subsequent PutEnd for the same fingerprint completes the entry.
func (m *Manifest) PutStart(fp atom.Fingerprint, start uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return fmt.Errorf("putStart: %w", ErrIllegalTransition)
	}

	idx, ok := m.probeForInsert(fp)
	if !ok {
		return fmt.Errorf("putStart: %w", ErrFull)
	}

	encodeSlot(m.buckets, idx*slotSize, fp, start, 0, slotPending)
	return nil
}

// PutEnd completes the entry for fp with its range end.
func (m *Manifest) PutEnd(fp atom.Fingerprint, end uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return fmt.Errorf("putEnd: %w", ErrIllegalTransition)
	}

	idx, ok := m.probeForExisting(fp)
	if !ok {
		return fmt.Errorf("putEnd: %w", ErrMissingStart)
	}

	off := idx * slotSize
	start, _ := decodeSlotRange(m.buckets, off)
	encodeSlot(m.buckets, off, fp, start, end, slotComplete)
	m.entryCount++
	return nil
}

// Freeze finalizes the manifest and returns its serialized bytes: a
// cmf1HeaderSize header followed by the bucket array. After Freeze, any
// mutating call returns ErrIllegalTransition (P5).
func (m *Manifest) Freeze() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return nil, fmt.Errorf("freeze: %w", ErrIllegalTransition)
	}
	m.frozen = true

	h := header{
		Magic:       [4]byte{'C', 'M', 'F', '1'},
		Version:     cmf1Version,
		HeaderSize:  cmf1HeaderSize,
		BucketCount: m.bucketCount,
		EntryCount:  m.entryCount,
		Capacity:    m.capacity,
	}

	out := make([]byte, 0, cmf1HeaderSize+len(m.buckets))
	out = append(out, encodeHeader(h)...)
	out = append(out, m.buckets...)
	return out, nil
}

// FreezeToFile finalizes the manifest and writes it atomically to path
// (for a manifest that stands alone rather than being embedded inside a
// Segment file).
func (m *Manifest) FreezeToFile(fsys fs.FS, path string) error {
	b, err := m.Freeze()
	if err != nil {
		return err
	}
	w := fs.NewAtomicWriter(fsys)
	if err := w.WriteWithDefaults(path, bytesReader(b)); err != nil {
		return fmt.Errorf("manifest: write %q: %w", path, err)
	}
	return nil
}

// Load returns a frozen, unloaded Manifest whose bytes live at
// [offset, offset+length) within path. No I/O happens until the first
// Lookup (P6); IsLoaded reports false until then.
func Load(fsys fs.FS, path string, offset, length int64) *Manifest {
	return &Manifest{
		frozen: true,
		loaded: false,
		fsys:   fsys,
		path:   path,
		offset: offset,
		length: length,
	}
}

// IsLoaded reports whether the manifest's bucket bytes have been mapped
// into memory yet.
func (m *Manifest) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Lookup returns the [start,end) byte range recorded for fp. On the first
// call against a Manifest obtained from Load, this transparently reads the
// manifest's bytes into memory (P6).
func (m *Manifest) Lookup(fp atom.Fingerprint) (start, end uint64, err error) {
	if err := m.ensureLoaded(); err != nil {
		return 0, 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.probeForExistingLocked(fp)
	if !ok {
		return 0, 0, ErrNotFound
	}
	s, e := decodeSlotRange(m.buckets, idx*slotSize)
	return s, e, nil
}

// EntryCount returns the number of complete entries in the manifest.
func (m *Manifest) EntryCount() (uint64, error) {
	if err := m.ensureLoaded(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entryCount, nil
}

func (m *Manifest) ensureLoaded() error {
	m.mu.RLock()
	loaded := m.loaded
	m.mu.RUnlock()
	if loaded {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return nil
	}

	f, err := m.fsys.Open(m.path)
	if err != nil {
		return fmt.Errorf("manifest: open %q: %w", m.path, err)
	}
	defer f.Close()

	if _, err := f.Seek(m.offset, io.SeekStart); err != nil {
		return fmt.Errorf("manifest: seek %q: %w", m.path, err)
	}

	buf := make([]byte, m.length)
	if _, err := io.ReadFull(f, buf); err != nil {
		return fmt.Errorf("manifest: read %q: %w", m.path, err)
	}

	h, err := decodeHeader(buf)
	if err != nil {
		return fmt.Errorf("manifest: %q: %w", m.path, err)
	}

	expected := int(h.HeaderSize) + int(h.BucketCount)*slotSize
	if len(buf) < expected {
		return fmt.Errorf("manifest: %q: %w", m.path, ErrCorrupt)
	}

	m.buckets = buf[h.HeaderSize:expected]
	m.bucketCount = h.BucketCount
	m.entryCount = h.EntryCount
	m.capacity = h.Capacity
	m.loaded = true
	return nil
}

// probeForInsert returns an empty bucket index for fp via linear probing
// from its hash-derived home bucket, creating a new entry slot.
func (m *Manifest) probeForInsert(fp atom.Fingerprint) (int, bool) {
	if m.bucketCount == 0 {
		return 0, false
	}
	home := bucketIndex(fp, m.bucketCount)
	for i := uint32(0); i < m.bucketCount; i++ {
		idx := int((home + i) % m.bucketCount)
		flag := decodeSlotFlag(m.buckets, idx*slotSize)
		if flag == slotEmpty {
			return idx, true
		}
	}
	return 0, false
}

// probeForExisting finds the bucket already holding fp (pending or
// complete), used by PutEnd which always follows a PutStart in the same
// mutable session.
func (m *Manifest) probeForExisting(fp atom.Fingerprint) (int, bool) {
	return m.probeForExistingLocked(fp)
}

func (m *Manifest) probeForExistingLocked(fp atom.Fingerprint) (int, bool) {
	if m.bucketCount == 0 {
		return 0, false
	}
	home := bucketIndex(fp, m.bucketCount)
	for i := uint32(0); i < m.bucketCount; i++ {
		idx := int((home + i) % m.bucketCount)
		off := idx * slotSize
		flag := decodeSlotFlag(m.buckets, off)
		if flag == slotEmpty {
			return 0, false
		}
		if decodeSlotFingerprint(m.buckets, off) == [16]byte(fp) {
			return idx, true
		}
	}
	return 0, false
}

func bucketIndex(fp atom.Fingerprint, bucketCount uint32) uint32 {
	// The fingerprint is already a uniformly distributed 128-bit hash; fold
	// its high 32 bits into the bucket space.
	v := uint32(fp[0])<<24 | uint32(fp[1])<<16 | uint32(fp[2])<<8 | uint32(fp[3])
	return v % bucketCount
}

type byteReader struct {
	b []byte
}

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}

func bytesReader(b []byte) *byteReader {
	return &byteReader{b: b}
}
