// Package chunk implements the sorted, immutable revision container shared
// by all three chunk flavours (§4.2, §9 "Interface-polymorphism on
// chunks"): Primary, Index and Search chunks are all a Chunk[L,K,V]
// instantiated over the atom types named in §3, rather than three
// hand-written copies of the same insert/seek/serialize/load logic.
package chunk

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/concourse-db/kernel/pkg/atom"
	"github.com/concourse-db/kernel/pkg/bloom"
	"github.com/concourse-db/kernel/pkg/composite"
	"github.com/concourse-db/kernel/pkg/fs"
	"github.com/concourse-db/kernel/pkg/manifest"
	"github.com/concourse-db/kernel/pkg/write"
)

// Atom is the capability a chunk's Locator, Key and Value type parameters
// must provide: a deterministic byte encoding and a stable fingerprint.
type Atom interface {
	Bytes() []byte
	Fingerprint() atom.Fingerprint
}

// Decoder reads one T from the front of buf, returning the value and the
// number of bytes consumed. Supplied explicitly per chunk instantiation
// since Go generics cannot express "construct a new L from bytes" as a
// method constraint on L itself.
type Decoder[T any] func(buf []byte) (T, int, error)

// Revision is one entry in a chunk: the locator that determines ordering
// and grouping, the key and value atoms, and the (action, timestamp,
// version) triple carried over from the source Write (§3).
type Revision[L, K, V Atom] struct {
	Locator   L
	Key       K
	Value     V
	Action    write.Action
	Timestamp uint64
	Version   uint64
}

// Folio is the result of Serialize: the sealed chunk's revision bytes
// alongside its frozen manifest and bloom filter, ready for a Segment to
// embed (§4.2).
type Folio struct {
	Bytes    []byte
	Manifest []byte
	Bloom    []byte
}

// Chunk is a sorted, immutable-once-sealed run of revisions with its own
// bloom filter and manifest (§4.2). A Chunk is either building (accepting
// Insert, backed by an in-memory slice) or loaded (backed by bytes read
// lazily from a Segment file, per Load).
type Chunk[L, K, V Atom] struct {
	mu sync.Mutex

	sealed bool

	revisions []Revision[L, K, V]
	bloom     *bloom.Filter
	manifest  *manifest.Manifest

	// Loaded-mode fields.
	fsys        fs.FS
	path        string
	chunkOffset int64
	chunkLength int64
	decodeKey   Decoder[K]
	decodeLoc   Decoder[L]
	decodeVal   Decoder[V]
}

// New returns a building Chunk sized for expectedRevisions entries.
func New[L, K, V Atom](expectedRevisions int) *Chunk[L, K, V] {
	if expectedRevisions < 1 {
		expectedRevisions = 1
	}
	return &Chunk[L, K, V]{
		bloom:    bloom.New(expectedRevisions),
		manifest: manifest.Create(uint64(expectedRevisions) * 2),
	}
}

// Insert records rev in the chunk. Permitted only while the chunk is
// building (§4.2): Insert on a sealed chunk returns ErrIllegalTransition.
func (c *Chunk[L, K, V]) Insert(rev Revision[L, K, V]) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return fmt.Errorf("chunk: insert: %w", ErrIllegalTransition)
	}

	c.revisions = append(c.revisions, rev)
	c.bloom.Add(rev.Locator.Fingerprint())
	c.bloom.Add(composite.Fingerprint(fingerprintPart(rev.Locator), fingerprintPart(rev.Key)))
	return nil
}

// fingerprintPart adapts an Atom's fingerprint into a composite.Byteable so
// composite fingerprints are built from atoms' stable hashes rather than
// their raw (variable-width) encodings.
func fingerprintPart(a Atom) composite.Byteable {
	fp := a.Fingerprint()
	return composite.Bytes(fp[:])
}

// sortKey orders revisions by (locator, key, value, version) per I1, with
// version breaking ties among otherwise-identical locator/key/value triples
// so concurrent add/remove pairs land in a deterministic, stable order.
func sortKey[L, K, V Atom](r Revision[L, K, V]) (atom.Fingerprint, atom.Fingerprint, atom.Fingerprint, uint64) {
	return r.Locator.Fingerprint(), r.Key.Fingerprint(), r.Value.Fingerprint(), r.Version
}

func less[L, K, V Atom](a, b Revision[L, K, V]) bool {
	al, ak, av, aver := sortKey(a)
	bl, bk, bv, bver := sortKey(b)
	if al != bl {
		return al.Less(bl)
	}
	if ak != bk {
		return ak.Less(bk)
	}
	if av != bv {
		return av.Less(bv)
	}
	return aver < bver
}

// Serialize seals the chunk: sorts its revisions by (locator, key, value,
// version), builds the manifest spanning each locator's byte range and each
// (locator,key) composite's byte range, and returns the Folio ready for a
// Segment to embed.
func (c *Chunk[L, K, V]) Serialize() (Folio, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return Folio{}, fmt.Errorf("chunk: serialize: %w", ErrIllegalTransition)
	}
	c.sealed = true

	sort.SliceStable(c.revisions, func(i, j int) bool {
		return less(c.revisions[i], c.revisions[j])
	})

	var buf bytes.Buffer
	type span struct {
		start, end uint64
		open       bool
	}
	locatorSpans := map[atom.Fingerprint]*span{}
	compositeSpans := map[atom.Fingerprint]*span{}

	for _, r := range c.revisions {
		start := uint64(buf.Len())

		buf.Write(r.Locator.Bytes())
		buf.Write(r.Key.Bytes())
		buf.Write(r.Value.Bytes())
		writeU64(&buf, r.Version)
		writeU64(&buf, r.Timestamp)
		buf.WriteByte(byte(r.Action))

		end := uint64(buf.Len())

		locFP := r.Locator.Fingerprint()
		compFP := composite.Fingerprint(fingerprintPart(r.Locator), fingerprintPart(r.Key))

		if s, ok := locatorSpans[locFP]; ok {
			s.end = end
		} else {
			locatorSpans[locFP] = &span{start: start, end: end, open: true}
		}
		if s, ok := compositeSpans[compFP]; ok {
			s.end = end
		} else {
			compositeSpans[compFP] = &span{start: start, end: end, open: true}
		}
	}

	for fp, s := range locatorSpans {
		if err := c.manifest.PutStart(fp, s.start); err != nil {
			return Folio{}, fmt.Errorf("chunk: manifest locator entry: %w", err)
		}
		if err := c.manifest.PutEnd(fp, s.end); err != nil {
			return Folio{}, fmt.Errorf("chunk: manifest locator entry: %w", err)
		}
	}
	for fp, s := range compositeSpans {
		if err := c.manifest.PutStart(fp, s.start); err != nil {
			return Folio{}, fmt.Errorf("chunk: manifest composite entry: %w", err)
		}
		if err := c.manifest.PutEnd(fp, s.end); err != nil {
			return Folio{}, fmt.Errorf("chunk: manifest composite entry: %w", err)
		}
	}

	manifestBytes, err := c.manifest.Freeze()
	if err != nil {
		return Folio{}, fmt.Errorf("chunk: freeze manifest: %w", err)
	}
	bloomBytes, err := c.bloom.Serialize()
	if err != nil {
		return Folio{}, fmt.Errorf("chunk: serialize bloom: %w", err)
	}

	return Folio{Bytes: buf.Bytes(), Manifest: manifestBytes, Bloom: bloomBytes}, nil
}

// Load returns a sealed Chunk backed by bytes read lazily from path. The
// chunk's own revision bytes start at chunkOffset within path; its manifest
// and bloom filter are already resident (decoded by the Segment loader,
// which owns their byte ranges within the file). Load never copies the
// whole chunk: Seek reads only the manifest-resolved byte range.
func Load[L, K, V Atom](
	fsys fs.FS,
	path string,
	chunkOffset, chunkLength int64,
	bl *bloom.Filter,
	mf *manifest.Manifest,
	decodeLoc Decoder[L],
	decodeKey Decoder[K],
	decodeVal Decoder[V],
) *Chunk[L, K, V] {
	return &Chunk[L, K, V]{
		sealed:      true,
		fsys:        fsys,
		path:        path,
		chunkOffset: chunkOffset,
		chunkLength: chunkLength,
		bloom:       bl,
		manifest:    mf,
		decodeLoc:   decodeLoc,
		decodeKey:   decodeKey,
		decodeVal:   decodeVal,
	}
}

// Seek returns the revisions matching locator (and, if key is non-nil, the
// narrower (locator,key) group), using the bloom filter as a pre-filter and
// the manifest to resolve the exact byte range (§4.2).
func (c *Chunk[L, K, V]) Seek(locator L, key *K) ([]Revision[L, K, V], error) {
	var fp atom.Fingerprint
	if key != nil {
		fp = composite.Fingerprint(fingerprintPart(locator), fingerprintPart(*key))
	} else {
		fp = locator.Fingerprint()
	}

	if c.bloom != nil && !c.bloom.MayContain(fp) {
		return nil, nil
	}

	if c.fsys == nil {
		// Building chunk: scan the in-memory slice directly.
		c.mu.Lock()
		defer c.mu.Unlock()
		var out []Revision[L, K, V]
		for _, r := range c.revisions {
			if r.Locator.Fingerprint() != locator.Fingerprint() {
				continue
			}
			if key != nil && r.Key.Fingerprint() != (*key).Fingerprint() {
				continue
			}
			out = append(out, r)
		}
		return out, nil
	}

	start, end, err := c.manifest.Lookup(fp)
	if err != nil {
		if errorsIsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("chunk: seek: %w", err)
	}

	buf, err := c.readRange(start, end)
	if err != nil {
		return nil, fmt.Errorf("chunk: seek: %w", err)
	}

	return c.decodeRevisions(buf)
}

func (c *Chunk[L, K, V]) readRange(start, end uint64) ([]byte, error) {
	f, err := c.fsys.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", c.path, err)
	}
	defer f.Close()

	if _, err := f.Seek(c.chunkOffset+int64(start), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek %q: %w", c.path, err)
	}

	buf := make([]byte, end-start)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("read %q: %w", c.path, err)
	}
	return buf, nil
}

func (c *Chunk[L, K, V]) decodeRevisions(buf []byte) ([]Revision[L, K, V], error) {
	var out []Revision[L, K, V]
	for len(buf) > 0 {
		loc, n1, err := c.decodeLoc(buf)
		if err != nil {
			return nil, fmt.Errorf("decode locator: %w", err)
		}
		buf = buf[n1:]

		key, n2, err := c.decodeKey(buf)
		if err != nil {
			return nil, fmt.Errorf("decode key: %w", err)
		}
		buf = buf[n2:]

		val, n3, err := c.decodeVal(buf)
		if err != nil {
			return nil, fmt.Errorf("decode value: %w", err)
		}
		buf = buf[n3:]

		if len(buf) < 17 {
			return nil, fmt.Errorf("decode trailer: truncated")
		}
		version := readU64(buf[0:8])
		timestamp := readU64(buf[8:16])
		action := write.Action(buf[16])
		buf = buf[17:]

		out = append(out, Revision[L, K, V]{
			Locator:   loc,
			Key:       key,
			Value:     val,
			Action:    action,
			Timestamp: timestamp,
			Version:   version,
		})
	}
	return out, nil
}

// AllRevisions returns the chunk's source revisions: in insertion order
// until Serialize sorts them, in sorted order afterwards. Used by
// Segment.Writes to re-derive Writes for compaction re-ingestion.
func (c *Chunk[L, K, V]) AllRevisions() []Revision[L, K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Revision[L, K, V], len(c.revisions))
	copy(out, c.revisions)
	return out
}

// Dump returns every revision in the chunk, reading the full byte range
// from disk for a loaded chunk (used to reconstruct a reloaded Segment's
// source Writes, since a freshly-loaded Segment's in-memory sourceWrites
// slice starts empty — §4.5 "writes() returns the source Writes for
// re-ingestion" must survive a restart, not just a single process's
// lifetime).
func (c *Chunk[L, K, V]) Dump() ([]Revision[L, K, V], error) {
	c.mu.Lock()
	building := c.fsys == nil
	c.mu.Unlock()

	if building {
		return c.AllRevisions(), nil
	}

	buf, err := c.readRange(0, uint64(c.chunkLength))
	if err != nil {
		return nil, fmt.Errorf("chunk: dump: %w", err)
	}
	return c.decodeRevisions(buf)
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	putU64(tmp[:], v)
	buf.Write(tmp[:])
}

func putU64(buf []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
}

func readU64(buf []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(buf[i])
	}
	return v
}
