// Package segment implements the unit of durability, compaction and
// eviction (§4.5): a file holding one chunk of each kind (primary, index,
// search) plus their manifests and bloom filters.
package segment

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/concourse-db/kernel/pkg/atom"
	"github.com/concourse-db/kernel/pkg/bloom"
	"github.com/concourse-db/kernel/pkg/chunk"
	"github.com/concourse-db/kernel/pkg/fs"
	"github.com/concourse-db/kernel/pkg/manifest"
	"github.com/concourse-db/kernel/pkg/write"
)

// Options configures a Segment (§4.10.2: components are opened with a
// typed, validated options struct).
type Options struct {
	// ExpectedWrites sizes the bloom filters and manifests of a new mutable
	// segment. Defaults to 1024 if zero.
	ExpectedWrites int

	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger *zap.SugaredLogger
}

func (o Options) withDefaults() Options {
	if o.ExpectedWrites <= 0 {
		o.ExpectedWrites = 1024
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// Segment is a mutable-then-immutable file holding one chunk of each kind.
// Mutable segments accept Acquire; Transfer seals and atomically writes the
// file, flipping the segment to immutable (I3, terminal).
type Segment struct {
	mu sync.Mutex

	mutable atomic.Bool
	log     *zap.SugaredLogger

	primary *chunk.Primary
	index   *chunk.Index
	search  *chunk.Search

	sourceWrites []write.Write

	path string
}

// New returns a new, empty mutable Segment.
func New(opts Options) *Segment {
	opts = opts.withDefaults()

	s := &Segment{
		log:     opts.Logger,
		primary: chunk.NewPrimary(opts.ExpectedWrites),
		index:   chunk.NewIndex(opts.ExpectedWrites),
		search:  chunk.NewSearch(opts.ExpectedWrites * 4),
	}
	s.mutable.Store(true)
	return s
}

// Mutable reports whether the segment still accepts Acquire.
func (s *Segment) Mutable() bool {
	return s.mutable.Load()
}

// Path returns the segment's on-disk path, set once Transfer succeeds.
func (s *Segment) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Acquire dispatches w's revision into each of the three chunks (§4.6).
// Permitted only while the segment is mutable.
func (s *Segment) Acquire(w write.Write) error {
	if !s.mutable.Load() {
		return fmt.Errorf("segment: acquire: %w", ErrIllegalTransition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mutable.Load() {
		return fmt.Errorf("segment: acquire: %w", ErrIllegalTransition)
	}

	if err := s.primary.Insert(chunk.PrimaryRevision{
		Locator:   w.Record,
		Key:       w.Key,
		Value:     w.Value,
		Action:    w.Action,
		Timestamp: w.Timestamp,
		Version:   w.Version,
	}); err != nil {
		return fmt.Errorf("segment: acquire: primary: %w", err)
	}

	if err := s.index.Insert(chunk.IndexRevision{
		Locator:   w.Key,
		Key:       w.Value,
		Value:     w.Record,
		Action:    w.Action,
		Timestamp: w.Timestamp,
		Version:   w.Version,
	}); err != nil {
		return fmt.Errorf("segment: acquire: index: %w", err)
	}

	if w.Value.Kind == atom.KindString || w.Value.Kind == atom.KindTag {
		for i, term := range atom.NormalizeTerm(w.Value.Str) {
			t := atom.Text(term)
			if err := s.search.Insert(chunk.SearchRevision{
				Locator:   t,
				Key:       t,
				Value:     atom.Position{Record: w.Record, Token: uint32(i)},
				Action:    w.Action,
				Timestamp: w.Timestamp,
				Version:   w.Version,
			}); err != nil {
				return fmt.Errorf("segment: acquire: search: %w", err)
			}
		}
	}

	s.sourceWrites = append(s.sourceWrites, w)
	return nil
}

// Writes returns the source Writes acquired by this segment, in insertion
// order, for re-ingestion by the compactor (§4.5). For a segment freshly
// built this session, it returns the in-memory record kept by Acquire; for
// a segment reloaded from disk (sourceWrites starts empty across a
// restart), it reconstructs Writes from the primary chunk's revisions,
// which carry the same (key, value, record, action, timestamp, version)
// data, and orders them by Version, which is insertion order for writes
// versioned by the Buffer.
func (s *Segment) Writes() ([]write.Write, error) {
	s.mu.Lock()
	sourceWrites := make([]write.Write, len(s.sourceWrites))
	copy(sourceWrites, s.sourceWrites)
	s.mu.Unlock()

	if len(sourceWrites) > 0 {
		return sourceWrites, nil
	}

	revisions, err := s.primary.Dump()
	if err != nil {
		return nil, fmt.Errorf("segment: writes: %w", err)
	}

	out := make([]write.Write, len(revisions))
	for i, r := range revisions {
		out[i] = write.Write{
			Key:       r.Key,
			Value:     r.Value,
			Record:    r.Locator,
			Action:    r.Action,
			Timestamp: r.Timestamp,
			Version:   r.Version,
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Transfer seals all three chunks, writes the file atomically (temp file,
// fsync, rename) to path, and flips the segment to immutable (§4.5).
func (s *Segment) Transfer(fsys fs.FS, writer *fs.AtomicWriter, path string) error {
	if !s.mutable.CompareAndSwap(true, false) {
		return fmt.Errorf("segment: transfer: %w", ErrIllegalTransition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	primaryFolio, err := s.primary.Serialize()
	if err != nil {
		return fmt.Errorf("segment: transfer: primary: %w", err)
	}
	indexFolio, err := s.index.Serialize()
	if err != nil {
		return fmt.Errorf("segment: transfer: index: %w", err)
	}
	searchFolio, err := s.search.Serialize()
	if err != nil {
		return fmt.Errorf("segment: transfer: search: %w", err)
	}

	body := encodeBody(primaryFolio, indexFolio, searchFolio)

	if writer == nil {
		writer = fs.NewAtomicWriter(fsys)
	}
	if err := writer.WriteWithDefaults(path, bytes.NewReader(body)); err != nil {
		s.mutable.Store(true)
		return fmt.Errorf("segment: transfer: %w: %w", ErrIoFailure, err)
	}

	s.path = path
	s.log.Infow("segment transferred", "path", path, "writes", len(s.sourceWrites))
	return nil
}

func encodeBody(primary, index, search chunk.Folio) []byte {
	h := fileHeader{
		Version: fileFormatVersion,
		Schema:  schemaVersion,

		PrimaryChunkLen: uint64(len(primary.Bytes)),
		IndexChunkLen:   uint64(len(index.Bytes)),
		SearchChunkLen:  uint64(len(search.Bytes)),
	}

	chunksStart := uint64(headerSize)
	h.PrimaryManifestOff = chunksStart + h.PrimaryChunkLen + h.IndexChunkLen + h.SearchChunkLen
	h.IndexManifestOff = h.PrimaryManifestOff + uint64(len(primary.Manifest))
	h.SearchManifestOff = h.IndexManifestOff + uint64(len(index.Manifest))

	h.PrimaryBloomOff = h.SearchManifestOff + uint64(len(search.Manifest))
	h.IndexBloomOff = h.PrimaryBloomOff + uint64(len(primary.Bloom))
	h.SearchBloomOff = h.IndexBloomOff + uint64(len(index.Bloom))

	var buf bytes.Buffer
	buf.Write(encodeHeader(h))
	buf.Write(primary.Bytes)
	buf.Write(index.Bytes)
	buf.Write(search.Bytes)
	buf.Write(primary.Manifest)
	buf.Write(index.Manifest)
	buf.Write(search.Manifest)
	buf.Write(primary.Bloom)
	buf.Write(index.Bloom)
	buf.Write(search.Bloom)

	crc := crc32.Checksum(buf.Bytes(), crc32cTable)
	var crcBuf [4]byte
	crcBuf[0] = byte(crc >> 24)
	crcBuf[1] = byte(crc >> 16)
	crcBuf[2] = byte(crc >> 8)
	crcBuf[3] = byte(crc)
	buf.Write(crcBuf[:])

	return buf.Bytes()
}

// Load opens an immutable segment file at path. Chunk bloom filters are
// decoded from the file up front (they are small); the manifests are
// decoded on their first lookup, and the chunks' revision bytes are read
// lazily by Seek (§4.2, §6).
func Load(fsys fs.FS, path string, opts Options) (*Segment, error) {
	opts = opts.withDefaults()

	body, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("segment: load %q: %w: %w", path, ErrIoFailure, err)
	}
	if len(body) < 4 {
		return nil, fmt.Errorf("segment: load %q: %w", path, ErrCorruptSegment)
	}

	footer := body[len(body)-4:]
	content := body[:len(body)-4]
	storedCRC := uint32(footer[0])<<24 | uint32(footer[1])<<16 | uint32(footer[2])<<8 | uint32(footer[3])
	if crc32.Checksum(content, crc32cTable) != storedCRC {
		return nil, fmt.Errorf("segment: load %q: %w", path, ErrCorruptSegment)
	}

	h, err := decodeHeader(content)
	if err != nil {
		return nil, fmt.Errorf("segment: load %q: %w", path, err)
	}

	chunksStart := int64(headerSize)
	primaryOff := chunksStart
	indexOff := primaryOff + int64(h.PrimaryChunkLen)
	searchOff := indexOff + int64(h.IndexChunkLen)

	primaryManifestEnd := h.IndexManifestOff
	indexManifestEnd := h.SearchManifestOff
	searchManifestEnd := h.PrimaryBloomOff
	indexBloomEnd := h.SearchBloomOff
	searchBloomEnd := uint64(len(content))

	primaryBloom, err := bloom.Load(content[h.PrimaryBloomOff:h.IndexBloomOff])
	if err != nil {
		return nil, fmt.Errorf("segment: load %q: primary bloom: %w", path, err)
	}
	indexBloom, err := bloom.Load(content[h.IndexBloomOff:indexBloomEnd])
	if err != nil {
		return nil, fmt.Errorf("segment: load %q: index bloom: %w", path, err)
	}
	searchBloom, err := bloom.Load(content[indexBloomEnd:searchBloomEnd])
	if err != nil {
		return nil, fmt.Errorf("segment: load %q: search bloom: %w", path, err)
	}

	primaryManifest := manifest.Load(fsys, path, int64(h.PrimaryManifestOff), int64(primaryManifestEnd-h.PrimaryManifestOff))
	indexManifest := manifest.Load(fsys, path, int64(h.IndexManifestOff), int64(indexManifestEnd-h.IndexManifestOff))
	searchManifest := manifest.Load(fsys, path, int64(h.SearchManifestOff), int64(searchManifestEnd-h.SearchManifestOff))

	s := &Segment{
		log:     opts.Logger,
		path:    path,
		primary: chunk.LoadPrimary(fsys, path, primaryOff, int64(h.PrimaryChunkLen), primaryBloom, primaryManifest),
		index:   chunk.LoadIndex(fsys, path, indexOff, int64(h.IndexChunkLen), indexBloom, indexManifest),
		search:  chunk.LoadSearch(fsys, path, searchOff, int64(h.SearchChunkLen), searchBloom, searchManifest),
	}
	s.mutable.Store(false)
	return s, nil
}

// Primary returns the segment's primary chunk.
func (s *Segment) Primary() *chunk.Primary { return s.primary }

// Index returns the segment's index chunk.
func (s *Segment) Index() *chunk.Index { return s.index }

// Search returns the segment's search chunk.
func (s *Segment) Search() *chunk.Search { return s.search }
