// Package database implements the kernel's façade (§4.6): it owns the
// ordered segment list, the current mutable segment and the Buffer, fans
// out reads newest-first (Buffer, then the mutable segment, then immutable
// segments newest to oldest), and wires a background Compactor over the
// same segment list.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/concourse-db/kernel/pkg/atom"
	"github.com/concourse-db/kernel/pkg/compactor"
	"github.com/concourse-db/kernel/pkg/fs"
	"github.com/concourse-db/kernel/pkg/limbo"
	"github.com/concourse-db/kernel/pkg/rwlock"
	"github.com/concourse-db/kernel/pkg/segment"
	"github.com/concourse-db/kernel/pkg/write"
)

const segmentFilePrefix = "segment-"
const segmentFileSuffix = ".seg"
const environmentLockFile = ".environment.lock"

// Options configures a DB (§4.10.2).
type Options struct {
	// Dir is the environment's root directory, holding manifest.hujson
	// and the segment files.
	Dir string

	// FS is the filesystem abstraction. Defaults to fs.NewReal().
	FS fs.FS

	// Buffer configures the write-ahead Buffer.
	Buffer limbo.Options

	// Segment configures newly created mutable segments.
	Segment segment.Options

	// Policy picks the compaction policy. Defaults to a MergeCompactor.
	Policy compactor.Policy

	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger *zap.SugaredLogger
}

func (o Options) withDefaults() Options {
	if o.FS == nil {
		o.FS = fs.NewReal()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	o.Buffer.Logger = o.Logger
	o.Segment.Logger = o.Logger
	return o
}

// DB is the kernel façade described in §4.6.
type DB struct {
	dir  string
	fsys fs.FS
	log  *zap.SugaredLogger

	buffer  *limbo.Buffer
	lock    *rwlock.Lock
	envLock *fs.Lock

	mu       sync.RWMutex
	mutable  *segment.Segment
	segments []*segment.Segment // oldest to newest
	segSeq   int

	compactor *compactor.Compactor
	segOpts   segment.Options
}

var _ compactor.SegmentList = (*DB)(nil)

// Open opens (or initializes) the environment rooted at opts.Dir, loading
// any existing segments and starting the background compactor.
func Open(opts Options) (*DB, error) {
	opts = opts.withDefaults()

	if err := opts.FS.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("database: open %q: %w", opts.Dir, err)
	}

	envLock, err := fs.NewLocker(opts.FS).Lock(filepath.Join(opts.Dir, environmentLockFile))
	if err != nil {
		return nil, fmt.Errorf("database: open %q: lock environment: %w", opts.Dir, err)
	}

	manifest, err := readEnvironmentManifest(opts.FS, opts.Dir)
	if err != nil {
		_ = envLock.Close()
		return nil, fmt.Errorf("database: open %q: %w", opts.Dir, err)
	}
	if err := writeEnvironmentManifest(opts.FS, opts.Dir, manifest); err != nil {
		_ = envLock.Close()
		return nil, fmt.Errorf("database: open %q: %w", opts.Dir, err)
	}

	if opts.Segment.ExpectedWrites <= 0 {
		opts.Segment.ExpectedWrites = manifest.ExpectedWrites
	}

	names, maxSeq, err := existingSegmentFiles(opts.FS, opts.Dir)
	if err != nil {
		_ = envLock.Close()
		return nil, fmt.Errorf("database: open %q: %w", opts.Dir, err)
	}

	segments := make([]*segment.Segment, 0, len(names))
	for _, name := range names {
		s, err := segment.Load(opts.FS, filepath.Join(opts.Dir, name), opts.Segment)
		if err != nil {
			_ = envLock.Close()
			return nil, fmt.Errorf("database: open %q: load %q: %w", opts.Dir, name, err)
		}
		segments = append(segments, s)
	}

	policy := opts.Policy
	if policy == nil {
		policy = &compactor.MergeCompactor{
			NewSegment: func() *segment.Segment { return segment.New(opts.Segment) },
		}
	}

	db := &DB{
		dir:      opts.Dir,
		fsys:     opts.FS,
		log:      opts.Logger,
		buffer:   limbo.New(opts.Buffer),
		lock:     rwlock.New(),
		envLock:  envLock,
		mutable:  segment.New(opts.Segment),
		segments: segments,
		segSeq:   maxSeq,
		segOpts:  opts.Segment,
	}

	db.compactor = compactor.New(compactor.Options{
		Policy:   policy,
		Segments: db,
		Lock:     db.lock,
		FS:       opts.FS,
		Logger:   opts.Logger,
		StorageContext: func() compactor.StorageContext {
			return compactor.StorageContext{MutableSegments: 1}
		},
	})
	db.compactor.Start()

	return db, nil
}

// Close stops the background compactor and releases the cross-process
// environment lock acquired by Open, letting another process (or another
// DB instance in this one) open the same directory (§4.10.4, §6).
func (db *DB) Close() error {
	db.compactor.Stop()
	return db.envLock.Close()
}

func existingSegmentFiles(fsys fs.FS, dir string) ([]string, int, error) {
	entries, err := fsys.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	var names []string
	maxSeq := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, segmentFilePrefix) || !strings.HasSuffix(name, segmentFileSuffix) {
			continue
		}
		names = append(names, name)
		digits := strings.TrimSuffix(strings.TrimPrefix(name, segmentFilePrefix), segmentFileSuffix)
		if seq, err := strconv.Atoi(digits); err == nil && seq > maxSeq {
			maxSeq = seq
		}
	}
	sort.Strings(names)
	return names, maxSeq, nil
}

// --- compactor.SegmentList ---

// Len returns the number of immutable segments (the mutable segment is
// never a compaction candidate, §9).
func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.segments)
}

// At returns the immutable segment at index i.
func (db *DB) At(i int) *segment.Segment {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.segments[i]
}

// Set replaces the immutable segment at index i, used by the compactor to
// install a merged segment (§4.7 step 6).
func (db *DB) Set(i int, s *segment.Segment) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.segments[i] = s
}

// RemoveAt deletes the immutable segment at index i, used by the compactor
// once its contents have been folded into an adjacent segment.
func (db *DB) RemoveAt(i int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.segments = append(db.segments[:i], db.segments[i+1:]...)
}

// NextSegmentPath allocates the on-disk path for the next segment file,
// whether a mutable-segment rotation (Fsync) or a compactor merge.
func (db *DB) NextSegmentPath() string {
	db.mu.Lock()
	db.segSeq++
	seq := db.segSeq
	db.mu.Unlock()
	return filepath.Join(db.dir, fmt.Sprintf("%s%08d%s", segmentFilePrefix, seq, segmentFileSuffix))
}

// --- write path ---

// Acquire appends w to the Buffer, assigning it the next monotonic version
// (§4.1, §4.6).
func (db *DB) Acquire(w write.Write) (write.Write, error) {
	return db.buffer.Insert(w)
}

// Fsync drains the Buffer into the current mutable segment, seals that
// segment to disk, appends it to the immutable segment list, and starts a
// fresh mutable segment — the durability barrier named in §1's Non-goals
// ("no guarantee that buffered writes survive a crash before an fsync
// barrier") and the control-flow summary in §2.
func (db *DB) Fsync() error {
	release := db.lock.Lock()
	defer release()

	db.mu.RLock()
	mutable := db.mutable
	db.mu.RUnlock()

	if err := db.buffer.Transfer(mutable); err != nil {
		return fmt.Errorf("database: fsync: %w", err)
	}

	path := db.NextSegmentPath()
	if err := mutable.Transfer(db.fsys, fs.NewAtomicWriter(db.fsys), path); err != nil {
		return fmt.Errorf("database: fsync: %w", err)
	}

	db.mu.Lock()
	db.segments = append(db.segments, mutable)
	db.mutable = segment.New(db.segOpts)
	db.mu.Unlock()

	db.log.Infow("fsync complete", "path", path)
	db.compactor.NotifySegmentAdded()
	return nil
}

// Compact forces one synchronous compaction attempt, outside the
// background worker's own pacing (§4.10.5 administrative surface).
func (db *DB) Compact() {
	db.compactor.TriggerOnce()
}

// --- read path ---

// Verify reports whether (key, value, record) is currently present, per I6:
// the symmetric sum (occurrence parity) of every matching revision across
// the Buffer and all segments, newest-first fan-out order making no
// difference to a parity computation (§4.6).
func (db *DB) Verify(key atom.Text, value atom.Value, record atom.PrimaryKey) (bool, error) {
	release := db.lock.RLock()
	defer release()

	count := 0
	for w := range db.buffer.Iterate() {
		if w.Matches(key, value, record) {
			count++
		}
	}

	for _, s := range db.readSources() {
		n, err := countPrimaryMatches(s, key, value, record)
		if err != nil {
			return false, fmt.Errorf("database: verify: %w", err)
		}
		count += n
	}

	return count%2 == 1, nil
}

func countPrimaryMatches(s *segment.Segment, key atom.Text, value atom.Value, record atom.PrimaryKey) (int, error) {
	revisions, err := s.Primary().Seek(record, &key)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range revisions {
		if r.Value.Equal(value) {
			n++
		}
	}
	return n, nil
}

// Find returns the records currently holding (key, value) via the index
// chunk, applying the same occurrence-parity rule as Verify (§4.6, §3 I6).
func (db *DB) Find(key atom.Text, value atom.Value) ([]atom.PrimaryKey, error) {
	release := db.lock.RLock()
	defer release()

	needle := value.Fingerprint()
	counts := map[atom.PrimaryKey]int{}
	for w := range db.buffer.Iterate() {
		// Index/search grouping collapses String and Tag onto the same
		// fingerprint (§4.2); match that here rather than Value.Equal's
		// primary-key-only semantics, so a buffered write doesn't silently
		// escape the parity count s.Index().Seek below already applies.
		if w.Key == key && w.Value.Fingerprint() == needle {
			counts[w.Record]++
		}
	}

	for _, s := range db.readSources() {
		revisions, err := s.Index().Seek(key, &value)
		if err != nil {
			return nil, fmt.Errorf("database: find: %w", err)
		}
		for _, r := range revisions {
			counts[r.Value]++
		}
	}

	var out []atom.PrimaryKey
	for record, n := range counts {
		if n%2 == 1 {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

type searchHit struct {
	record atom.PrimaryKey
	token  uint32
}

// Search returns the positions of term across every Buffer write and
// segment, fused in the same way Find fuses index lookups (§4.6, §9 "single
// normalized term" open question resolution in pkg/atom/text.go).
func (db *DB) Search(term string) ([]atom.Position, error) {
	tokens := atom.NormalizeTerm(term)
	if len(tokens) == 0 {
		return nil, nil
	}
	needle := atom.Text(tokens[0])

	release := db.lock.RLock()
	defer release()

	counts := map[searchHit]int{}
	for w := range db.buffer.Iterate() {
		if w.Value.Kind != atom.KindString && w.Value.Kind != atom.KindTag {
			continue
		}
		for i, tok := range atom.NormalizeTerm(w.Value.Str) {
			if tok == tokens[0] {
				counts[searchHit{w.Record, uint32(i)}]++
			}
		}
	}

	for _, s := range db.readSources() {
		revisions, err := s.Search().Seek(needle, &needle)
		if err != nil {
			return nil, fmt.Errorf("database: search: %w", err)
		}
		for _, r := range revisions {
			counts[searchHit{r.Value.Record, r.Value.Token}]++
		}
	}

	var out []atom.Position
	for hit, n := range counts {
		if n%2 == 1 {
			out = append(out, atom.Position{Record: hit.record, Token: hit.token})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Record != out[j].Record {
			return out[i].Record < out[j].Record
		}
		return out[i].Token < out[j].Token
	})
	return out, nil
}

// Iterate returns a newest-first iterator over every Write visible in the
// database: the Buffer, then the mutable segment, then immutable segments
// newest to oldest (§4.6).
func (db *DB) Iterate() func(yield func(write.Write) bool) {
	return func(yield func(write.Write) bool) {
		for w := range db.buffer.Iterate() {
			if !yield(w) {
				return
			}
		}

		release := db.lock.RLock()
		defer release()

		db.mu.RLock()
		mutable := db.mutable
		segments := append([]*segment.Segment(nil), db.segments...)
		db.mu.RUnlock()

		if mutable != nil {
			if ws, err := mutable.Writes(); err == nil {
				for i := len(ws) - 1; i >= 0; i-- {
					if !yield(ws[i]) {
						return
					}
				}
			}
		}

		for i := len(segments) - 1; i >= 0; i-- {
			ws, err := segments[i].Writes()
			if err != nil {
				db.log.Errorw("iterate: segment writes", "error", err)
				continue
			}
			for j := len(ws) - 1; j >= 0; j-- {
				if !yield(ws[j]) {
					return
				}
			}
		}
	}
}

// readSources returns the mutable segment (even when empty) followed by
// immutable segments newest to oldest — the §4.6 fan-out order minus the
// Buffer, which callers handle separately since it isn't a *segment.Segment.
func (db *DB) readSources() []*segment.Segment {
	db.mu.RLock()
	mutable := db.mutable
	segments := append([]*segment.Segment(nil), db.segments...)
	db.mu.RUnlock()

	out := make([]*segment.Segment, 0, len(segments)+1)
	if mutable != nil {
		out = append(out, mutable)
	}
	for i := len(segments) - 1; i >= 0; i-- {
		out = append(out, segments[i])
	}
	return out
}

// Stats summarizes the database for the administrative `dump` operation
// (§4.10.5).
type Stats struct {
	BufferLen        int
	MutableWrites    int
	ImmutableCount   int
	SegmentFileNames []string
}

// Dump reports a point-in-time snapshot of the database's structure.
func (db *DB) Dump() Stats {
	db.mu.RLock()
	mutable := db.mutable
	segments := append([]*segment.Segment(nil), db.segments...)
	db.mu.RUnlock()

	names := make([]string, len(segments))
	for i, s := range segments {
		names[i] = s.Path()
	}

	mutableWrites := 0
	if ws, err := mutable.Writes(); err == nil {
		mutableWrites = len(ws)
	}

	return Stats{
		BufferLen:        db.buffer.Len(),
		MutableWrites:    mutableWrites,
		ImmutableCount:   len(segments),
		SegmentFileNames: names,
	}
}
