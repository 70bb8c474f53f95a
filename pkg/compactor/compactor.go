// Package compactor implements the background task that reshapes segments
// while live reads and writes continue (§4.7): it scans adjacent segment
// pairs, asks a Policy whether merging them is useful, writes the merged
// segment, and atomically swaps it in under the shared rwlock's exclusive
// side.
package compactor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/concourse-db/kernel/pkg/fs"
	"github.com/concourse-db/kernel/pkg/rwlock"
	"github.com/concourse-db/kernel/pkg/segment"
)

// StorageContext summarizes the resources a Policy needs to decide whether
// merging is worthwhile (§4.7 step 2).
type StorageContext struct {
	AvailableDiskSpace uint64
	TotalDiskSpace     uint64
	MutableSegments    int
}

// Policy decides whether and how to merge segments. MergeCompactor (below)
// is the default implementation described in E3.
type Policy interface {
	// IsTriggered reports whether the compactor should attempt a merge at
	// all given the current storage context.
	IsTriggered(ctx StorageContext) bool

	// IsOptimizationPossible reports whether merging a and b is worthwhile.
	IsOptimizationPossible(ctx StorageContext, a, b *segment.Segment) bool

	// Compact merges a and b into one segment containing the union of their
	// writes. Returning a non-nil error aborts this merge attempt only;
	// the compactor logs it and parks until the next trigger (§4.7, §7
	// CompactionAborted).
	Compact(a, b *segment.Segment) (*segment.Segment, error)
}

// SegmentList is the ordered, live segment list the compactor mutates. The
// Database façade implements this so the compactor never needs to import
// the façade package (§4.6, §4.7).
type SegmentList interface {
	Len() int
	At(i int) *segment.Segment
	Set(i int, s *segment.Segment)
	RemoveAt(i int)
	NextSegmentPath() string
}

// Options configures a Compactor (§4.10.2).
type Options struct {
	Policy   Policy
	Segments SegmentList
	Lock     *rwlock.Lock
	FS       fs.FS

	// StorageContext supplies the current disk/segment snapshot (§4.7
	// step 2). Defaults to an always-available context if nil.
	StorageContext func() StorageContext

	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger *zap.SugaredLogger

	// IdlePoll bounds how long the worker sleeps between trigger checks
	// once at least 3 segments exist. Defaults to 50ms.
	IdlePoll time.Duration
}

func (o Options) withDefaults() Options {
	if o.StorageContext == nil {
		o.StorageContext = func() StorageContext {
			return StorageContext{AvailableDiskSpace: 1, TotalDiskSpace: 1}
		}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	if o.IdlePoll <= 0 {
		o.IdlePoll = 50 * time.Millisecond
	}
	return o
}

// Compactor is the dedicated background worker described in §4.7.
type Compactor struct {
	mu   sync.Mutex
	cond *sync.Cond

	policy   Policy
	segments SegmentList
	lock     *rwlock.Lock
	fsys     fs.FS
	storage  func() StorageContext
	log      *zap.SugaredLogger
	idlePoll time.Duration

	aindex, bindex         int
	shiftIndex, shiftCount int

	garbage []*segment.Segment

	running bool
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New returns a Compactor ready to Start.
func New(opts Options) *Compactor {
	opts = opts.withDefaults()
	c := &Compactor{
		policy:   opts.Policy,
		segments: opts.Segments,
		lock:     opts.Lock,
		fsys:     opts.FS,
		storage:  opts.StorageContext,
		log:      opts.Logger,
		idlePoll: opts.IdlePoll,
		bindex:   1,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Start launches the dedicated worker goroutine. Calling Start twice is a
// no-op.
func (c *Compactor) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	go c.run()
}

// Stop halts the worker. Idempotent (§5: "stop() on the compactor is
// idempotent and interrupts the worker").
func (c *Compactor) Stop() {
	c.mu.Lock()
	if !c.running || c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopCh)
	done := c.done
	c.mu.Unlock()

	c.cond.Broadcast()
	<-done
}

// NotifySegmentAdded wakes a parked worker, e.g. after the Database façade
// appends a freshly transferred segment (§9: signal.wait() resolved as a
// condition variable woken by a segment-added signal).
func (c *Compactor) NotifySegmentAdded() {
	c.cond.Broadcast()
}

// Garbage returns the segments merged out by successful compactions,
// retained until no in-flight reader can reference them (§9 eviction).
func (c *Compactor) Garbage() []*segment.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*segment.Segment, len(c.garbage))
	copy(out, c.garbage)
	return out
}

// DrainGarbage clears and returns the garbage list, once the caller has
// established no reader can still reference them.
func (c *Compactor) DrainGarbage() []*segment.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.garbage
	c.garbage = nil
	return out
}

func (c *Compactor) run() {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorw("STOPPED WORKING", "panic", r)
		}
	}()

	for {
		if c.isStopped() {
			return
		}

		if c.segments.Len() < 3 {
			if c.parkUntilWorkOrStop() {
				return
			}
			continue
		}

		ctx := c.storage()
		if !c.policy.IsTriggered(ctx) {
			if c.sleepOrStop(c.idlePoll) {
				return
			}
			continue
		}

		c.attemptMerge(ctx)

		if c.sleepOrStop(0) {
			return
		}
	}
}

// TriggerOnce runs a single, synchronous merge attempt outside the
// background loop's idle polling, for administrative "compact now"
// operations (§4.10.5).
func (c *Compactor) TriggerOnce() {
	if c.segments.Len() < 3 {
		return
	}
	ctx := c.storage()
	if !c.policy.IsTriggered(ctx) {
		return
	}
	c.attemptMerge(ctx)
}

func (c *Compactor) attemptMerge(ctx StorageContext) {
	n := c.segments.Len()
	c.mu.Lock()
	if c.aindex >= n || c.bindex >= n {
		c.aindex, c.bindex = 0, 1
	}
	aindex, bindex := c.aindex, c.bindex
	c.mu.Unlock()

	a := c.segments.At(aindex)
	b := c.segments.At(bindex)

	if c.policy.IsOptimizationPossible(ctx, a, b) {
		merged, err := c.policy.Compact(a, b)
		if err != nil {
			c.log.Errorw("compaction aborted", "error", err, "aindex", aindex, "bindex", bindex)
			c.advance(n)
			return
		}

		if err := c.swap(aindex, bindex, a, b, merged); err != nil {
			c.log.Errorw("compaction swap failed", "error", err)
		}
	}

	c.advance(n)
}

func (c *Compactor) swap(aindex, bindex int, a, b, merged *segment.Segment) error {
	release := c.lock.Lock()
	defer release()

	path := c.segments.NextSegmentPath()
	if err := merged.Transfer(c.fsys, fs.NewAtomicWriter(c.fsys), path); err != nil {
		return fmt.Errorf("compactor: transfer merged segment: %w", err)
	}

	c.segments.Set(aindex, merged)
	c.segments.RemoveAt(bindex)

	c.mu.Lock()
	c.garbage = append(c.garbage, a, b)
	c.mu.Unlock()

	c.log.Infow("compacted segments", "path", path)
	return nil
}

// advance applies the shift bookkeeping from §4.7 step 7: bindex moves
// forward by one, wrapping back to 1 when past the tail (aindex = bindex-1
// never goes negative); shiftIndex/shiftCount track how many full sweeps
// have completed. They stay on the Compactor; the Policy is not given them.
func (c *Compactor) advance(segmentCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	width := segmentCount - 1
	if width < 1 {
		width = 1
	}

	newShift, wrapped := runShift(c.shiftIndex, width)
	c.shiftIndex = newShift
	if wrapped {
		c.shiftCount++
	}

	c.bindex++
	if c.bindex >= segmentCount {
		c.bindex = 1
	}
	c.aindex = c.bindex - 1
}

func (c *Compactor) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// parkUntilWorkOrStop blocks on the condition variable until either Stop or
// NotifySegmentAdded wakes it, returning true if the worker should exit.
func (c *Compactor) parkUntilWorkOrStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.stopped && c.segments.Len() < 3 {
		c.cond.Wait()
	}
	return c.stopped
}

func (c *Compactor) sleepOrStop(d time.Duration) bool {
	if d <= 0 {
		return c.isStopped()
	}
	select {
	case <-c.stopCh:
		return true
	case <-time.After(d):
		return c.isStopped()
	}
}

// ErrCompactionAborted marks a transient Compact failure: the compactor
// parks and retries on the next trigger (§7).
var ErrCompactionAborted = errors.New("compactor: compaction aborted")
