// Package limbo implements the Buffer (§4.1): an append-only, in-memory log
// of Writes that is both the durable ingest point and the authoritative
// newest revision until its entries transfer into a Segment.
package limbo

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/concourse-db/kernel/pkg/atom"
	"github.com/concourse-db/kernel/pkg/write"
)

// Acquirer is satisfied by a mutable Segment: the transfer target that
// drains the Buffer's entries into its chunks.
type Acquirer interface {
	Acquire(write.Write) error
}

// Options configures a Buffer (§4.10.2).
type Options struct {
	// HighWaterMark bounds the buffer: once reached, Insert blocks until a
	// Transfer drains it (§4.1 backpressure). Zero means unbounded.
	HighWaterMark int

	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger *zap.SugaredLogger
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// Buffer is the write-ahead log described in §4.1.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	entries []write.Write
	version atomic.Uint64

	highWaterMark int
	sealed        bool
	sealErr       error

	log *zap.SugaredLogger
}

// New returns an empty Buffer.
func New(opts Options) *Buffer {
	opts = opts.withDefaults()
	b := &Buffer{
		highWaterMark: opts.HighWaterMark,
		log:           opts.Logger,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Insert appends w, assigning the next monotonic version if w.Version is
// zero. It never blocks on I/O; it blocks only when the buffer is at its
// high-water-mark, until a Transfer completes (§4.1).
func (b *Buffer) Insert(w write.Write) (write.Write, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.highWaterMark > 0 && len(b.entries) >= b.highWaterMark {
		if b.sealed {
			return write.Write{}, fmt.Errorf("limbo: insert: %w", ErrSealed)
		}
		b.cond.Wait()
	}

	if b.sealed {
		return write.Write{}, fmt.Errorf("limbo: insert: %w: %w", ErrSealed, b.sealErr)
	}

	if w.Version == 0 {
		w.Version = b.version.Add(1)
	} else if w.Version <= b.version.Load() {
		// §7: a caller-supplied version at or below the current
		// high-water-mark is a conflict, reported verbatim rather than
		// silently accepted and folded into the monotonic counter.
		return write.Write{}, fmt.Errorf("limbo: insert: %w", ErrVersionConflict)
	} else {
		b.version.Store(w.Version)
	}

	b.entries = append(b.entries, w)
	return w, nil
}

// Verify walks entries newest-first until it finds a matching
// (key,value,record); returns true if the latest matching action is ADD,
// false if REMOVE or not found (§4.1, P1).
func (b *Buffer) Verify(key atom.Text, value atom.Value, record atom.PrimaryKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(b.entries) - 1; i >= 0; i-- {
		w := b.entries[i]
		if w.Matches(key, value, record) {
			return w.Action == write.ADD
		}
	}
	return false
}

// GetLastWriteAction returns the Action of the most recent Write matching
// template's (key,value,record) with version <= timestamp (§4.1).
func (b *Buffer) GetLastWriteAction(template write.Write, timestamp uint64) (write.Action, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(b.entries) - 1; i >= 0; i-- {
		w := b.entries[i]
		if w.Version > timestamp {
			continue
		}
		if w.Matches(template.Key, template.Value, template.Record) {
			return w.Action, true
		}
	}
	return 0, false
}

// Iterate returns a lazy, finite, newest-first iterator over a snapshot of
// the buffer taken at call time. The iterator is not restartable: ranging
// over it a second time yields nothing; calling Iterate again takes a fresh
// snapshot (§4.1).
func (b *Buffer) Iterate() func(yield func(write.Write) bool) {
	b.mu.Lock()
	snapshot := make([]write.Write, len(b.entries))
	copy(snapshot, b.entries)
	b.mu.Unlock()

	var used atomic.Bool
	return func(yield func(write.Write) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		for i := len(snapshot) - 1; i >= 0; i-- {
			if !yield(snapshot[i]) {
				return
			}
		}
	}
}

// Len reports the number of entries currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Sealed reports whether a prior Transfer failure sealed the buffer
// read-only.
func (b *Buffer) Sealed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sealed
}

// Transfer drains entries in insertion order into target (a mutable
// Segment), atomically with respect to concurrent Insert via a brief
// tail-freeze: it snapshots the current length under the lock, then
// acquires each entry into target without holding the lock, so Insert of
// new entries is blocked only for the instant it takes to record the tail
// index (§4.1, §5).
//
// On success, the transferred prefix is dropped from the buffer and
// waiting Inserts are woken. On failure, the Buffer is sealed read-only and
// keeps every entry: the un-transferred tail and the prefix target already
// acquired are both retained (§4.1, §7: "IoFailure during transfer
// is fatal to that transfer only; the Buffer retains the un-transferred
// tail").
func (b *Buffer) Transfer(target Acquirer) error {
	b.mu.Lock()
	if b.sealed {
		b.mu.Unlock()
		return fmt.Errorf("limbo: transfer: %w", ErrSealed)
	}
	tail := len(b.entries)
	batch := b.entries[:tail:tail]
	b.mu.Unlock()

	for _, w := range batch {
		if err := target.Acquire(w); err != nil {
			b.mu.Lock()
			b.sealed = true
			b.sealErr = err
			b.mu.Unlock()
			b.cond.Broadcast()
			b.log.Errorw("transfer failed, buffer sealed", "error", err)
			return fmt.Errorf("limbo: transfer: %w", err)
		}
	}

	b.mu.Lock()
	b.entries = append([]write.Write(nil), b.entries[tail:]...)
	b.mu.Unlock()
	b.cond.Broadcast()

	return nil
}
