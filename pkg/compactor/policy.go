package compactor

import (
	"fmt"

	"github.com/concourse-db/kernel/pkg/segment"
)

// MergeCompactor is the default Policy (E3): it triggers once at least one
// mutable segment exists to drain pressure off live segments, considers
// optimization possible whenever neither input segment is still mutable,
// and merges by replaying both segments' source writes, oldest first, into
// a fresh segment.
type MergeCompactor struct {
	// MinAvailableRatio triggers compaction once AvailableDiskSpace /
	// TotalDiskSpace falls below this fraction. Zero disables the disk
	// check (trigger on mutable segment count alone).
	MinAvailableRatio float64

	// NewSegment builds the destination segment for a merge. Required.
	NewSegment func() *segment.Segment
}

var _ Policy = (*MergeCompactor)(nil)

// IsTriggered reports true once there is pressure to compact: either the
// available-disk ratio has dropped below the configured threshold, or any
// mutable segment is present (§4.7 step 2, E3).
func (m *MergeCompactor) IsTriggered(ctx StorageContext) bool {
	if m.MinAvailableRatio > 0 && ctx.TotalDiskSpace > 0 {
		ratio := float64(ctx.AvailableDiskSpace) / float64(ctx.TotalDiskSpace)
		if ratio < m.MinAvailableRatio {
			return true
		}
	}
	return ctx.MutableSegments > 0
}

// IsOptimizationPossible refuses to merge a segment that is still mutable
// (it may still be accepting writes) or both arguments' writes are empty
// (nothing to gain, §9: "never select a mutable segment as a or b").
func (m *MergeCompactor) IsOptimizationPossible(_ StorageContext, a, b *segment.Segment) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Mutable() || b.Mutable() {
		return false
	}
	aWrites, errA := a.Writes()
	bWrites, errB := b.Writes()
	if errA != nil || errB != nil {
		return false
	}
	return len(aWrites)+len(bWrites) > 0
}

// Compact replays a's writes followed by b's into a freshly built segment,
// preserving original insertion order so within-key ordering (I1) and
// last-write-wins resolution are unaffected by the merge (E3).
func (m *MergeCompactor) Compact(a, b *segment.Segment) (*segment.Segment, error) {
	merged := m.NewSegment()

	aWrites, err := a.Writes()
	if err != nil {
		return nil, fmt.Errorf("compactor: merge: %w", err)
	}
	bWrites, err := b.Writes()
	if err != nil {
		return nil, fmt.Errorf("compactor: merge: %w", err)
	}

	for _, w := range aWrites {
		if err := merged.Acquire(w); err != nil {
			return nil, fmt.Errorf("compactor: merge: %w", err)
		}
	}
	for _, w := range bWrites {
		if err := merged.Acquire(w); err != nil {
			return nil, fmt.Errorf("compactor: merge: %w", err)
		}
	}

	return merged, nil
}
