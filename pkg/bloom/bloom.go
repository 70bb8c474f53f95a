// Package bloom wraps a per-chunk probabilistic pre-filter behind the
// kernel's own narrow interface, so chunk code depends on Filter rather than
// a specific third-party bloom filter implementation.
package bloom

import (
	"fmt"

	"github.com/guycipher/k4/bloomfilter"

	"github.com/concourse-db/kernel/pkg/atom"
)

// targetFPR is the maximum false-positive rate a chunk's filter is sized
// for (§4.4: "target FPR <= 3%").
const targetFPR = 0.03

// hashFuncs is the number of hash rounds guycipher/k4's salted filter uses
// per key; 8 keeps the false-positive rate comfortably under targetFPR for
// the expected-revisions range segments operate at.
const hashFuncs = 8

// Filter is a per-chunk bloom filter keyed by Composite fingerprints (§4.8).
// It never yields false negatives for any fingerprint added to it (I4).
type Filter struct {
	inner *bloomfilter.BloomFilter
}

// New creates an empty Filter sized for expectedRevisions entries at
// targetFPR.
func New(expectedRevisions int) *Filter {
	if expectedRevisions < 1 {
		expectedRevisions = 1
	}
	return &Filter{inner: bloomfilter.NewBloomFilter(expectedRevisions, hashFuncs)}
}

// Add records fp as possibly present.
func (f *Filter) Add(fp atom.Fingerprint) {
	f.inner.Add(fp[:])
}

// MayContain reports whether fp was possibly added. False means definitely
// not added (I4: no false negatives); true means "check the manifest".
func (f *Filter) MayContain(fp atom.Fingerprint) bool {
	return f.inner.Check(fp[:])
}

// Serialize returns the sealed, on-disk encoding of the filter, embedded
// verbatim in the Segment file (§4.4).
func (f *Filter) Serialize() ([]byte, error) {
	b, err := f.inner.Serialize()
	if err != nil {
		return nil, fmt.Errorf("bloom: serialize: %w", err)
	}
	return b, nil
}

// Load decodes a Filter previously produced by Serialize.
func Load(b []byte) (*Filter, error) {
	inner, err := bloomfilter.Deserialize(b)
	if err != nil {
		return nil, fmt.Errorf("bloom: deserialize: %w", err)
	}
	return &Filter{inner: inner}, nil
}
