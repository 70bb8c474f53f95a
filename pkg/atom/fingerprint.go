package atom

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// Fingerprint is a stable, portable 128-bit hash of an atom's logical
// identity. It is the key used throughout chunks, manifests and bloom
// filters (§9: "use a stable, portable 128-bit hash... do not use the
// source platform's non-portable identity hashes").
type Fingerprint [16]byte

// Less orders fingerprints lexicographically, giving chunks (I1) a total,
// deterministic order to sort revisions by locator.
func (f Fingerprint) Less(other Fingerprint) bool {
	for i := range f {
		if f[i] != other[i] {
			return f[i] < other[i]
		}
	}
	return false
}

// IsZero reports whether f is the zero fingerprint, used as an empty-slot
// sentinel in open-addressed manifest buckets.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// HashComposite computes the 128-bit fingerprint of an already-encoded
// composite byte sequence. Exposed for pkg/composite, which owns the
// length-prefixing scheme; atom only owns the hash.
func HashComposite(b []byte) Fingerprint {
	return hashBytes(b)
}

// hashBytes computes the 128-bit xxh3 digest of b and packs it big-endian
// into a Fingerprint so two fingerprints compare the same whether compared
// byte-wise or as the underlying 128-bit integer.
func hashBytes(b []byte) Fingerprint {
	h := xxh3.Hash128(b)
	var fp Fingerprint
	binary.BigEndian.PutUint64(fp[0:8], h.Hi)
	binary.BigEndian.PutUint64(fp[8:16], h.Lo)
	return fp
}

// Fingerprint returns the stable hash of this Text atom.
func (t Text) Fingerprint() Fingerprint {
	return hashBytes([]byte(t))
}

// Fingerprint returns the stable hash of this PrimaryKey atom.
func (k PrimaryKey) Fingerprint() Fingerprint {
	return hashBytes(k.Bytes())
}

// Fingerprint returns the stable hash of this Position atom.
func (p Position) Fingerprint() Fingerprint {
	return hashBytes(p.Bytes())
}

// Fingerprint returns the normalized fingerprint of this Value: numeric
// values fingerprint on their canonical numeric form and string/tag values
// fingerprint on their raw text, per §4.2 ("int(18) and double(18.0) have
// the same fingerprint").
func (v Value) Fingerprint() Fingerprint {
	return hashBytes(v.fingerprintBytes())
}
