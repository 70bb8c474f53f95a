// Package composite builds the length-prefixed multi-part fingerprint used
// as the key in bloom filters and manifests (§4.8, §3 I7): each part is
// prefixed by its length so Composite("a","b") never collides with
// Composite("ab").
package composite

import (
	"encoding/binary"

	"github.com/concourse-db/kernel/pkg/atom"
)

// Byteable is any value that can contribute bytes to a composite
// fingerprint: atoms, and plain strings/byte slices via the Bytes/Str/Int
// helpers below.
type Byteable interface {
	Bytes() []byte
}

// Bytes wraps a raw byte slice as a Byteable part.
type Bytes []byte

// Bytes returns b itself.
func (b Bytes) Bytes() []byte { return b }

// Str wraps a string as a Byteable part.
type Str string

// Bytes returns the UTF-8 encoding of s.
func (s Str) Bytes() []byte { return []byte(s) }

// Int wraps a signed integer as a Byteable part, encoded big-endian.
type Int int64

// Bytes returns the 8-byte big-endian encoding of i.
func (i Int) Bytes() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(i))
	return buf
}

// Fingerprint returns the 128-bit fingerprint of the length-prefixed
// concatenation of parts. Each part is preceded by a u32 length so that no
// sequence of parts can be confused with a different split of the same
// bytes (E6: Composite("iqu") != Composite("iq","u")).
func Fingerprint(parts ...Byteable) atom.Fingerprint {
	total := 0
	encoded := make([][]byte, len(parts))
	for i, p := range parts {
		b := p.Bytes()
		encoded[i] = b
		total += 4 + len(b)
	}

	buf := make([]byte, 0, total)
	var lenBuf [4]byte
	for _, b := range encoded {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, b...)
	}

	return atom.HashComposite(buf)
}
