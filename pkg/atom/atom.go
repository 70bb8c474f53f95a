// Package atom implements the kernel's fixed-width, self-describing
// byte-level values: Text, Value, PrimaryKey and Position.
//
// Every atom hashes and orders deterministically. Numeric Values fingerprint
// on their normalized numeric form so that int(18) and double(18.0) collide
// (see [Value.Fingerprint]).
package atom

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PrimaryKey is the unsigned 64-bit record identifier.
type PrimaryKey uint64

// Bytes returns the fixed-width big-endian encoding of k.
func (k PrimaryKey) Bytes() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(k))
	return buf
}

func (k PrimaryKey) String() string {
	return fmt.Sprintf("#%d", uint64(k))
}

// DecodePrimaryKey reads a fixed-width PrimaryKey from buf, returning the
// value and the number of bytes consumed.
func DecodePrimaryKey(buf []byte) (PrimaryKey, int, error) {
	if len(buf) < 8 {
		return 0, 0, fmt.Errorf("atom: truncated primary key")
	}
	return PrimaryKey(binary.BigEndian.Uint64(buf[0:8])), 8, nil
}

// Position locates a token within a record: the record it belongs to and the
// token's offset inside that record's text.
type Position struct {
	Record PrimaryKey
	Token  uint32
}

// Bytes returns the fixed-width big-endian encoding of p.
func (p Position) Bytes() []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], uint64(p.Record))
	binary.BigEndian.PutUint32(buf[8:12], p.Token)
	return buf
}

// DecodePosition reads a fixed-width Position from buf, returning the value
// and the number of bytes consumed.
func DecodePosition(buf []byte) (Position, int, error) {
	if len(buf) < 12 {
		return Position{}, 0, fmt.Errorf("atom: truncated position")
	}
	return Position{
		Record: PrimaryKey(binary.BigEndian.Uint64(buf[0:8])),
		Token:  binary.BigEndian.Uint32(buf[8:12]),
	}, 12, nil
}

// Text is a length-prefixed UTF-8 string atom, used for field names,
// record text, and search terms.
type Text string

// Bytes returns the length-prefixed encoding: [length:u32][utf8].
func (t Text) Bytes() []byte {
	s := string(t)
	buf := make([]byte, 4+len(s))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(s)))
	copy(buf[4:], s)
	return buf
}

// DecodeText reads a length-prefixed Text from buf, returning the value and
// the number of bytes consumed.
func DecodeText(buf []byte) (Text, int, error) {
	if len(buf) < 4 {
		return "", 0, fmt.Errorf("atom: truncated text length prefix")
	}
	n := binary.BigEndian.Uint32(buf[0:4])
	if uint64(len(buf)) < 4+uint64(n) {
		return "", 0, fmt.Errorf("atom: truncated text payload")
	}
	return Text(buf[4 : 4+n]), 4 + int(n), nil
}

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	// KindNull marks an absent value.
	KindNull ValueKind = iota
	// KindInt holds a signed 64-bit integer.
	KindInt
	// KindFloat holds a 64-bit float.
	KindFloat
	// KindString holds UTF-8 text.
	KindString
	// KindTag holds a string that fingerprints equally to KindString for
	// index/search purposes, but not for primary Value equality.
	KindTag
	// KindLink holds a PrimaryKey reference to another record.
	KindLink
	// KindBool holds a boolean.
	KindBool
	// KindBlob holds an opaque byte payload.
	KindBlob
)

// Value is a tagged union over the atom's scalar payload kinds: numeric,
// string, link, bool and blob.
type Value struct {
	Kind ValueKind

	Int    int64
	Float  float64
	Str    string
	Link   PrimaryKey
	Bool   bool
	Blob   []byte
}

// NullValue returns the absent-value sentinel.
func NullValue() Value { return Value{Kind: KindNull} }

// IntValue wraps a signed integer.
func IntValue(v int64) Value { return Value{Kind: KindInt, Int: v} }

// FloatValue wraps a float.
func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// StringValue wraps UTF-8 text.
func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }

// TagValue wraps a tag literal (fingerprints like a string for index/search
// matching, kept distinct for primary equality).
func TagValue(v string) Value { return Value{Kind: KindTag, Str: v} }

// LinkValue wraps a reference to another record.
func LinkValue(v PrimaryKey) Value { return Value{Kind: KindLink, Link: v} }

// BoolValue wraps a boolean.
func BoolValue(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// BlobValue wraps an opaque byte payload.
func BlobValue(v []byte) Value { return Value{Kind: KindBlob, Blob: v} }

// isNumeric reports whether v holds an int or a float.
func (v Value) isNumeric() bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

// numeric returns v's value widened to float64, for numeric comparisons.
func (v Value) numeric() float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

// Equal reports primary-key equality: int(18) and double(18.0) are equal
// (same normalized numeric form), but a string and its Tag twin are not
// (primary equality distinguishes KindString from KindTag).
func (v Value) Equal(other Value) bool {
	if v.isNumeric() && other.isNumeric() {
		return v.numeric() == other.numeric()
	}
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindString, KindTag:
		return v.Str == other.Str
	case KindLink:
		return v.Link == other.Link
	case KindBool:
		return v.Bool == other.Bool
	case KindBlob:
		return string(v.Blob) == string(other.Blob)
	default:
		return false
	}
}

// Bytes returns the wire encoding: [type:u8][length:u32][payload].
func (v Value) Bytes() []byte {
	var payload []byte
	switch v.Kind {
	case KindNull:
		payload = nil
	case KindInt:
		payload = make([]byte, 8)
		binary.BigEndian.PutUint64(payload, uint64(v.Int))
	case KindFloat:
		payload = make([]byte, 8)
		binary.BigEndian.PutUint64(payload, math.Float64bits(v.Float))
	case KindString, KindTag:
		payload = []byte(v.Str)
	case KindLink:
		payload = v.Link.Bytes()
	case KindBool:
		if v.Bool {
			payload = []byte{1}
		} else {
			payload = []byte{0}
		}
	case KindBlob:
		payload = v.Blob
	}

	buf := make([]byte, 5+len(payload))
	buf[0] = byte(v.Kind)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[5:], payload)
	return buf
}

// DecodeValue reads a wire-encoded Value from buf, returning the value and
// the number of bytes consumed.
func DecodeValue(buf []byte) (Value, int, error) {
	if len(buf) < 5 {
		return Value{}, 0, fmt.Errorf("atom: truncated value header")
	}
	kind := ValueKind(buf[0])
	n := binary.BigEndian.Uint32(buf[1:5])
	if uint64(len(buf)) < 5+uint64(n) {
		return Value{}, 0, fmt.Errorf("atom: truncated value payload")
	}
	payload := buf[5 : 5+n]
	consumed := 5 + int(n)

	switch kind {
	case KindNull:
		return Value{Kind: KindNull}, consumed, nil
	case KindInt:
		if len(payload) != 8 {
			return Value{}, 0, fmt.Errorf("atom: invalid int payload length %d", len(payload))
		}
		return Value{Kind: KindInt, Int: int64(binary.BigEndian.Uint64(payload))}, consumed, nil
	case KindFloat:
		if len(payload) != 8 {
			return Value{}, 0, fmt.Errorf("atom: invalid float payload length %d", len(payload))
		}
		return Value{Kind: KindFloat, Float: math.Float64frombits(binary.BigEndian.Uint64(payload))}, consumed, nil
	case KindString:
		return Value{Kind: KindString, Str: string(payload)}, consumed, nil
	case KindTag:
		return Value{Kind: KindTag, Str: string(payload)}, consumed, nil
	case KindLink:
		if len(payload) != 8 {
			return Value{}, 0, fmt.Errorf("atom: invalid link payload length %d", len(payload))
		}
		return Value{Kind: KindLink, Link: PrimaryKey(binary.BigEndian.Uint64(payload))}, consumed, nil
	case KindBool:
		if len(payload) != 1 {
			return Value{}, 0, fmt.Errorf("atom: invalid bool payload length %d", len(payload))
		}
		return Value{Kind: KindBool, Bool: payload[0] != 0}, consumed, nil
	case KindBlob:
		blob := make([]byte, len(payload))
		copy(blob, payload)
		return Value{Kind: KindBlob, Blob: blob}, consumed, nil
	default:
		return Value{}, 0, fmt.Errorf("atom: unknown value kind %d", kind)
	}
}

// fingerprintBytes returns the byte sequence whose hash is the atom's
// fingerprint. Numeric values fingerprint on their canonical narrowest
// integer form when they carry no fractional part, so int(18) and
// double(18.0) produce the same bytes; string and tag values fingerprint on
// their raw text, so they collide with each other for index/search grouping
// even though Equal distinguishes them for primary storage.
func (v Value) fingerprintBytes() []byte {
	switch {
	case v.isNumeric():
		n := v.numeric()
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			buf := make([]byte, 9)
			buf[0] = 'n'
			binary.BigEndian.PutUint64(buf[1:], uint64(int64(n)))
			return buf
		}
		buf := make([]byte, 9)
		buf[0] = 'n'
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(n))
		return buf
	case v.Kind == KindString || v.Kind == KindTag:
		buf := make([]byte, 1+len(v.Str))
		buf[0] = 's'
		copy(buf[1:], v.Str)
		return buf
	case v.Kind == KindLink:
		buf := make([]byte, 9)
		buf[0] = 'l'
		binary.BigEndian.PutUint64(buf[1:], uint64(v.Link))
		return buf
	case v.Kind == KindBool:
		if v.Bool {
			return []byte{'b', 1}
		}
		return []byte{'b', 0}
	case v.Kind == KindBlob:
		buf := make([]byte, 1+len(v.Blob))
		buf[0] = 'B'
		copy(buf[1:], v.Blob)
		return buf
	default:
		return []byte{'0'}
	}
}
