// Package write defines the kernel's single mutation unit: an immutable
// (key, value, record) triple tagged with an action, a timestamp and a
// monotonically increasing version.
package write

import (
	"encoding/binary"
	"fmt"

	"github.com/concourse-db/kernel/pkg/atom"
)

// Action marks whether a Write adds or removes a (key, value, record)
// triple's presence. Presence is parity-based (§3): an odd count of
// occurrences of the same triple is "present".
type Action uint8

const (
	// ADD marks the triple as present.
	ADD Action = iota
	// REMOVE marks the triple as absent.
	REMOVE
)

func (a Action) String() string {
	switch a {
	case ADD:
		return "ADD"
	case REMOVE:
		return "REMOVE"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// Write is the immutable triple ingested by the Buffer. Equality compares
// (key, value, record, action, version); timestamp is informational.
type Write struct {
	Key       atom.Text
	Value     atom.Value
	Record    atom.PrimaryKey
	Action    Action
	Timestamp uint64
	Version   uint64
}

// Equal reports whether w and other carry the same (key, value, record,
// action, version) tuple, per §3's Write equality definition.
func (w Write) Equal(other Write) bool {
	return w.Key == other.Key &&
		w.Value.Equal(other.Value) &&
		w.Record == other.Record &&
		w.Action == other.Action &&
		w.Version == other.Version
}

// Matches reports whether w carries the given (key, value, record) triple,
// ignoring action, timestamp and version. Used by the Buffer's Verify and
// GetLastWriteAction scans and by DB.Verify's scan of the Buffer.
func (w Write) Matches(key atom.Text, value atom.Value, record atom.PrimaryKey) bool {
	return w.Key == key && w.Value.Equal(value) && w.Record == record
}

// Bytes returns the standalone wire encoding of w, read back by Decode:
// [key][value][record:u64][version:u64][timestamp:u64][action:u8], with key
// and value length-prefixed as documented in §6. Chunks do not use this
// encoding; they serialize their revisions in their own layout.
func (w Write) Bytes() []byte {
	keyBytes := w.Key.Bytes()
	valueBytes := w.Value.Bytes()

	buf := make([]byte, 0, len(keyBytes)+len(valueBytes)+8+8+8+1)
	buf = append(buf, keyBytes...)
	buf = append(buf, valueBytes...)

	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(w.Record))
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint64(tmp[:], w.Version)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint64(tmp[:], w.Timestamp)
	buf = append(buf, tmp[:]...)
	buf = append(buf, byte(w.Action))

	return buf
}

// Decode reads a wire-encoded Write from buf, returning the value and the
// number of bytes consumed.
func Decode(buf []byte) (Write, int, error) {
	key, n1, err := atom.DecodeText(buf)
	if err != nil {
		return Write{}, 0, fmt.Errorf("write: decode key: %w", err)
	}
	value, n2, err := atom.DecodeValue(buf[n1:])
	if err != nil {
		return Write{}, 0, fmt.Errorf("write: decode value: %w", err)
	}

	off := n1 + n2
	if len(buf) < off+8+8+8+1 {
		return Write{}, 0, fmt.Errorf("write: truncated trailer")
	}

	record := atom.PrimaryKey(binary.BigEndian.Uint64(buf[off : off+8]))
	version := binary.BigEndian.Uint64(buf[off+8 : off+16])
	timestamp := binary.BigEndian.Uint64(buf[off+16 : off+24])
	action := Action(buf[off+24])

	return Write{
		Key:       key,
		Value:     value,
		Record:    record,
		Action:    action,
		Timestamp: timestamp,
		Version:   version,
	}, off + 25, nil
}
