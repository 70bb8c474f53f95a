package segment

import "errors"

// ErrIllegalTransition is returned by Acquire against an immutable segment,
// or Transfer against a segment already transferred (I3: immutable is
// terminal).
var ErrIllegalTransition = errors.New("segment: illegal transition")

// ErrCorruptSegment is returned when a segment file's CRC does not match,
// or its schema/format version is unsupported (§7).
var ErrCorruptSegment = errors.New("segment: corrupt")

// ErrIoFailure wraps underlying file or map errors (§7).
var ErrIoFailure = errors.New("segment: io failure")
