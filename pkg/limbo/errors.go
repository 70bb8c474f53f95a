package limbo

import "errors"

// §7 also names a BufferFull error kind, but §4.1 specifies the buffer's
// actual backpressure mechanism as insert blocking until a transfer
// completes, not an error return — there is no caller-visible BufferFull
// condition to report, so no sentinel is declared for it.

// ErrSealed is returned by insert/transfer once a transfer failure has
// sealed the Buffer read-only (§4.1: "Failure is fatal: the Buffer enters a
// sealed read-only state and the caller must abort").
var ErrSealed = errors.New("limbo: sealed")

// ErrVersionConflict is returned when a caller-supplied version is older
// than the Buffer's current high-water-mark (§7).
var ErrVersionConflict = errors.New("limbo: version conflict")
