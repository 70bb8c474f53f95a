package manifest

import "errors"

// Error classification codes. Wrap these with fmt.Errorf("...: %w") at
// call sites; classify with errors.Is.
var (
	// ErrIllegalTransition is returned by any mutating call against a frozen
	// manifest (P5).
	ErrIllegalTransition = errors.New("manifest: illegal transition")

	// ErrNotFound is returned by Lookup when no entry exists for the given
	// fingerprint.
	ErrNotFound = errors.New("manifest: fingerprint not found")

	// ErrFull is returned by PutStart when every bucket is taken. Create
	// sizes the bucket array at more than twice its capacity, so this
	// happens only well past that many entries.
	ErrFull = errors.New("manifest: full")

	// ErrCorrupt is returned when a frozen manifest's header or CRC fail
	// validation on load.
	ErrCorrupt = errors.New("manifest: corrupt")

	// ErrIncompatible is returned when a frozen manifest's format version is
	// not understood by this build.
	ErrIncompatible = errors.New("manifest: incompatible format version")

	// ErrMissingStart is returned by putEnd when no matching putStart was
	// recorded for the fingerprint.
	ErrMissingStart = errors.New("manifest: putEnd without putStart")
)
