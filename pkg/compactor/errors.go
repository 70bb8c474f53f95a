package compactor

import "errors"

// ErrIllegalTransition classifies an operation invalid for the compactor's
// running/stopped state. Repeated Start and Stop calls are no-ops, and no
// Compactor method returns it.
var ErrIllegalTransition = errors.New("compactor: illegal transition")
