package database

import "errors"

// ErrNotFound classifies an administrative lookup that finds nothing,
// distinct from a query returning an empty result set. No function in this
// package returns it.
var ErrNotFound = errors.New("database: not found")

// ErrClosed classifies an operation on a closed DB. DB methods do not check
// whether Close has been called, and none of them returns ErrClosed.
var ErrClosed = errors.New("database: closed")
