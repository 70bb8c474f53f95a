package chunk

import (
	"errors"

	"github.com/concourse-db/kernel/pkg/manifest"
)

// ErrIllegalTransition is returned by any mutating call against a sealed
// chunk.
var ErrIllegalTransition = errors.New("chunk: illegal transition")

func errorsIsNotFound(err error) bool {
	return errors.Is(err, manifest.ErrNotFound)
}
