package pim

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by directory lookups for objects that no longer
// exist. The engine skips these principals without recording an error.
var ErrNotFound = errors.New("directory object not found")

// ValidationError aborts a run before any role is processed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}
