package writer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/entitysync/internal/transaction"
)

var (
	// ErrState is returned when an operation is not allowed in the writer's
	// current state.
	ErrState = errors.New("entitysync: operation not allowed in writer state")

	// ErrWritten is returned by a second Write.
	ErrWritten = errors.New("entitysync: transaction already written")
)

// UnresolvedError is returned by Write when places can neither be matched
// to an existing item nor created.
type UnresolvedError struct {
	Holders []*transaction.Holder
}

// Error implements the error interface.
func (e *UnresolvedError) Error() string {
	const shown = 5
	parts := make([]string, 0, shown)
	for i, h := range e.Holders {
		if i == shown {
			parts = append(parts, fmt.Sprintf("and %d more", len(e.Holders)-shown))
			break
		}
		parts = append(parts, h.String())
	}
	return fmt.Sprintf("%d unresolved places: %s", len(e.Holders), strings.Join(parts, ", "))
}

// IsUnresolved returns true if err is or wraps an *UnresolvedError.
func IsUnresolved(err error) bool {
	var ue *UnresolvedError
	return errors.As(err, &ue)
}
