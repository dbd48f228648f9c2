package core

import (
	"errors"

	"github.com/happytimeshere/kirby/pkg/models"
)

var (
	// ErrNotAuthenticated is returned when an operation needs a caller
	// identity and none was supplied.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrPermissionDenied matches every *PermissionError.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrWriteFailed marks a mutation that was applied in memory but could
	// not be persisted. Reload before retrying.
	ErrWriteFailed = errors.New("lock state not persisted")

	// ErrVersionConflict is returned when another writer changed the lock
	// file after this manager read it.
	ErrVersionConflict = models.ErrVersionConflict
)

// PermissionError reports a lock conflict on a resource.
type PermissionError struct {
	Resource string
	Reason   string
}

func (e *PermissionError) Error() string {
	return e.Reason
}

// Is lets errors.Is(err, ErrPermissionDenied) match.
func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}
