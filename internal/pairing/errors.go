package pairing

import (
	"errors"
	"fmt"

	"heartlink/backend/internal/storage"
)

// Error kinds surfaced to callers. Match them with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
)

// lookupErr turns storage.ErrNotFound into ErrNotFound with context.
func lookupErr(err error, what, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}
