package bookjob

import (
	"errors"
	"fmt"

	"github.com/littlehero/api/internal/model"
)

var (
	ErrNotFound          = errors.New("book job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrJobTerminal       = errors.New("book job is terminal")
	ErrLeaseHeld         = errors.New("book job lease held by another worker")
	ErrLeaseLost         = errors.New("book job lease lost")
	ErrConflict          = errors.New("book job update conflict")
	ErrExists            = errors.New("book job already exists")
)

// terminalErr matches both ErrInvalidTransition and ErrJobTerminal.
func terminalErr(id string, status model.BookStatus) error {
	return fmt.Errorf("book %s is %s: %w: %w", id, status, ErrInvalidTransition, ErrJobTerminal)
}
