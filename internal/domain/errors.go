package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the campaign's current status. It matches ErrConflict.
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrConflict)
)
