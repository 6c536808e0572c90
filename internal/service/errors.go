package service

import (
	"errors"
	"fmt"
)

// Callers match these with errors.Is. Authentication failures never say which check failed.
var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrValidationFailed = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")

	// ErrWeakPassword is a validation failure that handlers report even on code flows.
	ErrWeakPassword = fmt.Errorf("%w: weak password", ErrValidationFailed)
)

func weakPassword(err error) error {
	return fmt.Errorf("%w: %v", ErrWeakPassword, err)
}
