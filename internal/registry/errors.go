package registry

import (
	"errors"
	"strings"
)

var (
	ErrNotFound      = errors.New("agent not found")
	ErrClosed        = errors.New("store closed")
	ErrInvalidRecord = errors.New("invalid registration")
	ErrInvalidProof  = errors.New("invalid proof")
	ErrKeyConflict   = errors.New("agent is registered under a different public key")
	ErrStaleRequest  = errors.New("request timestamp outside the accepted window")
	ErrInvalidQuery  = errors.New("invalid lookup query")
)

// ValidationError lists every problem found in a submitted registration.
// It matches ErrInvalidRecord with errors.Is.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid registration: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRecord
}

func newValidationError(err error) *ValidationError {
	return &ValidationError{Problems: strings.Split(err.Error(), "\n")}
}
