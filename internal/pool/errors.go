package pool

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig        = errors.New("pool: invalid config")
	ErrUnsatisfiableCeiling = errors.New("pool: payload ceiling cannot be satisfied")
	ErrBuildCancelled       = errors.New("pool: build cancelled")
)

// CeilingError is returned when too many consecutive candidates exceed the
// payload ceiling. The field ranges cannot produce messages that small.
type CeilingError struct {
	MaxPayloadBytes int
	Attempts        int
	SmallestSeen    int
}

func (e *CeilingError) Error() string {
	return fmt.Sprintf("pool: %d consecutive candidates >= %d bytes (smallest %d); raise the ceiling or narrow the field ranges",
		e.Attempts, e.MaxPayloadBytes, e.SmallestSeen)
}

func (e *CeilingError) Unwrap() error { return ErrUnsatisfiableCeiling }
