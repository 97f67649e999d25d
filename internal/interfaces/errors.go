package interfaces

import "errors"

var (
	// ErrJobNotFound is returned when a job ID has no record, either because
	// it never existed or its retention window has passed.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when creating a job whose ID is already taken.
	ErrJobExists = errors.New("job already exists")
)
