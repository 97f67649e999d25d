package jobs

import "errors"

var (
	// ErrInvalidArgument marks submissions that fail validation. Handlers map
	// it to a 422 response.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrLimitExceeded marks submissions whose parameters exceed the
	// configured caps.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrJobTerminal is returned when an operation targets a job that has
	// already reached a terminal state.
	ErrJobTerminal = errors.New("job already terminal")

	// ErrChunkFailed marks a chunk that exhausted its retry budget or hit a
	// permanent failure. One such chunk fails the whole job.
	ErrChunkFailed = errors.New("chunk failed permanently")
)
