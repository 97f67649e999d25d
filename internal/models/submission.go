package models

import "time"

// JobRequest is the submission payload for a new computation.
type JobRequest struct {
	N      int64 `json:"n" validate:"required,gte=1"`
	Chunks int   `json:"chunks" validate:"required,gte=1,lte=1024"`
}

// JobCreated is the submission response. Status is "pending" for a newly
// scheduled job, or "completed" with Result set when the response was served
// from the idempotency guard or the result cache.
type JobCreated struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
	Cached bool      `json:"cached"`
	Result *int64    `json:"result,omitempty"`
}

// IdempotencyRecord maps a client-supplied key to the response that was
// returned for it. Records expire after the retention window; a replayed
// submission inside the window gets the recorded response verbatim.
type IdempotencyRecord struct {
	Key       string     `json:"key"`
	Response  JobCreated `json:"response"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}
