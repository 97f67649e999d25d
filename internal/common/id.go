package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewClientID generates a unique client connection ID with the "conn_" prefix
// Format: conn_<uuid>
func NewClientID() string {
	return "conn_" + uuid.New().String()
}
