package api

import "time"

// JobStatus is the state of an asynchronous prediction job. starting and
// processing are the only non-terminal states.
type JobStatus string

const (
	JobStarting   JobStatus = "starting"
	JobProcessing JobStatus = "processing"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
	JobCanceled   JobStatus = "canceled"
)

// Terminal reports whether the status will never change again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCanceled:
		return true
	}
	return false
}

// PredictionJob is the state of one submit-then-poll operation. It is
// created by submission and mutated only by polling reads of the upstream
// job-status endpoint.
type PredictionJob struct {
	ID        string      `json:"id"`
	Status    JobStatus   `json:"status"`
	Input     interface{} `json:"input,omitempty"`  // echo of the submitted input
	Output    interface{} `json:"output,omitempty"` // opaque until mapped
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at,omitempty"`
}
