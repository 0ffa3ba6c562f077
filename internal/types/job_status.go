// SPDX-License-Identifier: MIT

// Package types provides type-safe enumerations shared across the pipeline.
//
// This package centralizes typed constants and state enums to prevent
// string-based bugs and enable exhaustive switch statements.
package types

import (
	"encoding/json"
	"fmt"
)

// JobStatus represents the current state of a processing job.
type JobStatus string

// Job status constants define all possible states of a job.
const (
	// JobStatusPending indicates the job row exists but has not been enqueued yet.
	JobStatusPending JobStatus = "pending"

	// JobStatusQueued indicates the job has a live broker entry awaiting a worker.
	JobStatusQueued JobStatus = "queued"

	// JobStatusProcessing indicates a worker has claimed the job and is executing it.
	JobStatusProcessing JobStatus = "processing"

	// JobStatusCompleted indicates the job finished successfully.
	JobStatusCompleted JobStatus = "completed"

	// JobStatusFailed indicates the job terminated with an error.
	JobStatusFailed JobStatus = "failed"

	// JobStatusCancelled indicates the job was cancelled by the tenant.
	JobStatusCancelled JobStatus = "cancelled"
)

// String returns the string representation of the job status.
func (s JobStatus) String() string {
	return string(s)
}

// IsValid checks whether the job status is one of the defined constants.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusQueued, JobStatusProcessing,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal checks whether the job status represents a final state.
//
// Terminal states are Completed, Failed and Cancelled. A job in a
// terminal state never transitions again and is never re-queued.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether this status can transition to the target status.
//
// Valid transitions:
//   - Pending → Queued, Processing, Cancelled
//   - Queued → Processing, Cancelled
//   - Processing → Completed, Failed, Cancelled
//
// Pending → Processing exists because a worker may dequeue an entry for a
// job whose Pending → Queued transition was lost to a crash; dequeue
// upgrades the row through the same CAS path.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	if s.IsTerminal() {
		return false
	}

	switch s {
	case JobStatusPending:
		return target == JobStatusQueued || target == JobStatusProcessing || target == JobStatusCancelled
	case JobStatusQueued:
		return target == JobStatusProcessing || target == JobStatusCancelled
	case JobStatusProcessing:
		return target == JobStatusCompleted || target == JobStatusFailed || target == JobStatusCancelled
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler for JobStatus.
func (s JobStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler for JobStatus.
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status := JobStatus(str)
	if !status.IsValid() {
		return fmt.Errorf("invalid job status: %q", str)
	}

	*s = status
	return nil
}

// ParseJobStatus parses a string into a JobStatus, returning an error if invalid.
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid job status: %q (valid: pending, queued, processing, completed, failed, cancelled)", s)
	}
	return status, nil
}

// AllJobStatuses returns all defined job statuses.
func AllJobStatuses() []JobStatus {
	return []JobStatus{
		JobStatusPending,
		JobStatusQueued,
		JobStatusProcessing,
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusCancelled,
	}
}
