// SPDX-License-Identifier: MIT

// Package model defines the persisted entities of the job pipeline.
//
// Job and MediaFile reference each other by ID only; no object graph is
// ever materialized between them.
package model

import (
	"encoding/json"
	"time"

	"github.com/mediaforge-io/mediaforge/internal/types"
)

// Job is the central entity of the pipeline.
type Job struct {
	ID    string `json:"id"`
	OrgID string `json:"organizationId"`

	// Exactly one of UserID and APIKeyID identifies the submitter.
	UserID   string `json:"userId,omitempty"`
	APIKeyID string `json:"apiKeyId,omitempty"`

	InputMediaID   string               `json:"inputMediaId"`
	ActionID       string               `json:"actionId"`
	ActionCategory types.ActionCategory `json:"actionCategory"`
	Parameters     json.RawMessage      `json:"parameters,omitempty"`

	// Priority orders entries inside a tier, range [1,100], default 50.
	Priority int             `json:"priority"`
	Tier     types.QueueTier `json:"priorityTier"`

	Status     types.JobStatus `json:"status"`
	RetryCount int             `json:"retryCount"`
	WorkerID   string          `json:"workerId,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	QueuedAt    *time.Time `json:"queuedAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	ResultType       types.ResultType `json:"resultType,omitempty"`
	ResultMediaID    string           `json:"resultMediaId,omitempty"`
	ResultData       json.RawMessage  `json:"resultData,omitempty"`
	ErrorCode        string           `json:"errorCode,omitempty"`
	ErrorMessage     string           `json:"errorMessage,omitempty"`
	ProcessingTimeMs int64            `json:"processingTimeMs,omitempty"`
}

// JobData is the broker payload enqueued for a job. It carries everything
// a worker needs to execute without re-reading the submission request.
type JobData struct {
	JobID          string               `json:"jobId"`
	OrgID          string               `json:"orgId"`
	UserID         string               `json:"userId,omitempty"`
	APIKeyID       string               `json:"apiKeyId,omitempty"`
	MediaID        string               `json:"mediaId"`
	ActionID       string               `json:"actionId"`
	ActionCategory types.ActionCategory `json:"actionCategory"`
	Parameters     json.RawMessage      `json:"parameters,omitempty"`
	Priority       int                  `json:"priority"`
}

// UsageRecord is one row of the append-only work ledger. The pipeline
// emits one record at each job terminal transition.
type UsageRecord struct {
	ID               string               `json:"id"`
	OrgID            string               `json:"organizationId"`
	UserID           string               `json:"userId,omitempty"`
	APIKeyID         string               `json:"apiKeyId,omitempty"`
	JobID            string               `json:"jobId"`
	ActionID         string               `json:"actionId"`
	ActionCategory   types.ActionCategory `json:"actionCategory"`
	Status           types.JobStatus      `json:"status"`
	ProcessingTimeMs int64                `json:"processingTimeMs"`
	AITokensUsed     int64                `json:"aiTokensUsed"`
	CreatedAt        time.Time            `json:"createdAt"`
}
