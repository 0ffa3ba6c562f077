// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by all pipeline spans.
const (
	JobIDKey      = "job.id"
	JobActionKey  = "job.action"
	JobQueueKey   = "job.queue"
	JobStatusKey  = "job.status"
	JobAttemptKey = "job.attempt"

	OrgIDKey   = "org.id"
	MediaIDKey = "media.id"

	ErrorKey     = "error"
	ErrorCodeKey = "error.code"
)

// JobAttributes creates the span attributes every job-scoped span carries.
func JobAttributes(jobID, action, queue string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobIDKey, jobID),
		attribute.String(JobActionKey, action),
		attribute.String(JobQueueKey, queue),
	}
}

// ErrorAttributes marks a span as failed with a stable error code.
func ErrorAttributes(code string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorCodeKey, code),
	}
}
