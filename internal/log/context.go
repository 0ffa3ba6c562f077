// Package log provides structured logging utilities.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	jobIDKey ctxKey = "job_id"
	orgIDKey ctxKey = "org_id"
)

// ContextWithJobID stores the provided job ID in the context.
func ContextWithJobID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// ContextWithOrgID stores the provided organization ID in the context.
func ContextWithOrgID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, orgIDKey, id)
}

// JobIDFromContext extracts the job ID from context if present.
func JobIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(jobIDKey).(string); ok {
		return v
	}
	return ""
}

// OrgIDFromContext extracts the organization ID from context if present.
func OrgIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(orgIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns the base logger enriched with any IDs stored in the context.
func FromContext(ctx context.Context) zerolog.Logger {
	l := logger()
	if id := JobIDFromContext(ctx); id != "" {
		l = l.With().Str(FieldJobID, id).Logger()
	}
	if id := OrgIDFromContext(ctx); id != "" {
		l = l.With().Str(FieldOrgID, id).Logger()
	}
	return l
}
