// SPDX-License-Identifier: MIT

// Package health provides the liveness and readiness model backing the
// daemon's probe endpoints. Components register checkers; readiness
// degrades when any dependency (broker, metadata store) is unreachable.
package health

import (
	"context"
	"time"
)

// Status is the overall probe status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Checker is one named dependency check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a function into a Checker.
type CheckerFunc struct {
	CheckerName string
	Fn          func(ctx context.Context) error
}

func (c CheckerFunc) Name() string { return c.CheckerName }

func (c CheckerFunc) Check(ctx context.Context) CheckResult {
	if err := c.Fn(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// Response is the probe payload.
type Response struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Manager aggregates checkers into probe responses.
type Manager struct {
	version  string
	checkers []Checker
}

// NewManager creates a manager reporting the given version.
func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// Register adds a dependency checker.
func (m *Manager) Register(c Checker) {
	m.checkers = append(m.checkers, c)
}

// Liveness reports process liveness. It never runs dependency checks:
// a daemon with a down broker is alive, just not ready.
func (m *Manager) Liveness() Response {
	return Response{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	}
}

// Readiness runs all dependency checks. Any failing check degrades the
// overall status.
func (m *Manager) Readiness(ctx context.Context) (Response, bool) {
	resp := Response{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult, len(m.checkers)),
	}

	ready := true
	for _, c := range m.checkers {
		result := c.Check(ctx)
		resp.Checks[c.Name()] = result
		if result.Status != StatusHealthy {
			resp.Status = StatusDegraded
			ready = false
		}
	}
	return resp, ready
}
