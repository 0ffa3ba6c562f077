package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	active := []JobStatus{JobStatusPending, JobStatusQueued, JobStatusProcessing}

	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "expected %s to be terminal", s)
	}
	for _, s := range active {
		assert.False(t, s.IsTerminal(), "expected %s to be active", s)
	}
}

func TestJobStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusPending, JobStatusQueued, true},
		{JobStatusPending, JobStatusProcessing, true}, // crash between enqueue and queued-CAS
		{JobStatusPending, JobStatusCancelled, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusQueued, JobStatusProcessing, true},
		{JobStatusQueued, JobStatusCancelled, true},
		{JobStatusQueued, JobStatusPending, false},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusCancelled, true},
		{JobStatusProcessing, JobStatusQueued, false},
		{JobStatusCompleted, JobStatusProcessing, false},
		{JobStatusFailed, JobStatusQueued, false},
		{JobStatusCancelled, JobStatusCancelled, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestJobStatus_JSONRoundTrip(t *testing.T) {
	for _, s := range AllJobStatuses() {
		data, err := json.Marshal(s)
		require.NoError(t, err)

		var back JobStatus
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, s, back)
	}

	var invalid JobStatus
	assert.Error(t, json.Unmarshal([]byte(`"exploded"`), &invalid))
}

func TestParseJobStatus(t *testing.T) {
	s, err := ParseJobStatus("processing")
	require.NoError(t, err)
	assert.Equal(t, JobStatusProcessing, s)

	_, err = ParseJobStatus("running")
	assert.Error(t, err)
}
