package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge-io/mediaforge/internal/model"
)

// InsertUsage appends one ledger record. The ledger is append-only;
// there is no update or delete path.
func (s *Store) InsertUsage(ctx context.Context, rec *model.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO usage_records (
			id, org_id, user_id, api_key_id, job_id, action_id,
			action_category, status, processing_time_ms, ai_tokens_used, created_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OrgID, nullStr(rec.UserID), nullStr(rec.APIKeyID),
		rec.JobID, rec.ActionID, string(rec.ActionCategory), string(rec.Status),
		rec.ProcessingTimeMs, rec.AITokensUsed, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: insert usage: %w", err)
	}
	return nil
}

// UsageSummary aggregates an org's ledger since a point in time.
type UsageSummary struct {
	Jobs             int64 `json:"jobs"`
	ProcessingTimeMs int64 `json:"processingTimeMs"`
	AITokensUsed     int64 `json:"aiTokensUsed"`
}

// SumUsage aggregates the ledger for the ops surface.
func (s *Store) SumUsage(ctx context.Context, orgID string, since time.Time) (UsageSummary, error) {
	var sum UsageSummary
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(processing_time_ms), 0), COALESCE(SUM(ai_tokens_used), 0)
		FROM usage_records WHERE org_id = ? AND created_at_ms >= ?`,
		orgID, since.UnixMilli(),
	).Scan(&sum.Jobs, &sum.ProcessingTimeMs, &sum.AITokensUsed)
	if err != nil {
		return UsageSummary{}, fmt.Errorf("store: sum usage: %w", err)
	}
	return sum, nil
}
