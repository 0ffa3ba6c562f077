package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mediaforge-io/mediaforge/internal/fault"
	"github.com/mediaforge-io/mediaforge/internal/model"
	"github.com/mediaforge-io/mediaforge/internal/types"
)

const mediaColumns = `id, org_id, user_id, media_type, mime_type, original_name,
	storage_path, file_size_bytes, checksum_md5, checksum_sha256, metadata_json,
	thumbnail_path, status, created_at_ms, expires_at_ms`

// CreateMedia inserts a media file row. Used for both uploaded inputs
// and worker-produced results.
func (s *Store) CreateMedia(ctx context.Context, m *model.MediaFile) error {
	if m.ID == "" || m.OrgID == "" || m.StoragePath == "" {
		return fault.Validation("media file requires id, organization and storage path")
	}
	if m.Status == "" {
		m.Status = types.MediaStatusReady
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO media_files (
			id, org_id, user_id, media_type, mime_type, original_name,
			storage_path, file_size_bytes, checksum_md5, checksum_sha256,
			metadata_json, thumbnail_path, status, created_at_ms, expires_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.OrgID, nullStr(m.UserID), string(m.MediaType), m.MimeType,
		nullStr(m.OriginalName), m.StoragePath, m.FileSizeBytes,
		nullStr(m.ChecksumMD5), nullStr(m.ChecksumSHA256),
		nullStr(string(m.Metadata)), nullStr(m.ThumbnailPath),
		string(m.Status), m.CreatedAt.UnixMilli(), timeToMs(m.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("store: insert media: %w", err)
	}
	return nil
}

// GetMedia loads a media file. orgID scopes the read when non-empty.
func (s *Store) GetMedia(ctx context.Context, orgID, mediaID string) (*model.MediaFile, error) {
	query := fmt.Sprintf("SELECT %s FROM media_files WHERE id = ?", mediaColumns)
	args := []any{mediaID}
	if orgID != "" {
		query += " AND org_id = ?"
		args = append(args, orgID)
	}

	m, err := scanMedia(s.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fault.NotFound("media %s not found", mediaID)
	}
	return m, nil
}

// SetThumbnailPath records the thumbnail location after a successful
// side-effect upload.
func (s *Store) SetThumbnailPath(ctx context.Context, mediaID, thumbnailPath string) error {
	_, err := s.DB.ExecContext(ctx,
		"UPDATE media_files SET thumbnail_path = ? WHERE id = ?", thumbnailPath, mediaID)
	if err != nil {
		return fmt.Errorf("store: set thumbnail path: %w", err)
	}
	return nil
}

// SoftDeleteMedia marks a media file deleted. Object-store cleanup is
// the caller's (best-effort) concern.
func (s *Store) SoftDeleteMedia(ctx context.Context, orgID, mediaID string) error {
	res, err := s.DB.ExecContext(ctx,
		"UPDATE media_files SET status = ? WHERE id = ? AND org_id = ?",
		string(types.MediaStatusDeleted), mediaID, orgID)
	if err != nil {
		return fmt.Errorf("store: soft delete media: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fault.NotFound("media %s not found", mediaID)
	}
	return nil
}

// ListExpiredMedia returns ready media whose expiry has passed, for the
// retention sweep.
func (s *Store) ListExpiredMedia(ctx context.Context, now time.Time, limit int) ([]*model.MediaFile, error) {
	query := fmt.Sprintf(`SELECT %s FROM media_files
		WHERE status = ? AND expires_at_ms IS NOT NULL AND expires_at_ms < ?
		ORDER BY expires_at_ms ASC LIMIT ?`, mediaColumns)

	rows, err := s.DB.QueryContext(ctx, query,
		string(types.MediaStatusReady), now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("store: list expired media: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.MediaFile
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMedia(scanner interface{ Scan(dest ...any) error }) (*model.MediaFile, error) {
	var m model.MediaFile
	var userID, originalName, md5sum, sha256sum, metadata, thumb sql.NullString
	var mediaType, status string
	var createdAt int64
	var expiresAt sql.NullInt64

	err := scanner.Scan(
		&m.ID, &m.OrgID, &userID, &mediaType, &m.MimeType, &originalName,
		&m.StoragePath, &m.FileSizeBytes, &md5sum, &sha256sum, &metadata,
		&thumb, &status, &createdAt, &expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: scan media: %w", err)
	}

	m.UserID = strOrEmpty(userID)
	m.MediaType = types.MediaType(mediaType)
	m.OriginalName = strOrEmpty(originalName)
	m.ChecksumMD5 = strOrEmpty(md5sum)
	m.ChecksumSHA256 = strOrEmpty(sha256sum)
	if metadata.Valid {
		m.Metadata = []byte(metadata.String)
	}
	m.ThumbnailPath = strOrEmpty(thumb)
	m.Status = types.MediaStatus(status)
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	m.ExpiresAt = msToTime(expiresAt)
	return &m, nil
}
