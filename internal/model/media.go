package model

import (
	"encoding/json"
	"time"

	"github.com/mediaforge-io/mediaforge/internal/types"
)

// MediaFile is a content-addressed blob plus metadata.
type MediaFile struct {
	ID    string `json:"id"`
	OrgID string `json:"organizationId"`

	UserID string `json:"userId,omitempty"`

	MediaType    types.MediaType `json:"mediaType"`
	MimeType     string          `json:"mimeType"`
	OriginalName string          `json:"originalName,omitempty"`

	// StoragePath follows {orgId}/{image|audio}/{YYYY}/{MM}/{DD}/{uuid}.{ext}.
	StoragePath   string `json:"storagePath"`
	FileSizeBytes int64  `json:"fileSizeBytes"`

	ChecksumMD5    string `json:"checksumMd5,omitempty"`
	ChecksumSHA256 string `json:"checksumSha256,omitempty"`

	// Metadata is codec-dependent: width/height/format for images,
	// duration/bitrate/channels for audio.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	ThumbnailPath string `json:"thumbnailPath,omitempty"`

	Status    types.MediaStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	ExpiresAt *time.Time        `json:"expiresAt,omitempty"`
}

// IsReady reports whether the file can be used as job input.
func (m *MediaFile) IsReady() bool {
	return m != nil && m.Status == types.MediaStatusReady
}
