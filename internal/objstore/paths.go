// SPDX-License-Identifier: MIT

package objstore

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mediaforge-io/mediaforge/internal/types"
)

// BuildPath derives a content-addressed storage path:
//
//	{orgId}/{image|audio}/{YYYY}/{MM}/{DD}/{uuid}.{ext}
//
// The layout is compatibility-bearing; do not change it.
func BuildPath(orgID string, mediaType types.MediaType, now time.Time, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	now = now.UTC()
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%s.%s",
		orgID, mediaType, now.Year(), int(now.Month()), now.Day(), uuid.NewString(), ext)
}

// BuildPathNamed is BuildPath with a caller-supplied filename instead of
// a generated UUID one. The filename is reduced to its base component.
func BuildPathNamed(orgID string, mediaType types.MediaType, now time.Time, filename string) string {
	filename = path.Base(strings.TrimSpace(filename))
	now = now.UTC()
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%s",
		orgID, mediaType, now.Year(), int(now.Month()), now.Day(), filename)
}

// ThumbnailPathOf derives the thumbnail location for a storage path by
// injecting "thumbnails/" before the filename and replacing the
// extension:
//
//	{dir}/thumbnails/{basename}_thumb.webp
func ThumbnailPathOf(storagePath string) string {
	dir := path.Dir(storagePath)
	base := path.Base(storagePath)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return path.Join(dir, "thumbnails", base+"_thumb.webp")
}

// mimeExtensions covers the media types the pipeline stores. Unknown
// mime types fall back to "bin".
var mimeExtensions = map[string]string{
	"image/jpeg":    "jpg",
	"image/png":     "png",
	"image/webp":    "webp",
	"image/gif":     "gif",
	"image/bmp":     "bmp",
	"image/tiff":    "tiff",
	"audio/mpeg":    "mp3",
	"audio/mp4":     "m4a",
	"audio/aac":     "aac",
	"audio/wav":     "wav",
	"audio/x-wav":   "wav",
	"audio/flac":    "flac",
	"audio/ogg":     "ogg",
	"audio/opus":    "opus",
	"audio/webm":    "webm",
}

// ExtFromMime maps a mime type to a file extension.
func ExtFromMime(mimeType string) string {
	if ext, ok := mimeExtensions[strings.ToLower(strings.TrimSpace(mimeType))]; ok {
		return ext
	}
	return "bin"
}
