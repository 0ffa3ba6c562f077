package types

import "fmt"

// MediaType classifies a stored media file.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeAudio MediaType = "audio"
)

func (m MediaType) String() string { return string(m) }

// IsValid reports whether the media type is one of the defined constants.
func (m MediaType) IsValid() bool {
	return m == MediaTypeImage || m == MediaTypeAudio
}

// ParseMediaType parses a string into a MediaType.
func ParseMediaType(s string) (MediaType, error) {
	mt := MediaType(s)
	if !mt.IsValid() {
		return "", fmt.Errorf("invalid media type: %q (valid: image, audio)", s)
	}
	return mt, nil
}

// MediaStatus tracks the lifecycle of a stored media file.
type MediaStatus string

const (
	MediaStatusReady   MediaStatus = "ready"
	MediaStatusDeleted MediaStatus = "deleted"
)

func (m MediaStatus) String() string { return string(m) }

// IsValid reports whether the media status is one of the defined constants.
func (m MediaStatus) IsValid() bool {
	return m == MediaStatusReady || m == MediaStatusDeleted
}

// ActionCategory is the coarse classification of a registered action.
type ActionCategory string

const (
	ActionCategoryTranscribe ActionCategory = "transcribe"
	ActionCategoryModify     ActionCategory = "modify"
	ActionCategoryProcess    ActionCategory = "process"
)

func (c ActionCategory) String() string { return string(c) }

// IsValid reports whether the category is one of the defined constants.
func (c ActionCategory) IsValid() bool {
	switch c {
	case ActionCategoryTranscribe, ActionCategoryModify, ActionCategoryProcess:
		return true
	default:
		return false
	}
}

// ResultType tags the shape of a completed job's output.
type ResultType string

const (
	ResultTypeFile  ResultType = "file"
	ResultTypeFiles ResultType = "files"
	ResultTypeJSON  ResultType = "json"
)

func (r ResultType) String() string { return string(r) }

// IsValid reports whether the result type is one of the defined constants.
func (r ResultType) IsValid() bool {
	switch r {
	case ResultTypeFile, ResultTypeFiles, ResultTypeJSON:
		return true
	default:
		return false
	}
}

// HasMedia reports whether this result type carries stored file output.
func (r ResultType) HasMedia() bool {
	return r == ResultTypeFile || r == ResultTypeFiles
}
