// Package actions provides the process-local action registry.
//
// An action is a named transformation with declared media-type affinity,
// a JSON-Schema input contract and a pure-function executor. The
// registry is populated once at startup and frozen before any worker
// starts; after that it is read-only.
package actions

import (
	"context"
	"encoding/json"

	"github.com/mediaforge-io/mediaforge/internal/model"
	"github.com/mediaforge-io/mediaforge/internal/types"
	"github.com/xeipuuv/gojsonschema"
)

// Context carries everything an executor receives for one job.
type Context struct {
	Bytes    []byte
	FileInfo *model.MediaFile
	Params   map[string]any
	OrgID    string
	UserID   string
	JobID    string
}

// FileOutput is one produced file inside an Outcome.
type FileOutput struct {
	Bytes    []byte
	MimeType string
	Filename string
	Metadata map[string]any
}

// Outcome is the tagged result of an action execution.
//
// Exactly one of File, Files or Data is populated, selected by Type.
type Outcome struct {
	Type  types.ResultType
	File  *FileOutput
	Files []FileOutput
	Data  map[string]any
}

// FileOutcome builds a single-file outcome.
func FileOutcome(out FileOutput) *Outcome {
	return &Outcome{Type: types.ResultTypeFile, File: &out}
}

// FilesOutcome builds a multi-file outcome.
func FilesOutcome(outs ...FileOutput) *Outcome {
	return &Outcome{Type: types.ResultTypeFiles, Files: outs}
}

// JSONOutcome builds a structured-data outcome.
func JSONOutcome(data map[string]any) *Outcome {
	return &Outcome{Type: types.ResultTypeJSON, Data: data}
}

// ExecuteFunc is the side-effecting entry point of an action. Executors
// must be safe for concurrent invocation across distinct inputs.
type ExecuteFunc func(ctx context.Context, actx *Context) (*Outcome, error)

// Descriptor declares a registered action.
type Descriptor struct {
	ID          string
	DisplayName string
	MediaType   types.MediaType
	Category    types.ActionCategory

	// InputSchema is a JSON Schema (draft 7 subset) validating Params.
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage

	Execute ExecuteFunc

	compiled *gojsonschema.Schema
}
