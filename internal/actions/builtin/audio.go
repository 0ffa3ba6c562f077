package builtin

import (
	"context"
	"encoding/json"

	"github.com/mediaforge-io/mediaforge/internal/actions"
	"github.com/mediaforge-io/mediaforge/internal/fault"
	"github.com/mediaforge-io/mediaforge/internal/types"
)

var audFormatConvertSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"format": {"type": "string", "enum": ["mp3", "wav", "flac", "ogg", "m4a"]},
		"bitrate": {"type": "integer", "minimum": 32, "maximum": 320}
	},
	"required": ["format"]
}`)

var formatMimes = map[string]string{
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"flac": "audio/flac",
	"ogg":  "audio/ogg",
	"m4a":  "audio/mp4",
}

// TranscodeFunc converts audio bytes into the target format. The daemon
// injects an implementation backed by its codec toolchain; tests inject
// a fake.
type TranscodeFunc func(ctx context.Context, input []byte, format string, bitrateKbps int) ([]byte, error)

// AudFormatConvert converts audio between container formats using the
// injected transcoder.
func AudFormatConvert(transcode TranscodeFunc) actions.Descriptor {
	return actions.Descriptor{
		ID:          "aud_format_convert",
		DisplayName: "Audio format conversion",
		MediaType:   types.MediaTypeAudio,
		Category:    types.ActionCategoryModify,
		InputSchema: audFormatConvertSchema,
		Execute: func(ctx context.Context, actx *actions.Context) (*actions.Outcome, error) {
			if transcode == nil {
				return nil, fault.New(fault.CodeProcessing, "no audio transcoder configured")
			}

			format, _ := actx.Params["format"].(string)
			mime, ok := formatMimes[format]
			if !ok {
				return nil, fault.Validation("unsupported target format %q", format)
			}

			bitrate := 0
			if b, ok := numberParam(actx.Params, "bitrate"); ok {
				bitrate = int(b)
			}

			out, err := transcode(ctx, actx.Bytes, format, bitrate)
			if err != nil {
				return nil, err
			}

			return actions.FileOutcome(actions.FileOutput{
				Bytes:    out,
				MimeType: mime,
				Metadata: map[string]any{"format": format},
			}), nil
		},
	}
}
