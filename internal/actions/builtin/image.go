// Package builtin registers the reference actions shipped with the
// daemon: image metadata extraction, image resize and audio format
// conversion. Heavier handlers (AI transcription, ffmpeg graphs) are
// registered by the embedding process.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/mediaforge-io/mediaforge/internal/actions"
	"github.com/mediaforge-io/mediaforge/internal/fault"
	"github.com/mediaforge-io/mediaforge/internal/types"
)

var imgMetadataSchema = json.RawMessage(`{
	"type": "object",
	"properties": {},
	"additionalProperties": false
}`)

var imgResizeSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"mode": {"type": "string", "enum": ["percentage", "pixels"]},
		"percentage": {"type": "number", "minimum": 1, "maximum": 500},
		"width": {"type": "integer", "minimum": 1, "maximum": 16384},
		"height": {"type": "integer", "minimum": 1, "maximum": 16384}
	},
	"required": ["mode"],
	"allOf": [
		{
			"if": {"properties": {"mode": {"const": "percentage"}}},
			"then": {"required": ["percentage"]}
		},
		{
			"if": {"properties": {"mode": {"const": "pixels"}}},
			"then": {"required": ["width", "height"]}
		}
	]
}`)

// ImgMetadata extracts dimensions and format without re-encoding.
func ImgMetadata() actions.Descriptor {
	return actions.Descriptor{
		ID:          "img_metadata",
		DisplayName: "Image metadata",
		MediaType:   types.MediaTypeImage,
		Category:    types.ActionCategoryProcess,
		InputSchema: imgMetadataSchema,
		Execute: func(ctx context.Context, actx *actions.Context) (*actions.Outcome, error) {
			cfg, format, err := image.DecodeConfig(bytes.NewReader(actx.Bytes))
			if err != nil {
				return nil, fault.Wrap(fault.CodeValidation, err, "input is not a decodable image")
			}
			return actions.JSONOutcome(map[string]any{
				"width":  cfg.Width,
				"height": cfg.Height,
				"format": format,
			}), nil
		},
	}
}

// ImgResize scales an image by percentage or to exact pixel dimensions,
// preserving the input encoding.
func ImgResize() actions.Descriptor {
	return actions.Descriptor{
		ID:          "img_resize",
		DisplayName: "Image resize",
		MediaType:   types.MediaTypeImage,
		Category:    types.ActionCategoryModify,
		InputSchema: imgResizeSchema,
		Execute:     execResize,
	}
}

func execResize(ctx context.Context, actx *actions.Context) (*actions.Outcome, error) {
	src, err := imaging.Decode(bytes.NewReader(actx.Bytes))
	if err != nil {
		return nil, fault.Wrap(fault.CodeValidation, err, "input is not a decodable image")
	}

	bounds := src.Bounds()
	var width, height int

	mode, _ := actx.Params["mode"].(string)
	switch mode {
	case "percentage":
		pct, ok := numberParam(actx.Params, "percentage")
		if !ok {
			return nil, fault.Validation("percentage mode requires a percentage parameter")
		}
		width = int(math.Round(float64(bounds.Dx()) * pct / 100))
		height = int(math.Round(float64(bounds.Dy()) * pct / 100))
	case "pixels":
		w, wok := numberParam(actx.Params, "width")
		h, hok := numberParam(actx.Params, "height")
		if !wok || !hok {
			return nil, fault.Validation("pixels mode requires width and height parameters")
		}
		width, height = int(w), int(h)
	default:
		return nil, fault.Validation("unknown resize mode %q", mode)
	}

	if width < 1 || height < 1 {
		return nil, fault.Validation("resize target %dx%d is degenerate", width, height)
	}

	dst := imaging.Resize(src, width, height, imaging.Lanczos)

	format, mime, err := encodingFor(actx.FileInfo.MimeType)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, format); err != nil {
		return nil, fault.Wrap(fault.CodeProcessing, err, "re-encoding resized image failed")
	}

	return actions.FileOutcome(actions.FileOutput{
		Bytes:    buf.Bytes(),
		MimeType: mime,
		Metadata: map[string]any{
			"width":  width,
			"height": height,
		},
	}), nil
}

func encodingFor(mimeType string) (imaging.Format, string, error) {
	switch mimeType {
	case "image/jpeg":
		return imaging.JPEG, "image/jpeg", nil
	case "image/png":
		return imaging.PNG, "image/png", nil
	case "image/gif":
		return imaging.GIF, "image/gif", nil
	case "image/bmp":
		return imaging.BMP, "image/bmp", nil
	case "image/tiff":
		return imaging.TIFF, "image/tiff", nil
	default:
		// Decodable but not re-encodable here (e.g. webp); emit PNG.
		return imaging.PNG, "image/png", nil
	}
}

func numberParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
