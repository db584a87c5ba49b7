// Package parser turns the free text a vision model returns into typed
// detections. Models are asked for a JSON array of
// {"bbox_2d": [x1, y1, x2, y2], "label": "...", "confidence": 0.9} objects
// but often wrap it in prose or code fences; anything that does not decode
// is treated as "no detections".
package parser

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/menta2k/localflow/pkg/geometry"
	"github.com/menta2k/localflow/pkg/types"
)

// DefaultLabel is used when a detection carries no usable label
const DefaultLabel = "object"

// DefaultConfidence is used when a detection carries no confidence
const DefaultConfidence = 1.0

var (
	reArray    = regexp.MustCompile(`(?s)\[.*\]`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// Parse extracts detections from raw model output. Boxes stay in whatever
// coordinate space the model used. The result is never nil and Parse never
// fails: malformed input yields an empty slice.
func Parse(raw string) []types.Annotation {
	items, ok := decodeArray(candidate(raw))
	if !ok {
		return []types.Annotation{}
	}

	out := make([]types.Annotation, 0, len(items))
	for _, item := range items {
		if ann, ok := toAnnotation(item); ok {
			out = append(out, ann)
		}
	}
	return out
}

// candidate picks the part of raw that should hold the JSON array
func candidate(raw string) string {
	if m := reArray.FindString(raw); m != "" {
		return m
	}
	raw = strings.ReplaceAll(raw, "```json", "")
	raw = strings.ReplaceAll(raw, "```", "")
	return strings.TrimSpace(raw)
}

func decodeArray(s string) ([]any, bool) {
	var items []any
	if err := json.Unmarshal([]byte(s), &items); err == nil {
		return items, true
	}

	// Local models like to leave trailing commas behind
	cleaned := reTrailing.ReplaceAllString(s, "$1")
	if cleaned == s {
		return nil, false
	}
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		return nil, false
	}
	return items, true
}

func toAnnotation(item any) (types.Annotation, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return types.Annotation{}, false
	}

	coords, ok := bbox2D(obj["bbox_2d"])
	if !ok {
		return types.Annotation{}, false
	}

	label, _ := obj["label"].(string)
	if strings.TrimSpace(label) == "" {
		label = DefaultLabel
	}

	return types.Annotation{
		Label:      label,
		Confidence: confidence(obj["confidence"]),
		BBox:       geometry.FromCorners(coords[0], coords[1], coords[2], coords[3]),
	}, true
}

func bbox2D(v any) ([4]float64, bool) {
	var out [4]float64
	list, ok := v.([]any)
	if !ok || len(list) != 4 {
		return out, false
	}
	for i, c := range list {
		f, ok := number(c)
		if !ok {
			return out, false
		}
		out[i] = f
	}
	return out, true
}

func confidence(v any) float64 {
	if f, ok := number(v); ok {
		return f
	}
	return DefaultConfidence
}

// number accepts JSON numbers and numeric strings. NaN and infinities are
// rejected since they cannot be written to a label file.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
