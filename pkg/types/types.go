package types

import "strings"

// BoundingBox is an origin plus size. Which coordinate convention it carries
// (pixel corner, model 0-1000 scale, or YOLO normalized center) depends on
// where it came from; callers keep track of it.
type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Corners returns the box as x1, y1, x2, y2.
func (b BoundingBox) Corners() (float64, float64, float64, float64) {
	return b.X, b.Y, b.X + b.W, b.Y + b.H
}

// Area returns w*h. Negative sizes produce a negative area.
func (b BoundingBox) Area() float64 {
	return b.W * b.H
}

// Annotation is a labeled box in pixel space
type Annotation struct {
	ID         string      `json:"id"`
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
	Source     string      `json:"source"`
}

// ImageStatus describes the labeling state of an image
type ImageStatus string

const (
	StatusUnlabeled   ImageStatus = "unlabeled"
	StatusLabeled     ImageStatus = "labeled"
	StatusAutoLabeled ImageStatus = "auto-labeled"
)

// Exportable reports whether images in this state are written to datasets
func (s ImageStatus) Exportable() bool {
	return s == StatusLabeled || s == StatusAutoLabeled
}

// ImageRecord is one image in the workspace. Width and Height are read once
// at ingestion and drive all coordinate math.
type ImageRecord struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Path        string       `json:"path"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	Annotations []Annotation `json:"annotations"`
	Status      ImageStatus  `json:"status"`
}

// WithAnnotations returns a copy of the record whose annotation set is
// replaced by anns. The receiver is not modified.
func (r ImageRecord) WithAnnotations(anns []Annotation, status ImageStatus) ImageRecord {
	out := r
	out.Annotations = append([]Annotation{}, anns...)
	out.Status = status
	return out
}

// Backend identifies a vision model provider
type Backend string

const (
	BackendOllama   Backend = "ollama"
	BackendLMStudio Backend = "lmstudio"
	BackendMock     Backend = "mock"
)

// ParseBackend maps user-facing provider names to a Backend.
func ParseBackend(name string) (Backend, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ollama":
		return BackendOllama, true
	case "lmstudio", "lm-studio", "lm studio":
		return BackendLMStudio, true
	case "mock":
		return BackendMock, true
	}
	return "", false
}

// DisplayName returns the name shown in status output
func (b Backend) DisplayName() string {
	switch b {
	case BackendOllama:
		return "Ollama"
	case BackendLMStudio:
		return "LM Studio"
	case BackendMock:
		return "Mock"
	}
	return string(b)
}

// ProviderStatus holds the last probe result for each provider. Not persisted.
type ProviderStatus struct {
	OllamaReachable   bool `json:"ollama_reachable"`
	LMStudioReachable bool `json:"lmstudio_reachable"`
}

// Reachable reports the probe result for one backend. Mock is always up.
func (s ProviderStatus) Reachable(b Backend) bool {
	switch b {
	case BackendOllama:
		return s.OllamaReachable
	case BackendLMStudio:
		return s.LMStudioReachable
	case BackendMock:
		return true
	}
	return false
}
