package client

import (
	"context"
)

// Request is a single prompt+image completion request. ImageB64 is the raw
// base64 payload without a data URI prefix; it may be empty.
type Request struct {
	Model    string
	Prompt   string
	System   string
	ImageB64 string
	MIME     string
}

// UserPrompt returns the prompt with the system instruction appended. Some
// providers silently drop the system channel, so it is sent in both places.
func (r Request) UserPrompt() string {
	if r.System == "" {
		return r.Prompt
	}
	if r.Prompt == "" {
		return r.System
	}
	return r.Prompt + " " + r.System
}

// VisionClient is implemented by every provider backend. Complete returns the
// model's raw text; turning it into geometry is the caller's job.
type VisionClient interface {
	Complete(ctx context.Context, req Request) (string, error)
	ListModels(ctx context.Context) ([]string, error)
}
