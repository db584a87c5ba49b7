// Package inference sends a prompt and an image to a vision backend and
// turns the reply into pixel-space annotations.
package inference

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/localflow/pkg/client"
	"github.com/menta2k/localflow/pkg/geometry"
	"github.com/menta2k/localflow/pkg/parser"
	"github.com/menta2k/localflow/pkg/processing"
	"github.com/menta2k/localflow/pkg/types"
)

// DefaultSystemPrompt asks the model for the JSON shape the parser expects
const DefaultSystemPrompt = "You are a vision assistant. Return bounding boxes in JSON format."

// DefaultTimeout bounds one inference call; local vision models are slow
const DefaultTimeout = 120 * time.Second

// MockModel is the only model the mock backend lists
const MockModel = "mock-vision-v1"

// Config holds inference settings
type Config struct {
	SystemPrompt string
	Timeout      time.Duration
}

// Client dispatches inference to registered backends
type Client struct {
	backends  map[types.Backend]client.VisionClient
	processor *processing.Processor
	config    Config
	logger    logrus.FieldLogger
}

// NewClient creates an inference client. backends maps each provider id to
// its VisionClient; the mock backend needs no entry.
func NewClient(backends map[types.Backend]client.VisionClient, processor *processing.Processor, config Config, logger logrus.FieldLogger) *Client {
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if processor == nil {
		processor = processing.NewProcessor()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	registry := make(map[types.Backend]client.VisionClient, len(backends))
	for b, c := range backends {
		registry[b] = c
	}

	return &Client{
		backends:  registry,
		processor: processor,
		config:    config,
		logger:    logger,
	}
}

// Infer runs one detection request. imagePath may be empty, in which case the
// model is queried without an image and boxes are returned unscaled, in the
// model's own coordinate space.
//
// The returned annotations carry no ID or Source. On error no annotations are
// returned.
func (c *Client) Infer(ctx context.Context, backend types.Backend, model, prompt, imagePath string) ([]types.Annotation, error) {
	if backend == types.BackendMock {
		return []types.Annotation{}, nil
	}
	if model == "" {
		return nil, &InferenceError{Backend: backend, Err: ErrNoModel}
	}

	vc, ok := c.backends[backend]
	if !ok {
		return nil, &InferenceError{Backend: backend, Model: model, Err: ErrUnknownBackend}
	}

	req := client.Request{
		Model:  model,
		Prompt: prompt,
		System: c.config.SystemPrompt,
	}

	var width, height int
	if imagePath != "" {
		payload, err := c.processor.PrepareImageFile(imagePath)
		if err != nil {
			return nil, &InferenceError{Backend: backend, Model: model, Err: err}
		}
		req.ImageB64 = payload.Base64
		req.MIME = payload.MIME
		width, height = payload.Width, payload.Height
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	log := c.logger.WithFields(logrus.Fields{
		"backend": backend,
		"model":   model,
		"image":   imagePath,
	})

	start := time.Now()
	raw, err := vc.Complete(ctx, req)
	if err != nil {
		log.WithError(err).Warn("inference request failed")
		return nil, &InferenceError{Backend: backend, Model: model, Err: err}
	}
	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Debugf("raw model output: %q", raw)

	annotations := parser.Parse(raw)
	if width > 0 && height > 0 {
		annotations = geometry.ScaleAnnotations(annotations, width, height)
	}

	log.WithField("detections", len(annotations)).Info("inference complete")
	return annotations, nil
}

// ListModels returns the models a backend serves
func (c *Client) ListModels(ctx context.Context, backend types.Backend) ([]string, error) {
	if backend == types.BackendMock {
		return []string{MockModel}, nil
	}
	vc, ok := c.backends[backend]
	if !ok {
		return nil, &InferenceError{Backend: backend, Err: ErrUnknownBackend}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	models, err := vc.ListModels(ctx)
	if err != nil {
		return nil, &InferenceError{Backend: backend, Err: err}
	}
	return models, nil
}
