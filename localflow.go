// Package localflow labels images with locally served vision models and
// exports the results as YOLO datasets.
//
// Detections come from an Ollama or LM Studio server, whichever is running.
// Model replies are loose JSON on a 0-1000 axis; they are parsed, scaled to
// pixels, stored per image, and written out as a train/valid dataset archive.
//
// Basic usage:
//
//	lf, err := localflow.New(localflow.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	backend, _, err := lf.SelectBackend(ctx)
//	if err != nil {
//		log.Fatal(err) // neither server is running
//	}
//
//	ws := lf.Workspace()
//	ws.AddFiles("frames/0001.jpg", "frames/0002.jpg")
//	ws.LabelBatch(ctx, labeling.Request{Backend: backend, Model: "qwen2.5vl:7b", Prompt: "Detect all cars."}, nil)
//
//	archive, err := lf.Export(export.Options{TrainRatio: 0.8, Seed: 42})
//
// The package wires these components:
//
// 1. Provider (pkg/provider): probes the servers and picks the backend
// 2. Inference (pkg/inference): sends the image, parses and scales the reply
// 3. Labeling (pkg/labeling): the image collection and batch runs
// 4. Export (pkg/export): the YOLO dataset writer
package localflow

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/localflow/pkg/client"
	"github.com/menta2k/localflow/pkg/export"
	"github.com/menta2k/localflow/pkg/inference"
	"github.com/menta2k/localflow/pkg/labeling"
	"github.com/menta2k/localflow/pkg/lmstudio"
	"github.com/menta2k/localflow/pkg/ollama"
	"github.com/menta2k/localflow/pkg/processing"
	"github.com/menta2k/localflow/pkg/provider"
	"github.com/menta2k/localflow/pkg/types"
)

// Version of the localflow library
const Version = "1.0.0"

// Options configures a LocalFlow instance. The zero value talks to both
// servers on their default local ports.
type Options struct {
	OllamaURL   string
	LMStudioURL string
	// Provider is "auto" (or empty), "ollama", "lmstudio" or "mock"
	Provider       string
	ProbeTimeout   time.Duration
	RequestTimeout time.Duration
	SystemPrompt   string
	// MaxImageSide downsizes images sent to the model, 0 sends originals
	MaxImageSide int
	// TempDir holds export trees, the system temp dir when empty
	TempDir    string
	Policy     labeling.FailurePolicy
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// LocalFlow is a labeling session bound to a pair of model servers
type LocalFlow struct {
	selector  *provider.Selector
	inference *inference.Client
	processor *processing.Processor
	workspace *labeling.Workspace
	exporter  *export.Exporter
	logger    logrus.FieldLogger
}

// New wires the components from opts
func New(opts Options) (*LocalFlow, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	selector := provider.NewSelector(provider.Config{
		OllamaURL:   opts.OllamaURL,
		LMStudioURL: opts.LMStudioURL,
		Override:    opts.Provider,
		Timeout:     opts.ProbeTimeout,
	}, logger.WithField("component", "provider"))

	ollamaClient, err := ollama.NewClient(selector.URL(types.BackendOllama), opts.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("ollama client: %w", err)
	}
	lmstudioClient, err := lmstudio.NewClient(selector.URL(types.BackendLMStudio), opts.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("lm studio client: %w", err)
	}

	processor := processing.NewProcessorWithConfig(processing.Config{MaxSide: opts.MaxImageSide})
	infer := inference.NewClient(map[types.Backend]client.VisionClient{
		types.BackendOllama:   ollamaClient,
		types.BackendLMStudio: lmstudioClient,
	}, processor, inference.Config{
		SystemPrompt: opts.SystemPrompt,
		Timeout:      opts.RequestTimeout,
	}, logger.WithField("component", "inference"))

	return &LocalFlow{
		selector:  selector,
		inference: infer,
		processor: processor,
		workspace: labeling.NewWorkspace(infer, processor, labeling.Options{Policy: opts.Policy}, logger.WithField("component", "workspace")),
		exporter:  export.NewExporter(opts.TempDir, logger.WithField("component", "export")),
		logger:    logger,
	}, nil
}

// Status probes both servers
func (lf *LocalFlow) Status(ctx context.Context) types.ProviderStatus {
	return lf.selector.Status(ctx)
}

// SelectBackend probes the servers and returns the backend to use
func (lf *LocalFlow) SelectBackend(ctx context.Context) (types.Backend, types.ProviderStatus, error) {
	return lf.selector.Select(ctx)
}

// ListModels returns the models a backend can serve
func (lf *LocalFlow) ListModels(ctx context.Context, backend types.Backend) ([]string, error) {
	return lf.inference.ListModels(ctx, backend)
}

// Detect runs one inference on an image file without touching the workspace
func (lf *LocalFlow) Detect(ctx context.Context, backend types.Backend, model, prompt, imagePath string) ([]types.Annotation, error) {
	return lf.inference.Infer(ctx, backend, model, prompt, imagePath)
}

// Workspace returns the session's image collection
func (lf *LocalFlow) Workspace() *labeling.Workspace {
	return lf.workspace
}

// Export writes the workspace as a YOLO dataset and returns the archive path
func (lf *LocalFlow) Export(opts export.Options) (string, error) {
	return lf.workspace.Export(lf.exporter, opts)
}

// RenderPreview loads an image and outlines its annotations
func (lf *LocalFlow) RenderPreview(img types.ImageRecord) (image.Image, error) {
	src, err := lf.processor.LoadImage(img.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return lf.processor.DrawAnnotations(src, img.Annotations), nil
}

// SavePreview renders img with its annotations to path
func (lf *LocalFlow) SavePreview(img types.ImageRecord, path, format string, quality int) error {
	preview, err := lf.RenderPreview(img)
	if err != nil {
		return err
	}
	if err := lf.processor.SaveImage(preview, path, format, quality, false); err != nil {
		return fmt.Errorf("failed to save preview: %w", err)
	}
	return nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
