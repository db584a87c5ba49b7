// Package labeling keeps the image collection of a labeling session and
// runs inference over it.
//
// Every mutation builds a new image list and swaps it in whole, so readers
// never observe a half-applied update.
package labeling

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/localflow/pkg/export"
	"github.com/menta2k/localflow/pkg/processing"
	"github.com/menta2k/localflow/pkg/types"
)

// ErrImageNotFound is returned for an unknown image id
var ErrImageNotFound = errors.New("image not found")

// Inferer runs detection on one image. *inference.Client implements it.
type Inferer interface {
	Infer(ctx context.Context, backend types.Backend, model, prompt, imagePath string) ([]types.Annotation, error)
}

// FailurePolicy decides what a batch does when one image fails
type FailurePolicy int

// Under either policy a batch resets the failed image to unlabeled, so
// annotations from an earlier run are never exported as current.
const (
	// ContinueOnError records the failure and moves on to the next image
	ContinueOnError FailurePolicy = iota
	// AbortOnError stops the batch at the first failure
	AbortOnError
)

// Request selects the backend, model and prompt for labeling
type Request struct {
	Backend types.Backend
	Model   string
	Prompt  string
}

// Progress is reported after each image of a batch
type Progress struct {
	Done    int
	Total   int
	ImageID string
	Err     error
}

// Failure is one image a batch could not label
type Failure struct {
	ImageID string
	Err     error
}

// BatchReport summarizes a batch run
type BatchReport struct {
	Total   int
	Labeled int
	Empty   int
	Failed  []Failure
}

// Options configures a workspace
type Options struct {
	Policy FailurePolicy
}

// Workspace is the in-memory image collection of a session
type Workspace struct {
	mu        sync.RWMutex
	images    []types.ImageRecord
	inferer   Inferer
	processor *processing.Processor
	options   Options
	logger    logrus.FieldLogger
}

// NewWorkspace creates an empty workspace
func NewWorkspace(inferer Inferer, processor *processing.Processor, options Options, logger logrus.FieldLogger) *Workspace {
	if processor == nil {
		processor = processing.NewProcessor()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Workspace{
		inferer:   inferer,
		processor: processor,
		options:   options,
		logger:    logger,
	}
}

// Images returns a snapshot of the collection
func (w *Workspace) Images() []types.ImageRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return cloneImages(w.images)
}

// Image returns the record with the given id
func (w *Workspace) Image(id string) (types.ImageRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, img := range w.images {
		if img.ID == id {
			return cloneImage(img), true
		}
	}
	return types.ImageRecord{}, false
}

// Len returns the number of images
func (w *Workspace) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.images)
}

// AddFiles inspects each file and appends it as an unlabeled image.
// Nothing is added if any file cannot be read.
func (w *Workspace) AddFiles(paths ...string) ([]types.ImageRecord, error) {
	added := make([]types.ImageRecord, 0, len(paths))
	for _, p := range paths {
		info, err := w.processor.Inspect(p)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", p, err)
		}
		added = append(added, types.ImageRecord{
			ID:          uuid.NewString(),
			Name:        filepath.Base(p),
			Path:        p,
			Width:       info.Width,
			Height:      info.Height,
			Annotations: []types.Annotation{},
			Status:      types.StatusUnlabeled,
		})
	}

	w.mu.Lock()
	next := make([]types.ImageRecord, 0, len(w.images)+len(added))
	next = append(next, w.images...)
	next = append(next, added...)
	w.images = next
	w.mu.Unlock()

	w.logger.WithField("count", len(added)).Info("images added")
	return cloneImages(added), nil
}

// LabelImage runs inference on one image and replaces its annotations with
// the result. On error the image is left untouched.
func (w *Workspace) LabelImage(ctx context.Context, id string, req Request) (types.ImageRecord, error) {
	img, ok := w.Image(id)
	if !ok {
		return types.ImageRecord{}, fmt.Errorf("%w: %s", ErrImageNotFound, id)
	}
	if w.inferer == nil {
		return types.ImageRecord{}, errors.New("workspace has no inference client")
	}

	anns, err := w.inferer.Infer(ctx, req.Backend, req.Model, req.Prompt, img.Path)
	if err != nil {
		return types.ImageRecord{}, err
	}

	stamped := make([]types.Annotation, len(anns))
	for i, a := range anns {
		a.ID = newAnnotationID()
		a.Source = req.Model
		stamped[i] = a
	}

	status := types.StatusAutoLabeled
	if len(stamped) == 0 {
		status = types.StatusUnlabeled
	}

	updated, err := w.replace(id, func(r types.ImageRecord) types.ImageRecord {
		return r.WithAnnotations(stamped, status)
	})
	if err != nil {
		return types.ImageRecord{}, err
	}

	w.logger.WithFields(logrus.Fields{
		"image":       img.Name,
		"annotations": len(stamped),
		"model":       req.Model,
	}).Debug("image labeled")
	return updated, nil
}

// LabelBatch labels every image in order. progress, if set, is called after
// each image. A failed image is left unlabeled with no annotations.
// Cancelling ctx stops the batch before the next image.
func (w *Workspace) LabelBatch(ctx context.Context, req Request, progress func(Progress)) (BatchReport, error) {
	snapshot := w.Images()
	report := BatchReport{Total: len(snapshot)}

	for i, img := range snapshot {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		updated, err := w.LabelImage(ctx, img.ID, req)
		switch {
		case err != nil:
			w.logger.WithError(err).WithField("image", img.Name).Warn("labeling failed")
			report.Failed = append(report.Failed, Failure{ImageID: img.ID, Err: err})
			w.replace(img.ID, func(r types.ImageRecord) types.ImageRecord {
				return r.WithAnnotations(nil, types.StatusUnlabeled)
			})
		case len(updated.Annotations) == 0:
			report.Empty++
		default:
			report.Labeled++
		}

		if progress != nil {
			progress(Progress{Done: i + 1, Total: len(snapshot), ImageID: img.ID, Err: err})
		}
		if err != nil && w.options.Policy == AbortOnError {
			return report, fmt.Errorf("batch stopped at %s: %w", img.Name, err)
		}
	}

	w.logger.WithFields(logrus.Fields{
		"total":   report.Total,
		"labeled": report.Labeled,
		"empty":   report.Empty,
		"failed":  len(report.Failed),
	}).Info("batch finished")
	return report, nil
}

// SetAnnotations replaces the annotations of an image with a curated set.
// The image becomes labeled, or unlabeled if anns is empty.
func (w *Workspace) SetAnnotations(id string, anns []types.Annotation) (types.ImageRecord, error) {
	status := types.StatusLabeled
	if len(anns) == 0 {
		status = types.StatusUnlabeled
	}
	return w.replace(id, func(r types.ImageRecord) types.ImageRecord {
		return r.WithAnnotations(anns, status)
	})
}

// Remove drops one image
func (w *Workspace) Remove(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := make([]types.ImageRecord, 0, len(w.images))
	found := false
	for _, img := range w.images {
		if img.ID == id {
			found = true
			continue
		}
		next = append(next, img)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrImageNotFound, id)
	}
	w.images = next
	return nil
}

// Clear drops all images
func (w *Workspace) Clear() {
	w.mu.Lock()
	w.images = nil
	w.mu.Unlock()
}

// Classes returns the class list of the current exportable images
func (w *Workspace) Classes() []string {
	return export.DeriveClasses(w.Images())
}

// Export writes the current collection through exporter and returns the
// archive path
func (w *Workspace) Export(exporter *export.Exporter, opts export.Options) (string, error) {
	images := w.Images()
	return exporter.Export(images, export.DeriveClasses(images), opts)
}

// replace swaps in a new list where the image with id is rewritten by fn
func (w *Workspace) replace(id string, fn func(types.ImageRecord) types.ImageRecord) (types.ImageRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := make([]types.ImageRecord, len(w.images))
	copy(next, w.images)
	for i, img := range next {
		if img.ID == id {
			next[i] = fn(img)
			w.images = next
			return cloneImage(next[i]), nil
		}
	}
	return types.ImageRecord{}, fmt.Errorf("%w: %s", ErrImageNotFound, id)
}

func newAnnotationID() string {
	return "auto-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func cloneImage(img types.ImageRecord) types.ImageRecord {
	img.Annotations = append([]types.Annotation{}, img.Annotations...)
	return img
}

func cloneImages(images []types.ImageRecord) []types.ImageRecord {
	out := make([]types.ImageRecord, len(images))
	for i, img := range images {
		out[i] = cloneImage(img)
	}
	return out
}
