package inference

import (
	"errors"
	"fmt"

	"github.com/menta2k/localflow/pkg/types"
)

var (
	// ErrNoModel is returned when a real backend is called without a model id
	ErrNoModel = errors.New("no model selected")
	// ErrUnknownBackend is returned for a backend with no registered client
	ErrUnknownBackend = errors.New("unknown backend")
)

// InferenceError is the single failure kind of an inference call: transport
// errors, non-2xx replies, malformed envelopes and unusable images.
type InferenceError struct {
	Backend types.Backend
	Model   string
	Err     error
}

func (e *InferenceError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("inference failed on %s: %v", e.Backend.DisplayName(), e.Err)
	}
	return fmt.Sprintf("inference failed on %s (model %s): %v", e.Backend.DisplayName(), e.Model, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
