// Package inference - Error kinds surfaced by the inference client.
package inference

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrArtifactNotFound is returned when a model artifact does not exist at its location.
	ErrArtifactNotFound = errors.New("model artifact not found")
	// ErrShapeMismatch is returned when a tensor does not match the model signature.
	ErrShapeMismatch = errors.New("tensor shape mismatch")
	// ErrMissingInput is returned when a named input required by the model is absent.
	ErrMissingInput = errors.New("missing model input")
	// ErrInvalidHandle is returned when Run receives a handle it did not create or one that was
	// already closed.
	ErrInvalidHandle = errors.New("invalid model handle")
)

// ModelLoadError reports a model artifact that is unreachable or malformed.
type ModelLoadError struct {
	Kind     ModelKind
	Location string
	Err      error
}

// Error implements the error interface.
func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load %s model from %s: %v", e.Kind, e.Location, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// InferenceError reports a shape mismatch or a runtime failure while executing a model.
type InferenceError struct {
	Kind ModelKind
	Err  error
}

// Error implements the error interface.
func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s inference: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *InferenceError) Unwrap() error {
	return e.Err
}

func inferenceErrorf(kind ModelKind, cause error, format string, args ...interface{}) error {
	return &InferenceError{Kind: kind, Err: errors.Wrapf(cause, format, args...)}
}
