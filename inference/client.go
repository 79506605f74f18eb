// Package inference - Tensor inference client abstraction.
package inference

import (
	"context"

	"gorgonia.org/tensor"
)

// ModelKind identifies one half of the segmentation model pair.
type ModelKind string

// ModelKind constants.
const (
	Encoder ModelKind = "encoder"
	Decoder ModelKind = "decoder"
)

// Handle is an opaque reference to a loaded model.
type Handle interface {
	// Kind returns the model this handle was loaded for.
	Kind() ModelKind
	// Close releases the native resources. Safe to call more than once.
	Close() error
}

// Client loads and runs models.
//
// Implementations must be safe for concurrent use across different handles.
type Client interface {
	// ProbeAcceleration reports whether a hardware accelerator is usable. Never fails.
	ProbeAcceleration() bool

	// Available reports whether both artifacts of the model pair are reachable.
	Available(ctx context.Context) bool

	// LoadModel loads the artifact for kind. Failures are *ModelLoadError.
	LoadModel(ctx context.Context, kind ModelKind) (Handle, error)

	// Run executes a loaded model with named inputs and returns named outputs. Failures are
	// *InferenceError.
	Run(ctx context.Context, handle Handle, inputs map[string]*tensor.Dense) (map[string]*tensor.Dense, error)
}
