package segmentation

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotInitialized is returned by EncodeImage and Segment before Initialize has completed.
	ErrNotInitialized = errors.New("segmentation engine not initialized")
	// ErrEmbeddingStale is returned by Segment while a new image is being encoded, or when the
	// image it is given is not the one the cached embedding came from.
	ErrEmbeddingStale = errors.New("image embedding is being replaced")
)

// InitializationError reports a failed real-model load. The engine is left uninitialized, so
// Initialize may be retried.
type InitializationError struct {
	Err error
}

// Error implements the error interface.
func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize segmentation engine: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *InitializationError) Unwrap() error {
	return e.Err
}
