// Package inference - Model artifact resolution.
package inference

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ModelSize selects one of the published SAM2 checkpoints.
type ModelSize string

// ModelSize constants.
const (
	ModelSizeTiny     ModelSize = "tiny"
	ModelSizeSmall    ModelSize = "small"
	ModelSizeBasePlus ModelSize = "base_plus"
	ModelSizeLarge    ModelSize = "large"
)

// ParseModelSize validates a configured model size. Empty means tiny.
func ParseModelSize(s string) (ModelSize, error) {
	switch size := ModelSize(strings.ToLower(strings.TrimSpace(s))); size {
	case "":
		return ModelSizeTiny, nil
	case ModelSizeTiny, ModelSizeSmall, ModelSizeBasePlus, ModelSizeLarge:
		return size, nil
	default:
		return "", fmt.Errorf("unknown model size: %q", s)
	}
}

// ArtifactName returns the file name of a model artifact, e.g. sam2_hiera_tiny.encoder.onnx.
func ArtifactName(size ModelSize, kind ModelKind) string {
	return fmt.Sprintf("sam2_hiera_%s.%s.onnx", size, kind)
}

// ArtifactStore resolves model artifacts by name.
type ArtifactStore interface {
	// Exists is a lightweight existence check. It never fails; unreachable means false.
	Exists(ctx context.Context, name string) bool
	// Fetch returns the full artifact.
	Fetch(ctx context.Context, name string) ([]byte, error)
	// Location describes where the artifact lives, for diagnostics.
	Location(name string) string
}

// NewArtifactStore picks an HTTP store for http(s) bases and a directory store otherwise.
//
// Arguments:
//   - base: A directory path or an http(s) base URL.
//   - client: The HTTP client for remote stores; nil uses a client with a 60s timeout.
//
// Returns:
//   - ArtifactStore: The store.
func NewArtifactStore(base string, client *http.Client) ArtifactStore {
	if strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://") {
		if client == nil {
			client = &http.Client{Timeout: 60 * time.Second}
		}
		return &HTTPStore{BaseURL: strings.TrimRight(base, "/"), Client: client}
	}
	return &DirStore{Dir: base}
}

// DirStore reads artifacts from a local directory.
type DirStore struct {
	Dir string
}

// Location returns the artifact path.
func (s *DirStore) Location(name string) string {
	return filepath.Join(s.Dir, name)
}

// Exists stats the artifact.
func (s *DirStore) Exists(_ context.Context, name string) bool {
	info, err := os.Stat(s.Location(name))
	return err == nil && !info.IsDir() && info.Size() > 0
}

// Fetch reads the artifact from disk.
func (s *DirStore) Fetch(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(s.Location(name))
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrArtifactNotFound, s.Location(name))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", s.Location(name))
	}
	return data, nil
}

// HTTPStore downloads artifacts from a base URL.
type HTTPStore struct {
	BaseURL string
	Client  *http.Client
}

// Location returns the artifact URL.
func (s *HTTPStore) Location(name string) string {
	return s.BaseURL + "/" + name
}

// Exists issues a HEAD request for the artifact.
func (s *HTTPStore) Exists(ctx context.Context, name string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.Location(name), nil)
	if err != nil {
		return false
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Fetch downloads the artifact.
func (s *HTTPStore) Fetch(ctx context.Context, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Location(name), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "download %s", s.Location(name))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Wrap(ErrArtifactNotFound, s.Location(name))
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Errorf("download %s: status %d", s.Location(name), resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", s.Location(name))
	}
	return data, nil
}
