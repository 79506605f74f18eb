package inference

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "sam2_hiera_tiny.encoder.onnx", ArtifactName(ModelSizeTiny, Encoder))
	assert.Equal(t, "sam2_hiera_base_plus.decoder.onnx", ArtifactName(ModelSizeBasePlus, Decoder))
}

func TestParseModelSize(t *testing.T) {
	size, err := ParseModelSize("")
	require.NoError(t, err)
	assert.Equal(t, ModelSizeTiny, size)

	size, err = ParseModelSize("Large")
	require.NoError(t, err)
	assert.Equal(t, ModelSizeLarge, size)

	_, err = ParseModelSize("huge")
	assert.Error(t, err)
}

func TestNewArtifactStoreKind(t *testing.T) {
	assert.IsType(t, &HTTPStore{}, NewArtifactStore("https://models.example.com/sam2/", nil))
	assert.IsType(t, &DirStore{}, NewArtifactStore("/var/lib/sentinel/models", nil))
}

func TestDirStore(t *testing.T) {
	dir := t.TempDir()
	name := ArtifactName(ModelSizeTiny, Encoder)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("onnx"), 0o600))

	store := &DirStore{Dir: dir}
	ctx := context.Background()

	assert.True(t, store.Exists(ctx, name))
	assert.False(t, store.Exists(ctx, ArtifactName(ModelSizeTiny, Decoder)))

	data, err := store.Fetch(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, []byte("onnx"), data)

	_, err = store.Fetch(ctx, "missing.onnx")
	assert.True(t, errors.Is(err, ErrArtifactNotFound))
}

func TestHTTPStore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sam2_hiera_tiny.encoder.onnx" {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte("weights"))
		}
	}))
	defer server.Close()

	store := NewArtifactStore(server.URL+"/", server.Client())
	ctx := context.Background()

	assert.True(t, store.Exists(ctx, "sam2_hiera_tiny.encoder.onnx"))
	assert.False(t, store.Exists(ctx, "sam2_hiera_tiny.decoder.onnx"))

	data, err := store.Fetch(ctx, "sam2_hiera_tiny.encoder.onnx")
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	_, err = store.Fetch(ctx, "sam2_hiera_tiny.decoder.onnx")
	assert.True(t, errors.Is(err, ErrArtifactNotFound))
}

func TestHTTPStoreUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	store := NewArtifactStore(url, nil)
	assert.False(t, store.Exists(context.Background(), "sam2_hiera_tiny.encoder.onnx"))
}

func TestModelLoadErrorUnwraps(t *testing.T) {
	err := error(&ModelLoadError{Kind: Encoder, Location: "/models/x.onnx", Err: ErrArtifactNotFound})

	var loadErr *ModelLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, Encoder, loadErr.Kind)
	assert.True(t, errors.Is(err, ErrArtifactNotFound))
	assert.Contains(t, err.Error(), "encoder")
}
