// Package inference - onnxruntime backed inference client.
package inference

import (
	"context"
	"sync"

	"github.com/nvr-ai/sentinel/inference/providers"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"gorgonia.org/tensor"
)

// ORTConfig configures an ORTClient.
type ORTConfig struct {
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string
	// Accelerator is the preferred execution provider backend.
	Accelerator providers.ProviderBackend
	// Providers holds the settings of each accelerated backend.
	Providers providers.Options
	// Optimization is applied to every session.
	Optimization providers.OptimizationConfig
	// Size selects the checkpoint pair.
	Size ModelSize
	// Store resolves model artifacts.
	Store ArtifactStore
}

// ORTClient implements Client on top of onnxruntime.
type ORTClient struct {
	config ORTConfig
	logger *zap.Logger

	mu       sync.Mutex
	provider providers.ExecutionProvider
}

var environmentMu sync.Mutex

// NewORTClient creates an onnxruntime client. The runtime itself is initialized lazily.
//
// Arguments:
//   - config: The client configuration.
//   - logger: The logger, nil for none.
//
// Returns:
//   - *ORTClient: The client.
func NewORTClient(config ORTConfig, logger *zap.Logger) *ORTClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Size == "" {
		config.Size = ModelSizeTiny
	}
	if config.Accelerator == "" {
		config.Accelerator = providers.AutoProviderBackend
	}
	return &ORTClient{config: config, logger: logger.Named("ort")}
}

func (c *ORTClient) ensureEnvironment() error {
	environmentMu.Lock()
	defer environmentMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	ort.SetSharedLibraryPath(providers.SharedLibPath(c.config.LibraryPath))
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "initialize onnxruntime environment")
	}
	return nil
}

// selectProvider resolves the execution provider once per client.
func (c *ORTClient) selectProvider() providers.ExecutionProvider {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.provider == nil {
		c.provider = providers.Select(c.config.Accelerator, c.config.Providers, providers.Probe)
		c.logger.Info("selected execution provider",
			zap.String("backend", string(c.provider.Backend())),
			zap.Bool("accelerated", c.provider.Accelerated()),
		)
	}
	return c.provider
}

// ProbeAcceleration reports whether an accelerator is usable. Never fails.
func (c *ORTClient) ProbeAcceleration() bool {
	if err := c.ensureEnvironment(); err != nil {
		c.logger.Warn("onnxruntime unavailable", zap.Error(err))
		return false
	}
	return c.selectProvider().Accelerated()
}

// Available reports whether both artifacts exist.
func (c *ORTClient) Available(ctx context.Context) bool {
	for _, kind := range []ModelKind{Encoder, Decoder} {
		if !c.config.Store.Exists(ctx, ArtifactName(c.config.Size, kind)) {
			return false
		}
	}
	return true
}

// LoadModel fetches the artifact for kind and creates a session for it.
//
// Arguments:
//   - ctx: Bounds the artifact fetch.
//   - kind: The model to load.
//
// Returns:
//   - Handle: A *Session.
//   - error: A *ModelLoadError.
func (c *ORTClient) LoadModel(ctx context.Context, kind ModelKind) (Handle, error) {
	name := ArtifactName(c.config.Size, kind)
	location := c.config.Store.Location(name)
	fail := func(err error) (Handle, error) {
		return nil, &ModelLoadError{Kind: kind, Location: location, Err: err}
	}

	signature, err := SignatureFor(kind)
	if err != nil {
		return fail(err)
	}
	if err := c.ensureEnvironment(); err != nil {
		return fail(err)
	}

	data, err := c.config.Store.Fetch(ctx, name)
	if err != nil {
		return fail(err)
	}

	options, err := providers.SessionOptions(c.config.Optimization, c.selectProvider())
	if err != nil {
		return fail(err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(
		data,
		signature.InputNames(),
		signature.OutputNames(),
		options,
	)
	if err != nil {
		return fail(errors.Wrap(err, "create session"))
	}

	c.logger.Info("model loaded",
		zap.String("kind", string(kind)),
		zap.String("location", location),
		zap.Int("bytes", len(data)),
	)

	return &Session{kind: kind, signature: signature, location: location, session: session}, nil
}

// Run validates inputs against the model signature and executes the session.
//
// Arguments:
//   - ctx: Checked before execution; a running session cannot be interrupted.
//   - handle: A handle returned by LoadModel.
//   - inputs: Named input tensors.
//
// Returns:
//   - map[string]*tensor.Dense: Named output tensors.
//   - error: An *InferenceError.
func (c *ORTClient) Run(
	ctx context.Context,
	handle Handle,
	inputs map[string]*tensor.Dense,
) (map[string]*tensor.Dense, error) {
	session, ok := handle.(*Session)
	if !ok || session == nil {
		kind := ModelKind("unknown")
		if handle != nil {
			kind = handle.Kind()
		}
		return nil, &InferenceError{Kind: kind, Err: ErrInvalidHandle}
	}
	if err := ctx.Err(); err != nil {
		return nil, &InferenceError{Kind: session.kind, Err: err}
	}
	if err := session.signature.Validate(inputs); err != nil {
		return nil, &InferenceError{Kind: session.kind, Err: err}
	}

	values := make([]ort.Value, 0, len(session.signature.Inputs))
	defer func() { destroyValues(values) }()
	for _, spec := range session.signature.Inputs {
		v, err := toValue(inputs[spec.Name])
		if err != nil {
			return nil, inferenceErrorf(session.kind, err, "input %s", spec.Name)
		}
		values = append(values, v)
	}

	outputs := make([]ort.Value, len(session.signature.Outputs))
	defer destroyValues(outputs)
	if err := session.run(values, outputs); err != nil {
		return nil, inferenceErrorf(session.kind, err, "run")
	}

	result := make(map[string]*tensor.Dense, len(outputs))
	for i, spec := range session.signature.Outputs {
		t, err := fromValue(outputs[i])
		if err != nil {
			return nil, inferenceErrorf(session.kind, err, "output %s", spec.Name)
		}
		if !ShapeMatches(t.Shape(), spec.Shape) {
			return nil, inferenceErrorf(session.kind, ErrShapeMismatch, "output %s: got %v", spec.Name, t.Shape())
		}
		result[spec.Name] = t
	}
	return result, nil
}
