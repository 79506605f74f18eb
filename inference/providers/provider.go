// Package providers - Execution provider selection for the onnxruntime sessions.
package providers

import (
	"fmt"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers.
type ProviderBackend string

const (
	// AutoProviderBackend picks the best accelerator that passes the capability probe and falls back
	// to the CPU backend.
	AutoProviderBackend ProviderBackend = "auto"
	// CPUProviderBackend is the portable numeric execution path.
	CPUProviderBackend ProviderBackend = "cpu"
)

// ExecutionProvider represents the contract that all execution providers must implement.
type ExecutionProvider interface {
	// Backend returns the backend identifier of the provider.
	Backend() ProviderBackend
	// Accelerated reports whether the provider runs on dedicated hardware.
	Accelerated() bool
	// Apply appends the provider to the session options.
	Apply(options *ort.SessionOptions) error
}

// ProviderOptions is a marker interface for provider-specific config.
type ProviderOptions interface {
	isProviderOptions()
}

// Options holds the settings of each accelerated backend. Only the selected backend's settings
// are applied.
type Options struct {
	CUDA     CUDAOptions     `json:"cuda"     yaml:"cuda"     mapstructure:"cuda"`
	CoreML   CoreMLOptions   `json:"coreml"   yaml:"coreml"   mapstructure:"coreml"`
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino" mapstructure:"openvino"`
}

// For returns the settings for backend, or nil when the backend takes none.
func (o Options) For(backend ProviderBackend) ProviderOptions {
	switch backend {
	case CUDAProviderBackend:
		return o.CUDA
	case CoreMLProviderBackend:
		return o.CoreML
	case OpenVINOProviderBackend:
		return o.OpenVINO
	default:
		return nil
	}
}

// ParseBackend converts a configuration string into a ProviderBackend.
//
// Arguments:
//   - s: The backend name, case insensitive. Empty means auto.
//
// Returns:
//   - ProviderBackend: The parsed backend.
//   - error: An error if the backend is unknown.
func ParseBackend(s string) (ProviderBackend, error) {
	switch b := ProviderBackend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return AutoProviderBackend, nil
	case AutoProviderBackend, CPUProviderBackend, CUDAProviderBackend, CoreMLProviderBackend,
		OpenVINOProviderBackend:
		return b, nil
	default:
		return "", fmt.Errorf("unknown execution provider backend: %q", s)
	}
}

// NewProvider creates a new provider based on the required backend.
//
// Arguments:
//   - backend: The backend to use. AutoProviderBackend is not accepted here; resolve it with
//     Select first.
//   - options: The options for the provider, or nil for defaults.
//
// Returns:
//   - ExecutionProvider: The new provider.
//   - error: An error if the provider creation fails.
func NewProvider(backend ProviderBackend, options ProviderOptions) (ExecutionProvider, error) {
	switch backend {
	case CPUProviderBackend:
		return NewCPUProvider(), nil
	case CUDAProviderBackend:
		opts, _ := options.(CUDAOptions)
		return NewCUDAProvider(opts), nil
	case CoreMLProviderBackend:
		opts, _ := options.(CoreMLOptions)
		return NewCoreMLProvider(opts), nil
	case OpenVINOProviderBackend:
		opts, _ := options.(OpenVINOOptions)
		return NewOpenVINOProvider(opts), nil
	default:
		return nil, fmt.Errorf("no matching provider backend registered: %s", backend)
	}
}

// Select resolves the preferred backend into a concrete provider.
//
// An explicit accelerator is only returned when its probe succeeds; otherwise, as with auto, the
// accelerators are tried in platform priority order and the CPU provider is the final fallback.
//
// Arguments:
//   - preferred: The configured backend.
//   - options: Per-backend settings applied to every candidate.
//   - probe: The capability probe, usually Probe.
//
// Returns:
//   - ExecutionProvider: The selected provider. Never nil.
func Select(preferred ProviderBackend, options Options, probe func(ExecutionProvider) bool) ExecutionProvider {
	if preferred == CPUProviderBackend {
		return NewCPUProvider()
	}

	candidates := AcceleratedBackends()
	if preferred != AutoProviderBackend && preferred != "" {
		candidates = []ProviderBackend{preferred}
	}

	for _, backend := range candidates {
		provider, err := NewProvider(backend, options.For(backend))
		if err != nil {
			continue
		}
		if probe(provider) {
			return provider
		}
	}

	return NewCPUProvider()
}
