// Package providers - OpenVINO based execution provider.
package providers

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// OpenVINOProviderBackend uses Intel OpenVINO for inference optimization.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// OpenVINOProvider implements the ExecutionProvider interface.
type OpenVINOProvider struct {
	options OpenVINOOptions
}

// OpenVINOOptions contains arguments for the OpenVINO provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	// Overrides the accelerator hardware type (CPU, GPU, NPU). Empty uses the build default.
	DeviceType string `json:"deviceType"   yaml:"deviceType"   mapstructure:"device_type"`
	// Supported precisions for HW {CPU:FP32, GPU:[FP32, FP16, ACCURACY], NPU:FP16}.
	Precision string `json:"precision"    yaml:"precision"    mapstructure:"precision"`
	// Overrides the accelerator default value of number of threads with this value at runtime.
	NumOfThreads int `json:"numOfThreads" yaml:"numOfThreads" mapstructure:"num_of_threads"`
}

// isProviderOptions is a marker function to ensure the options are valid.
func (OpenVINOOptions) isProviderOptions() {}

// Backend returns the backend of the OpenVINO provider.
func (p *OpenVINOProvider) Backend() ProviderBackend {
	return OpenVINOProviderBackend
}

// Accelerated reports true.
func (p *OpenVINOProvider) Accelerated() bool {
	return true
}

// Apply appends the OpenVINO provider to the session options.
func (p *OpenVINOProvider) Apply(options *ort.SessionOptions) error {
	config := map[string]string{}
	if p.options.DeviceType != "" {
		config["device_type"] = p.options.DeviceType
	}
	if p.options.Precision != "" {
		config["precision"] = p.options.Precision
	}
	if p.options.NumOfThreads > 0 {
		config["num_of_threads"] = fmt.Sprintf("%d", p.options.NumOfThreads)
	}

	if err := options.AppendExecutionProviderOpenVINO(config); err != nil {
		return fmt.Errorf("error enabling OpenVINO: %w", err)
	}
	return nil
}

// NewOpenVINOProvider creates a new OpenVINO provider.
func NewOpenVINOProvider(args OpenVINOOptions) *OpenVINOProvider {
	return &OpenVINOProvider{
		options: args,
	}
}
