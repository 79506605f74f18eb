// Package providers - CPU based execution provider.
package providers

import ort "github.com/yalue/onnxruntime_go"

// CPUProvider is the default onnxruntime execution path. It needs no configuration.
type CPUProvider struct{}

// NewCPUProvider creates a new CPU provider.
func NewCPUProvider() *CPUProvider {
	return &CPUProvider{}
}

// Backend returns the backend of the CPU provider.
func (p *CPUProvider) Backend() ProviderBackend {
	return CPUProviderBackend
}

// Accelerated is always false for the CPU provider.
func (p *CPUProvider) Accelerated() bool {
	return false
}

// Apply is a no-op; onnxruntime always registers the CPU provider.
func (p *CPUProvider) Apply(_ *ort.SessionOptions) error {
	return nil
}
