// Package providers - CoreML based execution provider.
package providers

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
)

// CoreML provider flags, mirroring COREML_FLAG_* in coreml_provider_factory.h.
const (
	CoreMLFlagUseCPUOnly              uint32 = 0x001
	CoreMLFlagEnableOnSubgraph        uint32 = 0x002
	CoreMLFlagOnlyEnableDeviceWithANE uint32 = 0x004
	CoreMLFlagOnlyAllowStaticShapes   uint32 = 0x008
	CoreMLFlagCreateMLProgram         uint32 = 0x010
)

// CoreMLProvider implements the ExecutionProvider interface.
type CoreMLProvider struct {
	options CoreMLOptions
}

// CoreMLOptions contains arguments for the CoreML provider.
// See: https://onnxruntime.ai/docs/execution-providers/CoreML-ExecutionProvider.html
type CoreMLOptions struct {
	// Create an MLProgram format model. Requires Core ML 5 or later (iOS 15+ or macOS 12+).
	MLProgram bool `json:"mlProgram"          yaml:"mlProgram"          mapstructure:"ml_program"`
	// Only allow the CoreML EP to take nodes with inputs that have static shapes.
	RequireStaticShapes bool `json:"requireStaticShapes" yaml:"requireStaticShapes" mapstructure:"require_static_shapes"`
	// Enable the CoreML EP on subgraphs in the body of control flow operators.
	EnableOnSubgraphs bool `json:"enableOnSubgraphs"  yaml:"enableOnSubgraphs"  mapstructure:"enable_on_subgraphs"`
}

func (CoreMLOptions) isProviderOptions() {}

// Flags packs the options into the CoreML provider bit field.
func (o CoreMLOptions) Flags() uint32 {
	var flags uint32
	if o.MLProgram {
		flags |= CoreMLFlagCreateMLProgram
	}
	if o.RequireStaticShapes {
		flags |= CoreMLFlagOnlyAllowStaticShapes
	}
	if o.EnableOnSubgraphs {
		flags |= CoreMLFlagEnableOnSubgraph
	}
	return flags
}

// Backend returns the backend of the CoreML provider.
func (p *CoreMLProvider) Backend() ProviderBackend {
	return CoreMLProviderBackend
}

// Accelerated reports true.
func (p *CoreMLProvider) Accelerated() bool {
	return true
}

// Apply appends the CoreML provider to the session options.
func (p *CoreMLProvider) Apply(options *ort.SessionOptions) error {
	if err := options.AppendExecutionProviderCoreML(p.options.Flags()); err != nil {
		return fmt.Errorf("error enabling CoreML: %w", err)
	}
	return nil
}

// NewCoreMLProvider creates a new CoreML provider.
func NewCoreMLProvider(options CoreMLOptions) *CoreMLProvider {
	return &CoreMLProvider{
		options: options,
	}
}
