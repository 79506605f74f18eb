// Package providers - ONNX Runtime session option tuning.
package providers

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// OptimizationConfig contains the ONNX Runtime optimization settings shared by every session
// created for a model pair.
type OptimizationConfig struct {
	// GraphOptimizationLevel controls the level of graph optimization.
	GraphOptimizationLevel ort.GraphOptimizationLevel `json:"graph_optimization_level"`

	// ExecutionMode controls sequential vs parallel execution.
	ExecutionMode ort.ExecutionMode `json:"execution_mode"`

	// IntraOpNumThreads sets threads for parallelizing ops. Zero uses the onnxruntime default.
	IntraOpNumThreads int `json:"intra_op_num_threads"`

	// InterOpNumThreads sets threads for parallelizing independent ops.
	InterOpNumThreads int `json:"inter_op_num_threads"`

	// EnableMemoryPattern enables memory pattern optimization.
	EnableMemoryPattern bool `json:"enable_memory_pattern"`

	// EnableCPUMemArena enables CPU memory arena for better memory management.
	EnableCPUMemArena bool `json:"enable_cpu_mem_arena"`
}

// DefaultOptimizationConfig returns a production-ready optimization configuration.
//
// The encoder is a large transformer that benefits from intra-op threading; the decoder is tiny,
// so inter-op parallelism is kept low.
func DefaultOptimizationConfig() OptimizationConfig {
	numCPU := runtime.NumCPU()

	return OptimizationConfig{
		GraphOptimizationLevel: ort.GraphOptimizationLevelEnableExtended,
		ExecutionMode:          ort.ExecutionModeSequential,
		IntraOpNumThreads:      maxInt(1, numCPU/2),
		InterOpNumThreads:      1,
		EnableMemoryPattern:    true,
		EnableCPUMemArena:      true,
	}
}

// SessionOptions builds session options from the optimization config and the execution provider.
//
// Arguments:
//   - config: Optimization configuration to apply.
//   - provider: The execution provider to append, may be nil for CPU.
//
// Returns:
//   - *ort.SessionOptions: Configured session options; the caller must Destroy them.
//   - error: Configuration error if any.
func SessionOptions(config OptimizationConfig, provider ExecutionProvider) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	steps := []func() error{
		func() error { return options.SetGraphOptimizationLevel(config.GraphOptimizationLevel) },
		func() error { return options.SetExecutionMode(config.ExecutionMode) },
		func() error { return options.SetIntraOpNumThreads(config.IntraOpNumThreads) },
		func() error { return options.SetInterOpNumThreads(config.InterOpNumThreads) },
		func() error { return options.SetMemPattern(config.EnableMemoryPattern) },
		func() error { return options.SetCpuMemArena(config.EnableCPUMemArena) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("failed to apply session option: %w", err)
		}
	}

	if provider != nil {
		if err := provider.Apply(options); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("failed to configure %s provider: %w", provider.Backend(), err)
		}
	}

	return options, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
