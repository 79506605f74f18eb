// Package providers - Utility functions.
package providers

import (
	"runtime"
)

// SharedLibPath returns the path to the onnxruntime shared library for the current platform.
//
// Arguments:
//   - override: An explicit path from configuration. Returned as-is when non-empty.
//
// Returns:
//   - string: The path to the shared library.
func SharedLibPath(override string) string {
	if override != "" {
		return override
	}
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.1.21.0.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

// AcceleratedBackends returns the accelerators worth probing on this platform, highest priority
// first.
func AcceleratedBackends() []ProviderBackend {
	switch runtime.GOOS {
	case "darwin":
		return []ProviderBackend{CoreMLProviderBackend}
	case "linux", "windows":
		return []ProviderBackend{CUDAProviderBackend, OpenVINOProviderBackend}
	default:
		return nil
	}
}

// Probe reports whether the provider can be appended to a fresh set of session options. It never
// fails: any error or panic from the native layer is reported as false.
//
// The onnxruntime environment must already be initialized.
func Probe(provider ExecutionProvider) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	options, err := SessionOptions(DefaultOptimizationConfig(), provider)
	if err != nil {
		return false
	}
	options.Destroy()
	return true
}
