package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    ProviderBackend
		wantErr bool
	}{
		{in: "", want: AutoProviderBackend},
		{in: "AUTO", want: AutoProviderBackend},
		{in: " cuda ", want: CUDAProviderBackend},
		{in: "coreml", want: CoreMLProviderBackend},
		{in: "openvino", want: OpenVINOProviderBackend},
		{in: "cpu", want: CPUProviderBackend},
		{in: "tpu", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectFallsBackToCPU(t *testing.T) {
	probed := 0
	provider := Select(AutoProviderBackend, Options{}, func(ExecutionProvider) bool {
		probed++
		return false
	})

	assert.Equal(t, CPUProviderBackend, provider.Backend())
	assert.False(t, provider.Accelerated())
	assert.Equal(t, len(AcceleratedBackends()), probed)
}

func TestSelectHonoursExplicitBackend(t *testing.T) {
	var seen []ProviderBackend
	provider := Select(CUDAProviderBackend, Options{}, func(p ExecutionProvider) bool {
		seen = append(seen, p.Backend())
		return true
	})

	assert.Equal(t, CUDAProviderBackend, provider.Backend())
	assert.True(t, provider.Accelerated())
	assert.Equal(t, []ProviderBackend{CUDAProviderBackend}, seen)
}

func TestSelectCPUSkipsProbe(t *testing.T) {
	provider := Select(CPUProviderBackend, Options{}, func(ExecutionProvider) bool {
		t.Fatal("probe must not run for the cpu backend")
		return false
	})
	assert.Equal(t, CPUProviderBackend, provider.Backend())
}

func TestSelectAppliesBackendOptions(t *testing.T) {
	options := Options{
		CUDA:     CUDAOptions{DeviceID: 1, GPUMemLimit: 2 << 30},
		OpenVINO: OpenVINOOptions{DeviceType: "GPU", Precision: "FP16"},
	}

	provider := Select(OpenVINOProviderBackend, options, func(ExecutionProvider) bool { return true })
	openvino, ok := provider.(*OpenVINOProvider)
	require.True(t, ok)
	assert.Equal(t, options.OpenVINO, openvino.options)

	provider = Select(CUDAProviderBackend, options, func(ExecutionProvider) bool { return true })
	cuda, ok := provider.(*CUDAProvider)
	require.True(t, ok)
	assert.Equal(t, 1, cuda.options.DeviceID)
	assert.Equal(t, int64(2<<30), cuda.options.GPUMemLimit)
}

func TestOptionsFor(t *testing.T) {
	options := Options{CoreML: CoreMLOptions{MLProgram: true}}
	assert.Equal(t, options.CoreML, options.For(CoreMLProviderBackend))
	assert.Nil(t, options.For(CPUProviderBackend))
	assert.Nil(t, options.For(AutoProviderBackend))
}

func TestCoreMLFlags(t *testing.T) {
	assert.Equal(t, uint32(0), CoreMLOptions{}.Flags())
	assert.Equal(t,
		CoreMLFlagCreateMLProgram|CoreMLFlagOnlyAllowStaticShapes,
		CoreMLOptions{MLProgram: true, RequireStaticShapes: true}.Flags(),
	)
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(AutoProviderBackend, nil)
	assert.Error(t, err)
}

func TestSharedLibPathOverride(t *testing.T) {
	assert.Equal(t, "/opt/ort/libonnxruntime.so", SharedLibPath("/opt/ort/libonnxruntime.so"))
	assert.NotEmpty(t, SharedLibPath(""))
}
