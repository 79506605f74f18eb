// Package inference - Conversion between gorgonia tensors and onnxruntime values.
package inference

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// toValue copies a dense tensor into a native onnxruntime tensor. The caller destroys the result.
func toValue(t *tensor.Dense) (ort.Value, error) {
	shape := make([]int64, len(t.Shape()))
	for i, d := range t.Shape() {
		shape[i] = int64(d)
	}

	switch data := t.Data().(type) {
	case []float32:
		return ort.NewTensor(ort.NewShape(shape...), data)
	case []int32:
		return ort.NewTensor(ort.NewShape(shape...), data)
	case []int64:
		return ort.NewTensor(ort.NewShape(shape...), data)
	case float32:
		return ort.NewTensor(ort.NewShape(shape...), []float32{data})
	case int32:
		return ort.NewTensor(ort.NewShape(shape...), []int32{data})
	default:
		return nil, errors.Errorf("unsupported tensor dtype %v", t.Dtype())
	}
}

// fromValue copies a native onnxruntime tensor into a dense tensor owned by Go memory.
func fromValue(v ort.Value) (*tensor.Dense, error) {
	switch typed := v.(type) {
	case *ort.Tensor[float32]:
		return dense(typed.GetShape(), append([]float32(nil), typed.GetData()...)), nil
	case *ort.Tensor[int32]:
		return dense(typed.GetShape(), append([]int32(nil), typed.GetData()...)), nil
	case *ort.Tensor[int64]:
		return dense(typed.GetShape(), append([]int64(nil), typed.GetData()...)), nil
	default:
		return nil, errors.Errorf("unsupported output value %T", v)
	}
}

func dense(shape ort.Shape, backing interface{}) *tensor.Dense {
	dims := make([]int, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing))
}

func destroyValues(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
