// Package inference - SAM2 encoder/decoder tensor contracts.
package inference

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// EncoderSize is the square input resolution expected by the image encoder.
const EncoderSize = 1024

// MaskInputSize is the side length of the low-resolution mask prompt.
const MaskInputSize = 256

// Encoder tensor names.
const (
	InputImage        = "image"
	OutputImageEmbed  = "image_embed"
	OutputHighRes0    = "high_res_feats_0"
	OutputHighRes1    = "high_res_feats_1"
	InputPointCoords  = "point_coords"
	InputPointLabels  = "point_labels"
	InputMaskInput    = "mask_input"
	InputHasMaskInput = "has_mask_input"
	InputOrigImSize   = "orig_im_size"
	OutputMasks       = "masks"
	OutputIOU         = "iou_predictions"
)

// Dynamic marks a dimension that may take any size.
const Dynamic = -1

// TensorSpec is the expected shape of a named tensor. Dynamic dimensions accept any size.
type TensorSpec struct {
	Name  string
	Shape []int
}

// Signature lists the inputs and outputs of a model, in session order.
type Signature struct {
	Inputs  []TensorSpec
	Outputs []TensorSpec
}

// InputNames returns the input tensor names.
func (s Signature) InputNames() []string {
	return names(s.Inputs)
}

// OutputNames returns the output tensor names.
func (s Signature) OutputNames() []string {
	return names(s.Outputs)
}

func names(specs []TensorSpec) []string {
	out := make([]string, len(specs))
	for i, spec := range specs {
		out[i] = spec.Name
	}
	return out
}

// SignatureFor returns the tensor contract of a model kind.
func SignatureFor(kind ModelKind) (Signature, error) {
	switch kind {
	case Encoder:
		return Signature{
			Inputs: []TensorSpec{{InputImage, []int{1, 3, EncoderSize, EncoderSize}}},
			Outputs: []TensorSpec{
				{OutputImageEmbed, []int{1, Dynamic, Dynamic, Dynamic}},
				{OutputHighRes0, []int{1, Dynamic, Dynamic, Dynamic}},
				{OutputHighRes1, []int{1, Dynamic, Dynamic, Dynamic}},
			},
		}, nil
	case Decoder:
		return Signature{
			Inputs: []TensorSpec{
				{OutputImageEmbed, []int{1, Dynamic, Dynamic, Dynamic}},
				{OutputHighRes0, []int{1, Dynamic, Dynamic, Dynamic}},
				{OutputHighRes1, []int{1, Dynamic, Dynamic, Dynamic}},
				{InputPointCoords, []int{1, Dynamic, 2}},
				{InputPointLabels, []int{1, Dynamic}},
				{InputMaskInput, []int{1, 1, MaskInputSize, MaskInputSize}},
				{InputHasMaskInput, []int{1}},
				{InputOrigImSize, []int{2}},
			},
			Outputs: []TensorSpec{
				{OutputMasks, []int{1, Dynamic, Dynamic, Dynamic}},
				{OutputIOU, []int{1, Dynamic}},
			},
		}, nil
	default:
		return Signature{}, fmt.Errorf("unknown model kind: %q", kind)
	}
}

// Validate checks that every declared input is present with a compatible shape.
//
// Arguments:
//   - inputs: The named input tensors.
//
// Returns:
//   - error: ErrMissingInput or ErrShapeMismatch wrapped with the tensor name.
func (s Signature) Validate(inputs map[string]*tensor.Dense) error {
	for _, spec := range s.Inputs {
		t, ok := inputs[spec.Name]
		if !ok || t == nil {
			return errors.Wrap(ErrMissingInput, spec.Name)
		}
		if !ShapeMatches(t.Shape(), spec.Shape) {
			return errors.Wrapf(ErrShapeMismatch, "%s: got %v, want %v", spec.Name, t.Shape(), spec.Shape)
		}
	}
	return nil
}

// ShapeMatches reports whether got satisfies want, treating Dynamic as a wildcard.
func ShapeMatches(got tensor.Shape, want []int) bool {
	if len(got) != len(want) {
		return false
	}
	for i, d := range want {
		if d != Dynamic && got[i] != d {
			return false
		}
	}
	return true
}
