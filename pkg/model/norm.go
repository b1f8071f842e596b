package model

import (
	"fmt"
	"math"

	"github.com/leox1v/dl20/pkg/tensor"
)

// LayerNorm normalizes each embedding vector (the last axis) to zero mean
// and unit variance, then applies a learned per-dimension scale and shift:
//
//	mean = mean(x, axis=-1)
//	var  = var(x, axis=-1)
//	out  = (x - mean) / sqrt(var + eps) * Scale + Shift
//
// In a transformer block it stabilizes each residual sublayer; the residual
// add happens before normalization, never after.
type LayerNorm struct {
	Scale *tensor.Tensor // (emb_dim,) - gamma, initialized to ones
	Shift *tensor.Tensor // (emb_dim,) - beta, initialized to zeros
	Eps   float32
}

// NewLayerNorm creates a LayerNorm over embDim features with scale=1 and
// shift=0, i.e. the identity affine transform. eps guards the division for
// near-constant vectors (1e-5 is the conventional value).
func NewLayerNorm(embDim int, eps float32) *LayerNorm {
	scale := tensor.NewTensor([]int{embDim})
	for i := range scale.Data {
		scale.Data[i] = 1.0
	}

	return &LayerNorm{
		Scale: scale,
		Shift: tensor.NewTensor([]int{embDim}),
		Eps:   eps,
	}
}

// Forward normalizes every vector along the last axis independently.
//
// Input shape: (..., emb_dim)
// Output shape: same as input
func (ln *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) == 0 {
		return nil, fmt.Errorf("cannot apply LayerNorm to 0D tensor")
	}
	width := x.Shape[len(x.Shape)-1]
	if width != len(ln.Scale.Data) {
		return nil, fmt.Errorf("input last dimension %d doesn't match LayerNorm dimension %d",
			width, len(ln.Scale.Data))
	}

	result := tensor.NewTensor(x.Shape)
	rows := len(x.Data) / width

	for r := 0; r < rows; r++ {
		row := x.Data[r*width : (r+1)*width]
		out := result.Data[r*width : (r+1)*width]

		mean := float32(0)
		for _, v := range row {
			mean += v
		}
		mean /= float32(width)

		variance := float32(0)
		for _, v := range row {
			diff := v - mean
			variance += diff * diff
		}
		variance /= float32(width)

		invStd := float32(1.0 / math.Sqrt(float64(variance+ln.Eps)))
		for i, v := range row {
			out[i] = (v-mean)*invStd*ln.Scale.Data[i] + ln.Shift.Data[i]
		}
	}

	return result, nil
}
