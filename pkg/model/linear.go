package model

import (
	"fmt"

	"github.com/leox1v/dl20/pkg/tensor"
)

// Linear applies a learned affine map to the last dimension of its input:
//
//	y = x @ Weight + Bias
//
// applied independently to every leading-dimension slice. It owns its weight
// matrix (and optional bias vector); parameters are never shared between
// projections.
type Linear struct {
	Weight *tensor.Tensor // (d_in, d_out)
	Bias   *tensor.Tensor // (d_out,), nil when constructed without bias
	DIn    int
	DOut   int
}

// NewLinear creates a projection from dIn to dOut features, zero-initialized.
// When bias is false the projection is purely linear.
func NewLinear(dIn, dOut int, bias bool) *Linear {
	if dIn <= 0 || dOut <= 0 {
		panic(fmt.Sprintf("linear dimensions must be positive, got (%d, %d)", dIn, dOut))
	}

	l := &Linear{
		Weight: tensor.NewTensor([]int{dIn, dOut}),
		DIn:    dIn,
		DOut:   dOut,
	}
	if bias {
		l.Bias = tensor.NewTensor([]int{dOut})
	}
	return l
}

// Forward applies the projection.
//
// Input shape: (..., d_in), at least 2D
// Output shape: (..., d_out), leading dimensions preserved
//
// Fails only when the input's last dimension doesn't match d_in.
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 2 {
		return nil, fmt.Errorf("expected at least 2D input, got %dD", len(x.Shape))
	}
	if last := x.Shape[len(x.Shape)-1]; last != l.DIn {
		return nil, fmt.Errorf("input dimension %d doesn't match projection input dimension %d",
			last, l.DIn)
	}

	out, err := tensor.Matmul(x, l.Weight)
	if err != nil {
		return nil, fmt.Errorf("failed to apply projection: %w", err)
	}

	if l.Bias != nil {
		out, err = tensor.Add(out, l.Bias)
		if err != nil {
			return nil, fmt.Errorf("failed to add bias: %w", err)
		}
	}
	return out, nil
}
