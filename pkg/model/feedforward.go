package model

import (
	"fmt"

	"github.com/leox1v/dl20/pkg/tensor"
)

// FeedForward is the position-wise network of a transformer block: two
// linear projections with a ReLU between them, expanding the embedding to
// hidden_dim = mlp_factor * emb_dim and contracting back.
//
// Every sequence position is transformed independently with the same
// weights; no information moves between positions here (that is the
// attention sublayer's job).
type FeedForward struct {
	Expand   *Linear // (emb_dim, hidden_dim)
	Contract *Linear // (hidden_dim, emb_dim)
}

// NewFeedForward creates the two projections, both with bias.
func NewFeedForward(embDim, hiddenDim int) *FeedForward {
	return &FeedForward{
		Expand:   NewLinear(embDim, hiddenDim, true),
		Contract: NewLinear(hiddenDim, embDim, true),
	}
}

// Forward computes Contract(ReLU(Expand(x))).
//
// Input shape: (batch, seq, emb_dim)
// Output shape: (batch, seq, emb_dim)
func (ff *FeedForward) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	hidden, err := ff.Expand.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("failed to expand: %w", err)
	}

	out, err := ff.Contract.Forward(hidden.ReLU())
	if err != nil {
		return nil, fmt.Errorf("failed to contract: %w", err)
	}
	return out, nil
}
