package attention

import (
	"fmt"
	"time"

	"github.com/leox1v/dl20/internal/metrics"
	"github.com/leox1v/dl20/pkg/tensor"
)

// FeedForward is an interface for position-wise feed-forward layers
type FeedForward interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// LayerNorm is an interface for layer normalization
type LayerNorm interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// TransformerBlock implements a single post-norm transformer block.
//
// Architecture (per block):
//  1. a  = Attn(x)            # Multi-head self-attention
//  2. x1 = Norm1(a + x)       # Residual, then layer norm
//  3. x1 = Dropout(x1)        # Only in training mode
//  4. f  = FF(x1)             # Position-wise feed-forward
//  5. x2 = Norm2(f + x1)      # Residual, then layer norm
//  6. x2 = Dropout(x2)        # Only in training mode
//
// Normalization sits after each residual sum (post-norm), so the block
// output is always layer-normalized. Output shape equals input shape,
// which lets blocks stack to any depth.
type TransformerBlock struct {
	Attn    *SelfAttention
	FF      FeedForward
	Norm1   LayerNorm // After attention residual
	Norm2   LayerNorm // After feed-forward residual
	Dropout float32
}

// NewTransformerBlock creates a new transformer block.
//
// Parameters:
//   - attn: SelfAttention instance
//   - ff: FeedForward instance
//   - norm1: LayerNorm applied after the attention residual
//   - norm2: LayerNorm applied after the feed-forward residual
//   - dropout: dropout rate, 0 disables
//
// Returns:
//   - Initialized TransformerBlock
func NewTransformerBlock(attn *SelfAttention, ff FeedForward, norm1, norm2 LayerNorm, dropout float32) *TransformerBlock {
	return &TransformerBlock{
		Attn:    attn,
		FF:      ff,
		Norm1:   norm1,
		Norm2:   norm2,
		Dropout: dropout,
	}
}

// Forward computes one transformer block.
//
// Input shapes:
//   - x: (batch, seq, emb_dim)
//   - training: if true, apply dropout; if false, skip dropout
//
// Output shape: (batch, seq, emb_dim)
func (b *TransformerBlock) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	// Step 1: self-attention with residual, normalized after the sum.
	t0 := time.Now()
	attnOut, err := b.Attn.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("failed to compute attention: %w", err)
	}
	metrics.RecordLayerDuration("attention", time.Since(t0))

	summed, err := tensor.Add(attnOut, x)
	if err != nil {
		return nil, fmt.Errorf("failed to add attention residual: %w", err)
	}

	x1, err := b.Norm1.Forward(summed)
	if err != nil {
		return nil, fmt.Errorf("failed to apply Norm1: %w", err)
	}

	if b.Dropout > 0 && training {
		x1 = x1.Dropout(b.Dropout, training)
	}

	// Step 2: feed-forward with residual, normalized after the sum.
	t0 = time.Now()
	ffOut, err := b.FF.Forward(x1)
	if err != nil {
		return nil, fmt.Errorf("failed to compute feed-forward: %w", err)
	}
	metrics.RecordLayerDuration("feedforward", time.Since(t0))

	summed, err = tensor.Add(ffOut, x1)
	if err != nil {
		return nil, fmt.Errorf("failed to add feed-forward residual: %w", err)
	}

	x2, err := b.Norm2.Forward(summed)
	if err != nil {
		return nil, fmt.Errorf("failed to apply Norm2: %w", err)
	}

	if b.Dropout > 0 && training {
		x2 = x2.Dropout(b.Dropout, training)
	}

	return x2, nil
}
