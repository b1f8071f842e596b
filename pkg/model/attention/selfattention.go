// Package attention implements multi-head scaled dot-product self-attention
// and the transformer block built around it.
//
// The attention here is unmasked (bidirectional): every position attends to
// every position including itself. There is no causal masking — sequence
// classification reads the whole input at once.
package attention

import (
	"fmt"
	"math"

	"github.com/leox1v/dl20/pkg/tensor"
)

// SelfAttention maps a sequence tensor (batch, seq, emb) to a tensor of the
// same shape, mixing information across positions within each example and
// never across examples.
//
// Heads are full width: each of the Heads heads sees all EmbDim dimensions,
// so the three input projections are (emb, emb*heads) and the head count
// never has to divide the embedding dimension. All heads are projected in
// one widened matmul and then folded into the batch dimension, where they
// run as independent batch elements sharing no state.
type SelfAttention struct {
	Heads  int
	EmbDim int

	WQueries *tensor.Tensor // (emb, emb*heads), no bias
	WKeys    *tensor.Tensor // (emb, emb*heads), no bias
	WValues  *tensor.Tensor // (emb, emb*heads), no bias
	WUnify   *tensor.Tensor // (heads*emb, emb)
	BUnify   *tensor.Tensor // (emb,)
}

// NewSelfAttention creates a self-attention layer with zero-initialized
// weights. Panics on non-positive dimensions (constructor misuse, not a
// runtime condition).
func NewSelfAttention(embDim, heads int) *SelfAttention {
	if embDim <= 0 || heads <= 0 {
		panic(fmt.Sprintf("attention dimensions must be positive, got emb_dim=%d heads=%d", embDim, heads))
	}

	return &SelfAttention{
		Heads:    heads,
		EmbDim:   embDim,
		WQueries: tensor.NewTensor([]int{embDim, embDim * heads}),
		WKeys:    tensor.NewTensor([]int{embDim, embDim * heads}),
		WValues:  tensor.NewTensor([]int{embDim, embDim * heads}),
		WUnify:   tensor.NewTensor([]int{heads * embDim, embDim}),
		BUnify:   tensor.NewTensor([]int{embDim}),
	}
}

// Forward computes multi-head self-attention.
//
// Input shape: (batch, seq, emb)
// Output shape: (batch, seq, emb)
//
// Steps:
//  1. Project the input to stacked queries, keys, values: (batch, seq, emb*heads)
//  2. Fold heads into the batch dimension: (batch*heads, seq, emb)
//  3. scores = Q @ K^T / sqrt(emb), shape (batch*heads, seq, seq)
//  4. Row-wise stable softmax over the scores
//  5. Weighted sum with the values: (batch*heads, seq, emb)
//  6. Un-fold heads side by side: (batch, seq, heads*emb)
//  7. Unify projection back to (batch, seq, emb)
func (sa *SelfAttention) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, _, err := sa.forward(x)
	return out, err
}

// forward additionally returns the (batch*heads, seq, seq) attention weight
// tensor so same-package tests can check it is row-stochastic and follows
// position permutations. The weights are recomputed on every call and never
// retained on the struct.
func (sa *SelfAttention) forward(x *tensor.Tensor) (out, weights *tensor.Tensor, err error) {
	if len(x.Shape) != 3 {
		return nil, nil, fmt.Errorf("expected 3D input (batch, seq, emb), got %dD with shape %v",
			len(x.Shape), x.Shape)
	}

	batchSize, seqLen, embDim := x.Shape[0], x.Shape[1], x.Shape[2]
	if embDim != sa.EmbDim {
		return nil, nil, fmt.Errorf("input dimension %d doesn't match attention dimension %d",
			embDim, sa.EmbDim)
	}

	// Step 1: widened projections, each (batch, seq, emb*heads).
	queries, err := tensor.Matmul(x, sa.WQueries)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute queries: %w", err)
	}
	keys, err := tensor.Matmul(x, sa.WKeys)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute keys: %w", err)
	}
	values, err := tensor.Matmul(x, sa.WValues)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute values: %w", err)
	}

	// Step 2: treat each head as an independent batch element.
	queries, err = foldHeads(queries, batchSize, seqLen, sa.Heads, embDim)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fold query heads: %w", err)
	}
	keys, err = foldHeads(keys, batchSize, seqLen, sa.Heads, embDim)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fold key heads: %w", err)
	}
	values, err = foldHeads(values, batchSize, seqLen, sa.Heads, embDim)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fold value heads: %w", err)
	}

	// Step 3: raw scores (batch*heads, seq, seq), scaled by 1/sqrt(emb).
	// The scale counteracts dot products growing with the embedding width;
	// without it softmax saturates into near one-hot rows.
	keysT, err := keys.Transpose(1, 2)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to transpose keys: %w", err)
	}
	scores, err := tensor.Matmul(queries, keysT)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute attention scores: %w", err)
	}
	scores = scores.Scale(float32(1.0 / math.Sqrt(float64(embDim))))

	// Step 4: normalize each row into an attention distribution.
	weights, err = tensor.Softmax(scores, 2)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to normalize attention scores: %w", err)
	}

	// Step 5: weighted sum of the values per head.
	context, err := tensor.Matmul(weights, values)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply attention weights: %w", err)
	}

	// Step 6: lay the head outputs side by side again.
	merged, err := unfoldHeads(context, batchSize, seqLen, sa.Heads, embDim)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unfold heads: %w", err)
	}

	// Step 7: project the concatenated heads back to the embedding width.
	out, err = tensor.Matmul(merged, sa.WUnify)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unify heads: %w", err)
	}
	out, err = tensor.Add(out, sa.BUnify)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to add unify bias: %w", err)
	}

	return out, weights, nil
}

// foldHeads rearranges a stacked projection so every head becomes its own
// batch element:
//
//	(batch, seq, heads*emb) -> (batch, seq, heads, emb)
//	                        -> (batch, heads, seq, emb)
//	                        -> (batch*heads, seq, emb)
func foldHeads(x *tensor.Tensor, batchSize, seqLen, heads, embDim int) (*tensor.Tensor, error) {
	split := x.Reshape([]int{batchSize, seqLen, heads, embDim})
	swapped, err := split.Transpose(1, 2)
	if err != nil {
		return nil, err
	}
	return swapped.Reshape([]int{batchSize * heads, seqLen, embDim}), nil
}

// unfoldHeads inverts foldHeads and concatenates the heads along the last
// dimension:
//
//	(batch*heads, seq, emb) -> (batch, heads, seq, emb)
//	                        -> (batch, seq, heads, emb)
//	                        -> (batch, seq, heads*emb)
func unfoldHeads(x *tensor.Tensor, batchSize, seqLen, heads, embDim int) (*tensor.Tensor, error) {
	split := x.Reshape([]int{batchSize, heads, seqLen, embDim})
	swapped, err := split.Transpose(1, 2)
	if err != nil {
		return nil, err
	}
	return swapped.Reshape([]int{batchSize, seqLen, heads * embDim}), nil
}
