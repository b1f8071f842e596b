// Package model provides the transformer components for sequence
// classification: linear projections, layer normalization, the position-wise
// feed-forward network, and the Classifier that stacks transformer blocks
// over token and position embeddings.
//
// The architecture is an unmasked (bidirectional) encoder stack:
//   - Learned token and position embeddings, summed
//   - Depth transformer blocks (self-attention + feed-forward, post-norm)
//   - Mean pooling over the time axis
//   - Linear projection to class logits
package model

import "fmt"

// Config holds the classifier hyperparameters. All values are fixed at
// construction time and define the shapes of every learned parameter.
type Config struct {
	// NumTokens is the vocabulary size; valid token ids are [0, NumTokens).
	NumTokens int

	// MaxSeqLen is the longest sequence the model accepts; the position
	// embedding table has one row per position.
	MaxSeqLen int

	// EmbeddingDim is the width k of token and position embedding vectors.
	EmbeddingDim int

	// NumHeads is the number of attention heads per block. Heads operate at
	// the full embedding width (projections are k -> k*heads), so there is
	// no divisibility constraint between EmbeddingDim and NumHeads.
	NumHeads int

	// Depth is the number of stacked transformer blocks. Zero is valid and
	// degenerates to embed, pool and classify.
	Depth int

	// NumClasses is the number of output classes (2 for binary sentiment).
	NumClasses int

	// MLPFactor is the feed-forward expansion factor: the hidden layer of
	// each block's feed-forward network has MLPFactor*EmbeddingDim units.
	MLPFactor int

	// Dropout is the rate applied after the embedding sum and after each
	// block sublayer while in training mode. Zero disables it.
	Dropout float32

	// Seed drives the reproducible weight initialization.
	Seed uint64
}

// DefaultConfig returns a configuration sized for binary sentiment
// classification over a word-level vocabulary.
func DefaultConfig() Config {
	return Config{
		NumTokens:    50000,
		MaxSeqLen:    512,
		EmbeddingDim: 128,
		NumHeads:     8,
		Depth:        6,
		NumClasses:   2,
		MLPFactor:    4,
		Dropout:      0.0,
		Seed:         42,
	}
}

// Validate checks that the configuration is internally consistent.
// Returns an error describing the first violated constraint.
func (c Config) Validate() error {
	if c.NumTokens <= 0 {
		return fmt.Errorf("num_tokens must be positive, got %d", c.NumTokens)
	}
	if c.MaxSeqLen <= 0 {
		return fmt.Errorf("max_seq_len must be positive, got %d", c.MaxSeqLen)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("embedding_dim must be positive, got %d", c.EmbeddingDim)
	}
	if c.NumHeads <= 0 {
		return fmt.Errorf("num_heads must be positive, got %d", c.NumHeads)
	}
	if c.Depth < 0 {
		return fmt.Errorf("depth must be non-negative, got %d", c.Depth)
	}
	if c.NumClasses < 2 {
		return fmt.Errorf("num_classes must be at least 2, got %d", c.NumClasses)
	}
	if c.MLPFactor <= 0 {
		return fmt.Errorf("mlp_factor must be positive, got %d", c.MLPFactor)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1), got %v", c.Dropout)
	}
	return nil
}

// HiddenDim returns the feed-forward hidden width MLPFactor*EmbeddingDim.
func (c Config) HiddenDim() int {
	return c.MLPFactor * c.EmbeddingDim
}
