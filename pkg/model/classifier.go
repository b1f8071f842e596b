package model

import (
	"fmt"
	"time"

	"github.com/leox1v/dl20/internal/metrics"
	"github.com/leox1v/dl20/pkg/model/attention"
	"github.com/leox1v/dl20/pkg/tensor"
)

// Classifier is the transformer sequence classifier.
//
// Architecture:
//  1. Token embeddings: lookup table (num_tokens, emb_dim)
//  2. Positional embeddings: learned (max_seq_len, emb_dim), summed on top
//  3. Transformer blocks: stack of Depth post-norm blocks
//  4. Mean pooling over the sequence dimension
//  5. Output projection: linear layer (emb_dim, num_classes)
//
// The output is one raw logit vector per example. No softmax or loss is
// applied; an external harness owns those.
type Classifier struct {
	Config   Config
	TokEmb   *tensor.Tensor // (num_tokens, emb_dim)
	PosEmb   *tensor.Tensor // (max_seq_len, emb_dim) - learned
	Blocks   []*attention.TransformerBlock
	ToLogits *Linear // (emb_dim, num_classes)

	training bool
}

// NewClassifier creates a classifier with all weights allocated and
// initialized from Config.Seed. Two calls with the same config produce
// bit-identical models.
//
// The model starts in inference mode; call SetTraining(true) to enable
// dropout.
func NewClassifier(config Config) (*Classifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Classifier{
		Config:   config,
		TokEmb:   tensor.NewTensor([]int{config.NumTokens, config.EmbeddingDim}),
		PosEmb:   tensor.NewTensor([]int{config.MaxSeqLen, config.EmbeddingDim}),
		Blocks:   make([]*attention.TransformerBlock, config.Depth),
		ToLogits: NewLinear(config.EmbeddingDim, config.NumClasses, true),
	}

	init := newInitializer(config.Seed)
	init.fillNormal(c.TokEmb)
	init.fillNormal(c.PosEmb)

	for i := range c.Blocks {
		attn := attention.NewSelfAttention(config.EmbeddingDim, config.NumHeads)
		init.initAttention(attn)

		ff := NewFeedForward(config.EmbeddingDim, config.HiddenDim())
		init.initLinear(ff.Expand)
		init.initLinear(ff.Contract)

		norm1 := NewLayerNorm(config.EmbeddingDim, 1e-5)
		norm2 := NewLayerNorm(config.EmbeddingDim, 1e-5)

		c.Blocks[i] = attention.NewTransformerBlock(attn, ff, norm1, norm2, config.Dropout)
	}

	init.initLinear(c.ToLogits)

	return c, nil
}

// SetTraining sets the training mode for the model.
// When training=false, dropout is disabled and Forward is deterministic.
func (c *Classifier) SetTraining(training bool) {
	c.training = training
}

// Forward computes class logits for a batch of token id sequences.
//
// ids must be rectangular: every row the same length t, with 1 <= t <=
// MaxSeqLen and every id in [0, NumTokens). Rows are consumed as given;
// padding and truncation are the caller's concern.
//
// Output shape: (batch, num_classes) - raw logits, no activation.
//
// Steps:
//  1. x = TokEmb[ids] + PosEmb[0:t], broadcast over the batch
//  2. x = Dropout(x) in training mode
//  3. For each block: x = block.Forward(x)
//  4. pooled = mean over the sequence dimension: (batch, emb_dim)
//  5. logits = ToLogits(pooled)
func (c *Classifier) Forward(ids [][]int) (*tensor.Tensor, error) {
	x, err := c.embed(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to embed input: %w", err)
	}

	for i, block := range c.Blocks {
		t0 := time.Now()
		x, err = block.Forward(x, c.training)
		if err != nil {
			return nil, fmt.Errorf("failed in transformer block %d: %w", i, err)
		}
		metrics.RecordLayerDuration("block", time.Since(t0))
	}

	t0 := time.Now()
	pooled, err := tensor.Mean(x, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to pool over positions: %w", err)
	}
	metrics.RecordLayerDuration("pool", time.Since(t0))

	t0 = time.Now()
	logits, err := c.ToLogits.Forward(pooled)
	if err != nil {
		return nil, fmt.Errorf("failed to project to logits: %w", err)
	}
	metrics.RecordLayerDuration("output", time.Since(t0))

	return logits, nil
}

// Predict runs Forward and returns the argmax class index per example.
func (c *Classifier) Predict(ids [][]int) ([]int, error) {
	logits, err := c.Forward(ids)
	if err != nil {
		return nil, err
	}

	batchSize, numClasses := logits.Shape[0], logits.Shape[1]
	preds := make([]int, batchSize)
	for i := 0; i < batchSize; i++ {
		row := logits.Data[i*numClasses : (i+1)*numClasses]
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		preds[i] = best
	}
	return preds, nil
}

// NumParameters returns the total number of learned scalar parameters.
func (c *Classifier) NumParameters() int {
	n := c.TokEmb.Size() + c.PosEmb.Size()
	for _, block := range c.Blocks {
		attn := block.Attn
		n += attn.WQueries.Size() + attn.WKeys.Size() + attn.WValues.Size()
		n += attn.WUnify.Size() + attn.BUnify.Size()

		if ff, ok := block.FF.(*FeedForward); ok {
			n += ff.Expand.Weight.Size() + ff.Expand.Bias.Size()
			n += ff.Contract.Weight.Size() + ff.Contract.Bias.Size()
		}
		for _, norm := range []attention.LayerNorm{block.Norm1, block.Norm2} {
			if ln, ok := norm.(*LayerNorm); ok {
				n += ln.Scale.Size() + ln.Shift.Size()
			}
		}
	}
	n += c.ToLogits.Weight.Size() + c.ToLogits.Bias.Size()
	return n
}

// embed validates the id batch and builds the (batch, seq, emb_dim) input
// activations: token embedding lookup plus the position embedding prefix,
// broadcast over the batch.
func (c *Classifier) embed(ids [][]int) (*tensor.Tensor, error) {
	t0 := time.Now()

	batchSize := len(ids)
	if batchSize == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	seqLen := len(ids[0])
	if seqLen == 0 {
		return nil, fmt.Errorf("empty sequence in row 0")
	}
	if seqLen > c.Config.MaxSeqLen {
		return nil, fmt.Errorf("sequence length %d exceeds maximum length %d", seqLen, c.Config.MaxSeqLen)
	}

	tokEmbeds, err := c.lookupTokens(ids, batchSize, seqLen)
	if err != nil {
		return nil, err
	}

	// Position embeddings for positions 0 to seqLen-1, shared by every row.
	posEmbeds, err := c.PosEmb.SliceN(
		[]int{0, 0},
		[]int{seqLen, c.Config.EmbeddingDim},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to slice positional embeddings: %w", err)
	}

	// (batch, seq, emb) + (seq, emb) broadcasts over the batch dimension.
	x, err := tensor.Add(tokEmbeds, posEmbeds)
	if err != nil {
		return nil, fmt.Errorf("failed to add embeddings: %w", err)
	}

	if c.Config.Dropout > 0 && c.training {
		x = x.Dropout(c.Config.Dropout, c.training)
	}

	metrics.RecordLayerDuration("embed", time.Since(t0))
	return x, nil
}

// lookupTokens copies one embedding row per token id into a
// (batch, seq, emb_dim) tensor, validating shape and id range as it goes.
func (c *Classifier) lookupTokens(ids [][]int, batchSize, seqLen int) (*tensor.Tensor, error) {
	embDim := c.Config.EmbeddingDim
	output := tensor.NewTensor([]int{batchSize, seqLen, embDim})

	for b, row := range ids {
		if len(row) != seqLen {
			return nil, fmt.Errorf("ragged batch: row %d has length %d, row 0 has length %d",
				b, len(row), seqLen)
		}
		for s, id := range row {
			if id < 0 || id >= c.Config.NumTokens {
				return nil, fmt.Errorf("invalid token ID %d at position (%d, %d), vocabulary size is %d",
					id, b, s, c.Config.NumTokens)
			}

			srcOffset := id * embDim
			dstOffset := (b*seqLen + s) * embDim
			copy(output.Data[dstOffset:dstOffset+embDim], c.TokEmb.Data[srcOffset:srcOffset+embDim])
		}
	}

	return output, nil
}
