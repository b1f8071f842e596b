package model

import (
	"math"
	"strings"
	"testing"

	"github.com/leox1v/dl20/pkg/model/attention"
	"github.com/leox1v/dl20/pkg/tensor"
)

// smallConfig is a cheap configuration for forward-pass tests.
func smallConfig() Config {
	return Config{
		NumTokens:    100,
		MaxSeqLen:    32,
		EmbeddingDim: 16,
		NumHeads:     4,
		Depth:        2,
		NumClasses:   2,
		MLPFactor:    4,
		Dropout:      0.0,
		Seed:         42,
	}
}

// TestNewClassifier tests the creation of the classifier.
func TestNewClassifier(t *testing.T) {
	config := smallConfig()

	model, err := NewClassifier(config)
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	if !shapeEquals(model.TokEmb.Shape, []int{config.NumTokens, config.EmbeddingDim}) {
		t.Errorf("TokEmb shape = %v, expected [%d %d]",
			model.TokEmb.Shape, config.NumTokens, config.EmbeddingDim)
	}
	if !shapeEquals(model.PosEmb.Shape, []int{config.MaxSeqLen, config.EmbeddingDim}) {
		t.Errorf("PosEmb shape = %v, expected [%d %d]",
			model.PosEmb.Shape, config.MaxSeqLen, config.EmbeddingDim)
	}
	if len(model.Blocks) != config.Depth {
		t.Errorf("Expected %d blocks, got %d", config.Depth, len(model.Blocks))
	}
	if !shapeEquals(model.ToLogits.Weight.Shape, []int{config.EmbeddingDim, config.NumClasses}) {
		t.Errorf("ToLogits weight shape = %v, expected [%d %d]",
			model.ToLogits.Weight.Shape, config.EmbeddingDim, config.NumClasses)
	}

	// Initialization must have run: an all-zero embedding table means the
	// seeded init was skipped
	allZero := true
	for _, v := range model.TokEmb.Data {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Error("TokEmb is all zeros, expected seeded initialization")
	}

	// A fresh model must start in inference mode
	if model.training {
		t.Error("Expected a fresh model to start in inference mode")
	}
}

// TestNewClassifier_InvalidConfig tests constructor validation.
func TestNewClassifier_InvalidConfig(t *testing.T) {
	config := smallConfig()
	config.EmbeddingDim = 0

	_, err := NewClassifier(config)
	if err == nil {
		t.Fatal("Expected error for invalid config")
	}
	if !strings.Contains(err.Error(), "invalid config") {
		t.Errorf("Expected error containing %q, got %q", "invalid config", err.Error())
	}
}

// TestNewClassifier_SeedDeterminism tests that construction is reproducible.
func TestNewClassifier_SeedDeterminism(t *testing.T) {
	a, err := NewClassifier(smallConfig())
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}
	b, err := NewClassifier(smallConfig())
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	if !a.TokEmb.Equals(b.TokEmb, 0) {
		t.Error("Same seed should produce identical token embeddings")
	}
	if !a.Blocks[0].Attn.WQueries.Equals(b.Blocks[0].Attn.WQueries, 0) {
		t.Error("Same seed should produce identical attention weights")
	}
	if !a.ToLogits.Weight.Equals(b.ToLogits.Weight, 0) {
		t.Error("Same seed should produce identical output weights")
	}

	other := smallConfig()
	other.Seed = 43
	c, err := NewClassifier(other)
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}
	if a.TokEmb.Equals(c.TokEmb, 0) {
		t.Error("Different seeds should produce different token embeddings")
	}
}

// TestClassifier_ForwardShape tests the forward pass output shape.
func TestClassifier_ForwardShape(t *testing.T) {
	config := smallConfig()
	model, err := NewClassifier(config)
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	batchSize, seqLen := 3, 10
	ids := make([][]int, batchSize)
	for i := range ids {
		row := make([]int, seqLen)
		for j := range row {
			row[j] = (i*seqLen + j) % config.NumTokens
		}
		ids[i] = row
	}

	logits, err := model.Forward(ids)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if !shapeEquals(logits.Shape, []int{batchSize, config.NumClasses}) {
		t.Fatalf("Expected logits shape [%d %d], got %v", batchSize, config.NumClasses, logits.Shape)
	}
	assertFinite(t, logits.Data)
}

// TestClassifier_ForwardDeterminism tests that inference is a pure function.
func TestClassifier_ForwardDeterminism(t *testing.T) {
	model, err := NewClassifier(smallConfig())
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	ids := [][]int{{1, 2, 3, 4, 5}, {6, 7, 8, 9, 10}}

	first, err := model.Forward(ids)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	second, err := model.Forward(ids)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if !first.Equals(second, 0) {
		t.Error("Two inference calls on the same input should be bit-identical")
	}
}

// TestClassifier_DepthZero tests the degenerate embed+pool+classify model.
func TestClassifier_DepthZero(t *testing.T) {
	config := Config{
		NumTokens:    10,
		MaxSeqLen:    8,
		EmbeddingDim: 2,
		NumHeads:     1,
		Depth:        0,
		NumClasses:   2,
		MLPFactor:    4,
		Seed:         1,
	}
	model, err := NewClassifier(config)
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	// Craft the parameters so the output is exact: identity logit
	// projection, zeroed position embeddings, known token rows.
	for i := range model.PosEmb.Data {
		model.PosEmb.Data[i] = 0
	}
	copy(model.ToLogits.Weight.Data, []float32{1, 0, 0, 1})
	copy(model.ToLogits.Bias.Data, []float32{0, 0})

	// Token 3 embeds to [1, 2], token 4 to [3, 6]
	copy(model.TokEmb.Data[3*2:4*2], []float32{1, 2})
	copy(model.TokEmb.Data[4*2:5*2], []float32{3, 6})

	logits, err := model.Forward([][]int{{3, 4}})
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// Mean of [1,2] and [3,6] is [2,4]; identity projection passes it through
	if !shapeEquals(logits.Shape, []int{1, 2}) {
		t.Fatalf("Expected logits shape [1 2], got %v", logits.Shape)
	}
	if logits.Data[0] != 2 || logits.Data[1] != 4 {
		t.Errorf("Expected logits [2 4], got %v", logits.Data)
	}
}

// TestClassifier_ForwardErrors tests input validation.
func TestClassifier_ForwardErrors(t *testing.T) {
	config := smallConfig()
	model, err := NewClassifier(config)
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	tests := []struct {
		name      string
		ids       [][]int
		errString string
	}{
		{
			name:      "empty batch",
			ids:       [][]int{},
			errString: "empty batch",
		},
		{
			name:      "empty sequence",
			ids:       [][]int{{}},
			errString: "empty sequence",
		},
		{
			name:      "ragged batch",
			ids:       [][]int{{1, 2, 3}, {4, 5}},
			errString: "ragged batch",
		},
		{
			name:      "sequence too long",
			ids:       [][]int{make([]int, config.MaxSeqLen+1)},
			errString: "exceeds maximum length",
		},
		{
			name:      "token id at vocabulary size",
			ids:       [][]int{{1, config.NumTokens}},
			errString: "invalid token ID",
		},
		{
			name:      "negative token id",
			ids:       [][]int{{-1, 2}},
			errString: "invalid token ID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := model.Forward(tt.ids)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errString) {
				t.Errorf("Expected error containing %q, got %q", tt.errString, err.Error())
			}
		})
	}
}

// TestClassifier_Predict tests argmax classification with crafted weights.
func TestClassifier_Predict(t *testing.T) {
	config := Config{
		NumTokens:    4,
		MaxSeqLen:    4,
		EmbeddingDim: 2,
		NumHeads:     1,
		Depth:        0,
		NumClasses:   2,
		MLPFactor:    4,
		Seed:         1,
	}
	model, err := NewClassifier(config)
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	for i := range model.PosEmb.Data {
		model.PosEmb.Data[i] = 0
	}
	copy(model.ToLogits.Weight.Data, []float32{1, 0, 0, 1})
	copy(model.ToLogits.Bias.Data, []float32{0, 0})

	// Token 0 favors class 0, token 1 favors class 1
	copy(model.TokEmb.Data[0:2], []float32{5, -5})
	copy(model.TokEmb.Data[2:4], []float32{-3, 3})

	preds, err := model.Predict([][]int{{0, 0}, {1, 1}})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	if len(preds) != 2 {
		t.Fatalf("Expected 2 predictions, got %d", len(preds))
	}
	if preds[0] != 0 {
		t.Errorf("Expected prediction 0 for first example, got %d", preds[0])
	}
	if preds[1] != 1 {
		t.Errorf("Expected prediction 1 for second example, got %d", preds[1])
	}
}

// TestClassifier_DropoutModes tests that training mode injects noise and
// inference mode stays deterministic.
func TestClassifier_DropoutModes(t *testing.T) {
	config := smallConfig()
	config.Dropout = 0.5
	model, err := NewClassifier(config)
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	ids := [][]int{{1, 2, 3, 4, 5, 6, 7, 8}}

	model.SetTraining(true)
	first, err := model.Forward(ids)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	second, err := model.Forward(ids)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if first.Equals(second, 0) {
		t.Error("Training-mode forwards should differ under dropout")
	}

	model.SetTraining(false)
	third, err := model.Forward(ids)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	fourth, err := model.Forward(ids)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !third.Equals(fourth, 0) {
		t.Error("Inference-mode forwards should be identical regardless of dropout rate")
	}
}

// TestClassifier_EndToEnd runs a production-sized forward pass.
func TestClassifier_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full-size forward pass in short mode")
	}

	config := Config{
		NumTokens:    30000,
		MaxSeqLen:    100,
		EmbeddingDim: 100,
		NumHeads:     8,
		Depth:        4,
		NumClasses:   2,
		MLPFactor:    4,
		Seed:         42,
	}
	model, err := NewClassifier(config)
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	batchSize, seqLen := 32, 100
	ids := make([][]int, batchSize)
	for i := range ids {
		row := make([]int, seqLen)
		for j := range row {
			row[j] = (i*7919 + j*104729) % config.NumTokens
		}
		ids[i] = row
	}

	logits, err := model.Forward(ids)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if !shapeEquals(logits.Shape, []int{batchSize, config.NumClasses}) {
		t.Fatalf("Expected logits shape [%d %d], got %v", batchSize, config.NumClasses, logits.Shape)
	}
	assertFinite(t, logits.Data)
}

// TestTransformerBlock_ZeroWeightComponents wires the real feed-forward and
// layer norms into a block whose weights are all zero. Zero attention and
// zero feed-forward leave only the residual path, so the block must reduce
// to Norm2(Norm1(x)) exactly.
func TestTransformerBlock_ZeroWeightComponents(t *testing.T) {
	embDim := 4
	attn := attention.NewSelfAttention(embDim, 2)
	ff := NewFeedForward(embDim, 16)
	norm1 := NewLayerNorm(embDim, 1e-5)
	norm2 := NewLayerNorm(embDim, 1e-5)
	block := attention.NewTransformerBlock(attn, ff, norm1, norm2, 0.0)

	x := tensor.NewTensor([]int{2, 3, embDim})
	for i := range x.Data {
		x.Data[i] = float32(i%7) - 3
	}

	out, err := block.Forward(x, false)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	n1, err := norm1.Forward(x)
	if err != nil {
		t.Fatalf("Norm1 failed: %v", err)
	}
	expected, err := norm2.Forward(n1)
	if err != nil {
		t.Fatalf("Norm2 failed: %v", err)
	}

	if !out.Equals(expected, 0) {
		t.Error("Zero-weight block should reduce to Norm2(Norm1(x))")
	}
}

// TestClassifier_NumParameters checks the parameter count arithmetic.
func TestClassifier_NumParameters(t *testing.T) {
	config := Config{
		NumTokens:    10,
		MaxSeqLen:    8,
		EmbeddingDim: 4,
		NumHeads:     2,
		Depth:        1,
		NumClasses:   2,
		MLPFactor:    4,
		Seed:         1,
	}
	model, err := NewClassifier(config)
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	k, h := config.EmbeddingDim, config.NumHeads
	hidden := config.HiddenDim()
	want := config.NumTokens*k + config.MaxSeqLen*k // embeddings
	want += 3*k*(k*h) + (h*k)*k + k                 // attention projections + unify bias
	want += k*hidden + hidden + hidden*k + k        // feed-forward
	want += 2 * 2 * k                               // two norms, scale and shift each
	want += k*config.NumClasses + config.NumClasses // output head

	if got := model.NumParameters(); got != want {
		t.Errorf("NumParameters() = %d, expected %d", got, want)
	}
}

// TestDefaultConfig validates the default configuration.
func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.NumTokens != 50000 {
		t.Errorf("NumTokens = %d, expected 50000", config.NumTokens)
	}
	if config.MaxSeqLen != 512 {
		t.Errorf("MaxSeqLen = %d, expected 512", config.MaxSeqLen)
	}
	if config.EmbeddingDim != 128 {
		t.Errorf("EmbeddingDim = %d, expected 128", config.EmbeddingDim)
	}
	if config.NumHeads != 8 {
		t.Errorf("NumHeads = %d, expected 8", config.NumHeads)
	}
	if config.Depth != 6 {
		t.Errorf("Depth = %d, expected 6", config.Depth)
	}
	if config.NumClasses != 2 {
		t.Errorf("NumClasses = %d, expected 2", config.NumClasses)
	}
	if config.MLPFactor != 4 {
		t.Errorf("MLPFactor = %d, expected 4", config.MLPFactor)
	}
	if config.Dropout != 0 {
		t.Errorf("Dropout = %v, expected 0", config.Dropout)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Default config failed validation: %v", err)
	}
}

// TestConfigValidation tests config validation.
func TestConfigValidation(t *testing.T) {
	valid := smallConfig()

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{
			// Full-width heads never require the head count to divide the
			// embedding dimension
			name:    "heads not dividing embedding dim",
			mutate:  func(c *Config) { c.EmbeddingDim = 100; c.NumHeads = 8 },
			wantErr: false,
		},
		{"more heads than dims", func(c *Config) { c.EmbeddingDim = 6; c.NumHeads = 8 }, false},
		{"zero depth", func(c *Config) { c.Depth = 0 }, false},
		{"zero vocabulary", func(c *Config) { c.NumTokens = 0 }, true},
		{"zero max sequence length", func(c *Config) { c.MaxSeqLen = 0 }, true},
		{"zero embedding dim", func(c *Config) { c.EmbeddingDim = 0 }, true},
		{"zero heads", func(c *Config) { c.NumHeads = 0 }, true},
		{"negative depth", func(c *Config) { c.Depth = -1 }, true},
		{"single class", func(c *Config) { c.NumClasses = 1 }, true},
		{"zero mlp factor", func(c *Config) { c.MLPFactor = 0 }, true},
		{"dropout of one", func(c *Config) { c.Dropout = 1.0 }, true},
		{"negative dropout", func(c *Config) { c.Dropout = -0.1 }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := valid
			tc.mutate(&config)

			err := config.Validate()
			if tc.wantErr && err == nil {
				t.Error("Expected error, got none")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

// TestConfigHiddenDim tests the feed-forward width helper.
func TestConfigHiddenDim(t *testing.T) {
	config := Config{EmbeddingDim: 128, MLPFactor: 4}

	if got := config.HiddenDim(); got != 512 {
		t.Errorf("HiddenDim() = %d, expected 512", got)
	}
}

// BenchmarkClassifier_Forward benchmarks the forward pass.
func BenchmarkClassifier_Forward(b *testing.B) {
	config := Config{
		NumTokens:    1000,
		MaxSeqLen:    128,
		EmbeddingDim: 64,
		NumHeads:     8,
		Depth:        2,
		NumClasses:   2,
		MLPFactor:    4,
		Seed:         42,
	}
	model, err := NewClassifier(config)
	if err != nil {
		b.Fatal(err)
	}

	ids := make([][]int, 4)
	for i := range ids {
		row := make([]int, 32)
		for j := range row {
			row[j] = (i*32 + j) % config.NumTokens
		}
		ids[i] = row
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := model.Forward(ids); err != nil {
			b.Fatal(err)
		}
	}
}

// Helper functions

func shapeEquals(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func assertFinite(t *testing.T, data []float32) {
	t.Helper()
	for i, v := range data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("Non-finite value %f at index %d", v, i)
		}
	}
}
