package model

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/leox1v/dl20/pkg/model/attention"
	"github.com/leox1v/dl20/pkg/tensor"
)

// initializer fills parameter tensors from one seeded source, so two models
// built with the same Config hold bit-identical weights. Draw order is
// fixed by the construction order in NewClassifier.
type initializer struct {
	src    rand.Source
	normal distuv.Normal
}

func newInitializer(seed uint64) *initializer {
	src := rand.NewSource(seed)
	return &initializer{
		src:    src,
		normal: distuv.Normal{Mu: 0, Sigma: 0.02, Src: src},
	}
}

// fillNormal fills t with draws from N(0, 0.02). Used for the embedding
// tables, where small magnitudes keep the pre-norm activations tame.
func (in *initializer) fillNormal(t *tensor.Tensor) {
	for i := range t.Data {
		t.Data[i] = float32(in.normal.Rand())
	}
}

// fillXavier fills t with Glorot-uniform draws in [-limit, limit], where
// limit = sqrt(6 / (fan_in + fan_out)). Used for projection matrices.
func (in *initializer) fillXavier(t *tensor.Tensor, fanIn, fanOut int) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	u := distuv.Uniform{Min: -limit, Max: limit, Src: in.src}
	for i := range t.Data {
		t.Data[i] = float32(u.Rand())
	}
}

// initLinear fills the weight matrix and leaves any bias at zero.
func (in *initializer) initLinear(l *Linear) {
	in.fillXavier(l.Weight, l.DIn, l.DOut)
}

// initAttention fills the four projection matrices and leaves the unify
// bias at zero.
func (in *initializer) initAttention(sa *attention.SelfAttention) {
	k, h := sa.EmbDim, sa.Heads
	in.fillXavier(sa.WQueries, k, k*h)
	in.fillXavier(sa.WKeys, k, k*h)
	in.fillXavier(sa.WValues, k, k*h)
	in.fillXavier(sa.WUnify, h*k, k)
}
