package tensor

import (
	"golang.org/x/exp/rand"
)

// dropoutRand drives the dropout mask. Seeded so training runs are
// reproducible; SetDropoutSeed resets the stream.
var dropoutRand = rand.New(rand.NewSource(1))

// SetDropoutSeed resets the dropout random stream (useful for testing and
// for reproducible training runs).
func SetDropoutSeed(seed uint64) {
	dropoutRand = rand.New(rand.NewSource(seed))
}

// Dropout randomly zeroes elements with probability p during training,
// scaling the survivors by 1/(1-p) so the expected activation is unchanged
// (inverted dropout). During inference (training=false) the input is
// returned as a copy, untouched.
func (t *Tensor) Dropout(p float32, training bool) *Tensor {
	if !training || p == 0 {
		return t.Clone()
	}
	if p < 0 || p >= 1 {
		panic("dropout probability must be in [0, 1)")
	}

	result := NewTensor(t.Shape)
	scale := float32(1.0 / (1.0 - p))
	for i, v := range t.Data {
		if dropoutRand.Float32() >= p {
			result.Data[i] = v * scale
		}
	}
	return result
}
