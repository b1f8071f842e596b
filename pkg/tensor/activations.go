package tensor

// ReLU applies the rectified linear unit activation function.
//
// The function is defined as:
//
//	ReLU(x) = max(0, x)
//
// It is the nonlinearity between the two feed-forward projections of a
// transformer block.
//
// Input: tensor of any shape
// Output: tensor of the same shape with ReLU applied element-wise
func (t *Tensor) ReLU() *Tensor {
	result := NewTensor(t.Shape)
	for i, v := range t.Data {
		if v > 0 {
			result.Data[i] = v
		}
	}
	return result
}

// ReLU is a standalone function that applies ReLU to a tensor.
// This is a convenience wrapper around the Tensor.ReLU method.
func ReLU(t *Tensor) *Tensor {
	return t.ReLU()
}
