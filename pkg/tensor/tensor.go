// Package tensor provides the dense float32 tensor operations backing the
// transformer sequence classifier: batched matrix products, numerically
// stable softmax, broadcast addition and axis reductions.
//
// Tensors are rectangular, row-major and CPU-resident. Every operation
// returns a freshly allocated result (View and Reshape are the documented
// exceptions and share storage), so a forward pass never mutates its inputs.
package tensor

import (
	"fmt"
	"math"
	"strings"
)

// Tensor is a multi-dimensional array of float32 values stored flat in
// row-major order, with precomputed strides for indexing.
type Tensor struct {
	Data    []float32
	Shape   []int
	Strides []int
}

// stridesFor computes row-major strides for a shape.
func stridesFor(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func sizeOf(shape []int) int {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}

func copyShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}

// NewTensor creates a tensor with the given shape, initialized to zeros.
func NewTensor(shape []int) *Tensor {
	return &Tensor{
		Data:    make([]float32, sizeOf(shape)),
		Shape:   copyShape(shape),
		Strides: stridesFor(shape),
	}
}

// FromSlice creates a tensor by copying data into the given shape.
// Returns an error if the data length doesn't match the shape.
func FromSlice(data []float32, shape []int) (*Tensor, error) {
	for _, dim := range shape {
		if dim < 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
	}
	if want := sizeOf(shape); len(data) != want {
		return nil, fmt.Errorf("data size %d does not match shape %v (expected %d elements)",
			len(data), shape, want)
	}

	dataCopy := make([]float32, len(data))
	copy(dataCopy, data)

	return &Tensor{
		Data:    dataCopy,
		Shape:   copyShape(shape),
		Strides: stridesFor(shape),
	}, nil
}

// NewTensorFromData creates a tensor by copying data into the given shape.
// It panics on a size mismatch; use FromSlice for caller-supplied data.
func NewTensorFromData(data []float32, shape []int) *Tensor {
	t, err := FromSlice(data, shape)
	if err != nil {
		panic(err)
	}
	return t
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return NewTensorFromData(t.Data, t.Shape)
}

// View returns a tensor with a different shape sharing the same underlying
// data. Returns an error if the total element count differs.
func (t *Tensor) View(newShape []int) (*Tensor, error) {
	for _, dim := range newShape {
		if dim < 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, newShape)
		}
	}
	if want := sizeOf(newShape); want != len(t.Data) {
		return nil, fmt.Errorf("cannot view tensor of size %d as shape %v (total size %d)",
			len(t.Data), newShape, want)
	}

	return &Tensor{
		Data:    t.Data,
		Shape:   copyShape(newShape),
		Strides: stridesFor(newShape),
	}, nil
}

// Reshape is View for shapes known to be compatible; it panics where View
// would error. Used for the head fold/unfold sequences whose shapes are
// correct by construction.
func (t *Tensor) Reshape(newShape []int) *Tensor {
	out, err := t.View(newShape)
	if err != nil {
		panic(err)
	}
	return out
}

// Transpose exchanges two dimensions, copying into a new contiguous tensor.
// Copying (rather than a stride trick) keeps every tensor row-major, so a
// Reshape is always valid immediately after.
func (t *Tensor) Transpose(dim1, dim2 int) (*Tensor, error) {
	if dim1 < 0 || dim1 >= len(t.Shape) || dim2 < 0 || dim2 >= len(t.Shape) {
		return nil, fmt.Errorf("invalid transpose dimensions %d and %d for tensor with %d dimensions",
			dim1, dim2, len(t.Shape))
	}
	if dim1 == dim2 {
		return t.Clone(), nil
	}

	newShape := copyShape(t.Shape)
	newShape[dim1], newShape[dim2] = newShape[dim2], newShape[dim1]
	result := NewTensor(newShape)

	// Walk the source in order, scattering each element to its swapped
	// destination index.
	idx := make([]int, len(t.Shape))
	for src := range t.Data {
		dst := 0
		for d := range idx {
			switch d {
			case dim1:
				dst += idx[d] * result.Strides[dim2]
			case dim2:
				dst += idx[d] * result.Strides[dim1]
			default:
				dst += idx[d] * result.Strides[d]
			}
		}
		result.Data[dst] = t.Data[src]

		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < t.Shape[d] {
				break
			}
			idx[d] = 0
		}
	}

	return result, nil
}

// SliceN copies the rectangular region [starts, ends) into a new tensor.
// Both bounds need one entry per dimension, with
// 0 <= starts[d] < ends[d] <= Shape[d].
func (t *Tensor) SliceN(starts, ends []int) (*Tensor, error) {
	if len(starts) != len(t.Shape) || len(ends) != len(t.Shape) {
		return nil, fmt.Errorf("slice bounds must have %d entries, got %d and %d",
			len(t.Shape), len(starts), len(ends))
	}

	outShape := make([]int, len(t.Shape))
	for d := range t.Shape {
		if starts[d] < 0 || ends[d] > t.Shape[d] || starts[d] >= ends[d] {
			return nil, fmt.Errorf("invalid slice range [%d, %d) for dimension %d with size %d",
				starts[d], ends[d], d, t.Shape[d])
		}
		outShape[d] = ends[d] - starts[d]
	}

	result := NewTensor(outShape)
	idx := make([]int, len(outShape))
	for flat := range result.Data {
		src := 0
		for d := range idx {
			src += (starts[d] + idx[d]) * t.Strides[d]
		}
		result.Data[flat] = t.Data[src]

		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < outShape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return result, nil
}

// Size returns the total number of elements in the tensor.
func (t *Tensor) Size() int {
	return sizeOf(t.Shape)
}

// NumDims returns the number of dimensions (rank) of the tensor.
func (t *Tensor) NumDims() int {
	return len(t.Shape)
}

// FlatIndex converts multi-dimensional indices to a flat offset.
// Panics on rank or bounds violations; callers validate shapes up front.
func (t *Tensor) FlatIndex(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("indices length %d does not match shape dimensions %d",
			len(indices), len(t.Shape)))
	}
	idx := 0
	for i := range indices {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d with size %d",
				indices[i], i, t.Shape[i]))
		}
		idx += indices[i] * t.Strides[i]
	}
	return idx
}

// Get retrieves the value at the specified indices.
func (t *Tensor) Get(indices []int) float32 {
	return t.Data[t.FlatIndex(indices)]
}

// Set stores a value at the specified indices.
func (t *Tensor) Set(indices []int, value float32) {
	t.Data[t.FlatIndex(indices)] = value
}

// ShapeEquals reports whether two tensors have identical shapes.
func (t *Tensor) ShapeEquals(other *Tensor) bool {
	if len(t.Shape) != len(other.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}

// Equals reports whether two tensors have the same shape and element-wise
// values within the given tolerance.
func (t *Tensor) Equals(other *Tensor, tolerance float32) bool {
	if !t.ShapeEquals(other) {
		return false
	}
	for i := range t.Data {
		if math.Abs(float64(t.Data[i]-other.Data[i])) > float64(tolerance) {
			return false
		}
	}
	return true
}

// Matmul multiplies over the last two dimensions.
// For shapes (..., m, n) and (..., n, p) the result is (..., m, p).
// A 2D operand paired with a 3D operand is broadcast across the batch;
// otherwise leading dimensions must match element for element.
func Matmul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) < 2 || len(b.Shape) < 2 {
		return nil, fmt.Errorf("matmul requires at least 2D tensors, got %dD and %dD",
			len(a.Shape), len(b.Shape))
	}

	n := a.Shape[len(a.Shape)-1]
	if inner := b.Shape[len(b.Shape)-2]; inner != n {
		return nil, fmt.Errorf("incompatible shapes for matmul: %v and %v (inner dimensions %d and %d don't match)",
			a.Shape, b.Shape, n, inner)
	}

	switch {
	case len(a.Shape) == 3 && len(b.Shape) == 2:
		return matmul3D2D(a, b)
	case len(a.Shape) == 2 && len(b.Shape) == 3:
		return matmul2D3D(a, b)
	default:
		return matmulBatched(a, b)
	}
}

// matmul3D2D computes (batch, m, n) @ (n, p) -> (batch, m, p).
// This is the projection case: a full sequence tensor against one weight
// matrix shared across the batch.
func matmul3D2D(a, b *Tensor) (*Tensor, error) {
	batch, m, n := a.Shape[0], a.Shape[1], a.Shape[2]
	p := b.Shape[1]

	result := NewTensor([]int{batch, m, p})
	for bi := 0; bi < batch; bi++ {
		for i := 0; i < m; i++ {
			row := a.Data[(bi*m+i)*n : (bi*m+i+1)*n]
			out := result.Data[(bi*m+i)*p : (bi*m+i+1)*p]
			for j, av := range row {
				if av == 0 {
					continue
				}
				wrow := b.Data[j*p : (j+1)*p]
				for k := range out {
					out[k] += av * wrow[k]
				}
			}
		}
	}
	return result, nil
}

// matmul2D3D computes (m, n) @ (batch, n, p) -> (batch, m, p).
func matmul2D3D(a, b *Tensor) (*Tensor, error) {
	m, n := a.Shape[0], a.Shape[1]
	batch, p := b.Shape[0], b.Shape[2]

	result := NewTensor([]int{batch, m, p})
	for bi := 0; bi < batch; bi++ {
		for i := 0; i < m; i++ {
			out := result.Data[(bi*m+i)*p : (bi*m+i+1)*p]
			for j := 0; j < n; j++ {
				av := a.Data[i*n+j]
				if av == 0 {
					continue
				}
				brow := b.Data[(bi*n+j)*p : (bi*n+j+1)*p]
				for k := range out {
					out[k] += av * brow[k]
				}
			}
		}
	}
	return result, nil
}

// matmulBatched multiplies matched leading dimensions element for element,
// e.g. the per-head score and weighting products of shape (b*h, t, t).
func matmulBatched(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != len(b.Shape) {
		return nil, fmt.Errorf("incompatible shapes for matmul: %v and %v", a.Shape, b.Shape)
	}

	m := a.Shape[len(a.Shape)-2]
	n := a.Shape[len(a.Shape)-1]
	p := b.Shape[len(b.Shape)-1]

	batchDims := a.Shape[:len(a.Shape)-2]
	for i, dim := range batchDims {
		if b.Shape[i] != dim {
			return nil, fmt.Errorf("incompatible shapes for matmul: %v and %v", a.Shape, b.Shape)
		}
	}

	resultShape := append(copyShape(batchDims), m, p)
	result := NewTensor(resultShape)

	batchSize := sizeOf(batchDims)
	for batch := 0; batch < batchSize; batch++ {
		aOff := batch * m * n
		bOff := batch * n * p
		rOff := batch * m * p
		for i := 0; i < m; i++ {
			out := result.Data[rOff+i*p : rOff+(i+1)*p]
			for j := 0; j < n; j++ {
				av := a.Data[aOff+i*n+j]
				if av == 0 {
					continue
				}
				brow := b.Data[bOff+j*p : bOff+(j+1)*p]
				for k := range out {
					out[k] += av * brow[k]
				}
			}
		}
	}
	return result, nil
}

// Scale multiplies every element by a scalar, returning a new tensor.
func (t *Tensor) Scale(s float32) *Tensor {
	result := NewTensor(t.Shape)
	for i, v := range t.Data {
		result.Data[i] = v * s
	}
	return result
}

// Softmax normalizes along the given dimension into a probability
// distribution: non-negative entries summing to 1.
//
// The maximum of each slice is subtracted before exponentiating. This is a
// correctness requirement, not an optimization: raw attention scores grow
// with the embedding dimension and overflow exp otherwise.
func Softmax(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("invalid dimension %d for tensor with %d dimensions", dim, len(t.Shape))
	}

	dimSize := t.Shape[dim]
	inner := 1
	for i := dim + 1; i < len(t.Shape); i++ {
		inner *= t.Shape[i]
	}
	outer := len(t.Data) / (dimSize * inner)

	result := NewTensor(t.Shape)
	for o := 0; o < outer; o++ {
		for j := 0; j < inner; j++ {
			base := o*dimSize*inner + j

			maxVal := float32(math.Inf(-1))
			for i := 0; i < dimSize; i++ {
				if v := t.Data[base+i*inner]; v > maxVal {
					maxVal = v
				}
			}

			sum := float32(0)
			for i := 0; i < dimSize; i++ {
				e := float32(math.Exp(float64(t.Data[base+i*inner] - maxVal)))
				result.Data[base+i*inner] = e
				sum += e
			}

			for i := 0; i < dimSize; i++ {
				result.Data[base+i*inner] /= sum
			}
		}
	}
	return result, nil
}

// SoftmaxLast applies Softmax along the last dimension.
func SoftmaxLast(t *Tensor) *Tensor {
	result, err := Softmax(t, len(t.Shape)-1)
	if err != nil {
		panic(err)
	}
	return result
}

// Mean averages along the given dimension, which is removed from the result
// shape. Averaging dimension 1 of a (batch, seq, emb) tensor yields the
// (batch, emb) pooled representation.
func Mean(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("invalid dimension %d for tensor with %d dimensions", dim, len(t.Shape))
	}

	dimSize := t.Shape[dim]
	inner := 1
	for i := dim + 1; i < len(t.Shape); i++ {
		inner *= t.Shape[i]
	}
	outer := len(t.Data) / (dimSize * inner)

	outShape := make([]int, 0, len(t.Shape)-1)
	outShape = append(outShape, t.Shape[:dim]...)
	outShape = append(outShape, t.Shape[dim+1:]...)
	result := NewTensor(outShape)

	inv := 1.0 / float32(dimSize)
	for o := 0; o < outer; o++ {
		for j := 0; j < inner; j++ {
			sum := float32(0)
			base := o*dimSize*inner + j
			for i := 0; i < dimSize; i++ {
				sum += t.Data[base+i*inner]
			}
			result.Data[o*inner+j] = sum * inv
		}
	}
	return result, nil
}

// Add performs element-wise addition with right-aligned broadcasting:
// missing leading dimensions and size-1 dimensions repeat. Covers the
// residual adds (equal shapes) and bias adds ((..., d) + (d,)).
func Add(a, b *Tensor) (*Tensor, error) {
	shape, err := broadcastShape(a.Shape, b.Shape)
	if err != nil {
		return nil, fmt.Errorf("cannot broadcast shapes %v and %v: %w", a.Shape, b.Shape, err)
	}

	result := NewTensor(shape)
	idx := make([]int, len(shape))
	for flat := range result.Data {
		result.Data[flat] = a.Data[broadcastOffset(idx, a)] + b.Data[broadcastOffset(idx, b)]

		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return result, nil
}

// Mul performs element-wise multiplication with the same broadcasting rules
// as Add.
func Mul(a, b *Tensor) (*Tensor, error) {
	shape, err := broadcastShape(a.Shape, b.Shape)
	if err != nil {
		return nil, fmt.Errorf("cannot broadcast shapes %v and %v: %w", a.Shape, b.Shape, err)
	}

	result := NewTensor(shape)
	idx := make([]int, len(shape))
	for flat := range result.Data {
		result.Data[flat] = a.Data[broadcastOffset(idx, a)] * b.Data[broadcastOffset(idx, b)]

		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return result, nil
}

// broadcastShape computes the right-aligned broadcast of two shapes.
func broadcastShape(a, b []int) ([]int, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		da, db := 1, 1
		if i < len(a) {
			da = a[len(a)-1-i]
		}
		if i < len(b) {
			db = b[len(b)-1-i]
		}
		switch {
		case da == db, db == 1:
			out[n-1-i] = da
		case da == 1:
			out[n-1-i] = db
		default:
			return nil, fmt.Errorf("incompatible dimensions %d and %d", da, db)
		}
	}
	return out, nil
}

// broadcastOffset maps an output index to the flat offset inside t, reading
// position 0 along any dimension t broadcasts over.
func broadcastOffset(idx []int, t *Tensor) int {
	off := 0
	shift := len(idx) - len(t.Shape)
	for d := range t.Shape {
		i := idx[d+shift]
		if t.Shape[d] == 1 {
			i = 0
		}
		off += i * t.Strides[d]
	}
	return off
}

// String renders the shape and a truncated view of the data.
func (t *Tensor) String() string {
	var sb strings.Builder
	sb.WriteString("Tensor[")
	for i, dim := range t.Shape {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d", dim)
	}
	sb.WriteString("]: ")
	sb.WriteString(formatData(t.Shape, t.Data, 0))
	return sb.String()
}

func formatData(shape []int, data []float32, offset int) string {
	if len(shape) == 0 {
		return fmt.Sprintf("%g", data[offset])
	}

	var sb strings.Builder
	sb.WriteString("[")
	if len(shape) == 1 {
		for i := 0; i < shape[0] && i < 6; i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%g", data[offset+i])
		}
		if shape[0] > 6 {
			sb.WriteString(", ...")
		}
		sb.WriteString("]")
		return sb.String()
	}

	subSize := sizeOf(shape[1:])
	for i := 0; i < shape[0] && i < 3; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(formatData(shape[1:], data, offset+i*subSize))
	}
	if shape[0] > 3 {
		sb.WriteString(", ...")
	}
	sb.WriteString("]")
	return sb.String()
}
