// Package tensor provides the dense float64 tensor used by grids, kernels and transforms.
package tensor

import (
	"fmt"
)

// Tensor is a dense row-major array of float64 values.
//
// Tensors created by Reshape share their storage with the source tensor.
// All other operations allocate new storage unless their name ends in InPlace.
type Tensor struct {
	shape  Shape     // Tensor dimensions
	stride []int     // Memory strides (row-major)
	data   []float64 // Backing storage, len == shape.NumElements()
}

// New creates a zero-initialized tensor with the given shape.
func New(shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &Tensor{
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		data:   make([]float64, shape.NumElements()),
	}, nil
}

// Zeros creates a zero-initialized tensor and panics if the shape is invalid.
func Zeros(shape Shape) *Tensor {
	t, err := New(shape)
	if err != nil {
		panic(fmt.Sprintf("zeros: %v", err))
	}
	return t
}

// Full creates a tensor with every element set to value.
func Full(shape Shape, value float64) *Tensor {
	t := Zeros(shape)
	t.Fill(value)
	return t
}

// ZerosLike creates a zero tensor with the shape of t.
func ZerosLike(t *Tensor) *Tensor {
	return Zeros(t.shape)
}

// FromSlice creates a tensor holding a copy of data.
func FromSlice(data []float64, shape Shape) (*Tensor, error) {
	t, err := New(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != len(t.data) {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, len(t.data))
	}
	copy(t.data, data)
	return t, nil
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Strides returns the tensor's memory strides.
func (t *Tensor) Strides() []int {
	return t.stride
}

// NDim returns the number of dimensions.
func (t *Tensor) NDim() int {
	return len(t.shape)
}

// Dim returns the size of dimension i. Negative indices count from the end.
func (t *Tensor) Dim(i int) int {
	return t.shape[t.normDim(i)]
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return len(t.data)
}

// Data returns the backing storage.
// WARNING: Direct access to underlying memory; writes are visible to every view.
func (t *Tensor) Data() []float64 {
	return t.data
}

// Offset returns the linear storage index of a multi-dimensional index.
func (t *Tensor) Offset(idx ...int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("offset: expected %d indices, got %d", len(t.shape), len(idx)))
	}
	off := 0
	for i, k := range idx {
		if k < 0 || k >= t.shape[i] {
			panic(fmt.Sprintf("offset: index %d out of range [0, %d) at dimension %d", k, t.shape[i], i))
		}
		off += k * t.stride[i]
	}
	return off
}

// At returns the element at the given index.
func (t *Tensor) At(idx ...int) float64 {
	return t.data[t.Offset(idx...)]
}

// Set assigns the element at the given index.
func (t *Tensor) Set(value float64, idx ...int) {
	t.data[t.Offset(idx...)] = value
}

// Fill sets every element to value.
func (t *Tensor) Fill(value float64) {
	for i := range t.data {
		t.data[i] = value
	}
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.data))
	copy(data, t.data)
	return &Tensor{
		shape:  t.shape.Clone(),
		stride: append([]int(nil), t.stride...),
		data:   data,
	}
}

// CopyFrom overwrites the elements of t with those of src.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.shape.Equal(src.shape) {
		return fmt.Errorf("copy: shape mismatch %v vs %v", t.shape, src.shape)
	}
	copy(t.data, src.data)
	return nil
}

// Reshape returns a view with a new shape sharing the same storage.
// A single dimension may be -1, in which case it is inferred.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	newShape := Shape(shape).Clone()
	infer := -1
	known := 1
	for i, dim := range newShape {
		if dim == -1 {
			if infer >= 0 {
				panic("reshape: only one dimension can be inferred")
			}
			infer = i
			continue
		}
		known *= dim
	}
	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			panic(fmt.Sprintf("reshape: cannot infer dimension of %v for %d elements", shape, len(t.data)))
		}
		newShape[infer] = len(t.data) / known
	}
	if newShape.NumElements() != len(t.data) {
		panic(fmt.Sprintf("reshape: cannot reshape %v into %v", t.shape, newShape))
	}
	return &Tensor{
		shape:  newShape,
		stride: newShape.ComputeStrides(),
		data:   t.data,
	}
}

func (t *Tensor) normDim(dim int) int {
	if dim < 0 {
		dim += len(t.shape)
	}
	if dim < 0 || dim >= len(t.shape) {
		panic(fmt.Sprintf("dimension %d out of range for %dD tensor", dim, len(t.shape)))
	}
	return dim
}

// String returns a short description of the tensor.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v)", []int(t.shape))
}
