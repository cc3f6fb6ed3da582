package tensor

import (
	"fmt"
	"math"
)

// Add returns a + b with NumPy-style broadcasting.
func Add(a, b *Tensor) *Tensor {
	return binaryOp("add", a, b, func(x, y float64) float64 { return x + y })
}

// Sub returns a - b with NumPy-style broadcasting.
func Sub(a, b *Tensor) *Tensor {
	return binaryOp("sub", a, b, func(x, y float64) float64 { return x - y })
}

func binaryOp(name string, a, b *Tensor, f func(x, y float64) float64) *Tensor {
	shape, needsBroadcast, err := BroadcastShapes(a.shape, b.shape)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}
	out := Zeros(shape)
	if !needsBroadcast {
		for i := range out.data {
			out.data[i] = f(a.data[i], b.data[i])
		}
		return out
	}
	aa := a.BroadcastTo(shape)
	bb := b.BroadcastTo(shape)
	for i := range out.data {
		out.data[i] = f(aa.data[i], bb.data[i])
	}
	return out
}

// AddInPlace adds other to t, broadcasting other to the shape of t.
func (t *Tensor) AddInPlace(other *Tensor) {
	src := other
	if !other.shape.Equal(t.shape) {
		src = other.BroadcastTo(t.shape)
	}
	for i, v := range src.data {
		t.data[i] += v
	}
}

// MulScalar returns t * s.
func (t *Tensor) MulScalar(s float64) *Tensor {
	out := ZerosLike(t)
	for i, v := range t.data {
		out.data[i] = v * s
	}
	return out
}

// ScaleInPlace multiplies every element of t by s.
func (t *Tensor) ScaleInPlace(s float64) {
	for i := range t.data {
		t.data[i] *= s
	}
}

// BroadcastTo returns a tensor of the given shape whose elements are repeated
// copies of t along broadcast dimensions. If no broadcasting is needed, t itself is returned.
func (t *Tensor) BroadcastTo(shape Shape) *Tensor {
	if t.shape.Equal(shape) {
		return t
	}
	result, _, err := BroadcastShapes(t.shape, shape)
	if err != nil || !result.Equal(shape) {
		panic(fmt.Sprintf("broadcast: cannot broadcast %v to %v", t.shape, shape))
	}

	// Source strides aligned to the output, zero along broadcast dimensions.
	srcStride := make([]int, len(shape))
	lead := len(shape) - len(t.shape)
	for i := range t.shape {
		if t.shape[i] != 1 {
			srcStride[lead+i] = t.stride[i]
		}
	}

	out := Zeros(shape)
	idx := make([]int, len(shape))
	off := 0
	for i := range out.data {
		out.data[i] = t.data[off]
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			off += srcStride[d]
			if idx[d] < shape[d] {
				break
			}
			off -= idx[d] * srcStride[d]
			idx[d] = 0
		}
	}
	return out
}

// Narrow returns a copy of the elements in [start, start+length) along dim.
func (t *Tensor) Narrow(dim, start, length int) *Tensor {
	dim = t.normDim(dim)
	n := t.shape[dim]
	if start < 0 || length < 1 || start+length > n {
		panic(fmt.Sprintf("narrow: range [%d, %d) out of bounds for dimension %d of size %d", start, start+length, dim, n))
	}
	outer := Shape(t.shape[:dim]).NumElements()
	inner := Shape(t.shape[dim+1:]).NumElements()

	shape := t.shape.Clone()
	shape[dim] = length
	out := Zeros(shape)
	for o := 0; o < outer; o++ {
		src := t.data[(o*n+start)*inner : (o*n+start+length)*inner]
		copy(out.data[o*length*inner:(o+1)*length*inner], src)
	}
	return out
}

// Permute returns a copy of t with dimensions reordered such that
// dimension i of the result is dimension perm[i] of t.
func (t *Tensor) Permute(perm ...int) *Tensor {
	if len(perm) != len(t.shape) {
		panic(fmt.Sprintf("permute: expected %d dimensions, got %d", len(t.shape), len(perm)))
	}
	seen := make([]bool, len(perm))
	shape := make(Shape, len(perm))
	srcStride := make([]int, len(perm))
	for i, p := range perm {
		p = t.normDim(p)
		if seen[p] {
			panic(fmt.Sprintf("permute: repeated dimension %d", p))
		}
		seen[p] = true
		shape[i] = t.shape[p]
		srcStride[i] = t.stride[p]
	}

	out := Zeros(shape)
	idx := make([]int, len(shape))
	off := 0
	for i := range out.data {
		out.data[i] = t.data[off]
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			off += srcStride[d]
			if idx[d] < shape[d] {
				break
			}
			off -= idx[d] * srcStride[d]
			idx[d] = 0
		}
	}
	return out
}

// MoveDim returns a copy of t with dimension src moved to position dst.
func (t *Tensor) MoveDim(src, dst int) *Tensor {
	src = t.normDim(src)
	dst = t.normDim(dst)
	perm := make([]int, 0, len(t.shape))
	for i := range t.shape {
		if i != src {
			perm = append(perm, i)
		}
	}
	perm = append(perm[:dst], append([]int{src}, perm[dst:]...)...)
	return t.Permute(perm...)
}

// MaxAbs returns the largest absolute element value.
func (t *Tensor) MaxAbs() float64 {
	m := 0.0
	for _, v := range t.data {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

// MaxAbsDiff returns the largest absolute element-wise difference between a and b.
func MaxAbsDiff(a, b *Tensor) (float64, error) {
	if !a.shape.Equal(b.shape) {
		return 0, fmt.Errorf("shape mismatch %v vs %v", a.shape, b.shape)
	}
	m := 0.0
	for i := range a.data {
		m = math.Max(m, math.Abs(a.data[i]-b.data[i]))
	}
	return m, nil
}

// AllClose reports whether a and b have the same shape and all elements differ by at most tol.
func AllClose(a, b *Tensor, tol float64) bool {
	d, err := MaxAbsDiff(a, b)
	return err == nil && d <= tol
}
