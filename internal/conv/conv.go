// Package conv implements separable 1-D convolutions along tensor axes.
//
// Both the regular (strided correlation) and the transposed variant use zero
// padding and kernels of odd length centered on their middle tap. Applying the
// transposed variant with a cubic B-spline kernel upsamples control point
// coefficients to a dense field.
package conv

import (
	"fmt"

	"github.com/born-ml/deform/internal/parallel"
	"github.com/born-ml/deform/internal/tensor"
)

// Kernel is a read-only 1-D convolution kernel.
type Kernel interface {
	Len() int
	At(i int) float64
}

// Config controls how lines of a tensor are distributed across goroutines.
var Config = parallel.DefaultConfig()

// Axis convolves x along axis with kernel using the given stride.
//
// Output length along axis: (n-1)/stride + 1
//
// Algorithm:
//
//	out[j] = sum_k x[j*stride + k - r] * kernel[k],  r = (len(kernel)-1)/2
//
// Samples outside of x are zero.
func Axis(x *tensor.Tensor, axis int, kernel Kernel, stride int) *tensor.Tensor {
	axis, n, outer, inner := lineGeometry("conv", x, axis, kernel, stride)
	m := (n-1)/stride + 1
	r := (kernel.Len() - 1) / 2
	taps := values(kernel)

	shape := x.Shape().Clone()
	shape[axis] = m
	out := tensor.Zeros(shape)
	src := x.Data()
	dst := out.Data()

	parallel.Lines(outer, inner, func(o, i int) {
		in := o*n*inner + i
		res := o*m*inner + i
		for j := 0; j < m; j++ {
			sum := 0.0
			for k, w := range taps {
				p := j*stride + k - r
				if p < 0 || p >= n {
					continue
				}
				sum += src[in+p*inner] * w
			}
			dst[res+j*inner] = sum
		}
	}, Config)

	return out
}

// TransposedAxis applies the transposed (adjoint) convolution of Axis along axis.
//
// Output length along axis: (n-1)*stride + 1
//
// Algorithm:
//
//	out[i*stride + k - r] += x[i] * kernel[k],  r = (len(kernel)-1)/2
//
// Contributions falling outside of the output are dropped.
func TransposedAxis(x *tensor.Tensor, axis int, kernel Kernel, stride int) *tensor.Tensor {
	axis, n, outer, inner := lineGeometry("conv transpose", x, axis, kernel, stride)
	m := (n-1)*stride + 1
	r := (kernel.Len() - 1) / 2
	taps := values(kernel)

	shape := x.Shape().Clone()
	shape[axis] = m
	out := tensor.Zeros(shape)
	src := x.Data()
	dst := out.Data()

	parallel.Lines(outer, inner, func(o, i int) {
		in := o*n*inner + i
		res := o*m*inner + i
		for c := 0; c < n; c++ {
			v := src[in+c*inner]
			if v == 0 {
				continue
			}
			base := c*stride - r
			for k, w := range taps {
				p := base + k
				if p < 0 || p >= m {
					continue
				}
				dst[res+p*inner] += v * w
			}
		}
	}, Config)

	return out
}

// Separable applies a 1-D (transposed) convolution along each of the last
// len(kernels) dimensions of x. kernels[i] and strides[i] refer to dimension
// x.NDim()-len(kernels)+i.
func Separable(x *tensor.Tensor, kernels []Kernel, strides []int, transpose bool) *tensor.Tensor {
	if len(kernels) != len(strides) {
		panic(fmt.Sprintf("conv: got %d kernels but %d strides", len(kernels), len(strides)))
	}
	first := x.NDim() - len(kernels)
	if first < 0 {
		panic(fmt.Sprintf("conv: %d kernels for %dD tensor", len(kernels), x.NDim()))
	}
	out := x
	for i, k := range kernels {
		if transpose {
			out = TransposedAxis(out, first+i, k, strides[i])
		} else {
			out = Axis(out, first+i, k, strides[i])
		}
	}
	return out
}

func lineGeometry(op string, x *tensor.Tensor, axis int, kernel Kernel, stride int) (int, int, int, int) {
	if axis < 0 {
		axis += x.NDim()
	}
	if axis < 0 || axis >= x.NDim() {
		panic(fmt.Sprintf("%s: axis %d out of range for %dD tensor", op, axis, x.NDim()))
	}
	if stride < 1 {
		panic(fmt.Sprintf("%s: stride must be positive, got %d", op, stride))
	}
	if kernel.Len()%2 != 1 {
		panic(fmt.Sprintf("%s: kernel length must be odd, got %d", op, kernel.Len()))
	}
	shape := x.Shape()
	outer := tensor.Shape(shape[:axis]).NumElements()
	inner := tensor.Shape(shape[axis+1:]).NumElements()
	return axis, shape[axis], outer, inner
}

func values(k Kernel) []float64 {
	taps := make([]float64, k.Len())
	for i := range taps {
		taps[i] = k.At(i)
	}
	return taps
}
