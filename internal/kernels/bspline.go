// Package kernels provides cubic B-spline kernels and control point subdivision.
package kernels

import (
	"fmt"
	"math"
)

// Kernel is an immutable 1-D convolution kernel of odd length.
//
// Kernels are shared between every transform using the same stride and must
// never be modified; accessors therefore only hand out copies.
type Kernel struct {
	stride int
	values []float64
}

// Len returns the number of kernel taps.
func (k *Kernel) Len() int {
	return len(k.values)
}

// At returns the i-th kernel tap.
func (k *Kernel) At(i int) float64 {
	return k.values[i]
}

// Radius returns the index of the center tap.
func (k *Kernel) Radius() int {
	return len(k.values) / 2
}

// Stride returns the control point spacing the kernel was sampled for.
func (k *Kernel) Stride() int {
	return k.stride
}

// Values returns a copy of the kernel taps.
func (k *Kernel) Values() []float64 {
	return append([]float64(nil), k.values...)
}

// CubicBSplineValue evaluates the uniform cubic B-spline basis function at t.
func CubicBSplineValue(t float64) float64 {
	t = math.Abs(t)
	switch {
	case t < 1:
		return (4 - 6*t*t + 3*t*t*t) / 6
	case t < 2:
		d := 2 - t
		return d * d * d / 6
	default:
		return 0
	}
}

// CubicBSpline1D samples the cubic B-spline at 1/stride intervals.
//
// The kernel has 4*stride-1 taps covering the open support (-2, 2) of the
// basis function, with the center tap at t = 0.
func CubicBSpline1D(stride int) (*Kernel, error) {
	if stride < 1 {
		return nil, fmt.Errorf("kernels: stride must be positive, got %d", stride)
	}
	n := 4*stride - 1
	radius := n / 2
	values := make([]float64, n)
	for i := range values {
		values[i] = CubicBSplineValue(float64(i-radius) / float64(stride))
	}
	return &Kernel{stride: stride, values: values}, nil
}
