// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense float64 arrays used for points,
// displacement fields, matrices and B-spline coefficients.
//
// Tensors are row-major. Spatial dimensions of fields are stored in z, y, x
// order, while the last dimension of point sets holds x, y, z coordinates.
//
// Example:
//
//	x := tensor.Zeros(tensor.Shape{1, 2, 64, 64})
//	x.Set(0.5, 0, 0, 10, 10)
//	u := x.Narrow(2, 8, 48) // copy of rows 8..55
package tensor

import (
	"github.com/born-ml/deform/internal/tensor"
)

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// Tensor is a strided view over a float64 buffer.
type Tensor = tensor.Tensor

// Creation functions

// New creates a zero tensor, validating the shape.
func New(shape Shape) (*Tensor, error) {
	return tensor.New(shape)
}

// Zeros creates a tensor filled with zeros. It panics on an invalid shape.
func Zeros(shape Shape) *Tensor {
	return tensor.Zeros(shape)
}

// Full creates a tensor filled with value.
func Full(shape Shape, value float64) *Tensor {
	return tensor.Full(shape, value)
}

// ZerosLike creates a zero tensor with the shape of t.
func ZerosLike(t *Tensor) *Tensor {
	return tensor.ZerosLike(t)
}

// FromSlice creates a tensor holding a copy of data.
//
// Example:
//
//	m, err := tensor.FromSlice([]float64{1, 0, 0.5, 0, 1, 0}, tensor.Shape{1, 2, 3})
func FromSlice(data []float64, shape Shape) (*Tensor, error) {
	return tensor.FromSlice(data, shape)
}

// Element-wise functions

// Add returns a + b with broadcasting.
func Add(a, b *Tensor) *Tensor {
	return tensor.Add(a, b)
}

// Sub returns a - b with broadcasting.
func Sub(a, b *Tensor) *Tensor {
	return tensor.Sub(a, b)
}

// MaxAbsDiff returns the largest absolute element-wise difference.
func MaxAbsDiff(a, b *Tensor) (float64, error) {
	return tensor.MaxAbsDiff(a, b)
}

// AllClose reports whether a and b have equal shapes and differ by at most tol.
func AllClose(a, b *Tensor, tol float64) bool {
	return tensor.AllClose(a, b, tol)
}
