package kernels

import (
	"fmt"

	"github.com/born-ml/deform/internal/tensor"
)

// SubdivideCubicBSpline refines cubic B-spline coefficients along dim such that
// the control point spacing halves while the represented function is unchanged.
//
// Old control point i and new control point j refer to the same position when
// j = 2i-1. New coefficients at those positions use the vertex rule
// (1, 6, 1)/8 and the ones in between the edge rule (1, 1)/2. The result has
// length coefficients along dim, which must not exceed 2n-3 for n input
// coefficients.
func SubdivideCubicBSpline(data *tensor.Tensor, dim, length int) (*tensor.Tensor, error) {
	if dim < 0 {
		dim += data.NDim()
	}
	if dim < 0 || dim >= data.NDim() {
		return nil, fmt.Errorf("kernels: subdivide dimension %d out of range for %dD tensor", dim, data.NDim())
	}
	shape := data.Shape()
	n := shape[dim]
	if n < 3 {
		return nil, fmt.Errorf("kernels: need at least 3 control points to subdivide, got %d", n)
	}
	if length < 1 || length > 2*n-3 {
		return nil, fmt.Errorf("kernels: subdivided length %d out of range [1, %d]", length, 2*n-3)
	}

	outer := tensor.Shape(shape[:dim]).NumElements()
	inner := tensor.Shape(shape[dim+1:]).NumElements()

	outShape := shape.Clone()
	outShape[dim] = length
	out := tensor.Zeros(outShape)

	src := data.Data()
	dst := out.Data()
	for o := 0; o < outer; o++ {
		in := src[o*n*inner : (o+1)*n*inner]
		res := dst[o*length*inner : (o+1)*length*inner]
		for j := 0; j < length; j++ {
			row := res[j*inner : (j+1)*inner]
			if j%2 == 1 {
				i := (j + 1) / 2
				prev := in[(i-1)*inner : i*inner]
				cur := in[i*inner : (i+1)*inner]
				next := in[(i+1)*inner : (i+2)*inner]
				for k := range row {
					row[k] = (prev[k] + 6*cur[k] + next[k]) / 8
				}
			} else {
				i := j / 2
				cur := in[i*inner : (i+1)*inner]
				next := in[(i+1)*inner : (i+2)*inner]
				for k := range row {
					row[k] = (cur[k] + next[k]) / 2
				}
			}
		}
	}
	return out, nil
}
