package transform

import (
	"fmt"

	"github.com/born-ml/deform/internal/flow"
	"github.com/born-ml/deform/internal/grid"
	"github.com/born-ml/deform/internal/tensor"
)

// FreeFormDeformation is a non-rigid transform whose displacement field is a
// cubic B-spline function of a regular lattice of control points.
type FreeFormDeformation struct {
	*bspline
}

// NewFreeFormDeformation creates a free-form deformation on g.
//
// Without WithParams or WithGenerator the coefficients are initialized to
// zero, i.e., the identity transform. The displacement field is zero until
// Update is called.
func NewFreeFormDeformation(g *grid.Grid, opts ...Option) (*FreeFormDeformation, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	b, err := newBSpline("NewFreeFormDeformation", g, &o)
	if err != nil {
		return nil, err
	}
	return &FreeFormDeformation{bspline: b}, nil
}

// Update evaluates the B-spline at the grid points. The displacement field is
// left unchanged if evaluation fails.
func (f *FreeFormDeformation) Update() error {
	if err := f.params.update(f.paramShape()); err != nil {
		return fmt.Errorf("ffd: %w", err)
	}
	u, err := f.Evaluate()
	if err != nil {
		return fmt.Errorf("ffd: %w", err)
	}
	f.u = u
	return nil
}

// Reset zeroes fixed coefficients and the displacement field.
func (f *FreeFormDeformation) Reset() { f.reset() }

// Disp returns the displacement field on g.
func (f *FreeFormDeformation) Disp(g *grid.Grid) (*tensor.Tensor, error) {
	return f.disp(f, g)
}

// Inverse returns ErrUnsupported; free-form deformations are not invertible in closed form.
func (f *FreeFormDeformation) Inverse(InverseOptions) (Transform, error) {
	return nil, fmt.Errorf("%w: inverse of free-form deformation", ErrUnsupported)
}

// displace adds the displacement field u, defined on g, to points.
func displace(op string, g *grid.Grid, u, points *tensor.Tensor, onGrid bool) (*tensor.Tensor, error) {
	if err := checkPoints(op, g, points, onGrid); err != nil {
		return nil, err
	}
	if err := checkBatch(op, u.Dim(0), points.Dim(0)); err != nil {
		return nil, err
	}
	var d *tensor.Tensor
	if onGrid {
		// (N, D, ...spatial) in grid order is (N, D, M) with x varying fastest.
		d = u.Reshape(u.Dim(0), g.NDim(), g.NumPoints()).MoveDim(1, 2)
	} else {
		d = flow.Sample(u, points, g.AlignCorners())
	}
	return tensor.Add(points, d), nil
}
