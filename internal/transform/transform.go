// Package transform implements spatial coordinate transformations for image registration.
//
// Every transform maps points given in cube coordinates of its grid domain to
// points in the same space. The capability set shared by all transforms is the
// Transform interface: linear transforms additionally provide a homogeneous
// matrix, non-rigid transforms a dense displacement field. Composite
// transforms only branch on IsLinear, never on the concrete member type.
//
// Parametric transforms hold their parameters in tensors that are shared by
// reference with inverse copies created by Inverse. Changes to the parameters
// are therefore visible through both. Derived buffers (displacement and
// velocity fields) are owned by each copy once it calls Update.
//
// Transforms are not safe for concurrent mutation; callers must serialize
// Update, Reset and SetGrid calls on a shared instance.
package transform

import (
	"fmt"

	"github.com/born-ml/deform/internal/grid"
	"github.com/born-ml/deform/internal/tensor"
)

// Transform is a spatial transformation defined on a grid domain.
type Transform interface {
	// Grid returns the domain on which the transform is defined.
	Grid() *grid.Grid

	// IsLinear reports whether the transform is represented by a homogeneous matrix.
	IsLinear() bool

	// Forward maps points of shape (N, M, D) given in cube coordinates.
	// If onGrid is true, the points must be the grid points of Grid() in grid order.
	Forward(points *tensor.Tensor, onGrid bool) (*tensor.Tensor, error)

	// Matrix returns the homogeneous matrices (N, D, D+1) of a linear transform
	// and ErrNotLinear otherwise.
	Matrix() (*tensor.Tensor, error)

	// Tensor returns the matrices of a linear transform or the displacement
	// field (N, D, ...spatial) of a non-linear one.
	Tensor() (*tensor.Tensor, error)

	// Disp returns the displacement field sampled on g, or on Grid() if g is nil.
	// g must define the same domain as Grid() or be mapped to it through world space.
	Disp(g *grid.Grid) (*tensor.Tensor, error)

	// Update recomputes derived buffers from the current parameters.
	Update() error

	// Reset sets the parameters to the identity transform.
	Reset()

	// SetCondition sets the input passed to parameter generators on Update.
	SetCondition(c *tensor.Tensor)

	// Inverse returns the inverse transform sharing parameters with this one.
	Inverse(opts InverseOptions) (Transform, error)
}

// InverseOptions control how an inverse transform relates to its source.
type InverseOptions struct {
	// Link makes Update of the inverse read the parameters of the source
	// transform instead of invoking a parameter generator again.
	Link bool

	// UpdateBuffers computes the derived buffers of the inverse right away from
	// the buffers of the source. Otherwise Update must be called before use.
	UpdateBuffers bool
}

// displacementField samples t at the points of g and returns y - x as a
// tensor of shape (N, D, ...g.Shape()). Points of a grid on a different domain
// are mapped through world space before and after applying t.
func displacementField(t Transform, g *grid.Grid) (*tensor.Tensor, error) {
	own := t.Grid()
	if g == nil {
		g = own
	}
	if g.NDim() != own.NDim() {
		return nil, fmt.Errorf("displacement: grid has %d dimensions, transform %d", g.NDim(), own.NDim())
	}
	ndim := g.NDim()
	x := g.Points().Reshape(1, g.NumPoints(), ndim)

	var y *tensor.Tensor
	var err error
	if g.SameDomainAs(own) {
		y, err = t.Forward(x, g.Equal(own))
		if err != nil {
			return nil, err
		}
	} else {
		p := grid.TransformPoints(x, g, own)
		p, err = t.Forward(p, false)
		if err != nil {
			return nil, err
		}
		y = grid.TransformPoints(p, own, g)
	}

	u := tensor.Sub(y, x).MoveDim(2, 1)
	shape := append([]int{u.Dim(0), ndim}, g.Shape()...)
	return u.Reshape(shape...), nil
}

// checkPoints validates a point set against a grid.
func checkPoints(op string, g *grid.Grid, points *tensor.Tensor, onGrid bool) error {
	if points == nil {
		return fmt.Errorf("%s: points must not be nil", op)
	}
	s := points.Shape()
	if len(s) != 3 || s[2] != g.NDim() {
		return fmt.Errorf("%s: points must have shape (N, M, %d), got %v", op, g.NDim(), s)
	}
	if onGrid && s[1] != g.NumPoints() {
		return fmt.Errorf("%s: %d grid points expected, got %d", op, g.NumPoints(), s[1])
	}
	return nil
}

// checkBatch returns an error unless batch sizes a and b can be broadcast.
func checkBatch(op string, a, b int) error {
	if a != b && a != 1 && b != 1 {
		return fmt.Errorf("%s: batch sizes %d and %d are not compatible", op, a, b)
	}
	return nil
}
