package transform

import (
	"fmt"

	"github.com/born-ml/deform/internal/grid"
	"github.com/born-ml/deform/internal/tensor"
)

// MultiLevel sums the displacements of its members, each evaluated at the
// original point:
//
//	y = x + Σ (T_i(x) - x)
//
// Typically each member is defined at a different control point resolution.
type MultiLevel struct {
	*composite
}

// NewMultiLevel creates a multi-level transform from members named by their
// index. Nil members are skipped. If g is nil, the grid of the first member is used.
func NewMultiLevel(g *grid.Grid, transforms ...Transform) (*MultiLevel, error) {
	return NewMultiLevelNamed(g, positional(transforms)...)
}

// NewMultiLevelNamed creates a multi-level transform from named members.
func NewMultiLevelNamed(g *grid.Grid, members ...Named) (*MultiLevel, error) {
	c, err := newComposite("NewMultiLevel", g, members)
	if err != nil {
		return nil, err
	}
	return &MultiLevel{composite: c}, nil
}

// Forward maps points by the sum of member displacements. If all members
// are linear, the equivalent matrix is applied instead.
func (m *MultiLevel) Forward(points *tensor.Tensor, onGrid bool) (*tensor.Tensor, error) {
	if err := checkPoints("multilevel", m.grid, points, onGrid); err != nil {
		return nil, err
	}
	if m.Len() == 0 {
		return points.Clone(), nil
	}
	if m.IsLinear() {
		mat, err := m.Matrix()
		if err != nil {
			return nil, err
		}
		return applyMatrices(mat, points)
	}
	var u *tensor.Tensor
	for _, name := range m.names {
		y, err := m.byKey[name].Forward(points, onGrid)
		if err != nil {
			return nil, fmt.Errorf("multilevel: %q: %w", name, err)
		}
		d := tensor.Sub(y, points)
		if u == nil {
			u = d
			continue
		}
		if err := checkBatch("multilevel", u.Dim(0), d.Dim(0)); err != nil {
			return nil, err
		}
		u = tensor.Add(u, d)
	}
	return tensor.Add(points, u), nil
}

// Matrix returns I + Σ (M_i - I), whose displacement is the sum of the member
// displacements. An empty multi-level transform yields the identity.
func (m *MultiLevel) Matrix() (*tensor.Tensor, error) {
	if !m.IsLinear() {
		return nil, ErrNotLinear
	}
	ms, err := m.matrices()
	if err != nil {
		return nil, err
	}
	return sumDisplacementMatrices(m.grid.NDim(), ms)
}

// Tensor returns the matrix of a linear transform and the displacement field otherwise.
func (m *MultiLevel) Tensor() (*tensor.Tensor, error) {
	if m.IsLinear() {
		return m.Matrix()
	}
	return m.Disp(nil)
}

// Disp returns the displacement field on g.
func (m *MultiLevel) Disp(g *grid.Grid) (*tensor.Tensor, error) {
	return displacementField(m, g)
}

// Inverse returns ErrUnsupported; a sum of displacements has no closed-form inverse.
func (m *MultiLevel) Inverse(InverseOptions) (Transform, error) {
	return nil, fmt.Errorf("%w: inverse of multi-level transform", ErrUnsupported)
}
