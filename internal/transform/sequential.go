package transform

import (
	"fmt"

	"github.com/born-ml/deform/internal/grid"
	"github.com/born-ml/deform/internal/tensor"
)

// Sequential applies its members one after another:
//
//	y = T_n(... T_2(T_1(x)))
type Sequential struct {
	*composite
}

// NewSequential creates a sequential transform from members named by their
// index. Nil members are skipped. If g is nil, the grid of the first member is used.
func NewSequential(g *grid.Grid, transforms ...Transform) (*Sequential, error) {
	return NewSequentialNamed(g, positional(transforms)...)
}

// NewSequentialNamed creates a sequential transform from named members.
func NewSequentialNamed(g *grid.Grid, members ...Named) (*Sequential, error) {
	c, err := newComposite("NewSequential", g, members)
	if err != nil {
		return nil, err
	}
	return &Sequential{composite: c}, nil
}

// Forward maps points through every member in order. Only the first member
// sees the points on the grid. If all members are linear, their composed
// matrix is applied instead.
func (s *Sequential) Forward(points *tensor.Tensor, onGrid bool) (*tensor.Tensor, error) {
	if err := checkPoints("sequential", s.grid, points, onGrid); err != nil {
		return nil, err
	}
	if s.Len() == 0 {
		return points.Clone(), nil
	}
	if s.IsLinear() {
		mat, err := s.Matrix()
		if err != nil {
			return nil, err
		}
		return applyMatrices(mat, points)
	}
	y := points
	for i, name := range s.names {
		var err error
		y, err = s.byKey[name].Forward(y, onGrid && i == 0)
		if err != nil {
			return nil, fmt.Errorf("sequential: %q: %w", name, err)
		}
	}
	return y, nil
}

// Matrix returns M_n·...·M_2·M_1. An empty sequential transform yields the identity.
func (s *Sequential) Matrix() (*tensor.Tensor, error) {
	if !s.IsLinear() {
		return nil, ErrNotLinear
	}
	ms, err := s.matrices()
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return identityMatrix(1, s.grid.NDim()), nil
	}
	acc := ms[0]
	for _, m := range ms[1:] {
		if acc, err = composeMatrices(m, acc); err != nil {
			return nil, fmt.Errorf("sequential: %w", err)
		}
	}
	return acc, nil
}

// Tensor returns the matrix of a linear transform and the displacement field otherwise.
func (s *Sequential) Tensor() (*tensor.Tensor, error) {
	if s.IsLinear() {
		return s.Matrix()
	}
	return s.Disp(nil)
}

// Disp returns the displacement field on g.
func (s *Sequential) Disp(g *grid.Grid) (*tensor.Tensor, error) {
	return displacementField(s, g)
}

// Inverse returns the sequence of member inverses in reverse order. Member
// names are kept.
func (s *Sequential) Inverse(opts InverseOptions) (Transform, error) {
	members := make([]Named, 0, len(s.names))
	for i := len(s.names) - 1; i >= 0; i-- {
		name := s.names[i]
		inv, err := s.byKey[name].Inverse(opts)
		if err != nil {
			return nil, fmt.Errorf("sequential: inverse of %q: %w", name, err)
		}
		members = append(members, Named{Name: name, Transform: inv})
	}
	return NewSequentialNamed(s.grid, members...)
}
