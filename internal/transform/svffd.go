package transform

import (
	"fmt"

	"github.com/born-ml/deform/internal/flow"
	"github.com/born-ml/deform/internal/grid"
	"github.com/born-ml/deform/internal/tensor"
)

// StationaryVelocityFFD is a diffeomorphic transform given by the group
// exponential of a stationary velocity field. The velocity field is a cubic
// B-spline function of the control point coefficients and is integrated by
// scaling and squaring.
type StationaryVelocityFFD struct {
	*bspline
	v   *tensor.Tensor // velocity field, same shape as the displacement field
	exp flow.ExpFlow
}

// NewStationaryVelocityFFD creates a stationary velocity free-form deformation
// on g. WithScale and WithSteps configure the integration, defaulting to
// flow.DefaultScale and flow.DefaultSteps.
func NewStationaryVelocityFFD(g *grid.Grid, opts ...Option) (*StationaryVelocityFFD, error) {
	const op = "NewStationaryVelocityFFD"
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	b, err := newBSpline(op, g, &o)
	if err != nil {
		return nil, err
	}
	e, err := flow.NewExpFlow(o.scale, o.steps, g.AlignCorners())
	if err != nil {
		return nil, configErrorf(op, "exp", "%v", err)
	}
	return &StationaryVelocityFFD{
		bspline: b,
		v:       tensor.Zeros(b.fieldShape()),
		exp:     e,
	}, nil
}

// Scale returns the time scale of the integration. It is negative for inverse transforms.
func (s *StationaryVelocityFFD) Scale() float64 { return s.exp.Scale }

// Steps returns the number of scaling and squaring steps.
func (s *StationaryVelocityFFD) Steps() int { return s.exp.Steps }

// Velocity returns a copy of the velocity field computed by the last Update.
func (s *StationaryVelocityFFD) Velocity() *tensor.Tensor { return s.v.Clone() }

// Update evaluates the velocity field and integrates it. Both buffers are
// left unchanged if either step fails.
func (s *StationaryVelocityFFD) Update() error {
	if err := s.params.update(s.paramShape()); err != nil {
		return fmt.Errorf("svffd: %w", err)
	}
	v, err := s.Evaluate()
	if err != nil {
		return fmt.Errorf("svffd: %w", err)
	}
	s.u = s.exp.Integrate(v)
	s.v = v
	return nil
}

// Reset zeroes fixed coefficients and both fields.
func (s *StationaryVelocityFFD) Reset() {
	s.reset()
	s.v = tensor.ZerosLike(s.v)
}

// SetGrid rebinds the transform to a grid covering the same domain.
func (s *StationaryVelocityFFD) SetGrid(g *grid.Grid) error {
	if err := s.bspline.SetGrid(g); err != nil {
		return err
	}
	s.v = tensor.Zeros(s.fieldShape())
	return nil
}

// Disp returns the displacement field on g.
func (s *StationaryVelocityFFD) Disp(g *grid.Grid) (*tensor.Tensor, error) {
	return s.disp(s, g)
}

// Inverse returns the transform integrating the same velocity field backwards.
//
// The inverse shares the coefficients of s. With opts.Link its Update reads
// the coefficients s used last instead of calling a generator. With
// opts.UpdateBuffers its displacement field is computed from the current
// velocity field of s; otherwise Update must be called first.
func (s *StationaryVelocityFFD) Inverse(opts InverseOptions) (Transform, error) {
	b := *s.bspline
	if opts.Link {
		b.params.link = &s.params
	}
	inv := &StationaryVelocityFFD{
		bspline: &b,
		v:       s.v,
		exp:     s.exp.Inverse(),
	}
	if opts.UpdateBuffers {
		inv.u = inv.exp.Integrate(inv.v)
	}
	return inv, nil
}
