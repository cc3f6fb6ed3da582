package transform

import (
	"fmt"
	"math"

	"github.com/born-ml/deform/internal/grid"
	"github.com/born-ml/deform/internal/tensor"
)

// Homogeneous is a linear transform given by homogeneous matrices acting on
// cube coordinates, one per group.
//
// The matrix tensor is shared with inverse copies. An inverse copy inverts the
// shared matrices whenever it is evaluated, so later changes via SetMatrix are
// reflected by both.
type Homogeneous struct {
	grid   *grid.Grid
	matrix *tensor.Tensor // (G, D, D+1)
	invert bool
}

// NewHomogeneous creates a linear transform from matrices of shape
// (G, D, D+1), (G, D, D) or (G, D, 1). The matrices are copied.
func NewHomogeneous(g *grid.Grid, matrix *tensor.Tensor) (*Homogeneous, error) {
	const op = "NewHomogeneous"
	if g == nil {
		return nil, configErrorf(op, "grid", "must not be nil")
	}
	if matrix == nil {
		return nil, configErrorf(op, "matrix", "must not be nil")
	}
	m, err := asHomogeneous(matrix)
	if err != nil {
		return nil, configErrorf(op, "matrix", "%v", err)
	}
	if m.Dim(1) != g.NDim() {
		return nil, configErrorf(op, "matrix", "%dD matrix for %dD grid", m.Dim(1), g.NDim())
	}
	return &Homogeneous{grid: g, matrix: m}, nil
}

// NewIdentity creates groups identity transforms.
func NewIdentity(g *grid.Grid, groups int) (*Homogeneous, error) {
	if g == nil {
		return nil, configErrorf("NewIdentity", "grid", "must not be nil")
	}
	if groups < 1 {
		return nil, configErrorf("NewIdentity", "groups", "must be positive, got %d", groups)
	}
	return &Homogeneous{grid: g, matrix: identityMatrix(groups, g.NDim())}, nil
}

// NewTranslation creates a translation by offset in cube units, given in (x, y, z) order.
func NewTranslation(g *grid.Grid, offset ...float64) (*Homogeneous, error) {
	if g == nil {
		return nil, configErrorf("NewTranslation", "grid", "must not be nil")
	}
	if len(offset) != g.NDim() {
		return nil, configErrorf("NewTranslation", "offset", "need %d components, got %d", g.NDim(), len(offset))
	}
	m := identityMatrix(1, g.NDim())
	for i, v := range offset {
		m.Set(v, 0, i, g.NDim())
	}
	return &Homogeneous{grid: g, matrix: m}, nil
}

// NewScaling creates an anisotropic scaling about the grid center.
func NewScaling(g *grid.Grid, scale ...float64) (*Homogeneous, error) {
	if g == nil {
		return nil, configErrorf("NewScaling", "grid", "must not be nil")
	}
	if len(scale) != g.NDim() {
		return nil, configErrorf("NewScaling", "scale", "need %d components, got %d", g.NDim(), len(scale))
	}
	m := identityMatrix(1, g.NDim())
	for i, v := range scale {
		m.Set(v, 0, i, i)
	}
	return &Homogeneous{grid: g, matrix: m}, nil
}

// NewRotation creates a rotation about the grid center of a 2-D grid by
// angles[0], or of a 3-D grid by Euler angles (x, y, z) applied in that order.
// Angles are in radians and act on cube coordinates.
func NewRotation(g *grid.Grid, angles ...float64) (*Homogeneous, error) {
	const op = "NewRotation"
	if g == nil {
		return nil, configErrorf(op, "grid", "must not be nil")
	}
	m := identityMatrix(1, g.NDim())
	switch g.NDim() {
	case 2:
		if len(angles) != 1 {
			return nil, configErrorf(op, "angles", "2D rotation needs 1 angle, got %d", len(angles))
		}
		c, s := math.Cos(angles[0]), math.Sin(angles[0])
		m.Set(c, 0, 0, 0)
		m.Set(-s, 0, 0, 1)
		m.Set(s, 0, 1, 0)
		m.Set(c, 0, 1, 1)
	case 3:
		if len(angles) != 3 {
			return nil, configErrorf(op, "angles", "3D rotation needs 3 angles, got %d", len(angles))
		}
		for axis, angle := range angles {
			r := identityMatrix(1, 3)
			c, s := math.Cos(angle), math.Sin(angle)
			i, j := (axis+1)%3, (axis+2)%3
			r.Set(c, 0, i, i)
			r.Set(-s, 0, i, j)
			r.Set(s, 0, j, i)
			r.Set(c, 0, j, j)
			var err error
			if m, err = composeMatrices(r, m); err != nil {
				return nil, err
			}
		}
	default:
		return nil, configErrorf(op, "grid", "rotations need a 2D or 3D grid, got %dD", g.NDim())
	}
	return &Homogeneous{grid: g, matrix: m}, nil
}

// Grid returns the domain of the transform.
func (h *Homogeneous) Grid() *grid.Grid { return h.grid }

// IsLinear returns true.
func (h *Homogeneous) IsLinear() bool { return true }

// Groups returns the number of matrices.
func (h *Homogeneous) Groups() int { return h.matrix.Dim(0) }

// Matrix returns a copy of the homogeneous matrices of shape (G, D, D+1).
func (h *Homogeneous) Matrix() (*tensor.Tensor, error) {
	if h.invert {
		return invertMatrices(h.matrix)
	}
	return h.matrix.Clone(), nil
}

// Tensor returns the same as Matrix.
func (h *Homogeneous) Tensor() (*tensor.Tensor, error) { return h.Matrix() }

// SetMatrix copies m into the shared matrix tensor. For an inverse copy, m is
// the matrix of the inverse and the inverse of m is stored.
func (h *Homogeneous) SetMatrix(m *tensor.Tensor) error {
	hm, err := asHomogeneous(m)
	if err != nil {
		return fmt.Errorf("homogeneous: %w", err)
	}
	if !hm.Shape().Equal(h.matrix.Shape()) {
		return fmt.Errorf("homogeneous: matrix shape %v does not match %v", hm.Shape(), h.matrix.Shape())
	}
	if h.invert {
		if hm, err = invertMatrices(hm); err != nil {
			return err
		}
	}
	return h.matrix.CopyFrom(hm)
}

// Forward applies the matrices to points. onGrid is ignored.
func (h *Homogeneous) Forward(points *tensor.Tensor, onGrid bool) (*tensor.Tensor, error) {
	if err := checkPoints("homogeneous", h.grid, points, false); err != nil {
		return nil, err
	}
	m, err := h.Matrix()
	if err != nil {
		return nil, err
	}
	return applyMatrices(m, points)
}

// Disp returns the displacement field on g.
func (h *Homogeneous) Disp(g *grid.Grid) (*tensor.Tensor, error) {
	return displacementField(h, g)
}

// Update is a no-op; linear transforms have no derived buffers.
func (h *Homogeneous) Update() error { return nil }

// Reset sets all matrices to the identity.
func (h *Homogeneous) Reset() {
	// The identity is its own inverse.
	_ = h.matrix.CopyFrom(identityMatrix(h.matrix.Dim(0), h.matrix.Dim(1)))
}

// SetCondition is a no-op.
func (h *Homogeneous) SetCondition(*tensor.Tensor) {}

// Inverse returns a transform sharing the matrices of h that applies their inverse.
func (h *Homogeneous) Inverse(InverseOptions) (Transform, error) {
	inv := *h
	inv.invert = !h.invert
	if _, err := inv.Matrix(); err != nil {
		return nil, err
	}
	return &inv, nil
}
