// Package grid defines the sampling grid domain on which spatial transforms are defined.
//
// A Grid is a regular lattice of points with per-axis size and spacing, an
// orientation given by a direction cosine matrix and a center in world space.
// Point coordinates used by transforms are normalized "cube" coordinates in
// [-1, 1] along every axis. With AlignCorners the first and last grid point of
// an axis map to -1 and 1; otherwise the outer borders of the first and last
// voxel do.
//
// Sizes, spacings and point coordinates are ordered (x, y, z). Tensors store
// the fastest varying axis last, so Shape returns the sizes in (z, y, x) order.
package grid

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/deform/internal/tensor"
)

// DomainTolerance is the absolute tolerance used when comparing grid domains.
const DomainTolerance = 1e-6

// Grid is an immutable sampling grid.
type Grid struct {
	size         []int
	spacing      []float64
	center       []float64
	direction    *mat.Dense
	alignCorners bool
}

// Option configures a Grid created by New.
type Option func(*options)

type options struct {
	spacing      []float64
	center       []float64
	direction    mat.Matrix
	alignCorners bool
}

// WithSpacing sets the distance between grid points along each axis.
func WithSpacing(spacing ...float64) Option {
	return func(o *options) { o.spacing = spacing }
}

// WithCenter sets the world coordinates of the grid center.
func WithCenter(center ...float64) Option {
	return func(o *options) { o.center = center }
}

// WithDirection sets the direction cosine matrix whose columns are the grid axes.
func WithDirection(direction mat.Matrix) Option {
	return func(o *options) { o.direction = direction }
}

// WithAlignCorners sets whether cube coordinates -1 and 1 refer to the corner grid points.
// The default is true.
func WithAlignCorners(align bool) Option {
	return func(o *options) { o.alignCorners = align }
}

// New creates a grid with the given number of points along each axis in (x, y, z) order.
// Spacing defaults to 1, center to the origin and direction to the identity.
func New(size []int, opts ...Option) (*Grid, error) {
	o := options{alignCorners: true}
	for _, opt := range opts {
		opt(&o)
	}

	ndim := len(size)
	if ndim == 0 {
		return nil, fmt.Errorf("grid: size must have at least one dimension")
	}
	for i, n := range size {
		if n < 1 {
			return nil, fmt.Errorf("grid: invalid size %d along axis %d", n, i)
		}
	}

	spacing := o.spacing
	switch len(spacing) {
	case 0:
		spacing = make([]float64, ndim)
		for i := range spacing {
			spacing[i] = 1
		}
	case 1:
		spacing = repeat(spacing[0], ndim)
	case ndim:
		spacing = append([]float64(nil), spacing...)
	default:
		return nil, fmt.Errorf("grid: spacing must have 1 or %d values, got %d", ndim, len(spacing))
	}
	for i, s := range spacing {
		if s <= 0 {
			return nil, fmt.Errorf("grid: invalid spacing %g along axis %d", s, i)
		}
	}

	center := make([]float64, ndim)
	switch len(o.center) {
	case 0:
	case ndim:
		copy(center, o.center)
	default:
		return nil, fmt.Errorf("grid: center must have %d values, got %d", ndim, len(o.center))
	}

	direction := identity(ndim)
	if o.direction != nil {
		r, c := o.direction.Dims()
		if r != ndim || c != ndim {
			return nil, fmt.Errorf("grid: direction must be %dx%d, got %dx%d", ndim, ndim, r, c)
		}
		direction = mat.DenseCopyOf(o.direction)
		if mat.Det(direction) == 0 {
			return nil, fmt.Errorf("grid: direction matrix is singular")
		}
	}

	return &Grid{
		size:         append([]int(nil), size...),
		spacing:      spacing,
		center:       center,
		direction:    direction,
		alignCorners: o.alignCorners,
	}, nil
}

// MustNew is like New but panics on error.
func MustNew(size []int, opts ...Option) *Grid {
	g, err := New(size, opts...)
	if err != nil {
		panic(err)
	}
	return g
}

// NDim returns the number of spatial dimensions.
func (g *Grid) NDim() int {
	return len(g.size)
}

// Size returns the number of grid points along each axis in (x, y, z) order.
func (g *Grid) Size() []int {
	return append([]int(nil), g.size...)
}

// Shape returns the grid size in tensor order (z, y, x).
func (g *Grid) Shape() tensor.Shape {
	return tensor.Shape(g.size).Reversed()
}

// NumPoints returns the total number of grid points.
func (g *Grid) NumPoints() int {
	return tensor.Shape(g.size).NumElements()
}

// Spacing returns the grid spacing in (x, y, z) order.
func (g *Grid) Spacing() []float64 {
	return append([]float64(nil), g.spacing...)
}

// Center returns the world coordinates of the grid center.
func (g *Grid) Center() []float64 {
	return append([]float64(nil), g.center...)
}

// Direction returns a copy of the direction cosine matrix.
func (g *Grid) Direction() *mat.Dense {
	return mat.DenseCopyOf(g.direction)
}

// AlignCorners reports whether cube coordinates -1 and 1 refer to the corner grid points.
func (g *Grid) AlignCorners() bool {
	return g.alignCorners
}

// Realigned returns a copy of the grid with the given corner alignment.
func (g *Grid) Realigned(alignCorners bool) *Grid {
	c := g.clone()
	c.alignCorners = alignCorners
	return c
}

// CubeExtent returns the world-space side lengths of the cube spanned by
// cube coordinates [-1, 1].
func (g *Grid) CubeExtent() []float64 {
	ext := make([]float64, len(g.size))
	for i, n := range g.size {
		if g.alignCorners {
			ext[i] = g.spacing[i] * float64(n-1)
		} else {
			ext[i] = g.spacing[i] * float64(n)
		}
	}
	return ext
}

// SameDomainAs reports whether both grids cover the same region of world space,
// i.e., have the same center, direction and cube extent. The sampling
// resolution may differ.
func (g *Grid) SameDomainAs(other *Grid) bool {
	if g == other {
		return true
	}
	if other == nil || g.NDim() != other.NDim() {
		return false
	}
	if !floats.EqualApprox(g.center, other.center, DomainTolerance) {
		return false
	}
	if !mat.EqualApprox(g.direction, other.direction, DomainTolerance) {
		return false
	}
	return floats.EqualApprox(g.CubeExtent(), other.CubeExtent(), DomainTolerance)
}

// Equal reports whether both grids define the same domain with the same size and alignment.
func (g *Grid) Equal(other *Grid) bool {
	if g == other {
		return true
	}
	if other == nil || g.alignCorners != other.alignCorners {
		return false
	}
	if !tensor.Shape(g.size).Equal(other.size) {
		return false
	}
	return g.SameDomainAs(other)
}

// Subdivide returns a grid with 2n-1 points along the given axes, or all axes
// if none are given, covering the same domain. Only grids with AlignCorners
// keep their cube extent under subdivision.
func (g *Grid) Subdivide(axes ...int) (*Grid, error) {
	if len(axes) == 0 {
		axes = make([]int, g.NDim())
		for i := range axes {
			axes[i] = i
		}
	}
	c := g.clone()
	for _, axis := range axes {
		if axis < 0 || axis >= g.NDim() {
			return nil, fmt.Errorf("grid: subdivide axis %d out of range", axis)
		}
		c.size[axis] = 2*g.size[axis] - 1
		c.spacing[axis] = g.spacing[axis] / 2
	}
	return c, nil
}

// IndexToCube converts a (fractional) grid index along axis to a cube coordinate.
func (g *Grid) IndexToCube(axis int, index float64) float64 {
	return IndexToCube(index, g.size[axis], g.alignCorners)
}

// CubeToIndex converts a cube coordinate along axis to a fractional grid index.
func (g *Grid) CubeToIndex(axis int, coord float64) float64 {
	return CubeToIndex(coord, g.size[axis], g.alignCorners)
}

// IndexToCube converts a fractional index along an axis of size n to a cube coordinate.
func IndexToCube(index float64, n int, alignCorners bool) float64 {
	if alignCorners {
		if n < 2 {
			return 0
		}
		return 2*index/float64(n-1) - 1
	}
	return (2*index+1)/float64(n) - 1
}

// CubeToIndex converts a cube coordinate to a fractional index along an axis of size n.
func CubeToIndex(coord float64, n int, alignCorners bool) float64 {
	if alignCorners {
		return (coord + 1) / 2 * float64(n-1)
	}
	return ((coord+1)*float64(n) - 1) / 2
}

// Points returns the cube coordinates of all grid points as a tensor of shape
// (NumPoints, NDim). Points are ordered with the x index varying fastest.
func (g *Grid) Points() *tensor.Tensor {
	ndim := g.NDim()
	m := g.NumPoints()
	pts := tensor.Zeros(tensor.Shape{m, ndim})
	data := pts.Data()

	coords := make([][]float64, ndim)
	for d := range coords {
		coords[d] = make([]float64, g.size[d])
		for i := range coords[d] {
			coords[d][i] = g.IndexToCube(d, float64(i))
		}
	}

	idx := make([]int, ndim)
	for p := 0; p < m; p++ {
		for d := 0; d < ndim; d++ {
			data[p*ndim+d] = coords[d][idx[d]]
		}
		for d := 0; d < ndim; d++ {
			idx[d]++
			if idx[d] < g.size[d] {
				break
			}
			idx[d] = 0
		}
	}
	return pts
}

// CubeToWorld returns the homogeneous (D+1)x(D+1) matrix mapping cube
// coordinates to world coordinates.
func (g *Grid) CubeToWorld() *mat.Dense {
	ndim := g.NDim()
	ext := g.CubeExtent()
	scale := mat.NewDiagDense(ndim, nil)
	for i := range ext {
		// Single-point axes have zero cube extent; keep the map invertible.
		half := ext[i] / 2
		if half == 0 {
			half = g.spacing[i] / 2
		}
		scale.SetDiag(i, half)
	}
	var lin mat.Dense
	lin.Mul(g.direction, scale)

	m := mat.NewDense(ndim+1, ndim+1, nil)
	for r := 0; r < ndim; r++ {
		for c := 0; c < ndim; c++ {
			m.Set(r, c, lin.At(r, c))
		}
		m.Set(r, ndim, g.center[r])
	}
	m.Set(ndim, ndim, 1)
	return m
}

// WorldToCube returns the homogeneous matrix mapping world coordinates to cube coordinates.
func (g *Grid) WorldToCube() *mat.Dense {
	var inv mat.Dense
	if err := inv.Inverse(g.CubeToWorld()); err != nil {
		// Direction is validated to be non-singular and spacings are positive.
		panic(fmt.Sprintf("grid: cube to world matrix not invertible: %v", err))
	}
	return &inv
}

// TransformPoints maps points given in cube coordinates of grid from to cube
// coordinates of grid to. The last dimension of points must equal the number
// of spatial dimensions. The result has the same shape as points.
func TransformPoints(points *tensor.Tensor, from, to *Grid) *tensor.Tensor {
	ndim := from.NDim()
	if to.NDim() != ndim || points.Dim(-1) != ndim {
		panic(fmt.Sprintf("grid: cannot map %v points from %dD to %dD grid", points.Shape(), ndim, to.NDim()))
	}
	var m mat.Dense
	m.Mul(to.WorldToCube(), from.CubeToWorld())

	out := tensor.ZerosLike(points)
	src := points.Data()
	dst := out.Data()
	for p := 0; p < len(src); p += ndim {
		for r := 0; r < ndim; r++ {
			v := m.At(r, ndim)
			for c := 0; c < ndim; c++ {
				v += m.At(r, c) * src[p+c]
			}
			dst[p+r] = v
		}
	}
	return out
}

// String returns a short description of the grid.
func (g *Grid) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Grid(size=%v, spacing=%v", g.size, g.spacing)
	if !g.alignCorners {
		sb.WriteString(", align_corners=false")
	}
	sb.WriteString(")")
	return sb.String()
}

func (g *Grid) clone() *Grid {
	return &Grid{
		size:         append([]int(nil), g.size...),
		spacing:      append([]float64(nil), g.spacing...),
		center:       append([]float64(nil), g.center...),
		direction:    mat.DenseCopyOf(g.direction),
		alignCorners: g.alignCorners,
	}
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func repeat(v float64, n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}
