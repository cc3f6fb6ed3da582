package transform

import (
	"fmt"

	"github.com/born-ml/deform/internal/conv"
	"github.com/born-ml/deform/internal/grid"
	"github.com/born-ml/deform/internal/kernels"
	"github.com/born-ml/deform/internal/tensor"
)

// DefaultStride is the control point spacing, in grid points, used when no stride is given.
const DefaultStride = 5

// Option configures a B-spline transform.
type Option func(*options)

type options struct {
	groups int
	params *tensor.Tensor
	gen    Generator
	stride []int
	scale  *float64
	steps  *int
	cache  *kernels.Cache
}

// WithGroups sets the number of independent transforms evaluated in parallel.
func WithGroups(n int) Option {
	return func(o *options) { o.groups = n }
}

// WithParams sets the initial control point coefficients of shape
// (G, D, ...DataShape()). The tensor is used by reference.
func WithParams(data *tensor.Tensor) Option {
	return func(o *options) { o.params = data }
}

// WithGenerator sets a function producing the coefficients on every Update.
func WithGenerator(g Generator) Option {
	return func(o *options) { o.gen = g }
}

// WithStride sets the control point spacing in grid points, either one value
// for all axes or one per axis in (x, y, z) order.
func WithStride(stride ...int) Option {
	return func(o *options) { o.stride = stride }
}

// WithScale sets the time scale of the velocity field integration.
func WithScale(scale float64) Option {
	return func(o *options) { o.scale = &scale }
}

// WithSteps sets the number of scaling and squaring steps.
func WithSteps(steps int) Option {
	return func(o *options) { o.steps = &steps }
}

// WithKernelCache sets the cache from which B-spline kernels are obtained.
// The process-wide cache is used by default.
func WithKernelCache(c *kernels.Cache) Option {
	return func(o *options) { o.cache = c }
}

// bspline holds the state shared by B-spline based transforms: control point
// coefficients, kernels, and the displacement field they evaluate to.
type bspline struct {
	grid    *grid.Grid
	groups  int
	stride  []int // tensor order (z, y, x)
	kernels []*kernels.Kernel
	params  params
	u       *tensor.Tensor // (G, D, ...grid.Shape())
}

func newBSpline(op string, g *grid.Grid, o *options) (*bspline, error) {
	if g == nil {
		return nil, configErrorf(op, "grid", "must not be nil")
	}
	if !g.AlignCorners() {
		return nil, configErrorf(op, "grid", "B-spline transforms require align_corners=true")
	}
	ndim := g.NDim()

	stride := o.stride
	switch len(stride) {
	case 0:
		stride = []int{DefaultStride}
		fallthrough
	case 1:
		s := make([]int, ndim)
		for i := range s {
			s[i] = stride[0]
		}
		stride = s
	case ndim:
		stride = append([]int(nil), stride...)
	default:
		return nil, configErrorf(op, "stride", "need 1 or %d values, got %d", ndim, len(stride))
	}
	for _, s := range stride {
		if s < 1 {
			return nil, configErrorf(op, "stride", "must be positive, got %v", o.stride)
		}
	}
	// Strides are given in (x, y, z) order but used in tensor order.
	stride = tensor.Shape(stride).Reversed()

	if o.params != nil && o.gen != nil {
		return nil, configErrorf(op, "params", "cannot use both fixed parameters and a generator")
	}
	groups := o.groups
	if groups < 0 {
		return nil, configErrorf(op, "groups", "must be positive, got %d", groups)
	}
	if o.params != nil {
		if o.params.NDim() < 1 {
			return nil, configErrorf(op, "params", "scalar parameters")
		}
		if groups == 0 {
			groups = o.params.Dim(0)
		} else if groups != o.params.Dim(0) {
			return nil, configErrorf(op, "groups", "%d groups but parameters for %d", groups, o.params.Dim(0))
		}
	}
	if groups == 0 {
		groups = 1
	}

	cache := o.cache
	if cache == nil {
		cache = kernels.Default()
	}
	ks, err := cache.RegisterAll(stride...)
	if err != nil {
		return nil, configErrorf(op, "stride", "%v", err)
	}

	b := &bspline{
		grid:    g,
		groups:  groups,
		stride:  stride,
		kernels: ks,
		params:  params{value: o.params, gen: o.gen},
	}
	if o.params != nil {
		if want := b.paramShape(); !o.params.Shape().Equal(want) {
			return nil, configErrorf(op, "params", "shape %v, expected %v", o.params.Shape(), want)
		}
	} else if o.gen == nil {
		b.params.value = tensor.Zeros(b.paramShape())
	}
	b.u = tensor.Zeros(b.fieldShape())
	return b, nil
}

// latticeSize returns the number of control points covering n grid points at
// the given stride, including one extra control point beyond either end.
func latticeSize(n, stride int) int {
	return (n-1+stride-1)/stride + 3
}

// DataShape returns the control point lattice size in tensor order (z, y, x).
func (b *bspline) DataShape() tensor.Shape {
	shape := b.grid.Shape()
	out := make(tensor.Shape, len(shape))
	for i, n := range shape {
		out[i] = latticeSize(n, b.stride[i])
	}
	return out
}

func (b *bspline) paramShape() tensor.Shape {
	return append(tensor.Shape{b.groups, b.grid.NDim()}, b.DataShape()...)
}

func (b *bspline) fieldShape() tensor.Shape {
	return append(tensor.Shape{b.groups, b.grid.NDim()}, b.grid.Shape()...)
}

// Grid returns the domain of the transform.
func (b *bspline) Grid() *grid.Grid { return b.grid }

// IsLinear returns false.
func (b *bspline) IsLinear() bool { return false }

// Groups returns the number of transforms evaluated in parallel.
func (b *bspline) Groups() int { return b.groups }

// Stride returns the control point spacing in (x, y, z) order.
func (b *bspline) Stride() []int {
	return tensor.Shape(b.stride).Reversed()
}

// Data returns the current control point coefficients.
// Fixed parameters are returned by reference.
func (b *bspline) Data() (*tensor.Tensor, error) {
	return b.params.current()
}

// SetParams copies data into the fixed control point coefficients.
func (b *bspline) SetParams(data *tensor.Tensor) error {
	p := &b.params
	for p.link != nil {
		p = p.link
	}
	if p.generated() {
		return fmt.Errorf("%w: coefficients are produced by a generator", ErrUnsupported)
	}
	return p.value.CopyFrom(data)
}

// SetCondition sets the input of the parameter generator.
func (b *bspline) SetCondition(c *tensor.Tensor) { b.params.cond = c }

// Evaluate returns the displacement field represented by the current
// control point coefficients, cropped to the grid.
func (b *bspline) Evaluate() (*tensor.Tensor, error) {
	if !b.grid.AlignCorners() {
		return nil, fmt.Errorf("%w: B-spline evaluation requires align_corners=true", ErrPrecondition)
	}
	data, err := b.params.current()
	if err != nil {
		return nil, err
	}
	want := b.paramShape()
	if s := data.Shape(); len(s) != len(want) || !s[1:].Equal(want[1:]) {
		return nil, fmt.Errorf("%w: coefficients of shape %v, expected %v", ErrPrecondition, s, want)
	}

	ks := make([]conv.Kernel, len(b.kernels))
	for i, k := range b.kernels {
		ks[i] = k
	}
	u := conv.Separable(data, ks, b.stride, true)
	for i, n := range b.grid.Shape() {
		u = u.Narrow(2+i, b.stride[i], n)
	}
	return u, nil
}

// SetGrid rebinds the transform to a grid covering the same domain. Fixed
// coefficients are refined by B-spline subdivision along every axis whose
// size changes. Generated coefficients are left to the generator.
func (b *bspline) SetGrid(g *grid.Grid) error {
	const op = "SetGrid"
	if g == nil {
		return configErrorf(op, "grid", "must not be nil")
	}
	root := &b.params
	for root.link != nil {
		root = root.link
	}
	if root.generated() {
		b.grid = g
		b.u = tensor.Zeros(b.fieldShape())
		return nil
	}
	if g.NDim() != b.grid.NDim() {
		return configErrorf(op, "grid", "%dD grid for %dD transform", g.NDim(), b.grid.NDim())
	}
	if !g.AlignCorners() {
		return configErrorf(op, "grid", "B-spline transforms require align_corners=true")
	}
	if !g.SameDomainAs(b.grid) {
		return configErrorf(op, "grid", "%v does not cover the domain of %v", g, b.grid)
	}

	oldShape := b.grid.Shape()
	newShape := g.Shape()
	for i := range newShape {
		if n := oldShape[i]; newShape[i] != n && newShape[i] != 2*n-1 {
			return configErrorf(op, "grid", "size %d along axis %d is neither %d nor %d",
				newShape[i], len(newShape)-1-i, n, 2*n-1)
		}
	}

	data := root.value
	for i := range newShape {
		if newShape[i] == oldShape[i] {
			continue
		}
		length := latticeSize(newShape[i], b.stride[i])
		refined, err := kernels.SubdivideCubicBSpline(data, 2+i, length)
		if err != nil {
			return configErrorf(op, "grid", "cannot refine coefficients from %d to %d grid points: %v", oldShape[i], newShape[i], err)
		}
		data = refined
	}
	b.params.value = data
	b.params.link = nil
	b.grid = g
	b.u = tensor.Zeros(b.fieldShape())
	return nil
}

// disp returns the displacement field on g. The field computed by the last
// Update is returned as a copy if g is nil or equals the transform grid.
func (b *bspline) disp(self Transform, g *grid.Grid) (*tensor.Tensor, error) {
	if g == nil || g.Equal(b.grid) {
		return b.u.Clone(), nil
	}
	return displacementField(self, g)
}

// Forward maps points by adding the displacement field. Points on the grid
// read the field directly, all others sample it by linear interpolation.
func (b *bspline) Forward(points *tensor.Tensor, onGrid bool) (*tensor.Tensor, error) {
	return displace("bspline", b.grid, b.u, points, onGrid)
}

// Tensor returns a copy of the displacement field of shape (G, D, ...spatial).
func (b *bspline) Tensor() (*tensor.Tensor, error) {
	return b.u.Clone(), nil
}

// Matrix returns ErrNotLinear.
func (b *bspline) Matrix() (*tensor.Tensor, error) {
	return nil, ErrNotLinear
}

// reset zeroes the shared coefficients. Derived buffers are replaced rather
// than cleared since an inverse copy may still refer to them.
func (b *bspline) reset() {
	b.params.reset()
	b.u = tensor.ZerosLike(b.u)
}
