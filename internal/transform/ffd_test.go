package transform

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/deform/internal/grid"
	"github.com/born-ml/deform/internal/kernels"
	"github.com/born-ml/deform/internal/tensor"
)

func randomTensor(shape tensor.Shape, amplitude float64, seed uint64) *tensor.Tensor {
	r := rand.New(rand.NewPCG(seed, 7))
	t := tensor.Zeros(shape)
	for i := range t.Data() {
		t.Data()[i] = amplitude * (2*r.Float64() - 1)
	}
	return t
}

func TestFFD_DataShape(t *testing.T) {
	g := grid.MustNew([]int{33, 17})
	f, err := NewFreeFormDeformation(g)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{7, 10}, f.DataShape())
	assert.Equal(t, []int{5, 5}, f.Stride())

	f, err = NewFreeFormDeformation(g, WithStride(4, 3), WithGroups(2))
	require.NoError(t, err)
	assert.Equal(t, []int{4, 3}, f.Stride())
	assert.Equal(t, tensor.Shape{9, 11}, f.DataShape())
	data, err := f.Data()
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2, 9, 11}, data.Shape())
}

func TestFFD_ZeroIsIdentity(t *testing.T) {
	g := grid.MustNew([]int{12, 9})
	f, err := NewFreeFormDeformation(g, WithStride(3))
	require.NoError(t, err)
	require.NoError(t, f.Update())

	u, err := f.Tensor()
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2, 9, 12}, u.Shape())
	assert.Zero(t, u.MaxAbs())

	x := g.Points().Reshape(1, g.NumPoints(), 2)
	y, err := f.Forward(x, true)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(x, y, 0))
}

func TestFFD_ReproducesLinearFunctions(t *testing.T) {
	const stride, slope = 5, 0.01
	g := grid.MustNew([]int{23, 11})
	f, err := NewFreeFormDeformation(g, WithStride(stride))
	require.NoError(t, err)

	// Control point i sits at grid index (i-1)*stride.
	data, err := f.Data()
	require.NoError(t, err)
	ly, lx := data.Dim(2), data.Dim(3)
	for j := 0; j < ly; j++ {
		for i := 0; i < lx; i++ {
			data.Set(slope*float64((i-1)*stride), 0, 0, j, i)
			data.Set(0.3, 0, 1, j, i)
		}
	}
	require.NoError(t, f.Update())

	u, err := f.Tensor()
	require.NoError(t, err)
	for j := 0; j < 11; j++ {
		for i := 0; i < 23; i++ {
			assert.InDelta(t, slope*float64(i), u.At(0, 0, j, i), 1e-9)
			assert.InDelta(t, 0.3, u.At(0, 1, j, i), 1e-9)
		}
	}
}

func TestFFD_ForwardOnAndOffGrid(t *testing.T) {
	g := grid.MustNew([]int{10, 7})
	f, err := NewFreeFormDeformation(g, WithStride(2))
	require.NoError(t, err)
	data, err := f.Data()
	require.NoError(t, err)
	require.NoError(t, data.CopyFrom(randomTensor(data.Shape(), 0.1, 1)))
	require.NoError(t, f.Update())

	x := g.Points().Reshape(1, g.NumPoints(), 2)
	on, err := f.Forward(x, true)
	require.NoError(t, err)
	off, err := f.Forward(x, false)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(on, off, 1e-12))

	u, err := f.Disp(nil)
	require.NoError(t, err)
	du, err := displacementField(f, g)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(u, du, 1e-12))

	_, err = f.Forward(pointSet(0, 0), true)
	require.Error(t, err)
}

func TestFFD_Groups(t *testing.T) {
	g := grid.MustNew([]int{6, 6})
	f, err := NewFreeFormDeformation(g, WithStride(2), WithGroups(2))
	require.NoError(t, err)
	data, err := f.Data()
	require.NoError(t, err)
	for i := range data.Data() {
		// Group 0 shifts by +0.1 in x, group 1 by -0.1.
		half := len(data.Data()) / 2
		switch {
		case i < data.Dim(2)*data.Dim(3):
			data.Data()[i] = 0.1
		case i >= half && i < half+data.Dim(2)*data.Dim(3):
			data.Data()[i] = -0.1
		}
	}
	require.NoError(t, f.Update())

	y, err := f.Forward(pointSet(0, 0), false)
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{2, 1, 2}, y.Shape())
	assert.InDeltaSlice(t, []float64{0.1, 0, -0.1, 0}, y.Data(), 1e-12)
}

func TestFFD_UpdateFailureKeepsField(t *testing.T) {
	g := grid.MustNew([]int{6, 6})
	calls := 0
	shape := tensor.Shape{1, 2, 6, 6}
	f, err := NewFreeFormDeformation(g, WithStride(2), WithGenerator(func(*tensor.Tensor) (*tensor.Tensor, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("boom")
		}
		return tensor.Full(shape, 0.2), nil
	}))
	require.NoError(t, err)
	_, err = f.Data()
	require.ErrorIs(t, err, ErrNotUpdated)

	require.NoError(t, f.Update())
	before, err := f.Tensor()
	require.NoError(t, err)
	assert.InDelta(t, 0.2, before.At(0, 0, 3, 3), 1e-12)

	require.Error(t, f.Update())
	after, err := f.Tensor()
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(before, after, 0))
	assert.Equal(t, 2, calls)
}

func TestFFD_GeneratorShapeMismatch(t *testing.T) {
	g := grid.MustNew([]int{6, 6})
	f, err := NewFreeFormDeformation(g, WithStride(2), WithGenerator(func(*tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.Zeros(tensor.Shape{1, 2, 4, 4}), nil
	}))
	require.NoError(t, err)
	require.ErrorIs(t, f.Update(), ErrPrecondition)
}

func TestFFD_ConditionReachesGenerator(t *testing.T) {
	g := grid.MustNew([]int{6, 6})
	var seen *tensor.Tensor
	f, err := NewFreeFormDeformation(g, WithStride(2), WithGenerator(func(c *tensor.Tensor) (*tensor.Tensor, error) {
		seen = c
		return tensor.Zeros(tensor.Shape{1, 2, 6, 6}), nil
	}))
	require.NoError(t, err)
	cond := tensor.Full(tensor.Shape{1}, 3)
	f.SetCondition(cond)
	require.NoError(t, f.Update())
	assert.Same(t, cond, seen)
}

func TestFFD_ConfigErrors(t *testing.T) {
	g := grid.MustNew([]int{6, 6})
	cases := []struct {
		name  string
		grid  *grid.Grid
		opts  []Option
		field string
	}{
		{"nil grid", nil, nil, "grid"},
		{"unaligned grid", g.Realigned(false), nil, "grid"},
		{"zero stride", g, []Option{WithStride(0)}, "stride"},
		{"stride count", g, []Option{WithStride(1, 2, 3)}, "stride"},
		{"negative groups", g, []Option{WithGroups(-1)}, "groups"},
		{"params shape", g, []Option{WithStride(2), WithParams(tensor.Zeros(tensor.Shape{1, 2, 4, 5}))}, "params"},
		{"params and generator", g, []Option{
			WithParams(tensor.Zeros(tensor.Shape{1, 2, 4, 4})),
			WithGenerator(func(*tensor.Tensor) (*tensor.Tensor, error) { return nil, nil }),
		}, "params"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewFreeFormDeformation(tc.grid, tc.opts...)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestFFD_SharesKernels(t *testing.T) {
	cache := kernels.NewCache()
	g := grid.MustNew([]int{9, 9})
	a, err := NewFreeFormDeformation(g, WithStride(3), WithKernelCache(cache))
	require.NoError(t, err)
	b, err := NewFreeFormDeformation(g, WithStride(3, 4), WithKernelCache(cache))
	require.NoError(t, err)
	assert.Same(t, a.kernels[1], b.kernels[1])
	assert.Equal(t, []int{3, 4}, cache.Strides())

	// Dropping the cache entry does not affect existing transforms.
	cache.Deregister(3, 4)
	require.NoError(t, a.Update())
}

func TestFFD_SetGridSubdivides(t *testing.T) {
	g := grid.MustNew([]int{9, 7})
	f, err := NewFreeFormDeformation(g, WithStride(2))
	require.NoError(t, err)
	data, err := f.Data()
	require.NoError(t, err)
	require.NoError(t, data.CopyFrom(randomTensor(data.Shape(), 0.1, 2)))
	require.NoError(t, f.Update())
	coarse, err := f.Tensor()
	require.NoError(t, err)

	fine, err := g.Subdivide()
	require.NoError(t, err)
	require.NoError(t, f.SetGrid(fine))
	assert.Equal(t, tensor.Shape{9, 11}, f.DataShape())
	require.NoError(t, f.Update())
	u, err := f.Tensor()
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{1, 2, 13, 17}, u.Shape())

	for c := 0; c < 2; c++ {
		for j := 0; j < 7; j++ {
			for i := 0; i < 9; i++ {
				assert.InDelta(t, coarse.At(0, c, j, i), u.At(0, c, 2*j, 2*i), 1e-10)
			}
		}
	}
}

func TestFFD_SetGridSingleAxis(t *testing.T) {
	g := grid.MustNew([]int{9, 7})
	f, err := NewFreeFormDeformation(g, WithStride(2))
	require.NoError(t, err)
	data, err := f.Data()
	require.NoError(t, err)
	require.NoError(t, data.CopyFrom(randomTensor(data.Shape(), 0.1, 3)))
	require.NoError(t, f.Update())
	coarse, err := f.Tensor()
	require.NoError(t, err)

	fine, err := g.Subdivide(0)
	require.NoError(t, err)
	require.NoError(t, f.SetGrid(fine))
	require.NoError(t, f.Update())
	u, err := f.Tensor()
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{1, 2, 7, 17}, u.Shape())
	for j := 0; j < 7; j++ {
		for i := 0; i < 9; i++ {
			assert.InDelta(t, coarse.At(0, 1, j, i), u.At(0, 1, j, 2*i), 1e-10)
		}
	}
}

func TestFFD_SetGridSameSizeKeepsData(t *testing.T) {
	g := grid.MustNew([]int{9, 7})
	f, err := NewFreeFormDeformation(g, WithStride(2))
	require.NoError(t, err)
	before, err := f.Data()
	require.NoError(t, err)
	require.NoError(t, before.CopyFrom(randomTensor(before.Shape(), 0.1, 4)))
	want := before.Clone()

	require.NoError(t, f.SetGrid(grid.MustNew([]int{9, 7})))
	after, err := f.Data()
	require.NoError(t, err)
	assert.Equal(t, want.Data(), after.Data())
}

func TestFFD_SetGridErrors(t *testing.T) {
	g := grid.MustNew([]int{9, 7})
	f, err := NewFreeFormDeformation(g, WithStride(2))
	require.NoError(t, err)

	require.ErrorIs(t, f.SetGrid(grid.MustNew([]int{9, 7}, grid.WithSpacing(2, 2))), ErrConfiguration)
	require.ErrorIs(t, f.SetGrid(grid.MustNew([]int{9, 7, 3})), ErrConfiguration)
	require.ErrorIs(t, f.SetGrid(g.Realigned(false)), ErrConfiguration)

	// Same physical extent, but 13 points are not a subdivision of 9.
	resized := grid.MustNew([]int{13, 7}, grid.WithSpacing(8.0/12, 1))
	require.True(t, resized.SameDomainAs(g))
	err = f.SetGrid(resized)
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "neither 9 nor 17")
	assert.Equal(t, tensor.Shape{1, 2, 6, 7}, mustData(t, f).Shape())
	assert.Same(t, g, f.Grid())
}

func mustData(t *testing.T, f *FreeFormDeformation) *tensor.Tensor {
	t.Helper()
	data, err := f.Data()
	require.NoError(t, err)
	return data
}

func TestFFD_EvaluateRequiresAlignedGrid(t *testing.T) {
	g := grid.MustNew([]int{6, 6})
	f, err := NewFreeFormDeformation(g, WithStride(2), WithGenerator(func(*tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.Zeros(tensor.Shape{1, 2, 6, 6}), nil
	}))
	require.NoError(t, err)

	// Generated coefficients do not constrain the new grid.
	require.NoError(t, f.SetGrid(g.Realigned(false)))
	_, err = f.Evaluate()
	require.ErrorIs(t, err, ErrPrecondition)
}

func TestFFD_Reset(t *testing.T) {
	g := grid.MustNew([]int{6, 6})
	f, err := NewFreeFormDeformation(g, WithStride(2), WithParams(tensor.Full(tensor.Shape{1, 2, 6, 6}, 0.5)))
	require.NoError(t, err)
	require.NoError(t, f.Update())
	f.Reset()
	data, err := f.Data()
	require.NoError(t, err)
	assert.Zero(t, data.MaxAbs())
	u, err := f.Tensor()
	require.NoError(t, err)
	assert.Zero(t, u.MaxAbs())
}

func TestFFD_NotInvertible(t *testing.T) {
	f, err := NewFreeFormDeformation(grid.MustNew([]int{6, 6}))
	require.NoError(t, err)
	_, err = f.Inverse(InverseOptions{})
	require.ErrorIs(t, err, ErrUnsupported)
	_, err = f.Matrix()
	require.ErrorIs(t, err, ErrNotLinear)
}
