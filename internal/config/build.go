package config

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/deform/internal/grid"
	"github.com/born-ml/deform/internal/serialization"
	"github.com/born-ml/deform/internal/tensor"
	"github.com/born-ml/deform/internal/transform"
)

// DefaultParamsKey is the tensor read from a parameter file holding more than one tensor.
const DefaultParamsKey = "params"

// Chain is a built configuration.
type Chain struct {
	Grid        *grid.Grid
	Composition string
	Transform   transform.Transform
}

// Build validates the configuration and creates the grid and the composite transform.
func (c *Config) Build() (*Chain, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	g, err := c.buildGrid()
	if err != nil {
		return nil, err
	}

	members := make([]transform.Named, 0, len(c.Transforms))
	for i, tc := range c.Transforms {
		t, err := c.buildTransform(g, tc)
		if err != nil {
			return nil, fmt.Errorf("transform[%d]: %w", i, err)
		}
		name := tc.Name
		if name == "" {
			name = strconv.Itoa(i)
		}
		members = append(members, transform.Named{Name: name, Transform: t})
	}

	chain := &Chain{Grid: g, Composition: c.CompositionOrDefault()}
	switch chain.Composition {
	case MultiLevel:
		chain.Transform, err = transform.NewMultiLevelNamed(g, members...)
	default:
		chain.Transform, err = transform.NewSequentialNamed(g, members...)
	}
	if err != nil {
		return nil, err
	}
	return chain, nil
}

func (c *Config) buildGrid() (*grid.Grid, error) {
	var opts []grid.Option
	if len(c.Grid.Spacing) > 0 {
		opts = append(opts, grid.WithSpacing(c.Grid.Spacing...))
	}
	if len(c.Grid.Center) > 0 {
		opts = append(opts, grid.WithCenter(c.Grid.Center...))
	}
	if len(c.Grid.Direction) > 0 {
		n := len(c.Grid.Direction)
		d := mat.NewDense(n, n, nil)
		for i, row := range c.Grid.Direction {
			d.SetRow(i, row)
		}
		opts = append(opts, grid.WithDirection(d))
	}
	if c.Grid.AlignCorners != nil {
		opts = append(opts, grid.WithAlignCorners(*c.Grid.AlignCorners))
	}
	g, err := grid.New(c.Grid.Size, opts...)
	if err != nil {
		return nil, fmt.Errorf("grid: %w", err)
	}
	return g, nil
}

func (c *Config) buildTransform(g *grid.Grid, tc Transform) (transform.Transform, error) {
	switch tc.Kind {
	case KindTranslation:
		return transform.NewTranslation(g, tc.Offset...)
	case KindScaling:
		return transform.NewScaling(g, tc.Factors...)
	case KindRotation:
		return transform.NewRotation(g, tc.Angles...)
	case KindAffine:
		ndim := g.NDim()
		m := tensor.Zeros(tensor.Shape{1, ndim, ndim + 1})
		for r, row := range tc.Matrix {
			for col, v := range row {
				m.Set(v, 0, r, col)
			}
		}
		return transform.NewHomogeneous(g, m)
	case KindFFD, KindSVFFD:
		return c.buildBSpline(g, tc)
	}
	return nil, fmt.Errorf("unknown kind %q", tc.Kind)
}

// bsplineTransform is implemented by both B-spline transforms.
type bsplineTransform interface {
	transform.Transform
	Data() (*tensor.Tensor, error)
}

func (c *Config) buildBSpline(g *grid.Grid, tc Transform) (transform.Transform, error) {
	var opts []transform.Option
	if len(tc.Stride) > 0 {
		opts = append(opts, transform.WithStride(tc.Stride...))
	}
	if tc.Groups > 0 {
		opts = append(opts, transform.WithGroups(tc.Groups))
	}
	if tc.ParamsFile != "" {
		params, err := c.loadParams(tc)
		if err != nil {
			return nil, err
		}
		opts = append(opts, transform.WithParams(params))
	}

	var t bsplineTransform
	var err error
	if tc.Kind == KindSVFFD {
		if tc.Scale != nil {
			opts = append(opts, transform.WithScale(*tc.Scale))
		}
		if tc.Steps != nil {
			opts = append(opts, transform.WithSteps(*tc.Steps))
		}
		t, err = transform.NewStationaryVelocityFFD(g, opts...)
	} else {
		t, err = transform.NewFreeFormDeformation(g, opts...)
	}
	if err != nil {
		return nil, err
	}

	if tc.Random != 0 {
		data, err := t.Data()
		if err != nil {
			return nil, err
		}
		//nolint:gosec // G115: seeds are configuration values, sign is irrelevant
		r := rand.New(rand.NewPCG(uint64(tc.Seed), 0x9e3779b97f4a7c15))
		values := data.Data()
		for i := range values {
			values[i] = tc.Random * (2*r.Float64() - 1)
		}
	}
	return t, nil
}

func (c *Config) loadParams(tc Transform) (*tensor.Tensor, error) {
	path := tc.ParamsFile
	if !filepath.IsAbs(path) && c.BaseDir != "" {
		path = filepath.Join(c.BaseDir, path)
	}
	f, err := serialization.ReadSafeTensors(path)
	if err != nil {
		return nil, fmt.Errorf("params_file: %w", err)
	}
	key := tc.ParamsKey
	if key == "" {
		if len(f.Tensors) == 1 {
			key = f.Names()[0]
		} else {
			key = DefaultParamsKey
		}
	}
	t, ok := f.Tensors[key]
	if !ok {
		return nil, fmt.Errorf("params_file: %s has no tensor %q", tc.ParamsFile, key)
	}
	return t, nil
}
