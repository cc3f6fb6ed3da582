// Package flow samples dense vector fields and integrates stationary velocity fields.
//
// Fields are tensors of shape (N, C, ...spatial) in tensor order (z, y, x).
// Points are tensors of shape (N, M, D) holding cube coordinates in (x, y, z)
// order. Sampling uses N-linear interpolation with border padding, i.e.,
// points outside the grid take the value of the closest boundary point.
package flow

import (
	"fmt"
	"math"

	"github.com/born-ml/deform/internal/grid"
	"github.com/born-ml/deform/internal/parallel"
	"github.com/born-ml/deform/internal/tensor"
)

// Config controls how points are distributed across goroutines.
var Config = parallel.DefaultConfig()

// interpolator holds the geometry of a field for N-linear interpolation.
type interpolator struct {
	data     []float64
	batch    int
	channels int
	voxels   int
	size     []int // per coordinate d (x, y, z)
	stride   []int // storage stride per coordinate d within a channel
}

func newInterpolator(field *tensor.Tensor) *interpolator {
	shape := field.Shape()
	if len(shape) < 3 {
		panic(fmt.Sprintf("flow: field must have shape (N, C, ...spatial), got %v", shape))
	}
	spatial := shape[2:]
	ndim := len(spatial)
	strides := spatial.ComputeStrides()
	ip := &interpolator{
		data:     field.Data(),
		batch:    shape[0],
		channels: shape[1],
		voxels:   spatial.NumElements(),
		size:     make([]int, ndim),
		stride:   make([]int, ndim),
	}
	for d := 0; d < ndim; d++ {
		ip.size[d] = spatial[ndim-1-d]
		ip.stride[d] = strides[ndim-1-d]
	}
	return ip
}

// workspace holds per-goroutine scratch buffers for at.
type workspace struct {
	base []int
	frac []float64
}

func (ip *interpolator) workspace() *workspace {
	return &workspace{
		base: make([]int, len(ip.size)),
		frac: make([]float64, len(ip.size)),
	}
}

// at writes the interpolated channels of batch entry b at the fractional
// grid index idx (per coordinate d) into out.
func (ip *interpolator) at(ws *workspace, b int, idx []float64, out []float64) {
	ndim := len(ip.size)
	base, w := ws.base, ws.frac
	for d := 0; d < ndim; d++ {
		n := ip.size[d]
		x := math.Min(math.Max(idx[d], 0), float64(n-1))
		i0 := int(math.Floor(x))
		if i0 > n-2 {
			i0 = max(n-2, 0)
		}
		base[d] = i0
		w[d] = x - float64(i0)
	}

	for c := range out {
		out[c] = 0
	}
	offset := b * ip.channels * ip.voxels
	for corner := 0; corner < 1<<ndim; corner++ {
		weight := 1.0
		voxel := 0
		for d := 0; d < ndim; d++ {
			i := base[d]
			if corner&(1<<d) != 0 {
				if ip.size[d] == 1 {
					weight = 0
					break
				}
				i++
				weight *= w[d]
			} else {
				weight *= 1 - w[d]
			}
			voxel += i * ip.stride[d]
		}
		if weight == 0 {
			continue
		}
		for c := range out {
			out[c] += weight * ip.data[offset+c*ip.voxels+voxel]
		}
	}
}

// Sample interpolates field at the given points.
//
// field has shape (N, C, ...spatial) and points (N', M, D) with D spatial
// dimensions. N and N' must be equal or one of them 1. The result has shape
// (max(N, N'), M, C).
func Sample(field, points *tensor.Tensor, alignCorners bool) *tensor.Tensor {
	ip := newInterpolator(field)
	ndim := len(ip.size)
	ps := points.Shape()
	if len(ps) != 3 || ps[2] != ndim {
		panic(fmt.Sprintf("flow: points must have shape (N, M, %d), got %v", ndim, ps))
	}
	n := batchSize(ip.batch, ps[0])
	m := ps[1]

	out := tensor.Zeros(tensor.Shape{n, m, ip.channels})
	src := points.Data()
	dst := out.Data()

	parallel.Range(n*m, func(start, end int) {
		ws := ip.workspace()
		idx := make([]float64, ndim)
		for k := start; k < end; k++ {
			b, p := k/m, k%m
			pb := b
			if ps[0] == 1 {
				pb = 0
			}
			pt := src[(pb*m+p)*ndim : (pb*m+p+1)*ndim]
			for d := 0; d < ndim; d++ {
				idx[d] = grid.CubeToIndex(pt[d], ip.size[d], alignCorners)
			}
			fb := b
			if ip.batch == 1 {
				fb = 0
			}
			ip.at(ws, fb, idx, dst[k*ip.channels:(k+1)*ip.channels])
		}
	}, Config)
	return out
}

// Warp samples field at x + disp(x) for every grid point x.
//
// field has shape (N, C, ...spatial) and disp (N', D, ...spatial) with
// displacements in cube units. The result has shape (max(N, N'), C, ...spatial).
func Warp(field, disp *tensor.Tensor, alignCorners bool) *tensor.Tensor {
	ip := newInterpolator(field)
	ndim := len(ip.size)
	ds := disp.Shape()
	if len(ds) != ndim+2 || ds[1] != ndim || !tensor.Shape(ds[2:]).Equal(field.Shape()[2:]) {
		panic(fmt.Sprintf("flow: displacement of shape %v does not match field %v", ds, field.Shape()))
	}
	n := batchSize(ip.batch, ds[0])
	v := ip.voxels

	// Displacement in cube units to index units per coordinate.
	scale := make([]float64, ndim)
	for d := 0; d < ndim; d++ {
		if alignCorners {
			scale[d] = float64(ip.size[d]-1) / 2
		} else {
			scale[d] = float64(ip.size[d]) / 2
		}
	}

	out := tensor.Zeros(append(tensor.Shape{n, ip.channels}, field.Shape()[2:]...))
	dd := disp.Data()
	dst := out.Data()

	parallel.Range(n*v, func(start, end int) {
		ws := ip.workspace()
		idx := make([]float64, ndim)
		res := make([]float64, ip.channels)
		pos := make([]int, ndim)
		for k := start; k < end; k++ {
			b, p := k/v, k%v
			rem := p
			for d := ndim - 1; d >= 0; d-- {
				pos[d] = rem / ip.stride[d]
				rem %= ip.stride[d]
			}
			db := b
			if ds[0] == 1 {
				db = 0
			}
			for d := 0; d < ndim; d++ {
				idx[d] = float64(pos[d]) + dd[(db*ndim+d)*v+p]*scale[d]
			}
			fb := b
			if ip.batch == 1 {
				fb = 0
			}
			ip.at(ws, fb, idx, res)
			for c, val := range res {
				dst[(b*ip.channels+c)*v+p] = val
			}
		}
	}, Config)
	return out
}

func batchSize(a, b int) int {
	switch {
	case a == b:
		return a
	case a == 1:
		return b
	case b == 1:
		return a
	default:
		panic(fmt.Sprintf("flow: batch sizes %d and %d are not compatible", a, b))
	}
}
