// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package grid describes regular sampling grids and the normalized cube
// coordinates transforms operate in.
//
// A grid maps each index to world coordinates through its spacing, center
// and direction cosines. Cube coordinates span [-1, 1] along every axis:
// with AlignCorners the extremes are the first and last grid points,
// otherwise the outer edges of the first and last cells.
//
// Example:
//
//	g, err := grid.New([]int{128, 128, 64}, grid.WithSpacing(1, 1, 2.5))
//	if err != nil {
//	    return err
//	}
//	points := g.Points() // (N, 3) cube coordinates in x, y, z order
package grid

import (
	"github.com/born-ml/deform/internal/grid"
)

// Grid is an immutable regular sampling grid.
type Grid = grid.Grid

// Option configures a Grid.
type Option = grid.Option

var (
	// New creates a grid with size given in x, y, z order.
	New = grid.New

	// MustNew is like New but panics on error.
	MustNew = grid.MustNew

	// WithSpacing sets the distance between grid points along each axis.
	WithSpacing = grid.WithSpacing

	// WithCenter sets the world coordinates of the grid center.
	WithCenter = grid.WithCenter

	// WithDirection sets the direction cosines (columns are axes).
	WithDirection = grid.WithDirection

	// WithAlignCorners selects how cube coordinates map to grid points.
	WithAlignCorners = grid.WithAlignCorners

	// TransformPoints maps cube coordinates from one grid domain to another.
	TransformPoints = grid.TransformPoints
)
