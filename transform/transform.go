// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package transform provides linear, B-spline free-form and stationary
// velocity transforms, and the composites chaining them.
//
// # Overview
//
// All transforms implement the Transform interface. Points are given in cube
// coordinates of the transform's grid with shape (N, M, D), where N is the
// batch size and the last dimension holds x, y, z. Displacement fields have
// shape (N, D, ...spatial) with spatial dimensions in z, y, x order.
//
// # Basic Usage
//
//	g := grid.MustNew([]int{128, 128})
//	ffd, err := transform.NewFreeFormDeformation(g, transform.WithStride(8))
//	if err != nil {
//	    return err
//	}
//	shift, _ := transform.NewTranslation(g, 0.1, 0)
//	chain, err := transform.NewSequential(g, shift, ffd)
//	if err != nil {
//	    return err
//	}
//	if err := chain.Update(); err != nil {
//	    return err
//	}
//	u, err := chain.Disp(nil)
//
// # Inverses
//
// Sequential chains of linear transforms and stationary velocity FFDs are
// invertible. Inverses share parameters with their source, so optimizing the
// forward transform also moves the inverse after the next Update.
package transform

import (
	"github.com/born-ml/deform/internal/transform"
)

// Core types.
type (
	// Transform is a spatial transformation defined on a grid domain.
	Transform = transform.Transform

	// InverseOptions control how an inverse transform relates to its source.
	InverseOptions = transform.InverseOptions

	// Generator computes transform parameters from an optional condition input.
	Generator = transform.Generator

	// Option configures a B-spline transform.
	Option = transform.Option

	// ConfigError describes an invalid construction argument.
	ConfigError = transform.ConfigError

	// Named pairs a member transform with its name in a composite.
	Named = transform.Named
)

// Transform implementations.
type (
	Homogeneous           = transform.Homogeneous
	FreeFormDeformation   = transform.FreeFormDeformation
	StationaryVelocityFFD = transform.StationaryVelocityFFD
	Sequential            = transform.Sequential
	MultiLevel            = transform.MultiLevel
)

// DefaultStride is the control point spacing used when no stride is given.
const DefaultStride = transform.DefaultStride

// Errors returned by transforms. Use errors.Is to test for them.
var (
	ErrConfiguration = transform.ErrConfiguration
	ErrUnsupported   = transform.ErrUnsupported
	ErrPrecondition  = transform.ErrPrecondition
	ErrNotLinear     = transform.ErrNotLinear
	ErrNotUpdated    = transform.ErrNotUpdated
)

// Constructors.
var (
	NewHomogeneous           = transform.NewHomogeneous
	NewIdentity              = transform.NewIdentity
	NewTranslation           = transform.NewTranslation
	NewScaling               = transform.NewScaling
	NewRotation              = transform.NewRotation
	NewFreeFormDeformation   = transform.NewFreeFormDeformation
	NewStationaryVelocityFFD = transform.NewStationaryVelocityFFD
	NewSequential            = transform.NewSequential
	NewSequentialNamed       = transform.NewSequentialNamed
	NewMultiLevel            = transform.NewMultiLevel
	NewMultiLevelNamed       = transform.NewMultiLevelNamed
)

// B-spline options.
var (
	WithGroups      = transform.WithGroups
	WithParams      = transform.WithParams
	WithGenerator   = transform.WithGenerator
	WithStride      = transform.WithStride
	WithScale       = transform.WithScale
	WithSteps       = transform.WithSteps
	WithKernelCache = transform.WithKernelCache
)
