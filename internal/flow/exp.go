package flow

import (
	"fmt"
	"math"

	"github.com/born-ml/deform/internal/tensor"
)

// Default parameters of the scaling and squaring integrator.
const (
	DefaultScale = 1.0
	DefaultSteps = 5
)

// ExpFlow computes the group exponential of a stationary velocity field by
// scaling and squaring.
//
// The velocity field v is scaled by Scale/2^Steps, which is assumed small
// enough for u = v to approximate the flow over this short time. The flow is
// then composed with itself Steps times, u = u + u∘(id + u), doubling the
// integration time in every step.
type ExpFlow struct {
	Scale        float64 // Time scale; negative values integrate backwards.
	Steps        int     // Number of squaring steps.
	AlignCorners bool    // Grid alignment used to sample the field.
}

// NewExpFlow returns an integrator with the given parameters.
// A nil scale or steps selects DefaultScale or DefaultSteps.
func NewExpFlow(scale *float64, steps *int, alignCorners bool) (ExpFlow, error) {
	e := ExpFlow{Scale: DefaultScale, Steps: DefaultSteps, AlignCorners: alignCorners}
	if scale != nil {
		e.Scale = *scale
	}
	if steps != nil {
		e.Steps = *steps
	}
	if e.Steps < 0 {
		return ExpFlow{}, fmt.Errorf("flow: number of steps must be non-negative, got %d", e.Steps)
	}
	if math.IsNaN(e.Scale) || math.IsInf(e.Scale, 0) {
		return ExpFlow{}, fmt.Errorf("flow: invalid scale %g", e.Scale)
	}
	return e, nil
}

// Inverse returns the integrator of the inverse flow, which integrates the
// velocity field backwards in time.
func (e ExpFlow) Inverse() ExpFlow {
	e.Scale = -e.Scale
	return e
}

// Integrate returns the displacement field exp(v) - id.
// v has shape (N, D, ...spatial) in cube units.
func (e ExpFlow) Integrate(v *tensor.Tensor) *tensor.Tensor {
	u := v.MulScalar(e.Scale / math.Pow(2, float64(e.Steps)))
	for i := 0; i < e.Steps; i++ {
		u.AddInPlace(Warp(u, u, e.AlignCorners))
	}
	return u
}
