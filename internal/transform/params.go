package transform

import (
	"fmt"

	"github.com/born-ml/deform/internal/tensor"
)

// Generator produces transform parameters from a conditioning input.
// cond is the tensor last passed to SetCondition and may be nil.
type Generator func(cond *tensor.Tensor) (*tensor.Tensor, error)

// params provides the parameters of a parametric transform.
//
// Parameters are either stored in value or produced by gen on every update.
// A provider with a link reads the parameters of another provider instead,
// which lets an inverse transform follow its source without calling the
// generator a second time.
type params struct {
	value *tensor.Tensor
	gen   Generator
	cond  *tensor.Tensor
	out   *tensor.Tensor // last generator output
	link  *params
}

// current returns the parameters used by the last update.
func (p *params) current() (*tensor.Tensor, error) {
	if p.link != nil {
		return p.link.current()
	}
	if p.value != nil {
		return p.value, nil
	}
	if p.out != nil {
		return p.out, nil
	}
	return nil, fmt.Errorf("%w: parameter generator has not been called", ErrNotUpdated)
}

// update invokes the generator and checks that its output has the given shape.
func (p *params) update(shape tensor.Shape) error {
	if p.link != nil || p.value != nil {
		return nil
	}
	if p.gen == nil {
		return fmt.Errorf("%w: transform has neither parameters nor generator", ErrPrecondition)
	}
	out, err := p.gen(p.cond)
	if err != nil {
		return fmt.Errorf("parameter generator: %w", err)
	}
	if out == nil || !out.Shape().Equal(shape) {
		var got tensor.Shape
		if out != nil {
			got = out.Shape()
		}
		return fmt.Errorf("%w: generator returned parameters of shape %v, expected %v", ErrPrecondition, got, shape)
	}
	p.out = out
	return nil
}

// reset zeroes stored parameters. Generated parameters are left alone.
func (p *params) reset() {
	if p.value != nil {
		p.value.Fill(0)
	}
}

func (p *params) generated() bool {
	return p.value == nil && p.link == nil
}
