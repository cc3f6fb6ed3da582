package transform

import (
	"fmt"
	"iter"
	"strconv"

	"github.com/born-ml/deform/internal/grid"
	"github.com/born-ml/deform/internal/tensor"
)

// Named is a member of a composite transform.
type Named struct {
	Name      string
	Transform Transform
}

// composite holds an ordered, named collection of transforms sharing one domain.
type composite struct {
	grid  *grid.Grid
	names []string
	byKey map[string]Transform
}

// positional names members by their index, skipping nil transforms.
func positional(transforms []Transform) []Named {
	named := make([]Named, 0, len(transforms))
	for _, t := range transforms {
		if t == nil {
			continue
		}
		named = append(named, Named{Name: strconv.Itoa(len(named)), Transform: t})
	}
	return named
}

func newComposite(op string, g *grid.Grid, members []Named) (*composite, error) {
	if g == nil {
		if len(members) == 0 {
			return nil, configErrorf(op, "grid", "must be given for an empty composite")
		}
		if members[0].Transform == nil {
			return nil, configErrorf(op, members[0].Name, "transform must not be nil")
		}
		g = members[0].Transform.Grid()
	}
	c := &composite{
		grid:  g,
		names: make([]string, 0, len(members)),
		byKey: make(map[string]Transform, len(members)),
	}
	for _, m := range members {
		if m.Transform == nil {
			return nil, configErrorf(op, m.Name, "transform must not be nil")
		}
		if _, dup := c.byKey[m.Name]; dup {
			return nil, configErrorf(op, m.Name, "duplicate name")
		}
		if !m.Transform.Grid().SameDomainAs(g) {
			return nil, configErrorf(op, m.Name, "domain %v differs from %v", m.Transform.Grid(), g)
		}
		c.names = append(c.names, m.Name)
		c.byKey[m.Name] = m.Transform
	}
	return c, nil
}

// Grid returns the domain shared by all members.
func (c *composite) Grid() *grid.Grid { return c.grid }

// Len returns the number of members.
func (c *composite) Len() int { return len(c.names) }

// Names returns the member names in order.
func (c *composite) Names() []string {
	return append([]string(nil), c.names...)
}

// Contains reports whether a member with the given name exists.
func (c *composite) Contains(name string) bool {
	_, ok := c.byKey[name]
	return ok
}

// Get returns the member with the given name.
func (c *composite) Get(name string) (Transform, bool) {
	t, ok := c.byKey[name]
	return t, ok
}

// At returns the i-th member. Negative indices count from the end.
func (c *composite) At(i int) (Transform, error) {
	n := len(c.names)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return nil, fmt.Errorf("composite: index %d out of range for %d members", i, n)
	}
	return c.byKey[c.names[i]], nil
}

// All iterates over the members in order.
func (c *composite) All() iter.Seq2[string, Transform] {
	return func(yield func(string, Transform) bool) {
		for _, name := range c.names {
			if !yield(name, c.byKey[name]) {
				return
			}
		}
	}
}

// Transforms returns the members in order.
func (c *composite) Transforms() []Transform {
	out := make([]Transform, len(c.names))
	for i, name := range c.names {
		out[i] = c.byKey[name]
	}
	return out
}

// IsLinear reports whether every member is linear. An empty composite is linear.
func (c *composite) IsLinear() bool {
	for _, t := range c.byKey {
		if !t.IsLinear() {
			return false
		}
	}
	return true
}

// Update updates every member in order and stops at the first error.
func (c *composite) Update() error {
	for _, name := range c.names {
		if err := c.byKey[name].Update(); err != nil {
			return fmt.Errorf("composite: update %q: %w", name, err)
		}
	}
	return nil
}

// Reset resets every member.
func (c *composite) Reset() {
	for _, t := range c.byKey {
		t.Reset()
	}
}

// SetCondition passes c to every member.
func (c *composite) SetCondition(cond *tensor.Tensor) {
	for _, t := range c.byKey {
		t.SetCondition(cond)
	}
}

// matrices collects the matrices of all members.
func (c *composite) matrices() ([]*tensor.Tensor, error) {
	ms := make([]*tensor.Tensor, 0, len(c.names))
	for _, name := range c.names {
		m, err := c.byKey[name].Matrix()
		if err != nil {
			return nil, fmt.Errorf("composite: matrix of %q: %w", name, err)
		}
		ms = append(ms, m)
	}
	return ms, nil
}
