// Package config describes a grid and a chain of transforms in TOML.
//
// Example:
//
//	composition = "sequential"
//
//	[grid]
//	size = [64, 64]
//	spacing = [1.0, 1.0]
//
//	[[transform]]
//	name = "affine"
//	kind = "rotation"
//	angles = [0.1]
//
//	[[transform]]
//	name = "svffd"
//	kind = "svffd"
//	stride = [8]
//	steps = 6
//	random = 0.05
//	seed = 1
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// Composition modes.
const (
	Sequential = "sequential"
	MultiLevel = "multilevel"
)

// Transform kinds.
const (
	KindAffine      = "affine"
	KindTranslation = "translation"
	KindScaling     = "scaling"
	KindRotation    = "rotation"
	KindFFD         = "ffd"
	KindSVFFD       = "svffd"
)

var kinds = []string{KindAffine, KindTranslation, KindScaling, KindRotation, KindFFD, KindSVFFD}

// Config is a grid plus an ordered list of transforms.
type Config struct {
	Grid        Grid        `toml:"grid"`
	Composition string      `toml:"composition"`
	Transforms  []Transform `toml:"transform"`

	// BaseDir resolves relative parameter file paths. Load sets it to the
	// directory of the configuration file.
	BaseDir string `toml:"-"`
}

// Grid describes the sampling grid shared by all transforms.
type Grid struct {
	Size         []int       `toml:"size"`
	Spacing      []float64   `toml:"spacing"`
	Center       []float64   `toml:"center"`
	Direction    [][]float64 `toml:"direction"`
	AlignCorners *bool       `toml:"align_corners"`
}

// Transform describes one member of the chain.
type Transform struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`

	// Linear transforms.
	Offset  []float64   `toml:"offset"`
	Factors []float64   `toml:"factors"`
	Angles  []float64   `toml:"angles"`
	Matrix  [][]float64 `toml:"matrix"`

	// B-spline transforms.
	Stride     []int    `toml:"stride"`
	Groups     int      `toml:"groups"`
	Scale      *float64 `toml:"scale"`
	Steps      *int     `toml:"steps"`
	ParamsFile string   `toml:"params_file"`
	ParamsKey  string   `toml:"params_key"`
	Random     float64  `toml:"random"`
	Seed       int64    `toml:"seed"`
}

// FieldError reports an invalid configuration value.
type FieldError struct {
	Field   string // e.g. "transform[1].stride"
	Message string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads a configuration file.
func Load(path string) (*Config, error) {
	var c Config
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	c.BaseDir = filepath.Dir(path)
	return &c, nil
}

// Parse decodes a configuration from TOML text.
func Parse(data string) (*Config, error) {
	var c Config
	md, err := toml.Decode(data, &c)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	return &c, nil
}

func checkUndecoded(md toml.MetaData) error {
	keys := md.Undecoded()
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	return fmt.Errorf("config: unknown keys: %s", strings.Join(names, ", "))
}

// Validate reports every problem found in the configuration.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	ndim := len(c.Grid.Size)
	switch {
	case ndim == 0:
		add("grid.size", "missing")
	case ndim > 3:
		add("grid.size", "at most 3 dimensions supported, got %d", ndim)
	}
	for i, n := range c.Grid.Size {
		if n < 1 {
			add(fmt.Sprintf("grid.size[%d]", i), "must be positive, got %d", n)
		}
	}
	if n := len(c.Grid.Spacing); n != 0 && n != ndim {
		add("grid.spacing", "need %d values, got %d", ndim, n)
	}
	if n := len(c.Grid.Center); n != 0 && n != ndim {
		add("grid.center", "need %d values, got %d", ndim, n)
	}
	if len(c.Grid.Direction) != 0 {
		if len(c.Grid.Direction) != ndim {
			add("grid.direction", "need %d rows, got %d", ndim, len(c.Grid.Direction))
		}
		for i, row := range c.Grid.Direction {
			if len(row) != ndim {
				add(fmt.Sprintf("grid.direction[%d]", i), "need %d values, got %d", ndim, len(row))
			}
		}
	}

	switch c.Composition {
	case "", Sequential, MultiLevel:
	default:
		add("composition", "must be %q or %q, got %q", Sequential, MultiLevel, c.Composition)
	}

	names := make(map[string]int)
	for i, t := range c.Transforms {
		field := func(name string) string { return fmt.Sprintf("transform[%d].%s", i, name) }
		if t.Name != "" {
			if j, dup := names[t.Name]; dup {
				add(field("name"), "%q already used by transform[%d]", t.Name, j)
			}
			names[t.Name] = i
		}
		if !slices.Contains(kinds, t.Kind) {
			add(field("kind"), "must be one of %s, got %q", strings.Join(kinds, ", "), t.Kind)
			continue
		}
		switch t.Kind {
		case KindTranslation:
			if len(t.Offset) != ndim {
				add(field("offset"), "need %d values, got %d", ndim, len(t.Offset))
			}
		case KindScaling:
			if len(t.Factors) != ndim {
				add(field("factors"), "need %d values, got %d", ndim, len(t.Factors))
			}
		case KindRotation:
			want := map[int]int{2: 1, 3: 3}[ndim]
			if want == 0 {
				add(field("kind"), "rotations need a 2D or 3D grid")
			} else if len(t.Angles) != want {
				add(field("angles"), "need %d values, got %d", want, len(t.Angles))
			}
		case KindAffine:
			if len(t.Matrix) != ndim {
				add(field("matrix"), "need %d rows, got %d", ndim, len(t.Matrix))
			}
			for r, row := range t.Matrix {
				if len(row) != ndim+1 {
					add(fmt.Sprintf("transform[%d].matrix[%d]", i, r), "need %d values, got %d", ndim+1, len(row))
				}
			}
		case KindFFD, KindSVFFD:
			if n := len(t.Stride); n != 0 && n != 1 && n != ndim {
				add(field("stride"), "need 1 or %d values, got %d", ndim, n)
			}
			for _, s := range t.Stride {
				if s < 1 {
					add(field("stride"), "must be positive, got %d", s)
				}
			}
			if t.Groups < 0 {
				add(field("groups"), "must be positive, got %d", t.Groups)
			}
			if t.ParamsFile != "" && t.Random != 0 {
				add(field("random"), "cannot be combined with params_file")
			}
			if t.ParamsKey != "" && t.ParamsFile == "" {
				add(field("params_key"), "requires params_file")
			}
			if t.Kind == KindFFD && (t.Scale != nil || t.Steps != nil) {
				add(field("kind"), "scale and steps only apply to svffd")
			}
			if t.Steps != nil && *t.Steps < 0 {
				add(field("steps"), "must be non-negative, got %d", *t.Steps)
			}
		}
	}
	return errors.Join(errs...)
}

// Dims returns the number of spatial dimensions.
func (c *Config) Dims() int { return len(c.Grid.Size) }

// CompositionOrDefault returns the composition mode, defaulting to sequential.
func (c *Config) CompositionOrDefault() string {
	if c.Composition == "" {
		return Sequential
	}
	return c.Composition
}
