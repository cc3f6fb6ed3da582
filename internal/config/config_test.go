package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/deform/internal/serialization"
	"github.com/born-ml/deform/internal/tensor"
	"github.com/born-ml/deform/internal/transform"
)

const chainTOML = `
composition = "sequential"

[grid]
size = [17, 9]
spacing = [1.0, 2.0]
center = [0.0, 0.0]
direction = [[1.0, 0.0], [0.0, 1.0]]

[[transform]]
name = "shift"
kind = "translation"
offset = [0.1, 0.0]

[[transform]]
name = "turn"
kind = "rotation"
angles = [0.2]

[[transform]]
name = "warp"
kind = "svffd"
stride = [4]
steps = 4
random = 0.02
seed = 3
`

func TestParseAndBuild(t *testing.T) {
	c, err := Parse(chainTOML)
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, 2, c.Dims())

	chain, err := c.Build()
	require.NoError(t, err)
	assert.Equal(t, []int{17, 9}, chain.Grid.Size())
	assert.Equal(t, Sequential, chain.Composition)

	seq, ok := chain.Transform.(*transform.Sequential)
	require.True(t, ok)
	if diff := cmp.Diff([]string{"shift", "turn", "warp"}, seq.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, seq.IsLinear())

	warp, ok := seq.Get("warp")
	require.True(t, ok)
	sv := warp.(*transform.StationaryVelocityFFD)
	assert.Equal(t, 4, sv.Steps())
	data, err := sv.Data()
	require.NoError(t, err)
	assert.Greater(t, data.MaxAbs(), 0.0)
	assert.LessOrEqual(t, data.MaxAbs(), 0.02)

	require.NoError(t, chain.Transform.Update())
}

func TestBuild_Deterministic(t *testing.T) {
	build := func() *tensor.Tensor {
		c, err := Parse(chainTOML)
		require.NoError(t, err)
		chain, err := c.Build()
		require.NoError(t, err)
		warp, _ := chain.Transform.(*transform.Sequential).Get("warp")
		data, err := warp.(*transform.StationaryVelocityFFD).Data()
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, build().Data(), build().Data())
}

func TestBuild_MultiLevelAffine(t *testing.T) {
	c, err := Parse(`
composition = "multilevel"
[grid]
size = [5, 5]
[[transform]]
kind = "affine"
matrix = [[2.0, 0.0, 0.5], [0.0, 1.0, 0.0]]
[[transform]]
kind = "scaling"
factors = [1.0, 3.0]
`)
	require.NoError(t, err)
	chain, err := c.Build()
	require.NoError(t, err)

	ml, ok := chain.Transform.(*transform.MultiLevel)
	require.True(t, ok)
	assert.Equal(t, []string{"0", "1"}, ml.Names())
	m, err := ml.Matrix()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 0, 0.5, 0, 3, 0}, m.Data(), 1e-12)
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	c, err := Parse(`
composition = "parallel"
[grid]
size = [8, 0]
spacing = [1.0]
[[transform]]
name = "a"
kind = "ffd"
stride = [1, 2, 3]
steps = 2
[[transform]]
name = "a"
kind = "warp"
[[transform]]
kind = "translation"
offset = [1.0]
`)
	require.NoError(t, err)
	err = c.Validate()
	require.Error(t, err)

	var fields []string
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var fe *FieldError
		require.True(t, errors.As(e, &fe))
		fields = append(fields, fe.Field)
	}
	want := []string{
		"grid.size[1]",
		"grid.spacing",
		"composition",
		"transform[0].stride",
		"transform[0].kind",
		"transform[1].name",
		"transform[1].kind",
		"transform[2].offset",
	}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}

	_, err = c.Build()
	require.Error(t, err)
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse(`
[grid]
size = [4, 4]
colour = "red"
`)
	require.ErrorContains(t, err, "grid.colour")
}

func TestLoad_ParamsFile(t *testing.T) {
	dir := t.TempDir()
	params := tensor.Full(tensor.Shape{1, 2, 5, 5}, 0.1)
	require.NoError(t, serialization.WriteSafeTensors(filepath.Join(dir, "coeffs.safetensors"),
		map[string]*tensor.Tensor{"level0": params}, nil, serialization.F64))

	path := filepath.Join(dir, "chain.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[grid]
size = [9, 9]
[[transform]]
name = "ffd"
kind = "ffd"
stride = [4]
params_file = "coeffs.safetensors"
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, c.BaseDir)
	chain, err := c.Build()
	require.NoError(t, err)
	require.NoError(t, chain.Transform.Update())

	u, err := chain.Transform.Tensor()
	require.NoError(t, err)
	assert.InDelta(t, 0.1, u.At(0, 0, 4, 4), 1e-12)

	// Wrong lattice size is rejected by the transform.
	c.Transforms[0].Stride = []int{2}
	_, err = c.Build()
	require.ErrorIs(t, err, transform.ErrConfiguration)

	c.Transforms[0].Stride = []int{4}
	c.Transforms[0].ParamsKey = "missing"
	_, err = c.Build()
	require.ErrorContains(t, err, "missing")
}
