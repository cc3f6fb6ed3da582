package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/deform/internal/serialization"
	"github.com/born-ml/deform/internal/tensor"
	"github.com/born-ml/deform/internal/transform"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := Execute(context.Background(), args, &out, &errOut)
	return out.String(), errOut.String(), err
}

func fromSlice(t *testing.T, data []float64, shape ...int) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromSlice(data, shape)
	require.NoError(t, err)
	return x
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chain.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const affineTOML = `
composition = "sequential"

[grid]
size = [9, 9]

[[transform]]
name = "shift"
kind = "translation"
offset = [0.25, -0.5]

[[transform]]
name = "zoom"
kind = "scaling"
factors = [2.0, 2.0]
`

const warpTOML = `
composition = "multilevel"

[grid]
size = [17, 17]

[[transform]]
name = "coarse"
kind = "svffd"
stride = [8]
random = 0.05
seed = 1

[[transform]]
name = "fine"
kind = "ffd"
stride = [4]
random = 0.01
seed = 2
`

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, log.WarnLevel)
	l.Info("hidden")
	l.Warn("shown", "key", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "key=1")
}

func TestLoggerFromContext(t *testing.T) {
	assert.Same(t, log.Default(), loggerFromContext(context.Background()))

	l := newLogger(&bytes.Buffer{}, log.InfoLevel)
	assert.Same(t, l, loggerFromContext(withLogger(context.Background(), l)))
}

func TestVersion(t *testing.T) {
	SetVersion("v1.2.3", "abc123", "2026-01-01")
	t.Cleanup(func() { SetVersion("v0.1.0-dev", "unknown", "unknown") })

	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "deform v1.2.3\ncommit: abc123\nbuilt: 2026-01-01\n", out)
}

func TestInvalidLogLevel(t *testing.T) {
	_, _, err := run(t, "--log-level", "loud", "kernel")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --log-level")
}

func TestKernel(t *testing.T) {
	out, _, err := run(t, "kernel", "--stride", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, " -3  0.0208333333", lines[0])
	assert.Equal(t, "  0  0.6666666667", lines[3])
	assert.Equal(t, "  3  0.0208333333", lines[6])
}

func TestKernelInvalidStride(t *testing.T) {
	_, _, err := run(t, "kernel", "--stride", "0")
	require.Error(t, err)
}

func TestEvalAffine(t *testing.T) {
	cfg := writeConfig(t, affineTOML)
	output := filepath.Join(t.TempDir(), "out.safetensors")

	_, logs, err := run(t, "eval", "-c", cfg, "-o", output)
	require.NoError(t, err)
	assert.Contains(t, logs, "wrote output")

	f, err := serialization.ReadSafeTensors(output)
	require.NoError(t, err)
	assert.Equal(t, []string{dispKey, matrixKey}, f.Names())
	assert.Equal(t, "true", f.Metadata["linear"])
	assert.Equal(t, "false", f.Metadata["inverse"])
	assert.Equal(t, "9x9", f.Metadata["grid_size"])
	assert.Len(t, f.Metadata["run_id"], 36)

	// Scaling after translation: x -> 2(x + t).
	want := fromSlice(t, []float64{
		2, 0, 0.5,
		0, 2, -1,
	}, 1, 2, 3)
	assert.True(t, tensor.AllClose(want, f.Tensors[matrixKey], 1e-12), "matrix %v", f.Tensors[matrixKey].Data())
	assert.Equal(t, tensor.Shape{1, 2, 9, 9}, f.Tensors[dispKey].Shape())
}

func TestEvalInverseMatrixOnly(t *testing.T) {
	cfg := writeConfig(t, affineTOML)
	output := filepath.Join(t.TempDir(), "inv.safetensors")

	_, _, err := run(t, "eval", "-c", cfg, "-o", output, "--inverse", "--matrix", "--dtype", "F32")
	require.NoError(t, err)

	f, err := serialization.ReadSafeTensors(output)
	require.NoError(t, err)
	assert.Equal(t, []string{matrixKey}, f.Names())
	assert.Equal(t, serialization.F32, f.DTypes[matrixKey])
	assert.Equal(t, "true", f.Metadata["inverse"])

	want := fromSlice(t, []float64{
		0.5, 0, -0.25,
		0, 0.5, 0.5,
	}, 1, 2, 3)
	assert.True(t, tensor.AllClose(want, f.Tensors[matrixKey], 1e-6), "matrix %v", f.Tensors[matrixKey].Data())
}

func TestEvalMatrixRequiresLinear(t *testing.T) {
	cfg := writeConfig(t, warpTOML)
	output := filepath.Join(t.TempDir(), "out.safetensors")

	_, _, err := run(t, "eval", "-c", cfg, "-o", output, "--matrix")
	require.ErrorIs(t, err, transform.ErrNotLinear)
	assert.NoFileExists(t, output)
}

func TestEvalMultiLevelNotInvertible(t *testing.T) {
	cfg := writeConfig(t, warpTOML)
	output := filepath.Join(t.TempDir(), "out.safetensors")

	_, _, err := run(t, "eval", "-c", cfg, "-o", output, "--inverse")
	require.ErrorIs(t, err, transform.ErrUnsupported)
}

func TestEvalFlagErrors(t *testing.T) {
	cfg := writeConfig(t, affineTOML)

	_, _, err := run(t, "eval")
	require.Error(t, err)

	_, _, err = run(t, "eval", "-c", cfg, "--link")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--link requires --inverse")

	_, _, err = run(t, "eval", "-c", cfg, "--dtype", "I8")
	require.ErrorIs(t, err, serialization.ErrUnsupportedDType)

	_, _, err = run(t, "eval", "-c", filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestEvalThenInspect(t *testing.T) {
	cfg := writeConfig(t, warpTOML)
	output := filepath.Join(t.TempDir(), "warp.safetensors")

	_, logs, err := run(t, "-v", "eval", "-c", cfg, "-o", output)
	require.NoError(t, err)
	assert.Contains(t, logs, "built chain")

	f, err := serialization.ReadSafeTensors(output)
	require.NoError(t, err)
	assert.Equal(t, []string{dispKey}, f.Names())
	assert.Equal(t, "false", f.Metadata["linear"])
	assert.Equal(t, "multilevel", f.Metadata["composition"])
	assert.Greater(t, f.Tensors[dispKey].MaxAbs(), 0.0)

	out, _, err := run(t, "inspect", output)
	require.NoError(t, err)
	assert.Contains(t, out, "composition:")
	assert.Contains(t, out, "multilevel")
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "disp")
	assert.Contains(t, out, "[1 2 17 17]")
}

func TestInspectVerify(t *testing.T) {
	cfg := writeConfig(t, affineTOML)
	output := filepath.Join(t.TempDir(), "out.safetensors")
	_, _, err := run(t, "eval", "-c", cfg, "-o", output)
	require.NoError(t, err)

	out, _, err := run(t, "inspect", "--verify", output)
	require.NoError(t, err)
	assert.Equal(t, output+": checksum ok\n", out)

	content, err := os.ReadFile(output)
	require.NoError(t, err)
	content[len(content)-1] ^= 0xff
	require.NoError(t, os.WriteFile(output, content, 0o600))
	_, _, err = run(t, "inspect", "--verify", output)
	require.ErrorIs(t, err, serialization.ErrChecksumMismatch)
}

func TestInspectMissingFile(t *testing.T) {
	_, _, err := run(t, "inspect", filepath.Join(t.TempDir(), "none.safetensors"))
	require.Error(t, err)
}

func TestSummarize(t *testing.T) {
	s := summarize(fromSlice(t, []float64{1, 2, 3, 4}, 4))
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.InDelta(t, 2.5, s.Mean, 1e-12)
	assert.Greater(t, s.Std, 0.0)

	assert.Equal(t, summary{Min: 7, Max: 7, Mean: 7}, summarize(fromSlice(t, []float64{7}, 1)))
}
