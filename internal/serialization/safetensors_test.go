package serialization

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/deform/internal/tensor"
)

func testTensors(t *testing.T) map[string]*tensor.Tensor {
	t.Helper()
	disp, err := tensor.FromSlice([]float64{0.1, -0.2, 0.3, 0.25, 1, 2}, tensor.Shape{1, 2, 1, 3})
	require.NoError(t, err)
	mat, err := tensor.FromSlice([]float64{1, 0, 0.5, 0, 1, -0.5}, tensor.Shape{1, 2, 3})
	require.NoError(t, err)
	return map[string]*tensor.Tensor{"disp": disp, "matrix": mat}
}

// TestSafeTensorsRoundTrip tests round-trip: write → read → verify.
func TestSafeTensorsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundtrip.safetensors")
	in := testTensors(t)

	require.NoError(t, WriteSafeTensors(path, in, map[string]string{"grid": "5x5"}, F64))

	f, err := ReadSafeTensors(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"disp", "matrix"}, f.Names())
	assert.Equal(t, "5x5", f.Metadata["grid"])
	assert.NotEmpty(t, f.Metadata[MetadataChecksum])
	for name, want := range in {
		got := f.Tensors[name]
		require.NotNil(t, got, name)
		assert.Equal(t, want.Shape(), got.Shape())
		assert.Equal(t, want.Data(), got.Data())
		assert.Equal(t, F64, f.DTypes[name])
	}
}

func TestSafeTensorsFloat32(t *testing.T) {
	var buf bytes.Buffer
	in := testTensors(t)
	require.NoError(t, WriteSafeTensorsTo(&buf, in, nil, F32))

	f, err := ReadSafeTensorsFrom(&buf)
	require.NoError(t, err)
	assert.Equal(t, F32, f.DTypes["disp"])
	assert.InDeltaSlice(t, in["disp"].Data(), f.Tensors["disp"].Data(), 1e-7)
}

func TestSafeTensorsHeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSafeTensorsTo(&buf, testTensors(t), nil, F64))

	raw := buf.Bytes()
	size := binary.LittleEndian.Uint64(raw[:8])
	header := string(raw[8 : 8+size])
	assert.Contains(t, header, `"disp":{"dtype":"F64","shape":[1,2,1,3],"data_offsets":[0,48]}`)
	assert.Contains(t, header, `"matrix":{"dtype":"F64","shape":[1,2,3],"data_offsets":[48,96]}`)
	assert.Len(t, raw, 8+int(size)+96)
}

func TestSafeTensorsChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSafeTensorsTo(&buf, testTensors(t), nil, F64))
	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xff

	_, err := ReadSafeTensorsFrom(bytes.NewReader(raw))
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestSafeTensorsTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSafeTensorsTo(&buf, testTensors(t), nil, F64))
	raw := buf.Bytes()

	_, err := ReadSafeTensorsFrom(bytes.NewReader(raw[:len(raw)-8]))
	require.ErrorIs(t, err, ErrOutOfBounds)

	_, err = ReadSafeTensorsFrom(bytes.NewReader(raw[:4]))
	require.Error(t, err)
}

func TestSafeTensorsInvalidNames(t *testing.T) {
	one := tensor.Zeros(tensor.Shape{1})
	for _, name := range []string{"", "../x", "a/b", metadataKey} {
		err := WriteSafeTensorsTo(&bytes.Buffer{}, map[string]*tensor.Tensor{name: one}, nil, F64)
		require.ErrorIs(t, err, ErrInvalidTensorName, "name %q", name)
	}
}

func TestParseDType(t *testing.T) {
	for in, want := range map[string]DType{"F32": F32, "float32": F32, "f64": F64, "": F64} {
		got, err := ParseDType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDType("I8")
	require.ErrorIs(t, err, ErrUnsupportedDType)
}

func TestValidateTensorOffsets(t *testing.T) {
	tests := []struct {
		name    string
		tensors []TensorMeta
		want    error
	}{
		{"adjacent", []TensorMeta{{"a", 0, 100}, {"b", 100, 100}}, nil},
		{"overlap", []TensorMeta{{"a", 0, 100}, {"b", 99, 100}}, ErrOffsetOverlap},
		{"out of bounds", []TensorMeta{{"a", 150, 100}}, ErrOutOfBounds},
		{"negative", []TensorMeta{{"a", -1, 10}}, ErrNegativeOffset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTensorOffsets(tt.tensors, 200)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestComputeChecksumReader(t *testing.T) {
	data := []byte("displacement")
	got, err := ComputeChecksumReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, ComputeChecksum(data), got)
	assert.Len(t, got, 64)
	require.NoError(t, ValidateChecksum(got, ComputeChecksum(data)))
	assert.ErrorIs(t, ValidateChecksum(got, ComputeChecksum(nil)), ErrChecksumMismatch)
}

func TestVerifySafeTensors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSafeTensorsTo(&buf, testTensors(t), nil, F64))
	content := buf.Bytes()
	require.NoError(t, VerifySafeTensorsFrom(bytes.NewReader(content)))

	corrupted := append([]byte(nil), content...)
	corrupted[len(corrupted)-1] ^= 0xff
	require.ErrorIs(t, VerifySafeTensorsFrom(bytes.NewReader(corrupted)), ErrChecksumMismatch)

	path := filepath.Join(t.TempDir(), "fields.safetensors")
	require.NoError(t, WriteSafeTensors(path, testTensors(t), map[string]string{"run_id": "x"}, F32))
	require.NoError(t, VerifySafeTensors(path))
}

func TestVerifySafeTensorsMissingChecksum(t *testing.T) {
	header := []byte(`{"__metadata__":{"run_id":"x"}}`)
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(header))))
	buf.Write(header)
	require.ErrorIs(t, VerifySafeTensorsFrom(&buf), ErrMissingChecksum)
}
