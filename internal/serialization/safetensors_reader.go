package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/born-ml/deform/internal/tensor"
)

// File is the decoded content of a SafeTensors file.
type File struct {
	Metadata map[string]string
	Tensors  map[string]*tensor.Tensor
	DTypes   map[string]DType
}

// Names returns the tensor names in alphabetical order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadSafeTensors reads a SafeTensors file.
func ReadSafeTensors(path string) (*File, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for input files
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close() // Best effort close
	}()
	return ReadSafeTensorsFrom(file)
}

// ReadSafeTensorsFrom reads SafeTensors content from r. Elements of any
// supported dtype are converted to float64.
func ReadSafeTensorsFrom(r io.Reader) (*File, error) {
	raw, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}

	f := &File{
		Metadata: map[string]string{},
		Tensors:  make(map[string]*tensor.Tensor, len(raw)),
		DTypes:   make(map[string]DType, len(raw)),
	}
	infos := make(map[string]SafeTensorHeader, len(raw))
	metas := make([]TensorMeta, 0, len(raw))
	for name, value := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(value, &f.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
			continue
		}
		if err := ValidateTensorName(name); err != nil {
			return nil, err
		}
		var info SafeTensorHeader
		if err := json.Unmarshal(value, &info); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tensor %s: %w", name, err)
		}
		infos[name] = info
		metas = append(metas, TensorMeta{
			Name:   name,
			Offset: info.DataOffsets[0],
			Size:   info.DataOffsets[1] - info.DataOffsets[0],
		})
	}
	if err := ValidateTensorOffsets(metas, int64(len(data))); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if stored, ok := f.Metadata[MetadataChecksum]; ok {
		if err := ValidateChecksum(ComputeChecksum(data), stored); err != nil {
			return nil, err
		}
	}

	for name, info := range infos {
		t, err := decode(name, info, data[info.DataOffsets[0]:info.DataOffsets[1]])
		if err != nil {
			return nil, err
		}
		f.Tensors[name] = t
		f.DTypes[name] = info.DType
	}
	return f, nil
}

// VerifySafeTensors checks the data section of a SafeTensors file against the
// checksum stored in its metadata without decoding any tensor.
func VerifySafeTensors(path string) error {
	//nolint:gosec // G304: File path comes from user input, which is expected for input files
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close() // Best effort close
	}()
	return VerifySafeTensorsFrom(file)
}

// VerifySafeTensorsFrom streams SafeTensors content from r through SHA-256
// and compares the digest with the stored checksum. Files written without a
// checksum yield ErrMissingChecksum.
func VerifySafeTensorsFrom(r io.Reader) error {
	raw, err := readHeader(r)
	if err != nil {
		return err
	}
	var metadata map[string]string
	if value, ok := raw[metadataKey]; ok {
		if err := json.Unmarshal(value, &metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	stored, ok := metadata[MetadataChecksum]
	if !ok {
		return ErrMissingChecksum
	}
	computed, err := ComputeChecksumReader(r)
	if err != nil {
		return fmt.Errorf("failed to read tensor data: %w", err)
	}
	return ValidateChecksum(computed, stored)
}

// readHeader reads the length-prefixed JSON header.
func readHeader(r io.Reader) (map[string]json.RawMessage, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > MaxHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}
	return raw, nil
}

func decode(name string, info SafeTensorHeader, buf []byte) (*tensor.Tensor, error) {
	size := info.DType.Size()
	if size == 0 {
		return nil, fmt.Errorf("tensor %s: %w: %q", name, ErrUnsupportedDType, info.DType)
	}
	shape := make(tensor.Shape, len(info.Shape))
	for i, dim := range info.Shape {
		if dim < 0 || dim > math.MaxInt32 {
			return nil, &ValidationError{Type: "shape_mismatch", Tensor: name, Details: fmt.Sprintf("invalid dimension %d", dim)}
		}
		shape[i] = int(dim)
	}
	n := shape.NumElements()
	if n*size != len(buf) {
		return nil, &ValidationError{
			Type:    "shape_mismatch",
			Tensor:  name,
			Details: fmt.Sprintf("shape %v needs %d bytes, got %d", shape, n*size, len(buf)),
		}
	}

	values := make([]float64, n)
	for i := range values {
		switch info.DType {
		case F32:
			values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:])))
		case F64:
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
		}
	}
	return tensor.FromSlice(values, shape)
}
