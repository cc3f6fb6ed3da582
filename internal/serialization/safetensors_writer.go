package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/born-ml/deform/internal/tensor"
)

// DType is a SafeTensors element type.
type DType string

// Supported element types.
const (
	F32 DType = "F32"
	F64 DType = "F64"
)

// Size returns the number of bytes per element.
func (d DType) Size() int {
	switch d {
	case F32:
		return 4
	case F64:
		return 8
	}
	return 0
}

// ParseDType parses a dtype name such as "F32", "float32" or "f64".
func ParseDType(s string) (DType, error) {
	switch s {
	case "F32", "f32", "float32":
		return F32, nil
	case "F64", "f64", "float64", "":
		return F64, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedDType, s)
}

const (
	metadataKey = "__metadata__"

	// MetadataChecksum is the metadata key holding the SHA-256 checksum of the data section.
	MetadataChecksum = "sha256"
)

// SafeTensorHeader represents a tensor in the SafeTensors header.
type SafeTensorHeader struct {
	DType       DType    `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// WriteSafeTensors writes tensors to a SafeTensors file at path.
func WriteSafeTensors(path string, tensors map[string]*tensor.Tensor, metadata map[string]string, dtype DType) (err error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for output files
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close file: %w", cerr)
		}
	}()
	return WriteSafeTensorsTo(file, tensors, metadata, dtype)
}

// WriteSafeTensorsTo writes tensors in SafeTensors format to w.
//
// Tensors are written in alphabetical order by name. The checksum of the data
// section is added to the metadata under MetadataChecksum.
func WriteSafeTensorsTo(w io.Writer, tensors map[string]*tensor.Tensor, metadata map[string]string, dtype DType) error {
	if dtype.Size() == 0 {
		return fmt.Errorf("%w: %q", ErrUnsupportedDType, dtype)
	}
	if len(tensors) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(tensors), MaxTensorCount),
		}
	}

	names := make([]string, 0, len(tensors))
	for name := range tensors {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		if tensors[name] == nil {
			return fmt.Errorf("tensor %q is nil", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var data bytes.Buffer
	header := make(map[string]any, len(names)+1)
	for _, name := range names {
		t := tensors[name]
		start := int64(data.Len())
		encode(&data, t.Data(), dtype)

		shape := make([]int64, t.NDim())
		for i, dim := range t.Shape() {
			shape[i] = int64(dim)
		}
		header[name] = SafeTensorHeader{
			DType:       dtype,
			Shape:       shape,
			DataOffsets: [2]int64{start, int64(data.Len())},
		}
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[MetadataChecksum] = ComputeChecksum(data.Bytes())
	header[metadataKey] = meta

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if len(headerJSON) > MaxHeaderSize {
		return ErrHeaderTooLarge
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := w.Write(data.Bytes()); err != nil {
		return fmt.Errorf("failed to write tensor data: %w", err)
	}
	return nil
}

func encode(buf *bytes.Buffer, values []float64, dtype DType) {
	var scratch [8]byte
	for _, v := range values {
		switch dtype {
		case F32:
			binary.LittleEndian.PutUint32(scratch[:4], math.Float32bits(float32(v)))
			buf.Write(scratch[:4])
		case F64:
			binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(v))
			buf.Write(scratch[:])
		}
	}
}
