package transform

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/deform/internal/tensor"
)

// Homogeneous matrices are stored as tensors of shape (N, D, D+1) holding the
// upper D rows of the (D+1)x(D+1) matrix. The last row is implicitly (0, ..., 0, 1).

// identityMatrix returns n identity matrices of shape (n, ndim, ndim+1).
func identityMatrix(n, ndim int) *tensor.Tensor {
	m := tensor.Zeros(tensor.Shape{n, ndim, ndim + 1})
	for b := 0; b < n; b++ {
		for i := 0; i < ndim; i++ {
			m.Set(1, b, i, i)
		}
	}
	return m
}

// asHomogeneous converts a tensor of shape (N, D, D+1), (N, D, D) or (N, D, 1)
// to homogeneous matrices. Square matrices get a zero translation and column
// vectors are interpreted as translations.
func asHomogeneous(m *tensor.Tensor) (*tensor.Tensor, error) {
	s := m.Shape()
	if len(s) != 3 || s[0] < 1 || s[1] < 1 {
		return nil, fmt.Errorf("matrix must have shape (N, D, D+1), got %v", s)
	}
	n, ndim := s[0], s[1]
	switch s[2] {
	case ndim + 1:
		return m.Clone(), nil
	case ndim:
		out := tensor.Zeros(tensor.Shape{n, ndim, ndim + 1})
		for b := 0; b < n; b++ {
			for i := 0; i < ndim; i++ {
				for j := 0; j < ndim; j++ {
					out.Set(m.At(b, i, j), b, i, j)
				}
			}
		}
		return out, nil
	case 1:
		out := identityMatrix(n, ndim)
		for b := 0; b < n; b++ {
			for i := 0; i < ndim; i++ {
				out.Set(m.At(b, i, 0), b, i, ndim)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("matrix must have shape (N, D, D+1), got %v", s)
	}
}

// dense returns matrix b of m as a full (D+1)x(D+1) gonum matrix.
func dense(m *tensor.Tensor, b int) *mat.Dense {
	ndim := m.Dim(1)
	out := mat.NewDense(ndim+1, ndim+1, nil)
	for i := 0; i < ndim; i++ {
		for j := 0; j <= ndim; j++ {
			out.Set(i, j, m.At(b, i, j))
		}
	}
	out.Set(ndim, ndim, 1)
	return out
}

// setDense stores the upper rows of d as matrix b of m.
func setDense(m *tensor.Tensor, b int, d mat.Matrix) {
	ndim := m.Dim(1)
	for i := 0; i < ndim; i++ {
		for j := 0; j <= ndim; j++ {
			m.Set(d.At(i, j), b, i, j)
		}
	}
}

// batchIndex maps output batch entry b to an entry of a tensor with n matrices.
func batchIndex(b, n int) int {
	if n == 1 {
		return 0
	}
	return b
}

// composeMatrices returns a∘b, the transform applying b first and then a.
// Batch sizes must be equal or one of them 1.
func composeMatrices(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if a.Dim(1) != b.Dim(1) {
		return nil, fmt.Errorf("cannot compose %dD and %dD matrices", a.Dim(1), b.Dim(1))
	}
	if err := checkBatch("compose", a.Dim(0), b.Dim(0)); err != nil {
		return nil, err
	}
	n := max(a.Dim(0), b.Dim(0))
	out := tensor.Zeros(tensor.Shape{n, a.Dim(1), a.Dim(2)})
	var prod mat.Dense
	for k := 0; k < n; k++ {
		prod.Mul(dense(a, batchIndex(k, a.Dim(0))), dense(b, batchIndex(k, b.Dim(0))))
		setDense(out, k, &prod)
	}
	return out, nil
}

// invertMatrices returns the inverse of each homogeneous matrix.
func invertMatrices(m *tensor.Tensor) (*tensor.Tensor, error) {
	out := tensor.ZerosLike(m)
	var inv mat.Dense
	for k := 0; k < m.Dim(0); k++ {
		if err := inv.Inverse(dense(m, k)); err != nil {
			return nil, fmt.Errorf("%w: matrix %d is not invertible: %v", ErrUnsupported, k, err)
		}
		setDense(out, k, &inv)
	}
	return out, nil
}

// applyMatrices returns m·x for points x of shape (N, M, D).
func applyMatrices(m, points *tensor.Tensor) (*tensor.Tensor, error) {
	ndim := m.Dim(1)
	if points.NDim() != 3 || points.Dim(2) != ndim {
		return nil, fmt.Errorf("points must have shape (N, M, %d), got %v", ndim, points.Shape())
	}
	if err := checkBatch("apply", m.Dim(0), points.Dim(0)); err != nil {
		return nil, err
	}
	n, npts := max(m.Dim(0), points.Dim(0)), points.Dim(1)
	out := tensor.Zeros(tensor.Shape{n, npts, ndim})

	src := points.Data()
	dst := out.Data()
	for b := 0; b < n; b++ {
		a := dense(m, batchIndex(b, m.Dim(0)))
		pb := batchIndex(b, points.Dim(0))
		for p := 0; p < npts; p++ {
			x := src[(pb*npts+p)*ndim : (pb*npts+p+1)*ndim]
			y := dst[(b*npts+p)*ndim : (b*npts+p+1)*ndim]
			for i := 0; i < ndim; i++ {
				v := a.At(i, ndim)
				for j := 0; j < ndim; j++ {
					v += a.At(i, j) * x[j]
				}
				y[i] = v
			}
		}
	}
	return out, nil
}

// sumDisplacementMatrices returns I + Σ (m_i - I), the matrix whose
// displacement is the sum of the displacements of all m_i.
func sumDisplacementMatrices(ndim int, ms []*tensor.Tensor) (*tensor.Tensor, error) {
	acc := identityMatrix(1, ndim)
	for _, m := range ms {
		if m.Dim(1) != ndim {
			return nil, fmt.Errorf("cannot add %dD and %dD matrices", ndim, m.Dim(1))
		}
		if err := checkBatch("sum", acc.Dim(0), m.Dim(0)); err != nil {
			return nil, err
		}
		acc = tensor.Add(acc, tensor.Sub(m, identityMatrix(1, ndim)))
	}
	return acc, nil
}
