package model

import (
	"errors"
	"math"

	"github.com/gonum/matrix/mat64"
)

// EMatrix stores a reversible Q-matrix and it's eigendecomposition to
// quickly compute e^Qt.
//
// Eigenvectors are stored so that
//
//	P(t) = InvEigenvecs * diag(exp(Eigenvals*t)) * Eigenvecs,
//
// i.e. columns of InvEigenvecs are right eigenvectors of Q and rows
// of Eigenvecs are the corresponding left eigenvectors.
type EMatrix struct {
	// Q is Q-matrix.
	Q *mat64.Dense
	// Freqs are the equilibrium frequencies.
	Freqs []float64
	// Scale is matrix scale (expected substitutions per unit time
	// before normalization).
	Scale float64
	v     []float64
	iv    []float64
	d     []float64
}

// NewEMatrix creates a new EMatrix.
func NewEMatrix(Q *mat64.Dense, freqs []float64, scale float64) *EMatrix {
	return &EMatrix{Q: Q, Freqs: freqs, Scale: scale}
}

// Copy creates a copy of EMatrix while saving eigendecomposition.
func (m *EMatrix) Copy() *EMatrix {
	return &EMatrix{
		Q:     m.Q,
		Freqs: m.Freqs,
		Scale: m.Scale,
		v:     m.v,
		iv:    m.iv,
		d:     m.d,
	}
}

// Set sets Q-matrix, frequencies and scale. Decomposition is reset.
func (m *EMatrix) Set(Q *mat64.Dense, freqs []float64, scale float64) {
	m.Q = Q
	m.Freqs = freqs
	m.Scale = scale
	m.v = nil
}

// States returns the number of states.
func (m *EMatrix) States() int {
	r, _ := m.Q.Dims()
	return r
}

// Eigen performs eigendecomposition. The matrix is symmetrized with
// the square roots of the frequencies, so Q must be time reversible
// with respect to Freqs.
func (m *EMatrix) Eigen() error {
	if m.v != nil {
		return nil
	}
	rows, cols := m.Q.Dims()
	if rows != cols {
		return errors.New("Q isn't a square matrix")
	}
	if len(m.Freqs) != rows {
		return errors.New("frequencies don't match Q dimensions")
	}
	n := rows
	sq := make([]float64, n)
	for i, f := range m.Freqs {
		if !(f > 0) {
			return errors.New("frequencies must be positive")
		}
		sq[i] = math.Sqrt(f)
	}

	sym := mat64.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			// pi_i^1/2 * Q_ij * pi_j^-1/2; average both triangles
			// to wash out rounding in Q
			s := (sq[i]*m.Q.At(i, j)/sq[j] + sq[j]*m.Q.At(j, i)/sq[i]) / 2
			sym.SetSym(i, j, s)
		}
	}

	var es mat64.EigenSym
	if ok := es.Factorize(sym, true); !ok {
		return errors.New("eigendecomposition failed")
	}
	d := es.Values(nil)
	var u mat64.Dense
	u.EigenvectorsSym(&es)

	v := make([]float64, n*n)
	iv := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			// right eigenvectors in columns of iv
			iv[i*n+k] = u.At(i, k) / sq[i]
			// left eigenvectors in rows of v
			v[k*n+i] = u.At(i, k) * sq[i]
		}
	}
	m.v, m.iv, m.d = v, iv, d
	return nil
}

// Eigenvecs returns left eigenvectors (row-major, one per row).
func (m *EMatrix) Eigenvecs() []float64 {
	return m.v
}

// InvEigenvecs returns right eigenvectors (row-major, one per column).
func (m *EMatrix) InvEigenvecs() []float64 {
	return m.iv
}

// Eigenvals returns eigenvalues.
func (m *EMatrix) Eigenvals() []float64 {
	return m.d
}

// Exp computes P=e^Qt and returns it as a new matrix.
func (m *EMatrix) Exp(t float64) (*mat64.Dense, error) {
	if m.v == nil {
		return nil, errors.New("matrix is not decomposed")
	}
	n := m.States()
	// This is a dirty hack to allow 0-scale matricies
	if math.IsInf(t, 1) {
		t = math.MaxFloat64
	}
	cD := mat64.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		cD.Set(i, i, math.Exp(m.d[i]*t))
	}
	tmp := mat64.NewDense(n, n, nil)
	tmp.Mul(mat64.NewDense(n, n, m.iv), cD)
	res := mat64.NewDense(n, n, nil)
	res.Mul(tmp, mat64.NewDense(n, n, m.v))
	// Remove sligtly negative values
	res.Apply(func(r, c int, v float64) float64 {
		return math.Max(0, v)
	}, res)
	return res, nil
}

// PMatrix writes P(t) for a flat eigendecomposition into dst
// (row-major, states*states). Slightly negative values are set to 0.
func PMatrix(dst, eigenvecs, invEigenvecs, eigenvals []float64, states int, t float64) {
	expd := make([]float64, states)
	for k := 0; k < states; k++ {
		expd[k] = math.Exp(eigenvals[k] * t)
	}
	for i := 0; i < states; i++ {
		for j := 0; j < states; j++ {
			s := 0.0
			for k := 0; k < states; k++ {
				s += invEigenvecs[i*states+k] * expd[k] * eigenvecs[k*states+j]
			}
			dst[i*states+j] = math.Max(0, s)
		}
	}
}
