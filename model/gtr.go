// Package model provides time-reversible substitution models and
// their eigendecomposition.
package model

import (
	"errors"
	"fmt"

	"github.com/gonum/matrix/mat64"
	"github.com/op/go-logging"
)

// log is the global logging variable.
var log = logging.MustGetLogger("model")

// NSubstParams returns the number of GTR exchangeabilities for a
// number of states.
func NSubstParams(states int) int {
	return states * (states - 1) / 2
}

// GTRRateMatrix creates a GTR rate matrix from exchangeabilities (the
// upper triangle in row order, e.g. AC AG AT CG CT GT for
// nucleotides) and equilibrium frequencies. The matrix is normalized
// to one expected substitution per unit time; the normalization
// constant is returned as well.
func GTRRateMatrix(params, freqs []float64, m *mat64.Dense) (*mat64.Dense, float64, error) {
	n := len(freqs)
	if n < 2 {
		return nil, 0, errors.New("at least two states are required")
	}
	if len(params) != NSubstParams(n) {
		return nil, 0, fmt.Errorf("expected %d substitution parameters, got %d", NSubstParams(n), len(params))
	}
	if m == nil {
		m = mat64.NewDense(n, n, nil)
	}
	k := 0
	for i := 0; i < n; i++ {
		m.Set(i, i, 0)
		for j := i + 1; j < n; j++ {
			if params[k] < 0 {
				return nil, 0, fmt.Errorf("negative substitution parameter %d", k)
			}
			m.Set(i, j, params[k]*freqs[j])
			m.Set(j, i, params[k]*freqs[i])
			k++
		}
	}
	for i := 0; i < n; i++ {
		rowSum := 0.0
		for j := 0; j < n; j++ {
			if i != j {
				rowSum += m.At(i, j)
			}
		}
		m.Set(i, i, -rowSum)
	}
	scale := 0.0
	for i := 0; i < n; i++ {
		scale += -freqs[i] * m.At(i, i)
	}
	if !(scale > 0) {
		return nil, 0, errors.New("rate matrix has zero scale")
	}
	m.Scale(1/scale, m)
	return m, scale, nil
}

// NewGTR creates decomposed EMatrix for the GTR model.
func NewGTR(params, freqs []float64) (*EMatrix, error) {
	Q, scale, err := GTRRateMatrix(params, freqs, nil)
	if err != nil {
		return nil, err
	}
	e := NewEMatrix(Q, freqs, scale)
	if err := e.Eigen(); err != nil {
		return nil, err
	}
	log.Debugf("GTR eigenvalues: %v", e.Eigenvals())
	return e, nil
}
