package optimize

import (
	"errors"
	"math"
)

// Branch length bounds and defaults.
const (
	MinBranchLength     = 1e-4
	DefaultBranchLength = 1e-2
	MaxBranchLength     = 100
	// LnLUnlikely is reported instead of failed evaluations.
	LnLUnlikely = -1e80
)

// BranchFunction returns the log-likelihood and the first two
// derivatives of -lnL at a branch length.
type BranchFunction func(t float64) (lnL, d1, d2 float64, err error)

// Newton maximizes a BranchFunction with bounded Newton-Raphson.
type Newton struct {
	Min, Max  float64
	Tolerance float64
	MaxIter   int
	// Iterations is the number of iterations of the last run.
	Iterations int
}

// NewNewton creates a Newton optimizer with default bounds.
func NewNewton() *Newton {
	return &Newton{
		Min:       MinBranchLength,
		Max:       MaxBranchLength,
		Tolerance: 1e-7,
		MaxIter:   100,
	}
}

func (n *Newton) clamp(t float64) float64 {
	return math.Max(n.Min, math.Min(n.Max, t))
}

// Optimize returns the branch length with the maximum likelihood
// starting from t0, and the log-likelihood there.
func (n *Newton) Optimize(f BranchFunction, t0 float64) (t, lnL float64, err error) {
	if n.Min <= 0 || n.Max <= n.Min {
		return t0, math.Inf(-1), errors.New("invalid branch length bounds")
	}
	if math.IsNaN(t0) || t0 <= 0 {
		t0 = DefaultBranchLength
	}
	t = n.clamp(t0)
	lnL, d1, d2, err := f(t)
	if err != nil {
		return t, lnL, err
	}

	for n.Iterations = 0; n.Iterations < n.MaxIter; n.Iterations++ {
		var next float64
		switch {
		case d2 > 0:
			next = n.clamp(t - d1/d2)
		case d1 > 0:
			// no curvature, -lnL is increasing
			next = n.Min
		default:
			next = n.clamp(2 * t)
		}
		var nextL, nd1, nd2 float64
		for {
			nextL, nd1, nd2, err = f(next)
			if err != nil {
				return t, lnL, err
			}
			if nextL >= lnL || math.Abs(next-t) < n.Tolerance {
				break
			}
			next = (t + next) / 2
		}
		if nextL < lnL {
			break
		}
		moved := math.Abs(next - t)
		t, lnL, d1, d2 = next, nextL, nd1, nd2
		if moved < n.Tolerance*math.Max(1, t) {
			break
		}
		// stuck at a bound with the gradient pointing outside
		if (t == n.Min && d1 > 0) || (t == n.Max && d1 < 0) {
			break
		}
	}
	return t, lnL, nil
}
