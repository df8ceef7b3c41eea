package optimize

import (
	"fmt"
	"math"

	lbfgsb "github.com/idavydov/go-lbfgsb"
)

// boundMargin keeps points strictly inside parameter bounds.
const boundMargin = 1e-5

// LBFGSB minimizes -lnL with the bounded limited memory BFGS method.
// Gradients are computed with central differences.
type LBFGSB struct {
	BaseOptimizer
	dH      float64
	grad    []float64
	stop    bool
	aborted bool
	limit   int
	// FTolerance and GTolerance are the function reduction and
	// projected gradient tolerances.
	FTolerance float64
	GTolerance float64
}

// NewLBFGSB creates a new L-BFGS-B optimizer.
func NewLBFGSB() *LBFGSB {
	return &LBFGSB{
		BaseOptimizer: BaseOptimizer{
			name:      "lbfgsb",
			repPeriod: 10,
		},
		dH:         1e-6,
		FTolerance: 1e-9,
		GTolerance: 1e-9,
	}
}

// logger is called by the minimizer after every iteration.
func (l *LBFGSB) logger(info *lbfgsb.OptimizationIterationInformation) {
	l.i++
	l.l = -info.F
	values := l.parameters.Values(nil)
	l.parameters.SetValues(info.X)
	l.PrintLine()
	l.saveCheckpoint(false)
	l.parameters.SetValues(values)
	if l.interrupted() {
		l.stop, l.aborted = true, true
	}
	if l.limit > 0 && l.i >= l.limit {
		l.stop = true
	}
}

// EvaluateFunction returns -lnL at x.
func (l *LBFGSB) EvaluateFunction(x []float64) float64 {
	if l.stop {
		// constant function with zero gradient ends the minimization
		return -l.maxL
	}
	if !l.parameters.ValuesInRange(x) {
		return math.Inf(+1)
	}
	l.parameters.SetValues(x)
	L := l.Likelihood()
	l.record(L)
	return -L
}

// EvaluateGradient returns central difference gradient of -lnL at x.
func (l *LBFGSB) EvaluateGradient(x []float64) []float64 {
	if l.grad == nil {
		l.grad = make([]float64, len(x))
	}
	grad := l.grad
	if l.stop {
		for i := range grad {
			grad[i] = 0
		}
		return grad
	}
	l.parameters.SetValues(x)
	for i, par := range l.parameters {
		par.Set(x[i] - l.dH)
		l1 := -l.Likelihood()
		par.Set(x[i] + l.dH)
		l2 := -l.Likelihood()
		par.Set(x[i])
		l.calls += 2
		grad[i] = (l2 - l1) / 2 / l.dH
	}
	return grad
}

// Run minimizes -lnL for at most iterations iterations (no limit if
// iterations <= 0). Parameters are set to the best point found.
func (l *LBFGSB) Run(iterations int) error {
	l.limit = iterations
	l.stop, l.aborted = false, false
	final, err := l.loadCheckpoint()
	if err != nil {
		return err
	}
	if final {
		l.record(l.Likelihood())
		l.status = "restored from final checkpoint"
		return nil
	}
	l.PrintHeader()

	bounds := make([][2]float64, len(l.parameters))
	x0 := l.parameters.Values(nil)
	for i, par := range l.parameters {
		bounds[i][0] = par.GetMin() + boundMargin
		bounds[i][1] = par.GetMax() - boundMargin
		x0[i] = math.Max(bounds[i][0], math.Min(bounds[i][1], x0[i]))
	}
	l.parameters.SetValues(x0)
	l.record(l.Likelihood())

	opt := new(lbfgsb.Lbfgsb)
	opt.SetApproximationSize(10)
	opt.SetFTolerance(l.FTolerance)
	opt.SetGTolerance(l.GTolerance)
	opt.SetBounds(bounds)
	opt.SetLogger(l.logger)

	_, exitStatus := opt.Minimize(l, x0)
	l.status = fmt.Sprint(exitStatus)
	log.Info("Exit status: ", exitStatus)

	l.setMaxLParameters()
	l.l = l.maxL
	l.saveCheckpoint(!l.aborted)
	if !l.Quiet {
		log.Info("Finished LBFGSB")
		l.PrintResults()
	}
	if l.aborted {
		return ErrInterrupted
	}
	return nil
}
