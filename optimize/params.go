package optimize

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"bitbucket.org/Davydov/golk/checkpoint"
	"bitbucket.org/Davydov/golk/dist"
)

// Which is a mask of the parameters to optimize.
type Which uint

const (
	SubstRates Which = 1 << iota
	Alpha
	Pinv
	Frequencies
	BranchesSingle
	BranchesAll
	BranchesIterative
)

// Parameter bounds.
const (
	MinSubstRate = 1e-3
	MaxSubstRate = 1000
	MinFreqRatio = 1e-3
	MaxFreqRatio = 100
	MaxPinv      = 0.99
)

// Options selects parameters for OptimizeParameters.
type Options struct {
	Info LikelihoodInfo
	// ParamsIndex is the rate matrix set being optimized.
	ParamsIndex int
	Which       Which
	// FTolerance and GTolerance are passed to L-BFGS-B; zero values
	// keep the defaults.
	FTolerance float64
	GTolerance float64
	Iterations int
	// Output receives the optimization trajectory every
	// ReportPeriod iterations.
	Output       io.Writer
	ReportPeriod int
	Checkpoint   *checkpoint.IO
	Signals      []os.Signal
	// Summary is set by OptimizeParameters.
	Summary Summary
}

// modelOptimizable exposes selected model parameters of a partition.
type modelOptimizable struct {
	opts       *Options
	parameters FloatParameters
	subst      []float64
	freqRatios []float64
	pinv       float64
	substDirty bool
	freqDirty  bool
	alphaDirty bool
	pinvDirty  bool
	freqs      []float64
}

func (m *modelOptimizable) GetFloatParameters() FloatParameters {
	return m.parameters
}

// apply pushes changed parameters into the partition.
func (m *modelOptimizable) apply() error {
	info := &m.opts.Info
	p := info.Partition
	pi := m.opts.ParamsIndex
	if m.substDirty {
		// the last exchangeability is fixed to one
		params := append(append([]float64(nil), m.subst...), 1)
		if err := p.SetSubstParams(pi, params); err != nil {
			return err
		}
		m.substDirty = false
	}
	if m.freqDirty {
		sum := 1.0
		for _, r := range m.freqRatios {
			sum += r
		}
		for i, r := range m.freqRatios {
			m.freqs[i] = r / sum
		}
		m.freqs[len(m.freqs)-1] = 1 / sum
		if err := p.SetFrequencies(pi, m.freqs); err != nil {
			return err
		}
		m.freqDirty = false
	}
	if m.alphaDirty {
		rates, err := dist.GammaRates(info.Alpha, p.RateCats)
		if err != nil {
			return err
		}
		if err := p.SetCategoryRates(rates); err != nil {
			return err
		}
		m.alphaDirty = false
	}
	if m.pinvDirty {
		if err := p.SetPropInvar(pi, m.pinv); err != nil {
			return err
		}
		m.pinvDirty = false
	}
	return nil
}

func (m *modelOptimizable) Likelihood() float64 {
	if err := m.apply(); err != nil {
		log.Debug("Cannot set parameters:", err)
		return LnLUnlikely
	}
	return m.opts.Info.Likelihood()
}

// newModelOptimizable creates parameters starting from the current
// partition state.
func newModelOptimizable(opts *Options) (*modelOptimizable, error) {
	info := &opts.Info
	p := info.Partition
	if p == nil {
		return nil, errors.New("no partition")
	}
	if opts.Which&BranchesIterative != 0 {
		return nil, errors.New("iterative branch optimization requires a tree")
	}
	if opts.Which&(BranchesSingle|BranchesAll) == BranchesSingle|BranchesAll {
		return nil, errors.New("single and all branches are mutually exclusive")
	}
	m := &modelOptimizable{opts: opts}

	if opts.Which&SubstRates != 0 {
		cur := p.SubstParams(opts.ParamsIndex)
		last := cur[len(cur)-1]
		m.subst = make([]float64, len(cur)-1)
		for i := range m.subst {
			m.subst[i] = cur[i] / last
			par := NewBoundedFloatParameter(&m.subst[i], "subst_"+strconv.Itoa(i), MinSubstRate, MaxSubstRate)
			par.SetOnChange(func() { m.substDirty = true })
			m.parameters.Append(par)
		}
		m.substDirty = true
	}
	if opts.Which&Frequencies != 0 {
		cur := p.Frequencies(opts.ParamsIndex)
		last := cur[len(cur)-1]
		if last <= 0 {
			return nil, fmt.Errorf("frequency of the last state is %v", last)
		}
		m.freqs = make([]float64, len(cur))
		m.freqRatios = make([]float64, len(cur)-1)
		for i := range m.freqRatios {
			m.freqRatios[i] = cur[i] / last
			par := NewBoundedFloatParameter(&m.freqRatios[i], "freq_"+strconv.Itoa(i), MinFreqRatio, MaxFreqRatio)
			par.SetOnChange(func() { m.freqDirty = true })
			m.parameters.Append(par)
		}
		m.freqDirty = true
	}
	if opts.Which&Alpha != 0 {
		if p.RateCats < 2 {
			return nil, errors.New("alpha requires more than one rate category")
		}
		par := NewBoundedFloatParameter(&info.Alpha, "alpha", dist.MinAlpha, dist.MaxAlpha)
		par.SetOnChange(func() { m.alphaDirty = true })
		m.parameters.Append(par)
		m.alphaDirty = true
	}
	if opts.Which&Pinv != 0 {
		m.pinv = p.PropInvar(opts.ParamsIndex)
		par := NewBoundedFloatParameter(&m.pinv, "pinv", 0, MaxPinv)
		par.SetOnChange(func() { m.pinvDirty = true })
		m.parameters.Append(par)
		m.pinvDirty = true
	}
	switch {
	case opts.Which&BranchesAll != 0:
		for i := range info.BranchLengths {
			m.parameters.Append(NewBoundedFloatParameter(&info.BranchLengths[i],
				"br_"+strconv.Itoa(info.MatrixIndices[i]), MinBranchLength, MaxBranchLength))
		}
	case opts.Which&BranchesSingle != 0:
		if info.Where.Kind != Unrooted {
			return nil, errors.New("single branch optimization requires an unrooted evaluation point")
		}
		edge := -1
		for i, mi := range info.MatrixIndices {
			if mi == info.Where.Unrooted.EdgeMatrix {
				edge = i
			}
		}
		if edge < 0 {
			return nil, errors.New("edge matrix is not updated")
		}
		m.parameters.Append(NewBoundedFloatParameter(&info.BranchLengths[edge],
			"br_"+strconv.Itoa(info.MatrixIndices[edge]), MinBranchLength, MaxBranchLength))
	}
	if len(m.parameters) == 0 {
		return nil, errors.New("no parameters to optimize")
	}
	return m, nil
}

// OptimizeParameters maximizes the log-likelihood over the selected
// parameters with L-BFGS-B. The partition and the branch lengths are
// left at the optimum which is returned.
func OptimizeParameters(opts *Options) (float64, error) {
	m, err := newModelOptimizable(opts)
	if err != nil {
		return LnLUnlikely, err
	}
	if !m.parameters.InRange() {
		return LnLUnlikely, fmt.Errorf("starting values out of range: %s", m.parameters.ValuesString())
	}
	log.Infof("Optimizing %d parameters: %s", len(m.parameters), m.parameters.NamesString())
	opt := NewLBFGSB()
	opt.Quiet = opts.Output == nil
	opt.SetOutput(opts.Output)
	if opts.ReportPeriod > 0 {
		opt.SetReportPeriod(opts.ReportPeriod)
	}
	if opts.Checkpoint != nil {
		opt.SetCheckpointIO(opts.Checkpoint)
	}
	if len(opts.Signals) > 0 {
		opt.WatchSignals(opts.Signals...)
		defer signal.Stop(opt.sig)
	}
	if opts.FTolerance > 0 {
		opt.FTolerance = opts.FTolerance
	}
	if opts.GTolerance > 0 {
		opt.GTolerance = opts.GTolerance
	}
	opt.SetOptimizable(m)
	err = opt.Run(opts.Iterations)
	opts.Summary = opt.Summary()
	// recompute the partition state at the optimum
	lnL := m.Likelihood()
	if err != nil {
		return lnL, err
	}
	log.Infof("Optimized lnL=%v", lnL)
	return lnL, nil
}
