// Package optimize implements likelihood optimizers: L-BFGS-B over
// model parameters and Newton-Raphson for single branch lengths.
package optimize

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/golk/checkpoint"
)

var log = logging.MustGetLogger("optimize")

// ErrInterrupted is returned by Run after a watched signal.
var ErrInterrupted = errors.New("optimization interrupted")

// Optimizable is a function of float parameters to maximize.
type Optimizable interface {
	GetFloatParameters() FloatParameters
	Likelihood() float64
}

// Optimizer maximizes the likelihood of an Optimizable.
type Optimizer interface {
	SetOptimizable(Optimizable)
	WatchSignals(...os.Signal)
	SetReportPeriod(period int)
	SetOutput(io.Writer)
	SetCheckpointIO(*checkpoint.IO)
	Run(iterations int) error
	GetL() float64
	GetMaxL() float64
	GetMaxLParameters() []float64
	Summary() Summary
}

// Summary is the optimization result.
type Summary struct {
	Optimizer             string
	Iterations            int
	LikelihoodCalls       int
	MaxLnL                float64
	MaxLParameters        map[string]float64
	ExitStatus            string `json:",omitempty"`
	ResumedFromCheckpoint bool   `json:",omitempty"`
}

// BaseOptimizer implements reporting, signals and checkpoints.
type BaseOptimizer struct {
	Optimizable
	parameters FloatParameters
	name       string
	i          int
	calls      int
	l          float64
	maxL       float64
	maxLPar    []float64
	repPeriod  int
	sig        chan os.Signal
	output     io.Writer
	cio        *checkpoint.IO
	resumed    bool
	status     string
	Quiet      bool
}

func (o *BaseOptimizer) SetOptimizable(opt Optimizable) {
	o.Optimizable = opt
	o.parameters = opt.GetFloatParameters()
	o.maxL = math.Inf(-1)
}

// WatchSignals makes Run stop after one of the signals is received.
func (o *BaseOptimizer) WatchSignals(sigs ...os.Signal) {
	o.sig = make(chan os.Signal, 1)
	signal.Notify(o.sig, sigs...)
}

func (o *BaseOptimizer) SetReportPeriod(period int) {
	o.repPeriod = period
}

// SetOutput sets the trajectory writer; nil disables the trajectory.
func (o *BaseOptimizer) SetOutput(w io.Writer) {
	o.output = w
}

// SetCheckpointIO enables checkpointing. If the checkpoint holds
// parameters they are used as the starting point.
func (o *BaseOptimizer) SetCheckpointIO(cio *checkpoint.IO) {
	o.cio = cio
}

// loadCheckpoint restores parameters from the checkpoint if any.
func (o *BaseOptimizer) loadCheckpoint() (final bool, err error) {
	if o.cio == nil {
		return false, nil
	}
	data, err := o.cio.Load()
	if err != nil || data == nil {
		return false, err
	}
	if err := o.parameters.SetMap(data.Parameters); err != nil {
		return false, fmt.Errorf("checkpoint: %w", err)
	}
	o.resumed = true
	o.i = data.Iter
	o.cio.SetNow()
	return data.Final, nil
}

// saveCheckpoint saves the best point if the last checkpoint is old
// or the optimization is finished.
func (o *BaseOptimizer) saveCheckpoint(final bool) {
	if o.cio == nil || o.maxLPar == nil || (!final && !o.cio.Old()) {
		return
	}
	values := o.parameters.Values(nil)
	o.parameters.SetValues(o.maxLPar)
	data := &checkpoint.Data{
		Parameters: o.parameters.Map(),
		Likelihood: o.maxL,
		Iter:       o.i,
		Final:      final,
	}
	o.parameters.SetValues(values)
	// errors are logged by checkpoint
	o.cio.Save(data)
}

// interrupted checks for a watched signal.
func (o *BaseOptimizer) interrupted() bool {
	select {
	case s := <-o.sig:
		log.Warningf("Received signal %v, stopping", s)
		return true
	default:
		return false
	}
}

// record registers a likelihood value at the current parameters.
func (o *BaseOptimizer) record(l float64) {
	o.calls++
	o.l = l
	if l > o.maxL {
		o.maxL = l
		o.maxLPar = o.parameters.Values(o.maxLPar)
	}
}

// setMaxLParameters sets parameters to the best point found.
func (o *BaseOptimizer) setMaxLParameters() {
	if o.maxLPar != nil {
		o.parameters.SetValues(o.maxLPar)
	}
}

func (o *BaseOptimizer) PrintHeader() {
	if !o.Quiet && o.output != nil {
		fmt.Fprintf(o.output, "iteration\tlikelihood\t%s\n", o.parameters.NamesString())
	}
}

func (o *BaseOptimizer) PrintLine() {
	if !o.Quiet && o.output != nil && (o.repPeriod <= 0 || o.i%o.repPeriod == 0) {
		fmt.Fprintf(o.output, "%d\t%f\t%s\n", o.i, o.l, o.parameters.ValuesString())
	}
}

// PrintResults logs the best point.
func (o *BaseOptimizer) PrintResults() {
	if o.Quiet {
		return
	}
	log.Noticef("Maximum likelihood: %v", o.maxL)
	log.Infof("Likelihood function calls: %v", o.calls)
	names := o.parameters.Names(nil)
	for i, v := range o.maxLPar {
		log.Infof("%s=%v", names[i], v)
	}
}

func (o *BaseOptimizer) GetL() float64 {
	return o.l
}

func (o *BaseOptimizer) GetMaxL() float64 {
	return o.maxL
}

func (o *BaseOptimizer) GetMaxLParameters() []float64 {
	return o.maxLPar
}

func (o *BaseOptimizer) Summary() Summary {
	s := Summary{
		Optimizer:             o.name,
		Iterations:            o.i,
		LikelihoodCalls:       o.calls,
		MaxLnL:                o.maxL,
		MaxLParameters:        make(map[string]float64, len(o.maxLPar)),
		ExitStatus:            o.status,
		ResumedFromCheckpoint: o.resumed,
	}
	names := o.parameters.Names(nil)
	for i, v := range o.maxLPar {
		s.MaxLParameters[names[i]] = v
	}
	return s
}
