package optimize

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"bitbucket.org/Davydov/golk/checkpoint"
)

// quadratic has the maximum at (1, 2).
type quadratic struct {
	x, y  float64
	par   FloatParameters
	calls int
}

func newQuadratic() *quadratic {
	q := &quadratic{x: 5, y: -3}
	q.par.Append(NewBoundedFloatParameter(&q.x, "x", -10, 10))
	q.par.Append(NewBoundedFloatParameter(&q.y, "y", -10, 10))
	return q
}

func (q *quadratic) GetFloatParameters() FloatParameters {
	return q.par
}

func (q *quadratic) Likelihood() float64 {
	q.calls++
	return -(q.x-1)*(q.x-1) - 3*(q.y-2)*(q.y-2)
}

func TestLBFGSB(tst *testing.T) {
	q := newQuadratic()
	opt := NewLBFGSB()
	var out bytes.Buffer
	opt.SetOutput(&out)
	opt.SetReportPeriod(1)
	opt.SetOptimizable(q)
	if err := opt.Run(100); err != nil {
		tst.Fatal(err)
	}
	if math.Abs(q.x-1) > 1e-4 || math.Abs(q.y-2) > 1e-4 {
		tst.Errorf("wrong optimum: %v, %v", q.x, q.y)
	}
	if opt.GetMaxL() < -1e-8 {
		tst.Error("wrong maximum:", opt.GetMaxL())
	}
	if !strings.HasPrefix(out.String(), "iteration\tlikelihood\tx\ty\n") {
		tst.Errorf("wrong trajectory header: %q", out.String())
	}
	s := opt.Summary()
	if s.Optimizer != "lbfgsb" || s.LikelihoodCalls == 0 || s.MaxLParameters["y"] != q.y {
		tst.Errorf("wrong summary: %+v", s)
	}
}

func TestLBFGSBBounds(tst *testing.T) {
	q := newQuadratic()
	q.par[1].SetMax(0)
	opt := NewLBFGSB()
	opt.SetOptimizable(q)
	if err := opt.Run(0); err != nil {
		tst.Fatal(err)
	}
	if math.Abs(q.x-1) > 1e-4 || q.y > 0 || q.y < -2*boundMargin {
		tst.Errorf("wrong bounded optimum: %v, %v", q.x, q.y)
	}
}

func TestCheckpoint(tst *testing.T) {
	db, err := checkpoint.Open(filepath.Join(tst.TempDir(), "opt.db"))
	if err != nil {
		tst.Fatal(err)
	}
	defer db.Close()
	cio := checkpoint.NewIO(db, []byte("quadratic"), 0)

	q := newQuadratic()
	opt := NewLBFGSB()
	opt.SetOptimizable(q)
	opt.SetCheckpointIO(cio)
	if err := opt.Run(100); err != nil {
		tst.Fatal(err)
	}
	x, y := q.x, q.y

	data, err := cio.Load()
	if err != nil {
		tst.Fatal(err)
	}
	if data == nil || !data.Final || data.Parameters["x"] != x || data.Parameters["y"] != y {
		tst.Fatalf("wrong final checkpoint: %+v", data)
	}

	// a final checkpoint is restored without optimization
	q = newQuadratic()
	opt = NewLBFGSB()
	opt.SetOptimizable(q)
	opt.SetCheckpointIO(cio)
	if err := opt.Run(100); err != nil {
		tst.Fatal(err)
	}
	if q.x != x || q.y != y || q.calls != 1 || !opt.Summary().ResumedFromCheckpoint {
		tst.Errorf("checkpoint was not restored: %v, %v (%d calls)", q.x, q.y, q.calls)
	}
}

func TestNone(tst *testing.T) {
	q := newQuadratic()
	opt := NewNone()
	opt.SetOptimizable(q)
	if err := opt.Run(10); err != nil {
		tst.Fatal(err)
	}
	if opt.GetMaxL() != -16-3*25 || q.x != 5 {
		tst.Error("none optimizer changed parameters or likelihood:", opt.GetMaxL())
	}
}
