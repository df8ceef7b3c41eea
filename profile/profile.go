// Package profile plots log-likelihood profiles of a branch length.
package profile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Profile is a log-likelihood profile; D1 and D2 are derivatives of
// -lnL and can be empty.
type Profile struct {
	Node   int
	T      []float64
	LnL    []float64
	D1, D2 []float64
}

// Grid returns n branch lengths evenly spaced on the log scale
// between min and max.
func Grid(min, max float64, n int) ([]float64, error) {
	if min <= 0 || max <= min || n < 2 {
		return nil, fmt.Errorf("invalid grid: [%v, %v], %d points", min, max, n)
	}
	res := make([]float64, n)
	lmin, lmax := math.Log(min), math.Log(max)
	for i := range res {
		res[i] = math.Exp(lmin + (lmax-lmin)*float64(i)/float64(n-1))
	}
	res[n-1] = max
	return res, nil
}

// Max returns the branch length with the highest log-likelihood.
func (pr *Profile) Max() (t, lnL float64) {
	lnL = math.Inf(-1)
	for i, l := range pr.LnL {
		if l > lnL {
			t, lnL = pr.T[i], l
		}
	}
	return
}

func points(xs, ys []float64) plotter.XYs {
	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i].X = xs[i]
		pts[i].Y = ys[i]
	}
	return pts
}

// Save plots the log-likelihood against the branch length and marks
// the maximum. The format is chosen by the file extension (png, svg,
// pdf, ...).
func (pr *Profile) Save(fn string) error {
	if len(pr.T) == 0 || len(pr.T) != len(pr.LnL) {
		return errors.New("empty or inconsistent profile")
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("branch %d", pr.Node)
	p.X.Label.Text = "branch length"
	p.X.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{}
	p.Y.Label.Text = "lnL"

	if err := plotutil.AddLinePoints(p, "lnL", points(pr.T, pr.LnL)); err != nil {
		return err
	}
	if t, l := pr.Max(); !math.IsInf(l, 0) {
		max, err := plotter.NewScatter(plotter.XYs{{X: t, Y: l}})
		if err != nil {
			return err
		}
		p.Add(max)
		p.Legend.Add(fmt.Sprintf("max t=%.5f", t), max)
	}

	return p.Save(6*vg.Inch, 4*vg.Inch, fn)
}

// Write writes the profile as tab separated columns.
func (pr *Profile) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "t\tlnL\td1\td2")
	for i, t := range pr.T {
		fmt.Fprintf(bw, "%g\t%.6f", t, pr.LnL[i])
		if i < len(pr.D1) && i < len(pr.D2) {
			fmt.Fprintf(bw, "\t%g\t%g", pr.D1[i], pr.D2[i])
		}
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}
