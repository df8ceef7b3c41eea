package optimize

import (
	"errors"
	"math"
	"testing"

	"bitbucket.org/Davydov/golk/dist"
	"bitbucket.org/Davydov/golk/plh"
)

// threeTips creates a partition for the star tree (0,1,2) with inner
// CLV 3 merging tips 0 and 1. Matrices 0..2 belong to the tips. The
// evaluation point is the edge between 3 and tip 2.
func threeTips(tst *testing.T, cats int) *LikelihoodInfo {
	p, err := plh.NewPartition(plh.Config{Tips: 3, CLVBuffers: 2, States: 4, Sites: 6,
		RateMatrices: 1, ProbMatrices: 4, RateCats: cats, ScaleBuffers: 2})
	if err != nil {
		tst.Fatal(err)
	}
	if err := p.SetFrequencies(0, []float64{0.3, 0.2, 0.2, 0.3}); err != nil {
		tst.Fatal(err)
	}
	for i, seq := range []string{"ACGTAA", "ACGTCA", "AGGTCT"} {
		if err := p.SetTipStates(i, &plh.NTMap, seq); err != nil {
			tst.Fatal(err)
		}
	}
	return &LikelihoodInfo{
		Partition: p,
		Operations: []plh.Operation{{ParentCLV: 3, ParentScaler: 0,
			Child1CLV: 0, Child1Matrix: 0, Child1Scaler: plh.ScaleBufferNone,
			Child2CLV: 1, Child2Matrix: 1, Child2Scaler: plh.ScaleBufferNone}},
		BranchLengths: []float64{0.1, 0.2, 0.3},
		MatrixIndices: []int{0, 1, 2},
		Where: Where{Kind: Unrooted, Unrooted: UnrootedWhere{
			ParentCLV: 3, ParentScaler: 0,
			ChildCLV: 2, ChildScaler: plh.ScaleBufferNone,
			EdgeMatrix: 2,
		}},
		Alpha: 1,
	}
}

func TestRootedUnrooted(tst *testing.T) {
	info := threeTips(tst, 1)
	unrooted, err := info.LogLikelihood()
	if err != nil {
		tst.Fatal(err)
	}

	// root at the end of the branch leading to inner node 3
	rooted := *info
	rooted.Operations = append(append([]plh.Operation(nil), info.Operations...),
		plh.Operation{ParentCLV: 4, ParentScaler: 1,
			Child1CLV: 3, Child1Matrix: 3, Child1Scaler: 0,
			Child2CLV: 2, Child2Matrix: 2, Child2Scaler: plh.ScaleBufferNone})
	rooted.BranchLengths = []float64{0.1, 0.2, 0.3, 0}
	rooted.MatrixIndices = []int{0, 1, 2, 3}
	rooted.Where = Where{Kind: Rooted, Rooted: RootedWhere{RootCLV: 4, Scaler: 1}}
	lnL, err := rooted.LogLikelihood()
	if err != nil {
		tst.Fatal(err)
	}
	if math.Abs(unrooted-lnL) > 1e-10 {
		tst.Errorf("unrooted %v, rooted %v", unrooted, lnL)
	}
	if Unrooted.String() != "unrooted" || Rooted.String() != "rooted" {
		tst.Error("wrong kind names")
	}
}

func TestUnlikely(tst *testing.T) {
	info := threeTips(tst, 1)
	info.BranchLengths[0] = -1
	if _, err := info.LogLikelihood(); !errors.Is(err, plh.ErrInvalidParam) {
		tst.Error("negative branch length accepted:", err)
	}
	if l := info.Likelihood(); l != LnLUnlikely {
		tst.Error("expected unlikely value, got", l)
	}
}

// edgeNewton optimizes the evaluation edge with sumtable derivatives.
func edgeNewton(tst *testing.T, info *LikelihoodInfo) (float64, float64) {
	if _, err := info.LogLikelihood(); err != nil {
		tst.Fatal(err)
	}
	w := info.Where.Unrooted
	p := info.Partition
	st, err := p.UpdateSumtable(w.ParentCLV, w.ChildCLV, nil, nil)
	if err != nil {
		tst.Fatal(err)
	}
	k := 1 / (1 - p.PropInvar(0))
	t, lnL, err := NewNewton().Optimize(func(t float64) (float64, float64, float64, error) {
		lnL, d1, d2, err := p.Derivatives(st, w.ParentScaler, w.ChildScaler, nil, t)
		return lnL, d1 * k, d2 * k * k, err
	}, info.BranchLengths[2])
	if err != nil {
		tst.Fatal(err)
	}
	return t, lnL
}

func TestOptimizeSingleBranch(tst *testing.T) {
	info := threeTips(tst, 1)
	t, newtonL := edgeNewton(tst, info)

	info = threeTips(tst, 1)
	start := info.Likelihood()
	lnL, err := OptimizeParameters(&Options{Info: *info, Which: BranchesSingle})
	if err != nil {
		tst.Fatal(err)
	}
	if lnL < start {
		tst.Errorf("likelihood decreased: %v -> %v", start, lnL)
	}
	if math.Abs(lnL-newtonL) > 1e-6 {
		tst.Errorf("L-BFGS-B lnL %v, Newton lnL %v (t=%v)", lnL, newtonL, t)
	}
}

func TestOptimizeModel(tst *testing.T) {
	info := threeTips(tst, 4)
	rates, err := dist.GammaRates(info.Alpha, 4)
	if err != nil {
		tst.Fatal(err)
	}
	if err := info.Partition.SetCategoryRates(rates); err != nil {
		tst.Fatal(err)
	}
	start := info.Likelihood()
	opts := &Options{Info: *info, Which: Alpha | Pinv | BranchesAll}
	lnL, err := OptimizeParameters(opts)
	if err != nil {
		tst.Fatal(err)
	}
	if lnL < start {
		tst.Errorf("likelihood decreased: %v -> %v", start, lnL)
	}
	if opts.Info.Alpha < 0.02 || opts.Info.Alpha > 1000 {
		tst.Error("alpha out of bounds:", opts.Info.Alpha)
	}
	if pinv := info.Partition.PropInvar(0); pinv < 0 || pinv > MaxPinv {
		tst.Error("pinv out of bounds:", pinv)
	}
	// the partition is left at the optimum
	if l := opts.Info.Likelihood(); math.Abs(l-lnL) > 1e-9 {
		tst.Errorf("partition is not at the optimum: %v vs %v", l, lnL)
	}
}

func TestOptimizeErrors(tst *testing.T) {
	info := threeTips(tst, 1)
	for _, w := range []Which{0, Alpha, BranchesIterative, BranchesAll | BranchesSingle} {
		if _, err := OptimizeParameters(&Options{Info: *info, Which: w}); err == nil {
			tst.Errorf("mask %b accepted", w)
		}
	}
	info.Where.Unrooted.EdgeMatrix = 3
	if _, err := OptimizeParameters(&Options{Info: *info, Which: BranchesSingle}); err == nil {
		tst.Error("edge without a branch length accepted")
	}
}
