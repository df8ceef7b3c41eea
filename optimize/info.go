package optimize

import (
	"fmt"
	"math"

	"bitbucket.org/Davydov/golk/plh"
)

// Kind tells where the likelihood of a tree is evaluated.
type Kind int

const (
	// Rooted evaluates at a root CLV.
	Rooted Kind = iota
	// Unrooted evaluates at an edge between two CLVs.
	Unrooted
)

func (k Kind) String() string {
	if k == Rooted {
		return "rooted"
	}
	return "unrooted"
}

// RootedWhere is a root CLV with its scaler.
type RootedWhere struct {
	RootCLV int
	Scaler  int
}

// UnrootedWhere is an edge: two CLVs, their scalers and the edge
// probability matrix.
type UnrootedWhere struct {
	ParentCLV    int
	ParentScaler int
	ChildCLV     int
	ChildScaler  int
	EdgeMatrix   int
}

// Where is an evaluation point; only the member selected by Kind is
// used.
type Where struct {
	Kind     Kind
	Rooted   RootedWhere
	Unrooted UnrootedWhere
}

// LikelihoodInfo holds everything needed to evaluate a partition
// log-likelihood: the matrices to update, the traversal and the
// evaluation point.
type LikelihoodInfo struct {
	Partition     *plh.Partition
	Operations    []plh.Operation
	BranchLengths []float64
	MatrixIndices []int
	// ParamsIndices select a rate matrix set per rate category; nil
	// uses set 0 everywhere.
	ParamsIndices []int
	Where         Where
	// Alpha is the gamma shape, only meaningful with more than one
	// rate category.
	Alpha float64
}

// LogLikelihood recomputes probability matrices and CLVs and
// evaluates the log-likelihood.
func (info *LikelihoodInfo) LogLikelihood() (float64, error) {
	p := info.Partition
	if len(info.MatrixIndices) > 0 {
		if err := p.UpdateProbMatrices(info.ParamsIndices, info.MatrixIndices, info.BranchLengths); err != nil {
			return math.Inf(-1), err
		}
	}
	p.UpdatePartials(info.Operations)
	switch info.Where.Kind {
	case Rooted:
		w := info.Where.Rooted
		return p.RootLogLikelihood(w.RootCLV, w.Scaler, info.ParamsIndices)
	case Unrooted:
		w := info.Where.Unrooted
		return p.EdgeLogLikelihood(w.ParentCLV, w.ParentScaler,
			w.ChildCLV, w.ChildScaler, w.EdgeMatrix, info.ParamsIndices)
	}
	return math.Inf(-1), fmt.Errorf("unknown evaluation kind %d", info.Where.Kind)
}

// Likelihood is LogLikelihood with errors mapped to LnLUnlikely.
func (info *LikelihoodInfo) Likelihood() float64 {
	lnL, err := info.LogLikelihood()
	if err != nil || math.IsNaN(lnL) || math.IsInf(lnL, 0) {
		log.Debug("Likelihood evaluation failed:", err)
		return LnLUnlikely
	}
	return lnL
}
