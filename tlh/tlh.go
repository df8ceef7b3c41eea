// Package tlh computes tree likelihoods: it binds a tree and a
// sequence alignment to a partition and optimizes branch lengths and
// model parameters.
package tlh

import (
	"errors"
	"fmt"
	"math"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/golk/bio"
	"bitbucket.org/Davydov/golk/dist"
	"bitbucket.org/Davydov/golk/optimize"
	"bitbucket.org/Davydov/golk/plh"
	"bitbucket.org/Davydov/golk/tree"
)

var log = logging.MustGetLogger("tlh")

// smoothingTolerance is the smallest lnL improvement of a pass over
// all the branches.
const smoothingTolerance = 1e-8

var (
	// ErrTaxaMismatch means tree leaves and sequence names differ.
	ErrTaxaMismatch = errors.New("tree and alignment taxa differ")
	// ErrSeqLenMismatch means sequences have different lengths.
	ErrSeqLenMismatch = errors.New("sequences have different lengths")
)

// Config holds model settings.
type Config struct {
	// Map encodes sequence characters, plh.NTMap by default.
	Map *plh.Map
	// States is the number of states, 4 by default.
	States   int
	RateCats int
	// Alpha is the gamma shape for RateCats > 1.
	Alpha float64
	Pinv  float64
	// Freqs are equilibrium frequencies; nil means empirical.
	Freqs []float64
	// SubstParams are GTR exchangeabilities; nil means all equal.
	SubstParams []float64
	Attributes  plh.Attrib
}

// TreeLikelihood evaluates the likelihood of an unrooted tree.
//
// Tips use CLV indices 0..n-1 (leaf ids). An inner node with id i has
// its down CLV (its subtree) at n+i; every non-root node i has its up
// CLV (the rest of the tree, located at its parent) at n+N+i, where N
// is the number of nodes. Scale buffers follow the same layout
// without the tip offset. The branch from node i to its parent uses
// probability matrix i.
type TreeLikelihood struct {
	tree   *tree.Tree
	rm     *tree.Node
	p      *plh.Partition
	nTips  int
	nNodes int
	alpha  float64
	// evaluation edge, a child of the root
	edge *tree.Node
	st   *plh.Sumtable
}

// New creates a tree likelihood. A binary root is removed; every
// other inner node must be binary.
func New(t *tree.Tree, seqs bio.Sequences, cfg Config) (*TreeLikelihood, error) {
	if cfg.Map == nil {
		cfg.Map = &plh.NTMap
	}
	if cfg.States == 0 {
		cfg.States = 4
	}
	if cfg.RateCats == 0 {
		cfg.RateCats = 1
	}
	if _, err := seqs.Length(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSeqLenMismatch, err)
	}

	tl := &TreeLikelihood{tree: t, alpha: cfg.Alpha}
	if len(t.ChildNodes()) == 2 {
		rm, err := t.Unroot()
		if err != nil {
			return nil, err
		}
		log.Info("Tree is rooted, unrooting")
		tl.rm = rm
	}
	if err := tl.checkTopology(); err != nil {
		return nil, err
	}
	tl.nTips = t.NLeaves()
	tl.nNodes = t.NNodes()
	children := t.ChildNodes()
	tl.edge = children[len(children)-1]

	patterns, weights, err := seqs.Compress()
	if err != nil {
		return nil, err
	}
	log.Infof("%d taxa, %d site patterns", len(patterns), len(weights))

	p, err := plh.NewPartition(plh.Config{
		Tips:         tl.nTips,
		CLVBuffers:   2 * tl.nNodes,
		States:       cfg.States,
		Sites:        len(weights),
		RateMatrices: 1,
		ProbMatrices: tl.nNodes,
		RateCats:     cfg.RateCats,
		ScaleBuffers: 2 * tl.nNodes,
		Attributes:   cfg.Attributes,
	})
	if err != nil {
		return nil, err
	}
	tl.p = p
	log.Debugf("Using %s kernels", p.Kernel())

	if err := tl.setTips(patterns, cfg.Map); err != nil {
		return nil, err
	}
	if err := p.SetPatternWeights(weights); err != nil {
		return nil, err
	}
	freqs := cfg.Freqs
	if freqs == nil {
		freqs, err = patterns.EmpiricalFreqs(cfg.Map, cfg.States, weights)
		if err != nil {
			return nil, err
		}
		log.Debugf("Empirical frequencies: %v", freqs)
	}
	if err := p.SetFrequencies(0, freqs); err != nil {
		return nil, err
	}
	if cfg.SubstParams != nil {
		if err := p.SetSubstParams(0, cfg.SubstParams); err != nil {
			return nil, err
		}
	}
	if cfg.RateCats > 1 {
		if err := tl.SetAlpha(cfg.Alpha); err != nil {
			return nil, err
		}
	}
	if err := tl.SetPinv(cfg.Pinv); err != nil {
		return nil, err
	}
	return tl, nil
}

// checkTopology requires a trifurcating root and binary inner nodes.
func (tl *TreeLikelihood) checkTopology() error {
	if n := len(tl.tree.ChildNodes()); n != 3 {
		return fmt.Errorf("unrooted tree root must have 3 children, got %d", n)
	}
	for node := range tl.tree.NonTerminals() {
		if !node.IsRoot() && len(node.ChildNodes()) != 2 {
			return fmt.Errorf("node %d has %d children, expected 2", node.Id, len(node.ChildNodes()))
		}
	}
	return nil
}

// setTips sets tip sequences by leaf id.
func (tl *TreeLikelihood) setTips(patterns bio.Sequences, m *plh.Map) error {
	index := patterns.Index()
	if len(index) != len(patterns) {
		return fmt.Errorf("%w: duplicate sequence names", ErrTaxaMismatch)
	}
	if len(patterns) != tl.nTips {
		return fmt.Errorf("%w: %d leaves, %d sequences", ErrTaxaMismatch, tl.nTips, len(patterns))
	}
	for node := range tl.tree.Terminals() {
		i, ok := index[node.Name]
		if !ok {
			return fmt.Errorf("%w: no sequence for %s", ErrTaxaMismatch, node.Name)
		}
		if err := tl.p.SetTipStates(node.LeafId, m, patterns[i].Sequence); err != nil {
			return fmt.Errorf("sequence %s: %w", node.Name, err)
		}
	}
	return nil
}

// Partition returns the underlying partition.
func (tl *TreeLikelihood) Partition() *plh.Partition {
	return tl.p
}

// Tree returns the tree with the current branch lengths. A removed
// root is restored on a copy.
func (tl *TreeLikelihood) Tree() (*tree.Tree, error) {
	if tl.rm == nil {
		return tl.tree, nil
	}
	t := tl.tree.Copy()
	rm := tl.rm.Copy()
	// reattach copied children of the removed node
	nodes := t.Nodes()
	for _, child := range tl.rm.ChildNodes() {
		rm.AddChild(nodes[child.Id])
	}
	if err := t.Root(rm); err != nil {
		return nil, err
	}
	return t, nil
}

// UnrootedTree returns the tree the likelihood is computed on.
func (tl *TreeLikelihood) UnrootedTree() *tree.Tree {
	return tl.tree
}

// SetAlpha sets the gamma shape of the rate categories.
func (tl *TreeLikelihood) SetAlpha(alpha float64) error {
	rates, err := dist.GammaRates(alpha, tl.p.RateCats)
	if err != nil {
		return err
	}
	tl.alpha = alpha
	return tl.p.SetCategoryRates(rates)
}

// Alpha returns the gamma shape.
func (tl *TreeLikelihood) Alpha() float64 {
	return tl.alpha
}

// SetPinv sets the proportion of invariant sites.
func (tl *TreeLikelihood) SetPinv(pinv float64) error {
	return tl.p.SetPropInvar(0, pinv)
}

// clv returns CLV index of a node subtree.
func (tl *TreeLikelihood) clv(node *tree.Node) int {
	if node.IsTerminal() {
		return node.LeafId
	}
	return tl.nTips + node.Id
}

// scaler returns scale buffer of a node subtree.
func (tl *TreeLikelihood) scaler(node *tree.Node) int {
	if node.IsTerminal() {
		return plh.ScaleBufferNone
	}
	return node.Id
}

// upCLV returns CLV index of the tree outside of a node subtree.
func (tl *TreeLikelihood) upCLV(node *tree.Node) int {
	return tl.nTips + tl.nNodes + node.Id
}

func (tl *TreeLikelihood) upScaler(node *tree.Node) int {
	return tl.nNodes + node.Id
}

// siblings returns the other children of the node parent.
func siblings(node *tree.Node) []*tree.Node {
	var res []*tree.Node
	for _, child := range node.Parent.ChildNodes() {
		if child != node {
			res = append(res, child)
		}
	}
	return res
}

// downOperations computes subtree CLVs of all inner nodes but the
// root.
func (tl *TreeLikelihood) downOperations() []plh.Operation {
	ops := make([]plh.Operation, 0, tl.nNodes)
	for _, node := range tl.tree.NodeOrder() {
		if node.IsRoot() {
			continue
		}
		c := node.ChildNodes()
		ops = append(ops, plh.Operation{
			ParentCLV:    tl.clv(node),
			ParentScaler: tl.scaler(node),
			Child1CLV:    tl.clv(c[0]),
			Child1Matrix: c[0].Id,
			Child1Scaler: tl.scaler(c[0]),
			Child2CLV:    tl.clv(c[1]),
			Child2Matrix: c[1].Id,
			Child2Scaler: tl.scaler(c[1]),
		})
	}
	return ops
}

// upOperation computes the up CLV of a node. The up CLV of the parent
// must be computed unless the parent is the root.
func (tl *TreeLikelihood) upOperation(node *tree.Node) plh.Operation {
	sib := siblings(node)
	op := plh.Operation{
		ParentCLV:    tl.upCLV(node),
		ParentScaler: tl.upScaler(node),
		Child1CLV:    tl.clv(sib[0]),
		Child1Matrix: sib[0].Id,
		Child1Scaler: tl.scaler(sib[0]),
	}
	if node.Parent.IsRoot() {
		op.Child2CLV = tl.clv(sib[1])
		op.Child2Matrix = sib[1].Id
		op.Child2Scaler = tl.scaler(sib[1])
	} else {
		parent := node.Parent
		op.Child2CLV = tl.upCLV(parent)
		op.Child2Matrix = parent.Id
		op.Child2Scaler = tl.upScaler(parent)
	}
	return op
}

// branches returns matrix indices and branch lengths of all the
// non-root nodes.
func (tl *TreeLikelihood) branches() ([]int, []float64) {
	indices := make([]int, 0, tl.nNodes-1)
	lengths := make([]float64, 0, tl.nNodes-1)
	for _, node := range tl.tree.Nodes() {
		if node.IsRoot() {
			continue
		}
		indices = append(indices, node.Id)
		lengths = append(lengths, node.BranchLength)
	}
	return indices, lengths
}

// info returns likelihood evaluation at the edge between the root
// and its last child.
func (tl *TreeLikelihood) info() optimize.LikelihoodInfo {
	indices, lengths := tl.branches()
	ops := append(tl.downOperations(), tl.upOperation(tl.edge))
	return optimize.LikelihoodInfo{
		Partition:     tl.p,
		Operations:    ops,
		BranchLengths: lengths,
		MatrixIndices: indices,
		Where: optimize.Where{
			Kind: optimize.Unrooted,
			Unrooted: optimize.UnrootedWhere{
				ParentCLV:    tl.upCLV(tl.edge),
				ParentScaler: tl.upScaler(tl.edge),
				ChildCLV:     tl.clv(tl.edge),
				ChildScaler:  tl.scaler(tl.edge),
				EdgeMatrix:   tl.edge.Id,
			},
		},
		Alpha: tl.alpha,
	}
}

// LogLikelihood computes the log-likelihood.
func (tl *TreeLikelihood) LogLikelihood() (float64, error) {
	info := tl.info()
	return info.LogLikelihood()
}

// Likelihood computes the log-likelihood, failures are reported as
// optimize.LnLUnlikely.
func (tl *TreeLikelihood) Likelihood() float64 {
	info := tl.info()
	return info.Likelihood()
}

// updateAll recomputes matrices, subtree CLVs and up CLVs of all the
// nodes.
func (tl *TreeLikelihood) updateAll() error {
	indices, lengths := tl.branches()
	if err := tl.p.UpdateProbMatrices(nil, indices, lengths); err != nil {
		return err
	}
	tl.p.UpdatePartials(tl.downOperations())
	ops := make([]plh.Operation, 0, tl.nNodes)
	for node := range tl.tree.Walker(nil) {
		if !node.IsRoot() {
			ops = append(ops, tl.upOperation(node))
		}
	}
	tl.p.UpdatePartials(ops)
	return nil
}

// branchFunction returns lnL and derivatives of the branch above a
// node. CLVs must be up to date.
func (tl *TreeLikelihood) branchFunction(node *tree.Node) (optimize.BranchFunction, error) {
	st, err := tl.p.UpdateSumtable(tl.upCLV(node), tl.clv(node), nil, tl.st)
	if err != nil {
		return nil, err
	}
	tl.st = st
	up, down := tl.upScaler(node), tl.scaler(node)
	k := 1 / (1 - tl.p.PropInvar(0))
	return func(t float64) (float64, float64, float64, error) {
		lnL, d1, d2, err := tl.p.Derivatives(st, up, down, nil, t)
		return lnL, d1 * k, d2 * k * k, err
	}, nil
}

// OptimizeBranches optimizes branch lengths one at a time with
// Newton-Raphson; smoothings is the number of passes over the tree.
func (tl *TreeLikelihood) OptimizeBranches(smoothings int) (float64, error) {
	lnL, err := tl.LogLikelihood()
	if err != nil {
		return lnL, err
	}
	newton := optimize.NewNewton()
	for i := 0; i < smoothings; i++ {
		start := lnL
		for _, node := range tl.tree.Nodes() {
			if node.IsRoot() {
				continue
			}
			if err := tl.updateAll(); err != nil {
				return math.Inf(-1), err
			}
			f, err := tl.branchFunction(node)
			if err != nil {
				return math.Inf(-1), err
			}
			t, bl, err := newton.Optimize(f, node.BranchLength)
			if err != nil {
				return math.Inf(-1), err
			}
			log.Debugf("node %d: branch %v -> %v, lnL=%v", node.Id, node.BranchLength, t, bl)
			node.BranchLength = t
			lnL = bl
		}
		log.Infof("Smoothing %d: lnL=%v", i+1, lnL)
		if lnL-start < smoothingTolerance {
			break
		}
	}
	return tl.LogLikelihood()
}

// OptimizeModel optimizes the model parameters selected by opts.Which
// with L-BFGS-B; the evaluation point is set from the tree. Optimized
// branch lengths and alpha are copied back.
func (tl *TreeLikelihood) OptimizeModel(opts *optimize.Options) (float64, error) {
	if opts.Which&optimize.BranchesIterative != 0 {
		opts.Which &^= optimize.BranchesIterative
		if _, err := tl.OptimizeBranches(32); err != nil {
			return math.Inf(-1), err
		}
		if opts.Which == 0 {
			return tl.LogLikelihood()
		}
	}
	opts.Info = tl.info()
	lnL, err := optimize.OptimizeParameters(opts)
	tl.alpha = opts.Info.Alpha
	nodes := tl.tree.Nodes()
	for i, id := range opts.Info.MatrixIndices {
		nodes[id].BranchLength = opts.Info.BranchLengths[i]
	}
	return lnL, err
}

// Profile computes lnL and derivatives of -lnL for branch lengths of
// the branch above a node.
func (tl *TreeLikelihood) Profile(nodeID int, ts []float64) (lnL, d1, d2 []float64, err error) {
	nodes := tl.tree.Nodes()
	if nodeID < 0 || nodeID >= len(nodes) || nodes[nodeID].IsRoot() {
		return nil, nil, nil, fmt.Errorf("no branch above node %d", nodeID)
	}
	if err := tl.updateAll(); err != nil {
		return nil, nil, nil, err
	}
	f, err := tl.branchFunction(nodes[nodeID])
	if err != nil {
		return nil, nil, nil, err
	}
	lnL = make([]float64, len(ts))
	d1 = make([]float64, len(ts))
	d2 = make([]float64, len(ts))
	for i, t := range ts {
		lnL[i], d1[i], d2[i], err = f(t)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return lnL, d1, d2, nil
}
