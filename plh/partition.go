// Package plh implements partial likelihood propagation: conditional
// likelihood vector (CLV) updates with scaling, tip lookup tables,
// sumtables and branch length derivatives.
package plh

import (
	"fmt"
	"math"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/golk/model"
)

// log is the global logging variable.
var log = logging.MustGetLogger("plh")

// Config holds partition dimensions fixed at creation.
type Config struct {
	// Tips is the number of tips.
	Tips int
	// CLVBuffers is the number of inner CLV buffers.
	CLVBuffers int
	// States is the number of states.
	States int
	// Sites is the number of sites (patterns).
	Sites int
	// RateMatrices is the number of rate matrix sets.
	RateMatrices int
	// ProbMatrices is the number of probability matrices.
	ProbMatrices int
	// RateCats is the number of rate categories.
	RateCats int
	// ScaleBuffers is the number of scale buffers.
	ScaleBuffers int
	// Attributes select the kernel implementation.
	Attributes Attrib
}

// Partition owns all the buffers and model parameters for one
// alignment. It is not safe for concurrent use.
type Partition struct {
	Config
	d    dims
	kern kernels

	// clv is indexed by CLV index, tip entries are nil
	clv          [][]float64
	pmatrix      [][]float64
	scaleBuffer  [][]uint32
	tipChars     [][]uint8
	tipMap       *Map
	codes        *tipCodes
	tipVectors   [][]float64
	lookup       []float64
	eigenDecomp  []bool
	frequencies  [][]float64
	substParams  [][]float64
	eigenvecs    [][]float64
	invEigenvecs [][]float64
	eigenvals    [][]float64
	propInvar    []float64
	rates        []float64
	rateWeights  []float64
	// patternWeights are site multiplicities
	patternWeights []uint32
	// invariant is the invariant state of every site or -1
	invariant []int
}

// NewPartition creates a new partition.
func NewPartition(cfg Config) (*Partition, error) {
	switch {
	case cfg.Tips < 1:
		return nil, errorf(KindInvalidParam, "number of tips must be positive, got %d", cfg.Tips)
	case cfg.CLVBuffers < 0:
		return nil, errorf(KindInvalidParam, "negative number of CLV buffers")
	case cfg.States < 2 || cfg.States > MaxStates:
		return nil, errorf(KindInvalidParam, "number of states must be between 2 and %d, got %d", MaxStates, cfg.States)
	case cfg.Sites < 1:
		return nil, errorf(KindInvalidParam, "number of sites must be positive, got %d", cfg.Sites)
	case cfg.RateMatrices < 1:
		return nil, errorf(KindInvalidParam, "number of rate matrices must be positive, got %d", cfg.RateMatrices)
	case cfg.ProbMatrices < 0:
		return nil, errorf(KindInvalidParam, "negative number of probability matrices")
	case cfg.RateCats < 1:
		return nil, errorf(KindInvalidParam, "number of rate categories must be positive, got %d", cfg.RateCats)
	case cfg.ScaleBuffers < 0:
		return nil, errorf(KindInvalidParam, "negative number of scale buffers")
	}

	p := &Partition{
		Config: cfg,
		d:      dims{states: cfg.States, sites: cfg.Sites, rateCats: cfg.RateCats},
		kern:   selectKernels(cfg.Attributes),
	}
	span := p.d.span()

	p.clv = make([][]float64, cfg.Tips+cfg.CLVBuffers)
	for i := cfg.Tips; i < len(p.clv); i++ {
		p.clv[i] = make([]float64, cfg.Sites*span)
	}
	p.pmatrix = make([][]float64, cfg.ProbMatrices)
	for i := range p.pmatrix {
		p.pmatrix[i] = make([]float64, cfg.RateCats*cfg.States*cfg.States)
		// identity matrices until set
		for c := 0; c < cfg.RateCats; c++ {
			for s := 0; s < cfg.States; s++ {
				p.pmatrix[i][(c*cfg.States+s)*cfg.States+s] = 1
			}
		}
	}
	p.scaleBuffer = make([][]uint32, cfg.ScaleBuffers)
	for i := range p.scaleBuffer {
		p.scaleBuffer[i] = make([]uint32, cfg.Sites)
	}
	p.tipChars = make([][]uint8, cfg.Tips)

	p.eigenDecomp = make([]bool, cfg.RateMatrices)
	p.frequencies = make([][]float64, cfg.RateMatrices)
	p.substParams = make([][]float64, cfg.RateMatrices)
	p.eigenvecs = make([][]float64, cfg.RateMatrices)
	p.invEigenvecs = make([][]float64, cfg.RateMatrices)
	p.eigenvals = make([][]float64, cfg.RateMatrices)
	p.propInvar = make([]float64, cfg.RateMatrices)
	for i := 0; i < cfg.RateMatrices; i++ {
		p.frequencies[i] = make([]float64, cfg.States)
		for s := range p.frequencies[i] {
			p.frequencies[i][s] = 1 / float64(cfg.States)
		}
		p.substParams[i] = make([]float64, model.NSubstParams(cfg.States))
		for j := range p.substParams[i] {
			p.substParams[i][j] = 1
		}
		p.eigenvecs[i] = make([]float64, cfg.States*cfg.States)
		p.invEigenvecs[i] = make([]float64, cfg.States*cfg.States)
		p.eigenvals[i] = make([]float64, cfg.States)
	}

	p.rates = make([]float64, cfg.RateCats)
	p.rateWeights = make([]float64, cfg.RateCats)
	for i := range p.rates {
		p.rates[i] = 1
		p.rateWeights[i] = 1 / float64(cfg.RateCats)
	}
	p.patternWeights = make([]uint32, cfg.Sites)
	for i := range p.patternWeights {
		p.patternWeights[i] = 1
	}

	log.Debugf("New partition: tips=%d, clvs=%d, states=%d, sites=%d, rate categories=%d, kernels=%s",
		cfg.Tips, cfg.CLVBuffers, cfg.States, cfg.Sites, cfg.RateCats, p.kern.Name())
	return p, nil
}

// Kernel returns the name of the kernel implementation in use.
func (p *Partition) Kernel() string {
	return p.kern.Name()
}

// Destroy releases all the buffers. The partition cannot be used
// afterwards.
func (p *Partition) Destroy() {
	*p = Partition{}
}

// IsTip returns true if a CLV index refers to a tip.
func (p *Partition) IsTip(index int) bool {
	return index < p.Tips
}

// CLV returns an inner CLV buffer (sites*rateCats*states). For tips
// it returns nil, since tips are stored as codes.
func (p *Partition) CLV(index int) []float64 {
	return p.clv[index]
}

// Scaler returns a scale buffer or nil for ScaleBufferNone.
func (p *Partition) Scaler(index int) []uint32 {
	if index == ScaleBufferNone {
		return nil
	}
	return p.scaleBuffer[index]
}

// ProbMatrix returns a probability matrix (rateCats*states*states).
func (p *Partition) ProbMatrix(index int) []float64 {
	return p.pmatrix[index]
}

// TipCodes returns the encoded characters of a tip.
func (p *Partition) TipCodes(tip int) []uint8 {
	return p.tipChars[tip]
}

// TipMask returns ambiguity mask of a tip at a site.
func (p *Partition) TipMask(tip, site int) Mask {
	return p.codes.masks[p.tipChars[tip][site]]
}

// SetFrequencies sets equilibrium frequencies of a rate matrix set.
// Frequencies are expected to sum to 1, which is not enforced.
func (p *Partition) SetFrequencies(paramsIndex int, freqs []float64) error {
	if err := p.checkParams(paramsIndex); err != nil {
		return err
	}
	if len(freqs) != p.States {
		return errorf(KindInvalidParam, "expected %d frequencies, got %d", p.States, len(freqs))
	}
	copy(p.frequencies[paramsIndex], freqs)
	p.eigenDecomp[paramsIndex] = false
	return nil
}

// Frequencies returns frequencies of a rate matrix set.
func (p *Partition) Frequencies(paramsIndex int) []float64 {
	return p.frequencies[paramsIndex]
}

// SetSubstParams sets GTR exchangeabilities (upper triangle of the
// rate matrix in row order) of a rate matrix set. Eigendecomposition
// is recomputed when needed.
func (p *Partition) SetSubstParams(paramsIndex int, params []float64) error {
	if err := p.checkParams(paramsIndex); err != nil {
		return err
	}
	if len(params) != len(p.substParams[paramsIndex]) {
		return errorf(KindInvalidParam, "expected %d substitution parameters, got %d",
			len(p.substParams[paramsIndex]), len(params))
	}
	copy(p.substParams[paramsIndex], params)
	p.eigenDecomp[paramsIndex] = false
	return nil
}

// SubstParams returns GTR exchangeabilities of a rate matrix set.
func (p *Partition) SubstParams(paramsIndex int) []float64 {
	return p.substParams[paramsIndex]
}

// SetEigen sets eigendecomposition of a rate matrix set directly. It
// must satisfy P(t) = invEigenvecs * diag(exp(eigenvals*t)) * eigenvecs.
func (p *Partition) SetEigen(paramsIndex int, eigenvecs, invEigenvecs, eigenvals []float64) error {
	if err := p.checkParams(paramsIndex); err != nil {
		return err
	}
	n := p.States
	if len(eigenvecs) != n*n || len(invEigenvecs) != n*n || len(eigenvals) != n {
		return errorf(KindInvalidParam, "eigendecomposition dimensions don't match %d states", n)
	}
	copy(p.eigenvecs[paramsIndex], eigenvecs)
	copy(p.invEigenvecs[paramsIndex], invEigenvecs)
	copy(p.eigenvals[paramsIndex], eigenvals)
	p.eigenDecomp[paramsIndex] = true
	return nil
}

// SetCategoryRates sets rate multipliers of the rate categories.
func (p *Partition) SetCategoryRates(rates []float64) error {
	if len(rates) != p.RateCats {
		return errorf(KindInvalidParam, "expected %d rates, got %d", p.RateCats, len(rates))
	}
	copy(p.rates, rates)
	return nil
}

// SetCategoryWeights sets mixture weights of the rate categories.
func (p *Partition) SetCategoryWeights(weights []float64) error {
	if len(weights) != p.RateCats {
		return errorf(KindInvalidParam, "expected %d weights, got %d", p.RateCats, len(weights))
	}
	copy(p.rateWeights, weights)
	return nil
}

// SetPatternWeights sets site pattern multiplicities.
func (p *Partition) SetPatternWeights(weights []uint32) error {
	if len(weights) != p.Sites {
		return errorf(KindInvalidParam, "expected %d pattern weights, got %d", p.Sites, len(weights))
	}
	copy(p.patternWeights, weights)
	return nil
}

// SetPropInvar sets proportion of invariant sites for a rate matrix
// set. It must be in [0, 1).
func (p *Partition) SetPropInvar(paramsIndex int, pinv float64) error {
	if err := p.checkParams(paramsIndex); err != nil {
		return err
	}
	if !(pinv >= 0 && pinv < 1) {
		return errorf(KindInvalidPinv, "%v is outside of [0, 1)", pinv)
	}
	p.propInvar[paramsIndex] = pinv
	return nil
}

// PropInvar returns proportion of invariant sites of a rate matrix set.
func (p *Partition) PropInvar(paramsIndex int) float64 {
	return p.propInvar[paramsIndex]
}

// SetTipStates encodes a tip sequence using an ambiguity map. All the
// tips must use the same map.
func (p *Partition) SetTipStates(tip int, m *Map, seq string) error {
	if tip < 0 || tip >= p.Tips {
		return errorf(KindInvalidParam, "tip index %d out of range", tip)
	}
	if len(seq) != p.Sites {
		return errorf(KindInvalidTipData, "sequence length %d, expected %d", len(seq), p.Sites)
	}
	if p.tipMap == nil {
		codes, err := newTipCodes(m, p.States)
		if err != nil {
			return err
		}
		mc := *m
		p.tipMap = &mc
		p.codes = codes
		p.lookup = make([]float64, lookupSize(p.d, len(codes.masks)))
		p.tipVectors = make([][]float64, len(codes.masks))
		for code, mask := range codes.masks {
			v := make([]float64, p.States)
			indicator(v, mask)
			p.tipVectors[code] = v
		}
	} else if *m != *p.tipMap {
		return errorf(KindInvalidTipData, "all the tips must use the same map")
	}

	chars := p.tipChars[tip]
	if chars == nil {
		chars = make([]uint8, p.Sites)
	}
	for i := 0; i < len(seq); i++ {
		code := p.codes.codes[seq[i]]
		if code < 0 {
			return errorf(KindInvalidTipData, "illegal character %q at position %d of tip %d", seq[i], i+1, tip)
		}
		chars[i] = uint8(code)
	}
	p.tipChars[tip] = chars
	p.invariant = nil
	return nil
}

// SetProbMatrix sets a probability matrix (rateCats*states*states).
func (p *Partition) SetProbMatrix(index int, matrix []float64) error {
	if index < 0 || index >= p.ProbMatrices {
		return errorf(KindInvalidParam, "matrix index %d out of range", index)
	}
	if len(matrix) != len(p.pmatrix[index]) {
		return errorf(KindInvalidParam, "expected %d matrix values, got %d", len(p.pmatrix[index]), len(matrix))
	}
	copy(p.pmatrix[index], matrix)
	return nil
}

// UpdateProbMatrices computes probability matrices for branch
// lengths. Category c uses rate matrix set paramsIndices[c] (nil
// means set 0 for every category). Branch lengths are divided by
// 1-pinv.
func (p *Partition) UpdateProbMatrices(paramsIndices []int, matrixIndices []int, branchLengths []float64) error {
	params, err := p.paramsFor(paramsIndices)
	if err != nil {
		return err
	}
	if len(matrixIndices) != len(branchLengths) {
		return errorf(KindInvalidParam, "%d matrix indices but %d branch lengths", len(matrixIndices), len(branchLengths))
	}
	n := p.States
	for i, mi := range matrixIndices {
		if mi < 0 || mi >= p.ProbMatrices {
			return errorf(KindInvalidParam, "matrix index %d out of range", mi)
		}
		if branchLengths[i] < 0 {
			return errorf(KindInvalidParam, "negative branch length %v", branchLengths[i])
		}
		for c := 0; c < p.RateCats; c++ {
			pi := params[c]
			t := branchLengths[i] * p.rates[c]
			if pinv := p.propInvar[pi]; pinv > 0 {
				t /= 1 - pinv
			}
			model.PMatrix(p.pmatrix[mi][c*n*n:(c+1)*n*n],
				p.eigenvecs[pi], p.invEigenvecs[pi], p.eigenvals[pi], n, t)
		}
	}
	return nil
}

// UpdateInvariantSites finds sites where all the tips share a single
// state.
func (p *Partition) UpdateInvariantSites() {
	if p.invariant == nil {
		p.invariant = make([]int, p.Sites)
	}
	for n := 0; n < p.Sites; n++ {
		mask := ^Mask(0)
		set := false
		for _, chars := range p.tipChars {
			if chars == nil {
				continue
			}
			mask &= p.codes.masks[chars[n]]
			set = true
		}
		if !set {
			p.invariant[n] = -1
			continue
		}
		p.invariant[n] = mask.Single()
	}
}

// InvariantSites returns invariant states (-1 for variable sites).
func (p *Partition) InvariantSites() []int {
	if p.invariant == nil {
		p.UpdateInvariantSites()
	}
	return p.invariant
}

// checkParams checks a rate matrix set index.
func (p *Partition) checkParams(paramsIndex int) error {
	if paramsIndex < 0 || paramsIndex >= p.RateMatrices {
		return errorf(KindInvalidParam, "rate matrix index %d out of range", paramsIndex)
	}
	return nil
}

// paramsFor validates per category rate matrix indices and makes
// sure the corresponding eigendecompositions are up to date.
func (p *Partition) paramsFor(paramsIndices []int) ([]int, error) {
	if paramsIndices == nil {
		paramsIndices = make([]int, p.RateCats)
	}
	if len(paramsIndices) != p.RateCats {
		return nil, errorf(KindInvalidParam, "expected %d rate matrix indices, got %d", p.RateCats, len(paramsIndices))
	}
	for _, pi := range paramsIndices {
		if err := p.checkParams(pi); err != nil {
			return nil, err
		}
		if err := p.updateEigen(pi); err != nil {
			return nil, err
		}
	}
	return paramsIndices, nil
}

// updateEigen recomputes the eigendecomposition of a GTR rate matrix
// set if it is stale.
func (p *Partition) updateEigen(paramsIndex int) error {
	if p.eigenDecomp[paramsIndex] {
		return nil
	}
	e, err := model.NewGTR(p.substParams[paramsIndex], p.frequencies[paramsIndex])
	if err != nil {
		return &Error{Kind: KindEigen, Msg: fmt.Sprintf("rate matrix %d: %v", paramsIndex, err)}
	}
	copy(p.eigenvecs[paramsIndex], e.Eigenvecs())
	copy(p.invEigenvecs[paramsIndex], e.InvEigenvecs())
	copy(p.eigenvals[paramsIndex], e.Eigenvals())
	p.eigenDecomp[paramsIndex] = true
	return nil
}

// modelSet returns per category model arrays.
func (p *Partition) modelSet(params []int) modelSet {
	ms := modelSet{
		eigenvecs:    make([][]float64, p.RateCats),
		invEigenvecs: make([][]float64, p.RateCats),
		freqs:        make([][]float64, p.RateCats),
	}
	for c, pi := range params {
		ms.eigenvecs[c] = p.eigenvecs[pi]
		ms.invEigenvecs[c] = p.invEigenvecs[pi]
		ms.freqs[c] = p.frequencies[pi]
	}
	return ms
}

// siteVector returns the per category vector of a CLV at a site. For
// tips it is the 0/1 indicator of the tip mask.
func (p *Partition) siteVector(index, site, cat int) []float64 {
	if index < p.Tips {
		return p.tipVectors[p.tipChars[index][site]]
	}
	off := (site*p.RateCats + cat) * p.States
	return p.clv[index][off : off+p.States]
}

// usesInvariant returns true if any category has nonzero pinv.
func (p *Partition) usesInvariant(params []int) bool {
	for _, pi := range params {
		if p.propInvar[pi] > 0 {
			return true
		}
	}
	return false
}

// siteLogLikelihood returns log of a site likelihood given the
// variable part (scaled sc times) and the invariant part.
func siteLogLikelihood(variable, invariant float64, sc uint32) float64 {
	if sc == 0 {
		return math.Log(variable + invariant)
	}
	if invariant > 0 {
		inv := math.Ldexp(invariant, ScaleExponent*int(sc))
		if math.IsInf(inv, 1) {
			return math.Log(invariant)
		}
		return math.Log(variable+inv) + float64(sc)*lnScaleThreshold
	}
	return math.Log(variable) + float64(sc)*lnScaleThreshold
}
