package plh

import "math"

// RootLogLikelihood computes log-likelihood from a root CLV of a
// rooted tree. Category c uses rate matrix set paramsIndices[c].
func (p *Partition) RootLogLikelihood(clv, scaler int, paramsIndices []int) (float64, error) {
	params, err := p.paramsFor(paramsIndices)
	if err != nil {
		return math.Inf(-1), err
	}
	if clv < 0 || clv >= len(p.clv) {
		return math.Inf(-1), errorf(KindInvalidParam, "CLV index %d out of range", clv)
	}
	var invariant []int
	if p.usesInvariant(params) {
		invariant = p.InvariantSites()
	}
	scale := p.Scaler(scaler)

	res := 0.0
	for n := 0; n < p.Sites; n++ {
		variable, inv := 0.0, 0.0
		for c := 0; c < p.RateCats; c++ {
			pi := params[c]
			freqs := p.frequencies[pi]
			v := p.siteVector(clv, n, c)
			term := 0.0
			for i, f := range freqs {
				term += f * v[i]
			}
			pinv := p.propInvar[pi]
			variable += p.rateWeights[c] * (1 - pinv) * term
			if pinv > 0 && invariant[n] >= 0 {
				inv += p.rateWeights[c] * pinv * freqs[invariant[n]]
			}
		}
		var sc uint32
		if scale != nil {
			sc = scale[n]
		}
		res += float64(p.patternWeights[n]) * siteLogLikelihood(variable, inv, sc)
	}
	return res, nil
}

// EdgeLogLikelihood computes log-likelihood at an edge of an
// unrooted tree given the CLVs at both ends and the edge probability
// matrix. Either end may be a tip.
func (p *Partition) EdgeLogLikelihood(parentCLV, parentScaler, childCLV, childScaler, matrix int,
	paramsIndices []int) (float64, error) {
	params, err := p.paramsFor(paramsIndices)
	if err != nil {
		return math.Inf(-1), err
	}
	for _, idx := range []int{parentCLV, childCLV} {
		if idx < 0 || idx >= len(p.clv) {
			return math.Inf(-1), errorf(KindInvalidParam, "CLV index %d out of range", idx)
		}
	}
	if matrix < 0 || matrix >= p.ProbMatrices {
		return math.Inf(-1), errorf(KindInvalidParam, "matrix index %d out of range", matrix)
	}
	var invariant []int
	if p.usesInvariant(params) {
		invariant = p.InvariantSites()
	}
	pscaler := p.Scaler(parentScaler)
	cscaler := p.Scaler(childScaler)
	states := p.States
	pmat := p.pmatrix[matrix]

	res := 0.0
	for n := 0; n < p.Sites; n++ {
		variable, inv := 0.0, 0.0
		for c := 0; c < p.RateCats; c++ {
			pi := params[c]
			freqs := p.frequencies[pi]
			pv := p.siteVector(parentCLV, n, c)
			cv := p.siteVector(childCLV, n, c)
			m := pmat[c*states*states : (c+1)*states*states]
			term := 0.0
			for i := 0; i < states; i++ {
				if pv[i] == 0 {
					continue
				}
				s := 0.0
				for j := 0; j < states; j++ {
					s += m[i*states+j] * cv[j]
				}
				term += freqs[i] * pv[i] * s
			}
			pinv := p.propInvar[pi]
			variable += p.rateWeights[c] * (1 - pinv) * term
			if pinv > 0 && invariant[n] >= 0 {
				inv += p.rateWeights[c] * pinv * freqs[invariant[n]]
			}
		}
		var sc uint32
		if pscaler != nil {
			sc += pscaler[n]
		}
		if cscaler != nil {
			sc += cscaler[n]
		}
		res += float64(p.patternWeights[n]) * siteLogLikelihood(variable, inv, sc)
	}
	return res, nil
}
