package plh

import (
	"math"
	"sync"
)

// maxScratch is the largest derivative table size.
const maxScratch = 1 << 28

// scratchPool keeps derivative tables between calls.
var scratchPool = sync.Pool{
	New: func() interface{} {
		return new([]float64)
	},
}

// getScratch returns a table of at least n values from the pool.
func getScratch(n int) (*[]float64, error) {
	if n <= 0 || n > maxScratch {
		return nil, errorf(KindAlloc, "cannot allocate derivative table of %d values", n)
	}
	buf := scratchPool.Get().(*[]float64)
	if cap(*buf) < n {
		*buf = make([]float64, n)
	}
	*buf = (*buf)[:n]
	return buf, nil
}

// Derivatives computes log-likelihood of an edge with a sumtable at
// a branch length, and first and second derivatives of the negative
// log-likelihood. Scalers of the two edge ends may be ScaleBufferNone.
//
// With invariant sites the matrix exponent uses t/(1-pinv) while the
// derivative factors are lambda*r, so d1 and d2 are taken with respect
// to t/(1-pinv). For a single rate matrix set the branch length
// derivatives are d1/(1-pinv) and d2/(1-pinv)^2.
//
// On error the log-likelihood is -Inf.
func (p *Partition) Derivatives(st *Sumtable, parentScaler, childScaler int,
	paramsIndices []int, branchLength float64) (lnL, d1, d2 float64, err error) {
	params, err := p.paramsFor(paramsIndices)
	if err != nil {
		return math.Inf(-1), 0, 0, err
	}
	if st.Sites != p.Sites || st.RateCats != p.RateCats || st.States != p.States {
		return math.Inf(-1), 0, 0, errorf(KindInvalidParam, "sumtable dimensions don't match the partition")
	}
	states := p.States
	rateCats := p.RateCats

	buf, err := getScratch(3 * rateCats * states)
	if err != nil {
		return math.Inf(-1), 0, 0, err
	}
	defer scratchPool.Put(buf)
	table := *buf

	// exp(x t'), x exp(x t'), x^2 exp(x t') with x = lambda r and
	// t' = t / (1 - pinv)
	for c := 0; c < rateCats; c++ {
		pi := params[c]
		evals := p.eigenvals[pi]
		scale := p.rates[c]
		t := branchLength / (1 - p.propInvar[pi])
		for j := 0; j < states; j++ {
			x := evals[j] * scale
			e := math.Exp(x * t)
			off := (c*states + j) * 3
			table[off] = e
			table[off+1] = x * e
			table[off+2] = x * x * e
		}
	}

	var invariant []int
	if p.usesInvariant(params) {
		invariant = p.InvariantSites()
	}
	pscaler := p.Scaler(parentScaler)
	cscaler := p.Scaler(childScaler)

	span := rateCats * states
	for n := 0; n < p.Sites; n++ {
		vals := st.Values[n*span : (n+1)*span]
		var l0, l1, l2, inv float64
		for c := 0; c < rateCats; c++ {
			var t0, t1, t2 float64
			for j := 0; j < states; j++ {
				off := (c*states + j) * 3
				v := vals[c*states+j]
				t0 += v * table[off]
				t1 += v * table[off+1]
				t2 += v * table[off+2]
			}
			pinv := p.propInvar[params[c]]
			w := p.rateWeights[c] * (1 - pinv)
			l0 += w * t0
			l1 += w * t1
			l2 += w * t2
			if pinv > 0 && invariant[n] >= 0 {
				inv += p.rateWeights[c] * pinv * p.frequencies[params[c]][invariant[n]]
			}
		}

		var sc uint32
		if pscaler != nil {
			sc += pscaler[n]
		}
		if cscaler != nil {
			sc += cscaler[n]
		}
		pw := float64(p.patternWeights[n])
		if sc > 0 && inv > 0 {
			scaled := math.Ldexp(inv, ScaleExponent*int(sc))
			if math.IsInf(scaled, 1) {
				// the variable part, the only one depending on t, is
				// negligible, so the site adds nothing to d1 and d2
				lnL += pw * math.Log(inv)
				continue
			}
			inv = scaled
		}
		l0 += inv
		lnL += pw * (math.Log(l0) + float64(sc)*lnScaleThreshold)
		r := l1 / l0
		d1 -= pw * r
		d2 += pw * (r*r - l2/l0)
	}
	return lnL, d1, d2, nil
}
