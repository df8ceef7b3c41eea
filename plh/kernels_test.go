package plh

import (
	"math"
	"math/rand"
	"testing"
)

// definitional computes CLVs of operations directly from the merge
// formula with tips as mask indicators.
func definitional(p *Partition, ops []Operation) map[int][]float64 {
	states, rc := p.States, p.RateCats
	res := make(map[int][]float64)
	vec := func(idx, n, c, i int) float64 {
		if p.IsTip(idx) {
			if p.TipMask(idx, n).Has(i) {
				return 1
			}
			return 0
		}
		if v, ok := res[idx]; ok {
			return v[(n*rc+c)*states+i]
		}
		return p.CLV(idx)[(n*rc+c)*states+i]
	}
	for _, op := range ops {
		out := make([]float64, p.Sites*rc*states)
		lm, rm := p.ProbMatrix(op.Child1Matrix), p.ProbMatrix(op.Child2Matrix)
		for n := 0; n < p.Sites; n++ {
			for c := 0; c < rc; c++ {
				for i := 0; i < states; i++ {
					terma, termb := 0.0, 0.0
					for j := 0; j < states; j++ {
						terma += lm[(c*states+i)*states+j] * vec(op.Child1CLV, n, c, j)
						termb += rm[(c*states+i)*states+j] * vec(op.Child2CLV, n, c, j)
					}
					out[(n*rc+c)*states+i] = terma * termb
				}
			}
		}
		res[op.ParentCLV] = out
	}
	return res
}

func checkDefinitional(tst *testing.T, p *Partition, ops []Operation) {
	exp := definitional(p, ops)
	for idx, v := range exp {
		got := p.CLV(idx)
		for i := range v {
			if !approx(got[i], v[i], 1e-13) {
				tst.Fatalf("%s: CLV %d at %d: got %v, expected %v", p.Kernel(), idx, i, got[i], v[i])
			}
		}
	}
}

func TestDefinitionalScenario(tst *testing.T) {
	forceBlas(tst)
	for _, a := range []Attrib{AttribArchCPU, AttribArchSSE} {
		p := newScenario(tst, a)
		scenarioLnL(tst, p, 0, false)
		checkDefinitional(tst, p, scenarioOps(false))
	}
}

// fiveStateMap is a small map for a non-nucleotide state space.
var fiveStateMap = newMap(map[byte]Mask{
	'A': 1, 'B': 2, 'C': 4, 'D': 8, 'E': 16,
	'X': 31, 'Y': 3, 'Z': 24,
})

// randomMatrices fills probability matrices with random rows.
func randomMatrices(tst *testing.T, p *Partition, rnd *rand.Rand) {
	n := p.RateCats * p.States * p.States
	for m := 0; m < p.ProbMatrices; m++ {
		mat := make([]float64, n)
		for i := range mat {
			mat[i] = rnd.Float64()
		}
		if err := p.SetProbMatrix(m, mat); err != nil {
			tst.Fatal(err)
		}
	}
}

// randomSequence generates a sequence from alphabet.
func randomSequence(rnd *rand.Rand, alphabet string, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rnd.Intn(len(alphabet))]
	}
	return string(b)
}

func TestDefinitionalGeneral(tst *testing.T) {
	forceBlas(tst)
	settings := []struct {
		m        *Map
		states   int
		rateCats int
		alphabet string
	}{
		{&NTMap, 4, 3, "ACGTRYN-"},
		{&fiveStateMap, 5, 2, "ABCDEXYZ"},
		{&AAMap, 20, 4, "ARNDCQEGHILKMFPSTWYVBZX"},
	}
	for _, s := range settings {
		for _, a := range []Attrib{AttribArchCPU, AttribArchAVX} {
			rnd := rand.New(rand.NewSource(1))
			p, err := NewPartition(Config{Tips: 4, CLVBuffers: 3, States: s.states, Sites: 17,
				RateMatrices: 1, ProbMatrices: 6, RateCats: s.rateCats, Attributes: a})
			if err != nil {
				tst.Fatal(err)
			}
			for i := 0; i < 4; i++ {
				if err := p.SetTipStates(i, s.m, randomSequence(rnd, s.alphabet, 17)); err != nil {
					tst.Fatal(err)
				}
			}
			randomMatrices(tst, p, rnd)
			// tip-tip, tip-inner (both orders), inner-inner
			ops := []Operation{
				{ParentCLV: 4, Child1CLV: 0, Child2CLV: 1, Child1Matrix: 0, Child2Matrix: 1},
				{ParentCLV: 5, Child1CLV: 4, Child2CLV: 2, Child1Matrix: 2, Child2Matrix: 3},
				{ParentCLV: 6, Child1CLV: 3, Child2CLV: 5, Child1Matrix: 4, Child2Matrix: 5},
			}
			for i := range ops {
				ops[i].ParentScaler = ScaleBufferNone
				ops[i].Child1Scaler = ScaleBufferNone
				ops[i].Child2Scaler = ScaleBufferNone
			}
			p.UpdatePartials(ops)
			checkDefinitional(tst, p, ops)
			ops = append(ops, Operation{ParentCLV: 6, Child1CLV: 5, Child2CLV: 4, Child1Matrix: 0, Child2Matrix: 1,
				ParentScaler: ScaleBufferNone, Child1Scaler: ScaleBufferNone, Child2Scaler: ScaleBufferNone})
			p.UpdatePartials(ops[3:])
			checkDefinitional(tst, p, ops[:2])
			checkDefinitional(tst, p, ops[3:])
		}
	}
}

func TestLookup(tst *testing.T) {
	forceBlas(tst)
	for _, ks := range []kernels{refKernels{}, newBlasKernels()} {
		for _, s := range []struct {
			m      *Map
			states int
		}{{&NTMap, 4}, {&fiveStateMap, 5}} {
			rnd := rand.New(rand.NewSource(2))
			d := dims{states: s.states, sites: 1, rateCats: 3}
			codes, err := newTipCodes(s.m, s.states)
			if err != nil {
				tst.Fatal(err)
			}
			lmat := make([]float64, d.rateCats*d.states*d.states)
			rmat := make([]float64, len(lmat))
			for i := range lmat {
				lmat[i] = rnd.Float64()
				rmat[i] = rnd.Float64()
			}
			lookup := make([]float64, lookupSize(d, len(codes.masks)))
			ks.createLookup(d, lookup, lmat, rmat, codes)

			// tip-tip must match tip-inner with a mask indicator CLV
			parent := make([]float64, d.span())
			expected := make([]float64, d.span())
			rclv := make([]float64, d.span())
			for j := range codes.masks {
				for k, kmask := range codes.masks {
					for c := 0; c < d.rateCats; c++ {
						indicator(rclv[c*d.states:(c+1)*d.states], kmask)
					}
					ks.updateTT(d, parent, nil, []uint8{uint8(j)}, []uint8{uint8(k)}, lookup, codes)
					refKernels{}.updateTI(d, expected, nil, []uint8{uint8(j)}, rclv, lmat, rmat, nil, codes)
					for i := range parent {
						if !approx(parent[i], expected[i], 1e-14) {
							tst.Fatalf("%s, %d states, codes %d,%d: got %v, expected %v",
								ks.Name(), s.states, j, k, parent[i], expected[i])
						}
					}
				}
			}
		}
	}
}

/*** Tests if a and b are equal up to a relative error ***/
func relEq(a, b, eps float64) bool {
	return a != 0 && math.Abs(a/b-1) <= eps
}

// identity returns rateCats identity matrices.
func identity(d dims) []float64 {
	m := make([]float64, d.rateCats*d.states*d.states)
	for c := 0; c < d.rateCats; c++ {
		for i := 0; i < d.states; i++ {
			m[(c*d.states+i)*d.states+i] = 1
		}
	}
	return m
}

func TestScalingKernels(tst *testing.T) {
	forceBlas(tst)
	d := dims{states: 4, sites: 2, rateCats: 2}
	codes, _ := newTipCodes(&NTMap, 4)
	for _, ks := range []kernels{refKernels{}, newBlasKernels()} {
		id := identity(d)

		// inner-inner: site 0 underflows
		lclv := make([]float64, d.sites*d.span())
		rclv := make([]float64, d.sites*d.span())
		for i := 0; i < d.span(); i++ {
			lclv[i], rclv[i] = 1e-100, 1e-100
			lclv[d.span()+i], rclv[d.span()+i] = 1, 1
		}
		parent := make([]float64, d.sites*d.span())
		pscaler := make([]uint32, d.sites)
		ks.updateII(d, parent, pscaler, lclv, rclv, id, id, []uint32{1, 0}, []uint32{2, 3})
		if pscaler[0] != 4 || pscaler[1] != 3 {
			tst.Errorf("%s: inner-inner scaler %v, expected [4 3]", ks.Name(), pscaler)
		}
		for i := 0; i < d.span(); i++ {
			if descaled := parent[i] * ScaleThreshold; !relEq(descaled, 1e-200, 1e-14) {
				tst.Errorf("%s: descaled value %v, expected 1e-200", ks.Name(), descaled)
			}
			if parent[d.span()+i] != 1 {
				tst.Errorf("%s: unscaled site changed to %v", ks.Name(), parent[d.span()+i])
			}
		}

		// no scale buffer, no scaling
		ks.updateII(d, parent, nil, lclv, rclv, id, id, nil, nil)
		if !(parent[0] < ScaleThreshold) {
			tst.Errorf("%s: site scaled without a scale buffer", ks.Name())
		}

		// tip-inner: A at site 0 with a tiny CLV, N at site 1
		for i := 0; i < d.span(); i++ {
			rclv[i] = 1e-250
		}
		ks.updateTI(d, parent, pscaler, []uint8{1, 15}, rclv, id, id, nil, codes)
		if pscaler[0] != 1 || pscaler[1] != 0 {
			tst.Errorf("%s: tip-inner scaler %v, expected [1 0]", ks.Name(), pscaler)
		}
		if got := parent[0] * ScaleThreshold; !relEq(got, 1e-250, 1e-14) {
			tst.Errorf("%s: tip-inner descaled %v, expected 1e-250", ks.Name(), got)
		}
		if parent[1] != 0 {
			tst.Errorf("%s: state outside of the mask is %v", ks.Name(), parent[1])
		}

		// tip-tip: A/A at site 0 and N/N at site 1, both underflow
		small := identity(d)
		for i := range small {
			small[i] *= 1e-50
		}
		lookup := make([]float64, lookupSize(d, len(codes.masks)))
		ks.createLookup(d, lookup, small, small, codes)
		pscaler = []uint32{7, 7}
		ks.updateTT(d, parent, pscaler, []uint8{1, 15}, []uint8{1, 15}, lookup, codes)
		if pscaler[0] != 1 || pscaler[1] != 1 {
			tst.Errorf("%s: tip-tip scaler %v, expected [1 1]", ks.Name(), pscaler)
		}
		for n := 0; n < d.sites; n++ {
			for c := 0; c < d.rateCats; c++ {
				i := n*d.span() + c*d.states
				if got := parent[i] * ScaleThreshold; !relEq(got, 1e-100, 1e-14) {
					tst.Errorf("%s: tip-tip site %d descaled %v, expected 1e-100", ks.Name(), n, got)
				}
			}
		}
		if parent[1] != 0 {
			tst.Errorf("%s: tip-tip state outside of the mask is %v", ks.Name(), parent[1])
		}

		// counters are reset when nothing underflows
		ks.createLookup(d, lookup, id, id, codes)
		ks.updateTT(d, parent, pscaler, []uint8{1, 15}, []uint8{1, 15}, lookup, codes)
		if pscaler[0] != 0 || pscaler[1] != 0 {
			tst.Errorf("%s: tip-tip scaler %v, expected [0 0]", ks.Name(), pscaler)
		}
		if parent[0] != 1 {
			tst.Errorf("%s: unscaled tip-tip value %v, expected 1", ks.Name(), parent[0])
		}
	}
}

// scalingPartition creates a two tip partition with inner CLVs 2 and
// 3 filled with small values so that merging them underflows the
// threshold but stays representable.
func scalingPartition(tst *testing.T, pinv float64) *Partition {
	p, err := NewPartition(Config{Tips: 2, CLVBuffers: 3, States: 4, Sites: 3,
		RateMatrices: 1, ProbMatrices: 2, RateCats: 1, ScaleBuffers: 3})
	if err != nil {
		tst.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := p.SetTipStates(i, &NTMap, "AAC"); err != nil {
			tst.Fatal(err)
		}
	}
	if err := p.SetFrequencies(0, scenarioFreqs); err != nil {
		tst.Fatal(err)
	}
	if err := p.SetPropInvar(0, pinv); err != nil {
		tst.Fatal(err)
	}
	l, r := p.CLV(2), p.CLV(3)
	for n := 0; n < 3; n++ {
		for i := 0; i < 4; i++ {
			l[n*4+i] = 1e-100 * float64(i+1)
			r[n*4+i] = 1e-100 * float64(n+1)
		}
	}
	return p
}

func TestScalingLikelihood(tst *testing.T) {
	for _, pinv := range []float64{0, 0.3} {
		p := scalingPartition(tst, pinv)
		op := Operation{ParentCLV: 4, Child1CLV: 2, Child2CLV: 3, Child1Matrix: 0, Child2Matrix: 1,
			ParentScaler: ScaleBufferNone, Child1Scaler: ScaleBufferNone, Child2Scaler: ScaleBufferNone}
		p.UpdatePartials([]Operation{op})
		unscaled, err := p.RootLogLikelihood(4, ScaleBufferNone, nil)
		if err != nil {
			tst.Fatal(err)
		}
		op.ParentScaler = 2
		p.UpdatePartials([]Operation{op})
		for n, c := range p.Scaler(2) {
			if c != 1 {
				tst.Errorf("site %d scaled %d times", n, c)
			}
		}
		scaled, err := p.RootLogLikelihood(4, 2, nil)
		if err != nil {
			tst.Fatal(err)
		}
		if !approx(scaled, unscaled, 1e-12) {
			tst.Errorf("pinv=%v: scaled %v, unscaled %v", pinv, scaled, unscaled)
		}
		if math.IsInf(scaled, 0) {
			tst.Error("infinite log-likelihood")
		}
	}
}

func TestScalerMonotonicity(tst *testing.T) {
	p := scalingPartition(tst, 0)
	copy(p.Scaler(0), []uint32{1, 0, 2})
	copy(p.Scaler(1), []uint32{0, 0, 1})
	p.UpdatePartials([]Operation{{ParentCLV: 4, Child1CLV: 2, Child2CLV: 3, Child1Matrix: 0, Child2Matrix: 1,
		ParentScaler: 2, Child1Scaler: 0, Child2Scaler: 1}})
	l, r, par := p.Scaler(0), p.Scaler(1), p.Scaler(2)
	for n := range par {
		if par[n] < l[n]+r[n] {
			tst.Errorf("site %d: parent count %d < %d + %d", n, par[n], l[n], r[n])
		}
		if par[n] != l[n]+r[n]+1 {
			tst.Errorf("site %d: expected one scaling event", n)
		}
	}

	// the scaled edge likelihood includes children counters
	lnL1, err := p.EdgeLogLikelihood(2, 0, 3, 1, 0, nil)
	if err != nil {
		tst.Fatal(err)
	}
	lnL2, _ := p.EdgeLogLikelihood(2, ScaleBufferNone, 3, ScaleBufferNone, 0, nil)
	if !approx(lnL1-lnL2, 4*lnScaleThreshold, 1e-12) {
		tst.Errorf("scale correction %v, expected %v", lnL1-lnL2, 4*lnScaleThreshold)
	}
}
