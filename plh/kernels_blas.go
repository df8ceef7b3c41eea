package plh

import (
	"github.com/gonum/blas"
	"github.com/gonum/blas/blas64"
)

// blasKernels compute matrix-vector products with BLAS level 2
// routines. Per-code tip terms are computed once per call instead of
// once per site. Tip-tip kernels are the reference ones.
type blasKernels struct {
	refKernels
	impl blas.Float64
}

// newBlasKernels creates BLAS kernels using the registered blas64
// implementation.
func newBlasKernels() *blasKernels {
	return &blasKernels{impl: blas64.Implementation()}
}

// Name returns the implementation name.
func (*blasKernels) Name() string {
	return "blas"
}

// indicator writes 0/1 indicators of mask bits into x.
func indicator(x []float64, mask Mask) {
	for i := range x {
		if mask.Has(i) {
			x[i] = 1
		} else {
			x[i] = 0
		}
	}
}

// tipTerms computes for every code, rate category and state i
// sum_j mask_j M[i,j]. The result is indexed by code*span+cat*states+i.
func (k *blasKernels) tipTerms(d dims, mat []float64, codes *tipCodes) []float64 {
	states := d.states
	span := d.span()
	res := make([]float64, len(codes.masks)*span)
	x := make([]float64, states)
	for code, mask := range codes.masks {
		indicator(x, mask)
		for c := 0; c < d.rateCats; c++ {
			off := c * states * states
			k.impl.Dgemv(blas.NoTrans, states, states, 1, mat[off:off+states*states], states,
				x, 1, 0, res[code*span+c*states:code*span+(c+1)*states], 1)
		}
	}
	return res
}

func (k *blasKernels) createLookup(d dims, lookup, lmat, rmat []float64, codes *tipCodes) {
	span := d.span()
	ncodes := len(codes.masks)
	log2Max := log2Ceil(ncodes)
	log2Span := log2Ceil(d.states) + log2Ceil(d.rateCats)
	if d.states == 4 {
		log2Max, log2Span = 4, 2+log2Ceil(d.rateCats)
	}
	lterms := k.tipTerms(d, lmat, codes)
	rterms := k.tipTerms(d, rmat, codes)
	for j := 0; j < ncodes; j++ {
		lt := lterms[j*span : (j+1)*span]
		for m := 0; m < ncodes; m++ {
			rt := rterms[m*span : (m+1)*span]
			row := lookup[lookupOffset(j, m, log2Max, log2Span):]
			for i := 0; i < span; i++ {
				row[i] = lt[i] * rt[i]
			}
		}
	}
}

func (k *blasKernels) updateTI(d dims, parent []float64, pscaler []uint32,
	ltips []uint8, rclv, lmat, rmat []float64,
	rscaler []uint32, codes *tipCodes) {
	states := d.states
	span := d.span()
	lterms := k.tipTerms(d, lmat, codes)

	if pscaler != nil {
		fillParentScaler(d.sites, pscaler, nil, rscaler)
	}

	for n := 0; n < d.sites; n++ {
		site := parent[n*span : (n+1)*span]
		rsite := rclv[n*span : (n+1)*span]
		for c := 0; c < d.rateCats; c++ {
			off := c * states * states
			k.impl.Dgemv(blas.NoTrans, states, states, 1, rmat[off:off+states*states], states,
				rsite[c*states:(c+1)*states], 1, 0, site[c*states:(c+1)*states], 1)
		}
		lt := lterms[int(ltips[n])*span:]
		for i := range site {
			site[i] *= lt[i]
		}
		if pscaler != nil && belowThreshold(site) {
			rescaleSite(site)
			pscaler[n]++
		}
	}
}

func (k *blasKernels) updateII(d dims, parent []float64, pscaler []uint32,
	lclv, rclv, lmat, rmat []float64,
	lscaler, rscaler []uint32) {
	states := d.states
	span := d.span()
	tmp := make([]float64, states)

	if pscaler != nil {
		fillParentScaler(d.sites, pscaler, lscaler, rscaler)
	}

	for n := 0; n < d.sites; n++ {
		site := parent[n*span : (n+1)*span]
		lsite := lclv[n*span : (n+1)*span]
		rsite := rclv[n*span : (n+1)*span]
		for c := 0; c < d.rateCats; c++ {
			off := c * states * states
			out := site[c*states : (c+1)*states]
			k.impl.Dgemv(blas.NoTrans, states, states, 1, lmat[off:off+states*states], states,
				lsite[c*states:(c+1)*states], 1, 0, tmp, 1)
			k.impl.Dgemv(blas.NoTrans, states, states, 1, rmat[off:off+states*states], states,
				rsite[c*states:(c+1)*states], 1, 0, out, 1)
			for i := range out {
				out[i] *= tmp[i]
			}
		}
		if pscaler != nil && belowThreshold(site) {
			rescaleSite(site)
			pscaler[n]++
		}
	}
}

// leftTerm computes lefterm_j = sum_k x_k freqs_k invEigenvecs[k,j]
// into y; x is overwritten.
func (k *blasKernels) leftTerm(states int, x, freqs, iev, y []float64) {
	for i := range x {
		x[i] *= freqs[i]
	}
	k.impl.Dgemv(blas.Trans, states, states, 1, iev, states, x, 1, 0, y, 1)
}

func (k *blasKernels) sumtableTI(d dims, ptips []uint8, cclv []float64, ms modelSet,
	codes *tipCodes, sumtable []float64) {
	states := d.states
	span := d.span()
	x := make([]float64, states)
	lterms := make([]float64, len(codes.masks)*span)
	for code, mask := range codes.masks {
		for c := 0; c < d.rateCats; c++ {
			indicator(x, mask)
			k.leftTerm(states, x, ms.freqs[c], ms.invEigenvecs[c],
				lterms[code*span+c*states:code*span+(c+1)*states])
		}
	}
	for n := 0; n < d.sites; n++ {
		sum := sumtable[n*span : (n+1)*span]
		csite := cclv[n*span : (n+1)*span]
		for c := 0; c < d.rateCats; c++ {
			k.impl.Dgemv(blas.NoTrans, states, states, 1, ms.eigenvecs[c], states,
				csite[c*states:(c+1)*states], 1, 0, sum[c*states:(c+1)*states], 1)
		}
		lt := lterms[int(ptips[n])*span:]
		for i := range sum {
			sum[i] *= lt[i]
		}
	}
}

func (k *blasKernels) sumtableII(d dims, pclv, cclv []float64, ms modelSet,
	sumtable []float64) {
	states := d.states
	span := d.span()
	x := make([]float64, states)
	y := make([]float64, states)
	for n := 0; n < d.sites; n++ {
		sum := sumtable[n*span : (n+1)*span]
		psite := pclv[n*span : (n+1)*span]
		csite := cclv[n*span : (n+1)*span]
		for c := 0; c < d.rateCats; c++ {
			out := sum[c*states : (c+1)*states]
			copy(x, psite[c*states:(c+1)*states])
			k.leftTerm(states, x, ms.freqs[c], ms.invEigenvecs[c], y)
			k.impl.Dgemv(blas.NoTrans, states, states, 1, ms.eigenvecs[c], states,
				csite[c*states:(c+1)*states], 1, 0, out, 1)
			for i := range out {
				out[i] *= y[i]
			}
		}
	}
}
