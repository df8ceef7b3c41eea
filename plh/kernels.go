package plh

// dims are partition dimensions passed to kernels.
type dims struct {
	states   int
	sites    int
	rateCats int
}

// span is the number of values per site.
func (d dims) span() int {
	return d.states * d.rateCats
}

// modelSet is per rate category view on model arrays used by
// sumtables.
type modelSet struct {
	eigenvecs    [][]float64
	invEigenvecs [][]float64
	freqs        [][]float64
}

// kernels is a set of CLV and sumtable kernels. All implementations
// must produce the same values up to floating point rounding.
//
// Matrices are rateCats*states*states category-major row-major
// arrays, CLVs are sites*rateCats*states arrays. Scalers may be nil
// if scaling is not tracked.
type kernels interface {
	// Name returns the implementation name.
	Name() string

	// createLookup fills the tip-tip lookup table.
	createLookup(d dims, lookup, lmat, rmat []float64, codes *tipCodes)

	// updateTT computes the parent CLV for two tip children from
	// the lookup table.
	updateTT(d dims, parent []float64, pscaler []uint32,
		ltips, rtips []uint8, lookup []float64, codes *tipCodes)

	// updateTI computes the parent CLV for a tip (left) and an
	// inner node (right).
	updateTI(d dims, parent []float64, pscaler []uint32,
		ltips []uint8, rclv, lmat, rmat []float64,
		rscaler []uint32, codes *tipCodes)

	// updateII computes the parent CLV for two inner nodes.
	updateII(d dims, parent []float64, pscaler []uint32,
		lclv, rclv, lmat, rmat []float64,
		lscaler, rscaler []uint32)

	// sumtableTT builds a sumtable for an edge between two tips.
	sumtableTT(d dims, ptips, ctips []uint8, ms modelSet,
		codes *tipCodes, sumtable []float64)

	// sumtableTI builds a sumtable for an edge between a tip and
	// an inner node.
	sumtableTI(d dims, ptips []uint8, cclv []float64, ms modelSet,
		codes *tipCodes, sumtable []float64)

	// sumtableII builds a sumtable for an edge between two inner
	// nodes.
	sumtableII(d dims, pclv, cclv []float64, ms modelSet,
		sumtable []float64)
}

// lookupSize returns size of the lookup table.
func lookupSize(d dims, tipmapSize int) int {
	return 1 << (2*log2Ceil(tipmapSize) + log2Ceil(d.states) + log2Ceil(d.rateCats))
}

// lookupOffset returns offset of the (j, k) code pair in the lookup
// table.
func lookupOffset(j, k int, log2Max, log2Span uint) int {
	return ((j << log2Max) + k) << log2Span
}
