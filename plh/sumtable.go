package plh

// Sumtable is the per edge (site, rate category, state) statistic
// which separates the branch length from the rest of the likelihood.
type Sumtable struct {
	Sites    int
	RateCats int
	States   int
	Values   []float64
}

// NewSumtable allocates a sumtable.
func NewSumtable(sites, rateCats, states int) *Sumtable {
	return &Sumtable{
		Sites:    sites,
		RateCats: rateCats,
		States:   states,
		Values:   make([]float64, sites*rateCats*states),
	}
}

// At returns a sumtable value.
func (st *Sumtable) At(site, cat, state int) float64 {
	return st.Values[(site*st.RateCats+cat)*st.States+state]
}

// UpdateSumtable builds a sumtable for the edge between parentCLV and
// childCLV. If st is nil or has wrong dimensions a new sumtable is
// allocated. Either side may be a tip.
func (p *Partition) UpdateSumtable(parentCLV, childCLV int, paramsIndices []int, st *Sumtable) (*Sumtable, error) {
	params, err := p.paramsFor(paramsIndices)
	if err != nil {
		return nil, err
	}
	if st == nil || st.Sites != p.Sites || st.RateCats != p.RateCats || st.States != p.States {
		st = NewSumtable(p.Sites, p.RateCats, p.States)
	}
	ms := p.modelSet(params)

	// the likelihood of a reversible model doesn't depend on the edge
	// orientation, so a tip is always on the left
	if !p.IsTip(parentCLV) && p.IsTip(childCLV) {
		parentCLV, childCLV = childCLV, parentCLV
	}
	switch {
	case p.IsTip(parentCLV) && p.IsTip(childCLV):
		p.kern.sumtableTT(p.d, p.tipChars[parentCLV], p.tipChars[childCLV], ms, p.codes, st.Values)
	case p.IsTip(parentCLV):
		p.kern.sumtableTI(p.d, p.tipChars[parentCLV], p.clv[childCLV], ms, p.codes, st.Values)
	default:
		p.kern.sumtableII(p.d, p.clv[parentCLV], p.clv[childCLV], ms, st.Values)
	}
	return st, nil
}
