package plh

// Operation merges two child CLVs into a parent CLV. Scaler indices
// are ScaleBufferNone for nodes without scaling.
type Operation struct {
	ParentCLV    int
	ParentScaler int
	Child1CLV    int
	Child1Matrix int
	Child1Scaler int
	Child2CLV    int
	Child2Matrix int
	Child2Scaler int
}

// ValidTraversal returns true if every child of an operation is
// either a tip or a parent of one of the preceding operations.
func ValidTraversal(tips int, ops []Operation) bool {
	computed := make(map[int]bool)
	for _, op := range ops {
		for _, c := range []int{op.Child1CLV, op.Child2CLV} {
			if c < 0 || (c >= tips && !computed[c]) {
				return false
			}
		}
		if op.ParentCLV < tips {
			return false
		}
		computed[op.ParentCLV] = true
	}
	return true
}

// UpdatePartials applies operations in order. The operation list is
// not validated; see ValidTraversal.
func (p *Partition) UpdatePartials(ops []Operation) {
	for _, op := range ops {
		p.update(op)
	}
}

// update applies a single operation choosing a kernel by the child
// types.
func (p *Partition) update(op Operation) {
	parent := p.clv[op.ParentCLV]
	pscaler := p.Scaler(op.ParentScaler)

	c1, m1, s1 := op.Child1CLV, op.Child1Matrix, op.Child1Scaler
	c2, m2, s2 := op.Child2CLV, op.Child2Matrix, op.Child2Scaler
	// the tip always goes left
	if !p.IsTip(c1) && p.IsTip(c2) {
		c1, m1, s1, c2, m2, s2 = c2, m2, s2, c1, m1, s1
	}

	switch {
	case p.IsTip(c1) && p.IsTip(c2):
		p.kern.createLookup(p.d, p.lookup, p.pmatrix[m1], p.pmatrix[m2], p.codes)
		p.kern.updateTT(p.d, parent, pscaler, p.tipChars[c1], p.tipChars[c2], p.lookup, p.codes)
	case p.IsTip(c1):
		p.kern.updateTI(p.d, parent, pscaler, p.tipChars[c1], p.clv[c2],
			p.pmatrix[m1], p.pmatrix[m2], p.Scaler(s2), p.codes)
	default:
		p.kern.updateII(p.d, parent, pscaler, p.clv[c1], p.clv[c2],
			p.pmatrix[m1], p.pmatrix[m2], p.Scaler(s1), p.Scaler(s2))
	}
}
