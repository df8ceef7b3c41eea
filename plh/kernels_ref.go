package plh

// refKernels are reference kernels which directly follow the
// definitions. Four-state data use specialized unrolled versions.
type refKernels struct{}

// Name returns the implementation name.
func (refKernels) Name() string {
	return "reference"
}

func (refKernels) createLookup(d dims, lookup, lmat, rmat []float64, codes *tipCodes) {
	if d.states == 4 {
		createLookup4(d, lookup, lmat, rmat)
		return
	}
	states := d.states
	maxStates := len(codes.masks)
	log2Max := log2Ceil(maxStates)
	log2Span := log2Ceil(states) + log2Ceil(d.rateCats)

	// go through all pairs j,k of codes for the two tips; i is the
	// inner node state
	for j := 0; j < maxStates; j++ {
		for k := 0; k < maxStates; k++ {
			row := lookup[lookupOffset(j, k, log2Max, log2Span):]
			index := 0
			for n := 0; n < d.rateCats; n++ {
				for i := 0; i < states; i++ {
					off := (n*states + i) * states
					jmat := lmat[off : off+states]
					kmat := rmat[off : off+states]
					jstate := codes.masks[j]
					kstate := codes.masks[k]
					termj, termk := 0.0, 0.0
					for m := 0; m < states; m++ {
						if jstate&1 != 0 {
							termj += jmat[m]
						}
						if kstate&1 != 0 {
							termk += kmat[m]
						}
						jstate >>= 1
						kstate >>= 1
					}
					row[index] = termj * termk
					index++
				}
			}
		}
	}
}

// createLookup4 fills lookup table for 4 states, where a tip code is
// the mask itself.
func createLookup4(d dims, lookup, lmat, rmat []float64) {
	log2Span := 2 + log2Ceil(d.rateCats)
	for j := 0; j < 16; j++ {
		for k := 0; k < 16; k++ {
			row := lookup[lookupOffset(j, k, 4, log2Span):]
			for n := 0; n < d.rateCats; n++ {
				for i := 0; i < 4; i++ {
					off := (n*4 + i) * 4
					jm := lmat[off : off+4]
					km := rmat[off : off+4]
					termj, termk := 0.0, 0.0
					if j&1 != 0 {
						termj += jm[0]
					}
					if j&2 != 0 {
						termj += jm[1]
					}
					if j&4 != 0 {
						termj += jm[2]
					}
					if j&8 != 0 {
						termj += jm[3]
					}
					if k&1 != 0 {
						termk += km[0]
					}
					if k&2 != 0 {
						termk += km[1]
					}
					if k&4 != 0 {
						termk += km[2]
					}
					if k&8 != 0 {
						termk += km[3]
					}
					row[n*4+i] = termj * termk
				}
			}
		}
	}
}

func (refKernels) updateTT(d dims, parent []float64, pscaler []uint32,
	ltips, rtips []uint8, lookup []float64, codes *tipCodes) {
	span := d.span()
	var log2Max, log2Span uint
	if d.states == 4 {
		log2Max, log2Span = 4, 2+log2Ceil(d.rateCats)
	} else {
		log2Max = log2Ceil(len(codes.masks))
		log2Span = log2Ceil(d.states) + log2Ceil(d.rateCats)
	}

	if pscaler != nil {
		fillParentScaler(d.sites, pscaler, nil, nil)
	}

	for n := 0; n < d.sites; n++ {
		j := int(ltips[n])
		k := int(rtips[n])
		off := lookupOffset(j, k, log2Max, log2Span)
		site := parent[n*span : (n+1)*span]
		copy(site, lookup[off:off+span])
		if pscaler != nil && belowThreshold(site) {
			rescaleSite(site)
			pscaler[n]++
		}
	}
}

func (refKernels) updateTI(d dims, parent []float64, pscaler []uint32,
	ltips []uint8, rclv, lmat, rmat []float64,
	rscaler []uint32, codes *tipCodes) {
	if d.states == 4 {
		updateTI4(d, parent, pscaler, ltips, rclv, lmat, rmat, rscaler)
		return
	}
	states := d.states
	span := d.span()

	if pscaler != nil {
		fillParentScaler(d.sites, pscaler, nil, rscaler)
	}

	for n := 0; n < d.sites; n++ {
		site := parent[n*span : (n+1)*span]
		rsite := rclv[n*span : (n+1)*span]
		scaling := pscaler != nil
		mask := codes.masks[ltips[n]]
		for k := 0; k < d.rateCats; k++ {
			rv := rsite[k*states : (k+1)*states]
			for i := 0; i < states; i++ {
				off := (k*states + i) * states
				lm := lmat[off : off+states]
				rm := rmat[off : off+states]
				lstate := mask
				terma, termb := 0.0, 0.0
				for j := 0; j < states; j++ {
					if lstate&1 != 0 {
						terma += lm[j]
					}
					termb += rm[j] * rv[j]
					lstate >>= 1
				}
				v := terma * termb
				site[k*states+i] = v
				scaling = scaling && v < ScaleThreshold
			}
		}
		// if all entries of the site CLV are below the threshold
		// scale all of them
		if scaling {
			rescaleSite(site)
			pscaler[n]++
		}
	}
}

// updateTI4 is updateTI for 4 states where a tip code is the mask.
func updateTI4(d dims, parent []float64, pscaler []uint32,
	ltips []uint8, rclv, lmat, rmat []float64, rscaler []uint32) {
	span := d.span()

	if pscaler != nil {
		fillParentScaler(d.sites, pscaler, nil, rscaler)
	}

	for n := 0; n < d.sites; n++ {
		site := parent[n*span : (n+1)*span]
		rsite := rclv[n*span : (n+1)*span]
		scaling := pscaler != nil
		c := ltips[n]
		for k := 0; k < d.rateCats; k++ {
			rv := rsite[k*4 : k*4+4]
			for i := 0; i < 4; i++ {
				off := (k*4 + i) * 4
				lm := lmat[off : off+4]
				rm := rmat[off : off+4]
				terma := 0.0
				if c&1 != 0 {
					terma += lm[0]
				}
				if c&2 != 0 {
					terma += lm[1]
				}
				if c&4 != 0 {
					terma += lm[2]
				}
				if c&8 != 0 {
					terma += lm[3]
				}
				termb := rm[0]*rv[0] + rm[1]*rv[1] + rm[2]*rv[2] + rm[3]*rv[3]
				v := terma * termb
				site[k*4+i] = v
				scaling = scaling && v < ScaleThreshold
			}
		}
		if scaling {
			rescaleSite(site)
			pscaler[n]++
		}
	}
}

func (refKernels) updateII(d dims, parent []float64, pscaler []uint32,
	lclv, rclv, lmat, rmat []float64,
	lscaler, rscaler []uint32) {
	states := d.states
	span := d.span()

	// add up the scale vectors of the two children if available
	if pscaler != nil {
		fillParentScaler(d.sites, pscaler, lscaler, rscaler)
	}

	for n := 0; n < d.sites; n++ {
		site := parent[n*span : (n+1)*span]
		lsite := lclv[n*span : (n+1)*span]
		rsite := rclv[n*span : (n+1)*span]
		scaling := pscaler != nil
		for k := 0; k < d.rateCats; k++ {
			lv := lsite[k*states : (k+1)*states]
			rv := rsite[k*states : (k+1)*states]
			for i := 0; i < states; i++ {
				off := (k*states + i) * states
				lm := lmat[off : off+states]
				rm := rmat[off : off+states]
				terma, termb := 0.0, 0.0
				for j := 0; j < states; j++ {
					terma += lm[j] * lv[j]
					termb += rm[j] * rv[j]
				}
				v := terma * termb
				site[k*states+i] = v
				scaling = scaling && v < ScaleThreshold
			}
		}
		if scaling {
			rescaleSite(site)
			pscaler[n]++
		}
	}
}

func (refKernels) sumtableTT(d dims, ptips, ctips []uint8, ms modelSet,
	codes *tipCodes, sumtable []float64) {
	states := d.states
	span := d.span()
	for n := 0; n < d.sites; n++ {
		sum := sumtable[n*span : (n+1)*span]
		pmask := codes.masks[ptips[n]]
		cmask := codes.masks[ctips[n]]
		for i := 0; i < d.rateCats; i++ {
			ev := ms.eigenvecs[i]
			iev := ms.invEigenvecs[i]
			freqs := ms.freqs[i]
			for j := 0; j < states; j++ {
				lefterm, righterm := 0.0, 0.0
				for k := 0; k < states; k++ {
					if pmask.Has(k) {
						lefterm += freqs[k] * iev[k*states+j]
					}
					if cmask.Has(k) {
						righterm += ev[j*states+k]
					}
				}
				sum[i*states+j] = lefterm * righterm
			}
		}
	}
}

func (refKernels) sumtableTI(d dims, ptips []uint8, cclv []float64, ms modelSet,
	codes *tipCodes, sumtable []float64) {
	states := d.states
	span := d.span()
	for n := 0; n < d.sites; n++ {
		sum := sumtable[n*span : (n+1)*span]
		csite := cclv[n*span : (n+1)*span]
		mask := codes.masks[ptips[n]]
		for i := 0; i < d.rateCats; i++ {
			ev := ms.eigenvecs[i]
			iev := ms.invEigenvecs[i]
			freqs := ms.freqs[i]
			cv := csite[i*states : (i+1)*states]
			for j := 0; j < states; j++ {
				tipstate := mask
				lefterm, righterm := 0.0, 0.0
				for k := 0; k < states; k++ {
					lefterm += float64(tipstate&1) * freqs[k] * iev[k*states+j]
					righterm += ev[j*states+k] * cv[k]
					tipstate >>= 1
				}
				sum[i*states+j] = lefterm * righterm
			}
		}
	}
}

func (refKernels) sumtableII(d dims, pclv, cclv []float64, ms modelSet,
	sumtable []float64) {
	states := d.states
	span := d.span()
	for n := 0; n < d.sites; n++ {
		sum := sumtable[n*span : (n+1)*span]
		psite := pclv[n*span : (n+1)*span]
		csite := cclv[n*span : (n+1)*span]
		for i := 0; i < d.rateCats; i++ {
			ev := ms.eigenvecs[i]
			iev := ms.invEigenvecs[i]
			freqs := ms.freqs[i]
			pv := psite[i*states : (i+1)*states]
			cv := csite[i*states : (i+1)*states]
			for j := 0; j < states; j++ {
				lefterm, righterm := 0.0, 0.0
				for k := 0; k < states; k++ {
					lefterm += pv[k] * freqs[k] * iev[k*states+j]
					righterm += ev[j*states+k] * cv[k]
				}
				sum[i*states+j] = lefterm * righterm
			}
		}
	}
}
