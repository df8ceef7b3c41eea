package plh

import "math"

const (
	// ScaleExponent is the binary exponent of the scale factor.
	ScaleExponent = 256
	// ScaleFactor multiplies a site when all its values underflow
	// the threshold.
	ScaleFactor = 0x1p256
	// ScaleThreshold is the underflow threshold, 1/ScaleFactor.
	ScaleThreshold = 0x1p-256
)

// ScaleBufferNone marks a node without a scale buffer.
const ScaleBufferNone = -1

// lnScaleThreshold is log(ScaleThreshold).
var lnScaleThreshold = -ScaleExponent * math.Ln2

// fillParentScaler seeds the parent scaler with the sum of the child
// scalers. A nil child is treated as all zeros.
func fillParentScaler(sites int, parent, left, right []uint32) {
	switch {
	case left == nil && right == nil:
		for i := 0; i < sites; i++ {
			parent[i] = 0
		}
	case left != nil && right != nil:
		copy(parent[:sites], left[:sites])
		for i := 0; i < sites; i++ {
			parent[i] += right[i]
		}
	case left != nil:
		copy(parent[:sites], left[:sites])
	default:
		copy(parent[:sites], right[:sites])
	}
}

// rescaleSite multiplies all the values of a site by ScaleFactor.
func rescaleSite(site []float64) {
	for i := range site {
		site[i] *= ScaleFactor
	}
}

// belowThreshold returns true if every value is below ScaleThreshold.
func belowThreshold(site []float64) bool {
	for _, v := range site {
		if !(v < ScaleThreshold) {
			return false
		}
	}
	return true
}
