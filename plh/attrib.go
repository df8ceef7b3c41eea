package plh

import (
	"golang.org/x/sys/cpu"
)

// Attrib is a set of partition attribute flags.
type Attrib uint

// Architecture attributes. They only select the kernel
// implementation, the results are the same up to rounding.
const (
	// AttribArchCPU selects the reference kernels.
	AttribArchCPU Attrib = 0
	// AttribArchSSE requests the optimized kernels on SSE3 capable CPUs.
	AttribArchSSE Attrib = 1 << iota
	// AttribArchAVX requests the optimized kernels on AVX capable CPUs.
	AttribArchAVX
)

// archSupported reports if the host CPU has the requested features.
var archSupported = func(a Attrib) bool {
	switch {
	case a&AttribArchAVX != 0:
		return cpu.X86.HasAVX || cpu.ARM64.HasASIMD
	case a&AttribArchSSE != 0:
		return cpu.X86.HasSSE3 || cpu.ARM64.HasASIMD
	}
	return true
}

// selectKernels resolves kernels for attributes.
func selectKernels(a Attrib) kernels {
	if a&(AttribArchSSE|AttribArchAVX) == 0 {
		return refKernels{}
	}
	if !archSupported(a) {
		log.Warningf("Requested architecture (attributes=%d) is not supported by the CPU, using reference kernels", a)
		return refKernels{}
	}
	return newBlasKernels()
}
