package insert

import "runtime"

// blockKernels picks the unrolled 4-frame kernels once per process;
// the scalar versions stay the default elsewhere.
var blockKernels = runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64"

// Standard processor versions.

func stdProcessSendGain(frames [][]float32, nframes int, gain float32) {
	for _, ch := range frames {
		ch = ch[:nframes]
		for n := range ch {
			ch[n] *= gain
		}
	}
}

func stdProcessDryWet(in, out [][]float32, nframes int, gain float32) {
	for i := range out {
		src := in[i][:nframes]
		dst := out[i][:nframes]
		for n := range dst {
			dst[n] += gain * src[n]
		}
	}
}

// Unrolled processor versions: head groups of four with a scalar
// tail, shaped for the compiler's auto-vectorizer.

func blockProcessSendGain(frames [][]float32, nframes int, gain float32) {
	for _, ch := range frames {
		ch = ch[:nframes]
		n := 0
		for ; n+4 <= nframes; n += 4 {
			ch[n] *= gain
			ch[n+1] *= gain
			ch[n+2] *= gain
			ch[n+3] *= gain
		}
		for ; n < nframes; n++ {
			ch[n] *= gain
		}
	}
}

func blockProcessDryWet(in, out [][]float32, nframes int, gain float32) {
	for i := range out {
		src := in[i][:nframes]
		dst := out[i][:nframes]
		n := 0
		for ; n+4 <= nframes; n += 4 {
			dst[n] += gain * src[n]
			dst[n+1] += gain * src[n+1]
			dst[n+2] += gain * src[n+2]
			dst[n+3] += gain * src[n+3]
		}
		for ; n < nframes; n++ {
			dst[n] += gain * src[n]
		}
	}
}
