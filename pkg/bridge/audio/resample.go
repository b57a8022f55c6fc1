package audio

import "math"

// Resample converts samples from one rate to another with linear
// interpolation. The output length is round(len(in) * toHz / fromHz), so a
// buffer of duration D comes out with duration D to within one sample
// period. This is the primary rate-conversion path.
func Resample(in []int16, fromHz, toHz int) []int16 {
	if fromHz == toHz || len(in) == 0 {
		return append([]int16(nil), in...)
	}
	ratio := float64(toHz) / float64(fromHz)
	outLen := int(math.Round(float64(len(in)) * ratio))
	if outLen < 1 {
		return []int16{}
	}
	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) / ratio
		i0 := int(srcPos)
		if i0 >= len(in) {
			i0 = len(in) - 1
		}
		i1 := i0 + 1
		if i1 >= len(in) {
			i1 = len(in) - 1
		}
		frac := srcPos - float64(i0)
		v := float64(in[i0])*(1-frac) + float64(in[i1])*frac
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

// ResampleNearest converts rate by picking or repeating source samples.
// Duration-preserving like Resample but lower fidelity; it is the fallback
// path and audibly aliases on speech.
func ResampleNearest(in []int16, fromHz, toHz int) []int16 {
	if fromHz == toHz || len(in) == 0 {
		return append([]int16(nil), in...)
	}
	ratio := float64(toHz) / float64(fromHz)
	outLen := int(math.Round(float64(len(in)) * ratio))
	if outLen < 1 {
		return []int16{}
	}
	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		src := int(float64(i) / ratio)
		if src >= len(in) {
			src = len(in) - 1
		}
		out[i] = in[src]
	}
	return out
}
