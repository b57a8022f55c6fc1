package audio

// G.711 µ-law companding. The encoder segments the 14-bit magnitude into a
// 3-bit exponent and 4-bit mantissa after adding the standard bias; the
// decoder inverts that exactly. A 256-entry table makes decoding a lookup.

const (
	muLawBias = 0x84
	muLawClip = 32635
)

var muLawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		muLawDecodeTable[i] = muLawToLinear(byte(i))
	}
}

func muLawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	value := (int(mant) << 3) + muLawBias
	value <<= uint(exp)
	value -= muLawBias
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

func linearToMuLaw(sample int16) byte {
	s := int(sample)
	sign := byte(0)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias
	exp := byte(7)
	for mask := 0x4000; s&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := byte((s >> (exp + 3)) & 0x0F)
	return ^(sign | exp<<4 | mant)
}

// DecodeMuLaw expands µ-law bytes to 16-bit linear samples.
func DecodeMuLaw(in []byte) []int16 {
	out := make([]int16, len(in))
	for i, b := range in {
		out[i] = muLawDecodeTable[b]
	}
	return out
}

// EncodeMuLaw compresses 16-bit linear samples to µ-law bytes.
func EncodeMuLaw(in []int16) []byte {
	out := make([]byte, len(in))
	for i, s := range in {
		out[i] = linearToMuLaw(s)
	}
	return out
}

// decodeMuLawCoarse widens each byte as if it were a signed 8-bit linear
// sample. This ignores companding entirely and is only a placeholder for
// environments where the exact path is disabled; output is badly distorted.
func decodeMuLawCoarse(in []byte) []int16 {
	out := make([]int16, len(in))
	for i, b := range in {
		out[i] = int16(int8(^b)) << 8
	}
	return out
}

func encodeMuLawCoarse(in []int16) []byte {
	out := make([]byte, len(in))
	for i, s := range in {
		out[i] = ^byte(s >> 8)
	}
	return out
}
