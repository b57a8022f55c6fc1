// Package audio converts call audio between the telephony leg (G.711 µ-law,
// 8 kHz mono) and the model leg (16-bit linear PCM little-endian, 24 kHz
// mono). All conversions are pure functions over sample slices; the
// Transcoder bundles the full per-direction paths and records whether any
// degraded fallback is in use.
package audio

import (
	"fmt"
)

const (
	// TelephonyRateHz is the sample rate of the phone-network leg.
	TelephonyRateHz = 8000
	// ModelRateHz is the sample rate the AI endpoint expects for pcm16.
	ModelRateHz = 24000
)

// Transcoder converts audio between the two legs of a bridged call.
// The zero value is not usable; construct with NewTranscoder.
type Transcoder struct {
	exactCodec      bool
	preciseResample bool
}

// Option configures a Transcoder.
type Option func(*Transcoder)

// WithCoarseCodec selects the naive bit-widening codec path instead of the
// exact G.711 companding tables. It exists only as an explicit degraded
// mode and is not production quality.
func WithCoarseCodec() Option {
	return func(t *Transcoder) { t.exactCodec = false }
}

// WithNearestResample selects sample pick/repeat rate conversion instead of
// linear interpolation. Lower fidelity; audible aliasing on speech.
func WithNearestResample() Option {
	return func(t *Transcoder) { t.preciseResample = false }
}

func NewTranscoder(opts ...Option) *Transcoder {
	t := &Transcoder{exactCodec: true, preciseResample: true}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Degraded reports whether any fallback conversion path is active.
func (t *Transcoder) Degraded() bool {
	return !t.exactCodec || !t.preciseResample
}

// TelephonyToModel converts raw µ-law bytes at the telephony rate into
// 16-bit PCM bytes at the model rate. Every input byte is a valid µ-law
// sample, so this direction cannot fail.
func (t *Transcoder) TelephonyToModel(mulaw []byte) []byte {
	var pcm []int16
	if t.exactCodec {
		pcm = DecodeMuLaw(mulaw)
	} else {
		pcm = decodeMuLawCoarse(mulaw)
	}
	pcm = t.resample(pcm, TelephonyRateHz, ModelRateHz)
	return PCMToBytes(pcm)
}

// ModelToTelephony converts 16-bit PCM bytes at the model rate into raw
// µ-law bytes at the telephony rate. Returns an error if the input is not a
// whole number of 16-bit samples.
func (t *Transcoder) ModelToTelephony(pcm []byte) ([]byte, error) {
	samples, err := BytesToPCM(pcm)
	if err != nil {
		return nil, err
	}
	samples = t.resample(samples, ModelRateHz, TelephonyRateHz)
	if t.exactCodec {
		return EncodeMuLaw(samples), nil
	}
	return encodeMuLawCoarse(samples), nil
}

func (t *Transcoder) resample(in []int16, fromHz, toHz int) []int16 {
	if t.preciseResample {
		return Resample(in, fromHz, toHz)
	}
	return ResampleNearest(in, fromHz, toHz)
}

// PCMToBytes serializes samples as 16-bit little-endian PCM.
func PCMToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToPCM parses 16-bit little-endian PCM bytes into samples.
func BytesToPCM(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm16 payload has odd length %d", len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return out, nil
}
