package audio

import (
	"encoding/binary"
	"math"
)

// Resample converts in from nativeRate to targetRate by nearest-index
// decimation: output sample i is input sample floor(i*nativeRate/targetRate)
// and the output holds floor(len(in)*targetRate/nativeRate) samples.
// No phase is carried between calls. Rates at or below the target are
// returned as a copy.
func Resample(in []float32, nativeRate, targetRate int) []float32 {
	if nativeRate <= targetRate || targetRate <= 0 {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}

	n := int64(len(in))
	outLen := n * int64(targetRate) / int64(nativeRate)
	out := make([]float32, outLen)
	for i := int64(0); i < outLen; i++ {
		idx := i * int64(nativeRate) / int64(targetRate)
		out[i] = in[idx]
	}
	return out
}

// FloatToPCM16 clamps x to [-1, 1] and scales it asymmetrically so both -1
// and 1 map to the int16 extremes.
func FloatToPCM16(x float32) int16 {
	v := float64(x)
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

// FloatsToPCM16 converts a whole buffer.
func FloatsToPCM16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, x := range in {
		out[i] = FloatToPCM16(x)
	}
	return out
}

// PCM16ToFloat decodes little-endian PCM16 into normalized floats (sample/32768).
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768
	}
	return out
}
