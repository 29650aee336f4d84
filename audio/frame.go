// Package audio holds the sample formats and conversions shared by capture
// and playback.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// Wire sample rates
const (
	InputSampleRate  = 16000 // microphone audio sent upstream
	OutputSampleRate = 24000 // synthesized audio received from the model

	// InputMIMEType tags realtime audio input.
	InputMIMEType = "audio/pcm;rate=16000"
	// OutputMIMEType tags model audio chunks.
	OutputMIMEType = "audio/pcm;rate=24000"
)

// Frame is a mono PCM16 buffer produced by the capture engine. A frame is not
// modified after it is emitted.
type Frame struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// NewFrame wraps samples captured at the wire input rate.
func NewFrame(samples []int16) Frame {
	return Frame{Samples: samples, SampleRate: InputSampleRate, Channels: 1}
}

// Len returns the number of samples.
func (f Frame) Len() int {
	return len(f.Samples)
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Bytes encodes the frame as little-endian PCM16.
func (f Frame) Bytes() []byte {
	return EncodePCM16(f.Samples)
}

// Base64 encodes the frame for JSON transports.
func (f Frame) Base64() string {
	return base64.StdEncoding.EncodeToString(f.Bytes())
}

// MIMEType describes the frame for realtime input messages.
func (f Frame) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// EncodePCM16 writes samples as little-endian 16-bit PCM.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodePCM16 reads little-endian 16-bit PCM. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}
