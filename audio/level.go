package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// LevelWindow is the number of native-rate samples analysed per reading.
	LevelWindow = 512

	minDecibels      = -100.0
	maxDecibels      = -30.0
	levelDenominator = 128.0
)

// LevelMeter estimates input loudness for visualization. It keeps the most
// recent LevelWindow samples and reduces their magnitude spectrum to a value
// in [0, 1].
type LevelMeter struct {
	mu     sync.Mutex
	window []float64
	pos    int
	filled int

	fft *fourier.FFT
}

// NewLevelMeter creates a meter with an empty window.
func NewLevelMeter() *LevelMeter {
	return &LevelMeter{
		window: make([]float64, LevelWindow),
		fft:    fourier.NewFFT(LevelWindow),
	}
}

// Write feeds native-rate samples into the analysis window.
func (m *LevelMeter) Write(samples []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range samples {
		m.window[m.pos] = float64(s)
		m.pos = (m.pos + 1) % len(m.window)
		if m.filled < len(m.window) {
			m.filled++
		}
	}
}

// Reset clears the window.
func (m *LevelMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.window {
		m.window[i] = 0
	}
	m.pos = 0
	m.filled = 0
}

// Level returns the RMS of the byte-scaled frequency magnitudes divided by a
// fixed denominator, clamped to 1.
func (m *LevelMeter) Level() float64 {
	m.mu.Lock()
	if m.filled == 0 {
		m.mu.Unlock()
		return 0
	}
	seq := make([]float64, len(m.window))
	// chronological order, oldest first
	n := copy(seq, m.window[m.pos:])
	copy(seq[n:], m.window[:m.pos])
	coeffs := m.fft.Coefficients(nil, seq)
	m.mu.Unlock()

	bins := len(seq) / 2
	var sum float64
	for k := 0; k < bins; k++ {
		v := byteMagnitude(cmplx.Abs(coeffs[k]) / float64(len(seq)))
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(bins))

	return math.Min(1, rms/levelDenominator)
}

// byteMagnitude maps a linear magnitude onto 0..255 across the decibel range.
func byteMagnitude(mag float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	scaled := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
	if scaled < 0 {
		return 0
	}
	if scaled > 255 {
		return 255
	}
	return scaled
}
