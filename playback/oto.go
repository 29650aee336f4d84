package playback

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/room4-2/LinguaLive/audio"
	"go.uber.org/zap"
)

const bytesPerFrame = 4 // float32 mono

// OtoFactory returns an OutputFactory backed by the system speaker. The oto
// context can only be created once per process, so it is created on the
// first call and shared by every output the factory makes.
func OtoFactory(logger *zap.Logger) OutputFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		once   sync.Once
		ctx    *oto.Context
		ctxErr error
	)
	return func() (Output, error) {
		once.Do(func() {
			var ready chan struct{}
			ctx, ready, ctxErr = oto.NewContext(&oto.NewContextOptions{
				SampleRate:   audio.OutputSampleRate,
				ChannelCount: 1,
				Format:       oto.FormatFloat32LE,
				BufferSize:   50 * time.Millisecond,
			})
			if ctxErr == nil {
				<-ready
				logger.Info("Speaker ready", zap.Int("sample_rate", audio.OutputSampleRate))
			}
		})
		if ctxErr != nil {
			return nil, ctxErr
		}
		return NewOtoOutput(ctx, audio.OutputSampleRate), nil
	}
}

// OtoOutput mixes scheduled voices into a single oto player. The player
// pulls samples through Read; the output clock is the number of frames
// pulled so far.
type OtoOutput struct {
	rate   int
	player *oto.Player

	mu     sync.Mutex
	frame  int64
	voices []*mixVoice
	closed bool

	gain      float64
	rampFrom  float64
	rampTo    float64
	rampStart int64
	rampLen   int64
}

// NewOtoOutput starts a player on ctx.
func NewOtoOutput(ctx *oto.Context, rate int) *OtoOutput {
	o := newMixer(rate)
	o.player = ctx.NewPlayer(o)
	o.player.Play()
	return o
}

func newMixer(rate int) *OtoOutput {
	return &OtoOutput{rate: rate, gain: 1, rampTo: 1}
}

type mixVoice struct {
	out     *OtoOutput
	samples []float32
	start   int64
	stopped bool
	onEnded func()
}

// Stop removes the voice from the mix without firing its callback.
func (v *mixVoice) Stop() {
	v.out.mu.Lock()
	v.stopped = true
	v.out.mu.Unlock()
}

// Now returns the output clock in seconds.
func (o *OtoOutput) Now() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return float64(o.frame) / float64(o.rate)
}

// Schedule mixes samples in starting at output time at.
func (o *OtoOutput) Schedule(samples []float32, at float64, onEnded func()) Voice {
	v := &mixVoice{
		out:     o,
		samples: samples,
		start:   int64(math.Round(at * float64(o.rate))),
		onEnded: onEnded,
	}
	o.mu.Lock()
	o.voices = append(o.voices, v)
	o.mu.Unlock()
	return v
}

// RampGain moves the master gain linearly from from to to over d.
func (o *OtoOutput) RampGain(from, to float64, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rampFrom = from
	o.rampTo = to
	o.rampStart = o.frame
	o.rampLen = int64(d) * int64(o.rate) / int64(time.Second)
	o.gain = from
}

// Read renders the next len(p)/4 frames as float32 little-endian.
func (o *OtoOutput) Read(p []byte) (int, error) {
	n := len(p) / bytesPerFrame

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return 0, io.EOF
	}

	base := o.frame
	for i := 0; i < n; i++ {
		t := base + int64(i)
		var sum float32
		for _, v := range o.voices {
			if v.stopped {
				continue
			}
			if idx := t - v.start; idx >= 0 && idx < int64(len(v.samples)) {
				sum += v.samples[idx]
			}
		}
		sum *= float32(o.gainAt(t))
		if sum > 1 {
			sum = 1
		} else if sum < -1 {
			sum = -1
		}
		binary.LittleEndian.PutUint32(p[i*bytesPerFrame:], math.Float32bits(sum))
	}
	o.frame = base + int64(n)

	var finished []func()
	kept := o.voices[:0]
	for _, v := range o.voices {
		switch {
		case v.stopped:
		case v.start+int64(len(v.samples)) <= o.frame:
			if v.onEnded != nil {
				finished = append(finished, v.onEnded)
			}
		default:
			kept = append(kept, v)
		}
	}
	for i := len(kept); i < len(o.voices); i++ {
		o.voices[i] = nil
	}
	o.voices = kept
	o.mu.Unlock()

	for _, fn := range finished {
		fn()
	}
	return n * bytesPerFrame, nil
}

func (o *OtoOutput) gainAt(t int64) float64 {
	if o.rampLen <= 0 || t >= o.rampStart+o.rampLen {
		o.gain = o.rampTo
		return o.gain
	}
	frac := float64(t-o.rampStart) / float64(o.rampLen)
	o.gain = o.rampFrom + (o.rampTo-o.rampFrom)*frac
	return o.gain
}

// Close stops the player. Pending voices are dropped silently.
func (o *OtoOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.voices = nil
	player := o.player
	o.mu.Unlock()

	if player == nil {
		return nil
	}
	player.Pause()
	return player.Close()
}
