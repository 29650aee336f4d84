// Package playback schedules synthesized PCM for gapless output.
package playback

import (
	"math"
	"sync"
	"time"

	"github.com/room4-2/LinguaLive/audio"
	"go.uber.org/zap"
)

const (
	// Lookahead is the minimum lead between now and a buffer's start.
	Lookahead = 0.010
	// StopRamp is the gain ramp applied after a flush.
	StopRamp = 30 * time.Millisecond
)

// Scheduler queues PCM buffers back to back on one Output. All scheduling
// state is owned here; completion callbacks only reach it through ended.
type Scheduler struct {
	factory    OutputFactory
	sampleRate int
	logger     *zap.Logger

	mu        sync.Mutex
	out       Output
	nextStart float64
	active    map[uint64]Voice
	seq       uint64
	// gen is bumped by Stop and Close so completions from flushed voices
	// are ignored.
	gen uint64
}

// NewScheduler creates a scheduler for 24 kHz model audio. The output is not
// created until the first Play.
func NewScheduler(factory OutputFactory, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		factory:    factory,
		sampleRate: audio.OutputSampleRate,
		logger:     logger.With(zap.String("component", "playback")),
		active:     make(map[uint64]Voice),
	}
}

// Play schedules little-endian PCM16 mono audio after everything already
// queued, never earlier than Lookahead from now.
func (s *Scheduler) Play(pcm []byte) {
	samples := audio.PCM16ToFloat(pcm)
	if len(samples) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.output()
	if err != nil {
		s.logger.Error("Failed to open audio output", zap.Error(err))
		return
	}

	start := math.Max(s.nextStart, out.Now()+Lookahead)
	duration := float64(len(samples)) / float64(s.sampleRate)

	id := s.seq
	s.seq++
	gen := s.gen
	s.active[id] = out.Schedule(samples, start, func() { s.ended(gen, id) })
	s.nextStart = start + duration
}

// Stop halts every queued buffer, resets the cursor to 0 and ramps the gain
// back up from silence to avoid a click.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	voices := s.active
	s.active = make(map[uint64]Voice)
	s.nextStart = 0
	s.gen++
	out := s.out
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	if out != nil {
		out.RampGain(0, 1, StopRamp)
	}
	if len(voices) > 0 {
		s.logger.Debug("Playback flushed", zap.Int("voices", len(voices)))
	}
}

// IsPlaying reports whether any scheduled buffer has not finished.
func (s *Scheduler) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) > 0
}

// NextStartTime returns the scheduling cursor in output-clock seconds.
func (s *Scheduler) NextStartTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Close flushes playback and releases the output. The next Play creates a
// fresh one.
func (s *Scheduler) Close() error {
	s.Stop()

	s.mu.Lock()
	out := s.out
	s.out = nil
	s.mu.Unlock()

	if out == nil {
		return nil
	}
	return out.Close()
}

func (s *Scheduler) output() (Output, error) {
	if s.out != nil {
		return s.out, nil
	}
	out, err := s.factory()
	if err != nil {
		return nil, err
	}
	s.out = out
	return out, nil
}

func (s *Scheduler) ended(gen, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	delete(s.active, id)
}
