// Package capture turns a microphone stream into wire-rate PCM16 frames.
package capture

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/room4-2/LinguaLive/audio"
	"go.uber.org/zap"
)

const (
	// ChunkSamples is the number of native-rate samples per emitted frame.
	ChunkSamples = 2048
	// LevelInterval is the audio level refresh cadence (60 Hz).
	LevelInterval = time.Second / 60

	maxBufferedChunks = 32
)

// Engine owns a Device while running and emits resampled frames to a
// swappable consumer.
type Engine struct {
	device     Device
	targetRate int
	logger     *zap.Logger

	buffer *ChunkBuffer
	meter  *audio.LevelMeter

	// consumer and level callback are swapped without restarting the device
	consumer atomic.Pointer[func(audio.Frame)]
	onLevel  atomic.Pointer[func(float64)]
	level    atomic.Uint64

	// epoch is bumped on every Start and Stop; device callbacks from an
	// older run are ignored.
	epoch atomic.Uint64

	mu         sync.Mutex
	running    bool
	nativeRate int
	cancel     context.CancelFunc
	notify     chan struct{}
	done       chan struct{}
}

// NewEngine creates a stopped engine for device.
func NewEngine(device Device, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		device:     device,
		targetRate: audio.InputSampleRate,
		logger:     logger.With(zap.String("component", "capture")),
		buffer:     NewChunkBuffer(ChunkSamples, ChunkSamples*maxBufferedChunks),
		meter:      audio.NewLevelMeter(),
	}
}

// SetConsumer replaces the frame consumer. nil discards frames.
func (e *Engine) SetConsumer(fn func(audio.Frame)) {
	if fn == nil {
		e.consumer.Store(nil)
		return
	}
	e.consumer.Store(&fn)
}

// OnLevel registers a callback invoked at LevelInterval with the audio level.
func (e *Engine) OnLevel(fn func(float64)) {
	if fn == nil {
		e.onLevel.Store(nil)
		return
	}
	e.onLevel.Store(&fn)
}

// Level returns the most recent audio level in [0, 1].
func (e *Engine) Level() float64 {
	return math.Float64frombits(e.level.Load())
}

// NativeRate returns the device rate of the current run, or 0 when stopped.
func (e *Engine) NativeRate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nativeRate
}

// IsRunning reports whether the device is open.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start opens the device and begins emitting frames. Starting a running
// engine is a no-op. Errors are ErrPermissionDenied, ErrDeviceNotFound or a
// *CaptureError.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	epoch := e.epoch.Add(1)
	e.buffer.Clear()
	e.meter.Reset()
	notify := make(chan struct{}, 1)

	nativeRate, err := e.device.Open(func(samples []float32) {
		e.handleData(epoch, notify, samples)
	})
	if err != nil {
		e.epoch.Add(1)
		_ = e.device.Close()
		err = classify("open", err)
		e.logger.Warn("Failed to open input device", zap.Error(err))
		return err
	}
	if nativeRate <= 0 {
		e.epoch.Add(1)
		_ = e.device.Close()
		return &CaptureError{Op: "open", Err: errInvalidRate}
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.nativeRate = nativeRate
	e.cancel = cancel
	e.notify = notify
	e.done = make(chan struct{})

	go e.run(runCtx, nativeRate, notify, e.done)

	e.logger.Info("Capture started",
		zap.Int("native_rate", nativeRate),
		zap.Int("target_rate", e.targetRate))
	return nil
}

// Stop closes the device, drops buffered audio and resets the level to 0.
// Calling Stop on a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.epoch.Add(1)
	cancel, done := e.cancel, e.done
	e.cancel, e.done, e.notify = nil, nil, nil
	e.nativeRate = 0
	e.mu.Unlock()

	cancel()
	<-done

	if err := e.device.Close(); err != nil {
		e.logger.Warn("Failed to close input device", zap.Error(err))
	}

	e.buffer.Clear()
	e.meter.Reset()
	e.publishLevel(0)
	e.logger.Info("Capture stopped")
}

// handleData runs on the device thread and must never block.
func (e *Engine) handleData(epoch uint64, notify chan struct{}, samples []float32) {
	if e.epoch.Load() != epoch {
		return
	}
	e.meter.Write(samples)
	if err := e.buffer.Append(samples); err != nil {
		e.logger.Debug("Capture buffer overflow", zap.Int("dropped", e.buffer.Dropped()))
	}
	select {
	case notify <- struct{}{}:
	default:
	}
}

func (e *Engine) run(ctx context.Context, nativeRate int, notify <-chan struct{}, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(LevelInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-notify:
			e.emit(nativeRate)
		case <-ticker.C:
			e.publishLevel(e.meter.Level())
		}
	}
}

func (e *Engine) emit(nativeRate int) {
	for _, chunk := range e.buffer.Flush() {
		frame := e.convert(chunk, nativeRate)
		if fn := e.consumer.Load(); fn != nil {
			(*fn)(frame)
		}
	}
}

// convert resamples one native chunk and quantizes it to PCM16.
func (e *Engine) convert(chunk []float32, nativeRate int) audio.Frame {
	resampled := audio.Resample(chunk, nativeRate, e.targetRate)
	rate := e.targetRate
	if nativeRate < e.targetRate {
		rate = nativeRate
	}
	return audio.Frame{
		Samples:    audio.FloatsToPCM16(resampled),
		SampleRate: rate,
		Channels:   1,
	}
}

func (e *Engine) publishLevel(level float64) {
	e.level.Store(math.Float64bits(level))
	if fn := e.onLevel.Load(); fn != nil {
		(*fn)(level)
	}
}
