package capture

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// MalgoDevice captures from the default system microphone.
type MalgoDevice struct {
	logger *zap.Logger

	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	device *malgo.Device
}

// NewMalgoDevice creates an unopened microphone device.
func NewMalgoDevice(logger *zap.Logger) *MalgoDevice {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MalgoDevice{logger: logger}
}

// Open initializes the audio context and starts the default capture device
// in float32 mono at its native sample rate.
func (d *MalgoDevice) Open(onData func([]float32)) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		return int(d.device.SampleRate()), nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		d.logger.Debug("miniaudio", zap.String("message", msg))
	})
	if err != nil {
		return 0, mapMalgoError("init context", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = 0 // native
	cfg.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frames uint32) {
			onData(decodeF32(input, int(frames)))
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return 0, mapMalgoError("init device", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return 0, mapMalgoError("start device", err)
	}

	d.mctx = mctx
	d.device = device

	rate := int(device.SampleRate())
	d.logger.Info("Microphone opened", zap.Int("sample_rate", rate))
	return rate, nil
}

// Close stops the device and releases the audio context. Safe to call twice.
func (d *MalgoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device == nil {
		return nil
	}

	var err error
	if stopErr := d.device.Stop(); stopErr != nil {
		err = mapMalgoError("stop device", stopErr)
	}
	d.device.Uninit()
	d.device = nil

	if d.mctx != nil {
		_ = d.mctx.Uninit()
		d.mctx.Free()
		d.mctx = nil
	}

	d.logger.Info("Microphone closed")
	return err
}

func mapMalgoError(op string, err error) error {
	switch {
	case errors.Is(err, malgo.ErrAccessDenied):
		return ErrPermissionDenied
	case errors.Is(err, malgo.ErrNoDevice),
		errors.Is(err, malgo.ErrDoesNotExist),
		errors.Is(err, malgo.ErrFailedToOpenBackendDevice):
		return ErrDeviceNotFound
	default:
		return &CaptureError{Op: op, Err: err}
	}
}

func decodeF32(raw []byte, frames int) []float32 {
	if n := len(raw) / 4; frames > n {
		frames = n
	}
	out := make([]float32, frames)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}
