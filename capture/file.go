package capture

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/room4-2/LinguaLive/audio"
	"go.uber.org/zap"
)

// FileDevice replays a WAV or raw PCM16 mono file as if it were a
// microphone, at real-time pace.
type FileDevice struct {
	path    string
	rawRate int
	period  time.Duration
	logger  *zap.Logger

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
	done chan struct{}
}

// NewFileDevice creates a device for path. rawRate is the sample rate assumed
// for headerless PCM files; WAV files carry their own.
func NewFileDevice(path string, rawRate int, logger *zap.Logger) *FileDevice {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rawRate <= 0 {
		rawRate = audio.InputSampleRate
	}
	return &FileDevice{
		path:    path,
		rawRate: rawRate,
		period:  20 * time.Millisecond,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Done is closed once the whole file has been delivered.
func (d *FileDevice) Done() <-chan struct{} {
	return d.done
}

// Open loads the file and starts streaming it to onData.
func (d *FileDevice) Open(onData func([]float32)) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stop != nil {
		return 0, &CaptureError{Op: "open", Err: fmt.Errorf("file device already open")}
	}

	pcm, rate, err := loadAudioFile(d.path, d.rawRate)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrDeviceNotFound
		}
		if os.IsPermission(err) {
			return 0, ErrPermissionDenied
		}
		return 0, &CaptureError{Op: "open", Err: err}
	}

	samples := audio.PCM16ToFloat(pcm)
	d.logger.Info("Streaming audio file",
		zap.String("path", d.path),
		zap.Int("sample_rate", rate),
		zap.Duration("duration", time.Duration(len(samples))*time.Second/time.Duration(rate)))

	stop := make(chan struct{})
	d.stop = stop
	d.wg.Add(1)
	go d.stream(samples, rate, onData, stop)

	return rate, nil
}

func (d *FileDevice) stream(samples []float32, rate int, onData func([]float32), stop chan struct{}) {
	defer d.wg.Done()

	per := rate * int(d.period) / int(time.Second)
	if per <= 0 {
		per = 1
	}

	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	for i := 0; i < len(samples); i += per {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		end := i + per
		if end > len(samples) {
			end = len(samples)
		}
		onData(samples[i:end])
	}

	select {
	case <-d.done:
	default:
		close(d.done)
	}
}

// Close stops streaming. Safe to call twice.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	d.wg.Wait()
	return nil
}

// loadAudioFile returns raw PCM16 bytes and their sample rate.
func loadAudioFile(path string, rawRate int) ([]byte, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}

	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return parseWAV(data)
	}
	if rawRate <= 0 {
		return nil, 0, fmt.Errorf("invalid sample rate %d", rawRate)
	}
	return data, rawRate, nil
}

// parseWAV walks the RIFF chunks for "fmt " and "data"; anything else
// (LIST, fact, ...) is skipped.
func parseWAV(data []byte) ([]byte, int, error) {
	var (
		fmtChunk []byte
		pcm      []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if size < 0 || end > len(data) {
			end = len(data)
		}
		switch id {
		case "fmt ":
			fmtChunk = data[body:end]
		case "data":
			pcm = data[body:end]
		}
		if pcm != nil && fmtChunk != nil {
			break
		}
		// chunks are word aligned
		off = end + size%2
	}

	if len(fmtChunk) < 16 {
		return nil, 0, fmt.Errorf("wav file has no fmt chunk")
	}
	if pcm == nil {
		return nil, 0, fmt.Errorf("wav file has no data chunk")
	}
	channels := int(binary.LittleEndian.Uint16(fmtChunk[2:4]))
	rate := int(binary.LittleEndian.Uint32(fmtChunk[4:8]))
	bits := int(binary.LittleEndian.Uint16(fmtChunk[14:16]))
	if channels != 1 || bits != 16 {
		return nil, 0, fmt.Errorf("unsupported wav format: %d channels, %d bits", channels, bits)
	}
	if rate <= 0 {
		return nil, 0, fmt.Errorf("invalid wav sample rate %d", rate)
	}
	return pcm[:len(pcm)&^1], rate, nil
}
