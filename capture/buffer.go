package capture

import (
	"errors"
	"sync"
)

// ErrBufferFull is returned when appended samples pushed older samples out.
var ErrBufferFull = errors.New("capture buffer full")

// ChunkBuffer accumulates native-rate samples and hands them out in
// fixed-size chunks. It is written from the device thread, so it never
// blocks: on overflow the oldest samples are discarded.
type ChunkBuffer struct {
	samples   []float32
	chunkSize int
	maxSize   int
	dropped   int
	mu        sync.Mutex
}

// NewChunkBuffer creates a buffer cutting chunkSize-sample chunks and holding
// at most maxSize samples.
func NewChunkBuffer(chunkSize, maxSize int) *ChunkBuffer {
	if maxSize < chunkSize {
		maxSize = chunkSize
	}
	return &ChunkBuffer{
		samples:   make([]float32, 0, maxSize),
		chunkSize: chunkSize,
		maxSize:   maxSize,
	}
}

// ChunkSize returns the number of samples per chunk.
func (cb *ChunkBuffer) ChunkSize() int {
	return cb.chunkSize
}

// Append adds samples. Returns ErrBufferFull if older samples had to be
// dropped to make room; the new samples are always kept.
func (cb *ChunkBuffer) Append(samples []float32) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var err error
	if len(samples) > cb.maxSize {
		cb.dropped += len(cb.samples) + len(samples) - cb.maxSize
		samples = samples[len(samples)-cb.maxSize:]
		cb.samples = cb.samples[:0]
		err = ErrBufferFull
	}

	if over := len(cb.samples) + len(samples) - cb.maxSize; over > 0 {
		n := copy(cb.samples, cb.samples[over:])
		cb.samples = cb.samples[:n]
		cb.dropped += over
		err = ErrBufferFull
	}

	cb.samples = append(cb.samples, samples...)
	return err
}

// Flush removes and returns every complete chunk in arrival order. A partial
// tail stays buffered for the next call.
func (cb *ChunkBuffer) Flush() [][]float32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	count := len(cb.samples) / cb.chunkSize
	if count == 0 {
		return nil
	}

	chunks := make([][]float32, count)
	for i := range chunks {
		chunk := make([]float32, cb.chunkSize)
		copy(chunk, cb.samples[i*cb.chunkSize:])
		chunks[i] = chunk
	}

	n := copy(cb.samples, cb.samples[count*cb.chunkSize:])
	cb.samples = cb.samples[:n]
	return chunks
}

// Clear empties the buffer without returning data
func (cb *ChunkBuffer) Clear() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.samples = cb.samples[:0]
	cb.dropped = 0
}

// Size returns the number of buffered samples
func (cb *ChunkBuffer) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return len(cb.samples)
}

// ChunkCount returns the number of complete chunks ready to flush
func (cb *ChunkBuffer) ChunkCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return len(cb.samples) / cb.chunkSize
}

// Dropped returns how many samples were discarded since the last Clear.
func (cb *ChunkBuffer) Dropped() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.dropped
}
