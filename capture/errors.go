package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the OS refuses microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceNotFound is returned when no usable input device exists.
	ErrDeviceNotFound = errors.New("no audio input device found")

	errInvalidRate = errors.New("device reported no sample rate")
)

// CaptureError wraps any other device failure.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// classify keeps the two user-actionable kinds distinct and folds everything
// else into a CaptureError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceNotFound) {
		return err
	}
	var ce *CaptureError
	if errors.As(err, &ce) {
		return err
	}
	return &CaptureError{Op: op, Err: err}
}
