package capture

// Device is a push-based frame producer. Open starts delivering mono float32
// samples in [-1, 1] at the device's native rate to onData, which may be
// called from a thread the caller does not own and must not block.
type Device interface {
	Open(onData func(samples []float32)) (nativeRate int, err error)
	Close() error
}
