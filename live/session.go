// Package live manages one streaming conversation with the remote endpoint:
// the connection state machine, outbound audio and text, and routing of
// inbound events to playback and the transcript.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/room4-2/LinguaLive/audio"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyActive is returned by Start while a connection is open.
	ErrAlreadyActive = errors.New("live session already active")
	// ErrNotConnected is returned by SendTextTurn outside listening/speaking.
	ErrNotConnected = errors.New("live session not connected")
	// ErrQueueFull is returned when the outbound queue cannot take a text turn.
	ErrQueueFull = errors.New("outbound queue full")
	// ErrStopped is returned by a Start that was cancelled by Stop.
	ErrStopped = errors.New("live session stopped")
	// ErrConnection matches every *ConnectionError.
	ErrConnection = errors.New("connection error")
)

// ConnectionError means the channel failed to open or closed unexpectedly.
// Message is meant for the user.
type ConnectionError struct {
	Message string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// Player receives model audio.
type Player interface {
	Play(pcm []byte)
	Stop()
}

// TranscriptSink receives transcription deltas and turn boundaries.
type TranscriptSink interface {
	AppendUserText(delta string)
	AppendAIText(delta string)
	CommitLiveTexts()
	ClearLiveTexts()
}

// Options tune a Session.
type Options struct {
	QueueSize        int
	HandshakeTimeout time.Duration
}

const (
	defaultQueueSize        = 64
	defaultHandshakeTimeout = 15 * time.Second
)

type outbound struct {
	audio []byte
	text  string
}

// connection holds everything owned by one Dial. Callbacks carry their
// connection; once it is no longer the session's current one they are
// ignored.
type connection struct {
	id      uint64
	channel Channel
	queue   chan outbound
	ready   chan error
	stop    chan struct{}
	done    chan struct{}
}

// Session is the single owner of the connection status.
type Session struct {
	dialer     Dialer
	player     Player
	transcript TranscriptSink
	opts       Options
	logger     *zap.Logger

	// dispatchMu serializes inbound event handling with teardown, so no
	// callback can act after Stop has returned.
	dispatchMu sync.Mutex

	mu        sync.Mutex
	status    Status
	statusSeq uint64
	lastErr   string
	conn      *connection
	nextID    uint64
	onStatus  func(Status)

	// notifyMu orders status callbacks; one overtaken by a newer change is
	// dropped
	notifyMu    sync.Mutex
	notifiedSeq uint64

	dropped atomic.Uint64
}

// NewSession creates an idle session.
func NewSession(dialer Dialer, player Player, transcript TranscriptSink, opts Options, logger *zap.Logger) *Session {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		dialer:     dialer,
		player:     player,
		transcript: transcript,
		opts:       opts,
		logger:     logger.With(zap.String("component", "live")),
	}
}

// OnStatus registers a callback for status changes. Callbacks arrive in
// order; a change already overtaken by a newer one is not reported. fn must
// not call Start or Stop synchronously.
func (s *Session) OnStatus(fn func(Status)) {
	s.mu.Lock()
	s.onStatus = fn
	s.mu.Unlock()
}

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the user-visible message of the last failure, or "".
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// DroppedFrames returns how many outbound audio frames were discarded.
func (s *Session) DroppedFrames() uint64 {
	return s.dropped.Load()
}

// Start opens a channel with cfg and blocks until the endpoint acknowledges
// it. Start is accepted from idle or error. On failure the status is error
// and LastError holds the message; a later Start may be attempted.
func (s *Session) Start(ctx context.Context, cfg SessionConfig) error {
	s.mu.Lock()
	to, ok := next(s.status, triggerStart)
	if !ok {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.nextID++
	c := &connection{
		id:    s.nextID,
		queue: make(chan outbound, s.opts.QueueSize),
		ready: make(chan error, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	s.conn = c
	s.lastErr = ""
	notify := s.setStatusLocked(to)
	s.mu.Unlock()
	notify()

	s.logger.Info("Connecting",
		zap.Uint64("connection", c.id),
		zap.String("language", cfg.TargetLanguage))

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()

	ch, err := s.dialer.Dial(dialCtx, cfg, func(ev Event) { s.handle(c, ev) })
	if err != nil {
		cerr := &ConnectionError{Message: "Could not connect to the conversation service", Err: err}
		if !s.fail(c, cerr) {
			return ErrStopped
		}
		return cerr
	}

	s.mu.Lock()
	if s.conn != c {
		// failed or stopped while dialing
		s.mu.Unlock()
		_ = ch.Close()
		select {
		case err := <-c.ready:
			if err != nil {
				return err
			}
		default:
		}
		return ErrStopped
	}
	c.channel = ch
	go s.writePump(c)
	s.mu.Unlock()

	select {
	case err := <-c.ready:
		return err
	case <-dialCtx.Done():
		cerr := &ConnectionError{Message: "The conversation service did not answer in time", Err: dialCtx.Err()}
		if !s.fail(c, cerr) {
			// opened or stopped while timing out
			select {
			case err := <-c.ready:
				return err
			default:
				return ErrStopped
			}
		}
		return cerr
	}
}

// Stop closes the channel and returns to idle. It is idempotent, and once it
// returns no inbound callback of the old connection has any effect.
func (s *Session) Stop() {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	prev := s.status
	notify := func() {}
	if prev != StatusIdle {
		to, _ := next(prev, triggerStop)
		notify = s.setStatusLocked(to)
	}
	s.lastErr = ""
	s.mu.Unlock()

	// wait out any callback already past the guard
	s.dispatchMu.Lock()
	s.dispatchMu.Unlock() //nolint:staticcheck

	if c != nil {
		select {
		case c.ready <- ErrStopped:
		default:
		}
		s.teardown(c)
		s.logger.Info("Session stopped", zap.Uint64("connection", c.id), zap.Stringer("from", prev))
	}
	notify()
}

// SendAudioFrame queues a captured frame. Frames are dropped silently when
// the session is not listening or speaking, or the queue is full.
func (s *Session) SendAudioFrame(frame audio.Frame) {
	s.mu.Lock()
	c := s.conn
	active := s.status.Active()
	s.mu.Unlock()

	if c == nil || !active {
		return
	}

	select {
	case c.queue <- outbound{audio: frame.Bytes()}:
	default:
		if n := s.dropped.Add(1); n%100 == 1 {
			s.logger.Warn("Outbound queue full, dropping audio", zap.Uint64("dropped", n))
		}
	}
}

// SendTextTurn queues text as a completed user turn.
func (s *Session) SendTextTurn(text string) error {
	s.mu.Lock()
	c := s.conn
	active := s.status.Active()
	s.mu.Unlock()

	if c == nil || !active {
		return ErrNotConnected
	}

	select {
	case c.queue <- outbound{text: text}:
		return nil
	default:
		return ErrQueueFull
	}
}

// writePump is the only writer on the channel.
func (s *Session) writePump(c *connection) {
	defer close(c.done)

	for {
		select {
		case <-c.stop:
			return
		case msg := <-c.queue:
			var err error
			if msg.audio != nil {
				err = c.channel.SendAudio(msg.audio)
			} else {
				err = c.channel.SendText(msg.text)
			}
			if err != nil {
				// the channel is closing; the failure reaches us as an event
				s.logger.Debug("Send failed", zap.Uint64("connection", c.id), zap.Error(err))
			}
		}
	}
}

func (s *Session) handle(c *connection, ev Event) {
	s.dispatchMu.Lock()

	s.mu.Lock()
	if s.conn != c {
		s.mu.Unlock()
		s.dispatchMu.Unlock()
		return
	}

	var t trigger
	switch ev.Kind {
	case EventOpened:
		t = triggerOpened
	case EventOutputTranscript, EventAudio:
		t = triggerModelOutput
	case EventTurnComplete:
		t = triggerTurnComplete
	case EventInterrupted:
		t = triggerInterrupted
	case EventError, EventClosed:
		s.mu.Unlock()
		s.dispatchMu.Unlock()
		s.fail(c, connectionErrorFor(ev))
		return
	case EventInputTranscript:
		s.mu.Unlock()
		s.transcript.AppendUserText(ev.Text)
		s.dispatchMu.Unlock()
		return
	default:
		s.mu.Unlock()
		s.dispatchMu.Unlock()
		s.logger.Warn("Ignoring unknown event", zap.Int("kind", int(ev.Kind)))
		return
	}

	to, ok := next(s.status, t)
	if !ok {
		from := s.status
		s.mu.Unlock()
		s.dispatchMu.Unlock()
		s.logger.Warn("Ignoring event in current state",
			zap.Stringer("event", ev.Kind),
			zap.Stringer("status", from))
		return
	}
	notify := s.setStatusLocked(to)
	s.mu.Unlock()

	switch ev.Kind {
	case EventOpened:
		select {
		case c.ready <- nil:
		default:
		}
		s.logger.Info("Session opened", zap.Uint64("connection", c.id))
	case EventOutputTranscript:
		s.transcript.AppendAIText(ev.Text)
	case EventAudio:
		s.player.Play(ev.Audio)
	case EventTurnComplete:
		s.transcript.CommitLiveTexts()
	case EventInterrupted:
		s.player.Stop()
		s.transcript.ClearLiveTexts()
		s.logger.Debug("Model interrupted", zap.Uint64("connection", c.id))
	}
	s.dispatchMu.Unlock()

	notify()
}

// fail moves c's session to error and tears c down. It reports false when c
// was already stale.
func (s *Session) fail(c *connection, err *ConnectionError) bool {
	s.mu.Lock()
	if s.conn != c {
		s.mu.Unlock()
		return false
	}
	s.conn = nil
	to, ok := next(s.status, triggerFailure)
	if !ok {
		to = StatusError
	}
	s.lastErr = err.Message
	notify := s.setStatusLocked(to)
	s.mu.Unlock()

	s.logger.Error("Session failed", zap.Uint64("connection", c.id), zap.Error(err))

	s.dispatchMu.Lock()
	s.dispatchMu.Unlock() //nolint:staticcheck
	s.teardown(c)
	s.player.Stop()
	notify()

	select {
	case c.ready <- err:
	default:
	}
	return true
}

// teardown stops the writer and closes the channel. Safe to call from the
// channel's delivery goroutine.
func (s *Session) teardown(c *connection) {
	close(c.stop)
	if c.channel != nil {
		<-c.done
		if err := c.channel.Close(); err != nil {
			s.logger.Debug("Channel close failed", zap.Uint64("connection", c.id), zap.Error(err))
		}
	}
}

// setStatusLocked records the new status and returns the notification to
// run once s.mu is released.
func (s *Session) setStatusLocked(to Status) func() {
	if s.status == to {
		return func() {}
	}
	s.logger.Debug("Status change", zap.Stringer("from", s.status), zap.Stringer("to", to))
	s.status = to
	s.statusSeq++
	seq := s.statusSeq
	fn := s.onStatus
	if fn == nil {
		return func() {}
	}
	return func() { s.deliver(seq, to, fn) }
}

func (s *Session) deliver(seq uint64, to Status, fn func(Status)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if seq <= s.notifiedSeq {
		return
	}
	s.notifiedSeq = seq
	fn(to)
}

func connectionErrorFor(ev Event) *ConnectionError {
	if ev.Kind == EventClosed {
		msg := "The conversation service closed the connection"
		if ev.Reason != "" {
			return &ConnectionError{Message: msg, Err: fmt.Errorf("code %d: %s", ev.Code, ev.Reason)}
		}
		return &ConnectionError{Message: msg, Err: fmt.Errorf("code %d", ev.Code)}
	}
	return &ConnectionError{Message: "The conversation service reported an error", Err: ev.Err}
}
