// Package conversation composes capture, the live session, playback, the
// transcript and the review into one practice conversation.
package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/room4-2/LinguaLive/audio"
	"github.com/room4-2/LinguaLive/capture"
	"github.com/room4-2/LinguaLive/live"
	"github.com/room4-2/LinguaLive/logging"
	"github.com/room4-2/LinguaLive/transcript"
	"go.uber.org/zap"
)

// Capture produces microphone frames.
type Capture interface {
	Start(ctx context.Context) error
	Stop()
	SetConsumer(fn func(audio.Frame))
	Level() float64
}

// Playback plays model audio and releases the output on Close.
type Playback interface {
	live.Player
	Close() error
}

// Reviewer analyzes a finished conversation.
type Reviewer interface {
	Analyze(ctx context.Context, msgs []transcript.Message, targetLanguage string) (*transcript.Feedback, bool)
}

// Deps are the collaborators of an Orchestrator. Reviewer may be nil.
type Deps struct {
	Dialer         live.Dialer
	Capture        Capture
	Playback       Playback
	Reviewer       Reviewer
	SessionOptions live.Options
	Logger         *zap.Logger
}

// Orchestrator runs at most one conversation at a time.
type Orchestrator struct {
	capture    Capture
	playback   Playback
	reviewer   Reviewer
	session    *live.Session
	transcript *transcript.Assembler
	logger     *zap.Logger

	// mu serializes Start, Stop and failure handling
	mu       sync.Mutex
	running  bool
	cfg      live.SessionConfig
	id       string
	epoch    atomic.Uint64
	errMu    sync.Mutex
	errMsg   string
	reviewMu sync.Mutex
	review   chan struct{}

	onStatus   atomic.Pointer[func(live.Status)]
	onFeedback atomic.Pointer[func([]transcript.Message, transcript.Feedback)]
}

// New wires the collaborators together.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	done := make(chan struct{})
	close(done)

	o := &Orchestrator{
		capture:    deps.Capture,
		playback:   deps.Playback,
		reviewer:   deps.Reviewer,
		transcript: transcript.NewAssembler(),
		logger:     logging.Component(logger, "conversation"),
		review:     done,
	}
	o.session = live.NewSession(deps.Dialer, deps.Playback, o.transcript, deps.SessionOptions, logger)
	o.session.OnStatus(o.handleStatus)
	o.capture.SetConsumer(o.session.SendAudioFrame)
	return o
}

// OnStatus registers a callback for connection status changes. It may run
// while Start or Stop is in progress and must not call back into o.
func (o *Orchestrator) OnStatus(fn func(live.Status)) {
	o.onStatus.Store(&fn)
}

// OnMessage registers a callback for every committed transcript message.
func (o *Orchestrator) OnMessage(fn func(transcript.Message)) {
	o.transcript.OnCommit(fn)
}

// OnFeedback registers a callback for finished reviews.
func (o *Orchestrator) OnFeedback(fn func([]transcript.Message, transcript.Feedback)) {
	o.onFeedback.Store(&fn)
}

// Start stops any running conversation, then connects with cfg and opens the
// microphone once the session is listening. On failure everything is torn
// down and Status reports error.
func (o *Orchestrator) Start(ctx context.Context, cfg live.SessionConfig) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		o.stopLocked()
	}
	// clear a previous failure so the session accepts Start
	o.session.Stop()

	o.epoch.Add(1)
	o.setError("")
	o.transcript.Clear()
	o.cfg = cfg
	o.id = uuid.New().String()
	logger := o.logger.With(zap.String("conversation_id", o.id))

	logger.Info("Starting conversation",
		zap.String("language", cfg.TargetLanguage),
		zap.String("voice", cfg.VoiceName))

	if err := o.session.Start(ctx, cfg); err != nil {
		logger.Warn("Live session failed to start", zap.Error(err))
		o.playback.Stop()
		return err
	}

	// capture lives until Stop, not until ctx is done
	if err := o.capture.Start(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("Microphone failed to start", zap.Error(err))
		o.setError(captureMessage(err))
		o.session.Stop()
		o.playback.Stop()
		o.notifyStatus(live.StatusError)
		return err
	}

	o.running = true
	return nil
}

// Stop ends the conversation: capture, then the session, then playback. A
// review runs in the background when at least two messages were committed.
// Stop is idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		o.stopLocked()
		return
	}
	o.capture.Stop()
	o.session.Stop()
	o.playback.Stop()
	o.setError("")
}

func (o *Orchestrator) stopLocked() {
	o.running = false
	o.epoch.Add(1)

	o.capture.Stop()
	o.session.Stop()
	o.playback.Stop()

	// keep what the user said; an unfinished reply is dropped
	o.transcript.CommitUserText()
	o.transcript.ClearLiveTexts()

	o.logger.Info("Conversation stopped",
		zap.String("conversation_id", o.id),
		zap.Int("messages", o.transcript.Len()),
		zap.Uint64("dropped_frames", o.session.DroppedFrames()))

	o.startReview(o.transcript.Messages(), o.cfg.TargetLanguage)
}

// handleStatus runs on the session's delivery goroutine and must not take mu.
func (o *Orchestrator) handleStatus(s live.Status) {
	o.notifyStatus(s)
	if s == live.StatusError {
		go o.handleFailure(o.epoch.Load())
	}
}

func (o *Orchestrator) handleFailure(epoch uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running || o.epoch.Load() != epoch {
		return
	}
	o.running = false
	o.epoch.Add(1)

	o.capture.Stop()
	o.playback.Stop()
	o.transcript.CommitUserText()
	o.transcript.ClearLiveTexts()

	o.logger.Warn("Conversation ended by connection failure",
		zap.String("conversation_id", o.id),
		zap.String("error", o.session.LastError()))

	o.startReview(o.transcript.Messages(), o.cfg.TargetLanguage)
}

func (o *Orchestrator) startReview(msgs []transcript.Message, language string) {
	if o.reviewer == nil || len(msgs) < 2 {
		return
	}

	done := make(chan struct{})
	o.reviewMu.Lock()
	o.review = done
	o.reviewMu.Unlock()

	logger := o.logger.With(zap.String("conversation_id", o.id))
	go func() {
		defer close(done)

		fb, ok := o.reviewer.Analyze(context.Background(), msgs, language)
		if !ok || fb == nil {
			return
		}
		// feedback belongs to the last turn; the transcript may have moved on
		o.transcript.AttachFeedback(msgs[len(msgs)-1].ID, *fb)
		logger.Info("Review ready", zap.Int("tips", len(fb.Tips)))

		if fn := o.onFeedback.Load(); fn != nil {
			(*fn)(msgs, *fb)
		}
	}()
}

// Interrupt is a local barge-in: queued model audio is flushed and the
// unfinished reply text discarded.
func (o *Orchestrator) Interrupt() {
	o.playback.Stop()
	o.transcript.ClearLiveTexts()
}

// SendText sends a typed user turn. It shows up in the transcript with the
// model's reply.
func (o *Orchestrator) SendText(text string) error {
	if err := o.session.SendTextTurn(text); err != nil {
		return err
	}
	o.transcript.AppendUserText(text)
	return nil
}

// Status returns the connection status, or error after a capture failure.
func (o *Orchestrator) Status() live.Status {
	if o.captureError() != "" {
		return live.StatusError
	}
	return o.session.Status()
}

// LastError returns the user-visible message of the last failure, or "".
func (o *Orchestrator) LastError() string {
	if msg := o.captureError(); msg != "" {
		return msg
	}
	return o.session.LastError()
}

// Transcript returns the committed messages.
func (o *Orchestrator) Transcript() []transcript.Message {
	return o.transcript.Messages()
}

// LiveText returns the in-progress text for author.
func (o *Orchestrator) LiveText(author transcript.Author) string {
	return o.transcript.LiveText(author)
}

// Level returns the microphone level in [0, 1].
func (o *Orchestrator) Level() float64 {
	return o.capture.Level()
}

// ReviewDone is closed when the most recent review has finished. It is
// already closed when no review was started.
func (o *Orchestrator) ReviewDone() <-chan struct{} {
	o.reviewMu.Lock()
	defer o.reviewMu.Unlock()
	return o.review
}

// Close stops the conversation and releases the audio output.
func (o *Orchestrator) Close() error {
	o.Stop()
	return o.playback.Close()
}

func (o *Orchestrator) notifyStatus(s live.Status) {
	if fn := o.onStatus.Load(); fn != nil {
		(*fn)(s)
	}
}

func (o *Orchestrator) setError(msg string) {
	o.errMu.Lock()
	o.errMsg = msg
	o.errMu.Unlock()
}

func (o *Orchestrator) captureError() string {
	o.errMu.Lock()
	defer o.errMu.Unlock()
	return o.errMsg
}

func captureMessage(err error) string {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return "Microphone access was denied"
	case errors.Is(err, capture.ErrDeviceNotFound):
		return "No microphone was found"
	default:
		return "The microphone could not be started"
	}
}
