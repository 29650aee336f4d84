package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/room4-2/LinguaLive/audio"
	"github.com/room4-2/LinguaLive/capture"
	"github.com/room4-2/LinguaLive/live"
	"github.com/room4-2/LinguaLive/transcript"
	"go.uber.org/zap/zaptest"
)

type fakeCapture struct {
	mu       sync.Mutex
	consumer func(audio.Frame)
	startErr error
	running  bool
	starts   int
	stops    int
}

func (c *fakeCapture) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.startErr != nil {
		return c.startErr
	}
	c.running = true
	return nil
}

func (c *fakeCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.stops++
	}
	c.running = false
}

func (c *fakeCapture) SetConsumer(fn func(audio.Frame)) {
	c.mu.Lock()
	c.consumer = fn
	c.mu.Unlock()
}

func (c *fakeCapture) Level() float64 { return 0.5 }

func (c *fakeCapture) emit(f audio.Frame) {
	c.mu.Lock()
	fn := c.consumer
	c.mu.Unlock()
	fn(f)
}

func (c *fakeCapture) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

type fakePlayback struct {
	mu     sync.Mutex
	played int
	stops  int
	closed int
}

func (p *fakePlayback) Play([]byte) {
	p.mu.Lock()
	p.played++
	p.mu.Unlock()
}

func (p *fakePlayback) Stop() {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
}

func (p *fakePlayback) Close() error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return nil
}

func (p *fakePlayback) counts() (played, stops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played, p.stops
}

type fakeChannel struct {
	mu     sync.Mutex
	audio  int
	texts  []string
	closed bool
	sent   chan struct{}
}

func (c *fakeChannel) SendAudio([]byte) error {
	c.mu.Lock()
	c.audio++
	c.mu.Unlock()
	c.sent <- struct{}{}
	return nil
}

func (c *fakeChannel) SendText(text string) error {
	c.mu.Lock()
	c.texts = append(c.texts, text)
	c.mu.Unlock()
	c.sent <- struct{}{}
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer acknowledges every session unless failOpen is set, in which
// case it reports an error before the session opens.
type fakeDialer struct {
	mu       sync.Mutex
	failOpen bool
	handler  func(live.Event)
	channels []*fakeChannel
}

func (d *fakeDialer) Dial(_ context.Context, _ live.SessionConfig, handler func(live.Event)) (live.Channel, error) {
	d.mu.Lock()
	ch := &fakeChannel{sent: make(chan struct{}, 16)}
	d.channels = append(d.channels, ch)
	d.handler = handler
	failOpen := d.failOpen
	d.mu.Unlock()

	if failOpen {
		handler(live.Event{Kind: live.EventError, Err: errors.New("setup rejected")})
	} else {
		handler(live.Event{Kind: live.EventOpened})
	}
	return ch, nil
}

func (d *fakeDialer) emit(ev live.Event) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	h(ev)
}

func (d *fakeDialer) channel(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[i]
}

type fakeReviewer struct {
	mu    sync.Mutex
	calls int
	msgs  []transcript.Message
	lang  string
}

func (r *fakeReviewer) Analyze(_ context.Context, msgs []transcript.Message, lang string) (*transcript.Feedback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.msgs = msgs
	r.lang = lang
	return &transcript.Feedback{Overall: "Muy bien", Tips: []string{"Practice numbers"}}, true
}

func (r *fakeReviewer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fixture struct {
	o        *Orchestrator
	dialer   *fakeDialer
	capture  *fakeCapture
	playback *fakePlayback
	reviewer *fakeReviewer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dialer:   &fakeDialer{},
		capture:  &fakeCapture{},
		playback: &fakePlayback{},
		reviewer: &fakeReviewer{},
	}
	f.o = New(Deps{
		Dialer:   f.dialer,
		Capture:  f.capture,
		Playback: f.playback,
		Reviewer: f.reviewer,
		Logger:   zaptest.NewLogger(t),
	})
	return f
}

var cafe = live.SessionConfig{ScenarioPrompt: "You are a barista.", TargetLanguage: "Spanish"}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitReview(t *testing.T, o *Orchestrator) {
	t.Helper()
	select {
	case <-o.ReviewDone():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for review")
	}
}

func TestConversation_FullTurnAndReview(t *testing.T) {
	f := newFixture(t)

	var fbMu sync.Mutex
	var feedback *transcript.Feedback
	f.o.OnFeedback(func(_ []transcript.Message, fb transcript.Feedback) {
		fbMu.Lock()
		feedback = &fb
		fbMu.Unlock()
	})

	if err := f.o.Start(context.Background(), cafe); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !f.capture.isRunning() {
		t.Fatal("capture should run once the session is listening")
	}
	if f.o.Status() != live.StatusListening {
		t.Fatalf("expected listening, got %s", f.o.Status())
	}

	f.capture.emit(audio.NewFrame(make([]int16, 682)))
	ch := f.dialer.channel(0)
	select {
	case <-ch.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("captured frame was not sent")
	}

	f.dialer.emit(live.Event{Kind: live.EventInputTranscript, Text: "Hola, un café"})
	f.dialer.emit(live.Event{Kind: live.EventOutputTranscript, Text: "¡Claro!"})
	f.dialer.emit(live.Event{Kind: live.EventAudio, Audio: []byte{0, 0, 1, 0}})
	if f.o.Status() != live.StatusSpeaking {
		t.Errorf("expected speaking, got %s", f.o.Status())
	}
	f.dialer.emit(live.Event{Kind: live.EventTurnComplete})

	msgs := f.o.Transcript()
	if len(msgs) != 2 || msgs[0].Author != transcript.AuthorUser || msgs[1].Text != "¡Claro!" {
		t.Fatalf("unexpected transcript %+v", msgs)
	}
	if played, _ := f.playback.counts(); played != 1 {
		t.Errorf("expected 1 played buffer, got %d", played)
	}

	f.o.Stop()
	if f.capture.isRunning() {
		t.Error("capture still running after stop")
	}
	if !ch.isClosed() {
		t.Error("channel not closed after stop")
	}
	if f.o.Status() != live.StatusIdle {
		t.Errorf("expected idle, got %s", f.o.Status())
	}

	waitReview(t, f.o)
	if f.reviewer.callCount() != 1 || f.reviewer.lang != "Spanish" {
		t.Fatalf("expected one Spanish review, got %d (%q)", f.reviewer.callCount(), f.reviewer.lang)
	}
	fbMu.Lock()
	if feedback == nil || feedback.Overall != "Muy bien" {
		t.Errorf("unexpected feedback %+v", feedback)
	}
	fbMu.Unlock()

	msgs = f.o.Transcript()
	if msgs[1].Feedback == nil {
		t.Error("feedback not attached to the last message")
	}

	f.o.Stop()
	if f.reviewer.callCount() != 1 {
		t.Error("a second stop must not start another review")
	}
}

func TestConversation_NoReviewForShortTranscript(t *testing.T) {
	f := newFixture(t)
	if err := f.o.Start(context.Background(), cafe); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.dialer.emit(live.Event{Kind: live.EventOutputTranscript, Text: "¡Hola!"})
	f.dialer.emit(live.Event{Kind: live.EventTurnComplete})

	f.o.Stop()
	waitReview(t, f.o)
	if f.reviewer.callCount() != 0 {
		t.Error("review must not run with fewer than two messages")
	}
}

func TestConversation_PendingUserTextCommittedOnStop(t *testing.T) {
	f := newFixture(t)
	if err := f.o.Start(context.Background(), cafe); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.dialer.emit(live.Event{Kind: live.EventInputTranscript, Text: "Hola"})
	f.dialer.emit(live.Event{Kind: live.EventOutputTranscript, Text: "Buenos"})

	f.o.Stop()

	msgs := f.o.Transcript()
	if len(msgs) != 1 || msgs[0].Text != "Hola" {
		t.Fatalf("expected only the user turn, got %+v", msgs)
	}
	if f.o.LiveText(transcript.AuthorAI) != "" {
		t.Error("AI live text must be empty after stop")
	}
}

func TestConversation_CaptureFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"permission", capture.ErrPermissionDenied, "Microphone access was denied"},
		{"no device", capture.ErrDeviceNotFound, "No microphone was found"},
		{"other", &capture.CaptureError{Op: "open", Err: errors.New("busy")}, "The microphone could not be started"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.capture.startErr = tt.err

			err := f.o.Start(context.Background(), cafe)
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
			if f.o.Status() != live.StatusError || f.o.LastError() != tt.want {
				t.Errorf("expected error status with %q, got %s %q", tt.want, f.o.Status(), f.o.LastError())
			}
			if !f.dialer.channel(0).isClosed() {
				t.Error("session must be torn down when capture fails")
			}

			f.capture.startErr = nil
			if err := f.o.Start(context.Background(), cafe); err != nil {
				t.Fatalf("retry: %v", err)
			}
			if f.o.LastError() != "" {
				t.Errorf("error not cleared: %q", f.o.LastError())
			}
		})
	}
}

func TestConversation_FailureDuringHandshakeThenRetry(t *testing.T) {
	f := newFixture(t)
	f.dialer.failOpen = true

	var statusMu sync.Mutex
	var statuses []live.Status
	f.o.OnStatus(func(s live.Status) {
		statusMu.Lock()
		statuses = append(statuses, s)
		statusMu.Unlock()
	})

	err := f.o.Start(context.Background(), cafe)
	if !errors.Is(err, live.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if f.capture.starts != 0 {
		t.Error("capture must not start when the session never opened")
	}
	if f.o.Status() != live.StatusError || f.o.LastError() == "" {
		t.Errorf("expected visible error, got %s %q", f.o.Status(), f.o.LastError())
	}

	f.dialer.mu.Lock()
	f.dialer.failOpen = false
	f.dialer.mu.Unlock()

	if err := f.o.Start(context.Background(), cafe); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.o.Status() != live.StatusListening || !f.capture.isRunning() {
		t.Errorf("expected a running conversation, got %s", f.o.Status())
	}

	statusMu.Lock()
	defer statusMu.Unlock()
	want := []live.Status{live.StatusConnecting, live.StatusError, live.StatusIdle, live.StatusConnecting, live.StatusListening}
	if len(statuses) != len(want) {
		t.Fatalf("expected %v, got %v", want, statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("status %d: expected %s, got %s", i, want[i], statuses[i])
		}
	}
}

func TestConversation_ConnectionLostMidConversation(t *testing.T) {
	f := newFixture(t)
	if err := f.o.Start(context.Background(), cafe); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.dialer.emit(live.Event{Kind: live.EventInputTranscript, Text: "Quiero pagar"})
	f.dialer.emit(live.Event{Kind: live.EventOutputTranscript, Text: "Son tres euros"})
	f.dialer.emit(live.Event{Kind: live.EventTurnComplete})

	f.dialer.emit(live.Event{Kind: live.EventClosed, Code: 1011, Reason: "upstream lost"})

	waitFor(t, "capture to stop", func() bool { return !f.capture.isRunning() })
	if f.o.Status() != live.StatusError {
		t.Errorf("expected error, got %s", f.o.Status())
	}
	waitFor(t, "review", func() bool { return f.reviewer.callCount() == 1 })
}

func TestConversation_StartStopsPrevious(t *testing.T) {
	f := newFixture(t)
	if err := f.o.Start(context.Background(), cafe); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.dialer.emit(live.Event{Kind: live.EventInputTranscript, Text: "Hola"})
	f.dialer.emit(live.Event{Kind: live.EventTurnComplete})

	if err := f.o.Start(context.Background(), live.SessionConfig{TargetLanguage: "French"}); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !f.dialer.channel(0).isClosed() {
		t.Error("first channel must be closed")
	}
	if f.dialer.channel(1).isClosed() {
		t.Error("second channel must be open")
	}
	if len(f.o.Transcript()) != 0 {
		t.Error("transcript must be cleared for the new conversation")
	}
	if f.capture.stops != 1 || !f.capture.isRunning() {
		t.Errorf("capture should restart, stops=%d", f.capture.stops)
	}
}

func TestConversation_Interrupt(t *testing.T) {
	f := newFixture(t)
	if err := f.o.Start(context.Background(), cafe); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.dialer.emit(live.Event{Kind: live.EventInputTranscript, Text: "Perdón"})
	f.dialer.emit(live.Event{Kind: live.EventOutputTranscript, Text: "Como le decía"})

	_, before := f.playback.counts()
	f.o.Interrupt()
	_, after := f.playback.counts()

	if after != before+1 {
		t.Error("interrupt must flush playback")
	}
	if f.o.LiveText(transcript.AuthorAI) != "" {
		t.Error("AI live text must be discarded")
	}
	if f.o.LiveText(transcript.AuthorUser) != "Perdón" {
		t.Error("user live text must be kept")
	}
}

func TestConversation_SendText(t *testing.T) {
	f := newFixture(t)
	if err := f.o.SendText("hola"); !errors.Is(err, live.ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}

	if err := f.o.Start(context.Background(), cafe); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.o.SendText("Una mesa para dos"); err != nil {
		t.Fatalf("send text: %v", err)
	}
	ch := f.dialer.channel(0)
	select {
	case <-ch.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("text turn was not sent")
	}

	f.dialer.emit(live.Event{Kind: live.EventOutputTranscript, Text: "Por aquí"})
	f.dialer.emit(live.Event{Kind: live.EventTurnComplete})

	msgs := f.o.Transcript()
	if len(msgs) != 2 || msgs[0].Text != "Una mesa para dos" {
		t.Errorf("unexpected transcript %+v", msgs)
	}
}

func TestConversation_Close(t *testing.T) {
	f := newFixture(t)
	if err := f.o.Start(context.Background(), cafe); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.o.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if f.playback.closed != 1 {
		t.Error("playback output not released")
	}
	if f.o.Level() != 0.5 {
		t.Error("level should come from capture")
	}
}
