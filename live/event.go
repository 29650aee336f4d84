package live

import "context"

// EventKind tags an inbound Event.
type EventKind int

const (
	EventOpened EventKind = iota
	EventInputTranscript
	EventOutputTranscript
	EventAudio
	EventTurnComplete
	EventInterrupted
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventInputTranscript:
		return "input_transcript"
	case EventOutputTranscript:
		return "output_transcript"
	case EventAudio:
		return "audio"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one inbound protocol event. Only the fields relevant to Kind are
// set: Text for transcripts, Audio (PCM16 at 24 kHz) for audio, Err for
// errors, Code and Reason for closes.
//
// When one upstream message carries several events, channels deliver them
// content first, then EventInterrupted, then EventTurnComplete.
type Event struct {
	Kind   EventKind
	Text   string
	Audio  []byte
	Err    error
	Code   int
	Reason string
}

// Channel is an open bidirectional connection to the conversational
// endpoint. Sends may fail once the channel is closed. Close must not wait
// for the goroutine delivering events, since it may be called from it.
type Channel interface {
	SendAudio(pcm []byte) error
	SendText(text string) error
	Close() error
}

// Dialer opens channels. The handler is called serially, in arrival order,
// from a goroutine owned by the channel. EventOpened is delivered once the
// endpoint has acknowledged the session configuration.
type Dialer interface {
	Dial(ctx context.Context, cfg SessionConfig, handler func(Event)) (Channel, error)
}

// SessionConfig is fixed for the lifetime of one session.
type SessionConfig struct {
	ScenarioPrompt string
	TargetLanguage string
	VoiceName      string
}
