package live

// Status is the connection state of a Session.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusListening
	StatusSpeaking
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusListening:
		return "listening"
	case StatusSpeaking:
		return "speaking"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Active reports whether outbound audio is accepted in this state.
func (s Status) Active() bool {
	return s == StatusListening || s == StatusSpeaking
}

// trigger is anything that can move the state machine.
type trigger int

const (
	triggerStart trigger = iota
	triggerOpened
	triggerModelOutput // output transcription or audio chunk
	triggerTurnComplete
	triggerInterrupted
	triggerFailure
	triggerStop
)

func (t trigger) String() string {
	switch t {
	case triggerStart:
		return "start"
	case triggerOpened:
		return "opened"
	case triggerModelOutput:
		return "model_output"
	case triggerTurnComplete:
		return "turn_complete"
	case triggerInterrupted:
		return "interrupted"
	case triggerFailure:
		return "failure"
	case triggerStop:
		return "stop"
	default:
		return "unknown"
	}
}

// transitions lists every legal move. Anything missing is ignored.
var transitions = map[Status]map[trigger]Status{
	StatusIdle: {
		triggerStart: StatusConnecting,
		triggerStop:  StatusIdle,
	},
	StatusConnecting: {
		triggerOpened: StatusListening,
		// flush only; the handshake is still pending
		triggerInterrupted: StatusConnecting,
		triggerFailure:     StatusError,
		triggerStop:        StatusIdle,
	},
	StatusListening: {
		triggerModelOutput:  StatusSpeaking,
		triggerTurnComplete: StatusListening,
		triggerInterrupted:  StatusListening,
		triggerFailure:      StatusError,
		triggerStop:         StatusIdle,
	},
	StatusSpeaking: {
		triggerModelOutput:  StatusSpeaking,
		triggerTurnComplete: StatusListening,
		triggerInterrupted:  StatusListening,
		triggerFailure:      StatusError,
		triggerStop:         StatusIdle,
	},
	StatusError: {
		triggerStart: StatusConnecting,
		triggerStop:  StatusIdle,
	},
}

// next returns the state reached from s on t, and false if t is illegal in s.
func next(s Status, t trigger) (Status, bool) {
	to, ok := transitions[s][t]
	return to, ok
}
