// Package transcript assembles streamed transcription deltas into an ordered
// list of committed turns.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Author identifies who spoke a turn.
type Author string

const (
	AuthorUser Author = "user"
	AuthorAI   Author = "ai"
)

// Feedback is the review attached to a finished conversation. The four list
// fields are never nil once normalized.
type Feedback struct {
	Overall       string   `json:"overall"`
	Pronunciation []string `json:"pronunciation"`
	Grammar       []string `json:"grammar"`
	Vocabulary    []string `json:"vocabulary"`
	Tips          []string `json:"tips"`
}

// Message is one committed turn.
type Message struct {
	ID        int64     `json:"id"`
	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Feedback  *Feedback `json:"feedback,omitempty"`
}

// Assembler owns the live text buffers and the committed message list.
type Assembler struct {
	mu       sync.Mutex
	live     map[Author]*strings.Builder
	messages []Message
	nextID   int64

	now      func() time.Time
	onCommit func(Message)
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		live: map[Author]*strings.Builder{
			AuthorUser: {},
			AuthorAI:   {},
		},
		nextID: 1,
		now:    time.Now,
	}
}

// SetClock overrides the timestamp source.
func (a *Assembler) SetClock(now func() time.Time) {
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// OnCommit registers a hook called after each committed message, outside the
// assembler lock.
func (a *Assembler) OnCommit(fn func(Message)) {
	a.mu.Lock()
	a.onCommit = fn
	a.mu.Unlock()
}

// AppendUserText appends a user transcription delta.
func (a *Assembler) AppendUserText(delta string) {
	a.appendText(AuthorUser, delta)
}

// AppendAIText appends a model transcription delta.
func (a *Assembler) AppendAIText(delta string) {
	a.appendText(AuthorAI, delta)
}

func (a *Assembler) appendText(author Author, delta string) {
	a.mu.Lock()
	a.live[author].WriteString(delta)
	a.mu.Unlock()
}

// CommitUserText commits the user buffer if it holds any text.
func (a *Assembler) CommitUserText() {
	a.commit(AuthorUser)
}

// CommitAIText commits the AI buffer if it holds any text.
func (a *Assembler) CommitAIText() {
	a.commit(AuthorAI)
}

// CommitLiveTexts commits the user buffer, then the AI buffer. Both buffers
// are empty afterwards.
func (a *Assembler) CommitLiveTexts() {
	a.commit(AuthorUser, AuthorAI)
}

func (a *Assembler) commit(authors ...Author) {
	a.mu.Lock()
	var committed []Message
	for _, author := range authors {
		if msg, ok := a.commitLocked(author); ok {
			committed = append(committed, msg)
		}
	}
	hook := a.onCommit
	a.mu.Unlock()

	if hook != nil {
		for _, msg := range committed {
			hook(msg)
		}
	}
}

func (a *Assembler) commitLocked(author Author) (Message, bool) {
	buf := a.live[author]
	text := strings.TrimSpace(buf.String())
	buf.Reset()
	if text == "" {
		return Message{}, false
	}

	msg := Message{
		ID:        a.nextID,
		Author:    author,
		Text:      text,
		Timestamp: a.now(),
	}
	a.nextID++
	a.messages = append(a.messages, msg)
	return msg, true
}

// ClearLiveTexts discards the in-progress AI text. User text is kept: it is
// still committed with the next turn.
func (a *Assembler) ClearLiveTexts() {
	a.mu.Lock()
	a.live[AuthorAI].Reset()
	a.mu.Unlock()
}

// Clear drops all messages and both live buffers. Ids keep increasing.
func (a *Assembler) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = nil
	for _, buf := range a.live {
		buf.Reset()
	}
}

// LiveText returns the in-progress text for author.
func (a *Assembler) LiveText(author Author) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.live[author]
	if !ok {
		return ""
	}
	return buf.String()
}

// Messages returns a copy of the committed messages in order.
func (a *Assembler) Messages() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// Len returns the number of committed messages.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.messages)
}

// AttachFeedback sets the feedback of message id. It reports false when the
// id is unknown.
func (a *Assembler) AttachFeedback(id int64, fb Feedback) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.messages {
		if a.messages[i].ID == id {
			a.messages[i].Feedback = &fb
			return true
		}
	}
	return false
}
