package conversation

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/room4-2/LinguaLive/live"
	"github.com/room4-2/LinguaLive/transcript"
)

// Console prints a conversation for a terminal user.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole writes to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Attach registers the console on every callback of o.
func (c *Console) Attach(o *Orchestrator) {
	o.OnStatus(func(s live.Status) {
		if s == live.StatusError {
			c.Status(s, o.LastError())
			return
		}
		c.Status(s, "")
	})
	o.OnMessage(c.Message)
	o.OnFeedback(c.Feedback)
}

// Status prints a status change, with the error message when there is one.
func (c *Console) Status(s live.Status, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if errMsg != "" {
		fmt.Fprintf(c.w, "[%s] %s\n", s, errMsg)
		return
	}
	fmt.Fprintf(c.w, "[%s]\n", s)
}

// Message prints one committed turn.
func (c *Console) Message(m transcript.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	who := "You"
	if m.Author == transcript.AuthorAI {
		who = "AI"
	}
	fmt.Fprintf(c.w, "%s %s: %s\n", m.Timestamp.Format("15:04:05"), who, m.Text)
}

// Feedback prints a finished review.
func (c *Console) Feedback(msgs []transcript.Message, fb transcript.Feedback) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "\n=== Review of %d messages ===\n%s\n", len(msgs), fb.Overall)
	section(&b, "Pronunciation", fb.Pronunciation)
	section(&b, "Grammar", fb.Grammar)
	section(&b, "Vocabulary", fb.Vocabulary)
	section(&b, "Tips", fb.Tips)
	io.WriteString(c.w, b.String())
}

func section(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "  - %s\n", item)
	}
}
