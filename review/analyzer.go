// Package review produces structured feedback for a finished conversation.
package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/room4-2/LinguaLive/transcript"
	"go.uber.org/zap"
)

// MinMessages is the shortest transcript worth reviewing.
const MinMessages = 2

const (
	defaultOverall = "Great job practicing! Every conversation makes you more confident."
	defaultTip     = "Keep practicing regularly and try to use new words in your next conversation."
)

const promptTemplate = `You are a friendly %s language tutor reviewing a practice conversation.
The learner is "User"; "AI" is the conversation partner.

Conversation:
%s
Give feedback on the learner's turns only. Correct any pronunciation or grammar
mistakes, suggest better vocabulary, and finish with practical tips.
Write the feedback in English and quote %s examples where useful.`

// DefaultFeedback is returned whenever the model cannot produce a usable
// review.
func DefaultFeedback() transcript.Feedback {
	return transcript.Feedback{
		Overall:       defaultOverall,
		Pronunciation: []string{},
		Grammar:       []string{},
		Vocabulary:    []string{},
		Tips:          []string{defaultTip},
	}
}

// Analyzer requests and normalizes conversation feedback.
type Analyzer struct {
	generator Generator
	cache     Cache
	logger    *zap.Logger

	// OnResult is called after every review with whether the default was used
	OnResult func(fallback bool)
}

// NewAnalyzer creates an analyzer. cache may be nil.
func NewAnalyzer(generator Generator, cache Cache, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		generator: generator,
		cache:     cache,
		logger:    logger.With(zap.String("component", "review")),
	}
}

// Analyze reviews msgs. It reports false without calling the model when the
// transcript is too short; otherwise it always returns feedback, falling back
// to DefaultFeedback on any failure.
func (a *Analyzer) Analyze(ctx context.Context, msgs []transcript.Message, targetLanguage string) (*transcript.Feedback, bool) {
	if len(msgs) < MinMessages {
		return nil, false
	}

	conversation := FormatConversation(msgs)
	key := CacheKey(targetLanguage, conversation)

	if a.cache != nil {
		if fb, ok := a.cache.Get(ctx, key); ok {
			a.logger.Debug("Review served from cache")
			return fb, true
		}
	}

	fb, err := a.generate(ctx, conversation, targetLanguage)
	if err != nil {
		a.logger.Warn("Review failed, using default feedback", zap.Error(err))
		d := DefaultFeedback()
		a.report(true)
		return &d, true
	}

	if a.cache != nil {
		a.cache.Set(ctx, key, fb)
	}
	a.report(false)
	return fb, true
}

func (a *Analyzer) generate(ctx context.Context, conversation, targetLanguage string) (*transcript.Feedback, error) {
	if a.generator == nil {
		return nil, fmt.Errorf("no generator configured")
	}
	raw, err := a.generator.Generate(ctx, buildPrompt(conversation, targetLanguage))
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func (a *Analyzer) report(fallback bool) {
	if a.OnResult != nil {
		a.OnResult(fallback)
	}
}

func buildPrompt(conversation, targetLanguage string) string {
	if targetLanguage == "" {
		targetLanguage = "foreign"
	}
	return fmt.Sprintf(promptTemplate, targetLanguage, conversation, targetLanguage)
}

// rawFeedback accepts any JSON value per field so that a wrong type in one
// field does not discard the rest.
type rawFeedback struct {
	Overall       any `json:"overall"`
	Pronunciation any `json:"pronunciation"`
	Grammar       any `json:"grammar"`
	Vocabulary    any `json:"vocabulary"`
	Tips          any `json:"tips"`
}

// Parse decodes a model response. Markdown code fences are stripped, missing
// or mistyped list fields become empty lists, and a response with no usable
// field at all is an error.
func Parse(raw string) (*transcript.Feedback, error) {
	raw = stripFence(raw)

	var r rawFeedback
	if err := sonic.UnmarshalString(raw, &r); err != nil {
		return nil, fmt.Errorf("parse feedback: %w", err)
	}

	overall, _ := r.Overall.(string)
	fb := &transcript.Feedback{
		Overall:       strings.TrimSpace(overall),
		Pronunciation: stringList(r.Pronunciation),
		Grammar:       stringList(r.Grammar),
		Vocabulary:    stringList(r.Vocabulary),
		Tips:          stringList(r.Tips),
	}

	if fb.Overall == "" && len(fb.Pronunciation)+len(fb.Grammar)+len(fb.Vocabulary)+len(fb.Tips) == 0 {
		return nil, fmt.Errorf("parse feedback: no usable fields")
	}
	if fb.Overall == "" {
		fb.Overall = defaultOverall
	}
	return fb, nil
}

func stringList(v any) []string {
	out := []string{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range items {
		if s, ok := item.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// FormatConversation renders msgs as one "Speaker: text" line per turn.
func FormatConversation(msgs []transcript.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		speaker := "User"
		if m.Author == transcript.AuthorAI {
			speaker = "AI"
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(m.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
