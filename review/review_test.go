package review

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/room4-2/LinguaLive/transcript"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	response string
	err      error
	calls    int
	prompt   string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.calls++
	g.prompt = prompt
	return g.response, g.err
}

func conversation() []transcript.Message {
	return []transcript.Message{
		{ID: 1, Author: transcript.AuthorUser, Text: "Hola, quiero un cafe"},
		{ID: 2, Author: transcript.AuthorAI, Text: "Claro, ¿con leche?"},
	}
}

func TestAnalyze_TooShort(t *testing.T) {
	gen := &fakeGenerator{response: `{"overall":"x"}`}
	a := NewAnalyzer(gen, nil, zaptest.NewLogger(t))

	fb, ok := a.Analyze(context.Background(), conversation()[:1], "Spanish")
	if ok || fb != nil {
		t.Fatalf("expected no review for a single message, got %+v", fb)
	}
	if gen.calls != 0 {
		t.Errorf("generator should not be called, got %d calls", gen.calls)
	}
}

func TestAnalyze_ValidResponse(t *testing.T) {
	gen := &fakeGenerator{response: `{
		"overall": "Nice ordering!",
		"pronunciation": ["café stresses the last syllable"],
		"grammar": [],
		"vocabulary": ["un cortado"],
		"tips": ["Ask about prices"]
	}`}
	var fallbacks []bool
	a := NewAnalyzer(gen, nil, zaptest.NewLogger(t))
	a.OnResult = func(fallback bool) { fallbacks = append(fallbacks, fallback) }

	fb, ok := a.Analyze(context.Background(), conversation(), "Spanish")
	if !ok {
		t.Fatal("expected a review")
	}
	if fb.Overall != "Nice ordering!" || len(fb.Pronunciation) != 1 || len(fb.Vocabulary) != 1 || len(fb.Tips) != 1 {
		t.Errorf("unexpected feedback %+v", fb)
	}
	if fb.Grammar == nil {
		t.Error("empty lists must not be nil")
	}
	if !strings.Contains(gen.prompt, "User: Hola, quiero un cafe\nAI: Claro, ¿con leche?") {
		t.Errorf("prompt missing conversation:\n%s", gen.prompt)
	}
	if !strings.Contains(gen.prompt, "Spanish") {
		t.Error("prompt missing language")
	}
	if len(fallbacks) != 1 || fallbacks[0] {
		t.Errorf("expected one non-fallback result, got %v", fallbacks)
	}
}

func TestAnalyze_FallsBackToDefault(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
	}{
		{"request error", "", errors.New("quota exceeded")},
		{"not json", "I think the learner did well.", nil},
		{"wrong shape", `["a","b"]`, nil},
		{"no usable fields", `{"score": 7}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{response: tt.response, err: tt.err}
			var fallback bool
			a := NewAnalyzer(gen, nil, zaptest.NewLogger(t))
			a.OnResult = func(f bool) { fallback = f }

			fb, ok := a.Analyze(context.Background(), conversation(), "Spanish")
			if !ok || fb == nil {
				t.Fatal("expected default feedback")
			}
			want := DefaultFeedback()
			if fb.Overall != want.Overall || len(fb.Tips) != 1 || fb.Tips[0] != want.Tips[0] {
				t.Errorf("expected default feedback, got %+v", fb)
			}
			if len(fb.Pronunciation)+len(fb.Grammar)+len(fb.Vocabulary) != 0 {
				t.Errorf("default lists must be empty, got %+v", fb)
			}
			if !fallback {
				t.Error("expected fallback to be reported")
			}
		})
	}
}

func TestParse_Permissive(t *testing.T) {
	raw := "```json\n{\"overall\": \"\", \"grammar\": \"not a list\", \"tips\": [\"  speak slowly \", 3, \"\"]}\n```"
	fb, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fb.Overall != defaultOverall {
		t.Errorf("expected default overall, got %q", fb.Overall)
	}
	if fb.Grammar == nil || len(fb.Grammar) != 0 {
		t.Errorf("expected empty grammar, got %v", fb.Grammar)
	}
	if len(fb.Tips) != 1 || fb.Tips[0] != "speak slowly" {
		t.Errorf("unexpected tips %v", fb.Tips)
	}
}

func TestFormatConversation(t *testing.T) {
	got := FormatConversation(conversation())
	want := "User: Hola, quiero un cafe\nAI: Claro, ¿con leche?\n"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestAnalyze_UsesCache(t *testing.T) {
	gen := &fakeGenerator{response: `{"overall":"Bien","tips":["more"]}`}
	cache := NewMemoryCache(time.Hour)
	a := NewAnalyzer(gen, cache, zaptest.NewLogger(t))

	first, _ := a.Analyze(context.Background(), conversation(), "Spanish")
	second, _ := a.Analyze(context.Background(), conversation(), "Spanish")
	if gen.calls != 1 {
		t.Errorf("expected one generator call, got %d", gen.calls)
	}
	if first.Overall != second.Overall {
		t.Errorf("cached review differs: %q vs %q", first.Overall, second.Overall)
	}

	a.Analyze(context.Background(), conversation(), "French")
	if gen.calls != 2 {
		t.Error("a different language must not share the cache entry")
	}
}

func TestAnalyze_FallbackNotCached(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("down")}
	cache := NewMemoryCache(time.Hour)
	a := NewAnalyzer(gen, cache, zaptest.NewLogger(t))

	a.Analyze(context.Background(), conversation(), "Spanish")
	if _, ok := cache.Get(context.Background(), CacheKey("Spanish", FormatConversation(conversation()))); ok {
		t.Error("default feedback must not be cached")
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewMemoryCache(time.Minute)
	c.now = func() time.Time { return now }

	c.Set(context.Background(), "k", &transcript.Feedback{Overall: "ok"})
	if _, ok := c.Get(context.Background(), "k"); !ok {
		t.Fatal("expected hit")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestCacheKey(t *testing.T) {
	a := CacheKey("Spanish", "User: hola\n")
	if a != CacheKey("Spanish", "User: hola\n") {
		t.Error("key must be deterministic")
	}
	if a == CacheKey("French", "User: hola\n") {
		t.Error("language must be part of the key")
	}
	if !strings.HasPrefix(a, cacheKeyPrefix) {
		t.Errorf("missing prefix: %s", a)
	}
}

func newTestClient(t *testing.T, url string) *genai.Client {
	t.Helper()
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      "test-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: url + "/"},
	})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return client
}

func TestGeminiGenerator_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"overall\":\"Bien\"}"}]}}]}`))
	}))
	defer srv.Close()

	g := NewGeminiGenerator(newTestClient(t, srv.URL), "", zaptest.NewLogger(t))
	text, err := g.Generate(context.Background(), "review this")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != `{"overall":"Bien"}` {
		t.Errorf("unexpected text %q", text)
	}
}

func TestGeminiGenerator_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"bad request","status":"INVALID_ARGUMENT"}}`))
	}))
	defer srv.Close()

	g := NewGeminiGenerator(newTestClient(t, srv.URL), "", zaptest.NewLogger(t))
	g.backoff = time.Millisecond

	if _, err := g.Generate(context.Background(), "review this"); err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n < generateAttempts {
		t.Errorf("expected at least %d attempts, got %d", generateAttempts, n)
	}
}
