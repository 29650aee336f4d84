package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// DefaultModel is used when no review model is configured.
const DefaultModel = "gemini-2.5-flash"

const (
	generateAttempts = 3
	generateTimeout  = 30 * time.Second
)

var errEmptyResponse = errors.New("empty response")

// Generator turns a prompt into a JSON document.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiGenerator asks a Gemini model for feedback constrained to the review
// schema.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	logger *zap.Logger

	// backoff is multiplied by the attempt number between retries
	backoff time.Duration
}

// NewGeminiGenerator creates a generator on an existing client.
func NewGeminiGenerator(client *genai.Client, model string, logger *zap.Logger) *GeminiGenerator {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiGenerator{
		client:  client,
		model:   model,
		logger:  logger.With(zap.String("component", "review_generator")),
		backoff: time.Second,
	}
}

// Schema is the response shape requested from the model.
func Schema() *genai.Schema {
	list := func(desc string) *genai.Schema {
		return &genai.Schema{
			Type:        genai.TypeArray,
			Description: desc,
			Items:       &genai.Schema{Type: genai.TypeString},
		}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"overall":       {Type: genai.TypeString, Description: "Two or three encouraging sentences about the conversation"},
			"pronunciation": list("Words the learner likely mispronounced, with the correct form"),
			"grammar":       list("Grammar mistakes, each with a corrected version"),
			"vocabulary":    list("Better or more natural word choices"),
			"tips":          list("Short, concrete suggestions for the next practice"),
		},
		Required:         []string{"overall", "pronunciation", "grammar", "vocabulary", "tips"},
		PropertyOrdering: []string{"overall", "pronunciation", "grammar", "vocabulary", "tips"},
	}
}

// Generate sends the prompt, retrying transient failures.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   Schema(),
	}

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < generateAttempts; attempt++ {
		response, err = g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err == nil {
			break
		}

		g.logger.Warn("Failed to generate review, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < generateAttempts-1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt+1) * g.backoff):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("generate review: %w", err)
	}

	text := response.Text()
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}
