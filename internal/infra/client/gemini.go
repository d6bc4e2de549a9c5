package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"
)

// GeminiGenerator produces text with a Gemini model.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	cb     *gobreaker.CircuitBreaker
	cfg    resilience.Config
}

// NewGeminiClient creates a genai client for the Gemini API.
func NewGeminiClient(ctx context.Context, apiKey string, httpClient *http.Client) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// NewGeminiGenerator wraps client for one model.
func NewGeminiGenerator(client *genai.Client, model string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model, cb: cb, cfg: cfg}
}

// Generate runs a conversation under systemInstruction. Turns with role
// "assistant" are sent as model turns.
func (g *GeminiGenerator) Generate(ctx context.Context, systemInstruction string, turns []domain.ChatTurn) (*domain.GeneratedText, error) {
	ctx, span := tracer.Start(ctx, "GeminiGenerator.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("model", g.model), attribute.Int("turns", len(turns)))

	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := genai.Role(genai.RoleUser)
		if t.Role == "assistant" || t.Role == "model" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.7),
	}
	if systemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	var resp *genai.GenerateContentResponse
	err := resilience.Execute(ctx, g.cb, g.cfg, func() error {
		r, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err != nil {
			var apiErr genai.APIError
			if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
				return resilience.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		if resilience.IsCircuitOpen(err) {
			return nil, &domain.ErrCircuitOpen{Service: "gemini"}
		}
		return nil, &domain.ErrExternalService{Service: "gemini", Err: err}
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, &domain.ErrExternalService{Service: "gemini", Err: errors.New("empty response")}
	}
	out := &domain.GeneratedText{Text: text}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
