package assist

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.0-flash"

// GenAIGenerator calls the Gemini API.
type GenAIGenerator struct {
	client *genai.Client
	model  string
}

// NewGenAIGenerator creates a client for the given API key.
func NewGenAIGenerator(ctx context.Context, apiKey, model string) (*GenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIGenerator{client: client, model: model}, nil
}

// GenerateJSON requests a JSON response for prompt.
func (g *GenAIGenerator) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx,
		g.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: no candidates returned", ErrInvalidResponse)
	}
	return text, nil
}

// Model returns the configured model name.
func (g *GenAIGenerator) Model() string {
	return g.model
}
