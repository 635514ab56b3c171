package reasoner

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// llmClient is the narrow model surface the reasoner depends on.
type llmClient interface {
	generate(ctx context.Context, prompt string) (string, error)
}

// geminiClient adapts the Google genai SDK. Generation parameters are
// pinned low-temperature: the model is asked to classify, not to create.
type geminiClient struct {
	client *genai.Client
	model  string
}

func newGeminiClient(ctx context.Context, apiKey, model string) (*geminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	return &geminiClient{client: client, model: model}, nil
}

func (g *geminiClient) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.1),
		TopP:            genai.Ptr[float32](0.8),
		TopK:            genai.Ptr[float32](40),
		MaxOutputTokens: 1024,
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
