package engine

import (
	"context"

	"github.com/kalambet/docbot/internal/openai"
)

// OpenAIEngine adapts the internal/openai.Client to the Engine interface.
type OpenAIEngine struct {
	client     *openai.Client
	dimensions int
}

// NewOpenAIEngine wraps client. dimensions is forwarded on embedding
// requests; 0 leaves the model default.
func NewOpenAIEngine(client *openai.Client, dimensions int) *OpenAIEngine {
	return &OpenAIEngine{client: client, dimensions: dimensions}
}

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	msgs := make([]openai.Message, len(messages))
	for i, m := range messages {
		msgs[i] = openai.Message{Role: m.Role, Content: m.Content}
	}

	temp := opts.Temperature
	req := openai.ChatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: &temp,
	}
	if opts.JSON {
		req.ResponseFormat = &openai.ResponseFormat{Type: "json_object"}
	}
	return e.client.Chat(ctx, req)
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return e.client.Embed(ctx, openai.EmbeddingRequest{
		Model:      model,
		Input:      texts,
		Dimensions: e.dimensions,
	})
}

func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	_, err := e.client.ListModels(ctx)
	return err == nil
}
