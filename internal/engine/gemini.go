package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiEngine serves chat and embeddings from the Google Gemini API.
type GeminiEngine struct {
	client *genai.Client
}

// NewGeminiEngine dials the Gemini API with apiKey. Call Close when done.
func NewGeminiEngine(ctx context.Context, apiKey string) (*GeminiEngine, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiEngine{client: client}, nil
}

// Close releases the underlying client.
func (e *GeminiEngine) Close() error {
	return e.client.Close()
}

func (e *GeminiEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	m := e.client.GenerativeModel(model)
	m.Temperature = genai.Ptr(float32(opts.Temperature))
	if opts.JSON {
		m.ResponseMIMEType = "application/json"
	}

	var system []string
	var history []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
		case "assistant":
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}
	if len(system) > 0 {
		m.SystemInstruction = genai.NewUserContent(genai.Text(strings.Join(system, "\n\n")))
	}
	if len(history) == 0 {
		return "", errors.New("gemini chat: no user message")
	}

	cs := m.StartChat()
	cs.History = history[:len(history)-1]
	resp, err := cs.SendMessage(ctx, history[len(history)-1].Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini chat: %w", err)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		break
	}
	if sb.Len() == 0 {
		return "", errors.New("gemini chat: empty response")
	}
	return sb.String(), nil
}

func (e *GeminiEngine) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// IsRunning reports whether the API key can list models.
func (e *GeminiEngine) IsRunning(ctx context.Context) bool {
	it := e.client.ListModels(ctx)
	_, err := it.Next()
	return err == nil
}
