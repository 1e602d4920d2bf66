package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/docbot/internal/engine"
)

// mockEngine implements engine.Engine for testing.
type mockEngine struct {
	embedFn func(ctx context.Context, model string, texts []string) ([][]float32, error)
	chatFn  func(ctx context.Context, model string, messages []engine.Message, opts engine.ChatOptions) (string, error)
}

func (m *mockEngine) Chat(ctx context.Context, model string, messages []engine.Message, opts engine.ChatOptions) (string, error) {
	if m.chatFn == nil {
		return "", fmt.Errorf("not implemented")
	}
	return m.chatFn(ctx, model, messages, opts)
}
func (m *mockEngine) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return m.embedFn(ctx, model, texts)
}
func (m *mockEngine) IsRunning(_ context.Context) bool { return true }

func makeVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(i) * 0.001
	}
	return v
}

func TestEmbed_ReturnsDimension(t *testing.T) {
	var gotModel string
	mock := &mockEngine{
		embedFn: func(_ context.Context, model string, texts []string) ([][]float32, error) {
			gotModel = model
			return [][]float32{makeVector(1024)}, nil
		},
	}
	e := NewEmbedder(mock, "text-embedding-3-small")

	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 1024 {
		t.Errorf("got %d dimensions, want 1024", len(vec))
	}
	if gotModel != "text-embedding-3-small" {
		t.Errorf("model = %q", gotModel)
	}
}

func TestEmbed_ProviderError(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(context.Context, string, []string) ([][]float32, error) {
			return nil, errors.New("connection refused")
		},
	}
	e := NewEmbedder(mock, "m")

	_, err := e.Embed(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("err = %v, want wrapped connection refused", err)
	}
}

func TestEmbed_WrongVectorCount(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(context.Context, string, []string) ([][]float32, error) {
			return nil, nil
		},
	}
	if _, err := NewEmbedder(mock, "m").Embed(context.Background(), "x"); err == nil {
		t.Error("expected error for empty embedding response")
	}
}

func TestEmbedBatch_PreservesOrderAcrossBatches(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, texts []string) ([][]float32, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			out := make([][]float32, len(texts))
			for i, text := range texts {
				var n int
				fmt.Sscanf(text, "t%d", &n)
				out[i] = []float32{float32(n)}
			}
			return out, nil
		},
	}
	e := NewEmbedder(mock, "m")

	texts := make([]string, 150)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 150 {
		t.Fatalf("got %d vectors, want 150", len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Fatalf("vecs[%d] = %v, want [%d]", i, v, i)
		}
	}
	if calls != 3 {
		t.Errorf("provider calls = %d, want 3", calls)
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	e := NewEmbedder(&mockEngine{}, "m")
	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", vecs, err)
	}
}

func TestEmbedBatch_Error(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(context.Context, string, []string) ([][]float32, error) {
			return nil, errors.New("rate limited")
		},
	}
	_, err := NewEmbedder(mock, "m").EmbedBatch(context.Background(), []string{"a", "b"})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("err = %v, want rate limited", err)
	}
}
