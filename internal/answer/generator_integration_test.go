//go:build integration

package answer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/docbot/internal/compression"
	"github.com/kalambet/docbot/internal/engine"
	"github.com/kalambet/docbot/internal/enhance"
	"github.com/kalambet/docbot/internal/reformulate"
	"github.com/kalambet/docbot/internal/retrieval"
	"github.com/kalambet/docbot/internal/storage"
)

const (
	chatModel  = "llama3.2"
	embedModel = "nomic-embed-text"
)

// setupIntegrationGenerator wires a full Generator over an in-memory SQLite
// index and a running Ollama instance.
func setupIntegrationGenerator(t *testing.T, texts ...string) *Generator {
	t.Helper()

	eng := engine.NewOllamaEngine("http://localhost:11434")
	if !eng.IsRunning(context.Background()) {
		t.Skip("Ollama is not running, skipping integration test")
	}
	for _, m := range []string{chatModel, embedModel} {
		if !eng.HasModel(context.Background(), m) {
			t.Skipf("%s model not available", m)
		}
	}

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	vectors := retrieval.NewSQLiteStore(store.DB())

	embedder := retrieval.NewEmbedder(eng, embedModel)
	vecs, err := embedder.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("embedding: %v", err)
	}
	records := make([]retrieval.Record, len(texts))
	for i, text := range texts {
		records[i] = retrieval.Record{
			ID: "doc:0:" + string(rune('0'+i)), DocID: "doc", Source: "policy.txt",
			ChunkIndex: i, Content: text, Embedding: vecs[i], IngestedAt: time.Now(),
		}
	}
	if err := vectors.Upsert(context.Background(), "test", records); err != nil {
		t.Fatalf("upserting: %v", err)
	}

	plain := retrieval.NewRetriever(embedder, vectors, "test", retrieval.Options{K: 2, FetchK: 4, Lambda: 0.6})
	return New(Deps{
		Engine:       eng,
		Model:        chatModel,
		Retriever:    plain.WithCompressor(compression.New(eng, chatModel, true, time.Minute)),
		Plain:        plain,
		Reformulator: reformulate.New(eng, chatModel, 30*time.Second),
		Enhancer:     enhance.New(eng, chatModel, 0, 0.7),
	})
}

func TestAnswer_LeavePolicy(t *testing.T) {
	gen := setupIntegrationGenerator(t,
		"Leave Policy: employees get 14 days annual leave.",
		"Expense reports must be filed within 30 days.",
		"The office is closed on public holidays.",
	)

	resp, err := gen.Answer(context.Background(), Request{SessionID: "it", Input: "How many leave days do I get?"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !strings.Contains(resp.Answer, "14") {
		t.Errorf("answer %q does not mention 14 days", resp.Answer)
	}
	found := false
	for _, c := range resp.Context {
		if strings.Contains(c.Original+c.Text, "14 days") {
			found = true
		}
	}
	if !found {
		t.Errorf("leave policy chunk not retrieved: %+v", resp.Context)
	}
	t.Logf("states=%v fallback=%v answer=%q", resp.Metadata.States, resp.Metadata.FallbackUsed, resp.Answer)
}
