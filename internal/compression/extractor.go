// Package compression narrows retrieved chunks to the passages that answer
// a query.
package compression

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/docbot/internal/engine"
	"github.com/kalambet/docbot/internal/retrieval"
)

const defaultConcurrency = 3

// noOutput is the marker the model returns when a chunk has nothing
// relevant to the question.
const noOutput = "NO_OUTPUT"

var (
	_ retrieval.Compressor = (*LLMExtractor)(nil)
	_ retrieval.Compressor = NoOp{}
)

// New returns an LLMExtractor if enabled, NoOp otherwise. A nil engine
// also yields NoOp.
func New(eng engine.Engine, model string, enabled bool, timeout time.Duration) retrieval.Compressor {
	if !enabled || eng == nil {
		return NoOp{}
	}
	return &LLMExtractor{engine: eng, model: model, timeout: timeout}
}

// LLMExtractor asks the model to copy out the parts of each chunk relevant
// to the query. Extraction runs concurrently (bounded to
// defaultConcurrency calls). Chunks without a relevant part are dropped;
// surviving chunks keep their order.
type LLMExtractor struct {
	engine  engine.Engine
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

func (x *LLMExtractor) log() *slog.Logger {
	if x.logger != nil {
		return x.logger
	}
	return slog.Default()
}

// Compress extracts the relevant part of every chunk. Any provider error,
// including the overall timeout, fails the whole call.
func (x *LLMExtractor) Compress(ctx context.Context, query string, chunks []retrieval.Chunk) ([]retrieval.Chunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}

	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	results := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := x.extract(gctx, query, chunk.Text)
			if err != nil {
				return fmt.Errorf("extracting chunk %s: %w", chunk.ID, err)
			}
			results[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	kept := make([]retrieval.Chunk, 0, len(chunks))
	for i, text := range results {
		if text == "" {
			x.log().Debug("compression: chunk dropped", "chunk_id", chunks[i].ID)
			continue
		}
		c := chunks[i]
		if c.Original == "" {
			c.Original = c.Text
		}
		c.Text = text
		kept = append(kept, c)
	}
	return kept, nil
}

func (x *LLMExtractor) extract(ctx context.Context, query, text string) (string, error) {
	resp, err := x.engine.Chat(ctx, x.model, []engine.Message{
		{Role: "user", Content: extractionPrompt(query, text)},
	}, engine.ChatOptions{Temperature: 0})
	if err != nil {
		return "", err
	}
	return parseExtraction(resp), nil
}

func extractionPrompt(query, text string) string {
	return "Given the following question and context, extract any part of the context " +
		"*AS IS* that is relevant to answer the question. If none of the context is " +
		"relevant return " + noOutput + ".\n\n" +
		"Remember, *DO NOT* edit the extracted parts of the context.\n\n" +
		"> Question: " + query + "\n" +
		"> Context:\n>>>\n" + text + "\n>>>\n" +
		"Extracted relevant parts:"
}

// parseExtraction returns the extracted text, or "" when the model found
// nothing relevant. Models sometimes wrap the answer in a markdown code
// fence; the fence is stripped.
func parseExtraction(resp string) string {
	s := strings.TrimSpace(resp)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl != -1 && !strings.Contains(s[:nl], " ") {
			s = s[nl+1:] // language tag
		}
		if end := strings.LastIndex(s, "```"); end != -1 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	if s == noOutput || s == "" {
		return ""
	}
	return s
}

// NoOp passes chunks through unchanged. Used when compression is disabled.
type NoOp struct{}

func (NoOp) Compress(_ context.Context, _ string, chunks []retrieval.Chunk) ([]retrieval.Chunk, error) {
	return chunks, nil
}
