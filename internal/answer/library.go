package answer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/docbot/internal/enhance"
	"github.com/kalambet/docbot/internal/retrieval"
)

// Seed queries used to pull a representative slice of the index.
var (
	FAQSeeds      = []string{"company policies", "customer service", "products", "procedures", "guidelines", "support"}
	SummarySeeds  = []string{"policies", "procedures", "guidelines", "support"}
	QuestionSeeds = []string{
		"leave policy", "annual leave", "attendance", "overtime",
		"security policy", "onboarding", "probation", "termination",
		"user manual", "login", "payroll", "HR system",
	}
)

const (
	faqSeedK      = 3
	analyzeSample = 20
)

// Library reads the index without a user question.
type Library interface {
	Similar(ctx context.Context, query string, k int) ([]retrieval.Chunk, error)
	Sample(ctx context.Context, limit int) ([]retrieval.Chunk, error)
}

// Corpus runs the document-level generative features over a Library.
type Corpus struct {
	library  Library
	enhancer *enhance.Enhancer
	logger   *slog.Logger
}

func NewCorpus(lib Library, enh *enhance.Enhancer) *Corpus {
	return &Corpus{library: lib, enhancer: enh}
}

func (c *Corpus) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// Seeds collects up to total chunks by running each query for at most
// perQuery results. A failing query is logged and skipped.
func (c *Corpus) Seeds(ctx context.Context, queries []string, total, perQuery int) []retrieval.Chunk {
	var out []retrieval.Chunk
	for _, q := range queries {
		need := total - len(out)
		if need <= 0 {
			break
		}
		chunks, err := c.library.Similar(ctx, q, min(perQuery, need))
		if err != nil {
			c.log().Warn("answer: seed query failed", "query", q, "error", err)
			continue
		}
		out = append(out, chunks...)
	}
	if len(out) > total {
		out = out[:total]
	}
	return out
}

// FAQs drafts n FAQs from the chunks matching the FAQ seed queries, with
// near-duplicate chunks removed.
func (c *Corpus) FAQs(ctx context.Context, n int) ([]enhance.FAQ, error) {
	var all []retrieval.Chunk
	for _, q := range FAQSeeds {
		chunks, err := c.library.Similar(ctx, q, faqSeedK)
		if err != nil {
			return nil, fmt.Errorf("searching %q: %w", q, err)
		}
		all = append(all, chunks...)
	}
	return c.enhancer.FAQs(ctx, enhance.Dedupe(all), n)
}

// Analyze summarizes a sample of the index.
func (c *Corpus) Analyze(ctx context.Context) (enhance.Analysis, error) {
	chunks, err := c.library.Sample(ctx, analyzeSample)
	if err != nil {
		return enhance.Analysis{}, err
	}
	return c.enhancer.Analyze(ctx, chunks)
}

// Summarize condenses up to maxDocs chunks matching query, or an even
// spread over the summary seed queries when query is empty. It returns the
// summary and the number of chunks considered.
func (c *Corpus) Summarize(ctx context.Context, query string, maxDocs int) (string, int, error) {
	if maxDocs <= 0 {
		maxDocs = 10
	}
	var chunks []retrieval.Chunk
	if query != "" {
		var err error
		if chunks, err = c.library.Similar(ctx, query, maxDocs); err != nil {
			return "", 0, err
		}
	} else {
		per := max(maxDocs/len(SummarySeeds), 1)
		for _, q := range SummarySeeds {
			found, err := c.library.Similar(ctx, q, per)
			if err != nil {
				return "", 0, err
			}
			chunks = append(chunks, found...)
		}
	}
	summary, err := c.enhancer.Summarize(ctx, chunks, query)
	if err != nil {
		return "", 0, err
	}
	return summary, len(chunks), nil
}

// Variations rewrites a response n ways.
func (c *Corpus) Variations(ctx context.Context, response string, n int) []string {
	return c.enhancer.Variations(ctx, response, n)
}
