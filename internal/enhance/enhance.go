// Package enhance holds the generative helpers layered on top of a plain
// retrieval answer: summaries, intent-aware responses, follow-up
// suggestions, FAQs, response variations and synthetic questions.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/docbot/internal/engine"
	"github.com/kalambet/docbot/internal/intent"
	"github.com/kalambet/docbot/internal/retrieval"
	"github.com/kalambet/docbot/internal/session"
)

const (
	summaryDocs      = 5
	summaryMaxRunes  = 8000
	faqDocs          = 10
	faqMaxRunes      = 10000
	followUpContext  = 1000
	maxFollowUps     = 5
	respondHistory   = 3
	analysisFAQCount = 5
)

// NoDocumentsSummary is returned by Summarize when there is nothing to
// summarize.
const NoDocumentsSummary = "No relevant documents found."

// DefaultFollowUp is the suggestion offered when follow-up generation fails.
const DefaultFollowUp = "Is there anything else I can help you with?"

// ErrNoDocuments is returned by Analyze for an empty index.
var ErrNoDocuments = errors.New("no documents found in vector store")

// FAQ is one generated question/answer pair.
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Analysis describes a sample of the indexed corpus.
type Analysis struct {
	TotalDocumentsAnalyzed int      `json:"total_documents_analyzed"`
	OverallSummary         string   `json:"overall_summary"`
	GeneratedFAQs          []FAQ    `json:"generated_faqs"`
	DocumentSources        []string `json:"document_sources"`
}

// Enhancer runs the generative helpers against one chat model. Factual
// helpers use the base temperature; FAQs, follow-ups, variations and
// questions use the creative one.
type Enhancer struct {
	engine   engine.Engine
	model    string
	temp     float64
	creative float64
	logger   *slog.Logger
}

func New(eng engine.Engine, model string, temperature, creative float64) *Enhancer {
	return &Enhancer{engine: eng, model: model, temp: temperature, creative: creative}
}

func (e *Enhancer) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return slog.Default()
}

func (e *Enhancer) chat(ctx context.Context, prompt string, temperature float64) (string, error) {
	resp, err := e.engine.Chat(ctx, e.model, []engine.Message{{Role: "user", Content: prompt}},
		engine.ChatOptions{Temperature: temperature})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

// Summarize condenses the first five chunks, capped at 8000 characters,
// focused on query.
func (e *Enhancer) Summarize(ctx context.Context, chunks []retrieval.Chunk, query string) (string, error) {
	if len(chunks) == 0 {
		return NoDocumentsSummary, nil
	}
	if query == "" {
		query = "general information"
	}
	docs := joinCapped(chunks, summaryDocs, summaryMaxRunes)
	summary, err := e.chat(ctx, fmt.Sprintf(summaryPrompt, query, docs), e.temp)
	if err != nil {
		return "", fmt.Errorf("summarizing documents: %w", err)
	}
	return summary, nil
}

// Respond writes the final reply from the retrieved information, the last
// three turns of history and the tone the intent calls for.
func (e *Enhancer) Respond(ctx context.Context, query, info string, history []session.Turn, in intent.Intent) (string, error) {
	if len(history) > respondHistory {
		history = history[len(history)-respondHistory:]
	}
	lines := make([]string, 0, len(history))
	for _, t := range history {
		if t.Type == session.TypeUser {
			lines = append(lines, "User: "+t.Content)
		} else {
			lines = append(lines, "Assistant: "+t.Content)
		}
	}
	resp, err := e.chat(ctx, fmt.Sprintf(respondPrompt, strings.Join(lines, "\n"), query, in, info), e.temp)
	if err != nil {
		return "", fmt.Errorf("generating response: %w", err)
	}
	return resp, nil
}

// FollowUps suggests up to five next questions. It never fails: on a model
// error the single DefaultFollowUp is returned.
func (e *Enhancer) FollowUps(ctx context.Context, query, response, info string) []string {
	resp, err := e.chat(ctx, fmt.Sprintf(followUpPrompt, query, response, truncate(info, followUpContext)), e.creative)
	if err != nil {
		e.log().Warn("enhance: follow-up generation failed", "error", err)
		return []string{DefaultFollowUp}
	}
	return parseSuggestions(resp)
}

// FAQs generates n question/answer pairs from the first ten chunks, capped
// at 10000 characters.
func (e *Enhancer) FAQs(ctx context.Context, chunks []retrieval.Chunk, n int) ([]FAQ, error) {
	if len(chunks) == 0 {
		return []FAQ{}, nil
	}
	docs := joinCapped(chunks, faqDocs, faqMaxRunes)
	resp, err := e.chat(ctx, fmt.Sprintf(faqPrompt, docs, n), e.creative)
	if err != nil {
		return nil, fmt.Errorf("generating faqs: %w", err)
	}
	return parseFAQs(resp), nil
}

// Variations rewrites response n ways. On a model error the original
// response is the only variation.
func (e *Enhancer) Variations(ctx context.Context, response string, n int) []string {
	resp, err := e.chat(ctx, fmt.Sprintf(variationPrompt, response, n), e.creative)
	if err != nil {
		e.log().Warn("enhance: variation generation failed", "error", err)
		return []string{response}
	}
	vs := parseVariations(resp)
	if len(vs) > n {
		vs = vs[:n]
	}
	return vs
}

// Questions produces n end-user questions a snippet could answer.
func (e *Enhancer) Questions(ctx context.Context, text string, n int) ([]string, error) {
	resp, err := e.chat(ctx, fmt.Sprintf(questionPrompt, n, text), e.creative)
	if err != nil {
		return nil, fmt.Errorf("generating questions: %w", err)
	}
	return parseQuestions(resp), nil
}

// Analyze summarizes a corpus sample, drafts five FAQs from it and lists the
// distinct sources it came from.
func (e *Enhancer) Analyze(ctx context.Context, chunks []retrieval.Chunk) (Analysis, error) {
	if len(chunks) == 0 {
		return Analysis{}, ErrNoDocuments
	}
	summary, err := e.Summarize(ctx, chunks, "Provide an overview of all company documentation")
	if err != nil {
		return Analysis{}, err
	}
	faqs, err := e.FAQs(ctx, chunks, analysisFAQCount)
	if err != nil {
		return Analysis{}, err
	}
	return Analysis{
		TotalDocumentsAnalyzed: len(chunks),
		OverallSummary:         summary,
		GeneratedFAQs:          faqs,
		DocumentSources:        Sources(chunks),
	}, nil
}

// Sources returns the distinct chunk sources in first-seen order. Chunks
// without a source count as "unknown".
func Sources(chunks []retrieval.Chunk) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range chunks {
		src := c.Source
		if src == "" {
			src = "unknown"
		}
		if !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	return out
}

// Dedupe drops chunks whose first 100 characters repeat an earlier chunk.
func Dedupe(chunks []retrieval.Chunk) []retrieval.Chunk {
	seen := make(map[string]bool)
	out := make([]retrieval.Chunk, 0, len(chunks))
	for _, c := range chunks {
		key := truncate(c.Text, 100)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// JoinTexts concatenates chunk texts separated by blank lines.
func JoinTexts(chunks []retrieval.Chunk) string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return strings.Join(texts, "\n\n")
}

func joinCapped(chunks []retrieval.Chunk, maxDocs, maxRunes int) string {
	if len(chunks) > maxDocs {
		chunks = chunks[:maxDocs]
	}
	s := JoinTexts(chunks)
	if r := []rune(s); len(r) > maxRunes {
		s = string(r[:maxRunes]) + "..."
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
