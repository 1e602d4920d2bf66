// Package answer produces grounded answers from retrieved documentation.
// Answer first tries the enhanced path and falls back to a plain
// retrieve-and-generate pass when any enhanced stage fails.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/docbot/internal/engine"
	"github.com/kalambet/docbot/internal/enhance"
	"github.com/kalambet/docbot/internal/intent"
	"github.com/kalambet/docbot/internal/reformulate"
	"github.com/kalambet/docbot/internal/retrieval"
	"github.com/kalambet/docbot/internal/session"
)

// ErrEmptyQuery is returned when the question is blank.
var ErrEmptyQuery = errors.New("query must not be empty")

var errEmptyAnswer = errors.New("model returned an empty answer")

// State is a step of the answer state machine.
type State string

const (
	StateEnhanced State = "ENHANCED_ATTEMPT"
	StateFallback State = "FALLBACK_ATTEMPT"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
)

// Retriever fetches context for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (retrieval.Result, error)
}

// Reformulator turns a follow-up question into a standalone query.
type Reformulator interface {
	Reformulate(ctx context.Context, input string, history []session.Turn) reformulate.Result
}

// Request is one question asked within a session.
type Request struct {
	SessionID string
	Input     string
	History   []session.Turn
	Summarize bool
	FollowUps bool
}

type Features struct {
	DocumentSummary string   `json:"document_summary,omitempty"`
	FollowUps       []string `json:"follow_up_suggestions,omitempty"`
	Error           string   `json:"error,omitempty"`
}

type Metadata struct {
	ProcessingTime     float64       `json:"processing_time"`
	EnhancedQuery      string        `json:"enhanced_query,omitempty"`
	DocumentsRetrieved int           `json:"documents_retrieved"`
	SessionID          string        `json:"session_id"`
	Intent             intent.Intent `json:"intent,omitempty"`
	FallbackUsed       bool          `json:"fallback_used"`
	Error              string        `json:"error,omitempty"`
	States             []State       `json:"states"`
}

// Response is the outcome of Answer. Context holds the chunks the answer
// was generated from.
type Response struct {
	Answer         string            `json:"answer"`
	OriginalAnswer string            `json:"original_answer,omitempty"`
	Context        []retrieval.Chunk `json:"-"`
	Features       Features          `json:"enhanced_features"`
	Metadata       Metadata          `json:"metadata"`
}

// Baseline is the result of a plain retrieve-and-generate pass.
type Baseline struct {
	Answer  string
	Context []retrieval.Chunk
}

// Deps wires a Generator. Retriever is the enhanced (compressing)
// retriever; Plain is the unmodified one used by the baseline path.
type Deps struct {
	Engine           engine.Engine
	Model            string
	Temperature      float64
	MaxContextTokens int
	Retriever        Retriever
	Plain            Retriever
	Reformulator     Reformulator
	Enhancer         *enhance.Enhancer
	Logger           *slog.Logger
}

type Generator struct {
	engine       engine.Engine
	model        string
	temperature  float64
	maxTokens    int
	retriever    Retriever
	plain        Retriever
	reformulator Reformulator
	enhancer     *enhance.Enhancer
	logger       *slog.Logger
}

// New creates a Generator. A nil Plain retriever reuses Retriever.
func New(d Deps) *Generator {
	plain := d.Plain
	if plain == nil {
		plain = d.Retriever
	}
	return &Generator{
		engine:       d.Engine,
		model:        d.Model,
		temperature:  d.Temperature,
		maxTokens:    d.MaxContextTokens,
		retriever:    d.Retriever,
		plain:        plain,
		reformulator: d.Reformulator,
		enhancer:     d.Enhancer,
		logger:       d.Logger,
	}
}

func (g *Generator) log() *slog.Logger {
	if g.logger != nil {
		return g.logger
	}
	return slog.Default()
}

// Answer runs the enhanced path and, if any stage fails, the baseline path
// on the raw input. A baseline success is returned with FallbackUsed set
// and the enhanced error preserved; a baseline failure fails the call.
func (g *Generator) Answer(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Input) == "" {
		return Response{}, ErrEmptyQuery
	}
	start := time.Now()
	states := []State{StateEnhanced}

	resp, err := g.enhanced(ctx, req)
	if err == nil {
		resp.Metadata.States = append(states, StateSuccess)
		resp.Metadata.ProcessingTime = time.Since(start).Seconds()
		return resp, nil
	}

	g.log().Warn("answer: enhanced attempt failed, falling back", "session_id", req.SessionID, "error", err)
	states = append(states, StateFallback)

	base, ferr := g.Baseline(ctx, req.Input, req.History)
	if ferr != nil {
		states = append(states, StateFailure)
		return Response{Metadata: Metadata{SessionID: req.SessionID, States: states, Error: err.Error()}},
			fmt.Errorf("fallback failed: %w (enhanced attempt: %v)", ferr, err)
	}

	return Response{
		Answer:   base.Answer,
		Context:  base.Context,
		Features: Features{Error: err.Error()},
		Metadata: Metadata{
			ProcessingTime:     time.Since(start).Seconds(),
			DocumentsRetrieved: len(base.Context),
			SessionID:          req.SessionID,
			FallbackUsed:       true,
			Error:              err.Error(),
			States:             append(states, StateSuccess),
		},
	}, nil
}

// enhanced is the full path: reformulate, retrieve with compression,
// generate the base answer, then summarize, adapt to intent and suggest
// follow-ups. Each stage returns its outcome; the first error ends it.
func (g *Generator) enhanced(ctx context.Context, req Request) (Response, error) {
	query := req.Input
	if g.reformulator != nil {
		rf := g.reformulator.Reformulate(ctx, req.Input, req.History)
		query = rf.Query
	}

	res, err := g.retriever.Retrieve(ctx, query)
	if err != nil {
		return Response{}, fmt.Errorf("retrieving context: %w", err)
	}

	base, err := g.generate(ctx, query, res.Chunks, req.History)
	if err != nil {
		return Response{}, fmt.Errorf("generating answer: %w", err)
	}

	resp := Response{
		Answer:         base,
		OriginalAnswer: base,
		Context:        res.Chunks,
		Metadata: Metadata{
			EnhancedQuery:      query,
			DocumentsRetrieved: len(res.Chunks),
			SessionID:          req.SessionID,
		},
	}
	if g.enhancer == nil {
		return resp, nil
	}

	if req.Summarize && len(res.Chunks) > 0 {
		summary, err := g.enhancer.Summarize(ctx, res.Chunks, req.Input)
		if err != nil {
			return Response{}, err
		}
		resp.Features.DocumentSummary = summary
	}

	in := intent.Classify(req.Input)
	resp.Metadata.Intent = in
	final, err := g.enhancer.Respond(ctx, req.Input, base, req.History, in)
	if err != nil {
		return Response{}, err
	}
	if final == "" {
		return Response{}, errEmptyAnswer
	}
	resp.Answer = final

	if req.FollowUps {
		resp.Features.FollowUps = g.enhancer.FollowUps(ctx, req.Input, final, base)
	}
	return resp, nil
}

// Baseline retrieves with the plain retriever using input as is and
// generates an answer with the chat history. No enhancements run.
func (g *Generator) Baseline(ctx context.Context, input string, history []session.Turn) (Baseline, error) {
	if strings.TrimSpace(input) == "" {
		return Baseline{}, ErrEmptyQuery
	}
	res, err := g.plain.Retrieve(ctx, input)
	if err != nil {
		return Baseline{}, fmt.Errorf("retrieving context: %w", err)
	}
	ans, err := g.generate(ctx, input, res.Chunks, history)
	if err != nil {
		return Baseline{}, fmt.Errorf("generating answer: %w", err)
	}
	return Baseline{Answer: ans, Context: res.Chunks}, nil
}

func (g *Generator) generate(ctx context.Context, question string, chunks []retrieval.Chunk, history []session.Turn) (string, error) {
	resp, err := g.engine.Chat(ctx, g.model, BuildMessages(question, chunks, history, g.maxTokens),
		engine.ChatOptions{Temperature: g.temperature})
	if err != nil {
		return "", err
	}
	resp = strings.TrimSpace(resp)
	if resp == "" {
		return "", errEmptyAnswer
	}
	return resp, nil
}
