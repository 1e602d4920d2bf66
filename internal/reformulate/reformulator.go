// Package reformulate rewrites a follow-up question into a standalone query
// using the recent conversation.
package reformulate

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/kalambet/docbot/internal/engine"
	"github.com/kalambet/docbot/internal/session"
)

const defaultTimeout = 10 * time.Second

// maxGrowth bounds how much longer than the input a rewrite may be.
const maxGrowth = 3

var errTooLong = errors.New("rewrite longer than allowed")

// Result is the outcome of one reformulation. Query is always usable: it is
// the rewrite when Rewritten is true and the original input otherwise. Err
// records why a rewrite was discarded.
type Result struct {
	Query     string
	Rewritten bool
	Err       error
}

// Reformulator asks a chat model to fold conversation context into the
// current question.
type Reformulator struct {
	engine  engine.Engine
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Reformulator. A non-positive timeout uses the default.
func New(eng engine.Engine, model string, timeout time.Duration) *Reformulator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Reformulator{engine: eng, model: model, timeout: timeout}
}

func (r *Reformulator) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}

// Reformulate returns a standalone version of input. With no history the
// input is returned unchanged and the model is not called. Any failure,
// including a rewrite more than three times the input length, falls back to
// the input.
func (r *Reformulator) Reformulate(ctx context.Context, input string, history []session.Turn) Result {
	if len(history) == 0 || input == "" {
		return Result{Query: input}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.engine.Chat(ctx, r.model, BuildPrompt(input, history), engine.ChatOptions{Temperature: 0})
	if err != nil {
		r.log().Warn("reformulate: chat failed, using original query", "error", err)
		return Result{Query: input, Err: err}
	}

	rewritten := clean(raw)
	if rewritten == "" {
		r.log().Debug("reformulate: empty rewrite discarded")
		return Result{Query: input}
	}
	if utf8.RuneCountInString(rewritten) > maxGrowth*utf8.RuneCountInString(input) {
		r.log().Debug("reformulate: rewrite discarded", "input_len", len(input), "rewrite_len", len(rewritten))
		return Result{Query: input, Err: errTooLong}
	}
	return Result{Query: rewritten, Rewritten: rewritten != input}
}
