package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/docbot/internal/answer"
	"github.com/kalambet/docbot/internal/session"
	"github.com/kalambet/docbot/internal/storage"
)

type QueryRequest struct {
	SessionID         string `json:"session_id"`
	Input             string `json:"input"`
	UseEnhancements   *bool  `json:"use_enhancements,omitempty"`
	GenerateFollowups bool   `json:"generate_followups"`
}

type EnhancedQueryRequest struct {
	SessionID         string `json:"session_id"`
	Input             string `json:"input"`
	UseSummarization  *bool  `json:"use_summarization,omitempty"`
	GenerateFollowups *bool  `json:"generate_followups,omitempty"`
}

type EnhancedMetadata struct {
	answer.Metadata
	TotalProcessingTime float64 `json:"total_processing_time"`
	EnhancementUsed     bool    `json:"enhancement_used"`
}

type EnhancedQueryResponse struct {
	Answer           string           `json:"answer"`
	Features         answer.Features  `json:"enhanced_features"`
	Metadata         EnhancedMetadata `json:"metadata"`
	Suggestions      []string         `json:"suggestions"`
	DocumentSummary  string           `json:"document_summary,omitempty"`
	ContextDocuments int              `json:"context_documents"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// decodeQuestion reads a JSON body into v and validates the session id and
// input it carries.
func decodeQuestion(w http.ResponseWriter, r *http.Request, v any, sessionID, input func() string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	if strings.TrimSpace(sessionID()) == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "session_id is required")
		return false
	}
	if strings.TrimSpace(input()) == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "input is required")
		return false
	}
	return true
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req QueryRequest
		if !decodeQuestion(w, r, &req, func() string { return req.SessionID }, func() string { return req.Input }) {
			return
		}
		ctx := r.Context()

		history, err := deps.Sessions.Get(ctx, req.SessionID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load history: %v", err)
			return
		}

		if !boolOr(req.UseEnhancements, true) {
			start := time.Now()
			base, err := deps.Answerer.Baseline(ctx, req.Input, history)
			if err != nil {
				answerError(w, err)
				return
			}
			deps.remember(ctx, req.SessionID, req.Input, base.Answer)
			deps.record(ctx, storage.Interaction{
				SessionID: req.SessionID,
				Query:     req.Input,
				Answer:    base.Answer,
				Documents: len(base.Context),
				Duration:  time.Since(start),
			})
			writeJSON(w, http.StatusOK, map[string]string{"answer": base.Answer})
			return
		}

		resp, err := deps.answer(ctx, answer.Request{
			SessionID: req.SessionID,
			Input:     req.Input,
			History:   history,
			Summarize: true,
			FollowUps: req.GenerateFollowups,
		})
		if err != nil {
			answerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"answer":            resp.Answer,
			"enhanced_features": resp.Features,
			"metadata":          resp.Metadata,
		})
	}
}

func handleEnhancedQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EnhancedQueryRequest
		if !decodeQuestion(w, r, &req, func() string { return req.SessionID }, func() string { return req.Input }) {
			return
		}
		ctx := r.Context()
		start := time.Now()

		history, err := deps.Sessions.Get(ctx, req.SessionID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load history: %v", err)
			return
		}

		resp, err := deps.answer(ctx, answer.Request{
			SessionID: req.SessionID,
			Input:     req.Input,
			History:   history,
			Summarize: boolOr(req.UseSummarization, true),
			FollowUps: boolOr(req.GenerateFollowups, true),
		})
		if err != nil {
			answerError(w, err)
			return
		}

		suggestions := resp.Features.FollowUps
		if suggestions == nil {
			suggestions = []string{}
		}
		writeJSON(w, http.StatusOK, EnhancedQueryResponse{
			Answer:   resp.Answer,
			Features: resp.Features,
			Metadata: EnhancedMetadata{
				Metadata:            resp.Metadata,
				TotalProcessingTime: time.Since(start).Seconds(),
				EnhancementUsed:     !resp.Metadata.FallbackUsed,
			},
			Suggestions:      suggestions,
			DocumentSummary:  resp.Features.DocumentSummary,
			ContextDocuments: len(resp.Context),
		})
	}
}

// answer runs the generator, then updates the session and the
// interaction log.
func (d Deps) answer(ctx context.Context, req answer.Request) (answer.Response, error) {
	start := time.Now()
	resp, err := d.Answerer.Answer(ctx, req)
	if err != nil {
		return resp, err
	}
	d.remember(ctx, req.SessionID, req.Input, resp.Answer)
	d.record(ctx, storage.Interaction{
		SessionID:     req.SessionID,
		Query:         req.Input,
		EnhancedQuery: resp.Metadata.EnhancedQuery,
		Answer:        resp.Answer,
		FallbackUsed:  resp.Metadata.FallbackUsed,
		Documents:     resp.Metadata.DocumentsRetrieved,
		Duration:      time.Since(start),
		Error:         resp.Metadata.Error,
	})
	return resp, nil
}

func (d Deps) remember(ctx context.Context, sessionID, question, reply string) {
	if err := d.Sessions.Append(ctx, sessionID, session.Exchange(question, reply, time.Now())...); err != nil {
		d.log().Warn("api: failed to update session history", "session_id", sessionID, "error", err)
	}
}

func (d Deps) record(ctx context.Context, i storage.Interaction) {
	if d.Interactions == nil {
		return
	}
	i.ID = uuid.New().String()
	if err := d.Interactions.SaveInteraction(ctx, i); err != nil {
		d.log().Warn("api: failed to record interaction", "session_id", i.SessionID, "error", err)
	}
}

func answerError(w http.ResponseWriter, err error) {
	if errors.Is(err, answer.ErrEmptyQuery) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	httpError(w, http.StatusBadGateway, "api_error", "%v", err)
}

// handleTestApproaches answers one query three ways, each under its own
// derived session, and reports every outcome side by side.
func handleTestApproaches(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		if strings.TrimSpace(query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			sessionID = "test_session"
		}
		ctx := r.Context()

		results := map[string]any{}
		tested := []string{"original_rag", "enhanced_with_summarization", "full_enhanced"}

		originalID := sessionID + "_original"
		history, err := deps.Sessions.Get(ctx, originalID)
		if err == nil {
			var base answer.Baseline
			base, err = deps.Answerer.Baseline(ctx, query, history)
			if err == nil {
				deps.remember(ctx, originalID, query, base.Answer)
				results["original_rag"] = map[string]any{"answer": base.Answer, "approach": "Traditional RAG"}
			}
		}
		if err != nil {
			results["original_rag"] = map[string]any{"error": err.Error()}
		}

		resp, err := deps.Answerer.Answer(ctx, answer.Request{SessionID: sessionID + "_enhanced", Input: query, Summarize: true})
		if err != nil {
			results["enhanced_with_summarization"] = map[string]any{"error": err.Error()}
		} else {
			results["enhanced_with_summarization"] = map[string]any{
				"answer":   resp.Answer,
				"approach": "Enhanced RAG with Summarization",
				"summary":  resp.Features.DocumentSummary,
			}
		}

		resp, err = deps.Answerer.Answer(ctx, answer.Request{SessionID: sessionID + "_full", Input: query, Summarize: true, FollowUps: true})
		if err != nil {
			results["full_enhanced"] = map[string]any{"error": err.Error()}
		} else {
			results["full_enhanced"] = map[string]any{
				"answer":   resp.Answer,
				"approach": "Full Enhanced RAG",
				"features": resp.Features,
				"metadata": resp.Metadata,
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"query":             query,
			"approaches_tested": tested,
			"results":           results,
			"timestamp":         timestamp(),
		})
	}
}

func handleGetHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		turns, err := deps.Sessions.Get(r.Context(), id)
		if errors.Is(err, session.ErrEmptyID) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get history: %v", err)
			return
		}
		if turns == nil {
			turns = []session.Turn{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id":    id,
			"history":       turns,
			"message_count": len(turns),
		})
	}
}

func handleClearHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := deps.Sessions.Clear(r.Context(), id)
		if errors.Is(err, session.ErrEmptyID) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "session_id": id})
	}
}
