package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/docbot/internal/enhance"
	"github.com/kalambet/docbot/internal/retrieval"
)

const (
	defaultFAQs       = 10
	maxFAQs           = 50
	defaultVariations = 3
	maxVariations     = 10
	defaultMaxDocs    = 10
	maxDocs           = 100
	defaultRecent     = 5
	maxRecent         = 50
)

// RecentQuery is one entry of the recent_queries list in usage stats.
type RecentQuery struct {
	Query        string `json:"query"`
	SessionID    string `json:"session_id"`
	FallbackUsed bool   `json:"fallback_used"`
	Documents    int    `json:"documents_retrieved"`
	DurationMS   int64  `json:"duration_ms"`
	Error        string `json:"error,omitempty"`
	Timestamp    string `json:"timestamp"`
}

type FAQRequest struct {
	NumFAQs int `json:"num_faqs"`
}

func handleGenerateFAQs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		req := FAQRequest{NumFAQs: defaultFAQs}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.NumFAQs <= 0 {
			req.NumFAQs = defaultFAQs
		}
		req.NumFAQs = min(req.NumFAQs, maxFAQs)

		faqs, err := deps.Documents.FAQs(r.Context(), req.NumFAQs)
		if err != nil {
			documentsError(w, err)
			return
		}
		if faqs == nil {
			faqs = []enhance.FAQ{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"faqs":            faqs,
			"total_generated": len(faqs),
			"generated_at":    timestamp(),
		})
	}
}

func handleAnalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		analysis, err := deps.Documents.Analyze(r.Context())
		if err != nil {
			documentsError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"analysis":    analysis,
			"analyzed_at": timestamp(),
		})
	}
}

func handleVariations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		text := r.URL.Query().Get("response_text")
		if strings.TrimSpace(text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "response_text is required")
			return
		}
		n := parseIntParam(r, "num_variations", defaultVariations, maxVariations)

		variations := deps.Documents.Variations(r.Context(), text, n)
		writeJSON(w, http.StatusOK, map[string]any{
			"original_response": text,
			"variations":        variations,
			"total_variations":  len(variations),
		})
	}
}

func handleSummarize(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		n := parseIntParam(r, "max_docs", defaultMaxDocs, maxDocs)

		summary, count, err := deps.Documents.Summarize(r.Context(), query, n)
		if err != nil {
			documentsError(w, err)
			return
		}
		focus := query
		if focus == "" {
			focus = "general overview"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"summary":              summary,
			"documents_summarized": count,
			"focus_query":          focus,
		})
	}
}

func handleUsageStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := deps.usage(r.Context(), parseIntParam(r, "recent", defaultRecent, maxRecent))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// usage merges session, interaction and index counters with the last
// recent answered queries, newest first.
func (d Deps) usage(ctx context.Context, recent int) (map[string]any, error) {
	stats, err := d.Sessions.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading session stats: %w", err)
	}
	out := map[string]any{
		"total_sessions":               stats.TotalSessions,
		"active_sessions":              stats.ActiveSessions,
		"total_messages":               stats.TotalMessages,
		"average_messages_per_session": stats.AverageMessagesPerSession,
		"timestamp":                    timestamp(),
	}

	if d.Interactions != nil {
		is, err := d.Interactions.GetInteractionStats(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading interaction stats: %w", err)
		}
		out["total_queries"] = is.TotalQueries
		out["fallback_queries"] = is.FallbackQueries

		rows, err := d.Interactions.GetRecentInteractions(ctx, recent)
		if err != nil {
			return nil, fmt.Errorf("reading recent queries: %w", err)
		}
		queries := make([]RecentQuery, 0, len(rows))
		for _, i := range rows {
			queries = append(queries, RecentQuery{
				Query:        i.Query,
				SessionID:    i.SessionID,
				FallbackUsed: i.FallbackUsed,
				Documents:    i.Documents,
				DurationMS:   i.Duration.Milliseconds(),
				Error:        i.Error,
				Timestamp:    i.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		out["recent_queries"] = queries
	}

	if d.Index != nil {
		n, err := d.Index.Count(ctx)
		if err != nil && !errors.Is(err, retrieval.ErrNamespaceNotFound) {
			return nil, fmt.Errorf("counting indexed chunks: %w", err)
		}
		out["indexed_chunks"] = n
	}
	return out, nil
}

func documentsError(w http.ResponseWriter, err error) {
	if errors.Is(err, enhance.ErrNoDocuments) {
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
		return
	}
	httpError(w, http.StatusBadGateway, "api_error", "%v", err)
}
