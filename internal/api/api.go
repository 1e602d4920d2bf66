// Package api exposes docbot over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/docbot/internal/answer"
	"github.com/kalambet/docbot/internal/enhance"
	"github.com/kalambet/docbot/internal/ingest"
	"github.com/kalambet/docbot/internal/retrieval"
	"github.com/kalambet/docbot/internal/session"
	"github.com/kalambet/docbot/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxIngestBodySize  = 32 << 20 // 32MB
	defaultFolder      = "Docs/"
	serviceName        = "docbot"
)

var features = []string{
	"Advanced RAG",
	"Document Summarization",
	"Enhanced Response Generation",
	"FAQ Auto-Generation",
	"Follow-up Suggestions",
	"Intent Detection",
}

// Answerer answers questions.
type Answerer interface {
	Answer(ctx context.Context, req answer.Request) (answer.Response, error)
	Baseline(ctx context.Context, input string, history []session.Turn) (answer.Baseline, error)
}

// DocumentTools runs the generative features over the whole index.
type DocumentTools interface {
	FAQs(ctx context.Context, n int) ([]enhance.FAQ, error)
	Analyze(ctx context.Context) (enhance.Analysis, error)
	Summarize(ctx context.Context, query string, maxDocs int) (string, int, error)
	Variations(ctx context.Context, response string, n int) []string
}

// Index searches the vector index directly.
type Index interface {
	Similar(ctx context.Context, query string, k int) ([]retrieval.Chunk, error)
	Count(ctx context.Context) (int, error)
}

// TaskQueue submits and tracks background ingestion.
type TaskQueue interface {
	SubmitFile(ctx context.Context, filename string, data []byte) (ingest.Task, error)
	SubmitFolder(ctx context.Context, dir string) (ingest.Task, error)
	Get(ctx context.Context, id string) (ingest.Task, error)
	Wait(ctx context.Context, id string) (ingest.Task, error)
}

// Ingester indexes documents synchronously.
type Ingester interface {
	Ingest(ctx context.Context, data []byte, filename string) (ingest.Result, error)
	IngestFolder(ctx context.Context, dir string) (ingest.FolderResult, error)
}

// InteractionLog records answered queries.
type InteractionLog interface {
	SaveInteraction(ctx context.Context, i storage.Interaction) error
	GetInteractionStats(ctx context.Context) (storage.InteractionStats, error)
	GetRecentInteractions(ctx context.Context, limit int) ([]storage.Interaction, error)
}

// Deps holds everything the HTTP API serves from.
type Deps struct {
	Answerer     Answerer
	Documents    DocumentTools
	Index        Index
	Sessions     session.Store
	Tasks        TaskQueue
	Ingester     Ingester
	Interactions InteractionLog
	// Token guards the admin routes; empty disables auth.
	Token         string
	DefaultFolder string
	Version       string
	Logger        *slog.Logger
}

func (d Deps) log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) folder() string {
	if d.DefaultFolder != "" {
		return d.DefaultFolder
	}
	return defaultFolder
}

// NewHandler returns the docbot REST API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/", handleRoot(deps))
	r.Get("/health", handleHealth)

	r.Post("/query", handleQuery(deps))
	r.Post("/query/enhanced", handleEnhancedQuery(deps))
	r.Post("/test/ai-approaches", handleTestApproaches(deps))
	r.Get("/session/{id}/history", handleGetHistory(deps))
	r.Delete("/session/{id}/history", handleClearHistory(deps))
	r.Post("/generate/response-variations", handleVariations(deps))

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(AdminAuth(deps.Token, deps.log()))
		}
		r.Post("/ingest/file", handleIngestFile(deps))
		r.Post("/ingest/folder", handleIngestFolder(deps))
		r.Get("/ingest/tasks/{id}", handleGetTask(deps))
		r.Get("/stats/usage", handleUsageStats(deps))
		r.Post("/generate-faqs", handleGenerateFAQs(deps))
		r.Get("/analyze/documents", handleAnalyze(deps))
		r.Post("/summarize/documents", handleSummarize(deps))
	})

	return r
}

func handleRoot(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"service":  serviceName,
			"version":  deps.Version,
			"features": features,
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func parseBoolParam(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}
