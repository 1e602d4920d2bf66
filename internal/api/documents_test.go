package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/kalambet/docbot/internal/enhance"
	"github.com/kalambet/docbot/internal/retrieval"
	"github.com/kalambet/docbot/internal/session"
	"github.com/kalambet/docbot/internal/storage"
)

var sessionTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestGenerateFAQs(t *testing.T) {
	env := newTestEnv(t, testToken)
	var gotN int
	docs := env.deps.Documents.(*mockDocuments)
	faqsFn := docs.faqsFn
	docs.faqsFn = func(ctx context.Context, n int) ([]enhance.FAQ, error) {
		gotN = n
		return faqsFn(ctx, n)
	}
	h := env.handler()

	tests := []struct {
		name  string
		body  string
		wantN int
	}{
		{"empty body", "", 10},
		{"explicit", `{"num_faqs":4}`, 4},
		{"clamped", `{"num_faqs":500}`, maxFAQs},
		{"non-positive", `{"num_faqs":0}`, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h, authReq(http.MethodPost, "/generate-faqs", tt.body, testToken))
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
			}
			if gotN != tt.wantN {
				t.Errorf("n = %d, want %d", gotN, tt.wantN)
			}
			body := decodeBody(t, rr)
			if body["total_generated"] != float64(1) || body["generated_at"] == "" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestGenerateFAQs_Error(t *testing.T) {
	env := newTestEnv(t, testToken)
	env.deps.Documents.(*mockDocuments).faqsFn = func(context.Context, int) ([]enhance.FAQ, error) {
		return nil, errors.New("generating faqs: model unavailable")
	}
	rr := serve(env.handler(), authReq(http.MethodPost, "/generate-faqs", "", testToken))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
}

func TestAnalyzeDocuments(t *testing.T) {
	env := newTestEnv(t, testToken)
	rr := serve(env.handler(), authReq(http.MethodGet, "/analyze/documents", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	analysis := body["analysis"].(map[string]any)
	if analysis["total_documents_analyzed"] != float64(2) {
		t.Errorf("analysis = %v", analysis)
	}
}

func TestAnalyzeDocuments_EmptyIndex(t *testing.T) {
	env := newTestEnv(t, testToken)
	env.deps.Documents.(*mockDocuments).analyzeFn = func(context.Context) (enhance.Analysis, error) {
		return enhance.Analysis{}, enhance.ErrNoDocuments
	}
	rr := serve(env.handler(), authReq(http.MethodGet, "/analyze/documents", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestResponseVariations(t *testing.T) {
	env := newTestEnv(t, "")
	rr := serve(env.handler(), authReq(http.MethodPost, "/generate/response-variations?response_text=Hello&num_variations=2", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["original_response"] != "Hello" || body["total_variations"] != float64(2) {
		t.Errorf("body = %v", body)
	}

	rr = serve(env.handler(), authReq(http.MethodPost, "/generate/response-variations", "", ""))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing text: status = %d, want 400", rr.Code)
	}
}

func TestSummarizeDocuments(t *testing.T) {
	env := newTestEnv(t, testToken)
	h := env.handler()

	rr := serve(h, authReq(http.MethodPost, "/summarize/documents?query=leave&max_docs=6", "", testToken))
	body := decodeBody(t, rr)
	if body["summary"] != "summary of leave" || body["documents_summarized"] != float64(6) || body["focus_query"] != "leave" {
		t.Errorf("body = %v", body)
	}

	rr = serve(h, authReq(http.MethodPost, "/summarize/documents", "", testToken))
	body = decodeBody(t, rr)
	if body["focus_query"] != "general overview" || body["documents_summarized"] != float64(10) {
		t.Errorf("default body = %v", body)
	}
}

func TestUsageStats(t *testing.T) {
	env := newTestEnv(t, testToken)
	ctx := context.Background()
	env.deps.Sessions.Append(ctx, "a", session.Exchange("q1", "a1", sessionTime)...)
	env.deps.Sessions.Append(ctx, "a", session.Exchange("q2", "a2", sessionTime)...)
	env.deps.Sessions.Append(ctx, "b", session.Exchange("q", "a", sessionTime)...)
	env.store.SaveInteraction(ctx, storage.Interaction{ID: "i1", Query: "q"})
	env.store.SaveInteraction(ctx, storage.Interaction{ID: "i2", Query: "q", FallbackUsed: true})

	rr := serve(env.handler(), authReq(http.MethodGet, "/stats/usage", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	want := map[string]float64{
		"total_sessions":               2,
		"active_sessions":              2,
		"total_messages":               6,
		"average_messages_per_session": 3,
		"total_queries":                2,
		"fallback_queries":             1,
		"indexed_chunks":               42,
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("%s = %v, want %v", k, body[k], v)
		}
	}
	if body["timestamp"] == "" {
		t.Error("missing timestamp")
	}

	recent, ok := body["recent_queries"].([]any)
	if !ok || len(recent) != 2 {
		t.Fatalf("recent_queries = %v, want 2 entries", body["recent_queries"])
	}
	if first := recent[0].(map[string]any); first["fallback_used"] != true {
		t.Errorf("recent_queries[0] = %v, want newest (fallback) first", first)
	}

	rr = serve(env.handler(), authReq(http.MethodGet, "/stats/usage?recent=1", "", testToken))
	if recent := decodeBody(t, rr)["recent_queries"].([]any); len(recent) != 1 {
		t.Errorf("recent=1: got %d entries, want 1", len(recent))
	}
}

func TestUsageStats_MissingNamespace(t *testing.T) {
	env := newTestEnv(t, testToken)
	env.deps.Index = &mockIndex{err: retrieval.ErrNamespaceNotFound}
	rr := serve(env.handler(), authReq(http.MethodGet, "/stats/usage", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if body := decodeBody(t, rr); body["indexed_chunks"] != float64(0) {
		t.Errorf("indexed_chunks = %v, want 0", body["indexed_chunks"])
	}
}
