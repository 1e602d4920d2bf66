package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/docbot/internal/answer"
	"github.com/kalambet/docbot/internal/enhance"
	"github.com/kalambet/docbot/internal/ingest"
	"github.com/kalambet/docbot/internal/retrieval"
	"github.com/kalambet/docbot/internal/session"
	"github.com/kalambet/docbot/internal/storage"
)

const testToken = "test-token-12345"

// --- mocks ---

type mockAnswerer struct {
	mu         sync.Mutex
	requests   []answer.Request
	answerFn   func(ctx context.Context, req answer.Request) (answer.Response, error)
	baselineFn func(ctx context.Context, input string, history []session.Turn) (answer.Baseline, error)
}

func (m *mockAnswerer) Answer(ctx context.Context, req answer.Request) (answer.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.answerFn(ctx, req)
}

func (m *mockAnswerer) Baseline(ctx context.Context, input string, history []session.Turn) (answer.Baseline, error) {
	return m.baselineFn(ctx, input, history)
}

func newMockAnswerer() *mockAnswerer {
	return &mockAnswerer{
		answerFn: func(_ context.Context, req answer.Request) (answer.Response, error) {
			resp := answer.Response{
				Answer:  "You get 14 days of annual leave.",
				Context: []retrieval.Chunk{{ID: "c1", Text: "14 days"}},
				Metadata: answer.Metadata{
					EnhancedQuery:      req.Input,
					DocumentsRetrieved: 1,
					SessionID:          req.SessionID,
					States:             []answer.State{answer.StateEnhanced, answer.StateSuccess},
				},
			}
			if req.Summarize {
				resp.Features.DocumentSummary = "Leave policy summary."
			}
			if req.FollowUps {
				resp.Features.FollowUps = []string{"How do I request leave?"}
			}
			return resp, nil
		},
		baselineFn: func(_ context.Context, input string, _ []session.Turn) (answer.Baseline, error) {
			return answer.Baseline{Answer: "baseline: " + input}, nil
		},
	}
}

type mockDocuments struct {
	faqsFn       func(ctx context.Context, n int) ([]enhance.FAQ, error)
	analyzeFn    func(ctx context.Context) (enhance.Analysis, error)
	summarizeFn  func(ctx context.Context, query string, maxDocs int) (string, int, error)
	variationsFn func(ctx context.Context, response string, n int) []string
}

func (m *mockDocuments) FAQs(ctx context.Context, n int) ([]enhance.FAQ, error) {
	return m.faqsFn(ctx, n)
}

func (m *mockDocuments) Analyze(ctx context.Context) (enhance.Analysis, error) {
	return m.analyzeFn(ctx)
}

func (m *mockDocuments) Summarize(ctx context.Context, query string, maxDocs int) (string, int, error) {
	return m.summarizeFn(ctx, query, maxDocs)
}

func (m *mockDocuments) Variations(ctx context.Context, response string, n int) []string {
	return m.variationsFn(ctx, response, n)
}

type mockIndex struct {
	chunks []retrieval.Chunk
	count  int
	err    error
}

func (m *mockIndex) Similar(_ context.Context, _ string, k int) ([]retrieval.Chunk, error) {
	if m.err != nil {
		return nil, m.err
	}
	if k < len(m.chunks) {
		return m.chunks[:k], nil
	}
	return m.chunks, nil
}

func (m *mockIndex) Count(context.Context) (int, error) {
	return m.count, m.err
}

type mockIngester struct {
	ingestFn func(ctx context.Context, data []byte, filename string) (ingest.Result, error)
	folderFn func(ctx context.Context, dir string) (ingest.FolderResult, error)
}

func (m *mockIngester) Ingest(ctx context.Context, data []byte, filename string) (ingest.Result, error) {
	return m.ingestFn(ctx, data, filename)
}

func (m *mockIngester) IngestFolder(ctx context.Context, dir string) (ingest.FolderResult, error) {
	return m.folderFn(ctx, dir)
}

// --- helpers ---

type testEnv struct {
	deps    Deps
	store   *storage.Store
	answers *mockAnswerer
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	answers := newMockAnswerer()
	return &testEnv{
		store:   store,
		answers: answers,
		deps: Deps{
			Answerer: answers,
			Documents: &mockDocuments{
				faqsFn: func(_ context.Context, n int) ([]enhance.FAQ, error) {
					return []enhance.FAQ{{Question: "How many leave days?", Answer: "14."}}, nil
				},
				analyzeFn: func(context.Context) (enhance.Analysis, error) {
					return enhance.Analysis{TotalDocumentsAnalyzed: 2, OverallSummary: "HR docs"}, nil
				},
				summarizeFn: func(_ context.Context, query string, maxDocs int) (string, int, error) {
					return "summary of " + query, maxDocs, nil
				},
				variationsFn: func(_ context.Context, response string, n int) []string {
					out := make([]string, n)
					for i := range out {
						out[i] = response + " (v)"
					}
					return out
				},
			},
			Index:        &mockIndex{count: 42},
			Sessions:     session.NewMemoryStore(session.DefaultMaxTurns),
			Tasks:        ingest.NewTasks(store, 3),
			Ingester:     &mockIngester{},
			Interactions: store,
			Token:        token,
			Version:      "test",
		},
	}
}

func (e *testEnv) handler() http.Handler {
	return NewHandler(e.deps)
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	return out
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rr)
	e, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("body has no error object: %v", body)
	}
	return e["type"].(string)
}

// --- tests ---

func TestRoot(t *testing.T) {
	env := newTestEnv(t, "")
	rr := serve(env.handler(), httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" || body["service"] != "docbot" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	if fs, _ := body["features"].([]any); len(fs) != len(features) {
		t.Errorf("features = %v", body["features"])
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, testToken)
	rr := serve(env.handler(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != `{"status":"ok"}` {
		t.Fatalf("got %d %q", rr.Code, rr.Body.String())
	}
}

func TestQuery_EnhancedDefault(t *testing.T) {
	env := newTestEnv(t, "")
	h := env.handler()

	rr := serve(h, authReq(http.MethodPost, "/query", `{"session_id":"s1","input":"How many leave days do I get?"}`, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["answer"] != "You get 14 days of annual leave." {
		t.Errorf("answer = %v", body["answer"])
	}
	if _, ok := body["enhanced_features"]; !ok {
		t.Error("missing enhanced_features")
	}
	meta, _ := body["metadata"].(map[string]any)
	if meta["fallback_used"] != false || meta["session_id"] != "s1" {
		t.Errorf("metadata = %v", meta)
	}

	req := env.answers.requests[0]
	if !req.Summarize || req.FollowUps {
		t.Errorf("request = %+v, want Summarize without FollowUps", req)
	}

	history, _ := env.deps.Sessions.Get(context.Background(), "s1")
	if len(history) != 2 || history[0].Type != session.TypeUser || history[1].Content != "You get 14 days of annual leave." {
		t.Errorf("history = %+v", history)
	}

	stats, err := env.store.GetInteractionStats(context.Background())
	if err != nil {
		t.Fatalf("GetInteractionStats: %v", err)
	}
	if stats.TotalQueries != 1 {
		t.Errorf("TotalQueries = %d, want 1", stats.TotalQueries)
	}
}

func TestQuery_PassesHistory(t *testing.T) {
	env := newTestEnv(t, "")
	h := env.handler()

	serve(h, authReq(http.MethodPost, "/query", `{"session_id":"s1","input":"first"}`, ""))
	serve(h, authReq(http.MethodPost, "/query", `{"session_id":"s1","input":"second"}`, ""))

	second := env.answers.requests[1]
	if len(second.History) != 2 || second.History[0].Content != "first" {
		t.Errorf("second request history = %+v", second.History)
	}
}

func TestQuery_Baseline(t *testing.T) {
	env := newTestEnv(t, "")
	rr := serve(env.handler(), authReq(http.MethodPost, "/query",
		`{"session_id":"s1","input":"hello","use_enhancements":false}`, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if len(body) != 1 || body["answer"] != "baseline: hello" {
		t.Errorf("body = %v, want only the baseline answer", body)
	}
	if len(env.answers.requests) != 0 {
		t.Error("enhanced path ran for use_enhancements=false")
	}
	history, _ := env.deps.Sessions.Get(context.Background(), "s1")
	if len(history) != 2 {
		t.Errorf("history len = %d, want 2", len(history))
	}
}

func TestQuery_Validation(t *testing.T) {
	env := newTestEnv(t, "")
	h := env.handler()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing session", `{"input":"hi"}`},
		{"blank session", `{"session_id":"  ","input":"hi"}`},
		{"missing input", `{"session_id":"s1"}`},
		{"blank input", `{"session_id":"s1","input":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h, authReq(http.MethodPost, "/query", tt.body, ""))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
			if got := errorType(t, rr); got != "invalid_request_error" {
				t.Errorf("error type = %q", got)
			}
		})
	}
}

func TestQuery_AnswerFailure(t *testing.T) {
	env := newTestEnv(t, "")
	env.answers.answerFn = func(context.Context, answer.Request) (answer.Response, error) {
		return answer.Response{}, errors.New("fallback failed: provider down")
	}
	h := env.handler()

	rr := serve(h, authReq(http.MethodPost, "/query", `{"session_id":"s1","input":"hi"}`, ""))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
	if got := errorType(t, rr); got != "api_error" {
		t.Errorf("error type = %q", got)
	}
	history, _ := env.deps.Sessions.Get(context.Background(), "s1")
	if len(history) != 0 {
		t.Errorf("history updated after a failed answer: %+v", history)
	}
}

func TestQueryEnhanced_Shape(t *testing.T) {
	env := newTestEnv(t, "")
	rr := serve(env.handler(), authReq(http.MethodPost, "/query/enhanced",
		`{"session_id":"s2","input":"leave?"}`, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["document_summary"] != "Leave policy summary." {
		t.Errorf("document_summary = %v", body["document_summary"])
	}
	if s, _ := body["suggestions"].([]any); len(s) != 1 {
		t.Errorf("suggestions = %v", body["suggestions"])
	}
	if body["context_documents"] != float64(1) {
		t.Errorf("context_documents = %v", body["context_documents"])
	}
	meta, _ := body["metadata"].(map[string]any)
	if meta["enhancement_used"] != true {
		t.Errorf("enhancement_used = %v", meta["enhancement_used"])
	}
	if _, ok := meta["total_processing_time"]; !ok {
		t.Error("missing total_processing_time")
	}
	if meta["session_id"] != "s2" {
		t.Errorf("metadata.session_id = %v", meta["session_id"])
	}
}

func TestQueryEnhanced_FallbackReported(t *testing.T) {
	env := newTestEnv(t, "")
	env.answers.answerFn = func(_ context.Context, req answer.Request) (answer.Response, error) {
		return answer.Response{
			Answer: "baseline answer",
			Metadata: answer.Metadata{
				SessionID:    req.SessionID,
				FallbackUsed: true,
				Error:        "retrieving context: timeout",
				States:       []answer.State{answer.StateEnhanced, answer.StateFallback, answer.StateSuccess},
			},
		}, nil
	}
	rr := serve(env.handler(), authReq(http.MethodPost, "/query/enhanced",
		`{"session_id":"s3","input":"leave?","use_summarization":false,"generate_followups":false}`, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	meta, _ := body["metadata"].(map[string]any)
	if meta["fallback_used"] != true || meta["enhancement_used"] != false {
		t.Errorf("metadata = %v", meta)
	}
	if meta["error"] != "retrieving context: timeout" {
		t.Errorf("error = %v", meta["error"])
	}
	if s, _ := body["suggestions"].([]any); s == nil || len(s) != 0 {
		t.Errorf("suggestions = %v, want []", body["suggestions"])
	}
	req := env.answers.requests[0]
	if req.Summarize || req.FollowUps {
		t.Errorf("request = %+v, want both features off", req)
	}

	stats, _ := env.store.GetInteractionStats(context.Background())
	if stats.FallbackQueries != 1 {
		t.Errorf("FallbackQueries = %d, want 1", stats.FallbackQueries)
	}
}

func TestSessionHistory_GetAndClear(t *testing.T) {
	env := newTestEnv(t, "")
	h := env.handler()

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/session/new/history", nil))
	body := decodeBody(t, rr)
	if hs, ok := body["history"].([]any); !ok || len(hs) != 0 || body["message_count"] != float64(0) {
		t.Fatalf("empty session body = %v", body)
	}

	serve(h, authReq(http.MethodPost, "/query", `{"session_id":"s1","input":"hi"}`, ""))
	rr = serve(h, httptest.NewRequest(http.MethodGet, "/session/s1/history", nil))
	body = decodeBody(t, rr)
	if body["message_count"] != float64(2) || body["session_id"] != "s1" {
		t.Fatalf("body = %v", body)
	}
	turn := body["history"].([]any)[0].(map[string]any)
	if turn["type"] != "user" || turn["content"] != "hi" || turn["timestamp"] == "" {
		t.Errorf("turn = %v", turn)
	}

	rr = serve(h, httptest.NewRequest(http.MethodDelete, "/session/s1/history", nil))
	body = decodeBody(t, rr)
	if body["status"] != "cleared" || body["session_id"] != "s1" {
		t.Fatalf("clear body = %v", body)
	}
	rr = serve(h, httptest.NewRequest(http.MethodGet, "/session/s1/history", nil))
	if body = decodeBody(t, rr); body["message_count"] != float64(0) {
		t.Errorf("after clear message_count = %v", body["message_count"])
	}
}

func TestTestApproaches(t *testing.T) {
	env := newTestEnv(t, "")
	env.answers.baselineFn = func(context.Context, string, []session.Turn) (answer.Baseline, error) {
		return answer.Baseline{}, errors.New("index offline")
	}
	rr := serve(env.handler(), httptest.NewRequest(http.MethodPost, "/test/ai-approaches?query=leave", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["query"] != "leave" {
		t.Errorf("query = %v", body["query"])
	}
	results := body["results"].(map[string]any)
	if orig := results["original_rag"].(map[string]any); orig["error"] != "index offline" {
		t.Errorf("original_rag = %v", orig)
	}
	if full := results["full_enhanced"].(map[string]any); full["approach"] != "Full Enhanced RAG" {
		t.Errorf("full_enhanced = %v", full)
	}
	if len(body["approaches_tested"].([]any)) != 3 {
		t.Errorf("approaches_tested = %v", body["approaches_tested"])
	}

	ids := []string{env.answers.requests[0].SessionID, env.answers.requests[1].SessionID}
	if ids[0] != "test_session_enhanced" || ids[1] != "test_session_full" {
		t.Errorf("session ids = %v", ids)
	}
}

func TestTestApproaches_MissingQuery(t *testing.T) {
	env := newTestEnv(t, "")
	rr := serve(env.handler(), httptest.NewRequest(http.MethodPost, "/test/ai-approaches", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestAdminRoutes_RequireToken(t *testing.T) {
	env := newTestEnv(t, testToken)
	h := env.handler()

	routes := []struct{ method, path string }{
		{http.MethodPost, "/ingest/folder"},
		{http.MethodPost, "/ingest/file"},
		{http.MethodGet, "/ingest/tasks/x"},
		{http.MethodGet, "/stats/usage"},
		{http.MethodPost, "/generate-faqs"},
		{http.MethodGet, "/analyze/documents"},
		{http.MethodPost, "/summarize/documents"},
	}
	for _, rt := range routes {
		rr := serve(h, authReq(rt.method, rt.path, "", ""))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d, want 401", rt.method, rt.path, rr.Code)
		}
		rr = serve(h, authReq(rt.method, rt.path, "", "wrong"))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s with wrong token: status = %d, want 401", rt.method, rt.path, rr.Code)
		}
	}

	rr := serve(h, authReq(http.MethodGet, "/stats/usage", "", testToken))
	if rr.Code != http.StatusOK {
		t.Errorf("stats with token: status = %d", rr.Code)
	}
	rr = serve(h, authReq(http.MethodPost, "/query", `{"session_id":"s","input":"q"}`, ""))
	if rr.Code != http.StatusOK {
		t.Errorf("public /query: status = %d", rr.Code)
	}
}

func TestAdminRoutes_APIKeyHeader(t *testing.T) {
	env := newTestEnv(t, testToken)
	h := env.handler()

	req := httptest.NewRequest(http.MethodGet, "/stats/usage", nil)
	req.Header.Set("X-API-Key", testToken)
	if rr := serve(h, req); rr.Code != http.StatusOK {
		t.Errorf("X-API-Key: status = %d, want 200", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/stats/usage", nil)
	req.Header.Set("Authorization", "Basic "+testToken)
	if rr := serve(h, req); rr.Code != http.StatusUnauthorized {
		t.Errorf("basic auth: status = %d, want 401", rr.Code)
	}
}
