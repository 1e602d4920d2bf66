package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/docbot/internal/answer"
	"github.com/kalambet/docbot/internal/retrieval"
	"github.com/kalambet/docbot/internal/session"
)

// --- helpers ---

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPServer_Builds(t *testing.T) {
	env := newTestEnv(t, "")
	if s := NewMCPServer(env.deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_Ask(t *testing.T) {
	env := newTestEnv(t, "")
	handler := mcpAsk(env.deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"session_id": "mcp-1",
		"question":   "How many leave days do I get?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var resp answer.Response
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !strings.Contains(resp.Answer, "14 days") {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.Metadata.SessionID != "mcp-1" {
		t.Errorf("session_id = %q", resp.Metadata.SessionID)
	}

	history, _ := env.deps.Sessions.Get(context.Background(), "mcp-1")
	if len(history) != 2 {
		t.Errorf("history len = %d, want 2", len(history))
	}
}

func TestMCPTool_Ask_MissingArgs(t *testing.T) {
	env := newTestEnv(t, "")
	handler := mcpAsk(env.deps)

	for _, args := range []map[string]interface{}{
		{"question": "q"},
		{"session_id": "s"},
		{"session_id": "", "question": "q"},
	} {
		result, err := handler(context.Background(), makeCallToolRequest("ask", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("args %v: expected tool error", args)
		}
	}
}

func TestMCPTool_Ask_AnswerFails(t *testing.T) {
	env := newTestEnv(t, "")
	env.answers.answerFn = func(context.Context, answer.Request) (answer.Response, error) {
		return answer.Response{}, errors.New("fallback failed")
	}
	result, _ := mcpAsk(env.deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"session_id": "s", "question": "q",
	}))
	if !result.IsError {
		t.Fatal("expected tool error")
	}
}

func TestMCPTool_Search(t *testing.T) {
	env := newTestEnv(t, "")
	env.deps.Index = &mockIndex{chunks: []retrieval.Chunk{
		{ID: "d:0:0", DocID: "d", Source: "leave.pdf", Text: "14 days", Score: 0.95},
		{ID: "d:0:1", DocID: "d", Source: "leave.pdf", Text: "carry over", Score: 0.8},
		{ID: "d:1:2", DocID: "d", Source: "leave.pdf", Page: 1, Text: "sick leave", Score: 0.7},
	}}
	handler := mcpSearch(env.deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_documents", map[string]interface{}{
		"query": "leave",
		"limit": 2,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var chunks []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &chunks); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0]["source"] != "leave.pdf" || chunks[0]["text"] != "14 days" {
		t.Errorf("chunk = %v", chunks[0])
	}
}

func TestMCPTool_Search_Empty(t *testing.T) {
	env := newTestEnv(t, "")
	result, err := mcpSearch(env.deps)(context.Background(), makeCallToolRequest("search_documents", map[string]interface{}{
		"query": "nonexistent topic",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("expected empty array, got: %s", text)
	}
}

func TestMCPTool_IngestFolder(t *testing.T) {
	env := newTestEnv(t, "")
	dir := t.TempDir()

	result, err := mcpIngestFolder(env.deps)(context.Background(), makeCallToolRequest("ingest_folder", map[string]interface{}{
		"path": dir,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "task") {
		t.Errorf("text = %q", toolText(t, result))
	}

	var n int
	if err := env.store.DB().QueryRow(`SELECT COUNT(*) FROM jobs WHERE type = 'ingest_folder'`).Scan(&n); err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if n != 1 {
		t.Errorf("jobs = %d, want 1", n)
	}

	result, _ = mcpIngestFolder(env.deps)(context.Background(), makeCallToolRequest("ingest_folder", map[string]interface{}{
		"path": dir + "/missing",
	}))
	if !result.IsError {
		t.Error("expected error for missing folder")
	}
}

func TestMCPTool_SessionHistory(t *testing.T) {
	env := newTestEnv(t, "")
	env.deps.Sessions.Append(context.Background(), "s1", session.Exchange("hi", "hello", sessionTime)...)

	result, err := mcpSessionHistory(env.deps)(context.Background(), makeCallToolRequest("session_history", map[string]interface{}{
		"session_id": "s1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var turns []session.Turn
	if err := json.Unmarshal([]byte(toolText(t, result)), &turns); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(turns) != 2 || turns[1].Type != session.TypeBot || turns[1].Content != "hello" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestMCPResource_Stats(t *testing.T) {
	env := newTestEnv(t, "")
	contents, err := mcpResourceStats(env.deps)(context.Background(), makeReadResourceRequest(statsURI))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != statsURI {
		t.Errorf("URI = %q", tc.URI)
	}
	var stats map[string]any
	if err := json.Unmarshal([]byte(tc.Text), &stats); err != nil {
		t.Fatalf("failed to parse stats JSON: %v", err)
	}
	if stats["indexed_chunks"] != float64(42) {
		t.Errorf("indexed_chunks = %v", stats["indexed_chunks"])
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	env := newTestEnv(t, "")
	env.deps.Index = &mockIndex{chunks: []retrieval.Chunk{{ID: "c1", Text: "test", Score: 0.9}}}

	askHandler := mcpAsk(env.deps)
	searchHandler := mcpSearch(env.deps)

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := askHandler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
				"session_id": "shared", "question": "concurrent question",
			}))
			if err != nil {
				errs <- err
			} else if res.IsError {
				errs <- errors.New("ask returned a tool error")
			}
		}()
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := searchHandler(context.Background(), makeCallToolRequest("search_documents", map[string]interface{}{
				"query": "test",
			})); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent call failed: %v", err)
	}

	history, _ := env.deps.Sessions.Get(context.Background(), "shared")
	if len(history) != 10 {
		t.Errorf("history len = %d, want 10", len(history))
	}
}
