package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/docbot/internal/answer"
	"github.com/kalambet/docbot/internal/session"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
	statsURI           = "docbot://stats"
)

// NewMCPServer creates an MCP server exposing docbot's question answering,
// search, ingestion and session tools.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		serviceName,
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("docbot answers questions about internal company documentation (HR policies, manuals)."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question about the company documentation within a chat session."),
			mcp.WithString("session_id", mcp.Description("Chat session id; prior turns of the session are used as context"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Semantically search the indexed documents and return matching chunks."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("ingest_folder",
			mcp.WithDescription("Queue a folder of documents for (re)indexing and return the task id."),
			mcp.WithString("path", mcp.Description("Folder path (defaults to the configured ingest folder)")),
		),
		mcpIngestFolder(deps),
	)

	s.AddTool(
		mcp.NewTool("session_history",
			mcp.WithDescription("Return the stored turns of a chat session."),
			mcp.WithString("session_id", mcp.Description("Chat session id"), mcp.Required()),
		),
		mcpSessionHistory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			statsURI,
			"Usage Statistics",
			mcp.WithResourceDescription("Session, query and index counters as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpAsk(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil || sessionID == "" {
			return mcpError("session_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil || question == "" {
			return mcpError("question is required"), nil
		}

		history, err := deps.Sessions.Get(ctx, sessionID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load history: %v", err)), nil
		}
		resp, err := deps.answer(ctx, answer.Request{
			SessionID: sessionID,
			Input:     question,
			History:   history,
			Summarize: true,
			FollowUps: true,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("answer failed: %v", err)), nil
		}
		return mcpJSON(resp)
	}
}

func mcpSearch(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", defaultSearchLimit)
		if limit <= 0 {
			limit = defaultSearchLimit
		}
		if limit > maxSearchLimit {
			limit = maxSearchLimit
		}

		chunks, err := deps.Index.Similar(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			ID     string  `json:"id"`
			DocID  string  `json:"doc_id"`
			Source string  `json:"source"`
			Page   int     `json:"page"`
			Text   string  `json:"text"`
			Score  float32 `json:"score"`
		}
		results := make([]chunkResult, len(chunks))
		for i, c := range chunks {
			results[i] = chunkResult{
				ID:     c.ID,
				DocID:  c.DocID,
				Source: c.Source,
				Page:   c.Page,
				Text:   c.Text,
				Score:  c.Score,
			}
		}
		return mcpJSON(results)
	}
}

func mcpIngestFolder(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path := req.GetString("path", "")
		if path == "" {
			path = deps.folder()
		}
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			return mcpError(fmt.Sprintf("folder not found: %s", path)), nil
		}
		task, err := deps.Tasks.SubmitFolder(ctx, path)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue folder: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued %s as task %s", path, task.ID)), nil
	}
}

func mcpSessionHistory(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		turns, err := deps.Sessions.Get(ctx, sessionID)
		if errors.Is(err, session.ErrEmptyID) {
			return mcpError("session_id is required"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get history: %v", err)), nil
		}
		if turns == nil {
			turns = []session.Turn{}
		}
		return mcpJSON(turns)
	}
}

func mcpResourceStats(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.usage(ctx, defaultRecent)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
