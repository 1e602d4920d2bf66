package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kalambet/docbot/internal/answer"
	"github.com/kalambet/docbot/internal/config"
	"github.com/kalambet/docbot/internal/session"
)

const defaultClientTimeout = 2 * time.Minute

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &apiClient{
		baseURL:    serverURL(cfg.Server),
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: defaultClientTimeout},
	}, nil
}

func serverURL(s config.ServerConfig) string {
	host := s.Bind
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port))
}

func (c *apiClient) send(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is docbot running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req)
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *apiClient) delete(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// upload posts data as the multipart field "file".
func (c *apiClient) upload(ctx context.Context, path, filename string, data []byte) (*http.Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.send(req)
}

type queryReply struct {
	Answer   string          `json:"answer"`
	Features answer.Features `json:"enhanced_features"`
	Metadata answer.Metadata `json:"metadata"`
}

// ask sends one question of a session to /query.
func (c *apiClient) ask(ctx context.Context, sessionID, input string, followups bool) (queryReply, error) {
	resp, err := c.post(ctx, "/query", map[string]any{
		"session_id":         sessionID,
		"input":              input,
		"generate_followups": followups,
	})
	if err != nil {
		return queryReply{}, err
	}
	var reply queryReply
	if err := decodeJSON(resp, &reply); err != nil {
		return queryReply{}, err
	}
	return reply, nil
}

func (c *apiClient) history(ctx context.Context, sessionID string) ([]session.Turn, error) {
	resp, err := c.get(ctx, "/session/"+url.PathEscape(sessionID)+"/history")
	if err != nil {
		return nil, err
	}
	var body struct {
		History []session.Turn `json:"history"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return body.History, nil
}

func (c *apiClient) clearHistory(ctx context.Context, sessionID string) error {
	resp, err := c.delete(ctx, "/session/"+url.PathEscape(sessionID)+"/history")
	if err != nil {
		return err
	}
	var body map[string]any
	return decodeJSON(resp, &body)
}

// decodeJSON decodes a successful response into v. Error responses are
// turned into errors carrying the server's message.
func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
