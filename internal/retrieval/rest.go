package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// statusError is a non-2xx reply from a remote vector database.
type statusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

func isStatus(err error, code int) bool {
	se, ok := err.(*statusError)
	return ok && se.Code == code
}

// isMissing reports a 404 whose body names the missing thing with phrase,
// matched case-insensitively. A bare 404 from a wrong host or path is not
// missing data.
func isMissing(err error, phrase string) bool {
	se, ok := err.(*statusError)
	return ok && se.Code == http.StatusNotFound &&
		strings.Contains(strings.ToLower(se.Body), phrase)
}

// restClient is the JSON-over-HTTP transport shared by the Qdrant and
// Pinecone backends.
type restClient struct {
	baseURL string
	header  http.Header
	http    *http.Client
}

func newRESTClient(baseURL string, header http.Header, timeout time.Duration) *restClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "https://" + baseURL
	}
	return &restClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  header,
		http:    &http.Client{Timeout: timeout},
	}
}

// do sends body as JSON and decodes the reply into out when out is non-nil.
func (c *restClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{Method: method, URL: url, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, url, err)
	}
	return nil
}
