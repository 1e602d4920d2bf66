package retrieval

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var _ VectorStore = (*PineconeStore)(nil)

// pineconeAPIVersion pins the data-plane request and response shapes.
const pineconeAPIVersion = "2024-07"

// PineconeStore talks to one Pinecone index through its data-plane host.
type PineconeStore struct {
	rest *restClient
}

// NewPineconeStore returns a store for the index served at host.
func NewPineconeStore(host, apiKey string, timeout time.Duration) *PineconeStore {
	h := http.Header{}
	h.Set("Api-Key", apiKey)
	h.Set("X-Pinecone-API-Version", pineconeAPIVersion)
	return &PineconeStore{rest: newRESTClient(host, h, timeout)}
}

type pineconeVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Upsert writes vectors in batches of 100.
func (s *PineconeStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	const batch = 100
	for start := 0; start < len(records); start += batch {
		end := min(start+batch, len(records))
		vectors := make([]pineconeVector, 0, end-start)
		for _, r := range records[start:end] {
			vectors = append(vectors, pineconeVector{ID: r.ID, Values: r.Embedding, Metadata: r.metadata()})
		}
		body := map[string]any{"vectors": vectors, "namespace": namespace}
		if err := s.rest.do(ctx, http.MethodPost, "/vectors/upsert", body, nil); err != nil {
			return fmt.Errorf("upserting vectors: %w", err)
		}
	}
	return nil
}

// pineconeNoNamespace is the error text Pinecone sends with the 404 for a
// namespace that has never been written.
const pineconeNoNamespace = "namespace not found"

// DeleteByDocument deletes by metadata filter.
func (s *PineconeStore) DeleteByDocument(ctx context.Context, namespace, docID string) error {
	body := map[string]any{
		"filter":    map[string]any{"doc_id": map[string]any{"$eq": docID}},
		"namespace": namespace,
	}
	err := s.rest.do(ctx, http.MethodPost, "/vectors/delete", body, nil)
	if isMissing(err, pineconeNoNamespace) {
		return ErrNamespaceNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting chunks of %s: %w", docID, err)
	}
	return nil
}

// Search queries the namespace including values and metadata.
func (s *PineconeStore) Search(ctx context.Context, namespace string, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	body := map[string]any{
		"vector":          vector,
		"topK":            topK,
		"namespace":       namespace,
		"includeValues":   true,
		"includeMetadata": true,
	}
	var resp struct {
		Matches []struct {
			pineconeVector
			Score float32 `json:"score"`
		} `json:"matches"`
	}
	if err := s.rest.do(ctx, http.MethodPost, "/query", body, &resp); err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	results := make([]ScoredRecord, len(resp.Matches))
	for i, m := range resp.Matches {
		results[i] = ScoredRecord{Record: recordFromMetadata(m.ID, m.Metadata, m.Values), Score: m.Score}
	}
	return results, nil
}

// Count reads the namespace's vector count from the index stats.
func (s *PineconeStore) Count(ctx context.Context, namespace string) (int, error) {
	var resp struct {
		Namespaces map[string]struct {
			VectorCount int `json:"vectorCount"`
		} `json:"namespaces"`
	}
	if err := s.rest.do(ctx, http.MethodPost, "/describe_index_stats", map[string]any{}, &resp); err != nil {
		return 0, fmt.Errorf("describing index: %w", err)
	}
	return resp.Namespaces[namespace].VectorCount, nil
}

// Sample lists the first limit IDs of the namespace and fetches them.
func (s *PineconeStore) Sample(ctx context.Context, namespace string, limit int) ([]Record, error) {
	q := url.Values{}
	q.Set("namespace", namespace)
	q.Set("limit", fmt.Sprint(limit))
	var list struct {
		Vectors []struct {
			ID string `json:"id"`
		} `json:"vectors"`
	}
	err := s.rest.do(ctx, http.MethodGet, "/vectors/list?"+q.Encode(), nil, &list)
	if isMissing(err, pineconeNoNamespace) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing vectors: %w", err)
	}
	if len(list.Vectors) == 0 {
		return nil, nil
	}

	q = url.Values{}
	q.Set("namespace", namespace)
	for _, v := range list.Vectors {
		q.Add("ids", v.ID)
	}
	var fetched struct {
		Vectors map[string]pineconeVector `json:"vectors"`
	}
	if err := s.rest.do(ctx, http.MethodGet, "/vectors/fetch?"+q.Encode(), nil, &fetched); err != nil {
		return nil, fmt.Errorf("fetching vectors: %w", err)
	}

	records := make([]Record, 0, len(list.Vectors))
	for _, v := range list.Vectors {
		if pv, ok := fetched.Vectors[v.ID]; ok {
			records = append(records, recordFromMetadata(pv.ID, pv.Metadata, pv.Values))
		}
	}
	return records, nil
}
