package retrieval

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ VectorStore = (*QdrantStore)(nil)

// QdrantStore talks to a Qdrant server over its REST API. All namespaces
// share one collection named after the index; the namespace is a payload
// field used as a filter.
type QdrantStore struct {
	rest       *restClient
	collection string
	dimensions int

	mu      sync.Mutex
	created bool
}

// qdrantNoCollection appears in the 404 Qdrant sends for a collection
// that does not exist yet.
const qdrantNoCollection = "doesn't exist"

// NewQdrantStore returns a store for collection at url. apiKey may be empty
// for unauthenticated servers.
func NewQdrantStore(url, apiKey, collection string, dimensions int, timeout time.Duration) *QdrantStore {
	h := http.Header{}
	if apiKey != "" {
		h.Set("api-key", apiKey)
	}
	return &QdrantStore{
		rest:       newRESTClient(url, h, timeout),
		collection: collection,
		dimensions: dimensions,
	}
}

// qdrantPointID maps a chunk ID to the UUID form Qdrant requires.
func qdrantPointID(namespace, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespace+"/"+id)).String()
}

func (s *QdrantStore) path(suffix string) string {
	return "/collections/" + s.collection + suffix
}

// ensureCollection creates the collection with cosine distance if it does
// not exist yet.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created {
		return nil
	}

	err := s.rest.do(ctx, http.MethodGet, s.path(""), nil, nil)
	if isStatus(err, http.StatusNotFound) {
		body := map[string]any{
			"vectors": map[string]any{"size": s.dimensions, "distance": "Cosine"},
		}
		err = s.rest.do(ctx, http.MethodPut, s.path(""), body, nil)
	}
	if err != nil {
		return fmt.Errorf("ensuring collection %s: %w", s.collection, err)
	}
	s.created = true
	return nil
}

func namespaceFilter(namespace string, extra ...map[string]any) map[string]any {
	must := []map[string]any{
		{"key": "namespace", "match": map[string]any{"value": namespace}},
	}
	must = append(must, extra...)
	return map[string]any{"must": must}
}

// Upsert writes points with the record's lineage as payload.
func (s *QdrantStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	points := make([]map[string]any, len(records))
	for i, r := range records {
		payload := r.metadata()
		payload["namespace"] = namespace
		payload["chunk_id"] = r.ID
		points[i] = map[string]any{
			"id":      qdrantPointID(namespace, r.ID),
			"vector":  r.Embedding,
			"payload": payload,
		}
	}
	if err := s.rest.do(ctx, http.MethodPut, s.path("/points?wait=true"), map[string]any{"points": points}, nil); err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}
	return nil
}

// DeleteByDocument deletes points matching the namespace and doc_id.
func (s *QdrantStore) DeleteByDocument(ctx context.Context, namespace, docID string) error {
	body := map[string]any{
		"filter": namespaceFilter(namespace,
			map[string]any{"key": "doc_id", "match": map[string]any{"value": docID}}),
	}
	err := s.rest.do(ctx, http.MethodPost, s.path("/points/delete?wait=true"), body, nil)
	if isMissing(err, qdrantNoCollection) {
		return ErrNamespaceNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting chunks of %s: %w", docID, err)
	}
	return nil
}

type qdrantPoint struct {
	ID      any            `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float32      `json:"vector"`
}

func (p qdrantPoint) record() Record {
	id, _ := p.Payload["chunk_id"].(string)
	return recordFromMetadata(id, p.Payload, p.Vector)
}

// Search runs a filtered nearest-neighbour query.
func (s *QdrantStore) Search(ctx context.Context, namespace string, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"filter":       namespaceFilter(namespace),
		"with_payload": true,
		"with_vector":  true,
	}
	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	err := s.rest.do(ctx, http.MethodPost, s.path("/points/search"), body, &resp)
	if isMissing(err, qdrantNoCollection) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("searching points: %w", err)
	}

	results := make([]ScoredRecord, len(resp.Result))
	for i, p := range resp.Result {
		results[i] = ScoredRecord{Record: p.record(), Score: p.Score}
	}
	return results, nil
}

// Count returns the exact number of points in the namespace.
func (s *QdrantStore) Count(ctx context.Context, namespace string) (int, error) {
	body := map[string]any{"filter": namespaceFilter(namespace), "exact": true}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := s.rest.do(ctx, http.MethodPost, s.path("/points/count"), body, &resp)
	if isMissing(err, qdrantNoCollection) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return resp.Result.Count, nil
}

// Sample scrolls the first limit points of the namespace.
func (s *QdrantStore) Sample(ctx context.Context, namespace string, limit int) ([]Record, error) {
	body := map[string]any{
		"filter":       namespaceFilter(namespace),
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	var resp struct {
		Result struct {
			Points []qdrantPoint `json:"points"`
		} `json:"result"`
	}
	err := s.rest.do(ctx, http.MethodPost, s.path("/points/scroll"), body, &resp)
	if isMissing(err, qdrantNoCollection) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scrolling points: %w", err)
	}

	records := make([]Record, len(resp.Result.Points))
	for i, p := range resp.Result.Points {
		records[i] = p.record()
	}
	return records, nil
}
