package retrieval

import (
	"context"
	"errors"
	"time"
)

// ErrNamespaceNotFound is returned by backends whose namespace or
// collection does not exist yet. Callers deleting before a first upsert
// treat it as a no-op.
var ErrNamespaceNotFound = errors.New("namespace not found")

// VectorStore is the interface for vector storage and similarity search
// backends. All backends partition records by namespace.
type VectorStore interface {
	// Upsert inserts records, replacing any with the same ID.
	Upsert(ctx context.Context, namespace string, records []Record) error

	// DeleteByDocument removes every record whose DocID equals docID.
	DeleteByDocument(ctx context.Context, namespace, docID string) error

	// Search returns the topK records most similar to vector, best first.
	// Returned records carry their embeddings.
	Search(ctx context.Context, namespace string, vector []float32, topK int) ([]ScoredRecord, error)

	// Count returns the number of records in the namespace.
	Count(ctx context.Context, namespace string) (int, error)

	// Sample returns up to limit records in a backend-defined order.
	Sample(ctx context.Context, namespace string, limit int) ([]Record, error)
}

// Record is one indexed chunk. ID has the form docID:page:chunkIndex.
type Record struct {
	ID         string
	DocID      string
	Source     string
	Page       int
	ChunkIndex int
	StartIndex int
	Content    string
	Embedding  []float32
	IngestedAt time.Time
}

// ScoredRecord is a Record with a cosine similarity attached.
type ScoredRecord struct {
	Record
	Score float32
}

// metadata returns the record's lineage fields in the flat form remote
// backends store as payload.
func (r Record) metadata() map[string]any {
	return map[string]any{
		"doc_id":      r.DocID,
		"source":      r.Source,
		"page":        r.Page,
		"chunk_index": r.ChunkIndex,
		"start_index": r.StartIndex,
		"ingested_at": r.IngestedAt.UTC().Format(time.RFC3339),
		"text":        r.Content,
	}
}

// recordFromMetadata is the inverse of Record.metadata. JSON numbers
// arrive as float64.
func recordFromMetadata(id string, md map[string]any, embedding []float32) Record {
	r := Record{ID: id, Embedding: embedding}
	r.DocID, _ = md["doc_id"].(string)
	r.Source, _ = md["source"].(string)
	r.Content, _ = md["text"].(string)
	r.Page = intField(md["page"])
	r.ChunkIndex = intField(md["chunk_index"])
	r.StartIndex = intField(md["start_index"])
	if s, ok := md["ingested_at"].(string); ok {
		r.IngestedAt, _ = time.Parse(time.RFC3339, s)
	}
	return r
}

func intField(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}
