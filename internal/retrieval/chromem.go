package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/philippgille/chromem-go"
)

var _ VectorStore = (*ChromemStore)(nil)

// ChromemStore keeps vectors in an embedded chromem-go database persisted
// under the data directory. Each namespace maps to one collection named
// "<index>-<namespace>".
type ChromemStore struct {
	db         *chromem.DB
	index      string
	dimensions int
}

// NewChromemStore opens (or creates) a persistent chromem database at
// path. dimensions is the embedding size, used by Sample.
func NewChromemStore(path, index string, dimensions int) (*ChromemStore, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening chromem db: %w", err)
	}
	return &ChromemStore{db: db, index: index, dimensions: dimensions}, nil
}

func (s *ChromemStore) collectionName(namespace string) string {
	return s.index + "-" + namespace
}

// Embeddings are always supplied by the caller, so the collection never
// needs to compute one.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("chromem: embedding function not available")
}

// Upsert adds records to the namespace's collection, creating it on first
// use. Documents with an existing ID are overwritten.
func (s *ChromemStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	col, err := s.db.GetOrCreateCollection(s.collectionName(namespace),
		map[string]string{"hnsw:space": "cosine"}, noEmbedding)
	if err != nil {
		return fmt.Errorf("opening collection: %w", err)
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Metadata:  chromemMetadata(r),
			Embedding: r.Embedding,
			Content:   r.Content,
		}
	}
	if err := col.AddDocuments(ctx, docs, 4); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}
	return nil
}

// DeleteByDocument removes the document's chunks. A missing collection
// yields ErrNamespaceNotFound.
func (s *ChromemStore) DeleteByDocument(ctx context.Context, namespace, docID string) error {
	col := s.db.GetCollection(s.collectionName(namespace), noEmbedding)
	if col == nil {
		return ErrNamespaceNotFound
	}
	if err := col.Delete(ctx, map[string]string{"doc_id": docID}, nil); err != nil {
		return fmt.Errorf("deleting chunks of %s: %w", docID, err)
	}
	return nil
}

// Search queries the collection, clamping topK to its size.
func (s *ChromemStore) Search(ctx context.Context, namespace string, vector []float32, topK int) ([]ScoredRecord, error) {
	col := s.db.GetCollection(s.collectionName(namespace), noEmbedding)
	if col == nil || topK <= 0 {
		return nil, nil
	}
	n := min(topK, col.Count())
	if n == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}
	scored := make([]ScoredRecord, len(results))
	for i, res := range results {
		scored[i] = ScoredRecord{Record: recordFromChromem(res), Score: res.Similarity}
	}
	return scored, nil
}

// Count returns the collection size, 0 when it does not exist.
func (s *ChromemStore) Count(_ context.Context, namespace string) (int, error) {
	col := s.db.GetCollection(s.collectionName(namespace), noEmbedding)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

// Sample returns up to limit documents. chromem has no listing API, so
// this queries with a constant vector.
func (s *ChromemStore) Sample(ctx context.Context, namespace string, limit int) ([]Record, error) {
	if s.dimensions <= 0 {
		return nil, fmt.Errorf("chromem: sampling needs the embedding dimensions")
	}
	unit := make([]float32, s.dimensions)
	for i := range unit {
		unit[i] = 1
	}
	scored, err := s.Search(ctx, namespace, unit, limit)
	if err != nil {
		return nil, err
	}
	records := make([]Record, len(scored))
	for i, sr := range scored {
		records[i] = sr.Record
	}
	return records, nil
}

// chromem metadata values are strings.
func chromemMetadata(r Record) map[string]string {
	return map[string]string{
		"doc_id":      r.DocID,
		"source":      r.Source,
		"page":        strconv.Itoa(r.Page),
		"chunk_index": strconv.Itoa(r.ChunkIndex),
		"start_index": strconv.Itoa(r.StartIndex),
		"ingested_at": r.IngestedAt.UTC().Format(time.RFC3339),
	}
}

func recordFromChromem(res chromem.Result) Record {
	md := res.Metadata
	r := Record{
		ID:        res.ID,
		DocID:     md["doc_id"],
		Source:    md["source"],
		Content:   res.Content,
		Embedding: res.Embedding,
	}
	r.Page, _ = strconv.Atoi(md["page"])
	r.ChunkIndex, _ = strconv.Atoi(md["chunk_index"])
	r.StartIndex, _ = strconv.Atoi(md["start_index"])
	r.IngestedAt, _ = time.Parse(time.RFC3339, md["ingested_at"])
	return r
}
