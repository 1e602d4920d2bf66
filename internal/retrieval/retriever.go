package retrieval

import (
	"context"
	"fmt"
	"time"
)

// Chunk is a retrieved context fragment with its similarity score.
// Original holds the full chunk text when Text was narrowed by a
// Compressor.
type Chunk struct {
	ID         string
	DocID      string
	Source     string
	Page       int
	ChunkIndex int
	StartIndex int
	Text       string
	Original   string
	Score      float32
	IngestedAt time.Time
}

// Compressor narrows retrieved chunks to the parts relevant to a query,
// possibly dropping some.
type Compressor interface {
	Compress(ctx context.Context, query string, chunks []Chunk) ([]Chunk, error)
}

// Options tunes similarity search and re-ranking.
type Options struct {
	K      int     // chunks returned
	FetchK int     // candidates fetched before re-ranking
	Lambda float32 // MMR balance in [0,1]: 1 is pure relevance, 0 pure diversity
}

// DefaultOptions fill in a non-positive K or FetchK and a Lambda outside
// [0,1]. A zero Lambda is kept.
var DefaultOptions = Options{K: 8, FetchK: 24, Lambda: 0.6}

// Result is the outcome of one retrieval.
type Result struct {
	Query      string
	Chunks     []Chunk
	Candidates int // before re-ranking and compression
}

// Retriever combines embedding, vector search and MMR re-ranking, with an
// optional compression step.
type Retriever struct {
	embedder   *Embedder
	store      VectorStore
	namespace  string
	opts       Options
	compressor Compressor
}

// NewRetriever creates a Retriever over namespace of store.
func NewRetriever(embedder *Embedder, store VectorStore, namespace string, opts Options) *Retriever {
	if opts.K <= 0 {
		opts.K = DefaultOptions.K
	}
	if opts.FetchK < opts.K {
		opts.FetchK = max(opts.K, DefaultOptions.FetchK)
	}
	if !(opts.Lambda >= 0 && opts.Lambda <= 1) {
		opts.Lambda = DefaultOptions.Lambda
	}
	return &Retriever{embedder: embedder, store: store, namespace: namespace, opts: opts}
}

// WithCompressor returns a copy of r that passes results through c. The
// receiver is left unchanged.
func (r *Retriever) WithCompressor(c Compressor) *Retriever {
	cp := *r
	cp.compressor = c
	return &cp
}

// Retrieve embeds the query, fetches FetchK candidates, re-ranks them to K
// with MMR and compresses the result when a Compressor is set. Errors are
// returned as-is; there are no retries here.
func (r *Retriever) Retrieve(ctx context.Context, query string) (Result, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return Result{Query: query}, err
	}

	scored, err := r.store.Search(ctx, r.namespace, vec, r.opts.FetchK)
	if err != nil {
		return Result{Query: query}, fmt.Errorf("searching vectors: %w", err)
	}

	res := Result{
		Query:      query,
		Candidates: len(scored),
		Chunks:     scoredToChunks(MMR(vec, scored, r.opts.K, r.opts.Lambda)),
	}

	if r.compressor != nil && len(res.Chunks) > 0 {
		compressed, err := r.compressor.Compress(ctx, query, res.Chunks)
		if err != nil {
			return res, fmt.Errorf("compressing context: %w", err)
		}
		res.Chunks = compressed
	}
	return res, nil
}

// Similar returns the k chunks most similar to query without re-ranking
// or compression.
func (r *Retriever) Similar(ctx context.Context, query string, k int) ([]Chunk, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	scored, err := r.store.Search(ctx, r.namespace, vec, k)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}
	return scoredToChunks(scored), nil
}

// Sample returns up to limit indexed chunks without a query.
func (r *Retriever) Sample(ctx context.Context, limit int) ([]Chunk, error) {
	records, err := r.store.Sample(ctx, r.namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("sampling vectors: %w", err)
	}
	chunks := make([]Chunk, len(records))
	for i, rec := range records {
		chunks[i] = recordToChunk(rec, 0)
	}
	return chunks, nil
}

// Count returns the number of indexed chunks.
func (r *Retriever) Count(ctx context.Context) (int, error) {
	return r.store.Count(ctx, r.namespace)
}

func recordToChunk(r Record, score float32) Chunk {
	return Chunk{
		ID:         r.ID,
		DocID:      r.DocID,
		Source:     r.Source,
		Page:       r.Page,
		ChunkIndex: r.ChunkIndex,
		StartIndex: r.StartIndex,
		Text:       r.Content,
		Score:      score,
		IngestedAt: r.IngestedAt,
	}
}

func scoredToChunks(scored []ScoredRecord) []Chunk {
	chunks := make([]Chunk, len(scored))
	for i, s := range scored {
		chunks[i] = recordToChunk(s.Record, s.Score)
	}
	return chunks
}
