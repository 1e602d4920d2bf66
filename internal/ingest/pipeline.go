// Package ingest loads documents into the vector index: synchronously
// through Pipeline, or in the background through Tasks and Worker.
package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/docbot/internal/document"
	"github.com/kalambet/docbot/internal/retrieval"
)

const folderConcurrency = 2

// ErrFolderNotFound is returned when the folder to ingest does not exist.
var ErrFolderNotFound = errors.New("folder not found")

// BatchEmbedder embeds chunk texts in order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Result describes one ingested document.
type Result struct {
	DocID    string `json:"doc_id"`
	Filename string `json:"filename,omitempty"`
	Chunks   int    `json:"chunks"`
}

// FolderResult counts the files found and the files indexed. Failed lists
// the files that were skipped.
type FolderResult struct {
	Files   int      `json:"files"`
	Indexed int      `json:"indexed"`
	Failed  []string `json:"failed,omitempty"`
}

// FileOutcome reports one file of a folder run.
type FileOutcome struct {
	Path   string
	Result Result
	Err    error
}

// Pipeline turns raw document bytes into indexed chunks.
type Pipeline struct {
	embedder  BatchEmbedder
	store     retrieval.VectorStore
	namespace string
	splitter  *document.Splitter
	walker    *Walker
	logger    *slog.Logger
	now       func() time.Time
}

func NewPipeline(embedder BatchEmbedder, store retrieval.VectorStore, namespace string, splitter *document.Splitter, walker *Walker) *Pipeline {
	if walker == nil {
		walker = NewWalker(nil, nil)
	}
	return &Pipeline{
		embedder:  embedder,
		store:     store,
		namespace: namespace,
		splitter:  splitter,
		walker:    walker,
		now:       time.Now,
	}
}

func (p *Pipeline) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// DocumentID is the first 12 hex characters of the SHA-1 of data.
func DocumentID(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])[:12]
}

// Ingest indexes one document, replacing every chunk previously indexed
// under the same content-derived id. On stores without transactional
// replacement the old chunks are deleted before the new ones are written,
// so a crash in between leaves the document missing until it is ingested
// again.
func (p *Pipeline) Ingest(ctx context.Context, data []byte, filename string) (Result, error) {
	filename = filepath.Base(filename)
	docID := DocumentID(data)

	pages, err := document.Load(filename, data)
	if err != nil {
		return Result{}, fmt.Errorf("loading %s: %w", filename, err)
	}

	records := p.chunk(docID, filename, pages)
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Content
	}
	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return Result{}, fmt.Errorf("embedding %s: %w", filename, err)
	}
	if len(vecs) != len(records) {
		return Result{}, fmt.Errorf("embedding %s: got %d vectors for %d chunks", filename, len(vecs), len(records))
	}
	for i := range records {
		records[i].Embedding = vecs[i]
	}

	if err := p.replace(ctx, docID, records); err != nil {
		return Result{}, err
	}

	p.log().Info("ingest: document indexed", "doc_id", docID, "source", filename, "chunks", len(records))
	return Result{DocID: docID, Filename: filename, Chunks: len(records)}, nil
}

// chunk splits every page; chunk indexes run over the whole document.
func (p *Pipeline) chunk(docID, filename string, pages []document.Page) []retrieval.Record {
	ingestedAt := p.now().UTC().Truncate(time.Second)
	var records []retrieval.Record
	idx := 0
	for _, page := range pages {
		for _, span := range p.splitter.Split(page.Text) {
			records = append(records, retrieval.Record{
				ID:         fmt.Sprintf("%s:%d:%d", docID, page.Number, idx),
				DocID:      docID,
				Source:     filename,
				Page:       page.Number,
				ChunkIndex: idx,
				StartIndex: span.Start,
				Content:    span.Text,
				IngestedAt: ingestedAt,
			})
			idx++
		}
	}
	return records
}

func (p *Pipeline) replace(ctx context.Context, docID string, records []retrieval.Record) error {
	if r, ok := p.store.(retrieval.DocumentReplacer); ok {
		if err := r.ReplaceDocument(ctx, p.namespace, docID, records); err != nil {
			return fmt.Errorf("replacing chunks of %s: %w", docID, err)
		}
		return nil
	}

	err := p.store.DeleteByDocument(ctx, p.namespace, docID)
	if errors.Is(err, retrieval.ErrNamespaceNotFound) {
		p.log().Debug("ingest: namespace not found on delete", "namespace", p.namespace)
	} else if err != nil {
		return fmt.Errorf("deleting previous chunks of %s: %w", docID, err)
	}
	if len(records) == 0 {
		return nil
	}
	if err := p.store.Upsert(ctx, p.namespace, records); err != nil {
		return fmt.Errorf("upserting chunks of %s: %w", docID, err)
	}
	return nil
}

// Files lists the files of dir the pipeline would ingest.
func (p *Pipeline) Files(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, dir)
	}
	return p.walker.Walk(dir)
}

// IngestFolder ingests every matching file of dir. Files fail
// independently: a failure is logged, counted and skipped.
func (p *Pipeline) IngestFolder(ctx context.Context, dir string) (FolderResult, error) {
	files, err := p.Files(dir)
	if err != nil {
		return FolderResult{}, err
	}
	return p.IngestFiles(ctx, files, nil)
}

// IngestFiles ingests files two at a time, calling onFile (if set) after
// each one. Only cancellation of ctx fails the whole run.
func (p *Pipeline) IngestFiles(ctx context.Context, files []string, onFile func(FileOutcome)) (FolderResult, error) {
	res := FolderResult{Files: len(files)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(folderConcurrency)
	for _, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out := FileOutcome{Path: path}
			data, err := os.ReadFile(path)
			if err == nil {
				out.Result, err = p.Ingest(gctx, data, filepath.Base(path))
			}
			out.Err = err

			mu.Lock()
			if err != nil {
				p.log().Warn("ingest: skipping file", "path", path, "error", err)
				res.Failed = append(res.Failed, filepath.Base(path))
			} else {
				res.Indexed++
			}
			if onFile != nil {
				onFile(out)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, ctx.Err()
}
