package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/docbot/internal/answer"
	"github.com/kalambet/docbot/internal/compression"
	"github.com/kalambet/docbot/internal/config"
	"github.com/kalambet/docbot/internal/document"
	"github.com/kalambet/docbot/internal/engine"
	"github.com/kalambet/docbot/internal/enhance"
	"github.com/kalambet/docbot/internal/ingest"
	"github.com/kalambet/docbot/internal/reformulate"
	"github.com/kalambet/docbot/internal/retrieval"
	"github.com/kalambet/docbot/internal/session"
	"github.com/kalambet/docbot/internal/storage"
)

const (
	vectorTimeout = 30 * time.Second
	workerPoll    = 500 * time.Millisecond
)

// app holds the components shared by the server and the in-process
// commands.
type app struct {
	cfg       config.Config
	store     *storage.Store
	engine    engine.Engine
	retriever *retrieval.Retriever
	walker    *ingest.Walker
	pipeline  *ingest.Pipeline
	tasks     *ingest.Tasks
	enhancer  *enhance.Enhancer
	generator *answer.Generator
	corpus    *answer.Corpus
	sessions  session.Store
	closers   []io.Closer
}

// newLogger builds the process logger from the log config. Unknown levels
// fall back to info.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newApp connects to the inference backend, opens storage and builds every
// component. Model pull progress goes to progress.
func newApp(ctx context.Context, cfg config.Config, progress io.Writer) (*app, error) {
	eng, err := engine.Detect(ctx, engine.DetectConfig{
		Provider:          cfg.LLM.Provider,
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		EmbedDimensions:   cfg.LLM.EmbedDimensions,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Timeout:           cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting inference engine: %w", err)
	}
	a := &app{cfg: cfg, engine: eng}
	if c, ok := eng.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	if err := engine.EnsureReady(ctx, eng, []string{cfg.LLM.ChatModel, cfg.LLM.EmbedModel}, progress); err != nil {
		a.Close()
		return nil, err
	}

	a.store, err = storage.Open(cfg.Storage.DataDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.closers = append(a.closers, a.store)

	vectors, err := newVectorStore(cfg, a.store)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.sessions, err = newSessionStore(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := a.sessions.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	embedder := retrieval.NewEmbedder(eng, cfg.LLM.EmbedModel)
	opts := retrieval.Options{
		K:      cfg.Retrieval.K,
		FetchK: cfg.Retrieval.FetchK,
		Lambda: float32(cfg.Retrieval.Lambda),
	}
	plain := retrieval.NewRetriever(embedder, vectors, cfg.Vector.Namespace, opts)
	a.retriever = plain.WithCompressor(compression.New(eng, cfg.LLM.ChatModel, cfg.Retrieval.Compression, cfg.Retrieval.CompressionTimeout))

	a.walker = ingest.NewWalker(config.Patterns(cfg.Ingest.Include), config.Patterns(cfg.Ingest.Exclude))
	splitter := document.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	a.pipeline = ingest.NewPipeline(embedder, vectors, cfg.Vector.Namespace, splitter, a.walker)
	a.tasks = ingest.NewTasks(a.store, cfg.Ingest.MaxAttempts)

	a.enhancer = enhance.New(eng, cfg.LLM.ChatModel, cfg.LLM.Temperature, cfg.LLM.CreativeTemperature)
	a.generator = answer.New(answer.Deps{
		Engine:       eng,
		Model:        cfg.LLM.ChatModel,
		Temperature:  cfg.LLM.Temperature,
		Retriever:    a.retriever,
		Plain:        plain,
		Reformulator: reformulate.New(eng, cfg.LLM.ChatModel, 0),
		Enhancer:     a.enhancer,
	})
	a.corpus = answer.NewCorpus(plain, a.enhancer)

	slog.Info("docbot: components ready",
		"provider", cfg.LLM.Provider,
		"chat_model", cfg.LLM.ChatModel,
		"vector_backend", cfg.Vector.Backend,
		"namespace", cfg.Vector.Namespace,
		"session_backend", cfg.Session.Backend,
	)
	return a, nil
}

// Close releases everything newApp opened, most recent first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newVectorStore(cfg config.Config, store *storage.Store) (retrieval.VectorStore, error) {
	switch cfg.Vector.Backend {
	case "", "sqlite":
		return retrieval.NewSQLiteStore(store.DB()), nil
	case "chromem":
		path := filepath.Join(cfg.Storage.DataDir, "chromem")
		s, err := retrieval.NewChromemStore(path, cfg.Vector.Index, cfg.LLM.EmbedDimensions)
		if err != nil {
			return nil, fmt.Errorf("opening chromem store: %w", err)
		}
		return s, nil
	case "qdrant":
		return retrieval.NewQdrantStore(cfg.Vector.URL, cfg.Vector.APIKey, cfg.Vector.Index, cfg.LLM.EmbedDimensions, vectorTimeout), nil
	case "pinecone":
		return retrieval.NewPineconeStore(cfg.Vector.URL, cfg.Vector.APIKey, vectorTimeout), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
	}
}

func newSessionStore(cfg config.Config) (session.Store, error) {
	switch cfg.Session.Backend {
	case "", "memory":
		return session.NewMemoryStore(cfg.Session.MaxTurns), nil
	case "bolt":
		s, err := session.NewBoltStore(filepath.Join(cfg.Storage.DataDir, "sessions.db"), cfg.Session.MaxTurns)
		if err != nil {
			return nil, fmt.Errorf("opening session store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}
