package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kalambet/docbot/internal/answer"
	"github.com/kalambet/docbot/internal/config"
	"github.com/kalambet/docbot/internal/document"
	"github.com/kalambet/docbot/internal/retrieval"
)

const (
	qgenPerQuery    = 4
	qgenRowType     = "llm_aug"
	defaultQgenPath = "data/aug_questions.jsonl"
)

var qgenCmd = &cobra.Command{
	Use:   "qgen",
	Short: "Generate synthetic user questions from the indexed documents",
	Long: `Generate synthetic user questions from the indexed documents.

Seed chunks are pulled from the index with a fixed list of topic queries.
When the index returns nothing, chunks of the documents in ingest.folder
are used instead. Each seed yields --per-seed questions, written as JSONL
rows {id, question, source, page, type}. Runs in-process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		total, _ := cmd.Flags().GetInt("seeds")
		perSeed, _ := cmd.Flags().GetInt("per-seed")
		if total <= 0 || perSeed <= 0 {
			return fmt.Errorf("--seeds and --per-seed must be positive")
		}
		return runQgen(out, total, perSeed)
	},
}

func init() {
	qgenCmd.Flags().String("out", defaultQgenPath, "output JSONL file")
	qgenCmd.Flags().Int("seeds", 12, "number of seed chunks")
	qgenCmd.Flags().Int("per-seed", 5, "questions generated per seed chunk")
}

type seed struct {
	Text   string
	Source string
	Page   int
}

type qgenRow struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Source   string `json:"source"`
	Page     int    `json:"page"`
	Type     string `json:"type"`
}

// questioner drafts questions a snippet could answer.
type questioner interface {
	Questions(ctx context.Context, text string, n int) ([]string, error)
}

func runQgen(out string, total, perSeed int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(config.LogConfig{Level: "warn", Format: cfg.Log.Format}, os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	printStep("Using index %s, namespace %s", cfg.Vector.Index, cfg.Vector.Namespace)
	seeds := seedsFromChunks(a.corpus.Seeds(ctx, answer.QuestionSeeds, total, qgenPerQuery))
	if len(seeds) == 0 {
		printWarning("Index returned no seeds, falling back to %s", cfg.Ingest.Folder)
		files, err := a.pipeline.Files(cfg.Ingest.Folder)
		if err != nil {
			return err
		}
		splitter := document.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
		seeds = seedsFromFiles(files, splitter, total)
	}
	if len(seeds) == 0 {
		printWarning("No seeds found (index and %s are empty)", cfg.Ingest.Folder)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	bar := progressbar.Default(int64(len(seeds)), "generating")
	n, err := writeQuestions(ctx, a.enhancer, seeds, perSeed, f, func() { bar.Add(1) })
	bar.Finish()
	if err != nil {
		return err
	}
	printSuccess("Wrote %d questions to %s", n, out)
	return nil
}

func seedsFromChunks(chunks []retrieval.Chunk) []seed {
	seeds := make([]seed, 0, len(chunks))
	for _, c := range chunks {
		seeds = append(seeds, seed{Text: c.Text, Source: c.Source, Page: c.Page})
	}
	return seeds
}

// seedsFromFiles splits every loadable file into chunks and returns up to
// total of them in random order. Unreadable files are skipped.
func seedsFromFiles(files []string, splitter *document.Splitter, total int) []seed {
	var seeds []seed
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("qgen: skipping file", "path", path, "error", err)
			continue
		}
		name := filepath.Base(path)
		pages, err := document.Load(name, data)
		if err != nil {
			slog.Warn("qgen: skipping file", "path", path, "error", err)
			continue
		}
		for _, p := range pages {
			for _, text := range splitter.SplitText(p.Text) {
				seeds = append(seeds, seed{Text: text, Source: name, Page: p.Number})
			}
		}
	}
	rand.Shuffle(len(seeds), func(i, j int) { seeds[i], seeds[j] = seeds[j], seeds[i] })
	if len(seeds) > total {
		seeds = seeds[:total]
	}
	return seeds
}

// writeQuestions asks q for perSeed questions per seed and writes one JSONL
// row per question. A seed whose generation fails is logged and skipped.
// onSeed, if set, is called after each seed.
func writeQuestions(ctx context.Context, q questioner, seeds []seed, perSeed int, w io.Writer, onSeed func()) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)

	written := 0
	for _, s := range seeds {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		questions, err := q.Questions(ctx, s.Text, perSeed)
		if err != nil {
			slog.Warn("qgen: generation failed", "source", s.Source, "page", s.Page, "snippet", truncate(s.Text, 60), "error", err)
		}
		for _, question := range questions {
			row := qgenRow{
				ID:       uuid.NewString(),
				Question: question,
				Source:   s.Source,
				Page:     s.Page,
				Type:     qgenRowType,
			}
			if err := enc.Encode(row); err != nil {
				return written, fmt.Errorf("writing question: %w", err)
			}
			written++
		}
		if onSeed != nil {
			onSeed()
		}
	}
	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("writing questions: %w", err)
	}
	return written, nil
}
