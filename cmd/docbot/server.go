package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/docbot/internal/api"
	"github.com/kalambet/docbot/internal/config"
	"github.com/kalambet/docbot/internal/ingest"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the docbot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running docbot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show docbot system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "docbot.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "docbot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg.Log, os.Stderr))

	// Refuse to start twice on the same port.
	base := serverURL(cfg.Server)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(base + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidFilePath(cfg.Storage.DataDir)); pidErr == nil {
			printWarning("docbot is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("docbot is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	pidPath := pidFilePath(cfg.Storage.DataDir)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	var bg sync.WaitGroup
	defer func() {
		if err := shutdown(stop, &bg, a); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing resources: %v\n", err)
		}
	}()

	if cfg.Server.APIToken == "" {
		slog.Warn("docbot: no API token configured, admin routes are open", "env", "DOCBOT_SERVER_API_TOKEN")
	}

	deps := api.Deps{
		Answerer:      a.generator,
		Documents:     a.corpus,
		Index:         a.retriever,
		Sessions:      a.sessions,
		Tasks:         a.tasks,
		Ingester:      a.pipeline,
		Interactions:  a.store,
		Token:         cfg.Server.APIToken,
		DefaultFolder: cfg.Ingest.Folder,
		Version:       version,
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Mount("/", api.NewHandler(deps))

	addr := net.JoinHostPort(cfg.Server.Bind, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Background ingestion.
	worker := ingest.NewWorker(a.store, a.pipeline, workerPoll)
	bg.Add(1)
	go func() {
		defer bg.Done()
		worker.Run(ctx)
	}()

	if cfg.Ingest.Watch {
		watcher := ingest.NewWatcher(cfg.Ingest.Folder, a.walker, a.tasks)
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("docbot: folder watcher stopped", "folder", cfg.Ingest.Folder, "error", err)
			}
		}()
		slog.Info("docbot: watching ingest folder", "folder", cfg.Ingest.Folder)
	}

	if cfg.Server.MCPStdio {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "docbot listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// shutdown cancels background work, waits for every goroutine in bg to
// return and only then closes res, which those goroutines may still use.
func shutdown(cancel context.CancelFunc, bg *sync.WaitGroup, res io.Closer) error {
	cancel()
	bg.Wait()
	return res.Close()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("docbot is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop docbot (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to docbot (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    serverURL(cfg.Server),
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	ctx := context.Background()

	running := false
	if resp, err := client.get(ctx, "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running at %s", client.baseURL)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("LLM provider", "%s", cfg.LLM.Provider)
	printStatus("Chat model", "%s", cfg.LLM.ChatModel)
	printStatus("Embed model", "%s", cfg.LLM.EmbedModel)
	printStatus("Vector store", "%s (%s/%s)", cfg.Vector.Backend, cfg.Vector.Index, cfg.Vector.Namespace)
	printStatus("Sessions", "%s", cfg.Session.Backend)

	if running {
		if stats, err := fetchStats(ctx, client); err == nil {
			printStatus("Indexed chunks", "%v", stats["indexed_chunks"])
			printStatus("Queries", "%v (%v fallback)", stats["total_queries"], stats["fallback_queries"])
		} else {
			printWarning("could not read usage stats: %v", err)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func fetchStats(ctx context.Context, c *apiClient) (map[string]any, error) {
	resp, err := c.get(ctx, "/stats/usage")
	if err != nil {
		return nil, err
	}
	var stats map[string]any
	if err := decodeJSON(resp, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
