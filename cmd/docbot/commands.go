package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kalambet/docbot/internal/config"
	"github.com/kalambet/docbot/internal/ingest"
	"github.com/kalambet/docbot/internal/session"
)

const defaultSession = "cli"

// --- query ---

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question about the indexed documents",
	Long: `Ask a question about the indexed documents.

Examples:
  docbot query "How many days of annual leave do I get?"
  docbot query --session alice --followups "And can I carry them over?"
  docbot query --enhanced "How do I reset my HR system password?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		enhanced, _ := cmd.Flags().GetBool("enhanced")
		followups, _ := cmd.Flags().GetBool("followups")
		input := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		if enhanced {
			resp, err := client.post(ctx, "/query/enhanced", map[string]any{
				"session_id":         sessionID,
				"input":              input,
				"generate_followups": followups,
			})
			if err != nil {
				return err
			}
			var body map[string]any
			if err := decodeJSON(resp, &body); err != nil {
				return err
			}
			return printJSON(os.Stdout, body)
		}

		reply, err := client.ask(ctx, sessionID, input, followups)
		if err != nil {
			return err
		}
		printReply(reply)
		return nil
	},
}

func printReply(reply queryReply) {
	fmt.Println(reply.Answer)
	if len(reply.Features.FollowUps) > 0 {
		fmt.Println()
		fmt.Println(colorize(colorBold, "You might also ask:"))
		for _, q := range reply.Features.FollowUps {
			fmt.Printf("  • %s\n", q)
		}
	}
	if reply.Metadata.FallbackUsed {
		printWarning("answered by the fallback path: %s", reply.Metadata.Error)
	}
}

func init() {
	queryCmd.Flags().String("session", defaultSession, "chat session id")
	queryCmd.Flags().Bool("enhanced", false, "use /query/enhanced and print the full response")
	queryCmd.Flags().Bool("followups", false, "generate follow-up suggestions")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or clear the history of a chat session",
}

var historyShowCmd = &cobra.Command{
	Use:   "show <session>",
	Short: "Print the turns of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		turns, err := client.history(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(turns) == 0 {
			fmt.Println("No messages in this session.")
			return nil
		}
		for _, t := range turns {
			label := colorize(colorCyan, "you")
			if t.Type == session.TypeBot {
				label = colorize(colorGreen, "bot")
			}
			fmt.Printf("%s %s  %s\n", colorize(colorDim, t.Timestamp.Local().Format(time.DateTime)), label, t.Content)
		}
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear <session>",
	Short: "Delete the turns of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.clearHistory(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Cleared session %s", args[0])
		return nil
	},
}

func init() {
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyClearCmd)
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add documents to the index",
	Long: `Add documents to the index.

Examples:
  docbot ingest file ./Docs/leave-policy.pdf
  docbot ingest file --sync ./handbook.md
  docbot ingest folder ./Docs
  docbot ingest folder --local ./Docs`,
}

var ingestFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Upload one document (.pdf, .html, .txt, .md)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sync, _ := cmd.Flags().GetBool("sync")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/ingest/file"
		if sync {
			path += "?sync=true"
		}
		resp, err := client.upload(cmd.Context(), path, filepath.Base(args[0]), data)
		if err != nil {
			return err
		}
		var body map[string]any
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		if sync {
			printSuccess("Indexed %s as %v (%v chunks)", body["filename"], body["doc_id"], body["chunks"])
		} else {
			printSuccess("Queued %s as task %v", body["filename"], body["task_id"])
		}
		return nil
	},
}

var ingestFolderCmd = &cobra.Command{
	Use:   "folder [path]",
	Short: "Index every matching document of a folder",
	Long: `Index every matching document of a folder (default: ingest.folder).

By default the server queues the folder as a background task. With --local
the documents are indexed in-process, with a progress bar.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sync, _ := cmd.Flags().GetBool("sync")
		local, _ := cmd.Flags().GetBool("local")

		dir := ""
		if len(args) == 1 {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			dir = abs
		}

		if local {
			return ingestFolderLocal(dir)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q := url.Values{}
		if dir != "" {
			q.Set("path", dir)
		}
		if sync {
			q.Set("sync", "true")
		}
		path := "/ingest/folder"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		resp, err := client.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}
		var body map[string]any
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		if sync {
			printSuccess("Indexed %v of %v files", body["indexed"], body["files"])
			if failed, ok := body["failed"].([]any); ok && len(failed) > 0 {
				printWarning("Skipped: %v", failed)
			}
		} else {
			printSuccess("Queued %v as task %v", body["folder"], body["task_id"])
		}
		return nil
	},
}

// ingestFolderLocal indexes dir in this process instead of on the server.
func ingestFolderLocal(dir string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// Keep info logs from interleaving with the progress bar.
	slog.SetDefault(newLogger(config.LogConfig{Level: "warn", Format: cfg.Log.Format}, os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if dir == "" {
		dir = cfg.Ingest.Folder
	}
	files, err := a.pipeline.Files(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		printWarning("No matching documents in %s (include: %s)", dir, cfg.Ingest.Include)
		return nil
	}

	printStep("Indexing %d files from %s", len(files), dir)
	bar := progressbar.Default(int64(len(files)), "indexing")
	res, err := a.pipeline.IngestFiles(ctx, files, func(o ingest.FileOutcome) {
		if o.Err != nil {
			bar.Describe("skipped " + filepath.Base(o.Path))
		} else {
			bar.Describe(filepath.Base(o.Path))
		}
		bar.Add(1)
	})
	bar.Finish()
	if err != nil {
		return err
	}

	printSuccess("Indexed %d of %d files", res.Indexed, res.Files)
	if len(res.Failed) > 0 {
		printWarning("Skipped: %s", strings.Join(res.Failed, ", "))
	}
	return nil
}

func init() {
	ingestFileCmd.Flags().Bool("sync", false, "index before returning instead of queueing a task")
	ingestFolderCmd.Flags().Bool("sync", false, "index before returning instead of queueing a task")
	ingestFolderCmd.Flags().Bool("local", false, "index in-process with a progress bar (no server needed)")
	ingestCmd.AddCommand(ingestFileCmd)
	ingestCmd.AddCommand(ingestFolderCmd)
}

// --- tasks ---

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect background ingestion tasks",
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an ingestion task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/ingest/tasks/" + url.PathEscape(args[0])
		if wait > 0 {
			path += "?wait=" + url.QueryEscape(wait.String())
			client.httpClient.Timeout = wait + 30*time.Second
		}

		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var task ingest.Task
		if err := decodeJSON(resp, &task); err != nil {
			return err
		}
		printTask(task)
		return nil
	},
}

func printTask(t ingest.Task) {
	printStatus("Task", "%s (%s)", t.ID, t.Kind)
	printStatus("Status", "%s", t.Status)
	printStatus("Attempts", "%d", t.Attempts)
	if t.Error != "" {
		printStatus("Error", "%s", t.Error)
	}
	if len(t.Result) > 0 {
		var result any
		if json.Unmarshal(t.Result, &result) == nil {
			b, _ := json.Marshal(result)
			printStatus("Result", "%s", b)
		}
	}
}

func init() {
	tasksShowCmd.Flags().Duration("wait", 0, "wait up to this long for the task to finish (max 5m)")
	tasksCmd.AddCommand(tasksShowCmd)
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show usage statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		stats, err := fetchStats(cmd.Context(), client)
		if err != nil {
			return err
		}
		for _, k := range sortedKeys(stats) {
			if k == "recent_queries" {
				continue
			}
			printStatus(k, "%v", stats[k])
		}
		printRecentQueries(stats["recent_queries"])
		return nil
	},
}

// printRecentQueries lists the recent_queries entry of a usage reply.
func printRecentQueries(v any) {
	recent, _ := v.([]any)
	if len(recent) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(colorize(colorBold, "Recent queries"))
	for _, item := range recent {
		q, _ := item.(map[string]any)
		mark := ""
		if q["fallback_used"] == true {
			mark = colorize(colorYellow, " (fallback)")
		}
		fmt.Printf("  %v  %s  %vms%s\n", q["timestamp"], truncate(fmt.Sprint(q["query"]), 60), q["duration_ms"], mark)
	}
}

// --- faqs ---

var faqsCmd = &cobra.Command{
	Use:   "faqs",
	Short: "Draft FAQs from the indexed documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("num")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/generate-faqs", map[string]int{"num_faqs": n})
		if err != nil {
			return err
		}
		var body struct {
			FAQs []struct {
				Question string `json:"question"`
				Answer   string `json:"answer"`
			} `json:"faqs"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}
		if len(body.FAQs) == 0 {
			fmt.Println("No FAQs generated.")
			return nil
		}
		for i, f := range body.FAQs {
			fmt.Printf("%s %s\n", colorize(colorBold, fmt.Sprintf("Q%d.", i+1)), f.Question)
			fmt.Printf("    %s\n\n", f.Answer)
		}
		return nil
	},
}

func init() {
	faqsCmd.Flags().IntP("num", "n", 10, "number of FAQs to draft (max 50)")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
