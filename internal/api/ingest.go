package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/docbot/internal/document"
	"github.com/kalambet/docbot/internal/ingest"
	"github.com/kalambet/docbot/internal/storage"
)

const maxTaskWait = 5 * time.Minute

func handleIngestFile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "multipart field \"file\" is required: %v", err)
			return
		}
		defer file.Close()

		filename := filepath.Base(header.Filename)
		if !document.Supported(filename) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported document type: %s", filename)
			return
		}
		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}

		if parseBoolParam(r, "sync") {
			res, err := deps.Ingester.Ingest(r.Context(), data, filename)
			if err != nil {
				ingestError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"status":   "done",
				"doc_id":   res.DocID,
				"filename": res.Filename,
				"chunks":   res.Chunks,
			})
			return
		}

		task, err := deps.Tasks.SubmitFile(r.Context(), filename, data)
		if err != nil {
			ingestError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "accepted",
			"filename": filename,
			"task_id":  task.ID,
		})
	}
}

func handleIngestFolder(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		if path == "" {
			path = deps.folder()
		}
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "folder not found: %s", path)
			return
		}

		if parseBoolParam(r, "sync") {
			res, err := deps.Ingester.IngestFolder(r.Context(), path)
			if err != nil {
				ingestError(w, err)
				return
			}
			failed := res.Failed
			if failed == nil {
				failed = []string{}
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"status":  "done",
				"files":   res.Files,
				"indexed": res.Indexed,
				"failed":  failed,
			})
			return
		}

		task, err := deps.Tasks.SubmitFolder(r.Context(), path)
		if err != nil {
			ingestError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "accepted",
			"folder":  path,
			"task_id": task.ID,
		})
	}
}

// handleGetTask returns a task handle. With ?wait=<duration> it blocks
// until the task is terminal or the wait elapses, then returns the last
// observed state.
func handleGetTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var (
			task ingest.Task
			err  error
		)
		if s := r.URL.Query().Get("wait"); s != "" {
			d, perr := time.ParseDuration(s)
			if perr != nil || d <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid wait duration %q", s)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), min(d, maxTaskWait))
			defer cancel()
			task, err = deps.Tasks.Wait(ctx, id)
			if errors.Is(err, context.DeadlineExceeded) {
				err = nil
			}
		} else {
			task, err = deps.Tasks.Get(r.Context(), id)
		}

		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get task: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

func ingestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, document.ErrUnsupportedFormat), errors.Is(err, document.ErrMalformed):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, ingest.ErrFolderNotFound):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "ingestion failed: %v", err)
	}
}
