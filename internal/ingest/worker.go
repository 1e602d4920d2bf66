package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/docbot/internal/document"
	"github.com/kalambet/docbot/internal/storage"
)

// errPermanent marks job failures that a retry cannot fix.
var errPermanent = errors.New("permanent failure")

// permanent reports whether err will recur on every attempt.
func permanent(err error) bool {
	return errors.Is(err, errPermanent) ||
		errors.Is(err, document.ErrMalformed) ||
		errors.Is(err, document.ErrUnsupportedFormat) ||
		errors.Is(err, ErrFolderNotFound) ||
		errors.Is(err, storage.ErrNotFound)
}

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string, resultJSON string) error
	FailJob(id string, errMsg string) (string, error)
	AbortJob(id string, errMsg string) error
	RequeueRunningJobs() (int, error)
	GetUpload(id string) (storage.Upload, error)
	DeleteUpload(id string) error
}

// Ingester is the work a job runs.
type Ingester interface {
	Ingest(ctx context.Context, data []byte, filename string) (Result, error)
	IngestFolder(ctx context.Context, dir string) (FolderResult, error)
}

// Worker processes ingest_file and ingest_folder jobs from the SQLite job
// queue.
type Worker struct {
	store    JobStore
	ingester Ingester
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, ingester Ingester, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		ingester: ingester,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run requeues jobs a previous process left running, then polls for jobs
// until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.store.RequeueRunningJobs(); err != nil {
		w.logger.Error("failed to requeue interrupted jobs", "error", err)
	} else if n > 0 {
		w.logger.Info("requeued interrupted jobs", "count", n)
	}
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single ingestion job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{KindFile, KindFolder})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	result, err := w.processJob(ctx, job)
	if err != nil && permanent(err) {
		w.logger.Warn("job failed permanently", "job_id", job.ID, "type", job.Type, "error", err)
		if abortErr := w.store.AbortJob(job.ID, err.Error()); abortErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", abortErr)
			return true, nil
		}
		w.dropUpload(job)
		return true, nil
	}
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		status, failErr := w.store.FailJob(job.ID, err.Error())
		if failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
			return true, nil
		}
		if status == storage.JobFailed {
			w.dropUpload(job)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID, result); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.dropUpload(job)
	w.logger.Info("job completed", "job_id", job.ID, "type", job.Type)
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (string, error) {
	var out any
	switch job.Type {
	case KindFile:
		var p filePayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return "", fmt.Errorf("parsing payload: %w: %w", errPermanent, err)
		}
		upload, err := w.store.GetUpload(p.UploadID)
		if err != nil {
			return "", fmt.Errorf("loading upload %s: %w", p.UploadID, err)
		}
		res, err := w.ingester.Ingest(ctx, upload.Data, upload.Filename)
		if err != nil {
			return "", err
		}
		out = res
	case KindFolder:
		var p folderPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return "", fmt.Errorf("parsing payload: %w: %w", errPermanent, err)
		}
		res, err := w.ingester.IngestFolder(ctx, p.Path)
		if err != nil {
			return "", err
		}
		out = res
	default:
		return "", fmt.Errorf("%w: unknown job type %q", errPermanent, job.Type)
	}

	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(b), nil
}

// dropUpload removes the stored file body of a finished file job.
func (w *Worker) dropUpload(job *storage.Job) {
	if job.Type != KindFile {
		return
	}
	var p filePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil || p.UploadID == "" {
		return
	}
	if err := w.store.DeleteUpload(p.UploadID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		w.logger.Warn("failed to delete upload", "upload_id", p.UploadID, "error", err)
	}
}
