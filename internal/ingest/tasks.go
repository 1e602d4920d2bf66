package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/docbot/internal/document"
	"github.com/kalambet/docbot/internal/storage"
)

// Job types handled by Worker.
const (
	KindFile   = "ingest_file"
	KindFolder = "ingest_folder"
)

const defaultWaitPoll = 250 * time.Millisecond

// Task is the caller's handle on a background ingestion.
type Task struct {
	ID        string          `json:"task_id"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Done reports whether the task reached a terminal state.
func (t Task) Done() bool {
	return t.Status == storage.JobCompleted || t.Status == storage.JobFailed
}

// TaskStore persists uploads and jobs.
type TaskStore interface {
	SaveUpload(u storage.Upload) error
	EnqueueJob(job storage.Job) error
	GetJob(id string) (storage.Job, error)
}

type filePayload struct {
	UploadID string `json:"upload_id"`
	Filename string `json:"filename"`
}

type folderPayload struct {
	Path string `json:"path"`
}

// Tasks submits ingestion jobs and tracks them.
type Tasks struct {
	store       TaskStore
	maxAttempts int
	poll        time.Duration
}

func NewTasks(store TaskStore, maxAttempts int) *Tasks {
	return &Tasks{store: store, maxAttempts: maxAttempts, poll: defaultWaitPoll}
}

// SubmitFile stores data and queues it for ingestion. Unsupported file
// types are rejected before anything is stored.
func (t *Tasks) SubmitFile(ctx context.Context, filename string, data []byte) (Task, error) {
	filename = filepath.Base(filename)
	if !document.Supported(filename) {
		return Task{}, fmt.Errorf("%w: %s", document.ErrUnsupportedFormat, filename)
	}
	uploadID := uuid.New().String()
	if err := t.store.SaveUpload(storage.Upload{ID: uploadID, Filename: filename, Data: data}); err != nil {
		return Task{}, fmt.Errorf("saving upload: %w", err)
	}
	return t.enqueue(ctx, KindFile, filePayload{UploadID: uploadID, Filename: filename})
}

// SubmitFolder queues a folder re-index.
func (t *Tasks) SubmitFolder(ctx context.Context, dir string) (Task, error) {
	return t.enqueue(ctx, KindFolder, folderPayload{Path: dir})
}

func (t *Tasks) enqueue(ctx context.Context, kind string, payload any) (Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Task{}, err
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        kind,
		PayloadJSON: string(b),
		MaxAttempts: t.maxAttempts,
	}
	if err := t.store.EnqueueJob(job); err != nil {
		return Task{}, fmt.Errorf("enqueueing %s: %w", kind, err)
	}
	return t.Get(ctx, job.ID)
}

// Get returns the current state of a task, or storage.ErrNotFound.
func (t *Tasks) Get(_ context.Context, id string) (Task, error) {
	job, err := t.store.GetJob(id)
	if err != nil {
		return Task{}, err
	}
	task := Task{
		ID:        job.ID,
		Kind:      job.Type,
		Status:    job.Status,
		Error:     job.LastError,
		Attempts:  job.Attempts,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if job.ResultJSON != "" {
		task.Result = json.RawMessage(job.ResultJSON)
	}
	return task, nil
}

// Wait polls until the task is completed or failed, or ctx ends. On
// cancellation the last observed state is returned with ctx's error.
func (t *Tasks) Wait(ctx context.Context, id string) (Task, error) {
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	for {
		task, err := t.Get(ctx, id)
		if err != nil || task.Done() {
			return task, err
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}
