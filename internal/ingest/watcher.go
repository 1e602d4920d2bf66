package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = time.Second

// Submitter queues a file for background ingestion.
type Submitter interface {
	SubmitFile(ctx context.Context, filename string, data []byte) (Task, error)
}

// Watcher queues files of the ingest folder as they are created or
// modified. Bursts of events on one path are collapsed into a single
// submission once the path has been quiet for the debounce interval.
type Watcher struct {
	root     string
	walker   *Walker
	submit   Submitter
	debounce time.Duration
	logger   *slog.Logger
}

func NewWatcher(root string, walker *Walker, submit Submitter) *Watcher {
	if walker == nil {
		walker = NewWalker(nil, nil)
	}
	return &Watcher{root: root, walker: walker, submit: submit, debounce: defaultDebounce}
}

func (w *Watcher) log() *slog.Logger {
	if w.logger != nil {
		return w.logger
	}
	return slog.Default()
}

// Run watches the folder tree until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	root, err := filepath.Abs(w.root)
	if err != nil {
		return err
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrFolderNotFound, w.root)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, root); err != nil {
		return err
	}
	w.log().Info("ingest: watching folder", "path", root)

	ready := make(chan string)
	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Reset(w.debounce)
			return
		}
		timers[path] = time.AfterFunc(w.debounce, func() {
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log().Warn("ingest: watcher error", "error", err)
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if ev.Has(fsnotify.Create) {
					if err := w.addTree(fw, ev.Name); err != nil {
						w.log().Warn("ingest: watching new folder", "path", ev.Name, "error", err)
					}
				}
				continue
			}
			if w.selected(root, ev.Name) {
				schedule(ev.Name)
			}
		case path := <-ready:
			w.submitFile(ctx, path)
		}
	}
}

func (w *Watcher) selected(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return w.walker.Match(filepath.ToSlash(rel))
}

func (w *Watcher) submitFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.log().Warn("ingest: reading changed file", "path", path, "error", err)
		return
	}
	task, err := w.submit.SubmitFile(ctx, filepath.Base(path), data)
	if err != nil {
		w.log().Warn("ingest: queueing changed file", "path", path, "error", err)
		return
	}
	w.log().Info("ingest: queued changed file", "path", path, "task_id", task.ID)
}

// addTree watches dir and every non-excluded folder below it.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(dir, path); err == nil && rel != "." && w.walker.excluded(filepath.ToSlash(rel)+"/") {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
