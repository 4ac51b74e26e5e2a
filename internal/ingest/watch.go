package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchExtensions are the file types a DirWatcher picks up when
// none are configured.
var DefaultWatchExtensions = []string{".txt", ".md", ".pdf"}

// DirWatcher reports files created or rewritten in a directory. Editors and
// copy tools write in bursts, so a path is reported once it has been quiet
// for the settle interval.
type DirWatcher struct {
	watcher    *fsnotify.Watcher
	extensions []string
	settle     time.Duration
	logger     *slog.Logger
}

// NewDirWatcher watches dir. A settle of zero defaults to 500ms.
func NewDirWatcher(dir string, extensions []string, settle time.Duration) (*DirWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	if len(extensions) == 0 {
		extensions = DefaultWatchExtensions
	}
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}
	return &DirWatcher{
		watcher:    w,
		extensions: extensions,
		settle:     settle,
		logger:     slog.Default(),
	}, nil
}

// Run calls onFile for each settled file until ctx is cancelled. onFile
// runs on its own goroutine for each settled file.
func (d *DirWatcher) Run(ctx context.Context, onFile func(ctx context.Context, path string)) error {
	defer d.watcher.Close()

	var (
		mu      sync.Mutex
		pending = map[string]*time.Timer{}
		wg      sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			if t.Stop() {
				wg.Done()
			}
		}
		mu.Unlock()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !d.watched(ev.Name) {
				continue
			}
			path := ev.Name
			mu.Lock()
			if t, ok := pending[path]; ok && t.Stop() {
				t.Reset(d.settle)
				mu.Unlock()
				continue
			}
			wg.Add(1)
			var t *time.Timer
			t = time.AfterFunc(d.settle, func() {
				defer wg.Done()
				mu.Lock()
				if pending[path] == t {
					delete(pending, path)
				}
				mu.Unlock()
				if ctx.Err() == nil {
					onFile(ctx, path)
				}
			})
			pending[path] = t
			mu.Unlock()
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Warn("directory watch error", "error", err)
		}
	}
}

func (d *DirWatcher) watched(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range d.extensions {
		if ext == e {
			return true
		}
	}
	return false
}
