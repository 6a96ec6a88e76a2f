package multiuser

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a burst of file events is coalesced.
const DefaultDebounce = 250 * time.Millisecond

// FileWatcher calls onChange when the watched file is rewritten by
// another process. Events are debounced and confirmed with a
// FileChecker, so the watcher's own saves are ignored once marked.
type FileWatcher struct {
	path     string
	checker  *FileChecker
	onChange func(ctx context.Context)
	debounce time.Duration
	logger   *slog.Logger

	watcher *fsnotify.Watcher
}

// NewFileWatcher watches path's directory. The store writes by rename, so
// the file itself cannot be watched.
func NewFileWatcher(path string, checker *FileChecker, onChange func(ctx context.Context), logger *slog.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	return &FileWatcher{
		path:     filepath.Clean(path),
		checker:  checker,
		onChange: onChange,
		debounce: DefaultDebounce,
		logger:   logger.With("file", path),
		watcher:  w,
	}, nil
}

// SetDebounce overrides DefaultDebounce. Call before Run.
func (w *FileWatcher) SetDebounce(d time.Duration) { w.debounce = d }

// Run blocks until ctx is done or the watcher is closed.
func (w *FileWatcher) Run(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "err", err)

		case <-timerC:
			timer, timerC = nil, nil
			w.fire(ctx)
		}
	}
}

func (w *FileWatcher) fire(ctx context.Context) {
	changed, err := w.checker.UpdateAvailable(ctx)
	if err != nil {
		w.logger.Warn("checking for file update failed", "err", err)
		return
	}
	if !changed {
		return
	}
	w.logger.Info("connections file changed externally")
	if err := w.checker.Mark(ctx); err != nil {
		w.logger.Warn("marking file update failed", "err", err)
	}
	if w.onChange != nil {
		w.onChange(ctx)
	}
}

// Close stops the underlying watcher; Run returns afterwards.
func (w *FileWatcher) Close() error {
	return w.watcher.Close()
}
