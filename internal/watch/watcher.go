// Package watch triggers reconciliation when allowlist files change on
// disk, with a periodic resync as a safety net.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce = 2 * time.Second
	defaultResync   = 15 * time.Minute
)

// Trigger watches a set of allowlist files and fires a callback when any of
// them changes. Bursts of events (editors typically write, rename and chmod
// in quick succession) collapse into a single firing via debounce.
type Trigger struct {
	paths    map[string]struct{}
	watcher  *fsnotify.Watcher
	debounce time.Duration
	resync   time.Duration
	logger   *slog.Logger
}

// New creates a Trigger for the given files. The parent directories are
// watched rather than the files themselves: most editors and config
// mounters replace files atomically, which unregisters a per-file watch.
func New(paths []string, debounce, resync time.Duration, logger *slog.Logger) (*Trigger, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if resync <= 0 {
		resync = defaultResync
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	t := &Trigger{
		paths:    make(map[string]struct{}, len(paths)),
		watcher:  w,
		debounce: debounce,
		resync:   resync,
		logger:   logger,
	}

	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		t.paths[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		logger.Info("watching allowlist directory", "dir", dir)
	}

	return t, nil
}

// Close releases the underlying watcher.
func (t *Trigger) Close() error { return t.watcher.Close() }

// Run blocks until ctx is cancelled, invoking fire after each debounced
// change and on every resync tick. fire runs synchronously on the trigger
// goroutine, so one reconciliation completes before the next fires; events
// arriving in the meantime coalesce into one pending firing.
func (t *Trigger) Run(ctx context.Context, fire func(ctx context.Context)) error {
	ticker := time.NewTicker(t.resync)
	defer ticker.Stop()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-t.watcher.Events:
			if !ok {
				return nil
			}
			if !t.relevant(ev) {
				continue
			}
			t.logger.Debug("allowlist change detected", "path", ev.Name, "op", ev.Op.String())
			pending = time.After(t.debounce)

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("watch error", "err", err)

		case <-pending:
			pending = nil
			t.logger.Info("allowlist changed, reconciling")
			fire(ctx)

		case <-ticker.C:
			t.logger.Debug("periodic resync")
			fire(ctx)
		}
	}
}

// relevant reports whether an event concerns one of the watched allowlist
// files with an op that can change its content.
func (t *Trigger) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	_, ok := t.paths[filepath.Clean(ev.Name)]
	return ok
}
