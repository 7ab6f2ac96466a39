package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher calls a reload function when the config file changes.
// Editors and config management tools usually replace the file rather than
// write it in place, so the parent directory is watched and events are
// filtered by file name. Bursts of events collapse into one reload after
// the debounce interval. When fsnotify does not work for the directory the
// file's modification time is polled instead.
type ConfigWatcher struct {
	path         string
	reload       func() error
	logger       *slog.Logger
	debounce     time.Duration
	pollInterval time.Duration
	forcePoll    bool
}

// New creates a watcher for the config file at path.
func New(path string, reload func() error, logger *slog.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		path:         filepath.Clean(path),
		reload:       reload,
		logger:       logger.With(slog.String("component", "config-watcher")),
		debounce:     500 * time.Millisecond,
		pollInterval: 30 * time.Second,
	}
}

// SetDebounce overrides the default debounce interval (for testing).
func (w *ConfigWatcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// SetPolling forces mtime polling at the given interval (for testing and
// filesystems without inotify).
func (w *ConfigWatcher) SetPolling(interval time.Duration) {
	w.forcePoll = true
	w.pollInterval = interval
}

// Start blocks until ctx is canceled.
func (w *ConfigWatcher) Start(ctx context.Context) {
	dir := filepath.Dir(w.path)

	var fw *fsnotify.Watcher
	if !w.forcePoll && ProbeFSNotify(dir, 2*time.Second) {
		var err error
		fw, err = fsnotify.NewWatcher()
		if err == nil {
			if err = fw.Add(dir); err != nil {
				_ = fw.Close()
				fw = nil
			}
		}
		if err != nil {
			w.logger.Warn("fsnotify unavailable, polling config file", slog.Any("error", err))
		}
	}
	if fw != nil {
		defer fw.Close() //nolint:errcheck
	}

	// Nil channels never receive, which turns the select into poll-only mode.
	var eventCh <-chan fsnotify.Event
	var errCh <-chan error
	var pollCh <-chan time.Time
	if fw != nil {
		eventCh, errCh = fw.Events, fw.Errors
		w.logger.Info("watching config file", slog.String("path", w.path))
	} else {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		pollCh = ticker.C
		w.logger.Info("polling config file",
			slog.String("path", w.path),
			slog.String("interval", w.pollInterval.String()))
	}

	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	lastMod := w.modTime()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopping")
			return

		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			resetTimer(debounceTimer, w.debounce)

		case err, ok := <-errCh:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", slog.Any("error", err))

		case <-pollCh:
			if mod := w.modTime(); !mod.Equal(lastMod) {
				lastMod = mod
				resetTimer(debounceTimer, w.debounce)
			}

		case <-debounceTimer.C:
			lastMod = w.modTime()
			if err := w.reload(); err != nil {
				w.logger.Error("reloading config", slog.Any("error", err))
				continue
			}
			w.logger.Info("config reloaded", slog.String("path", w.path))
		}
	}
}

func (w *ConfigWatcher) modTime() time.Time {
	info, err := os.Stat(w.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
