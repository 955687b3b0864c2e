package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mbd888/fraudscope/internal/metrics"
)

// DefaultDebounce collapses the burst of events a bundle copy produces.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads the bundle when files in its directory change. A failed
// reload leaves the current bundle in place.
type Watcher struct {
	dir      string
	debounce time.Duration
	onReload func(*Bundle)
	logger   *slog.Logger
	fs       *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewWatcher watches dir and passes each successfully loaded bundle to onReload.
func NewWatcher(dir string, debounce time.Duration, onReload func(*Bundle), logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fs.Add(dir); err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		onReload: onReload,
		logger:   logger,
		fs:       fs,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.logger.Info("model watcher started", "dir", w.dir, "debounce", w.debounce)
	go w.loop(ctx)
}

// Stop stops the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stop)
		<-w.done
	}
	if err := w.fs.Close(); err != nil {
		w.logger.Warn("close model watcher", "error", err)
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.logger.Debug("model dir changed", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("model watcher error", "error", err)
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	b, err := LoadBundle(w.dir)
	if err != nil {
		metrics.ModelReloadsTotal.WithLabelValues("error").Inc()
		w.logger.Error("model reload failed, keeping current bundle", "dir", w.dir, "error", err)
		return
	}
	metrics.ModelReloadsTotal.WithLabelValues("success").Inc()
	w.logger.Info("model reloaded", "name", b.Name, "version", b.Version, "features", len(b.FeatureNames))
	w.onReload(b)
}
