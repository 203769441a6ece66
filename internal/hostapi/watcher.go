package hostapi

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	apperrors "debugconsole/internal/errors"
)

const defaultWatchDebounce = 750 * time.Millisecond

// WatchOption customizes LocalHost.Watch.
type WatchOption func(*watchState)

// WithWatchDebounce sets the debounce window for reloads.
func WithWatchDebounce(debounce time.Duration) WatchOption {
	return func(w *watchState) {
		if debounce > 0 {
			w.debounce = debounce
		}
	}
}

// WithReloadRetry sets how a failed state reload is retried. Editors often
// write the file in several steps, so the first parse may see a partial
// document.
func WithReloadRetry(config apperrors.RetryConfig) WatchOption {
	return func(w *watchState) {
		w.retry = config
	}
}

type watchState struct {
	ctx      context.Context
	host     *LocalHost
	debounce time.Duration
	retry    apperrors.RetryConfig

	mu         sync.Mutex
	stateTimer *time.Timer
	logTimer   *time.Timer
	stopped    bool
}

// Watch follows the state file and the log directory until ctx is done.
// State file edits reload the host and push the component list, the
// dependency graph and every component's state; log files appearing or
// disappearing push the log list.
func (h *LocalHost) Watch(ctx context.Context, opts ...WatchOption) error {
	w := &watchState{
		ctx:      ctx,
		host:     h,
		debounce: defaultWatchDebounce,
		retry:    apperrors.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(w)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsWatcher.Close()

	if h.statePath != "" {
		if err := fsWatcher.Add(filepath.Dir(h.statePath)); err != nil {
			return fmt.Errorf("watch state dir: %w", err)
		}
	}
	if err := fsWatcher.Add(h.logDir); err != nil {
		h.logger.Warn("Log directory %s not watched: %v", h.logDir, err)
	}
	h.logger.Info("Watching host state for changes")
	defer w.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Warn("Host watcher error: %v", err)
		}
	}
}

func (w *watchState) handleEvent(event fsnotify.Event) {
	if event.Name == "" {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	name := filepath.Clean(event.Name)
	switch {
	case w.host.statePath != "" && name == w.host.statePath:
		w.schedule(&w.stateTimer, w.reloadState)
	case filepath.Dir(name) == w.host.logDir && strings.HasSuffix(name, ".log") &&
		event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0:
		w.schedule(&w.logTimer, func() {
			w.host.notify(func(n Notifier) { n.PushLogList() })
		})
	}
}

func (w *watchState) schedule(timer **time.Timer, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if *timer != nil {
		(*timer).Stop()
	}
	*timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		stopped := w.stopped
		w.mu.Unlock()
		if !stopped {
			fn()
		}
	})
}

func (w *watchState) reloadState() {
	err := apperrors.Retry(w.ctx, w.retry, func(context.Context) error {
		return w.host.Reload()
	}, w.host.logger)
	if err != nil {
		w.host.logger.Warn("State reload failed: %v", err)
		return
	}
	names := make([]string, 0)
	if items, err := w.host.GetComponentList(); err == nil {
		for _, item := range items {
			names = append(names, item.Name)
		}
	}
	w.host.notify(func(n Notifier) {
		n.PushComponentListUpdate()
		n.PushDependencyGraphUpdate()
		for _, name := range names {
			n.PushComponentChange(name)
		}
	})
}

func (w *watchState) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	for _, t := range []*time.Timer{w.stateTimer, w.logTimer} {
		if t != nil {
			t.Stop()
		}
	}
}
