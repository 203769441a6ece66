// Package tailer follows growing log files and forwards each appended line.
package tailer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"debugconsole/internal/async"
	"debugconsole/internal/logging"
	"debugconsole/internal/syncmap"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxLineBytes = 64 << 10
)

var (
	// ErrLogNotFound is returned when the named log file does not exist.
	ErrLogNotFound = errors.New("log file not found")
	// ErrInvalidName is returned for names that would escape the log directory.
	ErrInvalidName = errors.New("invalid log file name")
)

// LineHandler receives each complete line appended to a followed file.
type LineHandler func(name, line string)

// Metrics receives tailer count changes.
type Metrics interface {
	TailersChanged(delta int)
}

// Manager runs at most one tailer per log file name.
type Manager struct {
	dir          string
	handler      LineHandler
	logger       logging.Logger
	metrics      Metrics
	pollInterval time.Duration
	maxLineBytes int

	tails *syncmap.Map[string, *tail]
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger for tailer diagnostics.
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logging.OrNop(logger)
	}
}

// WithPollInterval sets how often a tailer rechecks its file when no change
// notification arrives.
func WithPollInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.pollInterval = interval
		}
	}
}

// WithMaxLineBytes bounds how much of an unterminated line is buffered.
// Longer lines are forwarded in pieces of at most n bytes.
func WithMaxLineBytes(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxLineBytes = n
		}
	}
}

// WithMetrics reports the number of running tailers.
func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a manager for log files under dir.
func NewManager(dir string, handler LineHandler, opts ...Option) *Manager {
	if handler == nil {
		handler = func(string, string) {}
	}
	m := &Manager{
		dir:          filepath.Clean(dir),
		handler:      handler,
		logger:       logging.NewComponentLogger("Tailer"),
		pollInterval: defaultPollInterval,
		maxLineBytes: defaultMaxLineBytes,
		tails:        syncmap.New[string, *tail](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the directory log names are resolved in.
func (m *Manager) Dir() string {
	return m.dir
}

// Resolve maps a log file name onto its path and checks that it exists.
func (m *Manager) Resolve(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path := filepath.Join(m.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrLogNotFound, name)
		}
		return "", fmt.Errorf("stat log %s: %w", name, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrLogNotFound, name)
	}
	return path, nil
}

// Start begins following name unless it is already followed. The file must
// exist; otherwise nothing is started and the error is returned. Following
// starts at the current end of the file.
func (m *Manager) Start(name string) error {
	path, err := m.Resolve(name)
	if err != nil {
		m.logger.Error("Cannot tail %s: %v", name, err)
		return err
	}

	var startErr error
	created := false
	m.tails.Compute(name, func(old *tail, loaded bool) (*tail, bool) {
		if loaded {
			return old, true
		}
		t, err := openTail(name, path)
		if err != nil {
			startErr = err
			return nil, false
		}
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		t.done = async.GoContext(ctx, m.logger, "tailer."+name, func(ctx context.Context) {
			t.run(ctx, m)
		})
		created = true
		return t, true
	})
	if startErr != nil {
		m.logger.Error("Cannot tail %s: %v", name, startErr)
		return startErr
	}
	if created {
		m.logger.Info("Started tailing %s", path)
		if m.metrics != nil {
			m.metrics.TailersChanged(1)
		}
	}
	return nil
}

// Stop cancels the tailer for name and forgets it. It does not wait for the
// tailer goroutine to exit, so it is safe to call while a line is being
// delivered. It reports whether a tailer was running.
func (m *Manager) Stop(name string) bool {
	t, ok := m.tails.LoadAndDelete(name)
	if !ok {
		return false
	}
	t.cancel()
	m.logger.Info("Stopped tailing %s", name)
	if m.metrics != nil {
		m.metrics.TailersChanged(-1)
	}
	return true
}

// StopAll stops every tailer.
func (m *Manager) StopAll() {
	for _, name := range m.tails.Keys() {
		m.Stop(name)
	}
}

// Running reports whether name is being followed.
func (m *Manager) Running(name string) bool {
	return m.tails.Has(name)
}

// Names returns the followed log names, sorted.
func (m *Manager) Names() []string {
	names := m.tails.Keys()
	sort.Strings(names)
	return names
}

// Len returns the number of running tailers.
func (m *Manager) Len() int {
	return m.tails.Len()
}

// done returns the exit channel of name's tailer, for tests.
func (m *Manager) done(name string) <-chan struct{} {
	t, ok := m.tails.Load(name)
	if !ok {
		return nil
	}
	return t.done
}
