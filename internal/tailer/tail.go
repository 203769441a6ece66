package tailer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
)

type tail struct {
	name string
	path string

	file    *os.File
	info    os.FileInfo
	reader  *bufio.Reader
	offset  int64
	partial strings.Builder
	missing bool

	cancel context.CancelFunc
	done   <-chan struct{}
}

func openTail(name, path string) (*tail, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLogNotFound, name)
		}
		return nil, fmt.Errorf("open log %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat log %s: %w", name, err)
	}
	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("seek log %s: %w", name, err)
	}
	return &tail{
		name:   name,
		path:   path,
		file:   f,
		info:   info,
		reader: bufio.NewReader(f),
		offset: offset,
	}, nil
}

func (t *tail) run(ctx context.Context, m *Manager) {
	defer func() {
		if t.file != nil {
			_ = t.file.Close()
		}
	}()

	var events chan fsnotify.Event
	var watchErrs chan error
	if watcher, err := fsnotify.NewWatcher(); err != nil {
		m.logger.Warn("Tailer %s falls back to polling: %v", t.name, err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(t.path); err != nil {
			m.logger.Warn("Tailer %s falls back to polling: %v", t.name, err)
		} else {
			events = watcher.Events
			watchErrs = watcher.Errors
		}
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		if !t.drain(ctx, m) {
			return
		}
		t.checkReplaced(m)

		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			m.logger.Warn("Tailer %s watch error: %v", t.name, err)
		case <-ticker.C:
		}
	}
}

// drain forwards every complete line currently readable. It returns false
// once ctx is cancelled.
func (t *tail) drain(ctx context.Context, m *Manager) bool {
	if t.file == nil {
		return ctx.Err() == nil
	}
	for {
		if ctx.Err() != nil {
			return false
		}
		chunk, err := t.reader.ReadSlice('\n')
		if len(chunk) > 0 {
			t.offset += int64(len(chunk))
			t.partial.Write(chunk)
			if chunk[len(chunk)-1] == '\n' {
				line := strings.TrimRight(t.partial.String(), "\r\n")
				t.partial.Reset()
				if ctx.Err() != nil {
					return false
				}
				m.handler(t.name, line)
			} else if t.partial.Len() >= m.maxLineBytes {
				if !t.flushPartial(ctx, m) {
					return false
				}
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.logger.Error("Tailer %s read failed: %v", t.name, err)
			}
			return true
		}
	}
}

// flushPartial forwards an unterminated line that reached maxLineBytes in
// pieces of at most that size, keeping the remainder pending. It returns
// false once ctx is cancelled.
func (t *tail) flushPartial(ctx context.Context, m *Manager) bool {
	pending := t.partial.String()
	t.partial.Reset()
	m.logger.Warn("Tailer %s line exceeds %d bytes, forwarding it in pieces", t.name, m.maxLineBytes)
	for len(pending) >= m.maxLineBytes {
		cut := m.maxLineBytes
		for cut > 1 && cut < len(pending) && !utf8.RuneStart(pending[cut]) {
			cut--
		}
		if ctx.Err() != nil {
			return false
		}
		m.handler(t.name, pending[:cut])
		pending = pending[cut:]
	}
	t.partial.WriteString(pending)
	return true
}

// checkReplaced handles truncation, rotation and deletion of the followed
// path. A replaced file is read from its beginning.
func (t *tail) checkReplaced(m *Manager) {
	info, err := os.Stat(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			if !t.missing {
				m.logger.Warn("Log %s disappeared; waiting for it to come back", t.name)
				t.missing = true
			}
			return
		}
		m.logger.Error("Tailer %s stat failed: %v", t.name, err)
		return
	}

	if t.file != nil && t.info != nil && os.SameFile(info, t.info) {
		t.missing = false
		if info.Size() < t.offset {
			m.logger.Info("Log %s truncated; reading from start", t.name)
			if _, err := t.file.Seek(0, io.SeekStart); err != nil {
				m.logger.Error("Tailer %s seek failed: %v", t.name, err)
				return
			}
			t.reader.Reset(t.file)
			t.partial.Reset()
			t.offset = 0
		}
		return
	}

	f, err := os.Open(t.path)
	if err != nil {
		m.logger.Error("Tailer %s reopen failed: %v", t.name, err)
		return
	}
	newInfo, err := f.Stat()
	if err != nil {
		_ = f.Close()
		m.logger.Error("Tailer %s stat failed: %v", t.name, err)
		return
	}
	if t.file != nil {
		_ = t.file.Close()
	}
	m.logger.Info("Log %s was replaced; following the new file", t.name)
	t.file = f
	t.info = newInfo
	t.reader = bufio.NewReader(f)
	t.partial.Reset()
	t.offset = 0
	t.missing = false
}
