package tailer

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"debugconsole/internal/logging"
)

type lineSink struct {
	ch chan [2]string
}

func newLineSink() *lineSink {
	return &lineSink{ch: make(chan [2]string, 64)}
}

func (s *lineSink) handle(name, line string) {
	s.ch <- [2]string{name, line}
}

func (s *lineSink) next(t *testing.T) [2]string {
	t.Helper()
	select {
	case got := <-s.ch:
		return got
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a tailed line")
		return [2]string{}
	}
}

func (s *lineSink) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case got := <-s.ch:
		t.Fatalf("unexpected line %v", got)
	case <-time.After(wait):
	}
}

type gauge struct {
	mu    sync.Mutex
	value int
}

func (g *gauge) TailersChanged(delta int) {
	g.mu.Lock()
	g.value += delta
	g.mu.Unlock()
}

func (g *gauge) get() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

func appendTo(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(text)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func newTestManager(t *testing.T, sink *lineSink, opts ...Option) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	opts = append([]Option{WithPollInterval(20 * time.Millisecond), WithLogger(logging.Nop())}, opts...)
	m := NewManager(dir, sink.handle, opts...)
	t.Cleanup(m.StopAll)
	return m, dir
}

func TestStartFollowsAppendedLinesOnly(t *testing.T) {
	sink := newLineSink()
	m, dir := newTestManager(t, sink)
	path := filepath.Join(dir, "main.log")
	appendTo(t, path, "old line\n")

	require.NoError(t, m.Start("main.log"))
	assert.True(t, m.Running("main.log"))

	appendTo(t, path, "first\nsecond\r\n")
	assert.Equal(t, [2]string{"main.log", "first"}, sink.next(t))
	assert.Equal(t, [2]string{"main.log", "second"}, sink.next(t))
}

func TestPartialLinesWaitForNewline(t *testing.T) {
	sink := newLineSink()
	m, dir := newTestManager(t, sink)
	path := filepath.Join(dir, "app.log")
	appendTo(t, path, "")
	require.NoError(t, m.Start("app.log"))

	appendTo(t, path, "hel")
	sink.none(t, 100*time.Millisecond)
	appendTo(t, path, "lo\n")
	assert.Equal(t, "hello", sink.next(t)[1])
}

func TestOverlongLineIsForwardedInPieces(t *testing.T) {
	sink := newLineSink()
	m, dir := newTestManager(t, sink, WithMaxLineBytes(8))
	path := filepath.Join(dir, "noisy.log")
	appendTo(t, path, "")
	require.NoError(t, m.Start("noisy.log"))

	appendTo(t, path, "abcdefghijklmnopqrst")
	assert.Equal(t, "abcdefgh", sink.next(t)[1])
	assert.Equal(t, "ijklmnop", sink.next(t)[1])
	sink.none(t, 100*time.Millisecond)

	appendTo(t, path, "\nnext\n")
	assert.Equal(t, "qrst", sink.next(t)[1])
	assert.Equal(t, "next", sink.next(t)[1])
}

func TestStartIsIdempotent(t *testing.T) {
	sink := newLineSink()
	g := &gauge{}
	m, dir := newTestManager(t, sink, WithMetrics(g))
	appendTo(t, filepath.Join(dir, "a.log"), "")

	require.NoError(t, m.Start("a.log"))
	require.NoError(t, m.Start("a.log"))
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, g.get())

	appendTo(t, filepath.Join(dir, "a.log"), "once\n")
	assert.Equal(t, "once", sink.next(t)[1])
	sink.none(t, 100*time.Millisecond)
}

func TestStartMissingFileCreatesNothing(t *testing.T) {
	sink := newLineSink()
	m, dir := newTestManager(t, sink)

	err := m.Start("ghost.log")
	assert.ErrorIs(t, err, ErrLogNotFound)
	assert.False(t, m.Running("ghost.log"))
	assert.Empty(t, m.Names())

	appendTo(t, filepath.Join(dir, "ghost.log"), "")
	require.NoError(t, m.Start("ghost.log"))
	assert.True(t, m.Running("ghost.log"))
}

func TestStartRejectsEscapingNames(t *testing.T) {
	m, _ := newTestManager(t, newLineSink())
	for _, name := range []string{"", ".", "..", "../etc/passwd", "sub/file.log", `a\b.log`} {
		err := m.Start(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
	assert.Equal(t, 0, m.Len())
}

func TestStartRejectsDirectories(t *testing.T) {
	m, dir := newTestManager(t, newLineSink())
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	assert.ErrorIs(t, m.Start("nested"), ErrLogNotFound)
}

func TestStopHaltsDelivery(t *testing.T) {
	sink := newLineSink()
	g := &gauge{}
	m, dir := newTestManager(t, sink, WithMetrics(g))
	path := filepath.Join(dir, "s.log")
	appendTo(t, path, "")
	require.NoError(t, m.Start("s.log"))
	done := m.done("s.log")
	require.NotNil(t, done)

	assert.True(t, m.Stop("s.log"))
	assert.False(t, m.Stop("s.log"))
	assert.False(t, m.Running("s.log"))
	assert.Equal(t, 0, g.get())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tailer goroutine did not exit after stop")
	}

	appendTo(t, path, "after stop\n")
	sink.none(t, 100*time.Millisecond)
}

func TestTruncationRewinds(t *testing.T) {
	sink := newLineSink()
	m, dir := newTestManager(t, sink)
	path := filepath.Join(dir, "t.log")
	appendTo(t, path, "")
	require.NoError(t, m.Start("t.log"))

	appendTo(t, path, "before truncate with a long line\n")
	assert.Equal(t, "before truncate with a long line", sink.next(t)[1])

	require.NoError(t, os.Truncate(path, 0))
	time.Sleep(60 * time.Millisecond)
	appendTo(t, path, "x\n")
	assert.Equal(t, "x", sink.next(t)[1])
}

func TestRotationFollowsNewFile(t *testing.T) {
	sink := newLineSink()
	m, dir := newTestManager(t, sink)
	path := filepath.Join(dir, "r.log")
	appendTo(t, path, "")
	require.NoError(t, m.Start("r.log"))

	require.NoError(t, os.Rename(path, filepath.Join(dir, "r.log.1")))
	appendTo(t, path, "fresh\n")
	assert.Equal(t, "fresh", sink.next(t)[1])
}

func TestStopAll(t *testing.T) {
	m, dir := newTestManager(t, newLineSink())
	for _, name := range []string{"a.log", "b.log"} {
		appendTo(t, filepath.Join(dir, name), "")
		require.NoError(t, m.Start(name))
	}
	assert.Equal(t, []string{"a.log", "b.log"}, m.Names())
	m.StopAll()
	assert.Equal(t, 0, m.Len())
}
