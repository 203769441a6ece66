package hostapi

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "debugconsole/internal/errors"
	"debugconsole/internal/logging"
)

const sampleState = `
device:
  os: linux
  version: "2.12.1"
  thingName: bench-device
components:
  - name: main
    version: "1.0.0"
    status: RUNNING
    dependencies:
      - name: broker
        hard: true
    config:
      port: 8883
  - name: broker
    version: "2.1.0"
    status: FINISHED
  - name: console
    plugin: true
extensions:
  - name: metrics-panel
    pageType: ComponentDetails
    component: main
    path: ext/metrics.js
  - name: overview
    pageType: Home
    path: ext/overview.js
clientDevices:
  - thingName: sensor-1
`

type notification struct {
	kind string
	name string
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []notification
}

func (r *recordingNotifier) add(kind, name string) {
	r.mu.Lock()
	r.got = append(r.got, notification{kind, name})
	r.mu.Unlock()
}

func (r *recordingNotifier) PushComponentListUpdate()        { r.add("list", "") }
func (r *recordingNotifier) PushComponentChange(name string) { r.add("change", name) }
func (r *recordingNotifier) PushDependencyGraphUpdate()      { r.add("graph", "") }
func (r *recordingNotifier) PushLogList()                    { r.add("logs", "") }

func (r *recordingNotifier) all() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.got...)
}

func (r *recordingNotifier) has(n notification) bool {
	for _, got := range r.all() {
		if got == n {
			return true
		}
	}
	return false
}

func newTestHost(t *testing.T, state string) (*LocalHost, string, string) {
	t.Helper()
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.yaml")
	require.NoError(t, os.WriteFile(statePath, []byte(state), 0o644))
	logDir := filepath.Join(dir, "logs")
	require.NoError(t, os.Mkdir(logDir, 0o755))
	host, err := NewLocalHost(statePath, logDir, WithLocalLogger(logging.Nop()))
	require.NoError(t, err)
	return host, statePath, logDir
}

func TestLocalHostQueries(t *testing.T) {
	host, _, logDir := newTestHost(t, sampleState)

	device, err := host.GetDeviceDetails()
	require.NoError(t, err)
	assert.Equal(t, "bench-device", device.ThingName)
	assert.Equal(t, logDir, device.LogStore)

	items, err := host.GetComponentList()
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"broker", "console", "main"}, []string{items[0].Name, items[1].Name, items[2].Name})
	assert.Equal(t, StateInstalled, items[1].Status)
	assert.True(t, items[2].CanStop)
	assert.False(t, items[2].CanStart)

	main, err := host.GetComponent("main")
	require.NoError(t, err)
	assert.Equal(t, []Dependency{{Name: "broker", Hard: true}}, main.Dependencies)
	assert.True(t, main.CanReinstall)

	_, err = host.GetComponent("missing")
	assert.True(t, apperrors.IsNotFound(err))

	graph, err := host.GetDependencyGraph()
	require.NoError(t, err)
	require.Len(t, graph, 3)
	assert.Equal(t, "main", graph[2].Name)
	assert.Equal(t, []Dependency{{Name: "broker", Hard: true}}, graph[2].Children)
	assert.Empty(t, graph[0].Children)

	clients, err := host.ListClientDevices()
	require.NoError(t, err)
	assert.True(t, clients.Successful)
	assert.Equal(t, []ClientDevice{{ThingName: "sensor-1"}}, clients.ClientDevices)
}

func TestLocalHostExtensions(t *testing.T) {
	host, _, _ := newTestHost(t, sampleState)

	all, err := host.GetExtensions("", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	details, err := host.GetExtensions("ComponentDetails", "main")
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "ext/metrics.js", details[0].ExtensionPath)

	none, err := host.GetExtensions("ComponentDetails", "broker")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLocalHostConfig(t *testing.T) {
	host, _, _ := newTestHost(t, sampleState)
	notifier := &recordingNotifier{}
	host.Link(notifier)

	msg, err := host.GetConfig("main")
	require.NoError(t, err)
	assert.True(t, msg.Successful)
	assert.Contains(t, msg.YAML, "port: 8883")

	msg, err = host.UpdateConfig("main", "port: 1883\ntls: false\n")
	require.NoError(t, err)
	assert.True(t, msg.Successful)
	assert.Contains(t, msg.YAML, "port: 1883")
	assert.Contains(t, msg.YAML, "tls: false")
	assert.True(t, notifier.has(notification{"change", "main"}))

	msg, err = host.UpdateConfig("main", "- not\n- a mapping\n")
	require.NoError(t, err)
	assert.False(t, msg.Successful)
	assert.Contains(t, msg.ErrorMsg, "invalid YAML")

	msg, err = host.GetConfig("missing")
	require.NoError(t, err)
	assert.False(t, msg.Successful)
	assert.Contains(t, msg.ErrorMsg, "not found")
}

func TestConfigPatch(t *testing.T) {
	before := map[string]any{"port": 8883}
	assert.Empty(t, configPatch(before, map[string]any{"port": 8883}))
	assert.Empty(t, configPatch(nil, map[string]any{}))

	patch := configPatch(before, map[string]any{"port": 1883})
	assert.Contains(t, patch, "@@")
	assert.Contains(t, patch, "\n-")
	assert.Contains(t, patch, "\n+")
}

func TestLocalHostLifecycle(t *testing.T) {
	host, _, _ := newTestHost(t, sampleState)
	notifier := &recordingNotifier{}
	host.Link(notifier)

	ok, err := host.StartComponent("main")
	require.NoError(t, err)
	assert.False(t, ok, "already running")
	assert.Empty(t, notifier.all())

	ok, err = host.StopComponent("main")
	require.NoError(t, err)
	assert.True(t, ok)
	details, err := host.GetComponent("main")
	require.NoError(t, err)
	assert.Equal(t, StateFinished, details.Status)
	assert.Equal(t, []notification{{"change", "main"}, {"list", ""}}, notifier.all())

	ok, err = host.StartComponent("main")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = host.ReinstallComponent("console")
	require.NoError(t, err)
	assert.False(t, ok, "plugins cannot be reinstalled")

	_, err = host.StopComponent("missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestLocalHostLogList(t *testing.T) {
	host, _, logDir := newTestHost(t, sampleState)
	for _, name := range []string{"main.log", "broker.log", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(logDir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(logDir, "old.log"), 0o755))

	logs, err := host.GetLogList()
	require.NoError(t, err)
	assert.Equal(t, []string{"broker.log", "main.log"}, logs)

	require.NoError(t, os.RemoveAll(logDir))
	_, err = host.GetLogList()
	assert.True(t, apperrors.IsUpstream(err))
}

func TestLocalHostMissingStateFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	host, err := NewLocalHost(filepath.Join(dir, "absent.yaml"), dir, WithLocalLogger(logging.Nop()))
	require.NoError(t, err)
	items, err := host.GetComponentList()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestLocalHostRejectsBrokenStateFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("components:\n  - version: 1\n"), 0o644))
	_, err := NewLocalHost(path, dir, WithLocalLogger(logging.Nop()))
	assert.Error(t, err)
}

func TestWatchReloadsStateAndPushes(t *testing.T) {
	host, statePath, logDir := newTestHost(t, sampleState)
	notifier := &recordingNotifier{}
	host.Link(notifier)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- host.Watch(ctx, WithWatchDebounce(20*time.Millisecond)) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()
	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(statePath, []byte("components:\n  - name: solo\n"), 0o644))
	assert.Eventually(t, func() bool {
		return notifier.has(notification{"list", ""}) &&
			notifier.has(notification{"graph", ""}) &&
			notifier.has(notification{"change", "solo"})
	}, 3*time.Second, 20*time.Millisecond)

	items, err := host.GetComponentList()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "solo", items[0].Name)

	require.NoError(t, os.WriteFile(filepath.Join(logDir, "new.log"), nil, 0o644))
	assert.Eventually(t, func() bool {
		return notifier.has(notification{"logs", ""})
	}, 3*time.Second, 20*time.Millisecond)
}
