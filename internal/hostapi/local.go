package hostapi

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
	"gopkg.in/yaml.v3"

	apperrors "debugconsole/internal/errors"
	"debugconsole/internal/logging"
)

type componentState struct {
	Name         string         `yaml:"name"`
	Version      string         `yaml:"version"`
	Status       string         `yaml:"status"`
	Origin       string         `yaml:"origin"`
	Description  string         `yaml:"description"`
	Plugin       bool           `yaml:"plugin"`
	Dependencies []Dependency   `yaml:"dependencies"`
	Config       map[string]any `yaml:"config"`
}

type stateFile struct {
	Device        DeviceDetails    `yaml:"device"`
	Components    []componentState `yaml:"components"`
	Extensions    []Extension      `yaml:"extensions"`
	ClientDevices []ClientDevice   `yaml:"clientDevices"`
}

// LocalHost is an API backed by a YAML state file and a log directory. State
// changes made through the API live in memory until the next Reload.
type LocalHost struct {
	statePath string
	logDir    string
	logger    logging.Logger

	mu         sync.RWMutex
	device     DeviceDetails
	components map[string]*componentState
	extensions []Extension
	clients    []ClientDevice

	notifyMu sync.RWMutex
	notifier Notifier
}

// LocalOption customizes a LocalHost.
type LocalOption func(*LocalHost)

// WithLocalLogger sets the host logger.
func WithLocalLogger(logger logging.Logger) LocalOption {
	return func(h *LocalHost) {
		h.logger = logging.OrNop(logger)
	}
}

// NewLocalHost loads statePath and serves logs from logDir. An empty statePath
// starts with no components.
func NewLocalHost(statePath, logDir string, opts ...LocalOption) (*LocalHost, error) {
	h := &LocalHost{
		statePath:  strings.TrimSpace(statePath),
		logDir:     filepath.Clean(logDir),
		logger:     logging.NewComponentLogger("LocalHost"),
		components: make(map[string]*componentState),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.statePath != "" {
		if abs, err := filepath.Abs(h.statePath); err == nil {
			h.statePath = abs
		}
	}
	if err := h.Reload(); err != nil {
		return nil, err
	}
	return h, nil
}

// Link registers the notifier called on state changes.
func (h *LocalHost) Link(n Notifier) {
	h.notifyMu.Lock()
	h.notifier = n
	h.notifyMu.Unlock()
}

func (h *LocalHost) notify(fn func(Notifier)) {
	h.notifyMu.RLock()
	n := h.notifier
	h.notifyMu.RUnlock()
	if n != nil {
		fn(n)
	}
}

// StatePath returns the absolute state file path, or "".
func (h *LocalHost) StatePath() string {
	return h.statePath
}

// LogDir returns the log directory.
func (h *LocalHost) LogDir() string {
	return h.logDir
}

// Reload replaces the in-memory state with the state file's contents.
func (h *LocalHost) Reload() error {
	var state stateFile
	if h.statePath != "" {
		data, err := os.ReadFile(h.statePath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			h.logger.Warn("State file %s does not exist; starting empty", h.statePath)
		case err != nil:
			return fmt.Errorf("read state file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &state); err != nil {
				return fmt.Errorf("parse state file %s: %w", h.statePath, err)
			}
		}
	}

	components := make(map[string]*componentState, len(state.Components))
	for i := range state.Components {
		c := state.Components[i]
		if c.Name == "" {
			return fmt.Errorf("parse state file %s: component %d has no name", h.statePath, i)
		}
		if c.Status == "" {
			c.Status = StateInstalled
		}
		components[c.Name] = &c
	}
	if state.Device.OS == "" {
		state.Device.OS = runtime.GOOS
	}
	if state.Device.LogStore == "" {
		state.Device.LogStore = h.logDir
	}

	h.mu.Lock()
	h.device = state.Device
	h.components = components
	h.extensions = state.Extensions
	h.clients = state.ClientDevices
	h.mu.Unlock()
	h.logger.Debug("Loaded %d component(s)", len(components))
	return nil
}

// GetDeviceDetails implements API.
func (h *LocalHost) GetDeviceDetails() (DeviceDetails, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.device, nil
}

// GetComponentList implements API.
func (h *LocalHost) GetComponentList() ([]ComponentItem, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	items := make([]ComponentItem, 0, len(h.components))
	for _, c := range h.components {
		items = append(items, c.item())
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// GetComponent implements API.
func (h *LocalHost) GetComponent(name string) (ComponentDetails, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.components[name]
	if !ok {
		return ComponentDetails{}, apperrors.NotFound("component", name)
	}
	return ComponentDetails{
		ComponentItem: c.item(),
		Description:   c.Description,
		CanReinstall:  !c.Plugin,
		Dependencies:  append([]Dependency{}, c.Dependencies...),
	}, nil
}

// GetConfig implements API. An unknown component is reported in the message.
func (h *LocalHost) GetConfig(name string) (ConfigMessage, error) {
	h.mu.RLock()
	c, ok := h.components[name]
	var config map[string]any
	if ok {
		config = c.Config
	}
	h.mu.RUnlock()
	if !ok {
		return ConfigMessage{ErrorMsg: apperrors.NotFound("component", name).Error()}, nil
	}
	if len(config) == 0 {
		return ConfigMessage{Successful: true}, nil
	}
	out, err := yaml.Marshal(config)
	if err != nil {
		return ConfigMessage{ErrorMsg: err.Error()}, nil
	}
	return ConfigMessage{Successful: true, YAML: string(out)}, nil
}

// UpdateConfig implements API. The document must be a YAML mapping; it
// replaces the component's configuration.
func (h *LocalHost) UpdateConfig(name, doc string) (ConfigMessage, error) {
	config := map[string]any{}
	if err := yaml.Unmarshal([]byte(doc), &config); err != nil {
		return ConfigMessage{ErrorMsg: fmt.Sprintf("invalid YAML: %v", err)}, nil
	}

	h.mu.Lock()
	c, ok := h.components[name]
	var previous map[string]any
	if ok {
		previous = c.Config
		c.Config = config
	}
	h.mu.Unlock()
	if !ok {
		return ConfigMessage{ErrorMsg: apperrors.NotFound("component", name).Error()}, nil
	}
	h.logger.Info("Configuration of %s updated", name)
	if patch := configPatch(previous, config); patch != "" {
		h.logger.Debug("Configuration change of %s:\n%s", name, patch)
	}
	h.notify(func(n Notifier) { n.PushComponentChange(name) })
	return h.GetConfig(name)
}

// configPatch renders the change between two configurations as a textual
// patch over their YAML forms. It is empty when nothing changed.
func configPatch(before, after map[string]any) string {
	render := func(config map[string]any) string {
		if len(config) == 0 {
			return ""
		}
		out, err := yaml.Marshal(config)
		if err != nil {
			return ""
		}
		return string(out)
	}
	old, updated := render(before), render(after)
	if old == updated {
		return ""
	}
	dmp := diffmatchpatch.New()
	return dmp.PatchToText(dmp.PatchMake(old, updated))
}

// StartComponent implements API.
func (h *LocalHost) StartComponent(name string) (bool, error) {
	return h.transition(name, func(c *componentState) bool {
		if c.Status == StateRunning {
			return false
		}
		c.Status = StateRunning
		return true
	})
}

// StopComponent implements API.
func (h *LocalHost) StopComponent(name string) (bool, error) {
	return h.transition(name, func(c *componentState) bool {
		if c.Status != StateRunning {
			return false
		}
		c.Status = StateFinished
		return true
	})
}

// ReinstallComponent implements API. Plugins cannot be reinstalled.
func (h *LocalHost) ReinstallComponent(name string) (bool, error) {
	return h.transition(name, func(c *componentState) bool {
		if c.Plugin {
			return false
		}
		c.Status = StateRunning
		return true
	})
}

func (h *LocalHost) transition(name string, fn func(*componentState) bool) (bool, error) {
	h.mu.Lock()
	c, ok := h.components[name]
	changed := ok && fn(c)
	h.mu.Unlock()
	if !ok {
		return false, apperrors.NotFound("component", name)
	}
	if changed {
		h.notify(func(n Notifier) {
			n.PushComponentChange(name)
			n.PushComponentListUpdate()
		})
	}
	return changed, nil
}

// GetDependencyGraph implements API. Nodes are sorted by name.
func (h *LocalHost) GetDependencyGraph() ([]DepGraphNode, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	nodes := make([]DepGraphNode, 0, len(h.components))
	for _, c := range h.components {
		nodes = append(nodes, DepGraphNode{Name: c.Name, Children: append([]Dependency{}, c.Dependencies...)})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}

// GetExtensions implements API. Empty arguments match everything.
func (h *LocalHost) GetExtensions(pageType, component string) ([]Extension, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Extension, 0, len(h.extensions))
	for _, ext := range h.extensions {
		if pageType != "" && ext.PageType != pageType {
			continue
		}
		if component != "" && ext.Component != "" && ext.Component != component {
			continue
		}
		out = append(out, ext)
	}
	return out, nil
}

// GetLogList implements API.
func (h *LocalHost) GetLogList() ([]string, error) {
	entries, err := os.ReadDir(h.logDir)
	if err != nil {
		return nil, apperrors.Upstream("list logs", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), ".log") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ListClientDevices implements ClientDeviceAPI.
func (h *LocalHost) ListClientDevices() (ListClientDevicesResponse, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return ListClientDevicesResponse{
		Successful:    true,
		ClientDevices: append([]ClientDevice{}, h.clients...),
	}, nil
}

func (c *componentState) item() ComponentItem {
	return ComponentItem{
		Name:     c.Name,
		Version:  c.Version,
		Status:   c.Status,
		Origin:   c.Origin,
		CanStart: c.Status != StateRunning,
		CanStop:  c.Status == StateRunning,
		IsPlugin: c.Plugin,
	}
}

var (
	_ API             = (*LocalHost)(nil)
	_ ClientDeviceAPI = (*LocalHost)(nil)
)
