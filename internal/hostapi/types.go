// Package hostapi defines the host query/command contract the dashboard relies
// on, and a file-backed host used when the console runs standalone.
package hostapi

// Component lifecycle states reported by the host.
const (
	StateNew       = "NEW"
	StateInstalled = "INSTALLED"
	StateRunning   = "RUNNING"
	StateFinished  = "FINISHED"
	StateErrored   = "ERRORED"
	StateBroken    = "BROKEN"
)

// DeviceDetails describes the device the console runs on.
type DeviceDetails struct {
	OS             string `json:"os" yaml:"os"`
	Version        string `json:"version" yaml:"version"`
	NucleusVersion string `json:"nucleusVersion" yaml:"nucleusVersion"`
	RootPath       string `json:"rootPath" yaml:"rootPath"`
	LogStore       string `json:"logStore" yaml:"logStore"`
	ThingName      string `json:"thingName" yaml:"thingName"`
}

// ComponentItem is one entry of the component list.
type ComponentItem struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Status   string `json:"status"`
	Origin   string `json:"origin"`
	CanStart bool   `json:"canStart"`
	CanStop  bool   `json:"canStop"`
	IsPlugin bool   `json:"isPlugin"`
}

// Dependency is an edge of the dependency graph.
type Dependency struct {
	Name string `json:"name" yaml:"name"`
	Hard bool   `json:"hard" yaml:"hard"`
}

// ComponentDetails is the full view of one component.
type ComponentDetails struct {
	ComponentItem
	Description  string       `json:"description"`
	CanReinstall bool         `json:"canReinstall"`
	Dependencies []Dependency `json:"dependencies"`
}

// DepGraphNode is one node of the dependency graph.
type DepGraphNode struct {
	Name     string       `json:"name"`
	Children []Dependency `json:"children"`
}

// ConfigMessage carries a component configuration as YAML, or why it could
// not be read or written.
type ConfigMessage struct {
	Successful bool   `json:"successful"`
	YAML       string `json:"yaml"`
	ErrorMsg   string `json:"errorMsg"`
}

// Extension is a UI bundle contributed for a page.
type Extension struct {
	Name          string `json:"name" yaml:"name"`
	PageType      string `json:"pageType" yaml:"pageType"`
	Component     string `json:"component,omitempty" yaml:"component"`
	ExtensionPath string `json:"extensionPath" yaml:"path"`
}

// ClientDevice is a device that authenticated through the local broker.
type ClientDevice struct {
	ThingName string `json:"thingName" yaml:"thingName"`
}

// ListClientDevicesResponse is the listClientDevices reply.
type ListClientDevicesResponse struct {
	Successful    bool           `json:"successful"`
	ErrorMsg      string         `json:"errorMsg"`
	ClientDevices []ClientDevice `json:"clientDevices"`
}

// API is the host query/command surface consumed by the dashboard. Every
// failure is returned as an error; none may panic.
type API interface {
	GetDeviceDetails() (DeviceDetails, error)
	GetComponentList() ([]ComponentItem, error)
	GetComponent(name string) (ComponentDetails, error)
	GetConfig(name string) (ConfigMessage, error)
	UpdateConfig(name, yaml string) (ConfigMessage, error)
	StartComponent(name string) (bool, error)
	StopComponent(name string) (bool, error)
	ReinstallComponent(name string) (bool, error)
	GetDependencyGraph() ([]DepGraphNode, error)
	GetExtensions(pageType, component string) ([]Extension, error)
	GetLogList() ([]string, error)
}

// ClientDeviceAPI lists client devices known to the host.
type ClientDeviceAPI interface {
	ListClientDevices() (ListClientDevicesResponse, error)
}

// Notifier is called back by the host when its state changes.
type Notifier interface {
	PushComponentListUpdate()
	PushComponentChange(name string)
	PushDependencyGraphUpdate()
	PushLogList()
}
