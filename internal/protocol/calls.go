package protocol

// Call names a request a client may issue.
type Call string

const (
	CallInit                       Call = "init"
	CallGetDeviceDetails           Call = "getDeviceDetails"
	CallGetComponentList           Call = "getComponentList"
	CallGetComponent               Call = "getComponent"
	CallGetExtensions              Call = "getExtensions"
	CallStartComponent             Call = "startComponent"
	CallStopComponent              Call = "stopComponent"
	CallReinstallComponent         Call = "reinstallComponent"
	CallGetConfig                  Call = "getConfig"
	CallUpdateConfig               Call = "updateConfig"
	CallSubscribeToComponent       Call = "subscribeToComponent"
	CallUnsubscribeToComponent     Call = "unsubscribeToComponent"
	CallSubscribeToComponentLogs   Call = "subscribeToComponentLogs"
	CallUnsubscribeToComponentLogs Call = "unsubscribeToComponentLogs"
	CallForcePushComponentList     Call = "forcePushComponentList"
	CallForcePushDependencyGraph   Call = "forcePushDependencyGraph"
	CallForcePushLogList           Call = "forcePushLogList"
	CallSubscribeToPubSubTopic     Call = "subscribeToPubSubTopic"
	CallPublishToPubSubTopic       Call = "publishToPubSubTopic"
	CallUnsubscribeToPubSubTopic   Call = "unsubscribeToPubSubTopic"
	CallListClientDevices          Call = "listClientDevices"
)

var knownCalls = map[Call]struct{}{
	CallInit:                       {},
	CallGetDeviceDetails:           {},
	CallGetComponentList:           {},
	CallGetComponent:               {},
	CallGetExtensions:              {},
	CallStartComponent:             {},
	CallStopComponent:              {},
	CallReinstallComponent:         {},
	CallGetConfig:                  {},
	CallUpdateConfig:               {},
	CallSubscribeToComponent:       {},
	CallUnsubscribeToComponent:     {},
	CallSubscribeToComponentLogs:   {},
	CallUnsubscribeToComponentLogs: {},
	CallForcePushComponentList:     {},
	CallForcePushDependencyGraph:   {},
	CallForcePushLogList:           {},
	CallSubscribeToPubSubTopic:     {},
	CallPublishToPubSubTopic:       {},
	CallUnsubscribeToPubSubTopic:   {},
	CallListClientDevices:          {},
}

// ParseCall reports whether name is a recognised call. Names are case sensitive.
func ParseCall(name string) (Call, bool) {
	call := Call(name)
	_, ok := knownCalls[call]
	return call, ok
}

// Calls returns every recognised call name.
func Calls() []Call {
	out := make([]Call, 0, len(knownCalls))
	for call := range knownCalls {
		out = append(out, call)
	}
	return out
}
