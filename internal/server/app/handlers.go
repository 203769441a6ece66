package app

import (
	"errors"

	apperrors "debugconsole/internal/errors"
	"debugconsole/internal/hostapi"
	"debugconsole/internal/protocol"
)

// handlerFunc serves one authenticated call and returns the RESPONSE payload.
type handlerFunc func(conn Conn, args []string) any

var errPubSubUnavailable = errors.New("pub/sub is not available")

func (s *DashboardServer) routes() map[protocol.Call]handlerFunc {
	return map[protocol.Call]handlerFunc{
		protocol.CallGetDeviceDetails:           s.handleGetDeviceDetails,
		protocol.CallGetComponentList:           s.handleGetComponentList,
		protocol.CallGetComponent:               s.handleGetComponent,
		protocol.CallGetExtensions:              s.handleGetExtensions,
		protocol.CallStartComponent:             s.handleStartComponent,
		protocol.CallStopComponent:              s.handleStopComponent,
		protocol.CallReinstallComponent:         s.handleReinstallComponent,
		protocol.CallGetConfig:                  s.handleGetConfig,
		protocol.CallUpdateConfig:               s.handleUpdateConfig,
		protocol.CallSubscribeToComponent:       s.handleSubscribeToComponent,
		protocol.CallUnsubscribeToComponent:     s.handleUnsubscribeToComponent,
		protocol.CallSubscribeToComponentLogs:   s.handleSubscribeToComponentLogs,
		protocol.CallUnsubscribeToComponentLogs: s.handleUnsubscribeToComponentLogs,
		protocol.CallForcePushComponentList:     s.handleForcePushComponentList,
		protocol.CallForcePushDependencyGraph:   s.handleForcePushDependencyGraph,
		protocol.CallForcePushLogList:           s.handleForcePushLogList,
		protocol.CallSubscribeToPubSubTopic:     s.handleSubscribeToPubSubTopic,
		protocol.CallPublishToPubSubTopic:       s.handlePublishToPubSubTopic,
		protocol.CallUnsubscribeToPubSubTopic:   s.handleUnsubscribeToPubSubTopic,
		protocol.CallListClientDevices:          s.handleListClientDevices,
	}
}

func checkArgs(call protocol.Call, args []string, want int) error {
	if len(args) != want {
		return apperrors.InvalidArgument(string(call), "expected %d argument(s), got %d", want, len(args))
	}
	return nil
}

// result turns a collaborator outcome into a RESPONSE payload: the value, or
// the error text.
func (s *DashboardServer) result(call protocol.Call, value any, err error) any {
	if err != nil {
		s.logger.Warn("Call %s failed: %v", call, err)
		return apperrors.ClientMessage(err)
	}
	return value
}

func (s *DashboardServer) handleGetDeviceDetails(_ Conn, _ []string) any {
	details, err := s.host.GetDeviceDetails()
	return s.result(protocol.CallGetDeviceDetails, details, apperrors.Upstream("getDeviceDetails", err))
}

func (s *DashboardServer) handleGetComponentList(_ Conn, _ []string) any {
	items, err := s.host.GetComponentList()
	return s.result(protocol.CallGetComponentList, items, apperrors.Upstream("getComponentList", err))
}

func (s *DashboardServer) handleGetComponent(_ Conn, args []string) any {
	call := protocol.CallGetComponent
	if err := checkArgs(call, args, 1); err != nil {
		return s.result(call, nil, err)
	}
	details, err := s.host.GetComponent(args[0])
	return s.result(call, details, apperrors.Upstream(string(call), err))
}

// getExtensions takes an optional page type and an optional component name.
func (s *DashboardServer) handleGetExtensions(_ Conn, args []string) any {
	call := protocol.CallGetExtensions
	if len(args) > 2 {
		return s.result(call, nil, apperrors.InvalidArgument(string(call), "expected at most 2 arguments, got %d", len(args)))
	}
	var pageType, component string
	if len(args) > 0 {
		pageType = args[0]
	}
	if len(args) > 1 {
		component = args[1]
	}
	extensions, err := s.host.GetExtensions(pageType, component)
	return s.result(call, extensions, apperrors.Upstream(string(call), err))
}

func (s *DashboardServer) handleStartComponent(_ Conn, args []string) any {
	return s.lifecycle(protocol.CallStartComponent, args, s.host.StartComponent)
}

func (s *DashboardServer) handleStopComponent(_ Conn, args []string) any {
	return s.lifecycle(protocol.CallStopComponent, args, s.host.StopComponent)
}

func (s *DashboardServer) handleReinstallComponent(_ Conn, args []string) any {
	return s.lifecycle(protocol.CallReinstallComponent, args, s.host.ReinstallComponent)
}

func (s *DashboardServer) lifecycle(call protocol.Call, args []string, fn func(string) (bool, error)) any {
	if err := checkArgs(call, args, 1); err != nil {
		return s.result(call, nil, err)
	}
	ok, err := fn(args[0])
	return s.result(call, ok, apperrors.Upstream(string(call), err))
}

func (s *DashboardServer) handleGetConfig(_ Conn, args []string) any {
	call := protocol.CallGetConfig
	if err := checkArgs(call, args, 1); err != nil {
		return s.result(call, nil, err)
	}
	msg, err := s.host.GetConfig(args[0])
	return s.result(call, msg, apperrors.Upstream(string(call), err))
}

func (s *DashboardServer) handleUpdateConfig(_ Conn, args []string) any {
	call := protocol.CallUpdateConfig
	if err := checkArgs(call, args, 2); err != nil {
		return s.result(call, nil, err)
	}
	msg, err := s.host.UpdateConfig(args[0], args[1])
	return s.result(call, msg, apperrors.Upstream(string(call), err))
}

// Subscribing to a component answers with its current state first, then
// follows changes.
func (s *DashboardServer) handleSubscribeToComponent(conn Conn, args []string) any {
	call := protocol.CallSubscribeToComponent
	if err := checkArgs(call, args, 1); err != nil {
		return s.result(call, nil, err)
	}
	name := args[0]
	if err := s.statusWatches.Subscribe(name, conn, nil); err != nil {
		return s.result(call, nil, err)
	}
	s.pushComponentChangeTo(conn, name)
	return true
}

func (s *DashboardServer) handleUnsubscribeToComponent(conn Conn, args []string) any {
	call := protocol.CallUnsubscribeToComponent
	if err := checkArgs(call, args, 1); err != nil {
		return s.result(call, nil, err)
	}
	s.statusWatches.Unsubscribe(args[0], conn.ID(), nil)
	return true
}

// The first watcher of a log starts its tailer and the last one to leave stops
// it, both in the same atomic step as the watchlist change.
func (s *DashboardServer) handleSubscribeToComponentLogs(conn Conn, args []string) any {
	call := protocol.CallSubscribeToComponentLogs
	if err := checkArgs(call, args, 1); err != nil {
		return s.result(call, nil, err)
	}
	name := args[0]
	err := s.logWatches.Subscribe(name, conn, func() error {
		return s.tailers.Start(name)
	})
	if err != nil {
		return s.result(call, nil, err)
	}
	return true
}

func (s *DashboardServer) handleUnsubscribeToComponentLogs(conn Conn, args []string) any {
	call := protocol.CallUnsubscribeToComponentLogs
	if err := checkArgs(call, args, 1); err != nil {
		return s.result(call, nil, err)
	}
	name := args[0]
	s.logWatches.Unsubscribe(name, conn.ID(), func() {
		s.tailers.Stop(name)
	})
	return true
}

func (s *DashboardServer) handleForcePushComponentList(_ Conn, _ []string) any {
	s.PushComponentListUpdate()
	return true
}

func (s *DashboardServer) handleForcePushDependencyGraph(_ Conn, _ []string) any {
	s.PushDependencyGraphUpdate()
	return true
}

func (s *DashboardServer) handleForcePushLogList(_ Conn, _ []string) any {
	s.PushLogList()
	return true
}

func (s *DashboardServer) handleSubscribeToPubSubTopic(conn Conn, args []string) any {
	call := protocol.CallSubscribeToPubSubTopic
	if err := checkArgs(call, args, 1); err != nil {
		return s.result(call, nil, err)
	}
	if s.bridge == nil {
		return s.result(call, nil, errPubSubUnavailable)
	}
	if _, err := s.bridge.Subscribe(conn, args[0]); err != nil {
		return s.result(call, nil, apperrors.Upstream(string(call), unwrapBridge(err)))
	}
	return true
}

func (s *DashboardServer) handlePublishToPubSubTopic(_ Conn, args []string) any {
	call := protocol.CallPublishToPubSubTopic
	if err := checkArgs(call, args, 2); err != nil {
		return s.result(call, nil, err)
	}
	if s.bridge == nil {
		return s.result(call, nil, errPubSubUnavailable)
	}
	if err := s.bridge.Publish(args[0], []byte(args[1])); err != nil {
		return s.result(call, nil, apperrors.Upstream(string(call), unwrapBridge(err)))
	}
	return true
}

func (s *DashboardServer) handleUnsubscribeToPubSubTopic(conn Conn, args []string) any {
	call := protocol.CallUnsubscribeToPubSubTopic
	if err := checkArgs(call, args, 1); err != nil {
		return s.result(call, nil, err)
	}
	if s.bridge == nil {
		return true
	}
	if _, err := s.bridge.Unsubscribe(conn.ID(), args[0]); err != nil {
		return s.result(call, nil, apperrors.Upstream(string(call), unwrapBridge(err)))
	}
	return true
}

func (s *DashboardServer) handleListClientDevices(_ Conn, _ []string) any {
	if s.clientDevices == nil {
		return hostapi.ListClientDevicesResponse{ErrorMsg: "client device API is not available"}
	}
	resp, err := s.clientDevices.ListClientDevices()
	if err != nil {
		s.logger.Warn("Call %s failed: %v", protocol.CallListClientDevices, err)
		return hostapi.ListClientDevicesResponse{ErrorMsg: err.Error()}
	}
	if resp.ClientDevices == nil {
		resp.ClientDevices = []hostapi.ClientDevice{}
	}
	return resp
}

// unwrapBridge peels the bridge's context wrapping so the client sees the
// collaborator's own message.
func unwrapBridge(err error) error {
	if inner := errors.Unwrap(err); inner != nil {
		return inner
	}
	return err
}
