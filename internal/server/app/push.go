package app

import (
	"debugconsole/internal/hostapi"
	"debugconsole/internal/protocol"
	"debugconsole/internal/pubsub"
)

// PushComponentListUpdate sends the component list to every connection.
func (s *DashboardServer) PushComponentListUpdate() {
	items, err := s.host.GetComponentList()
	if err != nil {
		s.logger.Error("Component list unavailable for broadcast: %v", err)
		return
	}
	s.broadcast(protocol.NewPush(protocol.ComponentList, items))
}

// PushDependencyGraphUpdate sends the dependency graph to every connection.
func (s *DashboardServer) PushDependencyGraphUpdate() {
	graph, err := s.host.GetDependencyGraph()
	if err != nil {
		s.logger.Error("Dependency graph unavailable for broadcast: %v", err)
		return
	}
	s.broadcast(protocol.NewPush(protocol.DepsGraph, graph))
}

// PushLogList sends the list of log files to every connection.
func (s *DashboardServer) PushLogList() {
	logs, err := s.host.GetLogList()
	if err != nil {
		s.logger.Error("Log list unavailable for broadcast: %v", err)
		return
	}
	s.broadcast(protocol.NewPush(protocol.LogList, logs))
}

// PushComponentChange sends the current state of name to its watchers.
func (s *DashboardServer) PushComponentChange(name string) {
	if !s.statusWatches.Has(name) {
		return
	}
	msg := s.componentChange(name)
	data, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error("Unable to stringify the %s message: %v", msg.Type, err)
		return
	}
	s.statusWatches.Fanout(name, func(conn Conn) {
		s.sendEncoded(conn, string(msg.Type), data)
	})
}

// PushLogLine sends one line of log file name to its watchers.
func (s *DashboardServer) PushLogLine(name, line string) {
	msg := protocol.NewPush(protocol.ComponentLogs, protocol.LogItem{Name: name, Log: line})
	data, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error("Unable to stringify the %s message: %v", msg.Type, err)
		return
	}
	s.logWatches.Fanout(name, func(conn Conn) {
		s.sendEncoded(conn, string(msg.Type), data)
	})
}

// DeliverPubSub sends a bridged message to the connection that subscribed.
func (s *DashboardServer) DeliverPubSub(owner pubsub.Owner, msg protocol.PubSubMessage) {
	if owner == nil {
		return
	}
	conn, ok := owner.(Conn)
	if !ok {
		if conn, ok = s.conns.Load(owner.ID()); !ok {
			return
		}
	}
	s.sendIfOpen(conn, protocol.NewPush(protocol.PubSubMsg, msg))
}

func (s *DashboardServer) pushComponentChangeTo(conn Conn, name string) {
	s.sendIfOpen(conn, s.componentChange(name))
}

// componentChange builds the COMPONENT_CHANGE push for name. The payload is
// null when the host cannot report the component.
func (s *DashboardServer) componentChange(name string) protocol.Message {
	details, err := s.host.GetComponent(name)
	if err != nil {
		s.logger.Warn("State of component %s unavailable: %v", name, err)
		return protocol.NewPush(protocol.ComponentChange, nil)
	}
	return protocol.NewPush(protocol.ComponentChange, details)
}

func (s *DashboardServer) broadcast(msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error("Unable to stringify the %s message: %v", msg.Type, err)
		return
	}
	kind := string(msg.Type)
	s.conns.Range(func(_ string, conn Conn) bool {
		s.sendEncoded(conn, kind, data)
		return true
	})
}

var (
	_ hostapi.Notifier = (*DashboardServer)(nil)
	_ pubsub.Sink      = (*DashboardServer)(nil)
)
