package app

import (
	"errors"
	"net"
	"sort"

	"go.uber.org/multierr"

	"debugconsole/internal/auth"
	"debugconsole/internal/hostapi"
	"debugconsole/internal/logging"
	"debugconsole/internal/observability"
	"debugconsole/internal/protocol"
	"debugconsole/internal/pubsub"
	"debugconsole/internal/syncmap"
	"debugconsole/internal/tailer"
	"debugconsole/internal/watchlist"
)

// Deps are the collaborators a DashboardServer cannot run without. Upstream
// may be nil, in which case pub/sub calls answer with an error.
type Deps struct {
	Host          hostapi.API
	Authenticator auth.Authenticator
	Upstream      pubsub.Upstream
	LogDir        string
}

// Option customizes a DashboardServer.
type Option func(*DashboardServer)

// WithLogger sets the dispatcher logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *DashboardServer) {
		s.logger = logging.OrNop(logger)
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder Recorder) Option {
	return func(s *DashboardServer) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithInitLimiter throttles init attempts per remote host.
func WithInitLimiter(limiter *auth.InitLimiter) Option {
	return func(s *DashboardServer) {
		s.limiter = limiter
	}
}

// WithClientDevices serves listClientDevices from api.
func WithClientDevices(api hostapi.ClientDeviceAPI) Option {
	return func(s *DashboardServer) {
		s.clientDevices = api
	}
}

// WithPlugins registers plugins offered unrecognised calls.
func WithPlugins(plugins ...Plugin) Option {
	return func(s *DashboardServer) {
		s.plugins = append(s.plugins, plugins...)
	}
}

// WithTailerOptions passes options to the log tailer manager.
func WithTailerOptions(opts ...tailer.Option) Option {
	return func(s *DashboardServer) {
		s.tailerOpts = append(s.tailerOpts, opts...)
	}
}

// DashboardServer routes dashboard requests and pushes host state to
// connected clients. All methods are safe for concurrent use; transports call
// OnOpen, OnMessage, OnClose and OnError from any goroutine.
type DashboardServer struct {
	host          hostapi.API
	authenticator auth.Authenticator
	clientDevices hostapi.ClientDeviceAPI
	limiter       *auth.InitLimiter
	plugins       []Plugin
	logger        logging.Logger
	metrics       Recorder
	tailerOpts    []tailer.Option

	conns         *syncmap.Map[string, Conn]
	statusWatches *watchlist.Watchlist[Conn]
	logWatches    *watchlist.Watchlist[Conn]
	tailers       *tailer.Manager
	bridge        *pubsub.Bridge

	handlers map[protocol.Call]handlerFunc
}

// NewDashboardServer wires the registries around deps.
func NewDashboardServer(deps Deps, opts ...Option) *DashboardServer {
	s := &DashboardServer{
		host:          deps.Host,
		authenticator: deps.Authenticator,
		logger:        logging.NewComponentLogger("DashboardServer"),
		metrics:       nopRecorder{},
		conns:         syncmap.New[string, Conn](),
		statusWatches: watchlist.New[Conn](),
		logWatches:    watchlist.New[Conn](),
	}
	for _, opt := range opts {
		opt(s)
	}

	tailerOpts := append([]tailer.Option{
		tailer.WithLogger(s.logger),
		tailer.WithMetrics(s.metrics),
	}, s.tailerOpts...)
	s.tailers = tailer.NewManager(deps.LogDir, s.PushLogLine, tailerOpts...)

	if deps.Upstream != nil {
		s.bridge = pubsub.NewBridge(deps.Upstream, s,
			pubsub.WithBridgeLogger(s.logger),
			pubsub.WithBridgeMetrics(s.metrics))
	}
	s.handlers = s.routes()
	return s
}

// OnOpen registers a new, unauthenticated connection.
func (s *DashboardServer) OnOpen(conn Conn) {
	if conn == nil {
		return
	}
	conn.SetAuthenticated(false)
	s.conns.Store(conn.ID(), conn)
	s.metrics.ConnectionOpened()
	s.connLogger(conn).Info("New connection from %s", conn.RemoteAddr())
}

// OnMessage handles one inbound text frame.
func (s *DashboardServer) OnMessage(conn Conn, data []byte) {
	if conn == nil {
		return
	}
	packed, err := protocol.Decode(data)
	if err != nil {
		s.logger.Error("Unable to process the incoming message from %s: %v", conn.RemoteAddr(), err)
		return
	}
	req := packed.Request
	s.logger.Debug("Client API call %s from %s", req.Call, conn.RemoteAddr())

	call, known := protocol.ParseCall(req.Call)
	if !known {
		if conn.Authenticated() && s.offerToPlugins(conn, packed) {
			return
		}
		s.reply(conn, packed.RequestID, req.Call)
		return
	}
	s.metrics.RequestReceived(string(call))

	if call == protocol.CallInit {
		s.handleInit(conn, packed)
		return
	}
	if !conn.Authenticated() {
		s.logger.Warn("Ignoring %s from unauthenticated connection %s", req.Call, conn.RemoteAddr())
		s.reply(conn, packed.RequestID, protocol.NotAuthenticated)
		return
	}

	handler, ok := s.handlers[call]
	if !ok {
		s.reply(conn, packed.RequestID, req.Call)
		return
	}
	s.reply(conn, packed.RequestID, handler(conn, req.Args))
}

// OnClose forgets conn everywhere: the connection set, both watchlists (log
// tailers whose last watcher leaves are stopped) and its pub/sub
// subscriptions. Calling it again is a no-op.
func (s *DashboardServer) OnClose(conn Conn) {
	if conn == nil {
		return
	}
	id := conn.ID()
	_, wasOpen := s.conns.LoadAndDelete(id)

	s.statusWatches.RemoveAll(id, nil)
	s.logWatches.RemoveAll(id, func(name string) {
		s.tailers.Stop(name)
	})
	if s.bridge != nil {
		if err := s.bridge.Close(id); err != nil {
			s.connLogger(conn).Warn("Revoking pub/sub subscriptions of %s: %v", conn.RemoteAddr(), err)
		}
	}
	if !wasOpen {
		return
	}
	for _, p := range s.plugins {
		s.notifyPluginClose(p, conn)
	}
	s.metrics.ConnectionClosed()
	s.connLogger(conn).Info("Closed connection %s", conn.RemoteAddr())
}

// OnError logs a transport error for conn, which may be nil.
func (s *DashboardServer) OnError(conn Conn, err error) {
	addr := "<nil>"
	if conn != nil {
		addr = conn.RemoteAddr()
	}
	s.logger.Error("An error occurred on connection %s: %v", addr, err)
}

// ClearSubscriptions drops every watch and subscription but keeps
// connections open.
func (s *DashboardServer) ClearSubscriptions() {
	s.statusWatches.Clear()
	s.logWatches.Drain(func(name string) {
		s.tailers.Stop(name)
	})
	if s.bridge != nil {
		if err := s.bridge.CloseAll(); err != nil {
			s.logger.Warn("Clearing pub/sub subscriptions: %v", err)
		}
	}
}

// Shutdown stops every tailer and revokes every pub/sub subscription.
func (s *DashboardServer) Shutdown() error {
	s.statusWatches.Clear()
	s.logWatches.Drain(func(name string) {
		s.tailers.Stop(name)
	})
	var errs error
	if s.bridge != nil {
		errs = multierr.Append(errs, s.bridge.CloseAll())
	}
	s.logger.Info("Dashboard server stopped")
	return errs
}

// ConnectionCount returns the number of open connections.
func (s *DashboardServer) ConnectionCount() int {
	return s.conns.Len()
}

// TailerNames returns the log files currently followed, sorted.
func (s *DashboardServer) TailerNames() []string {
	return s.tailers.Names()
}

// StatusWatchKeys returns the components with status watchers, sorted.
func (s *DashboardServer) StatusWatchKeys() []string {
	keys := s.statusWatches.Keys()
	sort.Strings(keys)
	return keys
}

// LogWatchKeys returns the log files with watchers, sorted.
func (s *DashboardServer) LogWatchKeys() []string {
	keys := s.logWatches.Keys()
	sort.Strings(keys)
	return keys
}

// PubSubTopics returns the topics conn is subscribed to, sorted.
func (s *DashboardServer) PubSubTopics(connID string) []string {
	if s.bridge == nil {
		return nil
	}
	return s.bridge.Topics(connID)
}

func (s *DashboardServer) handleInit(conn Conn, packed protocol.PackedRequest) {
	args := packed.Request.Args
	logger := s.connLogger(conn)
	var payload any = protocol.NotAuthenticated
	switch {
	case len(args) != 2:
		logger.Error("Connection %s sent init with %d argument(s)", conn.RemoteAddr(), len(args))
	case !s.limiter.Allow(remoteHost(conn.RemoteAddr())):
		logger.Warn("Throttled init from %s", conn.RemoteAddr())
	case s.authenticator == nil || !s.authenticator.Validate(args[0], args[1]):
		logger.Error("Connection %s is not authenticated", conn.RemoteAddr())
	default:
		conn.SetAuthenticated(true)
		payload = true
		logger.Info("Connection %s authenticated", conn.RemoteAddr())
	}

	// The init answer bypasses the gate so a rejected client learns why.
	msg := protocol.NewResponse(packed.RequestID, payload)
	data, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error("Unable to stringify the init response: %v", err)
		s.metrics.PushRecorded(string(msg.Type), observability.PushFailed)
		return
	}
	s.deliver(conn, string(msg.Type), data)
}

// connLogger tags log lines with the connection id.
func (s *DashboardServer) connLogger(conn Conn) logging.Logger {
	return logging.WithLogID(s.logger, conn.ID())
}

func (s *DashboardServer) offerToPlugins(conn Conn, packed protocol.PackedRequest) bool {
	reply := func(msg protocol.Message) { s.sendIfOpen(conn, msg) }
	for _, p := range s.plugins {
		if s.pluginHandles(p, conn, packed, reply) {
			return true
		}
	}
	return false
}

func (s *DashboardServer) pluginHandles(p Plugin, conn Conn, packed protocol.PackedRequest, reply func(protocol.Message)) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Plugin %s panicked on %s: %v", p.Name(), packed.Request.Call, r)
			handled = true
		}
	}()
	return p.HandleCall(conn, packed, reply)
}

func (s *DashboardServer) notifyPluginClose(p Plugin, conn Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Plugin %s panicked on close: %v", p.Name(), r)
		}
	}()
	p.OnConnectionClose(conn)
}

func (s *DashboardServer) reply(conn Conn, requestID int64, payload any) {
	s.sendIfOpen(conn, protocol.NewResponse(requestID, payload))
}

// sendIfOpen is the only path for responses and pushes: nothing reaches a
// connection that is nil or unauthenticated, and send failures never
// propagate.
func (s *DashboardServer) sendIfOpen(conn Conn, msg protocol.Message) bool {
	kind := string(msg.Type)
	if conn == nil || !conn.Authenticated() {
		s.metrics.PushRecorded(kind, observability.PushSkipped)
		return false
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error("Unable to stringify the %s message: %v", kind, err)
		s.metrics.PushRecorded(kind, observability.PushFailed)
		return false
	}
	return s.deliver(conn, kind, data)
}

// sendEncoded applies the same gate to an already encoded message.
func (s *DashboardServer) sendEncoded(conn Conn, kind string, data []byte) bool {
	if conn == nil || !conn.Authenticated() {
		s.metrics.PushRecorded(kind, observability.PushSkipped)
		return false
	}
	return s.deliver(conn, kind, data)
}

func (s *DashboardServer) deliver(conn Conn, kind string, data []byte) bool {
	if err := conn.Send(data); err != nil {
		if errors.Is(err, ErrNotConnected) {
			s.metrics.PushRecorded(kind, observability.PushDropped)
			return false
		}
		s.logger.Debug("Send %s to %s failed: %v", kind, conn.RemoteAddr(), err)
		s.metrics.PushRecorded(kind, observability.PushFailed)
		return false
	}
	s.metrics.PushRecorded(kind, observability.PushSent)
	return true
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
