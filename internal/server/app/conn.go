package app

import (
	"errors"

	"debugconsole/internal/observability"
	"debugconsole/internal/protocol"
)

// ErrNotConnected is returned by Conn.Send once the peer has gone away.
var ErrNotConnected = errors.New("connection is not open")

// Conn is the dashboard's view of one client connection. The transport owns
// it; the server only keys registries by ID and writes through Send.
type Conn interface {
	ID() string
	RemoteAddr() string
	// Send writes one text frame. It returns ErrNotConnected after close and
	// must not block beyond normal write backpressure.
	Send(data []byte) error
	Authenticated() bool
	SetAuthenticated(bool)
}

// Plugin extends the dashboard with calls it does not know.
type Plugin interface {
	Name() string
	// HandleCall reports whether the plugin consumed req. reply sends through
	// the same gate as every other response.
	HandleCall(conn Conn, req protocol.PackedRequest, reply func(protocol.Message)) bool
	OnConnectionClose(conn Conn)
}

// Recorder receives dispatcher metrics. *observability.Metrics implements it.
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	RequestReceived(call string)
	PushRecorded(kind, outcome string)
	TailersChanged(delta int)
	PubSubChanged(delta int)
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened()           {}
func (nopRecorder) ConnectionClosed()           {}
func (nopRecorder) RequestReceived(string)      {}
func (nopRecorder) PushRecorded(string, string) {}
func (nopRecorder) TailersChanged(int)          {}
func (nopRecorder) PubSubChanged(int)           {}

var _ Recorder = (*observability.Metrics)(nil)
