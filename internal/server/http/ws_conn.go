package http

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"debugconsole/internal/logging"
	"debugconsole/internal/server/app"
)

var errSendTimeout = errors.New("send queue full")

// wsConn adapts one websocket to app.Conn. Writes go through a buffered
// queue drained by a single writer goroutine, since gorilla connections
// allow one concurrent writer.
type wsConn struct {
	id     string
	remote string
	socket *websocket.Conn
	logger logging.Logger

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration

	auth      atomic.Bool
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(socket *websocket.Conn, remote string, cfg Config, logger logging.Logger) *wsConn {
	return &wsConn{
		id:         uuid.NewString(),
		remote:     remote,
		socket:     socket,
		logger:     logger,
		writeWait:  cfg.WriteWait,
		pongWait:   cfg.PongWait,
		pingPeriod: cfg.PongWait * 9 / 10,
		send:       make(chan []byte, cfg.SendQueue),
		done:       make(chan struct{}),
	}
}

func (c *wsConn) ID() string               { return c.id }
func (c *wsConn) RemoteAddr() string       { return c.remote }
func (c *wsConn) Authenticated() bool      { return c.auth.Load() }
func (c *wsConn) SetAuthenticated(ok bool) { c.auth.Store(ok) }

// Send queues data for the writer. It waits at most writeWait for room and
// reports app.ErrNotConnected once the connection is closed.
func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.done:
		return app.ErrNotConnected
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
	}

	timer := time.NewTimer(c.writeWait)
	defer timer.Stop()
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return app.ErrNotConnected
	case <-timer.C:
		return errSendTimeout
	}
}

// close marks the connection closed; the writer then sends a close frame and
// releases the socket.
func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *wsConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.socket.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.socket.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.writeWait))
			return
		case data := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.socket.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("Write to %s failed: %v", c.remote, err)
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait)); err != nil {
				c.logger.Debug("Ping to %s failed: %v", c.remote, err)
				c.close()
				return
			}
		}
	}
}

// readLoop feeds inbound text frames to the dashboard until the socket fails.
// It returns the error that ended the connection, nil for a clean close.
func (c *wsConn) readLoop(server *app.DashboardServer, maxMessageBytes int64) error {
	c.socket.SetReadLimit(maxMessageBytes)
	_ = c.socket.SetReadDeadline(time.Now().Add(c.pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		kind, data, err := c.socket.ReadMessage()
		if err != nil {
			return readFailure(err, c.closed())
		}
		if kind != websocket.TextMessage {
			c.logger.Debug("Ignoring non-text frame from %s", c.remote)
			continue
		}
		server.OnMessage(c, data)
	}
}

// readFailure maps the error that ended a read loop to the one worth
// reporting. Orderly close frames and reads failing after a local close are
// not failures; read limit violations, pong timeouts and resets are.
func readFailure(err error, closedLocally bool) error {
	if err == nil || closedLocally {
		return nil
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && !websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return nil
	}
	return err
}

var _ app.Conn = (*wsConn)(nil)
