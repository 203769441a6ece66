// Package http serves the dashboard websocket and its operational endpoints.
package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"debugconsole/internal/async"
	"debugconsole/internal/logging"
	"debugconsole/internal/server/app"
	"debugconsole/internal/syncmap"
)

// Config tunes the websocket transport.
type Config struct {
	// AllowedOrigins lists browser origins allowed to connect. Empty or "*"
	// allows any origin.
	AllowedOrigins  []string
	SendQueue       int
	WriteWait       time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
}

func (c Config) withDefaults() Config {
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 1 << 20
	}
	return c
}

func (c Config) allowAllOrigins() bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, origin := range c.AllowedOrigins {
		if strings.TrimSpace(origin) == "*" {
			return true
		}
	}
	return false
}

// Transport owns the live websocket connections.
type Transport struct {
	server   *app.DashboardServer
	cfg      Config
	logger   logging.Logger
	upgrader websocket.Upgrader
	started  time.Time

	conns *syncmap.Map[string, *wsConn]
}

// NewTransport builds the websocket transport for server.
func NewTransport(server *app.DashboardServer, cfg Config, logger logging.Logger) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		server:  server,
		cfg:     cfg,
		logger:  logging.OrNop(logger),
		started: time.Now(),
		conns:   syncmap.New[string, *wsConn](),
	}
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     t.checkOrigin,
	}
	return t
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || t.cfg.allowAllOrigins() {
		return true
	}
	for _, allowed := range t.cfg.AllowedOrigins {
		if strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	t.logger.Warn("Rejected websocket from origin %s", origin)
	return false
}

// NewRouter registers the websocket, health and metrics routes.
func NewRouter(t *Transport, metrics http.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(t.logger))

	corsConfig := cors.DefaultConfig()
	if t.cfg.allowAllOrigins() {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = t.cfg.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	engine.GET("/", t.HandleWebSocket)
	engine.GET("/ws", t.HandleWebSocket)
	engine.GET("/health", t.handleHealth)
	if metrics != nil {
		engine.GET("/metrics", gin.WrapH(metrics))
	}
	return engine
}

func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s from %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.ClientIP(), c.Writer.Status(), time.Since(start))
	}
}

// HealthResponse is served by /health.
type HealthResponse struct {
	Status      string   `json:"status"`
	Connections int      `json:"connections"`
	Tailers     []string `json:"tailers"`
	Uptime      string   `json:"uptime"`
}

func (t *Transport) handleHealth(c *gin.Context) {
	tailers := t.server.TailerNames()
	if tailers == nil {
		tailers = []string{}
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		Connections: t.server.ConnectionCount(),
		Tailers:     tailers,
		Uptime:      time.Since(t.started).Truncate(time.Second).String(),
	})
}

// HandleWebSocket upgrades the request and serves the connection until it
// closes.
func (t *Transport) HandleWebSocket(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.String(http.StatusUpgradeRequired, "websocket upgrade required")
		return
	}
	socket, err := t.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		t.logger.Warn("Websocket upgrade from %s failed: %v", c.Request.RemoteAddr, err)
		return
	}

	conn := newWSConn(socket, c.Request.RemoteAddr, t.cfg, t.logger)
	t.conns.Store(conn.ID(), conn)
	t.server.OnOpen(conn)
	async.Go(t.logger, "ws.write."+conn.ID(), conn.writeLoop)

	defer func() {
		conn.close()
		t.conns.Delete(conn.ID())
		t.server.OnClose(conn)
	}()
	if err := conn.readLoop(t.server, t.cfg.MaxMessageBytes); err != nil {
		t.server.OnError(conn, err)
	}
}

// CloseAll closes every live websocket.
func (t *Transport) CloseAll() {
	t.conns.Range(func(_ string, conn *wsConn) bool {
		conn.close()
		return true
	})
}

// Connections returns the number of live websockets.
func (t *Transport) Connections() int {
	return t.conns.Len()
}
