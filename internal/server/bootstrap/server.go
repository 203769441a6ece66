// Package bootstrap assembles the console from its configuration and runs it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"debugconsole/internal/auth"
	"debugconsole/internal/config"
	"debugconsole/internal/hostapi"
	"debugconsole/internal/logging"
	"debugconsole/internal/observability"
	"debugconsole/internal/pubsub"
	"debugconsole/internal/server/app"
	serverhttp "debugconsole/internal/server/http"
	"debugconsole/internal/tailer"
)

const (
	pruneInterval          = time.Minute
	limiterEntryTTL        = 10 * time.Minute
	defaultShutdownTimeout = 10 * time.Second
)

// PasswordNotice receives a generated password so it can be shown to the
// operator.
type PasswordNotice func(username, password string, expires time.Time)

// Option customizes a Server.
type Option func(*Server)

// WriterNotice prints a generated password to w. The structured log only
// ever carries the redacted form.
func WriterNotice(w io.Writer) PasswordNotice {
	return func(username, password string, expires time.Time) {
		if expires.IsZero() {
			fmt.Fprintf(w, "Dashboard login: username %s, password %s\n", username, password)
			return
		}
		fmt.Fprintf(w, "Dashboard login: username %s, password %s (expires %s)\n",
			username, password, expires.Format(time.RFC3339))
	}
}

// WithPasswordNotice replaces the default notice, which prints the password
// to stderr.
func WithPasswordNotice(notice PasswordNotice) Option {
	return func(s *Server) {
		if notice != nil {
			s.notice = notice
		}
	}
}

// WithNoticeOutput sets where the default notice prints the password.
func WithNoticeOutput(w io.Writer) Option {
	return func(s *Server) {
		if w != nil {
			s.noticeOutput = w
		}
	}
}

// WithLogOutput sends the structured log to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(s *Server) {
		s.logOutput = w
	}
}

// WithPlugins registers dashboard plugins.
func WithPlugins(plugins ...app.Plugin) Option {
	return func(s *Server) {
		s.plugins = append(s.plugins, plugins...)
	}
}

// WithClientDevices exposes a client device API through listClientDevices.
func WithClientDevices(api hostapi.ClientDeviceAPI) Option {
	return func(s *Server) {
		s.clientDevices = api
	}
}

// Server is the assembled console.
type Server struct {
	cfg    config.Config
	logger logging.Logger
	notice PasswordNotice

	noticeOutput io.Writer
	logOutput    io.Writer

	plugins       []app.Plugin
	clientDevices hostapi.ClientDeviceAPI

	metrics     *observability.Metrics
	credentials *auth.CredentialStore
	host        *hostapi.LocalHost
	dashboard   *app.DashboardServer
	transport   *serverhttp.Transport
	httpServer  *http.Server

	ready chan struct{}
	addr  string
}

// New builds every component from cfg without opening the listener.
func New(cfg config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		cfg:          cfg,
		noticeOutput: os.Stderr,
		ready:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notice == nil {
		s.notice = WriterNotice(s.noticeOutput)
	}

	base := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: s.logOutput,
	})
	logging.SetBase(base)
	s.logger = logging.NewComponentLogger("Bootstrap")

	if err := ensureDirs(cfg.Host); err != nil {
		return nil, err
	}

	metrics, err := observability.NewMetrics(observability.MetricsConfig{Enabled: cfg.Metrics.Enabled})
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	s.metrics = metrics

	s.credentials = auth.NewCredentialStore(cfg.Auth.Username,
		auth.WithStoreLogger(logging.NewComponentLogger("Credentials")))
	if err := s.loadCredentials(); err != nil {
		return nil, err
	}

	host, err := hostapi.NewLocalHost(cfg.Host.StateFile, cfg.Host.LogDir,
		hostapi.WithLocalLogger(logging.NewComponentLogger("LocalHost")))
	if err != nil {
		return nil, fmt.Errorf("load host state: %w", err)
	}
	s.host = host

	deps := app.Deps{
		Host:          host,
		Authenticator: s.credentials,
		LogDir:        cfg.Host.LogDir,
	}
	if cfg.PubSub.Enabled {
		deps.Upstream = pubsub.NewBus()
	}

	dashboardOpts := []app.Option{
		app.WithMetrics(metrics),
		app.WithInitLimiter(auth.NewInitLimiter(auth.LimiterConfig{
			PerMinute: cfg.Auth.InitRate,
			Burst:     cfg.Auth.InitBurst,
			Size:      cfg.Auth.LimiterSize,
			EntryTTL:  limiterEntryTTL,
		})),
		app.WithTailerOptions(
			tailer.WithPollInterval(cfg.Host.TailPoll),
			tailer.WithMaxLineBytes(int(cfg.Server.MaxMessageBytes)),
		),
		app.WithPlugins(s.plugins...),
	}
	if s.clientDevices != nil {
		dashboardOpts = append(dashboardOpts, app.WithClientDevices(s.clientDevices))
	} else {
		dashboardOpts = append(dashboardOpts, app.WithClientDevices(host))
	}
	s.dashboard = app.NewDashboardServer(deps, dashboardOpts...)
	host.Link(s.dashboard)

	s.transport = serverhttp.NewTransport(s.dashboard, serverhttp.Config{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		SendQueue:       cfg.Server.SendQueue,
		WriteWait:       cfg.Server.WriteWait,
		PongWait:        cfg.Server.PongWait,
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
	}, logging.NewComponentLogger("Transport"))

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.Handler()
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           serverhttp.NewRouter(s.transport, metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func ensureDirs(host config.HostConfig) error {
	for _, dir := range []string{host.LogDir, filepath.Dir(host.StateFile)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func (s *Server) loadCredentials() error {
	if s.cfg.Auth.PasswordHash != "" {
		if err := s.credentials.AddHash(s.cfg.Auth.PasswordHash, time.Time{}); err != nil {
			return fmt.Errorf("load password hash: %w", err)
		}
		return nil
	}
	password, expires, err := s.credentials.Issue(s.cfg.Auth.PasswordTTL)
	if err != nil {
		return fmt.Errorf("issue password: %w", err)
	}
	s.logger.Info("Issued debug password %s for user %s", observability.RedactSecret(password), s.credentials.Username())
	s.notice(s.credentials.Username(), password, expires)
	return nil
}

// Ready is closed once the listener accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listen address, valid after Ready.
func (s *Server) Addr() string {
	return s.addr
}

// Dashboard exposes the dispatcher, mainly for diagnostics.
func (s *Server) Dashboard() *app.DashboardServer {
	return s.dashboard
}

// Run serves until ctx is cancelled or a component fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	s.addr = listener.Addr().String()
	s.logger.Info("Debug console listening on %s", s.addr)
	close(s.ready)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	if s.cfg.Host.Watch {
		group.Go(func() error {
			if err := s.host.Watch(groupCtx, hostapi.WithWatchDebounce(s.cfg.Host.WatchDebounce)); err != nil {
				s.logger.Warn("Host watcher stopped, pushes limited to explicit requests: %v", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		s.pruneCredentials(groupCtx)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return s.shutdown()
	})

	return group.Wait()
}

func (s *Server) pruneCredentials(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.credentials.Prune(); n > 0 {
				s.logger.Info("Pruned %d expired password(s)", n)
			}
		}
	}
}

func (s *Server) shutdown() error {
	s.logger.Info("Shutting down debug console...")
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs error
	s.transport.CloseAll()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	errs = multierr.Append(errs, s.dashboard.Shutdown())
	if err := s.metrics.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("metrics shutdown: %w", err))
	}
	s.logger.Info("Debug console stopped")
	return errs
}

// Run builds the console from cfg and serves it until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, opts ...Option) error {
	server, err := New(cfg, opts...)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
