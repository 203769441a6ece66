// Package config loads the console settings from defaults, an optional YAML
// file, DEBUG_CONSOLE_* environment variables and bound command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"debugconsole/internal/auth"
)

// EnvPrefix namespaces environment overrides: server.port is read from
// DEBUG_CONSOLE_SERVER_PORT.
const EnvPrefix = "DEBUG_CONSOLE"

// Config is the full console configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Host    HostConfig    `mapstructure:"host" yaml:"host"`
	PubSub  PubSubConfig  `mapstructure:"pubsub" yaml:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// ServerConfig covers the HTTP listener and websocket transport.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	SendQueue       int           `mapstructure:"send_queue" yaml:"send_queue"`
	WriteWait       time.Duration `mapstructure:"write_wait" yaml:"write_wait"`
	PongWait        time.Duration `mapstructure:"pong_wait" yaml:"pong_wait"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig covers dashboard credentials and init throttling.
type AuthConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	// PasswordHash is an Argon2id or bcrypt hash. When empty a password is
	// generated at startup and logged once.
	PasswordHash string        `mapstructure:"password_hash" yaml:"password_hash"`
	PasswordTTL  time.Duration `mapstructure:"password_ttl" yaml:"password_ttl"`
	// InitRate is the number of init attempts allowed per minute and remote
	// host. Zero disables throttling.
	InitRate    int `mapstructure:"init_rate" yaml:"init_rate"`
	InitBurst   int `mapstructure:"init_burst" yaml:"init_burst"`
	LimiterSize int `mapstructure:"limiter_size" yaml:"limiter_size"`
}

// HostConfig locates the host state the console serves.
type HostConfig struct {
	StateFile     string        `mapstructure:"state_file" yaml:"state_file"`
	LogDir        string        `mapstructure:"log_dir" yaml:"log_dir"`
	Watch         bool          `mapstructure:"watch" yaml:"watch"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce" yaml:"watch_debounce"`
	TailPoll      time.Duration `mapstructure:"tail_poll" yaml:"tail_poll"`
}

// PubSubConfig toggles the in-process pub/sub bus.
type PubSubConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

var defaults = map[string]any{
	"server.host":              "localhost",
	"server.port":              1441,
	"server.allowed_origins":   []string{},
	"server.send_queue":        256,
	"server.write_wait":        10 * time.Second,
	"server.pong_wait":         60 * time.Second,
	"server.max_message_bytes": 1 << 20,
	"server.shutdown_timeout":  10 * time.Second,
	"auth.username":            auth.DefaultUsername,
	"auth.password_hash":       "",
	"auth.password_ttl":        8 * time.Hour,
	"auth.init_rate":           10,
	"auth.init_burst":          5,
	"auth.limiter_size":        1024,
	"host.state_file":          "./debug-console/state.yaml",
	"host.log_dir":             "./debug-console/logs",
	"host.watch":               true,
	"host.watch_debounce":      750 * time.Millisecond,
	"host.tail_poll":           250 * time.Millisecond,
	"pubsub.enabled":           true,
	"logging.level":            "info",
	"logging.format":           "text",
	"metrics.enabled":          true,
}

// NewViper returns a viper instance carrying the defaults and environment
// bindings. Callers may bind flags on it before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (when non-empty) into v and decodes the result.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)
	return cfg, nil
}

// splitList accepts both YAML lists and comma separated environment values.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("server.send_queue must be positive"))
	}
	if c.Server.MaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_message_bytes must be positive"))
	}
	if c.Server.WriteWait <= 0 || c.Server.PongWait <= 0 {
		errs = append(errs, fmt.Errorf("server.write_wait and server.pong_wait must be positive"))
	}
	if strings.TrimSpace(c.Auth.Username) == "" {
		errs = append(errs, fmt.Errorf("auth.username is required"))
	}
	if c.Auth.PasswordHash != "" {
		if err := auth.ValidateHash(c.Auth.PasswordHash); err != nil {
			errs = append(errs, fmt.Errorf("auth.password_hash: %w", err))
		}
	}
	if c.Auth.InitRate < 0 || c.Auth.InitBurst < 0 || c.Auth.LimiterSize < 0 {
		errs = append(errs, fmt.Errorf("auth init limits must not be negative"))
	}
	if strings.TrimSpace(c.Host.LogDir) == "" {
		errs = append(errs, fmt.Errorf("host.log_dir is required"))
	}
	if strings.TrimSpace(c.Host.StateFile) == "" {
		errs = append(errs, fmt.Errorf("host.state_file is required"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not json or text", c.Logging.Format))
	}
	return multierr.Combine(errs...)
}
