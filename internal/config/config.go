// Package config provides Viper-based configuration loading for the office server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. OFFICEVERSE_HTTP_PORT.
const EnvPrefix = "OFFICEVERSE"

// Directory backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// HTTPConfig holds the listener that serves the websocket endpoints and HTTP API.
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// ReadHeaderTimeout bounds how long a client may take to send request headers.
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	// ShutdownTimeout bounds graceful shutdown of in-flight requests.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// WebSocketConfig holds per-connection websocket settings.
type WebSocketConfig struct {
	ReadBufferSize   int           `mapstructure:"read_buffer_size"`
	WriteBufferSize  int           `mapstructure:"write_buffer_size"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// OutboxSize is the number of frames buffered per connection before sends fail.
	OutboxSize   int           `mapstructure:"outbox_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PingInterval of zero disables keepalive pings.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// AllowedOrigins is matched against the Origin header; empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// PresenceConfig holds movement channel settings.
type PresenceConfig struct {
	// ExcludeSender suppresses echoing a movement broadcast back to its sender.
	ExcludeSender bool `mapstructure:"exclude_sender"`
}

// AdminConfig holds the gRPC health endpoint settings.
type AdminConfig struct {
	GRPCHost string `mapstructure:"grpc_host"`
	GRPCPort int    `mapstructure:"grpc_port"`
}

// Addr returns the "host:port" gRPC address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.GRPCHost, a.GRPCPort)
}

// DirectoryConfig selects the room and player directory implementation.
type DirectoryConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// CompletionConfig holds the text completion provider settings.
type CompletionConfig struct {
	// APIKey may be empty; a key can also be supplied at runtime.
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	MaxTokens       int64         `mapstructure:"max_tokens"`
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxPromptLength int           `mapstructure:"max_prompt_length"`
}

// ZonesConfig locates the zone catalog.
type ZonesConfig struct {
	// CatalogPath may be empty, in which case no zones are named.
	CatalogPath string `mapstructure:"catalog_path"`
}

// Config is the top-level application configuration.
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	Presence   PresenceConfig   `mapstructure:"presence"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Directory  DirectoryConfig  `mapstructure:"directory"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Completion CompletionConfig `mapstructure:"completion"`
	Zones      ZonesConfig      `mapstructure:"zones"`
}

// Validate checks all configuration invariants. Database settings are only
// checked when the postgres directory backend is selected.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	checks := []error{
		validateHTTP(c.HTTP),
		validateWebSocket(c.WebSocket),
		validateAdmin(c.Admin),
		validateDirectory(c.Directory),
		validateLogging(c.Logging),
		validateCompletion(c.Completion),
	}
	if c.Directory.Backend == BackendPostgres {
		checks = append(checks, validateDatabase(c.Database))
	}
	for _, err := range checks {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

func validateHTTP(h HTTPConfig) error {
	var errs []string
	if !validPort(h.Port) {
		errs = append(errs, fmt.Sprintf("http.port must be 1-65535, got %d", h.Port))
	}
	if h.ReadHeaderTimeout < 0 {
		errs = append(errs, "http.read_header_timeout must not be negative")
	}
	if h.ShutdownTimeout < 0 {
		errs = append(errs, "http.shutdown_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateWebSocket(w WebSocketConfig) error {
	var errs []string
	if w.ReadBufferSize < 0 || w.WriteBufferSize < 0 {
		errs = append(errs, "websocket buffer sizes must not be negative")
	}
	if w.MaxMessageSize < 1 {
		errs = append(errs, fmt.Sprintf("websocket.max_message_size must be >= 1, got %d", w.MaxMessageSize))
	}
	if w.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("websocket.outbox_size must be >= 1, got %d", w.OutboxSize))
	}
	if w.WriteTimeout <= 0 {
		errs = append(errs, "websocket.write_timeout must be positive")
	}
	if w.PingInterval < 0 {
		errs = append(errs, "websocket.ping_interval must not be negative")
	}
	if w.HandshakeTimeout < 0 {
		errs = append(errs, "websocket.handshake_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAdmin(a AdminConfig) error {
	var errs []string
	if a.GRPCHost == "" {
		errs = append(errs, "admin.grpc_host must not be empty")
	}
	if !validPort(a.GRPCPort) {
		errs = append(errs, fmt.Sprintf("admin.grpc_port must be 1-65535, got %d", a.GRPCPort))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDirectory(d DirectoryConfig) error {
	switch d.Backend {
	case BackendMemory, BackendPostgres:
		return nil
	default:
		return fmt.Errorf("directory.backend must be one of [memory, postgres], got %q", d.Backend)
	}
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if !validPort(d.Port) {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateCompletion(c CompletionConfig) error {
	var errs []string
	if c.Model == "" {
		errs = append(errs, "completion.model must not be empty")
	}
	if c.MaxTokens < 1 {
		errs = append(errs, fmt.Sprintf("completion.max_tokens must be >= 1, got %d", c.MaxTokens))
	}
	if c.MaxPromptLength < 1 {
		errs = append(errs, fmt.Sprintf("completion.max_prompt_length must be >= 1, got %d", c.MaxPromptLength))
	}
	if c.Timeout < 0 {
		errs = append(errs, "completion.timeout must not be negative")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// NewViper returns a Viper instance with defaults and OFFICEVERSE_ environment
// overrides applied. When path is non-empty it is used as the config file.
//
// Postcondition: Returns a non-nil Viper that has not yet read its config file.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// RegisterFlags declares the command-line overrides on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "configs/dev.yaml", "path to the YAML configuration file")
	fs.Int("http-port", 0, "override http.port")
	fs.String("log-level", "", "override logging.level")
	fs.String("directory-backend", "", "override directory.backend (memory|postgres)")
}

// BindFlags binds the flags declared by RegisterFlags onto v. Flags only take
// effect when set explicitly, so file and environment values win over flag defaults.
//
// Precondition: fs must have been populated by RegisterFlags.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	bindings := map[string]string{
		"http.port":         "http-port",
		"logging.level":     "log-level",
		"directory.backend": "directory-backend",
	}
	for key, name := range bindings {
		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("flag %q is not registered", name)
		}
		if !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %q: %w", name, err)
		}
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_header_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("websocket.read_buffer_size", 4096)
	v.SetDefault("websocket.write_buffer_size", 4096)
	v.SetDefault("websocket.max_message_size", 64*1024)
	v.SetDefault("websocket.handshake_timeout", "5s")
	v.SetDefault("websocket.outbox_size", 256)
	v.SetDefault("websocket.write_timeout", "5s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.allowed_origins", []string{})

	v.SetDefault("presence.exclude_sender", false)

	v.SetDefault("admin.grpc_host", "127.0.0.1")
	v.SetDefault("admin.grpc_port", 50061)

	v.SetDefault("directory.backend", BackendMemory)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "officeverse")
	v.SetDefault("database.password", "officeverse")
	v.SetDefault("database.name", "officeverse")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("completion.api_key", "")
	v.SetDefault("completion.model", "claude-3-5-haiku-latest")
	v.SetDefault("completion.max_tokens", 512)
	v.SetDefault("completion.base_url", "")
	v.SetDefault("completion.timeout", "30s")
	v.SetDefault("completion.max_prompt_length", 500)

	v.SetDefault("zones.catalog_path", "")
}
