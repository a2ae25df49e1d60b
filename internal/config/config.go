package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/runger/focus/internal/now"
)

// Config represents the focus configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Engine  EngineConfig  `yaml:"engine"`
	Limits  LimitsConfig  `yaml:"limits"`
	Client  ClientConfig  `yaml:"client"`
}

// ServerConfig holds daemon HTTP settings.
type ServerConfig struct {
	ListenAddr        string `yaml:"listen_addr"`         // host:port the daemon binds
	ReadTimeoutMs     int    `yaml:"read_timeout_ms"`     // Max time to read a request
	WriteTimeoutMs    int    `yaml:"write_timeout_ms"`    // Max time to write a response
	ShutdownTimeoutMs int    `yaml:"shutdown_timeout_ms"` // Grace period for in-flight requests
}

// StorageConfig holds database settings.
type StorageConfig struct {
	DBPath         string `yaml:"db_path"`          // SQLite file (empty = XDG data dir)
	EventLimit     int    `yaml:"event_limit"`      // Recent events carried in a bundle
	FetchTimeoutMs int    `yaml:"fetch_timeout_ms"` // Bundle fetch deadline
	RetentionDays  int    `yaml:"retention_days"`   // Age at which events and finished items are pruned (0 = keep)
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
	File   string `yaml:"file"`   // Log file path (empty = stderr)
}

// EngineConfig tunes the focus engine.
type EngineConfig struct {
	Weights             now.Weights `yaml:"weights"`
	CooldownHours       float64     `yaml:"cooldown_hours"`       // Defer window
	ConfidenceThreshold float64     `yaml:"confidence_threshold"` // Minimum confidence to present a pick
	MarginThreshold     float64     `yaml:"margin_threshold"`     // Minimum lead over the runner-up
	FuturesLimit        int         `yaml:"futures_limit"`        // Alternatives returned with a pick
	Recency             string      `yaml:"recency"`              // baseline or touched
	UserIntent          string      `yaml:"user_intent"`          // baseline or override
}

// LimitsConfig holds request rate limits.
type LimitsConfig struct {
	ExecutePerSecond float64 `yaml:"execute_per_second"` // Per-user execute rate (0 = unlimited)
	ExecuteBurst     int     `yaml:"execute_burst"`      // Per-user execute burst
	MaxBodyBytes     int64   `yaml:"max_body_bytes"`     // Request body cap
}

// ClientConfig holds CLI client settings.
type ClientConfig struct {
	ServerURL string `yaml:"server_url"` // Daemon base URL
	User      string `yaml:"user"`       // Default user id
	TimeoutMs int    `yaml:"timeout_ms"` // Request timeout
}

// Strategy names accepted in the engine section.
const (
	StrategyBaseline = "baseline"
	StrategyTouched  = "touched"
	StrategyOverride = "override"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:        "127.0.0.1:7437",
			ReadTimeoutMs:     5000,
			WriteTimeoutMs:    10000,
			ShutdownTimeoutMs: 5000,
		},
		Storage: StorageConfig{
			DBPath:         "",
			EventLimit:     50,
			FetchTimeoutMs: 5000,
			RetentionDays:  90,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			Weights:             now.DefaultWeights(),
			CooldownHours:       now.DefaultCooldown.Hours(),
			ConfidenceThreshold: now.ConfidenceThreshold,
			MarginThreshold:     now.MarginThreshold,
			FuturesLimit:        now.DefaultFuturesLimit,
			Recency:             StrategyBaseline,
			UserIntent:          StrategyBaseline,
		},
		Limits: LimitsConfig{
			ExecutePerSecond: 5,
			ExecuteBurst:     10,
			MaxBodyBytes:     1 << 20,
		},
		Client: ClientConfig{
			ServerURL: "http://127.0.0.1:7437",
			User:      defaultUser(),
			TimeoutMs: 3000,
		},
	}
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "default"
}

// Load loads .env from the working directory, then the configuration from
// the default location.
func Load() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	return LoadFromFile(DefaultPaths().ConfigFile())
}

// LoadDotEnv loads variables from a dotenv file without overriding ones
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadFromFile loads configuration from path. A missing file yields the
// defaults with environment overrides applied.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DBPath returns the configured database path or the XDG default.
func (c *Config) DBPath() string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return DefaultPaths().DatabaseFile()
}

// CooldownDuration returns the engine cooldown as a duration.
func (c *Config) CooldownDuration() time.Duration {
	return time.Duration(c.Engine.CooldownHours * float64(time.Hour))
}

// ShutdownTimeout returns the server grace period.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutMs) * time.Millisecond
}

// EngineOptions translates the engine section into engine options.
func (c *Config) EngineOptions() (now.Options, error) {
	opts := now.Options{
		Weights: c.Engine.Weights,
		Policy: now.Policy{
			ConfidenceThreshold: c.Engine.ConfidenceThreshold,
			MarginThreshold:     c.Engine.MarginThreshold,
			FuturesLimit:        c.Engine.FuturesLimit,
		},
		Cooldown: c.CooldownDuration(),
	}

	switch c.Engine.Recency {
	case "", StrategyBaseline:
		opts.Recency = now.BaselineRecency
	case StrategyTouched:
		opts.Recency = now.TouchedRecency
	default:
		return now.Options{}, fmt.Errorf("unknown recency strategy: %s", c.Engine.Recency)
	}

	switch c.Engine.UserIntent {
	case "", StrategyBaseline:
		opts.UserIntent = now.BaselineUserIntent
	case StrategyOverride:
		opts.UserIntent = now.OverrideIntent
	default:
		return now.Options{}, fmt.Errorf("unknown user_intent strategy: %s", c.Engine.UserIntent)
	}
	return opts, nil
}

// Get returns a config value by "section.key".
func (c *Config) Get(key string) (string, error) {
	section, field, err := splitKey(key)
	if err != nil {
		return "", err
	}

	switch section {
	case "server":
		return c.getServerField(field)
	case "storage":
		return c.getStorageField(field)
	case "log":
		return c.getLogField(field)
	case "engine":
		return c.getEngineField(field)
	case "limits":
		return c.getLimitsField(field)
	case "client":
		return c.getClientField(field)
	default:
		return "", fmt.Errorf("unknown section: %s", section)
	}
}

// Set updates a config value by "section.key". Only the sections a user is
// expected to edit from the CLI are settable.
func (c *Config) Set(key, value string) error {
	section, field, err := splitKey(key)
	if err != nil {
		return err
	}

	switch section {
	case "server":
		if field != "listen_addr" {
			return fmt.Errorf("unknown field: server.%s", field)
		}
		c.Server.ListenAddr = value
	case "log":
		return c.setLogField(field, value)
	case "engine":
		return c.setEngineField(field, value)
	case "client":
		return c.setClientField(field, value)
	default:
		return fmt.Errorf("section %s is not settable", section)
	}
	return nil
}

func splitKey(key string) (string, string, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return "", "", errors.New("key must be in format 'section.key'")
	}
	return parts[0], parts[1], nil
}

func (c *Config) getServerField(field string) (string, error) {
	switch field {
	case "listen_addr":
		return c.Server.ListenAddr, nil
	case "read_timeout_ms":
		return strconv.Itoa(c.Server.ReadTimeoutMs), nil
	case "write_timeout_ms":
		return strconv.Itoa(c.Server.WriteTimeoutMs), nil
	case "shutdown_timeout_ms":
		return strconv.Itoa(c.Server.ShutdownTimeoutMs), nil
	default:
		return "", fmt.Errorf("unknown field: server.%s", field)
	}
}

func (c *Config) getStorageField(field string) (string, error) {
	switch field {
	case "db_path":
		return c.Storage.DBPath, nil
	case "event_limit":
		return strconv.Itoa(c.Storage.EventLimit), nil
	case "fetch_timeout_ms":
		return strconv.Itoa(c.Storage.FetchTimeoutMs), nil
	case "retention_days":
		return strconv.Itoa(c.Storage.RetentionDays), nil
	default:
		return "", fmt.Errorf("unknown field: storage.%s", field)
	}
}

func (c *Config) getLogField(field string) (string, error) {
	switch field {
	case "level":
		return c.Log.Level, nil
	case "format":
		return c.Log.Format, nil
	case "file":
		return c.Log.File, nil
	default:
		return "", fmt.Errorf("unknown field: log.%s", field)
	}
}

func (c *Config) setLogField(field, value string) error {
	switch field {
	case "level":
		if !isValidLogLevel(value) {
			return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, or error)", value)
		}
		c.Log.Level = value
	case "format":
		if !isValidLogFormat(value) {
			return fmt.Errorf("invalid log.format: %s (must be json or text)", value)
		}
		c.Log.Format = value
	case "file":
		c.Log.File = value
	default:
		return fmt.Errorf("unknown field: log.%s", field)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (c *Config) getEngineField(field string) (string, error) {
	switch field {
	case "cooldown_hours":
		return formatFloat(c.Engine.CooldownHours), nil
	case "confidence_threshold":
		return formatFloat(c.Engine.ConfidenceThreshold), nil
	case "margin_threshold":
		return formatFloat(c.Engine.MarginThreshold), nil
	case "futures_limit":
		return strconv.Itoa(c.Engine.FuturesLimit), nil
	case "recency":
		return c.Engine.Recency, nil
	case "user_intent":
		return c.Engine.UserIntent, nil
	default:
		return "", fmt.Errorf("unknown field: engine.%s", field)
	}
}

func (c *Config) setEngineField(field, value string) error {
	parseUnit := func(name string) (float64, error) {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %w", name, err)
		}
		if v <= 0 || v > 1 {
			return 0, fmt.Errorf("invalid %s: must be in (0, 1]", name)
		}
		return v, nil
	}

	switch field {
	case "cooldown_hours":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for cooldown_hours: %w", err)
		}
		if v <= 0 {
			return errors.New("invalid cooldown_hours: must be positive")
		}
		c.Engine.CooldownHours = v
	case "confidence_threshold":
		v, err := parseUnit(field)
		if err != nil {
			return err
		}
		c.Engine.ConfidenceThreshold = v
	case "margin_threshold":
		v, err := parseUnit(field)
		if err != nil {
			return err
		}
		c.Engine.MarginThreshold = v
	case "futures_limit":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for futures_limit: %w", err)
		}
		if v < 1 {
			return errors.New("invalid futures_limit: must be >= 1")
		}
		c.Engine.FuturesLimit = v
	case "recency":
		if value != StrategyBaseline && value != StrategyTouched {
			return fmt.Errorf("invalid recency: %s (must be baseline or touched)", value)
		}
		c.Engine.Recency = value
	case "user_intent":
		if value != StrategyBaseline && value != StrategyOverride {
			return fmt.Errorf("invalid user_intent: %s (must be baseline or override)", value)
		}
		c.Engine.UserIntent = value
	default:
		return fmt.Errorf("unknown field: engine.%s", field)
	}
	return nil
}

func (c *Config) getLimitsField(field string) (string, error) {
	switch field {
	case "execute_per_second":
		return formatFloat(c.Limits.ExecutePerSecond), nil
	case "execute_burst":
		return strconv.Itoa(c.Limits.ExecuteBurst), nil
	case "max_body_bytes":
		return strconv.FormatInt(c.Limits.MaxBodyBytes, 10), nil
	default:
		return "", fmt.Errorf("unknown field: limits.%s", field)
	}
}

func (c *Config) getClientField(field string) (string, error) {
	switch field {
	case "server_url":
		return c.Client.ServerURL, nil
	case "user":
		return c.Client.User, nil
	case "timeout_ms":
		return strconv.Itoa(c.Client.TimeoutMs), nil
	default:
		return "", fmt.Errorf("unknown field: client.%s", field)
	}
}

func (c *Config) setClientField(field, value string) error {
	switch field {
	case "server_url":
		c.Client.ServerURL = value
	case "user":
		c.Client.User = value
	case "timeout_ms":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for timeout_ms: %w", err)
		}
		if v < 0 {
			return errors.New("invalid timeout_ms: must be non-negative")
		}
		c.Client.TimeoutMs = v
	default:
		return fmt.Errorf("unknown field: client.%s", field)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	if c.Server.ReadTimeoutMs < 0 || c.Server.WriteTimeoutMs < 0 || c.Server.ShutdownTimeoutMs < 0 {
		return errors.New("server timeouts must be >= 0")
	}

	if c.Storage.EventLimit < 0 {
		return errors.New("storage.event_limit must be >= 0")
	}
	if c.Storage.FetchTimeoutMs < 0 {
		return errors.New("storage.fetch_timeout_ms must be >= 0")
	}
	if c.Storage.RetentionDays < 0 {
		return errors.New("storage.retention_days must be >= 0")
	}

	if !isValidLogLevel(c.Log.Level) {
		return fmt.Errorf("log.level must be debug, info, warn, or error (got: %s)", c.Log.Level)
	}
	if !isValidLogFormat(c.Log.Format) {
		return fmt.Errorf("log.format must be json or text (got: %s)", c.Log.Format)
	}

	if err := c.Engine.Weights.Validate(); err != nil {
		return fmt.Errorf("engine.weights: %w", err)
	}
	if c.Engine.CooldownHours <= 0 {
		return errors.New("engine.cooldown_hours must be > 0")
	}
	if c.Engine.ConfidenceThreshold <= 0 || c.Engine.ConfidenceThreshold > 1 {
		return errors.New("engine.confidence_threshold must be in (0, 1]")
	}
	if c.Engine.MarginThreshold <= 0 || c.Engine.MarginThreshold > 1 {
		return errors.New("engine.margin_threshold must be in (0, 1]")
	}
	if c.Engine.FuturesLimit < 1 {
		return errors.New("engine.futures_limit must be >= 1")
	}
	if _, err := c.EngineOptions(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	if c.Limits.ExecutePerSecond < 0 || c.Limits.ExecuteBurst < 0 {
		return errors.New("limits must be >= 0")
	}
	if c.Limits.MaxBodyBytes <= 0 {
		return errors.New("limits.max_body_bytes must be > 0")
	}

	if c.Client.TimeoutMs < 0 {
		return errors.New("client.timeout_ms must be >= 0")
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	return format == "json" || format == "text"
}

// ApplyEnvOverrides applies environment variable overrides to the config.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("FOCUS_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("FOCUS_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("FOCUS_LOG_LEVEL"); v != "" {
		if isValidLogLevel(v) {
			c.Log.Level = v
		}
	}
	if v := os.Getenv("FOCUS_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			c.Log.Level = "debug"
		}
	}
	if v := os.Getenv("FOCUS_LOG_FORMAT"); v != "" {
		if isValidLogFormat(v) {
			c.Log.Format = v
		}
	}
	if v := os.Getenv("FOCUS_SERVER_URL"); v != "" {
		c.Client.ServerURL = v
	}
	if v := os.Getenv("FOCUS_USER"); v != "" {
		c.Client.User = v
	}
	if v := os.Getenv("FOCUS_COOLDOWN_HOURS"); v != "" {
		if h, err := strconv.ParseFloat(v, 64); err == nil && h > 0 {
			c.Engine.CooldownHours = h
		}
	}
}

// ListKeys returns the keys `focus config get` understands.
func ListKeys() []string {
	return []string{
		"server.listen_addr",
		"server.read_timeout_ms",
		"server.write_timeout_ms",
		"server.shutdown_timeout_ms",
		"storage.db_path",
		"storage.event_limit",
		"storage.fetch_timeout_ms",
		"storage.retention_days",
		"log.level",
		"log.format",
		"log.file",
		"engine.cooldown_hours",
		"engine.confidence_threshold",
		"engine.margin_threshold",
		"engine.futures_limit",
		"engine.recency",
		"engine.user_intent",
		"limits.execute_per_second",
		"limits.execute_burst",
		"limits.max_body_bytes",
		"client.server_url",
		"client.user",
		"client.timeout_ms",
	}
}
