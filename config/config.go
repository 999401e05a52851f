package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	logger "github.com/relayforge/relayforge/log"
	"github.com/spf13/pflag"
)

// Config holds the application configuration shared by the ingest service
// and the worker process; each binary only reads the sections relevant to
// it.
type Config struct {
	Log        LogConfig        `koanf:"log"`
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	NATS       NATSConfig       `koanf:"nats"`
	Worker     WorkerConfig     `koanf:"worker"`
	Retry      RetryConfig      `koanf:"retry"`
	Credential CredentialConfig `koanf:"credential"`

	// Internal fields (not marshaled by koanf)
	k      *koanf.Koanf
	logger logger.Logger
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `koanf:"level"`
}

// ServerConfig holds HTTP server configuration for the ingest service.
type ServerConfig struct {
	Port string `koanf:"port"`
}

// DatabaseConfig holds database connection configuration. URL, when set,
// takes precedence over the discrete host/port/user fields.
type DatabaseConfig struct {
	Driver   string `koanf:"driver"`
	URL      string `koanf:"url"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
	Schema   string `koanf:"schema"`
	SSLMode  string `koanf:"sslmode"`
}

// NATSConfig holds connection configuration for the cascade fast-path
// broadcast. An unreachable NATS server is logged and not fatal: the
// reaper's slower DB-poll path remains the correctness backstop.
type NATSConfig struct {
	URL          string `koanf:"url"`
	ClientID     string `koanf:"clientid"`
	MaxReconnect int    `koanf:"maxreconnect"`
}

// WorkerConfig holds the delivery worker's runtime configuration, matching
// the environment-backed surface enumerated for the worker process.
type WorkerConfig struct {
	Name                 string `koanf:"name"`
	Concurrency          int    `koanf:"concurrency"`
	PollIntervalMS       int    `koanf:"poll_interval_ms"`
	ClaimBatchSize       int    `koanf:"claim_batch_size"`
	RequestTimeoutSecs   int    `koanf:"request_timeout_secs"`
	DisableTargetIPCheck bool   `koanf:"disable_target_ip_check"`
	AllowedPorts         []int  `koanf:"allowed_ports"`
}

// RetryConfig holds the system-wide retry schedule applied to every
// retryable delivery failure, expressed as parseable duration strings.
type RetryConfig struct {
	Schedule []string `koanf:"schedule"`
}

// CredentialConfig holds the ingestion-token verification key. The
// control plane that issues tokens is out of scope; the ingest service
// only needs the public half to verify them.
type CredentialConfig struct {
	PublicKeyHex string `koanf:"public_key_hex"`
}

// Option configures Config during initialization.
type Option func(*configOptions) error

// configOptions holds option values during initialization.
type configOptions struct {
	prefix       string
	file         string
	defaults     map[string]interface{}
	envExpansion bool
	workerEnv    bool
}

// WithPrefix sets the environment variable prefix (e.g., "WORKER_").
func WithPrefix(prefix string) Option {
	return func(opts *configOptions) error {
		opts.prefix = prefix
		return nil
	}
}

// WithFile loads configuration from a YAML file.
func WithFile(path string) Option {
	return func(opts *configOptions) error {
		opts.file = path
		return nil
	}
}

// WithDefaults provides default values via a map.
func WithDefaults(defaults map[string]interface{}) Option {
	return func(opts *configOptions) error {
		opts.defaults = defaults
		return nil
	}
}

// WithEnvExpansion enables ${VAR} expansion in config files.
func WithEnvExpansion() Option {
	return func(opts *configOptions) error {
		opts.envExpansion = true
		return nil
	}
}

// workerEnvAliases maps the worker process's documented environment
// surface onto config paths. These are loaded on top of the prefixed
// variables, so either spelling works; the enumerated names win when both
// are set.
var workerEnvAliases = map[string]string{
	"DATABASE_URL":            "database.url",
	"WORKER_NAME":             "worker.name",
	"WORKER_CONCURRENCY":      "worker.concurrency",
	"POLL_INTERVAL_MS":        "worker.poll_interval_ms",
	"CLAIM_BATCH_SIZE":        "worker.claim_batch_size",
	"REQUEST_TIMEOUT_SECS":    "worker.request_timeout_secs",
	"DISABLE_TARGET_IP_CHECK": "worker.disable_target_ip_check",
	"ALLOWED_PORTS":           "worker.allowed_ports",
}

// WithWorkerEnv loads the worker's enumerated environment variables
// (DATABASE_URL, WORKER_NAME, WORKER_CONCURRENCY, POLL_INTERVAL_MS,
// CLAIM_BATCH_SIZE, REQUEST_TIMEOUT_SECS, DISABLE_TARGET_IP_CHECK,
// ALLOWED_PORTS) without any prefix, on top of whatever WithPrefix loads.
func WithWorkerEnv() Option {
	return func(opts *configOptions) error {
		opts.workerEnv = true
		return nil
	}
}

// New creates a new Config with logger and options.
func New(log logger.Logger, opts ...Option) (*Config, error) {
	cfg := &Config{
		logger: log,
		k:      koanf.New("."),
	}

	options := &configOptions{
		prefix:       "",
		file:         "",
		defaults:     make(map[string]interface{}),
		envExpansion: false,
	}

	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	baselineDefaults := map[string]interface{}{
		"log.level":                         "info",
		"server.port":                       ":8080",
		"database.driver":                   "fake",
		"database.url":                      "",
		"database.host":                     "localhost",
		"database.port":                     5432,
		"database.user":                     "dev",
		"database.password":                 "dev",
		"database.database":                 "dev",
		"database.schema":                   "relayforge",
		"database.sslmode":                  "disable",
		"nats.url":                          "nats://localhost:4222",
		"nats.clientid":                     "",
		"nats.maxreconnect":                 10,
		"worker.name":                       "",
		"worker.concurrency":                16,
		"worker.poll_interval_ms":           1000,
		"worker.claim_batch_size":           0,
		"worker.request_timeout_secs":       30,
		"worker.disable_target_ip_check":    false,
		"worker.allowed_ports":              []int{80, 443},
		"credential.public_key_hex":         "",
		"retry.schedule":                    []string{"30s", "2m", "10m", "1h", "6h"},
	}

	for k, v := range baselineDefaults {
		if _, exists := options.defaults[k]; !exists {
			options.defaults[k] = v
		}
	}

	if err := cfg.k.Load(confmap.Provider(options.defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if options.file != "" {
		raw, err := os.ReadFile(options.file)
		if err != nil {
			log.Debugf("Config file not found: %s (using defaults)", options.file)
		} else {
			if options.envExpansion {
				raw = []byte(os.ExpandEnv(string(raw)))
			}
			if err := cfg.k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			log.Debugf("Loaded config from file: %s", options.file)
		}
	}

	if options.prefix != "" {
		if err := cfg.k.Load(env.Provider(options.prefix, ".", func(s string) string {
			return strings.Replace(strings.ToLower(
				strings.TrimPrefix(s, options.prefix)), "_", ".", -1)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load environment variables: %w", err)
		}
	}

	if options.workerEnv {
		// ALLOWED_PORTS is a comma-separated list; split it here so it
		// unmarshals into worker.allowed_ports as a slice.
		if err := cfg.k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
			path := workerEnvAliases[key]
			if path == "" {
				return "", nil
			}
			if key == "ALLOWED_PORTS" {
				return path, strings.Split(value, ",")
			}
			return path, value
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load worker environment variables: %w", err)
		}
	}

	if err := cfg.k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Worker.ClaimBatchSize == 0 {
		cfg.Worker.ClaimBatchSize = cfg.Worker.Concurrency
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	log.Infof("Configuration loaded: driver=%s, port=%s, log=%s",
		cfg.Database.Driver, cfg.Server.Port, cfg.Log.Level)

	return cfg, nil
}

// GetString returns the string value for the given path.
func (c *Config) GetString(path string) string {
	return c.k.String(path)
}

// GetInt returns the int value for the given path.
func (c *Config) GetInt(path string) int {
	return c.k.Int(path)
}

// GetBool returns the bool value for the given path.
func (c *Config) GetBool(path string) bool {
	return c.k.Bool(path)
}

// GetFloat returns the float64 value for the given path.
func (c *Config) GetFloat(path string) float64 {
	return c.k.Float64(path)
}

// GetDuration parses and returns a time.Duration for the given path.
func (c *Config) GetDuration(path string) (time.Duration, error) {
	s := c.k.String(path)
	if s == "" {
		return 0, fmt.Errorf("no value found for path: %s", path)
	}
	return time.ParseDuration(s)
}

// Exists returns true if the given path exists in the configuration.
func (c *Config) Exists(path string) bool {
	return c.k.Exists(path)
}

// RetrySchedule parses Retry.Schedule into durations, in order. A malformed
// entry is a fatal configuration error: the worker must not silently run
// with a shorter-than-intended retry ladder.
func (c *Config) RetrySchedule() ([]time.Duration, error) {
	schedule := make([]time.Duration, 0, len(c.Retry.Schedule))
	for _, s := range c.Retry.Schedule {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid retry.schedule entry %q: %w", s, err)
		}
		schedule = append(schedule, d)
	}
	return schedule, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	validDrivers := map[string]bool{"fake": true, "postgres": true, "pq": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of 'fake', 'postgres', 'pq', got '%s'", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" || c.Database.Driver == "pq" {
		if c.Database.Host == "" && c.Database.URL == "" {
			return fmt.Errorf("database.host or database.url is required for %s driver", c.Database.Driver)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be 'debug', 'info', or 'error', got '%s'", c.Log.Level)
	}

	if c.Worker.Concurrency < 0 {
		return fmt.Errorf("worker.concurrency must not be negative")
	}

	c.logger.Debugf("Configuration validated successfully")

	return nil
}

// LoadConfig loads configuration from a YAML file with environment variable
// and command-line flag overrides.
//
// Deprecated: Use New() with the Option pattern instead.
func LoadConfig(path, envPrefix string, args []string) (*Config, error) {
	log := logger.NewLogger("info")

	cfg, err := New(log,
		WithPrefix(envPrefix),
		WithFile(path),
		WithEnvExpansion(),
	)
	if err != nil {
		return nil, err
	}

	if len(args) > 1 {
		k := cfg.k
		fs := pflag.NewFlagSet(args[0], pflag.ExitOnError)
		fs.String("log.level", cfg.Log.Level, "Log level (debug, info, error)")
		fs.String("server.port", cfg.Server.Port, "HTTP server port")
		fs.String("database.driver", cfg.Database.Driver, "Database driver (fake, postgres)")
		fs.String("database.host", cfg.Database.Host, "Database host")
		fs.Int("database.port", cfg.Database.Port, "Database port")
		fs.String("database.user", cfg.Database.User, "Database user")
		fs.String("database.password", cfg.Database.Password, "Database password")
		fs.String("database.database", cfg.Database.Database, "Database name")
		fs.String("database.schema", cfg.Database.Schema, "Database schema")
		fs.String("database.sslmode", cfg.Database.SSLMode, "Database SSL mode")
		fs.String("worker.name", cfg.Worker.Name, "Worker name")
		fs.Int("worker.concurrency", cfg.Worker.Concurrency, "Worker concurrency")
		fs.Parse(args[1:])

		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return nil, fmt.Errorf("cannot load flags: %w", err)
		}

		if err := k.Unmarshal("", cfg); err != nil {
			return nil, fmt.Errorf("cannot unmarshal config: %w", err)
		}
	}

	return cfg, nil
}

// ConnectionString builds a PostgreSQL connection string with schema support.
// A configured URL (DATABASE_URL) wins over the discrete fields.
func (d DatabaseConfig) ConnectionString() string {
	if d.URL != "" {
		return d.URL
	}

	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)

	if d.Schema != "" {
		connStr += fmt.Sprintf(" search_path=%s", d.Schema)
	}

	return connStr
}
