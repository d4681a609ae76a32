// ABOUTME: Configuration loading and parsing for tandem
// ABOUTME: Supports YAML or TOML files with .env loading, environment variable expansion, duration and size parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete tandem configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" toml:"metrics"`
	Sessions    SessionsConfig    `yaml:"sessions" toml:"sessions"`
	Attachments AttachmentsConfig `yaml:"attachments" toml:"attachments"`
	Presence    PresenceConfig    `yaml:"presence" toml:"presence"`
	Events      EventsConfig      `yaml:"events" toml:"events"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// AllowedOrigins lists extra host patterns accepted on WebSocket
	// upgrades; same-origin requests are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// SessionsConfig tunes live WebSocket sessions
type SessionsConfig struct {
	SendBuffer      int     `yaml:"send_buffer" toml:"send_buffer"`
	MaxMessageBytes int64   `yaml:"max_message_bytes" toml:"max_message_bytes"`
	InboundRate     float64 `yaml:"inbound_rate" toml:"inbound_rate"` // actions per second
	InboundBurst    int     `yaml:"inbound_burst" toml:"inbound_burst"`

	WriteTimeout   time.Duration `yaml:"-" toml:"-"`
	TypingCoalesce time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	WriteTimeoutRaw   string `yaml:"write_timeout" toml:"write_timeout"`
	TypingCoalesceRaw string `yaml:"typing_coalesce" toml:"typing_coalesce"`
}

// AttachmentsConfig selects and configures the attachment backend
type AttachmentsConfig struct {
	Backend string   `yaml:"backend" toml:"backend"` // "disk" or "s3"
	Dir     string   `yaml:"dir" toml:"dir"`
	BaseURL string   `yaml:"base_url" toml:"base_url"`
	S3      S3Config `yaml:"s3" toml:"s3"`
	MaxSize int64    `yaml:"-" toml:"-"`

	MaxSizeRaw string `yaml:"max_size" toml:"max_size"` // e.g. "10MB"
}

// S3Config holds S3-compatible object storage settings
type S3Config struct {
	Bucket     string        `yaml:"bucket" toml:"bucket"`
	Region     string        `yaml:"region" toml:"region"`
	Endpoint   string        `yaml:"endpoint" toml:"endpoint"` // for MinIO and other S3-compatible stores
	Prefix     string        `yaml:"prefix" toml:"prefix"`
	PublicRead bool          `yaml:"public_read" toml:"public_read"`
	PresignTTL time.Duration `yaml:"-" toml:"-"`

	PresignTTLRaw string `yaml:"presign_ttl" toml:"presign_ttl"`
}

// PresenceConfig selects the presence tracker backend
type PresenceConfig struct {
	Backend string        `yaml:"backend" toml:"backend"` // "memory" or "redis"
	Redis   RedisConfig   `yaml:"redis" toml:"redis"`
	TTL     time.Duration `yaml:"-" toml:"-"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
}

// EventsConfig configures the downstream event stream
type EventsConfig struct {
	Kafka KafkaConfig `yaml:"kafka" toml:"kafka"`
}

// KafkaConfig holds Kafka producer settings
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" toml:"enabled"`
	Brokers []string `yaml:"brokers" toml:"brokers"`
	Topic   string   `yaml:"topic" toml:"topic"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file next to the config is loaded first if present, without
// overriding variables already set. Environment variables in the format
// ${VAR_NAME} are then expanded. Files ending in .toml are decoded as TOML,
// everything else as YAML. Duration and byte-size strings are parsed and
// defaults applied before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.NewDecoder(strings.NewReader(expandedData)).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Parse duration and size fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := parseSizes(&cfg); err != nil {
		return nil, fmt.Errorf("parsing sizes: %w", err)
	}

	cfg.ApplyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv loads path into the process environment if it exists.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 30 * 24 * time.Hour
	}

	s := &c.Sessions
	if s.SendBuffer <= 0 {
		s.SendBuffer = 64
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 10 * time.Second
	}
	if s.MaxMessageBytes <= 0 {
		s.MaxMessageBytes = 64 << 10
	}
	if s.InboundRate == 0 {
		s.InboundRate = 20
	}
	if s.InboundBurst <= 0 {
		s.InboundBurst = 40
	}
	if s.TypingCoalesceRaw == "" {
		s.TypingCoalesce = 2 * time.Second
	}

	a := &c.Attachments
	if a.Backend == "" {
		a.Backend = "disk"
	}
	if a.BaseURL == "" {
		a.BaseURL = "/media/"
	}
	if a.MaxSize <= 0 {
		a.MaxSize = 10 * humanize.MByte
	}
	if a.S3.PresignTTL == 0 {
		a.S3.PresignTTL = 7 * 24 * time.Hour
	}

	p := &c.Presence
	if p.Backend == "" {
		p.Backend = "memory"
	}
	if p.TTL == 0 {
		p.TTL = 60 * time.Second
	}
	if p.Redis.Prefix == "" {
		p.Redis.Prefix = "tandem:presence:"
	}

	if c.Events.Kafka.Topic == "" {
		c.Events.Kafka.Topic = "tandem.events"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}

	if c.Sessions.InboundRate < 0 {
		return fmt.Errorf("sessions.inbound_rate must not be negative")
	}

	switch c.Attachments.Backend {
	case "disk":
		if c.Attachments.Dir == "" {
			return fmt.Errorf("attachments.dir is required for the disk backend")
		}
	case "s3":
		if c.Attachments.S3.Bucket == "" {
			return fmt.Errorf("attachments.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("attachments.backend %q must be disk or s3", c.Attachments.Backend)
	}

	switch c.Presence.Backend {
	case "memory":
	case "redis":
		if c.Presence.Redis.Addr == "" {
			return fmt.Errorf("presence.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("presence.backend %q must be memory or redis", c.Presence.Backend)
	}

	if c.Events.Kafka.Enabled && len(c.Events.Kafka.Brokers) == 0 {
		return fmt.Errorf("events.kafka.brokers is required when kafka is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"sessions.write_timeout", cfg.Sessions.WriteTimeoutRaw, &cfg.Sessions.WriteTimeout},
		{"sessions.typing_coalesce", cfg.Sessions.TypingCoalesceRaw, &cfg.Sessions.TypingCoalesce},
		{"attachments.s3.presign_ttl", cfg.Attachments.S3.PresignTTLRaw, &cfg.Attachments.S3.PresignTTL},
		{"presence.ttl", cfg.Presence.TTLRaw, &cfg.Presence.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

// parseSizes converts human-readable byte sizes ("10MB", "512 KiB").
func parseSizes(cfg *Config) error {
	if cfg.Attachments.MaxSizeRaw != "" {
		n, err := humanize.ParseBytes(cfg.Attachments.MaxSizeRaw)
		if err != nil {
			return fmt.Errorf("parsing attachments.max_size %q: %w", cfg.Attachments.MaxSizeRaw, err)
		}
		cfg.Attachments.MaxSize = int64(n)
	}
	return nil
}
