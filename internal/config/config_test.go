// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, .env files, env var expansion, duration and size parsing, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "test-secret-that-is-32-bytes-long"
attachments:
  dir: "./media"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:9090"
  allowed_origins: ["chat.example.com"]

database:
  path: "./test.db"

auth:
  jwt_secret: "test-secret-that-is-32-bytes-long"
  token_ttl: "48h"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/internal/metrics"

sessions:
  send_buffer: 128
  write_timeout: "5s"
  max_message_bytes: 4096
  inbound_rate: 5
  inbound_burst: 10
  typing_coalesce: "1500ms"

attachments:
  backend: "s3"
  max_size: "25MB"
  s3:
    bucket: "tandem-media"
    region: "us-east-1"
    endpoint: "http://localhost:9000"
    presign_ttl: "1h"

presence:
  backend: "redis"
  ttl: "30s"
  redis:
    addr: "localhost:6379"
    db: 2

events:
  kafka:
    enabled: true
    brokers: ["localhost:9092", "localhost:9093"]
    topic: "chat.events"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9090")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "chat.example.com" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Auth.TokenTTL != 48*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want 48h", cfg.Auth.TokenTTL)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
	if cfg.Metrics.Path != "/internal/metrics" {
		t.Errorf("Metrics.Path = %q", cfg.Metrics.Path)
	}

	s := cfg.Sessions
	if s.SendBuffer != 128 || s.MaxMessageBytes != 4096 || s.InboundRate != 5 || s.InboundBurst != 10 {
		t.Errorf("Sessions = %+v", s)
	}
	if s.WriteTimeout != 5*time.Second {
		t.Errorf("Sessions.WriteTimeout = %v, want 5s", s.WriteTimeout)
	}
	if s.TypingCoalesce != 1500*time.Millisecond {
		t.Errorf("Sessions.TypingCoalesce = %v, want 1.5s", s.TypingCoalesce)
	}

	a := cfg.Attachments
	if a.Backend != "s3" || a.S3.Bucket != "tandem-media" || a.S3.Endpoint != "http://localhost:9000" {
		t.Errorf("Attachments = %+v", a)
	}
	if a.MaxSize != 25_000_000 {
		t.Errorf("Attachments.MaxSize = %d, want 25000000", a.MaxSize)
	}
	if a.S3.PresignTTL != time.Hour {
		t.Errorf("Attachments.S3.PresignTTL = %v, want 1h", a.S3.PresignTTL)
	}

	if cfg.Presence.Backend != "redis" || cfg.Presence.Redis.DB != 2 || cfg.Presence.TTL != 30*time.Second {
		t.Errorf("Presence = %+v", cfg.Presence)
	}

	k := cfg.Events.Kafka
	if !k.Enabled || len(k.Brokers) != 2 || k.Topic != "chat.events" {
		t.Errorf("Events.Kafka = %+v", k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging defaults = %+v", cfg.Logging)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path default = %q", cfg.Metrics.Path)
	}
	if cfg.Sessions.SendBuffer != 64 {
		t.Errorf("Sessions.SendBuffer default = %d, want 64", cfg.Sessions.SendBuffer)
	}
	if cfg.Sessions.TypingCoalesce != 2*time.Second {
		t.Errorf("Sessions.TypingCoalesce default = %v, want 2s", cfg.Sessions.TypingCoalesce)
	}
	if cfg.Attachments.Backend != "disk" || cfg.Attachments.BaseURL != "/media/" {
		t.Errorf("Attachments defaults = %+v", cfg.Attachments)
	}
	if cfg.Attachments.MaxSize != 10_000_000 {
		t.Errorf("Attachments.MaxSize default = %d", cfg.Attachments.MaxSize)
	}
	if cfg.Presence.Backend != "memory" || cfg.Presence.TTL != time.Minute {
		t.Errorf("Presence defaults = %+v", cfg.Presence)
	}
	if cfg.Events.Kafka.Enabled {
		t.Error("Kafka should be disabled by default")
	}
}

func TestLoad_TypingCoalesceCanBeDisabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", minimalConfig+`
sessions:
  typing_coalesce: "0s"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sessions.TypingCoalesce != 0 {
		t.Errorf("Sessions.TypingCoalesce = %v, want 0", cfg.Sessions.TypingCoalesce)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "tandem.toml", `
[server]
http_addr = "127.0.0.1:8081"

[database]
path = "./toml.db"

[auth]
jwt_secret = "test-secret-that-is-32-bytes-long"

[attachments]
dir = "./media"
max_size = "2 MiB"

[sessions]
write_timeout = "3s"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:8081" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Path != "./toml.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Attachments.MaxSize != 2<<20 {
		t.Errorf("Attachments.MaxSize = %d, want %d", cfg.Attachments.MaxSize, 2<<20)
	}
	if cfg.Sessions.WriteTimeout != 3*time.Second {
		t.Errorf("Sessions.WriteTimeout = %v", cfg.Sessions.WriteTimeout)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_TANDEM_SECRET", "secret-from-env-0123456789abcdef")
	t.Setenv("TEST_TANDEM_REDIS", "redis.internal:6379")

	cfg, err := Load(writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "${TEST_TANDEM_SECRET}"
attachments:
  dir: "./media"
presence:
  backend: redis
  redis:
    addr: "${TEST_TANDEM_REDIS}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != "secret-from-env-0123456789abcdef" {
		t.Errorf("Auth.JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Presence.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Presence.Redis.Addr = %q", cfg.Presence.Redis.Addr)
	}
}

func TestLoad_DotEnvNextToConfig(t *testing.T) {
	const key = "TEST_TANDEM_DOTENV_SECRET"
	os.Unsetenv(key)
	t.Cleanup(func() { os.Unsetenv(key) })

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(key+"=secret-from-dotenv-0123456789abc\n"), 0600); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(dir, "config.yaml")
	content := strings.Replace(minimalConfig, "test-secret-that-is-32-bytes-long", "${"+key+"}", 1)
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "secret-from-dotenv-0123456789abc" {
		t.Errorf("Auth.JWTSecret = %q, want value from .env", cfg.Auth.JWTSecret)
	}
}

func TestLoad_DotEnvDoesNotOverride(t *testing.T) {
	const key = "TEST_TANDEM_DOTENV_KEEP"
	t.Setenv(key, "from-process-environment-0123456")

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(key+"=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(dir, "config.yaml")
	content := strings.Replace(minimalConfig, "test-secret-that-is-32-bytes-long", "${"+key+"}", 1)
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "from-process-environment-0123456" {
		t.Errorf("Auth.JWTSecret = %q, process env should win", cfg.Auth.JWTSecret)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() should return error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", "server:\n  http_addr: [unclosed\n"))
	if err == nil {
		t.Error("Load() should return error for invalid YAML")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", minimalConfig+`
sessions:
  write_timeout: "soon"
`))
	if err == nil {
		t.Fatal("Load() should return error for invalid duration")
	}
	if !strings.Contains(err.Error(), "sessions.write_timeout") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestLoad_InvalidSize(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "x"
attachments:
  dir: "./media"
  max_size: "lots"
`))
	if err == nil {
		t.Fatal("Load() should return error for invalid size")
	}
	if !strings.Contains(err.Error(), "attachments.max_size") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Server:      ServerConfig{HTTPAddr: ":8080"},
			Database:    DatabaseConfig{Path: "./test.db"},
			Auth:        AuthConfig{JWTSecret: "secret"},
			Attachments: AttachmentsConfig{Dir: "./media"},
		}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"missing db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "auth.jwt_secret"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"disk without dir", func(c *Config) { c.Attachments.Dir = "" }, "attachments.dir"},
		{"s3 without bucket", func(c *Config) { c.Attachments.Backend = "s3" }, "attachments.s3.bucket"},
		{"unknown backend", func(c *Config) { c.Attachments.Backend = "ftp" }, "attachments.backend"},
		{"redis without addr", func(c *Config) { c.Presence.Backend = "redis" }, "presence.redis.addr"},
		{"kafka without brokers", func(c *Config) { c.Events.Kafka.Enabled = true }, "events.kafka.brokers"},
		{"negative rate", func(c *Config) { c.Sessions.InboundRate = -1 }, "sessions.inbound_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR_A", "alpha")
	t.Setenv("TEST_VAR_B", "beta")
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	tests := []struct {
		input string
		want  string
	}{
		{"no vars here", "no vars here"},
		{"${TEST_VAR_A}", "alpha"},
		{"${TEST_VAR_A}-${TEST_VAR_B}", "alpha-beta"},
		{"prefix ${UNSET_VAR_FOR_TEST} suffix", "prefix  suffix"},
		{"$TEST_VAR_A is not expanded", "$TEST_VAR_A is not expanded"},
	}

	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
