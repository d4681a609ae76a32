// ABOUTME: Entry point for the tandem chat server
// ABOUTME: Provides serve, init, token and health subcommands

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/tandem/internal/auth"
	"github.com/2389/tandem/internal/config"
	"github.com/2389/tandem/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _                  _
 | |_ __ _ _ __   __| | ___ _ __ ___
 | __/ _' | '_ \ / _' |/ _ \ '_ ' _ \
 | || (_| | | | | (_| |  __/ | | | | |
  \__\__,_|_| |_|\__,_|\___|_| |_| |_|
`

// getConfigPath returns the path to the tandem config file.
// Priority: TANDEM_CONFIG env var > XDG_CONFIG_HOME/tandem/tandem.yaml > ~/.config/tandem/tandem.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TANDEM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "tandem.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "tandem", "tandem.yaml")
}

// getDataPath returns the tandem data directory.
// Priority: XDG_DATA_HOME/tandem > ~/.local/share/tandem
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "tandem")
}

// expandHome resolves a leading ~/ against the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}

func usage() {
	fmt.Println("Usage: tandem <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the chat server")
	fmt.Println("  init                           Write a starter config with a fresh secret")
	fmt.Println("  token --user ID [--name NAME]  Mint an access token for a user")
	fmt.Println("  health                         Check server health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg.Database.Path = expandHome(cfg.Database.Path)
	cfg.Attachments.Dir = expandHome(cfg.Attachments.Dir)
	return cfg, nil
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:      %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:        %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Attachments: %s\n", cfg.Attachments.Backend)
	green.Print("    ▶ ")
	fmt.Printf("Presence:    %s\n", cfg.Presence.Backend)
	if cfg.Events.Kafka.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Events:      ")
		yellow.Printf("kafka %s", cfg.Events.Kafka.Topic)
		fmt.Println()
	}
	fmt.Println()

	logger.Info("starting tandem",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runInit writes a starter config with a random JWT secret. It refuses to
// overwrite an existing file unless --force is given.
func runInit(args []string) error {
	force := false
	for _, arg := range args {
		switch arg {
		case "--force", "-f":
			force = true
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
	}

	dataPath := getDataPath()
	content, err := starterConfig(dataPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dataPath, "media"), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	green.Printf("  ✓ Data directory: %s\n", dataPath)
	fmt.Println()
	fmt.Println("  Next:")
	fmt.Println("    tandem token --user alice --name Alice")
	fmt.Println("    tandem serve")
	return nil
}

func starterConfig(dataPath string) (string, error) {
	secret := make([]byte, 48)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}

	return fmt.Sprintf(`# tandem configuration
# Generated by tandem init

server:
  http_addr: "localhost:8080"

database:
  path: %q

auth:
  jwt_secret: %q
  token_ttl: "720h"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: false
  path: "/metrics"

sessions:
  send_buffer: 64
  write_timeout: "10s"
  inbound_rate: 20
  inbound_burst: 40
  typing_coalesce: "2s"

attachments:
  backend: "disk"
  dir: %q
  base_url: "/media/"
  max_size: "10MB"

presence:
  backend: "memory"
  ttl: "60s"
`, filepath.Join(dataPath, "tandem.db"), base64.StdEncoding.EncodeToString(secret), filepath.Join(dataPath, "media")), nil
}

// tokenArgs holds the parsed flags of the token subcommand.
type tokenArgs struct {
	user string
	name string
	ttl  time.Duration
}

// parseTokenArgs accepts "--flag value" and "--flag=value" forms.
func parseTokenArgs(args []string) (tokenArgs, error) {
	var out tokenArgs
	for i := 0; i < len(args); i++ {
		arg := args[i]
		key, value, inline := strings.Cut(arg, "=")
		switch key {
		case "--user", "-u", "--name", "-n", "--ttl":
		default:
			if strings.HasPrefix(arg, "-") {
				return out, fmt.Errorf("unknown flag: %s", arg)
			}
			return out, fmt.Errorf("unexpected argument: %s", arg)
		}
		if !inline {
			if i+1 >= len(args) {
				return out, fmt.Errorf("%s requires a value", key)
			}
			value = args[i+1]
			i++
		}

		switch key {
		case "--user", "-u":
			out.user = strings.TrimSpace(value)
		case "--name", "-n":
			out.name = strings.TrimSpace(value)
		case "--ttl":
			d, err := time.ParseDuration(value)
			if err != nil {
				return out, fmt.Errorf("parsing --ttl: %w", err)
			}
			out.ttl = d
		}
	}

	if out.user == "" {
		return out, fmt.Errorf("--user flag is required")
	}
	if len(out.name) > 100 {
		return out, fmt.Errorf("display name exceeds maximum length of 100 characters")
	}
	return out, nil
}

func runToken(args []string) error {
	parsed, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	ttl := parsed.ttl
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	token, err := verifier.Generate(auth.Actor{ID: parsed.user, Name: parsed.name}, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
