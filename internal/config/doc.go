// Package config handles configuration loading for tandem.
//
// # Configuration File
//
// The binary looks for its config in order:
//
//  1. Path from the TANDEM_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/tandem/tandem.yaml
//  3. ~/.config/tandem/tandem.yaml
//
// Files ending in .toml are decoded as TOML, anything else as YAML. A .env
// file in the same directory is loaded into the environment first; it never
// overrides variables that are already set.
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${TANDEM_JWT_SECRET}"
//
// Only the ${VAR_NAME} form is expanded. Unset variables become "".
//
// # Durations and Sizes
//
// Durations use time.ParseDuration syntax ("10s", "720h"). Byte sizes accept
// human-readable forms such as "10MB" or "512 KiB".
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	database:
//	  path: "~/.local/share/tandem/tandem.db"
//	auth:
//	  jwt_secret: "${TANDEM_JWT_SECRET}"
//	  token_ttl: "720h"
//	sessions:
//	  send_buffer: 64
//	  write_timeout: "10s"
//	  typing_coalesce: "2s"
//	attachments:
//	  backend: disk
//	  dir: "~/.local/share/tandem/media"
//	  max_size: "10MB"
//	presence:
//	  backend: memory
//	events:
//	  kafka:
//	    enabled: false
package config
