// Package config handles configuration loading for handoff-console.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HANDOFF_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/handoff/console.yaml
//  3. ~/.config/handoff/console.yaml
//
// Files ending in .toml are read as TOML with the same keys; anything else
// is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	backend:
//	  token: "${HANDOFF_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	channels:
//	  reconnect_delay: "2s"
//	  dedupe_ttl: "5m"
//
// # Configuration Sections
//
// Backend:
//
//	backend:
//	  base_url: "https://support.example.com"   # REST API
//	  ws_url: "wss://support.example.com"       # push feeds, defaults to base_url
//	  token: "${HANDOFF_TOKEN}"                 # required
//	  auth_scheme: "Token"                      # Authorization header prefix
//	  request_timeout: "15s"
//
// Channels:
//
//	channels:
//	  reconnect_delay: "2s"   # fixed wait between a drop and the next dial
//	  dedupe_ttl: "5m"
//	  dedupe_size: 1000
//
// Session:
//
//	session:
//	  agent_id: 7                                  # signed-in operator
//	  state_path: "~/.local/state/handoff/console.db"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: false
//	  addr: "127.0.0.1:9464"
//	  path: "/metrics"
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
