// Package config handles configuration loading for bambu-gateway.
//
// # Overview
//
// Configuration is environment-first: every value can be supplied through
// the process environment, which is the only interface the Railway
// deployment uses. An optional YAML file provides the same values for
// hand-run setups, with environment variables taking precedence.
//
// # Environment Variables
//
//	BAMBU_EMAIL         Bambu Cloud account email
//	BAMBU_PASSWORD      Bambu Cloud account password
//	BAMBU_TOKEN         Pre-obtained bearer token (whitespace trimmed)
//	BAMBU_DEVICE_ID     Target printer serial
//	BAMBU_API_BASE      Cloud API base URL
//	PORT                HTTP listen port
//	MCP_SERVER_NAME     MCP server identity
//	MCP_SERVER_VERSION  MCP server version string
//	SETUP_KEY           Shared secret guarding /setup endpoints
//	SETUP_KEY_HASH      bcrypt hash alternative to SETUP_KEY
//	BAMBU_AUDIT_DB      SQLite path for the audit trail (empty = disabled)
//	LOG_LEVEL           debug, info, warn, error
//	LOG_FORMAT          text, json
//
// # Configuration File
//
// Values in the YAML file can reference environment variables:
//
//	bambu:
//	  email: "user@example.com"
//	  password: "${BAMBU_PASSWORD}"
//
//	tailscale:
//	  enabled: true
//	  hostname: "bambu-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//
// # Validation
//
// Load() rejects a config with neither a token nor an email/password pair,
// an out-of-range port, an empty device ID or API base, and a tailscale
// section without a hostname.
//
// # Usage
//
//	cfg, err := config.Load("")          // environment only
//	cfg, err := config.Load("gw.yaml")   // file plus environment overrides
package config
