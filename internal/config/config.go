// ABOUTME: Configuration loading and parsing for bambu-gateway
// ABOUTME: Environment-first with an optional YAML file and ${VAR} expansion

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete bambu-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bambu     BambuConfig     `yaml:"bambu"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the listen address and MCP server identity
type ServerConfig struct {
	Port    int    `yaml:"port"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// SetupKey guards the /setup endpoints when non-empty. SetupKeyHash is
	// the bcrypt alternative (generate via `bambu-gateway hash-key`) and
	// takes precedence when both are set.
	SetupKey     string `yaml:"setup_key"`
	SetupKeyHash string `yaml:"setup_key_hash"`
}

// BambuConfig holds Bambu Cloud credentials and the target device
type BambuConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
	DeviceID string `yaml:"device_id"`
	APIBase  string `yaml:"api_base"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve TLS with tailnet certs on :443
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// AuditConfig holds the optional audit trail configuration.
// An empty path disables auditing entirely.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config populated with the stock defaults. Credentials
// are intentionally empty; Validate rejects a config that has neither a
// token nor an email/password pair.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    8000,
			Name:    "bambu-printer",
			Version: "0.1.0",
		},
		Bambu: BambuConfig{
			DeviceID: "0948BB5B1200532",
			APIBase:  "https://api.bambulab.com",
		},
	}
}

// Load builds the configuration: defaults, then the optional YAML file at
// path (with ${VAR_NAME} expansion), then environment variable overrides.
// An empty path skips the file and uses environment variables alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables in the raw YAML content
		expandedData := expandEnvVars(string(data))

		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	// Railway env vars sometimes arrive with trailing newlines; a token
	// with stray whitespace fails every API call with an opaque 401.
	cfg.Bambu.Token = strings.TrimSpace(cfg.Bambu.Token)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv overrides config values from the process environment. Environment
// variables always win over file values.
func applyEnv(cfg *Config) error {
	setString(&cfg.Bambu.Email, "BAMBU_EMAIL")
	setString(&cfg.Bambu.Password, "BAMBU_PASSWORD")
	setString(&cfg.Bambu.Token, "BAMBU_TOKEN")
	setString(&cfg.Bambu.DeviceID, "BAMBU_DEVICE_ID")
	setString(&cfg.Bambu.APIBase, "BAMBU_API_BASE")
	setString(&cfg.Server.Name, "MCP_SERVER_NAME")
	setString(&cfg.Server.Version, "MCP_SERVER_VERSION")
	setString(&cfg.Server.SetupKey, "SETUP_KEY")
	setString(&cfg.Server.SetupKeyHash, "SETUP_KEY_HASH")
	setString(&cfg.Audit.Path, "BAMBU_AUDIT_DB")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")

	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}

	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// A pre-obtained token is a complete credential on its own. The email
	// and password pair is only required when there is no token to seed
	// the cache with (operators are told to drop BAMBU_PASSWORD once a
	// token is set).
	if c.Bambu.Token == "" && (c.Bambu.Email == "" || c.Bambu.Password == "") {
		return fmt.Errorf("bambu credentials required: set BAMBU_TOKEN, or both BAMBU_EMAIL and BAMBU_PASSWORD")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	if c.Bambu.DeviceID == "" {
		return fmt.Errorf("bambu.device_id is required")
	}

	if c.Bambu.APIBase == "" {
		return fmt.Errorf("bambu.api_base is required")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	return nil
}

// Addr returns the TCP listen address for the configured port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// IsProduction reports whether the process is running under Railway.
func (c *Config) IsProduction() bool {
	return os.Getenv("RAILWAY_ENVIRONMENT") != ""
}
