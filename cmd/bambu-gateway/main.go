// ABOUTME: Entry point for the bambu-gateway MCP server
// ABOUTME: Bridges Bambu Lab cloud printers to MCP clients over HTTP

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/bambu-gateway/internal/config"
	"github.com/2389/bambu-gateway/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                     _                             _
| |__   __ _ _ __ ___ | |__  _   _        __ _  __ _| |_ _____      ____ _ _   _
| '_ \ / _' | '_ ' _ \| '_ \| | | |_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| |_) | (_| | | | | | | |_) | |_| |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_.__/ \__,_|_| |_| |_|_.__/ \__,_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                         |___/                             |___/
`

// defaultConfigPath returns the conventional config file location.
// Priority: XDG_CONFIG_HOME/bambu-gateway/gateway.yaml > ~/.config/bambu-gateway/gateway.yaml
func defaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "bambu-gateway", "gateway.yaml")
}

// resolveConfigPath picks the config file to load, or empty to run on
// environment variables alone (the Railway deployment mode). An explicit
// flag or BAMBU_CONFIG must exist and is passed through so a missing file
// fails loudly; the conventional path is only used when present.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if envPath := os.Getenv("BAMBU_CONFIG"); envPath != "" {
		return envPath
	}
	conventional := defaultConfigPath()
	if _, err := os.Stat(conventional); err == nil {
		return conventional
	}
	return ""
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: bambu-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve [--config path] [--log-format auto|json|text]  Start the gateway server")
		fmt.Println("  hash-key [--cost N] [key]                            Hash a setup key for SETUP_KEY_HASH")
		fmt.Println("  health [--url URL]                                   Check gateway health")
		fmt.Println("  version                                              Print version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "hash-key":
		err = runHashKey(os.Args[2:])
	case "health":
		err = runHealth(ctx, os.Args[2:])
	case "version":
		fmt.Printf("bambu-gateway %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, args []string) error {
	var configFlag, logFormat string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config" || arg == "-c":
			if i+1 >= len(args) {
				return fmt.Errorf("--config requires a value")
			}
			configFlag = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			configFlag = strings.TrimPrefix(arg, "--config=")
		case arg == "--log-format":
			if i+1 >= len(args) {
				return fmt.Errorf("--log-format requires a value")
			}
			logFormat = args[i+1]
			i++
		case strings.HasPrefix(arg, "--log-format="):
			logFormat = strings.TrimPrefix(arg, "--log-format=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	configPath := resolveConfigPath(configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if logFormat != "" && logFormat != "auto" {
		cfg.Logging.Format = logFormat
	}

	// Setup logger
	logger := setupLogger(cfg)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	if configPath != "" {
		fmt.Printf("Config:    %s\n", configPath)
	} else {
		fmt.Printf("Config:    environment\n")
	}
	green.Print("    ▶ ")
	fmt.Printf("Device:    %s\n", cfg.Bambu.DeviceID)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Addr())
	}

	fmt.Println()

	logger.Info("starting bambu-gateway",
		"config", configPath,
		"addr", cfg.Addr(),
		"device_id", cfg.Bambu.DeviceID,
	)

	// Create and run server
	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

// runHashKey prints a bcrypt hash of a setup key for SETUP_KEY_HASH. The
// key comes from the first positional argument or stdin.
func runHashKey(args []string) error {
	cost := bcrypt.DefaultCost
	var key string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--cost":
			if i+1 >= len(args) {
				return fmt.Errorf("--cost requires a value")
			}
			parsed, err := strconv.Atoi(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --cost %q: %w", args[i+1], err)
			}
			cost = parsed
			i++
		case strings.HasPrefix(arg, "--cost="):
			parsed, err := strconv.Atoi(strings.TrimPrefix(arg, "--cost="))
			if err != nil {
				return fmt.Errorf("parsing --cost %q: %w", strings.TrimPrefix(arg, "--cost="), err)
			}
			cost = parsed
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			if key != "" {
				return fmt.Errorf("unexpected argument: %s", arg)
			}
			key = arg
		}
	}

	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return fmt.Errorf("--cost %d out of range (%d-%d)", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	if key == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading key from stdin: %w", err)
		}
		key = strings.TrimSpace(string(data))
	}
	if key == "" {
		return fmt.Errorf("setup key required: pass it as an argument or on stdin")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return fmt.Errorf("hashing key: %w", err)
	}

	fmt.Println(string(hash))
	gray := color.New(color.FgHiBlack)
	gray.Println("Set SETUP_KEY_HASH to this value (and drop SETUP_KEY).")
	return nil
}

func runHealth(ctx context.Context, args []string) error {
	baseURL := "http://localhost:8000"

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--url":
			if i+1 >= len(args) {
				return fmt.Errorf("--url requires a value")
			}
			baseURL = args[i+1]
			i++
		case strings.HasPrefix(arg, "--url="):
			baseURL = strings.TrimPrefix(arg, "--url=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	url := strings.TrimRight(baseURL, "/") + "/health"
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

func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	format := cfg.Logging.Format
	if format == "" || format == "auto" {
		if cfg.IsProduction() {
			format = "json"
		} else {
			format = "text"
		}
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
