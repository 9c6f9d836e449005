// ABOUTME: Server orchestrator wiring the cloud client, auth gate, tools,
// ABOUTME: MCP transport, and setup endpoints into one HTTP server.

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/bambu-gateway/internal/audit"
	"github.com/2389/bambu-gateway/internal/auth"
	"github.com/2389/bambu-gateway/internal/bambu"
	"github.com/2389/bambu-gateway/internal/config"
	"github.com/2389/bambu-gateway/internal/mcp"
	"github.com/2389/bambu-gateway/internal/setup"
	"github.com/2389/bambu-gateway/internal/tools"
)

// startupProbeTimeout bounds the one-shot token attempt at process start so
// a slow cloud API cannot stall serving indefinitely.
const startupProbeTimeout = 15 * time.Second

// Server orchestrates the bambu-gateway components. It owns the HTTP server
// for the MCP transport, the direct tool API, and the setup flow.
type Server struct {
	config      *config.Config
	gate        *auth.Gate
	backend     *auditedTools
	audit       audit.Log
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// initAuditLog creates the audit store, or a no-op sink when no path is
// configured.
func initAuditLog(cfg *config.Config, logger *slog.Logger) (audit.Log, error) {
	if cfg.Audit.Path == "" {
		return audit.Noop{}, nil
	}
	log, err := audit.NewSQLiteLog(cfg.Audit.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing audit log: %w", err)
	}
	return log, nil
}

// New creates a Server instance with the given configuration. Every
// component is constructed and wired here; nothing lives in package state.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cloud := bambu.NewClient(bambu.ClientConfig{
		BaseURL: cfg.Bambu.APIBase,
		Logger:  logger,
	})

	gate := auth.NewGate(auth.GateConfig{
		Provider: cloud,
		Identity: cfg.Bambu.Email,
		Secret:   cfg.Bambu.Password,
		Token:    cfg.Bambu.Token,
		Logger:   logger,
	})

	auditLog, err := initAuditLog(cfg, logger)
	if err != nil {
		return nil, err
	}

	dispatcher := tools.New(gate, cloud, cfg.Bambu.DeviceID, logger)
	backend := &auditedTools{
		tools:  dispatcher,
		audit:  auditLog,
		logger: logger.With("component", "server"),
	}

	mcpServer, err := mcp.NewServer(mcp.Config{
		Backend: backend,
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
		Logger:  logger.With("component", "mcp"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	setupAPI, err := setup.New(setup.Config{
		Gate:         gate,
		Audit:        auditLog,
		DeviceID:     cfg.Bambu.DeviceID,
		SetupKey:     cfg.Server.SetupKey,
		SetupKeyHash: cfg.Server.SetupKeyHash,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating setup API: %w", err)
	}

	srv := &Server{
		config:  cfg,
		gate:    gate,
		backend: backend,
		audit:   auditLog,
		logger:  logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", srv.handleRoot)
	mux.HandleFunc("GET /health", srv.handleHealth)
	mux.HandleFunc("POST /api/tool", srv.handleToolCall)
	mcpServer.RegisterRoutes(mux)
	setupAPI.RegisterRoutes(mux)

	srv.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv, nil
}

// Run starts the server and blocks until the context is canceled or the
// server fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.probeToken(ctx)

	listener, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", listener.Addr().String())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// probeToken makes the one-shot authentication attempt at startup. With a
// configured token this is a cache hit; with credentials it performs the
// login, which on a 2FA account sends the code email and parks a challenge
// for /setup/verify. Either way startup proceeds.
func (s *Server) probeToken(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, startupProbeTimeout)
	defer cancel()

	if _, err := s.gate.EnsureToken(probeCtx); err != nil {
		if errors.Is(err, auth.ErrChallengeRequired) {
			s.logger.Warn("2FA verification required before tools will work", "error", err)
			return
		}
		s.logger.Warn("no usable token at startup; tool calls will fail until setup completes", "error", err)
		return
	}
	s.logger.Info("bambu cloud token ready")
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		return s.setupTailscaleListener(ctx)
	}

	listener, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", s.config.Addr(), err)
	}
	return listener, nil
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if s.tsnetServer != nil {
		if err := s.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	if err := s.audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("audit close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "bambu-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet node and returns the HTTP listener.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	return s.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (s *Server) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return s.createTailscaleTLSListener()
	default:
		ln, err := s.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (s *Server) createTailscaleTLSListener() (net.Listener, error) {
	s.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := s.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := s.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}
