// ABOUTME: One-time setup endpoints for the 2FA authentication flow.
// ABOUTME: Operators obtain a BAMBU_TOKEN here before the tool surface is usable.

package setup

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/bambu-gateway/internal/audit"
	"github.com/2389/bambu-gateway/internal/auth"
)

// dummySetupKeyHash is compared against when no key is presented, so a
// missing key costs the same as a wrong one.
const dummySetupKeyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// verifyInstructions walks the operator through storing the token after a
// successful 2FA verification.
const verifyInstructions = "1. Copy the token above\n" +
	"2. Go to Railway dashboard → Variables\n" +
	"3. Set BAMBU_TOKEN to this value\n" +
	"4. Redeploy the application\n" +
	"5. (Optional) Remove BAMBU_PASSWORD for security\n" +
	"6. Your MCP server is now ready!"

// Config holds the setup API's collaborators.
type Config struct {
	Gate     *auth.Gate
	Audit    audit.Log
	DeviceID string

	// SetupKey guards the mutating endpoints when set. SetupKeyHash is its
	// bcrypt form and wins when both are configured.
	SetupKey     string
	SetupKeyHash string

	Logger *slog.Logger
}

// API serves the /setup endpoints.
type API struct {
	gate         *auth.Gate
	audit        audit.Log
	deviceID     string
	setupKey     string
	setupKeyHash string
	logger       *slog.Logger
}

// New creates the setup API.
func New(cfg Config) (*API, error) {
	if cfg.Gate == nil {
		return nil, errors.New("auth gate is required")
	}

	auditLog := cfg.Audit
	if auditLog == nil {
		auditLog = audit.Noop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &API{
		gate:         cfg.Gate,
		audit:        auditLog,
		deviceID:     cfg.DeviceID,
		setupKey:     cfg.SetupKey,
		setupKeyHash: cfg.SetupKeyHash,
		logger:       logger.With("component", "setup"),
	}, nil
}

// RegisterRoutes registers the setup endpoints on the given ServeMux.
// Status and the guide stay open; everything that touches credentials or
// pending sessions sits behind the setup key.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /setup/login", a.requireSetupKey(a.handleLogin))
	mux.HandleFunc("POST /setup/verify", a.requireSetupKey(a.handleVerify))
	mux.HandleFunc("GET /setup/sessions", a.requireSetupKey(a.handleSessions))
	mux.HandleFunc("DELETE /setup/session/{email}", a.requireSetupKey(a.handleClearSession))
	mux.HandleFunc("DELETE /setup/token", a.requireSetupKey(a.handleInvalidateToken))
	mux.HandleFunc("GET /setup/audit", a.requireSetupKey(a.handleAudit))
	mux.HandleFunc("GET /setup/status", a.handleStatus)
	mux.HandleFunc("GET /setup/guide", a.handleGuide)
}

// requireSetupKey rejects requests without the configured X-Setup-Key.
// With no key configured the endpoints are open, matching a fresh deploy
// where the operator has not chosen a key yet.
func (a *API) requireSetupKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.setupKeyValid(r.Header.Get("X-Setup-Key")) {
			a.sendJSONError(w, http.StatusForbidden, "Invalid or missing X-Setup-Key header")
			return
		}
		next(w, r)
	}
}

func (a *API) setupKeyValid(presented string) bool {
	if a.setupKey == "" && a.setupKeyHash == "" {
		return true
	}
	if presented == "" {
		// Burn a comparison so a missing key costs the same as a wrong one.
		_ = bcrypt.CompareHashAndPassword([]byte(dummySetupKeyHash), []byte(presented))
		return false
	}
	if a.setupKeyHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(a.setupKeyHash), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(a.setupKey), []byte(presented)) == 1
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleLogin starts the login flow. With 2FA enabled this sends the code
// email and parks a pending challenge; without it the token comes back
// immediately.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		a.sendJSONError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid email address")
		return
	}

	a.logger.Info("initiating login", "email", req.Email)

	outcome, err := a.gate.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.record(r.Context(), audit.KindLoginFailed, req.Email, err.Error())
		a.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("Login failed: %v", err))
		return
	}

	if outcome.ChallengeRequired() {
		a.record(r.Context(), audit.KindLoginChallenge, req.Email, "2FA code requested")
		a.sendJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"has_token":    false,
			"message":      "2FA code sent to your email",
			"instructions": "Check your email for the verification code, then call POST /setup/verify with your email and code",
		})
		return
	}

	a.record(r.Context(), audit.KindLoginToken, req.Email, "token issued without 2FA")
	a.sendJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"has_token":    true,
		"token":        outcome.Token,
		"message":      "Authentication successful (no 2FA required)",
		"instructions": "Copy this token and set it as BAMBU_TOKEN in Railway environment variables, then restart the deployment.",
	})
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// handleVerify completes a pending challenge with the emailed code.
func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Code == "" {
		a.sendJSONError(w, http.StatusBadRequest, "email and code are required")
		return
	}

	a.logger.Info("verifying 2FA code", "email", req.Email)

	token, err := a.gate.VerifyChallenge(r.Context(), req.Email, req.Code)
	if err != nil {
		if errors.Is(err, auth.ErrNoPendingChallenge) {
			a.sendJSONError(w, http.StatusBadRequest, "No pending authentication for this email. Call /setup/login first.")
			return
		}
		a.record(r.Context(), audit.KindVerifyFailed, req.Email, err.Error())
		a.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("Verification failed: %v", err))
		return
	}

	a.record(r.Context(), audit.KindVerifyOK, req.Email, "token issued")
	a.sendJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"token":        token,
		"message":      "Authentication successful!",
		"instructions": verifyInstructions,
	})
}

// handleStatus reports whether the server holds a usable token. It reads
// the live token store, so a token obtained through /setup/verify counts
// even before the operator persists it to the environment.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	hasToken := a.gate.HasToken()

	message := "Setup required. Call POST /setup/login to begin."
	if hasToken {
		message = "Setup complete! Server is ready to use."
	}

	resp := map[string]any{
		"setup_complete": hasToken,
		"has_token":      hasToken,
		"device_id":      a.deviceID,
		"pending_count":  a.gate.PendingCount(),
		"message":        message,
	}
	if expiry, ok := a.gate.TokenExpiry(); ok {
		resp["token_expires_at"] = expiry.UTC().Format(time.RFC3339)
	}

	a.sendJSON(w, http.StatusOK, resp)
}

// handleSessions lists identities with a pending 2FA challenge.
func (a *API) handleSessions(w http.ResponseWriter, _ *http.Request) {
	a.sendJSON(w, http.StatusOK, map[string]any{
		"pending": a.gate.PendingIdentities(),
	})
}

// handleClearSession drops a pending challenge so the operator can restart
// the login flow for that email.
func (a *API) handleClearSession(w http.ResponseWriter, r *http.Request) {
	email := r.PathValue("email")

	if a.gate.ClearChallenge(email) {
		a.record(r.Context(), audit.KindSessionCleared, email, "pending challenge cleared")
		a.sendJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": fmt.Sprintf("Session cleared for %s", email),
		})
		return
	}

	a.sendJSON(w, http.StatusOK, map[string]any{
		"success": false,
		"message": "No pending session found",
	})
}

// handleInvalidateToken drops the cached cloud token. The next tool call or
// /setup/login triggers a fresh provider login. Useful when the vendor
// starts rejecting a token that has not reached its advertised expiry.
func (a *API) handleInvalidateToken(w http.ResponseWriter, r *http.Request) {
	if !a.gate.HasToken() {
		a.sendJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": "No token to invalidate",
		})
		return
	}

	a.gate.Invalidate()
	a.record(r.Context(), audit.KindTokenInvalidated, "", "cached token cleared by operator")
	a.sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Token invalidated. Call POST /setup/login to authenticate again.",
	})
}

// handleAudit lists recent audit events, newest first.
func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			a.sendJSONError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}

	events, err := a.audit.Recent(r.Context(), limit)
	if err != nil {
		a.logger.Error("failed to read audit log", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "failed to read audit log")
		return
	}

	a.sendJSON(w, http.StatusOK, map[string]any{"events": events})
}

// record appends an audit event. Failures are logged, never surfaced.
func (a *API) record(ctx context.Context, kind audit.Kind, identity, detail string) {
	if err := a.audit.Record(ctx, &audit.Event{Kind: kind, Identity: identity, Detail: detail}); err != nil {
		a.logger.Warn("audit record failed", "kind", kind, "error", err)
	}
}

func (a *API) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to encode response", "error", err)
	}
}

func (a *API) sendJSONError(w http.ResponseWriter, status int, message string) {
	a.sendJSON(w, status, map[string]string{"error": message})
}
