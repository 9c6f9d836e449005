// ABOUTME: Gate orchestrates Bambu Cloud authentication around the token cache.
// ABOUTME: Serves cached tokens, drives logins, and resumes 2FA challenges.

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxVerifyAttempts is the number of rejected codes tolerated before a
// pending challenge is dropped and the operator must restart the login.
const MaxVerifyAttempts = 5

// LoginOutcome is the tagged result of a login attempt. On a nil-error
// return exactly one of Token or Challenge is set: a token means the
// provider authenticated immediately, a challenge means a one-time code was
// dispatched out-of-band and the attempt is parked until verified. Genuine
// faults are returned as errors, never as outcome values.
type LoginOutcome struct {
	Token     string
	Challenge *Challenge
}

// ChallengeRequired reports whether the outcome parked on a 2FA challenge.
func (o LoginOutcome) ChallengeRequired() bool {
	return o.Challenge != nil
}

// Provider is the external identity provider the gate drives. Implemented
// by the Bambu Cloud client; faked in tests.
type Provider interface {
	// Login attempts authentication. A challenge outcome means the provider
	// sent a one-time code out-of-band.
	Login(ctx context.Context, identity, secret string) (LoginOutcome, error)

	// VerifyCode completes a parked login attempt with the one-time code and
	// returns the bearer token.
	VerifyCode(ctx context.Context, ch Challenge, code string) (string, error)
}

// GateConfig carries the gate's collaborators and the process credentials.
type GateConfig struct {
	Provider Provider
	Identity string // account email used by EnsureToken
	Secret   string // account password used by EnsureToken
	Token    string // pre-obtained token seeding the cache, may be empty
	Logger   *slog.Logger
}

// Gate is the authentication gate: it answers every "give me a valid token"
// request from the tool layer, coalescing concurrent logins so the provider
// sees at most one attempt at a time, and owns the pending-challenge
// registry for the 2FA setup flow.
type Gate struct {
	provider Provider
	identity string
	secret   string
	tokens   *TokenStore
	pending  *PendingChallengeRegistry
	logger   *slog.Logger

	mu       sync.Mutex
	inflight *loginFlight
}

// loginFlight is a single in-progress login shared by every EnsureToken
// caller that arrived while it ran. The driver fills token/err and closes
// done; waiters read after the close.
type loginFlight struct {
	done  chan struct{}
	token string
	err   error
}

// NewGate creates a gate. A non-empty seed token makes the process
// authenticated from the start.
func NewGate(cfg GateConfig) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gate{
		provider: cfg.Provider,
		identity: cfg.Identity,
		secret:   cfg.Secret,
		tokens:   NewTokenStore(),
		pending:  NewPendingChallengeRegistry(),
		logger:   logger.With("component", "authgate"),
	}
	if cfg.Token != "" {
		g.tokens.Set(cfg.Token)
		g.logger.Info("using pre-obtained token from configuration")
	}
	return g
}

// EnsureToken returns the cached token, or performs a login with the
// configured credentials. Concurrent callers while the cache is empty
// coalesce onto one provider login and all observe its outcome. A login
// that parks on a 2FA challenge registers it and fails with
// ErrChallengeRequired, since a tool call cannot complete the code exchange.
func (g *Gate) EnsureToken(ctx context.Context) (string, error) {
	if token, ok := g.tokens.Get(); ok {
		return token, nil
	}

	g.mu.Lock()
	// The flight that was running when we first checked may have finished
	// and stored a token between the check and the lock.
	if token, ok := g.tokens.Get(); ok {
		g.mu.Unlock()
		return token, nil
	}

	if fl := g.inflight; fl != nil {
		g.mu.Unlock()
		select {
		case <-fl.done:
			return fl.token, fl.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	fl := &loginFlight{done: make(chan struct{})}
	g.inflight = fl
	g.mu.Unlock()

	fl.token, fl.err = g.loginForToken(ctx)

	g.mu.Lock()
	g.inflight = nil
	g.mu.Unlock()
	close(fl.done)

	return fl.token, fl.err
}

// loginForToken runs one login with the process credentials and maps a
// challenge outcome to ErrChallengeRequired.
func (g *Gate) loginForToken(ctx context.Context) (string, error) {
	if g.identity == "" || g.secret == "" {
		return "", fmt.Errorf("%w: no account credentials configured (set BAMBU_EMAIL and BAMBU_PASSWORD, or a BAMBU_TOKEN)", ErrAuthenticationFailed)
	}

	outcome, err := g.Login(ctx, g.identity, g.secret)
	if err != nil {
		return "", err
	}
	if outcome.ChallengeRequired() {
		return "", fmt.Errorf("%w: a verification code was sent to %s; complete setup via POST /setup/verify", ErrChallengeRequired, outcome.Challenge.Identity)
	}
	return outcome.Token, nil
}

// Login drives one authentication attempt for the identity. If a challenge
// is already pending for it, that challenge is returned unchanged and the
// provider is not called again, so no duplicate code email goes out;
// restarting the flow requires clearing the session first. An immediate
// token is stored before returning. A fresh challenge is registered before
// returning. On error nothing is stored and nothing is registered.
func (g *Gate) Login(ctx context.Context, identity, secret string) (LoginOutcome, error) {
	if existing, ok := g.pending.Get(identity); ok {
		g.logger.Info("login coalesced onto pending challenge",
			"identity", identity,
			"challenge_id", existing.ID,
		)
		return LoginOutcome{Challenge: &existing}, nil
	}

	outcome, err := g.provider.Login(ctx, identity, secret)
	if err != nil {
		g.logger.Warn("login failed", "identity", identity, "error", err)
		return LoginOutcome{}, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	switch {
	case outcome.Token != "":
		g.tokens.Set(outcome.Token)
		g.logger.Info("authentication successful", "identity", identity)
		return outcome, nil

	case outcome.Challenge != nil:
		ch := *outcome.Challenge
		if ch.ID == "" {
			ch.ID = uuid.New().String()
		}
		if ch.Identity == "" {
			ch.Identity = identity
		}
		if ch.CreatedAt.IsZero() {
			ch.CreatedAt = time.Now().UTC()
		}
		g.pending.Put(ch)
		g.logger.Info("2FA challenge pending", "identity", ch.Identity, "challenge_id", ch.ID)
		return LoginOutcome{Challenge: &ch}, nil

	default:
		return LoginOutcome{}, fmt.Errorf("%w: provider returned neither token nor challenge", ErrAuthenticationFailed)
	}
}

// VerifyChallenge submits a one-time code for the identity's pending
// challenge. On success the token is stored, the challenge is removed, and
// the token is returned. A rejected code leaves the challenge in place for
// a retry until MaxVerifyAttempts failures drop it. Without a pending
// challenge it fails with ErrNoPendingChallenge.
func (g *Gate) VerifyChallenge(ctx context.Context, identity, code string) (string, error) {
	ch, ok := g.pending.Get(identity)
	if !ok {
		return "", ErrNoPendingChallenge
	}

	token, err := g.provider.VerifyCode(ctx, ch, code)
	if err != nil {
		attempts := g.pending.RecordFailure(identity)
		g.logger.Warn("challenge verification failed",
			"identity", identity,
			"attempts", attempts,
			"error", err,
		)
		if attempts >= MaxVerifyAttempts {
			g.pending.Remove(identity)
			return "", fmt.Errorf("%w: %v (attempt limit reached, restart with POST /setup/login)", ErrChallengeRejected, err)
		}
		return "", fmt.Errorf("%w: %v", ErrChallengeRejected, err)
	}

	g.tokens.Set(token)
	g.pending.Remove(identity)
	g.logger.Info("authentication successful", "identity", identity)
	return token, nil
}

// Invalidate clears the cached token so the next EnsureToken performs a
// fresh login. Safe to call at any time, including while a login is in
// flight; a login that completes afterwards still stores its fresh token.
func (g *Gate) Invalidate() {
	g.tokens.Clear()
	g.logger.Info("cached token invalidated")
}

// ClearChallenge removes the pending challenge for the identity, reporting
// whether one existed. This is the operator's restart path.
func (g *Gate) ClearChallenge(identity string) bool {
	removed := g.pending.Remove(identity)
	if removed {
		g.logger.Info("pending challenge cleared", "identity", identity)
	}
	return removed
}

// HasToken reports whether a token is cached.
func (g *Gate) HasToken() bool {
	_, ok := g.tokens.Get()
	return ok
}

// PendingIdentities returns the identities with challenges awaiting a code.
func (g *Gate) PendingIdentities() []string {
	return g.pending.Identities()
}

// PendingCount returns the number of challenges awaiting a code.
func (g *Gate) PendingCount() int {
	return g.pending.Len()
}

// TokenExpiry reports the cached token's expiry time when the token is a
// decodable JWT. Advisory only: the gate never inspects tokens to make
// decisions, and a non-JWT token simply reports no expiry.
func (g *Gate) TokenExpiry() (time.Time, bool) {
	token, ok := g.tokens.Get()
	if !ok {
		return time.Time{}, false
	}
	return tokenExpiry(token)
}
