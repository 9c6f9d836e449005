// ABOUTME: Tests for the authentication gate state machine
// ABOUTME: Covers caching, coalescing, 2FA challenge flow, and invalidation

package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider scripts the external identity provider. Counters are guarded
// so concurrency tests can assert on call counts.
type fakeProvider struct {
	mu          sync.Mutex
	loginCalls  int
	verifyCalls int
	loginDelay  time.Duration

	loginFn  func(identity, secret string) (LoginOutcome, error)
	verifyFn func(ch Challenge, code string) (string, error)
}

func (p *fakeProvider) Login(_ context.Context, identity, secret string) (LoginOutcome, error) {
	p.mu.Lock()
	p.loginCalls++
	delay := p.loginDelay
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return p.loginFn(identity, secret)
}

func (p *fakeProvider) VerifyCode(_ context.Context, ch Challenge, code string) (string, error) {
	p.mu.Lock()
	p.verifyCalls++
	p.mu.Unlock()
	return p.verifyFn(ch, code)
}

func (p *fakeProvider) counts() (logins, verifies int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loginCalls, p.verifyCalls
}

// tokenProvider answers every login immediately with the given token.
func tokenProvider(token string) *fakeProvider {
	return &fakeProvider{
		loginFn: func(string, string) (LoginOutcome, error) {
			return LoginOutcome{Token: token}, nil
		},
	}
}

// challengeProvider parks every login on a 2FA challenge and accepts the
// given code on verify.
func challengeProvider(token, rightCode string) *fakeProvider {
	return &fakeProvider{
		loginFn: func(identity, _ string) (LoginOutcome, error) {
			return LoginOutcome{Challenge: &Challenge{Identity: identity}}, nil
		},
		verifyFn: func(_ Challenge, code string) (string, error) {
			if code != rightCode {
				return "", errors.New("wrong code")
			}
			return token, nil
		},
	}
}

func newTestGate(t *testing.T, p Provider, seedToken string) *Gate {
	t.Helper()
	return NewGate(GateConfig{
		Provider: p,
		Identity: "user@example.com",
		Secret:   "hunter2",
		Token:    seedToken,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestEnsureToken_CacheHit(t *testing.T) {
	provider := tokenProvider("fresh-token")
	gate := newTestGate(t, provider, "seeded-token")

	token, err := gate.EnsureToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "seeded-token", token)

	logins, _ := provider.counts()
	assert.Equal(t, 0, logins, "cache hit must not call the provider")
}

func TestEnsureToken_LoginOnce(t *testing.T) {
	provider := tokenProvider("fresh-token")
	gate := newTestGate(t, provider, "")

	for i := 0; i < 3; i++ {
		token, err := gate.EnsureToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "fresh-token", token)
	}

	logins, _ := provider.counts()
	assert.Equal(t, 1, logins, "only the first call should log in")
}

func TestEnsureToken_NoCredentials(t *testing.T) {
	gate := NewGate(GateConfig{
		Provider: tokenProvider("unused"),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, err := gate.EnsureToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestEnsureToken_ChallengePath(t *testing.T) {
	provider := challengeProvider("tok", "123456")
	gate := newTestGate(t, provider, "")

	_, err := gate.EnsureToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChallengeRequired)

	// The challenge is registered so setup verification can resume it
	// without a second login.
	assert.Equal(t, []string{"user@example.com"}, gate.PendingIdentities())
	assert.False(t, gate.HasToken())
}

func TestLogin_ImmediateSuccess(t *testing.T) {
	provider := tokenProvider("immediate-token")
	gate := newTestGate(t, provider, "")

	outcome, err := gate.Login(context.Background(), "user@example.com", "hunter2")
	require.NoError(t, err)
	assert.False(t, outcome.ChallengeRequired())
	assert.Equal(t, "immediate-token", outcome.Token)

	assert.True(t, gate.HasToken())
	assert.Equal(t, 0, gate.PendingCount(), "no challenge on immediate success")
}

func TestLogin_ChallengeRequired(t *testing.T) {
	provider := challengeProvider("tok", "123456")
	gate := newTestGate(t, provider, "")

	outcome, err := gate.Login(context.Background(), "a@b.com", "x")
	require.NoError(t, err)
	require.True(t, outcome.ChallengeRequired())
	assert.NotEmpty(t, outcome.Challenge.ID)
	assert.Equal(t, "a@b.com", outcome.Challenge.Identity)
	assert.False(t, outcome.Challenge.CreatedAt.IsZero())

	assert.False(t, gate.HasToken(), "token store unchanged while challenge pending")
	assert.Equal(t, 1, gate.PendingCount())
}

func TestLogin_Failure(t *testing.T) {
	provider := &fakeProvider{
		loginFn: func(string, string) (LoginOutcome, error) {
			return LoginOutcome{}, errors.New("bad credentials")
		},
	}
	gate := newTestGate(t, provider, "")

	_, err := gate.Login(context.Background(), "a@b.com", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	assert.False(t, gate.HasToken(), "nothing cached on failure")
	assert.Equal(t, 0, gate.PendingCount(), "no challenge registered on failure")
}

func TestLogin_CoalescesOntoPendingChallenge(t *testing.T) {
	provider := challengeProvider("tok", "123456")
	gate := newTestGate(t, provider, "")

	first, err := gate.Login(context.Background(), "a@b.com", "x")
	require.NoError(t, err)
	require.True(t, first.ChallengeRequired())

	second, err := gate.Login(context.Background(), "a@b.com", "x")
	require.NoError(t, err)
	require.True(t, second.ChallengeRequired())
	assert.Equal(t, first.Challenge.ID, second.Challenge.ID, "same pending challenge returned")

	logins, _ := provider.counts()
	assert.Equal(t, 1, logins, "no second code email for a pending identity")
}

func TestVerifyChallenge_Success(t *testing.T) {
	provider := challengeProvider("verified-token", "123456")
	gate := newTestGate(t, provider, "")

	_, err := gate.Login(context.Background(), "a@b.com", "x")
	require.NoError(t, err)

	token, err := gate.VerifyChallenge(context.Background(), "a@b.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, "verified-token", token)
	assert.True(t, gate.HasToken())
	assert.Equal(t, 0, gate.PendingCount(), "challenge consumed")

	// The challenge is gone, so a repeat verify fails.
	_, err = gate.VerifyChallenge(context.Background(), "a@b.com", "123456")
	assert.ErrorIs(t, err, ErrNoPendingChallenge)
}

func TestVerifyChallenge_WrongCode(t *testing.T) {
	provider := challengeProvider("tok", "123456")
	gate := newTestGate(t, provider, "")

	_, err := gate.Login(context.Background(), "a@b.com", "x")
	require.NoError(t, err)

	_, err = gate.VerifyChallenge(context.Background(), "a@b.com", "000000")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChallengeRejected)

	assert.Equal(t, 1, gate.PendingCount(), "challenge kept for retry")
	assert.False(t, gate.HasToken())

	// Retrying with the right code still works.
	token, err := gate.VerifyChallenge(context.Background(), "a@b.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
}

func TestVerifyChallenge_AttemptLimit(t *testing.T) {
	provider := challengeProvider("tok", "123456")
	gate := newTestGate(t, provider, "")

	_, err := gate.Login(context.Background(), "a@b.com", "x")
	require.NoError(t, err)

	for i := 0; i < MaxVerifyAttempts; i++ {
		_, err = gate.VerifyChallenge(context.Background(), "a@b.com", "000000")
		assert.ErrorIs(t, err, ErrChallengeRejected)
	}

	assert.Equal(t, 0, gate.PendingCount(), "challenge dropped after the attempt limit")

	_, err = gate.VerifyChallenge(context.Background(), "a@b.com", "123456")
	assert.ErrorIs(t, err, ErrNoPendingChallenge)
}

func TestVerifyChallenge_NoPending(t *testing.T) {
	gate := newTestGate(t, tokenProvider("tok"), "")

	_, err := gate.VerifyChallenge(context.Background(), "nobody@example.com", "123456")
	assert.ErrorIs(t, err, ErrNoPendingChallenge)
}

func TestInvalidate_ForcesRelogin(t *testing.T) {
	provider := tokenProvider("fresh-token")
	gate := newTestGate(t, provider, "")

	_, err := gate.EnsureToken(context.Background())
	require.NoError(t, err)

	gate.Invalidate()
	assert.False(t, gate.HasToken())

	token, err := gate.EnsureToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)

	logins, _ := provider.counts()
	assert.Equal(t, 2, logins, "invalidate forces a fresh login")
}

func TestClearChallenge(t *testing.T) {
	provider := challengeProvider("tok", "123456")
	gate := newTestGate(t, provider, "")

	_, err := gate.Login(context.Background(), "a@b.com", "x")
	require.NoError(t, err)

	assert.True(t, gate.ClearChallenge("a@b.com"))
	assert.False(t, gate.ClearChallenge("a@b.com"), "second clear finds nothing")

	_, err = gate.VerifyChallenge(context.Background(), "a@b.com", "123456")
	assert.ErrorIs(t, err, ErrNoPendingChallenge)
}

func TestEnsureToken_CoalescesConcurrentLogins(t *testing.T) {
	provider := tokenProvider("shared-token")
	provider.loginDelay = 50 * time.Millisecond
	gate := newTestGate(t, provider, "")

	const callers = 20
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = gate.EnsureToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared-token", tokens[i])
	}

	logins, _ := provider.counts()
	assert.Equal(t, 1, logins, "concurrent callers must coalesce onto one login")
}

func TestEnsureToken_CoalescedChallengeFansOut(t *testing.T) {
	provider := challengeProvider("tok", "123456")
	provider.loginDelay = 50 * time.Millisecond
	gate := newTestGate(t, provider, "")

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = gate.EnsureToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		assert.ErrorIs(t, errs[i], ErrChallengeRequired)
	}

	logins, _ := provider.counts()
	assert.Equal(t, 1, logins)
	assert.Equal(t, 1, gate.PendingCount(), "exactly one challenge registered")
}

func TestEnsureToken_WaiterHonorsContext(t *testing.T) {
	provider := tokenProvider("slow-token")
	provider.loginDelay = 200 * time.Millisecond
	gate := newTestGate(t, provider, "")

	go func() {
		_, _ = gate.EnsureToken(context.Background())
	}()

	// Wait until the driver has claimed the flight so this caller becomes a
	// waiter rather than a second driver.
	for i := 0; i < 1000; i++ {
		gate.mu.Lock()
		claimed := gate.inflight != nil
		gate.mu.Unlock()
		if claimed {
			break
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gate.EnsureToken(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGate_StateSequence(t *testing.T) {
	// Full walk of the per-identity state machine: challenge, failed verify,
	// successful verify, invalidate, fresh login.
	calls := 0
	provider := &fakeProvider{
		loginFn: func(identity, _ string) (LoginOutcome, error) {
			calls++
			if calls == 1 {
				return LoginOutcome{Challenge: &Challenge{Identity: identity}}, nil
			}
			return LoginOutcome{Token: fmt.Sprintf("token-%d", calls)}, nil
		},
		verifyFn: func(_ Challenge, code string) (string, error) {
			if code != "654321" {
				return "", errors.New("wrong code")
			}
			return "token-verified", nil
		},
	}
	gate := newTestGate(t, provider, "")

	outcome, err := gate.Login(context.Background(), "user@example.com", "hunter2")
	require.NoError(t, err)
	require.True(t, outcome.ChallengeRequired())

	_, err = gate.VerifyChallenge(context.Background(), "user@example.com", "000000")
	assert.ErrorIs(t, err, ErrChallengeRejected)

	token, err := gate.VerifyChallenge(context.Background(), "user@example.com", "654321")
	require.NoError(t, err)
	assert.Equal(t, "token-verified", token)

	cached, err := gate.EnsureToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-verified", cached)

	gate.Invalidate()

	fresh, err := gate.EnsureToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", fresh)
}
