// ABOUTME: Sentinel errors for the authentication gate
// ABOUTME: Callers match these with errors.Is to drive transport responses

package auth

import "errors"

// ErrAuthenticationFailed is returned when the cloud provider rejects the
// credentials or the login call itself fails. Nothing is cached and no
// challenge is registered.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrChallengeRequired is returned by EnsureToken when the provider demands
// a two-factor code. It is a flow state for the setup surface, but a tool
// call cannot proceed past it without an operator.
var ErrChallengeRequired = errors.New("two-factor verification required")

// ErrNoPendingChallenge is returned by VerifyChallenge when no login is
// awaiting a code for the identity.
var ErrNoPendingChallenge = errors.New("no pending challenge for identity")

// ErrChallengeRejected is returned when the provider refuses the submitted
// code. The pending challenge survives for a retry until the attempt limit.
var ErrChallengeRejected = errors.New("challenge rejected")
