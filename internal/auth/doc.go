// Package auth implements the token-cache authentication gate for the
// Bambu Cloud API, including the 2FA challenge-response setup flow.
//
// # Components
//
// TokenStore is a guarded cell holding the one cached bearer token.
// PendingChallengeRegistry parks login attempts that are waiting for a
// one-time code, keyed by account identity, at most one per identity.
// Gate ties them together: EnsureToken serves the cache or performs a
// coalesced login, Login/VerifyChallenge drive the 2FA exchange for the
// setup endpoints, and Invalidate forces a re-login.
//
// # State machine per identity
//
//	UNAUTHENTICATED --login ok--------------> AUTHENTICATED
//	UNAUTHENTICATED --login needs 2FA-------> CHALLENGE_PENDING
//	CHALLENGE_PENDING --verify ok-----------> AUTHENTICATED
//	CHALLENGE_PENDING --verify rejected-----> CHALLENGE_PENDING (retry)
//	CHALLENGE_PENDING --clear / limit hit---> UNAUTHENTICATED
//	AUTHENTICATED --invalidate--------------> UNAUTHENTICATED
//
// Every transition is all-or-nothing: a failed provider call leaves both
// the token cache and the registry untouched.
package auth
