// Package bambu is a thin HTTP client for the Bambu Cloud API.
//
// The client covers exactly what the gateway needs: account login with both
// 2FA flows (email verification code and app-based tfaKey), and the device,
// file, and print-task reads and writes behind the tool catalogue. Responses
// are returned as raw JSON for the tool layer to reshape; this package does
// not model the vendor's payloads.
//
// Login and VerifyCode implement auth.Provider, so the auth gate drives all
// credential handling. Every other method takes the bearer token as an
// explicit parameter, keeping the "authenticate first, then one cloud call"
// sequence visible at the call site.
//
// Non-2xx responses surface as *APIError with the operation name, status
// code, and the cloud's message. The client never retries.
package bambu
