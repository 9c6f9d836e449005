// Package setup serves the one-time authentication flow for obtaining a
// Bambu Cloud token. Bambu accounts usually require an emailed 2FA code,
// so startup credentials alone cannot mint a token; the operator walks
// through POST /setup/login and POST /setup/verify once, stores the
// resulting token as BAMBU_TOKEN, and never touches these endpoints again.
//
// Mutating endpoints are guarded by the X-Setup-Key header, checked against
// SETUP_KEY_HASH (bcrypt) or SETUP_KEY (plaintext, constant-time). Status
// and the rendered guide stay open so an operator can always see where
// setup stands.
package setup
