// Package server assembles the gateway: the Bambu Cloud client, the auth
// gate, the tool dispatcher, the MCP transport, and the setup endpoints,
// all behind a single HTTP listener (TCP or a tsnet node).
//
// Construction is explicit and top-down in New; Run owns the listener
// lifecycle and blocks until the context is canceled.
package server
