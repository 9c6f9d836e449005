// Package mcp implements the Model Context Protocol server for external tool access.
//
// # Overview
//
// MCP (Model Context Protocol) is a standard for AI tool integration. This
// package provides an MCP-compatible HTTP server that exposes the printer
// tool catalogue to external AI clients (like Claude Desktop or custom
// applications).
//
// # Protocol
//
// The server speaks the Streamable HTTP transport: JSON-RPC 2.0 messages
// over a single /mcp endpoint.
//
//   - POST /mcp - JSON-RPC requests (initialize, tools/list, tools/call, ping)
//   - GET /mcp - server event stream for an initialized session (SSE)
//   - DELETE /mcp - session teardown
//
// # Sessions
//
// initialize creates a session and returns its ID in the Mcp-Session-Id
// response header; every later request must echo that header. Sessions live
// in memory and disappear on restart, at which point clients re-initialize.
//
// # Tool Calls
//
// tools/call routes through the dispatcher shared with POST /api/tool.
// Caller mistakes (unknown tool, missing argument) come back as JSON-RPC
// -32602 errors; tool handler failures come back as an isError result whose
// text is "Error: <message>", so the calling agent can read and react to
// them.
package mcp
