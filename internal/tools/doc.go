// Package tools defines the printer control tools and dispatches calls to
// them.
//
// The catalogue holds nine tools: get_printer_status, list_cloud_files,
// upload_file, start_print, pause_print, resume_print, cancel_print,
// get_ams_status, and list_presets. Both callable surfaces (POST /api/tool
// and MCP tools/call) route through Dispatcher.Invoke, so the two transports
// cannot drift.
//
// Handlers are pass-through glue: ensure a token, make one cloud call,
// reshape the payload. They never retry and never interpret cloud errors;
// a *bambu.APIError travels to the caller intact. The exceptions are
// pause/resume/cancel, which answer a not-implemented result without any
// cloud traffic, and list_presets, which degrades to a not-supported result
// when the cloud refuses the preset listing.
package tools
