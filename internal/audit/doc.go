// Package audit records setup, authentication, and tool events.
//
// The store is optional: without a configured path the server wires in the
// Noop log and behaves as if the package did not exist. With a path, events
// go to a single-table SQLite database and GET /setup/audit lists them back
// newest first.
//
// Recording is advisory. A failed insert is logged and dropped; it never
// fails the request that produced the event.
package audit
