// Package audit relays engine audit events to pluggable sinks.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON lines, slog, no-op).
//   - [Dispatcher]: buffered async relay that either drops or blocks when full.
//   - [Event]: one record with timestamp, type, user, email, role and resolution epoch.
//
// This package does not decide which events to emit. That belongs to the engine.
package audit
