// Package internal holds helpers private to portalAuth: session identifiers and
// refresh-token encoding.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: daemon configuration loading
//   - logger: slog handler setup
//   - rate: Redis-backed fixed-window sign-in throttle
//
// # What this package must NOT do
//
//   - Export types that appear in the public portalAuth API.
package internal
