// Package portalAuth is the authentication, session and profile-resolution core of
// a role-based campus placement portal serving students, employees and placement
// officers.
//
// An [Engine] follows the credential session of one client and publishes the
// profile that belongs to it together with a loading status. It is assembled with
// [Builder] from a [Gateway] (credentials and sessions), an email registry (one role
// per email) and a profile store (one profile per identity).
//
// # States
//
//	Unresolved -> Loading -> Anonymous | Resolved | Degraded
//
// Every session transition re-enters Loading and starts a resolution tagged with a
// session epoch. Results for a superseded epoch are dropped. Sign-out moves to
// Anonymous immediately. A store failure during resolution is logged and leaves
// the engine Degraded with no profile; it is never returned to a caller.
//
// # Demo accounts
//
// With Config.Demo enabled, a fixed set of demo emails signs in against an in-memory
// [Sandbox] and resolves to in-memory profiles, bypassing the gateway, the registry
// and the store.
//
// # What this package must NOT do
//
//   - Keep process-global state. Each Engine owns its state.
//   - Return internal state by reference. Snapshots and accessors return copies.
//   - Import httpapi or middleware (they import this package).
package portalAuth
