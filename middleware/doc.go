// Package middleware guards HTTP routes on the state of a client's
// [portalAuth.Engine].
//
// The HTTP adapter stores the engine for the calling client with [WithEngine].
// Guards read it back and decide from its snapshot:
//
//   - [RequireProfile] admits resolved profiles, waiting out an in-flight
//     resolution.
//   - [RequireRole] additionally checks the profile role.
//   - [RequirePermission] checks a capability through the role manager.
//
// # What this package must NOT do
//
//   - Call the gateway or the profile store. All state comes from the engine.
//   - Change engine state.
package middleware
