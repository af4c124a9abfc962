// Package session provides Redis-backed persistence for gateway sessions.
//
// # Encoding
//
// Sessions are stored as CBOR maps with integer keys (Core Deterministic Encoding).
// Unknown keys are ignored on decode, so fields can be added without a migration.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. It does not issue tokens,
// verify passwords, or resolve profiles. Those belong to the gateway and the engine.
//
// # What this package must NOT do
//
//   - Import portalAuth, gateway, or jwt (no upward imports).
//   - Store plaintext refresh secrets. Only their SHA-256 hash is kept.
package session
