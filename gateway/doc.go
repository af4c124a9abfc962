// Package gateway is the credential and identity gateway of the portal.
//
// It has two halves:
//
//   - [Service] is the authority. It owns identities (Redis), password hashes
//     (Argon2id), sessions (package session), access tokens (package jwt) and rotating
//     refresh tokens.
//   - [Client] is the per-browser view of the ambient session. It hydrates once from
//     a [TokenStore], performs sign-in, sign-up, sign-out and refresh against a
//     [Provider], and notifies subscribers of every session transition in order.
//
// The reconciliation engine in the root package consumes a Client. It never talks to
// the Service directly.
package gateway
