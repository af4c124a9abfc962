// Package httpapi serves the portal over JSON HTTP.
//
// Each browser is identified by a client cookie. The first request from a new
// client builds its [portalAuth.Engine] through an [EngineFactory]; later
// requests reuse it until the client goes idle and [Server.Sweep] closes it.
//
// Routes:
//
//	POST  /auth/sign-in
//	POST  /auth/sign-up
//	POST  /auth/sign-out
//	GET   /auth/email-role?email=
//	GET   /me
//	PATCH /me/profile
//
// Engine errors map to 401 (credentials, no active user), 409 (duplicate
// account), 422 (password policy), 400 (bad input or role), 429 (throttled) and
// 503 (backend unavailable).
package httpapi
