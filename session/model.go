package session

import "time"

// CurrentSchemaVersion is written into every encoded session.
const CurrentSchemaVersion uint8 = 1

// Session is one signed-in gateway session.
type Session struct {
	SchemaVersion uint8  `cbor:"1,keyasint"`
	SessionID     string `cbor:"-"`
	UserID        string `cbor:"2,keyasint"`
	Email         string `cbor:"3,keyasint"`
	// RefreshHash is the SHA-256 of the current refresh secret.
	RefreshHash [32]byte `cbor:"4,keyasint"`
	CreatedAt   int64    `cbor:"5,keyasint"`
	ExpiresAt   int64    `cbor:"6,keyasint"`
}

// Expired reports whether the session's absolute expiry is at or before now.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt <= now.Unix()
}
