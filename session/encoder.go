package session

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrCorrupt is returned when a stored session blob cannot be decoded.
var ErrCorrupt = errors.New("session blob corrupt")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("session: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("session: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes s. The session id is part of the key, not the blob.
func Encode(s *Session) ([]byte, error) {
	if s.UserID == "" {
		return nil, errors.New("session user id empty")
	}
	out := *s
	if out.SchemaVersion == 0 {
		out.SchemaVersion = CurrentSchemaVersion
	}
	return encMode.Marshal(&out)
}

// Decode parses a blob produced by [Encode].
func Decode(data []byte) (*Session, error) {
	var s Session
	if err := decMode.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if s.SchemaVersion == 0 || s.SchemaVersion > CurrentSchemaVersion || s.UserID == "" {
		return nil, ErrCorrupt
	}
	return &s, nil
}
