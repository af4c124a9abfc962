// Package profilestore persists portal profiles keyed by identity id.
//
// Every implementation upserts: a profile is created with role defaults the first
// time a user id is written and merged afterwards. Concurrent upserts for the same
// id are last-write-wins.
package profilestore

import (
	"context"

	"github.com/MrEthical07/portalAuth/profile"
)

// Store is the profile persistence contract used by the resolution engine.
type Store interface {
	// Get returns profile.ErrNotFound when userID has no profile yet.
	Get(ctx context.Context, userID string) (*profile.Profile, error)
	// Upsert creates the profile when absent, otherwise merges patch over it.
	Upsert(ctx context.Context, userID, email string, patch profile.Patch) (*profile.Profile, error)
	Delete(ctx context.Context, userID string) error
}

// seed builds the initial profile for a user id. The role comes from the patch when
// supplied and valid.
func seed(id, userID, email string, patch profile.Patch, now nowFunc) *profile.Profile {
	role := profile.DefaultRole
	if patch.Role != nil && patch.Role.Valid() {
		role = *patch.Role
	}
	p := profile.New(userID, email, role, now())
	p.ID = id
	return p
}
