package middleware

import (
	"net/http"
	"slices"

	"github.com/MrEthical07/portalAuth/profile"
)

// RequireRole admits resolved profiles holding one of roles and answers 403
// otherwise. It runs [RequireProfile] first when no snapshot is present.
func RequireRole(roles ...profile.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		check := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap, ok := SnapshotFromContext(r.Context())
			if !ok || snap.Profile == nil || !slices.Contains(roles, snap.Profile.Role) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
		return RequireProfile()(check)
	}
}
