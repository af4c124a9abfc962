package middleware

import (
	"net/http"

	"github.com/MrEthical07/portalAuth/permission"
)

// RequirePermission admits resolved profiles whose role mask in rm carries perm.
// A nil rm uses [permission.Default].
func RequirePermission(rm *permission.RoleManager, perm string) func(http.Handler) http.Handler {
	if rm == nil {
		if def, err := permission.Default(); err == nil {
			rm = def
		}
	}
	return func(next http.Handler) http.Handler {
		check := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap, ok := SnapshotFromContext(r.Context())
			if !ok || snap.Profile == nil || rm == nil || !rm.Has(snap.Profile.Role.String(), perm) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
		return RequireProfile()(check)
	}
}
