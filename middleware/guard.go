package middleware

import (
	"context"
	"net/http"

	portalAuth "github.com/MrEthical07/portalAuth"
)

type engineContextKey struct{}
type snapshotContextKey struct{}

// WithEngine attaches the engine serving the current client to ctx.
func WithEngine(ctx context.Context, engine *portalAuth.Engine) context.Context {
	return context.WithValue(ctx, engineContextKey{}, engine)
}

func EngineFromContext(ctx context.Context) (*portalAuth.Engine, bool) {
	e, ok := ctx.Value(engineContextKey{}).(*portalAuth.Engine)
	return e, ok && e != nil
}

// SnapshotFromContext returns the resolved snapshot stored by [RequireProfile].
func SnapshotFromContext(ctx context.Context) (portalAuth.Snapshot, bool) {
	s, ok := ctx.Value(snapshotContextKey{}).(portalAuth.Snapshot)
	return s, ok
}

// RequireProfile rejects requests whose engine has no resolved profile. A
// resolution in flight is awaited for as long as the request context allows.
//
// Anonymous clients get 401. A degraded engine, or one that never settles,
// gets 503.
func RequireProfile() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := SnapshotFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			engine, ok := EngineFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			snap, err := engine.WaitSettled(r.Context())
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, "profile_unavailable")
				return
			}

			switch snap.State {
			case portalAuth.StateResolved:
			case portalAuth.StateDegraded:
				writeError(w, http.StatusServiceUnavailable, "profile_unavailable")
				return
			default:
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), snapshotContextKey{}, snap)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `"}`))
}
