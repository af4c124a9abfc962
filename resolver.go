package portalAuth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/portalAuth/profile"
	"github.com/MrEthical07/portalAuth/profilestore"
	"github.com/MrEthical07/portalAuth/registry"
)

// IdentityResolver produces the profile of an authenticated identity. The engine
// asks resolvers in order and uses the first that owns the identity.
type IdentityResolver interface {
	Owns(identity *Identity) bool
	// Resolve returns the normalized profile of the session's identity. role is the
	// role selected at sign-in, or nil.
	Resolve(ctx context.Context, sess *Session, role *profile.Role) (*profile.Profile, error)
	// Update applies patch and returns the normalized result.
	Update(ctx context.Context, sess *Session, patch profile.Patch) (*profile.Profile, error)
}

// storeResolver backs every non-demo identity with the profile store.
type storeResolver struct {
	engine   *Engine
	store    profilestore.Store
	registry registry.Registry
	logger   *slog.Logger
}

func (r *storeResolver) Owns(identity *Identity) bool {
	return identity != nil
}

func (r *storeResolver) Resolve(ctx context.Context, sess *Session, role *profile.Role) (*profile.Profile, error) {
	identity := sess.Identity
	if role != nil {
		r.persistRole(ctx, identity, *role)
	}

	p, err := r.store.Get(ctx, identity.ID)
	if errors.Is(err, profile.ErrNotFound) {
		seedRole := profile.DefaultRole
		p, err = r.store.Upsert(ctx, identity.ID, identity.Email, profile.Patch{Role: &seedRole})
		if err != nil {
			return nil, fmt.Errorf("%w: seed: %w", ErrProfileResolutionFailed, err)
		}
		r.engine.metricInc(MetricResolutionSeeded)
		r.engine.emitAudit(ctx, auditEventProfileSeeded, true, auditSubject{
			userID: identity.ID,
			email:  identity.Email,
			role:   seedRole,
		}, nil, nil)
	} else if err != nil {
		return nil, fmt.Errorf("%w: get: %w", ErrProfileResolutionFailed, err)
	}

	return profile.Normalize(p), nil
}

// persistRole writes the sign-in role onto the profile and the registry. Failures
// keep the stored role and are only logged.
func (r *storeResolver) persistRole(ctx context.Context, identity *Identity, role profile.Role) {
	subject := auditSubject{userID: identity.ID, email: identity.Email, role: role}

	if _, err := r.store.Upsert(ctx, identity.ID, identity.Email, profile.Patch{Role: &role}); err != nil {
		r.logger.Warn("portal: persist selected role failed",
			"user_id", identity.ID, "email", identity.Email, "role", role, "err", err)
		r.engine.metricInc(MetricRoleReassignFailure)
		r.engine.emitAudit(ctx, auditEventRoleReassignFailure, false, subject, err, nil)
		return
	}
	r.reassign(ctx, identity.Email, role)

	r.engine.metricInc(MetricRoleReassigned)
	r.engine.emitAudit(ctx, auditEventRoleReassigned, true, subject, nil, nil)
}

// reassign moves an existing registry entry. Absent entries stay absent.
func (r *storeResolver) reassign(ctx context.Context, email string, role profile.Role) {
	if _, err := r.registry.Reassign(ctx, email, role); err != nil {
		r.logger.Warn("portal: registry role reassignment failed",
			"email", email, "role", role, "err", err)
	}
}

func (r *storeResolver) Update(ctx context.Context, sess *Session, patch profile.Patch) (*profile.Profile, error) {
	identity := sess.Identity
	if _, err := r.store.Upsert(ctx, identity.ID, identity.Email, patch); err != nil {
		return nil, err
	}
	p, err := r.store.Get(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	if patch.Role != nil {
		r.reassign(ctx, identity.Email, *patch.Role)
	}
	return profile.Normalize(p), nil
}

// demoResolver synthesizes profiles for demo identities from the account table.
// A profile lives as long as the session that produced it and is never persisted.
type demoResolver struct {
	table *demoTable
	now   func() time.Time

	mu       sync.Mutex
	profiles map[string]demoProfile // by account id
}

type demoProfile struct {
	sessionID string
	profile   *profile.Profile
}

func newDemoResolver(table *demoTable) *demoResolver {
	return &demoResolver{
		table:    table,
		now:      time.Now,
		profiles: make(map[string]demoProfile),
	}
}

func (r *demoResolver) Owns(identity *Identity) bool {
	_, ok := r.table.match(identity)
	return ok
}

// Resolve keeps the profile already chosen for this session unless a role is
// selected. A new session starts over from the table role.
func (r *demoResolver) Resolve(_ context.Context, sess *Session, role *profile.Role) (*profile.Profile, error) {
	acct, ok := r.table.match(sess.Identity)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a demo identity", ErrProfileResolutionFailed, sess.Subject)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.loadLocked(acct, sess.ID, role)
	if role != nil && p.Role != *role {
		if err := p.Apply(profile.Patch{Role: role}, r.now().UTC()); err != nil {
			return nil, err
		}
	}
	return profile.Normalize(p), nil
}

func (r *demoResolver) Update(_ context.Context, sess *Session, patch profile.Patch) (*profile.Profile, error) {
	acct, ok := r.table.match(sess.Identity)
	if !ok {
		return nil, ErrNoActiveUser
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.loadLocked(acct, sess.ID, nil).Clone()
	if err := next.Apply(patch, r.now().UTC()); err != nil {
		return nil, err
	}
	r.profiles[acct.ID] = demoProfile{sessionID: sess.ID, profile: next}
	return profile.Normalize(next), nil
}

func (r *demoResolver) loadLocked(acct DemoAccount, sessionID string, role *profile.Role) *profile.Profile {
	if cached, ok := r.profiles[acct.ID]; ok && cached.sessionID == sessionID {
		return cached.profile
	}
	seedRole := acct.Role
	if role != nil {
		seedRole = *role
	}
	p := profile.New(acct.ID, acct.Email, seedRole, r.now().UTC())
	p.ID = "profile-" + acct.ID
	r.profiles[acct.ID] = demoProfile{sessionID: sessionID, profile: p}
	return p
}
