package portalAuth

import (
	"context"
	"fmt"

	"github.com/MrEthical07/portalAuth/profile"
)

// UpdateProfile applies patch to the resolved profile and returns the result.
// Without a resolved profile it returns ErrNoActiveUser and performs no I/O. A
// failed write returns an error wrapping ErrProfileUpdateFailed and leaves the
// current profile untouched.
//
// If the session changes while the write is in flight, the written profile is
// returned but not published.
func (e *Engine) UpdateProfile(ctx context.Context, patch profile.Patch) (*profile.Profile, error) {
	e.mu.Lock()
	if e.state != StateResolved || e.profile == nil || e.session == nil {
		e.mu.Unlock()
		e.metricInc(MetricProfileUpdateFailure)
		return nil, ErrNoActiveUser
	}
	epoch := e.epoch
	sess := e.session.Clone()
	e.mu.Unlock()

	subject := subjectOf(sess, epoch)

	if patch.Role != nil && !patch.Role.Valid() {
		err := fmt.Errorf("%w: %w", ErrProfileUpdateFailed, profile.ErrInvalidRole)
		e.metricInc(MetricProfileUpdateFailure)
		e.emitAudit(ctx, auditEventProfileUpdateFailure, false, subject, err, nil)
		return nil, err
	}

	p, err := e.resolverFor(sess.Identity).Update(ctx, sess, patch)
	if err == nil && p == nil {
		err = fmt.Errorf("resolver returned no profile")
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrProfileUpdateFailed, err)
		e.metricInc(MetricProfileUpdateFailure)
		e.emitAudit(ctx, auditEventProfileUpdateFailure, false, subject, err, nil)
		return nil, err
	}
	subject.role = p.Role

	e.mu.Lock()
	if e.epoch == epoch && e.state == StateResolved {
		e.profile = p.Clone()
		e.notifyLocked()
	}
	e.mu.Unlock()

	e.metricInc(MetricProfileUpdateSuccess)
	e.emitAudit(ctx, auditEventProfileUpdateSuccess, true, subject, nil, nil)
	return p, nil
}
