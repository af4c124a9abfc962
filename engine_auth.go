package portalAuth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/portalAuth/gateway"
	"github.com/MrEthical07/portalAuth/password"
	"github.com/MrEthical07/portalAuth/profile"
	"github.com/MrEthical07/portalAuth/registry"
)

// SignIn authenticates req through the gateway. It returns once the engine has
// taken up the new session, so a following WaitSettled observes it. Profile
// resolution errors never surface here.
//
// A selected Role overrides the demo table role for demo accounts and is persisted
// onto the stored profile otherwise. Failing to persist it keeps the stored role.
func (e *Engine) SignIn(ctx context.Context, req SignInRequest) error {
	email := profile.NormalizeEmail(req.Email)
	subject := auditSubject{email: email}

	if email == "" || req.Password == "" {
		e.failSignIn(ctx, subject, ErrInvalidRequest)
		return ErrInvalidRequest
	}
	if req.Role != nil && !req.Role.Valid() {
		err := fmt.Errorf("%w: %q", ErrInvalidRole, *req.Role)
		e.failSignIn(ctx, subject, err)
		return err
	}

	w := &signInWaiter{email: email, done: make(chan struct{})}
	if req.Role != nil {
		role := *req.Role
		w.role = &role
		subject.role = role
	}

	e.mu.Lock()
	if !e.started || e.closed {
		e.mu.Unlock()
		return ErrEngineNotReady
	}
	e.waiters = append(e.waiters, w)
	e.mu.Unlock()

	sess, err := e.gateway.SignIn(ctx, email, req.Password)
	if err != nil {
		e.dropWaiter(w)
		err = mapGatewayError(err)
		e.failSignIn(ctx, subject, err)
		return err
	}

	subject.userID = sess.Subject
	subject.sessionID = sess.ID
	e.metricInc(MetricSignInSuccess)
	e.emitAudit(ctx, auditEventSignInSuccess, true, subject, nil, nil)

	timer := time.NewTimer(e.config.Resolution.Timeout)
	defer timer.Stop()
	select {
	case <-w.done:
	case <-ctx.Done():
		e.dropWaiter(w)
	case <-timer.C:
		e.dropWaiter(w)
	}
	return nil
}

func (e *Engine) failSignIn(ctx context.Context, subject auditSubject, err error) {
	if errors.Is(err, ErrSignInRateLimited) {
		e.metricInc(MetricSignInRateLimited)
	} else {
		e.metricInc(MetricSignInFailure)
	}
	e.emitAudit(ctx, auditEventSignInFailure, false, subject, err, nil)
}

func (e *Engine) dropWaiter(w *signInWaiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.waiters {
		if cur == w {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
}

// SignOut moves the engine to StateAnonymous at once, discarding any in-flight
// resolution, then ends the gateway session. It is idempotent. The gateway error,
// if any, is returned after the local transition.
func (e *Engine) SignOut(ctx context.Context) error {
	e.mu.Lock()
	if !e.started || e.closed {
		e.mu.Unlock()
		return ErrEngineNotReady
	}
	subject := subjectOf(e.session, e.epoch)
	e.releaseWaitersLocked()
	if e.state != StateAnonymous {
		e.epoch++
		e.session = nil
		e.profile = nil
		e.setStateLocked(StateAnonymous)
	}
	e.mu.Unlock()

	err := e.gateway.SignOut(ctx)
	if err != nil {
		err = mapGatewayError(err)
	}
	e.metricInc(MetricSignOut)
	e.emitAudit(ctx, auditEventSignOut, err == nil, subject, err, nil)
	return err
}

// SignUp registers a new account without signing in. The email registry is
// consulted first and registration fails closed when it cannot answer. An email
// that is already registered yields a *DuplicateAccountError naming its role.
//
// After the credential gateway accepts the account, the registry entry and the
// initial profile are written best-effort; their failures are logged only.
func (e *Engine) SignUp(ctx context.Context, req SignUpRequest) error {
	email := profile.NormalizeEmail(req.Email)
	role := req.Role
	if role == "" && req.Base.Role != nil {
		role = *req.Base.Role
	}
	subject := auditSubject{email: email, role: role}

	if email == "" || req.Password == "" {
		e.emitAudit(ctx, auditEventSignUpBlocked, false, subject, ErrInvalidRequest, nil)
		return ErrInvalidRequest
	}
	if !role.Valid() {
		err := fmt.Errorf("%w: %q", ErrInvalidRole, role)
		e.emitAudit(ctx, auditEventSignUpBlocked, false, subject, err, nil)
		return err
	}

	existing, err := e.registry.Lookup(ctx, email)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrEmailCheckUnavailable, err)
		e.metricInc(MetricSignUpBlocked)
		e.emitAudit(ctx, auditEventSignUpBlocked, false, subject, err, nil)
		return err
	}
	if existing.Exists {
		return e.duplicate(ctx, subject, existing.Role)
	}

	identity, err := e.gateway.SignUp(ctx, email, req.Password, map[string]string{
		gateway.MetadataRole: string(role),
	})
	if errors.Is(err, gateway.ErrDuplicateAccount) {
		var known profile.Role
		if res, lerr := e.registry.Lookup(ctx, email); lerr == nil && res.Exists {
			known = res.Role
		}
		return e.duplicate(ctx, subject, known)
	}
	if err != nil {
		err = mapGatewayError(err)
		e.metricInc(MetricSignUpBlocked)
		e.emitAudit(ctx, auditEventSignUpBlocked, false, subject, err, nil)
		return err
	}
	subject.userID = identity.ID

	if err := e.registry.Register(ctx, email, role); err != nil {
		var regErr *registry.RegisteredError
		if errors.As(err, &regErr) {
			return e.duplicate(ctx, subject, regErr.Role)
		}
		e.logger.Warn("portal: registry write after sign-up failed",
			"user_id", identity.ID, "email", email, "err", err)
	}

	patch := req.Base.Merge(req.Details)
	patch.Role = &role
	if _, err := e.store.Upsert(ctx, identity.ID, email, patch); err != nil {
		e.logger.Warn("portal: initial profile write failed",
			"user_id", identity.ID, "email", email, "err", err)
	}

	e.metricInc(MetricSignUpSuccess)
	e.emitAudit(ctx, auditEventSignUpSuccess, true, subject, nil, nil)
	return nil
}

func (e *Engine) duplicate(ctx context.Context, subject auditSubject, existing profile.Role) error {
	err := &DuplicateAccountError{Email: subject.email, Role: existing}
	e.metricInc(MetricSignUpDuplicate)
	e.emitAudit(ctx, auditEventSignUpDuplicate, false, subject, err, func() map[string]string {
		return map[string]string{"existing_role": string(existing)}
	})
	return err
}

// CheckEmailRole reports whether email is registered and under which role. A
// registry failure is returned as ErrEmailCheckUnavailable, never as "not found".
func (e *Engine) CheckEmailRole(ctx context.Context, email string) (EmailRoleResult, error) {
	email = profile.NormalizeEmail(email)
	if email == "" {
		return EmailRoleResult{}, ErrInvalidRequest
	}

	e.metricInc(MetricEmailCheck)
	res, err := e.registry.Lookup(ctx, email)
	if err != nil {
		e.metricInc(MetricEmailCheckFailure)
		return EmailRoleResult{}, fmt.Errorf("%w: %w", ErrEmailCheckUnavailable, err)
	}
	return EmailRoleResult{Exists: res.Exists, Role: res.Role}, nil
}

func mapGatewayError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gateway.ErrInvalidCredentials):
		return ErrInvalidCredentials
	case errors.Is(err, gateway.ErrRateLimited):
		return ErrSignInRateLimited
	case errors.Is(err, password.ErrPolicy):
		return fmt.Errorf("%w: %w", ErrPasswordPolicy, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
}
