package portalAuth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/portalAuth/profile"
	"github.com/MrEthical07/portalAuth/registry"
)

func TestSignUpThenSignInResolvesRegisteredProfile(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "Mentor@X.com", profile.RoleEmployee, profile.Patch{
		Employer: profile.Ptr("Acme"),
		JobTitle: profile.Ptr("Staff Engineer"),
	})

	if snap := env.engine.Snapshot(); snap.State != StateAnonymous {
		t.Fatalf("expected sign-up to leave the engine anonymous, got %s", snap.State)
	}

	snap := env.signIn(t, "mentor@x.com", nil)
	if snap.State != StateResolved {
		t.Fatalf("expected resolved, got %s", snap.State)
	}
	if snap.Loading {
		t.Fatalf("expected loading to be false once resolved")
	}
	emp, ok := snap.Profile.Employee()
	if !ok {
		t.Fatalf("expected employee payload, got %T", snap.Profile.Details)
	}
	if emp.Employer != "Acme" || emp.JobTitle != "Staff Engineer" {
		t.Fatalf("expected sign-up details to be stored, got %+v", emp)
	}
	if snap.Identity == nil || snap.Identity.Email != "mentor@x.com" {
		t.Fatalf("expected normalized identity email, got %+v", snap.Identity)
	}
	if snap.Profile.UserID != snap.Identity.ID {
		t.Fatalf("expected profile keyed by identity id")
	}
}

func TestSignInWithoutProfileSeedsStudentDefaults(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.service.SignUp(context.Background(), "fresh@x.com", testPassword, nil); err != nil {
		t.Fatalf("service SignUp failed: %v", err)
	}

	snap := env.signIn(t, "fresh@x.com", nil)
	if snap.State != StateResolved {
		t.Fatalf("expected resolved, got %s", snap.State)
	}
	if snap.Profile.Role != profile.RoleStudent {
		t.Fatalf("expected seeded student role, got %s", snap.Profile.Role)
	}
	if snap.Profile.DisplayName != "fresh" {
		t.Fatalf("expected display name from email local part, got %q", snap.Profile.DisplayName)
	}
	if _, ok := snap.Profile.Student(); !ok {
		t.Fatalf("expected student payload")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricResolutionSeeded]; got != 1 {
		t.Fatalf("expected 1 seeded profile, got %d", got)
	}
}

func TestFirstSignInSeedsStudentIgnoringRoleHint(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.SignUp(context.Background(), "hint@x.com", testPassword, map[string]string{"role": "tpo"})
	if err != nil {
		t.Fatalf("service SignUp failed: %v", err)
	}

	snap := env.signIn(t, "hint@x.com", nil)
	if snap.Profile.Role != profile.RoleStudent {
		t.Fatalf("expected seeded role student, got %s", snap.Profile.Role)
	}
	if _, ok := snap.Profile.Student(); !ok {
		t.Fatalf("expected student payload")
	}
}

func TestDuplicateSignUpNamesExistingRole(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "a@x.com", profile.RoleStudent, profile.Patch{})

	err := env.engine.SignUp(context.Background(), SignUpRequest{
		Email:    "A@x.com",
		Password: testPassword,
		Role:     profile.RoleEmployee,
	})
	if !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("expected ErrDuplicateAccount, got %v", err)
	}
	var dup *DuplicateAccountError
	if !errors.As(err, &dup) {
		t.Fatalf("expected *DuplicateAccountError, got %T", err)
	}
	if dup.Role != profile.RoleStudent {
		t.Fatalf("expected existing role student, got %s", dup.Role)
	}

	res, err := env.engine.CheckEmailRole(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("CheckEmailRole failed: %v", err)
	}
	if !res.Exists || res.Role != profile.RoleStudent {
		t.Fatalf("expected registry to keep student, got %+v", res)
	}
	if snap := env.engine.Snapshot(); snap.State != StateAnonymous {
		t.Fatalf("expected no session after failed sign-up, got %s", snap.State)
	}
}

func TestDuplicateAtGatewayWithoutRegistryEntry(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.service.SignUp(context.Background(), "ghost@x.com", testPassword, nil); err != nil {
		t.Fatalf("service SignUp failed: %v", err)
	}

	err := env.engine.SignUp(context.Background(), SignUpRequest{
		Email:    "ghost@x.com",
		Password: testPassword,
		Role:     profile.RoleStudent,
	})
	var dup *DuplicateAccountError
	if !errors.As(err, &dup) {
		t.Fatalf("expected *DuplicateAccountError, got %v", err)
	}
	if dup.Role != "" {
		t.Fatalf("expected unknown role, got %s", dup.Role)
	}
}

func TestSignUpFailsClosedWhenRegistryUnavailable(t *testing.T) {
	down := &failingRegistry{Registry: registry.NewMemory(), err: registry.ErrUnavailable}
	env := newTestEnv(t, withRegistry(down))

	err := env.engine.SignUp(context.Background(), SignUpRequest{
		Email:    "new@x.com",
		Password: testPassword,
		Role:     profile.RoleStudent,
	})
	if !errors.Is(err, ErrEmailCheckUnavailable) {
		t.Fatalf("expected ErrEmailCheckUnavailable, got %v", err)
	}

	// The credential gateway must not have been asked to create the account.
	_, err = env.service.SignIn(context.Background(), "new@x.com", testPassword)
	if err == nil {
		t.Fatalf("expected no identity to exist after a blocked sign-up")
	}
	if _, upserts := env.store.calls(); upserts != 0 {
		t.Fatalf("expected no profile writes, got %d", upserts)
	}

	if _, err := env.engine.CheckEmailRole(context.Background(), "new@x.com"); !errors.Is(err, ErrEmailCheckUnavailable) {
		t.Fatalf("expected CheckEmailRole to report ErrEmailCheckUnavailable, got %v", err)
	}
}

func TestSignUpRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.SignUp(ctx, SignUpRequest{Email: "", Password: testPassword, Role: profile.RoleStudent}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if err := env.engine.SignUp(ctx, SignUpRequest{Email: "r@x.com", Password: testPassword, Role: "admin"}); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if err := env.engine.SignUp(ctx, SignUpRequest{Email: "p@x.com", Password: "short", Role: profile.RoleStudent}); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
}

func TestSignUpRoleFromBasePatch(t *testing.T) {
	env := newTestEnv(t)
	err := env.engine.SignUp(context.Background(), SignUpRequest{
		Email:    "base@x.com",
		Password: testPassword,
		Base:     profile.Patch{Role: profile.Ptr(profile.RoleTPO), Phone: profile.Ptr("555-0100")},
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	snap := env.signIn(t, "base@x.com", nil)
	if snap.Profile.Role != profile.RoleTPO || snap.Profile.Phone != "555-0100" {
		t.Fatalf("expected tpo profile with phone, got role=%s phone=%q", snap.Profile.Role, snap.Profile.Phone)
	}
}

func TestSignInInvalidCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "bad@x.com", profile.RoleStudent, profile.Patch{})

	err := env.engine.SignIn(context.Background(), SignInRequest{Email: "bad@x.com", Password: "wrong-password"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	err = env.engine.SignIn(context.Background(), SignInRequest{Email: "nobody@x.com", Password: testPassword})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
	if snap := env.engine.Snapshot(); snap.State != StateAnonymous {
		t.Fatalf("expected anonymous after failed sign-in, got %s", snap.State)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricSignInFailure]; got != 2 {
		t.Fatalf("expected 2 sign-in failures, got %d", got)
	}
}

func TestSignInRejectsInvalidRole(t *testing.T) {
	env := newTestEnv(t)
	role := profile.Role("admin")
	err := env.engine.SignIn(context.Background(), SignInRequest{Email: "x@x.com", Password: testPassword, Role: &role})
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestStoreGetFailureDegrades(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "broken@x.com", profile.RoleStudent, profile.Patch{})
	env.store.setGetErr(profile.ErrStoreUnavailable)

	err := env.engine.SignIn(context.Background(), SignInRequest{Email: "broken@x.com", Password: testPassword})
	if err != nil {
		t.Fatalf("expected resolution failure not to escape SignIn, got %v", err)
	}

	snap := settle(t, env.engine)
	if snap.State != StateDegraded {
		t.Fatalf("expected degraded, got %s", snap.State)
	}
	if snap.Loading {
		t.Fatalf("expected loading false when degraded")
	}
	if snap.Profile != nil {
		t.Fatalf("expected nil profile when degraded, got %+v", snap.Profile)
	}
	if snap.Session == nil {
		t.Fatalf("expected the session to stay visible when degraded")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricResolutionDegraded]; got != 1 {
		t.Fatalf("expected 1 degraded resolution, got %d", got)
	}
}

func TestResolutionTimeoutDegrades(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "slow@x.com", profile.RoleStudent, profile.Patch{})

	gate := make(chan struct{})
	defer close(gate)
	env.store.setGate(gate)
	env.engine.config.Resolution.Timeout = 50 * time.Millisecond

	if err := env.engine.SignIn(context.Background(), SignInRequest{Email: "slow@x.com", Password: testPassword}); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	snap := settle(t, env.engine)
	if snap.State != StateDegraded {
		t.Fatalf("expected degraded after timeout, got %s", snap.State)
	}
}

func TestSignOutDiscardsInFlightResolution(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "racer@x.com", profile.RoleStudent, profile.Patch{})

	gate := make(chan struct{})
	env.store.setGate(gate)

	if err := env.engine.SignIn(context.Background(), SignInRequest{Email: "racer@x.com", Password: testPassword}); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if err := env.engine.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if snap := env.engine.Snapshot(); snap.State != StateAnonymous || snap.Session != nil {
		t.Fatalf("expected immediate anonymous state, got %s", snap.State)
	}

	close(gate)

	deadline := time.Now().Add(2 * time.Second)
	for env.engine.MetricsSnapshot().Counters[MetricResolutionDiscarded] == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected the in-flight resolution to be discarded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap := env.engine.Snapshot()
	if snap.State != StateAnonymous || snap.Profile != nil {
		t.Fatalf("expected late resolution not to overwrite anonymous, got %s", snap.State)
	}
}

func TestSignOutIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "twice@x.com", profile.RoleStudent, profile.Patch{})
	env.signIn(t, "twice@x.com", nil)

	for i := 0; i < 2; i++ {
		if err := env.engine.SignOut(context.Background()); err != nil {
			t.Fatalf("SignOut #%d failed: %v", i+1, err)
		}
	}
	if got := env.engine.State(); got != StateAnonymous {
		t.Fatalf("expected anonymous, got %s", got)
	}
}

func TestSignInWithRolePersistsForRealAccount(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "switch@x.com", profile.RoleStudent, profile.Patch{Phone: profile.Ptr("555-0101")})

	role := profile.RoleEmployee
	snap := env.signIn(t, "switch@x.com", &role)
	if snap.Profile.Role != profile.RoleEmployee {
		t.Fatalf("expected employee after role selection, got %s", snap.Profile.Role)
	}
	if snap.Profile.Phone != "555-0101" {
		t.Fatalf("expected common fields to survive the role change, got %q", snap.Profile.Phone)
	}

	res, err := env.registry.Lookup(context.Background(), "switch@x.com")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if res.Role != profile.RoleEmployee {
		t.Fatalf("expected registry role employee, got %s", res.Role)
	}
}

func TestSignInRolePersistFailureKeepsStoredRole(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "stuck@x.com", profile.RoleStudent, profile.Patch{})
	env.store.setUpsertErr(profile.ErrStoreUnavailable)

	role := profile.RoleTPO
	snap := env.signIn(t, "stuck@x.com", &role)
	if snap.State != StateResolved {
		t.Fatalf("expected resolved despite the failed role write, got %s", snap.State)
	}
	if snap.Profile.Role != profile.RoleStudent {
		t.Fatalf("expected stored role student, got %s", snap.Profile.Role)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricRoleReassignFailure]; got != 1 {
		t.Fatalf("expected 1 role reassign failure, got %d", got)
	}
}

func TestSignInReplacesPreviousSession(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "first@x.com", profile.RoleStudent, profile.Patch{})
	env.signUp(t, "second@x.com", profile.RoleEmployee, profile.Patch{})

	first := env.signIn(t, "first@x.com", nil)
	second := env.signIn(t, "second@x.com", nil)

	if second.Epoch <= first.Epoch {
		t.Fatalf("expected epoch to advance, got %d then %d", first.Epoch, second.Epoch)
	}
	if second.Profile.Email != "second@x.com" || second.Profile.Role != profile.RoleEmployee {
		t.Fatalf("expected second profile, got %s/%s", second.Profile.Email, second.Profile.Role)
	}
}

func TestTokenRefreshKeepsResolvedProfile(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "refresh@x.com", profile.RoleStudent, profile.Patch{})
	before := env.signIn(t, "refresh@x.com", nil)
	gets, _ := env.store.calls()

	changed := env.engine.Changed()
	if _, err := env.client.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a transition for the refreshed session")
	}

	after := env.engine.Snapshot()
	if after.State != StateResolved || after.Epoch != before.Epoch {
		t.Fatalf("expected same epoch and resolved state, got %s epoch %d", after.State, after.Epoch)
	}
	if after.Session.RefreshToken == before.Session.RefreshToken {
		t.Fatalf("expected the rotated refresh token to be published")
	}
	if got, _ := env.store.calls(); got != gets {
		t.Fatalf("expected no store reads on refresh, got %d more", got-gets)
	}
}

func TestCheckEmailRole(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "known@x.com", profile.RoleTPO, profile.Patch{})

	res, err := env.engine.CheckEmailRole(context.Background(), " KNOWN@x.com ")
	if err != nil {
		t.Fatalf("CheckEmailRole failed: %v", err)
	}
	if !res.Exists || res.Role != profile.RoleTPO {
		t.Fatalf("expected tpo entry, got %+v", res)
	}

	res, err = env.engine.CheckEmailRole(context.Background(), "unknown@x.com")
	if err != nil {
		t.Fatalf("CheckEmailRole failed: %v", err)
	}
	if res.Exists {
		t.Fatalf("expected unknown email to be free")
	}
}

func TestAuditEventsForSignInFlow(t *testing.T) {
	sink := NewChannelSink(64)
	env := newTestEnv(t, withAuditSink(sink))
	env.signUp(t, "audit@x.com", profile.RoleStudent, profile.Patch{})
	env.signIn(t, "audit@x.com", nil)

	// Resolution runs concurrently with the tail of SignIn, so only the set is fixed.
	want := map[string]bool{
		auditEventSignUpSuccess:   false,
		auditEventSignInSuccess:   false,
		auditEventProfileResolved: false,
	}
	for range want {
		select {
		case ev := <-sink.Events():
			seen, ok := want[ev.EventType]
			if !ok || seen {
				t.Fatalf("unexpected audit event %s", ev.EventType)
			}
			want[ev.EventType] = true
			if ev.Email != "audit@x.com" {
				t.Fatalf("expected audit email, got %q", ev.Email)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for audit events, have %v", want)
		}
	}
}
