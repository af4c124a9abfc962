package internaldefs

import (
	portalAuth "github.com/MrEthical07/portalAuth"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   portalAuth.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name. Bucket bounds are
// shared by every histogram and listed in HistogramBounds.
type HistogramDef struct {
	ID   portalAuth.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: portalAuth.MetricSignInSuccess, Name: "portal_sign_in_success_total", Help: "Successful sign-ins."},
	{ID: portalAuth.MetricSignInFailure, Name: "portal_sign_in_failure_total", Help: "Failed sign-ins."},
	{ID: portalAuth.MetricSignInRateLimited, Name: "portal_sign_in_rate_limited_total", Help: "Sign-ins rejected by the gateway rate limiter."},
	{ID: portalAuth.MetricSignUpSuccess, Name: "portal_sign_up_success_total", Help: "Successful registrations."},
	{ID: portalAuth.MetricSignUpDuplicate, Name: "portal_sign_up_duplicate_total", Help: "Registrations rejected because the email is already registered."},
	{ID: portalAuth.MetricSignUpBlocked, Name: "portal_sign_up_blocked_total", Help: "Registrations blocked because the email registry was unavailable."},
	{ID: portalAuth.MetricSignOut, Name: "portal_sign_out_total", Help: "Sign-out operations."},
	{ID: portalAuth.MetricEmailCheck, Name: "portal_email_check_total", Help: "Email registry lookups."},
	{ID: portalAuth.MetricEmailCheckFailure, Name: "portal_email_check_failure_total", Help: "Failed email registry lookups."},
	{ID: portalAuth.MetricResolutionStarted, Name: "portal_resolution_started_total", Help: "Profile resolutions started."},
	{ID: portalAuth.MetricResolutionResolved, Name: "portal_resolution_resolved_total", Help: "Profile resolutions that published a profile."},
	{ID: portalAuth.MetricResolutionSeeded, Name: "portal_resolution_seeded_total", Help: "Profiles created with defaults during resolution."},
	{ID: portalAuth.MetricResolutionDegraded, Name: "portal_resolution_degraded_total", Help: "Profile resolutions that ended degraded."},
	{ID: portalAuth.MetricResolutionDiscarded, Name: "portal_resolution_discarded_total", Help: "Stale profile resolutions discarded by the epoch guard."},
	{ID: portalAuth.MetricProfileUpdateSuccess, Name: "portal_profile_update_success_total", Help: "Successful profile updates."},
	{ID: portalAuth.MetricProfileUpdateFailure, Name: "portal_profile_update_failure_total", Help: "Failed profile updates."},
	{ID: portalAuth.MetricRoleReassigned, Name: "portal_role_reassigned_total", Help: "Persisted role changes."},
	{ID: portalAuth.MetricRoleReassignFailure, Name: "portal_role_reassign_failure_total", Help: "Role changes that could not be persisted."},
}

var HistogramDefs = []HistogramDef{
	{ID: portalAuth.MetricResolutionLatency, Name: "portal_resolution_latency_seconds", Help: "Profile resolution latency."},
}

const (
	// AuditDroppedName is the counter for audit events lost to a full buffer.
	AuditDroppedName = "portal_audit_dropped_total"
	// EnginesActiveName is the gauge of engines attached to an exporter.
	EnginesActiveName = "portal_engines_active"
)

// HistogramBounds are the upper bounds in seconds. The last bucket is unbounded.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundValues mirrors HistogramBounds without the overflow bucket.
var HistogramBoundValues = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}


// NormalizeBuckets copies raw into a fixed eight-bucket array, zero filling
// missing entries and dropping extras.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

// BucketMidpoint approximates the sum contribution of one observation in bucket i.
// Overflow observations count at the last finite bound.
func BucketMidpoint(i int) float64 {
	switch {
	case i <= 0:
		return HistogramBoundValues[0] / 2
	case i >= len(HistogramBoundValues):
		return HistogramBoundValues[len(HistogramBoundValues)-1]
	default:
		return (HistogramBoundValues[i-1] + HistogramBoundValues[i]) / 2
	}
}
