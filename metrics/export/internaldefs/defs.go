package internaldefs

import (
	"github.com/tokutei-learning/tokutei"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   tokutei.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   tokutei.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter, in output order.
var CounterDefs = []CounterDef{
	{ID: tokutei.MetricLoginSuccess, Name: "tokutei_login_success_total", Help: "Successful logins."},
	{ID: tokutei.MetricLoginFailure, Name: "tokutei_login_failure_total", Help: "Failed logins, including unconfirmed email."},
	{ID: tokutei.MetricSignupSuccess, Name: "tokutei_signup_success_total", Help: "Sign-ups that signed the user in."},
	{ID: tokutei.MetricSignupConfirmationRequired, Name: "tokutei_signup_confirmation_required_total", Help: "Sign-ups waiting for email confirmation."},
	{ID: tokutei.MetricSignupFailure, Name: "tokutei_signup_failure_total", Help: "Rejected or failed sign-ups."},
	{ID: tokutei.MetricLogout, Name: "tokutei_logout_total", Help: "Logouts."},
	{ID: tokutei.MetricLogoutFailure, Name: "tokutei_logout_failure_total", Help: "Logouts whose backend call failed."},
	{ID: tokutei.MetricSessionCheckValid, Name: "tokutei_session_check_valid_total", Help: "Session checks that confirmed the session."},
	{ID: tokutei.MetricSessionCheckInvalid, Name: "tokutei_session_check_invalid_total", Help: "Session checks that downgraded the client to anonymous."},
	{ID: tokutei.MetricSessionCheckError, Name: "tokutei_session_check_error_total", Help: "Session checks that could not reach the backend."},
	{ID: tokutei.MetricProfileUpdateSuccess, Name: "tokutei_profile_update_success_total", Help: "Profile updates."},
	{ID: tokutei.MetricProfileUpdateFailure, Name: "tokutei_profile_update_failure_total", Help: "Failed profile updates."},
	{ID: tokutei.MetricPasswordResetRequest, Name: "tokutei_password_reset_request_total", Help: "Password reset emails requested."},
	{ID: tokutei.MetricPasswordUpdate, Name: "tokutei_password_update_total", Help: "Password changes."},
	{ID: tokutei.MetricEmailVerificationSuccess, Name: "tokutei_email_verification_success_total", Help: "Redeemed confirmation links."},
	{ID: tokutei.MetricEmailVerificationFailure, Name: "tokutei_email_verification_failure_total", Help: "Expired or invalid confirmation links."},
	{ID: tokutei.MetricStaleResponseDropped, Name: "tokutei_stale_responses_dropped_total", Help: "Action results discarded because a newer action was issued."},
	{ID: tokutei.MetricSnapshotPersistFailure, Name: "tokutei_snapshot_persist_failure_total", Help: "Failed snapshot writes or deletes."},
	{ID: tokutei.MetricSnapshotRestored, Name: "tokutei_snapshot_restored_total", Help: "Stores created from a persisted snapshot."},
	{ID: tokutei.MetricGuardLoginRedirect, Name: "tokutei_guard_login_redirect_total", Help: "Guarded requests redirected to the login page."},
	{ID: tokutei.MetricGuardUnauthorizedRedirect, Name: "tokutei_guard_unauthorized_redirect_total", Help: "Guarded requests redirected for a missing role."},
	{ID: tokutei.MetricStoreCreated, Name: "tokutei_store_created_total", Help: "Client stores created."},
	{ID: tokutei.MetricStoreEvicted, Name: "tokutei_store_evicted_total", Help: "Client stores evicted."},
}

var HistogramDefs = []HistogramDef{
	{ID: tokutei.MetricBackendLatency, Name: "tokutei_backend_latency_seconds", Help: "Latency of backend calls made by store actions."},
}

// HistogramBounds are the upper bounds of the engine's latency buckets, in
// seconds, as Prometheus le labels.
var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// HistogramBoundSuffix names each bucket in exporters that cannot carry
// labels.
var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

const BucketCount = 8

// NormalizeBuckets copies raw into a fixed-size array, zero padded.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
