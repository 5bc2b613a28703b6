package internaldefs

import (
	"github.com/wardenkit/warden"
)

// CounterDef defines a public type used by warden APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   warden.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by warden APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   warden.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the authentication engine.
var CounterDefs = []CounterDef{
	{ID: warden.MetricLoginSuccess, Name: "warden_login_success_total", Help: "Successful login attempts."},
	{ID: warden.MetricLoginFailure, Name: "warden_login_failure_total", Help: "Failed login attempts."},
	{ID: warden.MetricAccountAutoLocked, Name: "warden_account_auto_locked_total", Help: "Accounts locked by the failed-login threshold."},
	{ID: warden.MetricRefreshSuccess, Name: "warden_refresh_success_total", Help: "Successful refresh operations."},
	{ID: warden.MetricRefreshFailure, Name: "warden_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: warden.MetricRefreshReuseDetected, Name: "warden_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: warden.MetricTokenPairIssued, Name: "warden_token_pair_issued_total", Help: "Issued access/refresh token pairs."},
	{ID: warden.MetricLogout, Name: "warden_logout_total", Help: "Single-session logout operations."},
	{ID: warden.MetricLogoutAll, Name: "warden_logout_all_total", Help: "Logout-all operations."},
	{ID: warden.MetricSessionRevoked, Name: "warden_session_revoked_total", Help: "Sessions revoked through session management."},
	{ID: warden.MetricRegisterSuccess, Name: "warden_register_success_total", Help: "Successful registrations."},
	{ID: warden.MetricRegisterDuplicate, Name: "warden_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: warden.MetricPasswordChangeSuccess, Name: "warden_password_change_success_total", Help: "Successful password changes."},
	{ID: warden.MetricPasswordChangeFailure, Name: "warden_password_change_failure_total", Help: "Failed password changes."},
	{ID: warden.MetricPasswordResetRequest, Name: "warden_password_reset_request_total", Help: "Password reset requests."},
	{ID: warden.MetricPasswordResetConfirmSuccess, Name: "warden_password_reset_confirm_success_total", Help: "Successful password reset confirmations."},
	{ID: warden.MetricPasswordResetConfirmFailure, Name: "warden_password_reset_confirm_failure_total", Help: "Failed password reset confirmations."},
	{ID: warden.MetricEmailVerificationRequest, Name: "warden_email_verification_request_total", Help: "Email verification requests."},
	{ID: warden.MetricEmailVerificationSuccess, Name: "warden_email_verification_success_total", Help: "Successful email verifications."},
	{ID: warden.MetricEmailVerificationFailure, Name: "warden_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: warden.MetricAccountDeactivated, Name: "warden_account_deactivated_total", Help: "Account deactivation operations."},
	{ID: warden.MetricAccountReactivated, Name: "warden_account_reactivated_total", Help: "Account reactivation operations."},
	{ID: warden.MetricPasskeyRegistered, Name: "warden_passkey_registered_total", Help: "Registered passkey credentials."},
	{ID: warden.MetricPasskeyRemoved, Name: "warden_passkey_removed_total", Help: "Removed passkey credentials."},
	{ID: warden.MetricPasskeyLoginSuccess, Name: "warden_passkey_login_success_total", Help: "Successful passkey logins."},
	{ID: warden.MetricPasskeyLoginFailure, Name: "warden_passkey_login_failure_total", Help: "Failed passkey logins."},
	{ID: warden.MetricOAuthLoginSuccess, Name: "warden_oauth_login_success_total", Help: "Successful OAuth logins."},
	{ID: warden.MetricOAuthLoginFailure, Name: "warden_oauth_login_failure_total", Help: "Failed OAuth logins."},
	{ID: warden.MetricOAuthAccountProvisioned, Name: "warden_oauth_account_provisioned_total", Help: "Accounts provisioned from OAuth profiles."},
	{ID: warden.MetricOAuthIdentityLinked, Name: "warden_oauth_identity_linked_total", Help: "Linked external identities."},
	{ID: warden.MetricOAuthIdentityUnlinked, Name: "warden_oauth_identity_unlinked_total", Help: "Unlinked external identities."},
}

// HistogramDefs is an exported constant or variable used by the authentication engine.
var HistogramDefs = []HistogramDef{
	{ID: warden.MetricIntrospectLatency, Name: "warden_introspect_latency_seconds", Help: "Introspect latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the authentication engine.
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

// HistogramBoundSuffix is an exported constant or variable used by the authentication engine.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
