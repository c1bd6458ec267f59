package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine latency histogram to its exported name.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "authcore_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

var CounterDefs = []CounterDef{
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Successful registrations."},
	{ID: authcore.MetricRegisterConflict, Name: "authcore_register_conflict_total", Help: "Registrations rejected because the email exists."},
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful password logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed password logins."},
	{ID: authcore.MetricLoginLocked, Name: "authcore_login_locked_total", Help: "Logins refused by an active lockout."},
	{ID: authcore.MetricLockoutTriggered, Name: "authcore_lockout_triggered_total", Help: "Failures that armed a new lockout."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Refused refresh attempts."},
	{ID: authcore.MetricRefreshReuseRevoked, Name: "authcore_refresh_reuse_revoked_total", Help: "Sessions revoked after a replayed refresh secret."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Sessions revoked by logout."},
	{ID: authcore.MetricLogoutRejected, Name: "authcore_logout_rejected_total", Help: "Logouts refused for an unusable session."},
	{ID: authcore.MetricFederatedStart, Name: "authcore_federated_start_total", Help: "Federated login handshakes started."},
	{ID: authcore.MetricFederatedSuccess, Name: "authcore_federated_success_total", Help: "Completed federated logins."},
	{ID: authcore.MetricFederatedFailure, Name: "authcore_federated_failure_total", Help: "Failed federated logins."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Refresh sessions issued."},
	{ID: authcore.MetricPasswordRehash, Name: "authcore_password_rehash_total", Help: "Password hashes upgraded on login."},
	{ID: authcore.MetricBackendUnavailable, Name: "authcore_backend_unavailable_total", Help: "Operations failed by an unavailable store or provider."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Access token validation latency."},
	{ID: authcore.MetricPasswordVerifyLatency, Name: "authcore_password_verify_latency_seconds", Help: "Argon2id verification latency, including pool wait."},
}

// HistogramBounds are the upper bounds of the engine's fixed buckets, in seconds.
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

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
