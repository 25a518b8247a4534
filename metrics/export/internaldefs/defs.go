package internaldefs

import (
	"github.com/apiguard/apiguard"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   apiguard.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   apiguard.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: apiguard.MetricAuthSuccess, Name: "apiguard_auth_success_total", Help: "Requests forwarded by the gatekeeper."},
	{ID: apiguard.MetricAuthMissing, Name: "apiguard_auth_missing_total", Help: "Requests without an API key."},
	{ID: apiguard.MetricAuthInvalid, Name: "apiguard_auth_invalid_total", Help: "Requests with a malformed or unknown API key."},
	{ID: apiguard.MetricAuthRevoked, Name: "apiguard_auth_revoked_total", Help: "Requests with a revoked API key."},
	{ID: apiguard.MetricAuthRateLimited, Name: "apiguard_auth_rate_limited_total", Help: "Requests rejected by the per-key quota."},
	{ID: apiguard.MetricAuthThrottled, Name: "apiguard_auth_throttled_total", Help: "Requests rejected after repeated invalid keys from one client."},
	{ID: apiguard.MetricBackendUnavailable, Name: "apiguard_backend_unavailable_total", Help: "Requests rejected because the key store or limiter failed."},
	{ID: apiguard.MetricLastUsedWritten, Name: "apiguard_last_used_written_total", Help: "Successful last-used timestamp writes."},
	{ID: apiguard.MetricLastUsedFailed, Name: "apiguard_last_used_failed_total", Help: "Failed last-used timestamp writes."},
	{ID: apiguard.MetricLastUsedDropped, Name: "apiguard_last_used_dropped_total", Help: "Last-used updates dropped on a full queue."},
	{ID: apiguard.MetricKeyIssued, Name: "apiguard_key_issued_total", Help: "Issued API keys."},
	{ID: apiguard.MetricKeyRevoked, Name: "apiguard_key_revoked_total", Help: "Revoked API keys."},
}

var HistogramDefs = []HistogramDef{
	{ID: apiguard.MetricAuthLatency, Name: "apiguard_auth_latency_seconds", Help: "Gatekeeper decision latency."},
}

// HistogramBounds are the upper bounds of the engine latency buckets.
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

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
