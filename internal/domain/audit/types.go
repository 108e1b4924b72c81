// Package audit contains domain types for audit logging: the per-request
// scan audit trail and the separate admin/config-change audit trail.
package audit

import (
	"strings"
	"time"
)

// AdminEventType constants categorize admin/config-change audit records.
const (
	AdminEventKeyCreate   = "key.create"
	AdminEventKeyRevoke   = "key.revoke"
	AdminEventLoginFailed = "admin.login_failed"
	AdminEventConfigApply = "config.apply"
)

// sensitiveKeywords lists substrings that indicate a sensitive argument key.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// Redact returns a copy of fields with sensitive values masked. A key is
// considered sensitive if it contains any of the sensitiveKeywords
// (case-insensitive). Values are replaced with "***REDACTED***".
func Redact(fields map[string]interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return fields
	}
	redacted := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Record is a single auditable event for one proxied request: the scan
// verdict, the rule that drove it (if any), and enough context to explain
// the decision without replaying the full request/response bodies.
type Record struct {
	// ScanID is a unique identifier for this request, shared between the
	// request-side and response-side scan and used to correlate log lines.
	ScanID string `json:"scan_id"`
	// Timestamp is when the request was admitted.
	Timestamp time.Time `json:"ts"`
	// Decision is "allow", "block", or "allow_suppressed".
	Decision string `json:"decision"`
	// RuleID is the ID of the rule that drove the decision, empty if none matched.
	RuleID string `json:"rule_id,omitempty"`
	// RiskLevel is the highest risk level among the findings that drove the decision.
	RiskLevel string `json:"risk_level,omitempty"`
	// Excerpt is a short, bounded window of content around the match. Never
	// the full request/response body.
	Excerpt string `json:"excerpt,omitempty"`
	// SourceKeyID identifies the caller's API key (by ID, not the cleartext key).
	SourceKeyID string `json:"source_key_id,omitempty"`
	// Upstream is the name of the configured upstream the request targeted.
	Upstream string `json:"upstream"`
	// WasStreaming reports whether the response was a streamed (SSE) completion.
	WasStreaming bool `json:"was_streaming"`
	// TokensDelivered is an approximate token count for the delivered response,
	// computed as len(text)/4. Never an exact tokenizer count.
	TokensDelivered int64 `json:"tokens_delivered,omitempty"`
	// Test reports whether the only findings were test/placeholder credentials.
	Test bool `json:"test"`
	// SuppressedByAllowlist reports whether a finding matched but was allowlisted.
	SuppressedByAllowlist bool `json:"suppressed_by_allowlist"`
	// LatencyMicros is the total scan+dispatch latency in microseconds.
	LatencyMicros int64 `json:"latency_micros"`
}

// AdminRecord is a single auditable event from the admin/dashboard surface:
// key creation/revocation, failed admin auth, config reloads.
type AdminRecord struct {
	Timestamp time.Time `json:"ts"`
	EventType string    `json:"event_type"`
	ActorKeyID string   `json:"actor_key_id,omitempty"`
	SourceIP  string    `json:"source_ip,omitempty"`
	TargetID  string    `json:"target_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}
