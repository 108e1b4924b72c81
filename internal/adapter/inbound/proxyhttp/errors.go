package proxyhttp

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/ongarde/ongarde/internal/domain/scan"
)

// newScanID returns a time-ordered (UUIDv7), sortable identifier for one
// request/response scan (spec.md §3's "monotonic sortable identifier").
func newScanID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// blockBody is the wire shape of a block response (spec.md §6).
type blockBody struct {
	Error blockError `json:"error"`
}

type blockError struct {
	Message string      `json:"message"`
	Code    string      `json:"code"`
	OnGarde blockDetail `json:"ongarde"`
}

type blockDetail struct {
	RuleID          string `json:"rule_id"`
	RiskLevel       string `json:"risk_level"`
	ScanID          string `json:"scan_id"`
	Test            bool   `json:"test"`
	RedactedExcerpt string `json:"redacted_excerpt"`
}

// writeBlockResponse writes the standard 400 scan-block envelope (spec.md
// §6) plus the X-OnGarde-Scan-Id header.
func writeBlockResponse(w http.ResponseWriter, scanID string, finding scan.Finding) {
	w.Header().Set("X-OnGarde-Scan-Id", scanID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(blockBody{Error: blockError{
		Message: "request blocked by OnGarde security scan",
		Code:    "ongarde_block",
		OnGarde: blockDetail{
			RuleID:          finding.RuleID,
			RiskLevel:       string(finding.Risk),
			ScanID:          scanID,
			Test:            finding.IsTestArtifact,
			RedactedExcerpt: finding.Excerpt,
		},
	}})
}

// scannerErrorFinding synthesizes the fail-safe BLOCK finding for a scanner
// exception or timeout (spec.md §4.1 step 7, §7: "ScannerError is
// indistinguishable from ScannerBlock to the client").
func scannerErrorFinding() scan.Finding {
	return scan.Finding{
		RuleID: "SCANNER_ERROR",
		Risk:   scan.RiskCritical,
	}
}

// writeError writes a plain {"error": "..."} envelope for non-scan errors
// (auth, body-too-large, upstream failures). No error body ever includes a
// filesystem path, upstream key, or plaintext API key (spec.md §7).
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
