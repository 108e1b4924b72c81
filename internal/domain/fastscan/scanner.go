// Package fastscan implements the synchronous regex fast path: credential,
// shell-command, sensitive-file, and prompt-injection detection with
// deterministic first-match-wins, lexical rule_id ordering.
//
// Grounded on the teacher's internal/domain/action/response_scanner.go:
// same compile-once-at-construction shape, same recursive JSON walk for
// scanning structured request/response bodies.
package fastscan

import (
	"time"

	"github.com/ongarde/ongarde/internal/domain/rules"
	"github.com/ongarde/ongarde/internal/domain/scan"
)

const maxExcerptLen = 80

// Scanner runs the compiled rule catalog against plain text or JSON values.
type Scanner struct {
	catalog []rules.Rule
}

// New creates a Scanner over the full rule catalog.
func New() *Scanner {
	return &Scanner{catalog: rules.All()}
}

// Scan runs every rule against content and returns all findings in
// catalog (lexical rule_id) order. Each rule contributes at most one
// finding per scan — position of the first match.
func (s *Scanner) Scan(content string) scan.Result {
	start := time.Now()
	var findings []scan.Finding

	for _, r := range s.catalog {
		loc := r.FindAllStringIndex(content, 1)
		if len(loc) == 0 {
			continue
		}
		matchStart, matchEnd := loc[0][0], loc[0][1]
		matched := content[matchStart:matchEnd]
		findings = append(findings, scan.Finding{
			RuleID:         r.ID,
			Category:       r.Category,
			Risk:           r.Risk,
			Excerpt:        excerpt(content, matchStart, matchEnd),
			Offset:         matchStart,
			IsTestArtifact: r.Category == scan.CategoryCredential && rules.IsTestCredential(matched),
			Confidence:     1.0,
			Source:         "fast",
		})
	}

	return scan.Result{
		Detected:       len(findings) > 0,
		Findings:       findings,
		ScanDurationNs: time.Since(start).Nanoseconds(),
	}
}

// ScanJSON walks an arbitrary decoded JSON value (map/slice/string/etc.)
// and scans every string leaf, aggregating findings with their path-local
// offsets reported relative to the individual string value.
func (s *Scanner) ScanJSON(v interface{}) scan.Result {
	start := time.Now()
	var findings []scan.Finding
	s.scanValue(v, &findings)
	return scan.Result{
		Detected:       len(findings) > 0,
		Findings:       findings,
		ScanDurationNs: time.Since(start).Nanoseconds(),
	}
}

func (s *Scanner) scanValue(v interface{}, out *[]scan.Finding) {
	switch t := v.(type) {
	case string:
		res := s.Scan(t)
		*out = append(*out, res.Findings...)
	case map[string]interface{}:
		for _, val := range t {
			s.scanValue(val, out)
		}
	case []interface{}:
		for _, val := range t {
			s.scanValue(val, out)
		}
	}
}

// excerpt returns a short, bounded window of content around a match for
// audit logging, never the full payload.
func excerpt(content string, start, end int) string {
	lo := start - 10
	if lo < 0 {
		lo = 0
	}
	hi := end + 10
	if hi > len(content) {
		hi = len(content)
	}
	window := content[lo:hi]
	if len(window) > maxExcerptLen {
		window = window[:maxExcerptLen]
	}
	return window
}
