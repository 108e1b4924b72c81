// Package nlpscan implements the advisory/slow-path named-entity scanner:
// credit cards (Luhn-validated), US SSN heuristics, emails, phone numbers,
// and crypto wallet addresses (spec.md §4.3). Unlike the regex fast path
// (internal/domain/fastscan), matches here are tagged as PII findings and
// may run synchronously (blocking) or asynchronously (advisory-only)
// depending on the calibrated sync threshold applied by the caller.
package nlpscan

import (
	"regexp"
	"strings"
	"time"

	"github.com/ongarde/ongarde/internal/domain/scan"
)

const maxExcerptLen = 80

var (
	creditCardPattern = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	emailPattern      = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern      = regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`)
	ssnPattern        = regexp.MustCompile(`\b(?!000|666|9\d{2})\d{3}-(?!00)\d{2}-(?!0000)\d{4}\b`)
	cryptoPattern     = regexp.MustCompile(`\b(?:bc1[a-z0-9]{25,39}|[13][a-km-zA-HJ-NP-Z1-9]{25,34}|0x[a-fA-F0-9]{40})\b`)
)

// entityRule pairs a compiled pattern with the rule_id/risk it reports as,
// mirroring the fastscan catalog's Rule shape so both paths produce
// interchangeable scan.Finding values.
type entityRule struct {
	id   string
	risk scan.RiskLevel
	re   *regexp.Regexp
	// validate, if set, performs an additional check beyond the pattern
	// match (e.g. Luhn checksum) before counting it as a finding.
	validate func(string) bool
}

var entityRules = []entityRule{
	{id: "pii-001-credit-card", risk: scan.RiskHigh, re: creditCardPattern, validate: luhnValid},
	{id: "pii-002-national-id-us", risk: scan.RiskHigh, re: ssnPattern},
	{id: "pii-003-email", risk: scan.RiskLow, re: emailPattern},
	{id: "pii-004-phone", risk: scan.RiskLow, re: phonePattern},
	{id: "pii-005-crypto-wallet", risk: scan.RiskMedium, re: cryptoPattern},
}

// Scanner performs NLP-advisory named-entity recognition over plain text.
type Scanner struct{}

// New creates an entity Scanner.
func New() *Scanner {
	return &Scanner{}
}

// Scan runs every registered entity recognizer against content, in
// deterministic rule_id order, returning at most one finding per rule (the
// first validated match).
func (s *Scanner) Scan(content string) scan.Result {
	start := time.Now()
	var findings []scan.Finding

	for _, r := range entityRules {
		loc := r.re.FindStringIndex(content)
		if loc == nil {
			continue
		}
		matched := content[loc[0]:loc[1]]
		if r.validate != nil && !r.validate(matched) {
			continue
		}
		findings = append(findings, scan.Finding{
			RuleID:     r.id,
			Category:   scan.CategoryPII,
			Risk:       r.risk,
			Excerpt:    excerpt(content, loc[0], loc[1]),
			Offset:     loc[0],
			Confidence: 0.85,
			Source:     "nlp",
		})
	}

	return scan.Result{
		Detected:       len(findings) > 0,
		Findings:       findings,
		ScanDurationNs: time.Since(start).Nanoseconds(),
	}
}

// luhnValid reports whether the digits embedded in s pass the Luhn
// checksum, ruling out phone numbers and other 13-19 digit runs that the
// coarse credit-card pattern would otherwise over-match.
func luhnValid(s string) bool {
	var digits []int
	for _, c := range s {
		if c >= '0' && c <= '9' {
			digits = append(digits, int(c-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	parity := len(digits) % 2
	for i, d := range digits {
		if i%2 == parity {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

func excerpt(content string, start, end int) string {
	excerptStart := start
	excerptEnd := end
	for excerptEnd-excerptStart < maxExcerptLen && (excerptStart > 0 || excerptEnd < len(content)) {
		if excerptStart > 0 {
			excerptStart--
		}
		if excerptEnd < len(content) {
			excerptEnd++
		}
		if excerptEnd-excerptStart >= maxExcerptLen {
			break
		}
	}
	e := content[excerptStart:excerptEnd]
	return strings.TrimSpace(e)
}
