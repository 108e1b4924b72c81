package service

import (
	"fmt"
	"time"

	celgo "github.com/google/cel-go/cel"

	"github.com/ongarde/ongarde/internal/adapter/outbound/cel"
	"github.com/ongarde/ongarde/internal/config"
	"github.com/ongarde/ongarde/internal/domain/allowlist"
	"github.com/ongarde/ongarde/internal/domain/fastscan"
	"github.com/ongarde/ongarde/internal/domain/nlpscan"
	"github.com/ongarde/ongarde/internal/domain/scan"
	"github.com/ongarde/ongarde/internal/domain/streamscan"
	"github.com/ongarde/ongarde/internal/service/nlpworker"
)

// RequestMeta carries the per-request context a ScanEngine needs to
// evaluate custom rules and tag test-credential matches (spec.md §3's
// Rule.is_test_credential, SPEC_FULL.md §4.2.1's RuleContext).
type RequestMeta struct {
	Upstream string
	Roles    []string
}

// Verdict is the outcome of evaluating one piece of content: the overall
// decision plus the finding that drove it, if any.
type Verdict struct {
	Decision scan.Decision
	Finding  scan.Finding // zero value if Decision is DecisionAllow
	Findings []scan.Finding
}

type compiledCustomRule struct {
	ruleID  string
	program celgo.Program
}

// ScanEngine combines the fast regex pass, the NLP advisory pass, the
// allowlist, and operator-supplied CEL custom rules into one scan
// decision, per spec.md §4.1/§4.2 and SPEC_FULL.md §4.2.1.
type ScanEngine struct {
	fast          *fastscan.Scanner
	nlp           *nlpscan.Scanner
	syncThreshold int

	allow *allowlist.List

	customRulesEnabled bool
	evaluator          *cel.Evaluator
	customRules        []compiledCustomRule

	pool          *nlpworker.Pool
	onAdvisory    func(result scan.Result)
}

// NewScanEngine compiles the operator's custom rules (if enabled) and
// returns a ready-to-use engine. onAdvisory is invoked from a worker
// goroutine whenever an async NLP pass (over content above syncThreshold)
// detects something; it never influences the request's decision.
func NewScanEngine(
	fast *fastscan.Scanner,
	nlp *nlpscan.Scanner,
	syncThreshold int,
	allow *allowlist.List,
	scannerCfg config.ScannerConfig,
	pool *nlpworker.Pool,
	onAdvisory func(result scan.Result),
) (*ScanEngine, error) {
	e := &ScanEngine{
		fast:               fast,
		nlp:                nlp,
		syncThreshold:      syncThreshold,
		allow:              allow,
		customRulesEnabled: scannerCfg.CustomRulesEnabled,
		pool:               pool,
		onAdvisory:         onAdvisory,
	}

	if !scannerCfg.CustomRulesEnabled || len(scannerCfg.CustomRules) == 0 {
		return e, nil
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("create custom rule evaluator: %w", err)
	}
	e.evaluator = evaluator

	for _, rc := range scannerCfg.CustomRules {
		if err := evaluator.ValidateExpression(rc.Expression); err != nil {
			return nil, fmt.Errorf("custom rule %q: %w", rc.RuleID, err)
		}
		prg, err := evaluator.Compile(rc.Expression)
		if err != nil {
			return nil, fmt.Errorf("compile custom rule %q: %w", rc.RuleID, err)
		}
		e.customRules = append(e.customRules, compiledCustomRule{ruleID: rc.RuleID, program: prg})
	}

	return e, nil
}

// ScanRequest evaluates request-body text per spec.md §4.1 step 4: the fast
// path always runs synchronously; the NLP path runs synchronously only when
// text is at or under the calibrated sync threshold, otherwise it is
// submitted to the advisory worker pool and cannot affect the decision.
func (e *ScanEngine) ScanRequest(text string, meta RequestMeta) Verdict {
	fastResult := e.fast.Scan(text)

	var findings []scan.Finding
	findings = append(findings, fastResult.Findings...)

	if len(text) <= e.syncThreshold {
		findings = append(findings, e.nlp.Scan(text).Findings...)
	} else if e.pool != nil && e.nlp != nil {
		nlpScanner := e.nlp
		onAdvisory := e.onAdvisory
		e.pool.Submit(func() {
			result := nlpScanner.Scan(text)
			if result.Detected && onAdvisory != nil {
				onAdvisory(result)
			}
		})
	}

	return e.decide(findings, meta)
}

// ScanBuffered evaluates a fully-read response body: both passes run
// synchronously regardless of length (spec.md §4.1 step 6, "run the full
// scan (fast + NLP regardless of size)").
func (e *ScanEngine) ScanBuffered(text string, meta RequestMeta) Verdict {
	var findings []scan.Finding
	findings = append(findings, e.fast.Scan(text).Findings...)
	if e.nlp != nil {
		findings = append(findings, e.nlp.Scan(text).Findings...)
	}
	return e.decide(findings, meta)
}

// NewStreamScanner returns a streamscan.Scanner wired to this engine's
// fast-path scanner and policy (allowlist + custom-rule escalation), ready
// to accumulate one streaming response (spec.md §4.4).
func (e *ScanEngine) NewStreamScanner(meta RequestMeta) *streamscan.Scanner {
	return streamscan.New(e.fast, streamscan.WithSuppressor(e.Suppressor(meta)))
}

// Suppressor returns a closure suitable for streamscan.WithSuppressor:
// applies the same allowlist + custom-rule policy a streaming window's
// fast-path match would get on the buffered/request paths (spec.md §4.5
// applies "on each BLOCK candidate", not just the non-streaming ones).
func (e *ScanEngine) Suppressor(meta RequestMeta) func(scan.Finding) bool {
	return func(finding scan.Finding) bool {
		_, decision := e.applyPolicy(finding, meta)
		return decision != scan.DecisionBlock
	}
}

// decide applies allowlist suppression and custom-rule escalation to every
// candidate finding, then picks the most severe resulting decision. A
// custom rule can escalate a suppressed finding back to BLOCK but can never
// downgrade an unsuppressed BLOCK to PASS (SPEC_FULL.md §4.2.1).
func (e *ScanEngine) decide(findings []scan.Finding, meta RequestMeta) Verdict {
	if len(findings) == 0 {
		return Verdict{Decision: scan.DecisionAllow}
	}

	anySuppressed := false
	var blocking []scan.Finding

	for _, f := range findings {
		finding, decision := e.applyPolicy(f, meta)
		switch decision {
		case scan.DecisionBlock:
			blocking = append(blocking, finding)
		case scan.DecisionAllowSuppressed:
			anySuppressed = true
		}
	}

	if len(blocking) > 0 {
		worst := highestRisk(blocking)
		return Verdict{Decision: scan.DecisionBlock, Finding: worst, Findings: findings}
	}
	if anySuppressed {
		return Verdict{Decision: scan.DecisionAllowSuppressed, Findings: findings}
	}
	return Verdict{Decision: scan.DecisionAllow, Findings: findings}
}

// applyPolicy resolves one finding's decision: allowlist suppression
// first, then custom-rule escalation of a suppressed finding back to
// BLOCK. Returns the (possibly annotated) finding and its decision.
func (e *ScanEngine) applyPolicy(finding scan.Finding, meta RequestMeta) (scan.Finding, scan.Decision) {
	suppressed := false
	if e.allow != nil {
		if ok, _ := e.allow.Suppress(finding.Excerpt, finding.RuleID); ok {
			suppressed = true
		}
	}

	if !suppressed {
		return finding, scan.DecisionBlock
	}

	if e.customRulesEnabled && e.escalates(finding, meta) {
		return finding, scan.DecisionBlock
	}

	return finding, scan.DecisionAllowSuppressed
}

// escalates reports whether any compiled custom rule fires for this
// finding. A firing rule forces BLOCK even though the allowlist suppressed
// the underlying match (SPEC_FULL.md §4.2.1).
func (e *ScanEngine) escalates(finding scan.Finding, meta RequestMeta) bool {
	if e.evaluator == nil {
		return false
	}
	rc := scan.RuleContext{
		RuleID:      finding.RuleID,
		Category:    finding.Category,
		RiskLevel:   finding.Risk,
		Upstream:    meta.Upstream,
		Roles:       meta.Roles,
		IsTest:      finding.IsTestArtifact,
		RequestedAt: time.Now(),
	}
	for _, rule := range e.customRules {
		fired, err := e.evaluator.Evaluate(rule.program, rc)
		if err == nil && fired {
			return true
		}
	}
	return false
}

func highestRisk(findings []scan.Finding) scan.Finding {
	order := map[scan.RiskLevel]int{scan.RiskLow: 1, scan.RiskMedium: 2, scan.RiskHigh: 3, scan.RiskCritical: 4}
	best := findings[0]
	for _, f := range findings[1:] {
		if order[f.Risk] > order[best.Risk] {
			best = f
		}
	}
	return best
}
