package proxyhttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ongarde/ongarde/internal/adapter/inbound/health"
	"github.com/ongarde/ongarde/internal/config"
	"github.com/ongarde/ongarde/internal/domain/audit"
	"github.com/ongarde/ongarde/internal/domain/auth"
	"github.com/ongarde/ongarde/internal/domain/fingerprint"
	"github.com/ongarde/ongarde/internal/domain/scan"
	"github.com/ongarde/ongarde/internal/service"
)

// auditRecorder is the narrow slice of *service.AuditService the handler
// needs, so tests can supply a stub without a real embedded SQL store.
type auditRecorder interface {
	Record(record audit.Record)
}

// routeTable maps the two supported wire paths to the upstream provider
// name an operator configures under Upstream (spec.md §4.1 step 3).
var routeTable = map[string]string{
	"/v1/chat/completions": "openai",
	"/v1/messages":         "anthropic",
}

// Handler is the admission and forwarding engine for the proxied chat
// endpoints: auth, body cap, upstream selection, request/response scanning,
// and SSE reframing. Grounded on the teacher's
// internal/adapter/inbound/httpgw/handler.go.
type Handler struct {
	cfg        *config.Config
	keyService *auth.APIKeyService
	engine     *service.ScanEngine
	audit      auditRecorder
	health     *health.Checker
	client     *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewHandler creates a Handler. keyService may be nil only when auth is not
// required (spec.md §6's ONGARDE_AUTH_REQUIRED override, used in tests).
// healthChecker may be nil; metrics/latency recording is then skipped.
// tracer may be nil; span creation is then skipped (noop).
func NewHandler(cfg *config.Config, keyService *auth.APIKeyService, engine *service.ScanEngine, auditSvc auditRecorder, healthChecker *health.Checker, logger *slog.Logger, tracer trace.Tracer) *Handler {
	return &Handler{
		cfg:        cfg,
		keyService: keyService,
		engine:     engine,
		audit:      auditSvc,
		health:     healthChecker,
		client:     newUpstreamClient(),
		logger:     logger,
		tracer:     tracer,
	}
}

// startSpan starts a child span when a tracer is configured, otherwise
// returns the incoming context and a noop span so call sites never need a
// nil check.
func (h *Handler) startSpan(r *http.Request, name string) (context.Context, trace.Span) {
	if h.tracer == nil {
		return r.Context(), trace.SpanFromContext(r.Context())
	}
	return h.tracer.Start(r.Context(), name)
}

// ServeHTTP implements spec.md §4.1's admission pipeline end to end.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, rootSpan := h.startSpan(r, "proxy.request")
	r = r.WithContext(ctx)
	defer rootSpan.End()
	defer func() {
		if h.health != nil {
			h.health.Observe(time.Since(start))
		}
	}()

	rootSpan.SetAttributes(attribute.String("http.route", r.URL.Path))
	logger := LoggerFromContext(r.Context())
	if logger == slog.Default() {
		logger = h.logger
	}

	provider, ok := routeTable[r.URL.Path]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown route")
		return
	}
	rootSpan.SetAttributes(attribute.String("ongarde.upstream", provider))

	base, ok := h.cfg.Upstream[provider]
	if !ok {
		writeError(w, http.StatusBadGateway, "no upstream configured for this route")
		return
	}

	identity, keyID, err := h.authenticate(r)
	if err != nil {
		rootSpan.SetStatus(codes.Error, "authentication failed")
		writeError(w, http.StatusUnauthorized, "invalid or missing API key")
		return
	}

	body, err := readBodyCapped(r)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds 1 MiB limit")
		return
	}

	scanID := newScanID()
	rootSpan.SetAttributes(attribute.String("ongarde.scan_id", scanID))
	meta := service.RequestMeta{Upstream: provider, Roles: rolesOf(identity)}
	fp := fingerprint.Compute(keyID, provider, body)

	reqText := ExtractText(body)
	_, scanSpan := h.startSpan(r, "proxy.scan_request")
	reqVerdict := h.engine.ScanRequest(reqText, meta)
	scanSpan.SetAttributes(attribute.String("ongarde.decision", string(reqVerdict.Decision)))
	scanSpan.End()
	if reqVerdict.Decision == scan.DecisionBlock {
		rootSpan.SetStatus(codes.Error, "request blocked")
		h.recordAudit(scanID, keyID, provider, false, reqVerdict.Decision, reqVerdict.Finding, 0)
		logger.Warn("request blocked by scan", "scan_id", scanID, "rule_id", reqVerdict.Finding.RuleID, "fingerprint", fp.String())
		writeBlockResponse(w, scanID, reqVerdict.Finding)
		return
	}
	suppressedSoFar := reqVerdict.Decision == scan.DecisionAllowSuppressed

	outReq, err := newUpstreamRequest(r, buildUpstreamURL(base, r), body, h.cfg.Credentials[provider])
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to build upstream request")
		return
	}

	_, dispatchSpan := h.startSpan(r, "proxy.upstream_dispatch")
	resp, err := h.client.Do(outReq)
	dispatchSpan.End()
	if err != nil {
		rootSpan.SetStatus(codes.Error, "upstream unreachable")
		logger.Error("upstream dispatch failed", "scan_id", scanID, "upstream", provider, "error", err)
		writeError(w, http.StatusBadGateway, "upstream unreachable")
		return
	}
	defer resp.Body.Close()

	w.Header().Set("X-OnGarde-Scan-Id", scanID)

	if isStreamingResponse(resp) {
		h.handleStreamingResponse(w, resp, meta, scanID, keyID, provider, suppressedSoFar)
		return
	}

	verdict, handled := h.handleBufferedResponse(w, resp, meta)
	if !handled {
		h.recordAudit(scanID, keyID, provider, false, verdict.Decision, verdict.Finding, 0)
		writeBlockResponse(w, scanID, verdict.Finding)
		return
	}

	finalDecision := verdict.Decision
	if suppressedSoFar && finalDecision == scan.DecisionAllow {
		finalDecision = scan.DecisionAllowSuppressed
	}
	h.recordAudit(scanID, keyID, provider, false, finalDecision, scan.Finding{}, 0)
}

// authenticate validates the caller's API key when auth is required,
// returning the resolved identity and a stable id for audit/fingerprint
// purposes. When auth is not required and no key is presented, it
// succeeds with an anonymous identity.
func (h *Handler) authenticate(r *http.Request) (*auth.Identity, string, error) {
	key := r.Header.Get(onGardeKeyHeader)
	if key == "" {
		key = bearerToken(r.Header.Get("Authorization"))
	}
	if key == "" {
		if config.AuthRequired() {
			return nil, "", auth.ErrInvalidKey
		}
		return nil, "anonymous", nil
	}
	if h.keyService == nil {
		return nil, "", auth.ErrInvalidKey
	}
	identity, err := h.keyService.Validate(r.Context(), key)
	if err != nil {
		return nil, "", err
	}
	return identity, identity.ID, nil
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, per spec.md §4.1 step 1's fallback when X-OnGarde-Key is absent.
func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func rolesOf(identity *auth.Identity) []string {
	if identity == nil {
		return nil
	}
	roles := make([]string, 0, len(identity.Roles))
	for _, r := range identity.Roles {
		roles = append(roles, string(r))
	}
	return roles
}

// recordAudit writes exactly one audit record per request (spec.md §8's
// "one audit event with matching scan_id"), whether the request was
// blocked before dispatch or resolved after a buffered/streaming response.
func (h *Handler) recordAudit(scanID, keyID, upstream string, streaming bool, decision scan.Decision, finding scan.Finding, tokensDelivered int64) {
	if h.health != nil {
		m := h.health.Metrics()
		m.RequestsTotal.WithLabelValues(upstream, string(decision)).Inc()
		if decision == scan.DecisionBlock {
			m.BlockedTotal.WithLabelValues(finding.RuleID).Inc()
		}
	}

	if h.audit == nil {
		return
	}

	if h.tracer != nil {
		_, auditSpan := h.tracer.Start(context.Background(), "proxy.audit_enqueue")
		auditSpan.SetAttributes(attribute.String("ongarde.scan_id", scanID))
		auditSpan.End()
	}

	h.audit.Record(audit.Record{
		ScanID:                scanID,
		Timestamp:             time.Now().UTC(),
		Decision:              string(decision),
		RuleID:                finding.RuleID,
		RiskLevel:             string(finding.Risk),
		Excerpt:               finding.Excerpt,
		SourceKeyID:           keyID,
		Upstream:              upstream,
		WasStreaming:          streaming,
		TokensDelivered:       tokensDelivered,
		Test:                  finding.IsTestArtifact,
		SuppressedByAllowlist: decision == scan.DecisionAllowSuppressed,
	})
}
