package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ongarde/ongarde/internal/domain/audit"
)

const maxEventRangeDays = 7

// eventResponse is the JSON representation of a single scan audit record.
type eventResponse struct {
	ScanID                string `json:"scan_id"`
	Timestamp             string `json:"ts"`
	Decision              string `json:"decision"`
	RuleID                string `json:"rule_id,omitempty"`
	RiskLevel             string `json:"risk_level,omitempty"`
	Excerpt               string `json:"excerpt,omitempty"`
	SourceKeyID           string `json:"source_key_id,omitempty"`
	Upstream              string `json:"upstream"`
	WasStreaming          bool   `json:"was_streaming"`
	TokensDelivered       int64  `json:"tokens_delivered,omitempty"`
	Test                  bool   `json:"test"`
	SuppressedByAllowlist bool   `json:"suppressed_by_allowlist"`
}

type listEventsResponse struct {
	Events     []eventResponse `json:"events"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// handleListEvents queries the scan audit trail within a bounded time range.
// GET /dashboard/api/events?start=...&end=...&decision=...&upstream=...&source_key_id=...&cursor=...&limit=...
func (h *AdminAPIHandler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	start, end, err := parseEventRange(q.Get("start"), q.Get("end"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 100
	if raw := q.Get("limit"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	filter := audit.Filter{
		StartTime:   start,
		EndTime:     end,
		Decision:    q.Get("decision"),
		Upstream:    q.Get("upstream"),
		SourceKeyID: q.Get("source_key_id"),
		Cursor:      q.Get("cursor"),
		Limit:       limit,
	}

	records, nextCursor, err := h.auditQuery.Query(ctx, filter)
	if err != nil {
		h.logger.Error("failed to query audit events", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to query events")
		return
	}

	events := make([]eventResponse, 0, len(records))
	for _, rec := range records {
		events = append(events, eventResponse{
			ScanID:                rec.ScanID,
			Timestamp:             rec.Timestamp.UTC().Format(time.RFC3339),
			Decision:              rec.Decision,
			RuleID:                rec.RuleID,
			RiskLevel:             rec.RiskLevel,
			Excerpt:               rec.Excerpt,
			SourceKeyID:           rec.SourceKeyID,
			Upstream:              rec.Upstream,
			WasStreaming:          rec.WasStreaming,
			TokensDelivered:       rec.TokensDelivered,
			Test:                  rec.Test,
			SuppressedByAllowlist: rec.SuppressedByAllowlist,
		})
	}

	h.respondJSON(w, http.StatusOK, listEventsResponse{Events: events, NextCursor: nextCursor})
}

type countersResponse struct {
	TotalRequests int64            `json:"total_requests"`
	Allowed       int64            `json:"allowed"`
	Blocked       int64            `json:"blocked"`
	Suppressed    int64            `json:"suppressed"`
	ByRuleID      map[string]int64 `json:"by_rule_id,omitempty"`
	ByRiskLevel   map[string]int64 `json:"by_risk_level,omitempty"`
}

// handleCounters returns aggregate scan counters within a bounded time range.
// GET /dashboard/api/counters?start=...&end=...
func (h *AdminAPIHandler) handleCounters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	start, end, err := parseEventRange(q.Get("start"), q.Get("end"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	counters, err := h.auditQuery.Counters(ctx, start, end)
	if err != nil {
		h.logger.Error("failed to compute audit counters", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to compute counters")
		return
	}

	h.respondJSON(w, http.StatusOK, countersResponse{
		TotalRequests: counters.TotalRequests,
		Allowed:       counters.Allowed,
		Blocked:       counters.Blocked,
		Suppressed:    counters.Suppressed,
		ByRuleID:      counters.ByRuleID,
		ByRiskLevel:   counters.ByRiskLevel,
	})
}

// parseEventRange parses and validates the start/end query params, defaulting
// to the last 24 hours when omitted, and rejecting ranges over 7 days.
func parseEventRange(startRaw, endRaw string) (start, end time.Time, err error) {
	end = time.Now().UTC()
	if endRaw != "" {
		end, err = time.Parse(time.RFC3339, endRaw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	start = end.Add(-24 * time.Hour)
	if startRaw != "" {
		start, err = time.Parse(time.RFC3339, startRaw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	if end.Sub(start) > maxEventRangeDays*24*time.Hour {
		return time.Time{}, time.Time{}, audit.ErrDateRangeExceeded
	}
	return start, end, nil
}
