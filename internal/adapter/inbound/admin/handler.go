// Package admin implements the loopback-only dashboard/admin HTTP API:
// API key management and scan audit queries. Every route is gated by
// adminAuthMiddleware (localhost only) and apiRateLimitMiddleware.
package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ongarde/ongarde/internal/adapter/outbound/memory"
	"github.com/ongarde/ongarde/internal/domain/audit"
	"github.com/ongarde/ongarde/internal/service"
)

// maxBodyBytes bounds admin request bodies well below the proxy's own cap;
// nothing on this surface needs to carry a large payload.
const maxBodyBytes = 1 << 20 // 1 MiB

// adminRateLimit is the per-IP request budget for non-localhost callers.
const adminRateLimit = 20
const adminRateWindow = time.Minute

// adminAuditor is the narrow slice of *service.AuditService this package
// needs, so tests can supply a stub without an embedded SQL store.
type adminAuditor interface {
	RecordAdmin(ctx context.Context, record audit.AdminRecord)
}

// AdminAPIHandler serves the dashboard's JSON API.
type AdminAPIHandler struct {
	keyService *service.KeyService
	auditQuery audit.QueryStore
	auditLog   adminAuditor
	authStore  *memory.AuthStore
	logger     *slog.Logger
}

// NewAdminAPIHandler creates a new AdminAPIHandler.
func NewAdminAPIHandler(keyService *service.KeyService, auditQuery audit.QueryStore, auditLog adminAuditor, authStore *memory.AuthStore, logger *slog.Logger) *AdminAPIHandler {
	return &AdminAPIHandler{
		keyService: keyService,
		auditQuery: auditQuery,
		auditLog:   auditLog,
		authStore:  authStore,
		logger:     logger,
	}
}

// Routes returns the configured dashboard API mux, wrapped in the
// localhost-only auth check and per-IP rate limiter.
func (h *AdminAPIHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /dashboard/", dashboardIndexHandler)
	mux.HandleFunc("GET /dashboard/api/keys", h.handleListKeys)
	mux.HandleFunc("POST /dashboard/api/keys", h.handleGenerateKey)
	mux.HandleFunc("DELETE /dashboard/api/keys/", h.handleRevokeKey)
	mux.HandleFunc("GET /dashboard/api/events", h.handleListEvents)
	mux.HandleFunc("GET /dashboard/api/counters", h.handleCounters)

	rateLimited := apiRateLimitMiddleware(adminRateLimit, adminRateWindow, mux)
	return h.adminAuthMiddleware(rateLimited)
}

// pathParam extracts the final path segment after prefix, mirroring the
// teacher's minimal path-param extraction (no router dependency needed for
// this small a surface).
func (h *AdminAPIHandler) pathParam(r *http.Request, name string) string {
	parts := strings.Split(strings.TrimSuffix(r.URL.Path, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

func (h *AdminAPIHandler) readJSON(r *http.Request, dst interface{}) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	return json.NewDecoder(body).Decode(dst)
}

func (h *AdminAPIHandler) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *AdminAPIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
