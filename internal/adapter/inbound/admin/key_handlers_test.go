package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ongarde/ongarde/internal/adapter/outbound/memory"
	"github.com/ongarde/ongarde/internal/adapter/outbound/state"
	"github.com/ongarde/ongarde/internal/service"
)

func newTestHandler(t *testing.T) (*AdminAPIHandler, *service.KeyService) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := state.NewFileStateStore(filepath.Join(t.TempDir(), "state.json"), logger)
	keySvc := service.NewKeyService(store)
	authStore := memory.NewAuthStore()
	h := NewAdminAPIHandler(keySvc, nil, authStore, logger)
	return h, keySvc
}

func localRequest(method, path string, body io.Reader) *http.Request {
	r := httptest.NewRequest(method, path, body)
	r.RemoteAddr = "127.0.0.1:5555"
	return r
}

func TestHandleGenerateKey_UnknownIdentity(t *testing.T) {
	h, _ := newTestHandler(t)
	body := strings.NewReader(`{"identity_id":"missing","name":"x"}`)
	req := localRequest(http.MethodPost, "/dashboard/api/keys", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleGenerateKey_Success(t *testing.T) {
	h, keySvc := newTestHandler(t)
	boot, err := keySvc.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	body := strings.NewReader(`{"identity_id":"` + boot.KeyEntry.IdentityID + `","name":"second"}`)
	req := localRequest(http.MethodPost, "/dashboard/api/keys", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp generateKeyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(resp.CleartextKey, "ong-") {
		t.Errorf("expected ong- prefixed key, got %q", resp.CleartextKey)
	}
}

func TestHandleListKeys_ReturnsAllKeys(t *testing.T) {
	h, keySvc := newTestHandler(t)
	if _, err := keySvc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	req := localRequest(http.MethodGet, "/dashboard/api/keys", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp []keyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("expected 1 key, got %d", len(resp))
	}
}

func TestHandleRevokeKey_Success(t *testing.T) {
	h, keySvc := newTestHandler(t)
	boot, err := keySvc.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	req := localRequest(http.MethodDelete, "/dashboard/api/keys/"+boot.KeyEntry.ID, nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleRevokeKey_NotFound(t *testing.T) {
	h, keySvc := newTestHandler(t)
	if _, err := keySvc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	req := localRequest(http.MethodDelete, "/dashboard/api/keys/does-not-exist", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAdminRoutes_RejectsNonLocalhost(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/dashboard/api/keys", nil)
	req.RemoteAddr = "203.0.113.5:1234"
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}
