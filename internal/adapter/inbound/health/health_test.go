package health

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type stubAudit struct {
	depth, cap int
}

func (s stubAudit) ChannelDepth() int    { return s.depth }
func (s stubAudit) ChannelCapacity() int { return s.cap }

func TestHealth_NotReadyReturns503(t *testing.T) {
	c := NewChecker("full", "standalone", 100, stubAudit{})
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	c.Routes().ServeHTTP(rec, req)

	if rec.Code != 503 {
		t.Fatalf("expected 503 before SetReady, got %d", rec.Code)
	}
}

func TestHealth_ReadyReturns200WithFields(t *testing.T) {
	c := NewChecker("full", "standalone", 100, stubAudit{depth: 3, cap: 1000})
	c.SetReady(512)
	c.Observe(5 * time.Millisecond)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	c.Routes().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200 after SetReady, got %d", rec.Code)
	}
	if got := rec.Body.String(); !strings.Contains(got, `"scanner_mode":"full"`) {
		t.Errorf("expected scanner_mode in response, got %s", got)
	}
}

func TestHealth_ScannerAndMetricsAreLoopbackOnly(t *testing.T) {
	c := NewChecker("full", "standalone", 100, stubAudit{})
	c.SetReady(512)
	routes := c.Routes()

	for _, path := range []string{"/health/scanner", "/metrics"} {
		req := httptest.NewRequest("GET", path, nil)
		req.RemoteAddr = "203.0.113.5:1234"
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, req)
		if rec.Code != 403 {
			t.Errorf("%s: expected 403 for non-loopback caller, got %d", path, rec.Code)
		}

		req = httptest.NewRequest("GET", path, nil)
		req.RemoteAddr = "127.0.0.1:1234"
		rec = httptest.NewRecorder()
		routes.ServeHTTP(rec, req)
		if rec.Code != 200 {
			t.Errorf("%s: expected 200 for loopback caller, got %d", path, rec.Code)
		}
	}
}
