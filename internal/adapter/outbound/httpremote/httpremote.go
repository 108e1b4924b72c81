// Package httpremote implements the optional remote audit sink (spec.md
// §4.7's "pluggable... a remote managed store"): a best-effort webhook POST
// of batched audit records that never blocks or fails the primary embedded
// store. Grounded on the teacher's outbound HTTP client conventions
// (bounded timeout, no retry loop on the hot path).
package httpremote

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ongarde/ongarde/internal/domain/audit"
)

const requestTimeout = 3 * time.Second

// Sink POSTs batches of audit records to a configured webhook URL. Failures
// are logged and swallowed: a down or slow remote collector must never
// affect the primary audit path.
type Sink struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// New creates a Sink that posts to url.
func New(url string, logger *slog.Logger) *Sink {
	return &Sink{
		url:    url,
		client: &http.Client{Timeout: requestTimeout},
		logger: logger,
	}
}

// Append best-effort POSTs the batch as a JSON array. Never returns an
// error: a failed delivery is logged and dropped.
func (s *Sink) Append(ctx context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.post(ctx, "/scan-events", records)
	return nil
}

// AppendAdmin best-effort POSTs an admin record batch. Never returns an error.
func (s *Sink) AppendAdmin(ctx context.Context, records ...audit.AdminRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.post(ctx, "/admin-events", records)
	return nil
}

// Flush is a no-op: each Append/AppendAdmin already attempts delivery
// immediately.
func (s *Sink) Flush(_ context.Context) error { return nil }

// Close releases the underlying HTTP client's idle connections.
func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Sink) post(ctx context.Context, path string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("httpremote: marshal failed", "error", err)
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.url+path, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("httpremote: build request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("httpremote: delivery failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.logger.Warn("httpremote: remote rejected batch", "status", resp.StatusCode)
	}
}

var _ audit.Store = (*Sink)(nil)
