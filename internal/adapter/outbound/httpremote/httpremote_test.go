package httpremote

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ongarde/ongarde/internal/domain/audit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAppend_PostsBatchToWebhook(t *testing.T) {
	var mu sync.Mutex
	var received []audit.Record

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scan-events" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var batch []audit.Record
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		received = append(received, batch...)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := New(srv.URL, testLogger())
	defer sink.Close()

	err := sink.Append(context.Background(), audit.Record{ScanID: "scan-1", Upstream: "openai"})
	if err != nil {
		t.Fatalf("Append returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].ScanID != "scan-1" {
		t.Fatalf("expected webhook to receive the record, got %+v", received)
	}
}

func TestAppend_NeverErrorsOnUnreachableRemote(t *testing.T) {
	sink := New("http://127.0.0.1:1", testLogger())
	defer sink.Close()

	err := sink.Append(context.Background(), audit.Record{ScanID: "scan-1", Upstream: "openai"})
	if err != nil {
		t.Fatalf("expected best-effort Append to swallow the error, got %v", err)
	}
}

func TestAppend_RespectsTimeoutOnSlowRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
	}))
	defer srv.Close()

	sink := New(srv.URL, testLogger())
	sink.client.Timeout = 50 * time.Millisecond
	defer sink.Close()

	start := time.Now()
	err := sink.Append(context.Background(), audit.Record{ScanID: "scan-1", Upstream: "openai"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected timeout to bound the call, took %v", elapsed)
	}
}

type fakeStore struct {
	mu         sync.Mutex
	appended   []audit.Record
	appendErr  error
	closeCalls int
}

func (f *fakeStore) Append(_ context.Context, records ...audit.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, records...)
	return f.appendErr
}

func (f *fakeStore) AppendAdmin(_ context.Context, _ ...audit.AdminRecord) error { return nil }
func (f *fakeStore) Flush(_ context.Context) error                              { return nil }
func (f *fakeStore) Close() error {
	f.closeCalls++
	return nil
}

func TestFanOut_WritesToBothStores(t *testing.T) {
	primary := &fakeStore{}
	secondary := &fakeStore{}
	f := NewFanOut(primary, secondary)

	if err := f.Append(context.Background(), audit.Record{ScanID: "scan-1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(primary.appended) != 1 || len(secondary.appended) != 1 {
		t.Fatalf("expected both stores to receive the record: primary=%d secondary=%d",
			len(primary.appended), len(secondary.appended))
	}
}

func TestFanOut_PropagatesOnlyPrimaryError(t *testing.T) {
	primary := &fakeStore{appendErr: context.DeadlineExceeded}
	secondary := &fakeStore{}
	f := NewFanOut(primary, secondary)

	if err := f.Append(context.Background(), audit.Record{ScanID: "scan-1"}); err == nil {
		t.Fatal("expected primary's error to propagate")
	}
}

func TestFanOut_NilSecondaryIsFine(t *testing.T) {
	primary := &fakeStore{}
	f := NewFanOut(primary, nil)

	if err := f.Append(context.Background(), audit.Record{ScanID: "scan-1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
