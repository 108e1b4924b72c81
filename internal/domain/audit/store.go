package audit

import (
	"context"
	"errors"
	"time"
)

// ErrDateRangeExceeded is returned when a query date range exceeds the
// maximum allowed window.
var ErrDateRangeExceeded = errors.New("date range exceeds maximum of 7 days")

// Store persists scan audit records and, optionally, admin audit records.
// Implementations handle batching and async writes; Append must be
// non-blocking from the caller's perspective (spec.md §4.7).
type Store interface {
	// Append stores scan audit records.
	Append(ctx context.Context, records ...Record) error

	// AppendAdmin stores admin/config-change audit records.
	AppendAdmin(ctx context.Context, records ...AdminRecord) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter specifies query parameters for scan audit log queries.
type Filter struct {
	StartTime time.Time
	EndTime   time.Time
	Decision  string
	Upstream  string
	SourceKeyID string
	Limit     int
	Cursor    string
}

// Counters are the dashboard's summary counts for a time window.
type Counters struct {
	TotalRequests int64
	Allowed       int64
	Blocked       int64
	Suppressed    int64
	ByRuleID      map[string]int64
	ByRiskLevel   map[string]int64
}

// QueryStore provides read access to the audit log for the dashboard.
type QueryStore interface {
	// Query retrieves scan audit records matching the filter, most recent
	// first. Returns records, next cursor (empty if no more pages), and error.
	// Returns ErrDateRangeExceeded if EndTime - StartTime exceeds 7 days.
	Query(ctx context.Context, filter Filter) ([]Record, string, error)

	// Counters returns aggregated counts for the given time range, backing
	// the dashboard's /dashboard/api/counters endpoint.
	Counters(ctx context.Context, start, end time.Time) (*Counters, error)
}
