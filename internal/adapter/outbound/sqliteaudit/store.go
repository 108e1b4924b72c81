// Package sqliteaudit implements the embedded SQL audit store (spec.md
// §4.7/§6's "local embedded SQL store, primary"): scan and admin audit
// records batched into a modernc.org/sqlite-backed database file, with a
// retention-cleanup goroutine modeled on the teacher's file-based audit
// store. WAL mode is enabled so the dashboard's read queries never block
// the writer.
package sqliteaudit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ongarde/ongarde/internal/domain/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS scan_events (
	scan_id                 TEXT PRIMARY KEY,
	ts                      INTEGER NOT NULL,
	decision                TEXT NOT NULL,
	rule_id                 TEXT,
	risk_level              TEXT,
	excerpt                 TEXT,
	source_key_id           TEXT,
	upstream                TEXT NOT NULL,
	was_streaming           INTEGER NOT NULL,
	tokens_delivered        INTEGER,
	test                    INTEGER NOT NULL,
	suppressed_by_allowlist INTEGER NOT NULL,
	latency_micros          INTEGER
);
CREATE INDEX IF NOT EXISTS idx_scan_events_ts ON scan_events(ts);

CREATE TABLE IF NOT EXISTS admin_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts            INTEGER NOT NULL,
	event_type    TEXT NOT NULL,
	actor_key_id  TEXT,
	source_ip     TEXT,
	target_id     TEXT,
	reason        TEXT
);
CREATE INDEX IF NOT EXISTS idx_admin_events_ts ON admin_events(ts);
`

// Config configures the embedded store.
type Config struct {
	// Path is the sqlite database file path.
	Path string
	// RetentionDays is how long rows are kept before hourly cleanup prunes
	// them. Defaults to 7.
	RetentionDays int
}

// Store is a modernc.org/sqlite-backed audit.Store and audit.QueryStore.
type Store struct {
	db            *sql.DB
	retentionDays int
	logger        *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// Open creates or opens the sqlite database at cfg.Path, runs the schema
// migration, enables WAL mode, and starts the hourly retention-cleanup
// goroutine.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		db:            db,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		cancel:        cancel,
	}

	s.runCleanup()
	go s.cleanupLoop(ctx)

	return s, nil
}

// Append inserts scan audit records in a single transaction.
func (s *Store) Append(ctx context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO scan_events (
			scan_id, ts, decision, rule_id, risk_level, excerpt, source_key_id,
			upstream, was_streaming, tokens_delivered, test,
			suppressed_by_allowlist, latency_micros
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.ScanID, r.Timestamp.UnixNano(), r.Decision, r.RuleID, r.RiskLevel,
			r.Excerpt, r.SourceKeyID, r.Upstream, boolToInt(r.WasStreaming),
			r.TokensDelivered, boolToInt(r.Test), boolToInt(r.SuppressedByAllowlist),
			r.LatencyMicros,
		); err != nil {
			return fmt.Errorf("insert audit record %s: %w", r.ScanID, err)
		}
	}

	return tx.Commit()
}

// AppendAdmin inserts admin audit records in a single transaction.
func (s *Store) AppendAdmin(ctx context.Context, records ...audit.AdminRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin admin audit tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO admin_events (ts, event_type, actor_key_id, source_ip, target_id, reason)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare admin audit insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.Timestamp.UnixNano(), r.EventType, r.ActorKeyID, r.SourceIP, r.TargetID, r.Reason,
		); err != nil {
			return fmt.Errorf("insert admin audit record: %w", err)
		}
	}

	return tx.Commit()
}

// Flush is a no-op: every Append already commits its own transaction.
func (s *Store) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine and closes the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return s.db.Close()
}

// Query retrieves scan audit records matching filter, most recent first.
func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, string, error) {
	if !filter.StartTime.IsZero() && !filter.EndTime.IsZero() {
		if filter.EndTime.Sub(filter.StartTime) > 7*24*time.Hour {
			return nil, "", audit.ErrDateRangeExceeded
		}
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var conds []string
	var args []interface{}

	if !filter.StartTime.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, filter.StartTime.UnixNano())
	}
	if !filter.EndTime.IsZero() {
		conds = append(conds, "ts <= ?")
		args = append(args, filter.EndTime.UnixNano())
	}
	if filter.Decision != "" {
		conds = append(conds, "decision = ?")
		args = append(args, filter.Decision)
	}
	if filter.Upstream != "" {
		conds = append(conds, "upstream = ?")
		args = append(args, filter.Upstream)
	}
	if filter.SourceKeyID != "" {
		conds = append(conds, "source_key_id = ?")
		args = append(args, filter.SourceKeyID)
	}
	if filter.Cursor != "" {
		cursorTS, err := strconv.ParseInt(filter.Cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor %q: %w", filter.Cursor, err)
		}
		conds = append(conds, "ts < ?")
		args = append(args, cursorTS)
	}

	query := "SELECT scan_id, ts, decision, rule_id, risk_level, excerpt, source_key_id, upstream, was_streaming, tokens_delivered, test, suppressed_by_allowlist, latency_micros FROM scan_events"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []audit.Record
	for rows.Next() {
		var (
			r                                    audit.Record
			tsNano                               int64
			wasStreaming, test, suppressed       int
			ruleID, riskLevel, excerpt, sourceID sql.NullString
			tokensDelivered                      sql.NullInt64
		)
		if err := rows.Scan(
			&r.ScanID, &tsNano, &r.Decision, &ruleID, &riskLevel, &excerpt, &sourceID,
			&r.Upstream, &wasStreaming, &tokensDelivered, &test, &suppressed, &r.LatencyMicros,
		); err != nil {
			return nil, "", fmt.Errorf("scan audit row: %w", err)
		}
		r.Timestamp = time.Unix(0, tsNano)
		r.RuleID = ruleID.String
		r.RiskLevel = riskLevel.String
		r.Excerpt = excerpt.String
		r.SourceKeyID = sourceID.String
		r.TokensDelivered = tokensDelivered.Int64
		r.WasStreaming = wasStreaming != 0
		r.Test = test != 0
		r.SuppressedByAllowlist = suppressed != 0
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate audit rows: %w", err)
	}

	var nextCursor string
	if len(records) > limit {
		nextCursor = strconv.FormatInt(records[limit].Timestamp.UnixNano(), 10)
		records = records[:limit]
	}

	return records, nextCursor, nil
}

// Counters returns aggregated counts for the dashboard's summary view.
func (s *Store) Counters(ctx context.Context, start, end time.Time) (*audit.Counters, error) {
	c := &audit.Counters{
		ByRuleID:    make(map[string]int64),
		ByRiskLevel: make(map[string]int64),
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN decision = 'allow' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN decision = 'block' AND test = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN suppressed_by_allowlist = 1 THEN 1 ELSE 0 END), 0)
		FROM scan_events WHERE ts >= ? AND ts <= ?
	`, start.UnixNano(), end.UnixNano())
	if err := row.Scan(&c.TotalRequests, &c.Allowed, &c.Blocked, &c.Suppressed); err != nil {
		return nil, fmt.Errorf("query counters: %w", err)
	}

	ruleRows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, COUNT(*) FROM scan_events
		WHERE ts >= ? AND ts <= ? AND rule_id IS NOT NULL AND rule_id != ''
		GROUP BY rule_id
	`, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query counters by rule_id: %w", err)
	}
	defer ruleRows.Close()
	for ruleRows.Next() {
		var ruleID string
		var count int64
		if err := ruleRows.Scan(&ruleID, &count); err != nil {
			return nil, fmt.Errorf("scan rule_id counter row: %w", err)
		}
		c.ByRuleID[ruleID] = count
	}
	if err := ruleRows.Err(); err != nil {
		return nil, err
	}

	riskRows, err := s.db.QueryContext(ctx, `
		SELECT risk_level, COUNT(*) FROM scan_events
		WHERE ts >= ? AND ts <= ? AND risk_level IS NOT NULL AND risk_level != ''
		GROUP BY risk_level
	`, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query counters by risk_level: %w", err)
	}
	defer riskRows.Close()
	for riskRows.Next() {
		var risk string
		var count int64
		if err := riskRows.Scan(&risk, &count); err != nil {
			return nil, fmt.Errorf("scan risk_level counter row: %w", err)
		}
		c.ByRiskLevel[risk] = count
	}
	if err := riskRows.Err(); err != nil {
		return nil, err
	}

	return c, nil
}

// runCleanup deletes rows older than the retention window.
func (s *Store) runCleanup() {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays).UnixNano()
	res, err := s.db.Exec("DELETE FROM scan_events WHERE ts < ?", cutoff)
	if err != nil {
		s.logger.Error("audit retention cleanup failed", "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("audit retention cleanup completed", "deleted", n)
	}
	if _, err := s.db.Exec("DELETE FROM admin_events WHERE ts < ?", cutoff); err != nil {
		s.logger.Error("admin audit retention cleanup failed", "error", err)
	}
}

func (s *Store) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ audit.Store = (*Store)(nil)
var _ audit.QueryStore = (*Store)(nil)
