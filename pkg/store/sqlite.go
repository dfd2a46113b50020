package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"

	_ "modernc.org/sqlite"
)

// sqlTimeLayout is RFC 3339 with a fixed-width fraction so that lexicographic
// order of stored UTC timestamps matches chronological order.
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists decision traces in a single traces table. The outcome
// tail is guarded in SQL: the finalize UPDATE only matches rows whose outcome
// is still NULL.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an opened database handle and applies migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS traces (
        trace_id TEXT PRIMARY KEY,
        tenant TEXT NOT NULL,
        timestamp TEXT NOT NULL,
        state_key TEXT NOT NULL,
        action TEXT NOT NULL,
        status TEXT NOT NULL,
        metadata JSON,
        context JSON,
        outcome JSON,
        reward REAL,
        feedback_at TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_traces_tenant ON traces (tenant);
    CREATE INDEX IF NOT EXISTS idx_traces_timestamp ON traces (timestamp);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Create implements DecisionStore.
func (s *SQLiteStore) Create(ctx context.Context, trace *contracts.DecisionTrace) error {
	if trace == nil || trace.DecisionID == "" {
		return fmt.Errorf("%w: trace requires a decision id", contracts.ErrInvalidInput)
	}
	query := `INSERT OR IGNORE INTO traces (
		trace_id, tenant, timestamp, state_key, action, status, metadata, context
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	metaJSON, _ := json.Marshal(trace.Metadata)
	ctxJSON, _ := json.Marshal(trace.Context)
	timestamp := trace.Timestamp.UTC().Format(sqlTimeLayout)

	res, err := s.db.ExecContext(ctx, query,
		trace.DecisionID, trace.Tenant, timestamp, trace.StateKey, trace.Action, string(trace.Status), string(metaJSON), string(ctxJSON),
	)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: decision %s already exists", contracts.ErrConflict, trace.DecisionID)
	}
	return nil
}

// Get implements DecisionStore.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*contracts.DecisionTrace, error) {
	query := `
        SELECT trace_id, tenant, timestamp, state_key, action, status, metadata, context, outcome, reward, feedback_at
        FROM traces
        WHERE trace_id = ?
    `
	row := s.db.QueryRowContext(ctx, query, id)
	t, err := scanTrace(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", contracts.ErrUnknownDecision, id)
		}
		return nil, err
	}
	return t, nil
}

// Finalize implements DecisionStore. The WHERE clause makes the write-once
// guarantee atomic; a zero row count is disambiguated afterwards.
func (s *SQLiteStore) Finalize(ctx context.Context, id string, outcome *contracts.Outcome, reward float64, at time.Time) error {
	if outcome == nil {
		return fmt.Errorf("%w: outcome required", contracts.ErrInvalidInput)
	}
	query := `UPDATE traces
		SET outcome = ?, reward = ?, feedback_at = ?, status = ?
		WHERE trace_id = ? AND outcome IS NULL`

	outJSON, _ := json.Marshal(outcome)
	res, err := s.db.ExecContext(ctx, query,
		string(outJSON), reward, at.UTC().Format(sqlTimeLayout), string(contracts.TraceCompleted), id,
	)
	if err != nil {
		return fmt.Errorf("finalize trace: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize trace: %w", err)
	}
	if affected == 0 {
		return s.missOrFinalized(ctx, id)
	}
	return nil
}

// MarkStatus implements DecisionStore.
func (s *SQLiteStore) MarkStatus(ctx context.Context, id string, status contracts.TraceStatus) error {
	query := `UPDATE traces SET status = ? WHERE trace_id = ? AND outcome IS NULL`
	res, err := s.db.ExecContext(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("mark trace status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark trace status: %w", err)
	}
	if affected == 0 {
		return s.missOrFinalized(ctx, id)
	}
	return nil
}

// missOrFinalized explains a zero-row guarded update.
func (s *SQLiteStore) missOrFinalized(ctx context.Context, id string) error {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM traces WHERE trace_id = ?`, id).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspect trace: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", contracts.ErrUnknownDecision, id)
	}
	return fmt.Errorf("%w: decision %s", contracts.ErrAlreadyFinalized, id)
}

// ScanByTime implements DecisionStore.
func (s *SQLiteStore) ScanByTime(ctx context.Context, from, to time.Time, limit int) ([]*contracts.DecisionTrace, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
        SELECT trace_id, tenant, timestamp, state_key, action, status, metadata, context, outcome, reward, feedback_at
        FROM traces
        WHERE timestamp >= ? AND timestamp < ?
        ORDER BY timestamp ASC, trace_id ASC
        LIMIT ?
    `
	return s.scanMany(ctx, query, from.UTC().Format(sqlTimeLayout), to.UTC().Format(sqlTimeLayout), limit)
}

// ScanByTenant implements DecisionStore.
func (s *SQLiteStore) ScanByTenant(ctx context.Context, tenant string, limit int) ([]*contracts.DecisionTrace, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
        SELECT trace_id, tenant, timestamp, state_key, action, status, metadata, context, outcome, reward, feedback_at
        FROM traces
        WHERE tenant = ?
        ORDER BY timestamp ASC, trace_id ASC
        LIMIT ?
    `
	return s.scanMany(ctx, query, tenant, limit)
}

// Delete implements DecisionStore.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM traces WHERE trace_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete trace: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete trace: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", contracts.ErrUnknownDecision, id)
	}
	return nil
}

// Count implements DecisionStore.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM traces`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count traces: %w", err)
	}
	return n, nil
}

// Close implements DecisionStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Stats reports feedback coverage.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(outcome) FROM traces`).Scan(&st.TotalTraces, &st.WithFeedback)
	if err != nil {
		return Stats{}, fmt.Errorf("trace stats: %w", err)
	}
	if st.TotalTraces > 0 {
		st.FeedbackRate = float64(st.WithFeedback) / float64(st.TotalTraces)
	}
	return st, nil
}

func (s *SQLiteStore) scanMany(ctx context.Context, query string, args ...any) ([]*contracts.DecisionTrace, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan traces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var traces []*contracts.DecisionTrace
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		traces = append(traces, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return traces, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrace(row rowScanner) (*contracts.DecisionTrace, error) {
	var (
		traceID    string
		tenant     string
		timestamp  string
		stateKey   string
		action     string
		status     string
		metaJSON   sql.NullString
		ctxJSON    sql.NullString
		outJSON    sql.NullString
		reward     sql.NullFloat64
		feedbackAt sql.NullString
	)
	if err := row.Scan(&traceID, &tenant, &timestamp, &stateKey, &action, &status, &metaJSON, &ctxJSON, &outJSON, &reward, &feedbackAt); err != nil {
		return nil, err
	}

	t := &contracts.DecisionTrace{
		DecisionID: traceID,
		Tenant:     tenant,
		Timestamp:  parseStoredTime(timestamp),
		StateKey:   stateKey,
		Action:     action,
		Status:     contracts.TraceStatus(status),
	}
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &t.Metadata)
	}
	if ctxJSON.Valid && ctxJSON.String != "" {
		_ = json.Unmarshal([]byte(ctxJSON.String), &t.Context)
	}
	if outJSON.Valid && outJSON.String != "" {
		var o contracts.Outcome
		if err := json.Unmarshal([]byte(outJSON.String), &o); err == nil {
			t.Outcome = &o
		}
	}
	if reward.Valid {
		r := reward.Float64
		t.Reward = &r
	}
	if feedbackAt.Valid && feedbackAt.String != "" {
		at := parseStoredTime(feedbackAt.String)
		t.FeedbackAt = &at
	}
	return t, nil
}

func parseStoredTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

var _ DecisionStore = (*SQLiteStore)(nil)
