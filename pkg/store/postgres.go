package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"

	_ "github.com/lib/pq"
)

// PostgresStore is the shared-deployment variant of the decision store. Same
// guarded-update semantics as SQLiteStore with native timestamp and JSONB
// columns.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an opened database handle and applies migrations.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS traces (
        trace_id TEXT PRIMARY KEY,
        tenant TEXT NOT NULL,
        timestamp TIMESTAMPTZ NOT NULL,
        state_key TEXT NOT NULL,
        action TEXT NOT NULL,
        status TEXT NOT NULL,
        metadata JSONB,
        context JSONB,
        outcome JSONB,
        reward DOUBLE PRECISION,
        feedback_at TIMESTAMPTZ
    );
    CREATE INDEX IF NOT EXISTS idx_traces_tenant ON traces (tenant);
    CREATE INDEX IF NOT EXISTS idx_traces_timestamp ON traces (timestamp);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Create implements DecisionStore.
func (s *PostgresStore) Create(ctx context.Context, trace *contracts.DecisionTrace) error {
	if trace == nil || trace.DecisionID == "" {
		return fmt.Errorf("%w: trace requires a decision id", contracts.ErrInvalidInput)
	}
	query := `INSERT INTO traces (
		trace_id, tenant, timestamp, state_key, action, status, metadata, context
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (trace_id) DO NOTHING`

	metaJSON, _ := json.Marshal(trace.Metadata)
	ctxJSON, _ := json.Marshal(trace.Context)

	res, err := s.db.ExecContext(ctx, query,
		trace.DecisionID, trace.Tenant, trace.Timestamp.UTC(), trace.StateKey, trace.Action, string(trace.Status), string(metaJSON), string(ctxJSON),
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
func (s *PostgresStore) Get(ctx context.Context, id string) (*contracts.DecisionTrace, error) {
	query := `
        SELECT trace_id, tenant, timestamp, state_key, action, status, metadata, context, outcome, reward, feedback_at
        FROM traces
        WHERE trace_id = $1
    `
	row := s.db.QueryRowContext(ctx, query, id)
	t, err := scanTracePG(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", contracts.ErrUnknownDecision, id)
		}
		return nil, err
	}
	return t, nil
}

// Finalize implements DecisionStore.
func (s *PostgresStore) Finalize(ctx context.Context, id string, outcome *contracts.Outcome, reward float64, at time.Time) error {
	if outcome == nil {
		return fmt.Errorf("%w: outcome required", contracts.ErrInvalidInput)
	}
	query := `UPDATE traces
		SET outcome = $1, reward = $2, feedback_at = $3, status = $4
		WHERE trace_id = $5 AND outcome IS NULL`

	outJSON, _ := json.Marshal(outcome)
	res, err := s.db.ExecContext(ctx, query,
		string(outJSON), reward, at.UTC(), string(contracts.TraceCompleted), id,
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
func (s *PostgresStore) MarkStatus(ctx context.Context, id string, status contracts.TraceStatus) error {
	query := `UPDATE traces SET status = $1 WHERE trace_id = $2 AND outcome IS NULL`
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

func (s *PostgresStore) missOrFinalized(ctx context.Context, id string) error {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM traces WHERE trace_id = $1`, id).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspect trace: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", contracts.ErrUnknownDecision, id)
	}
	return fmt.Errorf("%w: decision %s", contracts.ErrAlreadyFinalized, id)
}

// ScanByTime implements DecisionStore.
func (s *PostgresStore) ScanByTime(ctx context.Context, from, to time.Time, limit int) ([]*contracts.DecisionTrace, error) {
	query := `
        SELECT trace_id, tenant, timestamp, state_key, action, status, metadata, context, outcome, reward, feedback_at
        FROM traces
        WHERE timestamp >= $1 AND timestamp < $2
        ORDER BY timestamp ASC, trace_id ASC
        LIMIT $3
    `
	return s.scanMany(ctx, query, from.UTC(), to.UTC(), nullableLimit(limit))
}

// ScanByTenant implements DecisionStore.
func (s *PostgresStore) ScanByTenant(ctx context.Context, tenant string, limit int) ([]*contracts.DecisionTrace, error) {
	query := `
        SELECT trace_id, tenant, timestamp, state_key, action, status, metadata, context, outcome, reward, feedback_at
        FROM traces
        WHERE tenant = $1
        ORDER BY timestamp ASC, trace_id ASC
        LIMIT $2
    `
	return s.scanMany(ctx, query, tenant, nullableLimit(limit))
}

// nullableLimit maps the "no limit" convention onto LIMIT NULL.
func nullableLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// Delete implements DecisionStore.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM traces WHERE trace_id = $1`, id)
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
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM traces`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count traces: %w", err)
	}
	return n, nil
}

// Close implements DecisionStore.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Stats reports feedback coverage.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
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

func (s *PostgresStore) scanMany(ctx context.Context, query string, args ...any) ([]*contracts.DecisionTrace, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan traces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var traces []*contracts.DecisionTrace
	for rows.Next() {
		t, err := scanTracePG(rows)
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

func scanTracePG(row rowScanner) (*contracts.DecisionTrace, error) {
	var (
		traceID    string
		tenant     string
		timestamp  time.Time
		stateKey   string
		action     string
		status     string
		metaJSON   sql.NullString
		ctxJSON    sql.NullString
		outJSON    sql.NullString
		reward     sql.NullFloat64
		feedbackAt sql.NullTime
	)
	if err := row.Scan(&traceID, &tenant, &timestamp, &stateKey, &action, &status, &metaJSON, &ctxJSON, &outJSON, &reward, &feedbackAt); err != nil {
		return nil, err
	}

	t := &contracts.DecisionTrace{
		DecisionID: traceID,
		Tenant:     tenant,
		Timestamp:  timestamp,
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
	if feedbackAt.Valid {
		at := feedbackAt.Time
		t.FeedbackAt = &at
	}
	return t, nil
}

var _ DecisionStore = (*PostgresStore)(nil)
