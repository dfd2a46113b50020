package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"

	_ "github.com/lib/pq"
)

// PostgresStore is the shared-database variant of the memory log for
// multi-replica nodes. Same (id, payload_hash) keying and supersession
// semantics as the SQLite store.
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
    CREATE TABLE IF NOT EXISTS memories (
        id TEXT NOT NULL,
        payload_hash TEXT NOT NULL,
        timestamp TIMESTAMPTZ NOT NULL,
        type TEXT NOT NULL,
        component TEXT,
        version TEXT,
        signature TEXT,
        signer_id TEXT,
        payload JSONB,
        merkle_root TEXT,
        anchors JSONB,
        superseded BOOLEAN NOT NULL DEFAULT FALSE,
        PRIMARY KEY (id, payload_hash)
    );
    CREATE INDEX IF NOT EXISTS idx_memories_order ON memories (timestamp, id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Put implements Store. The read-resolve-write dance runs in one transaction
// with the active row locked so concurrent inserts on the same id serialize.
func (s *PostgresStore) Put(ctx context.Context, rec *contracts.MemoryRecord) (PutResult, error) {
	if err := checkRecordKey(rec); err != nil {
		return "", err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("put record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var known int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE id = $1 AND payload_hash = $2`,
		rec.ID, rec.PayloadHash,
	).Scan(&known)
	if err != nil {
		return "", fmt.Errorf("put record: %w", err)
	}
	if known > 0 {
		return PutDuplicate, nil
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM memories WHERE id = $1 AND superseded = FALSE FOR UPDATE`,
		rec.ID,
	)
	active, err := scanRecordPG(row)
	switch {
	case err == sql.ErrNoRows:
		if err := insertRecordPG(ctx, tx, rec, false); err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("put record: %w", err)
		}
		return PutInserted, nil
	case err != nil:
		return "", fmt.Errorf("put record: %w", err)
	}

	result := PutResolvedKept
	if ResolveConflict(active, rec) != active {
		_, err = tx.ExecContext(ctx,
			`UPDATE memories SET superseded = TRUE WHERE id = $1 AND superseded = FALSE`, rec.ID)
		if err != nil {
			return "", fmt.Errorf("put record: %w", err)
		}
		result = PutResolvedReplaced
	}
	if err := insertRecordPG(ctx, tx, rec, result == PutResolvedKept); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("put record: %w", err)
	}
	return result, nil
}

func insertRecordPG(ctx context.Context, tx *sql.Tx, rec *contracts.MemoryRecord, superseded bool) error {
	var anchorsJSON any
	if len(rec.Anchors) > 0 {
		b, err := json.Marshal(rec.Anchors)
		if err != nil {
			return fmt.Errorf("put record: encode anchors: %w", err)
		}
		anchorsJSON = string(b)
	}
	var payload any
	if len(rec.Payload) > 0 {
		payload = string(rec.Payload)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO memories (
		id, payload_hash, timestamp, type, component, version, signature, signer_id, payload, merkle_root, anchors, superseded
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.PayloadHash, rec.Timestamp.UTC(), rec.Type,
		rec.Component, rec.Version, rec.Signature, rec.SignerID,
		payload, rec.MerkleRoot, anchorsJSON, superseded,
	)
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*contracts.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM memories WHERE id = $1 AND superseded = FALSE`, id)
	rec, err := scanRecordPG(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// Versions implements Store.
func (s *PostgresStore) Versions(ctx context.Context, id string) ([]contracts.MemoryRecord, error) {
	out, err := s.scanMany(ctx,
		`SELECT `+recordColumns+` FROM memories WHERE id = $1 ORDER BY superseded ASC, payload_hash ASC`, id)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return out, nil
}

// ListIDs implements Store.
func (s *PostgresStore) ListIDs(ctx context.Context, limit, offset int) ([]string, error) {
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM memories WHERE superseded = FALSE ORDER BY timestamp ASC, id ASC LIMIT $1 OFFSET $2`,
		nullableLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list record ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list record ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// All implements Store.
func (s *PostgresStore) All(ctx context.Context) ([]contracts.MemoryRecord, error) {
	return s.scanMany(ctx,
		`SELECT `+recordColumns+` FROM memories WHERE superseded = FALSE ORDER BY timestamp ASC, id ASC`)
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE superseded = FALSE`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Stats implements Store.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FILTER (WHERE NOT superseded), COUNT(*) FILTER (WHERE superseded) FROM memories`,
	).Scan(&st.ActiveRecords, &st.SupersededRecords)
	if err != nil {
		return Stats{}, fmt.Errorf("record stats: %w", err)
	}
	return st, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) scanMany(ctx context.Context, query string, args ...any) ([]contracts.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.MemoryRecord
	for rows.Next() {
		rec, err := scanRecordPG(rows)
		if err != nil {
			return nil, fmt.Errorf("scan records: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// scanRecordPG differs from scanRecord in the timestamp and superseded
// column types only.
func scanRecordPG(row rowScanner) (*contracts.MemoryRecord, error) {
	var (
		rec         contracts.MemoryRecord
		timestamp   time.Time
		component   sql.NullString
		version     sql.NullString
		signature   sql.NullString
		signerID    sql.NullString
		payload     sql.NullString
		merkleRoot  sql.NullString
		anchorsJSON sql.NullString
		superseded  bool
	)
	err := row.Scan(&rec.ID, &rec.PayloadHash, &timestamp, &rec.Type,
		&component, &version, &signature, &signerID,
		&payload, &merkleRoot, &anchorsJSON, &superseded)
	if err != nil {
		return nil, err
	}
	rec.Timestamp = timestamp.UTC()
	rec.Component = component.String
	rec.Version = version.String
	rec.Signature = signature.String
	rec.SignerID = signerID.String
	rec.MerkleRoot = merkleRoot.String
	rec.Superseded = superseded
	if payload.Valid && payload.String != "" {
		rec.Payload = json.RawMessage(payload.String)
	}
	if anchorsJSON.Valid && anchorsJSON.String != "" {
		_ = json.Unmarshal([]byte(anchorsJSON.String), &rec.Anchors)
	}
	return &rec, nil
}

// nullableLimit turns a non-positive limit into SQL NULL, which Postgres
// treats as LIMIT ALL.
func nullableLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

var _ Store = (*PostgresStore)(nil)
