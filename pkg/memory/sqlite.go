package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"

	_ "modernc.org/sqlite"
)

// timeLayout is RFC 3339 with a fixed-width fraction so that lexicographic
// order of stored UTC timestamps matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const recordColumns = `id, payload_hash, timestamp, type, component, version, signature, signer_id, payload, merkle_root, anchors, superseded`

// SQLiteStore persists memory records keyed (id, payload_hash) so conflict
// losers stay on disk next to the winner. Exactly one version per id has
// superseded = 0.
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
    CREATE TABLE IF NOT EXISTS memories (
        id TEXT NOT NULL,
        payload_hash TEXT NOT NULL,
        timestamp TEXT NOT NULL,
        type TEXT NOT NULL,
        component TEXT,
        version TEXT,
        signature TEXT,
        signer_id TEXT,
        payload JSON,
        merkle_root TEXT,
        anchors JSON,
        superseded INTEGER NOT NULL DEFAULT 0,
        PRIMARY KEY (id, payload_hash)
    );
    CREATE INDEX IF NOT EXISTS idx_memories_order ON memories (timestamp, id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Put implements Store. The read-resolve-write dance runs in one transaction
// so concurrent inserts on the same id serialize.
func (s *SQLiteStore) Put(ctx context.Context, rec *contracts.MemoryRecord) (PutResult, error) {
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
		`SELECT COUNT(*) FROM memories WHERE id = ? AND payload_hash = ?`,
		rec.ID, rec.PayloadHash,
	).Scan(&known)
	if err != nil {
		return "", fmt.Errorf("put record: %w", err)
	}
	if known > 0 {
		return PutDuplicate, nil
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM memories WHERE id = ? AND superseded = 0`,
		rec.ID,
	)
	active, err := scanRecord(row)
	switch {
	case err == sql.ErrNoRows:
		if err := insertRecord(ctx, tx, rec, false); err != nil {
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
			`UPDATE memories SET superseded = 1 WHERE id = ? AND superseded = 0`, rec.ID)
		if err != nil {
			return "", fmt.Errorf("put record: %w", err)
		}
		result = PutResolvedReplaced
	}
	if err := insertRecord(ctx, tx, rec, result == PutResolvedKept); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("put record: %w", err)
	}
	return result, nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec *contracts.MemoryRecord, superseded bool) error {
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
	flag := 0
	if superseded {
		flag = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO memories (
		id, payload_hash, timestamp, type, component, version, signature, signer_id, payload, merkle_root, anchors, superseded
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PayloadHash, rec.Timestamp.UTC().Format(timeLayout), rec.Type,
		rec.Component, rec.Version, rec.Signature, rec.SignerID,
		payload, rec.MerkleRoot, anchorsJSON, flag,
	)
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*contracts.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM memories WHERE id = ? AND superseded = 0`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// Versions implements Store.
func (s *SQLiteStore) Versions(ctx context.Context, id string) ([]contracts.MemoryRecord, error) {
	out, err := s.scanMany(ctx,
		`SELECT `+recordColumns+` FROM memories WHERE id = ? ORDER BY superseded ASC, payload_hash ASC`, id)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return out, nil
}

// ListIDs implements Store.
func (s *SQLiteStore) ListIDs(ctx context.Context, limit, offset int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM memories WHERE superseded = 0 ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?`,
		limit, offset)
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
func (s *SQLiteStore) All(ctx context.Context) ([]contracts.MemoryRecord, error) {
	return s.scanMany(ctx,
		`SELECT `+recordColumns+` FROM memories WHERE superseded = 0 ORDER BY timestamp ASC, id ASC`)
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE superseded = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) - COALESCE(SUM(superseded), 0), COALESCE(SUM(superseded), 0) FROM memories`,
	).Scan(&st.ActiveRecords, &st.SupersededRecords)
	if err != nil {
		return Stats{}, fmt.Errorf("record stats: %w", err)
	}
	return st, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) scanMany(ctx context.Context, query string, args ...any) ([]contracts.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan records: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*contracts.MemoryRecord, error) {
	var (
		rec         contracts.MemoryRecord
		timestamp   string
		component   sql.NullString
		version     sql.NullString
		signature   sql.NullString
		signerID    sql.NullString
		payload     sql.NullString
		merkleRoot  sql.NullString
		anchorsJSON sql.NullString
		superseded  int
	)
	err := row.Scan(&rec.ID, &rec.PayloadHash, &timestamp, &rec.Type,
		&component, &version, &signature, &signerID,
		&payload, &merkleRoot, &anchorsJSON, &superseded)
	if err != nil {
		return nil, err
	}
	rec.Timestamp = parseStoredTime(timestamp)
	rec.Component = component.String
	rec.Version = version.String
	rec.Signature = signature.String
	rec.SignerID = signerID.String
	rec.MerkleRoot = merkleRoot.String
	rec.Superseded = superseded != 0
	if payload.Valid && payload.String != "" {
		rec.Payload = json.RawMessage(payload.String)
	}
	if anchorsJSON.Valid && anchorsJSON.String != "" {
		_ = json.Unmarshal([]byte(anchorsJSON.String), &rec.Anchors)
	}
	return &rec, nil
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

var _ Store = (*SQLiteStore)(nil)
