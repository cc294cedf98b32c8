package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/flowforge/graphcore/graph"
	"github.com/flowforge/graphcore/graph/serialize"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	graph_id    TEXT NOT NULL,
	timestamp   TEXT NOT NULL,
	expires_at  TEXT,
	payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON checkpoints(run_id);
CREATE INDEX IF NOT EXISTS idx_checkpoints_graph_id ON checkpoints(graph_id);
`

// SQLiteStore is a single-file, durable CheckpointStore backed by
// modernc.org/sqlite, suitable for development and single-process
// deployments.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and ensures the checkpoints table and indexes exist. path may be
// ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, cp graph.Checkpoint) (string, error) {
	payload, err := serialize.Encode(cp, false)
	if err != nil {
		return "", &graph.CheckpointError{Message: "encode failed", CheckpointID: cp.ID, Cause: err}
	}

	var expiresAt interface{}
	if cp.ExpiresAt != nil {
		expiresAt = cp.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, run_id, graph_id, timestamp, expires_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			graph_id = excluded.graph_id,
			timestamp = excluded.timestamp,
			expires_at = excluded.expires_at,
			payload = excluded.payload
	`, cp.ID, cp.RunID, cp.GraphID, cp.Timestamp.UTC().Format(time.RFC3339Nano), expiresAt, string(payload))
	if err != nil {
		return "", &graph.CheckpointError{Message: "save failed", CheckpointID: cp.ID, Cause: err}
	}
	return cp.ID, nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (graph.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM checkpoints WHERE id = ?`, id)

	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return graph.Checkpoint{}, &graph.CheckpointError{Message: "not found", CheckpointID: id, Cause: graph.ErrCheckpointNotFound}
		}
		return graph.Checkpoint{}, &graph.CheckpointError{Message: "load failed", CheckpointID: id, Cause: err}
	}

	cp, err := serialize.Decode([]byte(payload))
	if err != nil {
		return graph.Checkpoint{}, &graph.CheckpointError{Message: "decode failed", CheckpointID: id, Cause: err}
	}
	return cp, nil
}

func (s *SQLiteStore) queryCheckpoints(ctx context.Context, query, key string) ([]graph.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, &graph.CheckpointError{Message: "list failed", Cause: err}
	}
	defer rows.Close()

	var out []graph.Checkpoint
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, &graph.CheckpointError{Message: "list scan failed", Cause: err}
		}
		cp, err := serialize.Decode([]byte(payload))
		if err != nil {
			return nil, &graph.CheckpointError{Message: "decode failed", Cause: err}
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListByRun(ctx context.Context, runID string) ([]graph.Checkpoint, error) {
	return s.queryCheckpoints(ctx, `SELECT payload FROM checkpoints WHERE run_id = ? ORDER BY timestamp DESC`, runID)
}

func (s *SQLiteStore) ListByGraph(ctx context.Context, graphID string) ([]graph.Checkpoint, error) {
	return s.queryCheckpoints(ctx, `SELECT payload FROM checkpoints WHERE graph_id = ? ORDER BY timestamp DESC`, graphID)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id)
	if err != nil {
		return &graph.CheckpointError{Message: "delete failed", CheckpointID: id, Cause: err}
	}
	return nil
}

func (s *SQLiteStore) DeleteByRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, runID)
	if err != nil {
		return &graph.CheckpointError{Message: "deleteByRun failed", Cause: err}
	}
	return nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE expires_at IS NOT NULL AND expires_at <= ?`, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, &graph.CheckpointError{Message: "deleteExpired failed", Cause: err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

var _ graph.CheckpointStore = (*SQLiteStore)(nil)
