package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flowforge/graphcore/graph"
	"github.com/flowforge/graphcore/graph/serialize"

	_ "github.com/go-sql-driver/mysql"
)

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id          VARCHAR(128) PRIMARY KEY,
	run_id      VARCHAR(128) NOT NULL,
	graph_id    VARCHAR(128) NOT NULL,
	timestamp   VARCHAR(64) NOT NULL,
	expires_at  VARCHAR(64),
	payload     LONGTEXT NOT NULL,
	INDEX idx_checkpoints_run_id (run_id),
	INDEX idx_checkpoints_graph_id (graph_id)
) ENGINE=InnoDB;
`

// MySQLStore is a durable, multi-process CheckpointStore backed by MySQL,
// suitable for production deployments sharing checkpoints across runner
// instances.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against dsn (a go-sql-driver/mysql
// DSN, e.g. "user:pass@tcp(host:3306)/dbname?parseTime=true") and ensures
// the checkpoints table exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	if _, err := db.Exec(mysqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate mysql schema: %w", err)
	}

	return &MySQLStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) Save(ctx context.Context, cp graph.Checkpoint) (string, error) {
	payload, err := serialize.Encode(cp, false)
	if err != nil {
		return "", &graph.CheckpointError{Message: "encode failed", CheckpointID: cp.ID, Cause: err}
	}

	var expiresAt interface{}
	if cp.ExpiresAt != nil {
		expiresAt = cp.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, run_id, graph_id, timestamp, expires_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			run_id = VALUES(run_id),
			graph_id = VALUES(graph_id),
			timestamp = VALUES(timestamp),
			expires_at = VALUES(expires_at),
			payload = VALUES(payload)
	`, cp.ID, cp.RunID, cp.GraphID, cp.Timestamp.UTC().Format(time.RFC3339Nano), expiresAt, string(payload))
	if err != nil {
		return "", &graph.CheckpointError{Message: "save failed", CheckpointID: cp.ID, Cause: err}
	}
	return cp.ID, nil
}

func (s *MySQLStore) Load(ctx context.Context, id string) (graph.Checkpoint, error) {
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

func (s *MySQLStore) queryCheckpoints(ctx context.Context, query, key string) ([]graph.Checkpoint, error) {
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

func (s *MySQLStore) ListByRun(ctx context.Context, runID string) ([]graph.Checkpoint, error) {
	return s.queryCheckpoints(ctx, `SELECT payload FROM checkpoints WHERE run_id = ? ORDER BY timestamp DESC`, runID)
}

func (s *MySQLStore) ListByGraph(ctx context.Context, graphID string) ([]graph.Checkpoint, error) {
	return s.queryCheckpoints(ctx, `SELECT payload FROM checkpoints WHERE graph_id = ? ORDER BY timestamp DESC`, graphID)
}

func (s *MySQLStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id)
	if err != nil {
		return &graph.CheckpointError{Message: "delete failed", CheckpointID: id, Cause: err}
	}
	return nil
}

func (s *MySQLStore) DeleteByRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, runID)
	if err != nil {
		return &graph.CheckpointError{Message: "deleteByRun failed", Cause: err}
	}
	return nil
}

func (s *MySQLStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
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

var _ graph.CheckpointStore = (*MySQLStore)(nil)
