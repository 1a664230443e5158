// sql.go holds the shared SQL implementation behind SQLiteStore and
// MySQLStore. Both backends use the same schema and the same `?`
// placeholder style (modernc.org/sqlite and go-sql-driver/mysql both accept
// it), so only the schema DDL column types, the upsert syntax and
// DSN-opening differ between the two backends, against this module's own
// runs/tasks/worlds/checkpoints/
// artifacts/machines schema.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/worldforge/orchestrator/internal/domain"
)

func fromUnixNano(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}

// sqlStore implements Store over any database/sql driver whose dialect
// accepts `?` placeholders and the DDL in schemaFor.
type sqlStore struct {
	db      *sql.DB
	mu      sync.Mutex
	dialect string
}

// upsertTask/upsertRun differ between SQLite's "ON CONFLICT ... DO UPDATE"
// and MySQL's "ON DUPLICATE KEY UPDATE" — the two drivers share every other
// query in this file, but upsert syntax is the one place they diverge.
func (s *sqlStore) upsertTaskSQL() string {
	if s.dialect == "mysql" {
		return `INSERT INTO tasks (issue_id, state, payload) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE state = VALUES(state), payload = VALUES(payload)`
	}
	return `INSERT INTO tasks (issue_id, state, payload) VALUES (?, ?, ?)
		 ON CONFLICT(issue_id) DO UPDATE SET state = excluded.state, payload = excluded.payload`
}

func (s *sqlStore) upsertRunSQL() string {
	if s.dialect == "mysql" {
		return `INSERT INTO runs (id, status, payload) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE status = VALUES(status), payload = VALUES(payload)`
	}
	return `INSERT INTO runs (id, status, payload) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, payload = excluded.payload`
}

func schemaFor(dialect string) []string {
	text := "TEXT"
	blob := "BLOB"
	if dialect == "mysql" {
		text = "VARCHAR(191)"
		blob = "LONGBLOB"
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tasks (
			issue_id %s PRIMARY KEY,
			state INTEGER NOT NULL,
			payload %s NOT NULL
		)`, text, blob),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS runs (
			id %s PRIMARY KEY,
			status INTEGER NOT NULL,
			payload %s NOT NULL
		)`, text, blob),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS checkpoints (
			id %s PRIMARY KEY,
			run_id %s NOT NULL,
			type_tag %s NOT NULL,
			world_id INTEGER NULL,
			payload %s NOT NULL,
			created_at BIGINT NOT NULL
		)`, text, text, text, blob),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS artifacts (
			run_id %s NOT NULL,
			world_id INTEGER NOT NULL,
			path %s NOT NULL,
			size BIGINT NOT NULL
		)`, text, text),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS machines (
			hostname %s PRIMARY KEY,
			address %s NOT NULL,
			capacity INTEGER NOT NULL,
			running INTEGER NOT NULL,
			status INTEGER NOT NULL
		)`, text, text),
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON checkpoints(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_run_id ON artifacts(run_id)`,
	}
}

// migrate applies the schema, in order, before any component opens the
// store — the "versioned migrations applied at startup" discipline §4.10
// requires. The DDL itself is idempotent (IF NOT EXISTS) so repeated opens
// of the same database are safe.
func migrate(db *sql.DB, dialect string) error {
	for _, stmt := range schemaFor(dialect) {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %s: %w", stmt, err)
		}
	}
	return nil
}

func (s *sqlStore) SaveTask(ctx context.Context, task domain.QueuedTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("%w: marshal task: %v", domain.ErrPersistenceFailed, err)
	}
	_, err = s.db.ExecContext(ctx, s.upsertTaskSQL(), string(task.Issue.ID), int(task.State), payload)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	return nil
}

func (s *sqlStore) DeleteTask(ctx context.Context, issueID domain.IssueID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE issue_id = ?`, string(issueID))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	return nil
}

func (s *sqlStore) LoadTasks(ctx context.Context) ([]domain.QueuedTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM tasks`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	defer rows.Close()

	var out []domain.QueuedTask
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
		}
		var task domain.QueuedTask
		if err := json.Unmarshal(payload, &task); err != nil {
			return nil, fmt.Errorf("%w: unmarshal task: %v", domain.ErrPersistenceFailed, err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveCheckpoint(ctx context.Context, ckpt domain.Checkpoint) error {
	var worldID *int
	if ckpt.WorldID != nil {
		v := int(*ckpt.WorldID)
		worldID = &v
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, run_id, type_tag, world_id, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ckpt.ID, ckpt.RunID, string(ckpt.Type), worldID, ckpt.Payload, ckpt.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	return nil
}

func (s *sqlStore) LoadCheckpoints(ctx context.Context, runID string) ([]domain.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, type_tag, world_id, payload, created_at FROM checkpoints WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	defer rows.Close()

	var out []domain.Checkpoint
	for rows.Next() {
		var ckpt domain.Checkpoint
		var worldID sql.NullInt64
		var createdAtNanos int64
		if err := rows.Scan(&ckpt.ID, &ckpt.RunID, &ckpt.Type, &worldID, &ckpt.Payload, &createdAtNanos); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
		}
		if worldID.Valid {
			w := domain.WorldID(worldID.Int64)
			ckpt.WorldID = &w
		}
		ckpt.CreatedAt = fromUnixNano(createdAtNanos)
		out = append(out, ckpt)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteCheckpoints(ctx context.Context, runID string, keepIDs map[string]struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	rows, err := tx.QueryContext(ctx, `SELECT id FROM checkpoints WHERE run_id = ?`, runID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	var toDelete []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			_ = tx.Rollback()
			return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
		}
		if _, keep := keepIDs[id]; !keep {
			toDelete = append(toDelete, id)
		}
	}
	rows.Close()

	for _, id := range toDelete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	return nil
}

func (s *sqlStore) SaveRun(ctx context.Context, run domain.Run) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("%w: marshal run: %v", domain.ErrPersistenceFailed, err)
	}
	_, err = s.db.ExecContext(ctx, s.upsertRunSQL(), run.ID, int(run.Status), payload)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	return nil
}

func (s *sqlStore) LoadRun(ctx context.Context, runID string) (domain.Run, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, runID).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.Run{}, ErrNotFound
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	var run domain.Run
	if err := json.Unmarshal(payload, &run); err != nil {
		return domain.Run{}, fmt.Errorf("%w: unmarshal run: %v", domain.ErrPersistenceFailed, err)
	}
	return run, nil
}

func (s *sqlStore) LoadRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `SELECT payload FROM runs`
	var args []any
	if filter.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, int(*filter.Status))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	defer rows.Close()

	var out []domain.Run
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
		}
		var run domain.Run
		if err := json.Unmarshal(payload, &run); err != nil {
			return nil, fmt.Errorf("%w: unmarshal run: %v", domain.ErrPersistenceFailed, err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveArtifacts(ctx context.Context, artifacts []domain.Artifact) error {
	for _, a := range artifacts {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO artifacts (run_id, world_id, path, size) VALUES (?, ?, ?, ?)`,
			a.RunID, int(a.WorldID), a.Path, a.Size)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
		}
	}
	return nil
}

func (s *sqlStore) LoadArtifacts(ctx context.Context, runID string) ([]domain.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, world_id, path, size FROM artifacts WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	defer rows.Close()

	var out []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var worldID int
		if err := rows.Scan(&a.RunID, &worldID, &a.Path, &a.Size); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
		}
		a.WorldID = domain.WorldID(worldID)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveMachineSnapshot(ctx context.Context, machines []domain.Machine) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM machines`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	for _, m := range machines {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO machines (hostname, address, capacity, running, status) VALUES (?, ?, ?, ?, ?)`,
			m.Hostname, m.Address, m.Capacity, m.Running, int(m.Status)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	return nil
}

func (s *sqlStore) LoadMachineSnapshot(ctx context.Context) ([]domain.Machine, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT hostname, address, capacity, running, status FROM machines`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	defer rows.Close()

	var out []domain.Machine
	for rows.Next() {
		var m domain.Machine
		var status int
		if err := rows.Scan(&m.Hostname, &m.Address, &m.Capacity, &m.Running, &status); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
		}
		m.Status = domain.MachineStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
