package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/leoscope/leoscope/internal/models"
)

// TaskStore implements store.TaskStore. Tasks are short-lived rendezvous
// records (spec.md section 4.5) used to coordinate a server-side setup step
// between a client run and its paired server node before the client's
// execute phase starts.
type TaskStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *TaskStore) q() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const taskColumns = `id, run_id, job_id, node_id, kind, status, ttl_secs, created_at`

func (s *TaskStore) Create(ctx context.Context, t *models.Task) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO tasks (id, run_id, job_id, node_id, kind, status, ttl_secs, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.RunID, t.JobID, t.NodeID, string(t.Kind), string(t.Status), t.TTLSecs, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

func (s *TaskStore) GetByID(ctx context.Context, id string) (*models.Task, error) {
	row := s.q().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

func (s *TaskStore) Update(ctx context.Context, t *models.Task) error {
	res, err := s.q().ExecContext(ctx, `UPDATE tasks SET status = $2 WHERE id = $1`, t.ID, string(t.Status))
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *TaskStore) GetByNodeID(ctx context.Context, nodeID string) ([]*models.Task, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE node_id = $1 AND status = $2 ORDER BY created_at`,
		nodeID, string(models.TaskPending))
	if err != nil {
		return nil, fmt.Errorf("listing tasks by node: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var kind, status string
	if err := row.Scan(&t.ID, &t.RunID, &t.JobID, &t.NodeID, &kind, &status, &t.TTLSecs, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	t.Kind = models.TaskKind(kind)
	t.Status = models.TaskStatus(status)
	return &t, nil
}
