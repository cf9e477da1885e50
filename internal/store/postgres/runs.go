package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/leoscope/leoscope/internal/models"
	"github.com/leoscope/leoscope/internal/store"
)

// RunStore implements store.RunStore.
type RunStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *RunStore) q() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const runColumns = `id, job_id, node_id, owner_id, status, start_ts, end_ts,
	COALESCE(status_message, ''), COALESCE(artifact_url, '')`

func (s *RunStore) Create(ctx context.Context, r *models.Run) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO runs (id, job_id, node_id, owner_id, status, start_ts, end_ts, status_message, artifact_url)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.JobID, r.NodeID, r.OwnerID, string(r.Status), nullIfZeroTime(r.StartTS),
		nullIfZeroTime(r.EndTS), nullIfEmpty(r.StatusMessage), nullIfEmpty(r.ArtifactURL))
	if err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

func (s *RunStore) GetByID(ctx context.Context, id string) (*models.Run, error) {
	row := s.q().QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	return scanRun(row)
}

// UpdateStatus is a compare-and-set transition: it reads the run's current
// status, checks models.RunStatus.CanTransition, and only then writes next.
// The read-check-write is wrapped in a transaction with SELECT ... FOR
// UPDATE so two racing writers (e.g. the executor reporting UPLOADING while
// a watchdog reports FAILED) cannot both apply.
func (s *RunStore) UpdateStatus(ctx context.Context, id string, next models.RunStatus, message, artifactURL string) error {
	if s.tx != nil {
		return s.updateStatusTx(ctx, s.tx, id, next, message, artifactURL)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning status transition: %w", err)
	}
	defer tx.Rollback()

	if err := s.updateStatusTx(ctx, tx, id, next, message, artifactURL); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *RunStore) updateStatusTx(ctx context.Context, tx *sql.Tx, id string, next models.RunStatus, message, artifactURL string) error {
	var current string
	err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("locking run for status update: %w", err)
	}

	if !models.RunStatus(current).CanTransition(next) {
		return fmt.Errorf("run %s: illegal status transition %s -> %s", id, current, next)
	}

	var endTS any
	if next.IsTerminal() {
		endTS = nullIfZeroTime(time.Now().UTC())
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE runs SET status = $2, status_message = $3, artifact_url = $4, end_ts = COALESCE(end_ts, $5)
		WHERE id = $1`, id, string(next), nullIfEmpty(message), nullIfEmpty(artifactURL), endTS)
	if err != nil {
		return fmt.Errorf("updating run status: %w", err)
	}
	return nil
}

func (s *RunStore) GetByJobID(ctx context.Context, jobID string) ([]*models.Run, error) {
	rows, err := s.q().QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE job_id = $1 ORDER BY start_ts`, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing runs by job: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (s *RunStore) GetScheduled(ctx context.Context, nodeID string) ([]*models.Run, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs WHERE node_id = $1 AND status = $2 ORDER BY start_ts`,
		nodeID, string(models.RunScheduled))
	if err != nil {
		return nil, fmt.Errorf("listing scheduled runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (s *RunStore) ListRunningOverheadByNode(ctx context.Context, nodeID string) ([]*models.Run, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT r.id, r.job_id, r.node_id, r.owner_id, r.status, r.start_ts, r.end_ts,
		       COALESCE(r.status_message, ''), COALESCE(r.artifact_url, '')
		FROM runs r
		JOIN jobs j ON j.id = r.job_id
		WHERE r.node_id = $1 AND j.overhead = true
		  AND r.status IN ($2, $3, $4)`,
		nodeID, string(models.RunDeploying), string(models.RunRunning), string(models.RunUploading))
	if err != nil {
		return nil, fmt.Errorf("listing running overhead runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]*models.Run, error) {
	var out []*models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (*models.Run, error) {
	var r models.Run
	var status string
	var startTS, endTS sql.NullTime
	if err := row.Scan(&r.ID, &r.JobID, &r.NodeID, &r.OwnerID, &status, &startTS, &endTS,
		&r.StatusMessage, &r.ArtifactURL); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	r.Status = models.RunStatus(status)
	if startTS.Valid {
		r.StartTS = startTS.Time
	}
	if endTS.Valid {
		r.EndTS = endTS.Time
	}
	return &r, nil
}
