package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/leoscope/leoscope/internal/models"
	"github.com/lib/pq"
)

// JobStore implements store.JobStore.
type JobStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *JobStore) q() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const jobColumns = `id, node_id, owner_id, kind, COALESCE(cron_expr, ''), one_shot_at,
	validity_start, validity_end, length_secs, overhead, COALESCE(paired_server_node_id, ''),
	COALESCE(trigger_expr, ''), COALESCE(config, ''), mode, COALESCE(deploy_image, ''), execute_image,
	COALESCE(finish_image, ''), created_at`

func (s *JobStore) Create(ctx context.Context, j *models.Job) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO jobs (id, node_id, owner_id, kind, cron_expr, one_shot_at, validity_start,
			validity_end, length_secs, overhead, paired_server_node_id, trigger_expr, config,
			mode, deploy_image, execute_image, finish_image, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		j.ID, j.NodeID, j.OwnerID, string(j.Kind), nullIfEmpty(j.CronExpr), nullIfZeroTime(j.OneShotAt),
		j.Validity.Start, j.Validity.End, j.LengthSecs, j.Overhead, nullIfEmpty(j.PairedServerNodeID),
		nullIfEmpty(j.Trigger), nullIfEmpty(j.Config), j.Params.Mode, nullIfEmpty(j.Params.Deploy),
		j.Params.Execute, nullIfEmpty(j.Params.Finish), j.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("creating job: %w", ErrDuplicateKey)
		}
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

func (s *JobStore) GetByID(ctx context.Context, id string) (*models.Job, error) {
	row := s.q().QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *JobStore) Update(ctx context.Context, j *models.Job) error {
	_, err := s.q().ExecContext(ctx, `
		UPDATE jobs SET cron_expr = $2, one_shot_at = $3, validity_start = $4, validity_end = $5,
			length_secs = $6, trigger_expr = $7, config = $8, mode = $9, deploy_image = $10,
			execute_image = $11, finish_image = $12
		WHERE id = $1`,
		j.ID, nullIfEmpty(j.CronExpr), nullIfZeroTime(j.OneShotAt), j.Validity.Start, j.Validity.End,
		j.LengthSecs, nullIfEmpty(j.Trigger), nullIfEmpty(j.Config), j.Params.Mode,
		nullIfEmpty(j.Params.Deploy), j.Params.Execute, nullIfEmpty(j.Params.Finish))
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	return nil
}

func (s *JobStore) Delete(ctx context.Context, id string) error {
	res, err := s.q().ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	return checkRowsAffected(res)
}

// GetByNodeID returns jobs where node_id == nodeID OR paired_server_node_id
// == nodeID, per get_jobs_by_nodeid in spec.md section 4.3.
func (s *JobStore) GetByNodeID(ctx context.Context, nodeID string) ([]*models.Job, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE node_id = $1 OR paired_server_node_id = $1`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("listing jobs by node: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *JobStore) GetByUserID(ctx context.Context, userID string) ([]*models.Job, error) {
	rows, err := s.q().QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE owner_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing jobs by user: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *JobStore) ListOverheadTouchingNode(ctx context.Context, nodeID string) ([]*models.Job, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE overhead = true AND (node_id = $1 OR paired_server_node_id = $1)`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("listing overhead jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// AdmitOverheadJob implements the per-node admission critical section
// named in spec.md sections 4.1 and 5: it locks the candidate's target
// node row(s) with SELECT ... FOR UPDATE so two candidates for the same
// node serialize, while candidates for disjoint nodes proceed concurrently
// (a plain sync.Mutex would serialize all nodes; the row lock scopes the
// serialization to exactly the nodes involved).
func (s *JobStore) AdmitOverheadJob(ctx context.Context, candidate *models.Job, decide func(existing []*models.Job) (bool, string, time.Time, error)) (bool, string, time.Time, error) {
	if s.db == nil {
		return false, "", time.Time{}, fmt.Errorf("AdmitOverheadJob requires a top-level store, not a transaction-scoped one")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, "", time.Time{}, fmt.Errorf("beginning admission transaction: %w", err)
	}
	defer tx.Rollback()

	nodeIDs := []string{candidate.NodeID}
	if candidate.PairedServerNodeID != "" {
		nodeIDs = append(nodeIDs, candidate.PairedServerNodeID)
	}
	if _, err := tx.ExecContext(ctx, `
		SELECT id FROM nodes WHERE id = ANY($1) ORDER BY id FOR UPDATE`, pq.Array(nodeIDs)); err != nil {
		return false, "", time.Time{}, fmt.Errorf("locking node rows for admission: %w", err)
	}

	var existing []*models.Job
	for _, nodeID := range nodeIDs {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE overhead = true AND (node_id = $1 OR paired_server_node_id = $1)`, nodeID)
		if err != nil {
			return false, "", time.Time{}, fmt.Errorf("loading existing overhead jobs: %w", err)
		}
		jobs, err := scanJobs(rows)
		rows.Close()
		if err != nil {
			return false, "", time.Time{}, err
		}
		existing = append(existing, jobs...)
	}

	admitted, offendingJobID, instant, err := decide(existing)
	if err != nil {
		return false, "", time.Time{}, err
	}
	if !admitted {
		return false, offendingJobID, instant, nil
	}

	txJobs := &JobStore{tx: tx}
	if err := txJobs.Create(ctx, candidate); err != nil {
		return false, "", time.Time{}, err
	}
	if err := tx.Commit(); err != nil {
		return false, "", time.Time{}, fmt.Errorf("committing admission: %w", err)
	}
	return true, "", time.Time{}, nil
}

func scanJobs(rows *sql.Rows) ([]*models.Job, error) {
	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	var kind string
	var oneShotAt sql.NullTime
	if err := row.Scan(&j.ID, &j.NodeID, &j.OwnerID, &kind, &j.CronExpr, &oneShotAt,
		&j.Validity.Start, &j.Validity.End, &j.LengthSecs, &j.Overhead, &j.PairedServerNodeID,
		&j.Trigger, &j.Config, &j.Params.Mode, &j.Params.Deploy, &j.Params.Execute, &j.Params.Finish,
		&j.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning job: %w", err)
	}
	j.Kind = models.JobKind(kind)
	if oneShotAt.Valid {
		j.OneShotAt = oneShotAt.Time
	}
	return &j, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
