// Package store defines the metadata store abstraction (C3): the
// collections of Users, Nodes, Jobs, Runs, Tasks, and the GlobalConfig
// document, each addressed by a small collection-specific interface so the
// coordinator depends on behavior, not on a particular database.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/leoscope/leoscope/internal/models"
)

// ErrNotFound is returned by Get-style methods when no record matches.
var ErrNotFound = errors.New("record not found")

// UserStore is the users collection.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByStaticTokenHash(ctx context.Context, hash string) (*models.User, error)
	Update(ctx context.Context, u *models.User) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.User, error)
}

// NodeStore is the nodes collection.
type NodeStore interface {
	Create(ctx context.Context, n *models.Node) error
	GetByID(ctx context.Context, id string) (*models.Node, error)
	Update(ctx context.Context, n *models.Node) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Node, error)
	UpdateHeartbeat(ctx context.Context, id string, at time.Time, publicIP string) error
	SetScavenger(ctx context.Context, id string, active bool) error
}

// JobStore is the jobs collection. AdmitOverheadJob wraps the coordinator's
// per-node admission critical section: it must load the currently admitted
// overhead jobs touching candidate's node(s), run the schedule package's
// Admit algorithm against them, and persist the candidate iff admitted, all
// while holding a lock scoped to candidate's node id(s) so concurrent
// candidates targeting disjoint nodes are not serialized against each
// other. Implementations satisfy this with a row-level lock (Postgres
// SELECT ... FOR UPDATE) keyed by node id.
type JobStore interface {
	Create(ctx context.Context, j *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	Update(ctx context.Context, j *models.Job) error
	Delete(ctx context.Context, id string) error
	GetByNodeID(ctx context.Context, nodeID string) ([]*models.Job, error)
	GetByUserID(ctx context.Context, userID string) ([]*models.Job, error)
	ListOverheadTouchingNode(ctx context.Context, nodeID string) ([]*models.Job, error)

	// AdmitOverheadJob runs decide against the set of overhead jobs
	// currently touching candidate's node(s) and, if decide returns
	// admitted, persists candidate as part of the same critical section.
	AdmitOverheadJob(ctx context.Context, candidate *models.Job, decide func(existing []*models.Job) (admitted bool, offendingJobID string, instant time.Time, err error)) (admitted bool, offendingJobID string, instant time.Time, err error)
}

// RunStore is the runs collection.
type RunStore interface {
	Create(ctx context.Context, r *models.Run) error
	GetByID(ctx context.Context, id string) (*models.Run, error)
	// UpdateStatus performs the compare-and-set transition described in
	// spec.md section 5: it succeeds only if the run's current stored
	// status can legally transition to next (see models.RunStatus.
	// CanTransition), enforcing the DAG's monotonicity invariant even
	// under concurrent writers.
	UpdateStatus(ctx context.Context, id string, next models.RunStatus, message, artifactURL string) error
	GetByJobID(ctx context.Context, jobID string) ([]*models.Run, error)
	GetScheduled(ctx context.Context, nodeID string) ([]*models.Run, error)
	ListRunningOverheadByNode(ctx context.Context, nodeID string) ([]*models.Run, error)
}

// TaskStore is the tasks collection.
type TaskStore interface {
	Create(ctx context.Context, t *models.Task) error
	GetByID(ctx context.Context, id string) (*models.Task, error)
	Update(ctx context.Context, t *models.Task) error
	GetByNodeID(ctx context.Context, nodeID string) ([]*models.Task, error)
}

// ConfigStore is the single GlobalConfig document.
type ConfigStore interface {
	Get(ctx context.Context) (*models.GlobalConfig, error)
	Update(ctx context.Context, cfg *models.GlobalConfig) error
}

// Store aggregates every collection the coordinator needs.
type Store interface {
	Users() UserStore
	Nodes() NodeStore
	Jobs() JobStore
	Runs() RunStore
	Tasks() TaskStore
	Config() ConfigStore

	// WithTx executes fn with a transaction-scoped Store. Not required by
	// every operation (most are single-collection writes); used where an
	// operation must combine two writes atomically, such as
	// register_node creating both a User and a Node record.
	WithTx(ctx context.Context, fn func(Store) error) error

	Close() error
}
