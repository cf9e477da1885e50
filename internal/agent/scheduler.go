package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leoscope/leoscope/internal/models"
	"github.com/leoscope/leoscope/internal/rpc"
	"github.com/leoscope/leoscope/internal/schedule"
	"github.com/leoscope/leoscope/internal/trigger"
)

// Executor is the per-run lifecycle driver (C7). Launch must return
// promptly — it hands the firing off to its own goroutine rather than
// blocking the scheduler loop.
type Executor interface {
	Launch(ctx context.Context, job rpc.JobRecord, instant time.Time, snapshot *trigger.Snapshot)
	// StopOverhead stops every running container this node owns that
	// carries the leotest=true, overhead=true labels, reports each
	// interrupted run ABORTED, and returns the job ids whose firing was
	// cut short so the caller can reschedule the still-admissible ones.
	StopOverhead(ctx context.Context) ([]string, error)
}

// SnapshotSource supplies the live environmental snapshot (C8) trigger
// evaluation reads against.
type SnapshotSource interface {
	Snapshot() *trigger.Snapshot
}

// Config configures the node scheduler loop.
type Config struct {
	NodeID          string
	PollInterval    time.Duration
	HeartbeatPeriod time.Duration
}

// DefaultConfig returns the poll/heartbeat cadence named in
// SPEC_FULL.md's ambient defaults.
func DefaultConfig(nodeID string) Config {
	return Config{NodeID: nodeID, PollInterval: 10 * time.Second, HeartbeatPeriod: 30 * time.Second}
}

// dispatchEntry is a job's local materialisation: an armed timer for its
// next firing, keyed by schedule and by that firing's own instant so an
// unchanged CRON/ATQ definition keeps its existing timer across polls
// instead of restarting it, while a firing that has already gone off gets
// re-armed for whatever NextFiring returns next instead of being treated
// as still current.
type dispatchEntry struct {
	scheduleKey string
	firesAt     time.Time
	timer       *time.Timer
}

// Scheduler implements the node scheduler loop of spec.md section 4.6:
// pull admitted jobs, materialise them into local timers, react to
// scavenger mode, and heartbeat — all from a single node process.
type Scheduler struct {
	cfg       Config
	client    Client
	executor  Executor
	snapshots SnapshotSource
	logger    *slog.Logger

	mu       sync.Mutex
	dispatch map[string]*dispatchEntry
}

// NewScheduler constructs a Scheduler bound to a running coordinator
// connection and executor.
func NewScheduler(cfg Config, client Client, executor Executor, snapshots SnapshotSource, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:       cfg,
		client:    client,
		executor:  executor,
		snapshots: snapshots,
		logger:    logger,
		dispatch:  make(map[string]*dispatchEntry),
	}
}

// Run blocks, polling and heartbeating until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	pollTicker := time.NewTicker(s.cfg.PollInterval)
	defer pollTicker.Stop()
	heartbeatTicker := time.NewTicker(s.cfg.HeartbeatPeriod)
	defer heartbeatTicker.Stop()

	if err := s.tick(ctx); err != nil {
		s.logger.Error("initial scheduler tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return ctx.Err()
		case <-pollTicker.C:
			if err := s.tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		case <-heartbeatTicker.C:
			if err := s.client.ReportHeartbeat(ctx, s.cfg.NodeID, ""); err != nil {
				s.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// tick performs one iteration of the loop: steps 1-3 (pull, materialise,
// prune) always complete before step 4 (scavenger reaction) begins, per
// the ordering guarantee in spec.md section 4.6 — a newly admitted
// scavenger-marked job must not race its own launch within the same
// iteration.
func (s *Scheduler) tick(ctx context.Context) error {
	jobs, err := s.client.GetJobsByNodeID(ctx, s.cfg.NodeID)
	if err != nil {
		return fmt.Errorf("polling jobs: %w", err)
	}

	seen := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		seen[job.ID] = true
		s.materialize(ctx, job)
	}
	s.prune(seen)

	active, err := s.client.GetScavenger(ctx, s.cfg.NodeID)
	if err != nil {
		s.logger.Warn("get_scavenger failed", "error", err)
		return nil
	}
	if !active {
		return nil
	}

	affected, err := s.executor.StopOverhead(ctx)
	if err != nil {
		s.logger.Warn("scavenger sweep failed", "error", err)
	}
	for _, jobID := range affected {
		s.rescheduleAfterAbort(ctx, jobID)
	}
	return nil
}

// materialize arms or re-arms a local timer for job's next firing. A
// firing already due fires synchronously here rather than through
// time.AfterFunc, so it is fully handed off to the executor before this
// tick moves on to the scavenger step.
func (s *Scheduler) materialize(ctx context.Context, job rpc.JobRecord) {
	m := jobToModel(job)
	next, ok := schedule.NextFiring(m, time.Now().UTC())
	if !ok {
		s.mu.Lock()
		if entry, exists := s.dispatch[job.ID]; exists {
			entry.timer.Stop()
			delete(s.dispatch, job.ID)
		}
		s.mu.Unlock()

		if job.Kind == string(models.JobKindAtq) {
			s.maybeRescheduleMissedAtq(ctx, job)
		}
		return
	}

	key := scheduleKey(job)

	s.mu.Lock()
	if entry, exists := s.dispatch[job.ID]; exists {
		// Same schedule, same firing instant already armed: nothing to
		// do. A CRON job's firing instant advances every time its
		// timer goes off, so once `next` moves past what's currently
		// armed this falls through and re-arms for the new instant —
		// that's what makes a CRON job keep firing on every occurrence
		// instead of just its first.
		if entry.scheduleKey == key && entry.firesAt.Equal(next) {
			s.mu.Unlock()
			return
		}
		entry.timer.Stop()
		delete(s.dispatch, job.ID)
	}
	s.mu.Unlock()

	delay := time.Until(next)
	if delay <= 0 {
		s.executor.Launch(ctx, job, next, s.snapshots.Snapshot())
		return
	}

	entry := &dispatchEntry{scheduleKey: key, firesAt: next}
	entry.timer = time.AfterFunc(delay, func() {
		s.executor.Launch(context.Background(), job, next, s.snapshots.Snapshot())
	})

	s.mu.Lock()
	s.dispatch[job.ID] = entry
	s.mu.Unlock()
}

// maybeRescheduleMissedAtq handles an ATQ job whose one_shot_at has
// already passed (or whose occupancy no longer fits its validity window):
// spec.md section 4.6 step 2 only reschedules a missed firing when no run
// exists yet for the job and its validity deadline hasn't closed, so a
// one-shot job that already executed is never resurrected by a later
// poll.
func (s *Scheduler) maybeRescheduleMissedAtq(ctx context.Context, job rpc.JobRecord) {
	if !job.ValidityEnd.IsZero() && time.Now().UTC().After(job.ValidityEnd) {
		return
	}

	runs, err := s.client.GetRunsByJobID(ctx, job.ID)
	if err != nil {
		s.logger.Warn("get_runs failed while checking a missed ATQ firing", "job_id", job.ID, "error", err)
		return
	}
	if len(runs) > 0 {
		return
	}

	s.rescheduleAfterAbort(ctx, job.ID)
}

// prune stops and drops dispatcher entries for jobs no longer admitted to
// this node.
func (s *Scheduler) prune(seen map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for jobID, entry := range s.dispatch {
		if !seen[jobID] {
			entry.timer.Stop()
			delete(s.dispatch, jobID)
		}
	}
}

func (s *Scheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.dispatch {
		entry.timer.Stop()
	}
}

func (s *Scheduler) rescheduleAfterAbort(ctx context.Context, jobID string) {
	if _, err := s.client.RescheduleJobNearest(ctx, jobID, time.Now().UTC()); err != nil {
		s.logger.Warn("reschedule_job_nearest failed", "job_id", jobID, "error", err)
	}
}

func scheduleKey(job rpc.JobRecord) string {
	if job.Kind == string(models.JobKindCron) {
		return job.CronExpr
	}
	return job.OneShotAt.String()
}

func jobToModel(r rpc.JobRecord) *models.Job {
	return &models.Job{
		ID:                 r.ID,
		NodeID:             r.NodeID,
		OwnerID:            r.OwnerID,
		Kind:               models.JobKind(r.Kind),
		CronExpr:           r.CronExpr,
		OneShotAt:          r.OneShotAt,
		Validity:           models.Validity{Start: r.ValidityStart, End: r.ValidityEnd},
		LengthSecs:         r.LengthSecs,
		Overhead:           r.Overhead,
		PairedServerNodeID: r.PairedServerNodeID,
		Trigger:            r.Trigger,
		Config:             r.Config,
		Params:             models.JobParams{Mode: r.Mode, Deploy: r.Deploy, Execute: r.Execute, Finish: r.Finish},
	}
}
