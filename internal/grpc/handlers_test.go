package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/leoscope/leoscope/internal/models"
	"github.com/leoscope/leoscope/internal/rpc"
	"github.com/leoscope/leoscope/internal/store"
)

// fakeJobStore is a minimal in-memory store.JobStore for exercising the
// admission checks in ScheduleJob without a real database.
type fakeJobStore struct {
	byID map[string]*models.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{byID: make(map[string]*models.Job)}
}

func (f *fakeJobStore) Create(ctx context.Context, j *models.Job) error {
	if _, exists := f.byID[j.ID]; exists {
		return store.ErrNotFound
	}
	f.byID[j.ID] = j
	return nil
}

func (f *fakeJobStore) GetByID(ctx context.Context, id string) (*models.Job, error) {
	j, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	return j, nil
}

func (f *fakeJobStore) Update(ctx context.Context, j *models.Job) error {
	f.byID[j.ID] = j
	return nil
}

func (f *fakeJobStore) Delete(ctx context.Context, id string) error {
	delete(f.byID, id)
	return nil
}

func (f *fakeJobStore) GetByNodeID(ctx context.Context, nodeID string) ([]*models.Job, error) {
	return nil, nil
}

func (f *fakeJobStore) GetByUserID(ctx context.Context, userID string) ([]*models.Job, error) {
	return nil, nil
}

func (f *fakeJobStore) ListOverheadTouchingNode(ctx context.Context, nodeID string) ([]*models.Job, error) {
	var out []*models.Job
	for _, j := range f.byID {
		if j.Overhead && (j.NodeID == nodeID || j.PairedServerNodeID == nodeID) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeJobStore) AdmitOverheadJob(ctx context.Context, candidate *models.Job, decide func([]*models.Job) (bool, string, time.Time, error)) (bool, string, time.Time, error) {
	existing, _ := f.ListOverheadTouchingNode(ctx, candidate.NodeID)
	admitted, offendingID, instant, err := decide(existing)
	if err != nil || !admitted {
		return admitted, offendingID, instant, err
	}
	f.byID[candidate.ID] = candidate
	return true, "", instant, nil
}

// fakeTaskStore is a minimal in-memory store.TaskStore.
type fakeTaskStore struct {
	byID map[string]*models.Task
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{byID: make(map[string]*models.Task)}
}

func (f *fakeTaskStore) Create(ctx context.Context, t *models.Task) error {
	if _, exists := f.byID[t.ID]; exists {
		return store.ErrNotFound
	}
	f.byID[t.ID] = t
	return nil
}

func (f *fakeTaskStore) GetByID(ctx context.Context, id string) (*models.Task, error) {
	t, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	return t, nil
}

func (f *fakeTaskStore) Update(ctx context.Context, t *models.Task) error {
	f.byID[t.ID] = t
	return nil
}

func (f *fakeTaskStore) GetByNodeID(ctx context.Context, nodeID string) ([]*models.Task, error) {
	return nil, nil
}

// fakeStore implements store.Store with only Jobs()/Tasks() backed by real
// fakes; the other collections are unused by the handlers under test here.
type fakeStore struct {
	jobs  *fakeJobStore
	tasks *fakeTaskStore
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: newFakeJobStore(), tasks: newFakeTaskStore()}
}

func (f *fakeStore) Users() store.UserStore   { return nil }
func (f *fakeStore) Nodes() store.NodeStore   { return nil }
func (f *fakeStore) Jobs() store.JobStore     { return f.jobs }
func (f *fakeStore) Runs() store.RunStore     { return nil }
func (f *fakeStore) Tasks() store.TaskStore   { return f.tasks }
func (f *fakeStore) Config() store.ConfigStore { return nil }
func (f *fakeStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(f)
}
func (f *fakeStore) Close() error { return nil }

func newTestServer() (*Server, *fakeStore) {
	st := newFakeStore()
	s, _ := NewServer(DefaultConfig(), st, nil, nil, nil)
	return s, st
}

func validJobRecord() rpc.JobRecord {
	return rpc.JobRecord{
		NodeID:        "node-1",
		Kind:          string(models.JobKindAtq),
		OneShotAt:     time.Now().Add(time.Hour),
		ValidityStart: time.Now(),
		ValidityEnd:   time.Now().Add(24 * time.Hour),
		LengthSecs:    60,
		Execute:       "image:latest",
	}
}

func TestScheduleJobRejectsPastOneShotAt(t *testing.T) {
	s, _ := newTestServer()

	job := validJobRecord()
	job.OneShotAt = time.Now().Add(-time.Hour)

	resp, err := s.ScheduleJob(context.Background(), &rpc.ScheduleJobRequest{Job: job})
	if err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	if resp.Status.Code != rpc.CodeInvalid {
		t.Fatalf("expected CodeInvalid for a past one_shot_at, got %q", resp.Status.Code)
	}
}

func TestScheduleJobAcceptsFutureOneShotAt(t *testing.T) {
	s, _ := newTestServer()

	resp, err := s.ScheduleJob(context.Background(), &rpc.ScheduleJobRequest{Job: validJobRecord()})
	if err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	if !resp.Status.OK() {
		t.Fatalf("expected OK, got %+v", resp.Status)
	}
}

func TestScheduleJobRejectsZeroLengthSecs(t *testing.T) {
	s, _ := newTestServer()

	job := validJobRecord()
	job.LengthSecs = 0

	resp, err := s.ScheduleJob(context.Background(), &rpc.ScheduleJobRequest{Job: job})
	if err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	if resp.Status.Code != rpc.CodeInvalid {
		t.Fatalf("expected CodeInvalid for length_secs=0, got %q", resp.Status.Code)
	}
}

func TestScheduleJobRejectsNegativeLengthSecs(t *testing.T) {
	s, _ := newTestServer()

	job := validJobRecord()
	job.LengthSecs = -5

	resp, err := s.ScheduleJob(context.Background(), &rpc.ScheduleJobRequest{Job: job})
	if err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	if resp.Status.Code != rpc.CodeInvalid {
		t.Fatalf("expected CodeInvalid for negative length_secs, got %q", resp.Status.Code)
	}
}

func TestScheduleJobSameIDIdenticalPayloadIsNoop(t *testing.T) {
	s, st := newTestServer()

	job := validJobRecord()
	job.ID = "job-fixed"

	first, err := s.ScheduleJob(context.Background(), &rpc.ScheduleJobRequest{Job: job})
	if err != nil {
		t.Fatalf("ScheduleJob (first): %v", err)
	}
	if !first.Status.OK() {
		t.Fatalf("expected first schedule_job to succeed, got %+v", first.Status)
	}

	second, err := s.ScheduleJob(context.Background(), &rpc.ScheduleJobRequest{Job: job})
	if err != nil {
		t.Fatalf("ScheduleJob (retry): %v", err)
	}
	if !second.Status.OK() {
		t.Fatalf("expected retried schedule_job with identical payload to be a no-op OK, got %+v", second.Status)
	}
	if second.JobID != first.JobID {
		t.Fatalf("expected same job_id on retry, got %q vs %q", second.JobID, first.JobID)
	}
	if len(st.jobs.byID) != 1 {
		t.Fatalf("expected exactly one stored job after retry, got %d", len(st.jobs.byID))
	}
}

func TestScheduleJobSameIDConflictingPayloadIsInvalid(t *testing.T) {
	s, _ := newTestServer()

	job := validJobRecord()
	job.ID = "job-fixed"

	if _, err := s.ScheduleJob(context.Background(), &rpc.ScheduleJobRequest{Job: job}); err != nil {
		t.Fatalf("ScheduleJob (first): %v", err)
	}

	conflicting := job
	conflicting.LengthSecs = job.LengthSecs + 1

	resp, err := s.ScheduleJob(context.Background(), &rpc.ScheduleJobRequest{Job: conflicting})
	if err != nil {
		t.Fatalf("ScheduleJob (conflicting): %v", err)
	}
	if resp.Status.Code != rpc.CodeInvalid {
		t.Fatalf("expected CodeInvalid for conflicting payload on existing job_id, got %q", resp.Status.Code)
	}
}

func TestScheduleTaskSameIDIdenticalPayloadIsNoop(t *testing.T) {
	s, st := newTestServer()
	ctx := context.WithValue(context.WithValue(context.Background(), callerIDKey, "node-1"), callerRoleKey, string(models.RoleNode))

	task := rpc.TaskRecord{ID: "task-fixed", RunID: "run-1", JobID: "job-1", NodeID: "node-2", Kind: "SERVER_SETUP", TTLSecs: 120}

	first, err := s.ScheduleTask(ctx, &rpc.ScheduleTaskRequest{Task: task})
	if err != nil {
		t.Fatalf("ScheduleTask (first): %v", err)
	}
	if !first.Status.OK() {
		t.Fatalf("expected first schedule_task to succeed, got %+v", first.Status)
	}

	second, err := s.ScheduleTask(ctx, &rpc.ScheduleTaskRequest{Task: task})
	if err != nil {
		t.Fatalf("ScheduleTask (retry): %v", err)
	}
	if !second.Status.OK() {
		t.Fatalf("expected retried schedule_task with identical payload to be a no-op OK, got %+v", second.Status)
	}
	if len(st.tasks.byID) != 1 {
		t.Fatalf("expected exactly one stored task after retry, got %d", len(st.tasks.byID))
	}
}
