package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/leoscope/leoscope/internal/auth"
	"github.com/leoscope/leoscope/internal/models"
	"github.com/leoscope/leoscope/internal/rpc"
	"github.com/leoscope/leoscope/internal/schedule"
	"github.com/leoscope/leoscope/internal/store"
)

func errStatus(code rpc.ErrorCode, format string, args ...any) rpc.Status {
	return rpc.Status{Code: code, Message: fmt.Sprintf(format, args...)}
}

func okStatus() rpc.Status { return rpc.Status{Code: rpc.CodeOK} }

// requireNodeRole enforces the "NODE" caller-role floor named in spec.md
// section 6 for schedule_task/get_tasks/update_task/kernel_access. This is
// not a rank-based "at least" check like auth.CheckRolePermission's table
// (Node and User both rank 0): a User account, however privileged, must
// not be able to impersonate the node-agent-only surface.
func requireNodeRole(role models.Role) error {
	if role != models.RoleNode && role != models.RoleNodePriv {
		return auth.ErrPermissionDenied
	}
	return nil
}

// --- users ---

func (s *Server) RegisterUser(ctx context.Context, req *rpc.RegisterUserRequest) (*rpc.RegisterUserResponse, error) {
	role := models.Role(req.User.Role)
	if !role.IsValid() {
		return &rpc.RegisterUserResponse{Status: errStatus(rpc.CodeInvalid, "invalid role %q", req.User.Role)}, nil
	}

	token, err := auth.GenerateStaticToken()
	if err != nil {
		return nil, status.Error(codes.Internal, "generating token")
	}

	user := &models.User{
		ID:          uuid.NewString(),
		Name:        req.User.Name,
		Role:        role,
		Team:        req.User.Team,
		StaticToken: auth.HashStaticToken(token),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return &rpc.RegisterUserResponse{Status: errStatus(rpc.CodeInvalid, "%v", err)}, nil
	}

	return &rpc.RegisterUserResponse{Status: okStatus(), UserID: user.ID, Token: token}, nil
}

func (s *Server) ModifyUser(ctx context.Context, req *rpc.ModifyUserRequest) (*rpc.ModifyUserResponse, error) {
	user, err := s.store.Users().GetByID(ctx, req.UserID)
	if err != nil || user == nil {
		return &rpc.ModifyUserResponse{Status: errStatus(rpc.CodeNotFound, "user not found")}, nil
	}
	if req.User.Name != "" {
		user.Name = req.User.Name
	}
	if req.User.Role != "" {
		role := models.Role(req.User.Role)
		if !role.IsValid() {
			return &rpc.ModifyUserResponse{Status: errStatus(rpc.CodeInvalid, "invalid role %q", req.User.Role)}, nil
		}
		user.Role = role
	}
	if req.User.Team != "" {
		user.Team = req.User.Team
	}
	if err := s.store.Users().Update(ctx, user); err != nil {
		return &rpc.ModifyUserResponse{Status: mapStoreErr(err)}, nil
	}
	return &rpc.ModifyUserResponse{Status: okStatus()}, nil
}

func (s *Server) DeleteUser(ctx context.Context, req *rpc.DeleteUserRequest) (*rpc.DeleteUserResponse, error) {
	if err := s.store.Users().Delete(ctx, req.UserID); err != nil {
		return &rpc.DeleteUserResponse{Status: mapStoreErr(err)}, nil
	}
	return &rpc.DeleteUserResponse{Status: okStatus()}, nil
}

// --- nodes ---

func (s *Server) RegisterNode(ctx context.Context, req *rpc.RegisterNodeRequest) (*rpc.RegisterNodeResponse, error) {
	token, err := auth.GenerateStaticToken()
	if err != nil {
		return nil, status.Error(codes.Internal, "generating token")
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	user := &models.User{
		ID:          id,
		Name:        req.Node.DisplayName,
		Role:        models.RoleNode,
		StaticToken: auth.HashStaticToken(token),
		CreatedAt:   now,
	}
	node := &models.Node{
		ID:           id,
		DisplayName:  req.Node.DisplayName,
		Lat:          req.Node.Lat,
		Lon:          req.Node.Lon,
		Location:     req.Node.Location,
		Provider:     req.Node.Provider,
		RegisteredAt: now,
		LastActiveAt: now,
	}

	err = s.store.WithTx(ctx, func(txs store.Store) error {
		if err := txs.Users().Create(ctx, user); err != nil {
			return err
		}
		return txs.Nodes().Create(ctx, node)
	})
	if err != nil {
		return &rpc.RegisterNodeResponse{Status: errStatus(rpc.CodeInvalid, "%v", err)}, nil
	}

	return &rpc.RegisterNodeResponse{Status: okStatus(), NodeID: id, Token: token}, nil
}

func (s *Server) UpdateNode(ctx context.Context, req *rpc.UpdateNodeRequest) (*rpc.UpdateNodeResponse, error) {
	node, err := s.store.Nodes().GetByID(ctx, req.NodeID)
	if err != nil || node == nil {
		return &rpc.UpdateNodeResponse{Status: errStatus(rpc.CodeNotFound, "node not found")}, nil
	}
	if req.Node.DisplayName != "" {
		node.DisplayName = req.Node.DisplayName
	}
	if req.Node.Lat != 0 {
		node.Lat = req.Node.Lat
	}
	if req.Node.Lon != 0 {
		node.Lon = req.Node.Lon
	}
	if req.Node.Location != "" {
		node.Location = req.Node.Location
	}
	if req.Node.Provider != "" {
		node.Provider = req.Node.Provider
	}
	if err := s.store.Nodes().Update(ctx, node); err != nil {
		return &rpc.UpdateNodeResponse{Status: mapStoreErr(err)}, nil
	}
	return &rpc.UpdateNodeResponse{Status: okStatus()}, nil
}

func (s *Server) DeleteNode(ctx context.Context, req *rpc.DeleteNodeRequest) (*rpc.DeleteNodeResponse, error) {
	if err := s.store.Nodes().Delete(ctx, req.NodeID); err != nil {
		return &rpc.DeleteNodeResponse{Status: mapStoreErr(err)}, nil
	}
	return &rpc.DeleteNodeResponse{Status: okStatus()}, nil
}

func (s *Server) GetNodes(ctx context.Context, req *rpc.GetNodesRequest) (*rpc.GetNodesResponse, error) {
	if req.NodeID != "" {
		node, err := s.store.Nodes().GetByID(ctx, req.NodeID)
		if err != nil || node == nil {
			return &rpc.GetNodesResponse{Status: errStatus(rpc.CodeNotFound, "node not found")}, nil
		}
		return &rpc.GetNodesResponse{Status: okStatus(), Nodes: []rpc.NodeInfo{nodeToInfo(node)}}, nil
	}

	nodes, err := s.store.Nodes().List(ctx)
	if err != nil {
		return nil, status.Error(codes.Internal, "listing nodes")
	}

	now := time.Now().UTC()
	out := make([]rpc.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		if req.Location != "" && n.Location != req.Location {
			continue
		}
		if req.Active {
			thres := time.Duration(req.ActiveThresSec) * time.Second
			if thres <= 0 {
				thres = time.Minute
			}
			if now.Sub(n.LastActiveAt) > thres {
				continue
			}
		}
		out = append(out, nodeToInfo(n))
	}
	return &rpc.GetNodesResponse{Status: okStatus(), Nodes: out}, nil
}

func nodeToInfo(n *models.Node) rpc.NodeInfo {
	return rpc.NodeInfo{
		ID:              n.ID,
		DisplayName:     n.DisplayName,
		Lat:             n.Lat,
		Lon:             n.Lon,
		Location:        n.Location,
		Provider:        n.Provider,
		PublicIP:        n.PublicIP,
		ScavengerActive: n.ScavengerActive,
		LastActiveAt:    n.LastActiveAt,
		RegisteredAt:    n.RegisteredAt,
	}
}

func (s *Server) ReportHeartbeat(ctx context.Context, req *rpc.ReportHeartbeatRequest) (*rpc.ReportHeartbeatResponse, error) {
	callerID, _, _ := callerFromContext(ctx)
	if callerID != req.NodeID {
		return &rpc.ReportHeartbeatResponse{Status: errStatus(rpc.CodeForbidden, "heartbeat must come from the reporting node itself")}, nil
	}
	if err := s.store.Nodes().UpdateHeartbeat(ctx, req.NodeID, time.Now().UTC(), req.PublicIP); err != nil {
		return &rpc.ReportHeartbeatResponse{Status: mapStoreErr(err)}, nil
	}
	return &rpc.ReportHeartbeatResponse{Status: okStatus(), Received: true}, nil
}

// --- jobs ---

func jobFromRecord(r rpc.JobRecord, id, ownerID string) *models.Job {
	return &models.Job{
		ID:                 id,
		NodeID:             r.NodeID,
		OwnerID:            ownerID,
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
		CreatedAt:          time.Now().UTC(),
	}
}

func jobToRecord(j *models.Job) rpc.JobRecord {
	return rpc.JobRecord{
		ID:                 j.ID,
		NodeID:             j.NodeID,
		OwnerID:            j.OwnerID,
		Kind:               string(j.Kind),
		CronExpr:           j.CronExpr,
		OneShotAt:          j.OneShotAt,
		ValidityStart:      j.Validity.Start,
		ValidityEnd:        j.Validity.End,
		LengthSecs:         j.LengthSecs,
		Overhead:           j.Overhead,
		PairedServerNodeID: j.PairedServerNodeID,
		Trigger:            j.Trigger,
		Config:             j.Config,
		Mode:               j.Params.Mode,
		Deploy:             j.Params.Deploy,
		Execute:            j.Params.Execute,
		Finish:             j.Params.Finish,
	}
}

// jobRecordEqual reports whether two job payloads describe the same job,
// ignoring ID and OwnerID (the latter is caller-derived, never client
// supplied). Used to make schedule_job idempotent by job_id per spec
// section 7.
func jobRecordEqual(a, b rpc.JobRecord) bool {
	return a.NodeID == b.NodeID &&
		a.Kind == b.Kind &&
		a.CronExpr == b.CronExpr &&
		a.OneShotAt.Equal(b.OneShotAt) &&
		a.ValidityStart.Equal(b.ValidityStart) &&
		a.ValidityEnd.Equal(b.ValidityEnd) &&
		a.LengthSecs == b.LengthSecs &&
		a.Overhead == b.Overhead &&
		a.PairedServerNodeID == b.PairedServerNodeID &&
		a.Trigger == b.Trigger &&
		a.Config == b.Config &&
		a.Mode == b.Mode &&
		a.Deploy == b.Deploy &&
		a.Execute == b.Execute &&
		a.Finish == b.Finish
}

// mergeJobsByID unions two overhead job lists by job id, so a reschedule
// candidate touching both sides of a paired job sees conflicts on either
// peer exactly once.
func mergeJobsByID(a, b []*models.Job) []*models.Job {
	seen := make(map[string]bool, len(a))
	merged := make([]*models.Job, 0, len(a)+len(b))
	for _, j := range a {
		seen[j.ID] = true
		merged = append(merged, j)
	}
	for _, j := range b {
		if !seen[j.ID] {
			merged = append(merged, j)
		}
	}
	return merged
}

func (s *Server) ScheduleJob(ctx context.Context, req *rpc.ScheduleJobRequest) (*rpc.ScheduleJobResponse, error) {
	callerID, _, _ := callerFromContext(ctx)

	if !models.JobKind(req.Job.Kind).IsValid() {
		return &rpc.ScheduleJobResponse{Status: errStatus(rpc.CodeInvalid, "invalid job kind %q", req.Job.Kind)}, nil
	}
	if err := verifyTrigger(req.Job.Trigger); err != nil {
		return &rpc.ScheduleJobResponse{Status: errStatus(rpc.CodeInvalid, "invalid trigger: %v", err)}, nil
	}
	if req.Job.Kind == string(models.JobKindCron) {
		if _, err := schedule.ParseCron(req.Job.CronExpr); err != nil {
			return &rpc.ScheduleJobResponse{Status: errStatus(rpc.CodeInvalid, "invalid cron expression: %v", err)}, nil
		}
	}
	if req.Job.Kind == string(models.JobKindAtq) && req.Job.OneShotAt.Before(time.Now()) {
		return &rpc.ScheduleJobResponse{Status: errStatus(rpc.CodeInvalid, "one_shot_at is in the past")}, nil
	}
	if req.Job.LengthSecs < 1 {
		return &rpc.ScheduleJobResponse{Status: errStatus(rpc.CodeInvalid, "length_secs must be at least 1")}, nil
	}

	jobID := req.Job.ID
	if jobID != "" {
		existing, err := s.store.Jobs().GetByID(ctx, jobID)
		if err != nil {
			return nil, status.Error(codes.Internal, "checking existing job")
		}
		if existing != nil {
			if jobRecordEqual(jobToRecord(existing), req.Job) {
				return &rpc.ScheduleJobResponse{Status: okStatus(), JobID: existing.ID}, nil
			}
			return &rpc.ScheduleJobResponse{Status: errStatus(rpc.CodeInvalid, "job_id %s already exists with a different payload", jobID)}, nil
		}
	} else {
		jobID = uuid.NewString()
	}

	job := jobFromRecord(req.Job, jobID, callerID)

	if !job.Overhead {
		if err := s.store.Jobs().Create(ctx, job); err != nil {
			return &rpc.ScheduleJobResponse{Status: errStatus(rpc.CodeInvalid, "%v", err)}, nil
		}
		return &rpc.ScheduleJobResponse{Status: okStatus(), JobID: job.ID}, nil
	}

	admitted, offendingJobID, instant, err := s.store.Jobs().AdmitOverheadJob(ctx, job, func(existing []*models.Job) (bool, string, time.Time, error) {
		decision, err := schedule.Admit(job, existing)
		if err != nil {
			return false, "", time.Time{}, err
		}
		return decision.Admitted, decision.OffendingJobID, decision.Instant, nil
	})
	if err != nil {
		return &rpc.ScheduleJobResponse{Status: errStatus(rpc.CodeInvalid, "%v", err)}, nil
	}
	if !admitted {
		return &rpc.ScheduleJobResponse{Status: errStatus(rpc.CodeConflict, "overlaps job %s", offendingJobID), OffendingJobID: offendingJobID, Instant: instant}, nil
	}
	return &rpc.ScheduleJobResponse{Status: okStatus(), JobID: job.ID}, nil
}

func (s *Server) RescheduleJobNearest(ctx context.Context, req *rpc.RescheduleJobNearestRequest) (*rpc.RescheduleJobNearestResponse, error) {
	job, err := s.store.Jobs().GetByID(ctx, req.JobID)
	if err != nil || job == nil {
		return &rpc.RescheduleJobNearestResponse{Status: errStatus(rpc.CodeNotFound, "job not found")}, nil
	}
	if job.Kind != models.JobKindAtq {
		return &rpc.RescheduleJobNearestResponse{Status: errStatus(rpc.CodeUnsupported, "reschedule_job_nearest only supports ATQ jobs")}, nil
	}

	existing, err := s.store.Jobs().ListOverheadTouchingNode(ctx, job.NodeID)
	if err != nil {
		return nil, status.Error(codes.Internal, "listing overhead jobs")
	}
	if job.PairedServerNodeID != "" {
		serverSide, err := s.store.Jobs().ListOverheadTouchingNode(ctx, job.PairedServerNodeID)
		if err != nil {
			return nil, status.Error(codes.Internal, "listing overhead jobs")
		}
		existing = mergeJobsByID(existing, serverSide)
	}

	outcome := schedule.RescheduleNearest(job, req.After, existing, s.config.RescheduleStep)
	if outcome.NoSlot {
		return &rpc.RescheduleJobNearestResponse{Status: errStatus(rpc.CodeNoSlot, "no admissible slot found")}, nil
	}

	job.OneShotAt = outcome.NewInstant
	if err := s.store.Jobs().Update(ctx, job); err != nil {
		return nil, status.Error(codes.Internal, "persisting rescheduled job")
	}
	return &rpc.RescheduleJobNearestResponse{Status: okStatus(), StartTS: outcome.NewInstant}, nil
}

func (s *Server) GetJobByID(ctx context.Context, req *rpc.GetJobByIDRequest) (*rpc.GetJobByIDResponse, error) {
	job, err := s.store.Jobs().GetByID(ctx, req.JobID)
	if err != nil || job == nil {
		return &rpc.GetJobByIDResponse{Status: errStatus(rpc.CodeNotFound, "job not found")}, nil
	}
	return &rpc.GetJobByIDResponse{Status: okStatus(), Job: jobToRecord(job)}, nil
}

func (s *Server) GetJobsByNodeID(ctx context.Context, req *rpc.GetJobsByNodeIDRequest) (*rpc.GetJobsResponse, error) {
	jobs, err := s.store.Jobs().GetByNodeID(ctx, req.NodeID)
	if err != nil {
		return nil, status.Error(codes.Internal, "listing jobs")
	}
	return &rpc.GetJobsResponse{Status: okStatus(), Jobs: jobsToRecords(jobs)}, nil
}

func (s *Server) GetJobsByUserID(ctx context.Context, req *rpc.GetJobsByUserIDRequest) (*rpc.GetJobsResponse, error) {
	jobs, err := s.store.Jobs().GetByUserID(ctx, req.UserID)
	if err != nil {
		return nil, status.Error(codes.Internal, "listing jobs")
	}
	return &rpc.GetJobsResponse{Status: okStatus(), Jobs: jobsToRecords(jobs)}, nil
}

func jobsToRecords(jobs []*models.Job) []rpc.JobRecord {
	out := make([]rpc.JobRecord, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobToRecord(j))
	}
	return out
}

func (s *Server) DeleteJobByID(ctx context.Context, req *rpc.DeleteJobByIDRequest) (*rpc.DeleteJobByIDResponse, error) {
	callerID, role, _ := callerFromContext(ctx)
	job, err := s.store.Jobs().GetByID(ctx, req.JobID)
	if err != nil || job == nil {
		return &rpc.DeleteJobByIDResponse{Status: errStatus(rpc.CodeNotFound, "job not found")}, nil
	}
	if job.OwnerID != callerID && !models.Role(role).AtLeast(models.RoleAdmin) {
		return &rpc.DeleteJobByIDResponse{Status: errStatus(rpc.CodeForbidden, "not the job owner")}, nil
	}
	if err := s.store.Jobs().Delete(ctx, req.JobID); err != nil {
		return &rpc.DeleteJobByIDResponse{Status: mapStoreErr(err)}, nil
	}
	return &rpc.DeleteJobByIDResponse{Status: okStatus()}, nil
}

// --- runs ---

func runToRecord(r *models.Run) rpc.RunRecord {
	return rpc.RunRecord{
		ID:            r.ID,
		JobID:         r.JobID,
		NodeID:        r.NodeID,
		OwnerID:       r.OwnerID,
		Status:        string(r.Status),
		StartTS:       r.StartTS,
		EndTS:         r.EndTS,
		StatusMessage: r.StatusMessage,
		ArtifactURL:   r.ArtifactURL,
	}
}

// UpdateRun both creates and advances a run. Runs have no dedicated
// create_run operation (spec.md section 4.4: "Created by executor at
// deploy"); the executor's first call carries JobID/NodeID/OwnerID
// alongside the initial status, and every later call carries only RunID
// and the next status.
func (s *Server) UpdateRun(ctx context.Context, req *rpc.UpdateRunRequest) (*rpc.UpdateRunResponse, error) {
	callerID, _, _ := callerFromContext(ctx)

	next := models.RunStatus(req.Status)
	if !next.IsValid() {
		return &rpc.UpdateRunResponse{Status: errStatus(rpc.CodeInvalid, "invalid run status %q", req.Status)}, nil
	}

	run, err := s.store.Runs().GetByID(ctx, req.RunID)
	if err != nil {
		return nil, status.Error(codes.Internal, "loading run")
	}

	if run == nil {
		if req.JobID == "" || req.NodeID == "" {
			return &rpc.UpdateRunResponse{Status: errStatus(rpc.CodeNotFound, "run not found")}, nil
		}
		if req.NodeID != callerID {
			return &rpc.UpdateRunResponse{Status: errStatus(rpc.CodeForbidden, "run belongs to a different node")}, nil
		}
		newRun := &models.Run{
			ID:            req.RunID,
			JobID:         req.JobID,
			NodeID:        req.NodeID,
			OwnerID:       req.OwnerID,
			Status:        next,
			StartTS:       time.Now().UTC(),
			StatusMessage: req.Message,
			ArtifactURL:   req.ArtifactURL,
		}
		if err := s.store.Runs().Create(ctx, newRun); err != nil {
			return &rpc.UpdateRunResponse{Status: errStatus(rpc.CodeInvalid, "%v", err)}, nil
		}
		return &rpc.UpdateRunResponse{Status: okStatus()}, nil
	}

	if run.NodeID != callerID {
		return &rpc.UpdateRunResponse{Status: errStatus(rpc.CodeForbidden, "run belongs to a different node")}, nil
	}
	if err := s.store.Runs().UpdateStatus(ctx, req.RunID, next, req.Message, req.ArtifactURL); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &rpc.UpdateRunResponse{Status: errStatus(rpc.CodeNotFound, "run not found")}, nil
		}
		return &rpc.UpdateRunResponse{Status: errStatus(rpc.CodeInvalid, "%v", err)}, nil
	}
	return &rpc.UpdateRunResponse{Status: okStatus()}, nil
}

func (s *Server) GetRuns(ctx context.Context, req *rpc.GetRunsRequest) (*rpc.GetRunsResponse, error) {
	runs, err := s.store.Runs().GetByJobID(ctx, req.JobID)
	if err != nil {
		return nil, status.Error(codes.Internal, "listing runs")
	}
	out := make([]rpc.RunRecord, 0, len(runs))
	for _, r := range runs {
		out = append(out, runToRecord(r))
	}
	return &rpc.GetRunsResponse{Status: okStatus(), Runs: out}, nil
}

func (s *Server) GetScheduledRuns(ctx context.Context, req *rpc.GetScheduledRunsRequest) (*rpc.GetRunsResponse, error) {
	runs, err := s.store.Runs().GetScheduled(ctx, req.NodeID)
	if err != nil {
		return nil, status.Error(codes.Internal, "listing scheduled runs")
	}
	out := make([]rpc.RunRecord, 0, len(runs))
	for _, r := range runs {
		out = append(out, runToRecord(r))
	}
	return &rpc.GetRunsResponse{Status: okStatus(), Runs: out}, nil
}

// --- tasks ---

func (s *Server) ScheduleTask(ctx context.Context, req *rpc.ScheduleTaskRequest) (*rpc.ScheduleTaskResponse, error) {
	_, role, _ := callerFromContext(ctx)
	if err := requireNodeRole(models.Role(role)); err != nil {
		return &rpc.ScheduleTaskResponse{Status: errStatus(rpc.CodeForbidden, "schedule_task requires a node caller")}, nil
	}

	taskID := req.Task.ID
	if taskID != "" {
		existing, err := s.store.Tasks().GetByID(ctx, taskID)
		if err != nil {
			return nil, status.Error(codes.Internal, "checking existing task")
		}
		if existing != nil {
			if existing.RunID == req.Task.RunID && existing.JobID == req.Task.JobID &&
				existing.NodeID == req.Task.NodeID && string(existing.Kind) == req.Task.Kind &&
				existing.TTLSecs == req.Task.TTLSecs {
				return &rpc.ScheduleTaskResponse{Status: okStatus(), TaskID: existing.ID}, nil
			}
			return &rpc.ScheduleTaskResponse{Status: errStatus(rpc.CodeInvalid, "task_id %s already exists with a different payload", taskID)}, nil
		}
	} else {
		taskID = uuid.NewString()
	}

	task := &models.Task{
		ID:        taskID,
		RunID:     req.Task.RunID,
		JobID:     req.Task.JobID,
		NodeID:    req.Task.NodeID,
		Kind:      models.TaskKind(req.Task.Kind),
		Status:    models.TaskPending,
		TTLSecs:   req.Task.TTLSecs,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Tasks().Create(ctx, task); err != nil {
		return &rpc.ScheduleTaskResponse{Status: errStatus(rpc.CodeInvalid, "%v", err)}, nil
	}
	return &rpc.ScheduleTaskResponse{Status: okStatus(), TaskID: task.ID}, nil
}

func (s *Server) GetTasks(ctx context.Context, req *rpc.GetTasksRequest) (*rpc.GetTasksResponse, error) {
	_, role, _ := callerFromContext(ctx)
	if err := requireNodeRole(models.Role(role)); err != nil {
		return &rpc.GetTasksResponse{Status: errStatus(rpc.CodeForbidden, "get_tasks requires a node caller")}, nil
	}

	if req.TaskID != "" {
		task, err := s.store.Tasks().GetByID(ctx, req.TaskID)
		if err != nil || task == nil {
			return &rpc.GetTasksResponse{Status: errStatus(rpc.CodeNotFound, "task not found")}, nil
		}
		if task.IsDead(time.Now().UTC()) {
			return &rpc.GetTasksResponse{Status: okStatus(), Tasks: []rpc.TaskRecord{}}, nil
		}
		return &rpc.GetTasksResponse{Status: okStatus(), Tasks: []rpc.TaskRecord{taskToRecord(task)}}, nil
	}

	tasks, err := s.store.Tasks().GetByNodeID(ctx, req.NodeID)
	if err != nil {
		return nil, status.Error(codes.Internal, "listing tasks")
	}
	now := time.Now().UTC()
	out := make([]rpc.TaskRecord, 0, len(tasks))
	for _, t := range tasks {
		if t.IsDead(now) {
			continue
		}
		out = append(out, taskToRecord(t))
	}
	return &rpc.GetTasksResponse{Status: okStatus(), Tasks: out}, nil
}

func taskToRecord(t *models.Task) rpc.TaskRecord {
	return rpc.TaskRecord{
		ID:      t.ID,
		RunID:   t.RunID,
		JobID:   t.JobID,
		NodeID:  t.NodeID,
		Kind:    string(t.Kind),
		Status:  string(t.Status),
		TTLSecs: t.TTLSecs,
	}
}

func (s *Server) UpdateTask(ctx context.Context, req *rpc.UpdateTaskRequest) (*rpc.UpdateTaskResponse, error) {
	_, role, _ := callerFromContext(ctx)
	if err := requireNodeRole(models.Role(role)); err != nil {
		return &rpc.UpdateTaskResponse{Status: errStatus(rpc.CodeForbidden, "update_task requires a node caller")}, nil
	}

	task, err := s.store.Tasks().GetByID(ctx, req.TaskID)
	if err != nil || task == nil {
		return &rpc.UpdateTaskResponse{Status: errStatus(rpc.CodeNotFound, "task not found")}, nil
	}
	task.Status = models.TaskStatus(req.Status)
	if err := s.store.Tasks().Update(ctx, task); err != nil {
		return &rpc.UpdateTaskResponse{Status: mapStoreErr(err)}, nil
	}
	return &rpc.UpdateTaskResponse{Status: okStatus()}, nil
}

// --- scavenger ---

func (s *Server) SetScavenger(ctx context.Context, req *rpc.SetScavengerRequest) (*rpc.SetScavengerResponse, error) {
	if err := s.store.Nodes().SetScavenger(ctx, req.NodeID, req.Active); err != nil {
		return &rpc.SetScavengerResponse{Status: mapStoreErr(err)}, nil
	}
	return &rpc.SetScavengerResponse{Status: okStatus()}, nil
}

func (s *Server) GetScavenger(ctx context.Context, req *rpc.GetScavengerRequest) (*rpc.GetScavengerResponse, error) {
	node, err := s.store.Nodes().GetByID(ctx, req.NodeID)
	if err != nil || node == nil {
		return &rpc.GetScavengerResponse{Status: errStatus(rpc.CodeNotFound, "node not found")}, nil
	}
	return &rpc.GetScavengerResponse{Status: okStatus(), Active: node.ScavengerActive}, nil
}

// --- global config ---

func (s *Server) GetConfig(ctx context.Context, req *rpc.GetConfigRequest) (*rpc.GetConfigResponse, error) {
	cfg, err := s.store.Config().Get(ctx)
	if err != nil {
		return nil, status.Error(codes.Internal, "reading config")
	}
	return &rpc.GetConfigResponse{Status: okStatus(), Doc: cfg.Doc, UpdatedAt: cfg.UpdatedAt, UpdatedBy: cfg.UpdatedBy}, nil
}

func (s *Server) UpdateGlobalConfig(ctx context.Context, req *rpc.UpdateGlobalConfigRequest) (*rpc.UpdateGlobalConfigResponse, error) {
	callerID, _, _ := callerFromContext(ctx)
	cfg := &models.GlobalConfig{Doc: req.Doc, UpdatedBy: callerID}
	if err := s.store.Config().Update(ctx, cfg); err != nil {
		return nil, status.Error(codes.Internal, "updating config")
	}
	return &rpc.UpdateGlobalConfigResponse{Status: okStatus()}, nil
}

// --- kernel_access side service ---

func (s *Server) KernelAccess(ctx context.Context, req *rpc.KernelAccessRequest) (*rpc.KernelAccessResponse, error) {
	_, role, _ := callerFromContext(ctx)
	if err := requireNodeRole(models.Role(role)); err != nil {
		return &rpc.KernelAccessResponse{Status: errStatus(rpc.CodeForbidden, "kernel_access requires a node caller")}, nil
	}

	user, err := s.store.Users().GetByID(ctx, req.TargetUserID)
	if err != nil || user == nil {
		return &rpc.KernelAccessResponse{Status: okStatus(), Allowed: false}, nil
	}
	// Kernel parameter access is a privileged operation: a plain USER or
	// NODE account never qualifies, only the *_PRIV tiers and ADMIN do.
	return &rpc.KernelAccessResponse{Status: okStatus(), Allowed: user.Role.IsValid() && user.Role.AtLeast(models.RoleUserPriv)}, nil
}

func mapStoreErr(err error) rpc.Status {
	if errors.Is(err, store.ErrNotFound) {
		return errStatus(rpc.CodeNotFound, "%v", err)
	}
	return errStatus(rpc.CodeInvalid, "%v", err)
}
