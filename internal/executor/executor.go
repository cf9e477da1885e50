// Package executor implements the node agent's per-run lifecycle driver
// (C7): the forward-only DAG SCHEDULED -> DEPLOYING -> RUNNING ->
// UPLOADING -> COMPLETED/FAILED/SKIPPED/ABORTED, driven off a single job
// firing.
package executor

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leoscope/leoscope/internal/agent"
	"github.com/leoscope/leoscope/internal/blob"
	"github.com/leoscope/leoscope/internal/deploy"
	"github.com/leoscope/leoscope/internal/logs"
	"github.com/leoscope/leoscope/internal/models"
	"github.com/leoscope/leoscope/internal/podman"
	"github.com/leoscope/leoscope/internal/rpc"
	"github.com/leoscope/leoscope/internal/trigger"
)

// GracePeriod is added to a job's length_secs to form the wall-clock
// ceiling on its RUNNING step.
const GracePeriod = 30 * time.Second

// RendezvousPollInterval is how often the client side of a paired job
// polls for its SERVER_SETUP task to complete.
const RendezvousPollInterval = 5 * time.Second

// Config configures the executor.
type Config struct {
	NodeID      string
	WorkdirRoot string
}

// overheadRun tracks a currently-RUNNING overhead firing so StopOverhead
// can cancel it and report which job ids were interrupted.
type overheadRun struct {
	jobID  string
	cancel context.CancelFunc
}

// Executor implements agent.Executor.
type Executor struct {
	cfg       Config
	client    agent.Client
	podman    *podman.Client
	envMerger *deploy.EnvMerger
	broker    *logs.Broker
	blobStore blob.Store
	logger    *slog.Logger

	mu         sync.Mutex
	overhead   map[string]*overheadRun    // run_id -> tracking
	containers map[string]*logs.Container // run_id -> captured output, live for the run's duration
	active     sync.WaitGroup             // tracks in-flight run() goroutines for graceful drain
}

// New constructs an Executor.
func New(cfg Config, client agent.Client, podmanClient *podman.Client, envMerger *deploy.EnvMerger, broker *logs.Broker, blobStore blob.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:       cfg,
		client:    client,
		podman:    podmanClient,
		envMerger: envMerger,
		broker:    broker,
		blobStore: blobStore,
		logger:    logger,
		overhead:  make(map[string]*overheadRun),
		containers: make(map[string]*logs.Container),
	}
}

// Launch drives one firing of job through the full lifecycle DAG in its
// own goroutine, returning immediately as agent.Executor requires.
func (e *Executor) Launch(ctx context.Context, job rpc.JobRecord, instant time.Time, snapshot *trigger.Snapshot) {
	runID := uuid.New().String()
	e.active.Add(1)
	go func() {
		defer e.active.Done()
		e.run(runID, job, instant, snapshot)
	}()
}

func (e *Executor) registerContainer(runID string, c *logs.Container) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.containers[runID] = c
}

func (e *Executor) unregisterContainer(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.containers, runID)
}

// LogBacklog returns the last n captured lines for a currently RUNNING run,
// or nil if runID has no live container (already finished, or never had a
// capturing step). Backs the backlog `leoctl run logs -f` sends before it
// starts streaming new lines from the broker.
func (e *Executor) LogBacklog(runID string, n int) []*models.LogEntry {
	e.mu.Lock()
	c := e.containers[runID]
	e.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.GetLast(n)
}

// Wait blocks until every in-flight run() goroutine returns, or ctx is
// done, whichever comes first. Used by the agent's graceful shutdown path
// so a node doesn't tear down its podman client and blob store out from
// under a run that's mid-upload.
func (e *Executor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) run(runID string, job rpc.JobRecord, instant time.Time, snapshot *trigger.Snapshot) {
	log := e.logger.With("run_id", runID, "job_id", job.ID, "node_id", e.cfg.NodeID)
	ctx := context.Background()

	if job.Overhead {
		runCtx, cancel := context.WithCancel(ctx)
		e.mu.Lock()
		e.overhead[runID] = &overheadRun{jobID: job.ID, cancel: cancel}
		e.mu.Unlock()
		ctx = runCtx
		defer func() {
			e.mu.Lock()
			delete(e.overhead, runID)
			e.mu.Unlock()
		}()
	}

	if err := e.updateRun(ctx, runID, job, models.RunScheduled, ""); err != nil {
		log.Error("failed to create run record", "error", err)
		return
	}

	wd := filepath.Join(e.cfg.WorkdirRoot, job.ID, runID)
	if err := e.deploy(ctx, runID, job, wd); err != nil {
		log.Error("deploying run failed", "error", err)
		e.fail(ctx, runID, job, wd, fmt.Sprintf("deploying: %v", err))
		return
	}

	if job.Trigger != "" {
		gate, err := e.evalTrigger(job.Trigger, snapshot)
		if err != nil {
			log.Error("invalid trigger expression", "error", err)
			e.fail(ctx, runID, job, wd, fmt.Sprintf("invalid trigger: %v", err))
			return
		}
		if !gate {
			log.Info("trigger evaluated false at firing, skipping")
			_ = e.updateRun(ctx, runID, job, models.RunSkipped, "trigger false at firing instant")
			os.RemoveAll(wd)
			return
		}
	}

	serverIP := ""
	if job.PairedServerNodeID != "" {
		ip, err := e.rendezvous(ctx, runID, job)
		if err != nil {
			log.Error("server rendezvous failed", "error", err)
			e.fail(ctx, runID, job, wd, fmt.Sprintf("server rendezvous: %v", err))
			return
		}
		serverIP = ip
	}

	if err := e.updateRun(ctx, runID, job, models.RunRunning, ""); err != nil {
		log.Error("failed to transition to RUNNING", "error", err)
	}

	exitErr := e.execute(ctx, runID, job, instant, wd, serverIP)

	if err := e.updateRun(ctx, runID, job, models.RunUploading, ""); err != nil {
		log.Error("failed to transition to UPLOADING", "error", err)
	}

	artifactURL, uploadErr := e.upload(ctx, runID, job, wd)
	if uploadErr != nil {
		log.Error("artifact upload failed", "error", uploadErr)
	}

	e.podman.RemoveContainer(ctx, containerName(runID))
	os.RemoveAll(wd)

	if exitErr != nil {
		if err := e.updateRun(ctx, runID, job, models.RunFailed, exitErr.Error()); err != nil {
			log.Error("failed to record FAILED status", "error", err)
		}
		return
	}

	if err := e.updateRunArtifact(ctx, runID, job, models.RunCompleted, "", artifactURL); err != nil {
		log.Error("failed to transition to COMPLETED", "error", err)
	}
}

// deploy materializes job.Config and job.Params into the run's working
// directory and runs the optional deploy-image side step.
// isServerSide reports whether this node is executing job as the server peer
// of a paired job, so its containers get LEOTEST_SERVER=1.
func (e *Executor) isServerSide(job rpc.JobRecord) bool {
	return job.PairedServerNodeID != "" && e.cfg.NodeID == job.PairedServerNodeID
}

func (e *Executor) deploy(ctx context.Context, runID string, job rpc.JobRecord, wd string) error {
	if err := os.MkdirAll(wd, 0o755); err != nil {
		return fmt.Errorf("creating workdir: %w", err)
	}

	if job.Config != "" {
		if err := os.WriteFile(filepath.Join(wd, "config.json"), []byte(job.Config), 0o600); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
	}

	if err := e.updateRun(ctx, runID, job, models.RunDeploying, ""); err != nil {
		return fmt.Errorf("recording DEPLOYING: %w", err)
	}

	if job.Deploy == "" {
		return nil
	}

	if err := e.podman.Pull(ctx, job.Deploy); err != nil {
		return fmt.Errorf("pulling deploy image: %w", err)
	}

	id := deploy.Identity{RunID: runID, JobID: job.ID, NodeID: e.cfg.NodeID, StartTS: time.Now(), LengthSecs: job.LengthSecs, IsServer: e.isServerSide(job)}
	env, err := e.envMerger.MergeForRun(ctx, id, job.Config)
	if err != nil {
		return fmt.Errorf("merging env: %w", err)
	}

	result, err := e.podman.Run(ctx, &podman.ContainerConfig{
		Name:   fmt.Sprintf("%s-deploy", containerName(runID)),
		Image:  job.Deploy,
		Env:    env,
		Mounts: []podman.Mount{{Source: wd, Target: "/workdir"}},
		Remove: true,
		Labels: labelsFor(job, runID, false),
	})
	if err != nil {
		return fmt.Errorf("running deploy step: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("deploy step exited %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}

// rendezvous implements the client side of spec.md 4.5: schedule a
// SERVER_SETUP task on the peer node and poll until it completes or the
// budget of min(length_secs, 300s) is exhausted.
func (e *Executor) rendezvous(ctx context.Context, runID string, job rpc.JobRecord) (string, error) {
	taskID, err := e.client.ScheduleTask(ctx, rpc.TaskRecord{
		// Deterministic per run so a transport-failure retry of this call
		// (see agent.GRPCClient's withRetry) lands on the same task_id
		// instead of scheduling a second SERVER_SETUP task for the run.
		ID:      runID + "-server-setup",
		RunID:   runID,
		JobID:   job.ID,
		NodeID:  job.PairedServerNodeID,
		Kind:    "SERVER_SETUP",
		Status:  "PENDING",
		TTLSecs: job.LengthSecs,
	})
	if err != nil {
		return "", fmt.Errorf("scheduling server task: %w", err)
	}

	budget := time.Duration(job.LengthSecs) * time.Second
	if budget > 300*time.Second {
		budget = 300 * time.Second
	}
	deadline := time.Now().Add(budget)

	for time.Now().Before(deadline) {
		tasks, err := e.client.GetTasks(ctx, job.PairedServerNodeID)
		if err != nil {
			return "", fmt.Errorf("polling server task: %w", err)
		}
		for _, t := range tasks {
			if t.ID == taskID && t.Status == "COMPLETE" {
				node, err := e.client.GetNodeByID(ctx, job.PairedServerNodeID)
				if err != nil {
					return "", fmt.Errorf("resolving server public ip: %w", err)
				}
				return node.PublicIP, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(RendezvousPollInterval):
		}
	}
	return "", fmt.Errorf("server task %s did not complete within %s", taskID, budget)
}

// execute runs the RUNNING step: launch params.execute with a wall-clock
// ceiling of length_secs+grace, capturing its output into the log broker.
func (e *Executor) execute(ctx context.Context, runID string, job rpc.JobRecord, instant time.Time, wd, serverIP string) error {
	ceiling := time.Duration(job.LengthSecs)*time.Second + GracePeriod
	runCtx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	id := deploy.Identity{RunID: runID, JobID: job.ID, NodeID: e.cfg.NodeID, StartTS: instant, LengthSecs: job.LengthSecs, ServerIP: serverIP, IsServer: e.isServerSide(job)}
	env, err := e.envMerger.MergeForRun(runCtx, id, job.Config)
	if err != nil {
		return fmt.Errorf("merging env: %w", err)
	}

	container := logs.NewContainer(10000)
	e.registerContainer(runID, container)
	defer e.unregisterContainer(runID)
	stdout := newLineWriter(e.broker, container, runID, "stdout")
	stderr := newLineWriter(e.broker, container, runID, "stderr")

	name := containerName(runID)
	_, err = e.podman.RunWithStreaming(runCtx, &podman.ContainerConfig{
		Name:   name,
		Image:  job.Execute,
		Env:    env,
		Mounts: []podman.Mount{{Source: wd, Target: "/workdir"}},
		Labels: labelsFor(job, runID, job.Overhead),
	}, stdout, stderr)

	if err := stdout.Flush(); err != nil {
		e.logger.Warn("flushing stdout capture", "error", err)
	}
	if err := stderr.Flush(); err != nil {
		e.logger.Warn("flushing stderr capture", "error", err)
	}
	if err := writeCapturedLog(wd, container); err != nil {
		e.logger.Warn("writing captured log to workdir", "error", err)
	}

	if runCtx.Err() == context.DeadlineExceeded {
		e.podman.StopContainer(context.Background(), name, 10*time.Second)
		return fmt.Errorf("exceeded wall-clock ceiling of %s", ceiling)
	}
	if err != nil {
		return fmt.Errorf("running experiment container: %w", err)
	}
	return nil
}

// upload archives wd and writes it to blob storage at the path spec.md's
// UPLOADING step names.
func (e *Executor) upload(ctx context.Context, runID string, job rpc.JobRecord, wd string) (string, error) {
	if e.blobStore == nil {
		return "", nil
	}

	archivePath := filepath.Join(os.TempDir(), fmt.Sprintf("leoscope-run-%s.tar.gz", runID))
	if err := archiveDir(wd, archivePath); err != nil {
		return "", fmt.Errorf("archiving workdir: %w", err)
	}
	defer os.Remove(archivePath)

	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	now := time.Now().UTC()
	path := blob.ArtifactPath(e.cfg.NodeID, job.ID, now.Year(), int(now.Month()), now.Day(), runID)
	return e.blobStore.Put(ctx, path, f)
}

// StopOverhead implements agent.Executor: stop every RUNNING overhead
// container this node launched, mark its run ABORTED, and return the
// job ids affected so the caller can reschedule them.
func (e *Executor) StopOverhead(ctx context.Context) ([]string, error) {
	containers, err := e.podman.ListRunningContainers(ctx, map[string]string{"leotest": "true", "overhead": "true"})
	if err != nil {
		return nil, fmt.Errorf("listing overhead containers: %w", err)
	}

	e.mu.Lock()
	interrupted := make(map[string]*overheadRun, len(e.overhead))
	for k, v := range e.overhead {
		interrupted[k] = v
	}
	e.mu.Unlock()

	var jobIDs []string
	seen := make(map[string]bool)
	for _, c := range containers {
		if err := e.podman.StopContainer(ctx, c.ID, 5*time.Second); err != nil {
			e.logger.Error("failed to stop overhead container", "container", c.ID, "error", err)
		}
	}

	for runID, tracked := range interrupted {
		tracked.cancel()
		if err := e.client.UpdateRun(ctx, &rpc.UpdateRunRequest{
			RunID:   runID,
			Status:  string(models.RunAborted),
			Message: "preempted by scavenger",
		}); err != nil {
			e.logger.Error("failed to mark aborted run", "run_id", runID, "error", err)
		}
		if !seen[tracked.jobID] {
			seen[tracked.jobID] = true
			jobIDs = append(jobIDs, tracked.jobID)
		}
	}

	return jobIDs, nil
}

// evalTrigger implements the trigger gate of spec.md section 4's run
// lifecycle: the scheduler hands Launch the live C8 snapshot it read at
// firing time, and a comparison against a key absent from that snapshot
// fails closed (see internal/trigger's mixed-type/missing-key handling).
func (e *Executor) evalTrigger(expr string, snapshot *trigger.Snapshot) (bool, error) {
	parsed, err := trigger.Parse(expr)
	if err != nil {
		return false, err
	}
	values := map[string]trigger.Value{}
	if snapshot != nil {
		values = snapshot.Copy()
	}
	return trigger.Eval(parsed, values), nil
}

func (e *Executor) updateRun(ctx context.Context, runID string, job rpc.JobRecord, status models.RunStatus, message string) error {
	return e.client.UpdateRun(ctx, &rpc.UpdateRunRequest{
		RunID:   runID,
		JobID:   job.ID,
		NodeID:  e.cfg.NodeID,
		OwnerID: job.OwnerID,
		Status:  string(status),
		Message: message,
	})
}

func (e *Executor) updateRunArtifact(ctx context.Context, runID string, job rpc.JobRecord, status models.RunStatus, message, artifactURL string) error {
	return e.client.UpdateRun(ctx, &rpc.UpdateRunRequest{
		RunID:       runID,
		JobID:       job.ID,
		NodeID:      e.cfg.NodeID,
		OwnerID:     job.OwnerID,
		Status:      string(status),
		Message:     message,
		ArtifactURL: artifactURL,
	})
}

func (e *Executor) fail(ctx context.Context, runID string, job rpc.JobRecord, wd, message string) {
	if err := e.updateRun(ctx, runID, job, models.RunFailed, message); err != nil {
		e.logger.Error("failed to record FAILED status", "run_id", runID, "error", err)
	}
	e.podman.RemoveContainer(ctx, containerName(runID))
	os.RemoveAll(wd)
}

func containerName(runID string) string {
	return "leotest-" + runID
}

func labelsFor(job rpc.JobRecord, runID string, overhead bool) map[string]string {
	return map[string]string{
		"leotest":  "true",
		"jobid":    job.ID,
		"runid":    runID,
		"nodeid":   job.NodeID,
		"overhead": fmt.Sprintf("%t", overhead),
	}
}

// lineWriter splits a container's raw output into lines, forwards each as
// a models.LogEntry to the broker for live tail, and buffers it into a
// logs.Container for archival.
type lineWriter struct {
	broker    *logs.Broker
	container *logs.Container
	runID     string
	stream    string
	buf       *bufio.Writer
	partial   strings.Builder
	mu        sync.Mutex
}

func newLineWriter(broker *logs.Broker, container *logs.Container, runID, stream string) *lineWriter {
	return &lineWriter{broker: broker, container: container, runID: runID, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.partial.Write(p)
	for {
		s := w.partial.String()
		idx := strings.IndexByte(s, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(s[:idx], "\r")
		w.emit(line)
		w.partial.Reset()
		w.partial.WriteString(s[idx+1:])
	}
	return len(p), nil
}

func (w *lineWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.partial.Len() > 0 {
		w.emit(w.partial.String())
		w.partial.Reset()
	}
	return nil
}

func (w *lineWriter) emit(line string) {
	entry := &models.LogEntry{RunID: w.runID, Timestamp: time.Now().UTC(), Stream: w.stream, Line: line}
	if w.container != nil {
		w.container.Add(entry)
	}
	if w.broker != nil {
		w.broker.Publish(entry)
	}
}

func writeCapturedLog(wd string, container *logs.Container) error {
	f, err := os.Create(filepath.Join(wd, "output.log"))
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, entry := range container.GetAll() {
		fmt.Fprintf(w, "%s [%s] %s\n", entry.Timestamp.Format(time.RFC3339Nano), entry.Stream, entry.Line)
	}
	return w.Flush()
}

// archiveDir writes a gzip-compressed tar archive of dir's contents to
// destPath, grounded on the same archive/tar idiom the retrieved pack's
// content-addressed storage tooling uses for filesystem snapshots.
func archiveDir(dir, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()

	tw := tar.NewWriter(gz)
	defer tw.Close()

	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}
