// Package agent implements the node agent (C6): the scheduler loop that
// polls the coordinator for jobs, dispatches firings through the executor,
// and reports run/task status and heartbeats back.
package agent

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/leoscope/leoscope/internal/rpc"
)

// Client is the subset of the coordinator's RPC surface the node agent
// calls, wrapped with connection management and retry so scheduler.go can
// treat every call as a plain blocking function.
type Client interface {
	ReportHeartbeat(ctx context.Context, nodeID, publicIP string) error
	GetJobsByNodeID(ctx context.Context, nodeID string) ([]rpc.JobRecord, error)
	GetScheduledRuns(ctx context.Context, nodeID string) ([]rpc.RunRecord, error)
	// GetRunsByJobID lists every run ever recorded for a job, terminal or
	// not, so the scheduler can tell "never ran" apart from "already ran"
	// before rescheduling a missed ATQ firing.
	GetRunsByJobID(ctx context.Context, jobID string) ([]rpc.RunRecord, error)
	// GetNodeByID resolves a peer node's registration, used by the task
	// rendezvous step to inject a paired job's server-side public_ip.
	GetNodeByID(ctx context.Context, nodeID string) (*rpc.NodeInfo, error)
	UpdateRun(ctx context.Context, req *rpc.UpdateRunRequest) error
	RescheduleJobNearest(ctx context.Context, jobID string, after time.Time) (time.Time, error)
	ScheduleTask(ctx context.Context, task rpc.TaskRecord) (string, error)
	GetTasks(ctx context.Context, nodeID string) ([]rpc.TaskRecord, error)
	UpdateTask(ctx context.Context, taskID, status string) error
	GetScavenger(ctx context.Context, nodeID string) (bool, error)
	GetConfig(ctx context.Context) (*rpc.GetConfigResponse, error)
	Close() error
}

// ClientConfig holds configuration for the coordinator gRPC client.
type ClientConfig struct {
	CoordinatorAddr string
	StaticToken     string
	TLSConfig       *tls.Config
	DialTimeout     time.Duration
	RequestTimeout  time.Duration
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiplier float64
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		DialTimeout:       10 * time.Second,
		RequestTimeout:    30 * time.Second,
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// staticTokenCreds attaches the node's static bearer token to every RPC,
// the client-side half of the coordinator's authInterceptor bearer scheme.
type staticTokenCreds struct {
	token      string
	requireTLS bool
}

func (c *staticTokenCreds) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + c.token}, nil
}

func (c *staticTokenCreds) RequireTransportSecurity() bool { return c.requireTLS }

// GRPCClient implements Client over a single connection to the
// coordinator (unlike a fan-out client dialing many peers, the node agent
// only ever talks to one coordinator).
type GRPCClient struct {
	config *ClientConfig
	conn   *grpc.ClientConn
	rpc    rpc.CoordinatorClient
	logger *slog.Logger
}

// Dial establishes the connection to the coordinator and returns a ready
// Client.
func Dial(ctx context.Context, config *ClientConfig, logger *slog.Logger) (*GRPCClient, error) {
	if config == nil {
		config = DefaultClientConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []grpc.DialOption
	if config.TLSConfig != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(config.TLSConfig)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if config.StaticToken != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&staticTokenCreds{
			token:      config.StaticToken,
			requireTLS: config.TLSConfig != nil,
		}))
	}
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")))

	dialCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, config.CoordinatorAddr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing coordinator at %s: %w", config.CoordinatorAddr, err)
	}

	logger.Info("connected to coordinator", "address", config.CoordinatorAddr)

	return &GRPCClient{
		config: config,
		conn:   conn,
		rpc:    rpc.NewCoordinatorClient(conn),
		logger: logger,
	}, nil
}

// withRetry executes fn with exponential backoff retry.
func (c *GRPCClient) withRetry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying operation", "operation", operation, "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * c.config.BackoffMultiplier)
			if backoff > c.config.MaxBackoff {
				backoff = c.config.MaxBackoff
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		c.logger.Warn("operation failed", "operation", operation, "attempt", attempt, "error", lastErr)
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, c.config.MaxRetries+1, lastErr)
}

func (c *GRPCClient) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.config.RequestTimeout)
}

func statusErr(op string, s rpc.Status) error {
	if s.OK() {
		return nil
	}
	return fmt.Errorf("%s: %s: %s", op, s.Code, s.Message)
}

func (c *GRPCClient) ReportHeartbeat(ctx context.Context, nodeID, publicIP string) error {
	return c.withRetry(ctx, "report_heartbeat", func() error {
		callCtx, cancel := c.callCtx(ctx)
		defer cancel()
		resp, err := c.rpc.ReportHeartbeat(callCtx, &rpc.ReportHeartbeatRequest{NodeID: nodeID, PublicIP: publicIP})
		if err != nil {
			return err
		}
		return statusErr("report_heartbeat", resp.Status)
	})
}

func (c *GRPCClient) GetJobsByNodeID(ctx context.Context, nodeID string) ([]rpc.JobRecord, error) {
	var jobs []rpc.JobRecord
	err := c.withRetry(ctx, "get_jobs_by_nodeid", func() error {
		callCtx, cancel := c.callCtx(ctx)
		defer cancel()
		resp, err := c.rpc.GetJobsByNodeID(callCtx, &rpc.GetJobsByNodeIDRequest{NodeID: nodeID})
		if err != nil {
			return err
		}
		if err := statusErr("get_jobs_by_nodeid", resp.Status); err != nil {
			return err
		}
		jobs = resp.Jobs
		return nil
	})
	return jobs, err
}

func (c *GRPCClient) GetScheduledRuns(ctx context.Context, nodeID string) ([]rpc.RunRecord, error) {
	var runs []rpc.RunRecord
	err := c.withRetry(ctx, "get_scheduled_runs", func() error {
		callCtx, cancel := c.callCtx(ctx)
		defer cancel()
		resp, err := c.rpc.GetScheduledRuns(callCtx, &rpc.GetScheduledRunsRequest{NodeID: nodeID})
		if err != nil {
			return err
		}
		if err := statusErr("get_scheduled_runs", resp.Status); err != nil {
			return err
		}
		runs = resp.Runs
		return nil
	})
	return runs, err
}

func (c *GRPCClient) GetRunsByJobID(ctx context.Context, jobID string) ([]rpc.RunRecord, error) {
	var runs []rpc.RunRecord
	err := c.withRetry(ctx, "get_runs", func() error {
		callCtx, cancel := c.callCtx(ctx)
		defer cancel()
		resp, err := c.rpc.GetRuns(callCtx, &rpc.GetRunsRequest{JobID: jobID})
		if err != nil {
			return err
		}
		if err := statusErr("get_runs", resp.Status); err != nil {
			return err
		}
		runs = resp.Runs
		return nil
	})
	return runs, err
}

func (c *GRPCClient) GetNodeByID(ctx context.Context, nodeID string) (*rpc.NodeInfo, error) {
	var node *rpc.NodeInfo
	err := c.withRetry(ctx, "get_node_by_id", func() error {
		callCtx, cancel := c.callCtx(ctx)
		defer cancel()
		resp, err := c.rpc.GetNodes(callCtx, &rpc.GetNodesRequest{NodeID: nodeID})
		if err != nil {
			return err
		}
		if err := statusErr("get_node_by_id", resp.Status); err != nil {
			return err
		}
		if len(resp.Nodes) == 0 {
			return fmt.Errorf("get_node_by_id: node %s not found", nodeID)
		}
		node = &resp.Nodes[0]
		return nil
	})
	return node, err
}

func (c *GRPCClient) UpdateRun(ctx context.Context, req *rpc.UpdateRunRequest) error {
	return c.withRetry(ctx, "update_run", func() error {
		callCtx, cancel := c.callCtx(ctx)
		defer cancel()
		resp, err := c.rpc.UpdateRun(callCtx, req)
		if err != nil {
			return err
		}
		return statusErr("update_run", resp.Status)
	})
}

func (c *GRPCClient) RescheduleJobNearest(ctx context.Context, jobID string, after time.Time) (time.Time, error) {
	var startTS time.Time
	err := c.withRetry(ctx, "reschedule_job_nearest", func() error {
		callCtx, cancel := c.callCtx(ctx)
		defer cancel()
		resp, err := c.rpc.RescheduleJobNearest(callCtx, &rpc.RescheduleJobNearestRequest{JobID: jobID, After: after})
		if err != nil {
			return err
		}
		if err := statusErr("reschedule_job_nearest", resp.Status); err != nil {
			return err
		}
		startTS = resp.StartTS
		return nil
	})
	return startTS, err
}

func (c *GRPCClient) ScheduleTask(ctx context.Context, task rpc.TaskRecord) (string, error) {
	var taskID string
	err := c.withRetry(ctx, "schedule_task", func() error {
		callCtx, cancel := c.callCtx(ctx)
		defer cancel()
		resp, err := c.rpc.ScheduleTask(callCtx, &rpc.ScheduleTaskRequest{Task: task})
		if err != nil {
			return err
		}
		if err := statusErr("schedule_task", resp.Status); err != nil {
			return err
		}
		taskID = resp.TaskID
		return nil
	})
	return taskID, err
}

func (c *GRPCClient) GetTasks(ctx context.Context, nodeID string) ([]rpc.TaskRecord, error) {
	var tasks []rpc.TaskRecord
	err := c.withRetry(ctx, "get_tasks", func() error {
		callCtx, cancel := c.callCtx(ctx)
		defer cancel()
		resp, err := c.rpc.GetTasks(callCtx, &rpc.GetTasksRequest{NodeID: nodeID})
		if err != nil {
			return err
		}
		if err := statusErr("get_tasks", resp.Status); err != nil {
			return err
		}
		tasks = resp.Tasks
		return nil
	})
	return tasks, err
}

func (c *GRPCClient) UpdateTask(ctx context.Context, taskID, status string) error {
	return c.withRetry(ctx, "update_task", func() error {
		callCtx, cancel := c.callCtx(ctx)
		defer cancel()
		resp, err := c.rpc.UpdateTask(callCtx, &rpc.UpdateTaskRequest{TaskID: taskID, Status: status})
		if err != nil {
			return err
		}
		return statusErr("update_task", resp.Status)
	})
}

func (c *GRPCClient) GetScavenger(ctx context.Context, nodeID string) (bool, error) {
	var active bool
	err := c.withRetry(ctx, "get_scavenger", func() error {
		callCtx, cancel := c.callCtx(ctx)
		defer cancel()
		resp, err := c.rpc.GetScavenger(callCtx, &rpc.GetScavengerRequest{NodeID: nodeID})
		if err != nil {
			return err
		}
		if err := statusErr("get_scavenger", resp.Status); err != nil {
			return err
		}
		active = resp.Active
		return nil
	})
	return active, err
}

func (c *GRPCClient) GetConfig(ctx context.Context) (*rpc.GetConfigResponse, error) {
	var out *rpc.GetConfigResponse
	err := c.withRetry(ctx, "get_config", func() error {
		callCtx, cancel := c.callCtx(ctx)
		defer cancel()
		resp, err := c.rpc.GetConfig(callCtx, &rpc.GetConfigRequest{})
		if err != nil {
			return err
		}
		if err := statusErr("get_config", resp.Status); err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

// Close closes the connection to the coordinator.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}
