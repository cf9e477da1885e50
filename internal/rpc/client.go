package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// CoordinatorClient is the hand-authored client stub mirroring
// CoordinatorServer, used by the node agent (C6) to call the coordinator.
type CoordinatorClient interface {
	RegisterUser(ctx context.Context, in *RegisterUserRequest, opts ...grpc.CallOption) (*RegisterUserResponse, error)
	ModifyUser(ctx context.Context, in *ModifyUserRequest, opts ...grpc.CallOption) (*ModifyUserResponse, error)
	DeleteUser(ctx context.Context, in *DeleteUserRequest, opts ...grpc.CallOption) (*DeleteUserResponse, error)

	RegisterNode(ctx context.Context, in *RegisterNodeRequest, opts ...grpc.CallOption) (*RegisterNodeResponse, error)
	UpdateNode(ctx context.Context, in *UpdateNodeRequest, opts ...grpc.CallOption) (*UpdateNodeResponse, error)
	DeleteNode(ctx context.Context, in *DeleteNodeRequest, opts ...grpc.CallOption) (*DeleteNodeResponse, error)
	GetNodes(ctx context.Context, in *GetNodesRequest, opts ...grpc.CallOption) (*GetNodesResponse, error)
	ReportHeartbeat(ctx context.Context, in *ReportHeartbeatRequest, opts ...grpc.CallOption) (*ReportHeartbeatResponse, error)

	ScheduleJob(ctx context.Context, in *ScheduleJobRequest, opts ...grpc.CallOption) (*ScheduleJobResponse, error)
	RescheduleJobNearest(ctx context.Context, in *RescheduleJobNearestRequest, opts ...grpc.CallOption) (*RescheduleJobNearestResponse, error)
	GetJobByID(ctx context.Context, in *GetJobByIDRequest, opts ...grpc.CallOption) (*GetJobByIDResponse, error)
	GetJobsByNodeID(ctx context.Context, in *GetJobsByNodeIDRequest, opts ...grpc.CallOption) (*GetJobsResponse, error)
	GetJobsByUserID(ctx context.Context, in *GetJobsByUserIDRequest, opts ...grpc.CallOption) (*GetJobsResponse, error)
	DeleteJobByID(ctx context.Context, in *DeleteJobByIDRequest, opts ...grpc.CallOption) (*DeleteJobByIDResponse, error)

	UpdateRun(ctx context.Context, in *UpdateRunRequest, opts ...grpc.CallOption) (*UpdateRunResponse, error)
	GetRuns(ctx context.Context, in *GetRunsRequest, opts ...grpc.CallOption) (*GetRunsResponse, error)
	GetScheduledRuns(ctx context.Context, in *GetScheduledRunsRequest, opts ...grpc.CallOption) (*GetRunsResponse, error)

	ScheduleTask(ctx context.Context, in *ScheduleTaskRequest, opts ...grpc.CallOption) (*ScheduleTaskResponse, error)
	GetTasks(ctx context.Context, in *GetTasksRequest, opts ...grpc.CallOption) (*GetTasksResponse, error)
	UpdateTask(ctx context.Context, in *UpdateTaskRequest, opts ...grpc.CallOption) (*UpdateTaskResponse, error)

	SetScavenger(ctx context.Context, in *SetScavengerRequest, opts ...grpc.CallOption) (*SetScavengerResponse, error)
	GetScavenger(ctx context.Context, in *GetScavengerRequest, opts ...grpc.CallOption) (*GetScavengerResponse, error)

	GetConfig(ctx context.Context, in *GetConfigRequest, opts ...grpc.CallOption) (*GetConfigResponse, error)
	UpdateGlobalConfig(ctx context.Context, in *UpdateGlobalConfigRequest, opts ...grpc.CallOption) (*UpdateGlobalConfigResponse, error)

	KernelAccess(ctx context.Context, in *KernelAccessRequest, opts ...grpc.CallOption) (*KernelAccessResponse, error)
}

type coordinatorClient struct {
	cc grpc.ClientConnInterface
}

// NewCoordinatorClient wraps a *grpc.ClientConn (or any
// grpc.ClientConnInterface) as a CoordinatorClient. Every call is forced
// onto the JSON codec registered in codec.go via CallContentSubtype.
func NewCoordinatorClient(cc grpc.ClientConnInterface) CoordinatorClient {
	return &coordinatorClient{cc: cc}
}

func callUnary[Req, Resp any](ctx context.Context, c *coordinatorClient, method string, in *Req, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	callOpts := append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, callOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinatorClient) RegisterUser(ctx context.Context, in *RegisterUserRequest, opts ...grpc.CallOption) (*RegisterUserResponse, error) {
	return callUnary[RegisterUserRequest, RegisterUserResponse](ctx, c, "RegisterUser", in, opts...)
}

func (c *coordinatorClient) ModifyUser(ctx context.Context, in *ModifyUserRequest, opts ...grpc.CallOption) (*ModifyUserResponse, error) {
	return callUnary[ModifyUserRequest, ModifyUserResponse](ctx, c, "ModifyUser", in, opts...)
}

func (c *coordinatorClient) DeleteUser(ctx context.Context, in *DeleteUserRequest, opts ...grpc.CallOption) (*DeleteUserResponse, error) {
	return callUnary[DeleteUserRequest, DeleteUserResponse](ctx, c, "DeleteUser", in, opts...)
}

func (c *coordinatorClient) RegisterNode(ctx context.Context, in *RegisterNodeRequest, opts ...grpc.CallOption) (*RegisterNodeResponse, error) {
	return callUnary[RegisterNodeRequest, RegisterNodeResponse](ctx, c, "RegisterNode", in, opts...)
}

func (c *coordinatorClient) UpdateNode(ctx context.Context, in *UpdateNodeRequest, opts ...grpc.CallOption) (*UpdateNodeResponse, error) {
	return callUnary[UpdateNodeRequest, UpdateNodeResponse](ctx, c, "UpdateNode", in, opts...)
}

func (c *coordinatorClient) DeleteNode(ctx context.Context, in *DeleteNodeRequest, opts ...grpc.CallOption) (*DeleteNodeResponse, error) {
	return callUnary[DeleteNodeRequest, DeleteNodeResponse](ctx, c, "DeleteNode", in, opts...)
}

func (c *coordinatorClient) GetNodes(ctx context.Context, in *GetNodesRequest, opts ...grpc.CallOption) (*GetNodesResponse, error) {
	return callUnary[GetNodesRequest, GetNodesResponse](ctx, c, "GetNodes", in, opts...)
}

func (c *coordinatorClient) ReportHeartbeat(ctx context.Context, in *ReportHeartbeatRequest, opts ...grpc.CallOption) (*ReportHeartbeatResponse, error) {
	return callUnary[ReportHeartbeatRequest, ReportHeartbeatResponse](ctx, c, "ReportHeartbeat", in, opts...)
}

func (c *coordinatorClient) ScheduleJob(ctx context.Context, in *ScheduleJobRequest, opts ...grpc.CallOption) (*ScheduleJobResponse, error) {
	return callUnary[ScheduleJobRequest, ScheduleJobResponse](ctx, c, "ScheduleJob", in, opts...)
}

func (c *coordinatorClient) RescheduleJobNearest(ctx context.Context, in *RescheduleJobNearestRequest, opts ...grpc.CallOption) (*RescheduleJobNearestResponse, error) {
	return callUnary[RescheduleJobNearestRequest, RescheduleJobNearestResponse](ctx, c, "RescheduleJobNearest", in, opts...)
}

func (c *coordinatorClient) GetJobByID(ctx context.Context, in *GetJobByIDRequest, opts ...grpc.CallOption) (*GetJobByIDResponse, error) {
	return callUnary[GetJobByIDRequest, GetJobByIDResponse](ctx, c, "GetJobByID", in, opts...)
}

func (c *coordinatorClient) GetJobsByNodeID(ctx context.Context, in *GetJobsByNodeIDRequest, opts ...grpc.CallOption) (*GetJobsResponse, error) {
	return callUnary[GetJobsByNodeIDRequest, GetJobsResponse](ctx, c, "GetJobsByNodeID", in, opts...)
}

func (c *coordinatorClient) GetJobsByUserID(ctx context.Context, in *GetJobsByUserIDRequest, opts ...grpc.CallOption) (*GetJobsResponse, error) {
	return callUnary[GetJobsByUserIDRequest, GetJobsResponse](ctx, c, "GetJobsByUserID", in, opts...)
}

func (c *coordinatorClient) DeleteJobByID(ctx context.Context, in *DeleteJobByIDRequest, opts ...grpc.CallOption) (*DeleteJobByIDResponse, error) {
	return callUnary[DeleteJobByIDRequest, DeleteJobByIDResponse](ctx, c, "DeleteJobByID", in, opts...)
}

func (c *coordinatorClient) UpdateRun(ctx context.Context, in *UpdateRunRequest, opts ...grpc.CallOption) (*UpdateRunResponse, error) {
	return callUnary[UpdateRunRequest, UpdateRunResponse](ctx, c, "UpdateRun", in, opts...)
}

func (c *coordinatorClient) GetRuns(ctx context.Context, in *GetRunsRequest, opts ...grpc.CallOption) (*GetRunsResponse, error) {
	return callUnary[GetRunsRequest, GetRunsResponse](ctx, c, "GetRuns", in, opts...)
}

func (c *coordinatorClient) GetScheduledRuns(ctx context.Context, in *GetScheduledRunsRequest, opts ...grpc.CallOption) (*GetRunsResponse, error) {
	return callUnary[GetScheduledRunsRequest, GetRunsResponse](ctx, c, "GetScheduledRuns", in, opts...)
}

func (c *coordinatorClient) ScheduleTask(ctx context.Context, in *ScheduleTaskRequest, opts ...grpc.CallOption) (*ScheduleTaskResponse, error) {
	return callUnary[ScheduleTaskRequest, ScheduleTaskResponse](ctx, c, "ScheduleTask", in, opts...)
}

func (c *coordinatorClient) GetTasks(ctx context.Context, in *GetTasksRequest, opts ...grpc.CallOption) (*GetTasksResponse, error) {
	return callUnary[GetTasksRequest, GetTasksResponse](ctx, c, "GetTasks", in, opts...)
}

func (c *coordinatorClient) UpdateTask(ctx context.Context, in *UpdateTaskRequest, opts ...grpc.CallOption) (*UpdateTaskResponse, error) {
	return callUnary[UpdateTaskRequest, UpdateTaskResponse](ctx, c, "UpdateTask", in, opts...)
}

func (c *coordinatorClient) SetScavenger(ctx context.Context, in *SetScavengerRequest, opts ...grpc.CallOption) (*SetScavengerResponse, error) {
	return callUnary[SetScavengerRequest, SetScavengerResponse](ctx, c, "SetScavenger", in, opts...)
}

func (c *coordinatorClient) GetScavenger(ctx context.Context, in *GetScavengerRequest, opts ...grpc.CallOption) (*GetScavengerResponse, error) {
	return callUnary[GetScavengerRequest, GetScavengerResponse](ctx, c, "GetScavenger", in, opts...)
}

func (c *coordinatorClient) GetConfig(ctx context.Context, in *GetConfigRequest, opts ...grpc.CallOption) (*GetConfigResponse, error) {
	return callUnary[GetConfigRequest, GetConfigResponse](ctx, c, "GetConfig", in, opts...)
}

func (c *coordinatorClient) UpdateGlobalConfig(ctx context.Context, in *UpdateGlobalConfigRequest, opts ...grpc.CallOption) (*UpdateGlobalConfigResponse, error) {
	return callUnary[UpdateGlobalConfigRequest, UpdateGlobalConfigResponse](ctx, c, "UpdateGlobalConfig", in, opts...)
}

func (c *coordinatorClient) KernelAccess(ctx context.Context, in *KernelAccessRequest, opts ...grpc.CallOption) (*KernelAccessResponse, error) {
	return callUnary[KernelAccessRequest, KernelAccessResponse](ctx, c, "KernelAccess", in, opts...)
}
