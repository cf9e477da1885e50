package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is the fully-qualified gRPC service name used in every
// method's wire path, matching the convention a protoc-generated stub
// would use even though this service is hand-registered.
const serviceName = "leoscope.rpc.Coordinator"

// CoordinatorServer is the interface the coordinator (C5) implements
// against every operation named in spec.md section 6, plus the
// kernel_access side service.
type CoordinatorServer interface {
	RegisterUser(context.Context, *RegisterUserRequest) (*RegisterUserResponse, error)
	ModifyUser(context.Context, *ModifyUserRequest) (*ModifyUserResponse, error)
	DeleteUser(context.Context, *DeleteUserRequest) (*DeleteUserResponse, error)

	RegisterNode(context.Context, *RegisterNodeRequest) (*RegisterNodeResponse, error)
	UpdateNode(context.Context, *UpdateNodeRequest) (*UpdateNodeResponse, error)
	DeleteNode(context.Context, *DeleteNodeRequest) (*DeleteNodeResponse, error)
	GetNodes(context.Context, *GetNodesRequest) (*GetNodesResponse, error)
	ReportHeartbeat(context.Context, *ReportHeartbeatRequest) (*ReportHeartbeatResponse, error)

	ScheduleJob(context.Context, *ScheduleJobRequest) (*ScheduleJobResponse, error)
	RescheduleJobNearest(context.Context, *RescheduleJobNearestRequest) (*RescheduleJobNearestResponse, error)
	GetJobByID(context.Context, *GetJobByIDRequest) (*GetJobByIDResponse, error)
	GetJobsByNodeID(context.Context, *GetJobsByNodeIDRequest) (*GetJobsResponse, error)
	GetJobsByUserID(context.Context, *GetJobsByUserIDRequest) (*GetJobsResponse, error)
	DeleteJobByID(context.Context, *DeleteJobByIDRequest) (*DeleteJobByIDResponse, error)

	UpdateRun(context.Context, *UpdateRunRequest) (*UpdateRunResponse, error)
	GetRuns(context.Context, *GetRunsRequest) (*GetRunsResponse, error)
	GetScheduledRuns(context.Context, *GetScheduledRunsRequest) (*GetRunsResponse, error)

	ScheduleTask(context.Context, *ScheduleTaskRequest) (*ScheduleTaskResponse, error)
	GetTasks(context.Context, *GetTasksRequest) (*GetTasksResponse, error)
	UpdateTask(context.Context, *UpdateTaskRequest) (*UpdateTaskResponse, error)

	SetScavenger(context.Context, *SetScavengerRequest) (*SetScavengerResponse, error)
	GetScavenger(context.Context, *GetScavengerRequest) (*GetScavengerResponse, error)

	GetConfig(context.Context, *GetConfigRequest) (*GetConfigResponse, error)
	UpdateGlobalConfig(context.Context, *UpdateGlobalConfigRequest) (*UpdateGlobalConfigResponse, error)

	KernelAccess(context.Context, *KernelAccessRequest) (*KernelAccessResponse, error)
}

// unaryHandler adapts a single CoordinatorServer method into the shape
// grpc.ServiceDesc.Methods expects.
func unaryHandler[Req, Resp any](call func(CoordinatorServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CoordinatorServer), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CoordinatorServer), ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

// ServiceDesc is the hand-authored equivalent of a protoc-generated
// _ServiceDesc, wiring every operation to its unaryHandler adapter. See
// the package doc in messages.go for why this is hand-written rather than
// generated.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterUser", Handler: methodHandler(unaryHandler(CoordinatorServer.RegisterUser))},
		{MethodName: "ModifyUser", Handler: methodHandler(unaryHandler(CoordinatorServer.ModifyUser))},
		{MethodName: "DeleteUser", Handler: methodHandler(unaryHandler(CoordinatorServer.DeleteUser))},
		{MethodName: "RegisterNode", Handler: methodHandler(unaryHandler(CoordinatorServer.RegisterNode))},
		{MethodName: "UpdateNode", Handler: methodHandler(unaryHandler(CoordinatorServer.UpdateNode))},
		{MethodName: "DeleteNode", Handler: methodHandler(unaryHandler(CoordinatorServer.DeleteNode))},
		{MethodName: "GetNodes", Handler: methodHandler(unaryHandler(CoordinatorServer.GetNodes))},
		{MethodName: "ReportHeartbeat", Handler: methodHandler(unaryHandler(CoordinatorServer.ReportHeartbeat))},
		{MethodName: "ScheduleJob", Handler: methodHandler(unaryHandler(CoordinatorServer.ScheduleJob))},
		{MethodName: "RescheduleJobNearest", Handler: methodHandler(unaryHandler(CoordinatorServer.RescheduleJobNearest))},
		{MethodName: "GetJobByID", Handler: methodHandler(unaryHandler(CoordinatorServer.GetJobByID))},
		{MethodName: "GetJobsByNodeID", Handler: methodHandler(unaryHandler(CoordinatorServer.GetJobsByNodeID))},
		{MethodName: "GetJobsByUserID", Handler: methodHandler(unaryHandler(CoordinatorServer.GetJobsByUserID))},
		{MethodName: "DeleteJobByID", Handler: methodHandler(unaryHandler(CoordinatorServer.DeleteJobByID))},
		{MethodName: "UpdateRun", Handler: methodHandler(unaryHandler(CoordinatorServer.UpdateRun))},
		{MethodName: "GetRuns", Handler: methodHandler(unaryHandler(CoordinatorServer.GetRuns))},
		{MethodName: "GetScheduledRuns", Handler: methodHandler(unaryHandler(CoordinatorServer.GetScheduledRuns))},
		{MethodName: "ScheduleTask", Handler: methodHandler(unaryHandler(CoordinatorServer.ScheduleTask))},
		{MethodName: "GetTasks", Handler: methodHandler(unaryHandler(CoordinatorServer.GetTasks))},
		{MethodName: "UpdateTask", Handler: methodHandler(unaryHandler(CoordinatorServer.UpdateTask))},
		{MethodName: "SetScavenger", Handler: methodHandler(unaryHandler(CoordinatorServer.SetScavenger))},
		{MethodName: "GetScavenger", Handler: methodHandler(unaryHandler(CoordinatorServer.GetScavenger))},
		{MethodName: "GetConfig", Handler: methodHandler(unaryHandler(CoordinatorServer.GetConfig))},
		{MethodName: "UpdateGlobalConfig", Handler: methodHandler(unaryHandler(CoordinatorServer.UpdateGlobalConfig))},
		{MethodName: "KernelAccess", Handler: methodHandler(unaryHandler(CoordinatorServer.KernelAccess))},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "leoscope/rpc.proto",
}

// methodHandler bridges the generic adapter's `any` parameters into the
// concrete grpc.MethodHandler signature.
func methodHandler(adapter func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return adapter
}

// RegisterCoordinatorServer registers srv against s using ServiceDesc.
func RegisterCoordinatorServer(s grpc.ServiceRegistrar, srv CoordinatorServer) {
	s.RegisterService(&ServiceDesc, srv)
}
