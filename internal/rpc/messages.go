// Package rpc defines the wire messages and service contract for the
// coordinator's gRPC API (C5). There is no protoc toolchain available to
// generate these from a .proto file, so the messages are hand-authored
// plain structs in the shape a generated file would produce, following
// the precedent in stubs.pb.go: fields carry the request/response data
// verbatim, with no behavior attached, and a JSON codec (codec.go) puts
// them on the wire instead of protobuf binary encoding.
package rpc

import "time"

// ErrorCode is the fixed set of outcomes named in spec.md section 6's
// operation table, carried on every response alongside a human-readable
// Message. OK is the zero value so a freshly constructed response
// defaults to success.
type ErrorCode string

const (
	CodeOK          ErrorCode = ""
	CodeInvalid     ErrorCode = "INVALID"
	CodeConflict    ErrorCode = "CONFLICT"
	CodeUnauth      ErrorCode = "UNAUTH"
	CodeForbidden   ErrorCode = "FORBIDDEN"
	CodeNotFound    ErrorCode = "NOT_FOUND"
	CodeUnsupported ErrorCode = "UNSUPPORTED"
	CodeNoSlot      ErrorCode = "NO_SLOT"
)

// Status is embedded in every response message.
type Status struct {
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

func (s Status) OK() bool { return s.Code == CodeOK }

// --- users ---

type UserRecord struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Role string `json:"role"`
	Team string `json:"team,omitempty"`
}

type RegisterUserRequest struct {
	User UserRecord `json:"user"`
}

type RegisterUserResponse struct {
	Status Status `json:"status"`
	UserID string `json:"user_id,omitempty"`
	Token  string `json:"token,omitempty"`
}

type ModifyUserRequest struct {
	UserID string     `json:"user_id"`
	User   UserRecord `json:"user"`
}

type ModifyUserResponse struct {
	Status Status `json:"status"`
}

type DeleteUserRequest struct {
	UserID string `json:"user_id"`
}

type DeleteUserResponse struct {
	Status Status `json:"status"`
}

// --- nodes ---

type NodeRecord struct {
	ID          string  `json:"id,omitempty"`
	DisplayName string  `json:"display_name"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Location    string  `json:"location,omitempty"`
	Provider    string  `json:"provider,omitempty"`
}

type RegisterNodeRequest struct {
	Node NodeRecord `json:"node"`
}

type RegisterNodeResponse struct {
	Status Status `json:"status"`
	NodeID string `json:"node_id,omitempty"`
	Token  string `json:"token,omitempty"`
}

type UpdateNodeRequest struct {
	NodeID string     `json:"node_id"`
	Node   NodeRecord `json:"node"`
}

type UpdateNodeResponse struct {
	Status Status `json:"status"`
}

type DeleteNodeRequest struct {
	NodeID string `json:"node_id"`
}

type DeleteNodeResponse struct {
	Status Status `json:"status"`
}

type GetNodesRequest struct {
	NodeID         string `json:"node_id,omitempty"`
	Location       string `json:"location,omitempty"`
	Active         bool   `json:"active,omitempty"`
	ActiveThresSec int64  `json:"active_thres_s,omitempty"`
}

type NodeInfo struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"display_name"`
	Lat             float64   `json:"lat"`
	Lon             float64   `json:"lon"`
	Location        string    `json:"location,omitempty"`
	Provider        string    `json:"provider,omitempty"`
	PublicIP        string    `json:"public_ip,omitempty"`
	ScavengerActive bool      `json:"scavenger_active"`
	LastActiveAt    time.Time `json:"last_active_at"`
	RegisteredAt    time.Time `json:"registered_at"`
}

type GetNodesResponse struct {
	Status Status     `json:"status"`
	Nodes  []NodeInfo `json:"nodes"`
}

type ReportHeartbeatRequest struct {
	NodeID   string `json:"node_id"`
	PublicIP string `json:"public_ip,omitempty"`
}

type ReportHeartbeatResponse struct {
	Status   Status `json:"status"`
	Received bool   `json:"received"`
}

// --- jobs ---

type JobRecord struct {
	ID                 string    `json:"id,omitempty"`
	NodeID             string    `json:"node_id"`
	OwnerID            string    `json:"owner_id,omitempty"`
	Kind               string    `json:"kind"`
	CronExpr           string    `json:"schedule,omitempty"`
	OneShotAt          time.Time `json:"one_shot_at,omitzero"`
	ValidityStart      time.Time `json:"validity_start"`
	ValidityEnd        time.Time `json:"validity_end"`
	LengthSecs         int64     `json:"length_secs"`
	Overhead           bool      `json:"overhead"`
	PairedServerNodeID string    `json:"paired_server_node_id,omitempty"`
	Trigger            string    `json:"trigger,omitempty"`
	Config             string    `json:"config,omitempty"`
	Mode               string    `json:"mode,omitempty"`
	Deploy             string    `json:"deploy,omitempty"`
	Execute            string    `json:"execute"`
	Finish             string    `json:"finish,omitempty"`
}

type ScheduleJobRequest struct {
	Job JobRecord `json:"job"`
}

type ScheduleJobResponse struct {
	Status         Status    `json:"status"`
	JobID          string    `json:"job_id,omitempty"`
	OffendingJobID string    `json:"offending_job_id,omitempty"`
	Instant        time.Time `json:"instant,omitzero"`
}

type RescheduleJobNearestRequest struct {
	JobID string    `json:"job_id"`
	After time.Time `json:"after"`
}

type RescheduleJobNearestResponse struct {
	Status  Status    `json:"status"`
	StartTS time.Time `json:"start_ts,omitzero"`
}

type GetJobByIDRequest struct {
	JobID string `json:"job_id"`
}

type GetJobByIDResponse struct {
	Status Status    `json:"status"`
	Job    JobRecord `json:"job"`
}

type GetJobsByNodeIDRequest struct {
	NodeID string `json:"node_id"`
}

type GetJobsByUserIDRequest struct {
	UserID string `json:"user_id"`
}

type GetJobsResponse struct {
	Status Status      `json:"status"`
	Jobs   []JobRecord `json:"jobs"`
}

type DeleteJobByIDRequest struct {
	JobID string `json:"job_id"`
}

type DeleteJobByIDResponse struct {
	Status Status `json:"status"`
}

// --- runs ---

type RunRecord struct {
	ID            string    `json:"id,omitempty"`
	JobID         string    `json:"job_id"`
	NodeID        string    `json:"node_id"`
	OwnerID       string    `json:"owner_id,omitempty"`
	Status        string    `json:"status"`
	StartTS       time.Time `json:"start_ts,omitzero"`
	EndTS         time.Time `json:"end_ts,omitzero"`
	StatusMessage string    `json:"status_message,omitempty"`
	ArtifactURL   string    `json:"artifact_url,omitempty"`
}

// UpdateRunRequest both creates and advances a run: the executor creates
// a run at DEPLOYING by sending JobID/NodeID/OwnerID alongside the first
// status, and advances it thereafter by RunID and Status alone (the
// coordinator rejects a status that cannot legally follow the current
// one; see models.RunStatus.CanTransition).
type UpdateRunRequest struct {
	RunID       string `json:"run_id"`
	JobID       string `json:"job_id,omitempty"`
	NodeID      string `json:"node_id,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	ArtifactURL string `json:"artifact_url,omitempty"`
}

type UpdateRunResponse struct {
	Status Status `json:"status"`
}

type GetRunsRequest struct {
	JobID string `json:"job_id,omitempty"`
}

type GetScheduledRunsRequest struct {
	NodeID string `json:"node_id"`
}

type GetRunsResponse struct {
	Status Status      `json:"status"`
	Runs   []RunRecord `json:"runs"`
}

// --- tasks ---

type TaskRecord struct {
	ID      string `json:"id,omitempty"`
	RunID   string `json:"run_id"`
	JobID   string `json:"job_id"`
	NodeID  string `json:"node_id"`
	Kind    string `json:"kind"`
	Status  string `json:"status,omitempty"`
	TTLSecs int64  `json:"ttl_secs"`
}

type ScheduleTaskRequest struct {
	Task TaskRecord `json:"task"`
}

type ScheduleTaskResponse struct {
	Status Status `json:"status"`
	TaskID string `json:"task_id,omitempty"`
}

type GetTasksRequest struct {
	TaskID string `json:"task_id,omitempty"`
	NodeID string `json:"node_id,omitempty"`
}

type GetTasksResponse struct {
	Status Status       `json:"status"`
	Tasks  []TaskRecord `json:"tasks"`
}

type UpdateTaskRequest struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type UpdateTaskResponse struct {
	Status Status `json:"status"`
}

// --- scavenger ---

type SetScavengerRequest struct {
	NodeID string `json:"node_id"`
	Active bool   `json:"active"`
}

type SetScavengerResponse struct {
	Status Status `json:"status"`
}

type GetScavengerRequest struct {
	NodeID string `json:"node_id"`
}

type GetScavengerResponse struct {
	Status Status `json:"status"`
	Active bool   `json:"active"`
}

// --- global config ---

type GetConfigRequest struct{}

type GetConfigResponse struct {
	Status    Status    `json:"status"`
	Doc       string    `json:"doc"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

type UpdateGlobalConfigRequest struct {
	Doc string `json:"doc"`
}

type UpdateGlobalConfigResponse struct {
	Status Status `json:"status"`
}

// --- kernel_access side service ---

type KernelAccessRequest struct {
	TargetUserID string `json:"target_user_id"`
}

type KernelAccessResponse struct {
	Status  Status `json:"status"`
	Allowed bool   `json:"allowed"`
}
