package models

import "time"

// TaskKind is the fixed set of rendezvous task kinds. Only SERVER_SETUP is
// defined by the spec today; the type leaves room for future kinds without
// widening the trigger/RPC surface.
type TaskKind string

const (
	TaskKindServerSetup TaskKind = "SERVER_SETUP"
)

// TaskStatus tracks a rendezvous task through completion.
type TaskStatus string

const (
	TaskPending  TaskStatus = "PENDING"
	TaskComplete TaskStatus = "COMPLETE"
	TaskFailed   TaskStatus = "FAILED"
)

// Task is a short-lived cross-node coordination record used to rendezvous
// a client job with the server-side setup it depends on.
type Task struct {
	ID        string     `json:"id"`
	RunID     string     `json:"run_id"`
	JobID     string     `json:"job_id"`
	NodeID    string     `json:"node_id"`
	Kind      TaskKind   `json:"kind"`
	Status    TaskStatus `json:"status"`
	TTLSecs   int64      `json:"ttl_secs"`
	CreatedAt time.Time  `json:"created_ts"`
}

// IsDead reports whether the task has outlived its TTL and must be treated
// as dead on read, per spec section 4.5 (no background sweeper).
func (t Task) IsDead(now time.Time) bool {
	return now.After(t.CreatedAt.Add(time.Duration(t.TTLSecs) * time.Second))
}
