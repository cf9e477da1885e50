package models

import "time"

// JobKind distinguishes recurring jobs from one-shot jobs.
type JobKind string

const (
	JobKindCron JobKind = "CRON"
	JobKindAtq  JobKind = "ATQ"
)

func (k JobKind) IsValid() bool {
	return k == JobKindCron || k == JobKindAtq
}

// JobParams names the four opaque handles a job carries for the executor:
// the container image used at each lifecycle step. Deploy/Finish are
// optional side-images (default: no-op); Execute is mandatory.
type JobParams struct {
	Mode    string `json:"mode,omitempty"`
	Deploy  string `json:"deploy,omitempty"`
	Execute string `json:"execute"`
	Finish  string `json:"finish,omitempty"`
}

// Validity bounds the half-open time window a job's firings must fall
// entirely within.
type Validity struct {
	Start time.Time `json:"start_ts"`
	End   time.Time `json:"end_ts"`
}

// Job is a scheduled unit of work targeting a single node (or a pair of
// nodes, for client/server experiments).
type Job struct {
	ID      string  `json:"id"`
	NodeID  string  `json:"node_id"`
	OwnerID string  `json:"owner_id"`
	Kind    JobKind `json:"kind"`

	// CronExpr is set when Kind == JobKindCron, a standard 5-field
	// expression enumerated by the schedule package.
	CronExpr string `json:"schedule,omitempty"`
	// OneShotAt is set when Kind == JobKindAtq: the job's single firing
	// instant.
	OneShotAt time.Time `json:"one_shot_at,omitzero"`

	Validity   Validity `json:"validity"`
	LengthSecs int64    `json:"length_secs"`
	Overhead   bool     `json:"overhead"`

	// PairedServerNodeID, when set, names the node that must run a
	// SERVER_SETUP task before this job (the client side) starts.
	PairedServerNodeID string `json:"paired_server_node_id,omitempty"`

	// Trigger is a boolean expression in the fixed grammar; empty means
	// "always fire".
	Trigger string `json:"trigger,omitempty"`

	// Config is an opaque blob materialized into the run's workdir at
	// DEPLOYING time. May be age-encrypted at rest (see internal/secrets).
	Config string `json:"config,omitempty"`

	Params    JobParams `json:"params"`
	CreatedAt time.Time `json:"created_at"`
}

// Occupancy is the half-open interval [Start, Start+LengthSecs) a single
// firing of a job occupies on its node(s).
type Occupancy struct {
	JobID string
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals intersect. Touching
// intervals (a.End == b.Start) do not overlap.
func (o Occupancy) Overlaps(other Occupancy) bool {
	return o.Start.Before(other.End) && other.Start.Before(o.End)
}
