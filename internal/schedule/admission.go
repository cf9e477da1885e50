package schedule

import (
	"time"

	"github.com/leoscope/leoscope/internal/models"
)

// Decision is the outcome of admitting a candidate job.
type Decision struct {
	Admitted       bool
	OffendingJobID string
	Instant        time.Time
}

// Admit implements the admission algorithm of spec.md section 4.1. Callers
// are responsible for the concurrency-safety half of the contract: existing
// must already be the full, current set of admitted overhead jobs whose
// node_id or paired_server_node_id matches one of candidate's target
// node(s), fetched and this function invoked inside the coordinator's
// per-node admission critical section.
//
// A candidate with Overhead == false is always admitted without
// conflict-checking, per spec.md section 4.1.
func Admit(candidate *models.Job, existing []*models.Job) (Decision, error) {
	if !candidate.Overhead {
		return Decision{Admitted: true}, nil
	}

	candidateOccs, err := EnumerateFirings(candidate)
	if err != nil {
		return Decision{}, err
	}

	var existingOccs []models.Occupancy
	for _, job := range existing {
		if job.ID == candidate.ID {
			continue
		}
		if !sharesNode(candidate, job) {
			continue
		}
		occs, err := EnumerateFirings(job)
		if err != nil {
			// A previously-admitted job with a now-unparseable schedule
			// cannot happen under the invariant that verify_trigger and
			// cron validation run at admission; treat it as non-blocking
			// rather than failing the candidate's admission.
			continue
		}
		existingOccs = append(existingOccs, occs...)
	}

	if _, offender, found := FirstOverlap(candidateOccs, existingOccs); found {
		return Decision{Admitted: false, OffendingJobID: offender.JobID, Instant: offender.Start}, nil
	}

	return Decision{Admitted: true}, nil
}

// sharesNode reports whether two jobs occupy the same physical node,
// accounting for the paired client/server relationship: a job's
// occupancy is visible on both its own node_id and its
// paired_server_node_id.
func sharesNode(a, b *models.Job) bool {
	aNodes := []string{a.NodeID}
	if a.PairedServerNodeID != "" {
		aNodes = append(aNodes, a.PairedServerNodeID)
	}
	bNodes := map[string]bool{b.NodeID: true}
	if b.PairedServerNodeID != "" {
		bNodes[b.PairedServerNodeID] = true
	}
	for _, n := range aNodes {
		if bNodes[n] {
			return true
		}
	}
	return false
}

// RescheduleOutcome mirrors the ErrorCode surface reschedule_job_nearest
// returns.
type RescheduleOutcome struct {
	NewInstant time.Time
	OK         bool
	NoSlot     bool
}

// RescheduleNearest searches forward from `after`, inside the job's
// original validity window, for the earliest one-shot instant that does
// not violate the overlap invariant against existing. Only ATQ jobs are
// supported; callers must reject CRON jobs with UNSUPPORTED before
// calling this.
func RescheduleNearest(job *models.Job, after time.Time, existing []*models.Job, step time.Duration) RescheduleOutcome {
	if step <= 0 {
		step = time.Minute
	}
	length := time.Duration(job.LengthSecs) * time.Second

	for t := after; !t.Add(length).After(job.Validity.End); t = t.Add(step) {
		if t.Before(job.Validity.Start) {
			continue
		}
		candidate := *job
		candidate.OneShotAt = t
		decision, err := Admit(&candidate, existing)
		if err != nil {
			continue
		}
		if decision.Admitted {
			return RescheduleOutcome{NewInstant: t, OK: true}
		}
	}
	return RescheduleOutcome{NoSlot: true}
}
