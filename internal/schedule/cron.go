package schedule

import (
	"fmt"
	"time"

	"github.com/leoscope/leoscope/internal/models"
	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard 5-field expression (no seconds field,
// no macros), matching the grammar spec.md names for CRON jobs.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron validates a cron expression without enumerating it, used at
// admission time to reject malformed schedules with INVALID.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// EnumerateFirings walks a job's schedule forward across its validity
// window and returns the occupancy each firing produces. A CRON firing is
// counted only if it starts at or after validity.Start and its full
// [start, start+length) interval ends at or before validity.End; a firing
// landing exactly on the boundary is included since the window is
// half-open on the end. An ATQ job produces exactly one occupancy, its
// single window.
func EnumerateFirings(job *models.Job) ([]models.Occupancy, error) {
	length := time.Duration(job.LengthSecs) * time.Second

	switch job.Kind {
	case models.JobKindAtq:
		start := job.OneShotAt
		occ := models.Occupancy{JobID: job.ID, Start: start, End: start.Add(length)}
		if !WithinValidity(occ, job.Validity) {
			return nil, nil
		}
		return []models.Occupancy{occ}, nil

	case models.JobKindCron:
		sched, err := ParseCron(job.CronExpr)
		if err != nil {
			return nil, err
		}
		var occs []models.Occupancy
		// robfig/cron.Schedule.Next is exclusive of its argument, so back
		// up one tick to allow a firing exactly at validity.Start.
		cursor := job.Validity.Start.Add(-time.Second)
		for {
			next := sched.Next(cursor)
			if next.IsZero() || next.Before(job.Validity.Start) {
				break
			}
			occ := models.Occupancy{JobID: job.ID, Start: next, End: next.Add(length)}
			if occ.End.After(job.Validity.End) {
				break
			}
			occs = append(occs, occ)
			cursor = next
		}
		return occs, nil

	default:
		return nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// NextFiring returns the first firing at or after `after` that stays
// within the job's own validity window, or the zero time if none exists.
// Used by reschedule_job_nearest for ATQ jobs and by the node scheduler
// loop to arm a one-shot timer.
func NextFiring(job *models.Job, after time.Time) (time.Time, bool) {
	switch job.Kind {
	case models.JobKindAtq:
		length := time.Duration(job.LengthSecs) * time.Second
		if job.OneShotAt.Before(after) {
			return time.Time{}, false
		}
		occ := models.Occupancy{Start: job.OneShotAt, End: job.OneShotAt.Add(length)}
		if !WithinValidity(occ, job.Validity) {
			return time.Time{}, false
		}
		return job.OneShotAt, true
	case models.JobKindCron:
		occs, err := EnumerateFirings(job)
		if err != nil {
			return time.Time{}, false
		}
		for _, o := range occs {
			if !o.Start.Before(after) {
				return o.Start, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
