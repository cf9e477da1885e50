package schedule

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/leoscope/leoscope/internal/models"
)

func genATQJob(nodeID string, base time.Time) gopter.Gen {
	return gen.IntRange(0, 3600).Map(func(offset int) *models.Job {
		start := base.Add(time.Duration(offset) * time.Second)
		return &models.Job{
			ID:         "job",
			NodeID:     nodeID,
			Kind:       models.JobKindAtq,
			OneShotAt:  start,
			LengthSecs: 60,
			Overhead:   true,
			Validity:   models.Validity{Start: base, End: base.Add(2 * time.Hour)},
		}
	})
}

// TestNoOverlapAmongAdmittedJobs checks the core invariant of section 8:
// once a job is admitted against a set of existing occupancies, its
// occupancies never overlap any of them.
func TestNoOverlapAmongAdmittedJobs(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	props := gopter.NewProperties(nil)

	props.Property("admitted candidate never overlaps existing occupancies", prop.ForAll(
		func(candidate *models.Job, existingStart int) bool {
			existing := &models.Job{
				ID:         "existing",
				NodeID:     "n1",
				Kind:       models.JobKindAtq,
				OneShotAt:  base.Add(time.Duration(existingStart) * time.Second),
				LengthSecs: 60,
				Overhead:   true,
				Validity:   models.Validity{Start: base, End: base.Add(2 * time.Hour)},
			}
			decision, err := Admit(candidate, []*models.Job{existing})
			if err != nil {
				return true
			}
			if !decision.Admitted {
				return true
			}
			candOccs, _ := EnumerateFirings(candidate)
			existOccs, _ := EnumerateFirings(existing)
			_, _, overlap := FirstOverlap(candOccs, existOccs)
			return !overlap
		},
		genATQJob("n1", base),
		gen.IntRange(0, 3600),
	))

	props.TestingRun(t)
}

func TestTouchingIntervalsAdmitted(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &models.Job{
		ID: "a", NodeID: "n1", Kind: models.JobKindAtq,
		OneShotAt: base, LengthSecs: 300, Overhead: true,
		Validity: models.Validity{Start: base, End: base.Add(time.Hour)},
	}
	// touches a's occupancy exactly at its end
	b := &models.Job{
		ID: "b", NodeID: "n1", Kind: models.JobKindAtq,
		OneShotAt: base.Add(300 * time.Second), LengthSecs: 60, Overhead: true,
		Validity: models.Validity{Start: base, End: base.Add(time.Hour)},
	}

	decision, err := Admit(b, []*models.Job{a})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Admitted {
		t.Fatalf("touching interval should be admitted, got conflict with %s at %s", decision.OffendingJobID, decision.Instant)
	}
}

func TestOverlappingIntervalRejected(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &models.Job{
		ID: "a", NodeID: "n1", Kind: models.JobKindAtq,
		OneShotAt: base, LengthSecs: 300, Overhead: true,
		Validity: models.Validity{Start: base, End: base.Add(time.Hour)},
	}
	b := &models.Job{
		ID: "b", NodeID: "n1", Kind: models.JobKindAtq,
		OneShotAt: base.Add(299 * time.Second), LengthSecs: 60, Overhead: true,
		Validity: models.Validity{Start: base, End: base.Add(time.Hour)},
	}

	decision, err := Admit(b, []*models.Job{a})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Admitted {
		t.Fatalf("overlapping interval should be rejected")
	}
	if decision.OffendingJobID != "a" {
		t.Fatalf("expected offender a, got %s", decision.OffendingJobID)
	}
}

func TestCronFiringOutsideValiditySkipped(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	job := &models.Job{
		ID: "cron", NodeID: "n1", Kind: models.JobKindCron,
		CronExpr: "*/10 * * * *", LengthSecs: 300, Overhead: true,
		Validity: models.Validity{Start: base, End: base.Add(time.Hour)},
	}
	occs, err := EnumerateFirings(job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, o := range occs {
		if o.Start.Before(job.Validity.Start) || o.End.After(job.Validity.End) {
			t.Fatalf("firing %+v escapes validity window", o)
		}
	}
}
