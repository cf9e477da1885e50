package cleanup

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/leoscope/leoscope/internal/podman"
)

// *For any* cleanup operation, resources (containers, images) within their
// configured retention period SHALL be preserved.

func TestCleanupRetentionEnforcement(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("containers within retention period are preserved", prop.ForAll(
		func(retentionHours int, containerAgeHours int) bool {
			retention := time.Duration(retentionHours) * time.Hour
			containerAge := time.Duration(containerAgeHours) * time.Hour

			stoppedAt := time.Now().Add(-containerAge)
			cutoff := time.Now().Add(-retention)

			shouldPreserve := !stoppedAt.Before(cutoff)
			wouldRemove := stoppedAt.Before(cutoff)

			return shouldPreserve == !wouldRemove
		},
		gen.IntRange(1, 168), // retention: 1-168 hours (1 week max)
		gen.IntRange(0, 336), // container age: 0-336 hours (2 weeks max)
	))

	properties.Property("images within retention period are preserved", prop.ForAll(
		func(retentionDays int, imageAgeDays int) bool {
			retention := time.Duration(retentionDays) * 24 * time.Hour
			imageAge := time.Duration(imageAgeDays) * 24 * time.Hour

			createdAt := time.Now().Add(-imageAge)
			cutoff := time.Now().Add(-retention)

			shouldPreserve := !createdAt.Before(cutoff)
			wouldRemove := createdAt.Before(cutoff)

			return shouldPreserve == !wouldRemove
		},
		gen.IntRange(1, 30), // retention: 1-30 days
		gen.IntRange(0, 60), // image age: 0-60 days
	))

	properties.TestingRun(t)
}

// Tests that images referenced by a job still assigned to the node are
// never removed regardless of age.
func TestActiveImagesPreserved(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("images referenced by an active job are never removed", prop.ForAll(
		func(imageID string, isActive bool, imageAgeDays int) bool {
			if imageID == "" {
				return true
			}

			imageAge := time.Duration(imageAgeDays) * 24 * time.Hour
			createdAt := time.Now().Add(-imageAge)

			activeImages := make(map[string]bool)
			if isActive {
				activeImages[imageID] = true
			}

			img := podman.ImageInfo{
				ID:        imageID,
				Tags:      []string{imageID + ":latest"},
				CreatedAt: createdAt,
			}

			active := isImageActive(img, activeImages)

			if isActive {
				return active == true
			}
			return active == false
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 && len(s) < 64 }),
		gen.Bool(),
		gen.IntRange(0, 365), // image age in days
	))

	properties.TestingRun(t)
}

// TestSettingsValidation tests that settings validation works correctly.
func TestSettingsValidation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("positive retention periods are valid", prop.ForAll(
		func(containerHours, imageHours int) bool {
			if containerHours <= 0 || imageHours <= 0 {
				return true // skip invalid inputs
			}

			settings := &Settings{
				ContainerRetention: time.Duration(containerHours) * time.Hour,
				ImageRetention:     time.Duration(imageHours) * time.Hour,
			}

			return settings.Validate() == nil
		},
		gen.IntRange(1, 168), // container retention hours
		gen.IntRange(1, 720), // image retention hours
	))

	properties.Property("non-positive retention periods are invalid", prop.ForAll(
		func(containerHours, imageHours int) bool {
			settings := &Settings{
				ContainerRetention: time.Duration(containerHours) * time.Hour,
				ImageRetention:     time.Duration(imageHours) * time.Hour,
			}

			err := settings.Validate()
			hasNonPositive := containerHours <= 0 || imageHours <= 0

			if hasNonPositive {
				return err != nil
			}
			return err == nil
		},
		gen.IntRange(-10, 10), // container retention hours (can be negative)
		gen.IntRange(-10, 10), // image retention hours
	))

	properties.TestingRun(t)
}
