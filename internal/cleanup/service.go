// Package cleanup provides automatic cleanup of stopped containers, unused
// images, and old run working directories on a node agent.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/leoscope/leoscope/internal/podman"
)

// Default retention periods and workdir thresholds.
const (
	DefaultContainerRetention = 24 * time.Hour
	DefaultImageRetention     = 7 * 24 * time.Hour

	// DiskWarningPercent logs a warning once the workdir filesystem is this
	// full.
	DiskWarningPercent = 80.0
	// DiskCriticalPercent triggers oldest-first workdir pruning once the
	// workdir filesystem is this full.
	DiskCriticalPercent = 90.0
)

// Settings holds cleanup configuration.
type Settings struct {
	ContainerRetention time.Duration `json:"container_retention"`
	ImageRetention      time.Duration `json:"image_retention"`
}

// Validate validates that all retention periods have positive values.
func (s *Settings) Validate() error {
	if s.ContainerRetention <= 0 {
		return fmt.Errorf("container_retention must be positive, got %v", s.ContainerRetention)
	}
	if s.ImageRetention <= 0 {
		return fmt.Errorf("image_retention must be positive, got %v", s.ImageRetention)
	}
	return nil
}

// DefaultSettings returns the built-in retention defaults.
func DefaultSettings() *Settings {
	return &Settings{
		ContainerRetention: DefaultContainerRetention,
		ImageRetention:     DefaultImageRetention,
	}
}

// ActiveImageSource reports the set of container images currently referenced
// by jobs assigned to this node, so image cleanup never removes an image a
// scheduled or running job still needs. Satisfied by agent.Client's
// GetJobsByNodeID in production wiring.
type ActiveImageSource interface {
	ActiveImages(ctx context.Context) (map[string]bool, error)
}

// CleanupResult holds the result of a cleanup operation.
type CleanupResult struct {
	ItemsRemoved int           `json:"items_removed"`
	Errors       []string      `json:"errors,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Service manages automatic cleanup of containers and images on the local
// podman store.
type Service struct {
	podman   *podman.Client
	images   ActiveImageSource
	logger   *slog.Logger
	settings *Settings
}

// NewService creates a new cleanup service. images may be nil, in which
// case CleanupImages preserves nothing and removes every image past its
// retention window.
func NewService(podmanClient *podman.Client, images ActiveImageSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		podman:   podmanClient,
		images:   images,
		logger:   logger,
		settings: DefaultSettings(),
	}
}

// SetSettings replaces the retention settings after validating them.
func (s *Service) SetSettings(settings *Settings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	s.settings = settings
	return nil
}

// GetSettings returns the current cleanup settings.
func (s *Service) GetSettings() *Settings {
	return s.settings
}

// CleanupContainers removes stopped containers older than the configured
// retention period.
func (s *Service) CleanupContainers(ctx context.Context) (*CleanupResult, error) {
	start := time.Now()
	result := &CleanupResult{}
	cutoff := time.Now().Add(-s.settings.ContainerRetention)

	containers, err := s.podman.ListStoppedContainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing stopped containers: %w", err)
	}

	for _, container := range containers {
		if !container.StoppedAt.Before(cutoff) {
			continue
		}
		if err := s.podman.RemoveContainer(ctx, container.ID); err != nil {
			s.logger.Error("failed to remove container", "name", container.Name, "id", container.ID, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("failed to remove container %s: %v", container.Name, err))
			continue
		}
		result.ItemsRemoved++
	}

	result.Duration = time.Since(start)
	s.logger.Info("container cleanup completed", "removed", result.ItemsRemoved, "errors", len(result.Errors), "duration", result.Duration)
	return result, nil
}

// CleanupImages removes images older than the configured retention period,
// skipping any image referenced by a job still assigned to this node.
func (s *Service) CleanupImages(ctx context.Context) (*CleanupResult, error) {
	start := time.Now()
	result := &CleanupResult{}
	cutoff := time.Now().Add(-s.settings.ImageRetention)

	activeImages := map[string]bool{}
	if s.images != nil {
		active, err := s.images.ActiveImages(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting active images: %w", err)
		}
		activeImages = active
	}

	images, err := s.podman.ListImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}

	for _, img := range images {
		if isImageActive(img, activeImages) {
			continue
		}
		if img.CreatedAt.Before(cutoff) {
			if err := s.podman.RemoveImage(ctx, img.ID); err != nil {
				s.logger.Error("failed to remove image", "id", img.ID, "tags", img.Tags, "error", err)
				result.Errors = append(result.Errors, fmt.Sprintf("failed to remove image %s: %v", img.ID, err))
				continue
			}
			result.ItemsRemoved++
		}
	}

	result.Duration = time.Since(start)
	s.logger.Info("image cleanup completed", "removed", result.ItemsRemoved, "errors", len(result.Errors), "duration", result.Duration)
	return result, nil
}

func isImageActive(img podman.ImageInfo, activeImages map[string]bool) bool {
	if activeImages[img.ID] {
		return true
	}
	for _, tag := range img.Tags {
		if activeImages[tag] {
			return true
		}
	}
	return false
}

// PruneWorkdirs removes the oldest per-run working directories under root
// (workdir/job_id/run_id) until the total count of remaining entries is at
// or below keepCount, or there is nothing left to remove. Age is taken from
// each directory's modification time, since the executor stops touching a
// run's workdir once it reaches a terminal status, making mtime a reliable
// oldest-first proxy without a round trip to the coordinator.
func (s *Service) PruneWorkdirs(root string, keepCount int) (*CleanupResult, error) {
	start := time.Now()
	result := &CleanupResult{}

	entries, err := workdirEntries(root)
	if err != nil {
		return nil, fmt.Errorf("listing workdirs under %s: %w", root, err)
	}

	if len(entries) <= keepCount {
		result.Duration = time.Since(start)
		return result, nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].modTime.Before(entries[j].modTime) })

	toRemove := entries[:len(entries)-keepCount]
	for _, e := range toRemove {
		if err := os.RemoveAll(e.path); err != nil {
			s.logger.Error("failed to remove workdir", "path", e.path, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("failed to remove %s: %v", e.path, err))
			continue
		}
		result.ItemsRemoved++
	}

	result.Duration = time.Since(start)
	s.logger.Info("workdir pruning completed", "removed", result.ItemsRemoved, "kept", keepCount, "errors", len(result.Errors))
	return result, nil
}

type workdirEntry struct {
	path    string
	modTime time.Time
}

// workdirEntries walks root/<job_id>/<run_id> two levels deep and returns
// every run directory found.
func workdirEntries(root string) ([]workdirEntry, error) {
	jobDirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []workdirEntry
	for _, jobDir := range jobDirs {
		if !jobDir.IsDir() {
			continue
		}
		jobPath := filepath.Join(root, jobDir.Name())
		runDirs, err := os.ReadDir(jobPath)
		if err != nil {
			continue
		}
		for _, runDir := range runDirs {
			if !runDir.IsDir() {
				continue
			}
			info, err := runDir.Info()
			if err != nil {
				continue
			}
			entries = append(entries, workdirEntry{path: filepath.Join(jobPath, runDir.Name()), modTime: info.ModTime()})
		}
	}
	return entries, nil
}
