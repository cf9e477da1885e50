package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"
)

// DiskUsage reports the total and available bytes on the filesystem backing
// a path, and the fraction currently in use.
type DiskUsage struct {
	Path         string
	Total        int64
	Available    int64
	UsagePercent float64
}

// statDiskUsage reads filesystem-level usage for path directly from the
// kernel, mirroring the same syscall.Statfs pattern narvana's own server
// stats handler uses for reporting root disk usage.
func statDiskUsage(path string) (DiskUsage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return DiskUsage{}, fmt.Errorf("statfs %s: %w", path, err)
	}

	total := int64(stat.Blocks) * int64(stat.Bsize)
	available := int64(stat.Bavail) * int64(stat.Bsize)
	used := total - available

	var usagePercent float64
	if total > 0 {
		usagePercent = float64(used) / float64(total) * 100
	}

	return DiskUsage{Path: path, Total: total, Available: available, UsagePercent: usagePercent}, nil
}

// DiskMonitor watches the disk usage of a node agent's workdir root — where
// every run's per-job/per-run working directory and captured artifacts
// live — and reacts to sustained pressure by running the cleanup service.
// It has no coordinator dependency: everything it checks and acts on is
// local to the node.
type DiskMonitor struct {
	workdirRoot    string
	cleanupService *Service
	keepWorkdirs   int
	logger         *slog.Logger
}

// NewDiskMonitor creates a disk monitor for workdirRoot. keepWorkdirs bounds
// how many run workdirs PruneWorkdirs retains once the critical threshold is
// crossed.
func NewDiskMonitor(workdirRoot string, cleanupSvc *Service, keepWorkdirs int, logger *slog.Logger) *DiskMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if keepWorkdirs <= 0 {
		keepWorkdirs = 50
	}
	return &DiskMonitor{
		workdirRoot:    workdirRoot,
		cleanupService: cleanupSvc,
		keepWorkdirs:   keepWorkdirs,
		logger:         logger,
	}
}

// Check reads current workdir disk usage and, above DiskCriticalPercent,
// runs container, image, and workdir cleanup in sequence. Returns the usage
// observed and whether cleanup was triggered.
func (m *DiskMonitor) Check(ctx context.Context) (DiskUsage, bool, error) {
	usage, err := statDiskUsage(m.workdirRoot)
	if err != nil {
		return DiskUsage{}, false, err
	}

	switch {
	case usage.UsagePercent >= DiskCriticalPercent:
		m.logger.Error("workdir disk usage critical, running cleanup",
			"path", usage.Path, "usage_percent", usage.UsagePercent, "threshold", DiskCriticalPercent)
		m.runCleanup(ctx)
		return usage, true, nil
	case usage.UsagePercent >= DiskWarningPercent:
		m.logger.Warn("workdir disk usage high",
			"path", usage.Path, "usage_percent", usage.UsagePercent, "threshold", DiskWarningPercent)
	}

	return usage, false, nil
}

func (m *DiskMonitor) runCleanup(ctx context.Context) {
	if m.cleanupService == nil {
		m.logger.Warn("no cleanup service configured, skipping automatic cleanup")
		return
	}

	if result, err := m.cleanupService.CleanupContainers(ctx); err != nil {
		m.logger.Error("automatic container cleanup failed", "error", err)
	} else {
		m.logger.Info("automatic container cleanup completed", "items_removed", result.ItemsRemoved)
	}

	if result, err := m.cleanupService.CleanupImages(ctx); err != nil {
		m.logger.Error("automatic image cleanup failed", "error", err)
	} else {
		m.logger.Info("automatic image cleanup completed", "items_removed", result.ItemsRemoved)
	}

	result, err := m.cleanupService.PruneWorkdirs(m.workdirRoot, m.keepWorkdirs)
	if err != nil {
		m.logger.Error("automatic workdir pruning failed", "error", err)
		return
	}
	m.logger.Info("automatic workdir pruning completed", "items_removed", result.ItemsRemoved, "kept", m.keepWorkdirs)
}
