// Package monitors implements the node agent's environmental monitors
// (C8): independent background producers that write typed observations
// into a shared key/value snapshot for the trigger evaluator (C2) to read.
package monitors

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leoscope/leoscope/internal/trigger"
)

// Source produces one reading of typed key/value pairs. A Source never
// blocks the shared snapshot directly; a Monitor copies its result in.
type Source interface {
	Read(ctx context.Context) (map[string]trigger.Value, error)
}

// Monitor runs a single Source on its own cadence. Per spec.md section
// 4.8, monitors never cause run transitions and must be crash-isolated
// from the scheduler loop: a failing or panicking read leaves the last
// known values in the snapshot untouched rather than propagating.
type Monitor struct {
	Name     string
	Interval time.Duration

	source   Source
	snapshot *trigger.Snapshot
	logger   *slog.Logger
}

// New constructs a Monitor. snapshot is shared across every monitor in a
// Set so trigger expressions can reference keys written by any of them.
func New(name string, interval time.Duration, source Source, snapshot *trigger.Snapshot, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{Name: name, Interval: interval, source: source, snapshot: snapshot, logger: logger}
}

// Run polls source on Interval until ctx is cancelled, taking one reading
// immediately before the first tick.
func (m *Monitor) Run(ctx context.Context) {
	m.tick(ctx)

	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitor panicked, keeping last known values", "monitor", m.Name, "panic", r)
		}
	}()

	values, err := m.source.Read(ctx)
	if err != nil {
		m.logger.Warn("monitor read failed, keeping last known values", "monitor", m.Name, "error", err)
		return
	}
	for k, v := range values {
		m.snapshot.Set(k, v)
	}
}

// Set aggregates every registered monitor's writes into one shared
// snapshot and implements agent.SnapshotSource for the node scheduler.
type Set struct {
	snapshot *trigger.Snapshot
	logger   *slog.Logger

	mu       sync.Mutex
	monitors []*Monitor
}

// NewSet returns an empty Set backed by a fresh snapshot.
func NewSet(logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{snapshot: trigger.NewSnapshot(), logger: logger}
}

// Add registers a monitor and returns it, so callers (production wiring,
// or the `leoctl monitor replay` debug command) can swap its Source before
// Run starts.
func (s *Set) Add(name string, interval time.Duration, source Source) *Monitor {
	m := New(name, interval, source, s.snapshot, s.logger)
	s.mu.Lock()
	s.monitors = append(s.monitors, m)
	s.mu.Unlock()
	return m
}

// Snapshot returns the shared snapshot every registered monitor writes
// into, satisfying agent.SnapshotSource.
func (s *Set) Snapshot() *trigger.Snapshot {
	return s.snapshot
}

// Run launches every registered monitor as an independent background
// worker (spec.md section 5) and blocks until ctx is cancelled.
func (s *Set) Run(ctx context.Context) {
	s.mu.Lock()
	monitors := make([]*Monitor, len(s.monitors))
	copy(monitors, s.monitors)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range monitors {
		wg.Add(1)
		go func(m *Monitor) {
			defer wg.Done()
			m.Run(ctx)
		}(m)
	}
	wg.Wait()
}
