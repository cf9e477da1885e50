package terminal

import (
	"context"
	"fmt"

	"github.com/leoscope/leoscope/internal/models"
	"github.com/leoscope/leoscope/internal/podman"
	"github.com/leoscope/leoscope/internal/store"
)

// PodmanRunLookup answers RunLookup queries directly against the local
// podman socket by container label, for node agents that hold no
// metadata store of their own. A run is reported RUNNING only while a
// container tagged leotest=true,runid=<id> is actually up; anything else
// is reported not found rather than guessed at, since the agent keeps no
// record of a run once its container is gone.
type PodmanRunLookup struct {
	podman *podman.Client
}

// NewPodmanRunLookup wraps pd as a RunLookup for a node agent's terminal
// service.
func NewPodmanRunLookup(pd *podman.Client) *PodmanRunLookup {
	return &PodmanRunLookup{podman: pd}
}

func (l *PodmanRunLookup) GetByID(ctx context.Context, id string) (*models.Run, error) {
	containers, err := l.podman.ListRunningContainers(ctx, map[string]string{"leotest": "true", "runid": id})
	if err != nil {
		return nil, fmt.Errorf("listing containers for run %s: %w", id, err)
	}
	if len(containers) == 0 {
		return nil, store.ErrNotFound
	}
	return &models.Run{ID: id, Status: models.RunRunning}, nil
}
