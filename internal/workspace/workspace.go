package workspace

import (
	"context"

	"portrait-studio-orchestrator/internal/models"
)

// Snapshot is the full durable state of the studio: sources, jobs, and
// the operator's current options.
type Snapshot struct {
	Sources []models.Source `json:"sources"`
	Jobs    []models.Job    `json:"jobs"`
	Options models.Options  `json:"options"`
}

// Store persists workspace snapshots. Durability is best-effort; save
// failures are logged by the bridge, never propagated as fatal.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, bool, error)
	Clear(ctx context.Context) error
}

// Restore normalizes a loaded snapshot for a fresh process: jobs caught
// mid-flight by the previous shutdown go back to pending so their work is
// not stranded.
func Restore(snap Snapshot) Snapshot {
	for i, j := range snap.Jobs {
		if j.Status == models.StatusProcessing {
			j.Status = models.StatusPending
			snap.Jobs[i] = j
		}
	}
	return snap
}
