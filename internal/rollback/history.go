package rollback

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/rollforge/pkg/models"
)

// Record is one rollback attempt, grounded on original_source's
// DeploymentHistory/RollbackManager and the other_examples Go deployer's
// DeploymentHistory/RollbackTrigger shape.
type Record struct {
	DeploymentID uuid.UUID
	Trigger      models.RollbackTriggerKind
	AssetIDs     []uuid.UUID
	Entries      []models.RollbackLogEntry
	Decision     *models.RollbackDecision // nil for manual/timeout triggers
	AttemptedAt  time.Time
}

// Succeeded reports whether every asset in the record rolled back cleanly.
func (r Record) Succeeded() bool {
	for _, e := range r.Entries {
		if e.Status != models.RollbackStatusRolledBack {
			return false
		}
	}
	return len(r.Entries) > 0
}

// History is an append-only log of rollback attempts, keyed for lookup by
// deployment id. It holds one writer's worth of state in memory; a
// Coordinator that needs durability appends the same records to its
// injected persistence port separately.
type History struct {
	mu      sync.Mutex
	records []Record
	byDep   map[uuid.UUID][]int // deployment id -> indices into records
}

// NewHistory creates an empty rollback history.
func NewHistory() *History {
	return &History{byDep: make(map[uuid.UUID][]int)}
}

// Append records one rollback attempt.
func (h *History) Append(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byDep[r.DeploymentID] = append(h.byDep[r.DeploymentID], len(h.records))
	h.records = append(h.records, r)
}

// ForDeployment returns every recorded rollback attempt for a deployment,
// oldest first.
func (h *History) ForDeployment(deploymentID uuid.UUID) []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	idxs := h.byDep[deploymentID]
	out := make([]Record, len(idxs))
	for i, idx := range idxs {
		out[i] = h.records[idx]
	}
	return out
}

// All returns every recorded rollback attempt, oldest first.
func (h *History) All() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Record(nil), h.records...)
}

// GetLastSuccessfulDeployment returns the most recent deployment id that
// this history has no failed/partial rollback attempt recorded against,
// scanning newest first. It's a convenience for manual-rollback callers
// who don't have a specific prior deployment id in hand; the Coordinator
// is expected to cross-reference this against its own deployment log for
// the actual asset/patch state to restore.
func (h *History) GetLastSuccessfulDeployment(candidates []uuid.UUID) (uuid.UUID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	failed := make(map[uuid.UUID]bool)
	for _, r := range h.records {
		if !r.Succeeded() {
			failed[r.DeploymentID] = true
		}
	}

	for i := len(candidates) - 1; i >= 0; i-- {
		if !failed[candidates[i]] {
			return candidates[i], true
		}
	}
	return uuid.Nil, false
}

// RollbackToLastSuccessful runs the Executor's rollback against the given
// deployment's recorded asset/patch state, recording the attempt under the
// manual trigger kind. Callers resolve targetDeploymentID via
// GetLastSuccessfulDeployment or by supplying one directly.
func (h *History) RollbackToLastSuccessful(ctx context.Context, exec *Executor, targetDeploymentID uuid.UUID, patch models.Patch, assets []models.Asset) []models.RollbackLogEntry {
	entries := exec.Run(ctx, targetDeploymentID.String(), patch, assets)
	h.Append(Record{
		DeploymentID: targetDeploymentID,
		Trigger:      models.RollbackTriggerManual,
		AssetIDs:     assetIDsFrom(assets),
		Entries:      entries,
		AttemptedAt:  time.Now(),
	})
	return entries
}

func assetIDsFrom(assets []models.Asset) []uuid.UUID {
	ids := make([]uuid.UUID, len(assets))
	for i, a := range assets {
		ids[i] = a.ID
	}
	return ids
}
