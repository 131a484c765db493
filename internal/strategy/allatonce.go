package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/rollforge/pkg/models"
)

// AllAtOnceStrategy dispatches every host in parallel, bounded by
// max_concurrency. Terminal status is `completed` if any host succeeded
// (partial success still completes; rollback decisions live elsewhere) and
// `failed` only if every host failed.
type AllAtOnceStrategy struct {
	deps Deps
}

// NewAllAtOnce creates an all-at-once strategy.
func NewAllAtOnce(deps Deps) *AllAtOnceStrategy {
	return &AllAtOnceStrategy{deps: deps}
}

func (s *AllAtOnceStrategy) Kind() Kind { return AllAtOnce }

func (s *AllAtOnceStrategy) Validate(assets []models.Asset, params map[string]any) error {
	if len(assets) == 0 {
		return fmt.Errorf("all_at_once: no assets supplied")
	}
	return nil
}

func (s *AllAtOnceStrategy) Execute(ctx context.Context, deploymentID string, patch models.Patch, assets []models.Asset, params map[string]any) (*Result, error) {
	start := time.Now()

	outcomes := fanOut(ctx, assets, s.deps.Opts.MaxConcurrency, func(ctx context.Context, asset models.Asset) models.AssetOutcome {
		return runHost(ctx, s.deps, deploymentID, 0, asset, patch)
	})

	succeeded := countSuccesses(outcomes)
	status := models.DeploymentCompleted
	if succeeded == 0 {
		status = models.DeploymentFailed
	}

	return &Result{
		Status:   status,
		Outcomes: outcomes,
		Batches: []models.BatchSummary{{
			Index:      0,
			AssetIDs:   assetIDs(assets),
			Succeeded:  succeeded,
			Failed:     countFailures(outcomes),
			StartedAt:  start,
			FinishedAt: time.Now(),
		}},
		Duration: time.Since(start),
	}, nil
}

func assetIDs(assets []models.Asset) []uuid.UUID {
	ids := make([]uuid.UUID, len(assets))
	for i, a := range assets {
		ids[i] = a.ID
	}
	return ids
}
