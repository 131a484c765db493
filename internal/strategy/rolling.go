package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/quantumlayerhq/rollforge/pkg/models"
)

// RollingParams are the strategy-specific tunables, parsed out of the
// untyped Deployment.StrategyParams map.
type RollingParams struct {
	BatchFraction      float64
	WaitBetweenBatches time.Duration
	MaxFailures        int
	ContinueOnError    bool
}

func parseRollingParams(params map[string]any) RollingParams {
	p := RollingParams{
		BatchFraction:      1.0,
		WaitBetweenBatches: 0,
		MaxFailures:        1,
		ContinueOnError:    false,
	}
	if v, ok := params["batch_fraction"].(float64); ok && v > 0 && v <= 1 {
		p.BatchFraction = v
	}
	if v, ok := params["wait_between_batches"].(float64); ok && v >= 0 {
		p.WaitBetweenBatches = time.Duration(v) * time.Second
	}
	if v, ok := params["max_failures"].(float64); ok && v >= 0 {
		p.MaxFailures = int(v)
	}
	if v, ok := params["continue_on_error"].(bool); ok {
		p.ContinueOnError = v
	}
	return p
}

// RollingStrategy deploys to the asset list in sequential, contiguous
// batches, stopping early once cumulative failures reach the configured
// threshold unless continue_on_error is set.
type RollingStrategy struct {
	deps Deps
}

// NewRolling creates a rolling strategy.
func NewRolling(deps Deps) *RollingStrategy {
	return &RollingStrategy{deps: deps}
}

func (s *RollingStrategy) Kind() Kind { return Rolling }

func (s *RollingStrategy) Validate(assets []models.Asset, params map[string]any) error {
	if len(assets) == 0 {
		return fmt.Errorf("rolling: no assets supplied")
	}
	p := parseRollingParams(params)
	if p.BatchFraction <= 0 || p.BatchFraction > 1 {
		return fmt.Errorf("rolling: batch_fraction must be in (0,1], got %v", p.BatchFraction)
	}
	return nil
}

func (s *RollingStrategy) Execute(ctx context.Context, deploymentID string, patch models.Patch, assets []models.Asset, params map[string]any) (*Result, error) {
	p := parseRollingParams(params)
	start := time.Now()

	batches := partitionBatches(assets, p.BatchFraction)

	var allOutcomes []models.AssetOutcome
	var batchSummaries []models.BatchSummary
	cumulativeFailures := 0
	status := models.DeploymentCompleted
	stoppedAt := len(batches)

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			status = models.DeploymentFailed
			stoppedAt = i
			break
		}

		batchStart := time.Now()
		outcomes := fanOut(ctx, batch, s.deps.Opts.MaxConcurrency, func(ctx context.Context, asset models.Asset) models.AssetOutcome {
			return runHost(ctx, s.deps, deploymentID, i, asset, patch)
		})
		allOutcomes = append(allOutcomes, outcomes...)

		failed := countFailures(outcomes)
		cumulativeFailures += failed

		batchSummaries = append(batchSummaries, models.BatchSummary{
			Index:      i,
			AssetIDs:   assetIDs(batch),
			Succeeded:  countSuccesses(outcomes),
			Failed:     failed,
			StartedAt:  batchStart,
			FinishedAt: time.Now(),
		})

		if cumulativeFailures >= p.MaxFailures && !p.ContinueOnError {
			status = models.DeploymentFailed
			stoppedAt = i + 1
			break
		}

		if i < len(batches)-1 && p.WaitBetweenBatches > 0 {
			select {
			case <-time.After(p.WaitBetweenBatches):
			case <-ctx.Done():
				status = models.DeploymentFailed
				stoppedAt = i + 1
			}
		}
	}

	// Every asset in a batch that never ran must still get a terminal
	// outcome (AccountedFor needs every asset covered), so an early stop
	// on max-failures or cancellation records the rest as skipped rather
	// than silently dropping them.
	for i, batch := range batches[stoppedAt:] {
		allOutcomes = append(allOutcomes, skipOutcomes(batch, stoppedAt+i)...)
	}

	if countSuccesses(allOutcomes) == 0 {
		status = models.DeploymentFailed
	}

	return &Result{
		Status:   status,
		Outcomes: allOutcomes,
		Batches:  batchSummaries,
		Duration: time.Since(start),
	}, nil
}

// partitionBatches splits assets into ⌈1/fraction⌉ contiguous batches of
// size ⌈N·fraction⌉, the last batch possibly smaller.
func partitionBatches(assets []models.Asset, fraction float64) [][]models.Asset {
	n := len(assets)
	batchSize := int(math.Ceil(float64(n) * fraction))
	if batchSize < 1 {
		batchSize = 1
	}

	var batches [][]models.Asset
	for i := 0; i < n; i += batchSize {
		end := i + batchSize
		if end > n {
			end = n
		}
		batches = append(batches, assets[i:end])
	}
	return batches
}
