package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/quantumlayerhq/rollforge/pkg/models"
)

// BlueGreenStrategy deploys to a "green" subset first; "blue" is only
// attempted if green fully succeeds. Subsets are taken from the asset's
// Environment tag when present ("blue"/"green"), otherwise the ordered
// asset list is split in half with the first half treated as green.
type BlueGreenStrategy struct {
	deps Deps
}

// NewBlueGreen creates a blue/green strategy.
func NewBlueGreen(deps Deps) *BlueGreenStrategy {
	return &BlueGreenStrategy{deps: deps}
}

func (s *BlueGreenStrategy) Kind() Kind { return BlueGreen }

func (s *BlueGreenStrategy) Validate(assets []models.Asset, params map[string]any) error {
	if len(assets) == 0 {
		return fmt.Errorf("blue_green: no assets supplied")
	}
	return nil
}

func splitBlueGreen(assets []models.Asset) (green, blue []models.Asset) {
	hasTags := false
	for _, a := range assets {
		if a.Environment == "blue" || a.Environment == "green" {
			hasTags = true
			break
		}
	}

	if hasTags {
		for _, a := range assets {
			switch a.Environment {
			case "green":
				green = append(green, a)
			case "blue":
				blue = append(blue, a)
			}
		}
		return green, blue
	}

	mid := (len(assets) + 1) / 2
	return assets[:mid], assets[mid:]
}

func (s *BlueGreenStrategy) Execute(ctx context.Context, deploymentID string, patch models.Patch, assets []models.Asset, params map[string]any) (*Result, error) {
	start := time.Now()
	green, blue := splitBlueGreen(assets)

	var allOutcomes []models.AssetOutcome
	var batchSummaries []models.BatchSummary

	greenStart := time.Now()
	greenOutcomes := fanOut(ctx, green, s.deps.Opts.MaxConcurrency, func(ctx context.Context, asset models.Asset) models.AssetOutcome {
		return runHost(ctx, s.deps, deploymentID, 0, asset, patch)
	})
	allOutcomes = append(allOutcomes, greenOutcomes...)
	greenFailed := countFailures(greenOutcomes)
	batchSummaries = append(batchSummaries, models.BatchSummary{
		Index:      0,
		AssetIDs:   assetIDs(green),
		Succeeded:  countSuccesses(greenOutcomes),
		Failed:     greenFailed,
		StartedAt:  greenStart,
		FinishedAt: time.Now(),
	})

	if greenFailed > 0 {
		allOutcomes = append(allOutcomes, skipOutcomes(blue, 1)...)
		return &Result{
			Status:   models.DeploymentFailed,
			Outcomes: allOutcomes,
			Batches:  batchSummaries,
			Duration: time.Since(start),
			Error:    "green subset had failures, blue was not attempted",
		}, nil
	}

	if len(blue) > 0 {
		blueStart := time.Now()
		blueOutcomes := fanOut(ctx, blue, s.deps.Opts.MaxConcurrency, func(ctx context.Context, asset models.Asset) models.AssetOutcome {
			return runHost(ctx, s.deps, deploymentID, 1, asset, patch)
		})
		allOutcomes = append(allOutcomes, blueOutcomes...)
		batchSummaries = append(batchSummaries, models.BatchSummary{
			Index:      1,
			AssetIDs:   assetIDs(blue),
			Succeeded:  countSuccesses(blueOutcomes),
			Failed:     countFailures(blueOutcomes),
			StartedAt:  blueStart,
			FinishedAt: time.Now(),
		})
	}

	status := models.DeploymentCompleted
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
