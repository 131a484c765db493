package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/quantumlayerhq/rollforge/pkg/models"
)

// AnalysisThreshold names a comparison the canary gate applies to a
// named metric, grounded on the teacher's canary.Analyzer /
// PredefinedAnalysis metric-threshold shape.
type AnalysisThreshold struct {
	Metric     string // e.g. "error-rate", "latency-p99"
	Comparison string // "less-than" | "greater-than"
	Value      float64
}

// AnalysisProvider is the optional hook a canary stage's health gate can
// additionally consult beyond the Prober's plain liveness verdict.
type AnalysisProvider interface {
	Evaluate(ctx context.Context, assetIDs []string, thresholds []AnalysisThreshold) (pass bool, details map[string]float64, err error)
}

// CanaryParams are this strategy's tunables.
type CanaryParams struct {
	Stages             []float64
	MonitoringDuration time.Duration
	AutoPromote        bool
	RollbackOnFailure  bool
	SuccessThreshold   float64
	Thresholds         []AnalysisThreshold
}

func parseCanaryParams(params map[string]any) CanaryParams {
	p := CanaryParams{
		Stages:             []float64{0.1, 0.5, 1.0},
		MonitoringDuration: 0,
		AutoPromote:        true,
		RollbackOnFailure:  true,
		SuccessThreshold:   0.8,
	}
	if raw, ok := params["stages"].([]any); ok {
		stages := make([]float64, 0, len(raw))
		for _, v := range raw {
			if f, ok := v.(float64); ok {
				stages = append(stages, f)
			}
		}
		if len(stages) > 0 {
			p.Stages = stages
		}
	}
	if v, ok := params["monitoring_duration"].(float64); ok && v >= 0 {
		p.MonitoringDuration = time.Duration(v) * time.Second
	}
	if v, ok := params["auto_promote"].(bool); ok {
		p.AutoPromote = v
	}
	if v, ok := params["rollback_on_failure"].(bool); ok {
		p.RollbackOnFailure = v
	}
	if v, ok := params["success_threshold"].(float64); ok && v > 0 {
		p.SuccessThreshold = v
	}
	return p
}

// CanaryStrategy stages a deployment across an ascending traffic/host
// percentage sequence, gating promotion to the next stage on in-stage
// success rate and an optional post-stage health check.
type CanaryStrategy struct {
	deps     Deps
	analysis AnalysisProvider // optional, may be nil
}

// NewCanary creates a canary strategy. analysis may be nil; when present
// it supplements (never replaces) the Prober's liveness-based gate.
func NewCanary(deps Deps, analysis AnalysisProvider) *CanaryStrategy {
	return &CanaryStrategy{deps: deps, analysis: analysis}
}

func (s *CanaryStrategy) Kind() Kind { return Canary }

func (s *CanaryStrategy) Validate(assets []models.Asset, params map[string]any) error {
	if len(assets) == 0 {
		return fmt.Errorf("canary: no assets supplied")
	}
	p := parseCanaryParams(params)
	if len(p.Stages) == 0 {
		return fmt.Errorf("canary: stages must be non-empty")
	}
	for i := 1; i < len(p.Stages); i++ {
		if p.Stages[i] <= p.Stages[i-1] {
			return fmt.Errorf("canary: stages must be strictly ascending, got %v", p.Stages)
		}
	}
	if p.Stages[len(p.Stages)-1] != 1.0 {
		return fmt.Errorf("canary: final stage must equal 1.0, got %v", p.Stages[len(p.Stages)-1])
	}
	return nil
}

func (s *CanaryStrategy) Execute(ctx context.Context, deploymentID string, patch models.Patch, assets []models.Asset, params map[string]any) (*Result, error) {
	p := parseCanaryParams(params)
	start := time.Now()

	n := len(assets)
	var allOutcomes []models.AssetOutcome
	var batchSummaries []models.BatchSummary
	deployedSoFar := 0
	status := models.DeploymentCompleted

	for stageIdx, fraction := range p.Stages {
		if err := ctx.Err(); err != nil {
			status = models.DeploymentFailed
			break
		}

		target := int(math.Ceil(fraction * float64(n)))
		if target > n {
			target = n
		}
		stageAssets := assets[deployedSoFar:target]
		if len(stageAssets) == 0 {
			continue
		}

		stageStart := time.Now()
		outcomes := fanOut(ctx, stageAssets, s.deps.Opts.MaxConcurrency, func(ctx context.Context, asset models.Asset) models.AssetOutcome {
			return runHost(ctx, s.deps, deploymentID, stageIdx, asset, patch)
		})
		allOutcomes = append(allOutcomes, outcomes...)
		deployedSoFar = target

		succeeded := countSuccesses(outcomes)
		batchSummaries = append(batchSummaries, models.BatchSummary{
			Index:      stageIdx,
			AssetIDs:   assetIDs(stageAssets),
			Succeeded:  succeeded,
			Failed:     countFailures(outcomes),
			StartedAt:  stageStart,
			FinishedAt: time.Now(),
		})

		successRate := float64(succeeded) / float64(len(stageAssets))
		if successRate < p.SuccessThreshold {
			if p.RollbackOnFailure {
				status = models.DeploymentRolledBack
			} else {
				status = models.DeploymentFailed
			}
			break
		}

		isLastStage := stageIdx == len(p.Stages)-1
		if isLastStage {
			status = models.DeploymentCompleted
			break
		}

		if p.MonitoringDuration > 0 {
			timer := time.NewTimer(p.MonitoringDuration)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				status = models.DeploymentFailed
			}
		}
		if status == models.DeploymentFailed {
			break
		}

		healthy, err := s.gateStage(ctx, assets[:deployedSoFar])
		if err != nil || !healthy {
			if !p.AutoPromote {
				status = models.DeploymentFailed
				break
			}
		}
	}

	// Any stage that never ran — the gate never opened, the run was
	// cancelled, the failure threshold tripped before the final stage —
	// leaves assets beyond deployedSoFar untouched; they still need a
	// terminal outcome so AccountedFor covers the whole asset list.
	if deployedSoFar < n {
		allOutcomes = append(allOutcomes, skipOutcomes(assets[deployedSoFar:], len(batchSummaries))...)
	}

	return &Result{
		Status:   status,
		Outcomes: allOutcomes,
		Batches:  batchSummaries,
		Duration: time.Since(start),
	}, nil
}

// gateStage checks in-stage health: a liveness echo against every
// already-deployed host over the same Executor used to deploy, optionally
// supplemented by the AnalysisProvider's metric thresholds when one is
// injected.
func (s *CanaryStrategy) gateStage(ctx context.Context, deployed []models.Asset) (bool, error) {
	if len(deployed) == 0 {
		return true, nil
	}

	outcomes := fanOut(ctx, deployed, s.deps.Opts.MaxConcurrency, func(ctx context.Context, asset models.Asset) models.AssetOutcome {
		if err := s.deps.Executor.TestConnection(ctx, asset); err != nil {
			return models.AssetOutcome{AssetID: asset.ID, Status: models.OutcomeFailed, Error: err.Error()}
		}
		return models.AssetOutcome{AssetID: asset.ID, Status: models.OutcomeSuccess}
	})

	healthy := countSuccesses(outcomes)
	if float64(healthy)/float64(len(deployed)) < 0.8 {
		return false, nil
	}

	if s.analysis != nil {
		ids := make([]string, len(deployed))
		for i, a := range deployed {
			ids[i] = a.ID.String()
		}
		pass, _, err := s.analysis.Evaluate(ctx, ids, nil)
		if err != nil {
			return false, err
		}
		return pass, nil
	}

	return true, nil
}
