// Package strategy implements the four deployment rollout state machines
// (all-at-once, rolling, canary, blue/green). Each strategy composes the
// same per-host script lifecycle against an injected remote.Executor and
// reports facts; it never decides whether to roll back on its own — that
// judgment belongs to package rollback.
package strategy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/quantumlayerhq/rollforge/internal/health"
	"github.com/quantumlayerhq/rollforge/internal/remote"
	"github.com/quantumlayerhq/rollforge/pkg/logger"
	"github.com/quantumlayerhq/rollforge/pkg/models"
	"github.com/quantumlayerhq/rollforge/pkg/telemetry"
)

// Kind identifies a strategy variant.
type Kind string

const (
	AllAtOnce Kind = "all_at_once"
	Rolling   Kind = "rolling"
	Canary    Kind = "canary"
	BlueGreen Kind = "blue_green"
)

// Options are the knobs shared across every strategy's per-host script
// lifecycle: write scratch files, run forward, optionally validate, clean
// up. Individual strategies layer their own batching/staging parameters
// on top via the untyped Params map, parsed at Validate time.
type Options struct {
	MaxConcurrency int
	CommandTimeout time.Duration
	ScratchDir     string
}

// DefaultOptions mirrors the engine defaults in pkg/config.
func DefaultOptions() Options {
	return Options{
		MaxConcurrency: 10,
		CommandTimeout: 300 * time.Second,
		ScratchDir:     "/tmp/rollforge",
	}
}

// Strategy is the capability set every rollout variant implements.
type Strategy interface {
	Kind() Kind
	Validate(assets []models.Asset, params map[string]any) error
	Execute(ctx context.Context, deploymentID string, patch models.Patch, assets []models.Asset, params map[string]any) (*Result, error)
}

// Result is what a strategy reports back to the Coordinator: terminal
// facts, never a rollback decision.
type Result struct {
	Status    models.DeploymentStatus
	Outcomes  []models.AssetOutcome
	Batches   []models.BatchSummary
	Duration  time.Duration
	Error     string
}

// Deps bundles the collaborators every strategy needs. Strategies never
// import each other; the Coordinator wires the same Deps into all four.
type Deps struct {
	Executor remote.Executor
	Prober   *health.Prober
	Log      *logger.Logger
	Tracer   telemetry.Tracer
	Opts     Options
}

// runHost executes the shared per-host script lifecycle (write, forward,
// validate, cleanup) and returns the resulting AssetOutcome. It never
// returns an error itself — failures are captured inside the outcome so
// callers can keep fanning out to other hosts.
func runHost(ctx context.Context, d Deps, deploymentID string, batch int, asset models.Asset, patch models.Patch) models.AssetOutcome {
	ctx, span := telemetry.DeploymentSpan(ctx, d.Tracer, "run_host", deploymentID, asset.Environment)
	defer span.End()

	outcome := models.AssetOutcome{
		AssetID:   asset.ID,
		Batch:     batch,
		Timestamp: time.Now(),
	}

	forwardPath := scratchPath(d.Opts.ScratchDir, asset.ID.String(), "forward.sh")
	validatePath := scratchPath(d.Opts.ScratchDir, asset.ID.String(), "validate.sh")

	cleanup := func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		cmd := fmt.Sprintf("rm -f %s %s", forwardPath, validatePath)
		if _, err := d.Executor.Execute(cleanupCtx, asset, cmd, remote.ExecOptions{Sudo: true, Timeout: 30 * time.Second}); err != nil {
			d.Log.Warn("scratch cleanup failed", "asset", asset.Name, "error", err)
		}
	}
	defer cleanup()

	if err := d.Executor.WriteFile(ctx, asset, forwardPath, patch.ForwardScript, 0o700); err != nil {
		outcome.Status = models.OutcomeFailed
		outcome.Error = fmt.Sprintf("write forward script: %v", err)
		span.SetError(err)
		return outcome
	}

	if len(patch.ValidationScript) > 0 {
		if err := d.Executor.WriteFile(ctx, asset, validatePath, patch.ValidationScript, 0o700); err != nil {
			outcome.Status = models.OutcomeFailed
			outcome.Error = fmt.Sprintf("write validation script: %v", err)
			span.SetError(err)
			return outcome
		}
	}

	timeout := d.Opts.CommandTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	result, err := d.Executor.Execute(ctx, asset, forwardPath, remote.ExecOptions{Sudo: true, Timeout: timeout})
	if err != nil {
		outcome.Status = models.OutcomeFailed
		outcome.Error = fmt.Sprintf("forward script execution: %v", err)
		span.SetError(err)
		return outcome
	}
	outcome.Stdout = truncate(result.Stdout)
	outcome.Stderr = truncate(result.Stderr)

	if !result.Succeeded() {
		outcome.Status = models.OutcomeFailed
		outcome.Error = fmt.Sprintf("forward script exited %d", result.ExitCode)
		return outcome
	}

	if len(patch.ValidationScript) > 0 {
		vResult, vErr := d.Executor.Execute(ctx, asset, validatePath, remote.ExecOptions{Sudo: true, Timeout: timeout})
		if vErr != nil || !vResult.Succeeded() {
			outcome.Status = models.OutcomeFailed
			if vErr != nil {
				outcome.Error = fmt.Sprintf("validation script execution: %v", vErr)
			} else {
				outcome.Error = fmt.Sprintf("validation script exited %d: %s", vResult.ExitCode, truncate(vResult.Stderr))
			}
			return outcome
		}
	}

	outcome.Status = models.OutcomeSuccess
	span.SetOK()
	return outcome
}

func scratchPath(dir, assetID, name string) string {
	return strings.TrimRight(dir, "/") + "/" + assetID + "-" + name
}

func truncate(s string) string {
	const max = 4096
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// fanOut runs fn for every asset concurrently, bounded by maxConcurrency,
// and collects outcomes in asset order.
func fanOut(ctx context.Context, assets []models.Asset, maxConcurrency int, fn func(ctx context.Context, asset models.Asset) models.AssetOutcome) []models.AssetOutcome {
	if maxConcurrency <= 0 {
		maxConcurrency = len(assets)
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	sem := semaphore.NewWeighted(int64(maxConcurrency))
	outcomes := make([]models.AssetOutcome, len(assets))

	var wg sync.WaitGroup
	for i, asset := range assets {
		i, asset := i, asset
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				outcomes[i] = models.AssetOutcome{
					AssetID: asset.ID,
					Status:  models.OutcomeSkipped,
					Error:   "cancelled before start",
				}
				return
			}
			defer sem.Release(1)
			outcomes[i] = fn(ctx, asset)
		}()
	}
	wg.Wait()

	return outcomes
}

func countFailures(outcomes []models.AssetOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Status == models.OutcomeFailed {
			n++
		}
	}
	return n
}

func countSuccesses(outcomes []models.AssetOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Status == models.OutcomeSuccess {
			n++
		}
	}
	return n
}

// skipOutcomes records a terminal OutcomeSkipped entry for every asset a
// strategy decided not to run — an early stop on a failure threshold, a
// gate that never opened, a stage cut short by cancellation. Without
// this, Deployment.AccountedFor has no way to reconcile total_assets
// against a terminal deployment that only ever touched part of the list.
func skipOutcomes(assets []models.Asset, batch int) []models.AssetOutcome {
	outcomes := make([]models.AssetOutcome, len(assets))
	for i, asset := range assets {
		outcomes[i] = models.AssetOutcome{
			AssetID:   asset.ID,
			Batch:     batch,
			Status:    models.OutcomeSkipped,
			Timestamp: time.Now(),
		}
	}
	return outcomes
}
