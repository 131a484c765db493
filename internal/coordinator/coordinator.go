// Package coordinator implements the Deployment Coordinator: the single
// component that owns a Deployment's status field end to end, tying
// together the Strategy Engine, Health Prober, Rollback Trigger Engine,
// Rollback Executor, Analytics Recorder, and Alert Router into the
// pipeline spec section 4.G describes. Grounded on the teacher's
// executor.Engine (in-memory execution registry plus cancel-func
// bookkeeping), generalized from a single linear plan runner into one
// that races a Strategy Engine run against a concurrent health-driven
// rollback trigger.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/rollforge/internal/alerting"
	"github.com/quantumlayerhq/rollforge/internal/analytics"
	"github.com/quantumlayerhq/rollforge/internal/health"
	"github.com/quantumlayerhq/rollforge/internal/rollback"
	"github.com/quantumlayerhq/rollforge/internal/strategy"
	"github.com/quantumlayerhq/rollforge/pkg/logger"
	"github.com/quantumlayerhq/rollforge/pkg/models"
	"github.com/quantumlayerhq/rollforge/pkg/telemetry"
)

// AuditEntry is one write to the durable audit trail — every operator
// action the Coordinator takes on a deployment (deploy request, manual
// rollback request) is recorded this way, independent of the analytics
// event log.
type AuditEntry struct {
	ID           uuid.UUID
	DeploymentID uuid.UUID
	Actor        string
	Action       string
	Detail       string
	Timestamp    time.Time
}

// Persistence is the injected repository port spec section 6 names. The
// concrete adapter is internal/persistence/postgres; this package never
// imports anything database-specific, only this interface.
type Persistence interface {
	LoadPatch(ctx context.Context, id uuid.UUID) (models.Patch, error)
	LoadAssetsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Asset, error)
	CreateDeployment(ctx context.Context, draft models.Deployment) (models.Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, id uuid.UUID, status models.DeploymentStatus, successfulAssets, failedAssets int, results models.DeploymentResults, errMsg string) error
	ListActiveDeployments(ctx context.Context) ([]models.Deployment, error)
	AppendDeploymentEvent(ctx context.Context, deploymentID uuid.UUID, eventType string, payload any) error
	WriteAuditEntry(ctx context.Context, entry AuditEntry) error
}

// HealthCheckFactory builds the probe the Coordinator runs against one
// asset, both for the in-flight Prober.Watch feed and for post-flight /
// on-demand verification.
type HealthCheckFactory func(asset models.Asset) health.Check

// VerifyResult is Coordinator.Verify's return shape.
type VerifyResult struct {
	DeploymentID uuid.UUID
	Checked      int
	Healthy      int
	Unhealthy    []uuid.UUID
}

// Options tunes one Coordinator instance.
type Options struct {
	DeploymentTimeout   time.Duration
	HealthCheckInterval time.Duration
	HealthCheckRetries  int
	TriggerPollInterval time.Duration
	HealthCheck         HealthCheckFactory
}

// DefaultOptions mirrors pkg/config's engine defaults.
func DefaultOptions() Options {
	return Options{
		DeploymentTimeout:   time.Hour,
		HealthCheckInterval: 10 * time.Second,
		HealthCheckRetries:  3,
		TriggerPollInterval: 5 * time.Second,
		HealthCheck:         defaultHealthCheck,
	}
}

// buildCheck enriches the factory-built Check with the asset and patch
// context the Prober needs to also collect resource metrics and, when
// the patch names one, assert a service is active — wiring 4.D's
// metric/service-state collection into the rules in rollback/rules.go
// that otherwise have no data source in the live Coordinator path.
func (c *Coordinator) buildCheck(asset models.Asset, patch models.Patch) health.Check {
	check := c.opts.HealthCheck(asset)
	a := asset
	check.Asset = &a
	check.CollectMetrics = true
	if patch.Metadata != nil {
		check.ServiceName = patch.Metadata["service_name"]
	}
	return check
}

func defaultHealthCheck(asset models.Asset) health.Check {
	return health.Check{
		Name:    "tcp-reachability",
		Type:    health.CheckTCP,
		Target:  fmt.Sprintf("%s:%d", asset.Address, asset.Port),
		Timeout: 5 * time.Second,
		Retries: 3,
	}
}

// Coordinator is the sole writer of a Deployment's status field.
type Coordinator struct {
	mu          sync.RWMutex
	deployments map[uuid.UUID]*models.Deployment
	cancelFuncs map[uuid.UUID]context.CancelFunc

	persistence Persistence
	strategies  map[strategy.Kind]strategy.Strategy
	prober      *health.Prober
	trigger     *rollback.Engine
	rollbackExe *rollback.Executor
	history     *rollback.History
	recorder    *analytics.Recorder
	alerts      *alerting.Router

	log    *logger.Logger
	tracer telemetry.Tracer
	opts   Options
}

// New wires a Coordinator from its collaborators. tracer may be nil.
func New(
	persistence Persistence,
	strategies map[strategy.Kind]strategy.Strategy,
	prober *health.Prober,
	trigger *rollback.Engine,
	rollbackExe *rollback.Executor,
	history *rollback.History,
	recorder *analytics.Recorder,
	alerts *alerting.Router,
	log *logger.Logger,
	tracer telemetry.Tracer,
	opts Options,
) *Coordinator {
	if tracer == nil {
		tracer = telemetry.NoopTracer{}
	}
	if opts.DeploymentTimeout <= 0 {
		opts.DeploymentTimeout = time.Hour
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = 10 * time.Second
	}
	if opts.HealthCheckRetries <= 0 {
		opts.HealthCheckRetries = 3
	}
	if opts.TriggerPollInterval <= 0 {
		opts.TriggerPollInterval = 5 * time.Second
	}
	if opts.HealthCheck == nil {
		opts.HealthCheck = defaultHealthCheck
	}
	return &Coordinator{
		deployments: make(map[uuid.UUID]*models.Deployment),
		cancelFuncs: make(map[uuid.UUID]context.CancelFunc),
		persistence: persistence,
		strategies:  strategies,
		prober:      prober,
		trigger:     trigger,
		rollbackExe: rollbackExe,
		history:     history,
		recorder:    recorder,
		alerts:      alerts,
		log:         log.WithComponent("coordinator"),
		tracer:      tracer,
		opts:        opts,
	}
}

func (c *Coordinator) cacheStore(d *models.Deployment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *d
	c.deployments[d.ID] = &cp
}

func (c *Coordinator) cacheLoad(id uuid.UUID) (models.Deployment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.deployments[id]
	if !ok {
		return models.Deployment{}, false
	}
	return *d, true
}

func (c *Coordinator) storeCancel(id uuid.UUID, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelFuncs[id] = cancel
}

func (c *Coordinator) dropCancel(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cancelFuncs, id)
}

// Status returns a snapshot of a deployment's current state. The
// Coordinator is the sole writer of this state, so a cache read is
// always at least as fresh as the last persisted write.
func (c *Coordinator) Status(deploymentID uuid.UUID) (models.Deployment, error) {
	d, ok := c.cacheLoad(deploymentID)
	if !ok {
		return models.Deployment{}, fmt.Errorf("deployment %s not found", deploymentID)
	}
	return d, nil
}

// Deploy runs the full pipeline spec 4.G describes: persist pending,
// pre-flight validate, transition in_progress, race the Strategy Engine
// against the health-fed Rollback Trigger Engine, roll back on trigger
// or run post-flight validation otherwise, then persist terminal state.
//
// The Coordinator's contract never throws on a deployment-domain
// failure: every return path that gets past the initial load/create
// phase yields a non-nil *models.Deployment whose Status communicates
// the outcome. Only a failure to load inputs or persist the initial row
// returns a non-nil error.
func (c *Coordinator) Deploy(ctx context.Context, patchID uuid.UUID, assetIDs []uuid.UUID, strategyKind strategy.Kind, strategyParams map[string]any, actor string) (*models.Deployment, error) {
	ctx, span := telemetry.DeploymentSpan(ctx, c.tracer, "deploy", patchID.String(), string(strategyKind))
	defer span.End()

	patch, err := c.persistence.LoadPatch(ctx, patchID)
	if err != nil {
		return nil, fmt.Errorf("load patch: %w", err)
	}
	assets, err := c.persistence.LoadAssetsByIDs(ctx, assetIDs)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}

	draft := models.Deployment{
		ID:             uuid.New(),
		PatchID:        patchID,
		AssetIDs:       assetIDs,
		Strategy:       models.Strategy(strategyKind),
		StrategyParams: strategyParams,
		Status:         models.DeploymentPending,
		TotalAssets:    len(assets),
		Actor:          actor,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	deployment, err := c.persistence.CreateDeployment(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("create deployment: %w", err)
	}
	c.cacheStore(&deployment)

	if err := c.persistence.WriteAuditEntry(ctx, AuditEntry{
		ID: uuid.New(), DeploymentID: deployment.ID, Actor: actor,
		Action: "deploy_requested", Timestamp: time.Now(),
	}); err != nil {
		c.log.WithError(err).Warn("audit write failed", "deployment_id", deployment.ID)
	}

	if reason := c.preflight(patch, assets, strategyKind, strategyParams); reason != "" {
		c.failPreflight(ctx, &deployment, reason)
		return &deployment, nil
	}

	c.transitionInProgress(ctx, &deployment, patch, len(assets))

	runCtx, cancel := context.WithTimeout(ctx, c.opts.DeploymentTimeout)
	c.storeCancel(deployment.ID, cancel)
	defer c.dropCancel(deployment.ID)

	strat := c.strategies[strategyKind]
	triggered := make(chan models.RollbackDecision, 1)
	watchCtx, watchCancel := context.WithCancel(runCtx)

	var watchers sync.WaitGroup
	for _, asset := range assets {
		watchers.Add(1)
		go func(asset models.Asset) {
			defer watchers.Done()
			check := c.buildCheck(asset, patch)
			samples := c.prober.Watch(watchCtx, asset.ID, deployment.ID, check, c.opts.HealthCheckInterval, c.opts.HealthCheckRetries)
			for sample := range samples {
				c.trigger.Feed(deployment.ID, sample)
			}
		}(asset)
	}

	go c.evaluateTrigger(watchCtx, deployment.ID, cancel, triggered)

	result, strategyErr := strat.Execute(runCtx, deployment.ID.String(), patch, assets, strategyParams)

	watchCancel()
	watchers.Wait()

	var decision *models.RollbackDecision
	select {
	case d := <-triggered:
		decision = &d
	default:
	}

	if result == nil {
		result = &strategy.Result{Status: models.DeploymentFailed, Error: errString(strategyErr)}
	}

	deployment.Results.AssetOutcomes = result.Outcomes
	deployment.Results.BatchLogs = result.Batches
	deployment.SuccessfulAssets = countOutcomes(result.Outcomes, models.OutcomeSuccess)
	deployment.FailedAssets = countOutcomes(result.Outcomes, models.OutcomeFailed)

	if decision != nil && decision.Trigger {
		c.runTriggeredRollback(ctx, &deployment, patch, assets, result, *decision)
	} else {
		if strategyErr != nil {
			deployment.Status = models.DeploymentFailed
			deployment.ErrorMessage = strategyErr.Error()
		} else {
			deployment.Status = result.Status
			deployment.ErrorMessage = result.Error
		}
		if deployment.Status == models.DeploymentCompleted {
			c.postFlight(ctx, &deployment, patch, assets)
		}
	}

	c.finalize(ctx, &deployment, patch, len(assets))

	c.trigger.Reset(deployment.ID)
	return &deployment, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (c *Coordinator) preflight(patch models.Patch, assets []models.Asset, kind strategy.Kind, params map[string]any) string {
	if !patch.Approved {
		return "patch has not been approved for deployment"
	}
	for _, a := range assets {
		if !a.Reachable() {
			return fmt.Sprintf("asset %s is not reachable in principle (no address or under maintenance)", a.Name)
		}
	}
	strat, ok := c.strategies[kind]
	if !ok {
		return fmt.Sprintf("unknown strategy %q", kind)
	}
	if err := strat.Validate(assets, params); err != nil {
		return err.Error()
	}
	return ""
}

func (c *Coordinator) failPreflight(ctx context.Context, deployment *models.Deployment, reason string) {
	now := time.Now()
	deployment.Status = models.DeploymentFailed
	deployment.ErrorMessage = reason
	deployment.CompletedAt = &now
	deployment.UpdatedAt = now

	if err := c.persistence.UpdateDeploymentStatus(ctx, deployment.ID, deployment.Status, 0, 0, deployment.Results, reason); err != nil {
		c.log.WithError(err).Error("persist pre-flight failure", "deployment_id", deployment.ID)
	}
	c.cacheStore(deployment)

	c.recorder.RecordStarted(ctx, deployment.ID, deployment.PatchID, deployment.Strategy, deployment.TotalAssets)
	c.recorder.RecordCompleted(ctx, deployment.ID, deployment.PatchID, deployment.Strategy, deployment.TotalAssets, now, models.DeploymentFailed, 0, reason)
	c.alerts.CreateDeploymentAlert(ctx, deployment.ID, models.DeploymentAlertFailed, reason)
}

func (c *Coordinator) transitionInProgress(ctx context.Context, deployment *models.Deployment, patch models.Patch, assetCount int) {
	now := time.Now()
	deployment.Status = models.DeploymentInProgress
	deployment.StartedAt = &now
	deployment.UpdatedAt = now

	if err := c.persistence.UpdateDeploymentStatus(ctx, deployment.ID, deployment.Status, 0, 0, deployment.Results, ""); err != nil {
		c.log.WithError(err).Warn("persist in_progress transition failed", "deployment_id", deployment.ID)
	}
	c.cacheStore(deployment)

	if err := c.persistence.AppendDeploymentEvent(ctx, deployment.ID, "deployment.started", deployment); err != nil {
		c.log.WithError(err).Warn("append deployment event failed", "deployment_id", deployment.ID)
	}
	c.recorder.RecordStarted(ctx, deployment.ID, deployment.PatchID, deployment.Strategy, assetCount)
	c.alerts.CreateDeploymentAlert(ctx, deployment.ID, models.DeploymentAlertStarted, fmt.Sprintf("deploying patch %s to %d assets via %s", patch.ID, assetCount, deployment.Strategy))
}

// evaluateTrigger polls the Rollback Trigger Engine's current decision
// for one deployment until it fires or the watch context ends, at which
// point it cancels the strategy execution context — cooperative
// cancellation; in-flight per-host commands are expected to observe
// their own timeouts rather than be killed outright.
func (c *Coordinator) evaluateTrigger(ctx context.Context, deploymentID uuid.UUID, cancel context.CancelFunc, triggered chan<- models.RollbackDecision) {
	ticker := time.NewTicker(c.opts.TriggerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			decision := c.trigger.Evaluate(deploymentID)
			if decision.Trigger {
				select {
				case triggered <- decision:
				default:
				}
				cancel()
				return
			}
		}
	}
}

func (c *Coordinator) runTriggeredRollback(ctx context.Context, deployment *models.Deployment, patch models.Patch, assets []models.Asset, result *strategy.Result, decision models.RollbackDecision) {
	c.alerts.CreateDeploymentAlert(ctx, deployment.ID, models.DeploymentAlertRollbackTriggered, summarizeDecision(decision))

	deployedAssets := assetsWithOutcome(assets, result.Outcomes, models.OutcomeSuccess)
	entries := c.rollbackExe.Run(ctx, deployment.ID.String(), patch, deployedAssets)
	deployment.Results.RollbackLogs = entries

	record := rollback.Record{
		DeploymentID: deployment.ID,
		Trigger:      models.RollbackTriggerAutomatic,
		AssetIDs:     assetIDsOf(deployedAssets),
		Entries:      entries,
		Decision:     &decision,
		AttemptedAt:  time.Now(),
	}
	c.history.Append(record)

	deployment.Status = models.DeploymentRolledBack
	if record.Succeeded() {
		c.alerts.CreateDeploymentAlert(ctx, deployment.ID, models.DeploymentAlertRollbackCompleted, "automatic rollback completed")
	} else {
		c.alerts.CreateDeploymentAlert(ctx, deployment.ID, models.DeploymentAlertRollbackFailed, rollbackFailureSummary(entries))
	}
}

func (c *Coordinator) postFlight(ctx context.Context, deployment *models.Deployment, patch models.Patch, assets []models.Asset) {
	for _, asset := range assets {
		check := c.buildCheck(asset, patch)
		result, err := c.prober.ProbeWithRetry(ctx, check, c.opts.HealthCheckRetries)
		if err != nil || result == nil || !result.Success {
			c.log.Warn("post-flight health check failed", "deployment_id", deployment.ID, "asset", asset.Name)
			c.alerts.CreateDeploymentAlert(ctx, deployment.ID, models.DeploymentAlertHealthCheckFailed, fmt.Sprintf("post-flight check failed for %s", asset.Name))
		}
	}
}

func (c *Coordinator) finalize(ctx context.Context, deployment *models.Deployment, patch models.Patch, assetCount int) {
	now := time.Now()
	deployment.CompletedAt = &now
	deployment.UpdatedAt = now

	if err := c.persistence.UpdateDeploymentStatus(ctx, deployment.ID, deployment.Status, deployment.SuccessfulAssets, deployment.FailedAssets, deployment.Results, deployment.ErrorMessage); err != nil {
		c.log.WithError(err).Error("persist terminal status failed", "deployment_id", deployment.ID)
	}
	c.cacheStore(deployment)

	if err := c.persistence.AppendDeploymentEvent(ctx, deployment.ID, "deployment."+string(deployment.Status), deployment); err != nil {
		c.log.WithError(err).Warn("append terminal deployment event failed", "deployment_id", deployment.ID)
	}

	var duration time.Duration
	if deployment.StartedAt != nil {
		duration = now.Sub(*deployment.StartedAt)
	}
	c.recorder.RecordCompleted(ctx, deployment.ID, patch.ID, deployment.Strategy, assetCount, derefTime(deployment.StartedAt, now), deployment.Status, duration, deployment.ErrorMessage)

	if deployment.Status == models.DeploymentFailed {
		c.alerts.CreateDeploymentAlert(ctx, deployment.ID, models.DeploymentAlertFailed, deployment.ErrorMessage)
	} else if deployment.Status == models.DeploymentCompleted {
		c.alerts.CreateDeploymentAlert(ctx, deployment.ID, models.DeploymentAlertCompleted, fmt.Sprintf("%d of %d assets succeeded", deployment.SuccessfulAssets, assetCount))
	}
}

func derefTime(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return *t
}

// Rollback runs the manual rollback path against a deployment's
// recorded asset/patch state, reusing the Rollback Executor directly
// (4.F) rather than anything strategy-specific.
func (c *Coordinator) Rollback(ctx context.Context, deploymentID uuid.UUID, actor string) (*models.Deployment, error) {
	deployment, ok := c.cacheLoad(deploymentID)
	if !ok {
		return nil, fmt.Errorf("deployment %s not found", deploymentID)
	}

	patch, err := c.persistence.LoadPatch(ctx, deployment.PatchID)
	if err != nil {
		return nil, fmt.Errorf("load patch: %w", err)
	}
	if !patch.HasReverseScript() {
		return nil, fmt.Errorf("patch %s has no reverse script: rollback unavailable", patch.ID)
	}
	assets, err := c.persistence.LoadAssetsByIDs(ctx, deployment.AssetIDs)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}

	if err := c.persistence.WriteAuditEntry(ctx, AuditEntry{
		ID: uuid.New(), DeploymentID: deploymentID, Actor: actor,
		Action: "manual_rollback_requested", Timestamp: time.Now(),
	}); err != nil {
		c.log.WithError(err).Warn("audit write failed", "deployment_id", deploymentID)
	}

	now := time.Now()
	deployment.Status = models.DeploymentInProgress
	deployment.UpdatedAt = now
	if err := c.persistence.UpdateDeploymentStatus(ctx, deployment.ID, deployment.Status, deployment.SuccessfulAssets, deployment.FailedAssets, deployment.Results, ""); err != nil {
		c.log.WithError(err).Warn("persist manual rollback transition failed", "deployment_id", deploymentID)
	}
	c.cacheStore(&deployment)

	entries := c.history.RollbackToLastSuccessful(ctx, c.rollbackExe, deploymentID, patch, assets)
	deployment.Results.RollbackLogs = entries
	succeeded := allRolledBack(entries)

	completedAt := time.Now()
	deployment.Status = models.DeploymentRolledBack
	deployment.CompletedAt = &completedAt
	deployment.UpdatedAt = completedAt
	if err := c.persistence.UpdateDeploymentStatus(ctx, deployment.ID, deployment.Status, deployment.SuccessfulAssets, deployment.FailedAssets, deployment.Results, ""); err != nil {
		c.log.WithError(err).Error("persist manual rollback terminal status failed", "deployment_id", deploymentID)
	}
	c.cacheStore(&deployment)

	var duration time.Duration
	if deployment.StartedAt != nil {
		duration = completedAt.Sub(*deployment.StartedAt)
	}
	c.recorder.RecordRollback(ctx, deploymentID, succeeded, duration, rollbackFailureSummary(entries))

	if succeeded {
		c.alerts.CreateDeploymentAlert(ctx, deploymentID, models.DeploymentAlertRollbackCompleted, "manual rollback completed")
	} else {
		c.alerts.CreateDeploymentAlert(ctx, deploymentID, models.DeploymentAlertRollbackFailed, rollbackFailureSummary(entries))
	}

	return &deployment, nil
}

// Verify re-runs a post-flight health round against a deployment's
// assets on demand, independent of whether the deployment is terminal.
func (c *Coordinator) Verify(ctx context.Context, deploymentID uuid.UUID) (VerifyResult, error) {
	deployment, ok := c.cacheLoad(deploymentID)
	if !ok {
		return VerifyResult{}, fmt.Errorf("deployment %s not found", deploymentID)
	}
	assets, err := c.persistence.LoadAssetsByIDs(ctx, deployment.AssetIDs)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("load assets: %w", err)
	}
	patch, err := c.persistence.LoadPatch(ctx, deployment.PatchID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("load patch: %w", err)
	}

	result := VerifyResult{DeploymentID: deploymentID}
	for _, asset := range assets {
		result.Checked++
		check := c.buildCheck(asset, patch)
		probed, err := c.prober.ProbeWithRetry(ctx, check, c.opts.HealthCheckRetries)
		if err != nil || probed == nil || !probed.Success {
			result.Unhealthy = append(result.Unhealthy, asset.ID)
			continue
		}
		result.Healthy++
	}

	if len(result.Unhealthy) > 0 {
		c.alerts.CreateDeploymentAlert(ctx, deploymentID, models.DeploymentAlertHealthCheckFailed,
			fmt.Sprintf("%d of %d assets unhealthy on demand verification", len(result.Unhealthy), result.Checked))
	}
	return result, nil
}

func summarizeDecision(d models.RollbackDecision) string {
	if len(d.Reasons) == 0 {
		return "rollback trigger fired"
	}
	return fmt.Sprintf("rollback trigger fired: %s (severity %s, confidence %.2f)", d.Reasons[0].Rule, d.Severity.String(), d.Confidence)
}

func rollbackFailureSummary(entries []models.RollbackLogEntry) string {
	failed := 0
	for _, e := range entries {
		if e.Status != models.RollbackStatusRolledBack {
			failed++
		}
	}
	if failed == 0 {
		return ""
	}
	return fmt.Sprintf("%d of %d assets did not roll back cleanly", failed, len(entries))
}

func allRolledBack(entries []models.RollbackLogEntry) bool {
	if len(entries) == 0 {
		return false
	}
	for _, e := range entries {
		if e.Status != models.RollbackStatusRolledBack {
			return false
		}
	}
	return true
}

func countOutcomes(outcomes []models.AssetOutcome, status models.AssetOutcomeStatus) int {
	n := 0
	for _, o := range outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

func assetsWithOutcome(assets []models.Asset, outcomes []models.AssetOutcome, status models.AssetOutcomeStatus) []models.Asset {
	matched := make(map[uuid.UUID]bool, len(outcomes))
	for _, o := range outcomes {
		if o.Status == status {
			matched[o.AssetID] = true
		}
	}
	out := make([]models.Asset, 0, len(matched))
	for _, a := range assets {
		if matched[a.ID] {
			out = append(out, a)
		}
	}
	return out
}

func assetIDsOf(assets []models.Asset) []uuid.UUID {
	ids := make([]uuid.UUID, len(assets))
	for i, a := range assets {
		ids[i] = a.ID
	}
	return ids
}
