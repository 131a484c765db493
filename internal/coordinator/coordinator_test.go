package coordinator

import (
	"context"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/rollforge/internal/alerting"
	"github.com/quantumlayerhq/rollforge/internal/health"
	"github.com/quantumlayerhq/rollforge/internal/remote"
	"github.com/quantumlayerhq/rollforge/internal/rollback"
	"github.com/quantumlayerhq/rollforge/internal/strategy"
	"github.com/quantumlayerhq/rollforge/internal/analytics"
	"github.com/quantumlayerhq/rollforge/pkg/logger"
	"github.com/quantumlayerhq/rollforge/pkg/models"
)

// fakePersistence is an in-memory double for the Persistence port.
type fakePersistence struct {
	mu        sync.Mutex
	patches   map[uuid.UUID]models.Patch
	assets    map[uuid.UUID]models.Asset
	created   []models.Deployment
	updates   []models.DeploymentStatus
	events    []string
	auditLog  []AuditEntry
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{patches: map[uuid.UUID]models.Patch{}, assets: map[uuid.UUID]models.Asset{}}
}

func (f *fakePersistence) LoadPatch(ctx context.Context, id uuid.UUID) (models.Patch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patches[id], nil
}

func (f *fakePersistence) LoadAssetsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Asset, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.assets[id])
	}
	return out, nil
}

func (f *fakePersistence) CreateDeployment(ctx context.Context, draft models.Deployment) (models.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, draft)
	return draft, nil
}

func (f *fakePersistence) UpdateDeploymentStatus(ctx context.Context, id uuid.UUID, status models.DeploymentStatus, successfulAssets, failedAssets int, results models.DeploymentResults, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, status)
	return nil
}

func (f *fakePersistence) ListActiveDeployments(ctx context.Context) ([]models.Deployment, error) {
	return nil, nil
}

func (f *fakePersistence) AppendDeploymentEvent(ctx context.Context, deploymentID uuid.UUID, eventType string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakePersistence) WriteAuditEntry(ctx context.Context, entry AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditLog = append(f.auditLog, entry)
	return nil
}

// fakeExecutor is an in-memory remote.Executor double: every command
// succeeds unless the asset's name is listed in fail.
type fakeExecutor struct {
	mu       sync.Mutex
	commands []string
	fail     map[string]bool // asset name -> force failure
}

func newFakeExecutor() *fakeExecutor { return &fakeExecutor{fail: map[string]bool{}} }

func (f *fakeExecutor) Execute(ctx context.Context, asset models.Asset, command string, opts remote.ExecOptions) (*remote.CommandResult, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	fail := f.fail[asset.Name]
	f.mu.Unlock()
	if fail {
		return &remote.CommandResult{ExitCode: 1, Stderr: "boom"}, nil
	}
	return &remote.CommandResult{ExitCode: 0, Stdout: "ok"}, nil
}

func (f *fakeExecutor) WriteFile(ctx context.Context, asset models.Asset, remotePath string, content []byte, mode fs.FileMode) error {
	return nil
}

func (f *fakeExecutor) TestConnection(ctx context.Context, asset models.Asset) error { return nil }
func (f *fakeExecutor) Close(asset models.Asset) error                               { return nil }

// fakeStrategy reports its configured status and gives every asset its
// configured outcome, regardless of what the injected remote.Executor
// does, so coordinator-level tests can
// exercise the pipeline without depending on internal/strategy's own
// per-host script lifecycle.
type fakeStrategy struct {
	kind    strategy.Kind
	status  models.DeploymentStatus
	outcome models.AssetOutcomeStatus
	err     string
	delay   time.Duration
}

func (s *fakeStrategy) Kind() strategy.Kind { return s.kind }
func (s *fakeStrategy) Validate(assets []models.Asset, params map[string]any) error {
	return nil
}
func (s *fakeStrategy) Execute(ctx context.Context, deploymentID string, patch models.Patch, assets []models.Asset, params map[string]any) (*strategy.Result, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
		}
	}
	outcomes := make([]models.AssetOutcome, len(assets))
	for i, a := range assets {
		outcomes[i] = models.AssetOutcome{AssetID: a.ID, Status: s.outcome, Timestamp: time.Now()}
	}
	return &strategy.Result{Status: s.status, Outcomes: outcomes, Error: s.err}, nil
}

func testAsset(name string) models.Asset {
	return models.Asset{ID: uuid.New(), Name: name, Address: "10.0.0.1", Port: 22, Environment: "prod"}
}

func testPatch(approved bool) models.Patch {
	return models.Patch{ID: uuid.New(), ForwardScript: []byte("echo hi"), ReverseScript: []byte("echo undo"), Approved: approved}
}

func testCoordinator(t *testing.T, strat strategy.Strategy, opts Options) (*Coordinator, *fakePersistence) {
	t.Helper()
	persistence := newFakePersistence()
	log := logger.New("debug", "text")
	prober := health.New(log, nil)
	trigger := rollback.NewEngine(50)
	rollbackExec := rollback.NewExecutor(newFakeExecutor(), log, nil, rollback.DefaultExecutorOptions())
	history := rollback.NewHistory()
	recorder := analytics.New(time.Hour, nil, nil, log)
	alerts := alerting.New(log)

	strategies := map[strategy.Kind]strategy.Strategy{strat.Kind(): strat}
	opts.HealthCheck = func(a models.Asset) health.Check {
		return health.Check{Name: "noop", Type: health.CheckTCP, Target: "127.0.0.1:1", Timeout: time.Millisecond, Retries: 0}
	}
	c := New(persistence, strategies, prober, trigger, rollbackExec, history, recorder, alerts, log, nil, opts)
	return c, persistence
}

func TestCoordinator_Deploy_SucceedsAndPersistsTerminalStatus(t *testing.T) {
	strat := &fakeStrategy{kind: strategy.AllAtOnce, status: models.DeploymentCompleted, outcome: models.OutcomeSuccess}
	c, persistence := testCoordinator(t, strat, Options{DeploymentTimeout: time.Second, TriggerPollInterval: 5 * time.Millisecond, HealthCheckInterval: 5 * time.Millisecond})

	patch := testPatch(true)
	asset := testAsset("web-1")
	persistence.patches[patch.ID] = patch
	persistence.assets[asset.ID] = asset

	deployment, err := c.Deploy(context.Background(), patch.ID, []uuid.UUID{asset.ID}, strategy.AllAtOnce, nil, "alice")
	require.NoError(t, err)
	require.NotNil(t, deployment)
	assert.Equal(t, models.DeploymentCompleted, deployment.Status)
	assert.Equal(t, 1, deployment.SuccessfulAssets)

	status, err := c.Status(deployment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentCompleted, status.Status)

	assert.Contains(t, persistence.updates, models.DeploymentInProgress)
	assert.Contains(t, persistence.updates, models.DeploymentCompleted)
}

func TestCoordinator_Deploy_PreflightRejectsUnapprovedPatch(t *testing.T) {
	strat := &fakeStrategy{kind: strategy.AllAtOnce, status: models.DeploymentCompleted, outcome: models.OutcomeSuccess}
	c, persistence := testCoordinator(t, strat, Options{DeploymentTimeout: time.Second})

	patch := testPatch(false)
	asset := testAsset("web-1")
	persistence.patches[patch.ID] = patch
	persistence.assets[asset.ID] = asset

	deployment, err := c.Deploy(context.Background(), patch.ID, []uuid.UUID{asset.ID}, strategy.AllAtOnce, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentFailed, deployment.Status)
	assert.Contains(t, deployment.ErrorMessage, "not been approved")
	assert.NotContains(t, persistence.updates, models.DeploymentInProgress)
}

func TestCoordinator_Deploy_PreflightRejectsUnreachableAsset(t *testing.T) {
	strat := &fakeStrategy{kind: strategy.AllAtOnce, status: models.DeploymentCompleted, outcome: models.OutcomeSuccess}
	c, persistence := testCoordinator(t, strat, Options{DeploymentTimeout: time.Second})

	patch := testPatch(true)
	asset := testAsset("web-1")
	asset.MaintenanceMode = true
	persistence.patches[patch.ID] = patch
	persistence.assets[asset.ID] = asset

	deployment, err := c.Deploy(context.Background(), patch.ID, []uuid.UUID{asset.ID}, strategy.AllAtOnce, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentFailed, deployment.Status)
	assert.Contains(t, deployment.ErrorMessage, "not reachable")
}

func TestCoordinator_Deploy_StrategyFailureMarksDeploymentFailed(t *testing.T) {
	strat := &fakeStrategy{kind: strategy.AllAtOnce, status: models.DeploymentFailed, outcome: models.OutcomeFailed, err: "ssh timeout"}
	c, persistence := testCoordinator(t, strat, Options{DeploymentTimeout: time.Second, TriggerPollInterval: 5 * time.Millisecond, HealthCheckInterval: 5 * time.Millisecond})

	patch := testPatch(true)
	asset := testAsset("web-1")
	persistence.patches[patch.ID] = patch
	persistence.assets[asset.ID] = asset

	deployment, err := c.Deploy(context.Background(), patch.ID, []uuid.UUID{asset.ID}, strategy.AllAtOnce, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentFailed, deployment.Status)
	assert.Equal(t, 1, deployment.FailedAssets)
}

func TestCoordinator_Rollback_UnavailableWithoutReverseScript(t *testing.T) {
	strat := &fakeStrategy{kind: strategy.AllAtOnce, status: models.DeploymentCompleted, outcome: models.OutcomeSuccess}
	c, persistence := testCoordinator(t, strat, Options{DeploymentTimeout: time.Second, TriggerPollInterval: 5 * time.Millisecond, HealthCheckInterval: 5 * time.Millisecond})

	patch := testPatch(true)
	patch.ReverseScript = nil
	asset := testAsset("web-1")
	persistence.patches[patch.ID] = patch
	persistence.assets[asset.ID] = asset

	deployment, err := c.Deploy(context.Background(), patch.ID, []uuid.UUID{asset.ID}, strategy.AllAtOnce, nil, "alice")
	require.NoError(t, err)

	_, err = c.Rollback(context.Background(), deployment.ID, "bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rollback unavailable")
}

func TestCoordinator_Rollback_ManualPathTransitionsToRolledBack(t *testing.T) {
	strat := &fakeStrategy{kind: strategy.AllAtOnce, status: models.DeploymentCompleted, outcome: models.OutcomeSuccess}
	c, persistence := testCoordinator(t, strat, Options{DeploymentTimeout: time.Second, TriggerPollInterval: 5 * time.Millisecond, HealthCheckInterval: 5 * time.Millisecond})

	patch := testPatch(true)
	asset := testAsset("web-1")
	persistence.patches[patch.ID] = patch
	persistence.assets[asset.ID] = asset

	deployment, err := c.Deploy(context.Background(), patch.ID, []uuid.UUID{asset.ID}, strategy.AllAtOnce, nil, "alice")
	require.NoError(t, err)

	rolledBack, err := c.Rollback(context.Background(), deployment.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentRolledBack, rolledBack.Status)
	assert.Contains(t, persistence.updates, models.DeploymentRolledBack)
}

func TestCoordinator_Status_UnknownDeploymentErrors(t *testing.T) {
	strat := &fakeStrategy{kind: strategy.AllAtOnce, status: models.DeploymentCompleted, outcome: models.OutcomeSuccess}
	c, _ := testCoordinator(t, strat, Options{})

	_, err := c.Status(uuid.New())
	require.Error(t, err)
}

func TestCoordinator_Verify_ReportsUnhealthyAssets(t *testing.T) {
	strat := &fakeStrategy{kind: strategy.AllAtOnce, status: models.DeploymentCompleted, outcome: models.OutcomeSuccess}
	c, persistence := testCoordinator(t, strat, Options{DeploymentTimeout: time.Second, TriggerPollInterval: 5 * time.Millisecond, HealthCheckInterval: 5 * time.Millisecond})

	patch := testPatch(true)
	asset := testAsset("web-1")
	persistence.patches[patch.ID] = patch
	persistence.assets[asset.ID] = asset

	deployment, err := c.Deploy(context.Background(), patch.ID, []uuid.UUID{asset.ID}, strategy.AllAtOnce, nil, "alice")
	require.NoError(t, err)

	result, err := c.Verify(context.Background(), deployment.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 1, len(result.Unhealthy), "the TCP check targets a port nothing listens on in this test")
}
