package strategy

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/rollforge/internal/remote"
	"github.com/quantumlayerhq/rollforge/pkg/logger"
	"github.com/quantumlayerhq/rollforge/pkg/models"
	"github.com/quantumlayerhq/rollforge/pkg/telemetry"
)

// fakeExecutor is an in-memory remote.Executor: forward scripts "succeed"
// unless the asset id is listed in failing, independent of script content.
type fakeExecutor struct {
	mu      sync.Mutex
	failing map[uuid.UUID]bool
	calls   int
}

func (f *fakeExecutor) Execute(ctx context.Context, asset models.Asset, command string, opts remote.ExecOptions) (*remote.CommandResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.failing[asset.ID] {
		return &remote.CommandResult{ExitCode: 1, Stderr: "simulated failure"}, nil
	}
	return &remote.CommandResult{ExitCode: 0, Stdout: "ok"}, nil
}

func (f *fakeExecutor) WriteFile(ctx context.Context, asset models.Asset, remotePath string, content []byte, mode fs.FileMode) error {
	return nil
}

func (f *fakeExecutor) TestConnection(ctx context.Context, asset models.Asset) error {
	if f.failing[asset.ID] {
		return fmt.Errorf("connection test failed")
	}
	return nil
}

func (f *fakeExecutor) Close(asset models.Asset) error { return nil }

func newAssets(n int) []models.Asset {
	assets := make([]models.Asset, n)
	for i := 0; i < n; i++ {
		assets[i] = models.Asset{ID: uuid.New(), Name: fmt.Sprintf("h%d", i+1), Address: "10.0.0.1", Port: 22, User: "deploy"}
	}
	return assets
}

func testDeps(executor *fakeExecutor) Deps {
	return Deps{
		Executor: executor,
		Log:      logger.New("debug", "text"),
		Tracer:   telemetry.NoopTracer{},
		Opts:     DefaultOptions(),
	}
}

func testPatch() models.Patch {
	return models.Patch{ID: uuid.New(), ForwardScript: []byte("echo ok\n")}
}

func TestPartitionBatches(t *testing.T) {
	assets := newAssets(4)
	batches := partitionBatches(assets, 0.5)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)
}

func TestPartitionBatches_Uneven(t *testing.T) {
	assets := newAssets(5)
	batches := partitionBatches(assets, 0.5)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 2)
}

func TestSplitBlueGreen_ByTag(t *testing.T) {
	assets := []models.Asset{
		{ID: uuid.New(), Environment: "green"},
		{ID: uuid.New(), Environment: "blue"},
		{ID: uuid.New(), Environment: "green"},
	}
	green, blue := splitBlueGreen(assets)
	assert.Len(t, green, 2)
	assert.Len(t, blue, 1)
}

func TestSplitBlueGreen_NoTagsSplitsInHalf(t *testing.T) {
	assets := newAssets(4)
	green, blue := splitBlueGreen(assets)
	assert.Len(t, green, 2)
	assert.Len(t, blue, 2)
}

func TestCanaryValidate_RejectsNonAscendingStages(t *testing.T) {
	s := NewCanary(Deps{}, nil)
	err := s.Validate(newAssets(3), map[string]any{
		"stages": []any{0.5, 0.3, 1.0},
	})
	assert.Error(t, err)
}

func TestCanaryValidate_RequiresFinalStageOne(t *testing.T) {
	s := NewCanary(Deps{}, nil)
	err := s.Validate(newAssets(3), map[string]any{
		"stages": []any{0.1, 0.5},
	})
	assert.Error(t, err)
}

func TestAllAtOnceValidate_RejectsEmpty(t *testing.T) {
	s := NewAllAtOnce(Deps{})
	assert.Error(t, s.Validate(nil, nil))
}

func TestRollingValidate_RejectsBadFraction(t *testing.T) {
	s := NewRolling(Deps{})
	err := s.Validate(newAssets(2), map[string]any{"batch_fraction": 1.5})
	assert.Error(t, err)
}

func TestCountHelpers(t *testing.T) {
	outcomes := []models.AssetOutcome{
		{Status: models.OutcomeSuccess},
		{Status: models.OutcomeFailed},
		{Status: models.OutcomeFailed},
	}
	assert.Equal(t, 1, countSuccesses(outcomes))
	assert.Equal(t, 2, countFailures(outcomes))
}

// TestRolling_AllSucceed mirrors scenario S1: four assets, batch_fraction
// 0.5, wait 0, max_failures 1 — two batches of two, terminal completed.
func TestRolling_AllSucceed(t *testing.T) {
	assets := newAssets(4)
	executor := &fakeExecutor{failing: map[uuid.UUID]bool{}}
	s := NewRolling(testDeps(executor))

	result, err := s.Execute(context.Background(), "dep-1", testPatch(), assets, map[string]any{
		"batch_fraction":       0.5,
		"wait_between_batches": 0.0,
		"max_failures":         1.0,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentCompleted, result.Status)
	assert.Len(t, result.Batches, 2)
	assert.Equal(t, 4, countSuccesses(result.Outcomes))
}

// TestRolling_ThresholdExceeded mirrors scenario S2: batch 1 has one
// failure, max_failures=1, continue_on_error=false — engine stops before
// batch 2.
func TestRolling_ThresholdExceeded(t *testing.T) {
	assets := newAssets(4)
	executor := &fakeExecutor{failing: map[uuid.UUID]bool{assets[0].ID: true}}
	s := NewRolling(testDeps(executor))

	result, err := s.Execute(context.Background(), "dep-1", testPatch(), assets, map[string]any{
		"batch_fraction":       0.5,
		"wait_between_batches": 0.0,
		"max_failures":         1.0,
		"continue_on_error":    false,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentFailed, result.Status)
	assert.Len(t, result.Batches, 1, "engine must stop before batch 2")
	assert.Equal(t, 1, countSuccesses(result.Outcomes))
	assert.Equal(t, 1, countFailures(result.Outcomes))
}

func TestAllAtOnce_PartialSuccessStillCompletes(t *testing.T) {
	assets := newAssets(3)
	executor := &fakeExecutor{failing: map[uuid.UUID]bool{assets[0].ID: true}}
	s := NewAllAtOnce(testDeps(executor))

	result, err := s.Execute(context.Background(), "dep-1", testPatch(), assets, nil)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentCompleted, result.Status)
	assert.Equal(t, 1, countFailures(result.Outcomes))
}

func TestAllAtOnce_AllFail(t *testing.T) {
	assets := newAssets(2)
	failing := map[uuid.UUID]bool{}
	for _, a := range assets {
		failing[a.ID] = true
	}
	executor := &fakeExecutor{failing: failing}
	s := NewAllAtOnce(testDeps(executor))

	result, err := s.Execute(context.Background(), "dep-1", testPatch(), assets, nil)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentFailed, result.Status)
}

// TestCanary_Promotes mirrors scenario S3: ten assets, ascending stages,
// all succeed, terminal completed with all ten deployed.
func TestCanary_Promotes(t *testing.T) {
	assets := newAssets(10)
	executor := &fakeExecutor{failing: map[uuid.UUID]bool{}}
	s := NewCanary(testDeps(executor), nil)

	result, err := s.Execute(context.Background(), "dep-1", testPatch(), assets, map[string]any{
		"stages":              []any{0.1, 0.5, 1.0},
		"monitoring_duration": 0.0,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentCompleted, result.Status)
	assert.Equal(t, 10, countSuccesses(result.Outcomes))
}

// TestCanary_FailsAndRollsBack mirrors scenario S4: first host fails
// within the first stage, rollback_on_failure true -> rolled_back.
func TestCanary_FailsAndRollsBack(t *testing.T) {
	assets := newAssets(10)
	executor := &fakeExecutor{failing: map[uuid.UUID]bool{assets[0].ID: true}}
	s := NewCanary(testDeps(executor), nil)

	result, err := s.Execute(context.Background(), "dep-1", testPatch(), assets, map[string]any{
		"stages":              []any{0.1, 0.5, 1.0},
		"monitoring_duration": 0.0,
		"rollback_on_failure": true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentRolledBack, result.Status)
}

func TestBlueGreen_GreenFailureSkipsBlue(t *testing.T) {
	assets := []models.Asset{
		{ID: uuid.New(), Environment: "green"},
		{ID: uuid.New(), Environment: "blue"},
	}
	executor := &fakeExecutor{failing: map[uuid.UUID]bool{assets[0].ID: true}}
	s := NewBlueGreen(testDeps(executor))

	result, err := s.Execute(context.Background(), "dep-1", testPatch(), assets, nil)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentFailed, result.Status)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, models.OutcomeSkipped, result.Outcomes[1].Status, "blue subset must never be attempted")
}

func TestBlueGreen_BothSucceed(t *testing.T) {
	assets := []models.Asset{
		{ID: uuid.New(), Environment: "green"},
		{ID: uuid.New(), Environment: "blue"},
	}
	executor := &fakeExecutor{failing: map[uuid.UUID]bool{}}
	s := NewBlueGreen(testDeps(executor))

	result, err := s.Execute(context.Background(), "dep-1", testPatch(), assets, nil)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentCompleted, result.Status)
	assert.Len(t, result.Outcomes, 2)
}
