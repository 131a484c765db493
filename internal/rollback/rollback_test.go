package rollback

import (
	"context"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/rollforge/internal/remote"
	"github.com/quantumlayerhq/rollforge/pkg/logger"
	"github.com/quantumlayerhq/rollforge/pkg/models"
	"github.com/quantumlayerhq/rollforge/pkg/telemetry"
)

// scriptedExecutor lets each test script per-command behavior by exact
// command text; unmatched commands default to a clean success.
type scriptedExecutor struct {
	failLine  map[string]bool // command text -> exit nonzero
	errLine   map[string]bool // command text -> infra error
	connError bool
}

func (s *scriptedExecutor) Execute(ctx context.Context, asset models.Asset, command string, opts remote.ExecOptions) (*remote.CommandResult, error) {
	if s.connError || s.errLine[command] {
		return nil, fmt.Errorf("connection reset")
	}
	if s.failLine[command] {
		return &remote.CommandResult{ExitCode: 1, Stderr: "failed"}, nil
	}
	return &remote.CommandResult{ExitCode: 0, Stdout: "ok"}, nil
}

func (s *scriptedExecutor) WriteFile(ctx context.Context, asset models.Asset, remotePath string, content []byte, mode fs.FileMode) error {
	return nil
}

func (s *scriptedExecutor) TestConnection(ctx context.Context, asset models.Asset) error { return nil }
func (s *scriptedExecutor) Close(asset models.Asset) error                               { return nil }

func testExecutor(exec remote.Executor) *Executor {
	return NewExecutor(exec, logger.New("debug", "text"), telemetry.NoopTracer{}, DefaultExecutorOptions())
}

func samplePatch(reverse string) models.Patch {
	return models.Patch{
		ID:            uuid.New(),
		ReverseScript: []byte(reverse),
		Metadata:      map[string]string{},
	}
}

func TestExecutor_AllLinesSucceed_RollsBack(t *testing.T) {
	exec := testExecutor(&scriptedExecutor{})
	patch := samplePatch("systemctl stop foo\nrm -f /etc/foo.conf\n")
	asset := models.Asset{ID: uuid.New(), Name: "h1"}

	entries := exec.Run(context.Background(), "dep-1", patch, []models.Asset{asset})
	require.Len(t, entries, 1)
	assert.Equal(t, models.RollbackStatusRolledBack, entries[0].Status)
	assert.True(t, entries[0].Verified)
	assert.Len(t, entries[0].CommandLines, 2)
}

func TestExecutor_LineFails_Partial(t *testing.T) {
	exec := testExecutor(&scriptedExecutor{failLine: map[string]bool{"rm -f /etc/foo.conf": true}})
	patch := samplePatch("systemctl stop foo\nrm -f /etc/foo.conf\n")
	asset := models.Asset{ID: uuid.New(), Name: "h1"}

	entries := exec.Run(context.Background(), "dep-1", patch, []models.Asset{asset})
	require.Len(t, entries, 1)
	assert.Equal(t, models.RollbackStatusPartial, entries[0].Status)
	assert.Len(t, entries[0].CommandLines, 2, "must continue past the failed line")
}

func TestExecutor_InfraError_Failed(t *testing.T) {
	exec := testExecutor(&scriptedExecutor{connError: true})
	patch := samplePatch("systemctl stop foo\n")
	asset := models.Asset{ID: uuid.New(), Name: "h1"}

	entries := exec.Run(context.Background(), "dep-1", patch, []models.Asset{asset})
	require.Len(t, entries, 1)
	assert.Equal(t, models.RollbackStatusFailed, entries[0].Status)
}

func TestExecutor_NoReverseScript_Unavailable(t *testing.T) {
	exec := testExecutor(&scriptedExecutor{})
	patch := models.Patch{ID: uuid.New()}
	assets := []models.Asset{{ID: uuid.New()}, {ID: uuid.New()}}

	entries := exec.Run(context.Background(), "dep-1", patch, assets)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, models.RollbackStatusUnavailable, e.Status)
	}
}

func TestExecutor_ServiceNotActive_Partial(t *testing.T) {
	patch := samplePatch("echo reverted\n")
	patch.Metadata["service_name"] = "myapp"
	exec := testExecutor(&scriptedExecutor{failLine: map[string]bool{"systemctl is-active myapp": true}})
	asset := models.Asset{ID: uuid.New()}

	entries := exec.Run(context.Background(), "dep-1", patch, []models.Asset{asset})
	require.Len(t, entries, 1)
	assert.Equal(t, models.RollbackStatusPartial, entries[0].Status)
	assert.False(t, entries[0].Verified)
}

func TestExecutor_MultipleAssets_Parallel(t *testing.T) {
	exec := testExecutor(&scriptedExecutor{})
	patch := samplePatch("echo reverted\n")
	assets := make([]models.Asset, 5)
	for i := range assets {
		assets[i] = models.Asset{ID: uuid.New()}
	}

	entries := exec.Run(context.Background(), "dep-1", patch, assets)
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, assets[i].ID, e.AssetID)
		assert.Equal(t, models.RollbackStatusRolledBack, e.Status)
	}
}

func TestSplitScriptLines_SkipsBlanksAndComments(t *testing.T) {
	lines := splitScriptLines([]byte("# header\nsystemctl stop foo\n\n  \nrm -f /bar\n"))
	assert.Equal(t, []string{"systemctl stop foo", "rm -f /bar"}, lines)
}

// --- Trigger Engine ---

func sample(assetID uuid.UUID, healthy bool, metrics map[string]float64) models.HealthSample {
	return models.HealthSample{AssetID: assetID, Timestamp: time.Now(), Healthy: healthy, Metrics: metrics}
}

func TestEngine_ConsecutiveFailuresTriggers(t *testing.T) {
	e := NewEngine(10)
	dep := uuid.New()
	asset := uuid.New()
	for i := 0; i < 3; i++ {
		e.Feed(dep, sample(asset, false, nil))
	}
	decision := e.Evaluate(dep)
	assert.True(t, decision.Trigger)
	assert.Equal(t, models.SeverityCritical, decision.Severity, "failure_rate also fires at 100% and outranks consecutive_failures")
}

func TestEngine_NoTriggerOnHealthySamples(t *testing.T) {
	e := NewEngine(10)
	dep := uuid.New()
	asset := uuid.New()
	for i := 0; i < 5; i++ {
		e.Feed(dep, sample(asset, true, map[string]float64{"service_active": 1}))
	}
	decision := e.Evaluate(dep)
	assert.False(t, decision.Trigger)
	assert.Equal(t, models.SeverityNone, decision.Severity)
}

func TestEngine_ServiceDownTriggersCritical(t *testing.T) {
	e := NewEngine(10)
	dep := uuid.New()
	asset := uuid.New()
	e.Feed(dep, sample(asset, false, map[string]float64{"service_active": 0}))
	decision := e.Evaluate(dep)
	assert.True(t, decision.Trigger)
	assert.Equal(t, models.SeverityCritical, decision.Severity)
}

func TestEngine_ResourceExhaustionTriggersMedium(t *testing.T) {
	e := NewEngine(10)
	dep := uuid.New()
	asset := uuid.New()
	e.Feed(dep, sample(asset, true, map[string]float64{"cpu_percent": 95}))
	decision := e.Evaluate(dep)
	assert.True(t, decision.Trigger)
	assert.Contains(t, []models.RollbackSeverity{models.SeverityMedium}, decision.Severity)
}

func TestEngine_ErrorRateSpike(t *testing.T) {
	e := NewEngine(10)
	dep := uuid.New()
	e.FeedAlert(dep, models.Alert{Severity: models.AlertSeverityError})
	e.FeedAlert(dep, models.Alert{Severity: models.AlertSeverityCritical})
	decision := e.Evaluate(dep)
	assert.True(t, decision.Trigger)
	found := false
	for _, r := range decision.Reasons {
		if r.Rule == "error_rate_spike" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestEngine_ConfidenceScalesWithFiredRules(t *testing.T) {
	e := NewEngine(10)
	dep := uuid.New()
	asset := uuid.New()
	// service_down + resource_exhaustion + failure_rate all fire on one bad sample.
	e.Feed(dep, sample(asset, false, map[string]float64{"service_active": 0, "cpu_percent": 99}))
	decision := e.Evaluate(dep)
	require.True(t, decision.Trigger)
	assert.InDelta(t, 0.25*float64(len(decision.Reasons)), decision.Confidence, 0.0001)
}

func TestEngine_CustomRuleRegistrationReplaces(t *testing.T) {
	e := NewEngine(10)
	dep := uuid.New()

	calls := 0
	e.RegisterRule(alwaysFireRule{name: "custom_rule", calls: &calls})
	e.RegisterRule(alwaysFireRule{name: "custom_rule", calls: &calls}) // re-register, must replace not duplicate

	decision := e.Evaluate(dep)
	assert.Equal(t, 1, calls, "re-registering by the same name must replace, not add a second rule")
	assert.True(t, decision.Trigger)
}

type alwaysFireRule struct {
	name  string
	calls *int
}

func (r alwaysFireRule) Name() string { return r.name }
func (r alwaysFireRule) Evaluate(w *Window) (bool, models.RollbackSeverity, map[string]any) {
	*r.calls++
	return true, models.SeverityLow, nil
}

func TestWindow_EvictsOldestBeyondCapacity(t *testing.T) {
	w := &Window{Capacity: 2}
	w.Push(sample(uuid.New(), true, nil))
	w.Push(sample(uuid.New(), true, nil))
	w.Push(sample(uuid.New(), true, nil))
	assert.Len(t, w.Samples, 2)
}

func TestEngine_ResetDropsWindow(t *testing.T) {
	e := NewEngine(10)
	dep := uuid.New()
	e.Feed(dep, sample(uuid.New(), false, nil))
	e.Reset(dep)
	decision := e.Evaluate(dep)
	assert.False(t, decision.Trigger)
}

// --- History ---

func TestHistory_AppendAndForDeployment(t *testing.T) {
	h := NewHistory()
	dep := uuid.New()
	h.Append(Record{DeploymentID: dep, Trigger: models.RollbackTriggerAutomatic, Entries: []models.RollbackLogEntry{{Status: models.RollbackStatusRolledBack}}})
	records := h.ForDeployment(dep)
	require.Len(t, records, 1)
	assert.True(t, records[0].Succeeded())
}

func TestHistory_GetLastSuccessfulDeployment(t *testing.T) {
	h := NewHistory()
	d1, d2, d3 := uuid.New(), uuid.New(), uuid.New()
	h.Append(Record{DeploymentID: d2, Entries: []models.RollbackLogEntry{{Status: models.RollbackStatusFailed}}})

	got, ok := h.GetLastSuccessfulDeployment([]uuid.UUID{d1, d2, d3})
	require.True(t, ok)
	assert.Equal(t, d3, got, "d3 has no failed rollback recorded and is the most recent candidate")
}

func TestHistory_RollbackToLastSuccessful(t *testing.T) {
	h := NewHistory()
	exec := testExecutor(&scriptedExecutor{})
	patch := samplePatch("echo reverted\n")
	dep := uuid.New()
	asset := models.Asset{ID: uuid.New()}

	entries := h.RollbackToLastSuccessful(context.Background(), exec, dep, patch, []models.Asset{asset})
	require.Len(t, entries, 1)
	assert.Equal(t, models.RollbackStatusRolledBack, entries[0].Status)

	records := h.ForDeployment(dep)
	require.Len(t, records, 1)
	assert.Equal(t, models.RollbackTriggerManual, records[0].Trigger)
}
