package models

import (
	"time"

	"github.com/google/uuid"
)

// DeploymentStatus is the single authoritative status enum for a
// Deployment. Transitions are monotonic except the two rollback edges
// (in_progress -> rolled_back, completed -> rolled_back). The teacher's
// two divergent engines each carried their own status set (including
// paused/cancelled); this reconciles them into the one the core exposes.
type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "pending"
	DeploymentInProgress DeploymentStatus = "in_progress"
	DeploymentCompleted  DeploymentStatus = "completed"
	DeploymentFailed     DeploymentStatus = "failed"
	DeploymentRolledBack DeploymentStatus = "rolled_back"
)

// Strategy identifies a rollout algorithm variant.
type Strategy string

const (
	StrategyAllAtOnce Strategy = "all_at_once"
	StrategyRolling   Strategy = "rolling"
	StrategyCanary    Strategy = "canary"
	StrategyBlueGreen Strategy = "blue_green"
)

// AssetOutcomeStatus is the terminal per-asset status within a deployment.
type AssetOutcomeStatus string

const (
	OutcomeSuccess    AssetOutcomeStatus = "success"
	OutcomeFailed     AssetOutcomeStatus = "failed"
	OutcomeRolledBack AssetOutcomeStatus = "rolled_back"
	OutcomeSkipped    AssetOutcomeStatus = "skipped"
)

// RollbackAssetStatus is the terminal per-asset status produced by a
// rollback attempt, distinct from AssetOutcomeStatus because a rollback
// can partially succeed in ways a forward deployment cannot.
type RollbackAssetStatus string

const (
	RollbackStatusRolledBack        RollbackAssetStatus = "rolled_back"
	RollbackStatusPartial           RollbackAssetStatus = "rollback_partial"
	RollbackStatusFailed            RollbackAssetStatus = "rollback_failed"
	RollbackStatusUnavailable       RollbackAssetStatus = "rollback_unavailable"
)

// AssetOutcome is one asset's terminal record within a Deployment.results.
type AssetOutcome struct {
	AssetID   uuid.UUID          `json:"assetId"`
	Batch     int                `json:"batch"` // batch/stage index this asset was processed in
	Status    AssetOutcomeStatus `json:"status"`
	Stdout    string             `json:"stdout,omitempty"` // bounded, truncated with marker if oversized
	Stderr    string             `json:"stderr,omitempty"`
	Error     string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// RollbackLogEntry is one asset's terminal record within a rollback
// attempt.
type RollbackLogEntry struct {
	AssetID      uuid.UUID           `json:"assetId"`
	Status       RollbackAssetStatus `json:"status"`
	CommandLines []CommandLineResult `json:"commandLines,omitempty"`
	Verified     bool                `json:"verified"`
	VerifyNote   string              `json:"verifyNote,omitempty"`
	Error        string              `json:"error,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}

// CommandLineResult is the result of one logical line of a reverse script.
type CommandLineResult struct {
	Line     string `json:"line"`
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	OK       bool   `json:"ok"`
}

// BatchSummary records one batch/stage's aggregate outcome, used by both
// the rolling and canary strategies.
type BatchSummary struct {
	Index      int       `json:"index"`
	AssetIDs   []uuid.UUID `json:"assetIds"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// DeploymentResults is the typed replacement for the source's untyped
// "results" dict (design note: runtime-typed result maps get a concrete
// struct with named fields; JSON on the wire, typed internally).
type DeploymentResults struct {
	AssetOutcomes []AssetOutcome      `json:"assetOutcomes"`
	BatchLogs     []BatchSummary      `json:"batchLogs,omitempty"`
	RollbackLogs  []RollbackLogEntry  `json:"rollbackLogs,omitempty"`
	Phases        []string            `json:"phases,omitempty"`
}

// Deployment is one attempt to apply one Patch to an ordered list of
// Assets under one Strategy.
type Deployment struct {
	ID uuid.UUID `json:"id" db:"id"`

	PatchID  uuid.UUID   `json:"patchId" db:"patch_id"`
	AssetIDs []uuid.UUID `json:"assetIds" db:"asset_ids"`

	Strategy       Strategy       `json:"strategy" db:"strategy"`
	StrategyParams map[string]any `json:"strategyParams" db:"strategy_params"`

	Status DeploymentStatus `json:"status" db:"status"`

	TotalAssets      int `json:"totalAssets" db:"total_assets"`
	SuccessfulAssets int `json:"successfulAssets" db:"successful_assets"`
	FailedAssets     int `json:"failedAssets" db:"failed_assets"`

	StartedAt   *time.Time `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completedAt,omitempty" db:"completed_at"`

	Results DeploymentResults `json:"results" db:"results"`

	ErrorMessage string `json:"errorMessage,omitempty" db:"error_message"`

	Actor string `json:"actor" db:"actor"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Terminal reports whether the deployment has reached a final status.
func (d *Deployment) Terminal() bool {
	switch d.Status {
	case DeploymentCompleted, DeploymentFailed, DeploymentRolledBack:
		return true
	default:
		return false
	}
}

// AccountedFor is invariant 1 from spec section 8: successful + failed
// never exceeds total, and equals it once terminal. Assets a strategy
// never got to (an early stop on a failure threshold, a cancelled run)
// carry an OutcomeSkipped entry in Results rather than a successful or
// failed tally, so they count toward "accounted for" without being
// folded into either bucket.
func (d *Deployment) AccountedFor() bool {
	accounted := d.SuccessfulAssets + d.FailedAssets + countSkippedOutcomes(d.Results.AssetOutcomes)
	if accounted > d.TotalAssets {
		return false
	}
	if d.Terminal() {
		return accounted == d.TotalAssets
	}
	return true
}

func countSkippedOutcomes(outcomes []AssetOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Status == OutcomeSkipped {
			n++
		}
	}
	return n
}

// HealthSample is one probe's result against one asset at one point in
// time, always scoped to a deployment.
type HealthSample struct {
	AssetID      uuid.UUID          `json:"assetId"`
	DeploymentID uuid.UUID          `json:"deploymentId"`
	Timestamp    time.Time          `json:"timestamp"`
	Healthy      bool               `json:"healthy"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	FailureReason string            `json:"failureReason,omitempty"`
}

// RollbackSeverity orders none..critical, used by the Rollback Trigger
// Engine to take the max across fired rules.
type RollbackSeverity int

const (
	SeverityNone RollbackSeverity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s RollbackSeverity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

// RollbackReason is one rule's contribution to a RollbackDecision.
type RollbackReason struct {
	Rule     string             `json:"rule"`
	Severity RollbackSeverity   `json:"severity"`
	Details  map[string]any     `json:"details,omitempty"`
}

// RollbackDecision is the Rollback Trigger Engine's pure output: it
// decides, it never executes.
type RollbackDecision struct {
	Trigger    bool              `json:"trigger"`
	Severity   RollbackSeverity  `json:"severity"`
	Reasons    []RollbackReason  `json:"reasons,omitempty"`
	Confidence float64           `json:"confidence"`
}

// RollbackTriggerKind records what initiated a rollback attempt, used by
// the rollback history / analytics cross-link.
type RollbackTriggerKind string

const (
	RollbackTriggerAutomatic   RollbackTriggerKind = "automatic"
	RollbackTriggerManual      RollbackTriggerKind = "manual"
	RollbackTriggerHealthCheck RollbackTriggerKind = "health_check"
	RollbackTriggerTimeout     RollbackTriggerKind = "timeout"
)
