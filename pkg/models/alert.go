package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertSeverity orders from least to most urgent. The ordering itself
// (not just the string values) matters: the Alert Router filters sinks by
// "severity >= sink.min_severity". (The Rollback Trigger Engine's maximum
// is taken over RollbackSeverity, not over this type.)
type AlertSeverity int

const (
	AlertSeverityInfo AlertSeverity = iota
	AlertSeverityWarning
	AlertSeverityError
	AlertSeverityCritical
)

func (s AlertSeverity) String() string {
	switch s {
	case AlertSeverityInfo:
		return "info"
	case AlertSeverityWarning:
		return "warning"
	case AlertSeverityError:
		return "error"
	case AlertSeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseAlertSeverity parses the wire/string form back into a severity.
func ParseAlertSeverity(s string) AlertSeverity {
	switch s {
	case "warning":
		return AlertSeverityWarning
	case "error":
		return AlertSeverityError
	case "critical":
		return AlertSeverityCritical
	default:
		return AlertSeverityInfo
	}
}

// Alert is an emitted notification about the state of the deployment
// engine, independent of who ends up delivering it to a human.
type Alert struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	Title        string        `json:"title" db:"title"`
	Message      string        `json:"message" db:"message"`
	Severity     AlertSeverity `json:"severity" db:"severity"`
	DeploymentID *uuid.UUID    `json:"deploymentId,omitempty" db:"deployment_id"`
	Metadata     map[string]any `json:"metadata,omitempty" db:"metadata"`

	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	Acknowledged   bool       `json:"acknowledged" db:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty" db:"acknowledged_at"`
	Resolved       bool       `json:"resolved" db:"resolved"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty" db:"resolved_at"`
}

// DeploymentAlertType enumerates the small set of deployment-lifecycle
// events the Alert Router knows how to pre-format via
// CreateDeploymentAlert.
type DeploymentAlertType string

const (
	DeploymentAlertStarted            DeploymentAlertType = "started"
	DeploymentAlertCompleted          DeploymentAlertType = "completed"
	DeploymentAlertFailed             DeploymentAlertType = "failed"
	DeploymentAlertRollbackTriggered  DeploymentAlertType = "rollback_triggered"
	DeploymentAlertRollbackCompleted  DeploymentAlertType = "rollback_completed"
	DeploymentAlertRollbackFailed     DeploymentAlertType = "rollback_failed"
	DeploymentAlertHealthCheckFailed  DeploymentAlertType = "health_check_failed"
)

// Severity returns the pre-assigned severity for a deployment alert type.
func (t DeploymentAlertType) Severity() AlertSeverity {
	switch t {
	case DeploymentAlertStarted, DeploymentAlertCompleted:
		return AlertSeverityInfo
	case DeploymentAlertHealthCheckFailed:
		return AlertSeverityWarning
	case DeploymentAlertFailed, DeploymentAlertRollbackFailed:
		return AlertSeverityError
	case DeploymentAlertRollbackTriggered, DeploymentAlertRollbackCompleted:
		return AlertSeverityCritical
	default:
		return AlertSeverityInfo
	}
}
