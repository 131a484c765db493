// Package alerting implements the Alert Router: it owns the set of
// raised alerts and fans each one out to whichever sinks are configured,
// grounded on services/orchestrator/internal/notifier's per-channel
// delivery code (Slack, email, generic webhook, Teams).
package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/rollforge/pkg/logger"
	"github.com/quantumlayerhq/rollforge/pkg/models"
)

// Sink delivers one alert to one destination. A sink's own delivery
// failure is isolated: it is logged and never prevents delivery to
// other sinks.
type Sink interface {
	Kind() string
	MinSeverity() models.AlertSeverity
	Send(ctx context.Context, alert models.Alert) error
}

// Summary is Router.Summary's return shape.
type Summary struct {
	BySeverity map[string]int
	Active     int
	Resolved   int
}

// Router is the Alert Router: `Create`/`Ack`/`Resolve`/`ActiveAlerts`/
// `Summary`/`AddSink`/`RemoveSink`, plus the `CreateDeploymentAlert`
// convenience.
type Router struct {
	mu     sync.Mutex
	alerts map[uuid.UUID]*models.Alert
	sinks  map[string]Sink
	log    *logger.Logger
}

// New creates an empty Alert Router with no sinks registered.
func New(log *logger.Logger) *Router {
	return &Router{
		alerts: make(map[uuid.UUID]*models.Alert),
		sinks:  make(map[string]Sink),
		log:    log.WithComponent("alert-router"),
	}
}

// AddSink registers or replaces a sink by its Kind().
func (r *Router) AddSink(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[s.Kind()] = s
}

// RemoveSink unregisters a sink by kind.
func (r *Router) RemoveSink(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sinks, kind)
}

// Create raises a new alert and dispatches it to every sink whose
// MinSeverity is met, isolating per-sink delivery failures.
func (r *Router) Create(ctx context.Context, title, message string, severity models.AlertSeverity, deploymentID *uuid.UUID, metadata map[string]any) models.Alert {
	alert := models.Alert{
		ID:           uuid.New(),
		Title:        title,
		Message:      message,
		Severity:     severity,
		DeploymentID: deploymentID,
		Metadata:     metadata,
		CreatedAt:    time.Now(),
	}

	r.mu.Lock()
	r.alerts[alert.ID] = &alert
	sinks := make([]Sink, 0, len(r.sinks))
	for _, s := range r.sinks {
		sinks = append(sinks, s)
	}
	r.mu.Unlock()

	for _, s := range sinks {
		if alert.Severity < s.MinSeverity() {
			continue
		}
		if err := s.Send(ctx, alert); err != nil {
			r.log.WithError(err).Warn("alert sink delivery failed", "sink", s.Kind(), "alert_id", alert.ID)
		}
	}

	return alert
}

// CreateDeploymentAlert maps a deployment-lifecycle tag to a pre-formatted
// alert with the right severity, per DeploymentAlertType.Severity().
func (r *Router) CreateDeploymentAlert(ctx context.Context, deploymentID uuid.UUID, alertType models.DeploymentAlertType, detail string) models.Alert {
	title := deploymentAlertTitle(alertType)
	return r.Create(ctx, title, detail, alertType.Severity(), &deploymentID, map[string]any{"alert_type": string(alertType)})
}

func deploymentAlertTitle(t models.DeploymentAlertType) string {
	switch t {
	case models.DeploymentAlertStarted:
		return "Deployment started"
	case models.DeploymentAlertCompleted:
		return "Deployment completed"
	case models.DeploymentAlertFailed:
		return "Deployment failed"
	case models.DeploymentAlertRollbackTriggered:
		return "Rollback triggered"
	case models.DeploymentAlertRollbackCompleted:
		return "Rollback completed"
	case models.DeploymentAlertRollbackFailed:
		return "Rollback failed"
	case models.DeploymentAlertHealthCheckFailed:
		return "Health check failed"
	default:
		return "Deployment event"
	}
}

// Ack marks an alert acknowledged.
func (r *Router) Ack(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return false
	}
	now := time.Now()
	a.Acknowledged = true
	a.AcknowledgedAt = &now
	return true
}

// Resolve marks an alert resolved. Idempotent: resolving an already
// resolved alert leaves its ResolvedAt untouched.
func (r *Router) Resolve(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return false
	}
	if a.Resolved {
		return true
	}
	now := time.Now()
	a.Resolved = true
	a.ResolvedAt = &now
	return true
}

// ActiveAlerts returns unresolved alerts, optionally filtered by
// deployment and a minimum severity.
func (r *Router) ActiveAlerts(deploymentID *uuid.UUID, minSeverity models.AlertSeverity) []models.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.Alert
	for _, a := range r.alerts {
		if a.Resolved {
			continue
		}
		if a.Severity < minSeverity {
			continue
		}
		if deploymentID != nil && (a.DeploymentID == nil || *a.DeploymentID != *deploymentID) {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// Summary aggregates alerts created within window.
func (r *Router) Summary(window time.Duration) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-window)
	s := Summary{BySeverity: make(map[string]int)}
	for _, a := range r.alerts {
		if a.CreatedAt.Before(cutoff) {
			continue
		}
		s.BySeverity[a.Severity.String()]++
		if a.Resolved {
			s.Resolved++
		} else {
			s.Active++
		}
	}
	return s
}
