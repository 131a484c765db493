// Package rollback implements the Rollback Trigger Engine (a pure rule
// evaluator over per-deployment health sample windows) and the Rollback
// Executor (which actually runs the reverse script), grounded on
// original_source's RollbackManager rule table and DeploymentHistory.
package rollback

import (
	"sync"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/rollforge/pkg/models"
)

// Rule evaluates one rollback trigger condition against a deployment's
// current window state. Custom rules may be registered alongside the
// five built-in ones; registration is keyed by Name and re-registration
// replaces.
type Rule interface {
	Name() string
	Evaluate(window *Window) (triggered bool, severity models.RollbackSeverity, details map[string]any)
}

// Window is the rolling state the Trigger Engine keeps per deployment: the
// last K health samples plus any alerts observed for error-rate-spike
// detection. Mutated by exactly one goroutine (the feeder); Engine.Evaluate
// runs the rules against a copy taken under the engine's lock.
type Window struct {
	Capacity int
	Samples  []models.HealthSample
	Alerts   []models.Alert
}

// Push appends a sample, evicting the oldest once Capacity is exceeded.
func (w *Window) Push(sample models.HealthSample) {
	w.Samples = append(w.Samples, sample)
	if len(w.Samples) > w.Capacity {
		w.Samples = w.Samples[len(w.Samples)-w.Capacity:]
	}
}

// PushAlert records an alert for the error-rate-spike rule's lookback.
func (w *Window) PushAlert(alert models.Alert) {
	w.Alerts = append(w.Alerts, alert)
	if len(w.Alerts) > w.Capacity*4 {
		w.Alerts = w.Alerts[len(w.Alerts)-w.Capacity*4:]
	}
}

// latestByAsset groups the window's most recent sample per asset, used by
// rules that need "the current state of the fleet" rather than one
// asset's history.
func (w *Window) latestByAsset() map[uuid.UUID]models.HealthSample {
	latest := make(map[uuid.UUID]models.HealthSample)
	for _, s := range w.Samples {
		if existing, ok := latest[s.AssetID]; !ok || s.Timestamp.After(existing.Timestamp) {
			latest[s.AssetID] = s
		}
	}
	return latest
}

// Engine is the stateful, per-deployment rollback trigger evaluator.
// It is pure with respect to its Evaluate output: it decides, it never
// executes a rollback itself.
type Engine struct {
	mu      sync.Mutex
	windows map[uuid.UUID]*Window
	rules   []Rule
	ruleIdx map[string]int
	window  int // default window capacity
}

// NewEngine creates a Trigger Engine with the five built-in rules
// registered, each using its spec default threshold.
func NewEngine(windowCapacity int) *Engine {
	if windowCapacity <= 0 {
		windowCapacity = 10
	}
	e := &Engine{
		windows: make(map[uuid.UUID]*Window),
		ruleIdx: make(map[string]int),
		window:  windowCapacity,
	}
	for _, r := range defaultRules() {
		e.RegisterRule(r)
	}
	return e
}

// RegisterRule adds or replaces a rule by name.
func (e *Engine) RegisterRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx, ok := e.ruleIdx[r.Name()]; ok {
		e.rules[idx] = r
		return
	}
	e.ruleIdx[r.Name()] = len(e.rules)
	e.rules = append(e.rules, r)
}

func (e *Engine) windowFor(deploymentID uuid.UUID) *Window {
	w, ok := e.windows[deploymentID]
	if !ok {
		w = &Window{Capacity: e.window}
		e.windows[deploymentID] = w
	}
	return w
}

// Feed pushes one health sample into the deployment's window. This is the
// only mutation path; it must be called from a single goroutine per
// deployment (the Prober→Trigger feeder).
func (e *Engine) Feed(deploymentID uuid.UUID, sample models.HealthSample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.windowFor(deploymentID).Push(sample)
}

// FeedAlert records an alert linked to the deployment for the
// error_rate_spike rule's lookback.
func (e *Engine) FeedAlert(deploymentID uuid.UUID, alert models.Alert) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.windowFor(deploymentID).PushAlert(alert)
}

// Evaluate runs every registered rule against the deployment's current
// window and aggregates: trigger = OR over rule outputs, severity = max
// of fired severities, confidence = min(1, 0.25 * fired_rule_count).
func (e *Engine) Evaluate(deploymentID uuid.UUID) models.RollbackDecision {
	e.mu.Lock()
	window := e.windowFor(deploymentID)
	snapshot := Window{
		Capacity: window.Capacity,
		Samples:  append([]models.HealthSample(nil), window.Samples...),
		Alerts:   append([]models.Alert(nil), window.Alerts...),
	}
	rules := append([]Rule(nil), e.rules...)
	e.mu.Unlock()

	decision := models.RollbackDecision{Severity: models.SeverityNone}

	for _, rule := range rules {
		triggered, severity, details := rule.Evaluate(&snapshot)
		if !triggered {
			continue
		}
		decision.Trigger = true
		decision.Reasons = append(decision.Reasons, models.RollbackReason{
			Rule:     rule.Name(),
			Severity: severity,
			Details:  details,
		})
		if severity > decision.Severity {
			decision.Severity = severity
		}
	}

	if decision.Trigger {
		decision.Confidence = minFloat(1.0, 0.25*float64(len(decision.Reasons)))
	}

	return decision
}

// Reset drops a deployment's window, called once a deployment reaches a
// terminal state.
func (e *Engine) Reset(deploymentID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.windows, deploymentID)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
