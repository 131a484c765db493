package rollback

import (
	"github.com/quantumlayerhq/rollforge/pkg/models"
)

// defaultRules returns the five built-in rules with their spec-default
// thresholds, grounded on original_source's RollbackManager._get_default_rules.
func defaultRules() []Rule {
	return []Rule{
		&consecutiveFailuresRule{threshold: 3},
		&failureRateRule{threshold: 0.5},
		&serviceDownRule{},
		&errorRateSpikeRule{threshold: 2},
		&resourceExhaustionRule{threshold: 90.0},
	}
}

// consecutiveFailuresRule fires when the last `threshold` samples are all
// unhealthy, regardless of which asset produced them.
type consecutiveFailuresRule struct {
	threshold int
}

func (r *consecutiveFailuresRule) Name() string { return "consecutive_failures" }

func (r *consecutiveFailuresRule) Evaluate(w *Window) (bool, models.RollbackSeverity, map[string]any) {
	if len(w.Samples) < r.threshold {
		return false, models.SeverityNone, nil
	}
	recent := w.Samples[len(w.Samples)-r.threshold:]
	for _, s := range recent {
		if s.Healthy {
			return false, models.SeverityNone, nil
		}
	}
	return true, models.SeverityHigh, map[string]any{
		"consecutive_failures": r.threshold,
		"last_failure_reason":  recent[len(recent)-1].FailureReason,
	}
}

// failureRateRule fires when the unhealthy fraction across the latest
// sample per asset exceeds threshold.
type failureRateRule struct {
	threshold float64
}

func (r *failureRateRule) Name() string { return "failure_rate" }

func (r *failureRateRule) Evaluate(w *Window) (bool, models.RollbackSeverity, map[string]any) {
	latest := w.latestByAsset()
	if len(latest) == 0 {
		return false, models.SeverityNone, nil
	}

	failed := 0
	for _, s := range latest {
		if !s.Healthy {
			failed++
		}
	}
	rate := float64(failed) / float64(len(latest))
	if rate <= r.threshold {
		return false, models.SeverityNone, nil
	}
	return true, models.SeverityCritical, map[string]any{
		"failure_rate":  rate,
		"threshold":     r.threshold,
		"failed_assets": failed,
		"total_assets":  len(latest),
	}
}

// serviceDownRule fires when the latest sample for any asset reports a
// critical service as non-active, signalled via the "service_active"
// metric key being 0.
type serviceDownRule struct{}

func (r *serviceDownRule) Name() string { return "service_down" }

func (r *serviceDownRule) Evaluate(w *Window) (bool, models.RollbackSeverity, map[string]any) {
	latest := w.latestByAsset()
	var down []string
	for assetID, s := range latest {
		if v, ok := s.Metrics["service_active"]; ok && v == 0 {
			down = append(down, assetID.String())
		}
	}
	if len(down) == 0 {
		return false, models.SeverityNone, nil
	}
	return true, models.SeverityCritical, map[string]any{"assets_with_service_down": down}
}

// errorRateSpikeRule fires when the count of error/critical alerts linked
// to the deployment reaches threshold.
type errorRateSpikeRule struct {
	threshold int
}

func (r *errorRateSpikeRule) Name() string { return "error_rate_spike" }

func (r *errorRateSpikeRule) Evaluate(w *Window) (bool, models.RollbackSeverity, map[string]any) {
	count := 0
	for _, a := range w.Alerts {
		if a.Severity == models.AlertSeverityError || a.Severity == models.AlertSeverityCritical {
			count++
		}
	}
	if count < r.threshold {
		return false, models.SeverityNone, nil
	}
	return true, models.SeverityHigh, map[string]any{"error_alert_count": count, "threshold": r.threshold}
}

// resourceExhaustionRule fires when any resource metric in the latest
// sample per asset exceeds threshold (interpreted as a percentage, e.g.
// cpu/mem/disk). service_active and the probe's duration_ms are not
// compared.
type resourceExhaustionRule struct {
	threshold float64
}

func (r *resourceExhaustionRule) Name() string { return "resource_exhaustion" }

func (r *resourceExhaustionRule) Evaluate(w *Window) (bool, models.RollbackSeverity, map[string]any) {
	latest := w.latestByAsset()
	exceeded := map[string]float64{}
	for assetID, s := range latest {
		for metric, v := range s.Metrics {
			if metric == "service_active" || metric == "duration_ms" {
				continue
			}
			if v > r.threshold {
				exceeded[assetID.String()+"."+metric] = v
			}
		}
	}
	if len(exceeded) == 0 {
		return false, models.SeverityNone, nil
	}
	return true, models.SeverityMedium, map[string]any{"exceeded": exceeded, "threshold": r.threshold}
}
