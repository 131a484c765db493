// Package analytics implements the Analytics Recorder: an append-only
// event log over every deployment/rollback attempt, with a bounded
// in-memory sliding window backing cached derived queries and a durable
// store for everything beyond the window, grounded on the teacher's
// executor.Engine status bookkeeping (the closest thing it has to a
// deployment ledger) generalized into a dedicated component.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/rollforge/internal/events"
	"github.com/quantumlayerhq/rollforge/pkg/logger"
	"github.com/quantumlayerhq/rollforge/pkg/models"
)

// Event is one record in the analytics log: one deployment attempt, or
// one rollback attempt linked to a deployment.
type Event struct {
	ID            uuid.UUID
	DeploymentID  uuid.UUID
	PatchID       uuid.UUID
	Strategy      models.Strategy
	AssetCount    int
	StartedAt     time.Time
	CompletedAt   time.Time
	Status        models.DeploymentStatus
	Duration      time.Duration
	FailureReason string
	IsRollback    bool
}

// Store is the durable side of the log; the concrete adapter
// (internal/persistence/postgres) appends every event it's handed.
type Store interface {
	AppendEvent(ctx context.Context, event Event) error
}

// NoopStore discards every event, used where no durable store is wired.
type NoopStore struct{}

func (NoopStore) AppendEvent(ctx context.Context, event Event) error { return nil }

// Stats is Recorder.Stats's return shape.
type Stats struct {
	Total          int
	ByStatus       map[models.DeploymentStatus]int
	ByStrategy     map[models.Strategy]int
	SuccessRate    float64
	FailureRate    float64
	RollbackRate   float64
	AverageDuration time.Duration
}

// FailureAnalysis is Recorder.FailureAnalysis's return shape.
type FailureAnalysis struct {
	TotalFailures  int
	ByReason       map[string]int
	ByStrategy     map[models.Strategy]int
	ByPatch        map[uuid.UUID]int
	RecentFailures []Event // newest first, capped at 5
}

// PerformanceMetrics is Recorder.PerformanceMetrics's return shape.
type PerformanceMetrics struct {
	AverageDuration   time.Duration
	MinDuration       time.Duration
	MaxDuration       time.Duration
	AverageAssetCount float64
	ByStrategy        map[models.Strategy]time.Duration
}

// PatchStats is Recorder.PatchStats's return shape.
type PatchStats struct {
	PatchID          uuid.UUID
	TotalDeployments int
	Successes        int
	Failures         int
	Rollbacks        int
}

// Recorder is the single-writer append log plus cached derived queries.
// Readers get consistent snapshots; any mutating event drops the cache.
type Recorder struct {
	mu         sync.Mutex
	window     []Event
	windowSpan time.Duration
	store      Store
	publisher  events.Publisher
	log        *logger.Logger

	cache      map[string]any
	cacheValid bool
}

// New creates a Recorder. windowSpan bounds how long an event stays in
// the in-memory sliding window (older events remain queryable only
// through store, which this package does not read back from — it is a
// write-through target). publisher may be nil (defaults to a no-op).
func New(windowSpan time.Duration, store Store, publisher events.Publisher, log *logger.Logger) *Recorder {
	if store == nil {
		store = NoopStore{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if windowSpan <= 0 {
		windowSpan = 30 * 24 * time.Hour
	}
	return &Recorder{
		window:     nil,
		windowSpan: windowSpan,
		store:      store,
		publisher:  publisher,
		log:        log.WithComponent("analytics"),
		cache:      make(map[string]any),
	}
}

func (r *Recorder) evictOld() {
	cutoff := time.Now().Add(-r.windowSpan)
	i := 0
	for ; i < len(r.window); i++ {
		if r.window[i].StartedAt.After(cutoff) {
			break
		}
	}
	r.window = r.window[i:]
}

func (r *Recorder) record(ctx context.Context, e Event, eventType events.Type) {
	r.mu.Lock()
	r.window = append(r.window, e)
	r.evictOld()
	r.cacheValid = false
	r.mu.Unlock()

	if err := r.store.AppendEvent(ctx, e); err != nil {
		r.log.WithError(err).Warn("durable analytics write failed", "deployment_id", e.DeploymentID)
	}

	envelope := events.NewEnvelope(eventType, e.DeploymentID.String(), e)
	if err := r.publisher.Publish(ctx, envelope); err != nil {
		r.log.WithError(err).Warn("analytics event publish failed", "event_type", eventType, "deployment_id", e.DeploymentID)
	}
}

// RecordStarted logs a deployment's start.
func (r *Recorder) RecordStarted(ctx context.Context, deploymentID, patchID uuid.UUID, strategy models.Strategy, assetCount int) {
	r.record(ctx, Event{
		ID:           uuid.New(),
		DeploymentID: deploymentID,
		PatchID:      patchID,
		Strategy:     strategy,
		AssetCount:   assetCount,
		StartedAt:    time.Now(),
	}, events.TypeDeploymentStarted)
}

// RecordCompleted logs a deployment's terminal outcome.
func (r *Recorder) RecordCompleted(ctx context.Context, deploymentID, patchID uuid.UUID, strategy models.Strategy, assetCount int, startedAt time.Time, status models.DeploymentStatus, duration time.Duration, failureReason string) {
	eventType := events.TypeDeploymentSucceeded
	switch status {
	case models.DeploymentFailed:
		eventType = events.TypeDeploymentFailed
	case models.DeploymentRolledBack:
		eventType = events.TypeDeploymentRolledBack
	}
	r.record(ctx, Event{
		ID:            uuid.New(),
		DeploymentID:  deploymentID,
		PatchID:       patchID,
		Strategy:      strategy,
		AssetCount:    assetCount,
		StartedAt:     startedAt,
		CompletedAt:   time.Now(),
		Status:        status,
		Duration:      duration,
		FailureReason: failureReason,
	}, eventType)
}

// RecordRollback logs a rollback attempt cross-linked to its deployment.
func (r *Recorder) RecordRollback(ctx context.Context, deploymentID uuid.UUID, succeeded bool, duration time.Duration, failureReason string) {
	eventType := events.TypeRollbackSucceeded
	if !succeeded {
		eventType = events.TypeRollbackFailed
	} else {
		r.record(ctx, Event{
			ID:           uuid.New(),
			DeploymentID: deploymentID,
			IsRollback:   true,
			StartedAt:    time.Now().Add(-duration),
			CompletedAt:  time.Now(),
			Duration:     duration,
			Status:       models.DeploymentRolledBack,
		}, eventType)
		return
	}
	r.record(ctx, Event{
		ID:            uuid.New(),
		DeploymentID:  deploymentID,
		IsRollback:    true,
		StartedAt:     time.Now().Add(-duration),
		CompletedAt:   time.Now(),
		Duration:      duration,
		Status:        models.DeploymentFailed,
		FailureReason: failureReason,
	}, eventType)
}

func (r *Recorder) snapshot(window time.Duration) []Event {
	cutoff := time.Now().Add(-window)
	out := make([]Event, 0, len(r.window))
	index := make(map[uuid.UUID]int)
	for _, e := range r.window {
		if e.IsRollback || !e.StartedAt.After(cutoff) {
			continue
		}
		// One entry per deployment: a later record (e.g. the completion
		// after the start) replaces the earlier one.
		if i, ok := index[e.DeploymentID]; ok {
			out[i] = e
			continue
		}
		index[e.DeploymentID] = len(out)
		out = append(out, e)
	}
	return out
}

func cacheKey(prefix string, window time.Duration, extra string) string {
	return prefix + "|" + window.String() + "|" + extra
}

// Stats computes the aggregate view over the trailing window, optionally
// scoped to one strategy. Results are cached until the next mutating
// event.
func (r *Recorder) Stats(window time.Duration, strategy *models.Strategy) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	extra := ""
	if strategy != nil {
		extra = string(*strategy)
	}
	key := cacheKey("stats", window, extra)
	if r.cacheValid {
		if v, ok := r.cache[key]; ok {
			return v.(Stats)
		}
	} else {
		r.cache = make(map[string]any)
		r.cacheValid = true
	}

	snap := r.snapshot(window)
	s := Stats{ByStatus: make(map[models.DeploymentStatus]int), ByStrategy: make(map[models.Strategy]int)}
	var totalDuration time.Duration
	var completed int
	for _, e := range snap {
		if strategy != nil && e.Strategy != *strategy {
			continue
		}
		s.Total++
		s.ByStatus[e.Status]++
		s.ByStrategy[e.Strategy]++
		if e.Duration > 0 {
			totalDuration += e.Duration
			completed++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.ByStatus[models.DeploymentCompleted]) / float64(s.Total)
		s.FailureRate = float64(s.ByStatus[models.DeploymentFailed]) / float64(s.Total)
		s.RollbackRate = float64(s.ByStatus[models.DeploymentRolledBack]) / float64(s.Total)
	}
	if completed > 0 {
		s.AverageDuration = totalDuration / time.Duration(completed)
	}

	r.cache[key] = s
	return s
}

// FailureAnalysis computes failure breakdowns over the trailing window.
func (r *Recorder) FailureAnalysis(window time.Duration) FailureAnalysis {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cacheKey("failures", window, "")
	if r.cacheValid {
		if v, ok := r.cache[key]; ok {
			return v.(FailureAnalysis)
		}
	} else {
		r.cache = make(map[string]any)
		r.cacheValid = true
	}

	fa := FailureAnalysis{ByReason: make(map[string]int), ByStrategy: make(map[models.Strategy]int), ByPatch: make(map[uuid.UUID]int)}
	var recent []Event
	for _, e := range r.snapshot(window) {
		if e.Status != models.DeploymentFailed {
			continue
		}
		fa.TotalFailures++
		reason := e.FailureReason
		if reason == "" {
			reason = "unspecified"
		}
		fa.ByReason[reason]++
		fa.ByStrategy[e.Strategy]++
		fa.ByPatch[e.PatchID]++
		recent = append(recent, e)
	}

	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	if len(recent) > 5 {
		recent = recent[:5]
	}
	fa.RecentFailures = recent

	r.cache[key] = fa
	return fa
}

// PerformanceMetrics computes duration/asset-count statistics over the
// trailing window.
func (r *Recorder) PerformanceMetrics(window time.Duration) PerformanceMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cacheKey("performance", window, "")
	if r.cacheValid {
		if v, ok := r.cache[key]; ok {
			return v.(PerformanceMetrics)
		}
	} else {
		r.cache = make(map[string]any)
		r.cacheValid = true
	}

	pm := PerformanceMetrics{ByStrategy: make(map[models.Strategy]time.Duration)}
	strategyTotals := make(map[models.Strategy]time.Duration)
	strategyCounts := make(map[models.Strategy]int)

	var total time.Duration
	var totalAssets int
	var count int
	for _, e := range r.snapshot(window) {
		if e.Duration <= 0 {
			continue
		}
		count++
		total += e.Duration
		totalAssets += e.AssetCount
		strategyTotals[e.Strategy] += e.Duration
		strategyCounts[e.Strategy]++
		if pm.MinDuration == 0 || e.Duration < pm.MinDuration {
			pm.MinDuration = e.Duration
		}
		if e.Duration > pm.MaxDuration {
			pm.MaxDuration = e.Duration
		}
	}
	if count > 0 {
		pm.AverageDuration = total / time.Duration(count)
		pm.AverageAssetCount = float64(totalAssets) / float64(count)
	}
	for s, d := range strategyTotals {
		pm.ByStrategy[s] = d / time.Duration(strategyCounts[s])
	}

	r.cache[key] = pm
	return pm
}

// PatchStats aggregates counts over the deployments of one patch that
// are still held in the in-memory log, each deployment counted once by
// its latest recorded status. It applies no time cutoff of its own, but
// deployments already evicted from the in-memory log are not counted;
// the durable Store is not read.
func (r *Recorder) PatchStats(patchID uuid.UUID) PatchStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	ps := PatchStats{PatchID: patchID}
	latest := make(map[uuid.UUID]Event)
	for _, e := range r.window {
		if e.IsRollback || e.PatchID != patchID {
			continue
		}
		latest[e.DeploymentID] = e
	}
	for _, e := range latest {
		ps.TotalDeployments++
		switch e.Status {
		case models.DeploymentCompleted:
			ps.Successes++
		case models.DeploymentFailed:
			ps.Failures++
		case models.DeploymentRolledBack:
			ps.Rollbacks++
		}
	}
	return ps
}
