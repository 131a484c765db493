// Package postgres is the concrete Persistence port adapter, grounded on
// services/api/internal/repository's pgxpool.Pool usage and
// executor/asset_processor.go's plain parameterized-query style. It is
// the only package that knows deployments live in Postgres; everything
// upstream (internal/coordinator) depends on the coordinator.Persistence
// interface, never on this package's types.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/quantumlayerhq/rollforge/internal/analytics"
	"github.com/quantumlayerhq/rollforge/internal/coordinator"
	"github.com/quantumlayerhq/rollforge/pkg/models"
)

// Store implements coordinator.Persistence and analytics.Store against a
// single connection pool, so one adapter serves both ports rather than
// splitting into two stores over the same database. Each write is its
// own statement; no write shares a transaction with another.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-configured pgxpool.Pool. Pool lifecycle (connect,
// ping, close) is the caller's responsibility — this package never
// dials on its own.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var (
	_ coordinator.Persistence = (*Store)(nil)
	_ analytics.Store         = (*Store)(nil)
)

func (s *Store) LoadPatch(ctx context.Context, id uuid.UUID) (models.Patch, error) {
	var p models.Patch
	var metadataJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, forward_script, reverse_script, validation_script, metadata,
		       confidence, approved, created_at
		FROM patches WHERE id = $1
	`, id).Scan(&p.ID, &p.ForwardScript, &p.ReverseScript, &p.ValidationScript,
		&metadataJSON, &p.Confidence, &p.Approved, &p.CreatedAt)
	if err != nil {
		return models.Patch{}, fmt.Errorf("load patch %s: %w", id, err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &p.Metadata); err != nil {
			return models.Patch{}, fmt.Errorf("unmarshal patch %s metadata: %w", id, err)
		}
	}
	return p, nil
}

func (s *Store) LoadAssetsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Asset, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	idStrings := make(pq.StringArray, len(ids))
	for i, id := range ids {
		idStrings[i] = id.String()
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, address, user_name, port, credential_ref, os_family,
		       criticality, environment, maintenance_mode, discovered_at, updated_at
		FROM assets WHERE id = ANY($1::uuid[])
	`, idStrings)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	defer rows.Close()

	assets := make([]models.Asset, 0, len(ids))
	for rows.Next() {
		var a models.Asset
		if err := rows.Scan(&a.ID, &a.Name, &a.Address, &a.User, &a.Port, &a.CredentialRef,
			&a.OSFamily, &a.Criticality, &a.Environment, &a.MaintenanceMode, &a.DiscoveredAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (s *Store) CreateDeployment(ctx context.Context, draft models.Deployment) (models.Deployment, error) {
	assetIDs := make(pq.StringArray, len(draft.AssetIDs))
	for i, id := range draft.AssetIDs {
		assetIDs[i] = id.String()
	}
	paramsJSON, err := json.Marshal(draft.StrategyParams)
	if err != nil {
		return models.Deployment{}, fmt.Errorf("marshal strategy params: %w", err)
	}
	resultsJSON, err := json.Marshal(draft.Results)
	if err != nil {
		return models.Deployment{}, fmt.Errorf("marshal results: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO deployments
			(id, patch_id, asset_ids, strategy, strategy_params, status,
			 total_assets, successful_assets, failed_assets, results, actor,
			 created_at, updated_at)
		VALUES ($1,$2,$3::uuid[],$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, draft.ID, draft.PatchID, assetIDs, string(draft.Strategy), paramsJSON, string(draft.Status),
		draft.TotalAssets, draft.SuccessfulAssets, draft.FailedAssets, resultsJSON, draft.Actor,
		draft.CreatedAt, draft.UpdatedAt)
	if err != nil {
		return models.Deployment{}, fmt.Errorf("insert deployment %s: %w", draft.ID, err)
	}
	return draft, nil
}

func (s *Store) UpdateDeploymentStatus(ctx context.Context, id uuid.UUID, status models.DeploymentStatus, successfulAssets, failedAssets int, results models.DeploymentResults, errMsg string) error {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results for deployment %s: %w", id, err)
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE deployments
		SET status = $1,
		    successful_assets = $2,
		    failed_assets = $3,
		    results = $4,
		    error_message = NULLIF($5, ''),
		    updated_at = NOW(),
		    started_at = CASE WHEN started_at IS NULL AND $1 = 'in_progress' THEN NOW() ELSE started_at END,
		    completed_at = CASE WHEN $1 IN ('completed', 'failed', 'rolled_back') THEN NOW() ELSE completed_at END
		WHERE id = $6
	`, string(status), successfulAssets, failedAssets, resultsJSON, errMsg, id)
	if err != nil {
		return fmt.Errorf("update deployment %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListActiveDeployments(ctx context.Context) ([]models.Deployment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, patch_id, asset_ids, strategy, strategy_params, status,
		       total_assets, successful_assets, failed_assets, results,
		       error_message, actor, started_at, completed_at, created_at, updated_at
		FROM deployments
		WHERE status IN ('pending', 'in_progress')
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list active deployments: %w", err)
	}
	defer rows.Close()

	var deployments []models.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// rowScanner is the subset of pgx.Rows this package needs, so
// scanDeployment works against both *pgxpool.Pool query results and a
// single pgx.Row via an adapter if ever needed.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row rowScanner) (models.Deployment, error) {
	var d models.Deployment
	var assetIDs pq.StringArray
	var strategyParamsJSON, resultsJSON []byte
	var errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	if err := row.Scan(&d.ID, &d.PatchID, &assetIDs, &d.Strategy, &strategyParamsJSON, &d.Status,
		&d.TotalAssets, &d.SuccessfulAssets, &d.FailedAssets, &resultsJSON,
		&errMsg, &d.Actor, &startedAt, &completedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return models.Deployment{}, fmt.Errorf("scan deployment: %w", err)
	}

	d.AssetIDs = make([]uuid.UUID, 0, len(assetIDs))
	for _, s := range assetIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return models.Deployment{}, fmt.Errorf("parse asset id %q: %w", s, err)
		}
		d.AssetIDs = append(d.AssetIDs, id)
	}
	if len(strategyParamsJSON) > 0 {
		if err := json.Unmarshal(strategyParamsJSON, &d.StrategyParams); err != nil {
			return models.Deployment{}, fmt.Errorf("unmarshal strategy params: %w", err)
		}
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &d.Results); err != nil {
			return models.Deployment{}, fmt.Errorf("unmarshal results: %w", err)
		}
	}
	if errMsg.Valid {
		d.ErrorMessage = errMsg.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		d.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		d.CompletedAt = &t
	}
	return d, nil
}

func (s *Store) AppendDeploymentEvent(ctx context.Context, deploymentID uuid.UUID, eventType string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal deployment event payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO deployment_events (id, deployment_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, uuid.New(), deploymentID, eventType, payloadJSON)
	if err != nil {
		return fmt.Errorf("append deployment event: %w", err)
	}
	return nil
}

func (s *Store) WriteAuditEntry(ctx context.Context, entry coordinator.AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, deployment_id, actor, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.DeploymentID, entry.Actor, entry.Action, entry.Detail, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// AppendEvent implements analytics.Store, writing the Analytics
// Recorder's durable copy of a deployment/rollback event.
func (s *Store) AppendEvent(ctx context.Context, e analytics.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analytics_events
			(id, deployment_id, patch_id, strategy, asset_count, started_at,
			 completed_at, status, duration_ms, failure_reason, is_rollback)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, e.ID, e.DeploymentID, e.PatchID, string(e.Strategy), e.AssetCount, e.StartedAt,
		e.CompletedAt, string(e.Status), e.Duration.Milliseconds(), e.FailureReason, e.IsRollback)
	if err != nil {
		return fmt.Errorf("append analytics event: %w", err)
	}
	return nil
}

// Ping verifies connectivity, mirroring the teacher's own startup health
// check before serving traffic.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
