package postgres

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/rollforge/pkg/models"
)

// fakeRow lets scanDeployment's row-shaping logic be tested without a
// live pgxpool.Pool, since that requires either a real database or a
// sqlmock driver this package's native pgx protocol can't use (the
// teacher's own pgxpool-based repository.go carries no test file for
// the same reason; its database/sql-based siblings use go-sqlmock
// instead).
type fakeRow struct {
	values []any
}

func (f *fakeRow) Scan(dest ...any) error {
	if len(dest) != len(f.values) {
		panic("fakeRow: dest/value count mismatch")
	}
	for i, d := range dest {
		switch ptr := d.(type) {
		case *uuid.UUID:
			*ptr = f.values[i].(uuid.UUID)
		case *pq.StringArray:
			*ptr = f.values[i].(pq.StringArray)
		case *models.Strategy:
			*ptr = f.values[i].(models.Strategy)
		case *models.DeploymentStatus:
			*ptr = f.values[i].(models.DeploymentStatus)
		case *[]byte:
			*ptr = f.values[i].([]byte)
		case *int:
			*ptr = f.values[i].(int)
		case *string:
			*ptr = f.values[i].(string)
		case *time.Time:
			*ptr = f.values[i].(time.Time)
		case *sql.NullString:
			*ptr = f.values[i].(sql.NullString)
		case *sql.NullTime:
			*ptr = f.values[i].(sql.NullTime)
		default:
			panic("fakeRow: unhandled scan destination type")
		}
	}
	return nil
}

func TestScanDeployment_RoundTripsAssetIDsAndJSONFields(t *testing.T) {
	id := uuid.New()
	patchID := uuid.New()
	assetA, assetB := uuid.New(), uuid.New()
	now := time.Now().UTC().Truncate(time.Second)

	row := &fakeRow{values: []any{
		id,
		patchID,
		pq.StringArray{assetA.String(), assetB.String()},
		models.StrategyRolling,
		[]byte(`{"batch_size": 2}`),
		models.DeploymentCompleted,
		5,
		5,
		0,
		[]byte(`{"assetOutcomes":[]}`),
		sql.NullString{Valid: false},
		"alice",
		sql.NullTime{Valid: true, Time: now},
		sql.NullTime{Valid: true, Time: now},
		now,
		now,
	}}

	d, err := scanDeployment(row)
	require.NoError(t, err)
	assert.Equal(t, id, d.ID)
	assert.ElementsMatch(t, []uuid.UUID{assetA, assetB}, d.AssetIDs)
	assert.Equal(t, models.DeploymentCompleted, d.Status)
	assert.Equal(t, 2.0, d.StrategyParams["batch_size"])
	require.NotNil(t, d.StartedAt)
	assert.Equal(t, now, d.StartedAt.UTC())
	assert.Equal(t, "alice", d.Actor)
	assert.Empty(t, d.ErrorMessage)
}

func TestScanDeployment_NullableFieldsLeaveNilPointers(t *testing.T) {
	id := uuid.New()
	patchID := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)

	row := &fakeRow{values: []any{
		id, patchID, pq.StringArray{}, models.StrategyAllAtOnce,
		[]byte(`{}`), models.DeploymentPending, 0, 0, 0, []byte(`{}`),
		sql.NullString{Valid: false}, "bob",
		sql.NullTime{Valid: false}, sql.NullTime{Valid: false},
		now, now,
	}}

	d, err := scanDeployment(row)
	require.NoError(t, err)
	assert.Nil(t, d.StartedAt)
	assert.Nil(t, d.CompletedAt)
	assert.Empty(t, d.ErrorMessage)
	assert.Empty(t, d.AssetIDs)
}

func TestScanDeployment_ErrorMessagePopulatedWhenValid(t *testing.T) {
	id, patchID := uuid.New(), uuid.New()
	now := time.Now().UTC()

	row := &fakeRow{values: []any{
		id, patchID, pq.StringArray{}, models.StrategyCanary,
		[]byte(`{}`), models.DeploymentFailed, 1, 0, 1, []byte(`{}`),
		sql.NullString{Valid: true, String: "ssh timeout"}, "carol",
		sql.NullTime{Valid: true, Time: now}, sql.NullTime{Valid: true, Time: now},
		now, now,
	}}

	d, err := scanDeployment(row)
	require.NoError(t, err)
	assert.Equal(t, "ssh timeout", d.ErrorMessage)
}
