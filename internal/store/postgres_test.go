package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/tenant"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

// anyArgs builds an AnyArg placeholder per statement parameter.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, tenant_id, sources, config, state, progress, error, created_at, updated_at`).
		WithArgs("missing-job", "acme").
		WillReturnError(pgx.ErrNoRows)

	j, err := s.GetJob(tenantCtx("acme"), "missing-job")
	require.NoError(t, err)
	assert.Nil(t, j)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_MissingTenant(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	_, err := s.GetJob(context.Background(), "job-1")
	assert.ErrorIs(t, err, tenant.ErrMissing)
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(pgxmock.AnyArg(), "acme", pgxmock.AnyArg(), pgxmock.AnyArg(),
			"pending", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.CreateJob(tenantCtx("acme"), testJob("acme"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob_WrongTenantRejected(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.CreateJob(tenantCtx("rival"), testJob("acme"))
	require.Error(t, err)
	var iso *tenant.IsolationError
	assert.ErrorAs(t, err, &iso)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJobState_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET state`).
		WithArgs("extracting", pgxmock.AnyArg(), "missing-job", "acme").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateJobState(tenantCtx("acme"), "missing-job", model.JobStateExtracting)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCheckpoint_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT job_id, state, data, created_at FROM job_checkpoints`).
		WithArgs("job-1", "acme").
		WillReturnError(pgx.ErrNoRows)

	cp, err := s.GetCheckpoint(tenantCtx("acme"), "job-1")
	require.NoError(t, err)
	assert.Nil(t, cp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveCheckpoint_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO job_checkpoints`).
		WithArgs("job-1", "acme", "extracting", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveCheckpoint(tenantCtx("acme"), &model.Checkpoint{
		JobID:     "job-1",
		State:     model.JobStateExtracting,
		Data:      []byte(`{"candidates":3}`),
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPattern_SeedFallback(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	created := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "tenant_id", "origin", "role", "selector", "confidence",
		"success_rate", "times_used", "stale", "last_used_at", "created_at",
	}).AddRow("pat-1", "", "shop.example.com", "name", ".product-title", 0.9, 0.0, 0, false, (*time.Time)(nil), created)

	mock.ExpectQuery(`SELECT id, tenant_id, origin, role, selector`).
		WithArgs("shop.example.com", "name", "acme").
		WillReturnRows(rows)

	p, err := s.GetPattern(tenantCtx("acme"), "shop.example.com", model.RoleName)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Seed())
	assert.Equal(t, ".product-title", p.Selector)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPattern_NoneFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, tenant_id, origin, role, selector`).
		WithArgs("unknown.example.com", "price", "acme").
		WillReturnError(pgx.ErrNoRows)

	p, err := s.GetPattern(tenantCtx("acme"), "unknown.example.com", model.RolePrice)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertPattern_CrossTenantRejected(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	p := testPattern("acme", "shop.example.com", model.RoleName)
	err := s.UpsertPattern(tenantCtx("rival"), p)
	require.Error(t, err)
	var iso *tenant.IsolationError
	assert.ErrorAs(t, err, &iso)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProductByKey_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, tenant_id, key, sku, name`).
		WithArgs("acme", "no-such-key").
		WillReturnError(pgx.ErrNoRows)

	p, err := s.GetProductByKey(tenantCtx("acme"), "no-such-key")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertProduct(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO products`).
		WithArgs(anyArgs(len(productColumns))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertProduct(tenantCtx("acme"), testProduct("acme", "sku-100"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertProducts_BulkViaTempTable(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_staging_products"}, productColumns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "products"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	batch := []model.ConsolidatedProduct{
		*testProduct("acme", "sku-100"),
		*testProduct("acme", "sku-200"),
	}
	err := s.UpsertProducts(tenantCtx("acme"), batch)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertProducts_CrossTenantRejected(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	batch := []model.ConsolidatedProduct{*testProduct("rival", "sku-100")}
	err := s.UpsertProducts(tenantCtx("acme"), batch)
	require.Error(t, err)
	var iso *tenant.IsolationError
	assert.ErrorAs(t, err, &iso)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendConsolidationRecord_ConflictIgnored(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO consolidation_log`).
		WithArgs(anyArgs(10)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	rec := &model.ConsolidationRecord{
		ID: "merge-det-1", TenantID: "acme", JobID: "job-1", MasterID: "cp-1",
		SubsumedIDs: []string{"np-2"}, Strategy: "fuzzy", CreatedAt: time.Now().UTC(),
	}
	err := s.AppendConsolidationRecord(tenantCtx("acme"), rec)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
