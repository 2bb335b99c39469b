package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-engine/internal/db"
	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/tenant"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"update_job_state":    `UPDATE jobs SET state = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`,
	"update_job_progress": `UPDATE jobs SET progress = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`,
	"get_job":             `SELECT id, tenant_id, sources, config, state, progress, error, created_at, updated_at FROM jobs WHERE id = $1 AND tenant_id = $2`,
	"append_event":        `INSERT INTO job_events (job_id, tenant_id, kind, source_id, state, detail, at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"get_pattern":         `SELECT id, tenant_id, origin, role, selector, confidence, success_rate, times_used, stale, last_used_at, created_at FROM patterns WHERE origin = $1 AND role = $2 AND tenant_id IN ($3, '') AND NOT stale ORDER BY tenant_id DESC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool, used by tests.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	sources    JSONB NOT NULL,
	config     JSONB NOT NULL,
	state      TEXT NOT NULL DEFAULT 'pending',
	progress   JSONB,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_checkpoints (
	job_id     TEXT PRIMARY KEY REFERENCES jobs(id),
	tenant_id  TEXT NOT NULL,
	state      TEXT NOT NULL,
	data       BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_events (
	seq        BIGSERIAL PRIMARY KEY,
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	tenant_id  TEXT NOT NULL,
	kind       TEXT NOT NULL,
	source_id  TEXT,
	state      TEXT,
	detail     TEXT,
	at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS patterns (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL DEFAULT '',
	origin       TEXT NOT NULL,
	role         TEXT NOT NULL,
	selector     TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	times_used   INTEGER NOT NULL DEFAULT 0,
	stale        BOOLEAN NOT NULL DEFAULT false,
	last_used_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(tenant_id, origin, role)
);

CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	key             TEXT NOT NULL,
	sku             TEXT,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	brand           TEXT,
	description     TEXT,
	category        TEXT,
	price_cents     BIGINT,
	currency        TEXT,
	stock           INTEGER,
	images          JSONB,
	merged_from     JSONB NOT NULL,
	sources         JSONB NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
	completeness    DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(tenant_id, key)
);

CREATE TABLE IF NOT EXISTS consolidation_log (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	job_id          TEXT NOT NULL,
	master_id       TEXT NOT NULL,
	subsumed_ids    JSONB NOT NULL,
	strategy        TEXT NOT NULL,
	resolutions     JSONB,
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
	human_validated BOOLEAN NOT NULL DEFAULT false,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_tenant_state ON jobs(tenant_id, state);
CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id, seq);
CREATE INDEX IF NOT EXISTS idx_patterns_lookup ON patterns(origin, role, tenant_id);
CREATE INDEX IF NOT EXISTS idx_products_tenant_name_trgm ON products USING gin (normalized_name gin_trgm_ops);
CREATE INDEX IF NOT EXISTS idx_consolidation_log_job ON consolidation_log(tenant_id, job_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := tenant.Guard("create job", tid, job.TenantID); err != nil {
		return err
	}

	sourcesJSON, err := json.Marshal(job.Sources)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sources")
	}
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal config")
	}
	progressJSON, err := json.Marshal(job.Progress)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal progress")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, tenant_id, sources, config, state, progress, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, tid, sourcesJSON, configJSON, string(job.State), progressJSON,
		job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert job")
}

func (s *PostgresStore) UpdateJobState(ctx context.Context, jobID string, state model.JobState) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`,
		string(state), time.Now().UTC(), jobID, tid,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job state %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, jobID string, progress model.Progress) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal progress")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET progress = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`,
		progressJSON, time.Now().UTC(), jobID, tid,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job progress %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID string, cause string) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = $1, error = $2, updated_at = $3 WHERE id = $4 AND tenant_id = $5`,
		string(model.JobStateFailed), cause, time.Now().UTC(), jobID, tid,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, sources, config, state, progress, error, created_at, updated_at
		 FROM jobs WHERE id = $1 AND tenant_id = $2`,
		jobID, tid,
	)
	j, err := scanJobPgx(row, tid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, tenant_id, sources, config, state, progress, error, created_at, updated_at
		 FROM jobs WHERE tenant_id = $1`
	args := []any{tid}
	argIdx := 2

	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJobPgx(rows, tid)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

// --- checkpoints ---

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO job_checkpoints (job_id, tenant_id, state, data, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (job_id) DO UPDATE SET state = $3, data = $4, created_at = $5`,
		cp.JobID, tid, string(cp.State), cp.Data, cp.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: save checkpoint %s", cp.JobID)
}

func (s *PostgresStore) GetCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	var cp model.Checkpoint
	var state string
	err = s.pool.QueryRow(ctx,
		`SELECT job_id, state, data, created_at FROM job_checkpoints WHERE job_id = $1 AND tenant_id = $2`,
		jobID, tid,
	).Scan(&cp.JobID, &state, &cp.Data, &cp.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get checkpoint")
	}
	cp.State = model.JobState(state)
	return &cp, nil
}

// --- events ---

func (s *PostgresStore) AppendEvent(ctx context.Context, ev model.ProgressEvent) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO job_events (job_id, tenant_id, kind, source_id, state, detail, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.JobID, tid, string(ev.Kind), ev.SourceID, string(ev.State), ev.Detail, ev.At,
	)
	return eris.Wrap(err, "postgres: append event")
}

func (s *PostgresStore) ListEvents(ctx context.Context, jobID string, afterSeq int64) ([]model.ProgressEvent, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT seq, job_id, kind, source_id, state, detail, at FROM job_events
		 WHERE job_id = $1 AND tenant_id = $2 AND seq > $3 ORDER BY seq`,
		jobID, tid, afterSeq,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var events []model.ProgressEvent
	for rows.Next() {
		var ev model.ProgressEvent
		var kind string
		var sourceID, state, detail *string
		if err := rows.Scan(&ev.Seq, &ev.JobID, &kind, &sourceID, &state, &detail, &ev.At); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		ev.Kind = model.EventKind(kind)
		if sourceID != nil {
			ev.SourceID = *sourceID
		}
		if state != nil {
			ev.State = model.JobState(*state)
		}
		if detail != nil {
			ev.Detail = *detail
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

// --- patterns ---

func (s *PostgresStore) GetPattern(ctx context.Context, origin string, role model.FieldRole) (*model.SourcePattern, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	var p model.SourcePattern
	var roleStr string
	var lastUsed *time.Time
	err = s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, origin, role, selector, confidence, success_rate, times_used, stale, last_used_at, created_at
		 FROM patterns
		 WHERE origin = $1 AND role = $2 AND tenant_id IN ($3, '') AND NOT stale
		 ORDER BY tenant_id DESC LIMIT 1`,
		origin, string(role), tid,
	).Scan(&p.ID, &p.TenantID, &p.Origin, &roleStr, &p.Selector, &p.Confidence,
		&p.SuccessRate, &p.TimesUsed, &p.Stale, &lastUsed, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get pattern")
	}
	p.Role = model.FieldRole(roleStr)
	p.LastUsedAt = lastUsed
	return &p, nil
}

func (s *PostgresStore) UpsertPattern(ctx context.Context, p *model.SourcePattern) error {
	if !p.Seed() {
		tid, err := tenant.FromContext(ctx)
		if err != nil {
			return err
		}
		if err := tenant.Guard("upsert pattern", tid, p.TenantID); err != nil {
			return err
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO patterns (id, tenant_id, origin, role, selector, confidence, success_rate, times_used, stale, last_used_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (tenant_id, origin, role) DO UPDATE SET
			selector = $5, confidence = $6, success_rate = $7, times_used = $8, stale = $9, last_used_at = $10`,
		p.ID, p.TenantID, p.Origin, string(p.Role), p.Selector, p.Confidence,
		p.SuccessRate, p.TimesUsed, p.Stale, p.LastUsedAt, p.CreatedAt,
	)
	return eris.Wrap(err, "postgres: upsert pattern")
}

func (s *PostgresStore) ListPatterns(ctx context.Context, origin string) ([]model.SourcePattern, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, tenant_id, origin, role, selector, confidence, success_rate, times_used, stale, last_used_at, created_at
		 FROM patterns WHERE tenant_id IN ($1, '')`
	args := []any{tid}
	if origin != "" {
		query += ` AND origin = $2`
		args = append(args, origin)
	}
	query += ` ORDER BY origin, role, tenant_id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list patterns")
	}
	defer rows.Close()

	var patterns []model.SourcePattern
	for rows.Next() {
		var p model.SourcePattern
		var roleStr string
		var lastUsed *time.Time
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Origin, &roleStr, &p.Selector, &p.Confidence,
			&p.SuccessRate, &p.TimesUsed, &p.Stale, &lastUsed, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pattern")
		}
		p.Role = model.FieldRole(roleStr)
		p.LastUsedAt = lastUsed
		patterns = append(patterns, p)
	}
	return patterns, eris.Wrap(rows.Err(), "postgres: list patterns iterate")
}

// --- products ---

func (s *PostgresStore) UpsertProduct(ctx context.Context, p *model.ConsolidatedProduct) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := tenant.Guard("upsert product", tid, p.TenantID); err != nil {
		return err
	}

	row, err := productRow(p)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO products (id, tenant_id, key, sku, name, normalized_name, brand, description, category,
			price_cents, currency, stock, images, merged_from, sources, confidence, completeness, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (tenant_id, key) DO UPDATE SET
			sku = $4, name = $5, normalized_name = $6, brand = $7, description = $8, category = $9,
			price_cents = $10, currency = $11, stock = $12, images = $13, merged_from = $14,
			sources = $15, confidence = $16, completeness = $17, updated_at = $19`,
		row...,
	)
	return eris.Wrap(err, "postgres: upsert product")
}

// UpsertProducts bulk-writes a consolidated batch via COPY into a temp
// table. Used at the end of consolidation where a job can carry thousands
// of products.
func (s *PostgresStore) UpsertProducts(ctx context.Context, products []model.ConsolidatedProduct) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}

	rows := make([][]any, 0, len(products))
	for i := range products {
		p := &products[i]
		if err := tenant.Guard("bulk upsert product", tid, p.TenantID); err != nil {
			return err
		}
		row, err := productRow(p)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	_, err = db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "products",
		Columns:      productColumns,
		ConflictKeys: []string{"tenant_id", "key"},
	}, rows)
	return eris.Wrap(err, "postgres: bulk upsert products")
}

func (s *PostgresStore) GetProductByKey(ctx context.Context, key string) (*model.ConsolidatedProduct, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		productSelectPgx+` WHERE tenant_id = $1 AND key = $2`,
		tid, key,
	)
	p, err := scanProductPgx(row, tid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context, filter ProductFilter) ([]model.ConsolidatedProduct, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := productSelectPgx + ` WHERE tenant_id = $1`
	args := []any{tid}
	argIdx := 2

	if filter.Query != "" {
		// Trigram match on the normalized name, exact-ish on sku/brand.
		query += fmt.Sprintf(` AND (similarity(normalized_name, $%d) > 0.2 OR name ILIKE '%%' || $%d || '%%' OR sku ILIKE '%%' || $%d || '%%' OR brand ILIKE '%%' || $%d || '%%')`,
			argIdx, argIdx, argIdx, argIdx)
		args = append(args, filter.Query)
		argIdx++
		query += fmt.Sprintf(` ORDER BY similarity(normalized_name, $%d) DESC`, argIdx-1)
	} else {
		query += ` ORDER BY normalized_name`
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list products")
	}
	defer rows.Close()

	var products []model.ConsolidatedProduct
	for rows.Next() {
		p, err := scanProductPgx(rows, tid)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, eris.Wrap(rows.Err(), "postgres: list products iterate")
}

// --- consolidation log ---

func (s *PostgresStore) AppendConsolidationRecord(ctx context.Context, rec *model.ConsolidationRecord) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := tenant.Guard("append consolidation record", tid, rec.TenantID); err != nil {
		return err
	}

	subsumedJSON, err := json.Marshal(rec.SubsumedIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal subsumed ids")
	}
	resolutionsJSON, err := json.Marshal(rec.Resolutions)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal resolutions")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO consolidation_log (id, tenant_id, job_id, master_id, subsumed_ids, strategy, resolutions, confidence, human_validated, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.TenantID, rec.JobID, rec.MasterID, subsumedJSON, rec.Strategy,
		resolutionsJSON, rec.Confidence, rec.HumanValidated, rec.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append consolidation record")
}

func (s *PostgresStore) ListConsolidationRecords(ctx context.Context, jobID string) ([]model.ConsolidationRecord, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, job_id, master_id, subsumed_ids, strategy, resolutions, confidence, human_validated, created_at
		 FROM consolidation_log WHERE tenant_id = $1 AND job_id = $2 ORDER BY created_at`,
		tid, jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list consolidation records")
	}
	defer rows.Close()

	var records []model.ConsolidationRecord
	for rows.Next() {
		var rec model.ConsolidationRecord
		var subsumedJSON, resolutionsJSON []byte
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.JobID, &rec.MasterID, &subsumedJSON,
			&rec.Strategy, &resolutionsJSON, &rec.Confidence, &rec.HumanValidated, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan consolidation record")
		}
		if err := json.Unmarshal(subsumedJSON, &rec.SubsumedIDs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal subsumed ids")
		}
		if len(resolutionsJSON) > 0 {
			if err := json.Unmarshal(resolutionsJSON, &rec.Resolutions); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal resolutions")
			}
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list consolidation records iterate")
}

// helpers

const productSelectPgx = `SELECT id, tenant_id, key, sku, name, normalized_name, brand, description, category,
	price_cents, currency, stock, images, merged_from, sources, confidence, completeness, created_at, updated_at
	FROM products`

var productColumns = []string{
	"id", "tenant_id", "key", "sku", "name", "normalized_name", "brand", "description", "category",
	"price_cents", "currency", "stock", "images", "merged_from", "sources", "confidence", "completeness",
	"created_at", "updated_at",
}

func productRow(p *model.ConsolidatedProduct) ([]any, error) {
	imagesJSON, err := json.Marshal(p.Images)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal images")
	}
	mergedJSON, err := json.Marshal(p.MergedFrom)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal merged_from")
	}
	sourcesJSON, err := json.Marshal(p.Sources)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal sources")
	}

	var priceCents *int64
	if p.Price != nil {
		v := int64(*p.Price)
		priceCents = &v
	}

	return []any{
		p.ID, p.TenantID, p.Key, p.SKU, p.Name, p.NormalizedName, p.Brand, p.Description, p.Category,
		priceCents, p.Currency, p.Stock, imagesJSON, mergedJSON, sourcesJSON,
		p.Confidence, p.Completeness, p.CreatedAt, p.UpdatedAt,
	}, nil
}

type pgxScannable interface {
	Scan(dest ...any) error
}

func scanJobPgx(row pgxScannable, wantTenant string) (*model.Job, error) {
	var j model.Job
	var sourcesJSON, configJSON, progressJSON []byte
	var errMsg *string
	var state string

	err := row.Scan(&j.ID, &j.TenantID, &sourcesJSON, &configJSON, &state, &progressJSON, &errMsg, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan job")
	}
	if err := tenant.Guard("get job", wantTenant, j.TenantID); err != nil {
		return nil, err
	}

	j.State = model.JobState(state)
	if err := json.Unmarshal(sourcesJSON, &j.Sources); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal sources")
	}
	if err := json.Unmarshal(configJSON, &j.Config); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal config")
	}
	if len(progressJSON) > 0 {
		if err := json.Unmarshal(progressJSON, &j.Progress); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal progress")
		}
	}
	if errMsg != nil {
		j.Error = *errMsg
	}
	return &j, nil
}

func scanProductPgx(row pgxScannable, wantTenant string) (*model.ConsolidatedProduct, error) {
	var p model.ConsolidatedProduct
	var sku, brand, description, category, currency *string
	var priceCents *int64
	var stock *int
	var imagesJSON, mergedJSON, sourcesJSON []byte

	err := row.Scan(&p.ID, &p.TenantID, &p.Key, &sku, &p.Name, &p.NormalizedName, &brand,
		&description, &category, &priceCents, &currency, &stock, &imagesJSON,
		&mergedJSON, &sourcesJSON, &p.Confidence, &p.Completeness, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan product")
	}
	if err := tenant.Guard("get product", wantTenant, p.TenantID); err != nil {
		return nil, err
	}

	if sku != nil {
		p.SKU = *sku
	}
	if brand != nil {
		p.Brand = *brand
	}
	if description != nil {
		p.Description = *description
	}
	if category != nil {
		p.Category = *category
	}
	if currency != nil {
		p.Currency = *currency
	}
	if priceCents != nil {
		fp := model.FixedPoint(*priceCents)
		p.Price = &fp
	}
	p.Stock = stock
	if len(imagesJSON) > 0 {
		if err := json.Unmarshal(imagesJSON, &p.Images); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal images")
		}
	}
	if err := json.Unmarshal(mergedJSON, &p.MergedFrom); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal merged_from")
	}
	if err := json.Unmarshal(sourcesJSON, &p.Sources); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal sources")
	}
	return &p, nil
}
