package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/tenant"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	sources    TEXT NOT NULL,
	config     TEXT NOT NULL,
	state      TEXT NOT NULL DEFAULT 'pending',
	progress   TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS job_checkpoints (
	job_id     TEXT PRIMARY KEY REFERENCES jobs(id),
	tenant_id  TEXT NOT NULL,
	state      TEXT NOT NULL,
	data       BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS job_events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	tenant_id  TEXT NOT NULL,
	kind       TEXT NOT NULL,
	source_id  TEXT,
	state      TEXT,
	detail     TEXT,
	at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS patterns (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL DEFAULT '',
	origin       TEXT NOT NULL,
	role         TEXT NOT NULL,
	selector     TEXT NOT NULL,
	confidence   REAL NOT NULL DEFAULT 0,
	success_rate REAL NOT NULL DEFAULT 0,
	times_used   INTEGER NOT NULL DEFAULT 0,
	stale        INTEGER NOT NULL DEFAULT 0,
	last_used_at DATETIME,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
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
	price_cents     INTEGER,
	currency        TEXT,
	stock           INTEGER,
	images          TEXT,
	merged_from     TEXT NOT NULL,
	sources         TEXT NOT NULL,
	confidence      REAL NOT NULL DEFAULT 0,
	completeness    REAL NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(tenant_id, key)
);

CREATE TABLE IF NOT EXISTS consolidation_log (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	job_id          TEXT NOT NULL,
	master_id       TEXT NOT NULL,
	subsumed_ids    TEXT NOT NULL,
	strategy        TEXT NOT NULL,
	resolutions     TEXT,
	confidence      REAL NOT NULL DEFAULT 0,
	human_validated INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_tenant_state ON jobs(tenant_id, state);
CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id, seq);
CREATE INDEX IF NOT EXISTS idx_patterns_lookup ON patterns(origin, role, tenant_id);
CREATE INDEX IF NOT EXISTS idx_products_tenant_name ON products(tenant_id, normalized_name);
CREATE INDEX IF NOT EXISTS idx_consolidation_log_job ON consolidation_log(tenant_id, job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := tenant.Guard("create job", tid, job.TenantID); err != nil {
		return err
	}

	sourcesJSON, err := json.Marshal(job.Sources)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sources")
	}
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal config")
	}
	progressJSON, err := json.Marshal(job.Progress)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal progress")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, tenant_id, sources, config, state, progress, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, tid, string(sourcesJSON), string(configJSON), string(job.State),
		string(progressJSON), job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert job")
}

func (s *SQLiteStore) UpdateJobState(ctx context.Context, jobID string, state model.JobState) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		string(state), time.Now().UTC(), jobID, tid,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job state %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, jobID string, progress model.Progress) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal progress")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		string(progressJSON), time.Now().UTC(), jobID, tid,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job progress %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID string, cause string) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, error = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		string(model.JobStateFailed), cause, time.Now().UTC(), jobID, tid,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, sources, config, state, progress, error, created_at, updated_at
		 FROM jobs WHERE id = ? AND tenant_id = ?`,
		jobID, tid,
	)
	return scanJob(row, tid)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, tenant_id, sources, config, state, progress, error, created_at, updated_at
		 FROM jobs WHERE tenant_id = ?`
	args := []any{tid}

	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows, tid)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// --- checkpoints ---

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_checkpoints (job_id, tenant_id, state, data, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET state = excluded.state, data = excluded.data, created_at = excluded.created_at`,
		cp.JobID, tid, string(cp.State), cp.Data, cp.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: save checkpoint %s", cp.JobID)
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, state, data, created_at FROM job_checkpoints WHERE job_id = ? AND tenant_id = ?`,
		jobID, tid,
	)

	var cp model.Checkpoint
	var state string
	err = row.Scan(&cp.JobID, &state, &cp.Data, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get checkpoint")
	}
	cp.State = model.JobState(state)
	return &cp, nil
}

// --- events ---

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev model.ProgressEvent) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_events (job_id, tenant_id, kind, source_id, state, detail, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.JobID, tid, string(ev.Kind), ev.SourceID, string(ev.State), ev.Detail, ev.At,
	)
	return eris.Wrap(err, "sqlite: append event")
}

func (s *SQLiteStore) ListEvents(ctx context.Context, jobID string, afterSeq int64) ([]model.ProgressEvent, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, job_id, kind, source_id, state, detail, at FROM job_events
		 WHERE job_id = ? AND tenant_id = ? AND seq > ? ORDER BY seq`,
		jobID, tid, afterSeq,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var events []model.ProgressEvent
	for rows.Next() {
		var ev model.ProgressEvent
		var kind, state string
		var sourceID, detail sql.NullString
		if err := rows.Scan(&ev.Seq, &ev.JobID, &kind, &sourceID, &state, &detail, &ev.At); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		ev.Kind = model.EventKind(kind)
		ev.State = model.JobState(state)
		ev.SourceID = sourceID.String
		ev.Detail = detail.String
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

// --- patterns ---

func (s *SQLiteStore) GetPattern(ctx context.Context, origin string, role model.FieldRole) (*model.SourcePattern, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	// Tenant-private rows shadow global seeds (tenant_id ''). Non-empty
	// tenant ids sort after '' so DESC puts the private row first.
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, origin, role, selector, confidence, success_rate, times_used, stale, last_used_at, created_at
		 FROM patterns
		 WHERE origin = ? AND role = ? AND tenant_id IN (?, '') AND stale = 0
		 ORDER BY tenant_id DESC LIMIT 1`,
		origin, string(role), tid,
	)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get pattern")
	}
	return p, nil
}

func (s *SQLiteStore) UpsertPattern(ctx context.Context, p *model.SourcePattern) error {
	// Global seeds (tenant id "") are written by the operator seed path and
	// carry no ambient scope; all runtime writes must be tenant-private.
	if !p.Seed() {
		tid, err := tenant.FromContext(ctx)
		if err != nil {
			return err
		}
		if err := tenant.Guard("upsert pattern", tid, p.TenantID); err != nil {
			return err
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO patterns (id, tenant_id, origin, role, selector, confidence, success_rate, times_used, stale, last_used_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, origin, role) DO UPDATE SET
			selector = excluded.selector,
			confidence = excluded.confidence,
			success_rate = excluded.success_rate,
			times_used = excluded.times_used,
			stale = excluded.stale,
			last_used_at = excluded.last_used_at`,
		p.ID, p.TenantID, p.Origin, string(p.Role), p.Selector, p.Confidence,
		p.SuccessRate, p.TimesUsed, boolToInt(p.Stale), p.LastUsedAt, p.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: upsert pattern")
}

func (s *SQLiteStore) ListPatterns(ctx context.Context, origin string) ([]model.SourcePattern, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, tenant_id, origin, role, selector, confidence, success_rate, times_used, stale, last_used_at, created_at
		 FROM patterns WHERE tenant_id IN (?, '')`
	args := []any{tid}
	if origin != "" {
		query += ` AND origin = ?`
		args = append(args, origin)
	}
	query += ` ORDER BY origin, role, tenant_id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list patterns")
	}
	defer rows.Close()

	var patterns []model.SourcePattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pattern")
		}
		patterns = append(patterns, *p)
	}
	return patterns, eris.Wrap(rows.Err(), "sqlite: list patterns iterate")
}

// --- products ---

func (s *SQLiteStore) UpsertProduct(ctx context.Context, p *model.ConsolidatedProduct) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := tenant.Guard("upsert product", tid, p.TenantID); err != nil {
		return err
	}

	imagesJSON, err := json.Marshal(p.Images)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal images")
	}
	mergedJSON, err := json.Marshal(p.MergedFrom)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal merged_from")
	}
	sourcesJSON, err := json.Marshal(p.Sources)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sources")
	}

	var priceCents *int64
	if p.Price != nil {
		v := int64(*p.Price)
		priceCents = &v
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO products (id, tenant_id, key, sku, name, normalized_name, brand, description, category,
			price_cents, currency, stock, images, merged_from, sources, confidence, completeness, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, key) DO UPDATE SET
			sku = excluded.sku,
			name = excluded.name,
			normalized_name = excluded.normalized_name,
			brand = excluded.brand,
			description = excluded.description,
			category = excluded.category,
			price_cents = excluded.price_cents,
			currency = excluded.currency,
			stock = excluded.stock,
			images = excluded.images,
			merged_from = excluded.merged_from,
			sources = excluded.sources,
			confidence = excluded.confidence,
			completeness = excluded.completeness,
			updated_at = excluded.updated_at`,
		p.ID, p.TenantID, p.Key, p.SKU, p.Name, p.NormalizedName, p.Brand, p.Description, p.Category,
		priceCents, p.Currency, p.Stock, string(imagesJSON), string(mergedJSON), string(sourcesJSON),
		p.Confidence, p.Completeness, p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: upsert product")
}

// UpsertProducts writes a consolidated batch row by row. SQLite has no
// COPY path, so the batch form exists only for interface parity.
func (s *SQLiteStore) UpsertProducts(ctx context.Context, products []model.ConsolidatedProduct) error {
	for i := range products {
		if err := s.UpsertProduct(ctx, &products[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) GetProductByKey(ctx context.Context, key string) (*model.ConsolidatedProduct, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		productSelect+` WHERE tenant_id = ? AND key = ?`,
		tid, key,
	)
	p, err := scanProduct(row, tid)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStore) ListProducts(ctx context.Context, filter ProductFilter) ([]model.ConsolidatedProduct, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := productSelect + ` WHERE tenant_id = ?`
	args := []any{tid}

	if filter.Query != "" {
		like := "%" + filter.Query + "%"
		query += ` AND (name LIKE ? OR normalized_name LIKE ? OR sku LIKE ? OR brand LIKE ?)`
		args = append(args, like, like, like, like)
	}
	query += ` ORDER BY normalized_name`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list products")
	}
	defer rows.Close()

	var products []model.ConsolidatedProduct
	for rows.Next() {
		p, err := scanProduct(rows, tid)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, eris.Wrap(rows.Err(), "sqlite: list products iterate")
}

// --- consolidation log ---

func (s *SQLiteStore) AppendConsolidationRecord(ctx context.Context, rec *model.ConsolidationRecord) error {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := tenant.Guard("append consolidation record", tid, rec.TenantID); err != nil {
		return err
	}

	subsumedJSON, err := json.Marshal(rec.SubsumedIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal subsumed ids")
	}
	resolutionsJSON, err := json.Marshal(rec.Resolutions)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal resolutions")
	}

	// Record ids are deterministic; re-running consolidation after a resume
	// must not duplicate log entries.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO consolidation_log (id, tenant_id, job_id, master_id, subsumed_ids, strategy, resolutions, confidence, human_validated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.TenantID, rec.JobID, rec.MasterID, string(subsumedJSON), rec.Strategy,
		string(resolutionsJSON), rec.Confidence, boolToInt(rec.HumanValidated), rec.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append consolidation record")
}

func (s *SQLiteStore) ListConsolidationRecords(ctx context.Context, jobID string) ([]model.ConsolidationRecord, error) {
	tid, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, job_id, master_id, subsumed_ids, strategy, resolutions, confidence, human_validated, created_at
		 FROM consolidation_log WHERE tenant_id = ? AND job_id = ? ORDER BY created_at`,
		tid, jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list consolidation records")
	}
	defer rows.Close()

	var records []model.ConsolidationRecord
	for rows.Next() {
		var rec model.ConsolidationRecord
		var subsumedJSON, resolutionsJSON string
		var humanValidated int
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.JobID, &rec.MasterID, &subsumedJSON,
			&rec.Strategy, &resolutionsJSON, &rec.Confidence, &humanValidated, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan consolidation record")
		}
		if err := json.Unmarshal([]byte(subsumedJSON), &rec.SubsumedIDs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal subsumed ids")
		}
		if resolutionsJSON != "" && resolutionsJSON != "null" {
			if err := json.Unmarshal([]byte(resolutionsJSON), &rec.Resolutions); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal resolutions")
			}
		}
		rec.HumanValidated = humanValidated != 0
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list consolidation records iterate")
}

// helpers

const productSelect = `SELECT id, tenant_id, key, sku, name, normalized_name, brand, description, category,
	price_cents, currency, stock, images, merged_from, sources, confidence, completeness, created_at, updated_at
	FROM products`

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable, wantTenant string) (*model.Job, error) {
	var j model.Job
	var sourcesJSON, configJSON string
	var progressJSON, errMsg sql.NullString
	var state string

	err := row.Scan(&j.ID, &j.TenantID, &sourcesJSON, &configJSON, &state, &progressJSON, &errMsg, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}
	if err := tenant.Guard("get job", wantTenant, j.TenantID); err != nil {
		return nil, err
	}

	j.State = model.JobState(state)
	if err := json.Unmarshal([]byte(sourcesJSON), &j.Sources); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal sources")
	}
	if err := json.Unmarshal([]byte(configJSON), &j.Config); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal config")
	}
	if progressJSON.Valid && progressJSON.String != "" {
		if err := json.Unmarshal([]byte(progressJSON.String), &j.Progress); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal progress")
		}
	}
	j.Error = errMsg.String
	return &j, nil
}

func scanPattern(row scannable) (*model.SourcePattern, error) {
	var p model.SourcePattern
	var role string
	var stale int
	var lastUsed sql.NullTime

	err := row.Scan(&p.ID, &p.TenantID, &p.Origin, &role, &p.Selector, &p.Confidence,
		&p.SuccessRate, &p.TimesUsed, &stale, &lastUsed, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Role = model.FieldRole(role)
	p.Stale = stale != 0
	if lastUsed.Valid {
		t := lastUsed.Time
		p.LastUsedAt = &t
	}
	return &p, nil
}

func scanProduct(row scannable, wantTenant string) (*model.ConsolidatedProduct, error) {
	var p model.ConsolidatedProduct
	var sku, brand, description, category, currency, imagesJSON sql.NullString
	var priceCents, stock sql.NullInt64
	var mergedJSON, sourcesJSON string

	err := row.Scan(&p.ID, &p.TenantID, &p.Key, &sku, &p.Name, &p.NormalizedName, &brand,
		&description, &category, &priceCents, &currency, &stock, &imagesJSON,
		&mergedJSON, &sourcesJSON, &p.Confidence, &p.Completeness, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := tenant.Guard("get product", wantTenant, p.TenantID); err != nil {
		return nil, err
	}

	p.SKU = sku.String
	p.Brand = brand.String
	p.Description = description.String
	p.Category = category.String
	p.Currency = currency.String
	if priceCents.Valid {
		fp := model.FixedPoint(priceCents.Int64)
		p.Price = &fp
	}
	if stock.Valid {
		n := int(stock.Int64)
		p.Stock = &n
	}
	if imagesJSON.Valid && imagesJSON.String != "" {
		if err := json.Unmarshal([]byte(imagesJSON.String), &p.Images); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal images")
		}
	}
	if err := json.Unmarshal([]byte(mergedJSON), &p.MergedFrom); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal merged_from")
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &p.Sources); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal sources")
	}
	return &p, nil
}
