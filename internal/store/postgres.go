package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/procure-cli/internal/db"
	"github.com/sells-group/procure-cli/internal/model"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool sizing.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres connects to connString and verifies the connection.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS pipelines (
	id                 TEXT PRIMARY KEY,
	owner_id           TEXT NOT NULL,
	project_id         TEXT,
	stage_ids          JSONB NOT NULL DEFAULT '[]',
	trigger_kind       TEXT NOT NULL,
	steps              JSONB NOT NULL,
	current_step_index INTEGER NOT NULL DEFAULT 0,
	status             TEXT NOT NULL,
	last_error         TEXT,
	step_log           JSONB NOT NULL DEFAULT '[]',
	outputs            JSONB NOT NULL DEFAULT '{}',
	version            BIGINT NOT NULL DEFAULT 1,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_pipelines_status ON pipelines(status);
CREATE INDEX IF NOT EXISTS idx_pipelines_project_id ON pipelines(project_id);

CREATE TABLE IF NOT EXISTS projects (
	id                   TEXT PRIMARY KEY,
	owner_id             TEXT NOT NULL,
	name                 TEXT NOT NULL,
	description          TEXT NOT NULL DEFAULT '',
	location             JSONB NOT NULL DEFAULT '{}',
	quoting_horizon_days INTEGER,
	construction_start   DATE,
	documents            JSONB NOT NULL DEFAULT '[]',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stages (
	id                    TEXT PRIMARY KEY,
	project_id            TEXT NOT NULL REFERENCES projects(id),
	sequence              INTEGER NOT NULL,
	name                  TEXT NOT NULL,
	category              TEXT NOT NULL,
	description           TEXT NOT NULL DEFAULT '',
	procurement_status    TEXT NOT NULL DEFAULT 'ACTIVE',
	planned_start_date    DATE,
	planned_duration_days INTEGER,
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (project_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_stages_deferred ON stages(project_id) WHERE procurement_status = 'DEFERRED';

CREATE TABLE IF NOT EXISTS suppliers (
	id                 TEXT PRIMARY KEY,
	company_name       TEXT NOT NULL,
	contact_email      TEXT NOT NULL DEFAULT '',
	phone              TEXT NOT NULL DEFAULT '',
	website            TEXT NOT NULL DEFAULT '',
	categories         TEXT[] NOT NULL DEFAULT '{}',
	industry_code      TEXT NOT NULL DEFAULT '',
	industry_category  TEXT NOT NULL DEFAULT '',
	location           JSONB NOT NULL DEFAULT '{}',
	service_areas      TEXT[] NOT NULL DEFAULT '{}',
	service_radius_km  DOUBLE PRECISION NOT NULL DEFAULT 0,
	rating             DOUBLE PRECISION,
	verified           BOOLEAN NOT NULL DEFAULT false,
	has_tax_debt       BOOLEAN NOT NULL DEFAULT false,
	risk_score         DOUBLE PRECISION,
	signals_fetched_at TIMESTAMPTZ,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_suppliers_categories ON suppliers USING GIN (categories);
CREATE INDEX IF NOT EXISTS idx_suppliers_industry_category ON suppliers(industry_category);

CREATE TABLE IF NOT EXISTS rfqs (
	id          TEXT PRIMARY KEY,
	pipeline_id TEXT NOT NULL REFERENCES pipelines(id),
	project_id  TEXT NOT NULL DEFAULT '',
	stage_id    TEXT NOT NULL,
	supplier_id TEXT NOT NULL,
	recipient   TEXT NOT NULL,
	match_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'PENDING',
	error       TEXT NOT NULL DEFAULT '',
	sent_at     TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (pipeline_id, stage_id, supplier_id)
);

CREATE INDEX IF NOT EXISTS idx_rfqs_supplier_id ON rfqs(supplier_id);

CREATE TABLE IF NOT EXISTS bids (
	id             TEXT PRIMARY KEY,
	rfq_id         TEXT NOT NULL REFERENCES rfqs(id),
	pipeline_id    TEXT NOT NULL,
	stage_id       TEXT NOT NULL,
	supplier_id    TEXT NOT NULL,
	amount         DOUBLE PRECISION NOT NULL,
	currency       TEXT NOT NULL DEFAULT '',
	lead_time_days INTEGER NOT NULL DEFAULT 0,
	notes          TEXT NOT NULL DEFAULT '',
	received_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_bids_pipeline_id ON bids(pipeline_id);
CREATE INDEX IF NOT EXISTS idx_bids_supplier_id ON bids(supplier_id);
`

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

// --- Pipelines ---

const pipelineColumns = `id, owner_id, COALESCE(project_id, ''), stage_ids, trigger_kind, steps, current_step_index,
	status, last_error, step_log, outputs, version, created_at, updated_at`

func (s *PostgresStore) CreatePipeline(ctx context.Context, p *model.Pipeline) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	enc, err := encodePipeline(p)
	if err != nil {
		return eris.Wrap(err, "postgres: encode pipeline")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO pipelines (id, owner_id, project_id, stage_ids, trigger_kind, steps, current_step_index,
			status, last_error, step_log, outputs, version, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.OwnerID, p.ProjectID, enc.stageIDs, string(p.Trigger), enc.steps, p.CurrentStepIndex,
		string(p.Status), p.LastError, enc.stepLog, enc.outputs, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert pipeline %s", p.ID)
}

func (s *PostgresStore) GetPipeline(ctx context.Context, id string) (*model.Pipeline, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = $1`, id)
	p, err := scanPipeline(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("pipeline", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get pipeline %s", id)
	}
	return p, nil
}

func (s *PostgresStore) UpdatePipeline(ctx context.Context, p *model.Pipeline) error {
	enc, err := encodePipeline(p)
	if err != nil {
		return eris.Wrap(err, "postgres: encode pipeline")
	}
	now := time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE pipelines SET current_step_index = $1, status = $2, last_error = $3, step_log = $4, outputs = $5,
			version = version + 1, updated_at = $6
		 WHERE id = $7 AND version = $8`,
		p.CurrentStepIndex, string(p.Status), p.LastError, enc.stepLog, enc.outputs, now, p.ID, p.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update pipeline %s", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return conflict(p.ID, p.Version)
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (s *PostgresStore) ListPipelines(ctx context.Context, filter PipelineFilter) ([]model.Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM pipelines WHERE 1=1`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		query += fmt.Sprintf(` AND project_id = $%d`, len(args))
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pipelines")
	}
	defer rows.Close()

	var out []model.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan pipeline")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list pipelines iterate")
}

// --- Projects and stages ---

const projectColumns = `id, owner_id, name, description, location, quoting_horizon_days, construction_start,
	documents, created_at, updated_at`

func (s *PostgresStore) CreateProject(ctx context.Context, p *model.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	loc, err := json.Marshal(p.Location)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal location")
	}
	docs, err := json.Marshal(nonNil(p.Documents))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal documents")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.OwnerID, p.Name, p.Description, loc, p.QuotingHorizonDays, p.ConstructionStart, docs, p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert project %s", p.ID)
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	p, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("project", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get project %s", id)
	}
	return p, nil
}

func (s *PostgresStore) ListSchedulableProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+projectColumns+` FROM projects p
		 WHERE quoting_horizon_days IS NOT NULL
		   AND EXISTS (SELECT 1 FROM stages s WHERE s.project_id = p.id)
		 ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list schedulable projects")
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan project")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list schedulable projects iterate")
}

func (s *PostgresStore) SetConstructionStart(ctx context.Context, projectID string, start time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET construction_start = $1, updated_at = $2 WHERE id = $3`,
		model.Date(start), time.Now().UTC(), projectID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set construction start %s", projectID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("project", projectID)
	}
	return nil
}

const stageColumns = `id, project_id, sequence, name, category, description, procurement_status,
	planned_start_date, planned_duration_days, updated_at`

func (s *PostgresStore) ListStages(ctx context.Context, projectID string) ([]model.Stage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stageColumns+` FROM stages WHERE project_id = $1 ORDER BY sequence`, projectID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list stages %s", projectID)
	}
	defer rows.Close()

	var out []model.Stage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage")
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list stages iterate")
}

func (s *PostgresStore) GetStage(ctx context.Context, id string) (*model.Stage, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+stageColumns+` FROM stages WHERE id = $1`, id)
	st, err := scanStage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("stage", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get stage %s", id)
	}
	return st, nil
}

func (s *PostgresStore) UpsertStages(ctx context.Context, projectID string, stages []model.Stage) ([]model.Stage, error) {
	existing, err := s.ListStages(ctx, projectID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert stages: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	for _, st := range mergeStages(projectID, existing, stages) {
		_, err := tx.Exec(ctx,
			`INSERT INTO stages (`+stageColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (project_id, sequence) DO UPDATE SET
				name = EXCLUDED.name, category = EXCLUDED.category, description = EXCLUDED.description,
				procurement_status = EXCLUDED.procurement_status, planned_start_date = EXCLUDED.planned_start_date,
				planned_duration_days = EXCLUDED.planned_duration_days, updated_at = EXCLUDED.updated_at`,
			st.ID, projectID, st.Sequence, st.Name, st.Category, st.Description, string(st.ProcurementStatus),
			st.PlannedStartDate, st.PlannedDurationDays, now,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: upsert stage %d of project %s", st.Sequence, projectID)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: upsert stages: commit tx")
	}
	return s.ListStages(ctx, projectID)
}

func (s *PostgresStore) SetStageStatus(ctx context.Context, status model.ProcurementStatus, stageIDs ...string) error {
	if len(stageIDs) == 0 {
		return nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE stages SET procurement_status = $1, updated_at = $2 WHERE id = ANY($3)`,
		string(status), time.Now().UTC(), stageIDs,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: set stage status")
	}
	if tag.RowsAffected() != int64(len(stageIDs)) {
		return notFound("stage", strings.Join(stageIDs, ","))
	}
	return nil
}

func (s *PostgresStore) SetStageDates(ctx context.Context, stages []model.Stage) error {
	if len(stages) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, st := range stages {
		batch.Queue(`UPDATE stages SET planned_start_date = $1, updated_at = $2 WHERE id = $3`,
			st.PlannedStartDate, now, st.ID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: set stage dates: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	br := tx.SendBatch(ctx, batch)
	for _, st := range stages {
		tag, err := br.Exec()
		if err != nil {
			br.Close() //nolint:errcheck
			return eris.Wrapf(err, "postgres: set stage date %s", st.ID)
		}
		if tag.RowsAffected() == 0 {
			br.Close() //nolint:errcheck
			return notFound("stage", st.ID)
		}
	}
	if err := br.Close(); err != nil {
		return eris.Wrap(err, "postgres: set stage dates: close batch")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: set stage dates: commit tx")
}

// --- Supplier directory ---

const supplierColumns = `s.id, s.company_name, s.contact_email, s.phone, s.website, s.categories, s.industry_code,
	s.location, s.service_areas, s.service_radius_km, s.rating, s.verified, s.has_tax_debt, s.risk_score,
	(SELECT count(*) FROM rfqs r WHERE r.supplier_id = s.id AND r.status = 'SENT'),
	(SELECT count(DISTINCT b.rfq_id) FROM bids b WHERE b.supplier_id = s.id)`

func (s *PostgresStore) FindByCategory(ctx context.Context, category string) ([]model.Supplier, error) {
	category = model.NormalizeCategory(category)
	rows, err := s.pool.Query(ctx,
		`SELECT `+supplierColumns+` FROM suppliers s
		 WHERE $1 = ANY(s.categories) OR (cardinality(s.categories) = 0 AND s.industry_category = $1)
		 ORDER BY s.company_name, s.id`, category)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find suppliers by category %s", category)
	}
	defer rows.Close()

	var out []model.Supplier
	for rows.Next() {
		sup, err := scanSupplier(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan supplier")
		}
		out = append(out, *sup)
	}
	return out, eris.Wrap(rows.Err(), "postgres: find suppliers iterate")
}

func (s *PostgresStore) GetSupplier(ctx context.Context, id string) (*model.Supplier, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers s WHERE s.id = $1`, id)
	sup, err := scanSupplier(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("supplier", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get supplier %s", id)
	}
	return sup, nil
}

var supplierUpsert = db.UpsertConfig{
	Table: "suppliers",
	Columns: []string{
		"id", "company_name", "contact_email", "phone", "website", "categories", "industry_code",
		"industry_category", "location", "service_areas", "service_radius_km", "rating", "verified",
		"has_tax_debt", "risk_score", "updated_at",
	},
	ConflictKeys: []string{"id"},
	UpdateCols: []string{
		"company_name", "contact_email", "phone", "website", "categories", "industry_code",
		"industry_category", "location", "service_areas", "service_radius_km", "rating", "verified",
		"has_tax_debt", "risk_score", "updated_at",
	},
}

func (s *PostgresStore) UpsertSuppliers(ctx context.Context, suppliers []model.Supplier) (int, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(suppliers))
	for i := range suppliers {
		sup := &suppliers[i]
		prepareSupplier(sup)
		loc, err := json.Marshal(sup.Location)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal location of supplier %s", sup.ID)
		}
		rows = append(rows, []any{
			sup.ID, sup.CompanyName, sup.ContactEmail, sup.Phone, sup.Website, nonNil(sup.Categories),
			sup.IndustryCode, model.IndustryCategory(sup.IndustryCode), loc, nonNil(sup.ServiceAreas),
			sup.ServiceRadiusKM, sup.Rating, sup.Verified, sup.HasTaxDebt, sup.RiskScore, now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, supplierUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert suppliers")
	}
	return int(n), nil
}

func (s *PostgresStore) UpsertSignals(ctx context.Context, sig model.SupplierSignals) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE suppliers SET risk_score = $1, rating = $2, verified = $3, has_tax_debt = $4,
			signals_fetched_at = $5, updated_at = $5
		 WHERE id = $6`,
		sig.RiskScore, sig.Rating, sig.Verified, sig.HasTaxDebt, sig.FetchedAt, sig.SupplierID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert signals %s", sig.SupplierID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("supplier", sig.SupplierID)
	}
	return nil
}

// --- RFQs and bids ---

const rfqColumns = `id, pipeline_id, project_id, stage_id, supplier_id, recipient, match_score, status, error,
	sent_at, created_at`

func (s *PostgresStore) EnsureRFQ(ctx context.Context, r *model.RFQ) (*model.RFQ, error) {
	id := r.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := r.Status
	if status == "" {
		status = model.RFQPending
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO rfqs (`+rfqColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (pipeline_id, stage_id, supplier_id) DO NOTHING`,
		id, r.PipelineID, r.ProjectID, r.StageID, r.SupplierID, r.Recipient, r.MatchScore,
		string(status), r.Error, r.SentAt, time.Now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: ensure rfq %s/%s", r.StageID, r.SupplierID)
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+rfqColumns+` FROM rfqs WHERE pipeline_id = $1 AND stage_id = $2 AND supplier_id = $3`,
		r.PipelineID, r.StageID, r.SupplierID)
	out, err := scanRFQ(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load rfq %s/%s", r.StageID, r.SupplierID)
	}
	return out, nil
}

func (s *PostgresStore) GetRFQ(ctx context.Context, id string) (*model.RFQ, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+rfqColumns+` FROM rfqs WHERE id = $1`, id)
	r, err := scanRFQ(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("rfq", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get rfq %s", id)
	}
	return r, nil
}

func (s *PostgresStore) MarkRFQ(ctx context.Context, id string, status model.RFQStatus, sentAt *time.Time, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rfqs SET status = $1, sent_at = $2, error = $3 WHERE id = $4`,
		string(status), sentAt, errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark rfq %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("rfq", id)
	}
	return nil
}

func (s *PostgresStore) ListRFQs(ctx context.Context, pipelineID string) ([]model.RFQ, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+rfqColumns+` FROM rfqs WHERE pipeline_id = $1 ORDER BY stage_id, supplier_id`, pipelineID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list rfqs %s", pipelineID)
	}
	defer rows.Close()

	var out []model.RFQ
	for rows.Next() {
		r, err := scanRFQ(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan rfq")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list rfqs iterate")
}

func (s *PostgresStore) CreateBid(ctx context.Context, b *model.Bid) error {
	rfq, err := s.GetRFQ(ctx, b.RFQID)
	if err != nil {
		return err
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.PipelineID, b.StageID, b.SupplierID = rfq.PipelineID, rfq.StageID, rfq.SupplierID
	if b.ReceivedAt.IsZero() {
		b.ReceivedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO bids (id, rfq_id, pipeline_id, stage_id, supplier_id, amount, currency, lead_time_days, notes, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.RFQID, b.PipelineID, b.StageID, b.SupplierID, b.Amount, b.Currency, b.LeadTimeDays, b.Notes, b.ReceivedAt,
	)
	return eris.Wrapf(err, "postgres: insert bid for rfq %s", b.RFQID)
}

func (s *PostgresStore) ListBids(ctx context.Context, pipelineID string) ([]model.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, rfq_id, pipeline_id, stage_id, supplier_id, amount, currency, lead_time_days, notes, received_at
		 FROM bids WHERE pipeline_id = $1 ORDER BY received_at, id`, pipelineID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list bids %s", pipelineID)
	}
	defer rows.Close()

	var out []model.Bid
	for rows.Next() {
		var b model.Bid
		if err := rows.Scan(&b.ID, &b.RFQID, &b.PipelineID, &b.StageID, &b.SupplierID, &b.Amount,
			&b.Currency, &b.LeadTimeDays, &b.Notes, &b.ReceivedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan bid")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list bids iterate")
}

// --- scanning ---

func scanPipeline(row pgx.Row) (*model.Pipeline, error) {
	var (
		p                model.Pipeline
		trigger, status  string
		stageIDs, steps  []byte
		stepLog, outputs []byte
	)
	err := row.Scan(&p.ID, &p.OwnerID, &p.ProjectID, &stageIDs, &trigger, &steps, &p.CurrentStepIndex,
		&status, &p.LastError, &stepLog, &outputs, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Trigger = model.Trigger(trigger)
	p.Status = model.PipelineStatus(status)
	if err := decodePipeline(&p, stageIDs, steps, stepLog, outputs); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanProject(row pgx.Row) (*model.Project, error) {
	var p model.Project
	var loc, docs []byte
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &loc, &p.QuotingHorizonDays,
		&p.ConstructionStart, &docs, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(loc, &p.Location); err != nil {
		return nil, eris.Wrap(err, "unmarshal project location")
	}
	if err := json.Unmarshal(docs, &p.Documents); err != nil {
		return nil, eris.Wrap(err, "unmarshal project documents")
	}
	return &p, nil
}

func scanStage(row pgx.Row) (*model.Stage, error) {
	var st model.Stage
	var status string
	err := row.Scan(&st.ID, &st.ProjectID, &st.Sequence, &st.Name, &st.Category, &st.Description, &status,
		&st.PlannedStartDate, &st.PlannedDurationDays, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.ProcurementStatus = model.ProcurementStatus(status)
	return &st, nil
}

func scanSupplier(row pgx.Row) (*model.Supplier, error) {
	var sup model.Supplier
	var loc []byte
	err := row.Scan(&sup.ID, &sup.CompanyName, &sup.ContactEmail, &sup.Phone, &sup.Website, &sup.Categories,
		&sup.IndustryCode, &loc, &sup.ServiceAreas, &sup.ServiceRadiusKM, &sup.Rating, &sup.Verified,
		&sup.HasTaxDebt, &sup.RiskScore, &sup.History.RFQsSent, &sup.History.BidsReceived)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(loc, &sup.Location); err != nil {
		return nil, eris.Wrap(err, "unmarshal supplier location")
	}
	return &sup, nil
}

func scanRFQ(row pgx.Row) (*model.RFQ, error) {
	var r model.RFQ
	var status string
	err := row.Scan(&r.ID, &r.PipelineID, &r.ProjectID, &r.StageID, &r.SupplierID, &r.Recipient, &r.MatchScore,
		&status, &r.Error, &r.SentAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RFQStatus(status)
	return &r, nil
}
