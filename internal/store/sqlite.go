package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/procure-cli/internal/model"
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
	// A single connection serializes writers; the version check does the rest.
	db.SetMaxOpenConns(1)
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
CREATE TABLE IF NOT EXISTS pipelines (
	id                 TEXT PRIMARY KEY,
	owner_id           TEXT NOT NULL,
	project_id         TEXT NOT NULL DEFAULT '',
	stage_ids          TEXT NOT NULL DEFAULT '[]',
	trigger_kind       TEXT NOT NULL,
	steps              TEXT NOT NULL,
	current_step_index INTEGER NOT NULL DEFAULT 0,
	status             TEXT NOT NULL,
	last_error         TEXT,
	step_log           TEXT NOT NULL DEFAULT '[]',
	outputs            TEXT NOT NULL DEFAULT '{}',
	version            INTEGER NOT NULL DEFAULT 1,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS projects (
	id                   TEXT PRIMARY KEY,
	owner_id             TEXT NOT NULL,
	name                 TEXT NOT NULL,
	description          TEXT NOT NULL DEFAULT '',
	location             TEXT NOT NULL DEFAULT '{}',
	quoting_horizon_days INTEGER,
	construction_start   DATETIME,
	documents            TEXT NOT NULL DEFAULT '[]',
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS stages (
	id                    TEXT PRIMARY KEY,
	project_id            TEXT NOT NULL REFERENCES projects(id),
	sequence              INTEGER NOT NULL,
	name                  TEXT NOT NULL,
	category              TEXT NOT NULL,
	description           TEXT NOT NULL DEFAULT '',
	procurement_status    TEXT NOT NULL DEFAULT 'ACTIVE',
	planned_start_date    DATETIME,
	planned_duration_days INTEGER,
	updated_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (project_id, sequence)
);

CREATE TABLE IF NOT EXISTS suppliers (
	id                 TEXT PRIMARY KEY,
	company_name       TEXT NOT NULL,
	contact_email      TEXT NOT NULL DEFAULT '',
	phone              TEXT NOT NULL DEFAULT '',
	website            TEXT NOT NULL DEFAULT '',
	categories         TEXT NOT NULL DEFAULT '[]',
	industry_code      TEXT NOT NULL DEFAULT '',
	industry_category  TEXT NOT NULL DEFAULT '',
	location           TEXT NOT NULL DEFAULT '{}',
	service_areas      TEXT NOT NULL DEFAULT '[]',
	service_radius_km  REAL NOT NULL DEFAULT 0,
	rating             REAL,
	verified           INTEGER NOT NULL DEFAULT 0,
	has_tax_debt       INTEGER NOT NULL DEFAULT 0,
	risk_score         REAL,
	signals_fetched_at DATETIME,
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS rfqs (
	id          TEXT PRIMARY KEY,
	pipeline_id TEXT NOT NULL REFERENCES pipelines(id),
	project_id  TEXT NOT NULL DEFAULT '',
	stage_id    TEXT NOT NULL,
	supplier_id TEXT NOT NULL,
	recipient   TEXT NOT NULL,
	match_score REAL NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'PENDING',
	error       TEXT NOT NULL DEFAULT '',
	sent_at     DATETIME,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (pipeline_id, stage_id, supplier_id)
);

CREATE TABLE IF NOT EXISTS bids (
	id             TEXT PRIMARY KEY,
	rfq_id         TEXT NOT NULL REFERENCES rfqs(id),
	pipeline_id    TEXT NOT NULL,
	stage_id       TEXT NOT NULL,
	supplier_id    TEXT NOT NULL,
	amount         REAL NOT NULL,
	currency       TEXT NOT NULL DEFAULT '',
	lead_time_days INTEGER NOT NULL DEFAULT 0,
	notes          TEXT NOT NULL DEFAULT '',
	received_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_pipelines_status ON pipelines(status);
CREATE INDEX IF NOT EXISTS idx_pipelines_project_id ON pipelines(project_id);
CREATE INDEX IF NOT EXISTS idx_stages_project_id ON stages(project_id);
CREATE INDEX IF NOT EXISTS idx_suppliers_industry_category ON suppliers(industry_category);
CREATE INDEX IF NOT EXISTS idx_rfqs_supplier_id ON rfqs(supplier_id);
CREATE INDEX IF NOT EXISTS idx_bids_pipeline_id ON bids(pipeline_id);
CREATE INDEX IF NOT EXISTS idx_bids_supplier_id ON bids(supplier_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Pipelines ---

const sqlitePipelineColumns = `id, owner_id, project_id, stage_ids, trigger_kind, steps, current_step_index,
	status, last_error, step_log, outputs, version, created_at, updated_at`

func (s *SQLiteStore) CreatePipeline(ctx context.Context, p *model.Pipeline) error {
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
		return eris.Wrap(err, "sqlite: encode pipeline")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipelines (`+sqlitePipelineColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.ProjectID, string(enc.stageIDs), string(p.Trigger), string(enc.steps),
		p.CurrentStepIndex, string(p.Status), p.LastError, string(enc.stepLog), string(enc.outputs),
		p.Version, p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert pipeline %s", p.ID)
}

func (s *SQLiteStore) GetPipeline(ctx context.Context, id string) (*model.Pipeline, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqlitePipelineColumns+` FROM pipelines WHERE id = ?`, id)
	p, err := scanSQLitePipeline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("pipeline", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get pipeline %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) UpdatePipeline(ctx context.Context, p *model.Pipeline) error {
	enc, err := encodePipeline(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode pipeline")
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE pipelines SET current_step_index = ?, status = ?, last_error = ?, step_log = ?, outputs = ?,
			version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		p.CurrentStepIndex, string(p.Status), p.LastError, string(enc.stepLog), string(enc.outputs), now,
		p.ID, p.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update pipeline %s", p.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return conflict(p.ID, p.Version)
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) ListPipelines(ctx context.Context, filter PipelineFilter) ([]model.Pipeline, error) {
	query := `SELECT ` + sqlitePipelineColumns + ` FROM pipelines WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pipelines")
	}
	defer rows.Close()

	var out []model.Pipeline
	for rows.Next() {
		p, err := scanSQLitePipeline(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pipeline")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list pipelines iterate")
}

// --- Projects and stages ---

const sqliteProjectColumns = `id, owner_id, name, description, location, quoting_horizon_days, construction_start,
	documents, created_at, updated_at`

func (s *SQLiteStore) CreateProject(ctx context.Context, p *model.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	loc, err := json.Marshal(p.Location)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal location")
	}
	docs, err := json.Marshal(nonNil(p.Documents))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal documents")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (`+sqliteProjectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Name, p.Description, string(loc), p.QuotingHorizonDays,
		nullTime(p.ConstructionStart), string(docs), p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert project %s", p.ID)
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteProjectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanSQLiteProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("project", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get project %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) ListSchedulableProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteProjectColumns+` FROM projects p
		 WHERE quoting_horizon_days IS NOT NULL
		   AND EXISTS (SELECT 1 FROM stages s WHERE s.project_id = p.id)
		 ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list schedulable projects")
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		p, err := scanSQLiteProject(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan project")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list schedulable projects iterate")
}

func (s *SQLiteStore) SetConstructionStart(ctx context.Context, projectID string, start time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET construction_start = ?, updated_at = ? WHERE id = ?`,
		model.Date(start), time.Now().UTC(), projectID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set construction start %s", projectID)
	}
	return checkRowsAffected(res, "project", projectID)
}

const sqliteStageColumns = `id, project_id, sequence, name, category, description, procurement_status,
	planned_start_date, planned_duration_days, updated_at`

func (s *SQLiteStore) ListStages(ctx context.Context, projectID string) ([]model.Stage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteStageColumns+` FROM stages WHERE project_id = ? ORDER BY sequence`, projectID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list stages %s", projectID)
	}
	defer rows.Close()

	var out []model.Stage
	for rows.Next() {
		st, err := scanSQLiteStage(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage")
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list stages iterate")
}

func (s *SQLiteStore) GetStage(ctx context.Context, id string) (*model.Stage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteStageColumns+` FROM stages WHERE id = ?`, id)
	st, err := scanSQLiteStage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("stage", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get stage %s", id)
	}
	return st, nil
}

func (s *SQLiteStore) UpsertStages(ctx context.Context, projectID string, stages []model.Stage) ([]model.Stage, error) {
	existing, err := s.ListStages(ctx, projectID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert stages: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, st := range mergeStages(projectID, existing, stages) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO stages (`+sqliteStageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (project_id, sequence) DO UPDATE SET
				name = excluded.name, category = excluded.category, description = excluded.description,
				procurement_status = excluded.procurement_status, planned_start_date = excluded.planned_start_date,
				planned_duration_days = excluded.planned_duration_days, updated_at = excluded.updated_at`,
			st.ID, projectID, st.Sequence, st.Name, st.Category, st.Description, string(st.ProcurementStatus),
			nullTime(st.PlannedStartDate), st.PlannedDurationDays, now,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: upsert stage %d of project %s", st.Sequence, projectID)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert stages: commit tx")
	}
	return s.ListStages(ctx, projectID)
}

func (s *SQLiteStore) SetStageStatus(ctx context.Context, status model.ProcurementStatus, stageIDs ...string) error {
	if len(stageIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(stageIDs)), ", ")
	args := []any{string(status), time.Now().UTC()}
	for _, id := range stageIDs {
		args = append(args, id)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE stages SET procurement_status = ?, updated_at = ? WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return eris.Wrap(err, "sqlite: set stage status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n != int64(len(stageIDs)) {
		return notFound("stage", strings.Join(stageIDs, ","))
	}
	return nil
}

func (s *SQLiteStore) SetStageDates(ctx context.Context, stages []model.Stage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: set stage dates: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, st := range stages {
		res, err := tx.ExecContext(ctx,
			`UPDATE stages SET planned_start_date = ?, updated_at = ? WHERE id = ?`,
			nullTime(st.PlannedStartDate), now, st.ID)
		if err != nil {
			return eris.Wrapf(err, "sqlite: set stage date %s", st.ID)
		}
		if err := checkRowsAffected(res, "stage", st.ID); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: set stage dates: commit tx")
}

// --- Supplier directory ---

const sqliteSupplierColumns = `s.id, s.company_name, s.contact_email, s.phone, s.website, s.categories, s.industry_code,
	s.location, s.service_areas, s.service_radius_km, s.rating, s.verified, s.has_tax_debt, s.risk_score,
	(SELECT count(*) FROM rfqs r WHERE r.supplier_id = s.id AND r.status = 'SENT'),
	(SELECT count(DISTINCT b.rfq_id) FROM bids b WHERE b.supplier_id = s.id)`

func (s *SQLiteStore) FindByCategory(ctx context.Context, category string) ([]model.Supplier, error) {
	category = model.NormalizeCategory(category)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSupplierColumns+` FROM suppliers s
		 WHERE EXISTS (SELECT 1 FROM json_each(s.categories) c WHERE c.value = ?)
		    OR (s.categories = '[]' AND s.industry_category = ?)
		 ORDER BY s.company_name, s.id`, category, category)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find suppliers by category %s", category)
	}
	defer rows.Close()

	var out []model.Supplier
	for rows.Next() {
		sup, err := scanSQLiteSupplier(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan supplier")
		}
		out = append(out, *sup)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: find suppliers iterate")
}

func (s *SQLiteStore) GetSupplier(ctx context.Context, id string) (*model.Supplier, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteSupplierColumns+` FROM suppliers s WHERE s.id = ?`, id)
	sup, err := scanSQLiteSupplier(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("supplier", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get supplier %s", id)
	}
	return sup, nil
}

func (s *SQLiteStore) UpsertSuppliers(ctx context.Context, suppliers []model.Supplier) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert suppliers: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO suppliers (id, company_name, contact_email, phone, website, categories, industry_code,
			industry_category, location, service_areas, service_radius_km, rating, verified, has_tax_debt,
			risk_score, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			company_name = excluded.company_name, contact_email = excluded.contact_email,
			phone = excluded.phone, website = excluded.website, categories = excluded.categories,
			industry_code = excluded.industry_code, industry_category = excluded.industry_category,
			location = excluded.location, service_areas = excluded.service_areas,
			service_radius_km = excluded.service_radius_km, rating = excluded.rating,
			verified = excluded.verified, has_tax_debt = excluded.has_tax_debt,
			risk_score = excluded.risk_score, updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare supplier upsert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for i := range suppliers {
		sup := &suppliers[i]
		prepareSupplier(sup)
		cats, err := json.Marshal(nonNil(sup.Categories))
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal categories of supplier %s", sup.ID)
		}
		loc, err := json.Marshal(sup.Location)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal location of supplier %s", sup.ID)
		}
		areas, err := json.Marshal(nonNil(sup.ServiceAreas))
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal service areas of supplier %s", sup.ID)
		}
		if _, err := stmt.ExecContext(ctx,
			sup.ID, sup.CompanyName, sup.ContactEmail, sup.Phone, sup.Website, string(cats), sup.IndustryCode,
			model.IndustryCategory(sup.IndustryCode), string(loc), string(areas), sup.ServiceRadiusKM,
			sup.Rating, sup.Verified, sup.HasTaxDebt, sup.RiskScore, now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert supplier %s", sup.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert suppliers: commit tx")
	}
	return len(suppliers), nil
}

func (s *SQLiteStore) UpsertSignals(ctx context.Context, sig model.SupplierSignals) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE suppliers SET risk_score = ?, rating = ?, verified = ?, has_tax_debt = ?,
			signals_fetched_at = ?, updated_at = ?
		 WHERE id = ?`,
		sig.RiskScore, sig.Rating, sig.Verified, sig.HasTaxDebt, sig.FetchedAt, sig.FetchedAt, sig.SupplierID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert signals %s", sig.SupplierID)
	}
	return checkRowsAffected(res, "supplier", sig.SupplierID)
}

// --- RFQs and bids ---

const sqliteRFQColumns = `id, pipeline_id, project_id, stage_id, supplier_id, recipient, match_score, status, error,
	sent_at, created_at`

func (s *SQLiteStore) EnsureRFQ(ctx context.Context, r *model.RFQ) (*model.RFQ, error) {
	id := r.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := r.Status
	if status == "" {
		status = model.RFQPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rfqs (`+sqliteRFQColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (pipeline_id, stage_id, supplier_id) DO NOTHING`,
		id, r.PipelineID, r.ProjectID, r.StageID, r.SupplierID, r.Recipient, r.MatchScore,
		string(status), r.Error, nullTime(r.SentAt), time.Now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: ensure rfq %s/%s", r.StageID, r.SupplierID)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRFQColumns+` FROM rfqs WHERE pipeline_id = ? AND stage_id = ? AND supplier_id = ?`,
		r.PipelineID, r.StageID, r.SupplierID)
	out, err := scanSQLiteRFQ(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load rfq %s/%s", r.StageID, r.SupplierID)
	}
	return out, nil
}

func (s *SQLiteStore) GetRFQ(ctx context.Context, id string) (*model.RFQ, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRFQColumns+` FROM rfqs WHERE id = ?`, id)
	r, err := scanSQLiteRFQ(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("rfq", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get rfq %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) MarkRFQ(ctx context.Context, id string, status model.RFQStatus, sentAt *time.Time, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rfqs SET status = ?, sent_at = ?, error = ? WHERE id = ?`,
		string(status), nullTime(sentAt), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark rfq %s", id)
	}
	return checkRowsAffected(res, "rfq", id)
}

func (s *SQLiteStore) ListRFQs(ctx context.Context, pipelineID string) ([]model.RFQ, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRFQColumns+` FROM rfqs WHERE pipeline_id = ? ORDER BY stage_id, supplier_id`, pipelineID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list rfqs %s", pipelineID)
	}
	defer rows.Close()

	var out []model.RFQ
	for rows.Next() {
		r, err := scanSQLiteRFQ(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rfq")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list rfqs iterate")
}

func (s *SQLiteStore) CreateBid(ctx context.Context, b *model.Bid) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bids (id, rfq_id, pipeline_id, stage_id, supplier_id, amount, currency, lead_time_days, notes, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.RFQID, b.PipelineID, b.StageID, b.SupplierID, b.Amount, b.Currency, b.LeadTimeDays, b.Notes, b.ReceivedAt,
	)
	return eris.Wrapf(err, "sqlite: insert bid for rfq %s", b.RFQID)
}

func (s *SQLiteStore) ListBids(ctx context.Context, pipelineID string) ([]model.Bid, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rfq_id, pipeline_id, stage_id, supplier_id, amount, currency, lead_time_days, notes, received_at
		 FROM bids WHERE pipeline_id = ? ORDER BY received_at, id`, pipelineID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list bids %s", pipelineID)
	}
	defer rows.Close()

	var out []model.Bid
	for rows.Next() {
		var b model.Bid
		if err := rows.Scan(&b.ID, &b.RFQID, &b.PipelineID, &b.StageID, &b.SupplierID, &b.Amount,
			&b.Currency, &b.LeadTimeDays, &b.Notes, &b.ReceivedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan bid")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list bids iterate")
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLitePipeline(row scannable) (*model.Pipeline, error) {
	var (
		p                model.Pipeline
		trigger, status  string
		lastErr          sql.NullString
		stageIDs, steps  string
		stepLog, outputs string
	)
	err := row.Scan(&p.ID, &p.OwnerID, &p.ProjectID, &stageIDs, &trigger, &steps, &p.CurrentStepIndex,
		&status, &lastErr, &stepLog, &outputs, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Trigger = model.Trigger(trigger)
	p.Status = model.PipelineStatus(status)
	if lastErr.Valid {
		msg := lastErr.String
		p.LastError = &msg
	}
	if err := decodePipeline(&p, []byte(stageIDs), []byte(steps), []byte(stepLog), []byte(outputs)); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanSQLiteProject(row scannable) (*model.Project, error) {
	var (
		p         model.Project
		loc, docs string
		horizon   sql.NullInt64
		start     sql.NullTime
	)
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &loc, &horizon, &start, &docs,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.QuotingHorizonDays = intPtr(horizon)
	p.ConstructionStart = timePtr(start)
	if err := json.Unmarshal([]byte(loc), &p.Location); err != nil {
		return nil, eris.Wrap(err, "unmarshal project location")
	}
	if err := json.Unmarshal([]byte(docs), &p.Documents); err != nil {
		return nil, eris.Wrap(err, "unmarshal project documents")
	}
	return &p, nil
}

func scanSQLiteStage(row scannable) (*model.Stage, error) {
	var (
		st       model.Stage
		status   string
		start    sql.NullTime
		duration sql.NullInt64
	)
	err := row.Scan(&st.ID, &st.ProjectID, &st.Sequence, &st.Name, &st.Category, &st.Description, &status,
		&start, &duration, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.ProcurementStatus = model.ProcurementStatus(status)
	st.PlannedStartDate = timePtr(start)
	st.PlannedDurationDays = intPtr(duration)
	return &st, nil
}

func scanSQLiteSupplier(row scannable) (*model.Supplier, error) {
	var (
		sup              model.Supplier
		cats, loc, areas string
		rating, risk     sql.NullFloat64
	)
	err := row.Scan(&sup.ID, &sup.CompanyName, &sup.ContactEmail, &sup.Phone, &sup.Website, &cats,
		&sup.IndustryCode, &loc, &areas, &sup.ServiceRadiusKM, &rating, &sup.Verified, &sup.HasTaxDebt,
		&risk, &sup.History.RFQsSent, &sup.History.BidsReceived)
	if err != nil {
		return nil, err
	}
	sup.Rating = floatPtr(rating)
	sup.RiskScore = floatPtr(risk)
	if err := json.Unmarshal([]byte(cats), &sup.Categories); err != nil {
		return nil, eris.Wrap(err, "unmarshal supplier categories")
	}
	if err := json.Unmarshal([]byte(loc), &sup.Location); err != nil {
		return nil, eris.Wrap(err, "unmarshal supplier location")
	}
	if err := json.Unmarshal([]byte(areas), &sup.ServiceAreas); err != nil {
		return nil, eris.Wrap(err, "unmarshal supplier service areas")
	}
	if len(sup.Categories) == 0 {
		sup.Categories = nil
	}
	if len(sup.ServiceAreas) == 0 {
		sup.ServiceAreas = nil
	}
	return &sup, nil
}

func scanSQLiteRFQ(row scannable) (*model.RFQ, error) {
	var (
		r      model.RFQ
		status string
		sentAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.PipelineID, &r.ProjectID, &r.StageID, &r.SupplierID, &r.Recipient, &r.MatchScore,
		&status, &r.Error, &sentAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RFQStatus(status)
	r.SentAt = timePtr(sentAt)
	return &r, nil
}
