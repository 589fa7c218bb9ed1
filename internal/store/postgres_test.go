package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/procure-cli/internal/model"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS pipelines").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPipeline_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery("SELECT .+ FROM pipelines WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetPipeline(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreatePipeline(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec("INSERT INTO pipelines").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	p := &model.Pipeline{OwnerID: "o", Trigger: model.TriggerAdmin, Steps: model.WaveSteps, Status: model.PipelineStatusPending}
	require.NoError(t, s.CreatePipeline(context.Background(), p))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, int64(1), p.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdatePipeline_Success(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec("UPDATE pipelines SET .+ WHERE id = .+ AND version = .+").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	p := &model.Pipeline{ID: "p1", Version: 3, Status: model.PipelineStatusRunning}
	require.NoError(t, s.UpdatePipeline(context.Background(), p))
	assert.Equal(t, int64(4), p.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdatePipeline_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec("UPDATE pipelines SET").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	p := &model.Pipeline{ID: "p1", Version: 3, Status: model.PipelineStatusCancelled}
	err := s.UpdatePipeline(context.Background(), p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, int64(3), p.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetConstructionStart_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec("UPDATE projects SET construction_start").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetConstructionStart(context.Background(), "missing", time.Now())
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetStageStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec("UPDATE stages SET procurement_status .+ ANY").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	err := s.SetStageStatus(context.Background(), model.ProcurementActive, "a", "b")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetStageStatus_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.SetStageStatus(context.Background(), model.ProcurementActive))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertSignals(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec("UPDATE suppliers SET risk_score").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	risk := 40.0
	err := s.UpsertSignals(context.Background(), model.SupplierSignals{SupplierID: "s1", RiskScore: &risk, FetchedAt: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertSuppliers_BulkUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_suppliers"}, supplierUpsert.Columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "suppliers"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.UpsertSuppliers(context.Background(), []model.Supplier{
		{CompanyName: "A", Categories: []string{"hvac"}},
		{CompanyName: "B", IndustryCode: "238220"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkRFQ_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec("UPDATE rfqs SET status").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkRFQ(context.Background(), "missing", model.RFQSent, nil, "")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateBid_UnknownRFQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery("SELECT .+ FROM rfqs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	err := s.CreateBid(context.Background(), &model.Bid{RFQID: "missing", Amount: 10})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
