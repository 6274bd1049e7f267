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

	"github.com/sells-group/scopezero/internal/model"
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

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS datasets`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InTx_CopiesShipmentsAndEmissions(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO datasets \(id, filename, upload_timestamp\) VALUES \(\$1, \$2, \$3\)`).
		WithArgs("ds-1", "q1.csv", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"shipments"}, shipmentColumnList).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"emissions"}, emissionColumnList).WillReturnResult(2)
	mock.ExpectExec(`DELETE FROM mitigations`).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"mitigations"}, mitigationColumnList).WillReturnResult(1)
	mock.ExpectCommit()

	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.CreateDataset(ctx, model.Dataset{ID: "ds-1", Filename: "q1.csv"}); err != nil {
			return err
		}
		if err := tx.InsertShipments(ctx, []model.Shipment{
			testShipment("a", "ds-1", "Acme", "EU", "Steel", "Rail", 10),
			testShipment("b", "ds-1", "Acme", "EU", "Steel", "Rail", 20),
		}); err != nil {
			return err
		}
		return tx.ReplaceMitigations(ctx, []model.Mitigation{{PriorityRank: 1, Action: "Recycle.", Feasibility: model.RatingHigh, Confidence: model.RatingMedium}})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InTx_RollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"shipments"}, shipmentColumnList).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.InTx(ctx, func(tx Tx) error {
		return tx.InsertShipments(ctx, []model.Shipment{testShipment("a", "ds-1", "Acme", "EU", "Steel", "Rail", 10)})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy shipments")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestDataset_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`^latest_dataset$`).
		WillReturnError(pgx.ErrNoRows)

	ds, err := s.LatestDataset(context.Background())
	require.NoError(t, err)
	assert.Nil(t, ds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestDataset(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`^latest_dataset$`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "filename", "upload_timestamp", "count"}).
			AddRow("ds-1", "q1.csv", ts, 3))

	ds, err := s.LatestDataset(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ds)
	assert.Equal(t, "ds-1", ds.ID)
	assert.Equal(t, 3, ds.RecordCount)
	assert.True(t, ds.UploadTimestamp.Equal(ts))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListShipments_Limit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cols := []string{"id", "dataset_id", "invoice_id", "supplier", "supplier_region", "material", "quantity_kg",
		"transport_mode", "distance_km", "invoice_date", "material_emission", "transport_emission", "total_emission"}
	mock.ExpectQuery(`ORDER BY s.seq DESC LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("a", "ds-1", "INV-1", "Acme", "EU", "Steel", 3000.0, "Heavy Duty Truck", 1200.0, "2024-01-01", 5550.0, 360.0, 5910.0))

	got, err := s.ListShipments(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Steel", got[0].Record.Material)
	assert.InDelta(t, 5910.0, got[0].Emission.TotalEmission, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SumEmissions(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT s.supplier, COALESCE\(SUM\(e.total_emission\), 0\) AS total .* WHERE s.supplier_region = \$1 GROUP BY s.supplier`).
		WithArgs("EU").
		WillReturnRows(pgxmock.NewRows([]string{"supplier", "total"}).
			AddRow("Acme", 600.0).
			AddRow("Beta", 100.0))

	got, err := s.SumEmissions(context.Background(), SumQuery{
		Metric:  MetricTotal,
		GroupBy: []Dimension{DimSupplier},
		Filter:  map[Dimension]string{DimRegion: "EU"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Acme", got[0].Keys[DimSupplier])
	assert.InDelta(t, 600.0, got[0].Sum, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Count(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM shipments`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	n, err := s.Count(context.Background(), TableShipments)
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListMitigations_UsesPreparedStatement(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`^list_mitigations$`).
		WillReturnRows(pgxmock.NewRows([]string{
			"priority_rank", "trigger_reason", "action", "reduction_absolute", "reduction_percentage",
			"feasibility", "confidence", "cost_estimate", "savings_estimate",
		}).AddRow(1, "High air cargo emissions detected", "Switch to ocean.", 1020.0, 85.0, "High", "High", "$12,000", "$95,000"))

	ms, err := s.ListMitigations(context.Background())
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, 1, ms[0].PriorityRank)
	assert.Equal(t, model.RatingHigh, ms[0].Feasibility)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDatasets_UsesPreparedStatement(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`^list_datasets$`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "filename", "upload_timestamp", "count"}).
			AddRow("ds-2", "q2.csv", ts.Add(time.Hour), 0).
			AddRow("ds-1", "q1.csv", ts, 3))

	ds, err := s.ListDatasets(context.Background())
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, "ds-2", ds[0].ID)
	assert.Equal(t, 3, ds[1].RecordCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreparedStatements_Named(t *testing.T) {
	for _, name := range []string{stmtListMitigations, stmtLatestDataset, stmtListDatasets} {
		assert.NotEmpty(t, preparedStatements[name], name)
	}
	assert.Len(t, preparedStatements, 3)
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	require.NoError(t, s.Ping(context.Background()))

	mock.ExpectExec(`SELECT 1`).WillReturnError(errors.New("connection refused"))
	err := s.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: ping")
	assert.NoError(t, mock.ExpectationsWereMet())
}
