package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/scopezero/internal/db"
	"github.com/sells-group/scopezero/internal/model"
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

// Names of statements prepared on every pooled connection.
const (
	stmtListMitigations = "list_mitigations"
	stmtLatestDataset   = "latest_dataset"
	stmtListDatasets    = "list_datasets"
)

// preparedStatements lists the read queries served on every dashboard
// request. Queries pass the statement name, not the SQL.
var preparedStatements = map[string]string{
	stmtListMitigations: `SELECT ` + mitigationSelectColumns + ` FROM mitigations ORDER BY priority_rank`,
	stmtLatestDataset:   datasetSelect + ` ORDER BY d.upload_timestamp DESC, d.seq DESC LIMIT 1`,
	stmtListDatasets:    datasetSelect + ` ORDER BY d.upload_timestamp DESC, d.seq DESC`,
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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS datasets (
	id               TEXT PRIMARY KEY,
	seq              BIGINT GENERATED ALWAYS AS IDENTITY,
	filename         TEXT NOT NULL,
	upload_timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS shipments (
	id              TEXT PRIMARY KEY,
	seq             BIGINT GENERATED ALWAYS AS IDENTITY,
	dataset_id      TEXT NOT NULL REFERENCES datasets(id),
	invoice_id      TEXT NOT NULL,
	supplier        TEXT NOT NULL,
	supplier_region TEXT NOT NULL,
	material        TEXT NOT NULL,
	quantity_kg     DOUBLE PRECISION NOT NULL,
	transport_mode  TEXT NOT NULL,
	distance_km     DOUBLE PRECISION NOT NULL,
	invoice_date    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS emissions (
	shipment_id        TEXT PRIMARY KEY REFERENCES shipments(id),
	material_emission  DOUBLE PRECISION NOT NULL,
	transport_emission DOUBLE PRECISION NOT NULL,
	total_emission     DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS mitigations (
	id                   TEXT PRIMARY KEY,
	priority_rank        INTEGER NOT NULL,
	trigger_reason       TEXT NOT NULL,
	action               TEXT NOT NULL,
	reduction_absolute   DOUBLE PRECISION NOT NULL,
	reduction_percentage DOUBLE PRECISION NOT NULL,
	feasibility          TEXT NOT NULL,
	confidence           TEXT NOT NULL,
	cost_estimate        TEXT NOT NULL DEFAULT '',
	savings_estimate     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_shipments_dataset_id ON shipments(dataset_id);
CREATE INDEX IF NOT EXISTS idx_shipments_seq ON shipments(seq DESC);
CREATE INDEX IF NOT EXISTS idx_shipments_supplier ON shipments(supplier);
CREATE INDEX IF NOT EXISTS idx_shipments_material ON shipments(material);
CREATE INDEX IF NOT EXISTS idx_datasets_upload_timestamp ON datasets(upload_timestamp DESC);
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

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

type pgTx struct {
	q db.Querier
}

func (t *pgTx) CreateDataset(ctx context.Context, ds model.Dataset) error {
	if ds.UploadTimestamp.IsZero() {
		ds.UploadTimestamp = time.Now().UTC()
	}
	_, err := t.q.Exec(ctx,
		`INSERT INTO datasets (id, filename, upload_timestamp) VALUES ($1, $2, $3)`,
		ds.ID, ds.Filename, ds.UploadTimestamp.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert dataset %s", ds.ID)
}

// InsertShipments bulk-loads records then emissions with COPY.
func (t *pgTx) InsertShipments(ctx context.Context, shipments []model.Shipment) error {
	if len(shipments) == 0 {
		return nil
	}
	shipRows := make([][]any, len(shipments))
	emRows := make([][]any, len(shipments))
	for i, sh := range shipments {
		shipRows[i] = shipmentRow(sh)
		emRows[i] = emissionRow(sh)
	}
	if _, err := db.CopyFrom(ctx, t.q, string(TableShipments), shipmentColumnList, shipRows); err != nil {
		return eris.Wrap(err, "postgres: copy shipments")
	}
	if _, err := db.CopyFrom(ctx, t.q, string(TableEmissions), emissionColumnList, emRows); err != nil {
		return eris.Wrap(err, "postgres: copy emissions")
	}
	return nil
}

func (t *pgTx) ListShipments(ctx context.Context) ([]model.Shipment, error) {
	return pgListShipments(ctx, t.q, 0)
}

func (t *pgTx) ReplaceMitigations(ctx context.Context, ms []model.Mitigation) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM mitigations`); err != nil {
		return eris.Wrap(err, "postgres: delete mitigations")
	}
	rows := make([][]any, len(ms))
	for i, m := range ms {
		rows[i] = mitigationRow(uuid.New().String(), m)
	}
	if _, err := db.CopyFrom(ctx, t.q, string(TableMitigations), mitigationColumnList, rows); err != nil {
		return eris.Wrap(err, "postgres: copy mitigations")
	}
	return nil
}

func (s *PostgresStore) ListShipments(ctx context.Context, limit int) ([]model.Shipment, error) {
	return pgListShipments(ctx, s.pool, limit)
}

func pgListShipments(ctx context.Context, q db.Querier, limit int) ([]model.Shipment, error) {
	query := `SELECT ` + shipmentSelectColumns + ` FROM shipments s JOIN emissions e ON e.shipment_id = s.id ORDER BY s.seq DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list shipments")
	}
	defer rows.Close()

	var out []model.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan shipment")
		}
		out = append(out, sh)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate shipments")
}

func (s *PostgresStore) ListMitigations(ctx context.Context) ([]model.Mitigation, error) {
	rows, err := s.pool.Query(ctx, stmtListMitigations)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list mitigations")
	}
	defer rows.Close()

	var out []model.Mitigation
	for rows.Next() {
		m, err := scanMitigation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan mitigation")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate mitigations")
}

func (s *PostgresStore) LatestDataset(ctx context.Context) (*model.Dataset, error) {
	ds, err := scanDataset(s.pool.QueryRow(ctx, stmtLatestDataset))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest dataset")
	}
	return &ds, nil
}

func (s *PostgresStore) ListDatasets(ctx context.Context) ([]model.Dataset, error) {
	rows, err := s.pool.Query(ctx, stmtListDatasets)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list datasets")
	}
	defer rows.Close()

	var out []model.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan dataset")
		}
		out = append(out, ds)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate datasets")
}

func (s *PostgresStore) Count(ctx context.Context, t Table) (int, error) {
	query, err := countQuery(t)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "postgres: count %s", t)
	}
	return n, nil
}

func (s *PostgresStore) CountDistinct(ctx context.Context, d Dimension) (int, error) {
	col, err := distinctColumn(d)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT `+col+`) FROM shipments`).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "postgres: count distinct %s", d)
	}
	return n, nil
}

func (s *PostgresStore) DistinctValues(ctx context.Context, d Dimension) ([]string, error) {
	col, err := distinctColumn(d)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT `+col+` FROM shipments ORDER BY `+col)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: distinct %s", d)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan distinct %s", d)
		}
		out = append(out, v)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate distinct %s", d)
}

func (s *PostgresStore) SumEmissions(ctx context.Context, q SumQuery) ([]GroupSum, error) {
	query, args, err := buildSumQuery(q, dollarN)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: sum emissions")
	}
	defer rows.Close()

	var out []GroupSum
	for rows.Next() {
		gs, err := scanGroupSum(rows, q.GroupBy)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan emission sum")
		}
		out = append(out, gs)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate emission sums")
}
