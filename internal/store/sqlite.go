package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/scopezero/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// The remaining pragmas are per-connection, so they travel in the DSN and
// apply to every pooled connection.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", withConnPragmas(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: exec PRAGMA journal_mode=WAL")
	}
	return &SQLiteStore{db: db}, nil
}

func withConnPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS datasets (
	id               TEXT PRIMARY KEY,
	filename         TEXT NOT NULL,
	upload_timestamp DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS shipments (
	id              TEXT PRIMARY KEY,
	dataset_id      TEXT NOT NULL REFERENCES datasets(id),
	invoice_id      TEXT NOT NULL,
	supplier        TEXT NOT NULL,
	supplier_region TEXT NOT NULL,
	material        TEXT NOT NULL,
	quantity_kg     REAL NOT NULL,
	transport_mode  TEXT NOT NULL,
	distance_km     REAL NOT NULL,
	invoice_date    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS emissions (
	shipment_id        TEXT PRIMARY KEY REFERENCES shipments(id),
	material_emission  REAL NOT NULL,
	transport_emission REAL NOT NULL,
	total_emission     REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS mitigations (
	id                   TEXT PRIMARY KEY,
	priority_rank        INTEGER NOT NULL,
	trigger_reason       TEXT NOT NULL,
	action               TEXT NOT NULL,
	reduction_absolute   REAL NOT NULL,
	reduction_percentage REAL NOT NULL,
	feasibility          TEXT NOT NULL,
	confidence           TEXT NOT NULL,
	cost_estimate        TEXT NOT NULL DEFAULT '',
	savings_estimate     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_shipments_dataset_id ON shipments(dataset_id);
CREATE INDEX IF NOT EXISTS idx_shipments_supplier ON shipments(supplier);
CREATE INDEX IF NOT EXISTS idx_shipments_material ON shipments(material);
CREATE INDEX IF NOT EXISTS idx_datasets_upload_timestamp ON datasets(upload_timestamp);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteQuerier is satisfied by *sql.DB and *sql.Tx.
type sqliteQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteTx{q: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

type sqliteTx struct {
	q sqliteQuerier
}

func (t *sqliteTx) CreateDataset(ctx context.Context, ds model.Dataset) error {
	if ds.UploadTimestamp.IsZero() {
		ds.UploadTimestamp = time.Now().UTC()
	}
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO datasets (id, filename, upload_timestamp) VALUES (?, ?, ?)`,
		ds.ID, ds.Filename, ds.UploadTimestamp.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert dataset %s", ds.ID)
}

func (t *sqliteTx) InsertShipments(ctx context.Context, shipments []model.Shipment) error {
	if len(shipments) == 0 {
		return nil
	}

	shipStmt, err := t.q.PrepareContext(ctx,
		`INSERT INTO shipments (`+shipmentInsertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert shipment")
	}
	defer shipStmt.Close() //nolint:errcheck

	emStmt, err := t.q.PrepareContext(ctx,
		`INSERT INTO emissions (`+emissionInsertColumns+`) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert emission")
	}
	defer emStmt.Close() //nolint:errcheck

	for _, sh := range shipments {
		if _, err := shipStmt.ExecContext(ctx, shipmentRow(sh)...); err != nil {
			return eris.Wrapf(err, "sqlite: insert shipment %s", sh.ID)
		}
		if _, err := emStmt.ExecContext(ctx, emissionRow(sh)...); err != nil {
			return eris.Wrapf(err, "sqlite: insert emission %s", sh.ID)
		}
	}
	return nil
}

func (t *sqliteTx) ListShipments(ctx context.Context) ([]model.Shipment, error) {
	return sqliteListShipments(ctx, t.q, 0)
}

func (t *sqliteTx) ReplaceMitigations(ctx context.Context, ms []model.Mitigation) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM mitigations`); err != nil {
		return eris.Wrap(err, "sqlite: delete mitigations")
	}
	for _, m := range ms {
		_, err := t.q.ExecContext(ctx,
			`INSERT INTO mitigations (`+mitigationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			mitigationRow(uuid.New().String(), m)...,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert mitigation rank %d", m.PriorityRank)
		}
	}
	return nil
}

func (s *SQLiteStore) ListShipments(ctx context.Context, limit int) ([]model.Shipment, error) {
	return sqliteListShipments(ctx, s.db, limit)
}

func sqliteListShipments(ctx context.Context, q sqliteQuerier, limit int) ([]model.Shipment, error) {
	query := `SELECT ` + shipmentSelectColumns + ` FROM shipments s JOIN emissions e ON e.shipment_id = s.id ORDER BY s.rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list shipments")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan shipment")
		}
		out = append(out, sh)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate shipments")
}

func (s *SQLiteStore) ListMitigations(ctx context.Context) ([]model.Mitigation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+mitigationSelectColumns+` FROM mitigations ORDER BY priority_rank`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list mitigations")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Mitigation
	for rows.Next() {
		m, err := scanMitigation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mitigation")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate mitigations")
}

func (s *SQLiteStore) LatestDataset(ctx context.Context) (*model.Dataset, error) {
	row := s.db.QueryRowContext(ctx, datasetSelect+` ORDER BY d.upload_timestamp DESC, d.rowid DESC LIMIT 1`)
	ds, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest dataset")
	}
	return &ds, nil
}

func (s *SQLiteStore) ListDatasets(ctx context.Context) ([]model.Dataset, error) {
	rows, err := s.db.QueryContext(ctx, datasetSelect+` ORDER BY d.upload_timestamp DESC, d.rowid DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list datasets")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dataset")
		}
		out = append(out, ds)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate datasets")
}

func (s *SQLiteStore) Count(ctx context.Context, t Table) (int, error) {
	query, err := countQuery(t)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "sqlite: count %s", t)
	}
	return n, nil
}

func (s *SQLiteStore) CountDistinct(ctx context.Context, d Dimension) (int, error) {
	col, err := distinctColumn(d)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT `+col+`) FROM shipments`).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "sqlite: count distinct %s", d)
	}
	return n, nil
}

func (s *SQLiteStore) DistinctValues(ctx context.Context, d Dimension) ([]string, error) {
	col, err := distinctColumn(d)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT `+col+` FROM shipments ORDER BY `+col)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: distinct %s", d)
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan distinct %s", d)
		}
		out = append(out, v)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate distinct %s", d)
}

func (s *SQLiteStore) SumEmissions(ctx context.Context, q SumQuery) ([]GroupSum, error) {
	query, args, err := buildSumQuery(q, questionMark)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: sum emissions")
	}
	defer rows.Close() //nolint:errcheck

	var out []GroupSum
	for rows.Next() {
		gs, err := scanGroupSum(rows, q.GroupBy)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan emission sum")
		}
		out = append(out, gs)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate emission sums")
}
