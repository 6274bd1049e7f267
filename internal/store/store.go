package store

import (
	"context"

	"github.com/sells-group/scopezero/internal/model"
)

// Tx is the write surface available inside Store.InTx. Everything done
// through a Tx commits or rolls back together.
type Tx interface {
	CreateDataset(ctx context.Context, ds model.Dataset) error
	// InsertShipments stores each shipment's record and emission pair.
	InsertShipments(ctx context.Context, shipments []model.Shipment) error
	// ListShipments returns every stored shipment, including those written
	// earlier in the same transaction.
	ListShipments(ctx context.Context) ([]model.Shipment, error)
	// ReplaceMitigations deletes all stored mitigations and writes ms.
	ReplaceMitigations(ctx context.Context, ms []model.Mitigation) error
}

// Store persists datasets, shipments, emissions and mitigations.
type Store interface {
	// InTx runs fn in a single transaction. fn's error rolls back.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// ListShipments returns the most recently inserted shipments first.
	// limit <= 0 returns all of them.
	ListShipments(ctx context.Context, limit int) ([]model.Shipment, error)
	ListMitigations(ctx context.Context) ([]model.Mitigation, error)
	// LatestDataset returns nil without error when nothing was uploaded.
	LatestDataset(ctx context.Context) (*model.Dataset, error)
	// ListDatasets returns datasets newest first.
	ListDatasets(ctx context.Context) ([]model.Dataset, error)

	Count(ctx context.Context, t Table) (int, error)
	CountDistinct(ctx context.Context, d Dimension) (int, error)
	DistinctValues(ctx context.Context, d Dimension) ([]string, error)
	SumEmissions(ctx context.Context, q SumQuery) ([]GroupSum, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
