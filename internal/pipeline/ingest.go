package pipeline

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scopezero/internal/aggregate"
	"github.com/sells-group/scopezero/internal/emission"
	"github.com/sells-group/scopezero/internal/lock"
	"github.com/sells-group/scopezero/internal/model"
	"github.com/sells-group/scopezero/internal/store"
	"github.com/sells-group/scopezero/internal/table"
)

// UploadMessage is the Summary message of a successful ingestion.
const UploadMessage = "Dataset uploaded successfully"

// Summary reports the outcome of one ingestion.
type Summary struct {
	Message           string `json:"message"`
	DatasetID         string `json:"dataset_id"`
	RecordsProcessed  int    `json:"records_processed"`
	SuppliersDetected int    `json:"suppliers_detected"`
	MaterialsDetected int    `json:"materials_detected"`
	RowsSkipped       int    `json:"rows_skipped"`
}

// Ingest reads a CSV or XLSX upload, stores its records and emissions as a
// new dataset, and regenerates the mitigation set from all stored data.
//
// Parsing and emission math run before the ingest lock is taken. The
// dataset, its shipments and the replacement mitigations are written in one
// transaction under the lock.
func (p *Pipeline) Ingest(ctx context.Context, filename string, r io.Reader) (*Summary, error) {
	log := zap.L().With(zap.String("filename", filename))
	log.Info("pipeline: starting ingestion")

	tbl, err := table.Read(ctx, filename, r, p.tableOpts)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read upload")
	}

	res, err := p.normalizer.Normalize(tbl.Header, tbl.Records())
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: normalize")
	}

	ds := model.Dataset{
		ID:              uuid.New().String(),
		Filename:        filename,
		UploadTimestamp: p.now().UTC(),
		RecordCount:     len(res.Records),
	}
	shipments := emission.ComputeAll(res.Records, p.catalog)
	for i := range shipments {
		shipments[i].ID = uuid.New().String()
		shipments[i].DatasetID = ds.ID
	}

	held, release, err := p.locker.Acquire(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: acquire ingest lock")
	}
	defer release()

	var mitigations []model.Mitigation
	err = p.store.InTx(held, func(tx store.Tx) error {
		if err := tx.CreateDataset(held, ds); err != nil {
			return err
		}
		if err := tx.InsertShipments(held, shipments); err != nil {
			return err
		}
		all, err := tx.ListShipments(held)
		if err != nil {
			return err
		}
		mitigations = p.engine.Regenerate(aggregate.Compute(all))
		if err := context.Cause(held); err != nil {
			return err
		}
		return tx.ReplaceMitigations(held, mitigations)
	})
	if err != nil {
		if cause := context.Cause(held); errors.Is(cause, lock.ErrLost) {
			return nil, eris.Wrap(cause, "pipeline: persist dataset")
		}
		return nil, eris.Wrap(err, "pipeline: persist dataset")
	}

	log.Info("pipeline: mitigations regenerated", zap.Int("mitigations", len(mitigations)))

	summary := &Summary{
		Message:           UploadMessage,
		DatasetID:         ds.ID,
		RecordsProcessed:  len(res.Records),
		SuppliersDetected: len(res.Suppliers),
		MaterialsDetected: len(res.Materials),
		RowsSkipped:       len(res.Skipped),
	}
	log.Info("pipeline: ingestion complete",
		zap.String("dataset_id", ds.ID),
		zap.Int("records", summary.RecordsProcessed),
		zap.Int("suppliers", summary.SuppliersDetected),
		zap.Int("materials", summary.MaterialsDetected),
		zap.Int("skipped", summary.RowsSkipped),
	)
	return summary, nil
}
