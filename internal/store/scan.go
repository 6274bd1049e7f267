package store

import (
	"github.com/sells-group/scopezero/internal/model"
)

const (
	shipmentInsertColumns = `id, dataset_id, invoice_id, supplier, supplier_region, material, quantity_kg, transport_mode, distance_km, invoice_date`
	emissionInsertColumns = `shipment_id, material_emission, transport_emission, total_emission`
	shipmentSelectColumns = `s.id, s.dataset_id, s.invoice_id, s.supplier, s.supplier_region, s.material, s.quantity_kg, s.transport_mode, s.distance_km, s.invoice_date, e.material_emission, e.transport_emission, e.total_emission`

	mitigationColumns       = `id, priority_rank, trigger_reason, action, reduction_absolute, reduction_percentage, feasibility, confidence, cost_estimate, savings_estimate`
	mitigationSelectColumns = `priority_rank, trigger_reason, action, reduction_absolute, reduction_percentage, feasibility, confidence, cost_estimate, savings_estimate`

	datasetSelect = `SELECT d.id, d.filename, d.upload_timestamp, (SELECT COUNT(*) FROM shipments s WHERE s.dataset_id = d.id) FROM datasets d`
)

var (
	shipmentColumnList   = []string{"id", "dataset_id", "invoice_id", "supplier", "supplier_region", "material", "quantity_kg", "transport_mode", "distance_km", "invoice_date"}
	emissionColumnList   = []string{"shipment_id", "material_emission", "transport_emission", "total_emission"}
	mitigationColumnList = []string{"id", "priority_rank", "trigger_reason", "action", "reduction_absolute", "reduction_percentage", "feasibility", "confidence", "cost_estimate", "savings_estimate"}
)

type scannable interface {
	Scan(dest ...any) error
}

func shipmentRow(sh model.Shipment) []any {
	r := sh.Record
	return []any{sh.ID, sh.DatasetID, r.InvoiceID, r.Supplier, r.SupplierRegion, r.Material, r.QuantityKg, r.TransportMode, r.DistanceKm, r.InvoiceDate}
}

func emissionRow(sh model.Shipment) []any {
	e := sh.Emission
	return []any{sh.ID, e.MaterialEmission, e.TransportEmission, e.TotalEmission}
}

func mitigationRow(id string, m model.Mitigation) []any {
	return []any{id, m.PriorityRank, m.TriggerReason, m.Action, m.ReductionAbsolute, m.ReductionPercentage,
		string(m.Feasibility), string(m.Confidence), m.CostEstimate, m.SavingsEstimate}
}

func scanShipment(row scannable) (model.Shipment, error) {
	var sh model.Shipment
	r := &sh.Record
	e := &sh.Emission
	err := row.Scan(&sh.ID, &sh.DatasetID, &r.InvoiceID, &r.Supplier, &r.SupplierRegion, &r.Material,
		&r.QuantityKg, &r.TransportMode, &r.DistanceKm, &r.InvoiceDate,
		&e.MaterialEmission, &e.TransportEmission, &e.TotalEmission)
	return sh, err
}

func scanMitigation(row scannable) (model.Mitigation, error) {
	var m model.Mitigation
	var feasibility, confidence string
	err := row.Scan(&m.PriorityRank, &m.TriggerReason, &m.Action, &m.ReductionAbsolute, &m.ReductionPercentage,
		&feasibility, &confidence, &m.CostEstimate, &m.SavingsEstimate)
	m.Feasibility = model.Rating(feasibility)
	m.Confidence = model.Rating(confidence)
	return m, err
}

func scanDataset(row scannable) (model.Dataset, error) {
	var ds model.Dataset
	err := row.Scan(&ds.ID, &ds.Filename, &ds.UploadTimestamp, &ds.RecordCount)
	ds.UploadTimestamp = ds.UploadTimestamp.UTC()
	return ds, err
}

func scanGroupSum(row scannable, groupBy []Dimension) (GroupSum, error) {
	keys := make([]string, len(groupBy))
	dest := make([]any, 0, len(groupBy)+1)
	for i := range keys {
		dest = append(dest, &keys[i])
	}
	var gs GroupSum
	dest = append(dest, &gs.Sum)
	if err := row.Scan(dest...); err != nil {
		return gs, err
	}
	gs.Keys = make(map[Dimension]string, len(groupBy))
	for i, d := range groupBy {
		gs.Keys[d] = keys[i]
	}
	return gs, nil
}
