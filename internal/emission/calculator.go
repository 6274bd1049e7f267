// Package emission converts shipment records into kg CO2e.
package emission

import "github.com/sells-group/scopezero/internal/model"

// Fallback factors applied when the catalog has no entry for a name.
const (
	FallbackMaterialFactor  = 1.0
	FallbackTransportFactor = 0.05
)

// FactorLookup resolves an emission factor by exact (category, name).
type FactorLookup interface {
	Lookup(category model.FactorCategory, name string) (float64, bool)
}

// Compute returns the emission breakdown of a record:
//
//	material  = quantity_kg × material factor
//	transport = quantity_kg × distance_km × transport factor
//	total     = material + transport
func Compute(rec model.ShipmentRecord, lookup FactorLookup) model.Emission {
	materialFactor, ok := lookup.Lookup(model.CategoryMaterial, rec.Material)
	if !ok {
		materialFactor = FallbackMaterialFactor
	}
	transportFactor, ok := lookup.Lookup(model.CategoryTransport, rec.TransportMode)
	if !ok {
		transportFactor = FallbackTransportFactor
	}

	material := rec.QuantityKg * materialFactor
	transport := rec.QuantityKg * rec.DistanceKm * transportFactor
	return model.Emission{
		MaterialEmission:  material,
		TransportEmission: transport,
		TotalEmission:     material + transport,
	}
}

// ComputeAll pairs each record with its emission, preserving order.
func ComputeAll(recs []model.ShipmentRecord, lookup FactorLookup) []model.Shipment {
	out := make([]model.Shipment, len(recs))
	for i, r := range recs {
		out[i] = model.Shipment{Record: r, Emission: Compute(r, lookup)}
	}
	return out
}
