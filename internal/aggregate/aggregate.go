// Package aggregate groups computed shipment emissions by supplier, material
// and transport mode.
package aggregate

import (
	"sort"

	"github.com/sells-group/scopezero/internal/model"
)

// OthersShare is the fixed fraction of the grand total reported as the
// "Others" category. It is a placeholder estimate, not derived from data.
const OthersShare = 0.10

// Category bucket names.
const (
	CategoryMaterials = "Materials"
	CategoryLogistics = "Logistics"
	CategoryOthers    = "Others"
)

// SupplierGroup is the total emission of one (supplier, region) pair.
type SupplierGroup struct {
	Supplier     string
	Region       string
	Emissions    float64
	Contribution float64 // percent of the grand total
}

// Group is a named emission subtotal with its share of the grand total.
type Group struct {
	Name       string
	Emissions  float64
	Percentage float64
}

// Aggregates is the grouped view over the full set of stored shipments.
// Every percentage is relative to Total, whatever the grouping dimension.
type Aggregates struct {
	Total      float64
	Suppliers  []SupplierGroup
	Materials  []Group // material_emission per material
	Transport  []Group // transport_emission per transport mode
	Categories []Group
}

type supplierKey struct {
	supplier string
	region   string
}

// Compute aggregates the given shipments. Groups are sorted by descending
// emission, ties broken by name.
func Compute(shipments []model.Shipment) Aggregates {
	var total, materialTotal, transportTotal float64
	suppliers := make(map[supplierKey]float64)
	materials := make(map[string]float64)
	transport := make(map[string]float64)

	for _, s := range shipments {
		total += s.Emission.TotalEmission
		materialTotal += s.Emission.MaterialEmission
		transportTotal += s.Emission.TransportEmission

		suppliers[supplierKey{s.Record.Supplier, s.Record.SupplierRegion}] += s.Emission.TotalEmission
		materials[s.Record.Material] += s.Emission.MaterialEmission
		transport[s.Record.TransportMode] += s.Emission.TransportEmission
	}

	agg := Aggregates{Total: total}

	for k, v := range suppliers {
		agg.Suppliers = append(agg.Suppliers, SupplierGroup{
			Supplier:     k.supplier,
			Region:       k.region,
			Emissions:    v,
			Contribution: Percent(v, total),
		})
	}
	sort.Slice(agg.Suppliers, func(i, j int) bool {
		a, b := agg.Suppliers[i], agg.Suppliers[j]
		if a.Emissions != b.Emissions {
			return a.Emissions > b.Emissions
		}
		if a.Supplier != b.Supplier {
			return a.Supplier < b.Supplier
		}
		return a.Region < b.Region
	})

	agg.Materials = toGroups(materials, total)
	agg.Transport = toGroups(transport, total)

	agg.Categories = []Group{
		{Name: CategoryMaterials, Emissions: materialTotal, Percentage: Percent(materialTotal, total)},
		{Name: CategoryLogistics, Emissions: transportTotal, Percentage: Percent(transportTotal, total)},
		{Name: CategoryOthers, Emissions: total * OthersShare, Percentage: OthersShare * 100},
	}

	return agg
}

// Percent returns 100 × part / total, or 0 when total is 0.
func Percent(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return part / total * 100
}

// Material returns the material_emission subtotal for an exact material name.
func (a Aggregates) Material(name string) float64 {
	for _, g := range a.Materials {
		if g.Name == name {
			return g.Emissions
		}
	}
	return 0
}

// TransportMatching sums transport subtotals whose mode satisfies match.
func (a Aggregates) TransportMatching(match func(mode string) bool) float64 {
	var sum float64
	for _, g := range a.Transport {
		if match(g.Name) {
			sum += g.Emissions
		}
	}
	return sum
}

func toGroups(sums map[string]float64, total float64) []Group {
	groups := make([]Group, 0, len(sums))
	for name, v := range sums {
		groups = append(groups, Group{Name: name, Emissions: v, Percentage: Percent(v, total)})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Emissions != groups[j].Emissions {
			return groups[i].Emissions > groups[j].Emissions
		}
		return groups[i].Name < groups[j].Name
	})
	return groups
}
