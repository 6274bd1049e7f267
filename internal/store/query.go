package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Table names a countable store table.
type Table string

const (
	TableDatasets    Table = "datasets"
	TableShipments   Table = "shipments"
	TableEmissions   Table = "emissions"
	TableMitigations Table = "mitigations"
)

// Dimension is a shipment attribute that emissions can be grouped or
// filtered by.
type Dimension string

const (
	DimSupplier      Dimension = "supplier"
	DimRegion        Dimension = "region"
	DimMaterial      Dimension = "material"
	DimTransportMode Dimension = "transport_mode"
)

// Metric is a summable emission column.
type Metric string

const (
	MetricMaterial  Metric = "material_emission"
	MetricTransport Metric = "transport_emission"
	MetricTotal     Metric = "total_emission"
)

var tableNames = map[Table]bool{
	TableDatasets:    true,
	TableShipments:   true,
	TableEmissions:   true,
	TableMitigations: true,
}

var dimensionColumns = map[Dimension]string{
	DimSupplier:      "s.supplier",
	DimRegion:        "s.supplier_region",
	DimMaterial:      "s.material",
	DimTransportMode: "s.transport_mode",
}

var metricColumns = map[Metric]string{
	MetricMaterial:  "e.material_emission",
	MetricTransport: "e.transport_emission",
	MetricTotal:     "e.total_emission",
}

// SumQuery sums one metric over shipments, optionally filtered by exact
// dimension values and grouped by any combination of dimensions.
type SumQuery struct {
	Metric  Metric               `json:"metric"`
	GroupBy []Dimension          `json:"group_by,omitempty"`
	Filter  map[Dimension]string `json:"filter,omitempty"`
}

// GroupSum is one row of a SumQuery result.
type GroupSum struct {
	Keys map[Dimension]string `json:"keys"`
	Sum  float64              `json:"sum"`
}

// Validate rejects unknown metrics and dimensions.
func (q SumQuery) Validate() error {
	if _, ok := metricColumns[q.Metric]; !ok {
		return eris.Errorf("store: unknown metric %q", q.Metric)
	}
	seen := make(map[Dimension]bool, len(q.GroupBy))
	for _, d := range q.GroupBy {
		if _, ok := dimensionColumns[d]; !ok {
			return eris.Errorf("store: unknown group_by dimension %q", d)
		}
		if seen[d] {
			return eris.Errorf("store: duplicate group_by dimension %q", d)
		}
		seen[d] = true
	}
	for d := range q.Filter {
		if _, ok := dimensionColumns[d]; !ok {
			return eris.Errorf("store: unknown filter dimension %q", d)
		}
	}
	return nil
}

// placeholderFunc renders the n-th (1-based) bind parameter.
type placeholderFunc func(n int) string

func questionMark(int) string { return "?" }

func dollarN(n int) string { return fmt.Sprintf("$%d", n) }

// buildSumQuery renders q for the given placeholder style. Dimension and
// metric names are whitelisted, so only values travel as parameters.
func buildSumQuery(q SumQuery, ph placeholderFunc) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	cols := make([]string, len(q.GroupBy))
	for i, d := range q.GroupBy {
		cols[i] = dimensionColumns[d]
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	for _, c := range cols {
		sb.WriteString(c)
		sb.WriteString(", ")
	}
	fmt.Fprintf(&sb, "COALESCE(SUM(%s), 0) AS total FROM shipments s JOIN emissions e ON e.shipment_id = s.id", metricColumns[q.Metric])

	filterDims := make([]string, 0, len(q.Filter))
	for d := range q.Filter {
		filterDims = append(filterDims, string(d))
	}
	sort.Strings(filterDims)

	var args []any
	for i, d := range filterDims {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		args = append(args, q.Filter[Dimension(d)])
		fmt.Fprintf(&sb, "%s = %s", dimensionColumns[Dimension(d)], ph(len(args)))
	}

	if len(cols) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(cols, ", "))
	}
	sb.WriteString(" ORDER BY total DESC")
	for _, c := range cols {
		sb.WriteString(", ")
		sb.WriteString(c)
	}

	return sb.String(), args, nil
}

func countQuery(t Table) (string, error) {
	if !tableNames[t] {
		return "", eris.Errorf("store: unknown table %q", t)
	}
	return "SELECT COUNT(*) FROM " + string(t), nil
}

func distinctColumn(d Dimension) (string, error) {
	col, ok := dimensionColumns[d]
	if !ok {
		return "", eris.Errorf("store: unknown dimension %q", d)
	}
	return strings.TrimPrefix(col, "s."), nil
}
