package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSumQuery(t *testing.T) {
	q := SumQuery{
		Metric:  MetricTransport,
		GroupBy: []Dimension{DimMaterial},
		Filter:  map[Dimension]string{DimSupplier: "Acme", DimMaterial: "Steel"},
	}

	sql, args, err := buildSumQuery(q, dollarN)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT s.material, COALESCE(SUM(e.transport_emission), 0) AS total FROM shipments s JOIN emissions e ON e.shipment_id = s.id"+
			" WHERE s.material = $1 AND s.supplier = $2 GROUP BY s.material ORDER BY total DESC, s.material",
		sql)
	assert.Equal(t, []any{"Steel", "Acme"}, args)

	sql, args, err = buildSumQuery(SumQuery{Metric: MetricTotal}, questionMark)
	require.NoError(t, err)
	assert.NotContains(t, sql, "WHERE")
	assert.NotContains(t, sql, "GROUP BY")
	assert.Empty(t, args)
}

func TestSumQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		q       SumQuery
		wantErr string
	}{
		{"ok", SumQuery{Metric: MetricTotal, GroupBy: []Dimension{DimRegion}}, ""},
		{"bad metric", SumQuery{Metric: "co2"}, "unknown metric"},
		{"bad group", SumQuery{Metric: MetricTotal, GroupBy: []Dimension{"color"}}, "unknown group_by"},
		{"dup group", SumQuery{Metric: MetricTotal, GroupBy: []Dimension{DimRegion, DimRegion}}, "duplicate group_by"},
		{"bad filter", SumQuery{Metric: MetricTotal, Filter: map[Dimension]string{"color": "red"}}, "unknown filter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
