package pipeline

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/scopezero/internal/aggregate"
	"github.com/sells-group/scopezero/internal/model"
	"github.com/sells-group/scopezero/internal/store"
)

// DefaultRecordLimit is the number of records returned when no limit is given.
const DefaultRecordLimit = 100

// SupplierSummary is one (supplier, region) row of the dashboard.
type SupplierSummary struct {
	Name         string  `json:"name"`
	Emissions    float64 `json:"emissions"`
	Contribution float64 `json:"contribution"`
	Region       string  `json:"region"`
}

// MaterialSummary is one material row of the dashboard.
type MaterialSummary struct {
	Name       string  `json:"name"`
	Emissions  float64 `json:"emissions"`
	Percentage float64 `json:"percentage"`
}

// TransportSummary is one transport mode row of the dashboard.
type TransportSummary struct {
	Mode       string  `json:"mode"`
	Emissions  float64 `json:"emissions"`
	Percentage float64 `json:"percentage"`
}

// CategoryBreakdown is one emission category bucket.
type CategoryBreakdown struct {
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	Percentage float64 `json:"percentage"`
}

// Dashboard is the aggregate view over every stored shipment.
type Dashboard struct {
	TotalEmissions    float64             `json:"total_emissions"`
	Suppliers         []SupplierSummary   `json:"suppliers"`
	Materials         []MaterialSummary   `json:"materials"`
	TransportModes    []TransportSummary  `json:"transport_modes"`
	CategoryBreakdown []CategoryBreakdown `json:"category_breakdown"`
	DatasetTimestamp  *time.Time          `json:"dataset_timestamp"`
}

// Recommendation is the presentation of a stored mitigation.
type Recommendation struct {
	Title               string       `json:"title"`
	Description         string       `json:"description"`
	ReductionAbsolute   float64      `json:"reduction_absolute"`
	ReductionPercentage float64      `json:"reduction_percentage"`
	Feasibility         model.Rating `json:"feasibility"`
	Confidence          model.Rating `json:"confidence"`
	PriorityRank        int          `json:"priority_rank"`
	CostEstimate        string       `json:"cost_estimate"`
	SavingsEstimate     string       `json:"savings_estimate"`
}

// Audit reports data completeness and factor coverage.
type Audit struct {
	TotalRecords      int        `json:"total_records"`
	DatasetsCount     int        `json:"datasets_count"`
	DataQualityScore  float64    `json:"data_quality_score"`
	CompletenessScore float64    `json:"completeness_score"`
	FactorCoverage    float64    `json:"factor_coverage"`
	LastUpdated       *time.Time `json:"last_updated"`
}

// Record is one stored shipment with its total emission.
type Record struct {
	ID             string  `json:"id"`
	DatasetID      string  `json:"dataset_id"`
	InvoiceID      string  `json:"invoice_id"`
	Supplier       string  `json:"supplier"`
	SupplierRegion string  `json:"supplier_region"`
	Material       string  `json:"material"`
	QuantityKg     float64 `json:"quantity_kg"`
	TransportMode  string  `json:"transport_mode"`
	DistanceKm     float64 `json:"distance_km"`
	InvoiceDate    string  `json:"invoice_date"`
	TotalEmission  float64 `json:"total_emission"`
}

// Factor is one catalog entry as listed to clients.
type Factor struct {
	Name   string  `json:"name"`
	Factor float64 `json:"factor"`
	Source string  `json:"source"`
	Year   int     `json:"year"`
}

// Factors is the catalog split by category.
type Factors struct {
	Materials []Factor `json:"materials"`
	Transport []Factor `json:"transport"`
}

// Dashboard aggregates all stored shipments.
func (p *Pipeline) Dashboard(ctx context.Context) (*Dashboard, error) {
	var (
		shipments []model.Shipment
		latest    *model.Dataset
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		shipments, err = p.store.ListShipments(gCtx, 0)
		return err
	})
	g.Go(func() error {
		var err error
		latest, err = p.store.LatestDataset(gCtx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: dashboard")
	}

	agg := aggregate.Compute(shipments)
	d := &Dashboard{
		TotalEmissions:    round1(agg.Total),
		Suppliers:         make([]SupplierSummary, 0, len(agg.Suppliers)),
		Materials:         make([]MaterialSummary, 0, len(agg.Materials)),
		TransportModes:    make([]TransportSummary, 0, len(agg.Transport)),
		CategoryBreakdown: make([]CategoryBreakdown, 0, len(agg.Categories)),
	}
	for _, s := range agg.Suppliers {
		d.Suppliers = append(d.Suppliers, SupplierSummary{
			Name:         s.Supplier,
			Emissions:    round1(s.Emissions),
			Contribution: round1(s.Contribution),
			Region:       s.Region,
		})
	}
	for _, m := range agg.Materials {
		d.Materials = append(d.Materials, MaterialSummary{Name: m.Name, Emissions: round1(m.Emissions), Percentage: round1(m.Percentage)})
	}
	for _, t := range agg.Transport {
		d.TransportModes = append(d.TransportModes, TransportSummary{Mode: t.Name, Emissions: round1(t.Emissions), Percentage: round1(t.Percentage)})
	}
	for _, c := range agg.Categories {
		d.CategoryBreakdown = append(d.CategoryBreakdown, CategoryBreakdown{Name: c.Name, Value: round1(c.Emissions), Percentage: round1(c.Percentage)})
	}
	if latest != nil {
		ts := latest.UploadTimestamp
		d.DatasetTimestamp = &ts
	}
	return d, nil
}

// Recommendations lists stored mitigations by priority rank.
func (p *Pipeline) Recommendations(ctx context.Context) ([]Recommendation, error) {
	ms, err := p.store.ListMitigations(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: recommendations")
	}
	out := make([]Recommendation, 0, len(ms))
	for _, m := range ms {
		out = append(out, Recommendation{
			Title:               recommendationTitle(m),
			Description:         m.Action,
			ReductionAbsolute:   round1(m.ReductionAbsolute),
			ReductionPercentage: m.ReductionPercentage,
			Feasibility:         m.Feasibility,
			Confidence:          m.Confidence,
			PriorityRank:        m.PriorityRank,
			CostEstimate:        m.CostEstimate,
			SavingsEstimate:     m.SavingsEstimate,
		})
	}
	return out, nil
}

// recommendationTitle is "Priority N: " followed by the action text up to
// its first period.
func recommendationTitle(m model.Mitigation) string {
	head, _, _ := strings.Cut(m.Action, ".")
	return "Priority " + strconv.Itoa(m.PriorityRank) + ": " + head
}

// Audit reports record counts and quality scores. Completeness is the share
// of shipments with a stored emission; factor coverage is the number of
// catalog material factors per distinct material used, capped at 100.
func (p *Pipeline) Audit(ctx context.Context) (*Audit, error) {
	var (
		records, datasets, withEmission int
		materials                       []string
		latest                          *model.Dataset
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = p.store.Count(gCtx, store.TableShipments)
		return err
	})
	g.Go(func() error {
		var err error
		datasets, err = p.store.Count(gCtx, store.TableDatasets)
		return err
	})
	g.Go(func() error {
		var err error
		withEmission, err = p.store.Count(gCtx, store.TableEmissions)
		return err
	})
	g.Go(func() error {
		var err error
		materials, err = p.store.DistinctValues(gCtx, store.DimMaterial)
		return err
	})
	g.Go(func() error {
		var err error
		latest, err = p.store.LatestDataset(gCtx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: audit")
	}

	var completeness float64
	if records > 0 {
		completeness = float64(withEmission) / float64(records) * 100
	}

	coverage := 100.0
	if len(materials) > 0 {
		factorCount := p.catalog.Count(model.CategoryMaterial)
		coverage = min(100, float64(factorCount)/float64(len(materials))*100)
	}

	a := &Audit{
		TotalRecords:      records,
		DatasetsCount:     datasets,
		DataQualityScore:  round1((completeness + coverage) / 2),
		CompletenessScore: round1(completeness),
		FactorCoverage:    round1(coverage),
	}
	if latest != nil {
		ts := latest.UploadTimestamp
		a.LastUpdated = &ts
	}
	return a, nil
}

// Records returns the most recent shipments. limit <= 0 uses
// DefaultRecordLimit.
func (p *Pipeline) Records(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultRecordLimit
	}
	shipments, err := p.store.ListShipments(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: records")
	}
	out := make([]Record, 0, len(shipments))
	for _, s := range shipments {
		r := s.Record
		out = append(out, Record{
			ID:             s.ID,
			DatasetID:      s.DatasetID,
			InvoiceID:      r.InvoiceID,
			Supplier:       r.Supplier,
			SupplierRegion: r.SupplierRegion,
			Material:       r.Material,
			QuantityKg:     r.QuantityKg,
			TransportMode:  r.TransportMode,
			DistanceKm:     r.DistanceKm,
			InvoiceDate:    r.InvoiceDate,
			TotalEmission:  round1(s.Emission.TotalEmission),
		})
	}
	return out, nil
}

// Datasets lists uploads newest first with their record counts.
func (p *Pipeline) Datasets(ctx context.Context) ([]model.Dataset, error) {
	ds, err := p.store.ListDatasets(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: datasets")
	}
	if ds == nil {
		ds = []model.Dataset{}
	}
	return ds, nil
}

// Factors lists the emission factor catalog.
func (p *Pipeline) Factors() Factors {
	return Factors{
		Materials: toFactors(p.catalog.List(model.CategoryMaterial)),
		Transport: toFactors(p.catalog.List(model.CategoryTransport)),
	}
}

func toFactors(fs []model.EmissionFactor) []Factor {
	out := make([]Factor, 0, len(fs))
	for _, f := range fs {
		out = append(out, Factor{Name: f.Name, Factor: f.Factor, Source: f.Source, Year: f.Year})
	}
	return out
}

// Emissions sums an emission metric over stored shipments, grouped and
// filtered per q. Sums are rounded to one decimal.
func (p *Pipeline) Emissions(ctx context.Context, q store.SumQuery) ([]store.GroupSum, error) {
	if q.Metric == "" {
		q.Metric = store.MetricTotal
	}
	sums, err := p.store.SumEmissions(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: emissions")
	}
	for i := range sums {
		sums[i].Sum = round1(sums[i].Sum)
	}
	if sums == nil {
		sums = []store.GroupSum{}
	}
	return sums, nil
}

// Ping checks that the store is reachable.
func (p *Pipeline) Ping(ctx context.Context) error {
	return eris.Wrap(p.store.Ping(ctx), "pipeline: ping store")
}

func round1(v float64) float64 {
	return decimal.NewFromFloat(v).Round(1).InexactFloat64()
}
