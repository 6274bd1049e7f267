// Package pipeline orchestrates ingestion and serves the read views built
// on top of the store.
package pipeline

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/scopezero/internal/config"
	"github.com/sells-group/scopezero/internal/factors"
	"github.com/sells-group/scopezero/internal/ingest"
	"github.com/sells-group/scopezero/internal/lock"
	"github.com/sells-group/scopezero/internal/mitigation"
	"github.com/sells-group/scopezero/internal/store"
	"github.com/sells-group/scopezero/internal/table"
)

// Pipeline wires the normalizer, calculator, aggregator and rule engine to
// a store.
type Pipeline struct {
	store      store.Store
	locker     lock.Locker
	catalog    *factors.Catalog
	normalizer *ingest.Normalizer
	engine     *mitigation.Engine
	tableOpts  table.Options
	now        func() time.Time
}

// Option customizes a Pipeline.
type Option func(*options)

type options struct {
	now   func() time.Time
	rules []mitigation.Rule
}

// WithClock overrides the clock used for upload timestamps and defaulted
// invoice dates.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRules replaces the default mitigation rule set.
func WithRules(rules []mitigation.Rule) Option {
	return func(o *options) { o.rules = rules }
}

// New creates a Pipeline. Synonyms from cfg.Ingest extend the default set and
// its CSV and XLSX settings apply to every upload.
func New(cfg *config.Config, st store.Store, locker lock.Locker, catalog *factors.Catalog, opts ...Option) (*Pipeline, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	syn, err := ingest.DefaultSynonyms().Extend(cfg.Ingest.Synonyms)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: synonyms")
	}
	delimiter, comment, err := cfg.Ingest.CSVRunes()
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: csv options")
	}
	if catalog == nil {
		catalog = factors.Default()
	}
	if locker == nil {
		locker = lock.NewLocal()
	}

	return &Pipeline{
		store:      st,
		locker:     locker,
		catalog:    catalog,
		normalizer: ingest.NewNormalizer(syn, ingest.Options{Strict: cfg.Ingest.Strict, Now: o.now}),
		engine:     mitigation.NewEngine(o.rules),
		tableOpts: table.Options{
			CSV: table.CSVOptions{
				Delimiter:  delimiter,
				Comment:    comment,
				LazyQuotes: cfg.Ingest.CSVLazyQuotes,
			},
			XLSX: table.XLSXOptions{SheetName: cfg.Ingest.XLSXSheet},
		},
		now: o.now,
	}, nil
}
