package ingest

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scopezero/internal/model"
)

// RowError describes why an input row was not turned into a record.
type RowError struct {
	Line   int    `json:"line"` // 1-based spreadsheet line; the header is line 1
	Reason string `json:"reason"`
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Options configures a Normalizer.
type Options struct {
	// Strict aborts normalization on the first bad row instead of skipping it.
	Strict bool
	// Now supplies the processing date for rows without one. Defaults to time.Now.
	Now func() time.Time
}

// Result is the output of one normalization pass.
type Result struct {
	Records   []model.ShipmentRecord
	Suppliers []string // distinct, in order of first appearance
	Materials []string // distinct, in order of first appearance
	Skipped   []RowError
}

// Normalizer converts raw rows into validated shipment records.
type Normalizer struct {
	synonyms Synonyms
	strict   bool
	now      func() time.Time
	validate *validator.Validate
}

// NewNormalizer creates a Normalizer using the given synonym table.
func NewNormalizer(syn Synonyms, opts Options) *Normalizer {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Normalizer{
		synonyms: syn,
		strict:   opts.Strict,
		now:      now,
		validate: newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	return v
}

// Normalize resolves headers and converts every row. Rows whose weight is
// missing, unparseable or not positive are skipped and consume no invoice
// number. In strict mode the first such row is returned as an error.
func (n *Normalizer) Normalize(headers []string, rows []map[string]string) (*Result, error) {
	mapping := Resolve(headers, n.synonyms)
	today := n.now().Format(model.InvoiceDateLayout)

	res := &Result{}
	seenSupplier := make(map[string]bool)
	seenMaterial := make(map[string]bool)

	for i, raw := range rows {
		line := i + 2
		rec, reason := n.normalizeRow(mapping, normalizeKeys(raw), today, len(res.Records)+1)
		if reason != "" {
			rowErr := RowError{Line: line, Reason: reason}
			if n.strict {
				return nil, eris.Wrap(&rowErr, "ingest: strict mode")
			}
			zap.L().Debug("ingest: skipping row",
				zap.Int("line", line),
				zap.String("reason", reason),
			)
			res.Skipped = append(res.Skipped, rowErr)
			continue
		}

		res.Records = append(res.Records, rec)
		if !seenSupplier[rec.Supplier] {
			seenSupplier[rec.Supplier] = true
			res.Suppliers = append(res.Suppliers, rec.Supplier)
		}
		if !seenMaterial[rec.Material] {
			seenMaterial[rec.Material] = true
			res.Materials = append(res.Materials, rec.Material)
		}
	}

	return res, nil
}

func (n *Normalizer) normalizeRow(mapping Mapping, row map[string]string, today string, seq int) (model.ShipmentRecord, string) {
	value := func(f Field) (string, bool) {
		col, ok := mapping.Column(f)
		if !ok {
			return "", false
		}
		v := strings.TrimSpace(row[col])
		return v, v != ""
	}
	valueOr := func(f Field, def string) string {
		if v, ok := value(f); ok {
			return v
		}
		return def
	}

	rawWeight, ok := value(FieldWeight)
	if !ok {
		return model.ShipmentRecord{}, "missing weight"
	}
	weight, err := strconv.ParseFloat(rawWeight, 64)
	if err != nil {
		return model.ShipmentRecord{}, fmt.Sprintf("invalid weight %q", rawWeight)
	}

	var distance float64
	if rawDistance, ok := value(FieldDistance); ok {
		distance, err = strconv.ParseFloat(rawDistance, 64)
		if err != nil {
			return model.ShipmentRecord{}, fmt.Sprintf("invalid distance %q", rawDistance)
		}
	}

	rec := model.ShipmentRecord{
		InvoiceID:      fmt.Sprintf("INV-%d", seq),
		Supplier:       valueOr(FieldSupplier, model.DefaultSupplier),
		SupplierRegion: valueOr(FieldRegion, model.DefaultRegion),
		Material:       valueOr(FieldMaterial, model.DefaultMaterial),
		QuantityKg:     weight,
		TransportMode:  valueOr(FieldTransportMode, model.DefaultTransportMode),
		DistanceKm:     distance,
		InvoiceDate:    valueOr(FieldDate, today),
	}

	if err := n.validate.Struct(rec); err != nil {
		return model.ShipmentRecord{}, describeValidation(err)
	}
	return rec, ""
}

// normalizeKeys lower-cases and trims row keys. When two keys collide the
// non-empty value wins, then the lexically greater original key.
func normalizeKeys(raw map[string]string) map[string]string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(raw))
	for _, k := range keys {
		nk := NormalizeHeader(k)
		v := raw[k]
		if prev, ok := out[nk]; ok && strings.TrimSpace(v) == "" && strings.TrimSpace(prev) != "" {
			continue
		}
		out[nk] = v
	}
	return out
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Field() {
	case "QuantityKg":
		return fmt.Sprintf("weight must be a positive finite number, got %v", fe.Value())
	case "DistanceKm":
		return fmt.Sprintf("distance must be a non-negative finite number, got %v", fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
