// Package ingest maps heterogeneous spreadsheet rows onto typed shipment records.
package ingest

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Field is a canonical shipment column.
type Field string

const (
	FieldDate          Field = "date"
	FieldSupplier      Field = "supplier"
	FieldMaterial      Field = "material"
	FieldWeight        Field = "weight"
	FieldDistance      Field = "distance"
	FieldTransportMode Field = "transport_mode"
	FieldRegion        Field = "region"
)

// Fields lists the canonical fields in resolution order.
var Fields = []Field{
	FieldDate,
	FieldSupplier,
	FieldMaterial,
	FieldWeight,
	FieldDistance,
	FieldTransportMode,
	FieldRegion,
}

// Synonyms maps each canonical field to the normalized header names that
// identify it. Sets must be disjoint across fields; see Validate.
type Synonyms map[Field][]string

// DefaultSynonyms returns the built-in header synonym table.
func DefaultSynonyms() Synonyms {
	return Synonyms{
		FieldDate:          {"date", "time", "timestamp", "period"},
		FieldSupplier:      {"supplier", "vendor", "entity", "company", "name"},
		FieldMaterial:      {"material", "material type", "type", "item"},
		FieldWeight:        {"weight", "weight (kg)", "kgs", "mass", "quantity"},
		FieldDistance:      {"distance", "distance (km)", "km", "length", "trip"},
		FieldTransportMode: {"transportmode", "transport mode", "mode", "method", "logistics"},
		FieldRegion:        {"region", "location", "country", "origin"},
	}
}

// NormalizeHeader lower-cases and trims a header or row key.
func NormalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// Extend returns a copy of s with extra synonyms appended. Keys of extra are
// canonical field names; values are normalized before use.
func (s Synonyms) Extend(extra map[string][]string) (Synonyms, error) {
	out := make(Synonyms, len(s))
	for f, names := range s {
		out[f] = append([]string(nil), names...)
	}

	known := make(map[Field]bool, len(Fields))
	for _, f := range Fields {
		known[f] = true
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		f := Field(NormalizeHeader(k))
		if !known[f] {
			return nil, eris.Errorf("ingest: unknown field %q in synonyms", k)
		}
		for _, name := range extra[k] {
			n := NormalizeHeader(name)
			if n == "" || contains(out[f], n) {
				continue
			}
			out[f] = append(out[f], n)
		}
	}
	return out, out.Validate()
}

// Validate reports an error when a synonym is claimed by more than one field,
// since resolution of such a header would be ambiguous.
func (s Synonyms) Validate() error {
	owner := make(map[string]Field)
	for _, f := range Fields {
		for _, name := range s[f] {
			n := NormalizeHeader(name)
			if prev, ok := owner[n]; ok && prev != f {
				return eris.Errorf("ingest: synonym %q maps to both %s and %s", n, prev, f)
			}
			owner[n] = f
		}
	}
	return nil
}

// Mapping records which header resolved to each canonical field. Fields
// without an entry are unmatched.
type Mapping map[Field]string

// Column returns the normalized header mapped to f.
func (m Mapping) Column(f Field) (string, bool) {
	col, ok := m[f]
	return col, ok
}

// Resolve maps headers onto canonical fields. For each field it picks the
// first header, in header order, that appears in the field's synonym set.
// Resolve has no side effects.
func Resolve(headers []string, syn Synonyms) Mapping {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = NormalizeHeader(h)
	}

	m := make(Mapping, len(Fields))
	for _, f := range Fields {
		for _, h := range normalized {
			if contains(syn[f], h) {
				m[f] = h
				break
			}
		}
	}
	return m
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
