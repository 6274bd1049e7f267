// Package factors holds the emission factor catalog used by the calculator.
package factors

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/scopezero/internal/model"
)

const (
	defaultSource = "Ecoinvent 3.8 / DEPA"
	defaultYear   = 2024
)

type key struct {
	category model.FactorCategory
	name     string
}

// Catalog is an immutable (category, name) -> factor table. Names match
// case-sensitively.
type Catalog struct {
	byKey   map[key]model.EmissionFactor
	ordered []model.EmissionFactor
}

// New builds a catalog from the given factors. A later duplicate of the same
// (category, name) replaces the earlier one.
func New(fs []model.EmissionFactor) (*Catalog, error) {
	c := &Catalog{byKey: make(map[key]model.EmissionFactor, len(fs))}
	pos := make(map[key]int, len(fs))
	for _, f := range fs {
		if f.Category != model.CategoryMaterial && f.Category != model.CategoryTransport {
			return nil, eris.Errorf("factors: unknown category %q for %q", f.Category, f.Name)
		}
		if f.Name == "" {
			return nil, eris.Errorf("factors: empty %s factor name", f.Category)
		}
		if f.Factor < 0 {
			return nil, eris.Errorf("factors: negative factor for %s %q", f.Category, f.Name)
		}
		k := key{f.Category, f.Name}
		if i, dup := pos[k]; dup {
			c.ordered[i] = f
		} else {
			pos[k] = len(c.ordered)
			c.ordered = append(c.ordered, f)
		}
		c.byKey[k] = f
	}
	return c, nil
}

// Default returns the built-in seed catalog.
func Default() *Catalog {
	c, err := New(Seed())
	if err != nil {
		panic(err)
	}
	return c
}

// Seed returns the built-in material and transport factors.
func Seed() []model.EmissionFactor {
	materials := []struct {
		name   string
		factor float64
	}{
		{"Steel", 1.85},
		{"Aluminum", 12.5},
		{"Plastic", 6.0},
		{"Cotton", 8.2},
		{"Industrial Parts", 2.4},
		{"Packaging", 0.8},
		{"Wood", 0.5},
		{"Glass", 1.2},
		{"Copper", 3.7},
	}
	transport := []struct {
		name   string
		factor float64
	}{
		{"Heavy Duty Truck", 0.1},
		{"Cargo Ship", 0.015},
		{"Ocean Vessel", 0.012},
		{"Rail Freight", 0.03},
		{"Air Cargo", 0.6},
		{"Express Air", 0.8},
		{"Intermodal Rail", 0.025},
	}

	out := make([]model.EmissionFactor, 0, len(materials)+len(transport))
	for _, m := range materials {
		out = append(out, model.EmissionFactor{
			Category: model.CategoryMaterial, Name: m.name, Factor: m.factor,
			Source: defaultSource, Year: defaultYear,
		})
	}
	for _, t := range transport {
		out = append(out, model.EmissionFactor{
			Category: model.CategoryTransport, Name: t.name, Factor: t.factor,
			Source: defaultSource, Year: defaultYear,
		})
	}
	return out
}

// Lookup returns the factor for (category, name) and whether it exists.
func (c *Catalog) Lookup(category model.FactorCategory, name string) (float64, bool) {
	f, ok := c.byKey[key{category, name}]
	return f.Factor, ok
}

// List returns the factors of a category in insertion order.
func (c *Catalog) List(category model.FactorCategory) []model.EmissionFactor {
	var out []model.EmissionFactor
	for _, f := range c.ordered {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}

// Count returns the number of factors in a category.
func (c *Catalog) Count(category model.FactorCategory) int {
	return len(c.List(category))
}

// fileFormat is the on-disk YAML layout of a catalog file.
type fileFormat struct {
	Materials []model.EmissionFactor `yaml:"materials"`
	Transport []model.EmissionFactor `yaml:"transport"`
}

// LoadFile reads a YAML catalog file. Entries without a source or year get
// the seed's metadata.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "factors: read file %s", path)
	}

	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, eris.Wrap(err, "factors: parse file")
	}

	var all []model.EmissionFactor
	for _, f := range ff.Materials {
		f.Category = model.CategoryMaterial
		all = append(all, withMetadata(f))
	}
	for _, f := range ff.Transport {
		f.Category = model.CategoryTransport
		all = append(all, withMetadata(f))
	}
	if len(all) == 0 {
		return nil, eris.Errorf("factors: %s defines no factors", path)
	}
	return New(all)
}

// Load returns the catalog from path, or the built-in seed when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

func withMetadata(f model.EmissionFactor) model.EmissionFactor {
	if f.Source == "" {
		f.Source = defaultSource
	}
	if f.Year == 0 {
		f.Year = defaultYear
	}
	return f
}
