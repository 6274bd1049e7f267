package model

// FactorCategory distinguishes material factors from transport factors.
type FactorCategory string

const (
	CategoryMaterial  FactorCategory = "material"
	CategoryTransport FactorCategory = "transport"
)

// EmissionFactor converts a physical quantity into kg CO2e. Material factors
// are per kg; transport factors are per kg·km.
type EmissionFactor struct {
	Category FactorCategory `json:"category" yaml:"-"`
	Name     string         `json:"name" yaml:"name"`
	Factor   float64        `json:"factor" yaml:"factor"`
	Source   string         `json:"source" yaml:"source"`
	Year     int            `json:"year" yaml:"year"`
}
