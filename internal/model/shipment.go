// Package model defines the shared data types of the carbon accounting pipeline.
package model

import "time"

// Record defaults applied by the normalizer when a column is unmapped or blank.
const (
	DefaultSupplier      = "Unknown Supplier"
	DefaultMaterial      = "Other"
	DefaultTransportMode = "Heavy Duty Truck"
	DefaultRegion        = "Global"
)

// InvoiceDateLayout is the layout used for defaulted invoice dates.
const InvoiceDateLayout = "2006-01-02"

// Dataset groups the shipment records created by one ingestion call.
type Dataset struct {
	ID              string    `json:"id"`
	Filename        string    `json:"filename"`
	UploadTimestamp time.Time `json:"upload_timestamp"`
	RecordCount     int       `json:"record_count"`
}

// ShipmentRecord is one normalized input row. It is immutable once created.
type ShipmentRecord struct {
	InvoiceID      string  `json:"invoice_id" validate:"required"`
	Supplier       string  `json:"supplier" validate:"required"`
	SupplierRegion string  `json:"supplier_region" validate:"required"`
	Material       string  `json:"material" validate:"required"`
	QuantityKg     float64 `json:"quantity_kg" validate:"finite,gt=0"`
	TransportMode  string  `json:"transport_mode" validate:"required"`
	DistanceKm     float64 `json:"distance_km" validate:"finite,gte=0"`
	InvoiceDate    string  `json:"invoice_date" validate:"required"`
}

// Emission is the carbon footprint derived from a single ShipmentRecord, in kg CO2e.
type Emission struct {
	MaterialEmission  float64 `json:"material_emission"`
	TransportEmission float64 `json:"transport_emission"`
	TotalEmission     float64 `json:"total_emission"`
}

// Shipment is a persisted record paired with its computed emission.
type Shipment struct {
	ID        string         `json:"id"`
	DatasetID string         `json:"dataset_id"`
	Record    ShipmentRecord `json:"record"`
	Emission  Emission       `json:"emission"`
}
