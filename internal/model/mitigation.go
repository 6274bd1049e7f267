package model

// Rating grades feasibility and confidence of a mitigation.
type Rating string

const (
	RatingHigh   Rating = "High"
	RatingMedium Rating = "Medium"
	RatingLow    Rating = "Low"
)

// Mitigation is a recommended corrective action derived from aggregate
// emissions. The full set is replaced on every ingestion.
type Mitigation struct {
	TriggerReason       string  `json:"trigger_reason"`
	Action              string  `json:"action"`
	ReductionAbsolute   float64 `json:"reduction_absolute"`
	ReductionPercentage float64 `json:"reduction_percentage"`
	Feasibility         Rating  `json:"feasibility"`
	Confidence          Rating  `json:"confidence"`
	PriorityRank        int     `json:"priority_rank"`
	CostEstimate        string  `json:"cost_estimate"`
	SavingsEstimate     string  `json:"savings_estimate"`
}
