package forecast

import (
	"time"

	"github.com/google/uuid"
)

// Forecast is one predicted availability point for a unit on a target date.
// A regeneration supersedes the previous run for the same unit; superseded
// rows stay behind for backtesting.
type Forecast struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	FacilityID         string    `db:"facility_id" json:"facility_id"`
	UnitID             uuid.UUID `db:"unit_id" json:"unit_id"`
	TargetDate         time.Time `db:"target_date" json:"target_date"`
	PredictedAvailable float64   `db:"predicted_available" json:"predicted_available"`
	ConfidenceLow      float64   `db:"confidence_low" json:"confidence_low"`
	ConfidenceHigh     float64   `db:"confidence_high" json:"confidence_high"`
	ModelVersion       string    `db:"model_version" json:"model_version"`
	Degraded           bool      `db:"degraded" json:"degraded"`
	Superseded         bool      `db:"superseded" json:"superseded"`
	GeneratedAt        time.Time `db:"generated_at" json:"generated_at"`
}

// ScheduledArrival is a known future admission, counted against predicted
// availability until it is fulfilled by a real assignment or expires.
type ScheduledArrival struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	FacilityID           string     `db:"facility_id" json:"facility_id"`
	UnitID               uuid.UUID  `db:"unit_id" json:"unit_id"`
	PatientID            string     `db:"patient_id" json:"patient_id"`
	ExpectedDate         time.Time  `db:"expected_date" json:"expected_date"`
	RequiredCapabilities []string   `db:"required_capabilities" json:"required_capabilities"`
	Fulfilled            bool       `db:"fulfilled" json:"fulfilled"`
	FulfilledAt          *time.Time `db:"fulfilled_at" json:"fulfilled_at,omitempty"`
	Expired              bool       `db:"expired" json:"expired"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
}
