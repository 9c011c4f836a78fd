package los

import (
	"time"

	"github.com/google/uuid"
)

// Benchmark holds the multiplicative length-of-stay model for one diagnosis
// class on one unit. Factors default to 1.0 when a patient attribute has no
// entry, so a sparse benchmark still produces an estimate.
type Benchmark struct {
	ID                uuid.UUID          `db:"id" json:"id"`
	FacilityID        string             `db:"facility_id" json:"facility_id"`
	UnitID            uuid.UUID          `db:"unit_id" json:"unit_id"`
	DiagnosisClass    string             `db:"diagnosis_class" json:"diagnosis_class"`
	BaselineHours     float64            `db:"baseline_hours" json:"baseline_hours"`
	AgeFactors        map[string]float64 `db:"age_factors" json:"age_factors"`
	AcuityFactors     map[string]float64 `db:"acuity_factors" json:"acuity_factors"`
	ComorbidityFactor float64            `db:"comorbidity_factor" json:"comorbidity_factor"`
	ModelVersion      string             `db:"model_version" json:"model_version"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updated_at"`
}

// Estimate sources, ordered from most to least specific.
const (
	SourceBenchmark   = "benchmark"
	SourceUnitDefault = "unit-default"
)

// Estimate is the predicted remaining stay for an active assignment.
type Estimate struct {
	AssignmentID        uuid.UUID `json:"assignment_id"`
	RemainingHours      float64   `json:"remaining_hours"`
	ExpectedDischargeAt time.Time `json:"expected_discharge_at"`
	Confidence          float64   `json:"confidence"`
	Source              string    `json:"source"`
	ModelVersion        string    `json:"model_version,omitempty"`
}

func factor(m map[string]float64, key string) float64 {
	if f, ok := m[key]; ok && f > 0 {
		return f
	}
	return 1.0
}

// TotalHours evaluates the model for the given patient attributes.
func (b *Benchmark) TotalHours(ageBand, acuity string, comorbidityCount int) float64 {
	total := b.BaselineHours * factor(b.AgeFactors, ageBand) * factor(b.AcuityFactors, acuity)
	cf := b.ComorbidityFactor
	if cf <= 0 {
		cf = 1.0
	}
	for i := 0; i < comorbidityCount; i++ {
		total *= cf
	}
	return total
}
