package census

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot maps to the census_snapshot table. Immutable once written except
// for the retrospective variance backfill; never deleted. The series is the
// historical input for LOS defaults and forecast backtesting.
type Snapshot struct {
	ID              uuid.UUID `db:"id" json:"id"`
	FacilityID      string    `db:"facility_id" json:"facility_id"`
	UnitID          uuid.UUID `db:"unit_id" json:"unit_id"`
	AsOf            time.Time `db:"as_of" json:"as_of"`
	Occupied        int       `db:"occupied" json:"occupied"`
	Available       int       `db:"available" json:"available"`
	Dirty           int       `db:"dirty" json:"dirty"`
	Blocked         int       `db:"blocked" json:"blocked"`
	Maintenance     int       `db:"maintenance" json:"maintenance"`
	AdmissionsSince int       `db:"admissions_since" json:"admissions_since"`
	DischargesSince int       `db:"discharges_since" json:"discharges_since"`
	TransfersSince  int       `db:"transfers_since" json:"transfers_since"`

	// Variance backfill, written once the forecast for this date can be
	// scored against the actual counts.
	PredictedAvailable *float64 `db:"predicted_available" json:"predicted_available,omitempty"`
	Variance           *float64 `db:"variance" json:"variance,omitempty"`
	ModelVersion       *string  `db:"model_version" json:"model_version,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
