package unit

import (
	"time"

	"github.com/google/uuid"
)

// Unit maps to the care_unit table. Units are created at configuration time
// and mutated only by administrative reconfiguration; they are deactivated,
// never deleted, while beds still reference them.
type Unit struct {
	ID               uuid.UUID `db:"id" json:"id"`
	FacilityID       string    `db:"facility_id" json:"facility_id"`
	Name             string    `db:"name" json:"name"`
	AcceptedAcuities []string  `db:"accepted_acuities" json:"accepted_acuities"`
	TargetCensus     int       `db:"target_census" json:"target_census"`
	MaxCensus        int       `db:"max_census" json:"max_census"`
	NurseRatio       float64   `db:"nurse_ratio" json:"nurse_ratio"`
	DefaultLOSHours  float64   `db:"default_los_hours" json:"default_los_hours"`
	Active           bool      `db:"active" json:"active"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// AcceptsAcuity reports whether the unit admits patients of the given acuity.
func (u *Unit) AcceptsAcuity(acuity string) bool {
	for _, a := range u.AcceptedAcuities {
		if a == acuity {
			return true
		}
	}
	return false
}
