package assignment

import (
	"time"

	"github.com/google/uuid"
)

// Reason records why an assignment was opened.
type Reason string

const (
	ReasonAdmission      Reason = "admission"
	ReasonTransferIn     Reason = "transfer-in"
	ReasonPatientRequest Reason = "patient-request"
)

// ValidReason reports whether r is a known assignment reason.
func ValidReason(r Reason) bool {
	switch r {
	case ReasonAdmission, ReasonTransferIn, ReasonPatientRequest:
		return true
	}
	return false
}

// Dispositions for closing an assignment. RebookPreauthorized skips the
// cleaning step and releases the bed straight to available; everything else
// sends the bed to dirty.
const (
	DispositionDischargeHome       = "discharge-home"
	DispositionDischargeFacility   = "discharge-facility"
	DispositionTransferOut         = "transfer-out"
	DispositionExpired             = "expired"
	DispositionRebookPreauthorized = "rebook-preauthorized"
)

// Assignment binds one patient to one bed over an interval. The patient id
// is an opaque external identifier. Closing (setting DischargedAt) is
// terminal; a closed assignment is immutable.
type Assignment struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	FacilityID           string     `db:"facility_id" json:"facility_id"`
	PatientID            string     `db:"patient_id" json:"patient_id"`
	BedID                uuid.UUID  `db:"bed_id" json:"bed_id"`
	UnitID               uuid.UUID  `db:"unit_id" json:"unit_id"`
	Reason               Reason     `db:"reason" json:"reason"`
	Acuity               string     `db:"acuity" json:"acuity"`
	DiagnosisClass       string     `db:"diagnosis_class" json:"diagnosis_class,omitempty"`
	AgeBand              string     `db:"age_band" json:"age_band,omitempty"`
	ComorbidityCount     int        `db:"comorbidity_count" json:"comorbidity_count"`
	RequiredCapabilities []string   `db:"required_capabilities" json:"required_capabilities,omitempty"`
	AdmittedAt           time.Time  `db:"admitted_at" json:"admitted_at"`
	ExpectedDischargeAt  *time.Time `db:"expected_discharge_at" json:"expected_discharge_at,omitempty"`
	DischargedAt         *time.Time `db:"discharged_at" json:"discharged_at,omitempty"`
	Disposition          *string    `db:"disposition" json:"disposition,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// Active reports whether the assignment is still open.
func (a *Assignment) Active() bool {
	return a.DischargedAt == nil
}
