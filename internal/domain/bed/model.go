package bed

import (
	"time"

	"github.com/google/uuid"
)

// Status is the single status a bed holds at any instant.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusOccupied    Status = "occupied"
	StatusDirty       Status = "dirty"
	StatusBlocked     Status = "blocked"
	StatusMaintenance Status = "maintenance"
)

// ValidStatus reports whether s is a known bed status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusAvailable, StatusOccupied, StatusDirty, StatusBlocked, StatusMaintenance:
		return true
	}
	return false
}

// Allowed status graph:
//
//	available -> occupied -> dirty -> available
//	any -> blocked | maintenance
//	blocked | maintenance -> available
var allowedTransitions = map[Status]map[Status]bool{
	StatusAvailable:   {StatusOccupied: true, StatusBlocked: true, StatusMaintenance: true},
	StatusOccupied:    {StatusDirty: true, StatusBlocked: true, StatusMaintenance: true},
	StatusDirty:       {StatusAvailable: true, StatusBlocked: true, StatusMaintenance: true},
	StatusBlocked:     {StatusAvailable: true, StatusMaintenance: true},
	StatusMaintenance: {StatusAvailable: true, StatusBlocked: true},
}

// CanTransition reports whether from -> to is in the allowed status graph.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// Bed maps to the bed table. A bed has exactly one owning unit and exactly
// one status at any instant. Beds are deactivated, never deleted.
type Bed struct {
	ID              uuid.UUID `db:"id" json:"id"`
	FacilityID      string    `db:"facility_id" json:"facility_id"`
	UnitID          uuid.UUID `db:"unit_id" json:"unit_id"`
	Label           string    `db:"label" json:"label"`
	Capabilities    []string  `db:"capabilities" json:"capabilities"`
	Status          Status    `db:"status" json:"status"`
	StatusChangedAt time.Time `db:"status_changed_at" json:"status_changed_at"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// HasCapabilities reports whether the bed satisfies all required capability
// tags. A bed may satisfy several tags at once.
func (b *Bed) HasCapabilities(required []string) bool {
	for _, req := range required {
		found := false
		for _, cap := range b.Capabilities {
			if cap == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// StatusChange maps to the bed_status_history table. One row per transition;
// the series drives longest-idle ordering and census deltas.
type StatusChange struct {
	ID         uuid.UUID `db:"id" json:"id"`
	BedID      uuid.UUID `db:"bed_id" json:"bed_id"`
	FromStatus Status    `db:"from_status" json:"from_status"`
	ToStatus   Status    `db:"to_status" json:"to_status"`
	Reason     string    `db:"reason" json:"reason,omitempty"`
	ChangedAt  time.Time `db:"changed_at" json:"changed_at"`
}
