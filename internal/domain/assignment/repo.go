package assignment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MovementCounts aggregates patient movement inside a window, feeding the
// census deltas.
type MovementCounts struct {
	Admissions int
	Discharges int
	Transfers  int
}

type Repository interface {
	// OpenWithBedClaim atomically claims the bed (available -> occupied) and
	// inserts the assignment in one transaction. It reports false without
	// error when another caller claimed the bed first; the service retries
	// candidate selection in that case. No observer ever sees an occupied
	// bed without its assignment or vice versa.
	OpenWithBedClaim(ctx context.Context, a *Assignment) (bool, error)

	// CloseWithBedRelease atomically closes the assignment and moves its bed
	// occupied -> bedStatus in one transaction. Closing is terminal. It
	// reports false when the bed was no longer occupied (moved to blocked or
	// maintenance mid-stay by a manual override); the assignment still
	// closes, but no bed transition happened.
	CloseWithBedRelease(ctx context.Context, id uuid.UUID, at time.Time, disposition string, bedStatus string) (bool, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Assignment, error)
	GetActiveByPatient(ctx context.Context, patientID string) (*Assignment, error)
	GetActiveByBed(ctx context.Context, bedID uuid.UUID) (*Assignment, error)
	ListActiveByUnit(ctx context.Context, unitID uuid.UUID) ([]*Assignment, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Assignment, int, error)
	ListByBed(ctx context.Context, bedID uuid.UUID, limit, offset int) ([]*Assignment, int, error)

	SetExpectedDischarge(ctx context.Context, id uuid.UUID, at time.Time) error

	// CountMovements counts assignments opened (admissions, transfers-in)
	// and closed (discharges) in (since, until] for the unit.
	CountMovements(ctx context.Context, unitID uuid.UUID, since, until time.Time) (MovementCounts, error)
}
