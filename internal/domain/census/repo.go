package census

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// InSnapshot runs fn inside one repeatable-read transaction. The bed
	// counts and movement deltas of a roll-up all come from a single
	// point-in-time view of the store.
	InSnapshot(ctx context.Context, fn func(ctx context.Context) error) error

	// Insert writes a snapshot unless one already exists for the same
	// (facility, unit, as_of); it reports whether the row was written.
	// Recomputing for the same instant never duplicates records.
	Insert(ctx context.Context, s *Snapshot) (bool, error)

	GetByUnitAsOf(ctx context.Context, unitID uuid.UUID, asOf time.Time) (*Snapshot, error)
	GetLatestBefore(ctx context.Context, unitID uuid.UUID, before time.Time) (*Snapshot, error)
	ListByUnit(ctx context.Context, unitID uuid.UUID, limit, offset int) ([]*Snapshot, int, error)

	BackfillVariance(ctx context.Context, id uuid.UUID, predicted, variance float64, modelVersion string) error
}
