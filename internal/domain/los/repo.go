package los

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Upsert writes the benchmark for its (unit, diagnosis class), replacing
	// any previous version.
	Upsert(ctx context.Context, b *Benchmark) error

	GetByClassUnit(ctx context.Context, unitID uuid.UUID, diagnosisClass string) (*Benchmark, error)
	ListByUnit(ctx context.Context, unitID uuid.UUID) ([]*Benchmark, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
