package bed

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, b *Bed) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bed, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Bed, int, error)
	ListByUnit(ctx context.Context, unitID uuid.UUID) ([]*Bed, error)

	// UpdateStatus moves a bed from -> to only when the bed still holds the
	// from status; it reports whether the row was claimed. This is the
	// optimistic check that serializes competing mutations per bed.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error)

	// FindCandidates returns active available beds in the unit holding all
	// required capability tags, ordered longest-idle-first.
	FindCandidates(ctx context.Context, unitID uuid.UUID, requiredCapabilities []string) ([]*Bed, error)

	CountByUnitStatus(ctx context.Context, unitID uuid.UUID) (map[Status]int, error)

	AddStatusChange(ctx context.Context, sc *StatusChange) error
	ListStatusHistory(ctx context.Context, bedID uuid.UUID, limit, offset int) ([]*StatusChange, int, error)
}
