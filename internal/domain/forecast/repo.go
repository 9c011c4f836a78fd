package forecast

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// InSnapshot runs fn inside one repeatable-read transaction so every
	// forecast input (bed counts, discharge estimates, pending arrivals)
	// comes from a single point-in-time view.
	InSnapshot(ctx context.Context, fn func(ctx context.Context) error) error

	// SupersedeAndInsert atomically marks the unit's current forecasts
	// superseded and writes the replacement run. Readers never observe a
	// unit with no current forecast mid-regeneration.
	SupersedeAndInsert(ctx context.Context, unitID uuid.UUID, fcs []*Forecast) error

	GetCurrentByUnit(ctx context.Context, unitID uuid.UUID) ([]*Forecast, error)
	// ListSupersededForDate returns past runs whose target date matches, for
	// backtest scoring.
	ListForDate(ctx context.Context, unitID uuid.UUID, targetDate time.Time) ([]*Forecast, error)

	CreateArrival(ctx context.Context, a *ScheduledArrival) error
	GetArrival(ctx context.Context, id uuid.UUID) (*ScheduledArrival, error)
	ListPendingArrivals(ctx context.Context, unitID uuid.UUID, by time.Time) ([]*ScheduledArrival, error)
	// MarkFulfilled flags the earliest pending arrival for the patient on
	// the unit; it reports whether one matched.
	MarkFulfilled(ctx context.Context, unitID uuid.UUID, patientID string, at time.Time) (bool, error)
	CancelArrival(ctx context.Context, id uuid.UUID) error
	// ExpireArrivals drops pending arrivals whose expected date passed
	// without an admission; it reports how many were expired.
	ExpireArrivals(ctx context.Context, before time.Time) (int, error)
}
