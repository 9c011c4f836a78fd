package census

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bedcast/bedcast/internal/domain/assignment"
	"github.com/bedcast/bedcast/internal/domain/bed"
	"github.com/bedcast/bedcast/internal/domain/unit"
)

var ErrSnapshotNotFound = errors.New("census snapshot not found")

// BedCounter exposes per-status bed counts from the registry.
type BedCounter interface {
	CountByUnitStatus(ctx context.Context, unitID uuid.UUID) (map[bed.Status]int, error)
}

// MovementSource exposes assignment movement deltas.
type MovementSource interface {
	CountMovements(ctx context.Context, unitID uuid.UUID, since, until time.Time) (assignment.MovementCounts, error)
}

// UnitLister enumerates active units for the scheduled roll-up.
type UnitLister interface {
	ListActiveUnits(ctx context.Context) ([]*unit.Unit, error)
}

type Service struct {
	repo      Repository
	beds      BedCounter
	movements MovementSource
	units     UnitLister
	log       zerolog.Logger
}

func NewService(repo Repository, beds BedCounter, movements MovementSource, units UnitLister, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		beds:      beds,
		movements: movements,
		units:     units,
		log:       log.With().Str("component", "census").Logger(),
	}
}

// Snapshot computes the point-in-time roll-up for a unit. Idempotent: a
// second call for an already-snapshotted (unit, asOf) returns the stored
// record unchanged and writes nothing.
func (s *Service) Snapshot(ctx context.Context, unitID uuid.UUID, asOf time.Time) (*Snapshot, error) {
	asOf = asOf.UTC().Truncate(time.Minute)

	if existing, err := s.repo.GetByUnitAsOf(ctx, unitID, asOf); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	// Counts and movement deltas are read under one snapshot; a discharge
	// committing between the two reads cannot skew the record.
	var counts map[bed.Status]int
	var mov assignment.MovementCounts
	err := s.repo.InSnapshot(ctx, func(ctx context.Context) error {
		var err error
		counts, err = s.beds.CountByUnitStatus(ctx, unitID)
		if err != nil {
			return err
		}

		since := time.Time{}
		if prior, err := s.repo.GetLatestBefore(ctx, unitID, asOf); err != nil {
			return err
		} else if prior != nil {
			since = prior.AsOf
		}

		mov, err = s.movements.CountMovements(ctx, unitID, since, asOf)
		return err
	})
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		UnitID:          unitID,
		AsOf:            asOf,
		Occupied:        counts[bed.StatusOccupied],
		Available:       counts[bed.StatusAvailable],
		Dirty:           counts[bed.StatusDirty],
		Blocked:         counts[bed.StatusBlocked],
		Maintenance:     counts[bed.StatusMaintenance],
		AdmissionsSince: mov.Admissions,
		DischargesSince: mov.Discharges,
		TransfersSince:  mov.Transfers,
	}

	inserted, err := s.repo.Insert(ctx, snap)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// A concurrent caller snapshotted the same instant first; theirs is
		// authoritative.
		return s.repo.GetByUnitAsOf(ctx, unitID, asOf)
	}
	return snap, nil
}

// RecordScheduledSnapshot runs the roll-up for every active unit. Invoked by
// the scheduler at the configured clock time; safe to re-run.
func (s *Service) RecordScheduledSnapshot(ctx context.Context, asOf time.Time) error {
	units, err := s.units.ListActiveUnits(ctx)
	if err != nil {
		return err
	}
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.Snapshot(ctx, u.ID, asOf); err != nil {
			s.log.Error().Err(err).Str("unit_id", u.ID.String()).Msg("scheduled snapshot failed")
			continue
		}
	}
	return nil
}

// GetCensus returns the stored snapshot at asOf, or computes one on demand
// when none exists.
func (s *Service) GetCensus(ctx context.Context, unitID uuid.UUID, asOf time.Time) (*Snapshot, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	return s.Snapshot(ctx, unitID, asOf)
}

func (s *Service) ListSnapshots(ctx context.Context, unitID uuid.UUID, limit, offset int) ([]*Snapshot, int, error) {
	return s.repo.ListByUnit(ctx, unitID, limit, offset)
}

// LatestSnapshotTime reports when the unit was last snapshotted. The
// forecaster uses this for input staleness checks.
func (s *Service) LatestSnapshotTime(ctx context.Context, unitID uuid.UUID) (time.Time, error) {
	snap, err := s.repo.GetLatestBefore(ctx, unitID, time.Now().UTC().Add(time.Minute))
	if err != nil {
		return time.Time{}, err
	}
	if snap == nil {
		return time.Time{}, nil
	}
	return snap.AsOf, nil
}

// BackfillVariance scores a past forecast against the actual snapshot taken
// on the forecast's target date. Called from forecast backtesting.
func (s *Service) BackfillVariance(ctx context.Context, unitID uuid.UUID, date time.Time, predicted float64, modelVersion string) error {
	snap, err := s.repo.GetLatestBefore(ctx, unitID, date.Add(24*time.Hour))
	if err != nil {
		return err
	}
	if snap == nil || snap.AsOf.Before(date) {
		return ErrSnapshotNotFound
	}
	variance := float64(snap.Available) - predicted
	return s.repo.BackfillVariance(ctx, snap.ID, predicted, variance, modelVersion)
}
