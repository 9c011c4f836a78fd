package forecast

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bedcast/bedcast/internal/domain/bed"
	"github.com/bedcast/bedcast/internal/domain/unit"
)

var (
	// ErrStaleForecastInput flags census or LOS inputs that are missing or
	// older than the configured freshness window. The forecast still runs;
	// its band is widened and the rows are marked degraded.
	ErrStaleForecastInput = errors.New("forecast inputs are stale")

	ErrNoForecast      = errors.New("no current forecast for unit")
	ErrArrivalNotFound = errors.New("scheduled arrival not found")
)

const modelVersion = "dow-heuristic-v1"

// degradedBandFactor widens the confidence band when inputs are stale.
const degradedBandFactor = 2.0

// BedCounter supplies the live availability baseline.
type BedCounter interface {
	CountByUnitStatus(ctx context.Context, unitID uuid.UUID) (map[bed.Status]int, error)
}

// DischargeEstimator predicts how many active stays end by a given time.
type DischargeEstimator interface {
	ExpectedDischargesBy(ctx context.Context, unitID uuid.UUID, by time.Time) (int, error)
}

// CensusSource reports snapshot freshness and accepts variance backfills.
type CensusSource interface {
	LatestSnapshotTime(ctx context.Context, unitID uuid.UUID) (time.Time, error)
	BackfillVariance(ctx context.Context, unitID uuid.UUID, date time.Time, predicted float64, modelVersion string) error
}

type UnitLister interface {
	ListActiveUnits(ctx context.Context) ([]*unit.Unit, error)
}

// Params tunes the forecaster. DOWAdjustments is indexed by time.Weekday
// (Sunday first).
type Params struct {
	HorizonDays    int
	BandBase       float64
	BandSlope      float64
	MaxInputAge    time.Duration
	DOWAdjustments [7]float64
}

type Service struct {
	repo       Repository
	beds       BedCounter
	discharges DischargeEstimator
	census     CensusSource
	units      UnitLister
	params     Params
	log        zerolog.Logger
	now        func() time.Time
}

func NewService(repo Repository, beds BedCounter, discharges DischargeEstimator, census CensusSource, units UnitLister, params Params, log zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		beds:       beds,
		discharges: discharges,
		census:     census,
		units:      units,
		params:     params,
		log:        log.With().Str("component", "forecast").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// GenerateForUnit recomputes the unit's availability curve over the full
// horizon and atomically replaces the current forecast run.
func (s *Service) GenerateForUnit(ctx context.Context, unitID uuid.UUID) ([]*Forecast, error) {
	now := s.now()
	today := now.Truncate(24 * time.Hour)

	// Every input is read under one snapshot; a discharge or arrival
	// committing mid-generation cannot skew part of the horizon.
	var fcs []*Forecast
	err := s.repo.InSnapshot(ctx, func(ctx context.Context) error {
		counts, err := s.beds.CountByUnitStatus(ctx, unitID)
		if err != nil {
			return err
		}
		available := float64(counts[bed.StatusAvailable])

		degraded := s.inputsStale(ctx, unitID, now)

		fcs = make([]*Forecast, 0, s.params.HorizonDays)
		for d := 1; d <= s.params.HorizonDays; d++ {
			targetDate := today.AddDate(0, 0, d)
			endOfDay := targetDate.Add(24*time.Hour - time.Nanosecond)

			discharges, err := s.discharges.ExpectedDischargesBy(ctx, unitID, endOfDay)
			if err != nil {
				return err
			}
			pending, err := s.repo.ListPendingArrivals(ctx, unitID, endOfDay)
			if err != nil {
				return err
			}

			predicted := available + float64(discharges) - float64(len(pending)) + s.params.DOWAdjustments[targetDate.Weekday()]
			if predicted < 0 {
				predicted = 0
			}

			// Band width grows linearly with lead time, so uncertainty is
			// non-decreasing across the horizon.
			width := s.params.BandBase + s.params.BandSlope*float64(d)
			if degraded {
				width *= degradedBandFactor
			}
			low := predicted - width
			if low < 0 {
				low = 0
			}

			fcs = append(fcs, &Forecast{
				UnitID:             unitID,
				TargetDate:         targetDate,
				PredictedAvailable: predicted,
				ConfidenceLow:      low,
				ConfidenceHigh:     predicted + width,
				ModelVersion:       modelVersion,
				Degraded:           degraded,
				GeneratedAt:        now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.SupersedeAndInsert(ctx, unitID, fcs); err != nil {
		return nil, err
	}
	return fcs, nil
}

func (s *Service) inputsStale(ctx context.Context, unitID uuid.UUID, now time.Time) bool {
	latest, err := s.census.LatestSnapshotTime(ctx, unitID)
	if err != nil {
		s.log.Warn().Err(err).Str("unit_id", unitID.String()).Msg("census freshness check failed")
		return true
	}
	if latest.IsZero() || now.Sub(latest) > s.params.MaxInputAge {
		s.log.Warn().Err(ErrStaleForecastInput).
			Str("unit_id", unitID.String()).
			Time("latest_snapshot", latest).
			Msg("generating degraded forecast")
		return true
	}
	return false
}

// GenerateAll regenerates forecasts for every active unit. Each unit commits
// independently; a failure on one unit does not abandon the rest.
func (s *Service) GenerateAll(ctx context.Context) error {
	units, err := s.units.ListActiveUnits(ctx)
	if err != nil {
		return err
	}
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.GenerateForUnit(ctx, u.ID); err != nil {
			s.log.Error().Err(err).Str("unit_id", u.ID.String()).Msg("forecast generation failed")
			continue
		}
	}
	return nil
}

// GetForecast returns the current run, trimmed to the first days points. A
// unit that has never been forecast gets one generated on demand.
func (s *Service) GetForecast(ctx context.Context, unitID uuid.UUID, days int) ([]*Forecast, error) {
	if days <= 0 || days > s.params.HorizonDays {
		days = s.params.HorizonDays
	}
	fcs, err := s.repo.GetCurrentByUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if len(fcs) == 0 {
		fcs, err = s.GenerateForUnit(ctx, unitID)
		if err != nil {
			return nil, err
		}
	}
	if len(fcs) > days {
		fcs = fcs[:days]
	}
	return fcs, nil
}

// Backtest scores the most recent forecast made for a past date against the
// census actually recorded that day, writing the variance onto the snapshot.
func (s *Service) Backtest(ctx context.Context, unitID uuid.UUID, targetDate time.Time) (*Forecast, error) {
	targetDate = targetDate.UTC().Truncate(24 * time.Hour)
	runs, err := s.repo.ListForDate(ctx, unitID, targetDate)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNoForecast
	}
	latest := runs[len(runs)-1]
	if err := s.census.BackfillVariance(ctx, unitID, targetDate, latest.PredictedAvailable, latest.ModelVersion); err != nil {
		return nil, err
	}
	return latest, nil
}

func (s *Service) ScheduleArrival(ctx context.Context, a *ScheduledArrival) error {
	if a.PatientID == "" {
		return errors.New("patient_id is required")
	}
	if a.ExpectedDate.Before(s.now().Truncate(24 * time.Hour)) {
		return errors.New("expected_date must not be in the past")
	}
	return s.repo.CreateArrival(ctx, a)
}

func (s *Service) ListArrivals(ctx context.Context, unitID uuid.UUID) ([]*ScheduledArrival, error) {
	horizon := s.now().AddDate(0, 0, s.params.HorizonDays)
	return s.repo.ListPendingArrivals(ctx, unitID, horizon)
}

func (s *Service) CancelArrival(ctx context.Context, id uuid.UUID) error {
	a, err := s.repo.GetArrival(ctx, id)
	if err != nil {
		return err
	}
	if a == nil {
		return ErrArrivalNotFound
	}
	return s.repo.CancelArrival(ctx, id)
}

// MarkFulfilled consumes the patient's earliest pending arrival on the unit
// when an admission lands. No matching arrival is not an error: walk-in
// admissions are the common case.
func (s *Service) MarkFulfilled(ctx context.Context, unitID uuid.UUID, patientID string, at time.Time) error {
	matched, err := s.repo.MarkFulfilled(ctx, unitID, patientID, at)
	if err != nil {
		return err
	}
	if matched {
		s.log.Info().Str("unit_id", unitID.String()).Str("patient_id", patientID).Msg("scheduled arrival fulfilled")
	}
	return nil
}

// ExpireArrivals lapses pending arrivals whose expected date has passed.
// Run daily by the scheduler so no-shows stop depressing forecasts.
func (s *Service) ExpireArrivals(ctx context.Context) (int, error) {
	n, err := s.repo.ExpireArrivals(ctx, s.now().Truncate(24*time.Hour))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info().Int("count", n).Msg("expired scheduled arrivals")
	}
	return n, nil
}
