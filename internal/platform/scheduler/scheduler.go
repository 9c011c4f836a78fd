// Package scheduler drives the engine's periodic work: the daily census
// roll-up, forecast regeneration and scheduled-arrival expiry.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/bedcast/bedcast/internal/platform/db"
)

// CensusRecorder takes the daily facility-wide census roll-up.
type CensusRecorder interface {
	RecordScheduledSnapshot(ctx context.Context, asOf time.Time) error
}

// ForecastRefresher regenerates availability forecasts and lapses stale
// scheduled arrivals.
type ForecastRefresher interface {
	GenerateAll(ctx context.Context) error
	ExpireArrivals(ctx context.Context) (int, error)
}

type Scheduler struct {
	census     CensusRecorder
	forecast   ForecastRefresher
	facilities []string
	hour       int
	log        zerolog.Logger
	now        func() time.Time
}

// New builds a scheduler that fires once per day at the given UTC hour for
// each listed facility.
func New(census CensusRecorder, forecast ForecastRefresher, facilities []string, hour int, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		census:     census,
		forecast:   forecast,
		facilities: facilities,
		hour:       hour,
		log:        log.With().Str("component", "scheduler").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until ctx is cancelled, firing the daily cycle at the
// configured hour. A cycle that overruns simply delays the next one; cycles
// never overlap.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := s.nextFiring(s.now())
		s.log.Info().Time("next_run", next).Msg("scheduler sleeping")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.runCycle(ctx, next)
	}
}

func (s *Scheduler) nextFiring(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunCycleNow executes one full cycle immediately. Exposed for operational
// catch-up after downtime.
func (s *Scheduler) RunCycleNow(ctx context.Context) {
	s.runCycle(ctx, s.now())
}

func (s *Scheduler) runCycle(parent context.Context, asOf time.Time) {
	started := s.now()
	for _, facility := range s.facilities {
		if parent.Err() != nil {
			return
		}
		ctx := db.WithFacility(parent, facility)
		log := s.log.With().Str("facility_id", facility).Logger()

		if err := s.census.RecordScheduledSnapshot(ctx, asOf); err != nil {
			log.Error().Err(err).Msg("census roll-up failed")
		}
		if _, err := s.forecast.ExpireArrivals(ctx); err != nil {
			log.Error().Err(err).Msg("arrival expiry failed")
		}
		if err := s.forecast.GenerateAll(ctx); err != nil {
			log.Error().Err(err).Msg("forecast regeneration failed")
		}
	}
	s.log.Info().Dur("took", s.now().Sub(started)).Msg("daily cycle complete")
}
