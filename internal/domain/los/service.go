package los

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bedcast/bedcast/internal/domain/assignment"
)

var (
	ErrBenchmarkNotFound  = errors.New("benchmark not found")
	ErrAssignmentInactive = errors.New("assignment is not active")
)

// Confidence attached to estimates by source. A benchmark hit is trusted
// more than the unit-wide default.
const (
	benchmarkConfidence = 0.8
	defaultConfidence   = 0.5
)

// AssignmentSource provides the active stays the predictor scores.
type AssignmentSource interface {
	GetAssignment(ctx context.Context, id uuid.UUID) (*assignment.Assignment, error)
	ListActiveByUnit(ctx context.Context, unitID uuid.UUID) ([]*assignment.Assignment, error)
	SetExpectedDischarge(ctx context.Context, id uuid.UUID, at time.Time) error
}

// UnitDefaults supplies the per-unit fallback when no benchmark matches.
type UnitDefaults interface {
	DefaultLOSHours(ctx context.Context, unitID uuid.UUID) (float64, error)
}

type Service struct {
	repo        Repository
	assignments AssignmentSource
	units       UnitDefaults
	log         zerolog.Logger
	now         func() time.Time
}

func NewService(repo Repository, assignments AssignmentSource, units UnitDefaults, log zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		assignments: assignments,
		units:       units,
		log:         log.With().Str("component", "los").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) UpsertBenchmark(ctx context.Context, b *Benchmark) error {
	if b.DiagnosisClass == "" {
		return errors.New("diagnosis_class is required")
	}
	if b.BaselineHours <= 0 {
		return errors.New("baseline_hours must be positive")
	}
	if b.ModelVersion == "" {
		return errors.New("model_version is required")
	}
	return s.repo.Upsert(ctx, b)
}

func (s *Service) ListBenchmarks(ctx context.Context, unitID uuid.UUID) ([]*Benchmark, error) {
	return s.repo.ListByUnit(ctx, unitID)
}

func (s *Service) DeleteBenchmark(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// EstimateRemaining predicts the remaining stay for an active assignment and
// records the implied expected discharge time on the assignment. A missing
// benchmark degrades to the unit default rather than failing: every active
// stay must carry some expected discharge for the forecaster to consume.
func (s *Service) EstimateRemaining(ctx context.Context, assignmentID uuid.UUID) (*Estimate, error) {
	a, err := s.assignments.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if !a.Active() {
		return nil, ErrAssignmentInactive
	}

	est, err := s.estimate(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := s.assignments.SetExpectedDischarge(ctx, a.ID, est.ExpectedDischargeAt); err != nil {
		s.log.Error().Err(err).Str("assignment_id", a.ID.String()).Msg("recording expected discharge failed")
	}
	return est, nil
}

func (s *Service) estimate(ctx context.Context, a *assignment.Assignment) (*Estimate, error) {
	now := s.now()
	elapsed := now.Sub(a.AdmittedAt).Hours()
	if elapsed < 0 {
		elapsed = 0
	}

	var (
		totalHours   float64
		confidence   float64
		source       string
		modelVersion string
	)
	bench, err := s.repo.GetByClassUnit(ctx, a.UnitID, a.DiagnosisClass)
	if err != nil {
		return nil, err
	}
	if bench != nil {
		totalHours = bench.TotalHours(a.AgeBand, a.Acuity, a.ComorbidityCount)
		confidence = benchmarkConfidence
		source = SourceBenchmark
		modelVersion = bench.ModelVersion
	} else {
		totalHours, err = s.units.DefaultLOSHours(ctx, a.UnitID)
		if err != nil {
			return nil, err
		}
		confidence = defaultConfidence
		source = SourceUnitDefault
	}

	remaining := totalHours - elapsed
	if remaining < 0 {
		// Overstays predict imminent discharge, never negative hours.
		remaining = 0
	}

	return &Estimate{
		AssignmentID:        a.ID,
		RemainingHours:      remaining,
		ExpectedDischargeAt: now.Add(time.Duration(remaining * float64(time.Hour))),
		Confidence:          confidence,
		Source:              source,
		ModelVersion:        modelVersion,
	}, nil
}

// EstimateUnit scores every active assignment on the unit.
func (s *Service) EstimateUnit(ctx context.Context, unitID uuid.UUID) ([]*Estimate, error) {
	active, err := s.assignments.ListActiveByUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	ests := make([]*Estimate, 0, len(active))
	for _, a := range active {
		est, err := s.estimate(ctx, a)
		if err != nil {
			return nil, err
		}
		ests = append(ests, est)
	}
	return ests, nil
}

// ExpectedDischargesBy counts active stays predicted to end at or before the
// given time. The availability forecaster feeds on this.
func (s *Service) ExpectedDischargesBy(ctx context.Context, unitID uuid.UUID, by time.Time) (int, error) {
	ests, err := s.EstimateUnit(ctx, unitID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, est := range ests {
		if !est.ExpectedDischargeAt.After(by) {
			n++
		}
	}
	return n, nil
}
