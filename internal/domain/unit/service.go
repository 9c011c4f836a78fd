package unit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrUnitNotFound = errors.New("unit not found")
	ErrUnitInactive = errors.New("unit is deactivated")
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func validate(u *Unit) error {
	if u.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(u.AcceptedAcuities) == 0 {
		return fmt.Errorf("accepted_acuities is required")
	}
	if u.MaxCensus <= 0 {
		return fmt.Errorf("max_census must be positive")
	}
	if u.TargetCensus > u.MaxCensus {
		return fmt.Errorf("target_census %d exceeds max_census %d", u.TargetCensus, u.MaxCensus)
	}
	if u.NurseRatio < 0 {
		return fmt.Errorf("nurse_ratio must be non-negative")
	}
	if u.DefaultLOSHours < 0 {
		return fmt.Errorf("default_los_hours must be non-negative")
	}
	return nil
}

func (s *Service) CreateUnit(ctx context.Context, u *Unit) error {
	if err := validate(u); err != nil {
		return err
	}
	return s.repo.Create(ctx, u)
}

func (s *Service) GetUnit(ctx context.Context, id uuid.UUID) (*Unit, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, id)
	}
	return u, nil
}

// Reconfigure applies an administrative reconfiguration to a unit.
func (s *Service) Reconfigure(ctx context.Context, u *Unit) error {
	if err := validate(u); err != nil {
		return err
	}
	existing, err := s.repo.GetByID(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnitNotFound, u.ID)
	}
	if !existing.Active {
		return ErrUnitInactive
	}
	return s.repo.Update(ctx, u)
}

// Deactivate soft-deactivates a unit. Beds keep referencing it; no hard
// delete exists.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return fmt.Errorf("%w: %s", ErrUnitNotFound, id)
	}
	return s.repo.Deactivate(ctx, id)
}

func (s *Service) ListUnits(ctx context.Context, limit, offset int) ([]*Unit, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListActiveUnits(ctx context.Context) ([]*Unit, error) {
	return s.repo.ListActive(ctx)
}

// AcceptsAcuity reports whether an active unit admits the given acuity.
// Used by the bed registry when matching candidates.
func (s *Service) AcceptsAcuity(ctx context.Context, unitID uuid.UUID, acuity string) (bool, error) {
	u, err := s.repo.GetByID(ctx, unitID)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrUnitNotFound, unitID)
	}
	if !u.Active {
		return false, nil
	}
	return u.AcceptsAcuity(acuity), nil
}

// DefaultLOSHours returns the unit's configured fallback length-of-stay.
func (s *Service) DefaultLOSHours(ctx context.Context, unitID uuid.UUID) (float64, error) {
	u, err := s.repo.GetByID(ctx, unitID)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnitNotFound, unitID)
	}
	return u.DefaultLOSHours, nil
}
