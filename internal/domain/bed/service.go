package bed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bedcast/bedcast/internal/platform/events"
)

var (
	// ErrInvalidTransition is returned for bed status changes outside the
	// allowed status graph. Never retried.
	ErrInvalidTransition = errors.New("invalid bed status transition")
	ErrBedNotFound       = errors.New("bed not found")
	ErrBedInactive       = errors.New("bed is deactivated")
)

// UnitDirectory is the slice of the unit service the registry needs for
// acuity matching.
type UnitDirectory interface {
	AcceptsAcuity(ctx context.Context, unitID uuid.UUID, acuity string) (bool, error)
}

type Service struct {
	repo  Repository
	units UnitDirectory
	pub   events.Publisher
}

func NewService(repo Repository, units UnitDirectory, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{repo: repo, units: units, pub: pub}
}

// RegisterBed provisions a new bed. New beds start available.
func (s *Service) RegisterBed(ctx context.Context, b *Bed) error {
	if b.UnitID == uuid.Nil {
		return fmt.Errorf("unit_id is required")
	}
	if b.Label == "" {
		return fmt.Errorf("label is required")
	}
	if b.Status == "" {
		b.Status = StatusAvailable
	}
	if !ValidStatus(b.Status) {
		return fmt.Errorf("invalid status: %s", b.Status)
	}
	return s.repo.Create(ctx, b)
}

func (s *Service) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBedNotFound, id)
	}
	return b, nil
}

func (s *Service) ListBeds(ctx context.Context, limit, offset int) ([]*Bed, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListStatusHistory(ctx context.Context, bedID uuid.UUID, limit, offset int) ([]*StatusChange, int, error) {
	return s.repo.ListStatusHistory(ctx, bedID, limit, offset)
}

func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return fmt.Errorf("%w: %s", ErrBedNotFound, id)
	}
	return s.repo.Deactivate(ctx, id)
}

// SetStatus applies an administrative status change (block, maintenance,
// cleaning back to available). Occupied is owned by the assignment engine
// and cannot be set here.
func (s *Service) SetStatus(ctx context.Context, bedID uuid.UUID, newStatus Status, reason string) (*Bed, error) {
	if !ValidStatus(newStatus) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, newStatus)
	}
	if newStatus == StatusOccupied {
		return nil, fmt.Errorf("%w: occupied is set only by the assignment engine", ErrInvalidTransition)
	}

	b, err := s.repo.GetByID(ctx, bedID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBedNotFound, bedID)
	}
	if !b.Active {
		return nil, ErrBedInactive
	}
	if !CanTransition(b.Status, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, newStatus)
	}

	now := time.Now().UTC()
	ok, err := s.repo.UpdateStatus(ctx, bedID, b.Status, newStatus, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race with a concurrent mutation against the same bed; the
		// transition is re-checked against the new state, not forced.
		return nil, fmt.Errorf("%w: bed %s no longer in %s", ErrInvalidTransition, bedID, b.Status)
	}

	s.recordTransition(ctx, b, b.Status, newStatus, reason, now)

	b.Status = newStatus
	b.StatusChangedAt = now
	return b, nil
}

// FindCandidates returns assignable beds in the unit: active, available,
// holding all required capability tags, in a unit that accepts the patient's
// acuity. Ordered longest-idle-first as a tie-break, not a hard requirement.
func (s *Service) FindCandidates(ctx context.Context, unitID uuid.UUID, requiredCapabilities []string, acuity string) ([]*Bed, error) {
	accepts, err := s.units.AcceptsAcuity(ctx, unitID, acuity)
	if err != nil {
		return nil, err
	}
	if !accepts {
		return nil, nil
	}
	return s.repo.FindCandidates(ctx, unitID, requiredCapabilities)
}

// CountByUnitStatus exposes per-status bed counts for census roll-ups.
func (s *Service) CountByUnitStatus(ctx context.Context, unitID uuid.UUID) (map[Status]int, error) {
	return s.repo.CountByUnitStatus(ctx, unitID)
}

// RecordEngineTransition appends history and emits the outbound event for a
// transition the assignment engine already committed (claim or release).
func (s *Service) RecordEngineTransition(ctx context.Context, b *Bed, from, to Status, reason string, at time.Time) {
	s.recordTransition(ctx, b, from, to, reason, at)
}

func (s *Service) recordTransition(ctx context.Context, b *Bed, from, to Status, reason string, at time.Time) {
	_ = s.repo.AddStatusChange(ctx, &StatusChange{
		BedID:      b.ID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		ChangedAt:  at,
	})

	unitID := b.UnitID
	bedID := b.ID
	s.pub.Publish(ctx, events.StateChange{
		Type:       events.TypeBedStatusChanged,
		FacilityID: b.FacilityID,
		UnitID:     &unitID,
		BedID:      &bedID,
		BedLabel:   b.Label,
		FromStatus: string(from),
		ToStatus:   string(to),
		Reason:     reason,
		Timestamp:  at,
	})
}
