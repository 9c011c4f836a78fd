package assignment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bedcast/bedcast/internal/domain/bed"
	"github.com/bedcast/bedcast/internal/platform/events"
)

var (
	// ErrNoBedAvailable means no candidate satisfied the request. Escalation
	// (ED boarding, diversion) is the caller's decision.
	ErrNoBedAvailable = errors.New("no bed available")
	// ErrPatientAlreadyAssigned means the patient already holds an active
	// assignment; a transfer must be explicit. Never retried.
	ErrPatientAlreadyAssigned = errors.New("patient already has an active assignment")
	// ErrAssignmentConflict marks a lost claim race on a bed. It is retried
	// internally up to the configured bound, then surfaced as
	// ErrNoBedAvailable.
	ErrAssignmentConflict = errors.New("assignment claim conflict")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrAssignmentClosed   = errors.New("assignment already closed")
)

// BedRegistry is the slice of the bed service the engine needs.
type BedRegistry interface {
	FindCandidates(ctx context.Context, unitID uuid.UUID, requiredCapabilities []string, acuity string) ([]*bed.Bed, error)
	GetBed(ctx context.Context, id uuid.UUID) (*bed.Bed, error)
	RecordEngineTransition(ctx context.Context, b *bed.Bed, from, to bed.Status, reason string, at time.Time)
}

// ArrivalFulfiller marks a scheduled arrival fulfilled once the matching
// assignment exists. Optional.
type ArrivalFulfiller interface {
	MarkFulfilled(ctx context.Context, unitID uuid.UUID, patientID string, at time.Time) error
}

// AssignRequest carries everything needed to admit a patient into a unit.
type AssignRequest struct {
	PatientID            string    `json:"patient_id"`
	UnitID               uuid.UUID `json:"unit_id"`
	RequiredCapabilities []string  `json:"required_capabilities"`
	Acuity               string    `json:"acuity"`
	Reason               Reason    `json:"reason"`
	DiagnosisClass       string    `json:"diagnosis_class"`
	AgeBand              string    `json:"age_band"`
	ComorbidityCount     int       `json:"comorbidity_count"`
	Timestamp            time.Time `json:"timestamp"`
}

type Service struct {
	repo         Repository
	beds         BedRegistry
	pub          events.Publisher
	arrivals     ArrivalFulfiller
	claimRetries int
	log          zerolog.Logger
}

func NewService(repo Repository, beds BedRegistry, pub events.Publisher, claimRetries int, log zerolog.Logger) *Service {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if claimRetries < 1 {
		claimRetries = 1
	}
	return &Service{
		repo:         repo,
		beds:         beds,
		pub:          pub,
		claimRetries: claimRetries,
		log:          log.With().Str("component", "assignment").Logger(),
	}
}

// SetArrivalFulfiller wires the scheduled-arrival consumer. Optional.
func (s *Service) SetArrivalFulfiller(f ArrivalFulfiller) {
	s.arrivals = f
}

// AssignBed selects one candidate bed, atomically claims it and opens the
// assignment. A lost claim race re-runs candidate selection up to the
// configured bound before surfacing ErrNoBedAvailable.
func (s *Service) AssignBed(ctx context.Context, req AssignRequest) (*Assignment, error) {
	if req.PatientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	if req.UnitID == uuid.Nil {
		return nil, fmt.Errorf("unit_id is required")
	}
	if req.Acuity == "" {
		return nil, fmt.Errorf("acuity is required")
	}
	if req.Reason == "" {
		req.Reason = ReasonAdmission
	}
	if !ValidReason(req.Reason) {
		return nil, fmt.Errorf("invalid reason: %s", req.Reason)
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	existing, err := s.getActiveByPatient(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: assignment %s", ErrPatientAlreadyAssigned, existing.ID)
	}

	for attempt := 1; attempt <= s.claimRetries; attempt++ {
		candidates, err := s.beds.FindCandidates(ctx, req.UnitID, req.RequiredCapabilities, req.Acuity)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, fmt.Errorf("%w: unit %s, capabilities %v, acuity %s",
				ErrNoBedAvailable, req.UnitID, req.RequiredCapabilities, req.Acuity)
		}

		for _, cand := range candidates {
			a := &Assignment{
				PatientID:            req.PatientID,
				BedID:                cand.ID,
				UnitID:               req.UnitID,
				Reason:               req.Reason,
				Acuity:               req.Acuity,
				DiagnosisClass:       req.DiagnosisClass,
				AgeBand:              req.AgeBand,
				ComorbidityCount:     req.ComorbidityCount,
				RequiredCapabilities: req.RequiredCapabilities,
				AdmittedAt:           req.Timestamp,
			}

			var claimed bool
			err := s.retryTransient(ctx, func() error {
				var err error
				claimed, err = s.repo.OpenWithBedClaim(ctx, a)
				return err
			})
			if err != nil {
				return nil, err
			}
			if !claimed {
				s.log.Debug().
					Str("bed_id", cand.ID.String()).
					Int("attempt", attempt).
					Msg("claim lost, trying next candidate")
				continue
			}

			s.beds.RecordEngineTransition(ctx, cand, bed.StatusAvailable, bed.StatusOccupied,
				string(a.Reason), a.AdmittedAt)
			s.publishOpened(ctx, a, cand)
			if s.arrivals != nil {
				_ = s.arrivals.MarkFulfilled(ctx, a.UnitID, a.PatientID, a.AdmittedAt)
			}
			return a, nil
		}
	}

	// Every candidate was claimed by concurrent callers on every attempt.
	return nil, fmt.Errorf("%w: %d claim attempts lost (%v)",
		ErrNoBedAvailable, s.claimRetries, ErrAssignmentConflict)
}

// DischargeOrTransfer closes the assignment and releases the bed to dirty
// (cleaning is a required intermediate state), or straight to available when
// the disposition pre-authorizes immediate rebooking.
func (s *Service) DischargeOrTransfer(ctx context.Context, assignmentID uuid.UUID, disposition string, at time.Time) (*Assignment, error) {
	a, err := s.repo.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAssignmentNotFound, assignmentID)
	}
	if !a.Active() {
		return nil, fmt.Errorf("%w: %s", ErrAssignmentClosed, assignmentID)
	}

	if at.IsZero() {
		at = time.Now().UTC()
	}
	if at.Before(a.AdmittedAt) {
		return nil, fmt.Errorf("discharge time %s precedes admit time %s", at, a.AdmittedAt)
	}
	if disposition == "" {
		disposition = DispositionDischargeHome
	}

	target := bed.StatusDirty
	if disposition == DispositionRebookPreauthorized {
		target = bed.StatusAvailable
	}

	var released bool
	err = s.retryTransient(ctx, func() error {
		var err error
		released, err = s.repo.CloseWithBedRelease(ctx, a.ID, at, disposition, string(target))
		return err
	})
	if err != nil {
		return nil, err
	}

	a.DischargedAt = &at
	a.Disposition = &disposition

	if b, err := s.beds.GetBed(ctx, a.BedID); err == nil {
		if released {
			s.beds.RecordEngineTransition(ctx, b, bed.StatusOccupied, target, disposition, at)
			s.publishClosed(ctx, a, b, bed.StatusOccupied)
		} else {
			// The bed was moved off occupied mid-stay (blocked or
			// maintenance override). No occupied -> target transition
			// happened, so none is recorded or announced.
			s.log.Warn().
				Str("bed_id", b.ID.String()).
				Str("bed_status", string(b.Status)).
				Str("assignment_id", a.ID.String()).
				Msg("assignment closed without bed release")
			s.publishClosed(ctx, a, b, b.Status)
		}
	} else {
		s.log.Error().Err(err).Str("bed_id", a.BedID.String()).Msg("bed lookup after close failed")
	}

	return a, nil
}

func (s *Service) GetAssignment(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAssignmentNotFound, id)
	}
	return a, nil
}

func (s *Service) GetActiveByPatient(ctx context.Context, patientID string) (*Assignment, error) {
	return s.getActiveByPatient(ctx, patientID)
}

func (s *Service) ListActiveByUnit(ctx context.Context, unitID uuid.UUID) ([]*Assignment, error) {
	return s.repo.ListActiveByUnit(ctx, unitID)
}

func (s *Service) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Assignment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByBed(ctx context.Context, bedID uuid.UUID, limit, offset int) ([]*Assignment, int, error) {
	return s.repo.ListByBed(ctx, bedID, limit, offset)
}

// SetExpectedDischarge records the LOS predictor's estimate on an active
// assignment.
func (s *Service) SetExpectedDischarge(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.repo.SetExpectedDischarge(ctx, id, at)
}

// CountMovements exposes movement deltas for census roll-ups.
func (s *Service) CountMovements(ctx context.Context, unitID uuid.UUID, since, until time.Time) (MovementCounts, error) {
	return s.repo.CountMovements(ctx, unitID, since, until)
}

func (s *Service) getActiveByPatient(ctx context.Context, patientID string) (*Assignment, error) {
	var a *Assignment
	err := s.retryTransient(ctx, func() error {
		var err error
		a, err = s.repo.GetActiveByPatient(ctx, patientID)
		return err
	})
	return a, err
}

// retryTransient retries persistence calls on transient timeouts with a
// short backoff. Business-rule violations pass through untouched.
func (s *Service) retryTransient(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		s.log.Warn().Err(err).Int("attempt", attempt+1).Msg("transient persistence failure, retrying")
	}
	return err
}

func isTransient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (s *Service) publishOpened(ctx context.Context, a *Assignment, b *bed.Bed) {
	unitID, bedID, asgID := a.UnitID, a.BedID, a.ID
	s.pub.Publish(ctx, events.StateChange{
		Type:         events.TypeAssignmentOpened,
		FacilityID:   a.FacilityID,
		UnitID:       &unitID,
		BedID:        &bedID,
		BedLabel:     b.Label,
		AssignmentID: &asgID,
		PatientID:    a.PatientID,
		ToStatus:     string(bed.StatusOccupied),
		Reason:       string(a.Reason),
		Timestamp:    a.AdmittedAt,
	})
}

func (s *Service) publishClosed(ctx context.Context, a *Assignment, b *bed.Bed, from bed.Status) {
	unitID, bedID, asgID := a.UnitID, a.BedID, a.ID
	evt := events.StateChange{
		Type:         events.TypeAssignmentClosed,
		FacilityID:   a.FacilityID,
		UnitID:       &unitID,
		BedID:        &bedID,
		BedLabel:     b.Label,
		AssignmentID: &asgID,
		PatientID:    a.PatientID,
		FromStatus:   string(from),
	}
	if a.Disposition != nil {
		evt.Disposition = *a.Disposition
	}
	if a.DischargedAt != nil {
		evt.Timestamp = *a.DischargedAt
	}
	s.pub.Publish(ctx, evt)
}
