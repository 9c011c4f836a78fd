package adt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bedcast/bedcast/internal/domain/assignment"
	"github.com/bedcast/bedcast/internal/platform/events"
)

// InboundEvent is a normalized external ADT notification, decoded either
// from an HL7v2 message or from the JSON feed.
type InboundEvent struct {
	Trigger              string    `json:"trigger"`
	FacilityID           string    `json:"facility_id"`
	PatientID            string    `json:"patient_id"`
	UnitID               uuid.UUID `json:"unit_id"`
	Acuity               string    `json:"acuity"`
	DiagnosisClass       string    `json:"diagnosis_class"`
	AgeBand              string    `json:"age_band"`
	ComorbidityCount     int       `json:"comorbidity_count"`
	RequiredCapabilities []string  `json:"required_capabilities"`
	Disposition          string    `json:"disposition"`
	Timestamp            time.Time `json:"timestamp"`
}

// EventFromMessage maps a parsed HL7 ADT message onto the engine's event
// shape. PID-3 is the patient identifier, PV1-3 the assigned location with
// the unit id in its first component, PV1-10 the service line used as
// acuity, DG1-3 the diagnosis class.
func EventFromMessage(m *Message) (*InboundEvent, error) {
	ev := &InboundEvent{
		Trigger:    m.Trigger,
		FacilityID: m.SendingFac,
		Timestamp:  m.Timestamp,
	}

	pid, ok := m.Segment("PID")
	if !ok {
		return nil, fmt.Errorf("adt: missing PID segment")
	}
	ev.PatientID = pid.Component(3, 1)
	if ev.PatientID == "" {
		return nil, fmt.Errorf("adt: PID-3 patient identifier is empty")
	}

	if pv1, ok := m.Segment("PV1"); ok {
		if raw := pv1.Component(3, 1); raw != "" {
			unitID, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("adt: PV1-3 unit id: %w", err)
			}
			ev.UnitID = unitID
		}
		ev.Acuity = pv1.Field(10)
	}
	if dg1, ok := m.Segment("DG1"); ok {
		ev.DiagnosisClass = dg1.Component(3, 1)
	}

	if evn, ok := m.Segment("EVN"); ok {
		if raw := evn.Field(2); raw != "" {
			if t, err := time.Parse(hl7TimeFmt, raw); err == nil {
				ev.Timestamp = t.UTC()
			}
		}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return ev, nil
}

// AssignmentEngine is the slice of the assignment service the ADT boundary
// drives.
type AssignmentEngine interface {
	AssignBed(ctx context.Context, req assignment.AssignRequest) (*assignment.Assignment, error)
	DischargeOrTransfer(ctx context.Context, assignmentID uuid.UUID, disposition string, at time.Time) (*assignment.Assignment, error)
	GetActiveByPatient(ctx context.Context, patientID string) (*assignment.Assignment, error)
}

// Processor applies inbound ADT events to engine state. External feeds can
// disagree with local state (replays, out-of-order delivery, upstream
// corrections); reconciliation is last-writer-wins by event timestamp, and
// every disagreement is published as a reconcile-conflict event.
type Processor struct {
	engine AssignmentEngine
	pub    events.Publisher
	log    zerolog.Logger
}

func NewProcessor(engine AssignmentEngine, pub events.Publisher, log zerolog.Logger) *Processor {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Processor{
		engine: engine,
		pub:    pub,
		log:    log.With().Str("component", "adt").Logger(),
	}
}

func (p *Processor) Process(ctx context.Context, ev *InboundEvent) error {
	switch ev.Trigger {
	case TriggerAdmit:
		return p.admit(ctx, ev, assignment.ReasonAdmission)
	case TriggerTransfer:
		return p.transfer(ctx, ev)
	case TriggerDischarge:
		return p.discharge(ctx, ev)
	default:
		return fmt.Errorf("adt: unsupported trigger %q", ev.Trigger)
	}
}

func (p *Processor) admit(ctx context.Context, ev *InboundEvent, reason assignment.Reason) error {
	existing, err := p.engine.GetActiveByPatient(ctx, ev.PatientID)
	if err != nil {
		return err
	}
	if existing != nil {
		if !ev.Timestamp.After(existing.AdmittedAt) {
			p.conflict(ctx, ev, "stale admit for patient with newer active assignment")
			return nil
		}
		// The feed says the patient was re-admitted after our record began.
		// Close the local stay and let the feed's version win.
		p.conflict(ctx, ev, "admit for patient already assigned; superseding local assignment")
		if _, err := p.engine.DischargeOrTransfer(ctx, existing.ID, assignment.DispositionTransferOut, ev.Timestamp); err != nil {
			return err
		}
	}

	acuity := ev.Acuity
	if acuity == "" {
		acuity = "general"
	}
	_, err = p.engine.AssignBed(ctx, assignment.AssignRequest{
		PatientID:            ev.PatientID,
		UnitID:               ev.UnitID,
		RequiredCapabilities: ev.RequiredCapabilities,
		Acuity:               acuity,
		Reason:               reason,
		DiagnosisClass:       ev.DiagnosisClass,
		AgeBand:              ev.AgeBand,
		ComorbidityCount:     ev.ComorbidityCount,
		Timestamp:            ev.Timestamp,
	})
	if errors.Is(err, assignment.ErrNoBedAvailable) {
		p.conflict(ctx, ev, "external admit but no bed available locally")
		return err
	}
	return err
}

func (p *Processor) transfer(ctx context.Context, ev *InboundEvent) error {
	existing, err := p.engine.GetActiveByPatient(ctx, ev.PatientID)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.UnitID == ev.UnitID {
			// Same-unit transfer notifications are replays.
			return nil
		}
		if ev.Timestamp.Before(existing.AdmittedAt) {
			p.conflict(ctx, ev, "transfer timestamp precedes active admission")
			return nil
		}
		if _, err := p.engine.DischargeOrTransfer(ctx, existing.ID, assignment.DispositionTransferOut, ev.Timestamp); err != nil {
			return err
		}
	} else {
		p.conflict(ctx, ev, "transfer for patient with no active assignment; admitting")
	}
	return p.admit(ctx, ev, assignment.ReasonTransferIn)
}

func (p *Processor) discharge(ctx context.Context, ev *InboundEvent) error {
	existing, err := p.engine.GetActiveByPatient(ctx, ev.PatientID)
	if err != nil {
		return err
	}
	if existing == nil {
		p.conflict(ctx, ev, "discharge for patient with no active assignment")
		return nil
	}
	if ev.Timestamp.Before(existing.AdmittedAt) {
		p.conflict(ctx, ev, "discharge timestamp precedes admission")
		return nil
	}

	disposition := ev.Disposition
	if disposition == "" {
		disposition = assignment.DispositionDischargeHome
	}
	_, err = p.engine.DischargeOrTransfer(ctx, existing.ID, disposition, ev.Timestamp)
	if errors.Is(err, assignment.ErrAssignmentClosed) {
		p.conflict(ctx, ev, "discharge replay for already closed assignment")
		return nil
	}
	return err
}

func (p *Processor) conflict(ctx context.Context, ev *InboundEvent, detail string) {
	p.log.Warn().
		Str("trigger", ev.Trigger).
		Str("patient_id", ev.PatientID).
		Msg(detail)
	unitID := ev.UnitID
	p.pub.Publish(ctx, events.StateChange{
		ID:         uuid.New(),
		Type:       events.TypeReconcileConflict,
		FacilityID: ev.FacilityID,
		UnitID:     &unitID,
		PatientID:  ev.PatientID,
		Reason:     detail,
		Timestamp:  ev.Timestamp,
	})
}
