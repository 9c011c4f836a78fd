// Package events carries state-change notifications out of the allocation
// engine. Every bed status transition and every assignment open/close is
// published here with enough data to reconstruct an ADT-style notification.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Type string

const (
	TypeBedStatusChanged  Type = "bed.status_changed"
	TypeAssignmentOpened  Type = "assignment.opened"
	TypeAssignmentClosed  Type = "assignment.closed"
	TypeReconcileConflict Type = "adt.reconcile_conflict"
)

// StateChange is the outbound event payload.
type StateChange struct {
	ID           uuid.UUID  `json:"id"`
	Type         Type       `json:"type"`
	FacilityID   string     `json:"facility_id"`
	UnitID       *uuid.UUID `json:"unit_id,omitempty"`
	BedID        *uuid.UUID `json:"bed_id,omitempty"`
	BedLabel     string     `json:"bed_label,omitempty"`
	AssignmentID *uuid.UUID `json:"assignment_id,omitempty"`
	PatientID    string     `json:"patient_id,omitempty"`
	FromStatus   string     `json:"from_status,omitempty"`
	ToStatus     string     `json:"to_status,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	Disposition  string     `json:"disposition,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// Publisher is the narrow interface domain services depend on.
type Publisher interface {
	Publish(ctx context.Context, e StateChange)
}

// Subscriber receives every published event. Delivery failures are logged,
// never propagated back into the mutation that produced the event.
type Subscriber interface {
	Name() string
	Deliver(ctx context.Context, e StateChange) error
}

// Bus fans events out to subscribers (webhooks, the AMQP publisher, the
// outbound ADT generator).
type Bus struct {
	log  zerolog.Logger
	mu   sync.RWMutex
	subs []Subscriber
}

func NewBus(log zerolog.Logger) *Bus {
	return &Bus{log: log.With().Str("component", "events").Logger()}
}

func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

func (b *Bus) Publish(ctx context.Context, e StateChange) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.Deliver(ctx, e); err != nil {
			b.log.Error().
				Err(err).
				Str("subscriber", s.Name()).
				Str("event_id", e.ID.String()).
				Str("event_type", string(e.Type)).
				Msg("event delivery failed")
		}
	}
}

// NopPublisher discards events. Used where no bus is wired (tests).
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, StateChange) {}
