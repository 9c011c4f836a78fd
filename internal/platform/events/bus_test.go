package events

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type recordingSub struct {
	name     string
	received []StateChange
	err      error
}

func (s *recordingSub) Name() string { return s.name }

func (s *recordingSub) Deliver(_ context.Context, e StateChange) error {
	s.received = append(s.received, e)
	return s.err
}

func TestBus_FanOut(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	a := &recordingSub{name: "a"}
	b := &recordingSub{name: "b"}
	bus.Subscribe(a)
	bus.Subscribe(b)

	bus.Publish(context.Background(), StateChange{Type: TypeBedStatusChanged, FacilityID: "FAC-1"})

	if len(a.received) != 1 || len(b.received) != 1 {
		t.Fatalf("expected both subscribers to receive the event, got %d/%d", len(a.received), len(b.received))
	}
}

func TestBus_FillsIDAndTimestamp(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	sub := &recordingSub{name: "sub"}
	bus.Subscribe(sub)

	bus.Publish(context.Background(), StateChange{Type: TypeAssignmentOpened})

	got := sub.received[0]
	if got.ID == uuid.Nil {
		t.Error("expected a generated event id")
	}
	if got.Timestamp.IsZero() {
		t.Error("expected a generated timestamp")
	}
}

func TestBus_FailingSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	failing := &recordingSub{name: "failing", err: errors.New("endpoint down")}
	healthy := &recordingSub{name: "healthy"}
	bus.Subscribe(failing)
	bus.Subscribe(healthy)

	bus.Publish(context.Background(), StateChange{Type: TypeAssignmentClosed})

	if len(healthy.received) != 1 {
		t.Error("delivery failure on one subscriber must not stop the fan-out")
	}
}
