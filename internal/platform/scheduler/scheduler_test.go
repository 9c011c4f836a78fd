package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bedcast/bedcast/internal/platform/db"
)

type mockCensus struct {
	facilities []string
	err        error
}

func (m *mockCensus) RecordScheduledSnapshot(ctx context.Context, _ time.Time) error {
	m.facilities = append(m.facilities, db.FacilityFromContext(ctx))
	return m.err
}

type mockForecast struct {
	generated int
	expired   int
}

func (m *mockForecast) GenerateAll(context.Context) error {
	m.generated++
	return nil
}

func (m *mockForecast) ExpireArrivals(context.Context) (int, error) {
	m.expired++
	return 0, nil
}

func TestNextFiring(t *testing.T) {
	s := New(&mockCensus{}, &mockForecast{}, nil, 2, zerolog.Nop())

	before := time.Date(2026, 3, 10, 1, 30, 0, 0, time.UTC)
	if got := s.nextFiring(before); !got.Equal(time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)) {
		t.Errorf("expected same-day firing, got %v", got)
	}

	after := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	if got := s.nextFiring(after); !got.Equal(time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)) {
		t.Errorf("expected next-day firing at the exact hour, got %v", got)
	}
}

func TestRunCycleNow(t *testing.T) {
	census := &mockCensus{}
	forecast := &mockForecast{}
	s := New(census, forecast, []string{"FAC-1", "FAC-2"}, 0, zerolog.Nop())

	s.RunCycleNow(context.Background())

	if len(census.facilities) != 2 {
		t.Fatalf("expected 2 facility roll-ups, got %d", len(census.facilities))
	}
	if census.facilities[0] != "FAC-1" || census.facilities[1] != "FAC-2" {
		t.Errorf("unexpected facility scoping %v", census.facilities)
	}
	if forecast.expired != 2 || forecast.generated != 2 {
		t.Errorf("expected expiry and regeneration per facility, got %d/%d", forecast.expired, forecast.generated)
	}
}

// A failing step logs and moves on; the rest of the cycle still runs.
func TestRunCycleNow_ContinuesPastFailures(t *testing.T) {
	census := &mockCensus{err: errors.New("db down")}
	forecast := &mockForecast{}
	s := New(census, forecast, []string{"FAC-1"}, 0, zerolog.Nop())

	s.RunCycleNow(context.Background())

	if forecast.generated != 1 {
		t.Error("expected forecast regeneration despite census failure")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := New(&mockCensus{}, &mockForecast{}, []string{"FAC-1"}, 0, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
