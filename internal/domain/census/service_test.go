package census

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bedcast/bedcast/internal/domain/assignment"
	"github.com/bedcast/bedcast/internal/domain/bed"
	"github.com/bedcast/bedcast/internal/domain/unit"
)

// -- Mock repository --

type snapKey struct {
	unitID uuid.UUID
	asOf   time.Time
}

type mockRepo struct {
	snaps   map[snapKey]*Snapshot
	inserts int
}

func newMockRepo() *mockRepo {
	return &mockRepo{snaps: make(map[snapKey]*Snapshot)}
}

func (m *mockRepo) InSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *mockRepo) Insert(_ context.Context, s *Snapshot) (bool, error) {
	key := snapKey{s.UnitID, s.AsOf}
	if _, exists := m.snaps[key]; exists {
		return false, nil
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	m.snaps[key] = s
	m.inserts++
	return true, nil
}

func (m *mockRepo) GetByUnitAsOf(_ context.Context, unitID uuid.UUID, asOf time.Time) (*Snapshot, error) {
	return m.snaps[snapKey{unitID, asOf}], nil
}

func (m *mockRepo) GetLatestBefore(_ context.Context, unitID uuid.UUID, before time.Time) (*Snapshot, error) {
	var latest *Snapshot
	for _, s := range m.snaps {
		if s.UnitID == unitID && s.AsOf.Before(before) {
			if latest == nil || s.AsOf.After(latest.AsOf) {
				latest = s
			}
		}
	}
	return latest, nil
}

func (m *mockRepo) ListByUnit(_ context.Context, unitID uuid.UUID, limit, offset int) ([]*Snapshot, int, error) {
	var result []*Snapshot
	for _, s := range m.snaps {
		if s.UnitID == unitID {
			result = append(result, s)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) BackfillVariance(_ context.Context, id uuid.UUID, predicted, variance float64, modelVersion string) error {
	for _, s := range m.snaps {
		if s.ID == id {
			if s.Variance != nil {
				return nil
			}
			s.PredictedAvailable = &predicted
			s.Variance = &variance
			s.ModelVersion = &modelVersion
			return nil
		}
	}
	return fmt.Errorf("not found")
}

// -- Mock sources --

type mockBeds struct {
	counts map[bed.Status]int
}

func (m *mockBeds) CountByUnitStatus(_ context.Context, _ uuid.UUID) (map[bed.Status]int, error) {
	return m.counts, nil
}

type mockMovements struct {
	counts assignment.MovementCounts
	since  time.Time
}

func (m *mockMovements) CountMovements(_ context.Context, _ uuid.UUID, since, _ time.Time) (assignment.MovementCounts, error) {
	m.since = since
	return m.counts, nil
}

type mockUnits struct {
	units []*unit.Unit
}

func (m *mockUnits) ListActiveUnits(_ context.Context) ([]*unit.Unit, error) {
	return m.units, nil
}

func newTestService() (*Service, *mockRepo, *mockMovements) {
	repo := newMockRepo()
	beds := &mockBeds{counts: map[bed.Status]int{
		bed.StatusOccupied:  8,
		bed.StatusAvailable: 3,
		bed.StatusDirty:     1,
	}}
	movements := &mockMovements{counts: assignment.MovementCounts{Admissions: 4, Discharges: 2, Transfers: 1}}
	units := &mockUnits{}
	return NewService(repo, beds, movements, units, zerolog.Nop()), repo, movements
}

// -- Snapshot-isolation mocks --
//
// wardState is the live store the isolation mocks share. isolatedRepo pins a
// copy of it for the duration of InSnapshot, the way a repeatable-read
// transaction would, so reads made inside the callback all see one instant.

type wardState struct {
	occupied   int
	available  int
	discharges int
}

type isolatedRepo struct {
	*mockRepo
	live wardState
	view *wardState
}

func (r *isolatedRepo) InSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	frozen := r.live
	r.view = &frozen
	defer func() { r.view = nil }()
	return fn(ctx)
}

func (r *isolatedRepo) state() wardState {
	if r.view != nil {
		return *r.view
	}
	return r.live
}

type isolatedBeds struct {
	repo   *isolatedRepo
	onRead func()
}

func (b *isolatedBeds) CountByUnitStatus(_ context.Context, _ uuid.UUID) (map[bed.Status]int, error) {
	st := b.repo.state()
	if b.onRead != nil {
		b.onRead()
	}
	return map[bed.Status]int{
		bed.StatusOccupied:  st.occupied,
		bed.StatusAvailable: st.available,
	}, nil
}

type isolatedMovements struct {
	repo *isolatedRepo
}

func (m *isolatedMovements) CountMovements(_ context.Context, _ uuid.UUID, _, _ time.Time) (assignment.MovementCounts, error) {
	return assignment.MovementCounts{Discharges: m.repo.state().discharges}, nil
}

// -- Tests --

func TestSnapshot(t *testing.T) {
	svc, _, _ := newTestService()
	unitID := uuid.New()
	asOf := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	snap, err := svc.Snapshot(context.Background(), unitID, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Occupied != 8 || snap.Available != 3 || snap.Dirty != 1 {
		t.Errorf("unexpected counts: %+v", snap)
	}
	if snap.AdmissionsSince != 4 || snap.DischargesSince != 2 || snap.TransfersSince != 1 {
		t.Errorf("unexpected movement deltas: %+v", snap)
	}
}

func TestSnapshot_ConsistentUnderConcurrentDischarge(t *testing.T) {
	// Single-bed unit with one active stay. The discharge commits right
	// after the occupancy read, freeing the bed and logging a movement.
	repo := &isolatedRepo{mockRepo: newMockRepo(), live: wardState{occupied: 1}}
	beds := &isolatedBeds{repo: repo}
	beds.onRead = func() {
		repo.live = wardState{occupied: 0, available: 1, discharges: 1}
	}
	svc := NewService(repo, beds, &isolatedMovements{repo: repo}, &mockUnits{}, zerolog.Nop())

	snap, err := svc.Snapshot(context.Background(), uuid.New(), time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Counts and movement deltas must come from the same instant: the bed
	// is still occupied and its discharge has not happened yet. A record
	// with occupied=1 and discharges_since=1 describes a state the unit
	// was never in.
	if snap.Occupied != 1 || snap.DischargesSince != 0 {
		t.Errorf("snapshot mixes states: occupied=%d discharges_since=%d, want occupied=1 discharges_since=0",
			snap.Occupied, snap.DischargesSince)
	}
}

func TestSnapshot_Idempotent(t *testing.T) {
	svc, repo, _ := newTestService()
	unitID := uuid.New()
	asOf := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	first, err := svc.Snapshot(context.Background(), unitID, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Snapshot(context.Background(), unitID, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Error("expected the stored snapshot to be returned unchanged")
	}
	if repo.inserts != 1 {
		t.Errorf("expected exactly 1 insert, got %d", repo.inserts)
	}
}

func TestSnapshot_DeltasSincePrior(t *testing.T) {
	svc, _, movements := newTestService()
	unitID := uuid.New()

	day1 := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	if _, err := svc.Snapshot(context.Background(), unitID, day1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Snapshot(context.Background(), unitID, day2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !movements.since.Equal(day1) {
		t.Errorf("expected movement window to start at prior snapshot %v, got %v", day1, movements.since)
	}
}

func TestRecordScheduledSnapshot(t *testing.T) {
	repo := newMockRepo()
	beds := &mockBeds{counts: map[bed.Status]int{bed.StatusAvailable: 5}}
	units := &mockUnits{units: []*unit.Unit{
		{ID: uuid.New(), Name: "ICU"},
		{ID: uuid.New(), Name: "Med-Surg"},
	}}
	svc := NewService(repo, beds, &mockMovements{}, units, zerolog.Nop())

	asOf := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if err := svc.RecordScheduledSnapshot(context.Background(), asOf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.inserts != 2 {
		t.Errorf("expected 2 snapshots, got %d", repo.inserts)
	}
}

func TestRecordScheduledSnapshot_Cancelled(t *testing.T) {
	repo := newMockRepo()
	units := &mockUnits{units: []*unit.Unit{{ID: uuid.New()}}}
	svc := NewService(repo, &mockBeds{}, &mockMovements{}, units, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := svc.RecordScheduledSnapshot(ctx, time.Now().UTC())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if repo.inserts != 0 {
		t.Errorf("expected no snapshots after cancellation, got %d", repo.inserts)
	}
}

func TestBackfillVariance(t *testing.T) {
	svc, repo, _ := newTestService()
	unitID := uuid.New()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	snap, err := svc.Snapshot(context.Background(), unitID, date.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.BackfillVariance(context.Background(), unitID, date, 5.0, "dow-heuristic-v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := repo.snaps[snapKey{unitID, snap.AsOf}]
	if stored.Variance == nil {
		t.Fatal("expected variance to be written")
	}
	// Actual available is 3, predicted 5.
	if *stored.Variance != -2.0 {
		t.Errorf("expected variance -2, got %f", *stored.Variance)
	}
}

func TestBackfillVariance_NoSnapshot(t *testing.T) {
	svc, _, _ := newTestService()

	err := svc.BackfillVariance(context.Background(), uuid.New(), time.Now().UTC(), 5.0, "v1")
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}
