package assignment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bedcast/bedcast/internal/domain/bed"
	"github.com/bedcast/bedcast/internal/platform/events"
)

// -- Mock repository sharing bed state with the mock registry --
//
// Beds and assignments live in one store guarded by one mutex so the
// atomicity of OpenWithBedClaim and CloseWithBedRelease matches the real
// transactional repository.

type mockStore struct {
	mu          sync.Mutex
	beds        map[uuid.UUID]*bed.Bed
	assignments map[uuid.UUID]*Assignment
	transitions []string
}

func newMockStore() *mockStore {
	return &mockStore{
		beds:        make(map[uuid.UUID]*bed.Bed),
		assignments: make(map[uuid.UUID]*Assignment),
	}
}

func (m *mockStore) addBed(unitID uuid.UUID, label string, caps ...string) *bed.Bed {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &bed.Bed{
		ID:              uuid.New(),
		UnitID:          unitID,
		Label:           label,
		Capabilities:    caps,
		Status:          bed.StatusAvailable,
		StatusChangedAt: time.Now().Add(-time.Hour),
		Active:          true,
	}
	m.beds[b.ID] = b
	return b
}

func (m *mockStore) OpenWithBedClaim(_ context.Context, a *Assignment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beds[a.BedID]
	if !ok || b.Status != bed.StatusAvailable {
		return false, nil
	}
	b.Status = bed.StatusOccupied
	b.StatusChangedAt = a.AdmittedAt
	a.ID = uuid.New()
	cp := *a
	m.assignments[a.ID] = &cp
	return true, nil
}

func (m *mockStore) CloseWithBedRelease(_ context.Context, id uuid.UUID, at time.Time, disposition string, bedStatus string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok || a.DischargedAt != nil {
		return false, fmt.Errorf("not found or closed")
	}
	a.DischargedAt = &at
	a.Disposition = &disposition
	// The bed only releases from occupied, matching the transactional
	// repository's guard.
	if b, ok := m.beds[a.BedID]; ok && b.Status == bed.StatusOccupied {
		b.Status = bed.Status(bedStatus)
		b.StatusChangedAt = at
		return true, nil
	}
	return false, nil
}

func (m *mockStore) GetByID(_ context.Context, id uuid.UUID) (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *a
	return &cp, nil
}

func (m *mockStore) GetActiveByPatient(_ context.Context, patientID string) (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if a.PatientID == patientID && a.DischargedAt == nil {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockStore) GetActiveByBed(_ context.Context, bedID uuid.UUID) (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if a.BedID == bedID && a.DischargedAt == nil {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockStore) ListActiveByUnit(_ context.Context, unitID uuid.UUID) ([]*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Assignment
	for _, a := range m.assignments {
		if a.UnitID == unitID && a.DischargedAt == nil {
			cp := *a
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockStore) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Assignment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Assignment
	for _, a := range m.assignments {
		if a.PatientID == patientID {
			result = append(result, a)
		}
	}
	return result, len(result), nil
}

func (m *mockStore) ListByBed(_ context.Context, bedID uuid.UUID, limit, offset int) ([]*Assignment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Assignment
	for _, a := range m.assignments {
		if a.BedID == bedID {
			result = append(result, a)
		}
	}
	return result, len(result), nil
}

func (m *mockStore) SetExpectedDischarge(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	a.ExpectedDischargeAt = &at
	return nil
}

func (m *mockStore) CountMovements(_ context.Context, unitID uuid.UUID, since, until time.Time) (MovementCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mc MovementCounts
	for _, a := range m.assignments {
		if a.UnitID != unitID {
			continue
		}
		if a.AdmittedAt.After(since) && !a.AdmittedAt.After(until) {
			if a.Reason == ReasonTransferIn {
				mc.Transfers++
			} else {
				mc.Admissions++
			}
		}
		if a.DischargedAt != nil && a.DischargedAt.After(since) && !a.DischargedAt.After(until) {
			mc.Discharges++
		}
	}
	return mc, nil
}

// -- Mock bed registry over the same store --

type mockRegistry struct {
	store *mockStore
}

func (r *mockRegistry) FindCandidates(_ context.Context, unitID uuid.UUID, required []string, _ string) ([]*bed.Bed, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var result []*bed.Bed
	for _, b := range r.store.beds {
		if b.UnitID == unitID && b.Active && b.Status == bed.StatusAvailable && b.HasCapabilities(required) {
			cp := *b
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StatusChangedAt.Before(result[j].StatusChangedAt)
	})
	return result, nil
}

func (r *mockRegistry) GetBed(_ context.Context, id uuid.UUID) (*bed.Bed, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	b, ok := r.store.beds[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *b
	return &cp, nil
}

func (r *mockRegistry) RecordEngineTransition(_ context.Context, b *bed.Bed, from, to bed.Status, _ string, _ time.Time) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.transitions = append(r.store.transitions, fmt.Sprintf("%s:%s->%s", b.Label, from, to))
}

type capturePub struct {
	mu     sync.Mutex
	events []events.StateChange
}

func (p *capturePub) Publish(_ context.Context, e events.StateChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func newTestService(retries int) (*Service, *mockStore, *capturePub) {
	store := newMockStore()
	pub := &capturePub{}
	svc := NewService(store, &mockRegistry{store: store}, pub, retries, zerolog.Nop())
	return svc, store, pub
}

func assignReq(unitID uuid.UUID, patientID string) AssignRequest {
	return AssignRequest{
		PatientID: patientID,
		UnitID:    unitID,
		Acuity:    "med-surg",
	}
}

// -- Tests --

func TestAssignBed(t *testing.T) {
	svc, store, pub := newTestService(3)
	unitID := uuid.New()
	b := store.addBed(unitID, "A-101")

	a, err := svc.AssignBed(context.Background(), assignReq(unitID, "MRN-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.BedID != b.ID {
		t.Errorf("expected bed %s, got %s", b.ID, a.BedID)
	}
	if store.beds[b.ID].Status != bed.StatusOccupied {
		t.Errorf("expected bed occupied, got %s", store.beds[b.ID].Status)
	}
	if len(pub.events) != 1 || pub.events[0].Type != events.TypeAssignmentOpened {
		t.Errorf("expected one assignment.opened event, got %v", pub.events)
	}
}

func TestAssignBed_PatientAlreadyAssigned(t *testing.T) {
	svc, store, _ := newTestService(3)
	unitID := uuid.New()
	store.addBed(unitID, "A-101")
	store.addBed(unitID, "A-102")

	if _, err := svc.AssignBed(context.Background(), assignReq(unitID, "MRN-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.AssignBed(context.Background(), assignReq(unitID, "MRN-1"))
	if !errors.Is(err, ErrPatientAlreadyAssigned) {
		t.Errorf("expected ErrPatientAlreadyAssigned, got %v", err)
	}
}

func TestAssignBed_NoBedAvailable(t *testing.T) {
	svc, _, _ := newTestService(3)

	_, err := svc.AssignBed(context.Background(), assignReq(uuid.New(), "MRN-1"))
	if !errors.Is(err, ErrNoBedAvailable) {
		t.Errorf("expected ErrNoBedAvailable, got %v", err)
	}
}

func TestAssignBed_CapabilityMatch(t *testing.T) {
	svc, store, _ := newTestService(3)
	unitID := uuid.New()
	store.addBed(unitID, "A-101")
	tele := store.addBed(unitID, "A-102", "telemetry")

	req := assignReq(unitID, "MRN-1")
	req.RequiredCapabilities = []string{"telemetry"}
	a, err := svc.AssignBed(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.BedID != tele.ID {
		t.Errorf("expected telemetry bed, got %s", a.BedID)
	}
}

// Two telemetry-capable beds, three requests: the third must be told no bed
// is available rather than being squeezed into a non-matching bed.
func TestAssignBed_CapabilityExhaustion(t *testing.T) {
	svc, store, _ := newTestService(3)
	unitID := uuid.New()
	store.addBed(unitID, "A-101", "telemetry")
	store.addBed(unitID, "A-102", "telemetry")
	store.addBed(unitID, "A-103")

	for i, patient := range []string{"MRN-1", "MRN-2"} {
		req := assignReq(unitID, patient)
		req.RequiredCapabilities = []string{"telemetry"}
		if _, err := svc.AssignBed(context.Background(), req); err != nil {
			t.Fatalf("assignment %d failed: %v", i+1, err)
		}
	}

	req := assignReq(unitID, "MRN-3")
	req.RequiredCapabilities = []string{"telemetry"}
	_, err := svc.AssignBed(context.Background(), req)
	if !errors.Is(err, ErrNoBedAvailable) {
		t.Errorf("expected ErrNoBedAvailable, got %v", err)
	}
}

// Concurrent requests racing for a single bed: exactly one wins.
func TestAssignBed_ConcurrentClaim(t *testing.T) {
	svc, store, _ := newTestService(3)
	unitID := uuid.New()
	store.addBed(unitID, "A-101")

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.AssignBed(context.Background(), assignReq(unitID, fmt.Sprintf("MRN-%d", i)))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrNoBedAvailable) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly 1 winner, got %d", wins)
	}
	active := 0
	for _, a := range store.assignments {
		if a.DischargedAt == nil {
			active++
		}
	}
	if active != 1 {
		t.Errorf("expected exactly 1 active assignment, got %d", active)
	}
}

func TestDischarge_ReleasesBedToDirty(t *testing.T) {
	svc, store, pub := newTestService(3)
	unitID := uuid.New()
	b := store.addBed(unitID, "A-101")

	a, err := svc.AssignBed(context.Background(), assignReq(unitID, "MRN-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	closed, err := svc.DischargeOrTransfer(context.Background(), a.ID, DispositionDischargeHome, time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed.Active() {
		t.Error("expected assignment to be closed")
	}
	if store.beds[b.ID].Status != bed.StatusDirty {
		t.Errorf("expected bed dirty after discharge, got %s", store.beds[b.ID].Status)
	}
	if pub.events[len(pub.events)-1].Type != events.TypeAssignmentClosed {
		t.Error("expected assignment.closed event")
	}
}

// A bed moved off occupied mid-stay (blocked for maintenance, say) is not
// released by the discharge: the assignment still closes, but no
// occupied -> dirty transition is recorded or announced.
func TestDischarge_BedBlockedMidStay(t *testing.T) {
	svc, store, pub := newTestService(3)
	unitID := uuid.New()
	b := store.addBed(unitID, "A-101")

	a, err := svc.AssignBed(context.Background(), assignReq(unitID, "MRN-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Facilities blocks the bed under the patient.
	store.mu.Lock()
	store.beds[b.ID].Status = bed.StatusBlocked
	store.mu.Unlock()

	closed, err := svc.DischargeOrTransfer(context.Background(), a.ID, DispositionDischargeHome, time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed.Active() {
		t.Error("expected assignment to be closed")
	}
	if store.beds[b.ID].Status != bed.StatusBlocked {
		t.Errorf("expected bed to stay blocked, got %s", store.beds[b.ID].Status)
	}
	// Only the admission transition exists; no occupied -> dirty was
	// invented for a release that never happened.
	if len(store.transitions) != 1 {
		t.Errorf("expected 1 recorded transition, got %v", store.transitions)
	}
	last := pub.events[len(pub.events)-1]
	if last.Type != events.TypeAssignmentClosed {
		t.Fatalf("expected assignment.closed event, got %s", last.Type)
	}
	if last.FromStatus != string(bed.StatusBlocked) {
		t.Errorf("expected event to carry the bed's real status %q, got %q", bed.StatusBlocked, last.FromStatus)
	}
}

func TestDischarge_RebookPreauthorizedSkipsCleaning(t *testing.T) {
	svc, store, _ := newTestService(3)
	unitID := uuid.New()
	b := store.addBed(unitID, "A-101")

	a, err := svc.AssignBed(context.Background(), assignReq(unitID, "MRN-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.DischargeOrTransfer(context.Background(), a.ID, DispositionRebookPreauthorized, time.Now().UTC()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.beds[b.ID].Status != bed.StatusAvailable {
		t.Errorf("expected bed available after pre-authorized rebook, got %s", store.beds[b.ID].Status)
	}
}

func TestDischarge_ClosedAssignment(t *testing.T) {
	svc, store, _ := newTestService(3)
	unitID := uuid.New()
	store.addBed(unitID, "A-101")

	a, err := svc.AssignBed(context.Background(), assignReq(unitID, "MRN-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.DischargeOrTransfer(context.Background(), a.ID, "", time.Now().UTC()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.DischargeOrTransfer(context.Background(), a.ID, "", time.Now().UTC())
	if !errors.Is(err, ErrAssignmentClosed) {
		t.Errorf("expected ErrAssignmentClosed, got %v", err)
	}
}

func TestDischarge_BeforeAdmit(t *testing.T) {
	svc, store, _ := newTestService(3)
	unitID := uuid.New()
	store.addBed(unitID, "A-101")

	req := assignReq(unitID, "MRN-1")
	req.Timestamp = time.Now().UTC()
	a, err := svc.AssignBed(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.DischargeOrTransfer(context.Background(), a.ID, "", req.Timestamp.Add(-time.Hour))
	if err == nil {
		t.Error("expected error for discharge before admit")
	}
}

// Full bed lifecycle: assign, discharge to dirty, no re-assignment until the
// bed is cleaned back to available.
func TestBedLifecycleAfterDischarge(t *testing.T) {
	svc, store, _ := newTestService(3)
	unitID := uuid.New()
	b := store.addBed(unitID, "A-101")

	a, err := svc.AssignBed(context.Background(), assignReq(unitID, "MRN-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.DischargeOrTransfer(context.Background(), a.ID, "", time.Now().UTC()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.AssignBed(context.Background(), assignReq(unitID, "MRN-2")); !errors.Is(err, ErrNoBedAvailable) {
		t.Fatalf("expected ErrNoBedAvailable while bed is dirty, got %v", err)
	}

	// Housekeeping finishes.
	store.mu.Lock()
	store.beds[b.ID].Status = bed.StatusAvailable
	store.mu.Unlock()

	if _, err := svc.AssignBed(context.Background(), assignReq(unitID, "MRN-2")); err != nil {
		t.Fatalf("expected assignment after cleaning, got %v", err)
	}
}

func TestAssignBed_FulfillsScheduledArrival(t *testing.T) {
	svc, store, _ := newTestService(3)
	unitID := uuid.New()
	store.addBed(unitID, "A-101")

	fulfilled := make(map[string]bool)
	svc.SetArrivalFulfiller(arrivalFunc(func(_ context.Context, _ uuid.UUID, patientID string, _ time.Time) error {
		fulfilled[patientID] = true
		return nil
	}))

	if _, err := svc.AssignBed(context.Background(), assignReq(unitID, "MRN-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fulfilled["MRN-1"] {
		t.Error("expected scheduled arrival to be marked fulfilled")
	}
}

type arrivalFunc func(ctx context.Context, unitID uuid.UUID, patientID string, at time.Time) error

func (f arrivalFunc) MarkFulfilled(ctx context.Context, unitID uuid.UUID, patientID string, at time.Time) error {
	return f(ctx, unitID, patientID, at)
}

func TestCountMovements(t *testing.T) {
	svc, store, _ := newTestService(3)
	unitID := uuid.New()
	store.addBed(unitID, "A-101")
	store.addBed(unitID, "A-102")

	start := time.Now().UTC().Add(-time.Minute)

	a, err := svc.AssignBed(context.Background(), assignReq(unitID, "MRN-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := assignReq(unitID, "MRN-2")
	req.Reason = ReasonTransferIn
	if _, err := svc.AssignBed(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.DischargeOrTransfer(context.Background(), a.ID, "", time.Now().UTC()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mc, err := svc.CountMovements(context.Background(), unitID, start, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.Admissions != 1 || mc.Transfers != 1 || mc.Discharges != 1 {
		t.Errorf("unexpected movement counts: %+v", mc)
	}
}
