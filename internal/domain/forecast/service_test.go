package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bedcast/bedcast/internal/domain/bed"
	"github.com/bedcast/bedcast/internal/domain/unit"
)

// -- Mock repository --

type mockRepo struct {
	current    map[uuid.UUID][]*Forecast
	history    []*Forecast
	arrivals   map[uuid.UUID]*ScheduledArrival
	runs       int
	inSnapshot bool
	// wroteInSnapshot records whether SupersedeAndInsert ran while the
	// snapshot was still open.
	wroteInSnapshot bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		current:  make(map[uuid.UUID][]*Forecast),
		arrivals: make(map[uuid.UUID]*ScheduledArrival),
	}
}

func (m *mockRepo) InSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	m.inSnapshot = true
	defer func() { m.inSnapshot = false }()
	return fn(ctx)
}

func (m *mockRepo) SupersedeAndInsert(_ context.Context, unitID uuid.UUID, fcs []*Forecast) error {
	m.wroteInSnapshot = m.inSnapshot
	for _, old := range m.current[unitID] {
		old.Superseded = true
	}
	for _, f := range fcs {
		f.ID = uuid.New()
	}
	m.history = append(m.history, fcs...)
	m.current[unitID] = fcs
	m.runs++
	return nil
}

func (m *mockRepo) GetCurrentByUnit(_ context.Context, unitID uuid.UUID) ([]*Forecast, error) {
	return m.current[unitID], nil
}

func (m *mockRepo) ListForDate(_ context.Context, unitID uuid.UUID, targetDate time.Time) ([]*Forecast, error) {
	var result []*Forecast
	for _, f := range m.history {
		if f.UnitID == unitID && f.TargetDate.Equal(targetDate) {
			result = append(result, f)
		}
	}
	return result, nil
}

func (m *mockRepo) CreateArrival(_ context.Context, a *ScheduledArrival) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	m.arrivals[a.ID] = a
	return nil
}

func (m *mockRepo) GetArrival(_ context.Context, id uuid.UUID) (*ScheduledArrival, error) {
	return m.arrivals[id], nil
}

func (m *mockRepo) ListPendingArrivals(_ context.Context, unitID uuid.UUID, by time.Time) ([]*ScheduledArrival, error) {
	var result []*ScheduledArrival
	for _, a := range m.arrivals {
		if a.UnitID == unitID && !a.Fulfilled && !a.Expired && !a.ExpectedDate.After(by) {
			result = append(result, a)
		}
	}
	return result, nil
}

func (m *mockRepo) MarkFulfilled(_ context.Context, unitID uuid.UUID, patientID string, at time.Time) (bool, error) {
	for _, a := range m.arrivals {
		if a.UnitID == unitID && a.PatientID == patientID && !a.Fulfilled && !a.Expired {
			a.Fulfilled = true
			a.FulfilledAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) CancelArrival(_ context.Context, id uuid.UUID) error {
	delete(m.arrivals, id)
	return nil
}

func (m *mockRepo) ExpireArrivals(_ context.Context, before time.Time) (int, error) {
	n := 0
	for _, a := range m.arrivals {
		if !a.Fulfilled && !a.Expired && a.ExpectedDate.Before(before) {
			a.Expired = true
			n++
		}
	}
	return n, nil
}

// -- Mock inputs --

type mockBeds struct {
	available int
}

func (m *mockBeds) CountByUnitStatus(_ context.Context, _ uuid.UUID) (map[bed.Status]int, error) {
	return map[bed.Status]int{bed.StatusAvailable: m.available}, nil
}

type mockDischarges struct {
	perDay int
}

func (m *mockDischarges) ExpectedDischargesBy(_ context.Context, _ uuid.UUID, by time.Time) (int, error) {
	days := int(time.Until(by).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return m.perDay * days, nil
}

type mockCensus struct {
	latest     time.Time
	backfilled []float64
}

func (m *mockCensus) LatestSnapshotTime(_ context.Context, _ uuid.UUID) (time.Time, error) {
	return m.latest, nil
}

func (m *mockCensus) BackfillVariance(_ context.Context, _ uuid.UUID, _ time.Time, predicted float64, _ string) error {
	m.backfilled = append(m.backfilled, predicted)
	return nil
}

type mockUnits struct {
	units []*unit.Unit
}

func (m *mockUnits) ListActiveUnits(_ context.Context) ([]*unit.Unit, error) {
	return m.units, nil
}

func testParams() Params {
	return Params{
		HorizonDays: 7,
		BandBase:    1.0,
		BandSlope:   0.5,
		MaxInputAge: 36 * time.Hour,
	}
}

func newTestService(params Params) (*Service, *mockRepo, *mockCensus) {
	repo := newMockRepo()
	census := &mockCensus{latest: time.Now().UTC()}
	svc := NewService(repo, &mockBeds{available: 10}, &mockDischarges{}, census, &mockUnits{}, params, zerolog.Nop())
	return svc, repo, census
}

// -- Tests --

func TestGenerateForUnit_Horizon(t *testing.T) {
	svc, _, _ := newTestService(testParams())

	fcs, err := svc.GenerateForUnit(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fcs) != 7 {
		t.Fatalf("expected 7 points, got %d", len(fcs))
	}
	for i, f := range fcs {
		if f.PredictedAvailable != 10 {
			t.Errorf("day %d: expected 10 available, got %f", i+1, f.PredictedAvailable)
		}
		if f.ModelVersion != modelVersion {
			t.Errorf("day %d: unexpected model version %s", i+1, f.ModelVersion)
		}
	}
}

// The confidence band must widen, never tighten, with lead time.
func TestGenerateForUnit_BandNonDecreasing(t *testing.T) {
	svc, _, _ := newTestService(testParams())

	fcs, err := svc.GenerateForUnit(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prev := -1.0
	for i, f := range fcs {
		width := f.ConfidenceHigh - f.ConfidenceLow
		if width < prev {
			t.Errorf("band width shrank at day %d: %f < %f", i+1, width, prev)
		}
		prev = width
	}
}

func TestGenerateForUnit_DischargesAndArrivals(t *testing.T) {
	repo := newMockRepo()
	census := &mockCensus{latest: time.Now().UTC()}
	svc := NewService(repo, &mockBeds{available: 4}, &mockDischarges{perDay: 2}, census, &mockUnits{}, testParams(), zerolog.Nop())
	unitID := uuid.New()

	arrival := &ScheduledArrival{
		UnitID:       unitID,
		PatientID:    "MRN-9",
		ExpectedDate: time.Now().UTC().AddDate(0, 0, 1),
	}
	if err := repo.CreateArrival(context.Background(), arrival); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fcs, err := svc.GenerateForUnit(context.Background(), unitID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Day 1: 4 available + ~2 discharges - 1 scheduled arrival.
	if fcs[0].PredictedAvailable < 4 || fcs[0].PredictedAvailable > 6 {
		t.Errorf("unexpected day-1 prediction %f", fcs[0].PredictedAvailable)
	}
	// Day 2 sees more discharges than day 1.
	if fcs[1].PredictedAvailable <= fcs[0].PredictedAvailable {
		t.Errorf("expected prediction to grow with cumulative discharges: day1=%f day2=%f",
			fcs[0].PredictedAvailable, fcs[1].PredictedAvailable)
	}
}

func TestGenerateForUnit_DOWAdjustment(t *testing.T) {
	params := testParams()
	for i := range params.DOWAdjustments {
		params.DOWAdjustments[i] = -3
	}
	svc, _, _ := newTestService(params)

	fcs, err := svc.GenerateForUnit(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fcs[0].PredictedAvailable != 7 {
		t.Errorf("expected 10 - 3 = 7, got %f", fcs[0].PredictedAvailable)
	}
}

func TestGenerateForUnit_StaleInputsDegrade(t *testing.T) {
	svc, _, census := newTestService(testParams())
	census.latest = time.Now().UTC().Add(-72 * time.Hour)

	fcs, err := svc.GenerateForUnit(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("stale inputs must degrade, not fail: %v", err)
	}
	if !fcs[0].Degraded {
		t.Error("expected degraded flag on stale inputs")
	}

	fresh, _, _ := newTestService(testParams())
	freshFcs, err := fresh.GenerateForUnit(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	staleWidth := fcs[0].ConfidenceHigh - fcs[0].ConfidenceLow
	freshWidth := freshFcs[0].ConfidenceHigh - freshFcs[0].ConfidenceLow
	if staleWidth <= freshWidth {
		t.Errorf("degraded band %f must be wider than fresh band %f", staleWidth, freshWidth)
	}
}

// snapshotBeds and snapshotDischarges record whether the repo snapshot was
// open when they were read.
type snapshotBeds struct {
	repo       *mockRepo
	sawInSnap  bool
	wasQueried bool
}

func (b *snapshotBeds) CountByUnitStatus(_ context.Context, _ uuid.UUID) (map[bed.Status]int, error) {
	b.sawInSnap = b.repo.inSnapshot
	b.wasQueried = true
	return map[bed.Status]int{bed.StatusAvailable: 5}, nil
}

type snapshotDischarges struct {
	repo      *mockRepo
	sawInSnap bool
}

func (d *snapshotDischarges) ExpectedDischargesBy(_ context.Context, _ uuid.UUID, _ time.Time) (int, error) {
	d.sawInSnap = d.repo.inSnapshot
	return 0, nil
}

// All forecast inputs are read under one repository snapshot, while the
// replacement run is written after it closes (the snapshot is read-only).
func TestGenerateForUnit_InputsReadUnderOneSnapshot(t *testing.T) {
	repo := newMockRepo()
	beds := &snapshotBeds{repo: repo}
	discharges := &snapshotDischarges{repo: repo}
	census := &mockCensus{latest: time.Now().UTC()}
	svc := NewService(repo, beds, discharges, census, &mockUnits{}, testParams(), zerolog.Nop())

	if _, err := svc.GenerateForUnit(context.Background(), uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !beds.wasQueried {
		t.Fatal("expected bed counts to be read")
	}
	if !beds.sawInSnap {
		t.Error("bed counts were read outside the snapshot")
	}
	if !discharges.sawInSnap {
		t.Error("discharge estimates were read outside the snapshot")
	}
	if repo.wroteInSnapshot {
		t.Error("forecast write must happen after the snapshot closes")
	}
	if repo.runs != 1 {
		t.Errorf("expected one run to be written, got %d", repo.runs)
	}
}

func TestGenerateForUnit_SupersedesPriorRun(t *testing.T) {
	svc, repo, _ := newTestService(testParams())
	unitID := uuid.New()

	first, err := svc.GenerateForUnit(context.Background(), unitID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.GenerateForUnit(context.Background(), unitID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, f := range first {
		if !f.Superseded {
			t.Error("expected prior run to be superseded")
			break
		}
	}
	for _, f := range repo.current[unitID] {
		if f.Superseded {
			t.Error("current run must not be superseded")
			break
		}
	}
}

func TestGetForecast_TrimsToRequestedDays(t *testing.T) {
	svc, _, _ := newTestService(testParams())
	unitID := uuid.New()

	fcs, err := svc.GetForecast(context.Background(), unitID, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fcs) != 3 {
		t.Errorf("expected 3 points, got %d", len(fcs))
	}
}

func TestGetForecast_GeneratesOnDemand(t *testing.T) {
	svc, repo, _ := newTestService(testParams())

	if _, err := svc.GetForecast(context.Background(), uuid.New(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.runs != 1 {
		t.Errorf("expected one generation run, got %d", repo.runs)
	}
}

func TestBacktest(t *testing.T) {
	svc, _, census := newTestService(testParams())
	unitID := uuid.New()

	fcs, err := svc.GenerateForUnit(context.Background(), unitID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := svc.Backtest(context.Background(), unitID, fcs[0].TargetDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != fcs[0].ID {
		t.Error("expected the run for the target date to be scored")
	}
	if len(census.backfilled) != 1 || census.backfilled[0] != fcs[0].PredictedAvailable {
		t.Errorf("expected variance backfill with predicted %f, got %v", fcs[0].PredictedAvailable, census.backfilled)
	}
}

func TestBacktest_NoForecast(t *testing.T) {
	svc, _, _ := newTestService(testParams())

	_, err := svc.Backtest(context.Background(), uuid.New(), time.Now().UTC())
	if !errors.Is(err, ErrNoForecast) {
		t.Errorf("expected ErrNoForecast, got %v", err)
	}
}

func TestScheduleArrival_Validation(t *testing.T) {
	svc, _, _ := newTestService(testParams())

	err := svc.ScheduleArrival(context.Background(), &ScheduledArrival{
		UnitID:       uuid.New(),
		ExpectedDate: time.Now().UTC().AddDate(0, 0, 1),
	})
	if err == nil {
		t.Error("expected error for missing patient_id")
	}

	err = svc.ScheduleArrival(context.Background(), &ScheduledArrival{
		UnitID:       uuid.New(),
		PatientID:    "MRN-1",
		ExpectedDate: time.Now().UTC().AddDate(0, 0, -2),
	})
	if err == nil {
		t.Error("expected error for past expected_date")
	}
}

func TestMarkFulfilled_NoMatchIsNotAnError(t *testing.T) {
	svc, _, _ := newTestService(testParams())

	if err := svc.MarkFulfilled(context.Background(), uuid.New(), "walk-in", time.Now().UTC()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExpireArrivals(t *testing.T) {
	svc, repo, _ := newTestService(testParams())
	unitID := uuid.New()

	past := &ScheduledArrival{UnitID: unitID, PatientID: "MRN-1", ExpectedDate: time.Now().UTC().AddDate(0, 0, -3)}
	future := &ScheduledArrival{UnitID: unitID, PatientID: "MRN-2", ExpectedDate: time.Now().UTC().AddDate(0, 0, 3)}
	for _, a := range []*ScheduledArrival{past, future} {
		if err := repo.CreateArrival(context.Background(), a); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	n, err := svc.ExpireArrivals(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired arrival, got %d", n)
	}
	if !past.Expired || future.Expired {
		t.Error("only the past arrival should expire")
	}
}
