package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"pharmacy/internal/domain"
	"pharmacy/internal/events"
	"pharmacy/internal/metrics"
	"pharmacy/internal/repository"
)

type recordingPublisher struct {
	mu   sync.Mutex
	evs  []events.Event
	fail error
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, evs...)
	return p.fail
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.evs))
	for _, e := range p.evs {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store *repository.MemoryStore
	rxs   *repository.MemoryPrescriptions
	svc   *PrescriptionService
	reg   *metrics.Registry
	pub   *recordingPublisher
}

func setupRx(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	rxs := repository.NewMemoryPrescriptions(store)
	f := &fixture{store: store, rxs: rxs, reg: metrics.NewRegistry(), pub: &recordingPublisher{}}
	opts = append([]Option{WithMetrics(f.reg), WithPublisher(f.pub)}, opts...)
	f.svc = NewPrescriptionService(store, rxs, repository.NewMemoryTx(store), opts...)
	return f
}

func (f *fixture) quantity(t *testing.T, id int64) int64 {
	t.Helper()
	m, err := f.store.GetByID(context.Background(), "o1", id)
	if err != nil {
		t.Fatalf("get medicine %d: %v", id, err)
	}
	return m.Quantity
}

func input(items ...RequestedItem) CreateInput {
	return CreateInput{PatientName: "Jane Doe", PatientAge: 34, DoctorName: "Dr. House", Items: items}
}

func TestCreateAndComplete_PartialOrder(t *testing.T) {
	ctx := context.Background()
	f := setupRx(t)
	a := seedMedicine(t, f.store, "o1", "A", 10, "5")
	b := seedMedicine(t, f.store, "o1", "B", 0, "3")

	p, err := f.svc.Create(ctx, "o1", input(
		RequestedItem{MedicineName: "A", Quantity: 3},
		RequestedItem{MedicineName: "B", Quantity: 2},
	))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != domain.StatusPartial {
		t.Fatalf("expected partial, got %s", p.Status)
	}
	if p.TotalAmount.String() != "15" {
		t.Fatalf("expected total 15, got %s", p.TotalAmount)
	}
	if len(p.PrescriptionID) != len("RX-")+10 || p.PrescriptionID[:3] != "RX-" {
		t.Fatalf("unexpected prescription id %q", p.PrescriptionID)
	}
	if f.quantity(t, a.ID) != 10 {
		t.Fatalf("creation must not reserve stock")
	}

	done, err := f.svc.Complete(ctx, "o1", p.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("expected completed with timestamp: %+v", done)
	}
	if q := f.quantity(t, a.ID); q != 7 {
		t.Fatalf("A expected 7, got %d", q)
	}
	if q := f.quantity(t, b.ID); q != 0 {
		t.Fatalf("B must stay untouched, got %d", q)
	}

	stored, _ := f.svc.GetPrescription(ctx, "o1", p.ID)
	if stored.Status != domain.StatusCompleted {
		t.Fatalf("stored status: %s", stored.Status)
	}
	if got := testutil.ToFloat64(f.reg.UnitsDispensed); got != 3 {
		t.Fatalf("units dispensed metric: %v", got)
	}
	if got := testutil.ToFloat64(f.reg.PrescriptionsCreated.WithLabelValues("partial")); got != 1 {
		t.Fatalf("created metric: %v", got)
	}
}

func TestCreate_StatusFromAvailability(t *testing.T) {
	ctx := context.Background()
	f := setupRx(t)
	seedMedicine(t, f.store, "o1", "A", 10, "1")

	all, err := f.svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "A", Quantity: 10}))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, all.Status)

	none, err := f.svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "Nope", Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, none.Status)
	assert.True(t, none.TotalAmount.IsZero())
}

func TestCreate_InvalidInput(t *testing.T) {
	ctx := context.Background()
	f := setupRx(t)
	cases := map[string]CreateInput{
		"no items":   input(),
		"no patient": {DoctorName: "D", Items: []RequestedItem{{MedicineName: "A", Quantity: 1}}},
		"no doctor":  {PatientName: "P", Items: []RequestedItem{{MedicineName: "A", Quantity: 1}}},
		"bad qty":    input(RequestedItem{MedicineName: "A", Quantity: 0}),
		"bad age":    {PatientName: "P", DoctorName: "D", PatientAge: -1, Items: []RequestedItem{{MedicineName: "A", Quantity: 1}}},
	}
	for name, in := range cases {
		if _, err := f.svc.Create(ctx, "o1", in); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: expected invalid input, got %v", name, err)
		}
	}
	list, _ := f.svc.ListPrescriptions(ctx, "o1", "")
	if len(list) != 0 {
		t.Fatalf("rejected input must not be persisted, got %d", len(list))
	}
}

func TestComplete_Twice(t *testing.T) {
	ctx := context.Background()
	f := setupRx(t)
	a := seedMedicine(t, f.store, "o1", "A", 10, "5")
	p, err := f.svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "A", Quantity: 4}))
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, "o1", p.ID)
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, "o1", p.ID)
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("expected already completed, got %v", err)
	}
	if q := f.quantity(t, a.ID); q != 6 {
		t.Fatalf("second completion must not deduct, got %d", q)
	}
	if got := testutil.ToFloat64(f.reg.CompletionFailures.WithLabelValues("already_completed")); got != 1 {
		t.Fatalf("failure metric: %v", got)
	}
}

func TestComplete_StockDrift(t *testing.T) {
	ctx := context.Background()
	f := setupRx(t)
	a := seedMedicine(t, f.store, "o1", "A", 10, "5")
	b := seedMedicine(t, f.store, "o1", "B", 10, "1")
	p, err := f.svc.Create(ctx, "o1", input(
		RequestedItem{MedicineName: "B", Quantity: 2},
		RequestedItem{MedicineName: "A", Quantity: 5},
	))
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessing, p.Status)

	// stock sold elsewhere after creation
	require.NoError(t, f.store.DecrementIfSufficient(ctx, "o1", a.ID, 8))

	_, err = f.svc.Complete(ctx, "o1", p.ID)
	var ise *InsufficientStockError
	if !errors.As(err, &ise) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if ise.Item != "A" || ise.Requested != 5 || ise.Available != 2 {
		t.Fatalf("unexpected error detail: %+v", ise)
	}
	if !errors.Is(err, repository.ErrInsufficientStock) {
		t.Fatalf("must unwrap to the repository sentinel")
	}
	if q := f.quantity(t, b.ID); q != 10 {
		t.Fatalf("no partial deduction allowed, B = %d", q)
	}
	if q := f.quantity(t, a.ID); q != 2 {
		t.Fatalf("A must stay 2, got %d", q)
	}
	stored, _ := f.svc.GetPrescription(ctx, "o1", p.ID)
	if stored.Status != domain.StatusProcessing {
		t.Fatalf("status must be unchanged, got %s", stored.Status)
	}
}

func TestComplete_CumulativeDemand(t *testing.T) {
	ctx := context.Background()
	f := setupRx(t)
	a := seedMedicine(t, f.store, "o1", "A", 10, "1")
	p, err := f.svc.Create(ctx, "o1", input(
		RequestedItem{MedicineName: "A", Quantity: 6},
		RequestedItem{MedicineName: "a", Quantity: 6},
	))
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessing, p.Status, "each line alone fits at creation")

	_, err = f.svc.Complete(ctx, "o1", p.ID)
	var ise *InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, int64(4), ise.Available)
	assert.Equal(t, int64(10), f.quantity(t, a.ID))
}

func TestComplete_MedicineDeleted(t *testing.T) {
	ctx := context.Background()
	f := setupRx(t)
	a := seedMedicine(t, f.store, "o1", "A", 10, "1")
	p, err := f.svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "A", Quantity: 1}))
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, "o1", a.ID))

	_, err = f.svc.Complete(ctx, "o1", p.ID)
	assert.ErrorIs(t, err, repository.ErrInsufficientStock)
}

func TestComplete_BackorderedItemsNotResourced(t *testing.T) {
	ctx := context.Background()
	f := setupRx(t)
	b := seedMedicine(t, f.store, "o1", "B", 0, "1")
	p, err := f.svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "B", Quantity: 2}))
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, p.Status)

	// restocked after creation: the item stays unfulfilled
	cur, _ := f.store.GetByID(ctx, "o1", b.ID)
	cur.Quantity = 50
	require.NoError(t, f.store.Update(ctx, cur))

	done, err := f.svc.Complete(ctx, "o1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, int64(50), f.quantity(t, b.ID))
}

func TestComplete_Errors(t *testing.T) {
	ctx := context.Background()
	f := setupRx(t)
	seedMedicine(t, f.store, "o1", "A", 10, "1")
	p, err := f.svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "A", Quantity: 1}))
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, "o1", 999)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.svc.Complete(ctx, "o2", p.ID)
	assert.ErrorIs(t, err, repository.ErrUnauthorized)
	_, err = f.svc.Complete(ctx, "o1", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Cancel(ctx, "o1", p.ID)
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, "o1", p.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := setupRx(t)
	a := seedMedicine(t, f.store, "o1", "A", 10, "1")

	for _, qty := range []int64{1, 20} { // processing, pending
		p, err := f.svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "A", Quantity: qty}))
		require.NoError(t, err)
		got, err := f.svc.Cancel(ctx, "o1", p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCancelled, got.Status)
		_, err = f.svc.Cancel(ctx, "o1", p.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
	assert.Equal(t, int64(10), f.quantity(t, a.ID), "cancel has no inventory effect")

	p, err := f.svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "A", Quantity: 1}))
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, "o1", p.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, "o1", p.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.reg.Cancellations))
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	f := setupRx(t)
	seedMedicine(t, f.store, "o1", "A", 10, "1")
	p, err := f.svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "A", Quantity: 1}))
	require.NoError(t, err)

	got, err := f.svc.SetStatus(ctx, "o1", p.ID, "Pending")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)

	_, err = f.svc.SetStatus(ctx, "o1", p.ID, "shipped")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = f.svc.SetStatus(ctx, "o1", p.ID, "completed")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.SetStatus(ctx, "o1", p.ID, "cancelled")
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, "o1", p.ID, "processing")
	assert.ErrorIs(t, err, ErrInvalidTransition, "terminal states are final")
	assert.Equal(t, float64(2), testutil.ToFloat64(f.reg.StatusOverrides))
}

func TestListPrescriptions(t *testing.T) {
	ctx := context.Background()
	f := setupRx(t)
	seedMedicine(t, f.store, "o1", "A", 10, "1")
	first, err := f.svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "A", Quantity: 1}))
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "X", Quantity: 1}))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, "o2", input(RequestedItem{MedicineName: "A", Quantity: 1}))
	require.NoError(t, err)

	all, err := f.svc.ListPrescriptions(ctx, "o1", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")
	assert.Equal(t, first.ID, all[1].ID)

	pending, err := f.svc.ListPrescriptions(ctx, "o1", "pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)

	_, err = f.svc.ListPrescriptions(ctx, "o1", "bogus")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestComplete_ConcurrentNeverOversells(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	f := setupRx(t)
	a := seedMedicine(t, f.store, "o1", "A", 10, "1")

	const n = 8
	ids := make([]int64, n)
	for i := range ids {
		p, err := f.svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "A", Quantity: 3}))
		require.NoError(t, err)
		require.Equal(t, domain.StatusProcessing, p.Status)
		ids[i] = p.ID
	}

	var ok, short int64
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := f.svc.Complete(ctx, "o1", id)
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.Is(err, repository.ErrInsufficientStock):
				atomic.AddInt64(&short, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	require.Equal(t, int64(3), ok)
	require.Equal(t, int64(n-3), short)
	require.Equal(t, int64(1), f.quantity(t, a.ID))
}

func TestComplete_ConcurrentSameOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	f := setupRx(t)
	a := seedMedicine(t, f.store, "o1", "A", 100, "1")
	p, err := f.svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "A", Quantity: 5}))
	require.NoError(t, err)

	const n = 10
	var ok, already int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Complete(ctx, "o1", p.ID)
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.Is(err, ErrAlreadyCompleted):
				atomic.AddInt64(&already, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), ok)
	require.Equal(t, int64(n-1), already)
	require.Equal(t, int64(95), f.quantity(t, a.ID))
}

// flakyTx fails the first conflicts attempts with ErrConflict before delegating.
type flakyTx struct {
	next      repository.TxManager
	conflicts int32
	calls     int32
}

func (tx *flakyTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if atomic.AddInt32(&tx.calls, 1) <= tx.conflicts {
		return repository.ErrConflict
	}
	return tx.next.WithTransaction(ctx, fn)
}

func TestComplete_RetriesConflicts(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	rxs := repository.NewMemoryPrescriptions(store)
	reg := metrics.NewRegistry()
	tx := &flakyTx{next: repository.NewMemoryTx(store), conflicts: 2}
	svc := NewPrescriptionService(store, rxs, tx, WithMetrics(reg), WithMaxRetries(3))

	a := seedMedicine(t, store, "o1", "A", 10, "1")
	p, err := svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "A", Quantity: 2}))
	require.NoError(t, err)

	_, err = svc.Complete(ctx, "o1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&tx.calls))
	assert.Equal(t, float64(2), testutil.ToFloat64(reg.CompletionRetries))

	m, _ := store.GetByID(ctx, "o1", a.ID)
	assert.Equal(t, int64(8), m.Quantity)
}

func TestComplete_GivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	rxs := repository.NewMemoryPrescriptions(store)
	reg := metrics.NewRegistry()
	tx := &flakyTx{next: repository.NewMemoryTx(store), conflicts: 100}
	svc := NewPrescriptionService(store, rxs, tx, WithMetrics(reg), WithMaxRetries(2))

	seedMedicine(t, store, "o1", "A", 10, "1")
	p, err := svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "A", Quantity: 2}))
	require.NoError(t, err)

	_, err = svc.Complete(ctx, "o1", p.ID)
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Equal(t, int32(3), atomic.LoadInt32(&tx.calls))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.CompletionFailures.WithLabelValues("conflict")))
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	ctx := context.Background()
	f := setupRx(t)
	seedMedicine(t, f.store, "o1", "A", 12, "1")

	p, err := f.svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "A", Quantity: 3}))
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, "o1", p.ID)
	require.NoError(t, err)

	// 12 -> 9 crosses the default reorder level of 10
	assert.Equal(t, []events.Type{
		events.PrescriptionCreated,
		events.PrescriptionCompleted,
		events.MedicineLowStock,
	}, f.pub.types())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.reg.LowStockAlerts))
}

func TestRejectedCompletionPublishesNothing(t *testing.T) {
	ctx := context.Background()
	f := setupRx(t)
	a := seedMedicine(t, f.store, "o1", "A", 5, "1")
	p, err := f.svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "A", Quantity: 5}))
	require.NoError(t, err)
	require.NoError(t, f.store.DecrementIfSufficient(ctx, "o1", a.ID, 1))

	_, err = f.svc.Complete(ctx, "o1", p.ID)
	require.Error(t, err)
	assert.Equal(t, []events.Type{events.PrescriptionCreated}, f.pub.types())
}

func TestPublishFailureKeepsCommittedState(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.InfoLevel)
	f := setupRx(t, WithLogger(zap.New(core)))
	f.pub.fail = errors.New("broker down")
	a := seedMedicine(t, f.store, "o1", "A", 5, "1")

	p, err := f.svc.Create(ctx, "o1", input(RequestedItem{MedicineName: "A", Quantity: 2}))
	require.NoError(t, err)
	done, err := f.svc.Complete(ctx, "o1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, int64(3), f.quantity(t, a.ID))
	assert.Equal(t, 2, logs.FilterMessage("publish events").Len())
	assert.Equal(t, 1, logs.FilterMessage("prescription completed").Len())
}
