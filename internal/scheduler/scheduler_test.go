package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-engagement-orderflow/internal/catalog"
	"github.com/imrishuroy/go-engagement-orderflow/internal/gateway"
	"github.com/imrishuroy/go-engagement-orderflow/internal/orders"
	"github.com/imrishuroy/go-engagement-orderflow/internal/reconcile"
	"github.com/imrishuroy/go-engagement-orderflow/internal/supplier"
)

type staticLister struct{ list []orders.Order }

func (l *staticLister) List(ctx context.Context, f orders.ListFilter) ([]orders.Order, error) {
	return append([]orders.Order(nil), l.list...), nil
}

// fakeEngine selects by order id and optionally blocks Apply until release is closed.
type fakeEngine struct {
	actions map[string]reconcile.Action
	fail    map[string]bool
	started chan struct{}
	release chan struct{}

	mu      sync.Mutex
	applied []string
	batched []string
}

func (e *fakeEngine) NextAction(o *orders.Order) reconcile.Action { return e.actions[o.OrderID] }

func (e *fakeEngine) Apply(ctx context.Context, o *orders.Order, a reconcile.Action) (*orders.Order, error) {
	if e.started != nil {
		e.started <- struct{}{}
	}
	if e.release != nil {
		<-e.release
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = append(e.applied, o.OrderID)
	if e.fail[o.OrderID] {
		return nil, errors.New("vendor down")
	}
	return o, nil
}

func (e *fakeEngine) ReconcileSupplierBatch(ctx context.Context, list []orders.Order) []reconcile.BatchResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]reconcile.BatchResult, 0, len(list))
	for _, o := range list {
		e.batched = append(e.batched, o.OrderID)
		out = append(out, reconcile.BatchResult{OrderID: o.OrderID})
	}
	return out
}

func ordersWithIDs(ids ...string) []orders.Order {
	out := make([]orders.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, orders.Order{OrderID: id, Status: orders.StatusPendingPayment})
	}
	return out
}

type recorder struct {
	reports []SweepReport
}

func (r *recorder) RecordSweep(ctx context.Context, rep SweepReport) error {
	r.reports = append(r.reports, rep)
	return nil
}

func TestRunSweep_SelectsAndIsolatesFailures(t *testing.T) {
	eng := &fakeEngine{
		actions: map[string]reconcile.Action{
			"a": reconcile.ActionExpire,
			"b": reconcile.ActionNone,
			"c": reconcile.ActionRefreshSupplier,
			"d": reconcile.ActionPollPayment,
			"e": reconcile.ActionRetrySupplier,
		},
		fail: map[string]bool{"d": true},
	}
	rec := &recorder{}
	s := New(eng, &staticLister{list: ordersWithIDs("a", "b", "c", "d", "e")}, Config{}, WithRecorder(rec))

	report, err := s.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 4, report.Selected)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Actions["refresh_supplier"])
	assert.Equal(t, 1, report.Actions["expire"])

	assert.ElementsMatch(t, []string{"a", "d", "e"}, eng.applied)
	assert.Equal(t, []string{"c"}, eng.batched)
	require.Len(t, rec.reports, 1)
}

func TestRunSweep_BatchSizeOldestFirst(t *testing.T) {
	eng := &fakeEngine{actions: map[string]reconcile.Action{
		"a": reconcile.ActionExpire, "b": reconcile.ActionExpire, "c": reconcile.ActionExpire,
	}}
	s := New(eng, &staticLister{list: ordersWithIDs("a", "b", "c")}, Config{BatchSize: 2, Concurrency: 1})

	report, err := s.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Selected)
	assert.Equal(t, []string{"a", "b"}, eng.applied)
}

func TestRunSweep_NonOverlapping(t *testing.T) {
	eng := &fakeEngine{
		actions: map[string]reconcile.Action{"a": reconcile.ActionExpire},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s := New(eng, &staticLister{list: ordersWithIDs("a")}, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := s.RunSweep(context.Background())
		done <- err
	}()
	<-eng.started

	_, err := s.RunSweep(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)

	close(eng.release)
	require.NoError(t, <-done)

	eng.started = nil
	_, err = s.RunSweep(context.Background())
	assert.NoError(t, err)
}

type fakeRedis struct {
	mu       sync.Mutex
	holder   string
	released []string
	setErr   error
}

func (r *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setErr != nil {
		return redis.NewBoolResult(false, r.setErr)
	}
	if r.holder != "" {
		return redis.NewBoolResult(false, nil)
	}
	r.holder = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (r *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	token := args[0].(string)
	r.released = append(r.released, token)
	if r.holder == token {
		r.holder = ""
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLease(t *testing.T) {
	ctx := context.Background()
	rdb := &fakeRedis{}
	lease := NewRedisLease(rdb, "sweep", time.Minute)

	token, ok, err := lease.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lease.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// a foreign token must not release our lease
	require.NoError(t, lease.Release(ctx, "someone-else"))
	assert.Equal(t, token, rdb.holder)

	require.NoError(t, lease.Release(ctx, token))
	assert.Empty(t, rdb.holder)
}

func TestRunSweep_LeaseHeldElsewhere(t *testing.T) {
	rdb := &fakeRedis{holder: "other-instance"}
	eng := &fakeEngine{actions: map[string]reconcile.Action{"a": reconcile.ActionExpire}}
	s := New(eng, &staticLister{list: ordersWithIDs("a")}, Config{}, WithLocker(NewRedisLease(rdb, "sweep", time.Minute)))

	_, err := s.RunSweep(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)
	assert.Empty(t, eng.applied)

	rdb.holder = ""
	_, err = s.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, eng.applied)
	assert.Empty(t, rdb.holder)
	assert.Len(t, rdb.released, 1)
}

func TestRunSweep_LeaseError(t *testing.T) {
	rdb := &fakeRedis{setErr: errors.New("connection refused")}
	s := New(&fakeEngine{}, &staticLister{}, Config{}, WithLocker(NewRedisLease(rdb, "sweep", time.Minute)))

	_, err := s.RunSweep(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSweepInProgress)
}

// --- end to end with the real engine ---

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type stubGateway struct{}

func (stubGateway) RegisterOrder(ctx context.Context, r gateway.Registration) (gateway.RegisterResult, error) {
	return gateway.RegisterResult{TrackingID: "T-" + r.MerchantReference}, nil
}

func (stubGateway) GetStatus(ctx context.Context, trackingID string) (gateway.TransactionStatus, error) {
	return gateway.TransactionStatus{Code: -1, Description: gateway.StatusPending}, nil
}

type stubSupplier struct {
	mu     sync.Mutex
	placed int
	status string
}

func (s *stubSupplier) Services(ctx context.Context) ([]supplier.Service, error) {
	return []supplier.Service{{ID: 1, Category: "Instagram Followers", Rate: decimal.RequireFromString("0.9"), Min: 100, Max: 10000}}, nil
}

func (s *stubSupplier) PlaceOrder(ctx context.Context, serviceID int64, link string, quantity int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placed++
	return "555", nil
}

func (s *stubSupplier) Status(ctx context.Context, id string) (supplier.OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return supplier.OrderStatus{Status: s.status}, nil
}

func (s *stubSupplier) BatchStatus(ctx context.Context, ids []string) ([]supplier.StatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]supplier.StatusResult, 0, len(ids))
	for _, id := range ids {
		out = append(out, supplier.StatusResult{OrderID: id, Status: supplier.OrderStatus{Status: s.status}})
	}
	return out, nil
}

func (s *stubSupplier) Balance(ctx context.Context) (supplier.Balance, error) { return supplier.Balance{}, nil }
func (s *stubSupplier) Refill(ctx context.Context, id string) (string, error) { return "", nil }
func (s *stubSupplier) Cancel(ctx context.Context, ids []string) ([]supplier.CancelResult, error) {
	return nil, nil
}

func TestSweep_M1ReachesCompletedAndIsExcluded(t *testing.T) {
	ctx := context.Background()
	store, err := orders.NewBoltStore(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sup := &stubSupplier{status: "In progress"}
	cat := catalog.New(sup, nil, nil)
	require.NoError(t, cat.Refresh(ctx))
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}

	engine := reconcile.New(reconcile.Deps{
		Orders: store, Gateway: stubGateway{}, Supplier: sup, Catalog: cat, Clock: clk.Now,
	}, reconcile.Config{})
	s := New(engine, store, Config{})

	o, err := engine.CreateOrder(ctx, reconcile.CreateOrderRequest{
		MerchantReference: "m1", UserRef: "u1", Platform: "instagram", ServiceName: "followers",
		Quality: "standard", TargetLink: "https://instagram.com/someone", Quantity: 1000, Amount: 5, Currency: "KES",
	})
	require.NoError(t, err)
	_, err = engine.OnPaymentEvent(ctx, "m1", "COMPLETED")
	require.NoError(t, err)

	report, err := s.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Actions["refresh_supplier"])
	got, err := store.Get(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, got.Status)
	assert.Equal(t, "In progress", got.SupplierStatus)

	// refreshed recently: not selected again until the interval passes
	report, err = s.RunSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Selected)

	sup.mu.Lock()
	sup.status = "Completed"
	sup.mu.Unlock()
	clk.Advance(16 * time.Minute)

	report, err = s.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	got, err = store.Get(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCompleted, got.Status)

	clk.Advance(time.Hour)
	report, err = s.RunSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
	assert.Zero(t, report.Selected)
	assert.Equal(t, 1, sup.placed)
}
