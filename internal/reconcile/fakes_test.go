package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-engagement-orderflow/internal/catalog"
	"github.com/imrishuroy/go-engagement-orderflow/internal/events"
	"github.com/imrishuroy/go-engagement-orderflow/internal/gateway"
	"github.com/imrishuroy/go-engagement-orderflow/internal/orders"
	"github.com/imrishuroy/go-engagement-orderflow/internal/supplier"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeGateway struct {
	mu          sync.Mutex
	registerErr error
	registered  int
	statuses    map[string]string // tracking id -> description
	statusErr   error
}

func (g *fakeGateway) RegisterOrder(ctx context.Context, r gateway.Registration) (gateway.RegisterResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registered++
	if g.registerErr != nil {
		return gateway.RegisterResult{}, g.registerErr
	}
	return gateway.RegisterResult{TrackingID: "T-" + r.MerchantReference, RedirectURL: "https://pay.example/" + r.MerchantReference}, nil
}

func (g *fakeGateway) GetStatus(ctx context.Context, trackingID string) (gateway.TransactionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return gateway.TransactionStatus{}, g.statusErr
	}
	desc, ok := g.statuses[trackingID]
	if !ok {
		desc = gateway.StatusPending
	}
	return gateway.TransactionStatus{Code: -1, Description: desc}, nil
}

func (g *fakeGateway) setStatus(trackingID, desc string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statuses == nil {
		g.statuses = map[string]string{}
	}
	g.statuses[trackingID] = desc
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "context deadline exceeded" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type fakeSupplier struct {
	placeCalls int32
	placeDelay time.Duration

	mu        sync.Mutex
	placeErrs []error // consumed one per call; nil entry means success
	nextID    int
	statuses  map[string]supplier.OrderStatus
	vendorErr map[string]*supplier.VendorError
	batchErr  error
	cancelErr map[string]*supplier.VendorError
}

func (s *fakeSupplier) Services(ctx context.Context) ([]supplier.Service, error) {
	return []supplier.Service{
		{ID: 1, Name: "IG Followers", Category: "Instagram Followers", Rate: decimal.RequireFromString("0.90"), Min: 100, Max: 10000, Refill: true},
		{ID: 2, Name: "IG Likes", Category: "Instagram Likes", Rate: decimal.RequireFromString("0.30"), Min: 10, Max: 5000},
	}, nil
}

func (s *fakeSupplier) PlaceOrder(ctx context.Context, serviceID int64, link string, quantity int) (string, error) {
	atomic.AddInt32(&s.placeCalls, 1)
	if s.placeDelay > 0 {
		time.Sleep(s.placeDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.placeErrs) > 0 {
		err := s.placeErrs[0]
		s.placeErrs = s.placeErrs[1:]
		if err != nil {
			return "", err
		}
	}
	if s.nextID == 0 {
		s.nextID = 555
	}
	id := s.nextID
	s.nextID++
	return strconv.Itoa(id), nil
}

func (s *fakeSupplier) Status(ctx context.Context, orderID string) (supplier.OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ve, ok := s.vendorErr[orderID]; ok {
		return supplier.OrderStatus{}, &supplier.Error{Op: "status", Message: ve.Message}
	}
	return s.statuses[orderID], nil
}

func (s *fakeSupplier) BatchStatus(ctx context.Context, ids []string) ([]supplier.StatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batchErr != nil {
		return nil, s.batchErr
	}
	out := make([]supplier.StatusResult, 0, len(ids))
	for _, id := range ids {
		if ve, ok := s.vendorErr[id]; ok {
			out = append(out, supplier.StatusResult{OrderID: id, Err: ve})
			continue
		}
		out = append(out, supplier.StatusResult{OrderID: id, Status: s.statuses[id]})
	}
	return out, nil
}

func (s *fakeSupplier) Balance(ctx context.Context) (supplier.Balance, error) {
	return supplier.Balance{Amount: decimal.RequireFromString("42.50"), Currency: "USD"}, nil
}

func (s *fakeSupplier) Refill(ctx context.Context, orderID string) (string, error) {
	return "r-" + orderID, nil
}

func (s *fakeSupplier) Cancel(ctx context.Context, ids []string) ([]supplier.CancelResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]supplier.CancelResult, 0, len(ids))
	for _, id := range ids {
		out = append(out, supplier.CancelResult{OrderID: id, Err: s.cancelErr[id]})
	}
	return out, nil
}

func (s *fakeSupplier) setStatus(id string, st supplier.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses == nil {
		s.statuses = map[string]supplier.OrderStatus{}
	}
	s.statuses[id] = st
}

func (s *fakeSupplier) calls() int { return int(atomic.LoadInt32(&s.placeCalls)) }

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.StatusChanged
}

func (n *recordingNotifier) Notify(ctx context.Context, ev events.StatusChanged) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) all() []events.StatusChanged {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]events.StatusChanged(nil), n.events...)
}

type harness struct {
	engine   *Engine
	store    *orders.BoltStore
	gateway  *fakeGateway
	supplier *fakeSupplier
	clock    *fakeClock
	notes    *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := orders.NewBoltStore(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{
		store:    store,
		gateway:  &fakeGateway{},
		supplier: &fakeSupplier{},
		clock:    &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		notes:    &recordingNotifier{},
	}
	cat := catalog.New(h.supplier, []catalog.Override{
		{Platform: "instagram", Service: "followers", Quality: "high", ServiceID: 1},
	}, nil)
	require.NoError(t, cat.Refresh(context.Background()))

	h.engine = New(Deps{
		Orders:   store,
		Gateway:  h.gateway,
		Supplier: h.supplier,
		Catalog:  cat,
		Notifier: h.notes,
		Clock:    h.clock.Now,
	}, Config{CallbackURL: "https://shop.example/return", NotificationID: "ipn-1"})
	return h
}

func m1Request() CreateOrderRequest {
	return CreateOrderRequest{
		MerchantReference: "m1",
		UserRef:           "user-1",
		Platform:          "instagram",
		ServiceName:       "followers",
		Quality:           "standard",
		TargetLink:        "https://instagram.com/someone",
		Quantity:          1000,
		Amount:            5,
		Currency:          "KES",
	}
}

func (h *harness) reload(t *testing.T, id string) *orders.Order {
	t.Helper()
	o, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

// paid creates an order and confirms its payment; the supplier call must succeed.
func (h *harness) paid(t *testing.T, ref string) *orders.Order {
	t.Helper()
	req := m1Request()
	req.MerchantReference = ref
	o, err := h.engine.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	o, err = h.engine.OnPaymentEvent(context.Background(), ref, gateway.StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, orders.StatusProcessing, o.Status)
	return o
}

var errBoom = errors.New("boom")

// flakyRepo fails the first `failures` updates that record a supplier order id.
type flakyRepo struct {
	orders.Repository
	mu       sync.Mutex
	failures int
	failed   int
}

func (f *flakyRepo) Update(ctx context.Context, id string, cond orders.Condition, p orders.Patch) (*orders.Order, error) {
	if p.SupplierOrderID != nil {
		f.mu.Lock()
		if f.failures > 0 {
			f.failures--
			f.failed++
			f.mu.Unlock()
			return nil, errStore
		}
		f.mu.Unlock()
	}
	return f.Repository.Update(ctx, id, cond, p)
}

var errStore = errors.New("store unavailable")

// withFlakyStore rebuilds the harness engine over a repository that fails supplier id writes.
func (h *harness) withFlakyStore(failures int) *flakyRepo {
	repo := &flakyRepo{Repository: h.store, failures: failures}
	h.engine = New(Deps{
		Orders:   repo,
		Gateway:  h.gateway,
		Supplier: h.supplier,
		Catalog:  h.engine.catalog,
		Notifier: h.notes,
		Clock:    h.clock.Now,
	}, h.engine.cfg)
	h.engine.recordBackoff = time.Millisecond
	return repo
}
