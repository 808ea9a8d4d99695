package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/go-engagement-orderflow/internal/orders"
	"github.com/imrishuroy/go-engagement-orderflow/internal/reconcile"
)

// ErrSweepInProgress is returned when another sweep holds the in-process lock or the lease.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Engine is the reconciliation surface the sweep drives.
type Engine interface {
	NextAction(o *orders.Order) reconcile.Action
	Apply(ctx context.Context, o *orders.Order, a reconcile.Action) (*orders.Order, error)
	ReconcileSupplierBatch(ctx context.Context, list []orders.Order) []reconcile.BatchResult
}

// Lister lists stored orders.
type Lister interface {
	List(ctx context.Context, f orders.ListFilter) ([]orders.Order, error)
}

// Recorder receives a report after every completed sweep.
type Recorder interface {
	RecordSweep(ctx context.Context, r SweepReport) error
}

// Config tunes the sweep.
type Config struct {
	Interval    time.Duration // default 5m
	BatchSize   int           // default 50
	Concurrency int           // default 8
}

// SweepReport summarises one sweep.
type SweepReport struct {
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Scanned   int            `json:"scanned"`
	Selected  int            `json:"selected"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Actions   map[string]int `json:"actions"`
}

// Scheduler runs reconciliation sweeps. At most one sweep runs per process; a Locker extends
// that to every process sharing it.
type Scheduler struct {
	engine   Engine
	orders   Lister
	locker   Locker
	recorder Recorder
	logger   *slog.Logger
	cfg      Config
	nowFunc  func() time.Time

	running sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLocker(l Locker) Option       { return func(s *Scheduler) { s.locker = l } }
func WithRecorder(r Recorder) Option   { return func(s *Scheduler) { s.recorder = r } }
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// New returns a Scheduler.
func New(engine Engine, lister Lister, cfg Config, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	s := &Scheduler{
		engine:  engine,
		orders:  lister,
		logger:  slog.Default(),
		cfg:     cfg,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type job struct {
	order  orders.Order
	action reconcile.Action
}

// RunSweep reconciles up to BatchSize orders that need attention, oldest first. Per-order
// failures are logged and counted; only listing or locking failures fail the sweep.
func (s *Scheduler) RunSweep(ctx context.Context) (SweepReport, error) {
	if !s.running.TryLock() {
		return SweepReport{}, ErrSweepInProgress
	}
	defer s.running.Unlock()

	if s.locker != nil {
		token, ok, err := s.locker.TryAcquire(ctx)
		if err != nil {
			return SweepReport{}, err
		}
		if !ok {
			return SweepReport{}, ErrSweepInProgress
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), token); err != nil {
				s.logger.Warn("sweep lease release failed", "error", err)
			}
		}()
	}

	report := SweepReport{StartedAt: s.nowFunc(), Actions: map[string]int{}}
	list, err := s.orders.List(ctx, orders.ListFilter{Statuses: orders.ActiveStatuses()})
	if err != nil {
		return report, fmt.Errorf("list active orders: %w", err)
	}
	report.Scanned = len(list)

	var jobs []job
	var refresh []orders.Order
	for i := range list {
		a := s.engine.NextAction(&list[i])
		if a == reconcile.ActionNone {
			continue
		}
		if report.Selected == s.cfg.BatchSize {
			break
		}
		report.Selected++
		report.Actions[a.String()]++
		if a == reconcile.ActionRefreshSupplier {
			refresh = append(refresh, list[i])
			continue
		}
		jobs = append(jobs, job{order: list[i], action: a})
	}

	var mu sync.Mutex
	tally := func(orderID string, a string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Failed++
			s.logger.Warn("sweep step failed", "order_id", orderID, "action", a, "error", err)
			return
		}
		report.Succeeded++
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	if len(refresh) > 0 {
		g.Go(func() error {
			for _, r := range s.engine.ReconcileSupplierBatch(ctx, refresh) {
				tally(r.OrderID, reconcile.ActionRefreshSupplier.String(), r.Err)
			}
			return nil
		})
	}
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			_, err := s.engine.Apply(ctx, &j.order, j.action)
			tally(j.order.OrderID, j.action.String(), err)
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = s.nowFunc().Sub(report.StartedAt)
	s.logger.Info("sweep finished",
		"scanned", report.Scanned, "selected", report.Selected,
		"succeeded", report.Succeeded, "failed", report.Failed, "duration", report.Duration)

	if s.recorder != nil {
		if err := s.recorder.RecordSweep(ctx, report); err != nil {
			s.logger.Warn("recording sweep metrics failed", "error", err)
		}
	}
	return report, nil
}

// Start runs a sweep every Interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.cfg.Interval, "batch_size", s.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.RunSweep(ctx); err != nil {
				if errors.Is(err, ErrSweepInProgress) {
					s.logger.Debug("sweep skipped", "reason", err)
					continue
				}
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}
