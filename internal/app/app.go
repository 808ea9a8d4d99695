// Package app wires the service together from configuration. Both binaries and the operator CLI
// build through it so they share one set of stores, adapters and engine settings.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/imrishuroy/go-engagement-orderflow/internal/aws"
	"github.com/imrishuroy/go-engagement-orderflow/internal/catalog"
	"github.com/imrishuroy/go-engagement-orderflow/internal/config"
	"github.com/imrishuroy/go-engagement-orderflow/internal/events"
	"github.com/imrishuroy/go-engagement-orderflow/internal/gateway"
	"github.com/imrishuroy/go-engagement-orderflow/internal/handlers"
	"github.com/imrishuroy/go-engagement-orderflow/internal/metrics"
	"github.com/imrishuroy/go-engagement-orderflow/internal/orders"
	"github.com/imrishuroy/go-engagement-orderflow/internal/reconcile"
	"github.com/imrishuroy/go-engagement-orderflow/internal/scheduler"
	"github.com/imrishuroy/go-engagement-orderflow/internal/supplier"
)

// App holds the constructed components.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Orders    orders.Repository
	Gateway   *gateway.Client
	Supplier  *supplier.Client
	Catalog   *catalog.Catalog
	Engine    *reconcile.Engine
	Scheduler *scheduler.Scheduler

	awsClients *aws.AWSClients
	closers    []func() error
}

// NewLogger returns a JSON logger, or a text logger when running locally.
func NewLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.RunLocal {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// New builds every component. The catalog is loaded once here; a failed load is logged and
// retried by later refreshes rather than failing startup.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = NewLogger(cfg)
	}
	a := &App{Config: cfg, Logger: logger}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Gateway = gateway.New(gateway.Config{
		BaseURL:        cfg.GatewayBaseURL,
		ConsumerKey:    cfg.GatewayConsumerKey,
		ConsumerSecret: cfg.GatewayConsumerSecret,
		Timeout:        cfg.GatewayTimeout,
	})
	a.Supplier = supplier.New(supplier.Config{
		BaseURL: cfg.SupplierBaseURL,
		APIKey:  cfg.SupplierAPIKey,
		Timeout: cfg.SupplierTimeout,
		RPS:     cfg.SupplierRPS,
	})

	a.Catalog = catalog.New(a.Supplier, cfg.CatalogOverrides, logger.With("component", "catalog"))
	if err := a.Catalog.Refresh(ctx); err != nil {
		logger.Warn("initial catalog load failed", "error", err)
	}

	notifier, err := a.notifier(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Engine = reconcile.New(reconcile.Deps{
		Orders:   a.Orders,
		Gateway:  a.Gateway,
		Supplier: a.Supplier,
		Catalog:  a.Catalog,
		Notifier: notifier,
		Logger:   logger.With("component", "engine"),
	}, reconcile.Config{
		PaymentTimeout:         cfg.PaymentTimeout,
		PaymentGrace:           cfg.PaymentGrace,
		RefreshInterval:        cfg.RefreshInterval,
		ClaimTTL:               cfg.ClaimTTL,
		MaxRegistrationRetries: cfg.MaxRegistrationRetries,
		MaxSupplierRetries:     cfg.MaxSupplierRetries,
		CallbackURL:            cfg.GatewayCallbackURL,
		NotificationID:         cfg.GatewayNotificationID,
	})

	opts := []scheduler.Option{scheduler.WithLogger(logger.With("component", "scheduler"))}
	if cfg.RedisAddr != "" {
		client, err := scheduler.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		opts = append(opts, scheduler.WithLocker(scheduler.NewRedisLease(client, cfg.SweepLeaseKey, cfg.SweepInterval)))
	}
	if cfg.MetricsBackend == "cloudwatch" {
		clients, err := a.aws(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, scheduler.WithRecorder(metrics.NewCloudWatchRecorder(clients.CloudWatch, cfg.MetricsNamespace)))
	}
	a.Scheduler = scheduler.New(a.Engine, a.Orders, scheduler.Config{
		Interval:    cfg.SweepInterval,
		BatchSize:   cfg.SweepBatch,
		Concurrency: cfg.SweepConcurrency,
	}, opts...)

	return a, nil
}

// HandlerConfig returns the dependencies for the HTTP handlers.
func (a *App) HandlerConfig() handlers.HandlerConfig {
	return handlers.HandlerConfig{
		Orders:  a.Engine,
		Payment: a.Gateway,
		Sweeper: a.Scheduler,
		Catalog: a.Catalog,
		Logger:  a.Logger.With("component", "http"),
	}
}

// Close releases stores and connections, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.StoreBackend {
	case config.StoreBolt:
		store, err := orders.NewBoltStore(a.Config.BoltPath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		a.Orders = store
	case config.StoreDynamoDB:
		clients, err := a.aws(ctx)
		if err != nil {
			return err
		}
		a.Orders = orders.NewDynamoStore(clients.DynamoDB, a.Config.OrdersTable, a.Config.ReferencesTable)
	default:
		return fmt.Errorf("unknown store backend %q", a.Config.StoreBackend)
	}
	return nil
}

func (a *App) notifier(ctx context.Context) (events.Notifier, error) {
	switch strings.ToLower(a.Config.NotifyBackend) {
	case config.NotifySQS:
		clients, err := a.aws(ctx)
		if err != nil {
			return nil, err
		}
		return events.NewSQSNotifier(aws.NewPublisher(clients.SQS, a.Config.OrdersQueueURL)), nil
	case config.NotifyKafka:
		producer, err := events.NewKafkaProducer(a.Config.KafkaBrokers)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		a.closers = append(a.closers, producer.Close)
		return events.NewKafkaNotifier(producer, a.Config.KafkaTopic), nil
	default:
		return events.Nop{}, nil
	}
}

func (a *App) aws(ctx context.Context) (*aws.AWSClients, error) {
	if a.awsClients != nil {
		return a.awsClients, nil
	}
	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init aws clients: %w", err)
	}
	a.awsClients = clients
	return clients, nil
}
