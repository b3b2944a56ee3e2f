// Package di assembles the order workflow and its backing infrastructure from configuration.
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/platform/events"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/platform/identity"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/repositories"
	firestorerepo "github.com/hanko-field/orders/internal/repositories/firestore"
	"github.com/hanko-field/orders/internal/repositories/memory"
	"github.com/hanko-field/orders/internal/repositories/postgres"
	"github.com/hanko-field/orders/internal/services"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// Container holds the wired workflow plus everything that must be closed on shutdown.
type Container struct {
	Config    config.Config
	Logger    *zap.Logger
	Store     repositories.Registry
	Ledger    services.StockLedger
	Numbers   services.OrderNumberGenerator
	Pricing   *services.PricingEngine
	Orders    services.OrderService
	Events    events.Publisher
	Readiness *repositories.ReadinessChecker
	Metrics   *prometheus.Registry

	probes  []repositories.ReadinessProbe
	closers []func(context.Context) error
}

// Option customises NewContainer.
type Option func(*containerOptions)

type containerOptions struct {
	logger   *zap.Logger
	store    repositories.Registry
	events   events.Publisher
	registry *prometheus.Registry
	clock    func() time.Time
}

// WithLogger sets the base logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) { o.logger = logger }
}

// WithStore injects a repository registry instead of building one from config.
func WithStore(store repositories.Registry) Option {
	return func(o *containerOptions) { o.store = store }
}

// WithEventPublisher injects the event publisher instead of building one from config.
func WithEventPublisher(publisher events.Publisher) Option {
	return func(o *containerOptions) { o.events = publisher }
}

// WithMetricsRegistry sets the Prometheus registry collectors are registered on.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(o *containerOptions) { o.registry = reg }
}

// WithClock overrides the clock used by the workflow.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) { o.clock = clock }
}

// NewContainer builds the workflow. Resources opened before a failure are released.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (_ *Container, err error) {
	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}
	if options.registry == nil {
		options.registry = prometheus.NewRegistry()
		options.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	c := &Container{
		Config:  cfg,
		Logger:  options.logger,
		Metrics: options.registry,
	}
	defer func() {
		if err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
		}
	}()

	if err := c.buildStore(ctx, options.store); err != nil {
		return nil, err
	}

	metrics, err := observability.NewOrderMetrics(c.Metrics)
	if err != nil {
		return nil, fmt.Errorf("di: order metrics: %w", err)
	}
	logEvent := observability.EventLogger(c.Logger.Named("orders"))

	policy, err := config.LoadPricingPolicy(cfg.Orders.PricingPolicyFile)
	if err != nil {
		return nil, err
	}
	if c.Pricing, err = services.NewPricingEngine(policy); err != nil {
		return nil, fmt.Errorf("di: pricing engine: %w", err)
	}

	counters, err := c.buildCounters()
	if err != nil {
		return nil, err
	}
	if c.Numbers, err = services.NewOrderNumberGenerator(services.OrderNumberGeneratorDeps{
		Strategy:    cfg.Orders.NumberStrategy,
		Orders:      c.Store.Orders(),
		Counters:    counters,
		MaxAttempts: cfg.Orders.NumberMaxAttempts,
		Metrics:     metrics,
		Logger:      logEvent,
	}); err != nil {
		return nil, fmt.Errorf("di: order number generator: %w", err)
	}

	users, err := c.buildUserDirectory(ctx)
	if err != nil {
		return nil, err
	}

	if options.events != nil {
		c.Events = options.events
	} else if c.Events, err = c.buildEvents(ctx); err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func(context.Context) error { return c.Events.Close() })
	if p, ok := c.Events.(pinger); ok {
		c.probes = append(c.probes, repositories.ReadinessProbe{Name: "events", Check: p.Ping})
	}

	if c.Ledger, err = services.NewStockLedger(services.StockLedgerDeps{
		Products:   c.Store.Products(),
		UnitOfWork: c.Store,
		Metrics:    metrics,
		Clock:      options.clock,
	}); err != nil {
		return nil, fmt.Errorf("di: stock ledger: %w", err)
	}

	if c.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:            c.Store.Orders(),
		Items:             c.Store.OrderItems(),
		Products:          c.Store.Products(),
		Users:             users,
		Ledger:            c.Ledger,
		Numbers:           c.Numbers,
		Pricing:           c.Pricing,
		UnitOfWork:        c.Store,
		Events:            c.Events,
		Metrics:           metrics,
		CreateMaxAttempts: cfg.Orders.CreateMaxAttempts,
		Clock:             options.clock,
		Logger:            logEvent,
	}); err != nil {
		return nil, fmt.Errorf("di: order service: %w", err)
	}

	if c.Readiness, err = repositories.NewReadinessChecker(c.probes); err != nil {
		return nil, fmt.Errorf("di: readiness: %w", err)
	}
	return c, nil
}

func (c *Container) buildStore(ctx context.Context, injected repositories.Registry) error {
	switch {
	case injected != nil:
		c.Store = injected
	case c.Config.Store.Backend == config.StoreBackendMemory:
		c.Store = memory.NewStore()
	default:
		store, err := postgres.Open(ctx, postgres.Config{
			DSN:      c.Config.Postgres.DSN,
			MaxConns: int32(c.Config.Postgres.MaxConns),
		})
		if err != nil {
			return fmt.Errorf("di: open postgres: %w", err)
		}
		if c.Config.Postgres.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				store.Close(ctx)
				return fmt.Errorf("di: migrate postgres: %w", err)
			}
		}
		if err := c.Metrics.Register(observability.NewPoolStatsCollector(store.Pool())); err != nil {
			store.Close(ctx)
			return fmt.Errorf("di: register pool metrics: %w", err)
		}
		c.Store = store
	}
	c.closers = append(c.closers, c.Store.Close)
	if p, ok := c.Store.(pinger); ok {
		c.probes = append(c.probes, repositories.ReadinessProbe{Name: "store", Critical: true, Check: p.Ping})
	}
	return nil
}

func (c *Container) buildCounters() (repositories.CounterRepository, error) {
	if c.Config.Orders.CounterBackend != config.CounterBackendFirestore {
		return c.Store.Counters(), nil
	}
	provider := pfirestore.NewProvider(c.Config.Firestore)
	c.closers = append(c.closers, provider.Close)
	counters, err := firestorerepo.NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("di: firestore counters: %w", err)
	}
	c.probes = append(c.probes, repositories.ReadinessProbe{Name: "firestore", Critical: true, Check: provider.Ping})
	c.Logger.Info("order numbers drawn from firestore counters", zap.String("project", c.Config.Firestore.ProjectID))
	return counters, nil
}

func (c *Container) buildUserDirectory(ctx context.Context) (services.UserDirectory, error) {
	var directory services.UserDirectory
	switch c.Config.Identity.Backend {
	case config.IdentityBackendFirebase:
		firebaseDir, err := identity.NewFirebaseDirectory(ctx, c.Config.Firebase)
		if err != nil {
			return nil, fmt.Errorf("di: firebase directory: %w", err)
		}
		directory = firebaseDir
	default:
		directory = services.NewRepositoryUserDirectory(c.Store.Users())
	}

	if c.Config.Redis.Addr == "" {
		return directory, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })
	store := identity.NewRedisStore(client)
	c.probes = append(c.probes, repositories.ReadinessProbe{Name: "redis", Check: store.Ping})

	cached, err := identity.NewCachedDirectory(directory, store, c.Config.Identity.CacheTTL, c.Logger.Named("identity"))
	if err != nil {
		return nil, fmt.Errorf("di: identity cache: %w", err)
	}
	return cached, nil
}

func (c *Container) buildEvents(ctx context.Context) (events.Publisher, error) {
	cfg := c.Config.Events
	switch cfg.Backend {
	case config.EventsBackendPubSub:
		publisher, err := events.DialPubSub(ctx, cfg.PubSubProjectID, cfg.Topic)
		if err != nil {
			return nil, fmt.Errorf("di: pubsub events: %w", err)
		}
		return publisher, nil
	case config.EventsBackendKafka:
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.Topic, c.Logger.Named("kafka"))
		if err != nil {
			return nil, fmt.Errorf("di: kafka events: %w", err)
		}
		return publisher, nil
	case config.EventsBackendRabbitMQ:
		publisher, err := events.DialRabbitMQ(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			return nil, fmt.Errorf("di: rabbitmq events: %w", err)
		}
		return publisher, nil
	default:
		return events.NewLogPublisher(c.Logger.Named("events")), nil
	}
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
