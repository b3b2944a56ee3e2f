package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 20 * time.Second
	defaultStoreBackend        = StoreBackendPostgres
	defaultPostgresMaxConns    = 10
	defaultIdentityBackend     = IdentityBackendStore
	defaultIdentityCacheTTL    = 5 * time.Minute
	defaultEventsBackend       = EventsBackendLog
	defaultEventsTopic         = "orders"
	defaultRabbitMQExchange    = "orders.events"
	defaultNumberStrategy      = "count"
	defaultCounterBackend      = CounterBackendStore
	defaultNumberMaxAttempts   = 50
	defaultCreateMaxAttempts   = 5
	defaultSecurityEnvironment = "local"
)

// Store backends.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Identity backends.
const (
	IdentityBackendStore    = "store"
	IdentityBackendFirebase = "firebase"
)

// Event publisher backends.
const (
	EventsBackendLog      = "log"
	EventsBackendPubSub   = "pubsub"
	EventsBackendKafka    = "kafka"
	EventsBackendRabbitMQ = "rabbitmq"
)

// Counter backends used by the counter order-number strategy.
const (
	CounterBackendStore     = "store"
	CounterBackendFirestore = "firestore"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Postgres  PostgresConfig
	Firebase  FirebaseConfig
	Firestore FirestoreConfig
	Identity  IdentityConfig
	Redis     RedisConfig
	Events    EventsConfig
	Orders    OrdersConfig
	Security  SecurityConfig
}

// ServerConfig configures the operational HTTP server.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig selects the repository backend.
type StoreConfig struct {
	Backend string
}

// PostgresConfig configures the relational store.
type PostgresConfig struct {
	DSN         string
	MaxConns    int
	AutoMigrate bool
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// IdentityConfig selects where user existence is answered and how long answers are cached.
type IdentityConfig struct {
	Backend  string
	CacheTTL time.Duration
}

// RedisConfig configures the optional identity cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EventsConfig selects and configures the order event publisher.
type EventsConfig struct {
	Backend          string
	Topic            string
	PubSubProjectID  string
	KafkaBrokers     []string
	RabbitMQURL      string
	RabbitMQExchange string
}

// OrdersConfig tunes the order workflow.
type OrdersConfig struct {
	NumberStrategy    string
	CounterBackend    string
	NumberMaxAttempts int
	CreateMaxAttempts int
	PricingPolicyFile string
}

// SecurityConfig carries the deployment environment name.
type SecurityConfig struct {
	Environment string
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts...)

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := options.lookup(dotEnvValues)

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(stringWithDefault(lookup, "API_STORE_BACKEND", defaultStoreBackend)),
		},
		Postgres: PostgresConfig{
			DSN:         stringWithDefault(lookup, "API_POSTGRES_DSN", ""),
			MaxConns:    intWithDefault(lookup, "API_POSTGRES_MAX_CONNS", defaultPostgresMaxConns),
			AutoMigrate: boolWithDefault(lookup, "API_POSTGRES_AUTO_MIGRATE", false),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Identity: IdentityConfig{
			Backend:  strings.ToLower(stringWithDefault(lookup, "API_IDENTITY_BACKEND", defaultIdentityBackend)),
			CacheTTL: durationWithDefault(lookup, "API_IDENTITY_CACHE_TTL", defaultIdentityCacheTTL),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
		},
		Events: EventsConfig{
			Backend:          strings.ToLower(stringWithDefault(lookup, "API_EVENTS_BACKEND", defaultEventsBackend)),
			Topic:            stringWithDefault(lookup, "API_EVENTS_TOPIC", defaultEventsTopic),
			PubSubProjectID:  stringWithDefault(lookup, "API_EVENTS_PUBSUB_PROJECT_ID", ""),
			KafkaBrokers:     csvWithDefault(lookup, "API_EVENTS_KAFKA_BROKERS"),
			RabbitMQURL:      stringWithDefault(lookup, "API_EVENTS_RABBITMQ_URL", ""),
			RabbitMQExchange: stringWithDefault(lookup, "API_EVENTS_RABBITMQ_EXCHANGE", defaultRabbitMQExchange),
		},
		Orders: OrdersConfig{
			NumberStrategy:    strings.ToLower(stringWithDefault(lookup, "API_ORDERS_NUMBER_STRATEGY", defaultNumberStrategy)),
			CounterBackend:    strings.ToLower(stringWithDefault(lookup, "API_ORDERS_COUNTER_BACKEND", defaultCounterBackend)),
			NumberMaxAttempts: intWithDefault(lookup, "API_ORDERS_NUMBER_MAX_ATTEMPTS", defaultNumberMaxAttempts),
			CreateMaxAttempts: intWithDefault(lookup, "API_ORDERS_CREATE_MAX_ATTEMPTS", defaultCreateMaxAttempts),
			PricingPolicyFile: stringWithDefault(lookup, "API_ORDERS_PRICING_POLICY_FILE", ""),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
		},
	}

	// Firestore and Pub/Sub default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.PubSubProjectID == "" {
		cfg.Events.PubSubProjectID = cfg.Firestore.ProjectID
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Postgres.DSN", &cfg.Postgres.DSN},
		{"Redis.Password", &cfg.Redis.Password},
		{"Events.RabbitMQURL", &cfg.Events.RabbitMQURL},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var invalid []string
	oneOf := func(field, value string, allowed ...string) {
		for _, candidate := range allowed {
			if value == candidate {
				return
			}
		}
		invalid = append(invalid, field)
	}

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}

	oneOf("Store.Backend", cfg.Store.Backend, StoreBackendPostgres, StoreBackendMemory)
	if cfg.Store.Backend == StoreBackendPostgres {
		if strings.TrimSpace(cfg.Postgres.DSN) == "" {
			invalid = append(invalid, "Postgres.DSN")
		}
		if cfg.Postgres.MaxConns <= 0 {
			invalid = append(invalid, "Postgres.MaxConns")
		}
	}

	oneOf("Identity.Backend", cfg.Identity.Backend, IdentityBackendStore, IdentityBackendFirebase)
	if cfg.Identity.Backend == IdentityBackendFirebase && cfg.Firebase.ProjectID == "" {
		invalid = append(invalid, "Firebase.ProjectID")
	}
	if cfg.Redis.Addr != "" && cfg.Identity.CacheTTL <= 0 {
		invalid = append(invalid, "Identity.CacheTTL")
	}

	oneOf("Events.Backend", cfg.Events.Backend, EventsBackendLog, EventsBackendPubSub, EventsBackendKafka, EventsBackendRabbitMQ)
	if strings.TrimSpace(cfg.Events.Topic) == "" {
		invalid = append(invalid, "Events.Topic")
	}
	switch cfg.Events.Backend {
	case EventsBackendPubSub:
		if cfg.Events.PubSubProjectID == "" {
			invalid = append(invalid, "Events.PubSubProjectID")
		}
	case EventsBackendKafka:
		if len(cfg.Events.KafkaBrokers) == 0 {
			invalid = append(invalid, "Events.KafkaBrokers")
		}
	case EventsBackendRabbitMQ:
		if strings.TrimSpace(cfg.Events.RabbitMQURL) == "" {
			invalid = append(invalid, "Events.RabbitMQURL")
		}
		if strings.TrimSpace(cfg.Events.RabbitMQExchange) == "" {
			invalid = append(invalid, "Events.RabbitMQExchange")
		}
	}

	oneOf("Orders.NumberStrategy", cfg.Orders.NumberStrategy, "count", "counter")
	oneOf("Orders.CounterBackend", cfg.Orders.CounterBackend, CounterBackendStore, CounterBackendFirestore)
	if cfg.Orders.NumberStrategy == "counter" && cfg.Orders.CounterBackend == CounterBackendFirestore && cfg.Firestore.ProjectID == "" {
		invalid = append(invalid, "Firestore.ProjectID")
	}
	if cfg.Orders.NumberMaxAttempts <= 0 {
		invalid = append(invalid, "Orders.NumberMaxAttempts")
	}
	if cfg.Orders.CreateMaxAttempts <= 0 {
		invalid = append(invalid, "Orders.CreateMaxAttempts")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}
