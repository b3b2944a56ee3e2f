// Package postgres implements the order repositories on PostgreSQL through pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hanko-field/orders/internal/repositories"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	// IsoLevel applied to transactions opened by RunInTx; defaults to read committed.
	IsoLevel pgx.TxIsoLevel
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// Store is a repositories.Registry backed by a pgx connection pool. Repositories issue their
// statements on the transaction carried by the context when RunInTx opened one.
type Store struct {
	pool     *pgxpool.Pool
	isoLevel pgx.TxIsoLevel
}

var _ repositories.Registry = (*Store)(nil)

// Open creates the pool and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrapError("ping", err)
	}
	return NewStore(pool, cfg.IsoLevel), nil
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool, isoLevel pgx.TxIsoLevel) *Store {
	if isoLevel == "" {
		isoLevel = pgx.ReadCommitted
	}
	return &Store{pool: pool, isoLevel: isoLevel}
}

// Pool exposes the underlying pool for instrumentation.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return wrapError("migrate", err)
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return wrapError("ping", s.pool.Ping(ctx))
}

// Close implements repositories.Registry.
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// Orders implements repositories.Registry.
func (s *Store) Orders() repositories.OrderRepository { return orderRepository{store: s} }

// OrderItems implements repositories.Registry.
func (s *Store) OrderItems() repositories.OrderItemRepository { return orderItemRepository{store: s} }

// Products implements repositories.Registry.
func (s *Store) Products() repositories.ProductRepository { return productRepository{store: s} }

// Users implements repositories.Registry.
func (s *Store) Users() repositories.UserRepository { return userRepository{store: s} }

// Counters implements repositories.Registry.
func (s *Store) Counters() repositories.CounterRepository { return counterRepository{store: s} }

// RunInTx implements repositories.UnitOfWork. A context that already carries a transaction joins it.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: s.isoLevel})
	if err != nil {
		return wrapError("begin", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return wrapError("commit", err)
	}
	return nil
}

func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}
