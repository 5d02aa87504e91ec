package database

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/counselops/be-rate-negotiations/internal/apperr"
)

// Config holds Postgres pool settings.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
	LockTimeout time.Duration
}

// Querier is the query surface shared by the pool and open transactions.
// Repositories run every statement through it so that work enclosed in
// WithNegotiationLock lands on the locked transaction automatically.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type txKey struct{}

type lockedKey struct{}

// ContextWithTx binds an open transaction to the context.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction bound to ctx, if any.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// contextWithLocked records the set of negotiation ids whose advisory locks
// the bound transaction holds.
func contextWithLocked(ctx context.Context, ids map[string]bool) context.Context {
	return context.WithValue(ctx, lockedKey{}, ids)
}

// lockedFromContext returns the negotiation ids locked by the transaction
// bound to ctx. The map is shared down the call chain, never copied.
func lockedFromContext(ctx context.Context) map[string]bool {
	ids, _ := ctx.Value(lockedKey{}).(map[string]bool)
	return ids
}

// DB wraps a pgx connection pool.
type DB struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// Q returns the querier for ctx: the bound transaction when one is open,
// otherwise the pool.
func (db *DB) Q(ctx context.Context) Querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return db.pool
}

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, cfg Config) (*DB, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnTime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnTime
	}
	if cfg.MaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxIdleTime
	}
	if cfg.HealthCheck > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheck
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lockTimeout := cfg.LockTimeout
	if lockTimeout == 0 {
		lockTimeout = 5 * time.Second
	}

	return &DB{pool: pool, lockTimeout: lockTimeout}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Query runs a query returning rows, joining any transaction bound to ctx.
func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.Q(ctx).Query(ctx, sql, args...)
}

// QueryRow runs a query returning at most one row, joining any transaction
// bound to ctx.
func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.Q(ctx).QueryRow(ctx, sql, args...)
}

// Exec runs a statement, joining any transaction bound to ctx.
func (db *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.Q(ctx).Exec(ctx, sql, args...)
}

// InTransaction runs fn inside a transaction, committing on nil error.
func (db *DB) InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// WithNegotiationLock runs fn inside a transaction holding an advisory lock
// keyed by the negotiation id. All mutations on a negotiation, its rates, and
// its approval workflow go through here so that at most one applies at a time.
// The transaction is bound to the context handed to fn; repository calls made
// with that context join it. Lock acquisition is bounded by the configured
// lock timeout; contention surfaces as a conflict error.
//
// Nested calls for the same negotiation reuse the held lock. A nested call
// for a different negotiation acquires that negotiation's lock on the same
// transaction.
func (db *DB) WithNegotiationLock(ctx context.Context, negotiationID string, fn func(ctx context.Context) error) error {
	if tx, ok := TxFromContext(ctx); ok {
		locked := lockedFromContext(ctx)
		if locked[negotiationID] {
			// Reentrant call for the same negotiation; just run.
			return fn(ctx)
		}
		// A different negotiation inside an open transaction: take its lock
		// on the same transaction so both stay serialized.
		if err := db.acquireLock(ctx, tx, negotiationID); err != nil {
			return err
		}
		if locked != nil {
			locked[negotiationID] = true
		}
		return fn(ctx)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := db.acquireLock(ctx, tx, negotiationID); err != nil {
		return err
	}

	fnCtx := contextWithLocked(ContextWithTx(ctx, tx), map[string]bool{negotiationID: true})
	if err := fn(fnCtx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (db *DB) acquireLock(ctx context.Context, tx pgx.Tx, negotiationID string) error {
	lockCtx, cancel := context.WithTimeout(ctx, db.lockTimeout)
	defer cancel()

	if _, err := tx.Exec(lockCtx, `SELECT pg_advisory_xact_lock($1)`, LockKey(negotiationID)); err != nil {
		return apperr.Wrap(err, apperr.CodeConflict,
			fmt.Sprintf("negotiation %s is locked by a concurrent operation", negotiationID))
	}
	return nil
}

// LockKey maps a negotiation id onto the 64-bit advisory lock keyspace.
func LockKey(negotiationID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(negotiationID))
	return int64(h.Sum64())
}
