// Package store runs SQL against the PostGIS backing store.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohammed-shakir/pgwfs/internal/core/observability"
)

// Rows is a forward-only result set.
type Rows interface {
	Next() bool
	Values() ([]any, error)
	FieldNames() []string
	Err() error
	Close()
}

// DB is a synchronous query interface with no implicit retry.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
}

// Tx is an open transaction. Rollback after Commit is a no-op.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Config struct {
	DSN      string
	MaxConns int
}

type Pool struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 && cfg.MaxConns <= math.MaxInt32 {
		pc.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Pool{pool: pool}, nil
}

func (p *Pool) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	start := time.Now()
	rows, err := p.pool.Query(ctx, sql, args...)
	observability.ObserveSQL("query", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return pgRows{rows}, nil
}

func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	start := time.Now()
	tag, err := p.pool.Exec(ctx, sql, args...)
	observability.ObserveSQL("exec", err, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Pool) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return pgTx{tx}, nil
}

func (p *Pool) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

func (p *Pool) Close() { p.pool.Close() }

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	start := time.Now()
	tag, err := t.tx.Exec(ctx, sql, args...)
	observability.ObserveSQL("exec", err, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// InTx runs fn in one transaction and commits when it succeeds. Any error
// from fn rolls the transaction back and is returned as is.
func InTx(ctx context.Context, db DB, fn func(Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type pgRows struct {
	pgx.Rows
}

func (r pgRows) FieldNames() []string {
	fds := r.FieldDescriptions()
	out := make([]string, len(fds))
	for i, fd := range fds {
		out[i] = fd.Name
	}
	return out
}

// QueryInt runs a single-value numeric query such as count(*).
func QueryInt(ctx context.Context, db DB, sql string, args ...any) (int64, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("read row: %w", err)
		}
		return 0, errors.New("query returned no rows")
	}
	vals, err := rows.Values()
	if err != nil {
		return 0, fmt.Errorf("read values: %w", err)
	}
	if len(vals) == 0 {
		return 0, errors.New("query returned no columns")
	}
	return ToInt64(vals[0])
}

// QueryBool runs a single-value boolean query such as ST_IsValid.
func QueryBool(ctx context.Context, db DB, sql string, args ...any) (bool, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return false, fmt.Errorf("read row: %w", err)
		}
		return false, errors.New("query returned no rows")
	}
	vals, err := rows.Values()
	if err != nil {
		return false, fmt.Errorf("read values: %w", err)
	}
	if len(vals) == 0 {
		return false, errors.New("query returned no columns")
	}
	b, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected boolean type %T", vals[0])
	}
	return b, nil
}

// ToInt64 converts driver integer values.
func ToInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}
