// Package storetest provides a scripted store.DB for tests.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mohammed-shakir/pgwfs/internal/core/store"
)

type Result struct {
	Fields   []string
	Rows     [][]any
	Affected int64
	Err      error
}

type Call struct {
	SQL  string
	Args []any
}

type handler struct {
	contains string
	args     []any
	res      Result
}

// DB answers statements with the first registered result whose substring
// occurs in the SQL; unmatched statements return an empty result.
type DB struct {
	mu        sync.Mutex
	handlers  []handler
	calls     []Call
	txLog     []string
	PingErr   error
	BeginErr  error
	CommitErr error
}

func New() *DB { return &DB{} }

func (d *DB) On(contains string, res Result) *DB {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, handler{contains: contains, res: res})
	return d
}

// OnArgs is On restricted to statements bound with exactly args.
func (d *DB) OnArgs(contains string, args []any, res Result) *DB {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, handler{contains: contains, args: args, res: res})
	return d
}

func (d *DB) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

func (d *DB) match(sql string, args []any) Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{SQL: sql, Args: args})
	for _, h := range d.handlers {
		if !strings.Contains(sql, h.contains) {
			continue
		}
		if h.args != nil && fmt.Sprint(h.args) != fmt.Sprint(args) {
			continue
		}
		return h.res
	}
	return Result{}
}

func (d *DB) Query(ctx context.Context, sql string, args ...any) (store.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := d.match(sql, args)
	if res.Err != nil {
		return nil, res.Err
	}
	return &rows{fields: res.Fields, data: res.Rows, i: -1}, nil
}

func (d *DB) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res := d.match(sql, args)
	return res.Affected, res.Err
}

func (d *DB) Ping(context.Context) error { return d.PingErr }

// TxLog lists "begin", "commit" and "rollback" in the order they happened.
func (d *DB) TxLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.txLog...)
}

func (d *DB) logTx(ev string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txLog = append(d.txLog, ev)
}

func (d *DB) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.BeginErr != nil {
		return nil, d.BeginErr
	}
	d.logTx("begin")
	return &tx{db: d}, nil
}

// tx runs statements through the same handlers as DB.
type tx struct {
	db   *DB
	done bool
}

func (t *tx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if t.done {
		return 0, fmt.Errorf("storetest: exec on finished transaction")
	}
	return t.db.Exec(ctx, sql, args...)
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return fmt.Errorf("storetest: commit on finished transaction")
	}
	t.done = true
	if t.db.CommitErr != nil {
		t.db.logTx("rollback")
		return t.db.CommitErr
	}
	t.db.logTx("commit")
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if !t.done {
		t.done = true
		t.db.logTx("rollback")
	}
	return nil
}

// NewRows wraps fixed data as a result set.
func NewRows(fields []string, data ...[]any) store.Rows {
	return &rows{fields: fields, data: data, i: -1}
}

type rows struct {
	fields []string
	data   [][]any
	i      int
}

func (r *rows) Next() bool {
	r.i++
	return r.i < len(r.data)
}

func (r *rows) Values() ([]any, error) { return r.data[r.i], nil }
func (r *rows) FieldNames() []string  { return r.fields }
func (r *rows) Err() error            { return nil }
func (r *rows) Close()                {}
