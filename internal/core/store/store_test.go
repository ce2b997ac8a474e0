package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mohammed-shakir/pgwfs/internal/core/store"
	"github.com/mohammed-shakir/pgwfs/internal/core/store/storetest"
)

func TestQueryInt(t *testing.T) {
	db := storetest.New().On("count(*)", storetest.Result{Fields: []string{"count"}, Rows: [][]any{{int64(12)}}})
	n, err := store.QueryInt(context.Background(), db, "SELECT count(*) FROM x")
	if err != nil {
		t.Fatalf("QueryInt: %v", err)
	}
	if n != 12 {
		t.Fatalf("got %d want 12", n)
	}
}

func TestQueryInt_NoRows(t *testing.T) {
	db := storetest.New()
	if _, err := store.QueryInt(context.Background(), db, "SELECT 1"); err == nil {
		t.Fatalf("expected error for empty result")
	}
}

func TestQueryInt_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	db := storetest.New().On("SELECT", storetest.Result{Err: boom})
	if _, err := store.QueryInt(context.Background(), db, "SELECT 1"); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
}

func TestToInt64(t *testing.T) {
	for _, v := range []any{int64(3), int32(3), int16(3), 3, float64(3)} {
		n, err := store.ToInt64(v)
		if err != nil || n != 3 {
			t.Fatalf("%T: got %d err=%v", v, n, err)
		}
	}
	if _, err := store.ToInt64("3"); err == nil {
		t.Fatalf("expected error for string")
	}
}

func TestOpen_RequiresDSN(t *testing.T) {
	if _, err := store.Open(context.Background(), store.Config{}); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestInTx_CommitsOnSuccess(t *testing.T) {
	db := storetest.New().On("DELETE", storetest.Result{Affected: 3})
	var n int64
	err := store.InTx(context.Background(), db, func(tx store.Tx) error {
		var err error
		n, err = tx.Exec(context.Background(), "DELETE FROM t")
		return err
	})
	if err != nil || n != 3 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if got := db.TxLog(); len(got) != 2 || got[0] != "begin" || got[1] != "commit" {
		t.Fatalf("tx log %v", got)
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	boom := errors.New("boom")
	db := storetest.New().On("b", storetest.Result{Err: boom})
	err := store.InTx(context.Background(), db, func(tx store.Tx) error {
		if _, err := tx.Exec(context.Background(), "DELETE FROM a"); err != nil {
			return err
		}
		_, err := tx.Exec(context.Background(), "DELETE FROM b")
		return err
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	if got := db.TxLog(); len(got) != 2 || got[1] != "rollback" {
		t.Fatalf("tx log %v", got)
	}
}

func TestInTx_BeginError(t *testing.T) {
	db := storetest.New()
	db.BeginErr = errors.New("pool closed")
	called := false
	err := store.InTx(context.Background(), db, func(store.Tx) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}

func TestQueryBool(t *testing.T) {
	db := storetest.New().
		On("ST_IsValid", storetest.Result{Fields: []string{"st_isvalid"}, Rows: [][]any{{false}}}).
		On("count", storetest.Result{Fields: []string{"count"}, Rows: [][]any{{int64(1)}}})
	ok, err := store.QueryBool(context.Background(), db, "SELECT ST_IsValid(g)")
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if _, err := store.QueryBool(context.Background(), db, "SELECT count(*)"); err == nil {
		t.Fatal("expected type error for non-boolean column")
	}
}
