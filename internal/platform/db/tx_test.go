package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeBeginner struct {
	tx    *fakeTx
	calls int
}

func (b *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	b.calls++
	b.tx = &fakeTx{}
	return b.tx, nil
}

func TestWithTx_Commits(t *testing.T) {
	b := &fakeBeginner{}
	var inner pgx.Tx
	err := WithTx(context.Background(), b, func(ctx context.Context) error {
		inner = TxFromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner != b.tx {
		t.Error("fn must see the transaction on its context")
	}
	if !b.tx.committed || b.tx.rolledBack {
		t.Errorf("expected commit only, got %+v", b.tx)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	b := &fakeBeginner{}
	boom := errors.New("boom")
	err := WithTx(context.Background(), b, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if b.tx.committed || !b.tx.rolledBack {
		t.Errorf("expected rollback only, got %+v", b.tx)
	}
}

func TestWithTx_JoinsOuterTransaction(t *testing.T) {
	b := &fakeBeginner{}
	outer := &fakeTx{}
	ctx := ContextWithTx(context.Background(), outer)

	err := WithTx(ctx, b, func(ctx context.Context) error {
		if TxFromContext(ctx) != outer {
			t.Error("expected the outer transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.calls != 0 {
		t.Error("nested WithTx must not begin a new transaction")
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	if TxFromContext(context.Background()) != nil {
		t.Error("expected nil")
	}
}
