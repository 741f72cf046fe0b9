package repo

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	return conn
}

func TestNewBaseStoresConnection(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db, 0)

	if base.db != db {
		t.Fatalf("expected base db to match provided connection")
	}
	if base.timeout != defaultQueryTimeout {
		t.Fatalf("expected default timeout, got %v", base.timeout)
	}
}

func TestRebindKeepsTimeout(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db, 5*time.Second)

	tx := newTestDB(t)
	rebound := base.Rebind(tx)

	if rebound.db != tx {
		t.Fatalf("expected rebound base to hold the tx handle")
	}
	if rebound.timeout != 5*time.Second {
		t.Fatalf("expected timeout to survive rebind, got %v", rebound.timeout)
	}
}

func TestBaseDB_BindsContext(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db, 0)

	ctx := context.WithValue(context.Background(), struct{}{}, "value")
	withCtx := base.DB(ctx)

	if withCtx == nil {
		t.Fatalf("expected non-nil DB when context provided")
	}
	if withCtx.Statement == nil {
		t.Fatalf("expected statement created after WithContext")
	}
	if withCtx.Statement.Context != ctx {
		t.Fatalf("expected context to flow through, got %v", withCtx.Statement.Context)
	}

	withoutCtx := base.DB(nil)
	if withoutCtx != db {
		t.Fatalf("expected nil context to return raw connection")
	}
}

func TestBoundCapsDeadline(t *testing.T) {
	base := NewBase(newTestDB(t), 100*time.Millisecond)

	ctx, cancel := base.Bound(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatalf("expected a deadline on the bounded context")
	}
	if remaining := time.Until(deadline); remaining > 100*time.Millisecond {
		t.Fatalf("deadline further out than the timeout: %v", remaining)
	}
}

func TestBoundKeepsSoonerCallerDeadline(t *testing.T) {
	base := NewBase(newTestDB(t), time.Minute)

	parent, parentCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer parentCancel()

	ctx, cancel := base.Bound(parent)
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatalf("expected a deadline on the bounded context")
	}
	if remaining := time.Until(deadline); remaining > 10*time.Millisecond {
		t.Fatalf("caller deadline should win, got %v remaining", remaining)
	}
}
