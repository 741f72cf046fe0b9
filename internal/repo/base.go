package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// defaultQueryTimeout matches the BARBERDESK_DB_QUERY_TIMEOUT default.
const defaultQueryTimeout = 2 * time.Second

// Base is the shared foundation for the ticket and staff repositories. It is
// deliberately a value so a repository can rebind to a transaction by
// constructing a fresh Base over the tx handle.
type Base struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewBase constructs a Base backed by the provided GORM connection or
// transaction. A non-positive queryTimeout falls back to the package default.
func NewBase(db *gorm.DB, queryTimeout time.Duration) Base {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return Base{db: db, timeout: queryTimeout}
}

// Rebind returns a Base over the transaction handle, keeping the query timeout.
func (b Base) Rebind(tx *gorm.DB) Base {
	return Base{db: tx, timeout: b.timeout}
}

// DB returns the GORM connection bound to the supplied context (if any).
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Bound caps the context at the query timeout so no store call can hang
// indefinitely. A caller deadline that is already sooner wins.
func (b Base) Bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= b.timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}
