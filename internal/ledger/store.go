package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Store is the durable side of the engine. Implementations map a unique
// violation on the idempotency key to ErrDuplicateIdempotencyKey, a missing
// row to the matching not-found sentinel, and everything else to ErrStorage.
type Store interface {
	// WithinTx runs fn in one unit of work. The unit commits only when fn
	// returns nil; fn's error is returned unchanged.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	TransactionByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	TransactionByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)

	CreateAccount(ctx context.Context, a *Account) error
	Account(ctx context.Context, ownerID, id uuid.UUID) (*Account, error)
	Accounts(ctx context.Context, ownerID uuid.UUID) ([]*Account, error)

	Ping(ctx context.Context) error
}

// Tx is the view of the store inside a unit of work.
type Tx interface {
	// LockAccount reads the account and holds its row lock until the unit
	// ends. Accounts of other owners are reported as ErrAccountNotFound.
	LockAccount(ctx context.Context, ownerID, id uuid.UUID) (*Account, error)
	AddBalance(ctx context.Context, id uuid.UUID, delta int64) error
	InsertTransaction(ctx context.Context, t *Transaction) error
	EnqueueNotification(ctx context.Context, n Notification) error
}
