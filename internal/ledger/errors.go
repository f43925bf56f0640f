package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrStorage             = errors.New("storage failure")

	// ErrDuplicateIdempotencyKey is raised by stores when the idempotency key
	// constraint rejects an insert. The engine resolves it; callers never see it.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
