package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of balance mutations the engine performs.
type Kind uint8

const (
	KindCredit Kind = iota + 1
	KindDebit
	KindTransfer
)

func (k Kind) String() string {
	switch k {
	case KindCredit:
		return "credit"
	case KindDebit:
		return "debit"
	case KindTransfer:
		return "transfer"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind maps the stored/wire spelling back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "credit":
		return KindCredit, nil
	case "debit":
		return KindDebit, nil
	case "transfer":
		return KindTransfer, nil
	}
	return 0, fmt.Errorf("unknown transaction kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if k < KindCredit || k > KindTransfer {
		return nil, fmt.Errorf("unknown transaction kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Status of a recorded transaction. The engine only ever persists completed
// rows; failed is kept for rows written by other tools.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ParseStatus validates a stored status value.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusCompleted, StatusFailed:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown transaction status %q", s)
}

// Transaction is an immutable record of one completed balance mutation.
type Transaction struct {
	ID             uuid.UUID       `json:"id"`
	OwnerID        uuid.UUID       `json:"-"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	Kind           Kind            `json:"transaction_type"`
	FromAccountID  *uuid.UUID      `json:"from_account_id"`
	ToAccountID    *uuid.UUID      `json:"to_account_id"`
	AmountCents    int64           `json:"amount_cents"`
	Currency       string          `json:"currency"`
	Description    *string         `json:"description"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// Account holds a balance in minor units of a single currency.
type Account struct {
	ID           uuid.UUID `json:"id"`
	OwnerID      uuid.UUID `json:"-"`
	Name         string    `json:"account_name"`
	BalanceCents int64     `json:"balance_cents"`
	Currency     string    `json:"currency"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Notification is the outbox row written in the same unit of work as the
// transaction it announces.
type Notification struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	TransactionID uuid.UUID
	CreatedAt     time.Time
}

// CreditRequest adds funds to an account.
type CreditRequest struct {
	OwnerID        uuid.UUID
	AccountID      uuid.UUID
	AmountCents    int64
	Description    *string
	IdempotencyKey *string
	Metadata       json.RawMessage
}

// DebitRequest removes funds from an account.
type DebitRequest struct {
	OwnerID        uuid.UUID
	AccountID      uuid.UUID
	AmountCents    int64
	Description    *string
	IdempotencyKey *string
	Metadata       json.RawMessage
}

// TransferRequest moves funds between two accounts of the same owner.
type TransferRequest struct {
	OwnerID        uuid.UUID
	FromAccountID  uuid.UUID
	ToAccountID    uuid.UUID
	AmountCents    int64
	Description    *string
	IdempotencyKey *string
	Metadata       json.RawMessage
}

// NewAccount provisions an account.
type NewAccount struct {
	OwnerID             uuid.UUID
	Name                string
	Currency            string
	InitialBalanceCents int64
}
