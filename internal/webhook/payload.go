package webhook

import (
	"time"

	"github.com/google/uuid"

	"github.com/example/business-ledger/internal/ledger"
)

const EventTransactionCompleted = "transaction.completed"

// Payload is the JSON document POSTed to endpoints. Field order is part of
// the wire format: receivers verify signatures over these exact bytes.
type Payload struct {
	EventType string      `json:"event_type"`
	EventID   uuid.UUID   `json:"event_id"`
	CreatedAt time.Time   `json:"created_at"`
	Data      PayloadData `json:"data"`
}

// PayloadData wraps the transaction under "data".
type PayloadData struct {
	Transaction TransactionData `json:"transaction"`
}

// TransactionData is the public view of a transaction inside a payload.
type TransactionData struct {
	ID            uuid.UUID     `json:"id"`
	Type          ledger.Kind   `json:"type"`
	FromAccountID *uuid.UUID    `json:"from_account_id"`
	ToAccountID   *uuid.UUID    `json:"to_account_id"`
	AmountCents   int64         `json:"amount_cents"`
	Currency      string        `json:"currency"`
	Description   *string       `json:"description"`
	Status        ledger.Status `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NewPayload snapshots tx into a transaction.completed event.
func NewPayload(eventID uuid.UUID, tx *ledger.Transaction, now time.Time) Payload {
	return Payload{
		EventType: EventTransactionCompleted,
		EventID:   eventID,
		CreatedAt: now.UTC(),
		Data: PayloadData{
			Transaction: TransactionData{
				ID:            tx.ID,
				Type:          tx.Kind,
				FromAccountID: tx.FromAccountID,
				ToAccountID:   tx.ToAccountID,
				AmountCents:   tx.AmountCents,
				Currency:      tx.Currency,
				Description:   tx.Description,
				Status:        tx.Status,
				CreatedAt:     tx.CreatedAt.UTC(),
			},
		},
	}
}
