package ledger

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const transactionColumns = `id, owner_id, idempotency_key, kind, from_account_id, to_account_id,
	amount_cents, currency, description, status, metadata, created_at`

const accountColumns = `id, owner_id, name, balance_cents, currency, created_at, updated_at`

func scanTransaction(row rowScanner) (*Transaction, error) {
	var (
		t           Transaction
		key, desc   sql.NullString
		kind, state string
		from, to    uuid.NullUUID
		metadata    []byte
	)
	err := row.Scan(&t.ID, &t.OwnerID, &key, &kind, &from, &to,
		&t.AmountCents, &t.Currency, &desc, &state, &metadata, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	if t.Kind, err = ParseKind(kind); err != nil {
		return nil, fmt.Errorf("corrupt transaction %s: %w", t.ID, err)
	}
	if t.Status, err = ParseStatus(state); err != nil {
		return nil, fmt.Errorf("corrupt transaction %s: %w", t.ID, err)
	}
	if key.Valid {
		t.IdempotencyKey = &key.String
	}
	if desc.Valid {
		t.Description = &desc.String
	}
	if from.Valid {
		t.FromAccountID = &from.UUID
	}
	if to.Valid {
		t.ToAccountID = &to.UUID
	}
	if len(metadata) > 0 {
		t.Metadata = metadata
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.BalanceCents, &a.Currency, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
