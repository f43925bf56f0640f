package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/example/business-ledger/internal/database"
)

const (
	pgUniqueViolation    = "23505"
	pgCheckViolation     = "23514"
	idempotencyKeyUnique = "transactions_idempotency_key_key"
	balanceCheck         = "accounts_balance_cents_check"
	queryTimeout         = 5 * time.Second
)

// PostgresStore keeps accounts and transactions in PostgreSQL and serialises
// writers with SELECT ... FOR UPDATE row locks.
type PostgresStore struct {
	pool database.Pool
}

// NewPostgresStore creates a store on an existing pool.
func NewPostgresStore(pool database.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return storageErr("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError("failed to commit transaction", err)
	}
	return nil
}

func (s *PostgresStore) TransactionByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.pool.QueryRow(queryCtx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, storageErr("failed to get transaction", err)
	}
	return t, nil
}

func (s *PostgresStore) TransactionByIdempotencyKey(ctx context.Context, key string) (*Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.pool.QueryRow(queryCtx, `SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, key)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, storageErr("failed to get transaction by idempotency key", err)
	}
	return t, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *Account) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(queryCtx, `
		INSERT INTO accounts (id, owner_id, name, balance_cents, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.OwnerID, a.Name, a.BalanceCents, a.Currency, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return mapPgError("failed to create account", err)
	}
	return nil
}

func (s *PostgresStore) Account(ctx context.Context, ownerID, id uuid.UUID) (*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.pool.QueryRow(queryCtx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 AND owner_id = $2`, id, ownerID)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, storageErr("failed to get account", err)
	}
	return a, nil
}

func (s *PostgresStore) Accounts(ctx context.Context, ownerID uuid.UUID) ([]*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(queryCtx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE owner_id = $1
		ORDER BY created_at DESC, id
	`, ownerID)
	if err != nil {
		return nil, storageErr("failed to list accounts", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, storageErr("failed to scan account", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("failed to list accounts", err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storageErr("failed to ping database", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockAccount(ctx context.Context, ownerID, id uuid.UUID) (*Account, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE id = $1 AND owner_id = $2
		FOR UPDATE
	`, id, ownerID)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, storageErr("failed to lock account", err)
	}
	return a, nil
}

func (t *pgTx) AddBalance(ctx context.Context, id uuid.UUID, delta int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE accounts SET balance_cents = balance_cents + $1, updated_at = now()
		WHERE id = $2
	`, delta, id)
	if err != nil {
		return mapPgError("failed to update balance", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *Transaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, tr.ID, tr.OwnerID, tr.IdempotencyKey, tr.Kind.String(), tr.FromAccountID, tr.ToAccountID,
		tr.AmountCents, tr.Currency, tr.Description, string(tr.Status), nullableJSON(tr.Metadata), tr.CreatedAt)
	if err != nil {
		return mapPgError("failed to insert transaction", err)
	}
	return nil
}

func (t *pgTx) EnqueueNotification(ctx context.Context, n Notification) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO webhook_outbox (id, owner_id, transaction_id, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, 0, $4, $4)
	`, n.ID, n.OwnerID, n.TransactionID, n.CreatedAt)
	if err != nil {
		return mapPgError("failed to enqueue notification", err)
	}
	return nil
}

func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == idempotencyKeyUnique:
			return ErrDuplicateIdempotencyKey
		case pgErr.Code == pgCheckViolation && pgErr.ConstraintName == balanceCheck:
			// balance_cents >= 0 backstop; the engine checks first.
			return fmt.Errorf("%s: %w", op, ErrInsufficientBalance)
		}
	}
	return storageErr(op, err)
}
