package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps accounts and transactions in SQLite. SQLite has no row
// locks; the database must be opened with _txlock=immediate (see
// database.OpenSQLite) so every unit of work holds the write lock from BEGIN.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a store on an open database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapSQLiteError("failed to commit transaction", err)
	}
	return nil
}

func (s *SQLiteStore) TransactionByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, storageErr("failed to get transaction", err)
	}
	return t, nil
}

func (s *SQLiteStore) TransactionByIdempotencyKey(ctx context.Context, key string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = ?`, key)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, storageErr("failed to get transaction by idempotency key", err)
	}
	return t, nil
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, a *Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, owner_id, name, balance_cents, currency, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.OwnerID, a.Name, a.BalanceCents, a.Currency, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return mapSQLiteError("failed to create account", err)
	}
	return nil
}

func (s *SQLiteStore) Account(ctx context.Context, ownerID, id uuid.UUID) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ? AND owner_id = ?`, id, ownerID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, storageErr("failed to get account", err)
	}
	return a, nil
}

func (s *SQLiteStore) Accounts(ctx context.Context, ownerID uuid.UUID) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE owner_id = ?
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

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("failed to ping database", err)
	}
	return nil
}

type sqliteTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *sqliteTx) LockAccount(ctx context.Context, ownerID, id uuid.UUID) (*Account, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ? AND owner_id = ?`, id, ownerID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, storageErr("failed to lock account", err)
	}
	return a, nil
}

func (t *sqliteTx) AddBalance(ctx context.Context, id uuid.UUID, delta int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE accounts SET balance_cents = balance_cents + ?, updated_at = ?
		WHERE id = ?
	`, delta, t.now().UTC(), id)
	if err != nil {
		return mapSQLiteError("failed to update balance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("failed to update balance", err)
	}
	if n != 1 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return nil
}

func (t *sqliteTx) InsertTransaction(ctx context.Context, tr *Transaction) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tr.ID, tr.OwnerID, tr.IdempotencyKey, tr.Kind.String(), tr.FromAccountID, tr.ToAccountID,
		tr.AmountCents, tr.Currency, tr.Description, string(tr.Status), nullableJSON(tr.Metadata), tr.CreatedAt)
	if err != nil {
		return mapSQLiteError("failed to insert transaction", err)
	}
	return nil
}

func (t *sqliteTx) EnqueueNotification(ctx context.Context, n Notification) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO webhook_outbox (id, owner_id, transaction_id, attempts, next_attempt_at, created_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, n.ID, n.OwnerID, n.TransactionID, n.CreatedAt, n.CreatedAt)
	if err != nil {
		return mapSQLiteError("failed to enqueue notification", err)
	}
	return nil
}

func mapSQLiteError(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(sqliteErr.Error(), "transactions.idempotency_key"):
			return ErrDuplicateIdempotencyKey
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintCheck && strings.Contains(sqliteErr.Error(), "balance_cents"):
			return fmt.Errorf("%s: %w", op, ErrInsufficientBalance)
		}
	}
	return storageErr(op, err)
}
