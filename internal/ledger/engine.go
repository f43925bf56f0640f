package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Engine applies credits, debits and transfers atomically and idempotently.
type Engine struct {
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	onCommit func(*Transaction)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger; nil keeps slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source used for created_at stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCommitHook registers a function called after every committed
// transaction. It runs on the caller's goroutine and must not block.
func WithCommitHook(fn func(*Transaction)) Option {
	return func(e *Engine) { e.onCommit = fn }
}

// NewEngine creates an engine on top of store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Credit adds AmountCents to the account.
func (e *Engine) Credit(ctx context.Context, req CreditRequest) (*Transaction, error) {
	if err := validateAmount(req.AmountCents); err != nil {
		return nil, err
	}
	if err := validateOptionalFields(req.Description, req.IdempotencyKey, req.Metadata); err != nil {
		return nil, err
	}
	to := req.AccountID
	t := e.newTransaction(req.OwnerID, KindCredit, req.AmountCents, req.Description, req.IdempotencyKey, req.Metadata)
	t.ToAccountID = &to
	return e.execute(ctx, t)
}

// Debit removes AmountCents from the account if the balance covers it.
func (e *Engine) Debit(ctx context.Context, req DebitRequest) (*Transaction, error) {
	if err := validateAmount(req.AmountCents); err != nil {
		return nil, err
	}
	if err := validateOptionalFields(req.Description, req.IdempotencyKey, req.Metadata); err != nil {
		return nil, err
	}
	from := req.AccountID
	t := e.newTransaction(req.OwnerID, KindDebit, req.AmountCents, req.Description, req.IdempotencyKey, req.Metadata)
	t.FromAccountID = &from
	return e.execute(ctx, t)
}

// Transfer moves AmountCents between two accounts of the same owner and currency.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (*Transaction, error) {
	if err := validateAmount(req.AmountCents); err != nil {
		return nil, err
	}
	if req.FromAccountID == req.ToAccountID {
		return nil, fmt.Errorf("%w: cannot transfer to the same account", ErrInvalidRequest)
	}
	if err := validateOptionalFields(req.Description, req.IdempotencyKey, req.Metadata); err != nil {
		return nil, err
	}
	from, to := req.FromAccountID, req.ToAccountID
	t := e.newTransaction(req.OwnerID, KindTransfer, req.AmountCents, req.Description, req.IdempotencyKey, req.Metadata)
	t.FromAccountID = &from
	t.ToAccountID = &to
	return e.execute(ctx, t)
}

// GetTransaction returns a transaction owned by ownerID.
func (e *Engine) GetTransaction(ctx context.Context, ownerID, id uuid.UUID) (*Transaction, error) {
	t, err := e.store.TransactionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != ownerID {
		return nil, ErrTransactionNotFound
	}
	return t, nil
}

// CreateAccount provisions an account, optionally with an opening balance.
func (e *Engine) CreateAccount(ctx context.Context, req NewAccount) (*Account, error) {
	if req.Currency == "" {
		req.Currency = DefaultCurrency
	}
	if err := validateNewAccount(req); err != nil {
		return nil, err
	}
	now := e.stamp()
	a := &Account{
		ID:           uuid.New(),
		OwnerID:      req.OwnerID,
		Name:         req.Name,
		BalanceCents: req.InitialBalanceCents,
		Currency:     req.Currency,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	e.logger.Info("account created", "account_id", a.ID, "owner_id", a.OwnerID, "currency", a.Currency)
	return a, nil
}

// GetAccount returns one of the owner's accounts.
func (e *Engine) GetAccount(ctx context.Context, ownerID, id uuid.UUID) (*Account, error) {
	return e.store.Account(ctx, ownerID, id)
}

// ListAccounts returns the owner's accounts, newest first.
func (e *Engine) ListAccounts(ctx context.Context, ownerID uuid.UUID) ([]*Account, error) {
	return e.store.Accounts(ctx, ownerID)
}

// Ping reports whether storage is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

func (e *Engine) stamp() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

func (e *Engine) newTransaction(owner uuid.UUID, kind Kind, amount int64, description, key *string, metadata []byte) *Transaction {
	return &Transaction{
		ID:             uuid.New(),
		OwnerID:        owner,
		IdempotencyKey: key,
		Kind:           kind,
		AmountCents:    amount,
		Description:    description,
		Status:         StatusCompleted,
		CreatedAt:      e.stamp(),
		Metadata:       metadata,
	}
}

func (e *Engine) execute(ctx context.Context, t *Transaction) (*Transaction, error) {
	if t.IdempotencyKey != nil {
		existing, err := e.store.TransactionByIdempotencyKey(ctx, *t.IdempotencyKey)
		switch {
		case err == nil:
			return e.replay(existing, t.OwnerID)
		case !errors.Is(err, ErrTransactionNotFound):
			return nil, err
		}
	}

	err := e.store.WithinTx(ctx, func(tx Tx) error {
		return e.apply(ctx, tx, t)
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) && t.IdempotencyKey != nil {
		// Lost the race against a concurrent request with the same key.
		existing, rerr := e.store.TransactionByIdempotencyKey(ctx, *t.IdempotencyKey)
		if rerr != nil {
			return nil, rerr
		}
		return e.replay(existing, t.OwnerID)
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info("transaction completed",
		"transaction_id", t.ID,
		"owner_id", t.OwnerID,
		"kind", t.Kind.String(),
		"amount_cents", t.AmountCents,
		"currency", t.Currency,
	)
	if e.onCommit != nil {
		e.onCommit(t)
	}
	return t, nil
}

func (e *Engine) replay(existing *Transaction, owner uuid.UUID) (*Transaction, error) {
	if existing.OwnerID != owner {
		return nil, fmt.Errorf("%w: idempotency key already used", ErrInvalidRequest)
	}
	e.logger.Debug("idempotent replay", "transaction_id", existing.ID, "owner_id", owner)
	return existing, nil
}

func (e *Engine) apply(ctx context.Context, tx Tx, t *Transaction) error {
	locked := make(map[uuid.UUID]*Account, 2)
	for _, id := range lockOrder(t) {
		a, err := tx.LockAccount(ctx, t.OwnerID, id)
		if err != nil {
			return err
		}
		locked[id] = a
	}

	switch t.Kind {
	case KindCredit:
		to := locked[*t.ToAccountID]
		if to.BalanceCents > math.MaxInt64-t.AmountCents {
			return fmt.Errorf("%w: balance would overflow", ErrInvalidAmount)
		}
		t.Currency = to.Currency
		if err := tx.AddBalance(ctx, to.ID, t.AmountCents); err != nil {
			return err
		}
	case KindDebit:
		from := locked[*t.FromAccountID]
		if from.BalanceCents < t.AmountCents {
			return ErrInsufficientBalance
		}
		t.Currency = from.Currency
		if err := tx.AddBalance(ctx, from.ID, -t.AmountCents); err != nil {
			return err
		}
	case KindTransfer:
		from, to := locked[*t.FromAccountID], locked[*t.ToAccountID]
		if from.Currency != to.Currency {
			return fmt.Errorf("%w: currency mismatch %s -> %s", ErrInvalidRequest, from.Currency, to.Currency)
		}
		if from.BalanceCents < t.AmountCents {
			return ErrInsufficientBalance
		}
		if to.BalanceCents > math.MaxInt64-t.AmountCents {
			return fmt.Errorf("%w: balance would overflow", ErrInvalidAmount)
		}
		t.Currency = from.Currency
		if err := tx.AddBalance(ctx, from.ID, -t.AmountCents); err != nil {
			return err
		}
		if err := tx.AddBalance(ctx, to.ID, t.AmountCents); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unsupported transaction kind %v", ErrInvalidRequest, t.Kind)
	}

	if err := tx.InsertTransaction(ctx, t); err != nil {
		return err
	}
	return tx.EnqueueNotification(ctx, Notification{
		ID:            uuid.New(),
		OwnerID:       t.OwnerID,
		TransactionID: t.ID,
		CreatedAt:     t.CreatedAt,
	})
}

// lockOrder returns the accounts a transaction touches in ascending byte
// order. Every writer locking in this order rules out lock cycles.
func lockOrder(t *Transaction) []uuid.UUID {
	ids := make([]uuid.UUID, 0, 2)
	if t.FromAccountID != nil {
		ids = append(ids, *t.FromAccountID)
	}
	if t.ToAccountID != nil {
		ids = append(ids, *t.ToAccountID)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}
