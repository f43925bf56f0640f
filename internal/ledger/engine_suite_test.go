package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

// EngineSuite runs the engine's behavioural contract against a concrete store.
type EngineSuite struct {
	suite.Suite

	openStore func(t *testing.T) Store

	ctx    context.Context
	store  Store
	engine *Engine
	owner  uuid.UUID

	mu        sync.Mutex
	committed []*Transaction
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.openStore(s.T())
	s.owner = uuid.New()
	s.committed = nil
	s.engine = NewEngine(s.store,
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
		WithCommitHook(func(t *Transaction) {
			s.mu.Lock()
			s.committed = append(s.committed, t)
			s.mu.Unlock()
		}),
	)
}

func (s *EngineSuite) account(balance int64, currency string) *Account {
	a, err := s.engine.CreateAccount(s.ctx, NewAccount{
		OwnerID:             s.owner,
		Name:                "Operating",
		Currency:            currency,
		InitialBalanceCents: balance,
	})
	s.Require().NoError(err)
	return a
}

func (s *EngineSuite) balance(id uuid.UUID) int64 {
	a, err := s.engine.GetAccount(s.ctx, s.owner, id)
	s.Require().NoError(err)
	return a.BalanceCents
}

func strp(v string) *string { return &v }

func (s *EngineSuite) TestCreditThenRead() {
	acc := s.account(0, "USD")

	tx, err := s.engine.Credit(s.ctx, CreditRequest{
		OwnerID:     s.owner,
		AccountID:   acc.ID,
		AmountCents: 1000,
		Description: strp("Initial deposit"),
	})
	s.Require().NoError(err)

	s.Equal(int64(1000), s.balance(acc.ID))
	s.Equal(KindCredit, tx.Kind)
	s.Equal(StatusCompleted, tx.Status)
	s.Equal("USD", tx.Currency)
	s.Nil(tx.FromAccountID)
	s.Require().NotNil(tx.ToAccountID)
	s.Equal(acc.ID, *tx.ToAccountID)

	got, err := s.engine.GetTransaction(s.ctx, s.owner, tx.ID)
	s.Require().NoError(err)
	s.Equal(tx.ID, got.ID)
	s.Equal(tx.Kind, got.Kind)
	s.Equal(tx.AmountCents, got.AmountCents)
	s.Equal(tx.Currency, got.Currency)
	s.Equal(tx.Status, got.Status)
	s.Equal(tx.ToAccountID, got.ToAccountID)
	s.Nil(got.FromAccountID)
	s.Require().NotNil(got.Description)
	s.Equal("Initial deposit", *got.Description)
	s.True(tx.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", tx.CreatedAt, got.CreatedAt)
}

func (s *EngineSuite) TestDebitInsufficientBalance() {
	acc := s.account(500, "USD")

	_, err := s.engine.Debit(s.ctx, DebitRequest{
		OwnerID:        s.owner,
		AccountID:      acc.ID,
		AmountCents:    1000,
		IdempotencyKey: strp("debit-too-much"),
	})
	s.ErrorIs(err, ErrInsufficientBalance)
	s.Equal(int64(500), s.balance(acc.ID))

	_, err = s.store.TransactionByIdempotencyKey(s.ctx, "debit-too-much")
	s.ErrorIs(err, ErrTransactionNotFound)
	s.Empty(s.committed)
}

func (s *EngineSuite) TestDebitExactBalance() {
	acc := s.account(700, "EUR")

	tx, err := s.engine.Debit(s.ctx, DebitRequest{OwnerID: s.owner, AccountID: acc.ID, AmountCents: 700})
	s.Require().NoError(err)
	s.Equal(KindDebit, tx.Kind)
	s.Equal("EUR", tx.Currency)
	s.Nil(tx.ToAccountID)
	s.Equal(int64(0), s.balance(acc.ID))
}

func (s *EngineSuite) TestTransferConservesTotal() {
	a := s.account(1000, "USD")
	b := s.account(0, "USD")

	tx, err := s.engine.Transfer(s.ctx, TransferRequest{
		OwnerID:       s.owner,
		FromAccountID: a.ID,
		ToAccountID:   b.ID,
		AmountCents:   300,
	})
	s.Require().NoError(err)
	s.Equal(KindTransfer, tx.Kind)
	s.Equal(int64(700), s.balance(a.ID))
	s.Equal(int64(300), s.balance(b.ID))
}

func (s *EngineSuite) TestTransferInsufficientLeavesBothUntouched() {
	a := s.account(100, "USD")
	b := s.account(50, "USD")

	_, err := s.engine.Transfer(s.ctx, TransferRequest{OwnerID: s.owner, FromAccountID: a.ID, ToAccountID: b.ID, AmountCents: 101})
	s.ErrorIs(err, ErrInsufficientBalance)
	s.Equal(int64(100), s.balance(a.ID))
	s.Equal(int64(50), s.balance(b.ID))
}

func (s *EngineSuite) TestTransferCurrencyMismatch() {
	a := s.account(1000, "USD")
	b := s.account(0, "EUR")

	_, err := s.engine.Transfer(s.ctx, TransferRequest{OwnerID: s.owner, FromAccountID: a.ID, ToAccountID: b.ID, AmountCents: 10})
	s.ErrorIs(err, ErrInvalidRequest)
	s.Equal(int64(1000), s.balance(a.ID))
}

func (s *EngineSuite) TestIdempotentReplay() {
	acc := s.account(0, "USD")
	req := CreditRequest{OwnerID: s.owner, AccountID: acc.ID, AmountCents: 500, IdempotencyKey: strp("abc-123")}

	first, err := s.engine.Credit(s.ctx, req)
	s.Require().NoError(err)
	second, err := s.engine.Credit(s.ctx, req)
	s.Require().NoError(err)

	s.Equal(first.ID, second.ID)
	s.Equal(int64(500), s.balance(acc.ID))

	// A replay returns the original even when the parameters differ.
	req.AmountCents = 900
	third, err := s.engine.Credit(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(first.ID, third.ID)
	s.Equal(int64(500), third.AmountCents)
	s.Equal(int64(500), s.balance(acc.ID))

	s.Len(s.committed, 1)
}

func (s *EngineSuite) TestIdempotencyKeyOfAnotherOwner() {
	acc := s.account(0, "USD")
	_, err := s.engine.Credit(s.ctx, CreditRequest{OwnerID: s.owner, AccountID: acc.ID, AmountCents: 10, IdempotencyKey: strp("shared")})
	s.Require().NoError(err)

	other := uuid.New()
	otherAcc, err := s.engine.CreateAccount(s.ctx, NewAccount{OwnerID: other, Name: "Other"})
	s.Require().NoError(err)

	_, err = s.engine.Credit(s.ctx, CreditRequest{OwnerID: other, AccountID: otherAcc.ID, AmountCents: 10, IdempotencyKey: strp("shared")})
	s.ErrorIs(err, ErrInvalidRequest)

	got, err := s.engine.GetAccount(s.ctx, other, otherAcc.ID)
	s.Require().NoError(err)
	s.Equal(int64(0), got.BalanceCents)
}

func (s *EngineSuite) TestAccountOwnership() {
	acc := s.account(100, "USD")
	stranger := uuid.New()

	_, err := s.engine.Credit(s.ctx, CreditRequest{OwnerID: stranger, AccountID: acc.ID, AmountCents: 1})
	s.ErrorIs(err, ErrAccountNotFound)

	_, err = s.engine.GetAccount(s.ctx, stranger, acc.ID)
	s.ErrorIs(err, ErrAccountNotFound)

	_, err = s.engine.Debit(s.ctx, DebitRequest{OwnerID: s.owner, AccountID: uuid.New(), AmountCents: 1})
	s.ErrorIs(err, ErrAccountNotFound)

	s.Equal(int64(100), s.balance(acc.ID))
}

func (s *EngineSuite) TestTransferToMissingAccountRollsBack() {
	a := s.account(100, "USD")

	_, err := s.engine.Transfer(s.ctx, TransferRequest{OwnerID: s.owner, FromAccountID: a.ID, ToAccountID: uuid.New(), AmountCents: 10})
	s.ErrorIs(err, ErrAccountNotFound)
	s.Equal(int64(100), s.balance(a.ID))
}

func (s *EngineSuite) TestCreditOverflow() {
	acc := s.account(math.MaxInt64-10, "USD")

	_, err := s.engine.Credit(s.ctx, CreditRequest{OwnerID: s.owner, AccountID: acc.ID, AmountCents: 11})
	s.ErrorIs(err, ErrInvalidAmount)
	s.Equal(int64(math.MaxInt64-10), s.balance(acc.ID))

	_, err = s.engine.Credit(s.ctx, CreditRequest{OwnerID: s.owner, AccountID: acc.ID, AmountCents: 10})
	s.NoError(err)
}

func (s *EngineSuite) TestGetTransactionScopedToOwner() {
	acc := s.account(0, "USD")
	tx, err := s.engine.Credit(s.ctx, CreditRequest{OwnerID: s.owner, AccountID: acc.ID, AmountCents: 5})
	s.Require().NoError(err)

	_, err = s.engine.GetTransaction(s.ctx, uuid.New(), tx.ID)
	s.ErrorIs(err, ErrTransactionNotFound)

	_, err = s.engine.GetTransaction(s.ctx, s.owner, uuid.New())
	s.ErrorIs(err, ErrTransactionNotFound)
}

func (s *EngineSuite) TestMetadataRoundTrip() {
	acc := s.account(0, "USD")
	tx, err := s.engine.Credit(s.ctx, CreditRequest{
		OwnerID:     s.owner,
		AccountID:   acc.ID,
		AmountCents: 5,
		Metadata:    json.RawMessage(`{"order":"42","lines":[1,2]}`),
	})
	s.Require().NoError(err)

	got, err := s.engine.GetTransaction(s.ctx, s.owner, tx.ID)
	s.Require().NoError(err)
	s.JSONEq(`{"order":"42","lines":[1,2]}`, string(got.Metadata))
}

func (s *EngineSuite) TestListAccountsNewestFirst() {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	engine := NewEngine(s.store, WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		a, err := engine.CreateAccount(s.ctx, NewAccount{OwnerID: s.owner, Name: "Acc"})
		s.Require().NoError(err)
		ids = append(ids, a.ID)
	}
	_, err := engine.CreateAccount(s.ctx, NewAccount{OwnerID: uuid.New(), Name: "Foreign"})
	s.Require().NoError(err)

	list, err := engine.ListAccounts(s.ctx, s.owner)
	s.Require().NoError(err)
	s.Require().Len(list, 3)
	s.Equal(ids[2], list[0].ID)
	s.Equal(ids[0], list[2].ID)
	s.Equal(DefaultCurrency, list[0].Currency)
}

func (s *EngineSuite) TestConcurrentDebitsNeverOverdraw() {
	acc := s.account(1000, "USD")

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.engine.Debit(s.ctx, DebitRequest{OwnerID: s.owner, AccountID: acc.ID, AmountCents: 100})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInsufficientBalance):
				rejected++
			default:
				s.T().Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	s.Equal(10, succeeded)
	s.Equal(10, rejected)
	s.Equal(int64(0), s.balance(acc.ID))
}

func (s *EngineSuite) TestConcurrentOppositeTransfersComplete() {
	a := s.account(10_000, "USD")
	b := s.account(10_000, "USD")

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	const perDirection = 15
	var wg sync.WaitGroup
	errs := make(chan error, 2*perDirection)
	for i := 0; i < perDirection; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.engine.Transfer(ctx, TransferRequest{OwnerID: s.owner, FromAccountID: a.ID, ToAccountID: b.ID, AmountCents: 10})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := s.engine.Transfer(ctx, TransferRequest{OwnerID: s.owner, FromAccountID: b.ID, ToAccountID: a.ID, AmountCents: 10})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		s.NoError(err)
	}
	s.Equal(int64(20_000), s.balance(a.ID)+s.balance(b.ID))
	s.Equal(int64(10_000), s.balance(a.ID))
}

func (s *EngineSuite) TestConcurrentIdempotentCredits() {
	acc := s.account(0, "USD")

	const workers = 10
	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := s.engine.Credit(s.ctx, CreditRequest{
				OwnerID:        s.owner,
				AccountID:      acc.ID,
				AmountCents:    500,
				IdempotencyKey: strp("race-key"),
			})
			if err != nil {
				s.T().Errorf("credit: %v", err)
				return
			}
			ids <- tx.ID
		}()
	}
	wg.Wait()
	close(ids)

	var first uuid.UUID
	n := 0
	for id := range ids {
		if n == 0 {
			first = id
		}
		s.Equal(first, id)
		n++
	}
	s.Equal(workers, n)
	s.Equal(int64(500), s.balance(acc.ID))
}
