package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/example/business-ledger/internal/database/dbtest"
)

func TestSQLiteEngineSuite(t *testing.T) {
	suite.Run(t, &EngineSuite{
		openStore: func(t *testing.T) Store {
			return NewSQLiteStore(dbtest.SQLite(t))
		},
	})
}

var accountMockColumns = []string{"id", "owner_id", "name", "balance_cents", "currency", "created_at", "updated_at"}

func TestSQLiteStoreRollsBackWhenBalanceUpdateFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	owner, accID := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM accounts WHERE id = \\? AND owner_id = \\?").
		WithArgs(accID.String(), owner.String()).
		WillReturnRows(sqlmock.NewRows(accountMockColumns).
			AddRow(accID.String(), owner.String(), "Ops", int64(100), "USD", now, now))
	mock.ExpectExec("UPDATE accounts SET balance_cents").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	engine := NewEngine(NewSQLiteStore(db))
	_, err = engine.Debit(context.Background(), DebitRequest{OwnerID: owner, AccountID: accID, AmountCents: 50})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStoreReportsCommitFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	owner, accID := uuid.New(), uuid.New()
	now := time.Now().UTC()
	committed := false

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WillReturnRows(sqlmock.NewRows(accountMockColumns).
			AddRow(accID.String(), owner.String(), "Ops", int64(0), "USD", now, now))
	mock.ExpectExec("UPDATE accounts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO webhook_outbox").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	engine := NewEngine(NewSQLiteStore(db), WithCommitHook(func(*Transaction) { committed = true }))
	_, err = engine.Credit(context.Background(), CreditRequest{OwnerID: owner, AccountID: accID, AmountCents: 50})

	assert.ErrorIs(t, err, ErrStorage)
	assert.False(t, committed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStoreMissingAccountRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM accounts").WillReturnRows(sqlmock.NewRows(accountMockColumns))
	mock.ExpectRollback()

	engine := NewEngine(NewSQLiteStore(db))
	_, err = engine.Credit(context.Background(), CreditRequest{OwnerID: uuid.New(), AccountID: uuid.New(), AmountCents: 1})

	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
