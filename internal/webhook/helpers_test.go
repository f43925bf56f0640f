package webhook

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/business-ledger/internal/database/dbtest"
	"github.com/example/business-ledger/internal/ledger"
)

var quietLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

// fixture wires a SQLite database shared by the ledger and the webhook store.
type fixture struct {
	ctx     context.Context
	db      *sql.DB
	ledger  *ledger.SQLiteStore
	engine  *ledger.Engine
	store   *SQLiteStore
	owner   uuid.UUID
	account *ledger.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.SQLite(t)
	f := &fixture{
		ctx:    context.Background(),
		db:     db,
		ledger: ledger.NewSQLiteStore(db),
		store:  NewSQLiteStore(db),
		owner:  uuid.New(),
	}
	f.engine = ledger.NewEngine(f.ledger, ledger.WithLogger(quietLogger))

	acc, err := f.engine.CreateAccount(f.ctx, ledger.NewAccount{OwnerID: f.owner, Name: "Main"})
	require.NoError(t, err)
	f.account = acc
	return f
}

func (f *fixture) credit(t *testing.T, amount int64) *ledger.Transaction {
	t.Helper()
	desc := "Initial deposit"
	tx, err := f.engine.Credit(f.ctx, ledger.CreditRequest{
		OwnerID:     f.owner,
		AccountID:   f.account.ID,
		AmountCents: amount,
		Description: &desc,
	})
	require.NoError(t, err)
	return tx
}

func (f *fixture) register(t *testing.T, url string) *Registration {
	t.Helper()
	reg, err := NewRegistry(f.store, WithLogger(quietLogger)).Register(f.ctx, f.owner, url)
	require.NoError(t, err)
	return reg
}

func (f *fixture) events(t *testing.T, endpointID uuid.UUID) []*Event {
	t.Helper()
	evs, err := f.store.Events(f.ctx, endpointID, 100)
	require.NoError(t, err)
	return evs
}

type outboxRow struct {
	endpointID sql.NullString
	attempts   int
	processed  bool
	lastError  sql.NullString
}

func (f *fixture) outbox(t *testing.T) []outboxRow {
	t.Helper()
	rows, err := f.db.QueryContext(f.ctx, `
		SELECT endpoint_id, attempts, processed_at IS NOT NULL, last_error
		FROM webhook_outbox ORDER BY created_at, endpoint_id`)
	require.NoError(t, err)
	defer rows.Close()

	var out []outboxRow
	for rows.Next() {
		var r outboxRow
		require.NoError(t, rows.Scan(&r.endpointID, &r.attempts, &r.processed, &r.lastError))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

type captured struct {
	header http.Header
	body   []byte
}

// receiver is a webhook subscriber answering with a configurable status.
type receiver struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	requests []captured
}

func newReceiver(t *testing.T, status int) *receiver {
	t.Helper()
	r := &receiver{status: status}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, captured{header: req.Header.Clone(), body: body})
		status := r.status
		r.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(http.StatusText(status)))
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *receiver) setStatus(status int) {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
}

func (r *receiver) received() []captured {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]captured(nil), r.requests...)
}

// manualClock is advanced explicitly by tests. It starts a minute ahead of
// the wall clock so rows the engine writes are already due.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
