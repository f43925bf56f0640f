package webhook

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SQLiteStore is the embedded Store. It shares the ledger's database so the
// outbox row commits with its transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an open database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) CreateEndpoint(ctx context.Context, e *Endpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_endpoints (id, owner_id, url, secret, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.OwnerID, e.URL, e.Secret, e.IsActive, e.CreatedAt.UTC())
	if err != nil {
		return storageErr("failed to create webhook endpoint", err)
	}
	return nil
}

func (s *SQLiteStore) Endpoint(ctx context.Context, ownerID, id uuid.UUID) (*Endpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = ? AND owner_id = ?`, id, ownerID)
	e, err := scanEndpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEndpointNotFound
	}
	if err != nil {
		return nil, storageErr("failed to get webhook endpoint", err)
	}
	return e, nil
}

func (s *SQLiteStore) ActiveEndpoints(ctx context.Context, ownerID uuid.UUID) ([]*Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+endpointColumns+` FROM webhook_endpoints
		WHERE owner_id = ? AND is_active = 1
		ORDER BY created_at DESC, id
	`, ownerID)
	if err != nil {
		return nil, storageErr("failed to list webhook endpoints", err)
	}
	defer rows.Close()

	var out []*Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, storageErr("failed to scan webhook endpoint", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("failed to list webhook endpoints", err)
	}
	return out, nil
}

func (s *SQLiteStore) DeactivateEndpoint(ctx context.Context, ownerID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_endpoints SET is_active = 0
		WHERE id = ? AND owner_id = ? AND is_active = 1
	`, id, ownerID)
	if err != nil {
		return storageErr("failed to deactivate webhook endpoint", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("failed to deactivate webhook endpoint", err)
	}
	if n == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

func (s *SQLiteStore) RecordEvent(ctx context.Context, ev *Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, endpoint_id, transaction_id, payload, sent_at, response_status, response_body, attempt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.EndpointID, ev.TransactionID, string(ev.Payload), ev.SentAt.UTC(), ev.ResponseStatus, ev.ResponseBody, ev.Attempt)
	if err != nil {
		return storageErr("failed to record webhook event", err)
	}
	return nil
}

func (s *SQLiteStore) Events(ctx context.Context, endpointID uuid.UUID, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM webhook_events
		WHERE endpoint_id = ?
		ORDER BY sent_at DESC, id
		LIMIT ?
	`, endpointID, limit)
	if err != nil {
		return nil, storageErr("failed to list webhook events", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, storageErr("failed to scan webhook event", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("failed to list webhook events", err)
	}
	return out, nil
}

// ClaimDue relies on SQLite running the UPDATE under the database write lock;
// that makes the select-and-lease atomic without row locks.
func (s *SQLiteStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*OutboxMessage, error) {
	now = now.UTC()
	rows, err := s.db.QueryContext(ctx, `
		UPDATE webhook_outbox SET claimed_until = ?
		WHERE id IN (
			SELECT id FROM webhook_outbox
			WHERE processed_at IS NULL
			  AND next_attempt_at <= ?
			  AND (claimed_until IS NULL OR claimed_until <= ?)
			ORDER BY next_attempt_at
			LIMIT ?
		)
		RETURNING `+outboxColumns,
		now.Add(lease), now, now, limit)
	if err != nil {
		return nil, storageErr("failed to claim outbox messages", err)
	}
	defer rows.Close()

	var out []*OutboxMessage
	for rows.Next() {
		m, err := scanOutbox(rows)
		if err != nil {
			return nil, storageErr("failed to scan outbox message", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("failed to claim outbox messages", err)
	}
	return out, nil
}

func (s *SQLiteStore) ExtendLease(ctx context.Context, id uuid.UUID, until time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_outbox SET claimed_until = ?
		WHERE id = ? AND processed_at IS NULL
	`, until.UTC(), id)
	if err != nil {
		return storageErr("failed to extend outbox lease", err)
	}
	return nil
}

func (s *SQLiteStore) EnqueueRetry(ctx context.Context, m *OutboxMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_outbox (id, owner_id, transaction_id, endpoint_id, attempts, next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.OwnerID, m.TransactionID, m.EndpointID, m.Attempts, m.NextAttemptAt.UTC(), m.CreatedAt.UTC())
	if err != nil {
		return storageErr("failed to enqueue webhook retry", err)
	}
	return nil
}

func (s *SQLiteStore) Complete(ctx context.Context, id uuid.UUID, lastError string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_outbox SET processed_at = ?, last_error = ?, claimed_until = NULL
		WHERE id = ?
	`, at.UTC(), nullableString(lastError), id)
	if err != nil {
		return storageErr("failed to complete outbox message", err)
	}
	return nil
}

func (s *SQLiteStore) Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_outbox SET attempts = ?, next_attempt_at = ?, last_error = ?, claimed_until = NULL
		WHERE id = ?
	`, attempts, next.UTC(), nullableString(lastError), id)
	if err != nil {
		return storageErr("failed to reschedule outbox message", err)
	}
	return nil
}
