package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/example/business-ledger/internal/database"
	"github.com/example/business-ledger/internal/ledger"
)

const queryTimeout = 5 * time.Second

// PostgresStore keeps endpoints, events and the outbox in PostgreSQL.
// ClaimDue uses FOR UPDATE SKIP LOCKED so several dispatchers can share it.
type PostgresStore struct {
	pool database.Pool
}

// NewPostgresStore creates a store on an existing pool.
func NewPostgresStore(pool database.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) CreateEndpoint(ctx context.Context, e *Endpoint) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(queryCtx, `
		INSERT INTO webhook_endpoints (id, owner_id, url, secret, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.OwnerID, e.URL, e.Secret, e.IsActive, e.CreatedAt)
	if err != nil {
		return storageErr("failed to create webhook endpoint", err)
	}
	return nil
}

func (s *PostgresStore) Endpoint(ctx context.Context, ownerID, id uuid.UUID) (*Endpoint, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.pool.QueryRow(queryCtx, `SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1 AND owner_id = $2`, id, ownerID)
	e, err := scanEndpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEndpointNotFound
	}
	if err != nil {
		return nil, storageErr("failed to get webhook endpoint", err)
	}
	return e, nil
}

func (s *PostgresStore) ActiveEndpoints(ctx context.Context, ownerID uuid.UUID) ([]*Endpoint, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(queryCtx, `
		SELECT `+endpointColumns+` FROM webhook_endpoints
		WHERE owner_id = $1 AND is_active
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

func (s *PostgresStore) DeactivateEndpoint(ctx context.Context, ownerID, id uuid.UUID) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(queryCtx, `
		UPDATE webhook_endpoints SET is_active = FALSE
		WHERE id = $1 AND owner_id = $2 AND is_active
	`, id, ownerID)
	if err != nil {
		return storageErr("failed to deactivate webhook endpoint", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

func (s *PostgresStore) RecordEvent(ctx context.Context, ev *Event) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(queryCtx, `
		INSERT INTO webhook_events (id, endpoint_id, transaction_id, payload, sent_at, response_status, response_body, attempt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.ID, ev.EndpointID, ev.TransactionID, string(ev.Payload), ev.SentAt, ev.ResponseStatus, ev.ResponseBody, ev.Attempt)
	if err != nil {
		return storageErr("failed to record webhook event", err)
	}
	return nil
}

func (s *PostgresStore) Events(ctx context.Context, endpointID uuid.UUID, limit int) ([]*Event, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(queryCtx, `
		SELECT `+eventColumns+` FROM webhook_events
		WHERE endpoint_id = $1
		ORDER BY sent_at DESC, id
		LIMIT $2
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

func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*OutboxMessage, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(queryCtx, `
		UPDATE webhook_outbox SET claimed_until = $2
		WHERE id IN (
			SELECT id FROM webhook_outbox
			WHERE processed_at IS NULL
			  AND next_attempt_at <= $1
			  AND (claimed_until IS NULL OR claimed_until <= $1)
			ORDER BY next_attempt_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+outboxColumns,
		now, now.Add(lease), limit)
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

func (s *PostgresStore) ExtendLease(ctx context.Context, id uuid.UUID, until time.Time) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(queryCtx, `
		UPDATE webhook_outbox SET claimed_until = $2
		WHERE id = $1 AND processed_at IS NULL
	`, id, until)
	if err != nil {
		return storageErr("failed to extend outbox lease", err)
	}
	return nil
}

func (s *PostgresStore) EnqueueRetry(ctx context.Context, m *OutboxMessage) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(queryCtx, `
		INSERT INTO webhook_outbox (id, owner_id, transaction_id, endpoint_id, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.OwnerID, m.TransactionID, m.EndpointID, m.Attempts, m.NextAttemptAt, m.CreatedAt)
	if err != nil {
		return storageErr("failed to enqueue webhook retry", err)
	}
	return nil
}

func (s *PostgresStore) Complete(ctx context.Context, id uuid.UUID, lastError string, at time.Time) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(queryCtx, `
		UPDATE webhook_outbox SET processed_at = $2, last_error = $3, claimed_until = NULL
		WHERE id = $1
	`, id, at, nullableString(lastError))
	if err != nil {
		return storageErr("failed to complete outbox message", err)
	}
	return nil
}

func (s *PostgresStore) Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastError string) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(queryCtx, `
		UPDATE webhook_outbox SET attempts = $2, next_attempt_at = $3, last_error = $4, claimed_until = NULL
		WHERE id = $1
	`, id, attempts, next, nullableString(lastError))
	if err != nil {
		return storageErr("failed to reschedule outbox message", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ledger.ErrStorage, err)
}
