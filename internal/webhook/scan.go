package webhook

import (
	"database/sql"

	"github.com/google/uuid"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const (
	endpointColumns = `id, owner_id, url, secret, is_active, created_at`
	eventColumns    = `id, endpoint_id, transaction_id, payload, sent_at, response_status, response_body, attempt`
	outboxColumns   = `id, owner_id, transaction_id, endpoint_id, attempts, next_attempt_at, created_at`
)

func scanEndpoint(row rowScanner) (*Endpoint, error) {
	var e Endpoint
	if err := row.Scan(&e.ID, &e.OwnerID, &e.URL, &e.Secret, &e.IsActive, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		ev      Event
		payload []byte
		status  sql.NullInt64
		body    sql.NullString
	)
	if err := row.Scan(&ev.ID, &ev.EndpointID, &ev.TransactionID, &payload, &ev.SentAt, &status, &body, &ev.Attempt); err != nil {
		return nil, err
	}
	ev.Payload = payload
	ev.SentAt = ev.SentAt.UTC()
	if status.Valid {
		code := int(status.Int64)
		ev.ResponseStatus = &code
	}
	if body.Valid {
		ev.ResponseBody = &body.String
	}
	return &ev, nil
}

func scanOutbox(row rowScanner) (*OutboxMessage, error) {
	var (
		m        OutboxMessage
		endpoint uuid.NullUUID
	)
	if err := row.Scan(&m.ID, &m.OwnerID, &m.TransactionID, &endpoint, &m.Attempts, &m.NextAttemptAt, &m.CreatedAt); err != nil {
		return nil, err
	}
	if endpoint.Valid {
		m.EndpointID = &endpoint.UUID
	}
	m.NextAttemptAt = m.NextAttemptAt.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
