// Package webhook registers subscriber endpoints and delivers signed
// transaction.completed events to them.
//
// Delivery runs off the request path: the ledger writes an outbox row in the
// same unit of work as the transaction, and the Dispatcher drains that outbox
// through the Notifier with bounded concurrency and bounded retries.
package webhook

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrEndpointNotFound is returned for endpoints that are absent or owned by
// another business.
var ErrEndpointNotFound = errors.New("webhook endpoint not found")

// Endpoint is a subscriber URL owned by one business.
type Endpoint struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"-"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Registration is returned once, when an endpoint is created. It is the only
// place the signing secret is ever exposed.
type Registration struct {
	Endpoint *Endpoint
	Secret   string
}

// Event records one delivery attempt to one endpoint.
type Event struct {
	ID             uuid.UUID       `json:"id"`
	EndpointID     uuid.UUID       `json:"endpoint_id"`
	TransactionID  uuid.UUID       `json:"transaction_id"`
	Payload        json.RawMessage `json:"payload"`
	SentAt         time.Time       `json:"sent_at"`
	ResponseStatus *int            `json:"response_status"`
	ResponseBody   *string         `json:"response_body"`
	Attempt        int             `json:"attempt"`
}

// OutboxMessage is a pending notification. A message without EndpointID fans
// out to every active endpoint of the owner; one with EndpointID retries a
// single failed delivery.
type OutboxMessage struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	TransactionID uuid.UUID
	EndpointID    *uuid.UUID
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// DeliveryResult summarises one attempt for logging and retry decisions.
type DeliveryResult struct {
	EndpointID uuid.UUID
	EventID    uuid.UUID
	Attempt    int
	StatusCode int
	Err        string
}

// Delivered reports whether the endpoint answered with a 2xx status.
func (r DeliveryResult) Delivered() bool {
	return r.Err == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

type options struct {
	logger *slog.Logger
	now    func() time.Time
	client *http.Client
}

// Option configures a Registry, Notifier or Dispatcher.
type Option func(*options)

// WithLogger sets the logger; nil keeps slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithHTTPClient replaces the notifier's client. Its Timeout bounds each attempt.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
		client: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
