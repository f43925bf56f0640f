package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/example/business-ledger/internal/ledger"
)

const (
	// DefaultTimeout bounds one delivery attempt when no client is supplied.
	DefaultTimeout  = 5 * time.Second
	maxResponseBody = 64 << 10
	recordTimeout   = 5 * time.Second
)

// Notifier signs and POSTs transaction events and records every attempt.
// It never returns delivery errors to its caller.
type Notifier struct {
	store  Store
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewNotifier builds a notifier that records attempts in store.
func NewNotifier(store Store, opts ...Option) *Notifier {
	o := buildOptions(opts)
	return &Notifier{store: store, client: o.client, logger: o.logger, now: o.now}
}

// Notify delivers tx to every active endpoint of ownerID, one attempt each.
func (n *Notifier) Notify(ctx context.Context, tx *ledger.Transaction, ownerID uuid.UUID) []DeliveryResult {
	endpoints, err := n.store.ActiveEndpoints(ctx, ownerID)
	if err != nil {
		n.logger.Error("failed to load webhook endpoints",
			"owner_id", ownerID, "transaction_id", tx.ID, "error", err)
		return nil
	}
	return n.deliverAll(ctx, endpoints, tx)
}

func (n *Notifier) deliverAll(ctx context.Context, endpoints []*Endpoint, tx *ledger.Transaction) []DeliveryResult {
	results := make([]DeliveryResult, 0, len(endpoints))
	for _, e := range endpoints {
		results = append(results, n.SendOne(ctx, e, tx, 1))
	}
	return results
}

// SendOne makes a single delivery attempt and records it as an Event,
// whatever the outcome.
func (n *Notifier) SendOne(ctx context.Context, e *Endpoint, tx *ledger.Transaction, attempt int) DeliveryResult {
	eventID := uuid.New()
	sentAt := n.now().UTC()
	result := DeliveryResult{EndpointID: e.ID, EventID: eventID, Attempt: attempt}

	body, err := json.Marshal(NewPayload(eventID, tx, sentAt))
	if err != nil {
		result.Err = fmt.Sprintf("failed to encode payload: %v", err)
		n.logger.Error("webhook payload encoding failed",
			"endpoint_id", e.ID, "transaction_id", tx.ID, "error", err)
		return result
	}

	ev := &Event{
		ID:            eventID,
		EndpointID:    e.ID,
		TransactionID: tx.ID,
		Payload:       body,
		SentAt:        sentAt,
		Attempt:       attempt,
	}

	status, respBody, err := n.post(ctx, e, eventID, body)
	if err != nil {
		msg := err.Error()
		ev.ResponseBody = &msg
		result.Err = msg
	} else {
		ev.ResponseStatus = &status
		ev.ResponseBody = &respBody
		result.StatusCode = status
		if status < 200 || status >= 300 {
			result.Err = fmt.Sprintf("endpoint responded with status %d", status)
		}
	}

	// Recording must survive a caller that is shutting down.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := n.store.RecordEvent(recordCtx, ev); err != nil {
		n.logger.Error("failed to record webhook event",
			"event_id", eventID, "endpoint_id", e.ID, "transaction_id", tx.ID, "error", err)
	}

	if !result.Delivered() {
		n.logger.Warn("webhook delivery failed",
			"endpoint_id", e.ID,
			"transaction_id", tx.ID,
			"event_id", eventID,
			"attempt", attempt,
			"status", result.StatusCode,
			"error", result.Err,
		)
	} else {
		n.logger.Debug("webhook delivered",
			"endpoint_id", e.ID, "transaction_id", tx.ID, "event_id", eventID, "status", status)
	}
	return result
}

func (n *Notifier) post(ctx context.Context, e *Endpoint, eventID uuid.UUID, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(e.Secret, body))
	req.Header.Set(EventIDHeader, eventID.String())

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, "", nil
	}
	return resp.StatusCode, string(b), nil
}
