package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/example/business-ledger/internal/auth"
	"github.com/example/business-ledger/internal/ledger"
	"github.com/example/business-ledger/internal/webhook"
)

type handlers struct {
	deps Dependencies
}

type healthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Timestamp string `json:"timestamp"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Database:  "connected",
		Timestamp: h.deps.Now().UTC().Format(time.RFC3339Nano),
	}
	status := http.StatusOK
	if err := h.deps.Ledger.Ping(r.Context()); err != nil {
		h.deps.Logger.Error("health check failed", "error", err)
		resp.Status = "unhealthy"
		resp.Database = "disconnected"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

type createAccountRequest struct {
	AccountName         string `json:"account_name"`
	Currency            string `json:"currency"`
	InitialBalanceCents int64  `json:"initial_balance_cents"`
}

func (h *handlers) createAccount(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	var req createAccountRequest
	if !decode(w, r, &req) {
		return
	}

	a, err := h.deps.Ledger.CreateAccount(r.Context(), ledger.NewAccount{
		OwnerID:             p.OwnerID,
		Name:                req.AccountName,
		Currency:            req.Currency,
		InitialBalanceCents: req.InitialBalanceCents,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, a)
}

func (h *handlers) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.deps.Ledger.ListAccounts(r.Context(), principal(r).OwnerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []*ledger.Account{}
	}
	writeJSON(w, r, http.StatusOK, accounts)
}

func (h *handlers) getAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := h.deps.Ledger.GetAccount(r.Context(), principal(r).OwnerID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, a)
}

type entryRequest struct {
	AccountID      uuid.UUID       `json:"account_id"`
	AmountCents    int64           `json:"amount_cents"`
	Description    *string         `json:"description"`
	IdempotencyKey *string         `json:"idempotency_key"`
	Metadata       json.RawMessage `json:"metadata"`
}

type transferRequest struct {
	FromAccountID  uuid.UUID       `json:"from_account_id"`
	ToAccountID    uuid.UUID       `json:"to_account_id"`
	AmountCents    int64           `json:"amount_cents"`
	Description    *string         `json:"description"`
	IdempotencyKey *string         `json:"idempotency_key"`
	Metadata       json.RawMessage `json:"metadata"`
}

func (h *handlers) credit(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.deps.Ledger.Credit(r.Context(), ledger.CreditRequest{
		OwnerID:        principal(r).OwnerID,
		AccountID:      req.AccountID,
		AmountCents:    req.AmountCents,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       nullToEmpty(req.Metadata),
	})
	h.writeTransaction(w, r, t, err)
}

func (h *handlers) debit(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.deps.Ledger.Debit(r.Context(), ledger.DebitRequest{
		OwnerID:        principal(r).OwnerID,
		AccountID:      req.AccountID,
		AmountCents:    req.AmountCents,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       nullToEmpty(req.Metadata),
	})
	h.writeTransaction(w, r, t, err)
}

func (h *handlers) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.deps.Ledger.Transfer(r.Context(), ledger.TransferRequest{
		OwnerID:        principal(r).OwnerID,
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		AmountCents:    req.AmountCents,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       nullToEmpty(req.Metadata),
	})
	h.writeTransaction(w, r, t, err)
}

func (h *handlers) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := h.deps.Ledger.GetTransaction(r.Context(), principal(r).OwnerID, id)
	h.writeTransaction(w, r, t, err)
}

func (h *handlers) writeTransaction(w http.ResponseWriter, r *http.Request, t *ledger.Transaction, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, t)
}

type registerWebhookRequest struct {
	URL string `json:"url"`
}

type webhookResponse struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *handlers) registerWebhook(w http.ResponseWriter, r *http.Request) {
	var req registerWebhookRequest
	if !decode(w, r, &req) {
		return
	}
	reg, err := h.deps.Webhooks.Register(r.Context(), principal(r).OwnerID, req.URL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	e := reg.Endpoint
	writeJSON(w, r, http.StatusCreated, webhookResponse{
		ID:        e.ID,
		URL:       e.URL,
		Secret:    reg.Secret,
		IsActive:  e.IsActive,
		CreatedAt: e.CreatedAt,
	})
}

func (h *handlers) listWebhooks(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.deps.Webhooks.List(r.Context(), principal(r).OwnerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]webhookResponse, 0, len(endpoints))
	for _, e := range endpoints {
		out = append(out, webhookResponse{
			ID:        e.ID,
			URL:       e.URL,
			IsActive:  e.IsActive,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (h *handlers) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.deps.Webhooks.Deactivate(r.Context(), principal(r).OwnerID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) webhookEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(w, r, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := h.deps.Webhooks.Events(r.Context(), principal(r).OwnerID, id, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*webhook.Event{}
	}
	writeJSON(w, r, http.StatusOK, events)
}

// principal is only called behind auth.Authenticate.
func principal(r *http.Request) *auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, r, "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, r, "malformed request body: "+err.Error())
		return false
	}
	return true
}

func nullToEmpty(raw json.RawMessage) json.RawMessage {
	if string(raw) == "null" {
		return nil
	}
	return raw
}
