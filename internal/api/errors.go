package api

import (
	"errors"
	"net/http"

	"github.com/example/business-ledger/internal/ledger"
	"github.com/example/business-ledger/internal/security"
	"github.com/example/business-ledger/internal/webhook"
)

// writeError maps domain errors to the HTTP error envelope. Storage and
// unexpected errors are logged and reported without detail.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		security.WriteJSONErrorMessage(w, r, http.StatusBadRequest, "invalid_amount", err.Error())
	case errors.Is(err, ledger.ErrInvalidRequest):
		security.WriteJSONErrorMessage(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound):
		security.WriteJSONError(w, r, http.StatusNotFound, "account_not_found")
	case errors.Is(err, ledger.ErrTransactionNotFound):
		security.WriteJSONError(w, r, http.StatusNotFound, "transaction_not_found")
	case errors.Is(err, webhook.ErrEndpointNotFound):
		security.WriteJSONError(w, r, http.StatusNotFound, "webhook_not_found")
	case errors.Is(err, ledger.ErrInsufficientBalance):
		security.WriteJSONError(w, r, http.StatusUnprocessableEntity, "insufficient_balance")
	default:
		h.deps.Logger.Error("request failed",
			"cid", security.CorrelationIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	security.WriteJSONErrorMessage(w, r, http.StatusBadRequest, "invalid_request", message)
}
