package security

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the error envelope every HTTP error response carries.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error         ErrorBody `json:"error"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

var defaultMessages = map[string]string{
	"invalid_api_key":          "Invalid or missing API key",
	"invalid_request":          "The request is invalid",
	"invalid_amount":           "Amount must be a positive integer number of cents",
	"account_not_found":        "Account not found",
	"transaction_not_found":    "Transaction not found",
	"webhook_not_found":        "Webhook endpoint not found",
	"insufficient_balance":     "Insufficient balance",
	"payload_too_large":        "Request body is too large",
	"rate_limited":             "Too many requests",
	"rate_limiter_unavailable": "Rate limiter unavailable",
	"not_found":                "Not found",
	"method_not_allowed":       "Method not allowed",
	"internal_error":           "An internal error occurred",
}

// WriteJSONError writes the error envelope with the default message for code.
func WriteJSONError(w http.ResponseWriter, r *http.Request, status int, code string) {
	WriteJSONErrorMessage(w, r, status, code, defaultMessages[code])
}

func WriteJSONErrorMessage(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	cid := CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(CorrelationIDHeader, cid)
	}
	if message == "" {
		message = http.StatusText(status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:         ErrorBody{Code: code, Message: message},
		CorrelationID: cid,
	})
}
