package api

import (
	"encoding/json"
	"net/http"
)

// writeJSON writes v as the response body. security.CorrelationID has already
// set the correlation header.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
