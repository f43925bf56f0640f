package auth

import (
	"errors"
	"net/http"
)

// Authenticate rejects requests without a valid bearer API key and stores
// the resolved Principal in the request context.
func Authenticate(a *Authenticator, onError func(http.ResponseWriter, *http.Request, int, string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				onError(w, r, http.StatusUnauthorized, "invalid_api_key")
				return
			}

			p, err := a.Resolve(r.Context(), tok)
			if errors.Is(err, ErrInvalidAPIKey) {
				onError(w, r, http.StatusUnauthorized, "invalid_api_key")
				return
			}
			if err != nil {
				onError(w, r, http.StatusInternalServerError, "internal_error")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
