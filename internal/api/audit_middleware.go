package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/business-ledger/internal/security"
)

// AuditMiddleware appends every state-changing request to the audit chain.
// Reads are not audited.
func AuditMiddleware(a Auditor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			a.Append(fmt.Sprintf("cid=%s method=%s path=%s status=%d",
				security.CorrelationIDFromContext(r.Context()), r.Method, r.URL.Path, status))
		})
	}
}
