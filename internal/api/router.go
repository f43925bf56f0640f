// Package api exposes the ledger and webhook registry over HTTP under /api/v1.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/example/business-ledger/internal/auth"
	"github.com/example/business-ledger/internal/ledger"
	"github.com/example/business-ledger/internal/security"
	"github.com/example/business-ledger/internal/webhook"
	"github.com/example/business-ledger/pkg/audit"
)

// Ledger is the subset of *ledger.Engine the handlers use.
type Ledger interface {
	CreateAccount(ctx context.Context, req ledger.NewAccount) (*ledger.Account, error)
	GetAccount(ctx context.Context, ownerID, id uuid.UUID) (*ledger.Account, error)
	ListAccounts(ctx context.Context, ownerID uuid.UUID) ([]*ledger.Account, error)
	Credit(ctx context.Context, req ledger.CreditRequest) (*ledger.Transaction, error)
	Debit(ctx context.Context, req ledger.DebitRequest) (*ledger.Transaction, error)
	Transfer(ctx context.Context, req ledger.TransferRequest) (*ledger.Transaction, error)
	GetTransaction(ctx context.Context, ownerID, id uuid.UUID) (*ledger.Transaction, error)
	Ping(ctx context.Context) error
}

// Webhooks is the subset of *webhook.Registry the handlers use.
type Webhooks interface {
	Register(ctx context.Context, ownerID uuid.UUID, url string) (*webhook.Registration, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]*webhook.Endpoint, error)
	Deactivate(ctx context.Context, ownerID, id uuid.UUID) error
	Events(ctx context.Context, ownerID, endpointID uuid.UUID, limit int) ([]*webhook.Event, error)
}

type Auditor interface {
	Append(payload string) *audit.LogEntry
}

type Dependencies struct {
	Logger        *slog.Logger
	Authenticator *auth.Authenticator
	Ledger        Ledger
	Webhooks      Webhooks

	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	MaxBodyBytes int64

	// Now stamps health responses; defaults to time.Now.
	Now func() time.Time
}

func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	h := &handlers{deps: deps}

	onAuthError := func(w http.ResponseWriter, r *http.Request, status int, code string) {
		security.WriteJSONError(w, r, status, code)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	if deps.Auditor != nil {
		r.Use(AuditMiddleware(deps.Auditor))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)

		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate(deps.Authenticator, onAuthError))
			r.Use(security.RateLimitMiddleware(deps.RateLimiter, rateLimitKeyByOwner))

			r.Route("/accounts", func(r chi.Router) {
				r.With(createAccountV.Middleware).Post("/", h.createAccount)
				r.Get("/", h.listAccounts)
				r.Get("/{id}", h.getAccount)
			})

			r.Route("/transactions", func(r chi.Router) {
				r.With(creditV.Middleware).Post("/credit", h.credit)
				r.With(debitV.Middleware).Post("/debit", h.debit)
				r.With(transferV.Middleware).Post("/transfer", h.transfer)
				r.Get("/{id}", h.getTransaction)
			})

			r.Route("/webhooks", func(r chi.Router) {
				r.With(registerWebhookV.Middleware).Post("/", h.registerWebhook)
				r.Get("/", h.listWebhooks)
				r.Delete("/{id}", h.deleteWebhook)
				r.Get("/{id}/events", h.webhookEvents)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r
}

func rateLimitKeyByOwner(r *http.Request) string {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return ""
	}
	return "owner:" + p.OwnerID.String()
}
