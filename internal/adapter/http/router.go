package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/iho/goescrow/internal/adapter/http/handler"
	"github.com/iho/goescrow/internal/adapter/http/middleware"
	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/infrastructure/metrics"
	"github.com/iho/goescrow/internal/usecase"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	TransactionHandler *handler.TransactionHandler
	MessageHandler     *handler.MessageHandler
	WalletHandler      *handler.WalletHandler
	WebhookHandler     *handler.WebhookHandler
	LedgerHandler      *handler.LedgerHandler
	HealthHandler      *handler.HealthHandler

	// Socket serves the realtime endpoint. Optional.
	Socket http.Handler
	// MetricsHandler serves the Prometheus scrape endpoint. Optional.
	MetricsHandler http.Handler

	Authenticator    middleware.Authenticator
	RateLimiter      *middleware.RateLimiter
	IdempotencyStore usecase.IdempotencyStore
	IdempotencyTTL   time.Duration
	Metrics          *metrics.Metrics
	Logger           zerolog.Logger
	AllowedOrigins   []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.Recovery(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.IdempotencyKeyHeader},
			ExposedHeaders:   []string{"X-Request-Id", middleware.IdempotencyReplayHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	// The socket authenticates with its own auth frame.
	if cfg.Socket != nil {
		r.Method(http.MethodGet, "/ws", cfg.Socket)
	}

	// Gateway callbacks are authenticated by signature.
	if cfg.WebhookHandler != nil {
		r.Post("/webhooks/payments", cfg.WebhookHandler.Payment)
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg.Authenticator, cfg.Metrics))
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Limit)
		}
		// Idempotency middleware for mutating requests
		if cfg.IdempotencyStore != nil {
			r.Use(middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore, cfg.Logger).WithTTL(cfg.IdempotencyTTL).Wrap)
		}

		r.Post("/checkout", cfg.TransactionHandler.Checkout)

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", cfg.TransactionHandler.List)
			r.Get("/{id}", cfg.TransactionHandler.Get)
			r.Post("/{id}/release", cfg.TransactionHandler.Release)
			r.Post("/{id}/cancel", cfg.TransactionHandler.Cancel)
			r.Post("/{id}/dispute", cfg.TransactionHandler.Dispute)
			r.With(middleware.RequireRole(domain.Role.CanResolveDisputes)).
				Post("/{id}/resolve", cfg.TransactionHandler.Resolve)
		})

		r.Route("/messages", func(r chi.Router) {
			r.Post("/send", cfg.MessageHandler.Send)
			r.Get("/{transactionId}", cfg.MessageHandler.History)
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", cfg.WalletHandler.Get)
			r.Get("/postings", cfg.WalletHandler.Postings)
			r.Get("/holds", cfg.WalletHandler.Holds)
			r.Get("/fees", cfg.WalletHandler.Fees)
			r.Post("/deposits", cfg.WalletHandler.CreateDeposit)
			r.Get("/deposits", cfg.WalletHandler.ListDeposits)
			r.Get("/deposits/{id}", cfg.WalletHandler.GetDeposit)
			r.Post("/withdrawals", cfg.WalletHandler.Withdraw)
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/consistency", cfg.LedgerHandler.CheckConsistency)
			r.Get("/reconcile", cfg.LedgerHandler.Report)
			r.Get("/reconcile/{accountId}", cfg.LedgerHandler.ReconcileAccount)
		})
	})

	return r
}
