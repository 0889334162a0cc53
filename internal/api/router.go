package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/baharkarakas/wallet-ledger/internal/api/handlers"
	"github.com/baharkarakas/wallet-ledger/internal/auth"
	"github.com/baharkarakas/wallet-ledger/internal/config"
	"github.com/baharkarakas/wallet-ledger/internal/metrics"
	"github.com/baharkarakas/wallet-ledger/internal/middleware"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/services"
)

type RouterDeps struct {
	Cfg       config.Config
	Tokens    *auth.TokenManager
	UserSvc   *services.UserService
	WalletSvc *services.WalletService
	TxnSvc    *services.TransactionService
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics, middleware.RateLimit(d.Cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", handlers.IdempotencyHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	authH := handlers.NewAuthHandler(d.UserSvc)
	walletH := handlers.NewWalletHandler(d.WalletSvc)
	txnH := handlers.NewTransactionHandler(d.TxnSvc)
	adminH := handlers.NewAdminHandler(d.WalletSvc, d.TxnSvc)
	am := middleware.NewAuthMiddleware(d.Tokens, d.Cfg.Env)

	r.Route("/api/v1", func(r chi.Router) {
		// ---------- auth ----------
		r.Post("/auth/register", authH.Register)
		r.Post("/auth/login", authH.Login)
		r.Post("/auth/refresh", authH.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(am.Auth)

			// ---------- wallet ----------
			r.Get("/wallet", walletH.Get)
			r.Get("/wallet/balance", walletH.Balance)
			r.Post("/wallet/pin", walletH.SetPIN)

			// ---------- transactions (Idempotency-Key aware) ----------
			r.Post("/transactions/deposit", txnH.Deposit)
			r.Post("/transactions/withdraw", txnH.Withdraw)
			r.Post("/transactions/transfer", txnH.Transfer)
			r.Post("/transactions/exchange", txnH.Exchange)
			r.Get("/transactions", txnH.List)
			r.Get("/transactions/{reference}", txnH.Get)

			// ---------- admin ----------
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleAdmin))
				r.Post("/wallets/{walletID}/freeze", adminH.Freeze)
				r.Post("/wallets/{walletID}/unfreeze", adminH.Unfreeze)
				r.Get("/transactions/{reference}", adminH.GetTransaction)
				r.Get("/transactions/{reference}/audit", adminH.Audit)
				r.Post("/transactions/{reference}/cancel", adminH.Cancel)
			})
		})
	})

	return r
}
