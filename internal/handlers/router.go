package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"topup/internal/config"
	"topup/internal/middleware"
	"topup/internal/websocket"
)

const (
	RoleCreateTopups  = "CanCreateTopups"
	RoleApproveTopups = "CanApproveTopups"
	RoleViewLedger    = "CanViewLedger"
)

type Handler struct {
	cfg     config.Config
	service TopupService
	topups  TopupReader
	ledger  LedgerReader
	wallets WalletReconciler
	admin   AdminStore
	hub     *websocket.Hub
	logger  *zap.Logger
}

func New(cfg config.Config, service TopupService, topups TopupReader, ledger LedgerReader, wallets WalletReconciler, admin AdminStore, hub *websocket.Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg:     cfg,
		service: service,
		topups:  topups,
		ledger:  ledger,
		wallets: wallets,
		admin:   admin,
		hub:     hub,
		logger:  logger,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.RequestLogger(h.logger))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/topups", h.CreateTopup)
	router.Get("/ws/balances", h.WSBalances)

	router.Route("/admin", func(r chi.Router) {
		// Browsers cannot set headers on a websocket handshake, so the feed
		// authenticates from the query string itself.
		r.Get("/ws/events", h.WSEvents)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(h.cfg.JWTSecret))
			r.With(middleware.RequireAdmin(h.admin, RoleCreateTopups)).Post("/topups", h.AdminCreateTopup)
			r.With(middleware.RequireAdmin(h.admin, RoleViewLedger)).Get("/topups/{id}", h.GetTopup)
			r.With(middleware.RequireAdmin(h.admin, RoleApproveTopups)).Post("/topups/{id}/approve", h.ApproveTopup)
			r.With(middleware.RequireAdmin(h.admin, RoleApproveTopups)).Post("/topups/{id}/reject", h.RejectTopup)
			r.With(middleware.RequireAdmin(h.admin, RoleViewLedger)).Get("/reconcile", h.Reconcile)
		})
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Handle("/metrics", promhttp.Handler())
	return router
}
