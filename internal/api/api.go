// Package api exposes the wallet tracker over HTTP. Routes are
// versioned under /api/v1; errors come back as {"error": "..."} with a
// status derived from the error kind.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/matrixise/chain-portfolio/internal/storage"
	"github.com/matrixise/chain-portfolio/internal/track"
)

// Tracker is the service surface the HTTP layer needs.
type Tracker interface {
	CreateWallet(ctx context.Context, address, chain string, label *string) (storage.Wallet, error)
	GetWallet(ctx context.Context, id uuid.UUID) (storage.Wallet, error)
	ListWallets(ctx context.Context) ([]storage.Wallet, error)
	DeleteWallet(ctx context.Context, id uuid.UUID) (bool, error)
	FetchBalances(ctx context.Context, walletID uuid.UUID, forceRefresh bool) ([]storage.Balance, error)
	ListBalances(ctx context.Context, walletID uuid.UUID) ([]storage.Balance, error)
	History(ctx context.Context, walletID uuid.UUID, tokenSymbol *string, limit int) ([]storage.HistoryEntry, error)
	PortfolioSummary(ctx context.Context) (track.Portfolio, error)
}

// Server holds the handlers behind the router.
type Server struct {
	tracker Tracker
	health  http.HandlerFunc
}

func NewServer(tracker Tracker, health http.HandlerFunc) *Server {
	if health == nil {
		health = func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		}
	}
	return &Server{tracker: tracker, health: health}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/wallets", func(r chi.Router) {
			r.Post("/", s.createWallet)
			r.Get("/", s.listWallets)
			r.Route("/{walletID}", func(r chi.Router) {
				r.Get("/", s.getWallet)
				r.Delete("/", s.deleteWallet)
				r.Get("/balances", s.listBalances)
				r.Post("/balances/refresh", s.refreshBalances)
				r.Get("/history", s.history)
			})
		})
		r.Get("/portfolio/summary", s.portfolioSummary)
	})

	return r
}

// requestLogger logs one line per request after it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}
