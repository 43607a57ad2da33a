package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pitchside/auctiond/internal/domain"
	"github.com/pitchside/auctiond/internal/server/handler"
	"github.com/pitchside/auctiond/internal/server/middleware"
	"github.com/pitchside/auctiond/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminAPIKey string // if empty, admin authentication is disabled

	// RateLimit caps requests per client IP per second. Zero disables the
	// outer limiter.
	RateLimit int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Auctions  *handler.AuctionHandler
	Bids      *handler.BidHandler
	Trades    *handler.TradeHandler
	Snapshots *handler.SnapshotHandler
}

// Server is the HTTP + WebSocket API for the auction engine. Admin
// endpoints (setup, lifecycle, undo, void) require the admin API key; team
// endpoints (bids, trades) authenticate with per-team tokens; snapshots and
// the event stream are open reads.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux
// and the middleware chain wired up. limiter may be nil to disable rate
// limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	admin := middleware.Auth(cfg.AdminAPIKey)

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Setup endpoints (admin).
	mux.Handle("POST /api/auctions", admin(http.HandlerFunc(handlers.Auctions.CreateAuction)))
	mux.Handle("GET /api/auctions", admin(http.HandlerFunc(handlers.Auctions.ListAuctions)))
	mux.Handle("POST /api/auctions/{id}/teams", admin(http.HandlerFunc(handlers.Auctions.RegisterTeam)))
	mux.Handle("POST /api/auctions/{id}/lots", admin(http.HandlerFunc(handlers.Auctions.ImportLots)))

	// Lifecycle endpoints (admin).
	mux.Handle("POST /api/auctions/{id}/configure", admin(http.HandlerFunc(handlers.Auctions.Configure)))
	mux.Handle("POST /api/auctions/{id}/go-live", admin(http.HandlerFunc(handlers.Auctions.GoLive)))
	mux.Handle("POST /api/auctions/{id}/pause", admin(http.HandlerFunc(handlers.Auctions.Pause)))
	mux.Handle("POST /api/auctions/{id}/resume", admin(http.HandlerFunc(handlers.Auctions.Resume)))
	mux.Handle("POST /api/auctions/{id}/complete", admin(http.HandlerFunc(handlers.Auctions.Complete)))
	mux.Handle("POST /api/auctions/{id}/next-round", admin(http.HandlerFunc(handlers.Auctions.NextRound)))
	mux.Handle("POST /api/auctions/{id}/trade-window", admin(http.HandlerFunc(handlers.Auctions.OpenTradeWindow)))
	mux.Handle("POST /api/auctions/{id}/finalize", admin(http.HandlerFunc(handlers.Auctions.Finalize)))
	mux.Handle("POST /api/auctions/{id}/undo", admin(http.HandlerFunc(handlers.Auctions.Undo)))

	// Bid endpoints. Submission is team-authenticated; void is admin.
	mux.HandleFunc("POST /api/auctions/{id}/bids", handlers.Bids.SubmitBid)
	mux.Handle("POST /api/auctions/{id}/bids/{bidId}/void", admin(http.HandlerFunc(handlers.Bids.VoidBid)))
	mux.Handle("GET /api/auctions/{id}/bids", admin(http.HandlerFunc(handlers.Bids.ListBidLog)))

	// Trade window endpoints (team-authenticated except the admin list).
	mux.HandleFunc("POST /api/auctions/{id}/trades", handlers.Trades.ProposeTrade)
	mux.HandleFunc("POST /api/auctions/{id}/trades/{tradeId}/accept", handlers.Trades.AcceptTrade)
	mux.HandleFunc("POST /api/auctions/{id}/trades/{tradeId}/reject", handlers.Trades.RejectTrade)
	mux.Handle("GET /api/auctions/{id}/trades", admin(http.HandlerFunc(handlers.Trades.ListTrades)))

	// Snapshot: the authoritative read every client falls back to.
	mux.HandleFunc("GET /api/auctions/{id}/snapshot", handlers.Snapshots.GetSnapshot)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Second)(h)
	}
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0 // allow all if none specified
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Org-ID, X-Team-ID, X-Team-Token")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
