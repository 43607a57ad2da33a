package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/pitchside/auctiond/internal/domain"
	"github.com/pitchside/auctiond/internal/engine"
)

const (
	// bidRateLimit caps bid submissions per team per window. Generous for
	// humans, tight enough to stop runaway client scripts.
	bidRateLimit  = 10
	bidRateWindow = time.Second
)

// BidHandler serves bid submission and the bid audit trail. Submission is
// team-facing and authenticates with per-team tokens; voiding is admin-only.
type BidHandler struct {
	registry *engine.Registry
	store    domain.EngineStore
	limiter  domain.RateLimiter
	logger   *slog.Logger
}

// NewBidHandler creates a BidHandler. limiter may be nil, which disables
// per-team rate limiting.
func NewBidHandler(registry *engine.Registry, store domain.EngineStore, limiter domain.RateLimiter, logger *slog.Logger) *BidHandler {
	return &BidHandler{
		registry: registry,
		store:    store,
		limiter:  limiter,
		logger:   logHandler(logger, "bid"),
	}
}

type submitBidRequest struct {
	LotID  string `json:"lot_id"`
	Amount int64  `json:"amount"`
}

// SubmitBid places a bid on the active lot. The team authenticates with
// X-Team-ID and X-Team-Token headers. A rejected bid is a successful HTTP
// exchange: 200 with accepted=false and a machine-readable reason.
// POST /api/auctions/{id}/bids
func (h *BidHandler) SubmitBid(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.authTeam(w, r)
	if !ok {
		return
	}

	var req submitBidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.LotID == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "lot_id and a positive amount are required")
		return
	}

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(r.Context(), "bid:"+teamID, bidRateLimit, bidRateWindow)
		if err != nil {
			// Fail open: a limiter outage must not freeze the auction.
			h.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
		} else if !allowed {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many bids, slow down")
			return
		}
	}

	eng, err := h.registry.Get(r.Context(), orgID(r), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	receipt, err := eng.SubmitBid(r.Context(), req.LotID, teamID, req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

type voidBidRequest struct {
	Reason string `json:"reason"`
}

// VoidBid re-marks an accepted bid log entry as voided. Audit-only.
// POST /api/auctions/{id}/bids/{bidId}/void
func (h *BidHandler) VoidBid(w http.ResponseWriter, r *http.Request) {
	var req voidBidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	eng, err := h.registry.Get(r.Context(), orgID(r), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := eng.VoidBid(r.Context(), pathParam(r, "bidId"), req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "voided"})
}

// ListBidLog returns the auction's bid audit trail, newest first. Filters:
// ?team_id=, ?type=.
// GET /api/auctions/{id}/bids
func (h *BidHandler) ListBidLog(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	f := domain.BidLogFilter{
		TeamID: r.URL.Query().Get("team_id"),
		Type:   domain.BidLogType(r.URL.Query().Get("type")),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}

	entries, err := h.store.ListBidLog(r.Context(), orgID(r), pathParam(r, "id"), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.BidLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": entries})
}

// authTeam validates the team token headers against the auction's stored
// bcrypt hash. Returns the team ID on success.
func (h *BidHandler) authTeam(w http.ResponseWriter, r *http.Request) (string, bool) {
	teamID := r.Header.Get("X-Team-ID")
	token := r.Header.Get("X-Team-Token")
	if teamID == "" || token == "" {
		writeError(w, http.StatusUnauthorized, "missing team credentials")
		return "", false
	}

	eng, err := h.registry.Get(r.Context(), orgID(r), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return "", false
	}
	if err := eng.CheckTeamToken(r.Context(), teamID, token); err != nil {
		writeDomainError(w, err)
		return "", false
	}
	return teamID, true
}
