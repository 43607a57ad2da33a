package handler

import (
	"log/slog"
	"net/http"

	"github.com/pitchside/auctiond/internal/domain"
	"github.com/pitchside/auctiond/internal/engine"
)

// AuctionHandler serves auction setup and lifecycle endpoints. Every
// endpoint here is admin-facing and sits behind the API-key middleware.
type AuctionHandler struct {
	registry *engine.Registry
	store    domain.EngineStore
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(registry *engine.Registry, store domain.EngineStore, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		registry: registry,
		store:    store,
		logger:   logHandler(logger, "auction"),
	}
}

type createAuctionRequest struct {
	Name   string               `json:"name"`
	Config domain.AuctionConfig `json:"config"`
}

// CreateAuction creates a draft auction.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	a, err := h.registry.CreateAuction(r.Context(), orgID(r), req.Name, req.Config)
	if err != nil {
		if rej, ok := domain.AsRejection(err); ok {
			writeError(w, http.StatusBadRequest, rej.Detail)
			return
		}
		h.logger.Error("create auction failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, a)
}

// ListAuctions returns the tenant's auctions.
// GET /api/auctions
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.store.ListAuctions(r.Context(), orgID(r), parseListOpts(r))
	if err != nil {
		h.logger.Error("list auctions failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	if auctions == nil {
		auctions = []domain.Auction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"auctions": auctions})
}

type registerTeamRequest struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

// RegisterTeam adds a team to a draft auction.
// POST /api/auctions/{id}/teams
func (h *AuctionHandler) RegisterTeam(w http.ResponseWriter, r *http.Request) {
	var req registerTeamRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" || req.Token == "" {
		writeError(w, http.StatusBadRequest, "name and token are required")
		return
	}

	team, err := h.registry.RegisterTeam(r.Context(), orgID(r), pathParam(r, "id"), req.Name, req.Token)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, team)
}

type importLotsRequest struct {
	Lots []engine.LotDraft `json:"lots"`
}

// ImportLots appends players to a draft auction's pool.
// POST /api/auctions/{id}/lots
func (h *AuctionHandler) ImportLots(w http.ResponseWriter, r *http.Request) {
	var req importLotsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Lots) == 0 {
		writeError(w, http.StatusBadRequest, "lots is required")
		return
	}

	lots, err := h.registry.ImportLots(r.Context(), orgID(r), pathParam(r, "id"), req.Lots)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"lots": lots})
}

// Configure locks an auction's setup.
// POST /api/auctions/{id}/configure
func (h *AuctionHandler) Configure(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(e *engine.Engine) error { return e.Configure(r.Context()) })
}

// GoLive opens bidding on the first pool lot.
// POST /api/auctions/{id}/go-live
func (h *AuctionHandler) GoLive(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(e *engine.Engine) error { return e.GoLive(r.Context()) })
}

// Pause freezes the auction and returns the active lot to the pool.
// POST /api/auctions/{id}/pause
func (h *AuctionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(e *engine.Engine) error { return e.Pause(r.Context()) })
}

// Resume reopens a paused auction.
// POST /api/auctions/{id}/resume
func (h *AuctionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(e *engine.Engine) error { return e.Resume(r.Context()) })
}

// Complete ends the bidding portion of the auction.
// POST /api/auctions/{id}/complete
func (h *AuctionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(e *engine.Engine) error { return e.Complete(r.Context()) })
}

// OpenTradeWindow opens the post-auction trade window.
// POST /api/auctions/{id}/trade-window
func (h *AuctionHandler) OpenTradeWindow(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(e *engine.Engine) error { return e.OpenTradeWindow(r.Context()) })
}

// Finalize closes the trade window and freezes rosters. Pass ?force=true to
// finalize before the window deadline.
// POST /api/auctions/{id}/finalize
func (h *AuctionHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	h.lifecycle(w, r, func(e *engine.Engine) error { return e.Finalize(r.Context(), force) })
}

// NextRound returns unsold lots to the pool and starts another pass.
// POST /api/auctions/{id}/next-round
func (h *AuctionHandler) NextRound(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(e *engine.Engine) error { return e.NextRound(r.Context()) })
}

// Undo reverses the most recent sold/unsold resolution.
// POST /api/auctions/{id}/undo
func (h *AuctionHandler) Undo(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(e *engine.Engine) error { return e.UndoLast(r.Context()) })
}

// lifecycle runs one engine operation and responds with a fresh snapshot on
// success, so the admin console always sees the post-transition state.
func (h *AuctionHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(*engine.Engine) error) {
	eng, err := h.registry.Get(r.Context(), orgID(r), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := op(eng); err != nil {
		writeDomainError(w, err)
		return
	}

	snap, err := eng.Snapshot(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
