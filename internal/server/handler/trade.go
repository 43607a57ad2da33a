package handler

import (
	"log/slog"
	"net/http"

	"github.com/pitchside/auctiond/internal/domain"
	"github.com/pitchside/auctiond/internal/engine"
)

// TradeHandler serves the trade window endpoints. Proposing, accepting and
// rejecting are team-facing and use the same token headers as bidding.
type TradeHandler struct {
	registry *engine.Registry
	store    domain.EngineStore
	logger   *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(registry *engine.Registry, store domain.EngineStore, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		registry: registry,
		store:    store,
		logger:   logHandler(logger, "trade"),
	}
}

type proposeTradeRequest struct {
	CounterpartyTeamID string   `json:"counterparty_team_id"`
	InitiatorLotIDs    []string `json:"initiator_lot_ids"`
	CounterpartyLotIDs []string `json:"counterparty_lot_ids"`
	PurseAdjustment    int64    `json:"purse_adjustment"`
}

// ProposeTrade creates a trade proposal from the authenticated team.
// POST /api/auctions/{id}/trades
func (h *TradeHandler) ProposeTrade(w http.ResponseWriter, r *http.Request) {
	teamID, eng, ok := h.authTeam(w, r)
	if !ok {
		return
	}

	var req proposeTradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.CounterpartyTeamID == "" {
		writeError(w, http.StatusBadRequest, "counterparty_team_id is required")
		return
	}

	proposal, err := eng.ProposeTrade(r.Context(), engine.TradeRequest{
		InitiatorTeamID:    teamID,
		CounterpartyTeamID: req.CounterpartyTeamID,
		InitiatorLotIDs:    req.InitiatorLotIDs,
		CounterpartyLotIDs: req.CounterpartyLotIDs,
		PurseAdjustment:    req.PurseAdjustment,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, proposal)
}

// AcceptTrade executes a proposal. Only the counterparty may accept.
// POST /api/auctions/{id}/trades/{tradeId}/accept
func (h *TradeHandler) AcceptTrade(w http.ResponseWriter, r *http.Request) {
	teamID, eng, ok := h.authTeam(w, r)
	if !ok {
		return
	}

	if err := eng.AcceptTrade(r.Context(), pathParam(r, "tradeId"), teamID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// RejectTrade declines a proposal. Either party may reject.
// POST /api/auctions/{id}/trades/{tradeId}/reject
func (h *TradeHandler) RejectTrade(w http.ResponseWriter, r *http.Request) {
	teamID, eng, ok := h.authTeam(w, r)
	if !ok {
		return
	}

	if err := eng.RejectTrade(r.Context(), pathParam(r, "tradeId"), teamID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// ListTrades returns the auction's trade proposals, newest first. Filters:
// ?active=true, ?team_id=.
// GET /api/auctions/{id}/trades
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	f := domain.TradeFilter{
		ActiveOnly: r.URL.Query().Get("active") == "true",
		TeamID:     r.URL.Query().Get("team_id"),
		Limit:      opts.Limit,
		Offset:     opts.Offset,
	}

	proposals, err := h.store.ListProposals(r.Context(), orgID(r), pathParam(r, "id"), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if proposals == nil {
		proposals = []domain.TradeProposal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": proposals})
}

func (h *TradeHandler) authTeam(w http.ResponseWriter, r *http.Request) (string, *engine.Engine, bool) {
	teamID := r.Header.Get("X-Team-ID")
	token := r.Header.Get("X-Team-Token")
	if teamID == "" || token == "" {
		writeError(w, http.StatusUnauthorized, "missing team credentials")
		return "", nil, false
	}

	eng, err := h.registry.Get(r.Context(), orgID(r), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return "", nil, false
	}
	if err := eng.CheckTeamToken(r.Context(), teamID, token); err != nil {
		writeDomainError(w, err)
		return "", nil, false
	}
	return teamID, eng, true
}
