package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pitchside/auctiond/internal/domain"
)

// TradeRequest is a trade proposal draft. PurseAdjustment is paid by the
// initiator to the counterparty (negative reverses direction).
type TradeRequest struct {
	InitiatorTeamID    string   `json:"initiator_team_id"`
	CounterpartyTeamID string   `json:"counterparty_team_id"`
	InitiatorLotIDs    []string `json:"initiator_lot_ids"`
	CounterpartyLotIDs []string `json:"counterparty_lot_ids"`
	PurseAdjustment    int64    `json:"purse_adjustment"`
}

// ProposeTrade validates both sides' resulting purse and squad before
// creating the proposal, so an invalid trade can never be proposed, let
// alone accepted. Active only during the trade window.
func (e *Engine) ProposeTrade(ctx context.Context, req TradeRequest) (domain.TradeProposal, error) {
	if err := e.acquire(ctx); err != nil {
		return domain.TradeProposal{}, err
	}
	defer e.release()

	if e.auction.Status != domain.AuctionTradeWindow {
		return domain.TradeProposal{}, domain.Reject(domain.RejectWrongPhase, "trades only during trade window")
	}
	if err := e.validateTrade(req); err != nil {
		return domain.TradeProposal{}, err
	}

	now := e.now()
	expires := now.Add(48 * time.Hour)
	if e.auction.WindowEndsAt != nil && e.auction.WindowEndsAt.Before(expires) {
		expires = *e.auction.WindowEndsAt
	}
	p := domain.TradeProposal{
		ID:                 uuid.New().String(),
		OrgID:              e.orgID,
		AuctionID:          e.id,
		Status:             domain.TradeProposed,
		InitiatorTeamID:    req.InitiatorTeamID,
		CounterpartyTeamID: req.CounterpartyTeamID,
		InitiatorLotIDs:    req.InitiatorLotIDs,
		CounterpartyLotIDs: req.CounterpartyLotIDs,
		PurseAdjustment:    req.PurseAdjustment,
		ExpiresAt:          expires,
		CreatedAt:          now,
	}

	auctionCopy := e.auction
	auctionCopy.UpdatedAt = now
	events := stampEvents(&auctionCopy, []pendingEvent{
		{domain.EventTradeProposed, domain.TradePayload{
			ProposalID:         p.ID,
			Status:             domain.TradeProposed,
			InitiatorTeamID:    p.InitiatorTeamID,
			CounterpartyTeamID: p.CounterpartyTeamID,
		}},
	})

	err := e.store.Apply(ctx, domain.StateMutation{
		Auction:  &auctionCopy,
		Proposal: &p,
	})
	if err != nil {
		return domain.TradeProposal{}, err
	}

	e.auction = auctionCopy
	e.publish(ctx, events)

	e.logger.InfoContext(ctx, "trade proposed",
		slog.String("proposal_id", p.ID),
		slog.String("initiator", p.InitiatorTeamID),
		slog.String("counterparty", p.CounterpartyTeamID),
	)
	return p, nil
}

// AcceptTrade is the single mutation point of the trade window: it
// atomically swaps player ownership, applies the purse adjustment to both
// teams, and marks the proposal accepted. Only the counterparty may accept.
// The trade is revalidated against current state, since earlier trades may
// have moved players or purse since the proposal was created.
func (e *Engine) AcceptTrade(ctx context.Context, proposalID, actorTeamID string) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	if e.auction.Status != domain.AuctionTradeWindow {
		return domain.Reject(domain.RejectWrongPhase, "trades only during trade window")
	}
	p, err := e.loadProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if p.Status != domain.TradeProposed {
		return domain.Reject(domain.RejectInvalidTrade, "proposal is %s", p.Status)
	}
	if actorTeamID != p.CounterpartyTeamID {
		return domain.ErrUnauthorized
	}
	now := e.now()
	if now.After(p.ExpiresAt) {
		return domain.Reject(domain.RejectInvalidTrade, "proposal expired at %s", p.ExpiresAt.Format(time.RFC3339))
	}

	req := TradeRequest{
		InitiatorTeamID:    p.InitiatorTeamID,
		CounterpartyTeamID: p.CounterpartyTeamID,
		InitiatorLotIDs:    p.InitiatorLotIDs,
		CounterpartyLotIDs: p.CounterpartyLotIDs,
		PurseAdjustment:    p.PurseAdjustment,
	}
	if err := e.validateTrade(req); err != nil {
		return err
	}

	initiator := e.teams[p.InitiatorTeamID]
	counterparty := e.teams[p.CounterpartyTeamID]

	initCopy := *initiator
	counterCopy := *counterparty
	netInit := len(p.CounterpartyLotIDs) - len(p.InitiatorLotIDs)
	if err := applyTradeDelta(&initCopy, -p.PurseAdjustment, netInit, e.auction.Config); err != nil {
		return e.raiseInvariant(ctx, err)
	}
	if err := applyTradeDelta(&counterCopy, p.PurseAdjustment, -netInit, e.auction.Config); err != nil {
		return e.raiseInvariant(ctx, err)
	}
	initCopy.UpdatedAt = now
	counterCopy.UpdatedAt = now

	lots := make([]domain.Lot, 0, len(p.InitiatorLotIDs)+len(p.CounterpartyLotIDs))
	for _, id := range p.InitiatorLotIDs {
		c := *e.lots[id]
		c.SoldToTeamID = &p.CounterpartyTeamID
		c.UpdatedAt = now
		lots = append(lots, c)
	}
	for _, id := range p.CounterpartyLotIDs {
		c := *e.lots[id]
		c.SoldToTeamID = &p.InitiatorTeamID
		c.UpdatedAt = now
		lots = append(lots, c)
	}

	pCopy := p
	pCopy.Status = domain.TradeAccepted
	pCopy.ResolvedAt = &now

	auctionCopy := e.auction
	auctionCopy.UpdatedAt = now
	events := stampEvents(&auctionCopy, []pendingEvent{
		{domain.EventTradeAccepted, domain.TradePayload{
			ProposalID:         p.ID,
			Status:             domain.TradeAccepted,
			InitiatorTeamID:    p.InitiatorTeamID,
			CounterpartyTeamID: p.CounterpartyTeamID,
		}},
	})

	err = e.store.Apply(ctx, domain.StateMutation{
		Auction:  &auctionCopy,
		Lots:     lots,
		Teams:    []domain.Team{initCopy, counterCopy},
		Proposal: &pCopy,
	})
	if err != nil {
		return err
	}

	for _, l := range lots {
		*e.lots[l.ID] = l
	}
	*initiator = initCopy
	*counterparty = counterCopy
	e.auction = auctionCopy
	e.publish(ctx, events)

	e.logger.InfoContext(ctx, "trade accepted",
		slog.String("proposal_id", p.ID),
		slog.Int64("purse_adjustment", p.PurseAdjustment),
	)
	return nil
}

// RejectTrade marks a proposal rejected. Either party may reject.
func (e *Engine) RejectTrade(ctx context.Context, proposalID, actorTeamID string) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	if e.auction.Status != domain.AuctionTradeWindow {
		return domain.Reject(domain.RejectWrongPhase, "trades only during trade window")
	}
	p, err := e.loadProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if p.Status != domain.TradeProposed {
		return domain.Reject(domain.RejectInvalidTrade, "proposal is %s", p.Status)
	}
	if actorTeamID != p.InitiatorTeamID && actorTeamID != p.CounterpartyTeamID {
		return domain.ErrUnauthorized
	}

	now := e.now()
	pCopy := p
	pCopy.Status = domain.TradeRejected
	pCopy.ResolvedAt = &now

	auctionCopy := e.auction
	auctionCopy.UpdatedAt = now
	events := stampEvents(&auctionCopy, []pendingEvent{
		{domain.EventTradeRejected, domain.TradePayload{
			ProposalID:         p.ID,
			Status:             domain.TradeRejected,
			InitiatorTeamID:    p.InitiatorTeamID,
			CounterpartyTeamID: p.CounterpartyTeamID,
		}},
	})

	err = e.store.Apply(ctx, domain.StateMutation{
		Auction:  &auctionCopy,
		Proposal: &pCopy,
	})
	if err != nil {
		return err
	}

	e.auction = auctionCopy
	e.publish(ctx, events)

	e.logger.InfoContext(ctx, "trade rejected", slog.String("proposal_id", p.ID))
	return nil
}

// loadProposal fetches one proposal for this auction.
func (e *Engine) loadProposal(ctx context.Context, proposalID string) (domain.TradeProposal, error) {
	proposals, err := e.store.ListProposals(ctx, e.orgID, e.id, domain.TradeFilter{})
	if err != nil {
		return domain.TradeProposal{}, fmt.Errorf("engine: load proposal: %w", err)
	}
	for _, p := range proposals {
		if p.ID == proposalID {
			return p, nil
		}
	}
	return domain.TradeProposal{}, fmt.Errorf("engine: proposal %s: %w", proposalID, domain.ErrNotFound)
}

// validateTrade checks both sides against current state: distinct existing
// teams, correct ownership of every player, and resulting purse and squad
// within bounds on both sides.
func (e *Engine) validateTrade(req TradeRequest) error {
	if req.InitiatorTeamID == req.CounterpartyTeamID {
		return domain.Reject(domain.RejectInvalidTrade, "cannot trade with yourself")
	}
	initiator, ok := e.teams[req.InitiatorTeamID]
	if !ok {
		return domain.Reject(domain.RejectInvalidTrade, "initiator team not found")
	}
	counterparty, ok := e.teams[req.CounterpartyTeamID]
	if !ok {
		return domain.Reject(domain.RejectInvalidTrade, "counterparty team not found")
	}
	if len(req.InitiatorLotIDs) == 0 && len(req.CounterpartyLotIDs) == 0 && req.PurseAdjustment == 0 {
		return domain.Reject(domain.RejectInvalidTrade, "empty trade")
	}

	seen := make(map[string]bool)
	checkSide := func(lotIDs []string, owner string) error {
		for _, id := range lotIDs {
			if seen[id] {
				return domain.Reject(domain.RejectInvalidTrade, "lot %s listed twice", id)
			}
			seen[id] = true
			lot, ok := e.lots[id]
			if !ok {
				return domain.Reject(domain.RejectInvalidTrade, "lot %s not found", id)
			}
			if lot.Status != domain.LotSold || lot.SoldToTeamID == nil || *lot.SoldToTeamID != owner {
				return domain.Reject(domain.RejectInvalidTrade, "lot %s is not owned by team %s", id, owner)
			}
		}
		return nil
	}
	if err := checkSide(req.InitiatorLotIDs, req.InitiatorTeamID); err != nil {
		return err
	}
	if err := checkSide(req.CounterpartyLotIDs, req.CounterpartyTeamID); err != nil {
		return err
	}

	cfg := e.auction.Config
	netInit := len(req.CounterpartyLotIDs) - len(req.InitiatorLotIDs)
	if initiator.PurseRemaining-req.PurseAdjustment < 0 {
		return domain.Reject(domain.RejectInvalidTrade, "initiator purse would go below zero")
	}
	if counterparty.PurseRemaining+req.PurseAdjustment < 0 {
		return domain.Reject(domain.RejectInvalidTrade, "counterparty purse would go below zero")
	}
	for _, side := range []struct {
		team  *domain.Team
		delta int
	}{
		{initiator, netInit},
		{counterparty, -netInit},
	} {
		newSquad := side.team.SquadSize + side.delta
		if newSquad < cfg.MinSquadSize || newSquad > cfg.MaxSquadSize {
			return domain.Reject(domain.RejectInvalidTrade,
				"team %s squad would be %d, outside [%d,%d]", side.team.ID, newSquad, cfg.MinSquadSize, cfg.MaxSquadSize)
		}
	}
	return nil
}
