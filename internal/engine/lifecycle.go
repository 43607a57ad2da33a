package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pitchside/auctiond/internal/domain"
)

// Lifecycle transitions are admin-triggered and guarded. While the auction
// is live (or paused) the bid arbiter is the only authorized writer of team
// and lot state; once the trade window opens, the trade manager is. That
// single-writer-per-phase rule is enforced here by gating every writer on
// the auction status inside the shared critical section.

// Configure locks the auction config and moves draft → configured. It
// requires at least two teams and a pool at least as large as the team
// count.
func (e *Engine) Configure(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	if !e.auction.CanTransition(domain.AuctionConfigured) {
		return domain.Reject(domain.RejectInvalidTransition, "cannot configure from %s", e.auction.Status)
	}
	if len(e.teams) < 2 {
		return domain.Reject(domain.RejectInvalidTransition, "need at least 2 teams, have %d", len(e.teams))
	}
	if len(e.lots) < len(e.teams) {
		return domain.Reject(domain.RejectInvalidTransition, "pool size %d below team count %d", len(e.lots), len(e.teams))
	}
	if err := e.auction.Config.Validate(); err != nil {
		return domain.Reject(domain.RejectInvalidTransition, "config invalid: %v", err)
	}
	return e.transition(ctx, domain.AuctionConfigured, nil, nil)
}

// GoLive moves configured → live and opens the first pool lot.
func (e *Engine) GoLive(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	if !e.auction.CanTransition(domain.AuctionLive) || e.auction.Status != domain.AuctionConfigured {
		return domain.Reject(domain.RejectInvalidTransition, "cannot go live from %s", e.auction.Status)
	}
	if err := e.transition(ctx, domain.AuctionLive, nil, nil); err != nil {
		return err
	}
	return e.openNextLot(ctx)
}

// Pause halts bidding. A lot mid-bid is reset to the pool and its standing
// bid discarded and refunded, so resuming never lands in a state clients
// disagree about.
func (e *Engine) Pause(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	if e.auction.Status != domain.AuctionLive {
		return domain.Reject(domain.RejectInvalidTransition, "cannot pause from %s", e.auction.Status)
	}
	if e.auction.CurrentLotID != nil {
		if lot, ok := e.lots[*e.auction.CurrentLotID]; ok && lot.Status.Active() {
			if err := e.resetActiveLot(ctx); err != nil {
				return err
			}
		}
	}
	e.clock.stop()
	return e.transition(ctx, domain.AuctionPaused, nil, nil)
}

// Resume moves paused → live and opens the next pool lot in the same
// deterministic order that a never-paused run would have used.
func (e *Engine) Resume(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	if e.auction.Status != domain.AuctionPaused {
		return domain.Reject(domain.RejectInvalidTransition, "cannot resume from %s", e.auction.Status)
	}
	if err := e.transition(ctx, domain.AuctionLive, nil, nil); err != nil {
		return err
	}
	return e.openNextLot(ctx)
}

// Complete irreversibly ends bidding. A lot still active is forced to
// unsold with its standing bid refunded.
func (e *Engine) Complete(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	if !e.auction.CanTransition(domain.AuctionCompleted) {
		return domain.Reject(domain.RejectInvalidTransition, "cannot complete from %s", e.auction.Status)
	}

	var lots []domain.Lot
	var teams []domain.Team
	var extra []pendingEvent
	now := e.now()

	if e.auction.CurrentLotID != nil {
		if lot, ok := e.lots[*e.auction.CurrentLotID]; ok && lot.Status.Active() {
			lotCopy := *lot
			if lot.HasBid() {
				bidder, ok := e.teams[*lot.CurrentBidTeamID]
				if !ok {
					return e.raiseInvariant(ctx, domain.Invariant(e.id, "standing bidder %s missing", *lot.CurrentBidTeamID))
				}
				b := *bidder
				if err := refundBid(&b, lot.CurrentBidAmount); err != nil {
					return e.raiseInvariant(ctx, err)
				}
				b.UpdatedAt = now
				teams = append(teams, b)
			}
			lotCopy.ClearBid()
			lotCopy.Status = domain.LotUnsold
			lotCopy.UpdatedAt = now
			lots = append(lots, lotCopy)
			extra = append(extra, pendingEvent{domain.EventLotResolved, domain.ResolutionPayload{
				LotID:  lot.ID,
				Status: domain.LotUnsold,
				Round:  e.auction.CurrentRound,
			}})
		}
	}

	e.clock.stop()
	return e.transition(ctx, domain.AuctionCompleted, func(a *domain.Auction) {
		a.CurrentLotID = nil
	}, func(m *domain.StateMutation) []pendingEvent {
		m.Lots = lots
		m.Teams = teams
		return extra
	})
}

// OpenTradeWindow moves completed → trade_window and starts the window
// timer.
func (e *Engine) OpenTradeWindow(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	if !e.auction.CanTransition(domain.AuctionTradeWindow) {
		return domain.Reject(domain.RejectInvalidTransition, "cannot open trade window from %s", e.auction.Status)
	}
	ends := e.now().Add(e.auction.Config.TradeWindow)
	err := e.transition(ctx, domain.AuctionTradeWindow, func(a *domain.Auction) {
		a.WindowEndsAt = &ends
	}, nil)
	if err != nil {
		return err
	}
	e.clock.arm(e.auction.Config.TradeWindow, e.now(), e.onExpiry)
	return nil
}

// Finalize closes the trade window. Before the window deadline it requires
// force (admin force-close); at or after the deadline the phase clock calls
// it automatically. All still-proposed trades are expired, rosters and
// purses become immutable, and the bid history is archived.
func (e *Engine) Finalize(ctx context.Context, force bool) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()
	return e.finalizeLocked(ctx, force)
}

func (e *Engine) finalizeLocked(ctx context.Context, force bool) error {
	if e.auction.Status != domain.AuctionTradeWindow {
		return domain.Reject(domain.RejectInvalidTransition, "cannot finalize from %s", e.auction.Status)
	}
	now := e.now()
	if !force && e.auction.WindowEndsAt != nil && now.Before(*e.auction.WindowEndsAt) {
		return domain.Reject(domain.RejectInvalidTransition, "trade window open until %s", e.auction.WindowEndsAt.Format("2006-01-02T15:04:05Z07:00"))
	}

	// Expire everything still proposed.
	proposals, err := e.store.ListProposals(ctx, e.orgID, e.id, domain.TradeFilter{ActiveOnly: true})
	if err != nil {
		return fmt.Errorf("engine: list open proposals: %w", err)
	}
	expired := make([]domain.TradeProposal, 0, len(proposals))
	var extra []pendingEvent
	for _, p := range proposals {
		p.Status = domain.TradeExpired
		p.ResolvedAt = &now
		expired = append(expired, p)
		extra = append(extra, pendingEvent{domain.EventTradeRejected, domain.TradePayload{
			ProposalID:         p.ID,
			Status:             domain.TradeExpired,
			InitiatorTeamID:    p.InitiatorTeamID,
			CounterpartyTeamID: p.CounterpartyTeamID,
		}})
	}

	e.clock.stop()
	err = e.transition(ctx, domain.AuctionFinalized, nil, func(m *domain.StateMutation) []pendingEvent {
		m.Proposals = expired
		return extra
	})
	if err != nil {
		return err
	}

	e.archiveFinal(ctx)
	e.alert(ctx, "auction_finalized", "Auction finalized",
		fmt.Sprintf("auction %s (%s) finalized with %d expired proposals", e.auction.Name, e.id, len(expired)))
	return nil
}

// NextRound returns unsold lots to the pool for re-auction and advances the
// round counter. Only valid while live with no active lot and an exhausted
// pool.
func (e *Engine) NextRound(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	if e.auction.Status != domain.AuctionLive {
		return domain.Reject(domain.RejectInvalidTransition, "cannot start a round from %s", e.auction.Status)
	}
	if e.auction.CurrentLotID != nil {
		return domain.Reject(domain.RejectInvalidTransition, "a lot is still active")
	}
	if e.nextPoolLot("") != nil {
		return domain.Reject(domain.RejectInvalidTransition, "pool not exhausted")
	}

	now := e.now()
	var returned []domain.Lot
	for _, id := range e.lotOrder {
		if l := e.lots[id]; l.Status == domain.LotUnsold {
			c := *l
			c.Status = domain.LotPool
			c.UpdatedAt = now
			returned = append(returned, c)
		}
	}
	if len(returned) == 0 {
		return domain.Reject(domain.RejectInvalidTransition, "no unsold lots to re-auction")
	}

	auctionCopy := e.auction
	auctionCopy.CurrentRound++
	auctionCopy.UpdatedAt = now
	events := stampEvents(&auctionCopy, []pendingEvent{
		{domain.EventAuctionStatus, domain.StatusPayload{
			Status: auctionCopy.Status,
			Round:  auctionCopy.CurrentRound,
		}},
	})

	err := e.store.Apply(ctx, domain.StateMutation{
		Auction: &auctionCopy,
		Lots:    returned,
	})
	if err != nil {
		return err
	}

	for _, l := range returned {
		*e.lots[l.ID] = l
	}
	e.auction = auctionCopy
	e.publish(ctx, events)

	e.logger.InfoContext(ctx, "round advanced",
		slog.Int("round", e.auction.CurrentRound),
		slog.Int("returned_lots", len(returned)),
	)
	return e.openNextLot(ctx)
}

// transition commits a status change plus any extra entity updates supplied
// by decorate, then broadcasts auction_status_changed (and any extra
// events) in order. Callers hold the critical section.
func (e *Engine) transition(
	ctx context.Context,
	next domain.AuctionStatus,
	mutate func(*domain.Auction),
	decorate func(*domain.StateMutation) []pendingEvent,
) error {
	now := e.now()
	auctionCopy := e.auction
	auctionCopy.Status = next
	auctionCopy.UpdatedAt = now
	if mutate != nil {
		mutate(&auctionCopy)
	}

	m := domain.StateMutation{Auction: &auctionCopy}
	var extra []pendingEvent
	if decorate != nil {
		extra = decorate(&m)
	}

	lotID := ""
	if auctionCopy.CurrentLotID != nil {
		lotID = *auctionCopy.CurrentLotID
	}
	all := append(extra, pendingEvent{domain.EventAuctionStatus, domain.StatusPayload{
		Status:       next,
		CurrentLotID: lotID,
		Round:        auctionCopy.CurrentRound,
		WindowEndsAt: auctionCopy.WindowEndsAt,
	}})
	events := stampEvents(&auctionCopy, all)
	m.Auction = &auctionCopy

	if err := e.store.Apply(ctx, m); err != nil {
		return err
	}

	for _, l := range m.Lots {
		*e.lots[l.ID] = l
	}
	for _, t := range m.Teams {
		*e.teams[t.ID] = t
	}
	e.auction = auctionCopy
	e.publish(ctx, events)

	e.logger.InfoContext(ctx, "auction status changed",
		slog.String("status", string(next)),
	)
	e.alert(ctx, "auction_status", "Auction "+string(next),
		fmt.Sprintf("auction %s is now %s", e.auction.Name, next))
	return nil
}

// archiveFinal exports the complete bid log and the final snapshot to blob
// storage. Failures are logged, not fatal: the durable store remains the
// source of truth.
func (e *Engine) archiveFinal(ctx context.Context) {
	if e.archive == nil {
		return
	}
	log, err := e.store.ListBidLog(ctx, e.orgID, e.id, domain.BidLogFilter{Limit: 100000})
	if err != nil {
		e.logger.ErrorContext(ctx, "archive: bid log read failed", slog.String("error", err.Error()))
		return
	}
	doc := struct {
		Snapshot Snapshot             `json:"snapshot"`
		BidLog   []domain.BidLogEntry `json:"bid_log"`
	}{
		Snapshot: e.snapshotLocked(),
		BidLog:   log,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		e.logger.ErrorContext(ctx, "archive: marshal failed", slog.String("error", err.Error()))
		return
	}
	key := fmt.Sprintf("auctions/%s/%s/final.json", e.orgID, e.id)
	if err := e.archive.Write(ctx, key, data, "application/json"); err != nil {
		e.logger.ErrorContext(ctx, "archive: write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	e.logger.InfoContext(ctx, "auction archived", slog.String("key", key))
}
