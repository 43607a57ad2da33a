package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pitchside/auctiond/internal/domain"
)

// UndoLast pops the most recent resolution snapshot and applies it
// verbatim: the lot returns to the pool for re-auction and the affected
// team's purse, squad size and the round counter come back exactly. Undo is
// a snapshot restore, never a computed inverse. It is rejected outside
// live/paused, and refused when the snapshotted team currently holds the
// standing bid on the active lot (restoring the snapshot would clobber that
// escrow).
func (e *Engine) UndoLast(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	if e.auction.Status != domain.AuctionLive && e.auction.Status != domain.AuctionPaused {
		return domain.Reject(domain.RejectInvalidTransition, "undo not available while %s", e.auction.Status)
	}
	if len(e.undo) == 0 {
		return domain.Reject(domain.RejectNothingToUndo, "no resolutions to undo")
	}
	top := e.undo[0]

	if e.auction.CurrentLotID != nil {
		if active, ok := e.lots[*e.auction.CurrentLotID]; ok && active.HasBid() {
			for _, t := range top.Teams {
				if *active.CurrentBidTeamID == t.ID {
					return domain.Reject(domain.RejectInvalidTransition,
						"team %s holds the standing bid on the active lot; resolve or pause first", t.ID)
				}
			}
		}
	}

	now := e.now()
	lotCopy := top.Lot
	lotCopy.UpdatedAt = now
	teams := make([]domain.Team, 0, len(top.Teams))
	for _, t := range top.Teams {
		t.UpdatedAt = now
		teams = append(teams, t)
	}

	auctionCopy := e.auction
	auctionCopy.CurrentRound = top.Round
	auctionCopy.UpdatedAt = now

	events := stampEvents(&auctionCopy, []pendingEvent{
		{domain.EventUndoApplied, domain.UndoPayload{
			LotID:      top.Lot.ID,
			ActionType: top.ActionType,
			Round:      top.Round,
		}},
		{domain.EventLotStateChanged, domain.PhasePayload{LotID: top.Lot.ID, Phase: domain.LotPool}},
	})

	err := e.store.Apply(ctx, domain.StateMutation{
		Auction:   &auctionCopy,
		Lots:      []domain.Lot{lotCopy},
		Teams:     teams,
		UndoPopID: top.ID,
	})
	if err != nil {
		return err
	}

	*e.lots[lotCopy.ID] = lotCopy
	for _, t := range teams {
		*e.teams[t.ID] = t
	}
	e.auction = auctionCopy
	e.undo = e.undo[1:]
	e.publish(ctx, events)

	e.logger.InfoContext(ctx, "undo applied",
		slog.String("lot_id", top.Lot.ID),
		slog.String("action", string(top.ActionType)),
	)
	e.alert(ctx, "undo_applied", "Resolution undone",
		fmt.Sprintf("lot %s (%s) returned to pool in auction %s", top.Lot.PlayerName, top.Lot.ID, e.auction.Name))

	// Undoing the last resolution of an exhausted pool leaves a live
	// auction with a restored lot and nothing on the clock; reopen so
	// bidding resumes without a pause/resume round-trip. The restore above
	// already committed, so a failure here only logs.
	if e.auction.Status == domain.AuctionLive && e.auction.CurrentLotID == nil {
		if err := e.openNextLot(ctx); err != nil {
			e.logger.ErrorContext(ctx, "reopen after undo failed",
				slog.String("lot_id", lotCopy.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// UndoDepthRemaining reports how many resolutions can still be undone.
func (e *Engine) UndoDepthRemaining(ctx context.Context) (int, error) {
	if err := e.acquire(ctx); err != nil {
		return 0, err
	}
	defer e.release()
	return len(e.undo), nil
}
