package engine

import (
	"github.com/pitchside/auctiond/internal/domain"
)

// Ledger operations are the only code path that mutates a team's purse or
// squad size. They work on copies taken by the caller and refuse any
// mutation that would break the purse/squad invariants, so a bug upstream
// surfaces as an invariant violation instead of corrupt state.

// escrowBid debits the bidder for a standing bid. The amount is held until
// the bid is superseded (refund), the lot is sold (debit becomes the sale
// price), or the lot is reset (refund).
func escrowBid(t *domain.Team, amount int64) error {
	if amount <= 0 {
		return domain.Invariant(t.AuctionID, "escrow amount %d must be positive", amount)
	}
	if t.PurseRemaining-amount < 0 {
		return domain.Invariant(t.AuctionID, "team %s purse would go negative (%d - %d)", t.ID, t.PurseRemaining, amount)
	}
	t.PurseRemaining -= amount
	return nil
}

// refundBid returns a superseded or discarded escrow to the team.
func refundBid(t *domain.Team, amount int64) error {
	if amount <= 0 {
		return domain.Invariant(t.AuctionID, "refund amount %d must be positive", amount)
	}
	if t.PurseRemaining+amount > t.PurseValue {
		return domain.Invariant(t.AuctionID, "team %s refund would exceed purse value (%d + %d > %d)", t.ID, t.PurseRemaining, amount, t.PurseValue)
	}
	t.PurseRemaining += amount
	return nil
}

// settleSale converts the winner's escrow into a completed purchase. The
// purse was already debited at bid time; only the squad slot is consumed
// here.
func settleSale(t *domain.Team, cfg domain.AuctionConfig) error {
	if t.SquadSize+1 > cfg.MaxSquadSize {
		return domain.Invariant(t.AuctionID, "team %s squad would exceed max (%d)", t.ID, cfg.MaxSquadSize)
	}
	t.SquadSize++
	return nil
}

// applyTradeDelta applies a purse adjustment and a net squad change to one
// side of an accepted trade.
func applyTradeDelta(t *domain.Team, purseDelta int64, squadDelta int, cfg domain.AuctionConfig) error {
	newPurse := t.PurseRemaining + purseDelta
	if newPurse < 0 {
		return domain.Invariant(t.AuctionID, "team %s trade would drop purse below zero", t.ID)
	}
	newSquad := t.SquadSize + squadDelta
	if newSquad < 0 || newSquad > cfg.MaxSquadSize {
		return domain.Invariant(t.AuctionID, "team %s trade would leave squad at %d (max %d)", t.ID, newSquad, cfg.MaxSquadSize)
	}
	t.PurseRemaining = newPurse
	t.SquadSize = newSquad
	return nil
}
