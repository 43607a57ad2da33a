package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pitchside/auctiond/internal/domain"
)

// BidReceipt is the arbiter's answer to a bid submission. Rejections are
// private to the submitting client; only accepted bids broadcast.
type BidReceipt struct {
	Accepted    bool                `json:"accepted"`
	Reason      domain.RejectReason `json:"reason,omitempty"`
	Detail      string              `json:"detail,omitempty"`
	EntryID     string              `json:"entry_id"`
	Amount      int64               `json:"amount"`
	MinRequired int64               `json:"min_required,omitempty"`
	Seq         uint64              `json:"seq,omitempty"`
}

// SubmitBid serializes one bid attempt against the active lot. The
// validate-and-apply sequence runs entirely inside the engine's critical
// section; two bids racing for the same price resolve strictly
// first-accepted, with the loser rejected as outbid. Every attempt is
// written to the audit log. An accepted bid is acked only after the durable
// write commits, and it resets the phase clock to a full open window.
func (e *Engine) SubmitBid(ctx context.Context, lotID, teamID string, amount int64) (BidReceipt, error) {
	if err := e.acquire(ctx); err != nil {
		return BidReceipt{}, err
	}
	defer e.release()

	now := e.now()
	team, teamOK := e.teams[teamID]
	if !teamOK {
		return BidReceipt{}, fmt.Errorf("engine: team %s: %w", teamID, domain.ErrNotFound)
	}

	entry := domain.BidLogEntry{
		ID:              uuid.New().String(),
		OrgID:           e.orgID,
		AuctionID:       e.id,
		LotID:           lotID,
		TeamID:          teamID,
		AttemptedAmount: amount,
		PurseAtTime:     team.PurseRemaining,
		MaxBidAtTime:    team.MaxBid(e.auction.Config),
		CreatedAt:       now,
	}

	reject := func(reason domain.RejectReason, detail string, minRequired int64) (BidReceipt, error) {
		entry.Type = domain.BidRejected
		entry.Reason = string(reason)
		// Rejections are logged best-effort; a logging failure must not mask
		// the rejection itself.
		if err := e.store.Apply(ctx, domain.StateMutation{BidLog: []domain.BidLogEntry{entry}}); err != nil {
			e.logger.ErrorContext(ctx, "bid rejection log write failed",
				slog.String("entry_id", entry.ID),
				slog.String("error", err.Error()),
			)
		}
		e.logger.InfoContext(ctx, "bid rejected",
			slog.String("lot_id", lotID),
			slog.String("team_id", teamID),
			slog.Int64("amount", amount),
			slog.String("reason", string(reason)),
		)
		return BidReceipt{
			Accepted:    false,
			Reason:      reason,
			Detail:      detail,
			EntryID:     entry.ID,
			Amount:      amount,
			MinRequired: minRequired,
		}, nil
	}

	// 1. Auction must be live and the bid must target the active lot.
	if e.auction.Status != domain.AuctionLive {
		return reject(domain.RejectWrongPhase, fmt.Sprintf("auction is %s", e.auction.Status), 0)
	}
	if e.auction.CurrentLotID == nil || *e.auction.CurrentLotID != lotID {
		return reject(domain.RejectWrongLot, "lot is not open for bidding", 0)
	}
	lot := e.lots[lotID]
	if lot == nil || !lot.Status.Active() {
		return reject(domain.RejectWrongLot, "lot is not open for bidding", 0)
	}

	// 2. No self-outbidding. Checked before the increment floor so a
	// retried duplicate of the standing bid answers already_highest, the
	// same answer a raise attempt by the holder gets.
	minBid := e.auction.Config.MinBid(lot.CurrentBidAmount, lot.HasBid())
	if lot.HasBid() && *lot.CurrentBidTeamID == teamID {
		return reject(domain.RejectAlreadyHighest, "you already hold the highest bid", minBid)
	}

	// 3. Tiered increment: the raise is a pure function of current price.
	if amount < minBid {
		if amount <= lot.CurrentBidAmount && lot.HasBid() {
			return reject(domain.RejectOutbid, fmt.Sprintf("standing bid is %d", lot.CurrentBidAmount), minBid)
		}
		return reject(domain.RejectBelowIncrement, fmt.Sprintf("minimum bid is %d", minBid), minBid)
	}

	// 4. Squad capacity and mandatory-slot reserve.
	if team.SquadSize >= e.auction.Config.MaxSquadSize {
		return reject(domain.RejectInsufficientPurse, "squad is already full", minBid)
	}
	if team.PurseRemaining-amount < team.Reserve(e.auction.Config) {
		return reject(domain.RejectInsufficientPurse,
			fmt.Sprintf("bid exceeds max of %d (reserve for mandatory slots)", team.MaxBid(e.auction.Config)), minBid)
	}

	// Accepted: escrow the bidder, refund the superseded bidder, advance the
	// lot, log, and reset the clock, all in one durable write.
	bidderCopy := *team
	if err := escrowBid(&bidderCopy, amount); err != nil {
		return BidReceipt{}, e.raiseInvariant(ctx, err)
	}
	bidderCopy.UpdatedAt = now

	teams := []domain.Team{bidderCopy}
	superseded := ""
	if lot.HasBid() {
		prev, ok := e.teams[*lot.CurrentBidTeamID]
		if !ok {
			return BidReceipt{}, e.raiseInvariant(ctx, domain.Invariant(e.id, "standing bidder %s missing", *lot.CurrentBidTeamID))
		}
		prevCopy := *prev
		if err := refundBid(&prevCopy, lot.CurrentBidAmount); err != nil {
			return BidReceipt{}, e.raiseInvariant(ctx, err)
		}
		prevCopy.UpdatedAt = now
		teams = append(teams, prevCopy)
		superseded = prevCopy.ID
	}

	lotCopy := *lot
	lotCopy.Status = domain.LotOpen
	lotCopy.CurrentBidAmount = amount
	lotCopy.CurrentBidTeamID = &teamID
	lotCopy.UpdatedAt = now

	entry.Type = domain.BidAccepted

	auctionCopy := e.auction
	auctionCopy.UpdatedAt = now
	deadline := now.Add(e.auction.Config.OpenWindow)
	events := stampEvents(&auctionCopy, []pendingEvent{
		{domain.EventBidAccepted, domain.BidPayload{
			LotID:      lotID,
			TeamID:     teamID,
			Amount:     amount,
			Deadline:   deadline,
			Superseded: superseded,
		}},
		{domain.EventPhaseChanged, domain.PhasePayload{LotID: lotID, Phase: domain.LotOpen, Deadline: deadline}},
	})

	err := e.store.Apply(ctx, domain.StateMutation{
		Auction: &auctionCopy,
		Lots:    []domain.Lot{lotCopy},
		Teams:   teams,
		BidLog:  []domain.BidLogEntry{entry},
	})
	if err != nil {
		// No ack without a durable write; in-memory state stays put.
		e.logger.ErrorContext(ctx, "bid persist failed",
			slog.String("entry_id", entry.ID),
			slog.String("error", err.Error()),
		)
		return BidReceipt{}, fmt.Errorf("engine: persist bid: %w", domain.ErrServiceError)
	}

	*lot = lotCopy
	for _, t := range teams {
		*e.teams[t.ID] = t
	}
	e.auction = auctionCopy
	// Any accepted bid restarts the full open window; cancel-and-reschedule
	// so a superseded timer can never fire late.
	e.clock.arm(e.auction.Config.OpenWindow, now, e.onExpiry)
	e.publish(ctx, events)

	e.logger.InfoContext(ctx, "bid accepted",
		slog.String("lot_id", lotID),
		slog.String("team_id", teamID),
		slog.Int64("amount", amount),
		slog.String("superseded", superseded),
	)
	return BidReceipt{
		Accepted: true,
		EntryID:  entry.ID,
		Amount:   amount,
		Seq:      e.auction.Seq,
	}, nil
}

// VoidBid re-marks an accepted historical bid as voided in the audit log.
// It is admin-only and deliberately does not reverse a completed sale;
// reversing a sale is the undo stack's job, because voiding an in-flight
// bid and undoing a finished sale have different blast radii.
func (e *Engine) VoidBid(ctx context.Context, bidLogID, reason string) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	if err := e.store.VoidBid(ctx, e.orgID, e.id, bidLogID, reason); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "bid voided",
		slog.String("entry_id", bidLogID),
		slog.String("reason", reason),
	)
	e.alert(ctx, "bid_voided", "Bid voided",
		fmt.Sprintf("bid %s voided in auction %s: %s", bidLogID, e.auction.Name, reason))
	return nil
}
