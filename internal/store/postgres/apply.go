package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pitchside/auctiond/internal/domain"
)

// Apply commits a StateMutation in a single transaction. The engine only
// advances its in-memory state after this returns nil, so a failure here
// leaves both memory and storage at the previous committed state.
func (s *EngineStore) Apply(ctx context.Context, m domain.StateMutation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin apply: %w", err)
	}
	defer tx.Rollback(ctx)

	if m.Auction != nil {
		if err := applyAuction(ctx, tx, m.Auction); err != nil {
			return err
		}
	}
	for i := range m.Lots {
		if err := applyLot(ctx, tx, &m.Lots[i]); err != nil {
			return err
		}
	}
	for i := range m.Teams {
		if err := applyTeam(ctx, tx, &m.Teams[i]); err != nil {
			return err
		}
	}
	for i := range m.BidLog {
		if err := insertBidLog(ctx, tx, &m.BidLog[i]); err != nil {
			return err
		}
	}
	if m.UndoPush != nil {
		if err := pushUndo(ctx, tx, m.UndoPush); err != nil {
			return err
		}
	}
	if m.UndoPopID != "" {
		if err := popUndo(ctx, tx, m.UndoPopID); err != nil {
			return err
		}
	}
	if m.Proposal != nil {
		if err := upsertProposal(ctx, tx, m.Proposal); err != nil {
			return err
		}
	}
	for i := range m.Proposals {
		if err := upsertProposal(ctx, tx, &m.Proposals[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit apply: %w", err)
	}
	return nil
}

func applyAuction(ctx context.Context, tx pgx.Tx, a *domain.Auction) error {
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("postgres: marshal auction config: %w", err)
	}
	const query = `
		UPDATE auctions SET name = $3, status = $4, config = $5,
			current_lot_id = $6, current_round = $7, seq = $8,
			window_ends_at = $9, updated_at = $10
		WHERE id = $1 AND org_id = $2`
	tag, err := tx.Exec(ctx, query,
		a.ID, a.OrgID, a.Name, string(a.Status), cfg,
		a.CurrentLotID, a.CurrentRound, int64(a.Seq), a.WindowEndsAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update auction %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func applyLot(ctx context.Context, tx pgx.Tx, l *domain.Lot) error {
	const query = `
		UPDATE lots SET status = $3, current_bid_amount = $4,
			current_bid_team_id = $5, sold_amount = $6, sold_to_team_id = $7,
			sold_in_round = $8, updated_at = $9
		WHERE id = $1 AND org_id = $2`
	tag, err := tx.Exec(ctx, query,
		l.ID, l.OrgID, string(l.Status), l.CurrentBidAmount,
		l.CurrentBidTeamID, l.SoldAmount, l.SoldToTeamID, l.SoldInRound, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update lot %s: %w", l.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func applyTeam(ctx context.Context, tx pgx.Tx, t *domain.Team) error {
	const query = `
		UPDATE teams SET purse_remaining = $3, squad_size = $4, updated_at = $5
		WHERE id = $1 AND org_id = $2`
	tag, err := tx.Exec(ctx, query,
		t.ID, t.OrgID, t.PurseRemaining, t.SquadSize, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update team %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func insertBidLog(ctx context.Context, tx pgx.Tx, e *domain.BidLogEntry) error {
	const query = `
		INSERT INTO bid_log (id, org_id, auction_id, lot_id, team_id, type,
			attempted_amount, reason, purse_at_time, max_bid_at_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := tx.Exec(ctx, query,
		e.ID, e.OrgID, e.AuctionID, e.LotID, e.TeamID, string(e.Type),
		e.AttemptedAmount, e.Reason, e.PurseAtTime, e.MaxBidAtTime, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert bid log %s: %w", e.ID, err)
	}
	return nil
}

// pushUndo inserts the snapshot and trims the stack to UndoDepth entries
// per auction, newest kept.
func pushUndo(ctx context.Context, tx pgx.Tx, e *domain.UndoEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("postgres: marshal undo entry: %w", err)
	}
	const insert = `
		INSERT INTO undo_stack (id, org_id, auction_id, entry, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, insert, e.ID, e.OrgID, e.AuctionID, raw, e.CreatedAt); err != nil {
		return fmt.Errorf("postgres: insert undo entry %s: %w", e.ID, err)
	}
	const trim = `
		DELETE FROM undo_stack WHERE auction_id = $1 AND id NOT IN (
			SELECT id FROM undo_stack WHERE auction_id = $1
			ORDER BY created_at DESC LIMIT $2
		)`
	if _, err := tx.Exec(ctx, trim, e.AuctionID, domain.UndoDepth); err != nil {
		return fmt.Errorf("postgres: trim undo stack: %w", err)
	}
	return nil
}

func popUndo(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM undo_stack WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: pop undo entry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func upsertProposal(ctx context.Context, tx pgx.Tx, p *domain.TradeProposal) error {
	initLots, err := json.Marshal(p.InitiatorLotIDs)
	if err != nil {
		return fmt.Errorf("postgres: marshal initiator lots: %w", err)
	}
	counterLots, err := json.Marshal(p.CounterpartyLotIDs)
	if err != nil {
		return fmt.Errorf("postgres: marshal counterparty lots: %w", err)
	}
	const query = `
		INSERT INTO trade_proposals (id, org_id, auction_id, status,
			initiator_team_id, counterparty_team_id, initiator_lot_ids,
			counterparty_lot_ids, purse_adjustment, expires_at, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status,
			resolved_at = EXCLUDED.resolved_at`
	_, err = tx.Exec(ctx, query,
		p.ID, p.OrgID, p.AuctionID, string(p.Status),
		p.InitiatorTeamID, p.CounterpartyTeamID, initLots,
		counterLots, p.PurseAdjustment, p.ExpiresAt, p.CreatedAt, p.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert proposal %s: %w", p.ID, err)
	}
	return nil
}

// VoidBid re-marks an accepted bid entry as voided. Only accepted entries
// may be voided; voiding never touches lot or purse state.
func (s *EngineStore) VoidBid(ctx context.Context, orgID, auctionID, bidLogID, reason string) error {
	const query = `
		UPDATE bid_log SET type = $4, reason = $5
		WHERE id = $1 AND org_id = $2 AND auction_id = $3 AND type = $6`
	tag, err := s.pool.Exec(ctx, query,
		bidLogID, orgID, auctionID, string(domain.BidVoided), reason, string(domain.BidAccepted),
	)
	if err != nil {
		return fmt.Errorf("postgres: void bid %s: %w", bidLogID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
