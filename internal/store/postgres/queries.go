package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pitchside/auctiond/internal/domain"
)

const defaultListLimit = 50

// ListAuctions returns one tenant's auctions, newest first.
func (s *EngineStore) ListAuctions(ctx context.Context, orgID string, opts domain.ListOpts) ([]domain.Auction, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	const query = `
		SELECT id, org_id, name, status, config, current_lot_id,
			current_round, seq, window_ends_at, created_at, updated_at
		FROM auctions WHERE org_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, orgID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list auctions: %w", err)
	}
	defer rows.Close()

	var out []domain.Auction
	for rows.Next() {
		var a domain.Auction
		var status string
		var cfg []byte
		var seq int64
		if err := rows.Scan(&a.ID, &a.OrgID, &a.Name, &status, &cfg, &a.CurrentLotID,
			&a.CurrentRound, &seq, &a.WindowEndsAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan auction: %w", err)
		}
		a.Status = domain.AuctionStatus(status)
		a.Seq = uint64(seq)
		if err := json.Unmarshal(cfg, &a.Config); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal auction config: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list auctions rows: %w", err)
	}
	return out, nil
}

// ListBidLog returns the bid audit trail for an auction, newest first.
func (s *EngineStore) ListBidLog(ctx context.Context, orgID, auctionID string, f domain.BidLogFilter) ([]domain.BidLogEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `
		SELECT id, org_id, auction_id, lot_id, team_id, type,
			attempted_amount, reason, purse_at_time, max_bid_at_time, created_at
		FROM bid_log WHERE org_id = $1 AND auction_id = $2`
	args := []any{orgID, auctionID}
	if f.TeamID != "" {
		args = append(args, f.TeamID)
		query += fmt.Sprintf(" AND team_id = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	args = append(args, limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bid log: %w", err)
	}
	defer rows.Close()

	var out []domain.BidLogEntry
	for rows.Next() {
		var e domain.BidLogEntry
		var typ string
		if err := rows.Scan(&e.ID, &e.OrgID, &e.AuctionID, &e.LotID, &e.TeamID, &typ,
			&e.AttemptedAmount, &e.Reason, &e.PurseAtTime, &e.MaxBidAtTime, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bid log entry: %w", err)
		}
		e.Type = domain.BidLogType(typ)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bid log rows: %w", err)
	}
	return out, nil
}

// ListProposals returns trade proposals for an auction, newest first.
func (s *EngineStore) ListProposals(ctx context.Context, orgID, auctionID string, f domain.TradeFilter) ([]domain.TradeProposal, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `
		SELECT id, org_id, auction_id, status, initiator_team_id,
			counterparty_team_id, initiator_lot_ids, counterparty_lot_ids,
			purse_adjustment, expires_at, created_at, resolved_at
		FROM trade_proposals WHERE org_id = $1 AND auction_id = $2`
	args := []any{orgID, auctionID}
	if f.ActiveOnly {
		args = append(args, string(domain.TradeProposed))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.TeamID != "" {
		args = append(args, f.TeamID)
		query += fmt.Sprintf(" AND (initiator_team_id = $%d OR counterparty_team_id = $%d)", len(args), len(args))
	}
	args = append(args, limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list proposals: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeProposal
	for rows.Next() {
		var p domain.TradeProposal
		var status string
		var initLots, counterLots []byte
		if err := rows.Scan(&p.ID, &p.OrgID, &p.AuctionID, &status, &p.InitiatorTeamID,
			&p.CounterpartyTeamID, &initLots, &counterLots,
			&p.PurseAdjustment, &p.ExpiresAt, &p.CreatedAt, &p.ResolvedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan proposal: %w", err)
		}
		p.Status = domain.TradeStatus(status)
		if err := json.Unmarshal(initLots, &p.InitiatorLotIDs); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal initiator lots: %w", err)
		}
		if err := json.Unmarshal(counterLots, &p.CounterpartyLotIDs); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal counterparty lots: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list proposals rows: %w", err)
	}
	return out, nil
}
