package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitchside/auctiond/internal/domain"
)

// EngineStore implements domain.EngineStore using PostgreSQL.
type EngineStore struct {
	pool *pgxpool.Pool
}

// NewEngineStore creates an EngineStore backed by the given connection pool.
func NewEngineStore(pool *pgxpool.Pool) *EngineStore {
	return &EngineStore{pool: pool}
}

// Compile-time interface check.
var _ domain.EngineStore = (*EngineStore)(nil)

// CreateAuction inserts a new draft auction.
func (s *EngineStore) CreateAuction(ctx context.Context, a domain.Auction) error {
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("postgres: marshal auction config: %w", err)
	}
	const query = `
		INSERT INTO auctions (id, org_id, name, status, config, current_lot_id,
			current_round, seq, window_ends_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = s.pool.Exec(ctx, query,
		a.ID, a.OrgID, a.Name, string(a.Status), cfg, a.CurrentLotID,
		a.CurrentRound, int64(a.Seq), a.WindowEndsAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create auction %s: %w", a.ID, err)
	}
	return nil
}

// AddTeam inserts a team row.
func (s *EngineStore) AddTeam(ctx context.Context, t domain.Team) error {
	const query = `
		INSERT INTO teams (id, org_id, auction_id, name, token_hash,
			purse_value, purse_remaining, squad_size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.OrgID, t.AuctionID, t.Name, t.TokenHash,
		t.PurseValue, t.PurseRemaining, t.SquadSize, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: add team %s: %w", t.ID, err)
	}
	return nil
}

// AddLots inserts pool lots in one batch.
func (s *EngineStore) AddLots(ctx context.Context, lots []domain.Lot) error {
	if len(lots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const query = `
		INSERT INTO lots (id, org_id, auction_id, player_name, display_fields,
			pool_order, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for _, l := range lots {
		fields, err := json.Marshal(l.DisplayFields)
		if err != nil {
			return fmt.Errorf("postgres: marshal display fields for lot %s: %w", l.ID, err)
		}
		batch.Queue(query,
			l.ID, l.OrgID, l.AuctionID, l.PlayerName, fields,
			l.PoolOrder, string(l.Status), l.CreatedAt, l.UpdatedAt,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: add lots: %w", err)
	}
	return nil
}

// Load reads the complete state of one tenant's auction: the aggregate,
// all teams and lots, and the persisted undo stack newest-first.
func (s *EngineStore) Load(ctx context.Context, orgID, auctionID string) (*domain.AuctionState, error) {
	a, err := s.getAuction(ctx, orgID, auctionID)
	if err != nil {
		return nil, err
	}
	state := &domain.AuctionState{Auction: a}

	const teamQuery = `
		SELECT id, org_id, auction_id, name, token_hash,
			purse_value, purse_remaining, squad_size, created_at, updated_at
		FROM teams WHERE auction_id = $1 AND org_id = $2
		ORDER BY created_at`
	rows, err := s.pool.Query(ctx, teamQuery, auctionID, orgID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load teams: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.OrgID, &t.AuctionID, &t.Name, &t.TokenHash,
			&t.PurseValue, &t.PurseRemaining, &t.SquadSize, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan team: %w", err)
		}
		state.Teams = append(state.Teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load teams rows: %w", err)
	}

	const lotQuery = `
		SELECT id, org_id, auction_id, player_name, display_fields, pool_order,
			status, current_bid_amount, current_bid_team_id,
			sold_amount, sold_to_team_id, sold_in_round, created_at, updated_at
		FROM lots WHERE auction_id = $1 AND org_id = $2
		ORDER BY pool_order`
	lotRows, err := s.pool.Query(ctx, lotQuery, auctionID, orgID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load lots: %w", err)
	}
	defer lotRows.Close()
	for lotRows.Next() {
		var l domain.Lot
		var status string
		var fields []byte
		if err := lotRows.Scan(&l.ID, &l.OrgID, &l.AuctionID, &l.PlayerName, &fields, &l.PoolOrder,
			&status, &l.CurrentBidAmount, &l.CurrentBidTeamID,
			&l.SoldAmount, &l.SoldToTeamID, &l.SoldInRound, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan lot: %w", err)
		}
		l.Status = domain.LotStatus(status)
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &l.DisplayFields); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal display fields: %w", err)
			}
		}
		state.Lots = append(state.Lots, l)
	}
	if err := lotRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load lots rows: %w", err)
	}

	const undoQuery = `
		SELECT entry FROM undo_stack
		WHERE auction_id = $1 AND org_id = $2
		ORDER BY created_at DESC
		LIMIT $3`
	undoRows, err := s.pool.Query(ctx, undoQuery, auctionID, orgID, domain.UndoDepth)
	if err != nil {
		return nil, fmt.Errorf("postgres: load undo stack: %w", err)
	}
	defer undoRows.Close()
	for undoRows.Next() {
		var raw []byte
		if err := undoRows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan undo entry: %w", err)
		}
		var e domain.UndoEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal undo entry: %w", err)
		}
		state.Undo = append(state.Undo, e)
	}
	if err := undoRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load undo rows: %w", err)
	}

	return state, nil
}

func (s *EngineStore) getAuction(ctx context.Context, orgID, auctionID string) (domain.Auction, error) {
	const query = `
		SELECT id, org_id, name, status, config, current_lot_id,
			current_round, seq, window_ends_at, created_at, updated_at
		FROM auctions WHERE id = $1 AND org_id = $2`
	var a domain.Auction
	var status string
	var cfg []byte
	var seq int64
	err := s.pool.QueryRow(ctx, query, auctionID, orgID).Scan(
		&a.ID, &a.OrgID, &a.Name, &status, &cfg, &a.CurrentLotID,
		&a.CurrentRound, &seq, &a.WindowEndsAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", auctionID, err)
	}
	a.Status = domain.AuctionStatus(status)
	a.Seq = uint64(seq)
	if err := json.Unmarshal(cfg, &a.Config); err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: unmarshal auction config: %w", err)
	}
	return a, nil
}
