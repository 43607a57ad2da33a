package domain

import "time"

// LotStatus tracks the per-player bidding lifecycle.
type LotStatus string

const (
	LotPool         LotStatus = "pool"
	LotOpen         LotStatus = "open"
	LotGoingOnce    LotStatus = "going_once"
	LotGoingTwice   LotStatus = "going_twice"
	LotSold         LotStatus = "sold"
	LotUnsold       LotStatus = "unsold"
	LotDisqualified LotStatus = "disqualified"
)

// Active reports whether the status is one of the bidding phases. At most
// one lot per auction may be active at any time.
func (s LotStatus) Active() bool {
	return s == LotOpen || s == LotGoingOnce || s == LotGoingTwice
}

// Lot is one player up for bid. PoolOrder fixes the deterministic order in
// which lots are opened, so resuming or recovering an auction never picks a
// different next lot than the original run would have.
type Lot struct {
	ID               string            `json:"id"`
	OrgID            string            `json:"org_id"`
	AuctionID        string            `json:"auction_id"`
	PlayerName       string            `json:"player_name"`
	DisplayFields    map[string]string `json:"display_fields,omitempty"`
	PoolOrder        int               `json:"pool_order"`
	Status           LotStatus         `json:"status"`
	CurrentBidAmount int64             `json:"current_bid_amount"`
	CurrentBidTeamID *string           `json:"current_bid_team_id,omitempty"`
	SoldAmount       int64             `json:"sold_amount"`
	SoldToTeamID     *string           `json:"sold_to_team_id,omitempty"`
	SoldInRound      int               `json:"sold_in_round"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// HasBid reports whether a standing bid exists on the lot.
func (l *Lot) HasBid() bool {
	return l.CurrentBidTeamID != nil
}

// ClearBid discards the standing bid and returns the lot to the pool.
func (l *Lot) ClearBid() {
	l.Status = LotPool
	l.CurrentBidAmount = 0
	l.CurrentBidTeamID = nil
}
