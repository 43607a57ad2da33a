package domain

import "time"

// Team is a bidding franchise. PurseRemaining reflects settled purchases and
// any escrow held for a standing bid on the active lot; only the bid arbiter
// and the trade window manager mutate it, and only through the ledger
// helpers in the engine package.
type Team struct {
	ID             string    `json:"id"`
	OrgID          string    `json:"org_id"`
	AuctionID      string    `json:"auction_id"`
	Name           string    `json:"name"`
	TokenHash      string    `json:"-"`
	PurseValue     int64     `json:"purse_value"`
	PurseRemaining int64     `json:"purse_remaining"`
	SquadSize      int       `json:"squad_size"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Reserve is the purse a team must withhold so it can still fill its
// minimum squad at base price. The slot being bid on is excluded.
func (t *Team) Reserve(cfg AuctionConfig) int64 {
	slots := int64(cfg.MinSquadSize - t.SquadSize - 1)
	if slots < 0 {
		slots = 0
	}
	return slots * cfg.BasePrice
}

// MaxBid is the highest amount the team can commit without bidding itself
// unable to fill its minimum squad.
func (t *Team) MaxBid(cfg AuctionConfig) int64 {
	max := t.PurseRemaining - t.Reserve(cfg)
	if max < 0 {
		return 0
	}
	return max
}
