// Package domain defines the core entities of the live player-auction
// bidding engine: auctions, teams, lots, the bid audit log, the undo stack,
// and trade proposals, together with the store and cache interfaces the
// engine depends on.
package domain

import (
	"fmt"
	"sort"
	"time"
)

// AuctionStatus tracks the top-level auction lifecycle.
type AuctionStatus string

const (
	AuctionDraft       AuctionStatus = "draft"
	AuctionConfigured  AuctionStatus = "configured"
	AuctionLive        AuctionStatus = "live"
	AuctionPaused      AuctionStatus = "paused"
	AuctionCompleted   AuctionStatus = "completed"
	AuctionTradeWindow AuctionStatus = "trade_window"
	AuctionFinalized   AuctionStatus = "finalized"
)

// IncrementTier maps a price band to its minimum raise. A bid at current
// price P must raise by at least the increment of the first tier whose
// UpTo exceeds P (tiers sorted ascending; the last tier is open-ended with
// UpTo = 0).
type IncrementTier struct {
	UpTo      int64 `json:"up_to" toml:"up_to"`
	Increment int64 `json:"increment" toml:"increment"`
}

// AuctionConfig is immutable once the auction leaves draft.
type AuctionConfig struct {
	BasePrice      int64           `json:"base_price"`
	PurseValue     int64           `json:"purse_value"`
	MinSquadSize   int             `json:"min_squad_size"`
	MaxSquadSize   int             `json:"max_squad_size"`
	IncrementTiers []IncrementTier `json:"increment_tiers"`
	OpenWindow     time.Duration   `json:"open_window"`
	GoingWindow    time.Duration   `json:"going_window"`
	TradeWindow    time.Duration   `json:"trade_window"`
}

// Validate checks the config for internal consistency.
func (c AuctionConfig) Validate() error {
	if c.BasePrice <= 0 {
		return fmt.Errorf("base_price must be positive")
	}
	if c.PurseValue < c.BasePrice {
		return fmt.Errorf("purse_value must cover at least one base-price lot")
	}
	if c.MinSquadSize < 1 || c.MaxSquadSize < c.MinSquadSize {
		return fmt.Errorf("squad bounds invalid: min=%d max=%d", c.MinSquadSize, c.MaxSquadSize)
	}
	if len(c.IncrementTiers) == 0 {
		return fmt.Errorf("at least one increment tier required")
	}
	if c.OpenWindow <= 0 || c.GoingWindow <= 0 {
		return fmt.Errorf("bid windows must be positive")
	}
	if c.TradeWindow <= 0 {
		return fmt.Errorf("trade_window must be positive")
	}
	return nil
}

// IncrementFor returns the minimum raise at the given current price. It is
// a pure function of price, not negotiable per bid.
func (c AuctionConfig) IncrementFor(price int64) int64 {
	tiers := make([]IncrementTier, len(c.IncrementTiers))
	copy(tiers, c.IncrementTiers)
	sort.Slice(tiers, func(i, j int) bool {
		// Open-ended tier (UpTo == 0) sorts last.
		if tiers[i].UpTo == 0 {
			return false
		}
		if tiers[j].UpTo == 0 {
			return true
		}
		return tiers[i].UpTo < tiers[j].UpTo
	})
	for _, t := range tiers {
		if t.UpTo == 0 || price < t.UpTo {
			return t.Increment
		}
	}
	return tiers[len(tiers)-1].Increment
}

// MinBid returns the lowest acceptable bid given the standing bid. The first
// bid on a lot must meet the base price; every later bid must raise by the
// tier increment.
func (c AuctionConfig) MinBid(currentBid int64, hasBid bool) int64 {
	if !hasBid {
		return c.BasePrice
	}
	return currentBid + c.IncrementFor(currentBid)
}

// Auction is the root aggregate, owned exclusively by the lifecycle
// controller. Seq is the auction-scoped event sequence number; it advances
// with every state-changing mutation and is persisted with it.
type Auction struct {
	ID           string        `json:"id"`
	OrgID        string        `json:"org_id"`
	Name         string        `json:"name"`
	Status       AuctionStatus `json:"status"`
	Config       AuctionConfig `json:"config"`
	CurrentLotID *string       `json:"current_lot_id,omitempty"`
	CurrentRound int           `json:"current_round"`
	Seq          uint64        `json:"seq"`
	WindowEndsAt *time.Time    `json:"window_ends_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// CanTransition reports whether the lifecycle transition from the current
// status to next is permitted by the state machine. Guards that depend on
// auction contents (team count, pool size) are enforced by the controller.
func (a *Auction) CanTransition(next AuctionStatus) bool {
	allowed := map[AuctionStatus][]AuctionStatus{
		AuctionDraft:       {AuctionConfigured},
		AuctionConfigured:  {AuctionLive},
		AuctionLive:        {AuctionPaused, AuctionCompleted},
		AuctionPaused:      {AuctionLive, AuctionCompleted},
		AuctionCompleted:   {AuctionTradeWindow},
		AuctionTradeWindow: {AuctionFinalized},
	}
	for _, s := range allowed[a.Status] {
		if s == next {
			return true
		}
	}
	return false
}
