package domain

import "time"

// BidLogType classifies a bid audit entry.
type BidLogType string

const (
	BidAccepted BidLogType = "bid_accepted"
	BidRejected BidLogType = "bid_rejected"
	BidVoided   BidLogType = "bid_voided"
)

// BidLogEntry is an append-only audit record, written for every bid attempt
// whether accepted or not. Entries are immutable once written, with one
// exception: an admin may re-mark an accepted entry as voided for audit
// purposes. The log is the source of truth for reconstructing bidding
// history after a crash.
type BidLogEntry struct {
	ID              string     `json:"id"`
	OrgID           string     `json:"org_id"`
	AuctionID       string     `json:"auction_id"`
	LotID           string     `json:"lot_id"`
	TeamID          string     `json:"team_id"`
	Type            BidLogType `json:"type"`
	AttemptedAmount int64      `json:"attempted_amount"`
	Reason          string     `json:"reason,omitempty"`
	PurseAtTime     int64      `json:"purse_at_time"`
	MaxBidAtTime    int64      `json:"max_bid_at_time"`
	CreatedAt       time.Time  `json:"created_at"`
}

// BidLogFilter narrows bid history queries.
type BidLogFilter struct {
	TeamID string
	Type   BidLogType
	Limit  int
	Offset int
}
