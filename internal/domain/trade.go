package domain

import "time"

// TradeStatus tracks a trade proposal through its terminal state.
type TradeStatus string

const (
	TradeProposed TradeStatus = "proposed"
	TradeAccepted TradeStatus = "accepted"
	TradeRejected TradeStatus = "rejected"
	TradeExpired  TradeStatus = "expired"
)

// TradeProposal is a bilateral player swap negotiated during the trade
// window. PurseAdjustment is the amount the initiator pays the counterparty
// (negative means the counterparty pays). Proposals are validated at
// creation time so an invalid trade can never be proposed, let alone
// accepted.
type TradeProposal struct {
	ID                 string      `json:"id"`
	OrgID              string      `json:"org_id"`
	AuctionID          string      `json:"auction_id"`
	Status             TradeStatus `json:"status"`
	InitiatorTeamID    string      `json:"initiator_team_id"`
	CounterpartyTeamID string      `json:"counterparty_team_id"`
	InitiatorLotIDs    []string    `json:"initiator_lot_ids"`
	CounterpartyLotIDs []string    `json:"counterparty_lot_ids"`
	PurseAdjustment    int64       `json:"purse_adjustment"`
	ExpiresAt          time.Time   `json:"expires_at"`
	CreatedAt          time.Time   `json:"created_at"`
	ResolvedAt         *time.Time  `json:"resolved_at,omitempty"`
}

// Terminal reports whether the proposal has reached a final state.
func (p *TradeProposal) Terminal() bool {
	return p.Status != TradeProposed
}

// TradeFilter narrows trade proposal queries.
type TradeFilter struct {
	ActiveOnly bool
	TeamID     string
	Limit      int
	Offset     int
}
