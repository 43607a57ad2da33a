package domain

import (
	"encoding/json"
	"time"
)

// EventType names a state-changing engine event delivered on the broadcast
// stream.
type EventType string

const (
	EventLotStateChanged EventType = "lot_state_changed"
	EventPhaseChanged    EventType = "phase_changed"
	EventBidAccepted     EventType = "bid_accepted"
	EventLotResolved     EventType = "lot_resolved"
	EventUndoApplied     EventType = "undo_applied"
	EventTradeProposed   EventType = "trade_proposed"
	EventTradeAccepted   EventType = "trade_accepted"
	EventTradeRejected   EventType = "trade_rejected"
	EventAuctionStatus   EventType = "auction_status_changed"
)

// Event is a single broadcast message. Seq is the auction-scoped monotonic
// sequence number; clients detect gaps by comparing Seq and refetch a full
// snapshot rather than replaying history.
type Event struct {
	Seq       uint64          `json:"seq"`
	OrgID     string          `json:"org_id"`
	AuctionID string          `json:"auction_id"`
	Type      EventType       `json:"type"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventChannel is the pub/sub channel carrying all events for one auction.
func EventChannel(auctionID string) string {
	return "auction:" + auctionID
}

// EventChannelPattern matches every auction channel.
const EventChannelPattern = "auction:*"

// PhasePayload describes a phase transition of the active lot.
type PhasePayload struct {
	LotID    string    `json:"lot_id"`
	Phase    LotStatus `json:"phase"`
	Deadline time.Time `json:"deadline"`
}

// BidPayload describes an accepted bid.
type BidPayload struct {
	LotID      string    `json:"lot_id"`
	TeamID     string    `json:"team_id"`
	Amount     int64     `json:"amount"`
	BidCount   int       `json:"bid_count,omitempty"`
	Deadline   time.Time `json:"deadline"`
	Superseded string    `json:"superseded_team_id,omitempty"`
}

// ResolutionPayload describes a sold/unsold resolution.
type ResolutionPayload struct {
	LotID        string    `json:"lot_id"`
	Status       LotStatus `json:"status"`
	SoldAmount   int64     `json:"sold_amount,omitempty"`
	SoldToTeamID string    `json:"sold_to_team_id,omitempty"`
	Round        int       `json:"round"`
	NextLotID    string    `json:"next_lot_id,omitempty"`
}

// StatusPayload describes an auction lifecycle transition.
type StatusPayload struct {
	Status       AuctionStatus `json:"status"`
	CurrentLotID string        `json:"current_lot_id,omitempty"`
	Round        int           `json:"round"`
	WindowEndsAt *time.Time    `json:"window_ends_at,omitempty"`
}

// TradePayload describes trade proposal activity.
type TradePayload struct {
	ProposalID         string      `json:"proposal_id"`
	Status             TradeStatus `json:"status"`
	InitiatorTeamID    string      `json:"initiator_team_id"`
	CounterpartyTeamID string      `json:"counterparty_team_id"`
}

// UndoPayload describes an applied undo.
type UndoPayload struct {
	LotID      string         `json:"lot_id"`
	ActionType UndoActionType `json:"action_type"`
	Round      int            `json:"round"`
}

// MarshalPayload encodes a typed payload for embedding in an Event. Encoding
// failures are programming errors surfaced as empty payloads.
func MarshalPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
