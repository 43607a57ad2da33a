package domain

import "time"

// UndoActionType records which resolution an undo entry reverses.
type UndoActionType string

const (
	UndoSold   UndoActionType = "sold"
	UndoUnsold UndoActionType = "unsold"
)

// UndoEntry is a full snapshot pushed before a sold/unsold resolution is
// applied. Restoring pops the snapshot and applies it verbatim rather than
// computing an inverse, so purse, squad membership and round counters come
// back exactly. The lot snapshot is captured with any in-flight bid unwound
// (lot back in pool, escrow refunded) so a restore re-opens the lot for
// re-auction in a clean state.
type UndoEntry struct {
	ID         string         `json:"id"`
	OrgID      string         `json:"org_id"`
	AuctionID  string         `json:"auction_id"`
	ActionType UndoActionType `json:"action_type"`
	Lot        Lot            `json:"lot"`
	Teams      []Team         `json:"teams"`
	Round      int            `json:"round"`
	CreatedAt  time.Time      `json:"created_at"`
}

// UndoDepth caps the reversible history. Pushing past the cap evicts the
// oldest entry; anything older is audit-only.
const UndoDepth = 3
