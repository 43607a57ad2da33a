package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// AuctionState is everything the engine needs to hold one auction in
// memory: the aggregate, all teams and lots, and the persisted undo stack
// (newest first).
type AuctionState struct {
	Auction Auction
	Teams   []Team
	Lots    []Lot
	Undo    []UndoEntry
}

// StateMutation is one atomic state transition. Every field that is set is
// applied in a single transaction; if any write fails, nothing is applied
// and the in-memory state must not advance. This is the durable
// read-modify-write contract the engine acks against: no ack without a
// committed mutation.
type StateMutation struct {
	Auction   *Auction
	Lots      []Lot
	Teams     []Team
	BidLog    []BidLogEntry
	UndoPush  *UndoEntry
	UndoPopID string
	Proposal  *TradeProposal
	Proposals []TradeProposal
}

// EngineStore is the durable backing store for the bidding engine.
type EngineStore interface {
	CreateAuction(ctx context.Context, a Auction) error
	AddTeam(ctx context.Context, t Team) error
	AddLots(ctx context.Context, lots []Lot) error

	// Load reads the complete auction state for one tenant's auction.
	Load(ctx context.Context, orgID, auctionID string) (*AuctionState, error)

	// Apply commits a state mutation atomically.
	Apply(ctx context.Context, m StateMutation) error

	// VoidBid re-marks an accepted bid log entry as voided. Audit-only: it
	// never reverses a sale.
	VoidBid(ctx context.Context, orgID, auctionID, bidLogID, reason string) error

	ListAuctions(ctx context.Context, orgID string, opts ListOpts) ([]Auction, error)
	ListBidLog(ctx context.Context, orgID, auctionID string, f BidLogFilter) ([]BidLogEntry, error)
	ListProposals(ctx context.Context, orgID, auctionID string, f TradeFilter) ([]TradeProposal, error)
}

// SignalBus is a lightweight pub/sub abstraction used to fan engine events
// out to WebSocket hubs, possibly across instances.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Lease is a held distributed lock. The holder must extend it before the
// TTL lapses or another party may take the key over.
type Lease interface {
	// Extend re-arms the TTL. Returns ErrLockHeld when the lease has
	// already lapsed and the key belongs to someone else.
	Extend(ctx context.Context, ttl time.Duration) error

	// Release gives the lock up. Safe to call more than once, and a no-op
	// when the lease has lapsed.
	Release()
}

// LockManager provides distributed locks so exactly one instance owns an
// auction engine at a time.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL. Returns
	// ErrLockHeld when another party holds the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// RateLimiter enforces sliding-window request limits.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter persists opaque blobs (finalized-auction archives).
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}
