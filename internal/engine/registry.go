package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pitchside/auctiond/internal/domain"
)

const (
	// engineLeaseTTL is the distributed-lock TTL for engine ownership. An
	// instance that dies without releasing lets another take over after the
	// TTL lapses.
	engineLeaseTTL = 10 * time.Minute

	// evictIdleAfter unloads engines with no activity, releasing their lease.
	evictIdleAfter = 30 * time.Minute
)

// Registry owns the set of loaded auction engines. Each auction is loaded
// under a distributed lease so exactly one instance arbitrates it at a
// time; lookups are tenant-scoped so an engine can never be reached across
// an org boundary.
type Registry struct {
	mu      sync.Mutex
	engines map[string]*registryEntry

	store  domain.EngineStore
	locks  domain.LockManager
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

type registryEntry struct {
	eng      *Engine
	lease    domain.Lease
	lastUsed time.Time
}

// noopLease backs a registry running without a LockManager (single
// instance, tests).
type noopLease struct{}

func (noopLease) Extend(context.Context, time.Duration) error { return nil }
func (noopLease) Release()                                    {}

// NewRegistry creates a Registry. The Deps are cloned into every engine it
// loads.
func NewRegistry(store domain.EngineStore, locks domain.LockManager, deps Deps, logger *slog.Logger) *Registry {
	deps.Store = store
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		engines: make(map[string]*registryEntry),
		store:   store,
		locks:   locks,
		deps:    deps,
		now:     now,
		logger:  logger.With(slog.String("component", "registry")),
	}
}

// Get returns the engine for an auction, loading it from the store under a
// fresh lease if necessary. Returns ErrServiceBusy when another instance
// holds the lease.
func (r *Registry) Get(ctx context.Context, orgID, auctionID string) (*Engine, error) {
	r.mu.Lock()
	if entry, ok := r.engines[auctionID]; ok {
		if entry.eng.OrgID() != orgID {
			r.mu.Unlock()
			return nil, domain.ErrNotFound
		}
		entry.lastUsed = r.now()
		r.mu.Unlock()
		return entry.eng, nil
	}
	r.mu.Unlock()

	// Load outside the registry lock; Load can take a while.
	lease, err := r.acquireLease(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	state, err := r.store.Load(ctx, orgID, auctionID)
	if err != nil {
		lease.Release()
		return nil, err
	}
	eng := New(state, r.deps)
	if err := eng.Start(ctx); err != nil {
		lease.Release()
		return nil, fmt.Errorf("registry: start engine %s: %w", auctionID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.engines[auctionID]; ok {
		// Lost the race to another Get; keep the first engine.
		eng.Stop()
		lease.Release()
		entry.lastUsed = r.now()
		return entry.eng, nil
	}
	r.engines[auctionID] = &registryEntry{eng: eng, lease: lease, lastUsed: r.now()}
	r.logger.InfoContext(ctx, "engine loaded", slog.String("auction_id", auctionID))
	return eng, nil
}

func (r *Registry) acquireLease(ctx context.Context, auctionID string) (domain.Lease, error) {
	if r.locks == nil {
		return noopLease{}, nil
	}
	lease, err := r.locks.Acquire(ctx, "engine:"+auctionID, engineLeaseTTL)
	if err != nil {
		if err == domain.ErrLockHeld {
			return nil, domain.ErrServiceBusy
		}
		return nil, fmt.Errorf("registry: lease %s: %w", auctionID, err)
	}
	return lease, nil
}

// CreateAuction provisions a new draft auction for a tenant.
func (r *Registry) CreateAuction(ctx context.Context, orgID, name string, cfg domain.AuctionConfig) (domain.Auction, error) {
	if err := cfg.Validate(); err != nil {
		return domain.Auction{}, domain.Reject(domain.RejectInvalidTransition, "config invalid: %v", err)
	}
	now := r.now()
	a := domain.Auction{
		ID:           uuid.New().String(),
		OrgID:        orgID,
		Name:         name,
		Status:       domain.AuctionDraft,
		Config:       cfg,
		CurrentRound: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.store.CreateAuction(ctx, a); err != nil {
		return domain.Auction{}, err
	}
	r.logger.InfoContext(ctx, "auction created",
		slog.String("auction_id", a.ID),
		slog.String("org_id", orgID),
	)
	return a, nil
}

// RegisterTeam adds a team to a draft auction. The bearer token is stored
// as a bcrypt hash and never returned again.
func (r *Registry) RegisterTeam(ctx context.Context, orgID, auctionID, name, token string) (domain.Team, error) {
	state, err := r.store.Load(ctx, orgID, auctionID)
	if err != nil {
		return domain.Team{}, err
	}
	if state.Auction.Status != domain.AuctionDraft {
		return domain.Team{}, domain.Reject(domain.RejectInvalidTransition, "teams can only be added while draft")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return domain.Team{}, fmt.Errorf("registry: hash team token: %w", err)
	}
	now := r.now()
	t := domain.Team{
		ID:             uuid.New().String(),
		OrgID:          orgID,
		AuctionID:      auctionID,
		Name:           name,
		TokenHash:      string(hash),
		PurseValue:     state.Auction.Config.PurseValue,
		PurseRemaining: state.Auction.Config.PurseValue,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.AddTeam(ctx, t); err != nil {
		return domain.Team{}, err
	}
	t.TokenHash = ""
	return t, nil
}

// LotDraft is one player to import into the pool.
type LotDraft struct {
	PlayerName    string            `json:"player_name"`
	DisplayFields map[string]string `json:"display_fields,omitempty"`
}

// ImportLots appends players to a draft auction's pool. Pool order is
// insertion order, which fixes the deterministic opening sequence.
func (r *Registry) ImportLots(ctx context.Context, orgID, auctionID string, drafts []LotDraft) ([]domain.Lot, error) {
	state, err := r.store.Load(ctx, orgID, auctionID)
	if err != nil {
		return nil, err
	}
	if state.Auction.Status != domain.AuctionDraft {
		return nil, domain.Reject(domain.RejectInvalidTransition, "lots can only be imported while draft")
	}
	next := 0
	for _, l := range state.Lots {
		if l.PoolOrder >= next {
			next = l.PoolOrder + 1
		}
	}
	now := r.now()
	lots := make([]domain.Lot, 0, len(drafts))
	for i, d := range drafts {
		if d.PlayerName == "" {
			return nil, domain.Reject(domain.RejectInvalidTransition, "lot %d has no player name", i)
		}
		lots = append(lots, domain.Lot{
			ID:            uuid.New().String(),
			OrgID:         orgID,
			AuctionID:     auctionID,
			PlayerName:    d.PlayerName,
			DisplayFields: d.DisplayFields,
			PoolOrder:     next + i,
			Status:        domain.LotPool,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	if err := r.store.AddLots(ctx, lots); err != nil {
		return nil, err
	}
	return lots, nil
}

// Janitor periodically evicts idle and finalized engines and renews the
// leases of those that stay loaded, so a healthy instance never lets its
// ownership TTL lapse mid-auction. Run it under the application errgroup.
func (r *Registry) Janitor(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Close()
			return ctx.Err()
		case <-ticker.C:
			r.evictIdle()
			r.renewLeases(ctx)
		}
	}
}

func (r *Registry) evictIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for id, entry := range r.engines {
		if entry.eng.Finalized() || now.Sub(entry.lastUsed) > evictIdleAfter {
			entry.eng.Stop()
			entry.lease.Release()
			delete(r.engines, id)
			r.logger.Info("engine evicted", slog.String("auction_id", id))
		}
	}
}

// renewLeases extends every loaded engine's lease. An engine whose lease
// lapsed is unloaded immediately: another instance may already own the
// auction, so this one must stop arbitrating it. Transient extend errors
// only log; the TTL leaves several ticks of slack.
func (r *Registry) renewLeases(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.engines {
		err := entry.lease.Extend(ctx, engineLeaseTTL)
		if err == nil {
			continue
		}
		if err == domain.ErrLockHeld {
			entry.eng.Stop()
			delete(r.engines, id)
			r.logger.Error("engine lease lost, unloading", slog.String("auction_id", id))
			continue
		}
		r.logger.Warn("engine lease renewal failed",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Close stops every loaded engine and releases all leases.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.engines {
		entry.eng.Stop()
		entry.lease.Release()
		delete(r.engines, id)
	}
}
