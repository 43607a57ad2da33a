// Package engine implements the live player-auction bidding engine: the
// auction lifecycle controller, the per-lot phase state machine and clock,
// the bid arbiter, the undo/audit stack, and the trade window manager.
//
// Each auction is held by exactly one Engine. Every mutation path, whether
// a bid submission, a timer expiry or an admin action, runs under the
// engine's single critical section, is persisted before the in-memory state
// advances, and
// is broadcast with an auction-scoped monotonic sequence number after the
// durable write commits.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pitchside/auctiond/internal/domain"
)

const (
	// defaultLockWait bounds one attempt to enter the critical section.
	// Acquisition is retried once before the caller sees service_busy.
	defaultLockWait = 2 * time.Second

	// persistTimeout bounds the durable write a timer-driven mutation makes.
	persistTimeout = 10 * time.Second
)

// Broadcaster delivers engine events to subscribers. Delivery is
// fire-and-forget; ordering is carried by the event sequence number.
type Broadcaster interface {
	Publish(ctx context.Context, ev domain.Event)
}

// Alerter pushes operator-attention notifications (invariant violations,
// lifecycle transitions, undo applications).
type Alerter interface {
	Alert(ctx context.Context, event, title, message string)
}

// Deps bundles the engine's collaborators. Bus, Alerts and Archive may be
// nil; persistence is mandatory.
type Deps struct {
	Store    domain.EngineStore
	Bus      Broadcaster
	Sched    Scheduler
	Alerts   Alerter
	Archive  domain.BlobWriter
	Logger   *slog.Logger
	Now      func() time.Time
	LockWait time.Duration
}

// Engine owns the in-memory state of one auction. All exported methods are
// safe for concurrent use; they serialize on the engine's critical section.
type Engine struct {
	orgID string
	id    string

	// slot is a channel-based mutex so acquisition can be bounded. The
	// phase-clock expiry handler and every command path contend on it, which
	// is what guarantees a timer firing and a bid being accepted never
	// interleave.
	slot chan struct{}

	auction domain.Auction
	teams   map[string]*domain.Team
	lots    map[string]*domain.Lot
	// lotOrder holds lot IDs sorted by pool order. Opening "the next lot"
	// always walks this slice, so resume and crash recovery are
	// deterministic.
	lotOrder []string
	undo     []domain.UndoEntry // newest first, capped at domain.UndoDepth

	clock phaseClock

	store    domain.EngineStore
	bus      Broadcaster
	alerts   Alerter
	archive  domain.BlobWriter
	logger   *slog.Logger
	now      func() time.Time
	lockWait time.Duration
}

// New builds an Engine around a loaded auction state. Call Start afterwards
// to recover clocks and mid-phase lots.
func New(state *domain.AuctionState, deps Deps) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sched == nil {
		deps.Sched = NewScheduler()
	}
	if deps.LockWait <= 0 {
		deps.LockWait = defaultLockWait
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	e := &Engine{
		orgID:    state.Auction.OrgID,
		id:       state.Auction.ID,
		slot:     make(chan struct{}, 1),
		auction:  state.Auction,
		teams:    make(map[string]*domain.Team, len(state.Teams)),
		lots:     make(map[string]*domain.Lot, len(state.Lots)),
		undo:     append([]domain.UndoEntry(nil), state.Undo...),
		store:    deps.Store,
		bus:      deps.Bus,
		alerts:   deps.Alerts,
		archive:  deps.Archive,
		now:      deps.Now,
		lockWait: deps.LockWait,
		logger: deps.Logger.With(
			slog.String("component", "engine"),
			slog.String("auction_id", state.Auction.ID),
		),
	}
	e.clock.sched = deps.Sched

	for i := range state.Teams {
		t := state.Teams[i]
		e.teams[t.ID] = &t
	}
	for i := range state.Lots {
		l := state.Lots[i]
		e.lots[l.ID] = &l
	}
	e.rebuildOrder()
	return e
}

// rebuildOrder sorts lot IDs by pool order (insertion order).
func (e *Engine) rebuildOrder() {
	e.lotOrder = e.lotOrder[:0]
	for id := range e.lots {
		e.lotOrder = append(e.lotOrder, id)
	}
	for i := 1; i < len(e.lotOrder); i++ {
		for j := i; j > 0 && e.lots[e.lotOrder[j]].PoolOrder < e.lots[e.lotOrder[j-1]].PoolOrder; j-- {
			e.lotOrder[j], e.lotOrder[j-1] = e.lotOrder[j-1], e.lotOrder[j]
		}
	}
}

// Start recovers a freshly loaded engine. A live auction that crashed with
// a lot mid-phase is reset the same way pause resets it: the standing bid
// is discarded and refunded, and the lot returns to the pool so the next
// open picks it up again deterministically. A trade window resumes its
// remaining time.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	switch e.auction.Status {
	case domain.AuctionLive:
		if e.auction.CurrentLotID != nil {
			if lot, ok := e.lots[*e.auction.CurrentLotID]; ok && lot.Status.Active() {
				if err := e.resetActiveLot(ctx); err != nil {
					return err
				}
			}
		}
		return e.openNextLot(ctx)
	case domain.AuctionTradeWindow:
		if e.auction.WindowEndsAt != nil {
			remaining := e.auction.WindowEndsAt.Sub(e.now())
			if remaining <= 0 {
				return e.finalizeLocked(ctx, true)
			}
			e.clock.arm(remaining, e.now(), e.onExpiry)
		}
	}
	return nil
}

// Stop cancels any pending timer. The engine must not be used afterwards.
// Acquisition is unbounded: the caller is about to give up ownership, so a
// timer must never be left armed behind a busy critical section.
func (e *Engine) Stop() {
	e.lockSlot()
	defer e.release()
	e.clock.stop()
}

// ID returns the auction ID this engine owns.
func (e *Engine) ID() string { return e.id }

// OrgID returns the owning tenant.
func (e *Engine) OrgID() string { return e.orgID }

// Finalized reports whether the auction reached its terminal state.
func (e *Engine) Finalized() bool {
	if err := e.acquire(context.Background()); err != nil {
		return false
	}
	defer e.release()
	return e.auction.Status == domain.AuctionFinalized
}

// acquire enters the critical section, waiting at most lockWait per attempt
// with one retry before surfacing ErrServiceBusy.
func (e *Engine) acquire(ctx context.Context) error {
	for attempt := 0; attempt < 2; attempt++ {
		timer := time.NewTimer(e.lockWait)
		select {
		case e.slot <- struct{}{}:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return domain.ErrServiceBusy
}

func (e *Engine) release() { <-e.slot }

// lockSlot enters the critical section without a bound. Used only by the
// expiry handler, which must eventually run.
func (e *Engine) lockSlot() { e.slot <- struct{}{} }

// pendingEvent is an event computed during a mutation, stamped with its
// sequence number and published only after the mutation commits.
type pendingEvent struct {
	typ     domain.EventType
	payload any
}

// stampEvents assigns sequence numbers to events on top of the given
// auction copy, advancing its Seq so the numbers are persisted with the
// mutation.
func stampEvents(a *domain.Auction, evs []pendingEvent) []domain.Event {
	out := make([]domain.Event, 0, len(evs))
	for _, pe := range evs {
		a.Seq++
		out = append(out, domain.Event{
			Seq:       a.Seq,
			OrgID:     a.OrgID,
			AuctionID: a.ID,
			Type:      pe.typ,
			Payload:   domain.MarshalPayload(pe.payload),
		})
	}
	return out
}

// publish broadcasts committed events. Called with the lock held; delivery
// is fire-and-forget.
func (e *Engine) publish(ctx context.Context, evs []domain.Event) {
	if e.bus == nil {
		return
	}
	now := e.now()
	for _, ev := range evs {
		ev.At = now
		e.bus.Publish(ctx, ev)
	}
}

// alert notifies operators. Safe with a nil Alerter.
func (e *Engine) alert(ctx context.Context, event, title, msg string) {
	if e.alerts == nil {
		return
	}
	e.alerts.Alert(ctx, event, title, msg)
}

// raiseInvariant logs and alerts on an invariant violation, then returns it
// unchanged so the offending transition is refused.
func (e *Engine) raiseInvariant(ctx context.Context, err error) error {
	e.logger.ErrorContext(ctx, "invariant violation refused",
		slog.String("error", err.Error()),
	)
	e.alert(ctx, "invariant_violation", "Invariant violation", err.Error())
	return err
}

// onExpiry is the phase-clock callback. It takes the same critical section
// as every command path; a stale generation means a bid or admin action
// rescheduled the clock after this callback was queued, and the expiry is
// ignored.
func (e *Engine) onExpiry(gen uint64) {
	e.lockSlot()
	defer e.release()

	if !e.clock.live(gen) {
		return
	}
	// The firing callback is consumed; arm() or stop() must be called to
	// schedule anything further.
	e.clock.cancel = nil

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	switch e.auction.Status {
	case domain.AuctionLive:
		err = e.escalateOrResolve(ctx)
	case domain.AuctionTradeWindow:
		err = e.finalizeLocked(ctx, true)
	default:
		return
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "phase expiry handling failed",
			slog.String("error", err.Error()),
		)
		// Persistence failures leave state unadvanced; re-arm a short retry
		// so the expiry is not lost.
		if !domain.IsInvariant(err) {
			e.clock.arm(5*time.Second, e.now(), e.onExpiry)
		}
	}
}

// escalateOrResolve advances the active lot one phase step: open with no
// bid resolves unsold, open with a bid escalates to going_once, then
// going_twice, and expiry of going_twice resolves sold.
func (e *Engine) escalateOrResolve(ctx context.Context) error {
	if e.auction.CurrentLotID == nil {
		return nil
	}
	lot, ok := e.lots[*e.auction.CurrentLotID]
	if !ok {
		return e.raiseInvariant(ctx, domain.Invariant(e.id, "current lot %s missing", *e.auction.CurrentLotID))
	}

	switch lot.Status {
	case domain.LotOpen:
		if !lot.HasBid() {
			return e.resolveLot(ctx, lot, domain.LotUnsold)
		}
		return e.escalate(ctx, lot, domain.LotGoingOnce)
	case domain.LotGoingOnce:
		return e.escalate(ctx, lot, domain.LotGoingTwice)
	case domain.LotGoingTwice:
		return e.resolveLot(ctx, lot, domain.LotSold)
	default:
		return e.raiseInvariant(ctx, domain.Invariant(e.id, "expiry fired for lot %s in status %s", lot.ID, lot.Status))
	}
}

// escalate moves the active lot to the next going phase and restarts the
// short window. Escalation changes broadcastable state, so it is persisted
// and sequenced like any other mutation.
func (e *Engine) escalate(ctx context.Context, lot *domain.Lot, next domain.LotStatus) error {
	lotCopy := *lot
	lotCopy.Status = next
	lotCopy.UpdatedAt = e.now()
	auctionCopy := e.auction
	auctionCopy.UpdatedAt = e.now()

	deadline := e.now().Add(e.auction.Config.GoingWindow)
	events := stampEvents(&auctionCopy, []pendingEvent{
		{domain.EventPhaseChanged, domain.PhasePayload{LotID: lot.ID, Phase: next, Deadline: deadline}},
	})

	err := e.store.Apply(ctx, domain.StateMutation{
		Auction: &auctionCopy,
		Lots:    []domain.Lot{lotCopy},
	})
	if err != nil {
		return err
	}

	*lot = lotCopy
	e.auction = auctionCopy
	e.clock.arm(e.auction.Config.GoingWindow, e.now(), e.onExpiry)
	e.publish(ctx, events)

	e.logger.InfoContext(ctx, "lot phase escalated",
		slog.String("lot_id", lot.ID),
		slog.String("phase", string(next)),
	)
	return nil
}

// resolveLot finalizes the active lot as sold or unsold, pushes the undo
// snapshot, and opens the next pool lot if one exists. All of it commits in
// one mutation.
func (e *Engine) resolveLot(ctx context.Context, lot *domain.Lot, outcome domain.LotStatus) error {
	now := e.now()

	lotCopy := *lot
	auctionCopy := e.auction
	auctionCopy.UpdatedAt = now

	entry := domain.UndoEntry{
		ID:        uuid.New().String(),
		OrgID:     e.orgID,
		AuctionID: e.id,
		Round:     e.auction.CurrentRound,
		CreatedAt: now,
	}
	// Undo restores the lot to the pool with the in-flight bid unwound, so
	// snapshot the cleared shape rather than the mid-phase shape.
	undoLot := lotCopy
	undoLot.ClearBid()
	undoLot.SoldAmount = 0
	undoLot.SoldToTeamID = nil
	undoLot.SoldInRound = 0
	entry.Lot = undoLot

	var (
		winnerCopy *domain.Team
		events     []pendingEvent
	)

	switch outcome {
	case domain.LotSold:
		if !lot.HasBid() {
			return e.raiseInvariant(ctx, domain.Invariant(e.id, "lot %s resolving sold without a bid", lot.ID))
		}
		winner, ok := e.teams[*lot.CurrentBidTeamID]
		if !ok {
			return e.raiseInvariant(ctx, domain.Invariant(e.id, "winning team %s missing", *lot.CurrentBidTeamID))
		}
		entry.ActionType = domain.UndoSold

		// Team snapshot for undo: escrow refunded, squad untouched.
		undoTeam := *winner
		if err := refundBid(&undoTeam, lot.CurrentBidAmount); err != nil {
			return e.raiseInvariant(ctx, err)
		}
		entry.Teams = []domain.Team{undoTeam}

		w := *winner
		if err := settleSale(&w, e.auction.Config); err != nil {
			return e.raiseInvariant(ctx, err)
		}
		w.UpdatedAt = now
		winnerCopy = &w

		lotCopy.Status = domain.LotSold
		lotCopy.SoldAmount = lot.CurrentBidAmount
		lotCopy.SoldToTeamID = lot.CurrentBidTeamID
		lotCopy.SoldInRound = e.auction.CurrentRound
		lotCopy.UpdatedAt = now

		events = append(events, pendingEvent{domain.EventLotResolved, domain.ResolutionPayload{
			LotID:        lot.ID,
			Status:       domain.LotSold,
			SoldAmount:   lotCopy.SoldAmount,
			SoldToTeamID: *lotCopy.SoldToTeamID,
			Round:        e.auction.CurrentRound,
		}})

	case domain.LotUnsold:
		entry.ActionType = domain.UndoUnsold
		lotCopy.Status = domain.LotUnsold
		lotCopy.UpdatedAt = now
		events = append(events, pendingEvent{domain.EventLotResolved, domain.ResolutionPayload{
			LotID:  lot.ID,
			Status: domain.LotUnsold,
			Round:  e.auction.CurrentRound,
		}})

	default:
		return e.raiseInvariant(ctx, domain.Invariant(e.id, "lot %s cannot resolve to %s", lot.ID, outcome))
	}

	// Pick and open the next pool lot in deterministic order.
	nextLot := e.nextPoolLot(lot.ID)
	lots := []domain.Lot{lotCopy}
	if nextLot != nil {
		opened := *nextLot
		opened.Status = domain.LotOpen
		opened.UpdatedAt = now
		lots = append(lots, opened)
		auctionCopy.CurrentLotID = &opened.ID
		deadline := now.Add(e.auction.Config.OpenWindow)
		events = append(events,
			pendingEvent{domain.EventLotStateChanged, domain.PhasePayload{LotID: opened.ID, Phase: domain.LotOpen, Deadline: deadline}},
			pendingEvent{domain.EventPhaseChanged, domain.PhasePayload{LotID: opened.ID, Phase: domain.LotOpen, Deadline: deadline}},
		)
	} else {
		auctionCopy.CurrentLotID = nil
	}

	var teams []domain.Team
	if winnerCopy != nil {
		teams = append(teams, *winnerCopy)
	}

	committed := stampEvents(&auctionCopy, events)
	err := e.store.Apply(ctx, domain.StateMutation{
		Auction:  &auctionCopy,
		Lots:     lots,
		Teams:    teams,
		UndoPush: &entry,
	})
	if err != nil {
		return err
	}

	// Durable write committed; advance memory.
	*lot = lotCopy
	if winnerCopy != nil {
		*e.teams[winnerCopy.ID] = *winnerCopy
	}
	if nextLot != nil {
		nextLot.Status = domain.LotOpen
		nextLot.UpdatedAt = now
	}
	e.auction = auctionCopy
	e.pushUndo(entry)

	if nextLot != nil {
		e.clock.arm(e.auction.Config.OpenWindow, now, e.onExpiry)
	} else {
		e.clock.stop()
	}
	e.publish(ctx, committed)

	e.logger.InfoContext(ctx, "lot resolved",
		slog.String("lot_id", lot.ID),
		slog.String("outcome", string(outcome)),
		slog.Int64("amount", lotCopy.SoldAmount),
	)
	return nil
}

// nextPoolLot returns the first pool lot in deterministic order, excluding
// the lot being resolved in the same mutation.
func (e *Engine) nextPoolLot(excludeID string) *domain.Lot {
	for _, id := range e.lotOrder {
		if id == excludeID {
			continue
		}
		if l := e.lots[id]; l.Status == domain.LotPool {
			return l
		}
	}
	return nil
}

// pushUndo pushes onto the bounded stack, evicting the oldest entry past
// the depth cap.
func (e *Engine) pushUndo(entry domain.UndoEntry) {
	e.undo = append([]domain.UndoEntry{entry}, e.undo...)
	if len(e.undo) > domain.UndoDepth {
		e.undo = e.undo[:domain.UndoDepth]
	}
}

// resetActiveLot discards the active lot's standing bid (refunding the
// escrow) and returns it to the pool. Used by pause and crash recovery.
// Caller persists the resulting state as part of its own mutation; this
// helper only computes and applies the in-memory reset after the caller's
// durable write. To keep that ordering simple the helper persists the
// reset itself as a standalone mutation.
func (e *Engine) resetActiveLot(ctx context.Context) error {
	lot := e.lots[*e.auction.CurrentLotID]
	now := e.now()

	lotCopy := *lot
	var teams []domain.Team
	if lot.HasBid() {
		bidder, ok := e.teams[*lot.CurrentBidTeamID]
		if !ok {
			return e.raiseInvariant(ctx, domain.Invariant(e.id, "standing bidder %s missing", *lot.CurrentBidTeamID))
		}
		b := *bidder
		if err := refundBid(&b, lot.CurrentBidAmount); err != nil {
			return e.raiseInvariant(ctx, err)
		}
		b.UpdatedAt = now
		teams = append(teams, b)
	}
	lotCopy.ClearBid()
	lotCopy.UpdatedAt = now

	auctionCopy := e.auction
	auctionCopy.CurrentLotID = nil
	auctionCopy.UpdatedAt = now

	events := stampEvents(&auctionCopy, []pendingEvent{
		{domain.EventLotStateChanged, domain.PhasePayload{LotID: lot.ID, Phase: domain.LotPool}},
	})

	err := e.store.Apply(ctx, domain.StateMutation{
		Auction: &auctionCopy,
		Lots:    []domain.Lot{lotCopy},
		Teams:   teams,
	})
	if err != nil {
		return err
	}

	*lot = lotCopy
	for _, t := range teams {
		*e.teams[t.ID] = t
	}
	e.auction = auctionCopy
	e.clock.stop()
	e.publish(ctx, events)
	return nil
}

// openNextLot opens the first pool lot and arms the open window. No-op when
// the pool is empty.
func (e *Engine) openNextLot(ctx context.Context) error {
	if e.auction.CurrentLotID != nil {
		return e.raiseInvariant(ctx, domain.Invariant(e.id, "cannot open a lot while %s is active", *e.auction.CurrentLotID))
	}
	next := e.nextPoolLot("")
	if next == nil {
		return nil
	}
	now := e.now()

	lotCopy := *next
	lotCopy.Status = domain.LotOpen
	lotCopy.UpdatedAt = now

	auctionCopy := e.auction
	auctionCopy.CurrentLotID = &next.ID
	auctionCopy.UpdatedAt = now

	deadline := now.Add(e.auction.Config.OpenWindow)
	events := stampEvents(&auctionCopy, []pendingEvent{
		{domain.EventLotStateChanged, domain.PhasePayload{LotID: next.ID, Phase: domain.LotOpen, Deadline: deadline}},
		{domain.EventPhaseChanged, domain.PhasePayload{LotID: next.ID, Phase: domain.LotOpen, Deadline: deadline}},
	})

	err := e.store.Apply(ctx, domain.StateMutation{
		Auction: &auctionCopy,
		Lots:    []domain.Lot{lotCopy},
	})
	if err != nil {
		return err
	}

	*next = lotCopy
	e.auction = auctionCopy
	e.clock.arm(e.auction.Config.OpenWindow, now, e.onExpiry)
	e.publish(ctx, events)

	e.logger.InfoContext(ctx, "lot opened",
		slog.String("lot_id", next.ID),
		slog.String("player", next.PlayerName),
	)
	return nil
}

// CheckTeamToken verifies a team's bearer token against its stored bcrypt
// hash.
func (e *Engine) CheckTeamToken(ctx context.Context, teamID, token string) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	hash := ""
	if t, ok := e.teams[teamID]; ok {
		hash = t.TokenHash
	}
	e.release()

	if hash == "" {
		return domain.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		return domain.ErrUnauthorized
	}
	return nil
}
