package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchside/auctiond/internal/domain"
)

// --- fakes ---

type fakeStore struct {
	mu        sync.Mutex
	state     *domain.AuctionState
	applied   []domain.StateMutation
	failNext  error
	bidLog    []domain.BidLogEntry
	proposals map[string]domain.TradeProposal
	created   []domain.Auction
	teams     []domain.Team
	lots      []domain.Lot
	voided    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{proposals: make(map[string]domain.TradeProposal)}
}

func (s *fakeStore) CreateAuction(_ context.Context, a domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, a)
	return nil
}

func (s *fakeStore) AddTeam(_ context.Context, t domain.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams = append(s.teams, t)
	return nil
}

func (s *fakeStore) AddLots(_ context.Context, lots []domain.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lots = append(s.lots, lots...)
	return nil
}

func (s *fakeStore) Load(_ context.Context, orgID, auctionID string) (*domain.AuctionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil || s.state.Auction.ID != auctionID || s.state.Auction.OrgID != orgID {
		return nil, domain.ErrNotFound
	}
	cp := *s.state
	cp.Teams = append([]domain.Team(nil), s.state.Teams...)
	cp.Lots = append([]domain.Lot(nil), s.state.Lots...)
	cp.Undo = append([]domain.UndoEntry(nil), s.state.Undo...)
	return &cp, nil
}

func (s *fakeStore) Apply(_ context.Context, m domain.StateMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.applied = append(s.applied, m)
	s.bidLog = append(s.bidLog, m.BidLog...)
	if m.Proposal != nil {
		s.proposals[m.Proposal.ID] = *m.Proposal
	}
	for _, p := range m.Proposals {
		s.proposals[p.ID] = p
	}
	return nil
}

func (s *fakeStore) VoidBid(_ context.Context, _, _, bidLogID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bidLog {
		if s.bidLog[i].ID == bidLogID && s.bidLog[i].Type == domain.BidAccepted {
			s.bidLog[i].Type = domain.BidVoided
			s.voided = append(s.voided, bidLogID)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *fakeStore) ListAuctions(_ context.Context, _ string, _ domain.ListOpts) ([]domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Auction(nil), s.created...), nil
}

func (s *fakeStore) ListBidLog(_ context.Context, _, _ string, f domain.BidLogFilter) ([]domain.BidLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BidLogEntry, 0, len(s.bidLog))
	for _, e := range s.bidLog {
		if f.TeamID != "" && e.TeamID != f.TeamID {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeStore) ListProposals(_ context.Context, _, _ string, f domain.TradeFilter) ([]domain.TradeProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TradeProposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		if f.ActiveOnly && p.Status != domain.TradeProposed {
			continue
		}
		if f.TeamID != "" && p.InitiatorTeamID != f.TeamID && p.CounterpartyTeamID != f.TeamID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) applyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}

func (s *fakeStore) lastBidLog() domain.BidLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bidLog[len(s.bidLog)-1]
}

var _ domain.EngineStore = (*fakeStore)(nil)

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

// fakeScheduler captures armed timers so tests drive expiry by hand.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm := &fakeTimer{d: d, fn: fn}
	s.timers = append(s.timers, tm)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if tm.stopped {
			return false
		}
		tm.stopped = true
		return true
	}
}

// pending returns the most recently armed timer that has not been cancelled.
func (s *fakeScheduler) pending(t *testing.T) *fakeTimer {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.timers) - 1; i >= 0; i-- {
		if !s.timers[i].stopped {
			return s.timers[i]
		}
	}
	t.Fatal("no pending timer")
	return nil
}

// fire runs the pending timer callback, simulating phase-clock expiry. A
// fired timer is consumed and cannot fire again.
func (s *fakeScheduler) fire(t *testing.T) {
	t.Helper()
	tm := s.pending(t)
	s.mu.Lock()
	tm.stopped = true
	s.mu.Unlock()
	tm.fn()
}

type fakeBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *fakeBus) Publish(_ context.Context, ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *fakeBus) types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, ev.Type)
	}
	return out
}

func (b *fakeBus) last(t *testing.T) domain.Event {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.events)
	return b.events[len(b.events)-1]
}

type fakeAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAlerter) Alert(_ context.Context, event, _, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *fakeAlerter) has(event string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e == event {
			return true
		}
	}
	return false
}

// testClock is a settable time source.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// --- fixtures ---

func testConfig() domain.AuctionConfig {
	return domain.AuctionConfig{
		BasePrice:    100,
		PurseValue:   1000,
		MinSquadSize: 2,
		MaxSquadSize: 4,
		IncrementTiers: []domain.IncrementTier{
			{UpTo: 500, Increment: 25},
			{UpTo: 0, Increment: 50},
		},
		OpenWindow:  30 * time.Second,
		GoingWindow: 10 * time.Second,
		TradeWindow: time.Hour,
	}
}

func testTeam(id string, purse int64, squad int) domain.Team {
	return domain.Team{
		ID:             id,
		OrgID:          "default",
		AuctionID:      "auc-1",
		Name:           "Team " + id,
		PurseValue:     1000,
		PurseRemaining: purse,
		SquadSize:      squad,
	}
}

func poolLot(id string, order int) domain.Lot {
	return domain.Lot{
		ID:         id,
		OrgID:      "default",
		AuctionID:  "auc-1",
		PlayerName: "Player " + id,
		PoolOrder:  order,
		Status:     domain.LotPool,
	}
}

func testState(status domain.AuctionStatus, teams []domain.Team, lots []domain.Lot) *domain.AuctionState {
	return &domain.AuctionState{
		Auction: domain.Auction{
			ID:           "auc-1",
			OrgID:        "default",
			Name:         "Season Auction",
			Status:       status,
			Config:       testConfig(),
			CurrentRound: 1,
		},
		Teams: teams,
		Lots:  lots,
	}
}

type testEngine struct {
	eng    *Engine
	store  *fakeStore
	sched  *fakeScheduler
	bus    *fakeBus
	alerts *fakeAlerter
	clock  *testClock
}

func newTestEngine(state *domain.AuctionState) *testEngine {
	te := &testEngine{
		store:  newFakeStore(),
		sched:  &fakeScheduler{},
		bus:    &fakeBus{},
		alerts: &fakeAlerter{},
		clock:  newTestClock(),
	}
	te.eng = New(state, Deps{
		Store:  te.store,
		Bus:    te.bus,
		Sched:  te.sched,
		Alerts: te.alerts,
		Now:    te.clock.now,
	})
	return te
}

// liveEngine returns a started live auction with three teams and three pool
// lots; the first lot is open with the open window armed.
func liveEngine(t *testing.T) *testEngine {
	t.Helper()
	te := newTestEngine(testState(domain.AuctionLive,
		[]domain.Team{testTeam("team-a", 1000, 0), testTeam("team-b", 1000, 0), testTeam("team-c", 1000, 0)},
		[]domain.Lot{poolLot("lot-1", 0), poolLot("lot-2", 1), poolLot("lot-3", 2)},
	))
	require.NoError(t, te.eng.Start(context.Background()))
	return te
}

func (te *testEngine) lot(t *testing.T, id string) domain.Lot {
	t.Helper()
	snap, err := te.eng.Snapshot(context.Background())
	require.NoError(t, err)
	for _, l := range snap.Lots {
		if l.ID == id {
			return l
		}
	}
	t.Fatalf("lot %s not in snapshot", id)
	return domain.Lot{}
}

func (te *testEngine) team(t *testing.T, id string) domain.Team {
	t.Helper()
	snap, err := te.eng.Snapshot(context.Background())
	require.NoError(t, err)
	for _, tm := range snap.Teams {
		if tm.ID == id {
			return tm
		}
	}
	t.Fatalf("team %s not in snapshot", id)
	return domain.Team{}
}

func (te *testEngine) bid(t *testing.T, lotID, teamID string, amount int64) BidReceipt {
	t.Helper()
	r, err := te.eng.SubmitBid(context.Background(), lotID, teamID, amount)
	require.NoError(t, err)
	return r
}

// --- start / recovery ---

func TestStart_LiveOpensFirstPoolLot(t *testing.T) {
	te := liveEngine(t)

	snap, err := te.eng.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Auction.CurrentLotID)
	assert.Equal(t, "lot-1", *snap.Auction.CurrentLotID)
	assert.Equal(t, domain.LotOpen, te.lot(t, "lot-1").Status)
	assert.Equal(t, testConfig().OpenWindow, te.sched.pending(t).d)
}

func TestStart_RecoversMidPhaseLotToPool(t *testing.T) {
	// Crash recovery: the interrupted lot loses its standing bid, the escrow
	// is refunded, and the lot reopens first because its pool order is lowest.
	lotID := "lot-1"
	bidder := "team-b"
	state := testState(domain.AuctionLive,
		[]domain.Team{testTeam("team-a", 1000, 0), testTeam("team-b", 900, 0)},
		[]domain.Lot{
			{ID: lotID, OrgID: "default", AuctionID: "auc-1", PlayerName: "P1", PoolOrder: 0,
				Status: domain.LotGoingOnce, CurrentBidAmount: 100, CurrentBidTeamID: &bidder},
			poolLot("lot-2", 1),
		},
	)
	state.Auction.CurrentLotID = &lotID

	te := newTestEngine(state)
	require.NoError(t, te.eng.Start(context.Background()))

	assert.Equal(t, int64(1000), te.team(t, "team-b").PurseRemaining)
	got := te.lot(t, lotID)
	assert.Equal(t, domain.LotOpen, got.Status)
	assert.False(t, got.HasBid())
}

func TestStart_ExpiredTradeWindowFinalizes(t *testing.T) {
	state := testState(domain.AuctionTradeWindow,
		[]domain.Team{testTeam("team-a", 800, 2), testTeam("team-b", 700, 2)}, nil)
	past := newTestClock().now().Add(-time.Minute)
	state.Auction.WindowEndsAt = &past

	te := newTestEngine(state)
	require.NoError(t, te.eng.Start(context.Background()))

	snap, err := te.eng.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionFinalized, snap.Auction.Status)
}

// --- phase clock expiry ---

func TestExpiry_OpenNoBidResolvesUnsold(t *testing.T) {
	te := liveEngine(t)

	te.sched.fire(t)

	assert.Equal(t, domain.LotUnsold, te.lot(t, "lot-1").Status)
	assert.Equal(t, domain.LotOpen, te.lot(t, "lot-2").Status)
	snap, err := te.eng.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Auction.CurrentLotID)
	assert.Equal(t, "lot-2", *snap.Auction.CurrentLotID)
	assert.Equal(t, 1, snap.UndoDepth)
}

func TestExpiry_EscalatesThroughGoingPhasesToSold(t *testing.T) {
	te := liveEngine(t)
	te.bid(t, "lot-1", "team-b", 100)

	te.sched.fire(t)
	assert.Equal(t, domain.LotGoingOnce, te.lot(t, "lot-1").Status)
	assert.Equal(t, testConfig().GoingWindow, te.sched.pending(t).d)

	te.sched.fire(t)
	assert.Equal(t, domain.LotGoingTwice, te.lot(t, "lot-1").Status)

	te.sched.fire(t)
	sold := te.lot(t, "lot-1")
	assert.Equal(t, domain.LotSold, sold.Status)
	assert.Equal(t, int64(100), sold.SoldAmount)
	require.NotNil(t, sold.SoldToTeamID)
	assert.Equal(t, "team-b", *sold.SoldToTeamID)
	assert.Equal(t, 1, sold.SoldInRound)

	winner := te.team(t, "team-b")
	assert.Equal(t, int64(900), winner.PurseRemaining)
	assert.Equal(t, 1, winner.SquadSize)

	// The next pool lot opened in the same mutation.
	assert.Equal(t, domain.LotOpen, te.lot(t, "lot-2").Status)
}

func TestExpiry_AtMostOneActiveLot(t *testing.T) {
	te := liveEngine(t)
	te.bid(t, "lot-1", "team-a", 100)

	for i := 0; i < 5; i++ {
		active := 0
		snap, err := te.eng.Snapshot(context.Background())
		require.NoError(t, err)
		for _, l := range snap.Lots {
			if l.Status.Active() {
				active++
			}
		}
		assert.LessOrEqual(t, active, 1)
		te.sched.fire(t)
	}
}

func TestExpiry_StaleGenerationIgnored(t *testing.T) {
	te := liveEngine(t)
	stale := te.sched.pending(t)

	// A bid lands while the open-window callback is already queued. The bid
	// rearms the clock; the queued callback must be a no-op.
	te.bid(t, "lot-1", "team-a", 100)
	before := te.store.applyCount()

	stale.fn()

	assert.Equal(t, before, te.store.applyCount())
	got := te.lot(t, "lot-1")
	assert.Equal(t, domain.LotOpen, got.Status)
	assert.Equal(t, int64(100), got.CurrentBidAmount)
}

func TestExpiry_PersistFailureRearmsRetry(t *testing.T) {
	te := liveEngine(t)
	te.store.mu.Lock()
	te.store.failNext = errors.New("connection reset")
	te.store.mu.Unlock()

	te.sched.fire(t)

	// State did not advance and a short retry timer is pending.
	assert.Equal(t, domain.LotOpen, te.lot(t, "lot-1").Status)
	assert.Equal(t, 5*time.Second, te.sched.pending(t).d)

	te.sched.fire(t)
	assert.Equal(t, domain.LotUnsold, te.lot(t, "lot-1").Status)
}

func TestExpiry_LastLotResolvedStopsClock(t *testing.T) {
	te := newTestEngine(testState(domain.AuctionLive,
		[]domain.Team{testTeam("team-a", 1000, 0), testTeam("team-b", 1000, 0)},
		[]domain.Lot{poolLot("lot-1", 0)},
	))
	require.NoError(t, te.eng.Start(context.Background()))

	te.sched.fire(t)

	snap, err := te.eng.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.Auction.CurrentLotID)
	te.sched.mu.Lock()
	defer te.sched.mu.Unlock()
	for _, tm := range te.sched.timers {
		assert.True(t, tm.stopped)
	}
}

func TestStop_WaitsOutBusyCriticalSection(t *testing.T) {
	te := liveEngine(t)

	// Occupy the critical section, then Stop from another goroutine. Stop
	// must wait for the section to free rather than return with the open
	// window still armed; a timer surviving Stop could fire after the
	// engine's lease is released.
	te.eng.lockSlot()
	done := make(chan struct{})
	go func() {
		te.eng.Stop()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Stop returned while the critical section was held")
	case <-time.After(20 * time.Millisecond):
	}
	te.eng.release()
	<-done

	te.sched.mu.Lock()
	defer te.sched.mu.Unlock()
	for _, tm := range te.sched.timers {
		assert.True(t, tm.stopped)
	}
}

// --- undo depth ---

func TestUndoStack_CappedAtDepth(t *testing.T) {
	te := newTestEngine(testState(domain.AuctionLive,
		[]domain.Team{testTeam("team-a", 1000, 0), testTeam("team-b", 1000, 0)},
		[]domain.Lot{poolLot("lot-1", 0), poolLot("lot-2", 1), poolLot("lot-3", 2), poolLot("lot-4", 3), poolLot("lot-5", 4)},
	))
	require.NoError(t, te.eng.Start(context.Background()))

	for i := 0; i < 4; i++ {
		te.sched.fire(t)
	}

	depth, err := te.eng.UndoDepthRemaining(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.UndoDepth, depth)
}

// --- snapshot ---

func TestSnapshot_StripsTokenHashesAndOrdersState(t *testing.T) {
	state := testState(domain.AuctionLive,
		[]domain.Team{testTeam("team-b", 1000, 0), testTeam("team-a", 1000, 0)},
		[]domain.Lot{poolLot("lot-2", 1), poolLot("lot-1", 0)},
	)
	state.Teams[0].TokenHash = "$2a$10$secret"
	state.Teams[1].TokenHash = "$2a$10$secret"

	te := newTestEngine(state)
	require.NoError(t, te.eng.Start(context.Background()))

	snap, err := te.eng.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Teams, 2)
	assert.Equal(t, "Team team-a", snap.Teams[0].Name)
	assert.Empty(t, snap.Teams[0].TokenHash)
	assert.Empty(t, snap.Teams[1].TokenHash)
	require.Len(t, snap.Lots, 2)
	assert.Equal(t, "lot-1", snap.Lots[0].ID)
	require.NotNil(t, snap.Phase)
	assert.Equal(t, "lot-1", snap.Phase.LotID)
	assert.Equal(t, domain.LotOpen, snap.Phase.Phase)
	assert.Equal(t, testConfig().OpenWindow, snap.Phase.Remaining)
}

func TestSnapshot_SeqTracksPublishedEvents(t *testing.T) {
	te := liveEngine(t)
	te.bid(t, "lot-1", "team-a", 100)

	snap, err := te.eng.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, te.bus.last(t).Seq, snap.Seq)
}
