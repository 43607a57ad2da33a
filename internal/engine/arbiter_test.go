package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchside/auctiond/internal/domain"
)

func TestSubmitBid_FirstBidBelowBasePriceRejected(t *testing.T) {
	te := liveEngine(t)

	r := te.bid(t, "lot-1", "team-a", 50)

	assert.False(t, r.Accepted)
	assert.Equal(t, domain.RejectBelowIncrement, r.Reason)
	assert.Equal(t, int64(100), r.MinRequired)
}

func TestSubmitBid_FirstBidAtBasePriceAccepted(t *testing.T) {
	te := liveEngine(t)

	r := te.bid(t, "lot-1", "team-a", 100)

	assert.True(t, r.Accepted)
	assert.NotEmpty(t, r.EntryID)
	assert.Equal(t, int64(100), r.Amount)

	got := te.lot(t, "lot-1")
	assert.Equal(t, int64(100), got.CurrentBidAmount)
	require.NotNil(t, got.CurrentBidTeamID)
	assert.Equal(t, "team-a", *got.CurrentBidTeamID)

	// Escrow: the purse is debited the moment the bid is accepted.
	assert.Equal(t, int64(900), te.team(t, "team-a").PurseRemaining)
	assert.Contains(t, te.bus.types(), domain.EventBidAccepted)
}

func TestSubmitBid_OutbidRefundsPreviousBidder(t *testing.T) {
	te := liveEngine(t)
	te.bid(t, "lot-1", "team-b", 100)
	require.Equal(t, int64(900), te.team(t, "team-b").PurseRemaining)

	r := te.bid(t, "lot-1", "team-a", 125)

	assert.True(t, r.Accepted)
	assert.Equal(t, int64(1000), te.team(t, "team-b").PurseRemaining)
	assert.Equal(t, int64(875), te.team(t, "team-a").PurseRemaining)
	require.NotNil(t, te.lot(t, "lot-1").CurrentBidTeamID)
	assert.Equal(t, "team-a", *te.lot(t, "lot-1").CurrentBidTeamID)
}

func TestSubmitBid_AtOrBelowStandingBidIsOutbid(t *testing.T) {
	te := liveEngine(t)
	te.bid(t, "lot-1", "team-b", 100)

	r := te.bid(t, "lot-1", "team-a", 100)

	assert.False(t, r.Accepted)
	assert.Equal(t, domain.RejectOutbid, r.Reason)
	assert.Equal(t, int64(125), r.MinRequired)
}

func TestSubmitBid_RaiseBelowIncrementRejected(t *testing.T) {
	te := liveEngine(t)
	te.bid(t, "lot-1", "team-b", 100)

	r := te.bid(t, "lot-1", "team-a", 110)

	assert.False(t, r.Accepted)
	assert.Equal(t, domain.RejectBelowIncrement, r.Reason)
	assert.Equal(t, int64(125), r.MinRequired)
}

func TestSubmitBid_TierIncrementRisesWithPrice(t *testing.T) {
	te := liveEngine(t)
	te.bid(t, "lot-1", "team-a", 500)

	// Above 500 the increment tier is 50, so 525 no longer clears.
	r := te.bid(t, "lot-1", "team-b", 525)
	assert.Equal(t, domain.RejectBelowIncrement, r.Reason)
	assert.Equal(t, int64(550), r.MinRequired)

	assert.True(t, te.bid(t, "lot-1", "team-b", 550).Accepted)
}

func TestSubmitBid_SelfOutbidRejected(t *testing.T) {
	te := liveEngine(t)
	te.bid(t, "lot-1", "team-a", 100)

	r := te.bid(t, "lot-1", "team-a", 125)

	assert.False(t, r.Accepted)
	assert.Equal(t, domain.RejectAlreadyHighest, r.Reason)
}

func TestSubmitBid_ReplayedWinningBidAlreadyHighest(t *testing.T) {
	te := liveEngine(t)
	require.True(t, te.bid(t, "lot-1", "team-b", 125).Accepted)

	// A client retrying its own winning submission must get the same
	// answer a raise attempt by the holder gets, with no second charge.
	r := te.bid(t, "lot-1", "team-b", 125)

	assert.False(t, r.Accepted)
	assert.Equal(t, domain.RejectAlreadyHighest, r.Reason)
	assert.Equal(t, int64(875), te.team(t, "team-b").PurseRemaining)
	assert.Equal(t, int64(125), te.lot(t, "lot-1").CurrentBidAmount)
}

func TestSubmitBid_WrongLotRejected(t *testing.T) {
	te := liveEngine(t)

	r := te.bid(t, "lot-2", "team-a", 100)

	assert.False(t, r.Accepted)
	assert.Equal(t, domain.RejectWrongLot, r.Reason)
}

func TestSubmitBid_WrongPhaseRejected(t *testing.T) {
	te := liveEngine(t)
	require.NoError(t, te.eng.Pause(context.Background()))

	r := te.bid(t, "lot-1", "team-a", 100)

	assert.False(t, r.Accepted)
	assert.Equal(t, domain.RejectWrongPhase, r.Reason)
}

func TestSubmitBid_ReserveRuleCapsMaxBid(t *testing.T) {
	// MinSquadSize 2 with an empty squad reserves one base-price slot, so
	// the most a 1000 purse can commit is 900.
	te := liveEngine(t)

	r := te.bid(t, "lot-1", "team-a", 950)
	assert.False(t, r.Accepted)
	assert.Equal(t, domain.RejectInsufficientPurse, r.Reason)

	assert.True(t, te.bid(t, "lot-1", "team-a", 900).Accepted)
}

func TestSubmitBid_FullSquadRejected(t *testing.T) {
	te := newTestEngine(testState(domain.AuctionLive,
		[]domain.Team{testTeam("team-a", 400, 4), testTeam("team-b", 1000, 0)},
		[]domain.Lot{poolLot("lot-1", 0)},
	))
	require.NoError(t, te.eng.Start(context.Background()))

	r := te.bid(t, "lot-1", "team-a", 100)

	assert.False(t, r.Accepted)
	assert.Equal(t, domain.RejectInsufficientPurse, r.Reason)
}

func TestSubmitBid_UnknownTeamErrors(t *testing.T) {
	te := liveEngine(t)

	_, err := te.eng.SubmitBid(context.Background(), "lot-1", "team-x", 100)

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmitBid_EveryAttemptAudited(t *testing.T) {
	te := liveEngine(t)
	te.bid(t, "lot-1", "team-a", 100)
	te.bid(t, "lot-1", "team-b", 110)

	log, err := te.store.ListBidLog(context.Background(), "default", "auc-1", domain.BidLogFilter{})
	require.NoError(t, err)
	require.Len(t, log, 2)

	rejected := te.store.lastBidLog()
	assert.Equal(t, domain.BidRejected, rejected.Type)
	assert.Equal(t, string(domain.RejectBelowIncrement), rejected.Reason)
	assert.Equal(t, "team-b", rejected.TeamID)
	assert.Equal(t, int64(1000), rejected.PurseAtTime)
}

func TestSubmitBid_PersistFailureMeansNoAck(t *testing.T) {
	te := liveEngine(t)
	te.store.mu.Lock()
	te.store.failNext = errors.New("connection reset")
	te.store.mu.Unlock()

	_, err := te.eng.SubmitBid(context.Background(), "lot-1", "team-a", 100)

	assert.ErrorIs(t, err, domain.ErrServiceError)
	assert.Equal(t, int64(1000), te.team(t, "team-a").PurseRemaining)
	got := te.lot(t, "lot-1")
	assert.False(t, got.HasBid())
	assert.Equal(t, int64(0), got.CurrentBidAmount)
}

func TestSubmitBid_AcceptedBidRestartsOpenWindow(t *testing.T) {
	te := liveEngine(t)
	te.bid(t, "lot-1", "team-a", 100)
	te.sched.fire(t)
	require.Equal(t, domain.LotGoingOnce, te.lot(t, "lot-1").Status)

	// A counter-bid during going_once returns the lot to open with a full
	// open window.
	te.bid(t, "lot-1", "team-b", 125)

	assert.Equal(t, domain.LotOpen, te.lot(t, "lot-1").Status)
	assert.Equal(t, testConfig().OpenWindow, te.sched.pending(t).d)
}

func TestVoidBid_MarksAcceptedEntry(t *testing.T) {
	te := liveEngine(t)
	r := te.bid(t, "lot-1", "team-a", 100)

	require.NoError(t, te.eng.VoidBid(context.Background(), r.EntryID, "fat finger"))

	assert.Equal(t, domain.BidVoided, te.store.lastBidLog().Type)
	assert.True(t, te.alerts.has("bid_voided"))
}

func TestVoidBid_UnknownEntryErrors(t *testing.T) {
	te := liveEngine(t)

	err := te.eng.VoidBid(context.Background(), "no-such-entry", "reason")

	assert.ErrorIs(t, err, domain.ErrNotFound)
}
