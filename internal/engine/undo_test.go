package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchside/auctiond/internal/domain"
)

// sellLot drives the active lot through going_once and going_twice to sold.
func sellLot(t *testing.T, te *testEngine, lotID, teamID string, amount int64) {
	t.Helper()
	te.bid(t, lotID, teamID, amount)
	te.sched.fire(t)
	te.sched.fire(t)
	te.sched.fire(t)
	require.Equal(t, domain.LotSold, te.lot(t, lotID).Status)
}

func TestUndoLast_RestoresSoldResolution(t *testing.T) {
	te := liveEngine(t)
	sellLot(t, te, "lot-1", "team-b", 100)
	require.Equal(t, int64(900), te.team(t, "team-b").PurseRemaining)
	require.Equal(t, 1, te.team(t, "team-b").SquadSize)

	require.NoError(t, te.eng.UndoLast(context.Background()))

	// Snapshot restore: purse refunded, squad slot released, lot back in the
	// pool with its sale cleared.
	got := te.team(t, "team-b")
	assert.Equal(t, int64(1000), got.PurseRemaining)
	assert.Equal(t, 0, got.SquadSize)

	lot := te.lot(t, "lot-1")
	assert.Equal(t, domain.LotPool, lot.Status)
	assert.Equal(t, int64(0), lot.SoldAmount)
	assert.Nil(t, lot.SoldToTeamID)
	assert.Equal(t, 0, lot.SoldInRound)

	depth, err := te.eng.UndoDepthRemaining(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
	assert.Contains(t, te.bus.types(), domain.EventUndoApplied)
	assert.True(t, te.alerts.has("undo_applied"))
}

func TestUndoLast_RestoresUnsoldResolution(t *testing.T) {
	te := liveEngine(t)
	te.sched.fire(t)
	require.Equal(t, domain.LotUnsold, te.lot(t, "lot-1").Status)

	require.NoError(t, te.eng.UndoLast(context.Background()))

	assert.Equal(t, domain.LotPool, te.lot(t, "lot-1").Status)
	// The lot that auto-opened after the resolution stays active.
	snap, err := te.eng.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Auction.CurrentLotID)
	assert.Equal(t, "lot-2", *snap.Auction.CurrentLotID)
}

func TestUndoLast_RestoresRoundCounter(t *testing.T) {
	te := newTestEngine(testState(domain.AuctionLive,
		[]domain.Team{testTeam("team-a", 1000, 0), testTeam("team-b", 1000, 0)},
		[]domain.Lot{poolLot("lot-1", 0), poolLot("lot-2", 1)},
	))
	require.NoError(t, te.eng.Start(context.Background()))
	te.sched.fire(t)
	te.sched.fire(t)
	require.NoError(t, te.eng.NextRound(context.Background()))
	sellLot(t, te, "lot-1", "team-a", 100)

	require.NoError(t, te.eng.UndoLast(context.Background()))

	snap, err := te.eng.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Auction.CurrentRound)
}

func TestUndoLast_ReopensRestoredLotWhenPoolWasExhausted(t *testing.T) {
	te := newTestEngine(testState(domain.AuctionLive,
		[]domain.Team{testTeam("team-a", 1000, 0), testTeam("team-b", 1000, 0)},
		[]domain.Lot{poolLot("lot-1", 0)},
	))
	require.NoError(t, te.eng.Start(context.Background()))
	sellLot(t, te, "lot-1", "team-a", 100)

	require.NoError(t, te.eng.UndoLast(context.Background()))

	// With no other lot active, the restored lot reopens for bidding
	// straight away instead of sitting in an emptied pool.
	lot := te.lot(t, "lot-1")
	assert.Equal(t, domain.LotOpen, lot.Status)
	assert.False(t, lot.HasBid())
	snap, err := te.eng.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Auction.CurrentLotID)
	assert.Equal(t, "lot-1", *snap.Auction.CurrentLotID)
	assert.Equal(t, testConfig().OpenWindow, te.sched.pending(t).d)
	assert.Equal(t, int64(1000), te.team(t, "team-a").PurseRemaining)
}

func TestUndoLast_EmptyStackRejected(t *testing.T) {
	te := liveEngine(t)

	err := te.eng.UndoLast(context.Background())

	assert.Equal(t, domain.RejectNothingToUndo, rejectReason(t, err))
}

func TestUndoLast_RejectedOutsideLiveOrPaused(t *testing.T) {
	te := liveEngine(t)
	te.sched.fire(t)
	require.NoError(t, te.eng.Complete(context.Background()))

	err := te.eng.UndoLast(context.Background())

	assert.Equal(t, domain.RejectInvalidTransition, rejectReason(t, err))
}

func TestUndoLast_AllowedWhilePaused(t *testing.T) {
	te := liveEngine(t)
	sellLot(t, te, "lot-1", "team-b", 100)
	require.NoError(t, te.eng.Pause(context.Background()))

	require.NoError(t, te.eng.UndoLast(context.Background()))

	assert.Equal(t, domain.LotPool, te.lot(t, "lot-1").Status)
	assert.Equal(t, int64(1000), te.team(t, "team-b").PurseRemaining)
}

func TestUndoLast_RefusedWhileSnapshotTeamHoldsStandingBid(t *testing.T) {
	te := liveEngine(t)
	sellLot(t, te, "lot-1", "team-b", 100)

	// The former winner now holds the standing bid on the active lot;
	// restoring its snapshot would clobber that escrow.
	te.bid(t, "lot-2", "team-b", 100)

	err := te.eng.UndoLast(context.Background())
	assert.Equal(t, domain.RejectInvalidTransition, rejectReason(t, err))

	// A different team holding the standing bid does not block the undo.
	te.bid(t, "lot-2", "team-a", 125)
	require.NoError(t, te.eng.UndoLast(context.Background()))
	assert.Equal(t, domain.LotPool, te.lot(t, "lot-1").Status)
}

func TestUndoLast_PopsInResolutionOrder(t *testing.T) {
	te := liveEngine(t)
	sellLot(t, te, "lot-1", "team-a", 100)
	sellLot(t, te, "lot-2", "team-b", 200)

	require.NoError(t, te.eng.UndoLast(context.Background()))

	// Newest first: lot-2 comes back, lot-1 stays sold.
	assert.Equal(t, domain.LotPool, te.lot(t, "lot-2").Status)
	assert.Equal(t, domain.LotSold, te.lot(t, "lot-1").Status)
	assert.Equal(t, int64(1000), te.team(t, "team-b").PurseRemaining)
	assert.Equal(t, int64(900), te.team(t, "team-a").PurseRemaining)
}
