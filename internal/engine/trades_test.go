package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchside/auctiond/internal/domain"
)

// tradeEngine builds a trade-window auction where team-a owns lot-a1 and
// lot-a2 and team-b owns lot-b1 and lot-b2, all squads at the minimum of 2.
func tradeEngine(t *testing.T) *testEngine {
	t.Helper()
	a, b := "team-a", "team-b"
	soldLot := func(id string, order int, owner *string, amount int64) domain.Lot {
		return domain.Lot{
			ID: id, OrgID: "default", AuctionID: "auc-1", PlayerName: "Player " + id,
			PoolOrder: order, Status: domain.LotSold,
			SoldAmount: amount, SoldToTeamID: owner, SoldInRound: 1,
		}
	}
	state := testState(domain.AuctionTradeWindow,
		[]domain.Team{testTeam(a, 600, 2), testTeam(b, 800, 2)},
		[]domain.Lot{
			soldLot("lot-a1", 0, &a, 200),
			soldLot("lot-a2", 1, &a, 200),
			soldLot("lot-b1", 2, &b, 100),
			soldLot("lot-b2", 3, &b, 100),
		},
	)
	ends := newTestClock().now().Add(time.Hour)
	state.Auction.WindowEndsAt = &ends
	return newTestEngine(state)
}

func swapRequest(adjustment int64) TradeRequest {
	return TradeRequest{
		InitiatorTeamID:    "team-a",
		CounterpartyTeamID: "team-b",
		InitiatorLotIDs:    []string{"lot-a1"},
		CounterpartyLotIDs: []string{"lot-b1"},
		PurseAdjustment:    adjustment,
	}
}

func TestProposeTrade_CreatesProposal(t *testing.T) {
	te := tradeEngine(t)

	p, err := te.eng.ProposeTrade(context.Background(), swapRequest(50))

	require.NoError(t, err)
	assert.Equal(t, domain.TradeProposed, p.Status)
	assert.Equal(t, "team-a", p.InitiatorTeamID)
	assert.Equal(t, te.clock.now().Add(time.Hour), p.ExpiresAt)
	assert.Contains(t, te.bus.types(), domain.EventTradeProposed)
}

func TestProposeTrade_OutsideTradeWindowRejected(t *testing.T) {
	te := liveEngine(t)

	_, err := te.eng.ProposeTrade(context.Background(), swapRequest(0))

	assert.Equal(t, domain.RejectWrongPhase, rejectReason(t, err))
}

func TestProposeTrade_SelfTradeRejected(t *testing.T) {
	te := tradeEngine(t)
	req := swapRequest(0)
	req.CounterpartyTeamID = req.InitiatorTeamID

	_, err := te.eng.ProposeTrade(context.Background(), req)

	assert.Equal(t, domain.RejectInvalidTrade, rejectReason(t, err))
}

func TestProposeTrade_EmptyTradeRejected(t *testing.T) {
	te := tradeEngine(t)

	_, err := te.eng.ProposeTrade(context.Background(), TradeRequest{
		InitiatorTeamID:    "team-a",
		CounterpartyTeamID: "team-b",
	})

	assert.Equal(t, domain.RejectInvalidTrade, rejectReason(t, err))
}

func TestProposeTrade_WrongOwnershipRejected(t *testing.T) {
	te := tradeEngine(t)
	req := swapRequest(0)
	req.InitiatorLotIDs = []string{"lot-b2"}

	_, err := te.eng.ProposeTrade(context.Background(), req)

	assert.Equal(t, domain.RejectInvalidTrade, rejectReason(t, err))
}

func TestProposeTrade_DuplicateLotRejected(t *testing.T) {
	te := tradeEngine(t)
	req := swapRequest(0)
	req.InitiatorLotIDs = []string{"lot-a1", "lot-a1"}

	_, err := te.eng.ProposeTrade(context.Background(), req)

	assert.Equal(t, domain.RejectInvalidTrade, rejectReason(t, err))
}

func TestProposeTrade_SquadBelowMinimumRejected(t *testing.T) {
	te := tradeEngine(t)
	req := TradeRequest{
		InitiatorTeamID:    "team-a",
		CounterpartyTeamID: "team-b",
		InitiatorLotIDs:    []string{"lot-a1", "lot-a2"},
	}

	_, err := te.eng.ProposeTrade(context.Background(), req)

	assert.Equal(t, domain.RejectInvalidTrade, rejectReason(t, err))
}

func TestProposeTrade_PurseBelowZeroRejected(t *testing.T) {
	te := tradeEngine(t)

	_, err := te.eng.ProposeTrade(context.Background(), swapRequest(700))

	assert.Equal(t, domain.RejectInvalidTrade, rejectReason(t, err))
}

func TestAcceptTrade_SwapsOwnershipAndPurse(t *testing.T) {
	te := tradeEngine(t)
	p, err := te.eng.ProposeTrade(context.Background(), swapRequest(50))
	require.NoError(t, err)

	require.NoError(t, te.eng.AcceptTrade(context.Background(), p.ID, "team-b"))

	a1 := te.lot(t, "lot-a1")
	require.NotNil(t, a1.SoldToTeamID)
	assert.Equal(t, "team-b", *a1.SoldToTeamID)
	b1 := te.lot(t, "lot-b1")
	require.NotNil(t, b1.SoldToTeamID)
	assert.Equal(t, "team-a", *b1.SoldToTeamID)

	// One-for-one swap with the initiator paying 50.
	assert.Equal(t, int64(550), te.team(t, "team-a").PurseRemaining)
	assert.Equal(t, int64(850), te.team(t, "team-b").PurseRemaining)
	assert.Equal(t, 2, te.team(t, "team-a").SquadSize)
	assert.Equal(t, 2, te.team(t, "team-b").SquadSize)
	assert.Contains(t, te.bus.types(), domain.EventTradeAccepted)

	te.store.mu.Lock()
	defer te.store.mu.Unlock()
	assert.Equal(t, domain.TradeAccepted, te.store.proposals[p.ID].Status)
}

func TestAcceptTrade_NegativeAdjustmentPaysInitiator(t *testing.T) {
	te := tradeEngine(t)
	p, err := te.eng.ProposeTrade(context.Background(), swapRequest(-100))
	require.NoError(t, err)

	require.NoError(t, te.eng.AcceptTrade(context.Background(), p.ID, "team-b"))

	assert.Equal(t, int64(700), te.team(t, "team-a").PurseRemaining)
	assert.Equal(t, int64(700), te.team(t, "team-b").PurseRemaining)
}

func TestAcceptTrade_OnlyCounterpartyMayAccept(t *testing.T) {
	te := tradeEngine(t)
	p, err := te.eng.ProposeTrade(context.Background(), swapRequest(0))
	require.NoError(t, err)

	err = te.eng.AcceptTrade(context.Background(), p.ID, "team-a")

	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAcceptTrade_ExpiredProposalRejected(t *testing.T) {
	te := tradeEngine(t)
	p, err := te.eng.ProposeTrade(context.Background(), swapRequest(0))
	require.NoError(t, err)

	te.clock.advance(2 * time.Hour)
	err = te.eng.AcceptTrade(context.Background(), p.ID, "team-b")

	assert.Equal(t, domain.RejectInvalidTrade, rejectReason(t, err))
}

func TestAcceptTrade_RevalidatesAgainstCurrentState(t *testing.T) {
	// Two proposals offer the same player; accepting the first moves the
	// player, so the second must fail revalidation.
	te := tradeEngine(t)
	first, err := te.eng.ProposeTrade(context.Background(), swapRequest(0))
	require.NoError(t, err)
	second, err := te.eng.ProposeTrade(context.Background(), TradeRequest{
		InitiatorTeamID:    "team-a",
		CounterpartyTeamID: "team-b",
		InitiatorLotIDs:    []string{"lot-a1"},
		CounterpartyLotIDs: []string{"lot-b2"},
	})
	require.NoError(t, err)

	require.NoError(t, te.eng.AcceptTrade(context.Background(), first.ID, "team-b"))
	err = te.eng.AcceptTrade(context.Background(), second.ID, "team-b")

	assert.Equal(t, domain.RejectInvalidTrade, rejectReason(t, err))
}

func TestAcceptTrade_AlreadyResolvedRejected(t *testing.T) {
	te := tradeEngine(t)
	p, err := te.eng.ProposeTrade(context.Background(), swapRequest(0))
	require.NoError(t, err)
	require.NoError(t, te.eng.RejectTrade(context.Background(), p.ID, "team-b"))

	err = te.eng.AcceptTrade(context.Background(), p.ID, "team-b")

	assert.Equal(t, domain.RejectInvalidTrade, rejectReason(t, err))
}

func TestRejectTrade_EitherPartyMayReject(t *testing.T) {
	te := tradeEngine(t)
	p, err := te.eng.ProposeTrade(context.Background(), swapRequest(0))
	require.NoError(t, err)

	require.NoError(t, te.eng.RejectTrade(context.Background(), p.ID, "team-a"))

	te.store.mu.Lock()
	status := te.store.proposals[p.ID].Status
	te.store.mu.Unlock()
	assert.Equal(t, domain.TradeRejected, status)

	// Ownership and purses untouched.
	require.NotNil(t, te.lot(t, "lot-a1").SoldToTeamID)
	assert.Equal(t, "team-a", *te.lot(t, "lot-a1").SoldToTeamID)
	assert.Equal(t, int64(600), te.team(t, "team-a").PurseRemaining)
}

func TestRejectTrade_ThirdPartyUnauthorized(t *testing.T) {
	te := tradeEngine(t)
	p, err := te.eng.ProposeTrade(context.Background(), swapRequest(0))
	require.NoError(t, err)

	err = te.eng.RejectTrade(context.Background(), p.ID, "team-c")

	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAcceptTrade_UnknownProposalNotFound(t *testing.T) {
	te := tradeEngine(t)

	err := te.eng.AcceptTrade(context.Background(), "no-such-proposal", "team-b")

	assert.ErrorIs(t, err, domain.ErrNotFound)
}
