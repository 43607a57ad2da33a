package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchside/auctiond/internal/domain"
)

func TestEscrowBid_DebitsPurse(t *testing.T) {
	tm := testTeam("team-a", 1000, 0)

	require.NoError(t, escrowBid(&tm, 300))

	assert.Equal(t, int64(700), tm.PurseRemaining)
}

func TestEscrowBid_RefusesNegativePurse(t *testing.T) {
	tm := testTeam("team-a", 200, 0)

	err := escrowBid(&tm, 300)

	assert.True(t, domain.IsInvariant(err))
	assert.Equal(t, int64(200), tm.PurseRemaining)
}

func TestEscrowBid_RefusesNonPositiveAmount(t *testing.T) {
	tm := testTeam("team-a", 1000, 0)

	assert.True(t, domain.IsInvariant(escrowBid(&tm, 0)))
	assert.True(t, domain.IsInvariant(escrowBid(&tm, -50)))
}

func TestRefundBid_RestoresPurse(t *testing.T) {
	tm := testTeam("team-a", 700, 0)

	require.NoError(t, refundBid(&tm, 300))

	assert.Equal(t, int64(1000), tm.PurseRemaining)
}

func TestRefundBid_RefusesExceedingPurseValue(t *testing.T) {
	tm := testTeam("team-a", 900, 0)

	err := refundBid(&tm, 200)

	assert.True(t, domain.IsInvariant(err))
	assert.Equal(t, int64(900), tm.PurseRemaining)
}

func TestSettleSale_ConsumesSquadSlot(t *testing.T) {
	tm := testTeam("team-a", 700, 1)

	require.NoError(t, settleSale(&tm, testConfig()))

	assert.Equal(t, 2, tm.SquadSize)
	// The purse was debited at bid time; settling must not touch it.
	assert.Equal(t, int64(700), tm.PurseRemaining)
}

func TestSettleSale_RefusesSquadOverflow(t *testing.T) {
	tm := testTeam("team-a", 700, 4)

	err := settleSale(&tm, testConfig())

	assert.True(t, domain.IsInvariant(err))
	assert.Equal(t, 4, tm.SquadSize)
}

func TestApplyTradeDelta_AdjustsBothDimensions(t *testing.T) {
	tm := testTeam("team-a", 500, 2)

	require.NoError(t, applyTradeDelta(&tm, -100, 1, testConfig()))

	assert.Equal(t, int64(400), tm.PurseRemaining)
	assert.Equal(t, 3, tm.SquadSize)
}

func TestApplyTradeDelta_RefusesPurseBelowZero(t *testing.T) {
	tm := testTeam("team-a", 50, 2)

	assert.True(t, domain.IsInvariant(applyTradeDelta(&tm, -100, 0, testConfig())))
}

func TestApplyTradeDelta_RefusesSquadOutOfBounds(t *testing.T) {
	tm := testTeam("team-a", 500, 4)
	assert.True(t, domain.IsInvariant(applyTradeDelta(&tm, 0, 1, testConfig())))

	tm = testTeam("team-a", 500, 0)
	assert.True(t, domain.IsInvariant(applyTradeDelta(&tm, 0, -1, testConfig())))
}
