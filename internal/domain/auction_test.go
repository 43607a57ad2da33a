package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() AuctionConfig {
	return AuctionConfig{
		BasePrice:    2000000,
		PurseValue:   900000000,
		MinSquadSize: 18,
		MaxSquadSize: 25,
		IncrementTiers: []IncrementTier{
			{UpTo: 10000000, Increment: 500000},
			{UpTo: 50000000, Increment: 2000000},
			{UpTo: 0, Increment: 5000000},
		},
		OpenWindow:  30 * time.Second,
		GoingWindow: 10 * time.Second,
		TradeWindow: 48 * time.Hour,
	}
}

func TestConfigValidate_AcceptsSaneConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfigValidate_RejectsBadValues(t *testing.T) {
	c := validConfig()
	c.BasePrice = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.PurseValue = c.BasePrice - 1
	assert.Error(t, c.Validate())

	c = validConfig()
	c.MaxSquadSize = c.MinSquadSize - 1
	assert.Error(t, c.Validate())

	c = validConfig()
	c.IncrementTiers = nil
	assert.Error(t, c.Validate())

	c = validConfig()
	c.OpenWindow = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.TradeWindow = -time.Second
	assert.Error(t, c.Validate())
}

func TestIncrementFor_PicksTierByPrice(t *testing.T) {
	c := validConfig()

	assert.Equal(t, int64(500000), c.IncrementFor(2000000))
	assert.Equal(t, int64(500000), c.IncrementFor(9999999))
	// Tier boundaries are exclusive: at exactly up_to the next tier applies.
	assert.Equal(t, int64(2000000), c.IncrementFor(10000000))
	assert.Equal(t, int64(5000000), c.IncrementFor(50000000))
	assert.Equal(t, int64(5000000), c.IncrementFor(500000000))
}

func TestIncrementFor_UnsortedTiers(t *testing.T) {
	c := AuctionConfig{IncrementTiers: []IncrementTier{
		{UpTo: 0, Increment: 100},
		{UpTo: 500, Increment: 10},
		{UpTo: 1000, Increment: 50},
	}}

	assert.Equal(t, int64(10), c.IncrementFor(100))
	assert.Equal(t, int64(50), c.IncrementFor(600))
	assert.Equal(t, int64(100), c.IncrementFor(5000))
}

func TestMinBid_FirstBidMeetsBasePrice(t *testing.T) {
	c := validConfig()

	assert.Equal(t, c.BasePrice, c.MinBid(0, false))
	assert.Equal(t, int64(2500000), c.MinBid(2000000, true))
}

func TestCanTransition_FollowsLifecycle(t *testing.T) {
	cases := []struct {
		from, to AuctionStatus
		want     bool
	}{
		{AuctionDraft, AuctionConfigured, true},
		{AuctionDraft, AuctionLive, false},
		{AuctionConfigured, AuctionLive, true},
		{AuctionLive, AuctionPaused, true},
		{AuctionLive, AuctionCompleted, true},
		{AuctionPaused, AuctionLive, true},
		{AuctionPaused, AuctionCompleted, true},
		{AuctionCompleted, AuctionTradeWindow, true},
		{AuctionCompleted, AuctionLive, false},
		{AuctionTradeWindow, AuctionFinalized, true},
		{AuctionFinalized, AuctionLive, false},
		{AuctionFinalized, AuctionTradeWindow, false},
	}
	for _, tc := range cases {
		a := Auction{Status: tc.from}
		assert.Equal(t, tc.want, a.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}
