package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReserve_WithholdsBasePriceForMandatorySlots(t *testing.T) {
	cfg := AuctionConfig{BasePrice: 100, MinSquadSize: 5}

	// Empty squad: four slots beyond the one being bid on.
	tm := Team{PurseRemaining: 1000}
	assert.Equal(t, int64(400), tm.Reserve(cfg))

	tm.SquadSize = 4
	assert.Equal(t, int64(0), tm.Reserve(cfg))

	// Past the minimum there is nothing left to reserve.
	tm.SquadSize = 7
	assert.Equal(t, int64(0), tm.Reserve(cfg))
}

func TestMaxBid_PurseMinusReserve(t *testing.T) {
	cfg := AuctionConfig{BasePrice: 100, MinSquadSize: 5}
	tm := Team{PurseRemaining: 1000}

	assert.Equal(t, int64(600), tm.MaxBid(cfg))
}

func TestMaxBid_NeverNegative(t *testing.T) {
	cfg := AuctionConfig{BasePrice: 100, MinSquadSize: 5}
	tm := Team{PurseRemaining: 150}

	assert.Equal(t, int64(0), tm.MaxBid(cfg))
}
