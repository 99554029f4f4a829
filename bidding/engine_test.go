package bidding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xexd/xexd/types"
)

const sfxA = types.Hash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

// economics used across the scenario value tests:
// maxProfitUsd=100, minProfitUsd=10, txOutputCostUsd=5
func subject(isBidder bool, lastBids int) Subject {
	return Subject{
		SfxID:           sfxA,
		IsBidder:        isBidder,
		LastBids:        lastBids,
		TxOutputCostUsd: 5,
		MinProfitUsd:    10,
		MaxProfitUsd:    100,
	}
}

func TestCheckScenario(t *testing.T) {
	e := NewEngine(Config{})

	// not leading: beenOutbid regardless of bid history
	assert.Equal(t, ScenarioBeenOutbid, e.CheckScenario(subject(false, 0)))
	assert.Equal(t, ScenarioBeenOutbid, e.CheckScenario(subject(false, 3)))

	// leading without observed bids
	assert.Equal(t, ScenarioNoBidAndNoCompetition, e.CheckScenario(subject(true, 0)))

	// leading with observed bids
	assert.Equal(t, ScenarioNoBidButCompetition, e.CheckScenario(subject(true, 1)))
	assert.Equal(t, ScenarioNoBidButCompetition, e.CheckScenario(subject(true, 7)))
}

func TestComputeBid_NoCompetition(t *testing.T) {
	// override: bid the floor
	e := NewEngine(Config{OverrideNoCompetition: true})
	assert.InDelta(t, 15.0, e.ComputeBid(subject(true, 0)), 1e-9)

	// default: bid the ceiling, claiming the full surplus
	e = NewEngine(Config{})
	assert.InDelta(t, 115.0, e.ComputeBid(subject(true, 0)), 1e-9)
}

func TestComputeBid_Competition(t *testing.T) {
	// aggressive undercuts to the floor
	e := NewEngine(Config{BidAggressive: true})
	assert.InDelta(t, 15.0, e.ComputeBid(subject(true, 2)), 1e-9)

	// meek bids the ceiling despite competition
	e = NewEngine(Config{BidMeek: true})
	assert.InDelta(t, 115.0, e.ComputeBid(subject(true, 2)), 1e-9)

	// default percentile mode: 5 + 10 + (100-10)*0.75 = 82.5
	e = NewEngine(Config{BidPercentile: 0.75})
	assert.InDelta(t, 82.5, e.ComputeBid(subject(true, 2)), 1e-9)
}

func TestComputeBid_BeenOutbid(t *testing.T) {
	e := NewEngine(Config{BidPercentile: 0.75})
	assert.InDelta(t, 15.0, e.ComputeBid(subject(false, 4)), 1e-9)

	// equal_min_profit_bid forces the floor even with a closer step set
	e = NewEngine(Config{BidPercentile: 0.75, EqualMinProfitBid: true, CloserPercentageBid: 0.25})
	assert.InDelta(t, 15.0, e.ComputeBid(subject(false, 4)), 1e-9)
}

func TestComputeBid_CloserPercentageSteps(t *testing.T) {
	e := NewEngine(Config{BidPercentile: 0.75, CloserPercentageBid: 0.25})

	// never outbid yet: the full percentile applies, 5 + 10 + 90*0.75
	assert.InDelta(t, 82.5, e.ComputeBid(subject(false, 1)), 1e-9)

	// each lost lead steps the percentile down by 0.25
	e.RegisterOutbid(sfxA)
	assert.InDelta(t, 60.0, e.ComputeBid(subject(false, 2)), 1e-9)
	e.RegisterOutbid(sfxA)
	assert.InDelta(t, 37.5, e.ComputeBid(subject(false, 3)), 1e-9)

	// once the percentile is exhausted the re-bid lands on the floor
	e.RegisterOutbid(sfxA)
	assert.InDelta(t, 15.0, e.ComputeBid(subject(false, 4)), 1e-9)
	e.RegisterOutbid(sfxA)
	assert.InDelta(t, 15.0, e.ComputeBid(subject(false, 5)), 1e-9)
}

func TestComputeBid_FloorInvariant(t *testing.T) {
	configs := []Config{
		{},
		{OverrideNoCompetition: true},
		{BidAggressive: true},
		{BidMeek: true},
		{BidPercentile: 0},
		{BidPercentile: 0.5},
		{BidPercentile: 1},
	}
	subjects := []Subject{
		subject(true, 0),
		subject(true, 5),
		subject(false, 0),
		{SfxID: sfxA, IsBidder: true, LastBids: 1, TxOutputCostUsd: 50, MinProfitUsd: 40, MaxProfitUsd: 1},
		{SfxID: sfxA, IsBidder: true, LastBids: 1, TxOutputCostUsd: 0.5, MinProfitUsd: 0, MaxProfitUsd: 0},
	}

	for _, cfg := range configs {
		e := NewEngine(cfg)
		for _, s := range subjects {
			floor := s.TxOutputCostUsd + s.MinProfitUsd
			assert.GreaterOrEqual(t, e.ComputeBid(s), floor,
				"bid below floor for config %+v subject %+v", cfg, s)
		}
	}
}

func TestBookkeeping(t *testing.T) {
	e := NewEngine(Config{})

	e.RegisterBid(sfxA, "alice")
	e.RegisterBid(sfxA, "bob")
	e.RegisterOutbid(sfxA)

	assert.Equal(t, []string{"alice", "bob"}, e.Bidders(sfxA))
	assert.Equal(t, 2, e.BidCount(sfxA))
	assert.Equal(t, 1, e.OutbidCount(sfxA))
}

func TestCleanUp(t *testing.T) {
	e := NewEngine(Config{})
	e.RegisterBid(sfxA, "alice")
	e.RegisterOutbid(sfxA)
	require.Equal(t, 1, e.BidCount(sfxA))

	e.CleanUp(sfxA)

	assert.Empty(t, e.Bidders(sfxA))
	assert.Zero(t, e.BidCount(sfxA))
	assert.Zero(t, e.OutbidCount(sfxA))

	// cleanup of an unknown id is a no-op
	require.NotPanics(t, func() { e.CleanUp(types.Hash("ffff")) })
}
