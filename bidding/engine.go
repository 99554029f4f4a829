// Package bidding implements the bid decision engine: scenario classification
// of the competitive state of a side effect and the USD bid amount for it.
package bidding

import (
	"sync"

	"github.com/xexd/xexd/types"
)

// Scenario classifies the competitive state of a side effect. Exactly one
// scenario applies at any time.
type Scenario int

const (
	// ScenarioNoBidAndNoCompetition: leading with no observed competing bids.
	ScenarioNoBidAndNoCompetition Scenario = iota
	// ScenarioNoBidButCompetition: leading by amount rules, but competing
	// bids have been observed on this side effect.
	ScenarioNoBidButCompetition
	// ScenarioBeenOutbid: not currently the leading bidder.
	ScenarioBeenOutbid
)

// String implements fmt.Stringer.
func (s Scenario) String() string {
	switch s {
	case ScenarioNoBidAndNoCompetition:
		return "noBidAndNoCompetition"
	case ScenarioNoBidButCompetition:
		return "noBidButCompetition"
	case ScenarioBeenOutbid:
		return "beenOutbid"
	default:
		return "unknown"
	}
}

// Config are the bid shaping knobs, global across targets.
type Config struct {
	// BidAggressive undercuts to the floor whenever competition exists.
	BidAggressive bool `mapstructure:"bid_aggressive" yaml:"bid_aggressive"`
	// BidMeek bids the ceiling even under competition.
	BidMeek bool `mapstructure:"bid_meek" yaml:"bid_meek"`
	// BidPercentile positions the default bid between floor and ceiling.
	BidPercentile float64 `mapstructure:"bid_percentile" yaml:"bid_percentile"`
	// OverrideNoCompetition bids the floor even without competition.
	OverrideNoCompetition bool `mapstructure:"override_no_competition" yaml:"override_no_competition"`
	// EqualMinProfitBid pins re-bids after being outbid to the floor.
	EqualMinProfitBid bool `mapstructure:"equal_min_profit_bid" yaml:"equal_min_profit_bid"`
	// CloserPercentageBid shifts the percentile bid on each re-bid.
	CloserPercentageBid float64 `mapstructure:"closer_percentage_bid" yaml:"closer_percentage_bid"`
}

// Subject is the view of a side effect the engine classifies and prices.
type Subject struct {
	SfxID           types.Hash
	IsBidder        bool
	LastBids        int
	TxOutputCostUsd float64
	MinProfitUsd    float64
	MaxProfitUsd    float64
}

// Engine decides bid amounts. Cross-call state is bookkeeping only, keyed by
// side effect id and bounded by CleanUp.
type Engine struct {
	config Config

	mu sync.Mutex
	// whoBidsOnWhat records bidder ids seen per side effect.
	whoBidsOnWhat map[types.Hash][]string
	// numberOfBidsOnSfx counts observed bids per side effect.
	numberOfBidsOnSfx map[types.Hash]int
	// timesBeenOutbid counts how often this executor lost the lead.
	timesBeenOutbid map[types.Hash]int
}

// NewEngine creates a bidding engine with the given shaping configuration.
func NewEngine(config Config) *Engine {
	return &Engine{
		config:            config,
		whoBidsOnWhat:     make(map[types.Hash][]string),
		numberOfBidsOnSfx: make(map[types.Hash]int),
		timesBeenOutbid:   make(map[types.Hash]int),
	}
}

// CheckScenario classifies a side effect into exactly one scenario.
// A non-leading executor is beenOutbid regardless of observed bid history.
func (e *Engine) CheckScenario(s Subject) Scenario {
	if !s.IsBidder {
		return ScenarioBeenOutbid
	}
	if s.LastBids > 0 {
		return ScenarioNoBidButCompetition
	}
	return ScenarioNoBidAndNoCompetition
}

// ComputeBid returns the USD amount to bid for a side effect. The result is
// never below the floor txOutputCostUsd + minProfitUsd.
func (e *Engine) ComputeBid(s Subject) float64 {
	floor := s.TxOutputCostUsd + s.MinProfitUsd
	ceiling := s.TxOutputCostUsd + s.MinProfitUsd + s.MaxProfitUsd

	var bid float64
	switch e.CheckScenario(s) {
	case ScenarioNoBidAndNoCompetition:
		if e.config.OverrideNoCompetition {
			bid = floor
		} else {
			// no one competes: claim the full economic surplus
			bid = ceiling
		}
	case ScenarioNoBidButCompetition:
		bid = e.computeCompetitiveBid(s, floor, ceiling)
	case ScenarioBeenOutbid:
		bid = e.computeOutbidBid(s, floor, ceiling)
	}

	if bid < floor {
		bid = floor
	}
	return bid
}

// computeOutbidBid prices a re-bid after losing the lead. The default, and
// EqualMinProfitBid explicitly, is the floor. A positive CloserPercentageBid
// instead walks the percentile bid toward the floor by that fraction per
// lost lead, so early re-bids keep some surplus.
func (e *Engine) computeOutbidBid(s Subject, floor, ceiling float64) float64 {
	if e.config.EqualMinProfitBid || e.config.CloserPercentageBid <= 0 {
		return floor
	}
	percentile := e.config.BidPercentile - e.config.CloserPercentageBid*float64(e.OutbidCount(s.SfxID))
	if percentile <= 0 {
		return floor
	}
	return s.TxOutputCostUsd + s.MinProfitUsd + (s.MaxProfitUsd-s.MinProfitUsd)*percentile
}

func (e *Engine) computeCompetitiveBid(s Subject, floor, ceiling float64) float64 {
	switch {
	case e.config.BidAggressive:
		return floor
	case e.config.BidMeek:
		return ceiling
	default:
		return s.TxOutputCostUsd + s.MinProfitUsd + (s.MaxProfitUsd-s.MinProfitUsd)*e.config.BidPercentile
	}
}

// RegisterBid records an observed bid (own or competing) on a side effect.
func (e *Engine) RegisterBid(sfxID types.Hash, bidder string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.whoBidsOnWhat[sfxID] = append(e.whoBidsOnWhat[sfxID], bidder)
	e.numberOfBidsOnSfx[sfxID]++
}

// RegisterOutbid records that this executor lost the lead on a side effect.
func (e *Engine) RegisterOutbid(sfxID types.Hash) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timesBeenOutbid[sfxID]++
}

// Bidders returns the bidder ids observed on a side effect.
func (e *Engine) Bidders(sfxID types.Hash) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.whoBidsOnWhat[sfxID]...)
}

// BidCount returns how many bids were observed on a side effect.
func (e *Engine) BidCount(sfxID types.Hash) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.numberOfBidsOnSfx[sfxID]
}

// OutbidCount returns how often this executor lost the lead on a side effect.
func (e *Engine) OutbidCount(sfxID types.Hash) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timesBeenOutbid[sfxID]
}

// CleanUp drops all bookkeeping for a side effect. Called whenever the side
// effect leaves the bidding/executing queues so memory stays bounded.
func (e *Engine) CleanUp(sfxID types.Hash) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.whoBidsOnWhat, sfxID)
	delete(e.numberOfBidsOnSfx, sfxID)
	delete(e.timesBeenOutbid, sfxID)
}
