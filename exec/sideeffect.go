package exec

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/xexd/xexd/bidding"
	"github.com/xexd/xexd/pkg/log"
	"github.com/xexd/xexd/pkg/observable"
	"github.com/xexd/xexd/relayer"
	"github.com/xexd/xexd/strategy"
	"github.com/xexd/xexd/types"
)

// SfxStatus is the lifecycle state of one side effect.
type SfxStatus int

const (
	SfxInBidding SfxStatus = iota
	SfxReadyToExecute
	SfxExecutedOnTarget
	SfxConfirmed
	SfxDropped
	SfxReverted
)

func (s SfxStatus) String() string {
	switch s {
	case SfxInBidding:
		return "InBidding"
	case SfxReadyToExecute:
		return "ReadyToExecute"
	case SfxExecutedOnTarget:
		return "ExecutedOnTarget"
	case SfxConfirmed:
		return "Confirmed"
	case SfxDropped:
		return "Dropped"
	case SfxReverted:
		return "Reverted"
	default:
		return "Unknown"
	}
}

// TxStatus guards bid submission: a side effect with a bid in flight is
// Pending and must not generate another bid until the outcome arrives.
type TxStatus int

const (
	TxReady TxStatus = iota
	TxPending
)

// Gateway describes one configured target chain: its identity, the vendor
// whose light client tracks it, and its native asset's scaling.
type Gateway struct {
	ID             string
	Vendor         string
	NativeAsset    string
	NativeDecimals uint8
}

// BidRequest asks the manager to submit a bid, in the reward asset's scaled
// integer representation.
type BidRequest struct {
	SfxID  types.Hash
	Amount *big.Int
}

// sfxEnv bundles the collaborators every side effect of this executor shares.
type sfxEnv struct {
	strategy       *strategy.Engine
	bidding        *bidding.Engine
	signer         string
	rewardDecimals uint8
	notifyBid      func(BidRequest)
	logger         log.Logger
}

// SideEffect tracks one atomic action through bidding, execution on its
// target chain, and confirmation back on the coordinator. All mutation
// happens on the manager's event loop; the struct itself is not
// synchronized.
type SideEffect struct {
	ID            types.Hash
	HumanID       string
	XtxID         types.Hash
	Target        string
	Vendor        string
	SecurityLevel types.SecurityLevel
	Action        types.Action
	Arguments     []types.HexBytes
	Insurance     *big.Int

	Phase    int
	Status   SfxStatus
	TxStatus TxStatus

	// IsBidder is true while this executor's bid leads.
	IsBidder bool
	// LastBids records every observed bid in human reward units, own and
	// competing alike.
	LastBids         []float64
	changedBidLeader bool

	// Reward is the amount this executor stands to earn, in human reward
	// units. It starts at the requester's max reward and follows the
	// current winning bid down.
	Reward *observable.Value[float64]

	txCostNative       *observable.Value[*big.Int]
	nativeAssetPrice   *observable.Value[float64]
	txOutputAssetPrice *observable.Value[float64]
	rewardAssetPrice   *observable.Value[float64]

	TxCostUsd       float64
	TxOutputCostUsd float64
	RewardUsd       float64
	MaxProfitUsd    float64
	MinProfitUsd    float64

	// populated once executed on target
	TargetInclusionHeight uint64
	TargetBlockHash       types.Hash
	EncodedPayload        types.HexBytes
	InclusionProof        types.HexBytes
	Executor              string

	// populated for parachain-style confirmations
	HeaderProof    types.HexBytes
	RelayBlockHash types.Hash

	txOutput types.TxOutput
	gateway  Gateway

	env       *sfxEnv
	subs      []*observable.Subscription
	unsubOnce sync.Once
	logger    log.Logger
}

// NewSideEffect decodes a coordinator-encoded side effect. Decode failures
// reject the whole payload so no partially constructed state is ever
// registered.
func NewSideEffect(id, xtxID types.Hash, raw types.RawSideEffect, gw Gateway, env *sfxEnv) (*SideEffect, error) {
	action, err := types.ParseAction(raw.Action)
	if err != nil {
		return nil, fmt.Errorf("side effect %s: %w", id.Human(), err)
	}
	txOutput, err := types.DecodeTxOutput(action, raw.EncodedArgs, gw.NativeAsset, gw.NativeDecimals)
	if err != nil {
		return nil, fmt.Errorf("side effect %s: %w", id.Human(), err)
	}

	s := &SideEffect{
		ID:            id,
		HumanID:       id.Human(),
		XtxID:         xtxID,
		Target:        raw.Target,
		Vendor:        gw.Vendor,
		SecurityLevel: raw.SecurityLevel,
		Action:        action,
		Arguments:     raw.EncodedArgs,
		Insurance:     raw.Insurance,
		Status:        SfxInBidding,
		TxStatus:      TxReady,
		Reward:        observable.New(types.ToHuman(raw.MaxReward, env.rewardDecimals)),
		txOutput:      txOutput,
		gateway:       gw,
		env:           env,
		logger:        env.logger.With("sfx", id.Human(), "target", raw.Target),
	}
	return s, nil
}

func (s *SideEffect) setPhase(i int) {
	s.Phase = i
}

// setRiskRewardParameters wires the four push-updated quantities the
// profitability math depends on. Any change to any of them, or to the
// reward itself, recomputes the maximum profit and may trigger a bid.
// Called exactly once per side effect.
func (s *SideEffect) setRiskRewardParameters(
	txCostNative *observable.Value[*big.Int],
	nativeAssetPrice, txOutputAssetPrice, rewardAssetPrice *observable.Value[float64],
) {
	s.txCostNative = txCostNative
	s.nativeAssetPrice = nativeAssetPrice
	s.txOutputAssetPrice = txOutputAssetPrice
	s.rewardAssetPrice = rewardAssetPrice

	s.subs = append(s.subs,
		txCostNative.Subscribe(func(*big.Int) { s.recomputeMaxProfit() }),
		nativeAssetPrice.Subscribe(func(float64) { s.recomputeMaxProfit() }),
		txOutputAssetPrice.Subscribe(func(float64) { s.recomputeMaxProfit() }),
		rewardAssetPrice.Subscribe(func(float64) { s.recomputeMaxProfit() }),
		s.Reward.Subscribe(func(float64) { s.recomputeMaxProfit() }),
	)
	s.recomputeMaxProfit()
}

// recomputeMaxProfit re-derives the USD economics. A bid is only triggered
// when the maximum profit actually changed, so repeated identical updates
// stay quiet.
func (s *SideEffect) recomputeMaxProfit() {
	if s.txCostNative == nil {
		return
	}
	s.TxCostUsd = types.ToHuman(s.txCostNative.Get(), s.gateway.NativeDecimals) * s.nativeAssetPrice.Get()
	s.TxOutputCostUsd = s.txOutputAssetPrice.Get() * s.txOutput.AmountHuman
	s.RewardUsd = s.rewardAssetPrice.Get() * s.Reward.Get()

	maxProfit := s.RewardUsd - s.TxCostUsd - s.TxOutputCostUsd
	if maxProfit == s.MaxProfitUsd {
		return
	}
	s.MaxProfitUsd = maxProfit
	s.triggerBid()
}

// triggerBid runs the bid gate and notifies the manager on success. A
// declined bid is steady-state behavior, not an error.
func (s *SideEffect) triggerBid() {
	amount, err := s.generateBid()
	if err != nil {
		s.logger.Debug("not bidding", "reason", err)
		return
	}
	s.env.notifyBid(BidRequest{SfxID: s.ID, Amount: amount})
}

// generateBid decides whether to bid and for how much. Conditions are
// checked in order and the first failure stops the evaluation. On success
// the submission mutex is held (TxStatus Pending) until bidAccepted or
// bidRejected releases it.
func (s *SideEffect) generateBid() (*big.Int, error) {
	if s.IsBidder {
		return nil, ErrAlreadyLeading
	}
	if s.TxStatus != TxReady {
		return nil, ErrBidInFlight
	}
	if s.Status != SfxInBidding {
		return nil, ErrNotInBidding
	}
	if err := s.env.strategy.EvaluateSfx(s.economics()); err != nil {
		return nil, err
	}

	s.TxStatus = TxPending
	s.MinProfitUsd = s.env.strategy.MinProfitUsd(s.Target)

	bidUsd := s.env.bidding.ComputeBid(s.subject())
	price := s.rewardAssetPrice.Get()
	if price <= 0 {
		s.TxStatus = TxReady
		return nil, fmt.Errorf("no reward asset price available")
	}
	return types.FromHuman(bidUsd/price, s.env.rewardDecimals), nil
}

// bidAccepted releases the submission mutex. An accepted amount above the
// current reward means a lower competing bid landed in the same block; the
// win is stale and the side effect re-evaluates instead of claiming it.
func (s *SideEffect) bidAccepted(amount *big.Int) {
	s.TxStatus = TxReady

	human := types.ToHuman(amount, s.env.rewardDecimals)
	if human <= s.Reward.Get() {
		s.IsBidder = true
		s.Reward.Set(human)
		s.logger.Info("bid accepted, leading", "reward", human)
		return
	}
	s.logger.Debug("accepted bid already superseded", "bid", human, "currentReward", s.Reward.Get())
	s.triggerBid()
}

// bidRejected releases the submission mutex and re-evaluates.
func (s *SideEffect) bidRejected(err error) {
	s.TxStatus = TxReady
	s.IsBidder = false
	s.logger.Warn("bid rejected", "error", err)
	s.triggerBid()
}

// processBid records an observed bid. A competing bid demotes this executor
// and lowers the reward, which re-derives profitability and may re-bid.
func (s *SideEffect) processBid(bidder string, amount *big.Int) {
	s.env.bidding.RegisterBid(s.ID, bidder)

	human := types.ToHuman(amount, s.env.rewardDecimals)
	s.LastBids = append(s.LastBids, human)

	if bidder == s.env.signer {
		return
	}

	s.changedBidLeader = s.IsBidder
	if s.IsBidder {
		s.env.bidding.RegisterOutbid(s.ID)
		s.logger.Info("outbid by competitor", "bidder", bidder, "amount", human)
	}
	s.IsBidder = false
	s.Reward.Set(human)
}

// ChangedBidLeader reports whether the last observed competing bid took the
// lead from this executor.
func (s *SideEffect) ChangedBidLeader() bool {
	return s.changedBidLeader
}

func (s *SideEffect) readyToExecute() {
	if s.isTerminal() {
		return
	}
	s.Status = SfxReadyToExecute
}

func (s *SideEffect) executedOnTarget(ev types.SfxExecutedOnTarget) {
	if s.isTerminal() {
		return
	}
	s.Status = SfxExecutedOnTarget
	s.TargetInclusionHeight = ev.BlockNumber
	s.TargetBlockHash = ev.BlockHash
	s.EncodedPayload = ev.EncodedPayload
	s.InclusionProof = ev.InclusionProof
	s.Executor = ev.Executor
}

// addHeaderProof attaches the relay-chain anchoring of a parachain-style
// confirmation.
func (s *SideEffect) addHeaderProof(proof types.HexBytes, relayBlockHash types.Hash) {
	s.HeaderProof = proof
	s.RelayBlockHash = relayBlockHash
}

func (s *SideEffect) confirmedOnCircuit() { s.terminal(SfxConfirmed) }
func (s *SideEffect) droppedAtBidding()   { s.terminal(SfxDropped) }
func (s *SideEffect) reverted()           { s.terminal(SfxReverted) }

// terminal sets a final status and tears down the risk-parameter
// subscriptions. Safe to call more than once; the first terminal status
// sticks and subscriptions are released exactly once.
func (s *SideEffect) terminal(status SfxStatus) {
	if !s.isTerminal() {
		s.Status = status
	}
	s.unsubOnce.Do(func() {
		for _, sub := range s.subs {
			sub.Unsubscribe()
		}
		s.subs = nil
	})
}

func (s *SideEffect) isTerminal() bool {
	switch s.Status {
	case SfxConfirmed, SfxDropped, SfxReverted:
		return true
	default:
		return false
	}
}

// TxOutputs returns the decoded asset movement of this side effect on its
// target chain.
func (s *SideEffect) TxOutputs() types.TxOutput {
	return s.txOutput
}

func (s *SideEffect) economics() strategy.SfxEconomics {
	return strategy.SfxEconomics{
		Target:          s.Target,
		MaxProfitUsd:    s.MaxProfitUsd,
		TxCostUsd:       s.TxCostUsd,
		TxOutputCostUsd: s.TxOutputCostUsd,
	}
}

func (s *SideEffect) insurance() strategy.SfxInsurance {
	var human float64
	if s.Insurance != nil {
		human = types.ToHuman(s.Insurance, s.env.rewardDecimals)
	}
	return strategy.SfxInsurance{
		Target:         s.Target,
		InsuranceHuman: human,
		RewardHuman:    s.Reward.Get(),
	}
}

func (s *SideEffect) subject() bidding.Subject {
	return bidding.Subject{
		SfxID:           s.ID,
		IsBidder:        s.IsBidder,
		LastBids:        len(s.LastBids),
		TxOutputCostUsd: s.TxOutputCostUsd,
		MinProfitUsd:    s.MinProfitUsd,
		MaxProfitUsd:    s.MaxProfitUsd,
	}
}

func (s *SideEffect) targetTx() relayer.TargetTx {
	return relayer.TargetTx{
		SfxID:       s.ID,
		Target:      s.Target,
		Action:      s.Action,
		EncodedArgs: s.Arguments,
	}
}

func (s *SideEffect) confirmationPayload() types.ConfirmationPayload {
	return types.ConfirmationPayload{
		SfxID:          s.ID,
		EncodedPayload: s.EncodedPayload,
		PayloadProof:   s.InclusionProof,
		BlockHash:      types.HexBytes(s.TargetBlockHash.Bytes()),
		HeaderProof:    s.HeaderProof,
		RelayBlockHash: types.HexBytes(s.RelayBlockHash.Bytes()),
	}
}
