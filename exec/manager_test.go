package exec

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xexd/xexd/bidding"
	"github.com/xexd/xexd/pkg/log"
	"github.com/xexd/xexd/relayer"
	"github.com/xexd/xexd/strategy"
	"github.com/xexd/xexd/types"
)

const (
	testTarget  = "targ"
	testVendor  = "roco"
	testSigner  = "5SelfAccount"
	testDecimal = uint8(12)
)

func mkHash(b byte) types.Hash {
	return types.Hash(strings.Repeat(fmt.Sprintf("%02x", b), 32))
}

func rawTransfer(level types.SecurityLevel, rewardHuman, amountHuman float64) types.RawSideEffect {
	amountBytes, err := types.EncodeU128(types.FromHuman(amountHuman, testDecimal))
	if err != nil {
		panic(err)
	}
	return types.RawSideEffect{
		Target:        testTarget,
		Action:        "tran",
		MaxReward:     types.FromHuman(rewardHuman, testDecimal),
		Insurance:     types.FromHuman(1, testDecimal),
		EncodedArgs:   []types.HexBytes{types.HexBytes("5DestAccount"), types.HexBytes(amountBytes)},
		SecurityLevel: level,
		RewardAsset:   "TRN",
	}
}

type mockCircuit struct {
	mu         sync.Mutex
	bids       map[types.Hash]*big.Int
	bidErr     error
	confirmed  [][]types.ConfirmationPayload
	confirmErr error
}

func (c *mockCircuit) BidSfx(_ context.Context, sfxID types.Hash, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bids == nil {
		c.bids = make(map[types.Hash]*big.Int)
	}
	c.bids[sfxID] = amount
	return c.bidErr
}

func (c *mockCircuit) ConfirmSideEffects(_ context.Context, _ string, payloads []types.ConfirmationPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.confirmErr != nil {
		return c.confirmErr
	}
	c.confirmed = append(c.confirmed, payloads)
	return nil
}

func (c *mockCircuit) confirmedBatches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.confirmed)
}

type mockRelayer struct {
	events  chan types.TargetEvent
	execCh  chan relayer.TargetTx
	execErr error
}

func newMockRelayer() *mockRelayer {
	return &mockRelayer{
		events: make(chan types.TargetEvent, 16),
		execCh: make(chan relayer.TargetTx, 16),
	}
}

func (r *mockRelayer) ExecuteTx(_ context.Context, tx relayer.TargetTx) error {
	if r.execErr != nil {
		return r.execErr
	}
	r.execCh <- tx
	return nil
}

func (r *mockRelayer) GenerateHeaderInclusionProof(context.Context, uint64, uint32) (types.HexBytes, error) {
	return types.HexBytes("header-proof"), nil
}

func (r *mockRelayer) BlockHash(context.Context, uint64) (types.Hash, error) {
	return mkHash(0xee), nil
}

func (r *mockRelayer) Events() <-chan types.TargetEvent { return r.events }

type mockEstimator struct {
	cost *big.Int
	err  error
}

func (e *mockEstimator) EstimateTxCost(context.Context, relayer.TargetTx) (*big.Int, error) {
	return e.cost, e.err
}

type harness struct {
	m       *Manager
	circuit *mockCircuit
	relayer *mockRelayer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := log.NewTestLogger(t)
	circuit := &mockCircuit{}
	target := newMockRelayer()

	m := NewManager(ManagerConfig{
		Logger:   logger,
		Strategy: strategy.NewEngine(map[string]strategy.Strategy{testTarget: {}}, logger),
		Bidding:  bidding.NewEngine(bidding.Config{BidPercentile: 0.75}),
		Circuit:  circuit,
		Relayers: map[string]relayer.Relayer{testVendor: target},
		Estimator: &mockEstimator{
			cost: types.FromHuman(1, testDecimal),
		},
		Gateways: []Gateway{{
			ID:             testTarget,
			Vendor:         testVendor,
			NativeAsset:    "ROC",
			NativeDecimals: testDecimal,
		}},
		Signer:         testSigner,
		RewardAsset:    "TRN",
		RewardDecimals: testDecimal,
	})
	return &harness{m: m, circuit: circuit, relayer: target}
}

// pump handles one asynchronous completion on the test goroutine, standing
// in for the Run loop.
func (h *harness) pump(t *testing.T) {
	t.Helper()
	select {
	case msg := <-h.m.internal:
		h.m.handleInternal(context.Background(), msg)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for internal message")
	}
}

// winBids drains pending bid requests and accepts each, making this
// executor the leader.
func (h *harness) winBids(t *testing.T) {
	t.Helper()
	for {
		select {
		case req := <-h.m.bidRequests:
			h.m.handleInternal(context.Background(), bidResult{sfxID: req.SfxID, amount: req.Amount})
		default:
			return
		}
	}
}

// announce registers an escrow+optimistic transaction, resolves the cost
// estimates, and publishes prices so both side effects become profitable.
func (h *harness) announce(t *testing.T, xtxID, escrowID, optimisticID types.Hash) {
	t.Helper()
	ctx := context.Background()

	h.m.handleCircuitEvent(ctx, types.NewSideEffectsAvailable{
		Requester: "5Requester",
		XtxID:     xtxID,
		SideEffects: []types.RawSideEffect{
			rawTransfer(types.SecurityEscrow, 100, 10),
			rawTransfer(types.SecurityOptimistic, 100, 10),
		},
		SfxIDs: []types.Hash{escrowID, optimisticID},
	})
	require.Len(t, h.m.xtx, 1)

	// one cost estimate per side effect
	h.pump(t)
	h.pump(t)

	h.m.priceValue("ROC").Set(1.0)
	h.m.priceValue("TRN").Set(1.0)
}

func TestQueueExclusivityEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	xtxID, escrowID, optimisticID := mkHash(0x01), mkHash(0x0a), mkHash(0x0b)

	h.announce(t, xtxID, escrowID, optimisticID)
	assert.Equal(t, "isBidding", h.m.queue.Contains(testVendor, escrowID))
	assert.Equal(t, "isBidding", h.m.queue.Contains(testVendor, optimisticID))

	h.winBids(t)
	x := h.m.xtx[xtxID]
	require.True(t, x.SideEffects[escrowID].IsBidder)
	require.True(t, x.SideEffects[optimisticID].IsBidder)

	// bidding closes; the escrow phase executes first
	h.m.handleCircuitEvent(ctx, types.XTransactionReadyForExec{XtxID: xtxID})
	tx := <-h.relayer.execCh
	assert.Equal(t, escrowID, tx.SfxID)
	assert.Equal(t, "isExecuting", h.m.queue.Contains(testVendor, escrowID))
	assert.Equal(t, "isBidding", h.m.queue.Contains(testVendor, optimisticID))

	h.m.handleInternal(ctx, targetEventMsg{vendor: testVendor, event: types.SfxExecutedOnTarget{
		SfxID: escrowID, Target: testTarget, BlockNumber: 50, Executor: testSigner,
	}})
	assert.Equal(t, "isConfirming", h.m.queue.Contains(testVendor, escrowID))

	// the vendor light client reaches the inclusion height: the escrow
	// phase confirms, advancing to the optimistic phase
	h.m.handleCircuitEvent(ctx, types.HeaderSubmitted{Vendor: testVendor, Height: 50})
	h.pump(t)
	assert.Equal(t, "completed", h.m.queue.Contains(testVendor, escrowID))
	assert.Equal(t, 1, x.CurrentPhase)

	tx = <-h.relayer.execCh
	assert.Equal(t, optimisticID, tx.SfxID)
	assert.Equal(t, "isExecuting", h.m.queue.Contains(testVendor, optimisticID))

	h.m.handleInternal(ctx, targetEventMsg{vendor: testVendor, event: types.SfxExecutedOnTarget{
		SfxID: optimisticID, Target: testTarget, BlockNumber: 60, Executor: testSigner,
	}})
	assert.Equal(t, "isConfirming", h.m.queue.Contains(testVendor, optimisticID))

	h.m.handleCircuitEvent(ctx, types.HeaderSubmitted{Vendor: testVendor, Height: 60})
	h.pump(t)
	assert.Equal(t, "completed", h.m.queue.Contains(testVendor, optimisticID))
	assert.Equal(t, 2, h.circuit.confirmedBatches())

	// coordinator closes the transaction; every index entry goes away
	h.m.handleCircuitEvent(ctx, types.XtxCompleted{XtxID: xtxID})
	assert.Empty(t, h.m.xtx)
	assert.Empty(t, h.m.sfxToXtx)
	assert.Empty(t, h.m.txCosts)
}

func TestConfirmationPhaseGating(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	xtxID, escrowID, optimisticID := mkHash(0x02), mkHash(0x1a), mkHash(0x1b)

	h.announce(t, xtxID, escrowID, optimisticID)
	x := h.m.xtx[xtxID]

	// the optimistic side effect executed ahead of schedule while the
	// escrow phase is still current
	optimistic := x.SideEffects[optimisticID]
	optimistic.executedOnTarget(types.SfxExecutedOnTarget{
		SfxID: optimisticID, BlockNumber: 40,
	})
	h.m.queue.MoveToExecuting(testVendor, optimisticID)
	h.m.queue.MoveToConfirming(testVendor, optimisticID, 40)
	require.Equal(t, 0, x.CurrentPhase)
	require.Equal(t, 1, optimistic.Phase)

	h.m.handleCircuitEvent(ctx, types.HeaderSubmitted{Vendor: testVendor, Height: 100})

	assert.Equal(t, 0, h.circuit.confirmedBatches(), "out-of-phase side effect must not be confirmed")
	assert.False(t, h.m.confirmInFlight[testVendor])
	assert.Equal(t, "isConfirming", h.m.queue.Contains(testVendor, optimisticID))
}

func TestConfirmationFailureRetries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	xtxID, escrowID, optimisticID := mkHash(0x03), mkHash(0x2a), mkHash(0x2b)

	h.announce(t, xtxID, escrowID, optimisticID)
	h.winBids(t)
	h.m.handleCircuitEvent(ctx, types.XTransactionReadyForExec{XtxID: xtxID})
	<-h.relayer.execCh
	h.m.handleInternal(ctx, targetEventMsg{vendor: testVendor, event: types.SfxExecutedOnTarget{
		SfxID: escrowID, BlockNumber: 50,
	}})

	h.circuit.mu.Lock()
	h.circuit.confirmErr = fmt.Errorf("extrinsic failed")
	h.circuit.mu.Unlock()

	h.m.handleCircuitEvent(ctx, types.HeaderSubmitted{Vendor: testVendor, Height: 50})
	h.pump(t)
	assert.Equal(t, "isConfirming", h.m.queue.Contains(testVendor, escrowID),
		"failed batch must leave the queue untouched")

	h.circuit.mu.Lock()
	h.circuit.confirmErr = nil
	h.circuit.mu.Unlock()

	// the next height update re-derives the same batch
	h.m.handleCircuitEvent(ctx, types.HeaderSubmitted{Vendor: testVendor, Height: 51})
	h.pump(t)
	assert.Equal(t, "completed", h.m.queue.Contains(testVendor, escrowID))
}

func TestDroppedAtBidding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	xtxID, escrowID, optimisticID := mkHash(0x04), mkHash(0x3a), mkHash(0x3b)

	h.announce(t, xtxID, escrowID, optimisticID)
	h.m.handleCircuitEvent(ctx, types.DroppedAtBidding{XtxID: xtxID})

	assert.Equal(t, "dropped", h.m.queue.Contains(testVendor, escrowID))
	assert.Equal(t, "dropped", h.m.queue.Contains(testVendor, optimisticID))
	assert.Empty(t, h.m.xtx)
	assert.Empty(t, h.m.sfxToXtx)
}

func TestRevertTimedOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	xtxID, escrowID, optimisticID := mkHash(0x05), mkHash(0x4a), mkHash(0x4b)

	h.announce(t, xtxID, escrowID, optimisticID)
	h.winBids(t)
	h.m.handleCircuitEvent(ctx, types.XTransactionReadyForExec{XtxID: xtxID})
	<-h.relayer.execCh
	h.m.handleInternal(ctx, targetEventMsg{vendor: testVendor, event: types.SfxExecutedOnTarget{
		SfxID: escrowID, BlockNumber: 50,
	}})

	h.m.handleCircuitEvent(ctx, types.RevertTimedOut{XtxID: xtxID})
	assert.Equal(t, "reverted", h.m.queue.Contains(testVendor, escrowID))
	assert.Equal(t, "reverted", h.m.queue.Contains(testVendor, optimisticID))
	assert.Empty(t, h.m.xtx)
}

func TestStrategyRejectionDropsXtx(t *testing.T) {
	logger := log.NewTestLogger(t)
	circuit := &mockCircuit{}
	m := NewManager(ManagerConfig{
		Logger: logger,
		Strategy: strategy.NewEngine(map[string]strategy.Strategy{
			testTarget: {MinInsuranceAmountUsd: 1e9},
		}, logger),
		Bidding:  bidding.NewEngine(bidding.Config{BidPercentile: 0.75}),
		Circuit:  circuit,
		Relayers: map[string]relayer.Relayer{testVendor: newMockRelayer()},
		Gateways: []Gateway{{
			ID: testTarget, Vendor: testVendor, NativeAsset: "ROC", NativeDecimals: testDecimal,
		}},
		Signer:         testSigner,
		RewardAsset:    "TRN",
		RewardDecimals: testDecimal,
	})

	m.handleCircuitEvent(context.Background(), types.NewSideEffectsAvailable{
		Requester:   "5Requester",
		XtxID:       mkHash(0x06),
		SideEffects: []types.RawSideEffect{rawTransfer(types.SecurityOptimistic, 100, 10)},
		SfxIDs:      []types.Hash{mkHash(0x5a)},
	})

	assert.Empty(t, m.xtx, "rejected transaction must never be tracked")
	assert.Empty(t, m.sfxToXtx)
	assert.Equal(t, "", m.queue.Contains(testVendor, mkHash(0x5a)))
}

func TestBidRejectionReleasesAndRetriggers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	xtxID, escrowID, optimisticID := mkHash(0x07), mkHash(0x6a), mkHash(0x6b)

	h.announce(t, xtxID, escrowID, optimisticID)

	req := <-h.m.bidRequests
	sfx, ok := h.m.sfx(req.SfxID)
	require.True(t, ok)
	require.Equal(t, TxPending, sfx.TxStatus)

	h.m.handleInternal(ctx, bidResult{sfxID: req.SfxID, amount: req.Amount, err: fmt.Errorf("insufficient balance")})
	assert.False(t, sfx.IsBidder)
	// the rejection released the mutex and the re-evaluation immediately
	// re-acquired it; Pending here proves the release happened
	assert.Equal(t, TxPending, sfx.TxStatus)

	// the rejection re-triggered evaluation, so a fresh request is queued
	found := false
	for {
		select {
		case again := <-h.m.bidRequests:
			if again.SfxID == req.SfxID {
				found = true
			}
		default:
			assert.True(t, found, "rejected bid must be re-evaluated")
			return
		}
	}
}

func TestXtxCompletedDrainsLostBids(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	xtxID, escrowID, optimisticID := mkHash(0x09), mkHash(0x8a), mkHash(0x8b)

	// never win a bid: another executor carries the transaction to the end
	h.announce(t, xtxID, escrowID, optimisticID)
	require.Equal(t, "isBidding", h.m.queue.Contains(testVendor, escrowID))
	require.Equal(t, "isBidding", h.m.queue.Contains(testVendor, optimisticID))

	h.m.handleCircuitEvent(ctx, types.XtxCompleted{XtxID: xtxID})

	assert.Equal(t, "completed", h.m.queue.Contains(testVendor, escrowID))
	assert.Equal(t, "completed", h.m.queue.Contains(testVendor, optimisticID))
	depths := h.m.queue.Depths(testVendor)
	assert.Zero(t, depths["isBidding"], "lost auctions must not linger in the bidding bucket")
	assert.Zero(t, depths["isExecuting"])
	assert.Zero(t, depths["isConfirming"])
	assert.Empty(t, h.m.xtx)
}

func TestCompetingBidDemotesLeader(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	xtxID, escrowID, optimisticID := mkHash(0x08), mkHash(0x7a), mkHash(0x7b)

	h.announce(t, xtxID, escrowID, optimisticID)
	h.winBids(t)

	sfx := h.m.xtx[xtxID].SideEffects[escrowID]
	require.True(t, sfx.IsBidder)
	rewardBefore := sfx.Reward.Get()

	competing := types.FromHuman(rewardBefore/2, testDecimal)
	h.m.handleCircuitEvent(ctx, types.SFXNewBidReceived{
		SfxID: escrowID, Bidder: "5Competitor", Amount: competing,
	})

	assert.False(t, sfx.IsBidder)
	assert.True(t, sfx.ChangedBidLeader())
	assert.InDelta(t, rewardBefore/2, sfx.Reward.Get(), 1e-9)
	assert.Contains(t, h.m.bidding.Bidders(escrowID), "5Competitor")
}
