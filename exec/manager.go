package exec

import (
	"context"
	"math/big"
	"sort"
	"sync/atomic"

	"github.com/xexd/xexd/bidding"
	"github.com/xexd/xexd/pkg/log"
	"github.com/xexd/xexd/pkg/observable"
	"github.com/xexd/xexd/pkg/store"
	"github.com/xexd/xexd/pricing"
	"github.com/xexd/xexd/relayer"
	"github.com/xexd/xexd/strategy"
	"github.com/xexd/xexd/types"
)

// internal loop messages; every async completion re-enters the event loop
// as one of these.
type (
	bidResult struct {
		sfxID  types.Hash
		amount *big.Int
		err    error
	}
	costEstimate struct {
		sfxID types.Hash
		cost  *big.Int
	}
	headerProofResult struct {
		sfxID     types.Hash
		proof     types.HexBytes
		relayHash types.Hash
		err       error
	}
	confirmResult struct {
		vendor string
		ids    []types.Hash
		err    error
	}
	targetEventMsg struct {
		vendor string
		event  types.TargetEvent
	}
)

// Manager orchestrates every tracked cross-chain transaction. All state
// behind it (executions, side effects, the queue) is mutated exclusively by
// the event loop in Run; network I/O runs concurrently and feeds results
// back through the internal channel.
type Manager struct {
	logger  log.Logger
	metrics *Metrics
	store   store.Store

	queue *Queue
	xtx   map[types.Hash]*Execution
	// sfxToXtx is a non-owning lookup index; entries are removed whenever
	// the owning execution reaches a terminal state.
	sfxToXtx map[types.Hash]types.Hash

	strategy  *strategy.Engine
	bidding   *bidding.Engine
	pricing   *pricing.Engine
	circuit   relayer.CircuitRelayer
	relayers  map[string]relayer.Relayer
	estimator relayer.TargetEstimator

	// gateways by target id
	gateways    map[string]Gateway
	rewardAsset string

	env *sfxEnv

	circuitEvents <-chan types.CircuitEvent
	bidRequests   chan BidRequest
	internal      chan any

	prices  map[string]*observable.Value[float64]
	txCosts map[types.Hash]*observable.Value[*big.Int]
	// confirmInFlight prevents overlapping confirmation batches per vendor.
	confirmInFlight map[string]bool

	// status is the only manager state readable off the event loop.
	status atomic.Pointer[Status]
}

// Status is a point-in-time view of the manager served by the status
// endpoint. The event loop republishes it after every handled event.
type Status struct {
	ActiveXtx     int                       `json:"active_xtx"`
	VendorHeights map[string]uint64         `json:"vendor_heights"`
	QueueDepths   map[string]map[string]int `json:"queue_depths"`
}

// ManagerConfig collects the manager's collaborators.
type ManagerConfig struct {
	Logger  log.Logger
	Metrics *Metrics
	Store   store.Store

	Strategy  *strategy.Engine
	Bidding   *bidding.Engine
	Pricing   *pricing.Engine
	Circuit   relayer.CircuitRelayer
	Relayers  map[string]relayer.Relayer
	Estimator relayer.TargetEstimator

	Gateways       []Gateway
	Signer         string
	RewardAsset    string
	RewardDecimals uint8

	CircuitEvents <-chan types.CircuitEvent
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics()
	}

	gateways := make(map[string]Gateway, len(cfg.Gateways))
	for _, gw := range cfg.Gateways {
		gateways[gw.ID] = gw
	}

	m := &Manager{
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		store:           cfg.Store,
		queue:           NewQueue(),
		xtx:             make(map[types.Hash]*Execution),
		sfxToXtx:        make(map[types.Hash]types.Hash),
		strategy:        cfg.Strategy,
		bidding:         cfg.Bidding,
		pricing:         cfg.Pricing,
		circuit:         cfg.Circuit,
		relayers:        cfg.Relayers,
		estimator:       cfg.Estimator,
		gateways:        gateways,
		rewardAsset:     cfg.RewardAsset,
		circuitEvents:   cfg.CircuitEvents,
		bidRequests:     make(chan BidRequest, 256),
		internal:        make(chan any, 256),
		prices:          make(map[string]*observable.Value[float64]),
		txCosts:         make(map[types.Hash]*observable.Value[*big.Int]),
		confirmInFlight: make(map[string]bool),
	}
	m.env = &sfxEnv{
		strategy:       cfg.Strategy,
		bidding:        cfg.Bidding,
		signer:         cfg.Signer,
		rewardDecimals: cfg.RewardDecimals,
		notifyBid:      m.enqueueBid,
		logger:         cfg.Logger,
	}
	return m
}

// Run drives the event loop until the context ends. It is the only
// goroutine that touches manager state.
func (m *Manager) Run(ctx context.Context) error {
	m.restoreHeights(ctx)

	for vendor, r := range m.relayers {
		go m.forwardTargetEvents(ctx, vendor, r)
	}

	var priceUpdates <-chan pricing.Update
	if m.pricing != nil {
		priceUpdates = m.pricing.Updates()
	}

	m.publishStatus()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-m.circuitEvents:
			if !ok {
				m.logger.Info("coordinator event stream closed, stopping")
				return nil
			}
			m.handleCircuitEvent(ctx, ev)
		case upd := <-priceUpdates:
			m.priceValue(upd.Ticker).Set(upd.PriceUsd)
		case req := <-m.bidRequests:
			m.submitBid(ctx, req)
		case msg := <-m.internal:
			m.handleInternal(ctx, msg)
		}
		m.publishStatus()
	}
}

// Status returns the last published snapshot. Safe for concurrent readers.
func (m *Manager) Status() Status {
	if s := m.status.Load(); s != nil {
		return *s
	}
	return Status{}
}

func (m *Manager) publishStatus() {
	s := Status{
		ActiveXtx:     len(m.xtx),
		VendorHeights: make(map[string]uint64, len(m.gateways)),
		QueueDepths:   make(map[string]map[string]int, len(m.gateways)),
	}
	for _, gw := range m.gateways {
		s.VendorHeights[gw.Vendor] = m.queue.Height(gw.Vendor)
		s.QueueDepths[gw.Vendor] = m.queue.Depths(gw.Vendor)
	}
	m.status.Store(&s)
}

// restoreHeights seeds the queue with the vendor heights persisted by a
// previous run, so confirmation scans do not regress after a restart.
func (m *Manager) restoreHeights(ctx context.Context) {
	if m.store == nil {
		return
	}
	for _, gw := range m.gateways {
		height, err := m.store.VendorHeight(ctx, gw.Vendor)
		if err != nil {
			m.logger.Warn("could not restore vendor height", "vendor", gw.Vendor, "error", err)
			continue
		}
		if height > 0 {
			m.queue.SetHeight(gw.Vendor, height)
		}
	}
}

func (m *Manager) forwardTargetEvents(ctx context.Context, vendor string, r relayer.Relayer) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.Events():
			if !ok {
				return
			}
			m.send(ctx, targetEventMsg{vendor: vendor, event: ev})
		}
	}
}

func (m *Manager) send(ctx context.Context, msg any) {
	select {
	case m.internal <- msg:
	case <-ctx.Done():
	}
}

// enqueueBid is the side effects' outbound notification. Called from inside
// the event loop, so it must not block on the loop itself.
func (m *Manager) enqueueBid(req BidRequest) {
	select {
	case m.bidRequests <- req:
	default:
		m.logger.Warn("bid request queue full, dropping", "sfx", req.SfxID.Human())
	}
}

func (m *Manager) handleCircuitEvent(ctx context.Context, ev types.CircuitEvent) {
	switch ev := ev.(type) {
	case types.NewSideEffectsAvailable:
		m.handleNewSideEffects(ctx, ev)
	case types.SFXNewBidReceived:
		sfx, ok := m.sfx(ev.SfxID)
		if !ok {
			m.logger.Debug("bid for untracked side effect", "sfx", ev.SfxID.Human())
			return
		}
		sfx.processBid(ev.Bidder, ev.Amount)
	case types.XTransactionReadyForExec:
		x, ok := m.xtx[ev.XtxID]
		if !ok {
			m.logger.Debug("ready event for untracked transaction", "xtx", ev.XtxID.Human())
			return
		}
		x.readyToExecute()
		m.dispatchReady(ctx, x)
	case types.HeaderSubmitted:
		m.handleHeaderSubmitted(ctx, ev)
	case types.SideEffectConfirmed:
		sfx, ok := m.sfx(ev.SfxID)
		if !ok {
			return
		}
		wasTerminal := sfx.isTerminal()
		sfx.confirmedOnCircuit()
		if !wasTerminal {
			m.metrics.SfxConfirmed.Add(1)
		}
	case types.XtxCompleted:
		m.handleXtxCompleted(ctx, ev.XtxID)
	case types.DroppedAtBidding:
		m.handleDroppedAtBidding(ctx, ev.XtxID)
	case types.RevertTimedOut:
		m.handleRevertTimedOut(ctx, ev.XtxID)
	default:
		m.logger.Warn("unhandled coordinator event", "event", ev)
	}
}

func (m *Manager) handleNewSideEffects(ctx context.Context, ev types.NewSideEffectsAvailable) {
	if _, ok := m.xtx[ev.XtxID]; ok {
		m.logger.Debug("duplicate transaction announcement", "xtx", ev.XtxID.Human())
		return
	}
	if m.store != nil {
		if resolved, err := m.store.IsResolved(ctx, ev.XtxID.String()); err == nil && resolved {
			m.logger.Debug("replayed announcement of resolved transaction", "xtx", ev.XtxID.Human())
			return
		}
	}

	x, err := NewExecution(ev.Requester, ev.XtxID, ev.SideEffects, ev.SfxIDs, m.gateways, m.env)
	if err != nil {
		m.logger.Error("rejecting undecodable transaction", "xtx", ev.XtxID.Human(), "error", err)
		return
	}
	if err := m.strategy.EvaluateXtx(x.insurances()); err != nil {
		m.logger.Info("transaction rejected by strategy", "xtx", ev.XtxID.Human(), "reason", err)
		return
	}

	m.xtx[x.ID] = x
	m.metrics.XtxActive.Set(float64(len(m.xtx)))
	m.logger.Info("tracking new transaction",
		"xtx", x.ID.Human(), "owner", x.Owner, "sideEffects", len(x.SideEffects), "phases", len(x.Phases))

	for id, sfx := range x.SideEffects {
		m.sfxToXtx[id] = x.ID
		m.queue.AddToBidding(sfx.Vendor, id)
		m.attachRiskParameters(ctx, sfx)
	}
}

// attachRiskParameters wires a side effect's four push-updated quantities:
// its native execution cost (estimated asynchronously) and the three USD
// prices the manager tracks per ticker.
func (m *Manager) attachRiskParameters(ctx context.Context, sfx *SideEffect) {
	cost := observable.New(new(big.Int))
	m.txCosts[sfx.ID] = cost

	sfx.setRiskRewardParameters(
		cost,
		m.priceValue(sfx.gateway.NativeAsset),
		m.priceValue(sfx.TxOutputs().Asset),
		m.priceValue(m.rewardAsset),
	)

	if m.estimator == nil {
		return
	}
	tx := sfx.targetTx()
	go func() {
		estimated, err := m.estimator.EstimateTxCost(ctx, tx)
		if err != nil {
			m.logger.Warn("tx cost estimation failed", "sfx", tx.SfxID.Human(), "error", err)
			return
		}
		m.send(ctx, costEstimate{sfxID: tx.SfxID, cost: estimated})
	}()
}

// priceValue returns the manager-owned observable for a ticker, seeded from
// the oracle's last known value.
func (m *Manager) priceValue(ticker string) *observable.Value[float64] {
	if v, ok := m.prices[ticker]; ok {
		return v
	}
	var initial float64
	if m.pricing != nil {
		if last, ok := m.pricing.Last(ticker); ok {
			initial = last
		}
	}
	v := observable.New(initial)
	m.prices[ticker] = v
	return v
}

// dispatchReady submits every side effect the execution's gate admits.
func (m *Manager) dispatchReady(ctx context.Context, x *Execution) {
	for _, sfx := range x.GetReadyToExecute() {
		if m.queue.Contains(sfx.Vendor, sfx.ID) == "isExecuting" {
			continue
		}
		r, ok := m.relayers[sfx.Vendor]
		if !ok {
			m.logger.Error("no relayer for vendor", "vendor", sfx.Vendor, "sfx", sfx.HumanID)
			continue
		}
		m.queue.MoveToExecuting(sfx.Vendor, sfx.ID)
		m.logger.Info("executing side effect on target", "sfx", sfx.HumanID, "target", sfx.Target)

		vendor := sfx.Vendor
		tx := sfx.targetTx()
		go func() {
			if err := r.ExecuteTx(ctx, tx); err != nil {
				m.send(ctx, targetEventMsg{
					vendor: vendor,
					event:  types.SfxExecutionError{SfxID: tx.SfxID, Data: err.Error()},
				})
			}
		}()
	}
}

func (m *Manager) handleHeaderSubmitted(ctx context.Context, ev types.HeaderSubmitted) {
	m.queue.SetHeight(ev.Vendor, ev.Height)
	m.metrics.VendorHeight.With("vendor", ev.Vendor).Set(float64(m.queue.Height(ev.Vendor)))
	if m.store != nil {
		if err := m.store.SetVendorHeight(ctx, ev.Vendor, ev.Height); err != nil {
			m.logger.Warn("could not persist vendor height", "vendor", ev.Vendor, "error", err)
		}
	}
	m.executeConfirmationQueue(ctx, ev.Vendor)
}

func (m *Manager) handleXtxCompleted(ctx context.Context, xtxID types.Hash) {
	x, ok := m.xtx[xtxID]
	if !ok {
		return
	}
	for id, sfx := range x.SideEffects {
		switch m.queue.Contains(sfx.Vendor, id) {
		case "isBidding", "isExecuting", "isConfirming":
			m.queue.MoveToCompleted(sfx.Vendor, id)
		}
	}
	x.completed()
	m.logger.Info("transaction finished all steps", "xtx", x.ID.Human())
	m.removeXtx(ctx, x)
}

func (m *Manager) handleDroppedAtBidding(ctx context.Context, xtxID types.Hash) {
	x, ok := m.xtx[xtxID]
	if !ok || x.Status == XtxDroppedAtBidding {
		return
	}
	x.droppedAtBidding()
	for id, sfx := range x.SideEffects {
		m.queue.MoveToDropped(sfx.Vendor, id)
		m.metrics.SfxDropped.Add(1)
	}
	m.logger.Info("transaction dropped at bidding", "xtx", x.ID.Human())
	m.removeXtx(ctx, x)
}

func (m *Manager) handleRevertTimedOut(ctx context.Context, xtxID types.Hash) {
	x, ok := m.xtx[xtxID]
	if !ok {
		return
	}
	for id, sfx := range x.SideEffects {
		m.queue.MoveToReverted(sfx.Vendor, id)
		m.metrics.SfxReverted.Add(1)
	}
	x.revertTimeout()
	m.logger.Warn("transaction reverted on timeout", "xtx", x.ID.Human())
	m.removeXtx(ctx, x)
}

// removeXtx drops a terminal execution and every index entry pointing at it.
func (m *Manager) removeXtx(ctx context.Context, x *Execution) {
	for id := range x.SideEffects {
		delete(m.sfxToXtx, id)
		delete(m.txCosts, id)
		m.bidding.CleanUp(id)
	}
	delete(m.xtx, x.ID)
	m.metrics.XtxActive.Set(float64(len(m.xtx)))

	if m.store != nil {
		if err := m.store.MarkResolved(ctx, x.ID.String()); err != nil {
			m.logger.Warn("could not mark transaction resolved", "xtx", x.ID.Human(), "error", err)
		}
	}
}

func (m *Manager) handleInternal(ctx context.Context, msg any) {
	switch msg := msg.(type) {
	case bidResult:
		m.handleBidResult(msg)
	case costEstimate:
		if cost, ok := m.txCosts[msg.sfxID]; ok {
			cost.Set(msg.cost)
		}
	case targetEventMsg:
		m.handleTargetEvent(ctx, msg.vendor, msg.event)
	case headerProofResult:
		m.handleHeaderProofResult(msg)
	case confirmResult:
		m.handleConfirmResult(ctx, msg)
	default:
		m.logger.Warn("unhandled internal message", "message", msg)
	}
}

func (m *Manager) handleBidResult(res bidResult) {
	sfx, ok := m.sfx(res.sfxID)
	if !ok {
		return
	}
	if res.err != nil {
		m.metrics.BidsRejected.Add(1)
		sfx.bidRejected(res.err)
		return
	}
	wasBidder := sfx.IsBidder
	sfx.bidAccepted(res.amount)
	if sfx.IsBidder && !wasBidder {
		m.metrics.BidsWon.Add(1)
	}
}

func (m *Manager) handleTargetEvent(ctx context.Context, vendor string, ev types.TargetEvent) {
	switch ev := ev.(type) {
	case types.SfxExecutedOnTarget:
		sfx, ok := m.sfx(ev.SfxID)
		if !ok {
			m.logger.Debug("execution result for untracked side effect", "sfx", ev.SfxID.Human())
			return
		}
		sfx.executedOnTarget(ev)
		m.queue.MoveToConfirming(vendor, ev.SfxID, ev.BlockNumber)
		m.logger.Info("side effect executed on target",
			"sfx", sfx.HumanID, "target", sfx.Target, "blockNumber", ev.BlockNumber)
	case types.HeaderInclusionProofRequest:
		m.requestHeaderProof(ctx, vendor, ev)
	case types.SfxExecutionError:
		m.logger.Error("target execution failed", "sfx", ev.SfxID.Human(), "data", ev.Data)
		m.metrics.ExecutionErrors.Add(1)
	default:
		m.logger.Warn("unhandled target event", "vendor", vendor, "event", ev)
	}
}

func (m *Manager) requestHeaderProof(ctx context.Context, vendor string, ev types.HeaderInclusionProofRequest) {
	r, ok := m.relayers[vendor]
	if !ok {
		m.logger.Error("no relayer for vendor", "vendor", vendor)
		return
	}
	go func() {
		proof, err := r.GenerateHeaderInclusionProof(ctx, ev.BlockNumber, ev.Index)
		if err != nil {
			m.send(ctx, headerProofResult{sfxID: ev.SfxID, err: err})
			return
		}
		relayHash, err := r.BlockHash(ctx, ev.BlockNumber)
		m.send(ctx, headerProofResult{sfxID: ev.SfxID, proof: proof, relayHash: relayHash, err: err})
	}()
}

func (m *Manager) handleHeaderProofResult(res headerProofResult) {
	sfx, ok := m.sfx(res.sfxID)
	if !ok {
		return
	}
	if res.err != nil {
		m.logger.Warn("header inclusion proof failed", "sfx", sfx.HumanID, "error", res.err)
		return
	}
	sfx.addHeaderProof(res.proof, res.relayHash)
}

func (m *Manager) submitBid(ctx context.Context, req BidRequest) {
	m.metrics.BidsSubmitted.Add(1)
	go func() {
		err := m.circuit.BidSfx(ctx, req.SfxID, req.Amount)
		m.send(ctx, bidResult{sfxID: req.SfxID, amount: req.Amount, err: err})
	}()
}

// executeConfirmationQueue batches every side effect that is both ready by
// height (its inclusion block is covered by the vendor's light client) and
// ready by step (its phase is the owning transaction's current phase). A
// failed batch leaves the queue untouched; the same set is re-derived on
// the next height update.
func (m *Manager) executeConfirmationQueue(ctx context.Context, vendor string) {
	if m.confirmInFlight[vendor] {
		return
	}

	candidates := m.queue.ConfirmableAtHeight(vendor)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	var ids []types.Hash
	var payloads []types.ConfirmationPayload
	for _, id := range candidates {
		sfx, ok := m.sfx(id)
		if !ok {
			continue
		}
		x, ok := m.xtx[sfx.XtxID]
		if !ok || sfx.Phase != x.CurrentPhase {
			continue
		}
		ids = append(ids, id)
		payloads = append(payloads, sfx.confirmationPayload())
	}
	if len(ids) == 0 {
		return
	}

	m.confirmInFlight[vendor] = true
	m.logger.Info("submitting confirmation batch", "vendor", vendor, "sideEffects", len(ids))
	go func() {
		err := m.circuit.ConfirmSideEffects(ctx, vendor, payloads)
		m.send(ctx, confirmResult{vendor: vendor, ids: ids, err: err})
	}()
}

func (m *Manager) handleConfirmResult(ctx context.Context, res confirmResult) {
	m.confirmInFlight[res.vendor] = false
	if res.err != nil {
		m.logger.Error("confirmation batch failed, will retry on next height",
			"vendor", res.vendor, "error", res.err)
		m.metrics.ConfirmationErrors.Add(1)
		return
	}

	affected := make(map[types.Hash]*Execution)
	for _, id := range res.ids {
		sfx, ok := m.sfx(id)
		if !ok {
			continue
		}
		m.queue.MoveToCompleted(res.vendor, id)
		wasTerminal := sfx.isTerminal()
		sfx.confirmedOnCircuit()
		if !wasTerminal {
			m.metrics.SfxConfirmed.Add(1)
		}
		if x, ok := m.xtx[sfx.XtxID]; ok {
			affected[x.ID] = x
		}
	}

	// a confirmed batch may close the current phase and open the next one
	for _, x := range affected {
		if x.PhaseComplete() && x.AdvancePhase() {
			m.logger.Info("phase advanced", "xtx", x.ID.Human(), "phase", x.CurrentPhase)
			m.dispatchReady(ctx, x)
		}
	}
}

// sfx resolves a side effect through the non-owning index, guarding both
// lookups since terminal executions are removed eagerly.
func (m *Manager) sfx(id types.Hash) (*SideEffect, bool) {
	xtxID, ok := m.sfxToXtx[id]
	if !ok {
		return nil, false
	}
	x, ok := m.xtx[xtxID]
	if !ok {
		return nil, false
	}
	sfx, ok := x.SideEffects[id]
	return sfx, ok
}
