package exec

import (
	"fmt"

	"github.com/xexd/xexd/pkg/log"
	"github.com/xexd/xexd/strategy"
	"github.com/xexd/xexd/types"
)

// XtxStatus is the lifecycle state of one cross-chain transaction.
type XtxStatus int

const (
	XtxPendingBidding XtxStatus = iota
	XtxReadyToExecute
	XtxFinishedAllSteps
	XtxDroppedAtBidding
	XtxRevertTimedOut
)

func (s XtxStatus) String() string {
	switch s {
	case XtxPendingBidding:
		return "PendingBidding"
	case XtxReadyToExecute:
		return "ReadyToExecute"
	case XtxFinishedAllSteps:
		return "FinishedAllSteps"
	case XtxDroppedAtBidding:
		return "DroppedAtBidding"
	case XtxRevertTimedOut:
		return "RevertTimedOut"
	default:
		return "Unknown"
	}
}

// Execution aggregates the side effects of one cross-chain transaction into
// ordered phases. Escrow side effects form an earlier phase than optimistic
// ones; a transaction without escrow side effects has a single phase.
type Execution struct {
	ID    types.Hash
	Owner string

	Status       XtxStatus
	Phases       [][]types.Hash
	CurrentPhase int

	// SideEffects is exclusively owned; no other component holds a
	// SideEffect reference past the manager's event loop.
	SideEffects map[types.Hash]*SideEffect

	logger log.Logger
}

// NewExecution decodes a coordinator payload into a transaction and its
// side effects, bucketed into phases. Any undecodable side effect fails the
// whole construction so nothing half-built is registered.
func NewExecution(owner string, xtxID types.Hash, raws []types.RawSideEffect, ids []types.Hash, gateways map[string]Gateway, env *sfxEnv) (*Execution, error) {
	if len(raws) != len(ids) {
		return nil, ErrMismatchedPayload
	}

	x := &Execution{
		ID:          xtxID,
		Owner:       owner,
		Status:      XtxPendingBidding,
		SideEffects: make(map[types.Hash]*SideEffect, len(raws)),
		logger:      env.logger.With("xtx", xtxID.Human()),
	}

	var escrow, optimistic []types.Hash
	for i, raw := range raws {
		gw, ok := gateways[raw.Target]
		if !ok {
			return nil, fmt.Errorf("target %s: %w", raw.Target, ErrUnknownVendor)
		}
		sfx, err := NewSideEffect(ids[i], xtxID, raw, gw, env)
		if err != nil {
			return nil, err
		}
		x.SideEffects[sfx.ID] = sfx

		if raw.SecurityLevel == types.SecurityEscrow {
			escrow = append(escrow, sfx.ID)
		} else {
			optimistic = append(optimistic, sfx.ID)
		}
	}

	if len(escrow) > 0 {
		x.Phases = append(x.Phases, escrow)
	}
	if len(optimistic) > 0 {
		x.Phases = append(x.Phases, optimistic)
	}
	for phase, ids := range x.Phases {
		for _, id := range ids {
			x.SideEffects[id].setPhase(phase)
		}
	}
	return x, nil
}

// readyToExecute opens execution. Every side effect becomes ready; whether a
// given one may actually run now is still gated by GetReadyToExecute.
func (x *Execution) readyToExecute() {
	x.Status = XtxReadyToExecute
	for _, sfx := range x.SideEffects {
		sfx.readyToExecute()
	}
}

// GetReadyToExecute returns the side effects this executor may submit to
// their target chains right now: won at bidding, ready, and in the current
// phase.
func (x *Execution) GetReadyToExecute() []*SideEffect {
	var ready []*SideEffect
	for _, id := range x.phaseIDs(x.CurrentPhase) {
		sfx := x.SideEffects[id]
		if sfx.Status == SfxReadyToExecute && sfx.IsBidder {
			ready = append(ready, sfx)
		}
	}
	return ready
}

// PhaseComplete reports whether every side effect of the current phase
// reached a state past execution.
func (x *Execution) PhaseComplete() bool {
	for _, id := range x.phaseIDs(x.CurrentPhase) {
		switch x.SideEffects[id].Status {
		case SfxConfirmed, SfxDropped, SfxReverted:
		default:
			return false
		}
	}
	return true
}

// AdvancePhase moves the cursor forward by one. Returns false once the last
// phase is reached.
func (x *Execution) AdvancePhase() bool {
	if x.CurrentPhase+1 >= len(x.Phases) {
		return false
	}
	x.CurrentPhase++
	return true
}

func (x *Execution) completed() {
	x.Status = XtxFinishedAllSteps
	for _, sfx := range x.SideEffects {
		sfx.confirmedOnCircuit()
	}
}

func (x *Execution) droppedAtBidding() {
	x.Status = XtxDroppedAtBidding
	for _, sfx := range x.SideEffects {
		sfx.droppedAtBidding()
	}
}

func (x *Execution) revertTimeout() {
	x.Status = XtxRevertTimedOut
	for _, sfx := range x.SideEffects {
		sfx.reverted()
	}
}

func (x *Execution) isTerminal() bool {
	switch x.Status {
	case XtxFinishedAllSteps, XtxDroppedAtBidding, XtxRevertTimedOut:
		return true
	default:
		return false
	}
}

func (x *Execution) phaseIDs(phase int) []types.Hash {
	if phase < 0 || phase >= len(x.Phases) {
		return nil
	}
	return x.Phases[phase]
}

// insurances snapshots every side effect's insurance terms for the
// transaction-level admission check.
func (x *Execution) insurances() []strategy.SfxInsurance {
	out := make([]strategy.SfxInsurance, 0, len(x.SideEffects))
	for _, sfx := range x.SideEffects {
		out = append(out, sfx.insurance())
	}
	return out
}
