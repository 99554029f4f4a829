package types

import "math/big"

// CircuitEvent is implemented by every event decoded from the coordinator
// chain stream. Events referencing a single coordinator block arrive in
// emission order; the manager relies on that for NewSideEffectsAvailable
// preceding any event naming its side effect ids.
type CircuitEvent interface {
	circuitEvent()
}

// NewSideEffectsAvailable announces a new cross-chain transaction and its
// ordered side effects.
type NewSideEffectsAvailable struct {
	Requester   string
	XtxID       Hash
	SideEffects []RawSideEffect
	SfxIDs      []Hash
}

// SFXNewBidReceived reports a bid the coordinator accepted for a side effect,
// including this executor's own.
type SFXNewBidReceived struct {
	SfxID  Hash
	Bidder string
	Amount *big.Int
}

// XTransactionReadyForExec signals that bidding closed and the transaction's
// current phase may execute.
type XTransactionReadyForExec struct {
	XtxID Hash
}

// HeaderSubmitted reports that a target vendor's light client advanced on the
// coordinator. Derived from the chain's HeadersAdded event; the vendor is
// resolved from the event's source section.
type HeaderSubmitted struct {
	Vendor string
	Height uint64
}

// SideEffectConfirmed reports that the coordinator accepted a confirmation.
type SideEffectConfirmed struct {
	SfxID Hash
}

// XtxCompleted reports that every side effect of a transaction confirmed.
type XtxCompleted struct {
	XtxID Hash
}

// DroppedAtBidding reports that a transaction found no executors in time.
type DroppedAtBidding struct {
	XtxID Hash
}

// RevertTimedOut reports that a transaction exceeded its execution timeout
// and all of its side effects revert.
type RevertTimedOut struct {
	XtxID Hash
}

func (NewSideEffectsAvailable) circuitEvent()  {}
func (SFXNewBidReceived) circuitEvent()        {}
func (XTransactionReadyForExec) circuitEvent() {}
func (HeaderSubmitted) circuitEvent()          {}
func (SideEffectConfirmed) circuitEvent()      {}
func (XtxCompleted) circuitEvent()             {}
func (DroppedAtBidding) circuitEvent()         {}
func (RevertTimedOut) circuitEvent()           {}

// TargetEvent is implemented by events emitted by a per-vendor target relayer.
type TargetEvent interface {
	targetEvent()
}

// SfxExecutedOnTarget reports that a side effect's transaction finalized on
// its target chain at the given block.
type SfxExecutedOnTarget struct {
	SfxID          Hash
	Target         string
	BlockNumber    uint64
	BlockHash      Hash
	EncodedPayload HexBytes
	InclusionProof HexBytes
	Executor       string
}

// HeaderInclusionProofRequest asks for a header-inclusion proof for a
// parachain-style confirmation payload.
type HeaderInclusionProofRequest struct {
	SfxID       Hash
	BlockNumber uint64
	Index       uint32
}

// SfxExecutionError reports a failed target-chain submission. There is no
// automatic retry for this path; the manager logs and counts it.
type SfxExecutionError struct {
	SfxID Hash
	Data  string
}

func (SfxExecutedOnTarget) targetEvent()         {}
func (HeaderInclusionProofRequest) targetEvent() {}
func (SfxExecutionError) targetEvent()           {}

// ConfirmationPayload is the vendor-specific inclusion-proof bundle submitted
// with confirmSideEffects. Relaychain-style payloads carry the first three
// fields; parachain-style payloads additionally carry a header proof anchored
// at the relay chain.
type ConfirmationPayload struct {
	SfxID          Hash
	EncodedPayload HexBytes
	PayloadProof   HexBytes
	BlockHash      HexBytes
	HeaderProof    HexBytes
	RelayBlockHash HexBytes
}
