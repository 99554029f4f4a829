// Package relayer defines the chain-connectivity boundary of the executor:
// the coordinator-side relayer that submits bids and confirmations, and the
// per-vendor target relayer that executes side effects and produces inclusion
// proofs. The execution manager consumes these as capabilities and never
// talks to a chain directly.
package relayer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/xexd/xexd/types"
)

// TargetTx is the action-specific transaction a target relayer builds and
// submits for one side effect.
type TargetTx struct {
	SfxID       types.Hash
	Target      string
	Action      types.Action
	EncodedArgs []types.HexBytes
}

// CircuitRelayer submits extrinsics to the coordinator chain.
type CircuitRelayer interface {
	// BidSfx offers to execute a side effect for the given reward amount,
	// in the reward asset's scaled integer representation.
	BidSfx(ctx context.Context, sfxID types.Hash, amount *big.Int) error

	// ConfirmSideEffects batches one or more executed side effects into a
	// single confirmation transaction.
	ConfirmSideEffects(ctx context.Context, vendor string, payloads []types.ConfirmationPayload) error
}

// Relayer executes transactions against one target vendor. Submission
// outcomes arrive asynchronously on Events; ExecuteTx only reports errors
// raised before the transaction left this process.
type Relayer interface {
	ExecuteTx(ctx context.Context, tx TargetTx) error

	// GenerateHeaderInclusionProof proves a target header's inclusion in
	// the relay chain, for parachain-style confirmation payloads.
	GenerateHeaderInclusionProof(ctx context.Context, blockNumber uint64, index uint32) (types.HexBytes, error)

	// BlockHash returns the target-chain block hash at the given height.
	BlockHash(ctx context.Context, blockNumber uint64) (types.Hash, error)

	Events() <-chan types.TargetEvent
}

// TargetEstimator quotes the native fee of executing a transaction on its
// target chain.
type TargetEstimator interface {
	EstimateTxCost(ctx context.Context, tx TargetTx) (*big.Int, error)
}

// EstimatorMux routes estimation requests to the estimator of the
// transaction's target.
type EstimatorMux struct {
	byTarget map[string]TargetEstimator
}

func NewEstimatorMux() *EstimatorMux {
	return &EstimatorMux{byTarget: make(map[string]TargetEstimator)}
}

func (m *EstimatorMux) Register(target string, e TargetEstimator) {
	m.byTarget[target] = e
}

func (m *EstimatorMux) EstimateTxCost(ctx context.Context, tx TargetTx) (*big.Int, error) {
	e, ok := m.byTarget[tx.Target]
	if !ok {
		return nil, fmt.Errorf("no estimator for target %s", tx.Target)
	}
	return e.EstimateTxCost(ctx, tx)
}
