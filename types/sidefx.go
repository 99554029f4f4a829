package types

import (
	"fmt"
	"math/big"
)

// SecurityLevel is the execution guarantee class the coordinator assigned to a
// side effect. Escrow side effects form the first phase of their transaction
// and must complete as one atomic unit; optimistic ones follow in a later phase.
type SecurityLevel int

const (
	// SecurityOptimistic side effects are insured by the executor's bond.
	SecurityOptimistic SecurityLevel = iota
	// SecurityEscrow side effects are settled through a coordinator escrow.
	SecurityEscrow
)

// String implements fmt.Stringer.
func (s SecurityLevel) String() string {
	switch s {
	case SecurityOptimistic:
		return "optimistic"
	case SecurityEscrow:
		return "escrow"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Action is a side effect's 4-byte action tag in its ascii form.
type Action string

const (
	// ActionTransfer is a native balance transfer on the target chain.
	ActionTransfer Action = "tran"
)

// ParseAction validates a raw action tag. Unrecognized tags are an explicit
// error; a side effect with an unknown action is never entered into any map.
func ParseAction(raw string) (Action, error) {
	switch Action(raw) {
	case ActionTransfer:
		return ActionTransfer, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAction, raw)
	}
}

// RawSideEffect is the coordinator-encoded form of one side effect, as carried
// by the NewSideEffectsAvailable event.
type RawSideEffect struct {
	Target        string        `json:"target"`
	Action        string        `json:"action"`
	MaxReward     *big.Int      `json:"maxReward"`
	Insurance     *big.Int      `json:"insurance"`
	EncodedArgs   []HexBytes    `json:"encodedArgs"`
	SecurityLevel SecurityLevel `json:"securityLevel"`
	RewardAsset   string        `json:"rewardAsset"`
}

// TxOutput is the asset movement a side effect produces on its target chain.
// For a transfer it is the transferred amount in the target's native asset.
type TxOutput struct {
	Amount      *big.Int
	AmountHuman float64
	Asset       string
}

// transfer argument layout: [0] destination account, [1] u128 amount (LE).
const transferArgAmount = 1

// DecodeTxOutput decodes the action-specific output of a raw side effect.
// The asset and decimals describe the target chain's native asset.
func DecodeTxOutput(action Action, args []HexBytes, asset string, decimals uint8) (TxOutput, error) {
	switch action {
	case ActionTransfer:
		if len(args) <= transferArgAmount {
			return TxOutput{}, fmt.Errorf("%w: transfer needs %d arguments, got %d",
				ErrMalformedArguments, transferArgAmount+1, len(args))
		}
		amount, err := DecodeU128(args[transferArgAmount])
		if err != nil {
			return TxOutput{}, fmt.Errorf("%w: transfer amount: %v", ErrMalformedArguments, err)
		}
		return TxOutput{
			Amount:      amount,
			AmountHuman: ToHuman(amount, decimals),
			Asset:       asset,
		}, nil
	default:
		return TxOutput{}, fmt.Errorf("%w: %q", ErrUnsupportedAction, action)
	}
}

// DecodeU128 decodes a little-endian unsigned 128-bit integer, the
// coordinator's wire encoding for monetary amounts.
func DecodeU128(raw []byte) (*big.Int, error) {
	if len(raw) == 0 || len(raw) > 16 {
		return nil, fmt.Errorf("u128 must be 1..16 bytes, got %d", len(raw))
	}
	be := make([]byte, len(raw))
	for i, b := range raw {
		be[len(raw)-1-i] = b
	}
	return new(big.Int).SetBytes(be), nil
}

// EncodeU128 encodes an unsigned integer to the 16-byte little-endian wire
// form. Negative or oversized values are rejected.
func EncodeU128(v *big.Int) ([]byte, error) {
	if v == nil || v.Sign() < 0 {
		return nil, fmt.Errorf("u128 must be non-negative")
	}
	if v.BitLen() > 128 {
		return nil, fmt.Errorf("u128 overflow: %d bits", v.BitLen())
	}
	be := v.Bytes()
	out := make([]byte, 16)
	for i, b := range be {
		out[len(be)-1-i] = b
	}
	return out, nil
}
