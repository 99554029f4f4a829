// Package strategy implements the per-target admission policy deciding which
// cross-chain transactions and side effects the executor bids on at all.
package strategy

import (
	"errors"
	"fmt"

	"github.com/xexd/xexd/pkg/log"
)

// ErrNoStrategy is returned when a side effect targets a chain the executor
// has no policy for.
var ErrNoStrategy = errors.New("no strategy configured for target")

// RejectionError reports which policy check a transaction or side effect
// failed. Rejections are expected in steady state and never fatal.
type RejectionError struct {
	Target string
	Check  string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("strategy rejection on %s: %s: %s", e.Target, e.Check, e.Reason)
}

// Strategy is one target chain's policy. A zero field disables its constraint.
type Strategy struct {
	MinProfitUsd          float64 `mapstructure:"min_profit_usd" yaml:"min_profit_usd"`
	MinYield              float64 `mapstructure:"min_yield" yaml:"min_yield"`
	MaxTxFeesUsd          float64 `mapstructure:"max_tx_fees_usd" yaml:"max_tx_fees_usd"`
	MaxTxFeeShare         float64 `mapstructure:"max_tx_fee_share" yaml:"max_tx_fee_share"`
	MaxAssetCost          float64 `mapstructure:"max_asset_cost" yaml:"max_asset_cost"`
	MinInsuranceAmountUsd float64 `mapstructure:"min_insurance_amount_usd" yaml:"min_insurance_amount_usd"`
	MinInsuranceShare     float64 `mapstructure:"min_insurance_share" yaml:"min_insurance_share"`
}

// SfxEconomics is the profitability snapshot of one side effect at evaluation
// time, in USD terms.
type SfxEconomics struct {
	Target          string
	MaxProfitUsd    float64
	TxCostUsd       float64
	TxOutputCostUsd float64
}

// SfxInsurance is the insurance snapshot of one side effect, used for
// transaction-level admission before prices are known.
type SfxInsurance struct {
	Target         string
	InsuranceHuman float64
	RewardHuman    float64
}

// Engine evaluates targets' policies. It holds loaded configuration only and
// is shared read-only across all side effects.
type Engine struct {
	strategies map[string]Strategy
	logger     log.Logger
}

// NewEngine creates a strategy engine from per-target policies.
func NewEngine(strategies map[string]Strategy, logger log.Logger) *Engine {
	if strategies == nil {
		strategies = make(map[string]Strategy)
	}
	return &Engine{strategies: strategies, logger: logger}
}

// SupportedTarget reports whether a policy exists for the target.
func (e *Engine) SupportedTarget(target string) bool {
	_, ok := e.strategies[target]
	return ok
}

// MinProfitUsd returns the configured profit floor for a target.
func (e *Engine) MinProfitUsd(target string) float64 {
	return e.strategies[target].MinProfitUsd
}

// EvaluateXtx admits or rejects a whole transaction based on every side
// effect's insurance. The first violation stops the scan and rejects the
// transaction entirely; it is never registered by the manager.
func (e *Engine) EvaluateXtx(sfxs []SfxInsurance) error {
	for _, sfx := range sfxs {
		s, ok := e.strategies[sfx.Target]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoStrategy, sfx.Target)
		}
		if err := e.minInsuranceAmountRejected(s, sfx); err != nil {
			return err
		}
		if err := e.minInsuranceShareRejected(s, sfx); err != nil {
			return err
		}
	}
	return nil
}

// EvaluateSfx admits or rejects one side effect for bidding. Checks run in a
// fixed order and the first violation halts the sequence.
func (e *Engine) EvaluateSfx(sfx SfxEconomics) error {
	s, ok := e.strategies[sfx.Target]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoStrategy, sfx.Target)
	}
	checks := []func(Strategy, SfxEconomics) error{
		e.minProfitRejected,
		e.minYieldRejected,
		e.maxTxFeesRejected,
		e.maxTxFeeShareRejected,
		e.maxAssetCostRejected,
	}
	for _, check := range checks {
		if err := check(s, sfx); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) minProfitRejected(s Strategy, sfx SfxEconomics) error {
	if s.MinProfitUsd > 0 && sfx.MaxProfitUsd < s.MinProfitUsd {
		return &RejectionError{
			Target: sfx.Target,
			Check:  "min_profit_usd",
			Reason: fmt.Sprintf("max profit %.4f below min %.4f", sfx.MaxProfitUsd, s.MinProfitUsd),
		}
	}
	return nil
}

func (e *Engine) minYieldRejected(s Strategy, sfx SfxEconomics) error {
	if s.MinYield <= 0 {
		return nil
	}
	if sfx.TxOutputCostUsd <= 0 {
		return &RejectionError{
			Target: sfx.Target,
			Check:  "min_yield",
			Reason: "output cost unknown, yield undefined",
		}
	}
	yield := sfx.MaxProfitUsd / sfx.TxOutputCostUsd
	if yield < s.MinYield {
		return &RejectionError{
			Target: sfx.Target,
			Check:  "min_yield",
			Reason: fmt.Sprintf("yield %.4f below min %.4f", yield, s.MinYield),
		}
	}
	return nil
}

func (e *Engine) maxTxFeesRejected(s Strategy, sfx SfxEconomics) error {
	if s.MaxTxFeesUsd > 0 && sfx.TxCostUsd >= s.MaxTxFeesUsd {
		return &RejectionError{
			Target: sfx.Target,
			Check:  "max_tx_fees_usd",
			Reason: fmt.Sprintf("tx cost %.4f at or above max %.4f", sfx.TxCostUsd, s.MaxTxFeesUsd),
		}
	}
	return nil
}

func (e *Engine) maxTxFeeShareRejected(s Strategy, sfx SfxEconomics) error {
	if s.MaxTxFeeShare <= 0 || sfx.MaxProfitUsd <= 0 {
		return nil
	}
	share := sfx.TxCostUsd / sfx.MaxProfitUsd
	if share >= s.MaxTxFeeShare {
		return &RejectionError{
			Target: sfx.Target,
			Check:  "max_tx_fee_share",
			Reason: fmt.Sprintf("fee share %.4f at or above max %.4f", share, s.MaxTxFeeShare),
		}
	}
	return nil
}

func (e *Engine) maxAssetCostRejected(s Strategy, sfx SfxEconomics) error {
	if s.MaxAssetCost > 0 && sfx.TxOutputCostUsd >= s.MaxAssetCost {
		return &RejectionError{
			Target: sfx.Target,
			Check:  "max_asset_cost",
			Reason: fmt.Sprintf("output cost %.4f at or above max %.4f", sfx.TxOutputCostUsd, s.MaxAssetCost),
		}
	}
	return nil
}

func (e *Engine) minInsuranceAmountRejected(s Strategy, sfx SfxInsurance) error {
	if s.MinInsuranceAmountUsd > 0 && sfx.InsuranceHuman < s.MinInsuranceAmountUsd {
		return &RejectionError{
			Target: sfx.Target,
			Check:  "min_insurance_amount_usd",
			Reason: fmt.Sprintf("insurance %.4f below min %.4f", sfx.InsuranceHuman, s.MinInsuranceAmountUsd),
		}
	}
	return nil
}

func (e *Engine) minInsuranceShareRejected(s Strategy, sfx SfxInsurance) error {
	if s.MinInsuranceShare <= 0 {
		return nil
	}
	if sfx.RewardHuman <= 0 {
		return &RejectionError{
			Target: sfx.Target,
			Check:  "min_insurance_share",
			Reason: "reward is zero, insurance share undefined",
		}
	}
	share := sfx.InsuranceHuman / sfx.RewardHuman
	if share < s.MinInsuranceShare {
		return &RejectionError{
			Target: sfx.Target,
			Check:  "min_insurance_share",
			Reason: fmt.Sprintf("insurance share %.4f below min %.4f", share, s.MinInsuranceShare),
		}
	}
	return nil
}
