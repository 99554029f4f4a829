package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xexd/xexd/pkg/log"
)

func newTestEngine(s Strategy) *Engine {
	return NewEngine(map[string]Strategy{"roco": s}, log.NewNopLogger())
}

func TestEvaluateSfx_NoStrategyForTarget(t *testing.T) {
	e := newTestEngine(Strategy{})
	err := e.EvaluateSfx(SfxEconomics{Target: "eth2"})
	require.ErrorIs(t, err, ErrNoStrategy)
}

func TestEvaluateSfx_ZeroStrategyAdmitsEverything(t *testing.T) {
	e := newTestEngine(Strategy{})
	err := e.EvaluateSfx(SfxEconomics{Target: "roco", MaxProfitUsd: -5, TxCostUsd: 100, TxOutputCostUsd: 100})
	assert.NoError(t, err, "all-zero strategy disables every constraint")
}

func TestEvaluateSfx_ChecksInOrder(t *testing.T) {
	// every constraint violated at once; the first check in the fixed order wins
	e := newTestEngine(Strategy{
		MinProfitUsd:  10,
		MinYield:      2,
		MaxTxFeesUsd:  1,
		MaxTxFeeShare: 0.1,
		MaxAssetCost:  1,
	})
	err := e.EvaluateSfx(SfxEconomics{Target: "roco", MaxProfitUsd: 5, TxCostUsd: 50, TxOutputCostUsd: 50})
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "min_profit_usd", rej.Check)
}

func TestEvaluateSfx_Checks(t *testing.T) {
	cases := []struct {
		name      string
		strategy  Strategy
		sfx       SfxEconomics
		wantCheck string
	}{
		{
			name:      "min profit",
			strategy:  Strategy{MinProfitUsd: 10},
			sfx:       SfxEconomics{MaxProfitUsd: 9.99},
			wantCheck: "min_profit_usd",
		},
		{
			name:      "min yield",
			strategy:  Strategy{MinYield: 0.5},
			sfx:       SfxEconomics{MaxProfitUsd: 10, TxOutputCostUsd: 100},
			wantCheck: "min_yield",
		},
		{
			name:      "max tx fees inclusive bound",
			strategy:  Strategy{MaxTxFeesUsd: 5},
			sfx:       SfxEconomics{TxCostUsd: 5},
			wantCheck: "max_tx_fees_usd",
		},
		{
			name:      "max tx fee share",
			strategy:  Strategy{MaxTxFeeShare: 0.5},
			sfx:       SfxEconomics{MaxProfitUsd: 10, TxCostUsd: 5},
			wantCheck: "max_tx_fee_share",
		},
		{
			name:      "max asset cost",
			strategy:  Strategy{MaxAssetCost: 100},
			sfx:       SfxEconomics{TxOutputCostUsd: 100},
			wantCheck: "max_asset_cost",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.sfx.Target = "roco"
			err := newTestEngine(tc.strategy).EvaluateSfx(tc.sfx)
			var rej *RejectionError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tc.wantCheck, rej.Check)
		})
	}
}

func TestEvaluateSfx_Admitted(t *testing.T) {
	e := newTestEngine(Strategy{
		MinProfitUsd:  1,
		MinYield:      0.1,
		MaxTxFeesUsd:  10,
		MaxTxFeeShare: 0.9,
		MaxAssetCost:  1000,
	})
	err := e.EvaluateSfx(SfxEconomics{
		Target:          "roco",
		MaxProfitUsd:    20,
		TxCostUsd:       2,
		TxOutputCostUsd: 50,
	})
	assert.NoError(t, err)
}

func TestEvaluateXtx(t *testing.T) {
	e := newTestEngine(Strategy{MinInsuranceAmountUsd: 5, MinInsuranceShare: 0.1})

	// admitted
	err := e.EvaluateXtx([]SfxInsurance{{Target: "roco", InsuranceHuman: 10, RewardHuman: 50}})
	require.NoError(t, err)

	// amount violation stops the scan
	err = e.EvaluateXtx([]SfxInsurance{
		{Target: "roco", InsuranceHuman: 1, RewardHuman: 2},
		{Target: "roco", InsuranceHuman: 10, RewardHuman: 50},
	})
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "min_insurance_amount_usd", rej.Check)

	// share violation
	err = e.EvaluateXtx([]SfxInsurance{{Target: "roco", InsuranceHuman: 5, RewardHuman: 100}})
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "min_insurance_share", rej.Check)

	// unknown target rejects the whole transaction
	err = e.EvaluateXtx([]SfxInsurance{{Target: "eth2"}})
	require.ErrorIs(t, err, ErrNoStrategy)
}

func TestMinProfitUsdAccessor(t *testing.T) {
	e := newTestEngine(Strategy{MinProfitUsd: 10})
	assert.Equal(t, 10.0, e.MinProfitUsd("roco"))
	assert.Zero(t, e.MinProfitUsd("eth2"))
}
