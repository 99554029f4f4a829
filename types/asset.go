package types

import (
	"fmt"
	"math/big"
	"sync"
)

// Asset describes one on-chain monetary asset: its ticker and the fixed-point
// decimal count used by the coordinator's integer amount encoding.
type Asset struct {
	Ticker   string
	Decimals uint8
}

// AssetRegistry maps asset tickers to their encoding parameters. The registry
// is populated from gateway configuration at startup and read-only afterwards,
// but guarded anyway since pricing refresh and the manager loop both consult it.
type AssetRegistry struct {
	mu     sync.RWMutex
	assets map[string]Asset
}

// NewAssetRegistry creates a registry seeded with the given assets.
func NewAssetRegistry(assets ...Asset) *AssetRegistry {
	r := &AssetRegistry{assets: make(map[string]Asset, len(assets))}
	for _, a := range assets {
		r.assets[a.Ticker] = a
	}
	return r
}

// Register adds or replaces an asset.
func (r *AssetRegistry) Register(a Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[a.Ticker] = a
}

// Get returns the asset for a ticker.
func (r *AssetRegistry) Get(ticker string) (Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[ticker]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, ticker)
	}
	return a, nil
}

// Decimals returns the decimal count for a ticker, or an error if unknown.
func (r *AssetRegistry) Decimals(ticker string) (uint8, error) {
	a, err := r.Get(ticker)
	if err != nil {
		return 0, err
	}
	return a.Decimals, nil
}

// ToHuman converts a scaled fixed-point integer amount into its human float
// form for the given decimal count. A nil amount converts to 0.
func ToHuman(amount *big.Int, decimals uint8) float64 {
	if amount == nil {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	f.Quo(f, decimalsFactor(decimals))
	out, _ := f.Float64()
	return out
}

// FromHuman converts a human float amount into the scaled fixed-point integer
// the coordinator's arithmetic expects, rounding to the nearest minimal unit.
// Submitting the float form directly would truncate against the on-chain math.
func FromHuman(amount float64, decimals uint8) *big.Int {
	f := new(big.Float).SetFloat64(amount)
	f.Mul(f, decimalsFactor(decimals))
	// round half away from zero to the nearest integer unit
	half := big.NewFloat(0.5)
	if f.Sign() < 0 {
		f.Sub(f, half)
	} else {
		f.Add(f, half)
	}
	out, _ := f.Int(nil)
	return out
}

func decimalsFactor(decimals uint8) *big.Float {
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Float).SetInt(factor)
}
