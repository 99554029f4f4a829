package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/xexd/xexd/bidding"
	"github.com/xexd/xexd/strategy"
)

const (
	// DefaultDirPerm is the default permissions used when creating directories.
	DefaultDirPerm = 0o750

	// DefaultConfigDir is the default directory for configuration files.
	DefaultConfigDir = "config"

	// DefaultDataDir is the default directory for data files (e.g. database).
	DefaultDataDir = "data"

	// DefaultLogLevel is the default log level for the application.
	DefaultLogLevel = "info"

	// DefaultCircuitWsURL is the default coordinator chain websocket endpoint.
	DefaultCircuitWsURL = "ws://localhost:9944"

	// DefaultCircuitRPCURL is the default coordinator signing gateway endpoint.
	DefaultCircuitRPCURL = "http://localhost:9933"

	// DefaultRewardAsset is the default coordinator native asset ticker.
	DefaultRewardAsset = "TRN"

	// DefaultRewardAssetDecimals is the default reward asset decimal count.
	DefaultRewardAssetDecimals = 12

	// DefaultBidPercentile positions the default bid between floor and ceiling.
	DefaultBidPercentile = 0.75

	// DefaultPricingInterval is the default oracle refresh interval.
	DefaultPricingInterval = 30 * time.Second
)

// DefaultRootDir returns the default root directory for the executor.
func DefaultRootDir() string {
	return DefaultRootDirWithName(".xexd")
}

// DefaultRootDirWithName returns the default root directory using the given
// application name.
func DefaultRootDirWithName(appName string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, appName)
}

// DefaultConfig keeps default values of Config.
var DefaultConfig = Config{
	RootDir: DefaultRootDir(),
	DBPath:  DefaultDataDir,
	Circuit: CircuitConfig{
		WsURL:               DefaultCircuitWsURL,
		RPCURL:              DefaultCircuitRPCURL,
		RewardAsset:         DefaultRewardAsset,
		RewardAssetDecimals: DefaultRewardAssetDecimals,
	},
	Gateways:   nil,
	Strategies: map[string]strategy.Strategy{},
	Bidding: bidding.Config{
		BidPercentile: DefaultBidPercentile,
	},
	Pricing: PricingConfig{
		URL:      "https://api.coingecko.com/api/v3",
		Interval: DurationWrapper{DefaultPricingInterval},
	},
	Instrumentation: DefaultInstrumentationConfig(),
	Log: LogConfig{
		Level:  DefaultLogLevel,
		Format: "",
		Trace:  false,
	},
}
