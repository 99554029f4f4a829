package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xexd/xexd/bidding"
	"github.com/xexd/xexd/strategy"
)

const (
	// Base configuration flags

	// FlagRootDir is a flag for specifying the root directory
	FlagRootDir = "home"
	// FlagDBPath is a flag for specifying the database path
	FlagDBPath = "xexd.db_path"

	// Circuit configuration flags

	// FlagCircuitWsURL is a flag for the coordinator chain websocket endpoint
	FlagCircuitWsURL = "xexd.circuit.ws_url"
	// FlagCircuitRPCURL is a flag for the coordinator signing gateway endpoint
	FlagCircuitRPCURL = "xexd.circuit.rpc_url"
	// FlagCircuitSignerKey is a flag for the executor's circuit signer key
	FlagCircuitSignerKey = "xexd.circuit.signer_key" // #nosec G101
	// FlagCircuitRewardAsset is a flag for the coordinator's native asset ticker
	FlagCircuitRewardAsset = "xexd.circuit.reward_asset"
	// FlagCircuitRewardAssetDecimals is a flag for the reward asset decimal count
	FlagCircuitRewardAssetDecimals = "xexd.circuit.reward_asset_decimals"

	// Bidding configuration flags

	// FlagBidAggressive is a flag for undercutting to the floor under competition
	FlagBidAggressive = "xexd.bidding.bid_aggressive"
	// FlagBidMeek is a flag for bidding the ceiling despite competition
	FlagBidMeek = "xexd.bidding.bid_meek"
	// FlagBidPercentile is a flag for the default bid position between floor and ceiling
	FlagBidPercentile = "xexd.bidding.bid_percentile"
	// FlagOverrideNoCompetition is a flag for bidding the floor without competition
	FlagOverrideNoCompetition = "xexd.bidding.override_no_competition"
	// FlagEqualMinProfitBid is a flag for pinning outbid re-bids to the floor
	FlagEqualMinProfitBid = "xexd.bidding.equal_min_profit_bid"
	// FlagCloserPercentageBid is a flag for the per-outbid percentile step toward the floor
	FlagCloserPercentageBid = "xexd.bidding.closer_percentage_bid"

	// Pricing configuration flags

	// FlagPricingURL is a flag for the price oracle base URL
	FlagPricingURL = "xexd.pricing.url"
	// FlagPricingInterval is a flag for the oracle refresh interval
	FlagPricingInterval = "xexd.pricing.interval"

	// Instrumentation configuration flags

	// FlagPrometheus is a flag for enabling Prometheus metrics
	FlagPrometheus = "xexd.instrumentation.prometheus"
	// FlagPrometheusListenAddr is a flag for the Prometheus listen address
	FlagPrometheusListenAddr = "xexd.instrumentation.prometheus_listen_addr"
	// FlagMaxOpenConnections is a flag for the metrics connection limit
	FlagMaxOpenConnections = "xexd.instrumentation.max_open_connections"

	// Logging configuration flags

	// FlagLogLevel is a flag for specifying the log level
	FlagLogLevel = "xexd.log.level"
	// FlagLogFormat is a flag for specifying the log format
	FlagLogFormat = "xexd.log.format"
	// FlagLogTrace is a flag for enabling stack traces in error logs
	FlagLogTrace = "xexd.log.trace"
)

// DurationWrapper is a wrapper for time.Duration that implements
// encoding.TextMarshaler and encoding.TextUnmarshaler for YAML round-trips.
type DurationWrapper struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler to format the duration as text
func (d DurationWrapper) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler to parse the duration from text
func (d *DurationWrapper) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Config stores the executor daemon configuration.
type Config struct {
	// Base configuration
	RootDir string `mapstructure:"-" yaml:"-"`
	DBPath  string `mapstructure:"db_path" yaml:"db_path" comment:"Path inside the root directory where the database is located"`

	// Circuit (coordinator chain) configuration
	Circuit CircuitConfig `mapstructure:"circuit" yaml:"circuit"`

	// Target gateways the executor serves
	Gateways []GatewayConfig `mapstructure:"gateways" yaml:"gateways"`

	// Per-target admission strategies, keyed by target id
	Strategies map[string]strategy.Strategy `mapstructure:"strategies" yaml:"strategies"`

	// Global bid shaping
	Bidding bidding.Config `mapstructure:"bidding" yaml:"bidding"`

	// Price oracle configuration
	Pricing PricingConfig `mapstructure:"pricing" yaml:"pricing"`

	// Instrumentation configuration
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation" yaml:"instrumentation"`

	// Logging configuration
	Log LogConfig `mapstructure:"log" yaml:"log"`
}

// CircuitConfig describes the coordinator chain connection.
type CircuitConfig struct {
	WsURL               string `mapstructure:"ws_url" yaml:"ws_url" comment:"Coordinator chain websocket endpoint"`
	RPCURL              string `mapstructure:"rpc_url" yaml:"rpc_url" comment:"Coordinator chain signing gateway endpoint for extrinsic submission"`
	SignerKey           string `mapstructure:"signer_key" yaml:"signer_key" comment:"Executor signer key for circuit submissions"`
	SignerAddress       string `mapstructure:"signer_address" yaml:"signer_address" comment:"Executor account address on the circuit"`
	RewardAsset         string `mapstructure:"reward_asset" yaml:"reward_asset" comment:"Coordinator native asset ticker, the denomination of rewards and bids"`
	RewardAssetDecimals uint8  `mapstructure:"reward_asset_decimals" yaml:"reward_asset_decimals" comment:"Fixed-point decimal count of the reward asset"`
}

// GatewayConfig describes one target chain gateway.
type GatewayConfig struct {
	ID           string `mapstructure:"id" yaml:"id" comment:"4-byte target chain identifier"`
	RPC          string `mapstructure:"rpc" yaml:"rpc" comment:"Target chain RPC endpoint"`
	SignerKey    string `mapstructure:"signer_key" yaml:"signer_key" comment:"Signer key for target chain submissions"`
	Vendor       string `mapstructure:"vendor" yaml:"vendor" comment:"Consensus/verification identity used for light client height tracking"`
	NativeAsset  string `mapstructure:"native_asset" yaml:"native_asset" comment:"Target chain native asset ticker"`
	AssetDecimal uint8  `mapstructure:"asset_decimals" yaml:"asset_decimals" comment:"Fixed-point decimal count of the native asset"`
}

// PricingConfig describes the market-data oracle.
type PricingConfig struct {
	URL      string          `mapstructure:"url" yaml:"url" comment:"Price oracle base URL"`
	Interval DurationWrapper `mapstructure:"interval" yaml:"interval" comment:"Oracle refresh interval (duration), e.g. \"30s\", \"1m\""`
	// Assets maps an asset ticker to the oracle's identifier for it,
	// e.g. "ROC" -> "rococo".
	Assets map[string]string `mapstructure:"assets" yaml:"assets" comment:"Asset ticker to oracle identifier mapping"`
}

// LogConfig contains all logging configuration parameters
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" comment:"Log level (debug, info, warn, error)"`
	Format string `mapstructure:"format" yaml:"format" comment:"Log format (text, json)"`
	Trace  bool   `mapstructure:"trace" yaml:"trace" comment:"Enable stack traces in error logs"`
}

// Validate checks the configuration for unrecoverable setup errors. These are
// the only faults that should terminate the process with a non-zero exit.
func (c Config) Validate() error {
	if c.Circuit.WsURL == "" {
		return errors.New("circuit ws_url is required")
	}
	if c.Circuit.SignerKey == "" {
		return errors.New("circuit signer_key is required")
	}
	if c.Circuit.SignerAddress == "" {
		return errors.New("circuit signer_address is required")
	}
	if c.Circuit.RewardAsset == "" {
		return errors.New("circuit reward_asset is required")
	}
	if len(c.Gateways) == 0 {
		return errors.New("at least one gateway is required")
	}
	seen := make(map[string]struct{}, len(c.Gateways))
	for _, gw := range c.Gateways {
		if gw.ID == "" || gw.Vendor == "" {
			return fmt.Errorf("gateway %q needs both id and vendor", gw.ID)
		}
		if _, dup := seen[gw.ID]; dup {
			return fmt.Errorf("duplicate gateway id %q", gw.ID)
		}
		seen[gw.ID] = struct{}{}
	}
	if p := c.Bidding.BidPercentile; p < 0 || p > 1 {
		return fmt.Errorf("bid_percentile must be in [0,1], got %v", p)
	}
	return nil
}

// GatewayByTarget returns the gateway serving a target id.
func (c Config) GatewayByTarget(target string) (GatewayConfig, bool) {
	for _, gw := range c.Gateways {
		if gw.ID == target {
			return gw, true
		}
	}
	return GatewayConfig{}, false
}

// AddGlobalFlags registers the configuration flags common across commands.
func AddGlobalFlags(cmd *cobra.Command, appName string) {
	cmd.PersistentFlags().String(FlagLogLevel, DefaultConfig.Log.Level, "Set the log level (debug, info, warn, error)")
	cmd.PersistentFlags().String(FlagLogFormat, DefaultConfig.Log.Format, "Set the log format (text, json)")
	cmd.PersistentFlags().Bool(FlagLogTrace, DefaultConfig.Log.Trace, "Enable stack traces in error logs")
	cmd.PersistentFlags().String(FlagRootDir, DefaultRootDirWithName(appName), "Root directory for application data")
}

// AddFlags adds executor configuration options to a cobra Command.
func AddFlags(cmd *cobra.Command) {
	def := DefaultConfig

	cmd.Flags().String(FlagDBPath, def.DBPath, "path for the executor database")

	// Circuit configuration flags
	cmd.Flags().String(FlagCircuitWsURL, def.Circuit.WsURL, "coordinator chain websocket endpoint")
	cmd.Flags().String(FlagCircuitRPCURL, def.Circuit.RPCURL, "coordinator signing gateway endpoint")
	cmd.Flags().String(FlagCircuitSignerKey, def.Circuit.SignerKey, "executor signer key for circuit submissions")
	cmd.Flags().String(FlagCircuitRewardAsset, def.Circuit.RewardAsset, "coordinator native asset ticker")
	cmd.Flags().Uint8(FlagCircuitRewardAssetDecimals, def.Circuit.RewardAssetDecimals, "reward asset decimal count")

	// Bidding configuration flags
	cmd.Flags().Bool(FlagBidAggressive, def.Bidding.BidAggressive, "undercut to the floor whenever competition exists")
	cmd.Flags().Bool(FlagBidMeek, def.Bidding.BidMeek, "bid the ceiling even under competition")
	cmd.Flags().Float64(FlagBidPercentile, def.Bidding.BidPercentile, "default bid position between floor and ceiling")
	cmd.Flags().Bool(FlagOverrideNoCompetition, def.Bidding.OverrideNoCompetition, "bid the floor even without competition")
	cmd.Flags().Bool(FlagEqualMinProfitBid, def.Bidding.EqualMinProfitBid, "pin outbid re-bids to the floor")
	cmd.Flags().Float64(FlagCloserPercentageBid, def.Bidding.CloserPercentageBid, "percentile step toward the floor per lost lead")

	// Pricing configuration flags
	cmd.Flags().String(FlagPricingURL, def.Pricing.URL, "price oracle base URL")
	cmd.Flags().Duration(FlagPricingInterval, def.Pricing.Interval.Duration, "oracle refresh interval")

	// Instrumentation configuration flags
	instrDef := DefaultInstrumentationConfig()
	cmd.Flags().Bool(FlagPrometheus, instrDef.Prometheus, "enable Prometheus metrics")
	cmd.Flags().String(FlagPrometheusListenAddr, instrDef.PrometheusListenAddr, "Prometheus metrics listen address")
	cmd.Flags().Int(FlagMaxOpenConnections, instrDef.MaxOpenConnections, "maximum number of simultaneous connections for metrics")
}

// Load loads the configuration in the following order of precedence:
// 1. DefaultConfig (lowest priority)
// 2. YAML configuration file
// 3. Command line flags (highest priority)
func Load(cmd *cobra.Command, home string) (Config, error) {
	v := viper.New()

	config := DefaultConfig
	setDefaultsInViper(v, config)

	rootDirFromFlag, _ := cmd.Flags().GetString(FlagRootDir)
	if rootDirFromFlag != "" {
		config.RootDir = rootDirFromFlag
	}

	v.SetConfigName(ConfigBaseName)
	v.SetConfigType(ConfigExtension)
	if home != "" {
		v.AddConfigPath(home)
		v.AddConfigPath(filepath.Join(home, DefaultConfigDir))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) {
			return config, fmt.Errorf("error reading YAML configuration: %w", err)
		}
	}

	var flagErrs error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		flagName := strings.TrimPrefix(f.Name, "xexd.")
		if err := v.BindPFlag(flagName, f); err != nil {
			flagErrs = multierror.Append(flagErrs, err)
		}
	})
	if flagErrs != nil {
		return config, fmt.Errorf("unable to bind flags: %w", flagErrs)
	}

	if err := v.Unmarshal(&config, func(c *mapstructure.DecoderConfig) {
		c.TagName = "mapstructure"
		c.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
				if t == reflect.TypeOf(DurationWrapper{}) && f.Kind() == reflect.String {
					if str, ok := data.(string); ok {
						duration, err := time.ParseDuration(str)
						if err != nil {
							return nil, err
						}
						return DurationWrapper{Duration: duration}, nil
					}
				}
				return data, nil
			},
		)
	}); err != nil {
		return config, fmt.Errorf("unable to decode configuration: %w", err)
	}

	return config, nil
}

// setDefaultsInViper sets all the default values from Config into Viper.
func setDefaultsInViper(v *viper.Viper, config Config) {
	configMap := make(map[string]interface{})
	data, _ := json.Marshal(config)
	if err := json.Unmarshal(data, &configMap); err != nil {
		fmt.Println("error unmarshalling config", err)
	}
	for key, value := range configMap {
		v.SetDefault(key, value)
	}
}
