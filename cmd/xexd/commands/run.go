package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xexd/xexd/bidding"
	"github.com/xexd/xexd/exec"
	"github.com/xexd/xexd/pkg/config"
	"github.com/xexd/xexd/pkg/log"
	"github.com/xexd/xexd/pkg/rpc"
	"github.com/xexd/xexd/pkg/store"
	"github.com/xexd/xexd/pricing"
	"github.com/xexd/xexd/relayer"
	"github.com/xexd/xexd/strategy"
)

// nonceResyncInterval bounds how long a drifted nonce counter can keep
// submissions failing before it is reconciled against chain state.
const nonceResyncInterval = 5 * time.Minute

// NewRunCmd returns the command that runs the executor daemon.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"start"},
		Short:   "Run the executor daemon",
		RunE:    runExecutor,
	}
	config.AddFlags(cmd)
	return cmd
}

func runExecutor(cmd *cobra.Command, args []string) error {
	home, err := cmd.Flags().GetString(config.FlagRootDir)
	if err != nil {
		return fmt.Errorf("error reading home flag: %w", err)
	}

	cfg, err := config.Load(cmd, home)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := setupLogger(cfg.Log)

	db, err := store.NewDefaultKVStore(cfg.RootDir, cfg.DBPath, AppName)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	st := store.New(db)
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "error", err)
		}
	}()

	metrics := exec.NopMetrics()
	if cfg.Instrumentation.IsPrometheusEnabled() {
		metrics = exec.PrometheusMetrics(cfg.Instrumentation.Namespace)
	}

	priceEngine := pricing.NewEngine(
		cfg.Pricing.URL,
		cfg.Pricing.Interval.Duration,
		cfg.Pricing.Assets,
		logger.With("module", "pricing"),
		func() { metrics.PriceOracleErrors.Add(1) },
	)

	listener := relayer.NewCircuitListener(cfg.Circuit.WsURL, logger.With("module", "circuit"))
	circuit := relayer.NewCircuitClient(cfg.Circuit.RPCURL, cfg.Circuit.SignerAddress, logger.With("module", "circuit"))

	relayers := make(map[string]relayer.Relayer, len(cfg.Gateways))
	targets := make([]*relayer.TargetClient, 0, len(cfg.Gateways))
	estimator := relayer.NewEstimatorMux()
	gateways := make([]exec.Gateway, 0, len(cfg.Gateways))
	for _, gw := range cfg.Gateways {
		client := relayer.NewTargetClient(gw.RPC, gw.Vendor, gw.SignerKey, logger.With("module", "relayer", "target", gw.ID))
		relayers[gw.Vendor] = client
		targets = append(targets, client)
		estimator.Register(gw.ID, client)
		gateways = append(gateways, exec.Gateway{
			ID:             gw.ID,
			Vendor:         gw.Vendor,
			NativeAsset:    gw.NativeAsset,
			NativeDecimals: gw.AssetDecimal,
		})
	}

	manager := exec.NewManager(exec.ManagerConfig{
		Logger:         logger.With("module", "exec"),
		Metrics:        metrics,
		Store:          st,
		Strategy:       strategy.NewEngine(cfg.Strategies, logger.With("module", "strategy")),
		Bidding:        bidding.NewEngine(cfg.Bidding),
		Pricing:        priceEngine,
		Circuit:        circuit,
		Relayers:       relayers,
		Estimator:      estimator,
		Gateways:       gateways,
		Signer:         cfg.Circuit.SignerAddress,
		RewardAsset:    cfg.Circuit.RewardAsset,
		RewardDecimals: cfg.Circuit.RewardAssetDecimals,
		CircuitEvents:  listener.Events(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Run(ctx) })
	g.Go(func() error { return priceEngine.Run(ctx) })
	g.Go(func() error { return manager.Run(ctx) })
	for _, target := range targets {
		target := target
		g.Go(func() error { return target.RunNonceResync(ctx, nonceResyncInterval) })
	}
	if cfg.Instrumentation.IsPrometheusEnabled() {
		server := rpc.NewServer(cfg.Instrumentation, logger.With("module", "rpc"), func() any { return manager.Status() })
		g.Go(func() error { return server.Run(ctx) })
	}

	logger.Info("executor started",
		"signer", cfg.Circuit.SignerAddress,
		"gateways", len(cfg.Gateways),
		"reward_asset", cfg.Circuit.RewardAsset)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("executor stopped")
	return nil
}

func setupLogger(cfg config.LogConfig) log.Logger {
	opts := []log.Option{
		log.LevelOption(cfg.Level),
		log.TraceOption(cfg.Trace),
	}
	if cfg.Format == "json" {
		opts = append(opts, log.OutputJSONOption())
	}
	return log.NewLogger(os.Stderr, opts...)
}
