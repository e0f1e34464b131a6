// Command router runs the on-chain arbitrage scanner/executor, or
// validates a configuration file without connecting to any feed.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kalebmora/ringrouter/config"
	"github.com/kalebmora/ringrouter/internal/adapters/bundlesender"
	"github.com/kalebmora/ringrouter/internal/adapters/chainstore"
	"github.com/kalebmora/ringrouter/internal/adapters/dexupdater"
	"github.com/kalebmora/ringrouter/internal/adapters/feed/wsfeed"
	"github.com/kalebmora/ringrouter/internal/adapters/hotmints"
	"github.com/kalebmora/ringrouter/internal/adapters/keystore"
	"github.com/kalebmora/ringrouter/internal/adapters/storage"
	"github.com/kalebmora/ringrouter/internal/application/instructions"
	"github.com/kalebmora/ringrouter/internal/application/ringexec"
	"github.com/kalebmora/ringrouter/internal/domain"
	"github.com/kalebmora/ringrouter/internal/logging"
	"github.com/kalebmora/ringrouter/internal/metrics"
	"github.com/kalebmora/ringrouter/internal/orchestrator"
	"github.com/kalebmora/ringrouter/internal/ports"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "router",
		Short: "On-chain arbitrage routing scanner and executor",
	}
	root.AddCommand(newRunCmd(), newValidateConfigCmd(), newReplayCycleCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <config.yaml> <encrypted-private-key>",
		Short: "Run the router against a live account feed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRouter(args[0], args[1])
		},
	}
}

func newValidateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config <config.yaml>",
		Short: "Parse and validate a configuration file without connecting to any feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("config OK: %d dex(es), %d trading mint(s), metrics on %s\n",
				len(cfg.Dexes), len(cfg.Ring.TradingMints), cfg.Metrics.ListenAddr)
			return nil
		},
	}
}

func newReplayCycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay-cycle <config.yaml> <ring-id>",
		Short: "Print the most recently audit-logged cycle for a ring, without connecting to any feed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return replayCycle(args[0], args[1])
		},
	}
}

func replayCycle(configPath, ringID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	auditStore, err := storage.NewSQLiteAuditStore(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	defer auditStore.Close()

	route, found, err := auditStore.LatestRoute(context.Background(), ringID)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if !found {
		return fmt.Errorf("router: no audited route found for ring %q", ringID)
	}

	fmt.Printf("ring=%s trading_mint=%s hops=%d in=%d out=%d gain=%d slot=%d emitted_at=%s\n",
		route.RingID, route.TradingMint, route.HopCount, route.InAmount, route.OutAmount,
		route.Gain, route.Slot, route.EmittedAt.Format("2006-01-02T15:04:05Z"))
	return nil
}

func runRouter(configPath, keyPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	defer log.Sync()

	fmt.Fprint(os.Stderr, "passphrase: ")
	passphrase, err := bufio.NewReader(os.Stdin).ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("router: read passphrase: %w", err)
	}
	signer, err := keystore.Load(keyPath, trimNewline(passphrase))
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mx := metrics.New()
	store := chainstore.New()

	tradingMints, err := parseMints(cfg.Ring.TradingMints)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	graph := domain.NewGraph()
	// A production deployment registers DEX plugins here via
	// graph.AddEdge for every pool the configured DEXes expose; the
	// plugin contract (domain.Dex / domain.DexEdge) is an external
	// collaborator this repository defines but does not ship concrete
	// implementations of.

	executor := ringexec.New(ringexec.Config{
		Graph:         graph,
		TradingMints:  tradingMints,
		MaxPathLength: cfg.Ring.MaxPathLength,
		InAmounts:     cfg.Ring.InAmounts,
		MinGain:       cfg.Ring.MinGainLamports,
	}, log, mx)
	log.Info("derived rings", zap.Int("count", executor.RingCount()))

	alwaysHot, err := parseMints(cfg.HotMints.AlwaysHot)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	hotCache := hotmints.New(hotmints.Config{AlwaysHot: alwaysHot, KeepLatestCount: cfg.HotMints.KeepLatestCount})

	senderMode := bundlesender.Serial
	if cfg.Sender.Mode == "parallel" {
		senderMode = bundlesender.Parallel
	}
	sender := bundlesender.New(bundlesender.Config{
		Name:                          "ringrouter",
		Signer:                        signer,
		JitoURLs:                      cfg.Sender.JitoURLs,
		Mode:                          senderMode,
		TipBps:                        cfg.Sender.TipBps,
		MaxTip:                        cfg.Sender.MaxTipLamports,
		ComputeUnitPriceMicroLamports: cfg.Sender.ComputeUnitPriceMicroLamports,
		RateLimitPerSecond:            cfg.Sender.RateLimitPerSecond,
	}, log, mx)

	auditStore, err := storage.NewSQLiteAuditStore(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	defer auditStore.Close()

	feed := wsfeed.New(cfg.Feed.ListenAddr, log)
	go func() {
		if err := feed.ListenAndServe(); err != nil {
			log.Warn("dev feed server stopped", zap.Error(err))
		}
	}()
	defer feed.Shutdown(context.Background())

	var updaters []*dexupdater.Updater
	feedsByUpdater := make(map[*dexupdater.Updater]ports.AccountFeed)
	// Concrete per-DEX updaters are constructed once DEX plugins are
	// registered above; with none configured the orchestrator still
	// runs the ring executor and metrics server so operators can
	// validate wiring end to end against the dev feed.

	orch := orchestrator.New(log, updaters, feedsByUpdater, executor, hotCache, sender, store, auditStore,
		map[string]instructions.DexInstructionBuilder{})

	metricsServer := metrics.NewServer(cfg.Metrics.ListenAddr, func() bool { return true })
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	defer metricsServer.Shutdown(context.Background())

	log.Info("router starting", zap.String("metrics_addr", cfg.Metrics.ListenAddr))
	return orch.Run(ctx)
}

func parseMints(hexes []string) ([]domain.Mint, error) {
	mints := make([]domain.Mint, 0, len(hexes))
	for _, h := range hexes {
		m, err := domain.MintFromHex(h)
		if err != nil {
			return nil, err
		}
		mints = append(mints, m)
	}
	return mints, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
