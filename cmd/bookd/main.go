package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/meridian-dex/meridian/params"
	"github.com/meridian-dex/meridian/pkg/api"
	"github.com/meridian-dex/meridian/pkg/clob"
	"github.com/meridian-dex/meridian/pkg/exchange"
	"github.com/meridian-dex/meridian/pkg/ext"
	"github.com/meridian-dex/meridian/pkg/metrics"
	"github.com/meridian-dex/meridian/pkg/storage"
	"github.com/meridian-dex/meridian/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("") // "" means load .env from current directory

	var (
		logger *zap.Logger
		err    error
	)
	if cfg.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.LogFile)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// ---- Storage ----
	var store *storage.Store
	if cfg.Storage.DataDir != "" {
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			logger.Fatal("data_dir_failed", zap.Error(err))
		}
		store, err = storage.Open(filepath.Join(cfg.Storage.DataDir, "db"))
		if err != nil {
			logger.Fatal("storage_open_failed", zap.Error(err))
		}
		defer store.Close()
	}

	// ---- Exchange ----
	m := metrics.New(prometheus.DefaultRegisterer)
	x := exchange.New(store, exchange.NopTransferer{}, m, exchange.Config{
		MaxFills: cfg.Exchange.MaxFills,
		FeeSink:  cfg.Exchange.FeeSink,
	}, logger)

	// Devnet markets: one spot pair plus one quote-margined perp.
	spotParams := clob.DefaultMarketParams()
	spot, err := clob.NewMarket("MERA-USDC", "MERA", "USDC", spotParams)
	if err != nil {
		logger.Fatal("market_init_failed", zap.Error(err))
	}
	if err := x.AddMarket(spot, nil); err != nil {
		logger.Fatal("market_add_failed", zap.Error(err))
	}

	perpParams := clob.DefaultMarketParams()
	perpParams.Type = clob.Perpetual
	perpParams.InitialMarginBps = 1_000 // 10x max leverage
	perp, err := clob.NewMarket("MERA-PERP", "MERA", "USDC", perpParams)
	if err != nil {
		logger.Fatal("market_init_failed", zap.Error(err))
	}
	positions := ext.NewPositionBook()
	if err := x.AddMarket(perp, positions); err != nil {
		logger.Fatal("market_add_failed", zap.Error(err))
	}

	// ---- Hooks ----
	oracle := ext.NewStaticOracle()
	installHooks := []struct {
		name string
		err  error
	}{
		{"dynamic-fee", x.InstallHook(ext.NewDynamicFeeHook([]ext.FeeTier{
			{MinVolume: 0, TakerBps: 5},
			{MinVolume: 10_000_000_000, TakerBps: 4},
			{MinVolume: 100_000_000_000, TakerBps: 3},
		}))},
		{"volume-tracker", x.InstallHook(ext.NewVolumeTrackerHook())},
		{"margin-guard", x.InstallHook(ext.NewMarginHook(oracle, 2_000))},
	}
	for _, h := range installHooks {
		if h.err != nil {
			logger.Fatal("hook_install_failed", zap.String("hook", h.name), zap.Error(h.err))
		}
	}

	if err := x.Load(); err != nil {
		logger.Fatal("state_load_failed", zap.Error(err))
	}

	// ---- Servers ----
	go metrics.Serve(cfg.Server.MetricsAddr)

	apiServer := api.NewServer(x, logger)
	go func() {
		if err := apiServer.Start(cfg.Server.APIAddr); err != nil {
			logger.Fatal("api_server_failed", zap.Error(err))
		}
	}()

	logger.Info("bookd_started",
		zap.String("api_addr", cfg.Server.APIAddr),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
		zap.Int("markets", x.Registry().Count()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("bookd_shutting_down")
}
