package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwtly10/barsim/internal/backtest"
	"github.com/jwtly10/barsim/internal/binance"
	"github.com/jwtly10/barsim/internal/cache"
	"github.com/jwtly10/barsim/internal/config"
	"github.com/jwtly10/barsim/internal/dataset"
	"github.com/jwtly10/barsim/internal/logging"
	"github.com/jwtly10/barsim/internal/oanda"
	"github.com/jwtly10/barsim/internal/storage"
	"github.com/jwtly10/barsim/internal/strategy"
	"github.com/jwtly10/barsim/internal/tradingview"
	"github.com/jwtly10/barsim/internal/types"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Replay failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.SetDefault(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var repo *storage.Repository
	if cfg.DatabaseDSN != "" {
		db, err := storage.Open(cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		repo = storage.NewRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
	}

	source, err := newSource(cfg, repo)
	if err != nil {
		return err
	}

	builder := &dataset.Builder{
		Source:      source,
		Resolutions: cfg.Resolutions,
	}
	ds, err := builder.Build(ctx, cfg.Symbols, cfg.From, cfg.To)
	if err != nil {
		return fmt.Errorf("failed to initialise bar data: %w", err)
	}

	engine, err := backtest.NewEngine(ds, backtest.Config{
		BuyFeeRate:  cfg.BuyFeeRate,
		SellFeeRate: cfg.SellFeeRate,
		Rounding:    cfg.Rounding,
		InitialCash: cfg.InitialCash,
	})
	if err != nil {
		return err
	}
	slog.Info("Loaded dataset", "symbols", engine.Symbols(), "bars", engine.Len(), "from", engine.Timestamp())

	results, err := engine.Run(strategy.NewBuyAndHold(cfg.Symbols, types.Close, strategy.DefaultPrecision))
	if err != nil {
		return err
	}

	stats := results.Calculate()
	stats.Print()

	fmt.Println()
	results.PrintFillsBetween(len(results.Fills)-5, len(results.Fills))

	tradingview.DumpPineScript(results.Fills)

	if repo != nil {
		runID := fmt.Sprintf("buy-and-hold-%s", time.Now().UTC().Format("20060102T150405"))
		if err := repo.SaveHistory(ctx, runID, results.History); err != nil {
			return err
		}
		slog.Info("Saved replay", "run_id", runID)
	}
	return nil
}

// newSource picks the configured provider. Vendor sources sit behind the
// parquet cache and, with a database configured, are mirrored into it.
func newSource(cfg *config.Config, repo *storage.Repository) (dataset.BarSource, error) {
	var upstream dataset.BarSource
	switch cfg.Provider {
	case config.ProviderPostgres:
		if repo == nil {
			return nil, fmt.Errorf("postgres provider needs DATABASE_DSN")
		}
		return repo, nil
	case config.ProviderOanda:
		if cfg.Oanda.AccountID == "" || cfg.Oanda.APIKey == "" {
			return nil, fmt.Errorf("OANDA_ACCOUNT_ID and OANDA_API_KEY must be set")
		}
		svc := oanda.NewOandaService(cfg.Oanda.AccountID, cfg.Oanda.APIKey, cfg.Oanda.APIURL)
		upstream = svc.Source(oanda.CandlestickGranularity(cfg.Granularity))
	case config.ProviderBinance:
		upstream = binance.NewSource(cfg.Binance.APIKey, cfg.Binance.SecretKey, cfg.Granularity)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	if repo != nil {
		upstream = repo.Mirror(upstream)
	}
	return cache.New(upstream, cfg.CacheDir, cfg.CacheMaxAge, cfg.ForceUpdate), nil
}
