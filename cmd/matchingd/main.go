// Command matchingd runs the matching core as a standalone process:
// loads configuration, opens the database, wires the Order/Trade/Balance
// Stores, Event Publisher, Matching Engine, and websocket/HTTP transport
// through explicit constructors, and drains in flight work on SIGTERM/SIGINT.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kairostrade/matchingcore/internal/balance"
	"github.com/kairostrade/matchingcore/internal/config"
	"github.com/kairostrade/matchingcore/internal/db"
	"github.com/kairostrade/matchingcore/internal/events"
	"github.com/kairostrade/matchingcore/internal/logging"
	"github.com/kairostrade/matchingcore/internal/matching"
	"github.com/kairostrade/matchingcore/internal/metrics"
	"github.com/kairostrade/matchingcore/internal/orderstore"
	"github.com/kairostrade/matchingcore/internal/symbolreg"
	httptransport "github.com/kairostrade/matchingcore/internal/transport/http"
	"github.com/kairostrade/matchingcore/internal/transport/ws"
	"github.com/kairostrade/matchingcore/internal/tradestore"
)

func main() {
	configPath := flag.String("config", os.Getenv("MATCHINGCORE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "matchingd: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("matchingd exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	gormDB, err := db.Connect(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(gormDB); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	registry := symbolreg.New()
	for _, sym := range cfg.Symbols {
		registry.Register(symbolreg.Pair{Symbol: sym.Symbol, Base: sym.Base, Quote: sym.Quote})
	}

	balances := balance.New(gormDB, logger)
	orders := orderstore.New(gormDB, logger)
	trades := tradestore.New(gormDB, logger)
	publisher := events.New(logger)
	defer publisher.Close()

	matchingCfg := matching.Config{
		CommissionRate:              decimal.NewFromFloat(cfg.Matching.CommissionRate),
		CommissionIncrementExponent: cfg.Matching.CommissionIncrementExponent,
		FeeAccount:                  cfg.Matching.FeeAccount,
		MarketBuySlippageCap:        decimal.NewFromFloat(cfg.Matching.MarketBuySlippageCap),
		QueueCapacity:               cfg.Matching.QueueCapacity,
		CommandTimeout:              cfg.Matching.CommandTimeout,
	}

	engine := matching.New(registry, balances, orders, trades, publisher, matchingCfg, logger)

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()
	if err := engine.Start(startCtx); err != nil {
		return fmt.Errorf("start matching engine: %w", err)
	}
	logger.Info("matching engine started", zap.Strings("symbols", registry.Symbols()))

	collector := metrics.New(logger)
	statsCtx, statsCancel := context.WithCancel(context.Background())
	defer statsCancel()
	go runStatsLoop(statsCtx, engine, collector)

	wsManager := ws.New(publisher, cfg.WebSocket, logger, collector)
	server := httptransport.New(cfg, engine, wsManager, logger)
	server.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	statsCancel()
	engine.Shutdown()
	logger.Info("matching engine drained, shutdown complete")
	return nil
}

// runStatsLoop periodically snapshots every symbol engine's Stats onto the
// Prometheus gauges, since the engine itself has no push-based observer.
func runStatsLoop(ctx context.Context, engine *matching.Engine, collector *metrics.Collector) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collector.ObserveEngineStats(engine.Stats())
		}
	}
}
