// Package main runs the strategy execution engine: rehydrates persisted
// instances, schedules their evaluation loops, and serves metrics until
// terminated.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"solana-strategy-engine/internal/config"
	"solana-strategy-engine/internal/engine"
	"solana-strategy-engine/internal/fee"
	"solana-strategy-engine/internal/gateway"
	"solana-strategy-engine/internal/ledger"
	"solana-strategy-engine/internal/observability"
	"solana-strategy-engine/internal/oracle"
	"solana-strategy-engine/internal/scheduler"
	"solana-strategy-engine/internal/service"
	"solana-strategy-engine/internal/signer"
	"solana-strategy-engine/internal/storage"
	chstore "solana-strategy-engine/internal/storage/clickhouse"
	"solana-strategy-engine/internal/storage/memory"
	"solana-strategy-engine/internal/storage/migrations"
	pgstore "solana-strategy-engine/internal/storage/postgres"
	"solana-strategy-engine/internal/swaprouter"
)

func main() {
	configPath := flag.String("config", os.Getenv("ENGINE_CONFIG"), "Path to YAML config file")
	flag.Parse()

	logger := log.New(os.Stdout, "[engine] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewDefaultMetrics()

	// Stores: postgres when configured, memory otherwise.
	var (
		strategies storage.StrategyStore
		grids      storage.GridStore
		feeRecords storage.FeeRecordStore
	)
	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN,
			pgstore.WithMaxConns(16),
			pgstore.WithConnectTimeout(10*time.Second))
		if err != nil {
			logger.Fatalf("connect postgres: %v", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatalf("run postgres migrations: %v", err)
		}
		strategies = pgstore.NewStrategyStore(pool)
		grids = pgstore.NewGridStore(pool)
		feeRecords = pgstore.NewFeeRecordStore(pool)
		logger.Println("using postgres storage")
	} else {
		strategies = memory.NewStrategyStore()
		grids = memory.NewGridStore()
		feeRecords = memory.NewFeeRecordStore()
		logger.Println("using in-memory storage (no postgres dsn configured)")
	}

	// Fill archive is optional; trading runs without it.
	var archive storage.FillArchive
	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			logger.Fatalf("setup clickhouse: %v", err)
		}
		defer conn.Close()
		archive = chstore.NewFillArchive(conn)
		logger.Println("fill archive enabled")
	}

	// Chain and router clients with failover endpoint lists.
	chain, err := ledger.NewRPCClient(cfg.RPCEndpoints)
	if err != nil {
		logger.Fatalf("create rpc client: %v", err)
	}
	router, err := swaprouter.NewHTTPClient(cfg.RouterEndpoints)
	if err != nil {
		logger.Fatalf("create router client: %v", err)
	}
	chain.Rotor().SetOnSwitch(func() {
		metrics.EndpointSwitches.WithLabelValues("ledger").Inc()
	})
	router.Rotor().SetOnSwitch(func() {
		metrics.EndpointSwitches.WithLabelValues("router").Inc()
	})

	// Oracle: HTTP always, websocket stream preferred when configured.
	var prices oracle.PriceOracle = oracle.NewHTTPClient(cfg.OracleEndpoint)
	if cfg.OracleWS != "" {
		mints, err := instanceMints(ctx, strategies, grids, cfg.QuoteMint)
		if err != nil {
			logger.Fatalf("collect mints for price stream: %v", err)
		}
		stream := oracle.NewStream(cfg.OracleWS, mints, nil)
		defer stream.Close()
		prices = oracle.Tiered{Primary: stream, Secondary: prices}
	}

	// Wallet.
	seed, err := hex.DecodeString(cfg.WalletKeyHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		logger.Fatalf("wallet key must be a %d-byte hex ed25519 seed", ed25519.SeedSize)
	}
	wallet, err := signer.NewLocalWallet(ed25519.NewKeyFromSeed(seed), chain)
	if err != nil {
		logger.Fatalf("create wallet: %v", err)
	}
	logger.Printf("wallet address %s", wallet.PublicAddress())

	// Execution and fee paths.
	gw := gateway.New(router, chain, wallet, metrics, gateway.DefaultConfig(cfg.QuoteMint))
	fees := fee.NewLedger(fee.DefaultConfig(cfg.FeeDestination), wallet, gw, chain, feeRecords, metrics)

	// Engines, scheduler, facade.
	engCfg := engine.Config{QuoteMint: cfg.QuoteMint, GraceInterval: cfg.GraceInterval}
	accum := engine.NewAccumulationEngine(gw, prices, strategies, fees, archive, metrics, engCfg)
	grid := engine.NewGridEngine(gw, prices, grids, fees, archive, metrics, engCfg)
	sched := scheduler.New(scheduler.Config{TickInterval: cfg.TickInterval, StartJitter: cfg.StartJitter}, metrics)
	svc := service.New(strategies, grids, accum, grid, sched, router, prices, cfg.QuoteMint)

	if err := svc.Rehydrate(ctx); err != nil {
		logger.Fatalf("rehydrate: %v", err)
	}

	// Metrics endpoint.
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: observability.Handler()}
	go func() {
		logger.Printf("metrics listening on %s", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server: %v", err)
		}
	}()

	logger.Println("engine running")
	<-ctx.Done()

	logger.Println("shutting down: joining in-flight evaluations")
	sched.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	logger.Println("shutdown complete")
}

// instanceMints gathers the asset mints of every persisted instance so the
// price stream can subscribe before evaluation starts.
func instanceMints(ctx context.Context, strategies storage.StrategyStore, grids storage.GridStore, quoteMint string) ([]string, error) {
	seen := map[string]struct{}{quoteMint: {}}

	all, err := strategies.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		seen[s.Asset.Mint] = struct{}{}
	}
	gs, err := grids.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range gs {
		seen[g.Asset.Mint] = struct{}{}
	}

	mints := make([]string, 0, len(seen))
	for m := range seen {
		mints = append(mints, m)
	}
	return mints, nil
}
