// Package main runs the wallet engine: the sponsored-transaction server
// that prepares, sponsors, submits, and reconciles wallet operations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"github.com/Confio-Network/wallet-engine/internal/balance"
	"github.com/Confio-Network/wallet-engine/internal/chain"
	"github.com/Confio-Network/wallet-engine/internal/config"
	"github.com/Confio-Network/wallet-engine/internal/logging"
	"github.com/Confio-Network/wallet-engine/internal/onramp"
	"github.com/Confio-Network/wallet-engine/internal/reconciler"
	"github.com/Confio-Network/wallet-engine/internal/scanner"
	"github.com/Confio-Network/wallet-engine/internal/server"
	"github.com/Confio-Network/wallet-engine/internal/session"
	"github.com/Confio-Network/wallet-engine/internal/signer"
	"github.com/Confio-Network/wallet-engine/internal/sponsor"
	"github.com/Confio-Network/wallet-engine/internal/store"
	"github.com/Confio-Network/wallet-engine/internal/submitter"
	"github.com/Confio-Network/wallet-engine/internal/txbuilder"
	"github.com/Confio-Network/wallet-engine/internal/worker"
)

const (
	serviceName = "wallet-engine"
	version     = "1.0.0"

	staleRefreshInterval = time.Minute
	// preparedSweepSpec fails orphaned PENDING_SIG rows every ten minutes.
	preparedSweepSpec = "*/10 * * * *"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config overlay")
	flag.Parse()

	// Missing .env is fine; containers inject the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(serviceName, cfg.Logging.Level, cfg.Logging.Format)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error(ctx, "engine exited", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	gw, err := chain.NewClient(chain.Config{
		NodeURL:            cfg.Node.URL,
		NodeAuthHeader:     cfg.Node.AuthHeader,
		NodeAuthToken:      cfg.Node.AuthToken,
		NodeFallbackURL:    cfg.Node.FallbackURL,
		IndexerURL:         cfg.Indexer.URL,
		IndexerAuthHeader:  cfg.Indexer.AuthHeader,
		IndexerAuthToken:   cfg.Indexer.AuthToken,
		IndexerFallbackURL: cfg.Indexer.FallbackURL,
	})
	if err != nil {
		return fmt.Errorf("create chain gateway: %w", err)
	}

	sponsorSigner, err := signer.FromKeySource(cfg.Sponsor.KeySource)
	if err != nil {
		return fmt.Errorf("load sponsor key: %w", err)
	}
	if err := signer.AssertMatchesAddress(sponsorSigner, cfg.Sponsor.Address); err != nil {
		return fmt.Errorf("sponsor key mismatch: %w", err)
	}

	db, err := store.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	st := store.New(db)

	kv := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer kv.Close()
	if err := kv.Ping(ctx).Err(); err != nil {
		logger.Warn(ctx, "redis unreachable at startup, caching degraded", logging.Fields{
			"addr": cfg.Redis.Addr, "error": err.Error(),
		})
	}

	cache := balance.New(balance.Config{
		KV:            kv,
		Store:         st,
		Gateway:       gw,
		TrackedAssets: cfg.TrackedAssetIDs(),
		PresaleAppID:  cfg.Apps.PresaleAppID,
		Logger:        logger,
	})

	builder := txbuilder.New(txbuilder.Config{
		Gateway:       gw,
		Sponsor:       sponsorSigner,
		USDCAssetID:   cfg.Assets.USDCAssetID,
		CUSDAssetID:   cfg.Assets.CUSDAssetID,
		ConfioAssetID: cfg.Assets.ConfioAssetID,
		CUSDAppID:     cfg.Apps.CUSDAppID,
		InviteAppID:   cfg.Apps.InviteAppID,
		Logger:        logger,
	})

	sponsorSvc := sponsor.New(sponsor.Config{
		Gateway:       gw,
		KV:            kv,
		Address:       cfg.Sponsor.Address,
		MinReserve:    cfg.Sponsor.MinBalance,
		WarnThreshold: cfg.Sponsor.WarnThreshold,
		Logger:        logger,
	})

	sub := submitter.New(submitter.Config{
		Gateway:       gw,
		Store:         st,
		Cache:         cache,
		ConfirmRounds: cfg.Session.ConfirmRounds,
		Logger:        logger,
	})

	sessionSvc := session.NewService(session.ServiceConfig{
		Gateway:     gw,
		Builder:     builder,
		Sponsor:     sponsorSvc,
		Submitter:   sub,
		Store:       st,
		USDCAssetID: cfg.Assets.USDCAssetID,
		CUSDAssetID: cfg.Assets.CUSDAssetID,
		ConfioID:    cfg.Assets.ConfioAssetID,
		PreparedTTL: cfg.Session.PreparedTTL,
		Logger:      logger,
	})
	sessionHandler := session.NewHandler(session.HandlerConfig{
		Service:     sessionSvc,
		JWTSecret:   []byte(cfg.Session.JWTSecret),
		Keepalive:   cfg.Session.Keepalive,
		IdleTimeout: cfg.Session.IdleTimeout,
		Logger:      logger,
	})

	scan := scanner.New(scanner.Config{
		Gateway:        gw,
		Store:          st,
		SponsorAddr:    cfg.Sponsor.Address,
		PageLimit:      cfg.Scanner.PageLimit,
		LookbackRounds: cfg.Scanner.LookbackRounds,
		PagesPerSecond: cfg.Scanner.PagesPerSecond,
		Logger:         logger,
	})

	recon := reconciler.New(reconciler.Config{
		Store:          st,
		Cache:          cache,
		StaleBatch:     cfg.Reconcile.StaleRefreshBatch,
		RateLimitDelay: cfg.Reconcile.RateLimitDelay,
		Logger:         logger,
	})

	host := worker.New(logger)
	for _, assetID := range cfg.TrackedAssetIDs() {
		id := assetID
		host.AddTickerWorker(fmt.Sprintf("scan_asset_%d", id), cfg.Scanner.Interval,
			func(ctx context.Context) error { return scan.ScanAsset(ctx, id) })
	}
	host.AddTickerWorker("stale_balance_refresh", staleRefreshInterval, recon.RefreshStaleBalances)
	host.AddTickerWorker("full_reconcile", cfg.Reconcile.FullInterval, recon.ReconcileAll)

	if cfg.OnRamp.BaseURL != "" {
		poller := onramp.New(onramp.Config{
			Provider: onramp.NewHTTPProvider(cfg.OnRamp.BaseURL, cfg.OnRamp.APIKey, 0),
			Store:    st,
			Logger:   logger,
		})
		host.AddTickerWorker("onramp_poll", cfg.OnRamp.PollInterval, poller.Poll)
	}

	if err := host.AddCronJob("sweep_stale_prepared", preparedSweepSpec, func(ctx context.Context) error {
		dropped := sessionSvc.SweepPrepared()
		swept, err := st.SweepStalePrepared(ctx, cfg.Session.PreparedTTL)
		if err != nil {
			return err
		}
		if dropped > 0 || swept > 0 {
			logger.Info(ctx, "swept stale prepared groups", logging.Fields{
				"memory": dropped, "rows": swept,
			})
		}
		return nil
	}); err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:      cfg.Server.Addr,
		Name:      serviceName,
		Version:   version,
		Gateway:   gw,
		DB:        db,
		Sponsor:   sponsorSvc,
		Session:   sessionHandler,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		Stats: func() map[string]any {
			sponsored, rejected := sponsorSvc.Counters()
			return map[string]any{
				"workers":            host.WorkerCount(),
				"sponsored_ops":      sponsored,
				"rejected_ops":       rejected,
				"tracked_assets":     len(cfg.TrackedAssetIDs()),
				"onramp_enabled":     cfg.OnRamp.BaseURL != "",
				"confirm_rounds":     cfg.Session.ConfirmRounds,
				"prepared_ttl_hours": cfg.Session.PreparedTTL.Hours(),
			}
		},
		Logger: logger,
	})

	host.Start(ctx)
	defer host.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	logger.Info(ctx, "wallet engine started", logging.Fields{
		"addr":    cfg.Server.Addr,
		"sponsor": cfg.Sponsor.Address,
		"assets":  cfg.TrackedAssetIDs(),
	})

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received", nil)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown incomplete", logging.Fields{"error": err.Error()})
	}
	return nil
}
