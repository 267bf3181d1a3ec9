package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/kissaten/internal/aicache"
	"github.com/ternarybob/kissaten/internal/browse"
	"github.com/ternarybob/kissaten/internal/common"
	"github.com/ternarybob/kissaten/internal/currency"
	"github.com/ternarybob/kissaten/internal/handlers"
	"github.com/ternarybob/kissaten/internal/queue"
	"github.com/ternarybob/kissaten/internal/ratelimit"
	"github.com/ternarybob/kissaten/internal/search"
	"github.com/ternarybob/kissaten/internal/server"
	"github.com/ternarybob/kissaten/internal/storage/sqlite"
)

var (
	configPath  = flag.String("config", "", "Configuration file path (TOML)")
	serverPort  = flag.Int("port", 0, "Server port (overrides config)")
	serverHost  = flag.String("host", "", "Server host (overrides config)")
	showVersion = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("kissaten-server version %s\n", common.GetVersion())
		os.Exit(0)
	}

	config, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	if *serverPort != 0 {
		config.Server.Port = *serverPort
	}
	if *serverHost != "" {
		config.Server.Host = *serverHost
	}

	logger := common.SetupLogger(config)
	defer common.Stop()
	common.InstallCrashHandler("./logs")
	defer common.RecoverWithCrashFile()

	logger.Info().
		Str("version", common.GetFullVersion()).
		Str("environment", config.Environment).
		Str("database", config.Storage.DatabasePath).
		Msg("kissaten server starting")

	db, err := sqlite.NewSQLiteDB(logger, config.SQLite())
	if err != nil {
		logger.Error().Err(err).Msg("failed to open warehouse")
		os.Exit(1)
	}
	defer db.Close()

	refs := sqlite.NewReferenceStorage(db.DB(), logger)

	currencySvc := currency.NewService(sqlite.NewCurrencyStorage(db.DB(), logger), config.Currency, logger)
	if config.Storage.UseRWDB {
		common.SafeGo(logger, "startup-currency-refresh", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := currencySvc.RefreshIfStale(ctx, false); err != nil {
				logger.Warn().Err(err).Msg("startup currency refresh failed - conversions degrade until rates arrive")
			}
		})
		cronRunner, err := currencySvc.StartScheduledRefresh(config.Currency.RefreshCron)
		if err != nil {
			logger.Error().Err(err).Msg("invalid currency refresh schedule")
			os.Exit(2)
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	searchSvc := search.NewService(db.DB(), refs, currencySvc, logger)
	browseSvc := browse.NewService(db.DB(), refs, searchSvc, logger)

	cacheStore := aicache.NewStore(sqlite.NewAICacheStorage(db.DB(), logger), logger)
	limiter := ratelimit.NewLimiter(config.RateLimit.AISearchPerMinute)
	aiTTL := time.Duration(config.AICache.DefaultTTLHours) * time.Hour

	// Background jobs need write access; a read-only snapshot serves
	// queries only and answers 503 on the admin routes.
	var queueMgr *queue.Manager
	if config.Storage.UseRWDB {
		queueMgr, err = queue.NewManager(db.DB(), "kissaten_jobs")
		if err != nil {
			logger.Error().Err(err).Msg("failed to initialize job queue")
			os.Exit(1)
		}
		defer queueMgr.Close()

		queueCfg, err := queue.ConfigFromCommon(config.Queue)
		if err != nil {
			logger.Error().Err(err).Msg("invalid queue configuration")
			os.Exit(2)
		}
		workers := queue.NewWorkerPool(queueMgr, queueCfg, logger)
		workers.RegisterHandler(queue.JobKindReingest, queue.NewReingestHandler(db, currencySvc, config.Ingest, logger))
		workers.RegisterHandler(queue.JobKindRecluster, queue.NewReclusterHandler(db, config.Ingest.FarmMappingsFile, config.Canon.NameSimilarityThreshold, logger))
		workers.Start()
		defer workers.Stop()
	}

	// The AI translation provider is wired here when configured; without
	// one, /v1/ai/search serves cached translations only.
	var translator handlers.Translator

	srv := server.New(config, logger, server.Handlers{
		Search:    handlers.NewSearchHandler(searchSvc, logger),
		Origins:   handlers.NewOriginsHandler(browseSvc, logger),
		Varietals: handlers.NewVarietalsHandler(browseSvc, searchSvc, logger),
		Currency:  handlers.NewCurrencyHandler(currencySvc, logger),
		AI:        handlers.NewAIHandler(cacheStore, translator, limiter, aiTTL, logger),
		Admin:     handlers.NewAdminHandler(queueMgr, db.DB(), config.Ingest.FarmMappingsFile, config.Canon.NameSimilarityThreshold, logger),
		API:       handlers.NewAPIHandler(browseSvc, logger),
	})

	errCh := make(chan error, 1)
	common.SafeGo(logger, "http-server", func() {
		errCh <- srv.Start()
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server exited with error")
			os.Exit(1)
		}
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
}
