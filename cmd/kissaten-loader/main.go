package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/kissaten/internal/common"
	"github.com/ternarybob/kissaten/internal/currency"
	"github.com/ternarybob/kissaten/internal/ingest"
	"github.com/ternarybob/kissaten/internal/storage/sqlite"
)

// Exit codes: 0 success, 1 loader failure, 2 configuration error.
const (
	exitOK     = 0
	exitLoader = 1
	exitConfig = 2
)

var (
	configPath  = flag.String("config", "", "Configuration file path (TOML)")
	dataDir     = flag.String("data-dir", "", "Data root override (roasters/<slug>/<YYYYMMDD>/ tree)")
	fullRefresh = flag.Bool("full", false, "Full refresh: rebuild warehouse tables instead of incremental ingest")
	showVersion = flag.Bool("version", false, "Print version information")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *showVersion {
		fmt.Printf("kissaten-loader version %s\n", common.GetVersion())
		return exitOK
	}

	config, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}
	if *dataDir != "" {
		config.Ingest.DataDir = *dataDir
	}
	if *fullRefresh {
		config.Ingest.Incremental = false
	}
	// The loader always writes, whatever the shared config says.
	config.Storage.UseRWDB = true

	logger := common.SetupLogger(config)
	defer common.Stop()
	common.InstallCrashHandler("./logs")
	defer common.RecoverWithCrashFile()

	logger.Info().
		Str("version", common.GetFullVersion()).
		Str("data_dir", config.Ingest.DataDir).
		Bool("incremental", config.Ingest.Incremental).
		Bool("check_for_changes", config.Ingest.CheckForChanges).
		Msg("kissaten loader starting")

	db, err := sqlite.NewSQLiteDB(logger, config.SQLite())
	if err != nil {
		logger.Error().Err(err).Msg("failed to open warehouse")
		return exitLoader
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	currencySvc := currency.NewService(sqlite.NewCurrencyStorage(db.DB(), logger), config.Currency, logger)
	if err := currencySvc.RefreshIfStale(ctx, false); err != nil {
		// Missing rates degrade to null price_usd, not a failed ingest.
		logger.Warn().Err(err).Msg("currency refresh failed - proceeding with stored rates")
	}

	loader := ingest.NewLoader(db, currencySvc, config.Ingest, logger)
	stats, err := loader.Run(ctx, !config.Ingest.Incremental)
	if err != nil {
		logger.Error().Err(err).Msg("loader run failed")
		return exitLoader
	}

	logger.Info().
		Int("files_considered", stats.FilesConsidered).
		Int("files_skipped", stats.FilesSkipped).
		Int("snapshots_applied", stats.SnapshotsApplied).
		Int("snapshots_skipped", stats.SnapshotsSkipped).
		Int("diffs_applied", stats.DiffsApplied).
		Int("diffs_skipped", stats.DiffsSkipped).
		Int("beans_inserted", stats.BeansInserted).
		Int("origins_inserted", stats.OriginsInserted).
		Int64("beans_deleted", stats.BeansDeleted).
		Int("errors", len(stats.Errors)).
		Msg("loader run complete")

	return exitOK
}
