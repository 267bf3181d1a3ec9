package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/common"
	"github.com/ternarybob/kissaten/internal/currency"
	"github.com/ternarybob/kissaten/internal/dedup"
	"github.com/ternarybob/kissaten/internal/ingest"
	"github.com/ternarybob/kissaten/internal/storage/sqlite"
)

// EnqueueReingest schedules a Warehouse Loader pass over dataDir.
func EnqueueReingest(ctx context.Context, mgr *Manager, dataDir string, incremental bool) error {
	payload, err := json.Marshal(ReingestPayload{DataDir: dataDir, Incremental: incremental})
	if err != nil {
		return err
	}
	return mgr.Enqueue(ctx, Message{
		JobID:   common.NewID("job"),
		Type:    JobKindReingest,
		Payload: payload,
	})
}

// EnqueueRecluster schedules a Farm Deduplication Core pass. An empty
// regionSlug reclusters every region known for country; an empty country
// reclusters every country.
func EnqueueRecluster(ctx context.Context, mgr *Manager, country, regionSlug string) error {
	payload, err := json.Marshal(ReclusterPayload{Country: country, RegionSlug: regionSlug})
	if err != nil {
		return err
	}
	return mgr.Enqueue(ctx, Message{
		JobID:   common.NewID("job"),
		Type:    JobKindRecluster,
		Payload: payload,
	})
}

// NewReingestHandler builds the reingest job handler. baseCfg supplies
// every loader setting except the data root and incremental flag, which
// the job payload overrides per run.
func NewReingestHandler(db *sqlite.SQLiteDB, curr *currency.Service, baseCfg common.IngestConfig, logger arbor.ILogger) JobHandler {
	return func(ctx context.Context, msg *Message) error {
		var payload ReingestPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decoding reingest payload: %w", err)
		}

		cfg := baseCfg
		if payload.DataDir != "" {
			cfg.DataDir = payload.DataDir
		}

		loader := ingest.NewLoader(db, curr, cfg, logger)
		stats, err := loader.Run(ctx, !payload.Incremental)
		if err != nil {
			return fmt.Errorf("reingest pass over %s: %w", cfg.DataDir, err)
		}
		logger.Info().Str("job_id", msg.JobID).Str("data_dir", cfg.DataDir).Str("stats", fmt.Sprintf("%+v", stats)).Msg("reingest job completed")
		return nil
	}
}

// NewReclusterHandler builds the recluster job handler.
func NewReclusterHandler(db *sqlite.SQLiteDB, mappingsPath string, nameThreshold float64, logger arbor.ILogger) JobHandler {
	return func(ctx context.Context, msg *Message) error {
		var payload ReclusterPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decoding recluster payload: %w", err)
		}

		if payload.RegionSlug == "" {
			n, err := dedup.RunAll(ctx, db.DB(), logger, mappingsPath, payload.Country, nameThreshold)
			if err != nil {
				return fmt.Errorf("reclustering all regions for country %q: %w", payload.Country, err)
			}
			logger.Info().Str("job_id", msg.JobID).Str("country", payload.Country).Int("regions", n).Msg("recluster job completed")
			return nil
		}

		clusters, err := dedup.RunForRegion(ctx, db.DB(), logger, mappingsPath, payload.Country, payload.RegionSlug, nameThreshold)
		if err != nil {
			return fmt.Errorf("reclustering %s/%s: %w", payload.Country, payload.RegionSlug, err)
		}
		logger.Info().Str("job_id", msg.JobID).Str("country", payload.Country).Str("region", payload.RegionSlug).
			Int("clusters", len(clusters)).Msg("recluster job completed")
		return nil
	}
}
