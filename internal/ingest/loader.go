package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ternarybob/kissaten/internal/apperr"
	"github.com/ternarybob/kissaten/internal/canon"
	"github.com/ternarybob/kissaten/internal/common"
	"github.com/ternarybob/kissaten/internal/currency"
	"github.com/ternarybob/kissaten/internal/models"
	"github.com/ternarybob/kissaten/internal/storage/sqlite"
)

// Loader runs one Warehouse Loader pass (§4.3) over a data root. It is not
// safe for concurrent Run calls against the same database.
type Loader struct {
	db       *sqlite.SQLiteDB
	ledger   *sqlite.LedgerStorage
	beans    *sqlite.BeanStorage
	origins  *sqlite.OriginStorage
	roasters *sqlite.RoasterStorage
	refs     *sqlite.ReferenceStorage
	currency *currency.Service
	logger   arbor.ILogger
	cfg      common.IngestConfig

	regionTable    *canon.RegionTable
	farmTable      *canon.FarmTable
	roasterByDir   map[string]models.Roaster
	countryCodes   []models.CountryCode
}

// NewLoader wires a Loader against an already-open warehouse connection.
func NewLoader(db *sqlite.SQLiteDB, curr *currency.Service, cfg common.IngestConfig, logger arbor.ILogger) *Loader {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Loader{
		db:       db,
		ledger:   sqlite.NewLedgerStorage(db.DB(), logger),
		beans:    sqlite.NewBeanStorage(db.DB(), logger),
		origins:  sqlite.NewOriginStorage(db.DB(), logger),
		roasters: sqlite.NewRoasterStorage(db.DB(), logger),
		refs:     sqlite.NewReferenceStorage(db.DB(), logger),
		currency: curr,
		logger:   logger,
		cfg:      cfg,
	}
}

// fileEntry is one discovered *.json or *.diffjson artifact under the data
// root, with the path metadata §4.3 step 4 derives from it.
type fileEntry struct {
	absPath          string
	relPath          string
	roasterDirectory string
	scrapeDate       string // YYYYMMDD path segment
	isDiff           bool
}

var diffSuffix = ".diffjson"

var trailingSixDigits = regexp.MustCompile(`_\d{6}$`)

// Run executes the full 15-step algorithm of §4.3 in order. There is no
// single run-wide transaction: the deletion sweep and the snapshot insert
// each commit their own, ledger rows are marked in the ledger's own batch
// transaction, and diff updates and the USD price recompute are written
// outside any of them.
func (l *Loader) Run(ctx context.Context, fullRefresh bool) (*Stats, error) {
	stats := &Stats{}

	// Step 1: initialize schema; in full-refresh mode drop-and-recreate.
	if fullRefresh {
		if err := l.db.DropAllTables(ctx); err != nil {
			return nil, fmt.Errorf("dropping tables for full refresh: %w", err)
		}
	}
	if err := l.db.InitSchema(); err != nil {
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	// Step 2: load canonicalization tables and country code mappings.
	if err := l.loadCanon(ctx); err != nil {
		return nil, fmt.Errorf("loading canonicalization tables: %w", err)
	}

	// Step 4: walk the data root, classifying files.
	entries, err := l.walk()
	if err != nil {
		return nil, fmt.Errorf("walking data root %s: %w", l.cfg.DataDir, err)
	}
	stats.FilesConsidered = len(entries)

	// Step 5: incremental deletion sweep.
	if err := l.sweepDeletions(ctx, entries, stats); err != nil {
		return nil, fmt.Errorf("sweeping deletions: %w", err)
	}

	// Filter to unprocessed entries when incremental.
	toProcess, err := l.filterUnprocessed(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("filtering unprocessed files: %w", err)
	}
	stats.FilesSkipped = len(entries) - len(toProcess)

	var snapshotPaths, diffPaths []fileEntry
	touched := make(map[string]bool)
	for _, e := range toProcess {
		touched[e.roasterDirectory] = true
		if e.isDiff {
			diffPaths = append(diffPaths, e)
		} else {
			snapshotPaths = append(snapshotPaths, e)
		}
	}

	// Steps 6-12: snapshot ingest. Stock derivation needs the full walk,
	// not just the unprocessed subset: the latest scrape date per roaster
	// counts every file on disk, including ones already in the ledger.
	if err := l.ingestSnapshots(ctx, snapshotPaths, entries, touched, stats); err != nil {
		return nil, fmt.Errorf("ingesting snapshots: %w", err)
	}

	// Step 13: apply diff-JSON updates.
	if err := l.applyDiffs(ctx, diffPaths, stats); err != nil {
		return nil, fmt.Errorf("applying diff updates: %w", err)
	}

	// Step 14: recompute price_usd.
	if l.currency != nil {
		if err := l.recomputeUSDPrices(ctx); err != nil {
			l.logger.Warn().Err(err).Msg("recomputing USD prices failed")
		}
	}

	l.logger.Info().
		Int("files_considered", stats.FilesConsidered).
		Int("beans_inserted", stats.BeansInserted).
		Int("snapshots_skipped", stats.SnapshotsSkipped).
		Int("diffs_applied", stats.DiffsApplied).
		Int("recoverable_errors", len(stats.Errors)).
		Int64("beans_deleted", stats.BeansDeleted).
		Msg("warehouse loader run complete")

	return stats, nil
}

// loadCanon implements step 2: eagerly load every canonicalization table
// named in §4.2, and the roaster registry / country codes supplement.
func (l *Loader) loadCanon(ctx context.Context) error {
	var err error
	l.regionTable, err = canon.LoadRegionTable(l.cfg.RegionMappingsDir, l.logger)
	if err != nil {
		return err
	}
	l.farmTable, err = canon.LoadFarmTable(l.cfg.FarmMappingsFile, l.logger)
	if err != nil {
		return err
	}

	varietalMappings, err := canon.LoadVarietalMappings(l.cfg.VarietalMapFile, l.logger)
	if err != nil {
		return err
	}
	if err := l.refs.ReplaceVarietalMap(ctx, varietalMappings); err != nil {
		return fmt.Errorf("loading varietal map into warehouse: %w", err)
	}

	processingMappings, err := canon.LoadProcessingMappings(l.cfg.ProcessingMapFile, l.logger)
	if err != nil {
		return err
	}
	if err := l.refs.ReplaceProcessingMap(ctx, processingMappings); err != nil {
		return fmt.Errorf("loading processing map into warehouse: %w", err)
	}

	l.countryCodes, err = canon.LoadCountryCodes(l.cfg.CountryCodesFile, l.logger)
	if err != nil {
		return err
	}
	if err := l.refs.ReplaceCountryCodes(ctx, l.countryCodes); err != nil {
		return fmt.Errorf("loading country codes into warehouse: %w", err)
	}

	registry, err := canon.LoadRoasterRegistry(l.cfg.RoasterRegistry, l.logger)
	if err != nil {
		return err
	}
	l.roasterByDir = make(map[string]models.Roaster, len(registry))
	for _, r := range registry {
		if err := l.roasters.Upsert(ctx, r); err != nil {
			return fmt.Errorf("upserting roaster %s into registry: %w", r.Slug, err)
		}
		l.roasterByDir[r.Slug] = r
	}

	return nil
}

// walk implements step 4: discover every *.json / *.diffjson file under
// roasters/<slug>/<YYYYMMDD>/, recording the path metadata derived from its
// position (roaster_directory is the third-from-last path segment,
// scrape_date the second-from-last).
func (l *Loader) walk() ([]fileEntry, error) {
	root := l.cfg.DataDir
	if _, err := os.Stat(root); os.IsNotExist(err) {
		l.logger.Warn().Str("dir", root).Msg("data directory not found; nothing to ingest")
		return nil, nil
	}

	var entries []fileEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		isDiff := strings.HasSuffix(path, diffSuffix)
		if !isDiff && !strings.HasSuffix(path, ".json") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 3 {
			l.logger.Warn().Str("path", rel).Msg("skipping file outside roasters/<slug>/<date>/ layout")
			return nil
		}
		roasterDirectory := parts[len(parts)-3]
		scrapeDate := parts[len(parts)-2]
		entries = append(entries, fileEntry{
			absPath:          path,
			relPath:          rel,
			roasterDirectory: roasterDirectory,
			scrapeDate:       scrapeDate,
			isDiff:           isDiff,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// sweepDeletions implements step 5: any ledger entry whose file is missing
// on disk is cascade-deleted, and (when checksum checking is enabled) any
// changed file's dependent rows are removed so it is reprocessed in full.
func (l *Loader) sweepDeletions(ctx context.Context, entries []fileEntry, stats *Stats) error {
	onDisk := make(map[string]bool, len(entries))
	checksums := make(map[string]string, len(entries))
	for _, e := range entries {
		onDisk[e.relPath] = true
		sum, err := checksumFile(e.absPath)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", e.relPath).Msg("checksumming file for deletion sweep failed")
			continue
		}
		checksums[e.relPath] = sum
	}

	ledgerPaths, err := l.ledger.AllPaths(ctx)
	if err != nil {
		return err
	}

	var missing []string
	var changed []string
	for _, p := range ledgerPaths {
		if !onDisk[p] {
			missing = append(missing, p)
			continue
		}
		if l.cfg.CheckForChanges {
			stored, ok, err := l.ledger.Checksum(ctx, p)
			if err == nil && ok && stored != checksums[p] {
				changed = append(changed, p)
			}
		}
	}

	// A changed snapshot is re-ingested from scratch, which discards any
	// diff updates previously layered onto its bean. Un-track the diff
	// files naming the same URLs so they are re-applied in order.
	changed = append(changed, l.diffsTouchingChangedURLs(entries, changed)...)

	toRemove := append(append([]string{}, missing...), changed...)
	if len(toRemove) == 0 {
		return nil
	}

	filenames := make([]string, len(toRemove))
	for i, p := range toRemove {
		filenames[i] = filepath.Base(p)
	}

	tx, err := l.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	deleted, err := l.beans.DeleteBySourceFilenames(ctx, tx, filenames)
	if err != nil {
		return err
	}
	stats.BeansDeleted += deleted

	if err := tx.Commit(); err != nil {
		return err
	}

	if err := l.ledger.RemovePaths(ctx, toRemove); err != nil {
		return err
	}

	if len(missing) > 0 {
		l.logger.Info().Int("count", len(missing)).Msg("removed ledger entries for files missing on disk")
	}
	if len(changed) > 0 {
		l.logger.Info().Int("count", len(changed)).Msg("removed dependent rows for changed files, will reprocess")
	}
	return nil
}

// diffsTouchingChangedURLs returns the relative paths of on-disk diff
// files whose url matches any changed snapshot's url.
func (l *Loader) diffsTouchingChangedURLs(entries []fileEntry, changedPaths []string) []string {
	if len(changedPaths) == 0 {
		return nil
	}
	changedSet := make(map[string]bool, len(changedPaths))
	for _, p := range changedPaths {
		changedSet[p] = true
	}

	changedURLs := make(map[string]bool)
	for _, e := range entries {
		if e.isDiff || !changedSet[e.relPath] {
			continue
		}
		if bean, err := decodeSnapshot(e.absPath); err == nil {
			changedURLs[bean.URL] = true
		}
	}
	if len(changedURLs) == 0 {
		return nil
	}

	var out []string
	for _, e := range entries {
		if !e.isDiff {
			continue
		}
		if url, ok := decodeDiffURL(e.absPath); ok && changedURLs[url] {
			out = append(out, e.relPath)
		}
	}
	return out
}

// decodeDiffURL reads just the url field of a diff file.
func decodeDiffURL(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	var probe struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.URL == "" {
		return "", false
	}
	return probe.URL, true
}

func (l *Loader) filterUnprocessed(ctx context.Context, entries []fileEntry) ([]fileEntry, error) {
	if !l.cfg.Incremental {
		return entries, nil
	}
	paths := make([]string, len(entries))
	checksums := make(map[string]string, len(entries))
	for i, e := range entries {
		paths[i] = e.relPath
		if l.cfg.CheckForChanges {
			sum, err := checksumFile(e.absPath)
			if err == nil {
				checksums[e.relPath] = sum
			}
		}
	}
	unprocessed, err := l.ledger.FilterUnprocessed(ctx, paths, checksums, l.cfg.CheckForChanges)
	if err != nil {
		return nil, err
	}
	keep := make(map[string]bool, len(unprocessed))
	for _, p := range unprocessed {
		keep[p] = true
	}
	var out []fileEntry
	for _, e := range entries {
		if keep[e.relPath] {
			out = append(out, e)
		}
	}
	return out, nil
}

// ingestSnapshots implements steps 6-12: derive the authoritative bean set,
// insert beans/origins, apply the roaster registry override, normalize
// countries, and mark every processed path in the ledger. toProcess is the
// unprocessed snapshot subset; allEntries is the complete walk (snapshots
// and diffs, processed or not), which steps 6-7 need for stock derivation;
// touched names the roasters with any new file this run, diffs included.
func (l *Loader) ingestSnapshots(ctx context.Context, toProcess []fileEntry, allEntries []fileEntry, touched map[string]bool, stats *Stats) error {
	decoded := make(map[string]*rawBean, len(toProcess))
	var processedFiles []models.ProcessedFile

	for _, e := range toProcess {
		bean, err := decodeSnapshot(e.absPath)
		if err != nil {
			recoverable := apperr.IngestRecoverable(fmt.Sprintf("snapshot %s", e.relPath), err)
			stats.Errors = append(stats.Errors, recoverable)
			stats.SnapshotsSkipped++
			l.logger.Warn().Err(err).Str("path", e.relPath).Msg("skipping invalid snapshot file")
			continue
		}
		decoded[e.relPath] = bean

		sum, _ := checksumFile(e.absPath)
		processedFiles = append(processedFiles, models.ProcessedFile{
			RelativePath: e.relPath,
			Checksum:     sum,
			FileType:     models.FileTypeJSON,
			ProcessedAt:  time.Now().UTC(),
		})
	}

	// Step 6: the latest scrape date per roaster counts both snapshot and
	// diff dates, across everything on disk.
	latestScrapeDateByRoaster := make(map[string]string)
	for _, e := range allEntries {
		if e.scrapeDate > latestScrapeDateByRoaster[e.roasterDirectory] {
			latestScrapeDateByRoaster[e.roasterDirectory] = e.scrapeDate
		}
	}

	// Step 7: authoritative bean per (roaster_directory, url) = the row
	// with max (scrape_date, scraped_at).
	type key struct{ roaster, url string }
	type candidate struct {
		entry fileEntry
		bean  *rawBean
	}
	best := make(map[key]candidate)
	earliestSeen := make(map[key]time.Time)

	for _, e := range toProcess {
		bean, ok := decoded[e.relPath]
		if !ok {
			continue
		}
		k := key{e.roasterDirectory, bean.URL}
		scrapedAt := parseTime(bean.ScrapedAt)
		if existing, ok := earliestSeen[k]; !ok || scrapedAt.Before(existing) {
			earliestSeen[k] = scrapedAt
		}
		cur, ok := best[k]
		if !ok {
			best[k] = candidate{entry: e, bean: bean}
			continue
		}
		curScrapedAt := parseTime(cur.bean.ScrapedAt)
		if e.scrapeDate > cur.entry.scrapeDate || (e.scrapeDate == cur.entry.scrapeDate && scrapedAt.After(curScrapedAt)) {
			best[k] = candidate{entry: e, bean: bean}
		}
	}

	// Roasters touched this run get a full stock re-derivation; roasters
	// with no new files keep the stock state of the previous pass, which
	// keeps a no-op incremental rerun idempotent even after diffs flipped
	// individual beans.
	stockByRoaster := l.deriveStock(allEntries, latestScrapeDateByRoaster, touched)

	nextID, err := l.beans.NextID(ctx)
	if err != nil {
		return err
	}

	// A re-scraped (roaster_directory, url) replaces its previous row.
	// Lookups run before the transaction opens; the warehouse pool holds a
	// single connection and the transaction owns it until commit.
	var toInsertBeans []models.Bean
	var toInsertOrigins []models.Origin
	var replacedIDs []int64

	for k, c := range best {
		inStock := stockByRoaster[k.roaster][k.url]

		dateAdded := earliestSeen[k]
		if prev, err := l.beans.ByRoasterAndURL(ctx, k.roaster, k.url); err != nil {
			return err
		} else if prev != nil {
			replacedIDs = append(replacedIDs, prev.ID)
			if prev.DateAdded.Before(dateAdded) {
				dateAdded = prev.DateAdded
			}
		}

		bean, err := l.buildBean(ctx, nextID, c.entry, c.bean, inStock, dateAdded)
		if err != nil {
			l.logger.Warn().Err(err).Str("url", k.url).Msg("skipping bean with invalid fields")
			continue
		}
		nextID++

		origins, err := l.buildOrigins(ctx, bean.ID, c.bean.Origins)
		if err != nil {
			l.logger.Warn().Err(err).Str("url", k.url).Msg("building origins failed")
		}
		bean.IsSingleOrigin = len(origins) <= 1
		if c.bean.IsSingleOrigin != nil {
			bean.IsSingleOrigin = *c.bean.IsSingleOrigin
		}

		toInsertBeans = append(toInsertBeans, bean)
		toInsertOrigins = append(toInsertOrigins, origins...)
	}

	tx, err := l.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := l.beans.DeleteByIDs(ctx, tx, replacedIDs); err != nil {
		return err
	}
	if err := l.beans.InsertBatch(ctx, tx, toInsertBeans); err != nil {
		return err
	}
	if err := l.origins.InsertBatch(ctx, tx, toInsertOrigins); err != nil {
		return err
	}

	for roasterDir, stock := range stockByRoaster {
		if err := l.beans.SetInStock(ctx, tx, roasterDir, stock); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	stats.BeansInserted += len(toInsertBeans)
	stats.OriginsInserted += len(toInsertOrigins)
	stats.SnapshotsApplied += len(decoded)

	if len(processedFiles) > 0 {
		if err := l.ledger.MarkProcessed(ctx, processedFiles); err != nil {
			return err
		}
	}

	return nil
}

// deriveStock computes, for every touched roaster, the desired in_stock
// value per url: a bean is in stock iff its url appears in the roaster's
// latest scrape date — in a snapshot not explicitly marked out-of-stock,
// or in that date's diff set. Urls absent from the map flip to false.
func (l *Loader) deriveStock(allEntries []fileEntry, latestByRoaster map[string]string, touched map[string]bool) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(touched))
	for _, e := range allEntries {
		if !touched[e.roasterDirectory] || e.scrapeDate != latestByRoaster[e.roasterDirectory] {
			continue
		}
		if out[e.roasterDirectory] == nil {
			out[e.roasterDirectory] = make(map[string]bool)
		}
		set := out[e.roasterDirectory]

		if e.isDiff {
			if url, ok := decodeDiffURL(e.absPath); ok {
				if _, seen := set[url]; !seen {
					set[url] = true
				}
			}
			continue
		}
		bean, err := decodeSnapshot(e.absPath)
		if err != nil {
			continue
		}
		set[bean.URL] = derefBoolDefault(bean.InStock, true)
	}
	return out
}

// buildBean implements steps 8 and 10-11: assign a sequential id, compute
// image_url/clean_url_slug/bean_url_path, apply the roaster registry
// override, and normalize the country (deferred to per-origin since
// country lives on Origin, not Bean).
func (l *Loader) buildBean(ctx context.Context, id int64, e fileEntry, raw *rawBean, inStock bool, dateAdded time.Time) (models.Bean, error) {
	stem := strings.TrimSuffix(filepath.Base(e.relPath), filepath.Ext(e.relPath))
	cleanSlug := trailingSixDigits.ReplaceAllString(stem, "")

	// The scraper fleet captures one image per snapshot file; the served
	// URL is derived from the filename, not the storefront's image_url,
	// which only signals whether a capture exists.
	var imageURL string
	if raw.ImageURL != nil && *raw.ImageURL != "" {
		imageURL = fmt.Sprintf("/static/bean-images/%s/%s.png", e.roasterDirectory, stem)
	}

	displayName := raw.Roaster
	if name, ok, err := l.roasters.DisplayName(ctx, e.roasterDirectory); err == nil && ok {
		displayName = name
	}
	roasterLocation := ""
	if reg, ok := l.roasterByDir[e.roasterDirectory]; ok {
		roasterLocation = reg.Location
	}

	bean := models.Bean{
		ID:               id,
		Name:             raw.Name,
		Roaster:          displayName,
		RoasterDirectory: e.roasterDirectory,
		URL:              raw.URL,
		ImageURL:         imageURL,
		RoastLevel:       derefStr(raw.RoastLevel),
		RoastProfile:     derefStr(raw.RoastProfile),
		WeightGrams:      raw.Weight,
		Price:            raw.Price,
		Currency:         derefStrDefault(raw.Currency, "GBP"),
		IsDecaf:          derefBool(raw.IsDecaf),
		CuppingScore:     raw.CuppingScore,
		TastingNotes:     dedupTitleCase(raw.TastingNotes),
		Description:      derefStr(raw.Description),
		InStock:          derefBoolDefault(raw.InStock, inStock) && inStock,
		ScrapedAt:        parseTime(raw.ScrapedAt),
		ScraperVersion:   derefStrDefault(raw.ScraperVersion, "1.0"),
		SourceFilename:   filepath.Base(e.relPath),
		CleanURLSlug:     cleanSlug,
		BeanURLPath:      fmt.Sprintf("/%s/%s", e.roasterDirectory, cleanSlug),
		DateAdded:        dateAdded,
		RoasterLocation:  roasterLocation,
	}
	if raw.PricePaidForGreenCoffee != nil {
		bean.PricePaidForGreen = raw.PricePaidForGreenCoffee
		bean.PricePaidCurrency = derefStr(raw.CurrencyOfPricePaidForGreen)
	}
	return bean, nil
}

// buildOrigins implements step 9: normalize region/farm, resolve canonical
// varietal and processing names, and normalize the country code.
func (l *Loader) buildOrigins(ctx context.Context, beanID int64, raws []rawOrigin) ([]models.Origin, error) {
	out := make([]models.Origin, 0, len(raws))
	for _, ro := range raws {
		country := strings.ToUpper(derefStr(ro.Country))
		if resolved, ok := canon.ResolveAlpha2(l.countryCodes, country); ok {
			country = resolved
		}

		region := derefStr(ro.Region)
		regionNormalized := canon.NormalizeRegionName(region)
		if l.regionTable != nil {
			if state, invalid := l.regionTable.CanonicalState(country, region); !invalid && state != "" {
				regionNormalized = canon.NormalizeRegionName(state)
			}
		}

		farm := derefStr(ro.Farm)
		farmNormalized := canon.NormalizeFarmName(farm)
		if l.farmTable != nil {
			if canonicalFarm, ok := l.farmTable.CanonicalFarm(country, regionNormalized, farmNormalized); ok {
				farmNormalized = canon.NormalizeFarmName(canonicalFarm)
			}
		}

		variety := derefStr(ro.Variety)
		var canonicalVarieties []string
		if variety != "" {
			if names, ok, err := l.refs.CanonicalVarieties(ctx, variety); err == nil && ok {
				canonicalVarieties = names
			}
		}

		process := derefStr(ro.Process)
		processCommon := process
		if process != "" {
			if name, err := l.refs.CommonProcessName(ctx, process); err == nil {
				processCommon = name
			}
		}

		var harvest *time.Time
		if ro.HarvestDate != nil && *ro.HarvestDate != "" {
			if t, ok := tryParseTime(*ro.HarvestDate); ok {
				harvest = &t
			}
		}

		out = append(out, models.Origin{
			BeanID:            beanID,
			Country:           country,
			Region:            region,
			RegionNormalized:  regionNormalized,
			Producer:          derefStr(ro.Producer),
			Farm:              farm,
			FarmNormalized:    farmNormalized,
			ElevationMin:      ro.Elevation,
			ElevationMax:      ro.Elevation,
			Lat:               ro.Latitude,
			Lon:               ro.Longitude,
			Process:           process,
			ProcessCommonName: processCommon,
			Variety:           variety,
			VarietyCanonical:  canonicalVarieties,
			HarvestDate:       harvest,
		})
	}
	return out, nil
}

// applyDiffs implements §4.3.1: parse every diff file, sort ascending by
// scraped_at, and apply only present fields to the looked-up bean.
func (l *Loader) applyDiffs(ctx context.Context, entries []fileEntry, stats *Stats) error {
	if len(entries) == 0 {
		return nil
	}

	var updates []rawDiffUpdate
	for _, e := range entries {
		data, err := os.ReadFile(e.absPath)
		if err != nil {
			stats.Errors = append(stats.Errors, apperr.IngestRecoverable(fmt.Sprintf("diff %s", e.relPath), err))
			l.logger.Warn().Err(err).Str("path", e.relPath).Msg("skipping unreadable diff file")
			stats.DiffsSkipped++
			continue
		}
		var u rawDiffUpdate
		if err := json.Unmarshal(data, &u); err != nil {
			stats.Errors = append(stats.Errors, apperr.IngestRecoverable(fmt.Sprintf("diff %s", e.relPath), err))
			l.logger.Warn().Err(err).Str("path", e.relPath).Msg("skipping malformed diff file")
			stats.DiffsSkipped++
			continue
		}
		if err := validateDiff(&u); err != nil {
			stats.Errors = append(stats.Errors, apperr.IngestRecoverable(fmt.Sprintf("diff %s", e.relPath), err))
			l.logger.Warn().Err(err).Str("path", e.relPath).Msg("skipping diff file with out-of-bounds fields")
			stats.DiffsSkipped++
			continue
		}
		u.sourcePath = e.absPath
		u.relativePath = e.relPath
		u.parsedScrapedAt = parseTime(u.ScrapedAt)
		updates = append(updates, u)
	}

	sort.SliceStable(updates, func(i, j int) bool {
		return updates[i].parsedScrapedAt.Before(updates[j].parsedScrapedAt)
	})

	var processedFiles []models.ProcessedFile
	for _, u := range updates {
		applied, err := l.applyOneDiff(ctx, u)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", u.relativePath).Msg("applying diff failed")
			stats.DiffsSkipped++
			continue
		}
		if applied {
			stats.DiffsApplied++
		}
		sum, _ := checksumFile(u.sourcePath)
		processedFiles = append(processedFiles, models.ProcessedFile{
			RelativePath: u.relativePath,
			Checksum:     sum,
			FileType:     models.FileTypeDiffJSON,
			ProcessedAt:  time.Now().UTC(),
		})
	}

	if len(processedFiles) > 0 {
		if err := l.ledger.MarkProcessed(ctx, processedFiles); err != nil {
			return err
		}
	}
	return nil
}

// applyOneDiff looks up the bean by URL across every roaster directory and
// applies only the present fields. "not found" is not an error: §4.3.1
// says skip it, but still mark the file processed (handled by the caller).
func (l *Loader) applyOneDiff(ctx context.Context, u rawDiffUpdate) (bool, error) {
	bean, err := l.findBeanByURL(ctx, u.URL)
	if err != nil {
		return false, err
	}
	if bean == nil {
		return false, nil
	}

	set := map[string]interface{}{}
	if u.Price != nil {
		set["price"] = *u.Price
	}
	if u.Currency != nil {
		set["currency"] = *u.Currency
	}
	if u.InStock != nil {
		set["in_stock"] = boolToInt(*u.InStock)
	} else if u.Stock != nil {
		set["in_stock"] = boolToInt(*u.Stock)
	}
	if u.RoastLevel != nil {
		set["roast_level"] = *u.RoastLevel
	}
	if u.RoastProfile != nil {
		set["roast_profile"] = *u.RoastProfile
	}
	if u.TastingNotes != nil {
		notesJSON, err := json.Marshal(dedupTitleCase(u.TastingNotes))
		if err != nil {
			return false, err
		}
		set["tasting_notes"] = string(notesJSON)
	}
	if u.Description != nil {
		set["description"] = *u.Description
	}
	if u.Weight != nil {
		set["weight_grams"] = *u.Weight
	}
	if u.CuppingScore != nil {
		set["cupping_score"] = *u.CuppingScore
	}

	if len(set) == 0 {
		return true, nil
	}
	if err := l.beans.ApplyDiff(ctx, bean.ID, set); err != nil {
		return false, err
	}
	return true, nil
}

// findBeanByURL resolves a diff file's url to its bean. A diff does not
// name the roaster, but urls are unique per live row, so a direct lookup
// suffices (newest row wins if history ever collides).
func (l *Loader) findBeanByURL(ctx context.Context, url string) (*models.Bean, error) {
	return l.beans.ByURL(ctx, url)
}

// recomputeUSDPrices implements step 14: for every known currency with a
// rate against USD, recompute price_usd = price / rate; currencies with no
// known rate are nulled so stale values never linger.
func (l *Loader) recomputeUSDPrices(ctx context.Context) error {
	targets, err := l.currency.AllKnownTargets(ctx)
	if err != nil {
		return fmt.Errorf("listing known currencies: %w", err)
	}
	for _, target := range targets {
		rate, ok, err := l.rateUSDTo(ctx, target)
		if err != nil || !ok {
			continue
		}
		if err := l.beans.SetPriceUSD(ctx, target, rate); err != nil {
			return err
		}
	}
	return l.beans.ClearPriceUSDWhereUnknownRate(ctx, targets)
}

func (l *Loader) rateUSDTo(ctx context.Context, target string) (float64, bool, error) {
	converted, err := l.currency.Convert(ctx, 1, "USD", target)
	if err != nil {
		return 0, false, err
	}
	if converted == nil {
		return 0, false, nil
	}
	return *converted, true, nil
}

func decodeSnapshot(path string) (*rawBean, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bean rawBean
	if err := json.Unmarshal(data, &bean); err != nil {
		return nil, err
	}
	if err := validateSnapshot(&bean); err != nil {
		return nil, err
	}
	return &bean, nil
}

func checksumFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func parseTime(s *string) time.Time {
	if s != nil {
		if t, ok := tryParseTime(*s); ok {
			return t
		}
	}
	return time.Now().UTC()
}

// tryParseTime accepts the timestamp layouts the scraper fleet emits,
// normalized to UTC.
func tryParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefStrDefault(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

func derefBool(b *bool) bool {
	return b != nil && *b
}

func derefBoolDefault(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func dedupTitleCase(notes []string) []string {
	seen := make(map[string]bool, len(notes))
	caser := cases.Title(language.English)
	var out []string
	for _, n := range notes {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		titled := caser.String(strings.ToLower(n))
		key := strings.ToLower(titled)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, titled)
	}
	return out
}
