package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaSQL is the warehouse DDL: Bean/Origin/Roaster core tables, the
// File-Tracking Ledger, currency rate history, the AI translation cache,
// and the reference tables recovered from original_source (country codes,
// roaster location codes, tasting note categories, WCR varietal metadata).
// Every table uses CREATE ... IF NOT EXISTS so InitSchema is safe to call
// on both a fresh and an already-initialized warehouse (incremental mode).
const schemaSQL = `
-- Bean: the product record.
CREATE TABLE IF NOT EXISTS beans (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	roaster TEXT NOT NULL,
	roaster_directory TEXT NOT NULL,
	url TEXT NOT NULL,
	image_url TEXT,
	is_single_origin INTEGER NOT NULL DEFAULT 0,
	price_paid_for_green REAL,
	price_paid_currency TEXT,
	roast_level TEXT,
	roast_profile TEXT,
	weight_grams INTEGER,
	price REAL,
	currency TEXT,
	price_usd REAL,
	is_decaf INTEGER NOT NULL DEFAULT 0,
	cupping_score REAL,
	tasting_notes TEXT, -- JSON array, deduped + title-cased
	description TEXT,
	in_stock INTEGER NOT NULL DEFAULT 1,
	scraped_at INTEGER NOT NULL, -- unix seconds, UTC
	scraper_version TEXT,
	source_filename TEXT,
	clean_url_slug TEXT NOT NULL,
	bean_url_path TEXT NOT NULL,
	date_added INTEGER NOT NULL,
	roaster_location TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_beans_roaster_url ON beans(roaster_directory, url);
CREATE INDEX IF NOT EXISTS idx_beans_clean_slug ON beans(clean_url_slug);
CREATE INDEX IF NOT EXISTS idx_beans_roaster_dir ON beans(roaster_directory);
CREATE INDEX IF NOT EXISTS idx_beans_in_stock ON beans(in_stock);
CREATE INDEX IF NOT EXISTS idx_beans_price_usd ON beans(price_usd);

-- Origin: one farm-level sourcing component, many-per-Bean.
CREATE TABLE IF NOT EXISTS origins (
	id INTEGER PRIMARY KEY,
	bean_id INTEGER NOT NULL REFERENCES beans(id) ON DELETE CASCADE,
	country TEXT,
	region TEXT,
	region_normalized TEXT,
	producer TEXT,
	farm TEXT,
	farm_normalized TEXT,
	elevation_min INTEGER,
	elevation_max INTEGER,
	lat REAL,
	lon REAL,
	process TEXT,
	process_common_name TEXT,
	variety TEXT,
	variety_canonical TEXT, -- JSON array
	harvest_date INTEGER
);

CREATE INDEX IF NOT EXISTS idx_origins_bean_id ON origins(bean_id);
CREATE INDEX IF NOT EXISTS idx_origins_country ON origins(country);
CREATE INDEX IF NOT EXISTS idx_origins_region_norm ON origins(country, region_normalized);
CREATE INDEX IF NOT EXISTS idx_origins_farm_norm ON origins(country, region_normalized, farm_normalized);

-- Roaster registry.
CREATE TABLE IF NOT EXISTS roasters (
	slug TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	website TEXT,
	location TEXT,
	location_code TEXT,
	active INTEGER NOT NULL DEFAULT 1,
	last_scraped INTEGER,
	total_beans_scraped INTEGER NOT NULL DEFAULT 0,
	email TEXT,
	social_media TEXT -- JSON object
);

-- File-Tracking Ledger (§4.1).
CREATE TABLE IF NOT EXISTS processed_files (
	relative_path TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	file_type TEXT NOT NULL,
	processed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processed_files_type ON processed_files(file_type);

-- Currency rate history (§4.4). One row per (base, target, fetched_at).
CREATE TABLE IF NOT EXISTS currency_rates (
	id INTEGER PRIMARY KEY,
	base TEXT NOT NULL,
	target TEXT NOT NULL,
	rate REAL NOT NULL,
	fetched_at INTEGER NOT NULL,
	data_timestamp INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_currency_rates_lookup ON currency_rates(base, target, fetched_at DESC);

-- AI Translation Cache (§4.8).
CREATE TABLE IF NOT EXISTS ai_query_cache (
	id TEXT PRIMARY KEY,
	query_hash TEXT NOT NULL,
	query_type TEXT NOT NULL,
	original_query TEXT,
	params_json TEXT NOT NULL,
	hit_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ai_cache_hash ON ai_query_cache(query_hash, query_type);

-- Reference tables recovered from original_source (SPEC_FULL.md §3 supplement).
CREATE TABLE IF NOT EXISTS country_codes (
	name TEXT NOT NULL,
	alpha_2 TEXT PRIMARY KEY,
	alpha_3 TEXT,
	numeric_code TEXT,
	region TEXT,
	sub_region TEXT
);

CREATE TABLE IF NOT EXISTS roaster_location_codes (
	location_text TEXT PRIMARY KEY,
	code TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasting_notes_categories (
	tasting_note TEXT PRIMARY KEY,
	primary_category TEXT NOT NULL,
	secondary_category TEXT,
	tertiary_category TEXT,
	confidence REAL NOT NULL DEFAULT 1.0
);

CREATE TABLE IF NOT EXISTS coffee_varietals (
	name TEXT PRIMARY KEY,
	description TEXT,
	link TEXT,
	species TEXT
);

-- Varietal/processing canonicalization tables, joined at ingest time
-- (§4.2: "loaded into ordinary tables so they can be joined during ingest").
CREATE TABLE IF NOT EXISTS varietal_map (
	original_name_lower TEXT PRIMARY KEY,
	canonical_names TEXT NOT NULL, -- JSON array
	confidence REAL NOT NULL DEFAULT 1.0,
	is_compound INTEGER NOT NULL DEFAULT 0,
	separator TEXT
);

CREATE TABLE IF NOT EXISTS processing_map (
	original_name_lower TEXT PRIMARY KEY,
	common_name TEXT NOT NULL
);

-- Full-text search over free-text bean columns (§4.6 "query" parameter).
-- Kept in sync with beans via triggers, mirroring the teacher's
-- documents_fts pattern.
CREATE VIRTUAL TABLE IF NOT EXISTS beans_fts USING fts5(
	name, roaster, description,
	content='beans', content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS beans_fts_insert AFTER INSERT ON beans BEGIN
	INSERT INTO beans_fts(rowid, name, roaster, description)
	VALUES (new.id, new.name, new.roaster, new.description);
END;

CREATE TRIGGER IF NOT EXISTS beans_fts_update AFTER UPDATE ON beans BEGIN
	UPDATE beans_fts SET name = new.name, roaster = new.roaster, description = new.description
	WHERE rowid = new.id;
END;

CREATE TRIGGER IF NOT EXISTS beans_fts_delete AFTER DELETE ON beans BEGIN
	DELETE FROM beans_fts WHERE rowid = old.id;
END;
`

// InitSchema creates every warehouse table and index if it does not
// already exist. In full-refresh mode the caller drops tables first via
// DropAllTables; InitSchema itself never drops anything, so it is always
// safe to call on an existing incremental warehouse.
func (s *SQLiteDB) InitSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("initializing warehouse schema: %w", err)
	}
	return nil
}

// dropTables lists every table the full-refresh mode truncates, in an
// order safe for foreign keys (origins before beans).
var dropTables = []string{
	"origins", "beans", "roasters",
	"currency_rates", "ai_query_cache",
	"country_codes", "roaster_location_codes", "tasting_notes_categories", "coffee_varietals",
	"varietal_map", "processing_map",
}

// DropAllTables drops every warehouse table (but never the ledger —
// §4.3 "in full refresh mode all tables are truncated but the ledger is
// still populated, so later incremental runs start correctly") and the
// FTS5 virtual table alongside it, then recreates the schema.
func (s *SQLiteDB) DropAllTables(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DROP TABLE IF EXISTS beans_fts`); err != nil {
			return fmt.Errorf("dropping beans_fts: %w", err)
		}
		for _, t := range dropTables {
			if _, err := tx.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", t)); err != nil {
				return fmt.Errorf("dropping %s: %w", t, err)
			}
		}
		return nil
	})
}

func (s *SQLiteDB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
