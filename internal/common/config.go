package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration for both the loader and
// the query API. Values are read from a TOML file and may be overridden by
// environment variables (env wins, matching the loader's batch-job usage
// where operators set DATABASE_PATH/INCREMENTAL per invocation).
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Ingest      IngestConfig    `toml:"ingest"`
	Currency    CurrencyConfig  `toml:"currency"`
	AICache     AICacheConfig   `toml:"ai_cache"`
	Canon       CanonConfig     `toml:"canon"`
	Logging     LoggingConfig   `toml:"logging"`
	Queue       QueueConfig     `toml:"queue"`
	RateLimit   RateLimitConfig `toml:"rate_limit"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	DatabasePath   string `toml:"database_path"`    // path to the SQLite warehouse file
	UseRWDB        bool   `toml:"use_rw_db"`        // open the warehouse read-write (loader) vs read-only (API)
	ResetOnStartup bool   `toml:"reset_on_startup"` // development only
	CacheSizeMB    int    `toml:"cache_size_mb"`
	BusyTimeoutMS  int    `toml:"busy_timeout_ms"`
	WALMode        bool   `toml:"wal_mode"`
}

// SQLiteConfig is the subset of Config the connection layer needs, carried
// as its own struct so storage/sqlite does not import the whole Config.
type SQLiteConfig struct {
	Path           string
	Environment    string
	ReadOnly       bool // open a read-only snapshot (USE_RW_DB=false)
	ResetOnStartup bool
	CacheSizeMB    int
	BusyTimeoutMS  int
	WALMode        bool
}

// SQLite builds the storage layer's connection configuration from the
// top-level Config.
func (c *Config) SQLite() *SQLiteConfig {
	return &SQLiteConfig{
		Path:           c.Storage.DatabasePath,
		Environment:    c.Environment,
		ReadOnly:       !c.Storage.UseRWDB,
		ResetOnStartup: c.Storage.ResetOnStartup,
		CacheSizeMB:    c.Storage.CacheSizeMB,
		BusyTimeoutMS:  c.Storage.BusyTimeoutMS,
		WALMode:        c.Storage.WALMode,
	}
}

// IngestConfig controls the warehouse loader's behavior over the data root.
type IngestConfig struct {
	DataDir           string `toml:"data_dir"`            // root of roasters/<slug>/<YYYYMMDD>/*.json trees
	Incremental       bool   `toml:"incremental"`         // skip files already marked processed in the ledger
	CheckForChanges   bool   `toml:"check_for_changes"`   // recompute checksums even for ledger-processed files
	RoasterRegistry   string `toml:"roaster_registry"`    // path to roasters.yaml
	RegionMappingsDir string `toml:"region_mappings_dir"` // directory of per-country region JSON files
	FarmMappingsFile  string `toml:"farm_mappings_file"`
	VarietalMapFile   string `toml:"varietal_map_file"`
	ProcessingMapFile string `toml:"processing_map_file"`
	CountryCodesFile  string `toml:"country_codes_file"`
}

type CurrencyConfig struct {
	APIKey       string `toml:"api_key"` // openexchangerates.org app id; also read from OPENEXCHANGERATES_APP_ID
	BaseURL      string `toml:"base_url"`
	StaleAfter   string `toml:"stale_after"`   // duration string, default "23h"
	RetainFor    string `toml:"retain_for"`     // duration string, default "168h" (7 days)
	RefreshCron  string `toml:"refresh_cron"`  // cron expression for the scheduled refresh, default daily
}

type AICacheConfig struct {
	DefaultTTLHours int `toml:"default_ttl_hours"` // default 168 (7 days)
}

type CanonConfig struct {
	NameSimilarityThreshold float64 `toml:"name_similarity_threshold"` // default 0.90, farm dedup
}

type LoggingConfig struct {
	Level         string   `toml:"level"`
	Format        string   `toml:"format"`
	Output        []string `toml:"output"`
	TimeFormat    string   `toml:"time_format"`
	MinEventLevel string   `toml:"min_event_level"`
}

type QueueConfig struct {
	Path        string `toml:"path"` // goqite-backed sqlite table lives in the warehouse db itself
	PollInterval string `toml:"poll_interval"`
	Concurrency  int    `toml:"concurrency"`
}

type RateLimitConfig struct {
	AISearchPerMinute int `toml:"ai_search_per_minute"`
}

// NewDefaultConfig returns baseline configuration values, overridden by the
// TOML file and then by environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			DatabasePath:  "./data/kissaten.db",
			UseRWDB:       true,
			CacheSizeMB:   64,
			BusyTimeoutMS: 5000,
			WALMode:       true,
		},
		Ingest: IngestConfig{
			DataDir:           "./data/roasters",
			Incremental:       true,
			CheckForChanges:   false,
			RoasterRegistry:   "./config/roasters.yaml",
			RegionMappingsDir: "./config/region_mappings",
			FarmMappingsFile:  "./config/farm_mappings.json",
			VarietalMapFile:   "./config/varietal_mappings.json",
			ProcessingMapFile: "./config/processing_methods_mappings.json",
			CountryCodesFile:  "./config/country_codes.json",
		},
		Currency: CurrencyConfig{
			BaseURL:     "https://openexchangerates.org/api/latest.json",
			StaleAfter:  "23h",
			RetainFor:   "168h",
			RefreshCron: "0 7 * * *",
		},
		AICache: AICacheConfig{
			DefaultTTLHours: 168,
		},
		Canon: CanonConfig{
			NameSimilarityThreshold: 0.90,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		Queue: QueueConfig{
			PollInterval: "1s",
			Concurrency:  2,
		},
		RateLimit: RateLimitConfig{
			AISearchPerMinute: 30,
		},
	}
}

// applyEnvOverrides mirrors the loader's need to be driven entirely by
// environment variables in scripted/batch invocations (DATABASE_PATH,
// USE_RW_DB, INCREMENTAL, CHECK_FOR_CHANGES) without editing the TOML file.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		config.Storage.DatabasePath = v
	}
	if v := os.Getenv("USE_RW_DB"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Storage.UseRWDB = b
		}
	}
	if v := os.Getenv("INCREMENTAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Ingest.Incremental = b
		}
	}
	if v := os.Getenv("CHECK_FOR_CHANGES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Ingest.CheckForChanges = b
		}
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		config.Ingest.DataDir = v
	}
	if v := os.Getenv("OPENEXCHANGERATES_APP_ID"); v != "" {
		config.Currency.APIKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Server.Port = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// LoadConfig reads a TOML file into a default config and applies env
// overrides. A missing file is not an error — defaults plus env vars are a
// valid configuration for CI/batch usage.
func LoadConfig(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}
		} else if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate enforces the recognized-options list called out in the design
// notes in place of reflective/annotation-driven validation: every field
// that constrains runtime behavior is checked explicitly here.
func (c *Config) Validate() error {
	switch c.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("environment must be 'development' or 'production', got %q", c.Environment)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path must not be empty")
	}
	if c.Canon.NameSimilarityThreshold < 0 || c.Canon.NameSimilarityThreshold > 1 {
		return fmt.Errorf("canon.name_similarity_threshold must be between 0 and 1, got %f", c.Canon.NameSimilarityThreshold)
	}
	return nil
}

// IsProduction reports whether the configured environment is "production".
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
