package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/common"
	"maragu.dev/goqite"
	_ "modernc.org/sqlite"
)

// SQLiteDB manages the warehouse database connection. The warehouse file
// is a single physical resource: the loader holds write access briefly,
// the API process holds read access, and a read-only open never touches
// schema or queue state.
type SQLiteDB struct {
	db     *sql.DB
	logger arbor.ILogger
	config *common.SQLiteConfig
}

// NewSQLiteDB opens the warehouse. In read-write mode it also initializes
// the schema and the goqite job-queue tables; in read-only mode it serves
// a snapshot and refuses nothing but writes.
func NewSQLiteDB(logger arbor.ILogger, config *common.SQLiteConfig) (*SQLiteDB, error) {
	if !config.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// reset_on_startup is a development convenience only.
	if config.ResetOnStartup && !config.ReadOnly {
		if config.Environment != "development" {
			logger.Warn().
				Str("environment", config.Environment).
				Msg("reset_on_startup is enabled but environment is not 'development' - ignoring reset request for safety")
		} else {
			if err := resetDatabase(logger, config.Path); err != nil {
				return nil, fmt.Errorf("resetting database: %w", err)
			}
		}
	}

	dsn := config.Path
	if config.ReadOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro", config.Path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite serializes writes; a single pooled connection avoids
	// SQLITE_BUSY between the storage layers sharing this handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteDB{
		db:     db,
		logger: logger,
		config: config,
	}

	if err := s.configure(); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring database: %w", err)
	}

	if !config.ReadOnly {
		if err := goqite.Setup(context.Background(), db); err != nil {
			if !strings.Contains(err.Error(), "table goqite already exists") {
				db.Close()
				return nil, fmt.Errorf("initializing goqite schema: %w", err)
			}
		}

		if err := s.InitSchema(); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing schema: %w", err)
		}
	}

	logger.Info().
		Str("path", config.Path).
		Bool("read_only", config.ReadOnly).
		Msg("warehouse database opened")
	return s, nil
}

// configure applies the SQLite pragmas the warehouse runs with.
func (s *SQLiteDB) configure() error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA cache_size = -%d", s.config.CacheSizeMB*1024), // negative = KB
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.config.BusyTimeoutMS),
		"PRAGMA foreign_keys = ON", // origins cascade on bean deletion
	}
	if !s.config.ReadOnly {
		pragmas = append(pragmas, "PRAGMA synchronous = NORMAL")
		if s.config.WALMode {
			pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
		}
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("executing %s: %w", pragma, err)
		}
	}
	return nil
}

// DB returns the underlying database connection
func (s *SQLiteDB) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteDB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// Ping verifies the database connection
func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// resetDatabase deletes the warehouse file and its WAL/SHM sidecars.
// Development only.
func resetDatabase(logger arbor.ILogger, dbPath string) error {
	logger.Warn().Str("path", dbPath).Msg("resetting warehouse (deleting all data)")

	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("deleting %s: %w", path, err)
		}
	}
	return nil
}
