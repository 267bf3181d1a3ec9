package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/models"
)

// LedgerStorage implements the File-Tracking Ledger (§4.1): one batched
// query per call, never per-file, matching the teacher's
// document_storage.go batch-upsert shape.
type LedgerStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

func NewLedgerStorage(db *sql.DB, logger arbor.ILogger) *LedgerStorage {
	return &LedgerStorage{db: db, logger: logger}
}

// FilterUnprocessed returns the subset of relativePaths not yet recorded in
// the ledger, or (when checkChecksum is true) whose stored checksum
// differs from checksums[path].
func (l *LedgerStorage) FilterUnprocessed(ctx context.Context, relativePaths []string, checksums map[string]string, checkChecksum bool) ([]string, error) {
	if len(relativePaths) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(relativePaths))
	args := make([]interface{}, len(relativePaths))
	for i, p := range relativePaths {
		placeholders[i] = "?"
		args[i] = p
	}

	query := fmt.Sprintf(
		"SELECT relative_path, checksum FROM processed_files WHERE relative_path IN (%s)",
		strings.Join(placeholders, ","),
	)
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying processed_files: %w", err)
	}
	defer rows.Close()

	known := make(map[string]string, len(relativePaths))
	for rows.Next() {
		var path, checksum string
		if err := rows.Scan(&path, &checksum); err != nil {
			return nil, fmt.Errorf("scanning processed_files row: %w", err)
		}
		known[path] = checksum
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var unprocessed []string
	for _, p := range relativePaths {
		storedChecksum, seen := known[p]
		if !seen {
			unprocessed = append(unprocessed, p)
			continue
		}
		if checkChecksum && storedChecksum != checksums[p] {
			unprocessed = append(unprocessed, p)
		}
	}
	return unprocessed, nil
}

// MarkProcessed upserts a batch of ledger rows inside a single transaction,
// one prepared statement reused across rows.
func (l *LedgerStorage) MarkProcessed(ctx context.Context, files []models.ProcessedFile) error {
	if len(files) == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning ledger tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO processed_files (relative_path, checksum, file_type, processed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(relative_path) DO UPDATE SET
			checksum = excluded.checksum,
			file_type = excluded.file_type,
			processed_at = excluded.processed_at
	`)
	if err != nil {
		return fmt.Errorf("preparing ledger upsert: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, f.RelativePath, f.Checksum, string(f.FileType), f.ProcessedAt.Unix()); err != nil {
			return fmt.Errorf("upserting ledger row %s: %w", f.RelativePath, err)
		}
	}

	return tx.Commit()
}

// AllPaths returns every relative_path currently recorded in the ledger,
// used by the deletion sweep to detect files that vanished from disk.
func (l *LedgerStorage) AllPaths(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT relative_path FROM processed_files")
	if err != nil {
		return nil, fmt.Errorf("listing ledger paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// RemovePaths deletes ledger rows for the given relative paths in one
// batched statement.
func (l *LedgerStorage) RemovePaths(ctx context.Context, relativePaths []string) error {
	if len(relativePaths) == 0 {
		return nil
	}
	placeholders := make([]string, len(relativePaths))
	args := make([]interface{}, len(relativePaths))
	for i, p := range relativePaths {
		placeholders[i] = "?"
		args[i] = p
	}
	query := fmt.Sprintf("DELETE FROM processed_files WHERE relative_path IN (%s)", strings.Join(placeholders, ","))
	_, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("removing ledger rows: %w", err)
	}
	return nil
}

// Checksum returns the checksum recorded for a given source filename
// (across every ledger entry whose basename matches), used by the
// deletion sweep to locate dependent bean rows by source_filename.
func (l *LedgerStorage) Checksum(ctx context.Context, relativePath string) (string, bool, error) {
	var checksum string
	err := l.db.QueryRowContext(ctx, "SELECT checksum FROM processed_files WHERE relative_path = ?", relativePath).Scan(&checksum)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return checksum, true, nil
}
