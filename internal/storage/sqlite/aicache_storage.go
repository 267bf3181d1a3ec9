package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/models"
)

// AICacheStorage is the ai_query_cache table access layer (§4.8),
// reimplemented over the warehouse using the teacher's KV upsert idiom.
type AICacheStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

func NewAICacheStorage(db *sql.DB, logger arbor.ILogger) *AICacheStorage {
	return &AICacheStorage{db: db, logger: logger}
}

// Get looks up an entry by hash+type. Expired entries are still returned
// (callers decide whether to treat them as a miss) — only Clear deletes.
func (a *AICacheStorage) Get(ctx context.Context, hash string, queryType models.QueryType) (*models.AICacheEntry, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, query_hash, query_type, original_query, params_json, hit_count, created_at, last_accessed, expires_at
		FROM ai_query_cache WHERE query_hash = ? AND query_type = ?
	`, hash, string(queryType))

	var e models.AICacheEntry
	var queryTypeStr, paramsJSON string
	var originalQuery sql.NullString
	var createdAt, lastAccessed, expiresAt int64

	err := row.Scan(&e.ID, &e.QueryHash, &queryTypeStr, &originalQuery, &paramsJSON, &e.HitCount, &createdAt, &lastAccessed, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning ai cache entry: %w", err)
	}

	e.QueryType = models.QueryType(queryTypeStr)
	e.OriginalQuery = originalQuery.String
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	e.LastAccessed = time.Unix(lastAccessed, 0).UTC()
	e.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	if err := json.Unmarshal([]byte(paramsJSON), &e.Params); err != nil {
		return nil, fmt.Errorf("unmarshaling cached params: %w", err)
	}
	return &e, nil
}

// TouchHit increments hit_count and bumps last_accessed on a cache read.
func (a *AICacheStorage) TouchHit(ctx context.Context, id string, now time.Time) error {
	_, err := a.db.ExecContext(ctx, "UPDATE ai_query_cache SET hit_count = hit_count + 1, last_accessed = ? WHERE id = ?", now.Unix(), id)
	return err
}

// Put upserts a cache entry keyed by (query_hash, query_type).
func (a *AICacheStorage) Put(ctx context.Context, e models.AICacheEntry) error {
	paramsJSON, err := json.Marshal(e.Params)
	if err != nil {
		return fmt.Errorf("marshaling search parameters: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO ai_query_cache (id, query_hash, query_type, original_query, params_json, hit_count, created_at, last_accessed, expires_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(query_hash, query_type) DO UPDATE SET
			original_query = excluded.original_query,
			params_json = excluded.params_json,
			expires_at = excluded.expires_at,
			last_accessed = excluded.last_accessed
	`, e.ID, e.QueryHash, string(e.QueryType), nullStr(e.OriginalQuery), string(paramsJSON), e.HitCount, e.CreatedAt.Unix(), e.LastAccessed.Unix(), e.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("upserting ai cache entry: %w", err)
	}
	return nil
}

// CountExpired reports the number of rows past expiration without
// deleting any of them — cleanup() in §4.8 is a pure count query.
func (a *AICacheStorage) CountExpired(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ai_query_cache WHERE expires_at < ?", now.Unix()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting expired cache entries: %w", err)
	}
	return count, nil
}

// Clear deletes every cache entry. The only delete path in the AI cache.
func (a *AICacheStorage) Clear(ctx context.Context) (int64, error) {
	res, err := a.db.ExecContext(ctx, "DELETE FROM ai_query_cache")
	if err != nil {
		return 0, fmt.Errorf("clearing ai cache: %w", err)
	}
	return res.RowsAffected()
}
