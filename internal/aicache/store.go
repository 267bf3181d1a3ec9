// Package aicache implements the AI Translation Cache (§4.8): a
// hash-keyed store of natural-language-query-to-filter translations so a
// repeated query skips the AI translation step.
package aicache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/common"
	"github.com/ternarybob/kissaten/internal/models"
	"github.com/ternarybob/kissaten/internal/storage/sqlite"
)

// DefaultTTL is the cache lifetime Put and PutImage use when no TTL
// override is given: seven days.
const DefaultTTL = 168 * time.Hour

// Store wraps AICacheStorage with the hashing, expiry, and hit-count
// maintenance rules of the AI Translation Cache.
type Store struct {
	storage *sqlite.AICacheStorage
	logger  arbor.ILogger
}

func NewStore(storage *sqlite.AICacheStorage, logger arbor.ILogger) *Store {
	return &Store{storage: storage, logger: logger}
}

// HashText normalizes a query (lowercase, collapse whitespace) and returns
// its SHA-256 hex digest, so that trivially different-looking queries
// ("  Huila  Lot", "huila lot") share a cache entry.
func HashText(query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// HashImage returns the SHA-256 hex digest of raw image bytes.
func HashImage(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get looks up a cached translation by text query. It returns (nil, nil)
// on a miss, including when the stored entry has expired — expired rows
// stay in the table for dataset-building but are never served as hits.
// A hit bumps hit_count and last_accessed.
func (s *Store) Get(ctx context.Context, query string) (*models.SearchParameters, error) {
	return s.get(ctx, HashText(query), models.QueryTypeText)
}

// GetImage is Get's counterpart for image-hash queries.
func (s *Store) GetImage(ctx context.Context, imageData []byte) (*models.SearchParameters, error) {
	return s.get(ctx, HashImage(imageData), models.QueryTypeImage)
}

func (s *Store) get(ctx context.Context, hash string, queryType models.QueryType) (*models.SearchParameters, error) {
	entry, err := s.storage.Get(ctx, hash, queryType)
	if err != nil {
		return nil, fmt.Errorf("looking up cached query: %w", err)
	}
	if entry == nil {
		s.logger.Debug().Str("type", string(queryType)).Str("hash", hash[:8]).Msg("ai cache miss")
		return nil, nil
	}
	if entry.ExpiresAt.Before(time.Now().UTC()) {
		s.logger.Debug().Str("type", string(queryType)).Str("hash", hash[:8]).Msg("ai cache entry expired")
		return nil, nil
	}
	if err := s.storage.TouchHit(ctx, entry.ID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("recording cache hit: %w", err)
	}
	s.logger.Debug().Str("type", string(queryType)).Str("hash", hash[:8]).Int("hit_count", entry.HitCount+1).Msg("ai cache hit")
	params := entry.Params
	return &params, nil
}

// Put caches a translated query under the default TTL.
func (s *Store) Put(ctx context.Context, query string, params models.SearchParameters) error {
	return s.put(ctx, HashText(query), models.QueryTypeText, query, params, DefaultTTL)
}

// PutImage is Put's counterpart for image-hash queries; original_query is
// left empty since image bytes aren't persisted as cache metadata.
func (s *Store) PutImage(ctx context.Context, imageData []byte, params models.SearchParameters) error {
	return s.put(ctx, HashImage(imageData), models.QueryTypeImage, "", params, DefaultTTL)
}

// PutWithTTL caches a translated text query under a caller-chosen TTL.
func (s *Store) PutWithTTL(ctx context.Context, query string, params models.SearchParameters, ttl time.Duration) error {
	return s.put(ctx, HashText(query), models.QueryTypeText, query, params, ttl)
}

func (s *Store) put(ctx context.Context, hash string, queryType models.QueryType, originalQuery string, params models.SearchParameters, ttl time.Duration) error {
	now := time.Now().UTC()
	existing, err := s.storage.Get(ctx, hash, queryType)
	if err != nil {
		return fmt.Errorf("checking existing cache entry: %w", err)
	}

	entry := models.AICacheEntry{
		ID:            common.NewID("aicache"),
		QueryHash:     hash,
		QueryType:     queryType,
		OriginalQuery: originalQuery,
		Params:        params,
		HitCount:      1,
		CreatedAt:     now,
		LastAccessed:  now,
		ExpiresAt:     now.Add(ttl),
	}
	if existing != nil {
		entry.ID = existing.ID
		entry.HitCount = existing.HitCount
		entry.CreatedAt = existing.CreatedAt
	}

	if err := s.storage.Put(ctx, entry); err != nil {
		return fmt.Errorf("storing cache entry: %w", err)
	}
	s.logger.Debug().Str("type", string(queryType)).Str("hash", hash[:8]).Str("ttl", ttl.String()).Msg("cached ai query")
	return nil
}

// CountExpired reports how many entries have passed their TTL, without
// deleting any of them. Expired rows are preserved for dataset-building;
// Clear is the only path that removes rows.
func (s *Store) CountExpired(ctx context.Context) (int, error) {
	count, err := s.storage.CountExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("counting expired cache entries: %w", err)
	}
	if count > 0 {
		s.logger.Info().Int("expired", count).Msg("found expired ai cache entries (preserved for dataset building)")
	}
	return count, nil
}

// Clear deletes every cache entry and returns the number removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	n, err := s.storage.Clear(ctx)
	if err != nil {
		return 0, fmt.Errorf("clearing ai cache: %w", err)
	}
	s.logger.Info().Int64("deleted", n).Msg("cleared ai cache entries")
	return n, nil
}
