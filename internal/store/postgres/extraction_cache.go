package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/reciperun/pipeline/internal/model"
)

// ErrCacheNotFound is returned when no cache row matches the requested hash.
var ErrCacheNotFound = errors.New("extraction cache entry not found")

// ErrCacheExpired is returned when a matching row exists but is past its
// TTL; the caller should treat this as a cache miss.
var ErrCacheExpired = errors.New("extraction cache entry expired")

// ExtractionCacheStore persists model-assisted extraction results keyed by
// a hash of the normalized source URL, so a repeated extract_one for the
// same source within the TTL skips the LLM call (§9 supplemented feature).
type ExtractionCacheStore struct {
	db *sql.DB
}

// NewExtractionCacheStore wraps an already-opened *sql.DB.
func NewExtractionCacheStore(db *sql.DB) *ExtractionCacheStore {
	return &ExtractionCacheStore{db: db}
}

// Get looks up a cache entry by its URL hash.
func (s *ExtractionCacheStore) Get(ctx context.Context, urlHash string) (*model.ExtractionCache, error) {
	query := `
		SELECT url_hash, normalized_url, result_json, created_at, expires_at, hit_count
		FROM extraction_cache
		WHERE url_hash = $1
	`

	cache := &model.ExtractionCache{}
	var resultJSON []byte

	err := s.db.QueryRowContext(ctx, query, urlHash).Scan(
		&cache.URLHash, &cache.NormalizedURL, &resultJSON,
		&cache.CreatedAt, &cache.ExpiresAt, &cache.HitCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheNotFound
	}
	if err != nil {
		return nil, err
	}

	if cache.IsExpired() {
		go s.Delete(context.Background(), urlHash)
		return nil, ErrCacheExpired
	}

	if len(resultJSON) > 0 {
		cache.Result = &model.Recipe{}
		if err := json.Unmarshal(resultJSON, cache.Result); err != nil {
			go s.Delete(context.Background(), urlHash)
			return nil, ErrCacheNotFound
		}
	}

	return cache, nil
}

// GetByURL normalizes rawURL and looks up the corresponding cache entry.
func (s *ExtractionCacheStore) GetByURL(ctx context.Context, rawURL string) (*model.ExtractionCache, error) {
	return s.Get(ctx, model.HashURL(model.NormalizeURL(rawURL)))
}

// Set inserts or refreshes a cache entry.
func (s *ExtractionCacheStore) Set(ctx context.Context, cache *model.ExtractionCache) error {
	resultJSON, err := json.Marshal(cache.Result)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extraction_cache (url_hash, normalized_url, result_json, created_at, expires_at, hit_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (url_hash) DO UPDATE SET
			result_json = EXCLUDED.result_json,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`, cache.URLHash, cache.NormalizedURL, resultJSON, cache.CreatedAt, cache.ExpiresAt, cache.HitCount)
	return err
}

// IncrementHitCount records a cache hit.
func (s *ExtractionCacheStore) IncrementHitCount(ctx context.Context, urlHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE extraction_cache SET hit_count = hit_count + 1 WHERE url_hash = $1`, urlHash)
	return err
}

// Delete removes a cache entry.
func (s *ExtractionCacheStore) Delete(ctx context.Context, urlHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM extraction_cache WHERE url_hash = $1`, urlHash)
	return err
}

// DeleteExpired removes every cache row past its TTL and returns the count
// deleted. Run periodically by the worker's background sweep.
func (s *ExtractionCacheStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM extraction_cache WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
