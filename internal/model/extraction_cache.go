package model

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ExtractionCacheTTL is how long a cached model-assisted extraction result
// stays valid before it's treated as a miss (§9 "Supplemented features").
const ExtractionCacheTTL = 30 * 24 * time.Hour

// ExtractionCache is a cached model-assisted extraction result, keyed by a
// hash of the normalized source URL. A second extract_one for the same
// source within the TTL skips the LLM call entirely.
type ExtractionCache struct {
	URLHash       string
	NormalizedURL string
	Result        *Recipe
	CreatedAt     time.Time
	ExpiresAt     time.Time
	HitCount      int
}

// NewExtractionCache builds a cache entry for rawURL/result, due to expire
// after ExtractionCacheTTL.
func NewExtractionCache(rawURL string, result *Recipe) *ExtractionCache {
	normalized := NormalizeURL(rawURL)
	now := time.Now().UTC()
	return &ExtractionCache{
		URLHash:       HashURL(normalized),
		NormalizedURL: normalized,
		Result:        result,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ExtractionCacheTTL),
	}
}

// IsExpired reports whether the entry is past its TTL.
func (c *ExtractionCache) IsExpired() bool {
	return time.Now().UTC().After(c.ExpiresAt)
}

// HashURL computes the SHA-256 hash of a normalized URL for use as a cache
// key, so raw (possibly very long) URLs never need to be a unique index key.
func HashURL(normalizedURL string) string {
	hash := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(hash[:])
}

// NormalizeURL normalizes rawURL for consistent cache/source-hint lookups:
// lower-cased scheme/host, no "www." prefix, platform-specific
// canonicalization, and tracking parameters stripped. Two links to the same
// article that differ only by tracking query params normalize identically.
func NormalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	rawURL = strings.Trim(rawURL, `"',;`)

	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimPrefix(u.Host, "www.")
	u.Host, u.Path, u.RawQuery = normalizeFeedURL(u.Host, u.Path, u.RawQuery)
	u.RawQuery = removeTrackingParams(u.RawQuery)
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.Fragment = ""

	return u.String()
}

// normalizeFeedURL canonicalizes the mobile/short-link variants of the feed
// sources the poller pulls from, so "m.reddit.com" and "reddit.com" collapse
// to the same normalized form.
func normalizeFeedURL(host, path, query string) (string, string, string) {
	switch {
	case strings.HasPrefix(host, "m."):
		host = strings.TrimPrefix(host, "m.")
	case host == "old.reddit.com" || host == "np.reddit.com":
		host = "reddit.com"
	}
	return host, path, query
}

// trackingParams matches common marketing/analytics query parameters.
var trackingParams = regexp.MustCompile(`^(utm_|fbclid|gclid|gclsrc|dclid|msclkid|ref|source|medium|campaign)`)

// removeTrackingParams strips tracking parameters and sorts what remains so
// two URLs differing only in parameter order or tracking noise normalize
// identically.
func removeTrackingParams(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}

	for key := range values {
		if trackingParams.MatchString(strings.ToLower(key)) {
			delete(values, key)
		}
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var parts []string
	for _, key := range keys {
		for _, value := range values[key] {
			parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(value))
		}
	}

	return strings.Join(parts, "&")
}
