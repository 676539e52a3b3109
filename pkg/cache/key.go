package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every cache key in Redis.
const KeyPrefix = "firm-audit"

// CacheKey represents a unique identifier for a cached registry response.
type CacheKey struct {
	// Endpoint is the request path (e.g., "/api/firm/")
	Endpoint string

	// QueryParams are the query parameters (e.g., {"id": "ftmo"})
	QueryParams url.Values
}

// KeyFromURL builds a cache key from a request URL. The host is not part of
// the key; point separate registries at separate Redis databases.
func KeyFromURL(u *url.URL) CacheKey {
	return CacheKey{
		Endpoint:    u.Path,
		QueryParams: u.Query(),
	}
}

// String generates a deterministic cache key string.
// Format: firm-audit:endpoint:query1=val1:query2=val2
//
// Example:
//
//	firm-audit:api/firms:limit=500:offset=0
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	// Add query params (sorted for determinism)
	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, url.QueryEscape(k.QueryParams.Get(key))))
		}
	}

	return strings.Join(parts, ":")
}
