// Package cache provides an optional Redis-backed cache for registry responses.
//
// Re-running an audit against the same registry within a short window does not
// need to re-download every firm record. When a Redis URL is configured, the
// client stores each successful response body under a deterministic key built
// from the request path and its sorted query parameters.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient, 5*time.Minute)
//
//	key := cache.KeyFromURL(u)
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the registry, then:
//		_ = manager.Set(ctx, key, manager.NewEntry(resp.StatusCode, resp.Header, body))
//	}
//
// # Expiry
//
// The TTL of an entry is taken from the response headers when present:
// Cache-Control max-age wins over Expires. Responses marked no-store are never
// cached. Without either header the manager's default TTL applies.
//
// # Metrics
//
//   - firm_audit_cache_hits_total - Cache hits
//   - firm_audit_cache_misses_total - Cache misses
//   - firm_audit_cache_stored_bytes_total - Bytes written to the cache
//   - firm_audit_cache_errors_total{operation} - Cache operation errors
package cache
