// Package cache provides a Redis-backed completion cache.
//
// Identical requests (same provider, model and wire payload) hit the
// cache instead of the network, costing neither rate budget nor an
// attempt. Keys are content-addressed, so two semantically identical
// requests submitted by different callers share one entry.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.NewKey("openai", "gpt-4o-mini", payload)
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// dispatch to the provider
//	}
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - llm_cache_hits_total{layer="redis"} - Cache hits
//   - llm_cache_misses_total - Cache misses
//   - llm_cache_size_bytes{layer="redis"} - Bytes read/written
//   - llm_cache_errors_total{operation} - Cache operation errors
package cache
