// Package cache provides a thread-safe TTL cache of string values with a
// background reaper.
//
// The process shares one Manager, obtained with Instance and stopped with
// Shutdown. Components should receive that *Manager as a dependency; tests
// build their own with New and a manual Clock.
//
// Expiry is lazy: an expired entry reads as absent immediately but is only
// deleted by Remove, Clear, PurgeExpired or the reaper, which calls
// PurgeExpired every purge interval (60s by default).
//
// Usage:
//
//	c := cache.Instance(cache.WithLogger(log))
//	defer cache.Shutdown()
//
//	c.Put("device:cam1", settings, 0) // default TTL
//	if v, ok := c.Get("device:cam1"); ok {
//	    ...
//	}
//
// Hit, miss and purge counts are exported as process-wide Prometheus
// counters (lithium_cache_*_total). The entry count is a per-Manager gauge,
// exported only by a Manager built WithRegisterer. With WithStatsSink a
// Stats snapshot is also pushed after every reaper pass.
package cache
