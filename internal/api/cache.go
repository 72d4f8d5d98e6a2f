package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lithium-next/lithium-core/internal/cache"
)

// CacheStatsResponse is the body of GET /api/v1/cache/stats.
type CacheStatsResponse struct {
	Size              int     `json:"size"`
	Hits              uint64  `json:"hits"`
	Misses            uint64  `json:"misses"`
	Purged            uint64  `json:"purged"`
	HitRatio          float64 `json:"hit_ratio"`
	DefaultTTLSeconds float64 `json:"default_ttl_seconds"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.cache.Stats()
	resp := CacheStatsResponse{
		Size:              stats.Size,
		Hits:              stats.Hits,
		Misses:            stats.Misses,
		Purged:            stats.Purged,
		DefaultTTLSeconds: s.cache.DefaultTTL().Seconds(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		resp.HitRatio = float64(stats.Hits) / float64(total)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCacheKeys lists unexpired keys, optionally filtered by ?prefix=.
func (s *Server) handleCacheKeys(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	keys := make([]string, 0)
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys, "count": len(keys)})
}

// handleCacheInvalidate applies a cache.Invalidation body locally and
// forwards it through OnInvalidate.
func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	var inv cache.Invalidation
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if !inv.All && inv.Prefix == "" && len(inv.Keys) == 0 {
		writeBadRequest(w, "one of keys, prefix or all is required")
		return
	}

	removed := inv.Apply(s.cache)
	if s.onInvalidate != nil {
		s.onInvalidate(inv)
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	s.cache.Clear()
	if s.onInvalidate != nil {
		s.onInvalidate(cache.Invalidation{All: true})
	}
	w.WriteHeader(http.StatusNoContent)
}
