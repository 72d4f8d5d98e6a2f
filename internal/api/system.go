package api

import (
	"net/http"
	"time"

	"github.com/lithium-next/lithium-core/internal/infrastructure/database"
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	SQLiteVersion string `json:"sqlite_version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Database      string `json:"database"`
	CacheEntries  int    `json:"cache_entries"`
}

// handleHealth reports store health; 503 when the database check fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       s.version,
		SQLiteVersion: database.Version(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Database:      "ok",
		CacheEntries:  s.cache.Size(),
	}

	status := http.StatusOK
	if err := s.withStore(func() error { return s.conn.HealthCheck(r.Context()) }); err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
