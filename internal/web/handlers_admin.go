package web

import (
	"net/http"

	"github.com/JonMunkholm/cdmmerge/internal/logging"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRunStatus reports run limiter occupancy.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Limiter == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{"limited": false})
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Limiter.Status())
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Cache.Stats(r.Context()))
}

// handleCacheClear drops every cache entry, including the durable copy.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.deps.Cache.Clear(r.Context())
	logging.FromContext(r.Context()).Warn("validation cache cleared", "ip", r.RemoteAddr)
	writeJSON(w, r, http.StatusOK, map[string]bool{"cleared": true})
}

// handleCacheSweep removes expired entries now instead of waiting for the
// scheduler.
func (s *Server) handleCacheSweep(w http.ResponseWriter, r *http.Request) {
	removed := s.deps.Cache.ClearStale(r.Context())
	logging.FromContext(r.Context()).Info("cache sweep requested", "entries_removed", removed)
	writeJSON(w, r, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Providers.Status())
}

// handleProvidersReset clears every quota flag and restarts rotation at the
// first provider.
func (s *Server) handleProvidersReset(w http.ResponseWriter, r *http.Request) {
	s.deps.Providers.ResetQuotas()
	logging.FromContext(r.Context()).Info("provider quotas reset")
	writeJSON(w, r, http.StatusOK, s.deps.Providers.Status())
}
