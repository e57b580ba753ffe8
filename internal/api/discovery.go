package api

import (
	"net/http"
)

// handleDiscoveryRefresh sends an SSDP probe. Lamps answer asynchronously,
// so the response only confirms the probe went out.
func (s *Server) handleDiscoveryRefresh(w http.ResponseWriter, r *http.Request) {
	if s.discovery == nil {
		writeUnavailable(w, "discovery disabled")
		return
	}

	if err := s.discovery.Probe(r.Context()); err != nil {
		s.logger.Warn("discovery probe failed", "error", err)
		writeUnavailable(w, "discovery probe failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "probe sent",
		"lamps":  s.registry.Count(),
	})
}
