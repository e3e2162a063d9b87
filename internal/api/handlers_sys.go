package api

import (
	"net/http"
)

// Version is reported by the health endpoint.
var Version = "dev"

// HealthHandler handles GET /healthz
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"version":           Version,
		"permissionEntries": s.perms.Snapshot().Len(),
	})
}
