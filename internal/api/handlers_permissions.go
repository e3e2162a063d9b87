package api

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/org/sharebox/internal/tree"
)

// PermissionListHandler handles GET /admin/permissions. The body is the
// permission document itself.
func (s *Server) PermissionListHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.perms.Snapshot())
}

// PermissionGrantHandler handles PUT /admin/permissions/*
func (s *Server) PermissionGrantHandler(w http.ResponseWriter, r *http.Request) {
	key, err := wildcardPath(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req struct {
		Groups []string `json:"groups"`
	}
	if err := decodeJSON(r, &req); err != nil || len(req.Groups) == 0 {
		writeError(w, http.StatusBadRequest, "groups are required")
		return
	}
	if _, err := tree.Stat(s.root, key, s.cfg.Tree); err != nil {
		writeServiceError(w, r, err)
		return
	}

	groups, err := s.perms.Grant(r.Context(), key, req.Groups...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	permissionEntries.Set(float64(s.perms.Snapshot().Len()))
	log.Info().Str("path", key).Strs("granted", req.Groups).Strs("groups", groups).Msg("permissions granted")
	writeJSON(w, http.StatusOK, map[string]any{"path": key, "groups": groups})
}

// PermissionRevokeHandler handles DELETE /admin/permissions/*?group=
func (s *Server) PermissionRevokeHandler(w http.ResponseWriter, r *http.Request) {
	key, err := wildcardPath(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	group := r.URL.Query().Get("group")
	if group == "" {
		writeError(w, http.StatusBadRequest, "group is required")
		return
	}
	// Revoking from a recorded entry works even after the path is gone, so
	// stale entries can be cleaned up; otherwise the path must exist.
	if _, recorded := s.perms.Snapshot().Lookup(key); !recorded {
		if _, err := tree.Stat(s.root, key, s.cfg.Tree); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}

	groups, err := s.perms.Revoke(r.Context(), key, group)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	permissionEntries.Set(float64(s.perms.Snapshot().Len()))
	log.Info().Str("path", key).Str("revoked", group).Strs("groups", groups).Msg("permissions revoked")
	writeJSON(w, http.StatusOK, map[string]any{"path": key, "groups": groups})
}

// ReconcileHandler handles POST /admin/reconcile. An optional body
// {"path": ...} limits the walk to a subtree.
func (s *Server) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	m, added, err := s.Reconcile(r.Context(), req.Path)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added, "entries": m.Len()})
}
