package api

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/org/sharebox/internal/auth"
)

// UserListHandler handles GET /admin/users
func (s *Server) UserListHandler(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, viewOf(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

// UserCreateHandler handles POST /admin/users
func (s *Server) UserCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
		Group    string `json:"group"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.knownGroup(w, r, req.Group) {
		return
	}
	u, err := s.users.Create(r.Context(), req.Username, req.Password, req.Role, req.Group)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	log.Info().Str("username", u.Username).Str("by", userFromCtx(r.Context()).Username).Msg("user created")
	writeJSON(w, http.StatusCreated, viewOf(u))
}

// UserUpdateHandler handles PUT /admin/users/{username}. Renaming an account
// or changing its password ends its sessions.
func (s *Server) UserUpdateHandler(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	var req struct {
		NewUsername string `json:"newUsername"`
		NewPassword string `json:"newPassword"`
		Role        string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	me := userFromCtx(r.Context())
	if username == me.Username && req.Role != "" && req.Role != me.Role {
		writeError(w, http.StatusBadRequest, "cannot change your own role")
		return
	}

	u, err := s.users.Update(r.Context(), username, auth.UserUpdate{
		NewUsername: req.NewUsername,
		NewPassword: req.NewPassword,
		Role:        req.Role,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if u.Username != username || req.NewPassword != "" {
		if err := s.sessions.RevokeUser(r.Context(), username); err != nil {
			log.Warn().Err(err).Str("username", username).Msg("revoking sessions")
		}
	}
	writeJSON(w, http.StatusOK, viewOf(u))
}

// UserDeleteHandler handles DELETE /admin/users/{username}
func (s *Server) UserDeleteHandler(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == userFromCtx(r.Context()).Username {
		writeError(w, http.StatusBadRequest, "cannot delete yourself")
		return
	}
	if err := s.users.Delete(r.Context(), username); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.sessions.RevokeUser(r.Context(), username); err != nil {
		log.Warn().Err(err).Str("username", username).Msg("revoking sessions")
	}
	w.WriteHeader(http.StatusNoContent)
}

// UserSetGroupHandler handles PUT /admin/users/{username}/group. An empty
// group removes the user from every group.
func (s *Server) UserSetGroupHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Group string `json:"group"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.knownGroup(w, r, req.Group) {
		return
	}
	u, err := s.users.SetGroup(r.Context(), chi.URLParam(r, "username"), req.Group)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(u))
}

func (s *Server) knownGroup(w http.ResponseWriter, r *http.Request, group string) bool {
	if group == "" {
		return true
	}
	groups, err := s.groups.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return false
	}
	if !slices.Contains(groups, group) {
		writeError(w, http.StatusBadRequest, "unknown group")
		return false
	}
	return true
}

// GroupListHandler handles GET /admin/groups
func (s *Server) GroupListHandler(w http.ResponseWriter, r *http.Request) {
	groups, err := s.groups.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// GroupAddHandler handles POST /admin/groups
func (s *Server) GroupAddHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.groups.Add(r.Context(), req.Name); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"name": req.Name})
}

// GroupDeleteHandler handles DELETE /admin/groups/{name}. Permission entries
// naming the group are left alone.
func (s *Server) GroupDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.groups.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
