package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/sharebox/internal/auth"
	"github.com/org/sharebox/pkg/models"
)

// userView is the public shape of an account; the password hash never
// leaves the server.
type userView struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Group     string    `json:"group"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

func viewOf(u *models.User) userView {
	return userView{Username: u.Username, Role: u.Role, Group: u.Group, CreatedAt: u.CreatedAt}
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// LoginHandler handles POST /login
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			log.Info().Str("username", req.Username).Str("ip", clientIP(r)).Msg("login failed")
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		writeServiceError(w, r, err)
		return
	}

	sess, token, err := s.sessions.Create(r.Context(), user.Username)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.setSessionCookie(w, token, sess.ExpiresAt)
	if st := stateFromCtx(r.Context()); st != nil {
		st.username = user.Username
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":      viewOf(user),
		"expiresAt": sess.ExpiresAt,
	})
}

// LogoutHandler handles POST /logout. It succeeds without a session.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		if err := s.sessions.Revoke(r.Context(), c.Value); err != nil {
			log.Warn().Err(err).Msg("revoking session")
		}
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

// CheckAuthHandler handles GET /check-auth
func (s *Server) CheckAuthHandler(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"authenticated": false})
		return
	}
	sess, err := s.sessions.Validate(r.Context(), c.Value)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"authenticated": false})
		return
	}
	user, err := s.users.Get(r.Context(), sess.Username)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          viewOf(user),
	})
}
