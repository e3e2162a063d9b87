package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/org/sharebox/internal/audit"
	"github.com/org/sharebox/internal/auth"
	"github.com/org/sharebox/internal/files"
	"github.com/org/sharebox/internal/listing"
	"github.com/org/sharebox/internal/permission"
	"github.com/org/sharebox/internal/policy"
	"github.com/org/sharebox/internal/qr"
	"github.com/org/sharebox/internal/storage"
	"github.com/org/sharebox/internal/tree"
	"github.com/org/sharebox/pkg/models"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string

	Tree        tree.Options
	BackendURL  string
	FrontendURL string

	SessionTTL    time.Duration
	SecureCookies bool

	ThumbDir       string
	ThumbSize      int
	MaxUploadBytes int64

	RateLimitRPS   int
	RateLimitBurst int
}

// AuditLogger is the interface the server needs from an audit logger.
type AuditLogger interface {
	LogRequest(ctx context.Context, entry *models.AuditEntry)
	Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error)
}

// Server is the HTTP front end of the file browser.
type Server struct {
	store      storage.Backend
	root       afero.Fs
	perms      *permission.Store
	reconciler *permission.Reconciler
	policy     *policy.Engine
	listing    *listing.Engine
	files      *files.Manager
	qr         *qr.Generator
	sessions   *auth.SessionService
	users      *auth.UserService
	groups     *auth.GroupRegistry
	auditor    AuditLogger
	cfg        Config
	httpSrv    *http.Server
}

// NewServer creates a fully wired Server. root must be rooted at the
// managed directory; state holds caches.
func NewServer(store storage.Backend, perms *permission.Store, root, state afero.Fs, cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 1 << 30
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS, cfg.RateLimitBurst = 100, 200
	}
	if cfg.ThumbDir == "" {
		cfg.ThumbDir = "/thumbs"
	}
	return &Server{
		store:      store,
		root:       root,
		perms:      perms,
		reconciler: permission.NewReconciler(perms, root, cfg.Tree),
		policy:     policy.NewEngine(perms),
		listing:    listing.NewEngine(root, cfg.Tree),
		files: files.NewManager(root, state, perms, files.Options{
			Tree:      cfg.Tree,
			ThumbDir:  cfg.ThumbDir,
			ThumbSize: cfg.ThumbSize,
		}),
		qr:       qr.New(cfg.BackendURL, cfg.FrontendURL),
		sessions: auth.NewSessionService(store, cfg.SessionTTL),
		users:    auth.NewUserService(store),
		groups:   auth.NewGroupRegistry(store),
		auditor:  audit.NewLogger(store),
		cfg:      cfg,
	}
}

// Users exposes the account service (for bootstrap).
func (s *Server) Users() *auth.UserService {
	return s.users
}

// Groups exposes the group registry (for bootstrap).
func (s *Server) Groups() *auth.GroupRegistry {
	return s.groups
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst).middleware)
	r.Use(auditMiddleware(s.auditor))

	r.Handle("/metrics", MetricsHandler())

	// Public routes
	r.Group(func(r chi.Router) {
		r.Get("/healthz", s.HealthHandler)
		r.Post("/login", s.LoginHandler)
		r.Post("/logout", s.LogoutHandler)
		r.Get("/check-auth", s.CheckAuthHandler)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(sessionMiddleware(s.sessions, s.users))

		r.Get("/data/*", s.DownloadHandler)

		r.Get("/api/files", s.ListHandler)
		r.Get("/api/files/*", s.ListHandler)
		r.Delete("/api/files/*", s.DeleteHandler)
		r.Put("/api/files/*", s.RenameHandler)
		r.Post("/api/create-folder", s.CreateFolderHandler)
		r.Post("/api/upload", s.UploadHandler)
		r.Get("/api/qr/*", s.QRHandler)
		r.Get("/api/thumb/*", s.ThumbHandler)

		// Admin
		r.Route("/admin", func(r chi.Router) {
			r.Use(adminMiddleware)

			r.Get("/users", s.UserListHandler)
			r.Post("/users", s.UserCreateHandler)
			r.Put("/users/{username}", s.UserUpdateHandler)
			r.Delete("/users/{username}", s.UserDeleteHandler)
			r.Put("/users/{username}/group", s.UserSetGroupHandler)

			r.Get("/groups", s.GroupListHandler)
			r.Post("/groups", s.GroupAddHandler)
			r.Delete("/groups/{name}", s.GroupDeleteHandler)

			r.Get("/permissions", s.PermissionListHandler)
			r.Put("/permissions/*", s.PermissionGrantHandler)
			r.Delete("/permissions/*", s.PermissionRevokeHandler)
			r.Post("/reconcile", s.ReconcileHandler)

			r.Get("/audit-log", s.AuditLogHandler)
		})
	})

	return r
}

// Reconcile backfills permission entries below start and records metrics.
func (s *Server) Reconcile(ctx context.Context, start string) (*permission.Mapping, int, error) {
	began := time.Now()
	m, added, err := s.reconciler.Reconcile(ctx, start)
	if err != nil {
		return nil, 0, err
	}
	reconcileDuration.Observe(time.Since(began).Seconds())
	permissionEntries.Set(float64(m.Len()))
	return m, added, nil
}

// PurgeSessions drops expired sessions and refreshes the account gauges.
func (s *Server) PurgeSessions(ctx context.Context) {
	n, err := s.sessions.Purge(ctx)
	if err != nil {
		log.Error().Err(err).Msg("purging expired sessions")
	} else if n > 0 {
		log.Debug().Int64("purged", n).Msg("expired sessions purged")
	}
	if c, err := s.store.CountActiveSessions(ctx); err == nil {
		activeSessionsTotal.Set(float64(c))
	}
	if c, err := s.store.CountUsers(ctx); err == nil {
		usersTotal.Set(float64(c))
	}
	permissionEntries.Set(float64(s.perms.Snapshot().Len()))
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	// No read or write timeout: downloads and uploads may run for a long
	// time. Slow headers are still cut off.
	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		tlsCfg := &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		s.httpSrv.TLSConfig = tlsCfg
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
