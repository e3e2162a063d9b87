package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/org/sharebox/internal/api"
	"github.com/org/sharebox/internal/config"
	"github.com/org/sharebox/internal/logging"
	"github.com/org/sharebox/internal/permission"
	"github.com/org/sharebox/internal/storage"
	"github.com/org/sharebox/internal/tree"
)

func main() {
	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("SHAREBOX_CONFIG"); v != "" {
		cfgFile = v
	}
	cfg, err := config.Load(afero.NewOsFs(), cfgFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.ApplyEnv(os.Getenv)

	logs := logging.Setup(cfg.Log)
	defer logs.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create state dir")
	}
	if fi, err := os.Stat(cfg.Root); err != nil || !fi.IsDir() {
		log.Fatal().Err(err).Str("root", cfg.Root).Msg("root must be an existing directory")
	}
	state := afero.NewBasePathFs(afero.NewOsFs(), cfg.StateDir)
	root := afero.NewBasePathFs(afero.NewOsFs(), cfg.Root)

	store, err := openBackend(ctx, cfg, state)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer store.Close()

	perms := permission.NewStore(state, "/"+permission.DocumentName)
	m, err := perms.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load permissions")
	}
	log.Info().Int("entries", m.Len()).Str("file", filepath.Join(cfg.StateDir, permission.DocumentName)).Msg("permissions loaded")

	srv := api.NewServer(store, perms, root, state, api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
		Tree: tree.Options{
			FollowSymlinks: cfg.FollowSymlinks,
			MaxDepth:       cfg.MaxDepth,
			Ignore:         cfg.Ignore,
		},
		BackendURL:     cfg.BackendURL,
		FrontendURL:    cfg.FrontendURL,
		SessionTTL:     cfg.SessionTTL,
		SecureCookies:  cfg.SecureCookies,
		ThumbDir:       "/thumbs",
		ThumbSize:      cfg.ThumbSize,
		MaxUploadBytes: cfg.MaxUploadMB << 20,
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
	})

	if cfg.ReconcileOnStart {
		if _, _, err := srv.Reconcile(ctx, ""); err != nil {
			log.Fatal().Err(err).Msg("failed to reconcile permissions")
		}
	}
	if err := srv.Groups().Seed(ctx, cfg.UserGroups); err != nil {
		log.Fatal().Err(err).Msg("failed to seed groups")
	}
	created, err := srv.Users().EnsureDefaultAdmin(ctx, cfg.DefaultAdmin.Username, cfg.DefaultAdmin.Password)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create default admin")
	}
	if created {
		log.Warn().Str("username", cfg.DefaultAdmin.Username).Msg("default admin created - change its password")
	}

	// Handle graceful shutdown
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go purgeLoop(runCtx, srv, 10*time.Minute)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("root", cfg.Root).Msg("server started")
	<-runCtx.Done()

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}

func openBackend(ctx context.Context, cfg config.Config, state afero.Fs) (storage.Backend, error) {
	if cfg.Storage != config.StoragePostgres {
		return storage.NewJSONBackend(state, "/", cfg.AuditCapacity)
	}
	store, err := storage.NewPostgresBackend(ctx, cfg.DBUrl)
	if err != nil {
		return nil, err
	}
	if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
		store.Close()
		return nil, err
	}
	log.Info().Msg("migrations applied")
	return store, nil
}

func purgeLoop(ctx context.Context, srv *api.Server, every time.Duration) {
	srv.PurgeSessions(ctx)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			srv.PurgeSessions(ctx)
		}
	}
}
