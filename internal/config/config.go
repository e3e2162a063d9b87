// Package config loads the server configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/org/sharebox/internal/logging"
)

// Storage backends.
const (
	StorageJSON     = "json"
	StoragePostgres = "postgres"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	TLSCertFile string `yaml:"tls_cert"`
	TLSKeyFile  string `yaml:"tls_key"`

	// Root is the managed directory served to users.
	Root string `yaml:"root"`
	// StateDir holds the permission document, JSON storage and caches.
	StateDir string `yaml:"state_dir"`

	Storage       string `yaml:"storage"`
	DBUrl         string `yaml:"db_url"`
	MigrationsDir string `yaml:"migrations_dir"`

	BackendURL  string   `yaml:"backend_url"`
	FrontendURL string   `yaml:"frontend_url"`
	UserGroups  []string `yaml:"user_groups"`

	// FollowSymlinks lists links as their targets. Links that resolve
	// outside Root are hidden regardless.
	FollowSymlinks   bool     `yaml:"follow_symlinks"`
	MaxDepth         int      `yaml:"max_depth"`
	Ignore           []string `yaml:"ignore"`
	ReconcileOnStart bool     `yaml:"reconcile_on_start"`

	SessionTTL    time.Duration `yaml:"session_ttl"`
	SecureCookies bool          `yaml:"secure_cookies"`
	DefaultAdmin  struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"default_admin"`

	RateLimit struct {
		RPS   int `yaml:"rps"`
		Burst int `yaml:"burst"`
	} `yaml:"rate_limit"`

	ThumbSize     int   `yaml:"thumb_size"`
	MaxUploadMB   int64 `yaml:"max_upload_mb"`
	AuditCapacity int   `yaml:"audit_capacity"`

	Log logging.Options `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	c := Config{
		ListenAddr:       ":3001",
		Root:             "data",
		StateDir:         "state",
		Storage:          StorageJSON,
		MigrationsDir:    "migrations",
		BackendURL:       "http://localhost:3001",
		FrontendURL:      "http://localhost:3000",
		MaxDepth:         64,
		Ignore:           []string{".DS_Store"},
		ReconcileOnStart: true,
		SessionTTL:       24 * time.Hour,
		ThumbSize:        256,
		MaxUploadMB:      1024,
		Log:              logging.Options{Level: "info"},
	}
	c.DefaultAdmin.Username = "admin"
	c.DefaultAdmin.Password = "admin"
	c.RateLimit.RPS = 100
	c.RateLimit.Burst = 200
	return c
}

// Load reads path from fsys on top of the defaults. A missing file leaves
// the defaults in place.
func Load(fsys afero.Fs, path string) (Config, error) {
	cfg := Default()
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn().Str("file", path).Msg("config file not found, using defaults")
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables looked up with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("SHAREBOX_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := getenv("SHAREBOX_ROOT"); v != "" {
		c.Root = v
	}
	if v := getenv("SHAREBOX_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.DBUrl = v
		c.Storage = StoragePostgres
	}
	if v := getenv("BACKEND_URL"); v != "" {
		c.BackendURL = v
	}
	if v := getenv("FRONTEND_URL"); v != "" {
		c.FrontendURL = v
	}
	if v := getenv("USER_GROUPS"); v != "" {
		c.UserGroups = splitList(v)
	}
	if v := getenv("SHAREBOX_FOLLOW_SYMLINKS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.FollowSymlinks = b
		}
	}
	if v := getenv("SHAREBOX_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the configuration and makes Root and StateDir absolute.
func (c *Config) Validate() error {
	if c.Root == "" {
		return errors.New("root must be configured")
	}
	if c.StateDir == "" {
		return errors.New("state_dir must be configured")
	}
	var err error
	if c.Root, err = filepath.Abs(c.Root); err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}
	if c.StateDir, err = filepath.Abs(c.StateDir); err != nil {
		return fmt.Errorf("resolving state_dir: %w", err)
	}
	if c.StateDir == c.Root || strings.HasPrefix(c.StateDir, c.Root+string(filepath.Separator)) {
		return errors.New("state_dir must not be inside root")
	}
	switch c.Storage {
	case StorageJSON:
	case StoragePostgres:
		if c.DBUrl == "" {
			return errors.New("db_url must be configured (or DATABASE_URL env var) for postgres storage")
		}
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("tls_cert and tls_key must be set together")
	}
	if c.MaxDepth < 0 {
		return errors.New("max_depth must not be negative")
	}
	return nil
}
