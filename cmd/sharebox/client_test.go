package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestEscapePath(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"/photos/":         "photos",
		"photos/summer 24": "photos/summer%2024",
		"a/b?c/#d":         "a/b%3Fc/%23d",
		"docs/100%/r.pdf":  "docs/100%25/r.pdf",
	}
	for in, want := range cases {
		if got := escapePath(in); got != want {
			t.Errorf("escapePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHumanSize(t *testing.T) {
	cases := map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1024:    "1.0 KiB",
		1536:    "1.5 KiB",
		5 << 20: "5.0 MiB",
	}
	for in, want := range cases {
		if got := humanSize(in); got != want {
			t.Errorf("humanSize(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestClientSendsSessionAndParsesErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookie)
		if err != nil || c.Value != "sbx_token" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"errors":["not authenticated"]}`) //nolint:errcheck
			return
		}
		io.WriteString(w, `{"path":"docs"}`) //nolint:errcheck
	}))
	defer ts.Close()

	cfg = CLIConfig{Address: ts.URL + "/"}
	t.Setenv("SHAREBOX_ADDR", "")
	t.Setenv("SHAREBOX_SESSION", "")

	if _, err := newClient().get("/api/files/docs"); err == nil || err.Error() != "not authenticated" {
		t.Errorf("expected server error message, got %v", err)
	}

	cfg.Session = "sbx_token"
	result, err := newClient().get("/api/files/docs")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if result["path"] != "docs" {
		t.Errorf("unexpected result %v", result)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	t.Setenv("SHAREBOX_CLI_CONFIG", filepath.Join(t.TempDir(), "cfg", "config.yaml"))

	loadConfig()
	if cfg.Address != "http://127.0.0.1:3001" {
		t.Errorf("unexpected default address %q", cfg.Address)
	}
	cfg.Session = "sbx_saved"
	if err := saveConfig(); err != nil {
		t.Fatalf("saving config: %v", err)
	}
	fi, err := os.Stat(configPath())
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("config should be private, mode %v", fi.Mode().Perm())
	}

	cfg = CLIConfig{}
	loadConfig()
	if cfg.Session != "sbx_saved" {
		t.Errorf("session not persisted: %+v", cfg)
	}
}
