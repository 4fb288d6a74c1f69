package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv(EnvAccessSecret, "test-access-secret")
	t.Setenv(EnvRefreshSecret, "test-refresh-secret")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, "guard:\n  role_source: snapshot\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr %q", cfg.Server.Addr)
	}
	if cfg.Tokens.AccessTTL.Std() != 15*time.Minute {
		t.Fatalf("access ttl %v", cfg.Tokens.AccessTTL)
	}
	if cfg.Tokens.RefreshTTL.Std() != 14*24*time.Hour {
		t.Fatalf("refresh ttl %v", cfg.Tokens.RefreshTTL)
	}
	if cfg.Sessions.Backend != "postgres" {
		t.Fatalf("backend %q", cfg.Sessions.Backend)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("log format %q", cfg.Logging.Format)
	}
}

func TestLoadOverridesFromFileAndEnv(t *testing.T) {
	setSecrets(t)
	t.Setenv(EnvPGDSN, "postgres://env-wins")
	path := writeConfig(t, `
server:
  addr: ":9090"
database:
  dsn: "postgres://from-file"
tokens:
  access_ttl: 5m
guard:
  role_source: refetch
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr %q", cfg.Server.Addr)
	}
	if cfg.Database.DSN != "postgres://env-wins" {
		t.Fatalf("dsn %q, env must win over file", cfg.Database.DSN)
	}
	if cfg.Tokens.AccessTTL.Std() != 5*time.Minute {
		t.Fatalf("access ttl %v", cfg.Tokens.AccessTTL)
	}
	if cfg.Guard.RoleSource != "refetch" {
		t.Fatalf("role source %q", cfg.Guard.RoleSource)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name   string
		yaml   string
		access string
		refr   string
	}{
		{"missing role source", "server:\n  addr: \":8080\"\n", "a-secret", "r-secret"},
		{"unknown role source", "guard:\n  role_source: maybe\n", "a-secret", "r-secret"},
		{"missing secrets", "guard:\n  role_source: snapshot\n", "", ""},
		{"equal secrets", "guard:\n  role_source: snapshot\n", "same", "same"},
		{"redis without addr", "guard:\n  role_source: snapshot\nsessions:\n  backend: redis\n", "a-secret", "r-secret"},
		{"unknown backend", "guard:\n  role_source: snapshot\nsessions:\n  backend: dynamo\n", "a-secret", "r-secret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvAccessSecret, tc.access)
			t.Setenv(EnvRefreshSecret, tc.refr)
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadSecretsNeverFromFile(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, `
guard:
  role_source: snapshot
tokens:
  accesssecret: "file-secret"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tokens.AccessSecret != "test-access-secret" {
		t.Fatalf("secret %q came from the file", cfg.Tokens.AccessSecret)
	}
}
