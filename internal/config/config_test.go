package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvServerDir, "")
	t.Setenv(EnvService, "")
	t.Setenv(EnvStateDir, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerDir != "/opt/hytale-server" || cfg.Service != "hytale" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.BackupRoot() != "/opt/hytale-server/backups" {
		t.Errorf("BackupRoot() = %q", cfg.BackupRoot())
	}
	if cfg.Retention() != 14*24*time.Hour {
		t.Errorf("Retention() = %s", cfg.Retention())
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server_dir: /srv/hytale
service: hytale-test
owner:
  user: hytale
  group: hytale
downloader:
  binary: /srv/hytale/hytale-downloader
  timeout: 10m
fetch:
  attempts: 5
  backoff: 3s
preserve:
  - universe
  - Server/universe
retention_days: 7
token_ttl: 2m
`
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvServerDir, "")
	t.Setenv(EnvService, "")
	t.Setenv(EnvStateDir, "/tmp/hytalectl-state")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerDir != "/srv/hytale" || cfg.Service != "hytale-test" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.StateDir != "/tmp/hytalectl-state" {
		t.Errorf("StateDir = %q, want env override", cfg.StateDir)
	}
	if cfg.Downloader.Timeout != 10*time.Minute || cfg.Fetch.Backoff != 3*time.Second || cfg.Fetch.Attempts != 5 {
		t.Errorf("durations not parsed: %+v %+v", cfg.Downloader, cfg.Fetch)
	}
	if len(cfg.Preserve) != 2 {
		t.Errorf("Preserve = %v, want file list to replace defaults", cfg.Preserve)
	}
	if cfg.TokenTTL != 2*time.Minute || cfg.RetentionDays != 7 {
		t.Errorf("TokenTTL = %s, RetentionDays = %d", cfg.TokenTTL, cfg.RetentionDays)
	}
	// Unset sections keep their defaults.
	if len(cfg.Markers) == 0 || cfg.Supervisor.Timeout == 0 {
		t.Errorf("defaults lost: markers=%v supervisor=%+v", cfg.Markers, cfg.Supervisor)
	}
}

func TestLoadBadYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte("server_dir: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p); err == nil {
		t.Error("Load() error = nil, want parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative server dir", func(c *Config) { c.ServerDir = "hytale" }, "server_dir must be an absolute path"},
		{"zero attempts", func(c *Config) { c.Fetch.Attempts = 0 }, "fetch.attempts must be positive"},
		{"zero supervisor timeout", func(c *Config) { c.Supervisor.Timeout = 0 }, "supervisor.timeout must be positive"},
		{"escaping preserve", func(c *Config) { c.Preserve = []string{"../etc"} }, "escapes the installation root"},
		{"control preserve", func(c *Config) { c.Preserve = []string{"backups/keep"} }, "managed by hytalectl"},
		{"marker preserve", func(c *Config) { c.Preserve = []string{"last_version.txt"} }, "managed by hytalectl"},
		{"empty world set", func(c *Config) { c.Restore.World = nil }, "restore.world must not be empty"},
		{"empty service", func(c *Config) { c.Service = " " }, "service must not be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want %q", err, tt.want)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestControlNames(t *testing.T) {
	cfg := Default()
	names := strings.Join(cfg.ControlNames(), ",")
	if !strings.Contains(names, "backups") || !strings.Contains(names, AutoUpdateFlag) {
		t.Errorf("ControlNames() = %s", names)
	}

	cfg.BackupDir = "/var/backups/hytale"
	for _, n := range cfg.ControlNames() {
		if n == "hytale" || n == "backups" {
			t.Errorf("ControlNames() includes %q for a backup dir outside the server dir", n)
		}
	}
}
