// Package config loads the hytalectl configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blackwell-systems/hytalectl/internal/downloader"
	"github.com/blackwell-systems/hytalectl/internal/fetch"
	"github.com/blackwell-systems/hytalectl/internal/preserve"
	"github.com/blackwell-systems/hytalectl/internal/restore"
	"github.com/blackwell-systems/hytalectl/internal/staging"
	"github.com/blackwell-systems/hytalectl/internal/tokens"
	"github.com/blackwell-systems/hytalectl/internal/version"
)

// DefaultPath is read when --config is not given.
const DefaultPath = "/etc/hytalectl/config.yaml"

// AutoUpdateFlag arms an update after the next backup. It lives in the
// server directory and holds the archive count at arm time.
const AutoUpdateFlag = ".update_after_backup"

// Environment overrides.
const (
	EnvServerDir = "HYTALE_SERVER_DIR"
	EnvService   = "HYTALE_SERVICE"
	EnvStateDir  = "HYTALECTL_STATE_DIR"
)

// Config is the on-disk configuration.
type Config struct {
	ServerDir     string           `yaml:"server_dir"`
	BackupDir     string           `yaml:"backup_dir"` // defaults to <server_dir>/backups
	StateDir      string           `yaml:"state_dir"`
	Service       string           `yaml:"service"`
	Owner         OwnerConfig      `yaml:"owner"`
	Downloader    DownloaderConfig `yaml:"downloader"`
	Fetch         FetchConfig      `yaml:"fetch"`
	Supervisor    SupervisorConfig `yaml:"supervisor"`
	Preserve      []string         `yaml:"preserve"`
	Markers       []string         `yaml:"markers"`
	Restore       RestoreConfig    `yaml:"restore"`
	RetentionDays int              `yaml:"retention_days"`
	TokenTTL      time.Duration    `yaml:"token_ttl"`
	MinFreeBytes  uint64           `yaml:"min_free_bytes"`
}

// OwnerConfig names the account that owns the installation. Empty means
// files keep whatever owner they were written with.
type OwnerConfig struct {
	User  string `yaml:"user"`
	Group string `yaml:"group"`
}

// DownloaderConfig configures the vendor downloader binary.
type DownloaderConfig struct {
	Binary       string        `yaml:"binary"`
	VersionArgs  []string      `yaml:"version_args"`
	DownloadArgs []string      `yaml:"download_args"`
	Timeout      time.Duration `yaml:"timeout"`
}

// FetchConfig bounds download retries.
type FetchConfig struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

// SupervisorConfig bounds server start/stop calls.
type SupervisorConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// RestoreConfig lists the subtrees each restore mode touches.
type RestoreConfig struct {
	World []string `yaml:"world"`
	Full  []string `yaml:"full"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerDir: "/opt/hytale-server",
		StateDir:  "/var/lib/hytalectl",
		Service:   "hytale",
		Downloader: DownloaderConfig{
			Binary:  downloader.DefaultBinary,
			Timeout: 30 * time.Minute,
		},
		Fetch: FetchConfig{
			Attempts: fetch.DefaultAttempts,
			Backoff:  fetch.DefaultBackoff,
		},
		Supervisor: SupervisorConfig{Timeout: 2 * time.Minute},
		Preserve:   append([]string(nil), preserve.DefaultEntries...),
		Markers:    append([]string(nil), staging.DefaultMarkers...),
		Restore: RestoreConfig{
			World: append([]string(nil), restore.DefaultSets[restore.ModeWorld]...),
			Full:  append([]string(nil), restore.DefaultSets[restore.ModeFull]...),
		},
		RetentionDays: 14,
		TokenTTL:      tokens.DefaultTTL,
		MinFreeBytes:  2 << 30,
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(p string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(p)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", p, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", p, err)
	}

	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", p, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvServerDir); v != "" {
		c.ServerDir = v
	}
	if v := getenv(EnvService); v != "" {
		c.Service = v
	}
	if v := getenv(EnvStateDir); v != "" {
		c.StateDir = v
	}
}

// BackupRoot returns the backup directory.
func (c *Config) BackupRoot() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(c.ServerDir, "backups")
}

// Retention returns the retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// ControlNames returns the top-level server entries hytalectl owns.
func (c *Config) ControlNames() []string {
	names := []string{version.InstalledFile, version.LatestFile, AutoUpdateFlag}
	root := filepath.Clean(c.BackupRoot())
	if filepath.Dir(root) == filepath.Clean(c.ServerDir) {
		names = append(names, filepath.Base(root))
	}
	return names
}

// Validate checks the configuration for values that would make an update or
// restore unsafe.
func (c *Config) Validate() error {
	var errs []error
	for name, dir := range map[string]string{
		"server_dir": c.ServerDir,
		"state_dir":  c.StateDir,
		"backup_dir": c.BackupRoot(),
	} {
		if !filepath.IsAbs(dir) {
			errs = append(errs, fmt.Errorf("%s must be an absolute path, got %q", name, dir))
		}
	}
	if strings.TrimSpace(c.Service) == "" {
		errs = append(errs, errors.New("service must not be empty"))
	}
	if c.Fetch.Attempts <= 0 {
		errs = append(errs, fmt.Errorf("fetch.attempts must be positive, got %d", c.Fetch.Attempts))
	}
	if c.Fetch.Backoff <= 0 {
		errs = append(errs, fmt.Errorf("fetch.backoff must be positive, got %s", c.Fetch.Backoff))
	}
	if c.Downloader.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("downloader.timeout must be positive, got %s", c.Downloader.Timeout))
	}
	if c.Supervisor.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("supervisor.timeout must be positive, got %s", c.Supervisor.Timeout))
	}
	if c.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("retention_days must not be negative, got %d", c.RetentionDays))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("token_ttl must be positive, got %s", c.TokenTTL))
	}

	if _, err := preserve.NewSet(c.Preserve...); err != nil {
		errs = append(errs, fmt.Errorf("preserve: %w", err))
	}
	control := preserve.NewControl(c.ControlNames()...)
	for _, spec := range c.Preserve {
		top, _, _ := strings.Cut(path.Clean(filepath.ToSlash(strings.TrimSpace(spec))), "/")
		if control.Contains(top) {
			errs = append(errs, fmt.Errorf("preserve: %q is managed by hytalectl", spec))
		}
	}
	if len(c.Markers) == 0 {
		errs = append(errs, errors.New("markers must not be empty"))
	}
	for mode, set := range map[string][]string{"restore.world": c.Restore.World, "restore.full": c.Restore.Full} {
		if len(set) == 0 {
			errs = append(errs, fmt.Errorf("%s must not be empty", mode))
			continue
		}
		if _, err := preserve.NewSet(set...); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", mode, err))
		}
	}
	return errors.Join(errs...)
}
