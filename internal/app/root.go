package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/hytalectl/internal/config"
	"github.com/blackwell-systems/hytalectl/internal/downloader"
	"github.com/blackwell-systems/hytalectl/internal/lifecycle"
	"github.com/blackwell-systems/hytalectl/internal/logging"
	"github.com/blackwell-systems/hytalectl/internal/store"
	"github.com/blackwell-systems/hytalectl/internal/supervisor"
)

var (
	configPath string
	debug      bool

	// RootCmd is the root command for hytalectl
	RootCmd = &cobra.Command{
		Use:   "hytalectl",
		Short: "Update, back up and restore a Hytale dedicated server",
		Long: `hytalectl keeps a Hytale dedicated server current without losing worlds,
mods or operator configuration.

Updates download the vendor distribution, stage it next to the live tree,
stop the server, swap the staged files in and start the server again. The
replaced files are kept as a backup. If anything fails after the server
was stopped, hytalectl restarts it before reporting the error.

Examples:
  # Show server, version and disk state
  hytalectl status

  # Check for a newer release
  hytalectl version --check

  # Install it
  hytalectl update

  # Take a backup and restore its world later
  hytalectl backup create --label before-event
  hytalectl restore hytale_20260115-030000.tar.gz --mode world

  # Update automatically after the next nightly backup
  hytalectl auto-update on
  hytalectl watch --daemon`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "INFO"
			if debug {
				level = "DEBUG"
			}
			return logging.Configure(level, os.Stderr)
		},
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "configuration file")
	RootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

// openController builds the lifecycle controller from the configuration.
// Tests replace it.
var openController = func() (*lifecycle.Controller, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(cfg.StateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.StateDir, "hytalectl.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	dl := &downloader.Client{
		Binary:       cfg.Downloader.Binary,
		VersionArgs:  cfg.Downloader.VersionArgs,
		DownloadArgs: cfg.Downloader.DownloadArgs,
		Dir:          cfg.ServerDir,
		Timeout:      cfg.Downloader.Timeout,
	}

	c, err := lifecycle.New(cfg, st, supervisor.NewSystemd(cfg.Service), dl)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return c, func() { st.Close() }, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// daemonFiles returns the watcher PID and log file paths.
func daemonFiles(stateDir string) (pidFile, logFile string) {
	return filepath.Join(stateDir, "watch.pid"), filepath.Join(stateDir, "watch.log")
}
