package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/hytalectl/internal/output"
	"github.com/blackwell-systems/hytalectl/internal/watcher"
)

var (
	watchDaemon      bool
	watchDaemonChild bool
	watchPIDFile     string
	watchLogFile     string
	watchStop        bool

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Run armed auto-updates when a new backup lands",
		Long: `Watch the backup directory and run the armed auto-update once a new
backup appears (see 'hytalectl auto-update').

Watch modes:
  • Foreground (default): Run in current terminal with Ctrl+C to stop
  • Daemon: Run as a background process with a PID file
  • Stop: Stop a running daemon

The directory is also rescanned every few minutes in case a filesystem
event was missed. Nothing happens while auto-update is off.`,
		Example: `  # Run in foreground (Ctrl+C to stop)
  hytalectl watch

  # Run as background daemon
  hytalectl watch --daemon

  # Stop running daemon
  hytalectl watch --stop`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
)

func init() {
	watchCmd.Flags().BoolVar(&watchDaemon, "daemon", false, "run as background daemon")
	watchCmd.Flags().BoolVar(&watchDaemonChild, "daemon-child", false, "internal flag for daemon child process")
	watchCmd.Flags().StringVar(&watchPIDFile, "pid-file", "", "PID file path (default: <state dir>/watch.pid)")
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "log file path (default: <state dir>/watch.log)")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "stop running daemon")

	watchCmd.Flags().MarkHidden("daemon-child")
	RootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, closeFn, err := openController()
	if err != nil {
		return err
	}
	defer closeFn()

	pidFile, logFile := daemonFiles(c.StateDir)
	if watchPIDFile != "" {
		pidFile = watchPIDFile
	}
	if watchLogFile != "" {
		logFile = watchLogFile
	}
	out := cmd.OutOrStdout()

	if watchStop {
		return stopWatchDaemon(cmd, pidFile)
	}

	if watchDaemon {
		spinner := output.NewSpinner(out, "Starting daemon")
		spinner.Start()
		err := watcher.StartDaemon(pidFile, logFile, childArgs(pidFile)...)
		spinner.Stop()
		if err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
		fmt.Fprintln(out, "✓ Watcher daemon started")
		fmt.Fprintf(out, "  PID file: %s\n", pidFile)
		fmt.Fprintf(out, "  Log file: %s\n", logFile)
		fmt.Fprintln(out, "\nTo stop: hytalectl watch --stop")
		return nil
	}

	w, err := watcher.New(c.Backups.Root(), c)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Child output is already redirected to the log file.
	if watchDaemonChild {
		return w.RunDaemon(pidFile)
	}
	return runWatchForeground(cmd, w)
}

// childArgs forwards the global flags and the PID file to the daemon child.
func childArgs(pidFile string) []string {
	args := []string{"--config", configPath, "--pid-file", pidFile}
	if debug {
		args = append(args, "--debug")
	}
	return args
}

func stopWatchDaemon(cmd *cobra.Command, pidFile string) error {
	out := cmd.OutOrStdout()
	running, err := watcher.IsDaemonRunning(pidFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if !running {
		fmt.Fprintln(out, "Daemon is not running")
		return nil
	}

	spinner := output.NewSpinner(out, "Stopping daemon")
	spinner.Start()
	if err := watcher.StopDaemon(pidFile, 10*time.Second); err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Daemon stopped")
	return nil
}

func runWatchForeground(cmd *cobra.Command, w *watcher.Watcher) error {
	out := cmd.OutOrStdout()
	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	fmt.Fprintln(out, "Watching for new backups. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	fmt.Fprintf(out, "\nReceived signal %v, shutting down...\n", sig)

	if err := w.Stop(); err != nil {
		return fmt.Errorf("failed to stop watcher: %w", err)
	}
	fmt.Fprintln(out, "✓ Watcher stopped")
	return nil
}
