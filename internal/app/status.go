package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/hytalectl/internal/output"
	"github.com/blackwell-systems/hytalectl/internal/watcher"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, version, disk and backup state",
	Long: `Display the state of the managed server.

Shows:
  • Whether the systemd unit is running, its PID and uptime
  • Installed version and the last known latest version
  • Disk usage of the server filesystem
  • Number of backups and whether an auto-update is armed
  • Whether the auto-update watcher daemon is running

The version shown is read from the markers written by the last check or
update; status never runs the downloader.`,
	Example: `  hytalectl status
  hytalectl status --json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON")
	RootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, closeFn, err := openController()
	if err != nil {
		return err
	}
	defer closeFn()

	st, err := c.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		return printJSON(out, st)
	}

	fmt.Fprint(out, output.RenderStatus(st))

	pidFile, _ := daemonFiles(c.StateDir)
	running, err := watcher.IsDaemonRunning(pidFile)
	switch {
	case err != nil:
		fmt.Fprintf(out, "  Watcher:   unknown (%v)\n", err)
	case running:
		fmt.Fprintln(out, "  Watcher:   running")
	default:
		fmt.Fprintln(out, "  Watcher:   stopped")
	}
	return nil
}
