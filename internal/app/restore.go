package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/hytalectl/internal/output"
	"github.com/blackwell-systems/hytalectl/internal/restore"
)

var (
	restoreMode        string
	restoreServerState bool
	restoreToken       string
	restoreYes         bool
	restoreJSON        bool

	restoreCmd = &cobra.Command{
		Use:   "restore NAME",
		Short: "Restore a backup into the live server",
		Long: `Restore a backup by name from the backup directory.

Modes:
  world  Replace the universe (worlds and players) only
  full   Replace the universe, mods, logs and operator configuration

NAME may be an archive, a game zip, an update-* directory or a pre-restore-*
snapshot. Before anything is replaced the current files are copied to a
pre-restore-<timestamp> snapshot, so a restore can itself be undone.

--server-state also restores the server's stored credentials when the
backup carries them. By default credentials are left alone.

The request is checked while the server still runs; the server is only
stopped once the backup is known to be usable.`,
		Example: `  hytalectl restore hytale_20260115-030000.tar.gz
  hytalectl restore hytale_20260115-030000.tar.gz --mode full --server-state
  hytalectl restore update-20260114-030012 --mode full --yes
  hytalectl restore NAME --token "$(hytalectl token restore NAME)"`,
		Args: cobra.ExactArgs(1),
		RunE: runRestore,
	}
)

func init() {
	restoreCmd.Flags().StringVar(&restoreMode, "mode", string(restore.ModeWorld), "restore mode: world or full")
	restoreCmd.Flags().BoolVar(&restoreServerState, "server-state", false, "also restore stored server credentials")
	restoreCmd.Flags().StringVar(&restoreToken, "token", "", "confirmation token from 'hytalectl token restore NAME'")
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "skip confirmation prompt")
	restoreCmd.Flags().BoolVar(&restoreJSON, "json", false, "print the result as JSON")
	RootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	mode := restore.Mode(restoreMode)
	if mode != restore.ModeWorld && mode != restore.ModeFull {
		return fmt.Errorf("invalid mode %q (must be world or full)", restoreMode)
	}

	c, closeFn, err := openController()
	if err != nil {
		return err
	}
	defer closeFn()

	name := args[0]
	out := cmd.OutOrStdout()

	switch {
	case restoreToken != "":
		if err := c.VerifyRestoreToken(name, restoreToken); err != nil {
			return err
		}
	case !restoreYes:
		b, err := c.Backups.Get(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Backup:  %s (%s)\n", b.Name, b.Kind)
		if b.Version != "" {
			fmt.Fprintf(out, "Version: %s\n", b.Version)
		}
		fmt.Fprintf(out, "Mode:    %s\n\n", mode)
		if !confirm(out, "Stop the server and restore this backup?") {
			fmt.Fprintln(out, "Restore cancelled.")
			return nil
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	spinner := output.NewSpinner(out, "Restoring "+name)
	spinner.Start()
	res, err := c.RestoreBackup(ctx, name, mode, restoreServerState)
	spinner.Stop()
	if err != nil {
		return explain(err)
	}

	if restoreJSON {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "✓ Restored %d entries from %s (%s)\n", len(res.Restored), name, res.SourceType)
	for _, s := range res.Skipped {
		fmt.Fprintf(out, "  skipped %s (not in backup)\n", s)
	}
	if res.PreRestoreSnapshotPath != "" {
		fmt.Fprintf(out, "  Previous files kept in %s\n", res.PreRestoreSnapshotPath)
	}
	return nil
}
