package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/hytalectl/internal/output"
	"github.com/blackwell-systems/hytalectl/internal/version"
)

var (
	updateYes  bool
	updateJSON bool

	updateCmd = &cobra.Command{
		Use:   "update",
		Short: "Install the latest server release",
		Long: `Download the latest release and install it.

The server keeps running while the release is downloaded, extracted and
staged. It is then stopped, the staged files are swapped in and the server
is started again. World data, mods, logs, operator configuration and
credentials are never taken from the release.

Files replaced by the swap are kept in the backup directory as
update-<timestamp>/ and can be restored with 'hytalectl restore'.

Interrupting the command before the server is stopped cancels the update.
After that point the update runs to completion, or recovers by starting the
server again.`,
		Example: `  hytalectl update
  hytalectl update --yes`,
		Args: cobra.NoArgs,
		RunE: runUpdate,
	}
)

func init() {
	updateCmd.Flags().BoolVarP(&updateYes, "yes", "y", false, "skip confirmation prompt")
	updateCmd.Flags().BoolVar(&updateJSON, "json", false, "print the result as JSON")
	RootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	c, closeFn, err := openController()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := signalContext()
	defer cancel()
	out := cmd.OutOrStdout()

	if !updateYes {
		info := c.CheckVersion(ctx)
		fmt.Fprint(out, output.RenderVersion(info))
		switch info.Verdict {
		case version.UpToDate:
			return nil
		case version.VerdictUnknown:
			if info.Latest == version.Unknown {
				return fmt.Errorf("cannot determine the latest version; is the downloader authenticated?")
			}
		}
		if !confirm(out, "Stop the server and install "+info.Latest+"?") {
			fmt.Fprintln(out, "Update cancelled.")
			return nil
		}
	}

	spinner := output.NewSpinner(out, "Updating server")
	spinner.Start()
	res, err := c.RunUpdate(ctx)
	spinner.Stop()
	if err != nil {
		return explain(err)
	}

	if updateJSON {
		return printJSON(out, res)
	}
	if !res.Updated {
		fmt.Fprintf(out, "✓ Server is already at %s\n", res.Version.Current)
		return nil
	}
	fmt.Fprintf(out, "✓ Updated %s -> %s\n", res.Previous, res.Version.Current)
	fmt.Fprintf(out, "  Replaced %d entries, added %d\n", len(res.Replaced), len(res.Added))
	if res.BackupDir != "" {
		fmt.Fprintf(out, "  Previous files kept in %s\n", res.BackupDir)
	}
	return nil
}
