package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/hytalectl/internal/output"
)

var (
	versionCheck bool
	versionJSON  bool

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show installed and latest server versions",
		Long: `Show the installed server version and the latest published one.

Without --check the latest version comes from the marker written by the
previous check. With --check the downloader is asked for the latest
version; the answer is recorded for later status calls. Checking never
changes the installation.`,
		Example: `  hytalectl version
  hytalectl version --check`,
		Args: cobra.NoArgs,
		RunE: runVersion,
	}
)

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "ask the downloader for the latest version")
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print JSON")
	RootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	c, closeFn, err := openController()
	if err != nil {
		return err
	}
	defer closeFn()

	info := c.Oracle.Cached()
	if versionCheck {
		info = c.CheckVersion(cmd.Context())
	}

	if versionJSON {
		return printJSON(cmd.OutOrStdout(), info)
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderVersion(info))
	return nil
}
