package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var autoUpdateCmd = &cobra.Command{
	Use:   "auto-update [on|off]",
	Short: "Update automatically after the next backup",
	Long: `Arm or disarm an update that runs as soon as the next backup lands.

Arming records how many backups exist. The watcher ('hytalectl watch')
notices the next archive in the backup directory, disarms the flag and
runs the update, so the server is updated right after a fresh backup.

Without an argument the current setting is shown.`,
	Example: `  hytalectl auto-update on
  hytalectl auto-update off
  hytalectl auto-update`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runAutoUpdate,
}

func init() {
	RootCmd.AddCommand(autoUpdateCmd)
}

func runAutoUpdate(cmd *cobra.Command, args []string) error {
	c, closeFn, err := openController()
	if err != nil {
		return err
	}
	defer closeFn()

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		armed, at := c.AutoUpdateArmed()
		if !armed {
			fmt.Fprintln(out, "Auto-update is off")
			return nil
		}
		fmt.Fprintf(out, "Auto-update is armed (waiting for backup #%d)\n", at+1)
		return nil
	}

	switch args[0] {
	case "on":
		if err := c.SetAutoUpdate(true); err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ Auto-update armed; the server updates after the next backup")
		fmt.Fprintln(out, "  The watcher must be running: hytalectl watch --daemon")
	case "off":
		if err := c.SetAutoUpdate(false); err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ Auto-update disarmed")
	default:
		return fmt.Errorf("invalid argument %q (must be on or off)", args[0])
	}
	return nil
}
