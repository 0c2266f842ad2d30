package app

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/hytalectl/internal/backups"
	"github.com/blackwell-systems/hytalectl/internal/output"
)

var (
	backupLabel     string
	backupComment   string
	backupScheduled bool
	backupToken     string
	backupListJSON  bool
	backupDeleteYes bool

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Create, list and delete backups",
		Long: `Manage backups in the backup directory.

Archives (hytale_<timestamp>.tar.gz) hold the universe, mods, logs and
operator configuration and are taken while the server runs. The backup
directory also lists zip files written by the game's own backup, update-*
directories left by updates and pre-restore-* snapshots taken before every
restore.`,
	}

	backupCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Archive the server while it runs",
		Example: `  hytalectl backup create
  hytalectl backup create --label before-event --comment "pre raid night"
  hytalectl backup create --scheduled   # from a systemd timer or cron`,
		Args: cobra.NoArgs,
		RunE: runBackupCreate,
	}

	backupListCmd = &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List backups, newest first",
		Args:    cobra.NoArgs,
		RunE:    runBackupList,
	}

	backupDeleteCmd = &cobra.Command{
		Use:     "delete NAME",
		Aliases: []string{"rm"},
		Short:   "Delete a backup and its metadata",
		Example: `  hytalectl backup delete hytale_20260101-030000.tar.gz`,
		Args:    cobra.ExactArgs(1),
		RunE:    runBackupDelete,
	}
)

func init() {
	backupCreateCmd.Flags().StringVar(&backupLabel, "label", "", "short label stored with the backup")
	backupCreateCmd.Flags().StringVar(&backupComment, "comment", "", "free-form comment stored with the backup")
	backupCreateCmd.Flags().BoolVar(&backupScheduled, "scheduled", false, "record the backup as scheduled rather than manual")
	backupCreateCmd.Flags().StringVar(&backupToken, "token", "", "confirmation token from 'hytalectl token backup'")
	backupListCmd.Flags().BoolVar(&backupListJSON, "json", false, "print JSON")
	backupDeleteCmd.Flags().BoolVarP(&backupDeleteYes, "yes", "y", false, "skip confirmation prompt")

	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupDeleteCmd)
	RootCmd.AddCommand(backupCmd)
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	c, closeFn, err := openController()
	if err != nil {
		return err
	}
	defer closeFn()

	if backupToken != "" {
		if err := c.VerifyBackupToken(backupToken); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()
	out := cmd.OutOrStdout()

	create := c.CreateBackup
	if backupScheduled {
		create = c.CreateScheduledBackup
	}

	spinner := output.NewSpinner(out, "Creating backup")
	spinner.Start()
	b, err := create(ctx, backupLabel, backupComment)
	spinner.Stop()
	if err != nil {
		return explain(err)
	}

	fmt.Fprintf(out, "✓ Created %s (%s)\n", b.Name, humanize.Bytes(uint64(b.SizeBytes)))
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	c, closeFn, err := openController()
	if err != nil {
		return err
	}
	defer closeFn()

	list, err := c.ListBackups()
	if err != nil {
		return err
	}
	if backupListJSON {
		if list == nil {
			list = []*backups.Backup{}
		}
		return printJSON(cmd.OutOrStdout(), list)
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderBackupTable(list))
	return nil
}

func runBackupDelete(cmd *cobra.Command, args []string) error {
	c, closeFn, err := openController()
	if err != nil {
		return err
	}
	defer closeFn()

	name := args[0]
	out := cmd.OutOrStdout()
	b, err := c.Backups.Get(name)
	if err != nil {
		return err
	}
	if !backupDeleteYes && !confirm(out, fmt.Sprintf("Delete %s (%s)?", b.Name, humanize.Bytes(uint64(b.SizeBytes)))) {
		fmt.Fprintln(out, "Deletion cancelled.")
		return nil
	}
	if err := c.DeleteBackup(name); err != nil {
		return explain(err)
	}
	fmt.Fprintf(out, "✓ Deleted %s\n", name)
	return nil
}
