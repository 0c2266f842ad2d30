package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/hytalectl/internal/output"
	"github.com/blackwell-systems/hytalectl/internal/store"
)

var (
	historyLimit int
	historyJSON  bool

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show recent updates, restores and backups",
		Long: `List recorded operations, newest first.

Each row shows how far the operation got. "recovered" means it failed after
the server was stopped and the server was started again; the detail column
says why, and whether files had already been changed.`,
		Example: `  hytalectl history
  hytalectl history --limit 50 --json`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of operations to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print JSON")
	RootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyLimit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	c, closeFn, err := openController()
	if err != nil {
		return err
	}
	defer closeFn()

	list, err := c.History(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if historyJSON {
		if list == nil {
			list = []*store.Operation{}
		}
		return printJSON(cmd.OutOrStdout(), list)
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderHistoryTable(list))
	return nil
}
