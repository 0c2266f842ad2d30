package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue short-lived confirmation tokens",
		Long: `Issue a confirmation token for a destructive call.

A front end fetches a token, shows the operator what is about to happen and
passes the token back with --token. Tokens are scoped to one action (and
one backup for restores) and expire after a few minutes.`,
	}

	tokenBackupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Issue a token for 'backup create'",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := openController()
			if err != nil {
				return err
			}
			defer closeFn()
			fmt.Fprintln(cmd.OutOrStdout(), c.BackupToken())
			return nil
		},
	}

	tokenRestoreCmd = &cobra.Command{
		Use:   "restore NAME",
		Short: "Issue a token for restoring NAME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := openController()
			if err != nil {
				return err
			}
			defer closeFn()
			tok, err := c.RestoreToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
)

func init() {
	tokenCmd.AddCommand(tokenBackupCmd, tokenRestoreCmd)
	RootCmd.AddCommand(tokenCmd)
}
