package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "History database management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openHistory()
		if err != nil {
			return err
		}
		defer db.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "Database schema is up to date.")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate all history tables (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			return errors.New("refusing to reset the history database without --force")
		}
		db, err := openHistory()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Reset(); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "History database reset.")
		return nil
	},
}

var dbPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old runs, keeping the most recent N",
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")
		if keep < 0 {
			return exitError{exitConfig, fmt.Errorf("bad --keep value %d", keep)}
		}
		db, err := openHistory()
		if err != nil {
			return err
		}
		defer db.Close()
		deleted, err := db.PruneRuns(keep)
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s), keeping the most recent %d.\n", deleted, keep)
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
	dbCmd.AddCommand(dbPruneCmd)

	dbResetCmd.Flags().Bool("force", false, "Confirm the destructive reset")
	dbPruneCmd.Flags().Int("keep", 50, "Number of most recent runs to keep")
}
