package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stagehand-ci/stagehand/internal/history"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openHistory()
		if err != nil {
			return err
		}
		defer db.Close()

		pipelineFilter, _ := cmd.Flags().GetString("pipeline")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := db.ListRuns(pipelineFilter, limit)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-10s %-20s %-14s %-10s %-7s %-20s %s\n", "RUN", "PIPELINE", "BRANCH", "OUTCOME", "STAGES", "STARTED", "DURATION")
		fmt.Fprintf(w, "%-10s %-20s %-14s %-10s %-7s %-20s %s\n",
			strings.Repeat("-", 10),
			strings.Repeat("-", 20),
			strings.Repeat("-", 14),
			strings.Repeat("-", 10),
			strings.Repeat("-", 7),
			strings.Repeat("-", 20),
			strings.Repeat("-", 8))
		for _, r := range runs {
			fmt.Fprintf(w, "%-10s %-20s %-14s %-10s %-7d %-20s %s\n",
				shortRunID(r.RunID), r.Pipeline, r.Branch, r.Outcome, r.Stages, r.StartedAt, fmtMs(int64(r.DurationMs)))
		}
		return nil
	},
}

// openHistory opens the default history database and applies migrations.
func openHistory() (*history.DB, error) {
	dbPath, err := history.DefaultDBPath()
	if err != nil {
		return nil, fmt.Errorf("db path: %w", err)
	}
	db, err := history.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	runsCmd.Flags().String("pipeline", "", "Only show runs of this pipeline")
	runsCmd.Flags().Int("limit", 20, "Maximum rows to show (-1 for all)")
}
