package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagehand-ci/stagehand/internal/runstore"
	"github.com/stagehand-ci/stagehand/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web UI",
	Long: `Start a read-only browser UI on localhost showing recorded runs, stage
results, captured output, and aggregate stats.

The UI reads the run store and the history database under the stagehand
home directory; it never executes anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		db, err := openHistory()
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		defer db.Close()

		return web.NewServer(runstore.DefaultStore(), db).Start(addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "Listen address")
}
