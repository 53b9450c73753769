package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stagehand-ci/stagehand/internal/runstore"
)

var errAmbiguousRun = errors.New("ambiguous run id")

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the full report for one run",
	Long: `Show the stored report for a run. The run id may be abbreviated to any
unique prefix. Reports come from the run store; runs whose report files are
gone fall back to the history database.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := runstore.DefaultStore()
		w := cmd.OutOrStdout()

		runID, err := resolveRunID(store, args[0])
		if err == nil {
			report, lerr := store.LoadReport(runID)
			if lerr != nil {
				return lerr
			}

			if format, _ := cmd.Flags().GetString("format"); format == "json" {
				data, merr := json.MarshalIndent(report, "", "  ")
				if merr != nil {
					return merr
				}
				fmt.Fprintln(w, string(data))
				return nil
			}

			renderReport(w, report, 0)

			if logs, _ := cmd.Flags().GetBool("logs"); logs {
				for _, st := range report.Stages {
					stdout, stderr, oerr := store.StageOutput(report.RunID, st.Name)
					if oerr != nil || (stdout == "" && stderr == "") {
						continue
					}
					fmt.Fprintf(w, "\n=== %s ===\n", st.Name)
					if stdout != "" {
						fmt.Fprintln(w, strings.TrimRight(stdout, "\n"))
					}
					if stderr != "" {
						fmt.Fprintf(w, "--- stderr ---\n%s\n", strings.TrimRight(stderr, "\n"))
					}
				}
			}
			return nil
		}
		if errors.Is(err, errAmbiguousRun) {
			return err
		}

		// Report file gone; the history database may still have the run.
		db, derr := openHistory()
		if derr != nil {
			return err
		}
		defer db.Close()

		run, derr := db.GetRun(args[0])
		if derr != nil || run == nil {
			return err
		}

		fmt.Fprintf(w, "Run %s (%s)\n", run.RunID, run.Pipeline)
		fmt.Fprintf(w, "Outcome: %s", run.Outcome)
		if d := fmtMs(int64(run.DurationMs)); d != "" {
			fmt.Fprintf(w, " in %s", d)
		}
		fmt.Fprintln(w)
		if run.Branch != "" {
			fmt.Fprintf(w, "Branch:  %s\n", run.Branch)
		}
		if run.Error != "" {
			fmt.Fprintf(w, "Error:   %s\n", run.Error)
		}
		fmt.Fprintln(w)

		stageRows, derr := db.GetStageResults(run.RunID)
		if derr != nil {
			return derr
		}
		fmt.Fprintf(w, "%-20s %-11s %-5s %s\n", "STAGE", "STATUS", "EXIT", "REASON")
		for _, st := range stageRows {
			exit := "-"
			if st.Status != "skipped" {
				exit = strconv.Itoa(st.ExitCode)
			}
			fmt.Fprintf(w, "%-20s %-11s %-5s %s\n", st.Stage, st.Status, exit, st.Reason)
		}
		return nil
	},
}

// resolveRunID matches a possibly-abbreviated run id against the run store.
func resolveRunID(store *runstore.Store, prefix string) (string, error) {
	summaries, err := store.List()
	if err != nil {
		return "", err
	}
	var match string
	for _, s := range summaries {
		if s.RunID == prefix {
			return s.RunID, nil
		}
		if strings.HasPrefix(s.RunID, prefix) {
			if match != "" {
				return "", fmt.Errorf("%w: %q matches multiple runs", errAmbiguousRun, prefix)
			}
			match = s.RunID
		}
	}
	if match == "" {
		return "", fmt.Errorf("run %q not found", prefix)
	}
	return match, nil
}

func init() {
	showCmd.Flags().String("format", "text", "Report format: text or json")
	showCmd.Flags().Bool("logs", false, "Include captured stage output")
}
