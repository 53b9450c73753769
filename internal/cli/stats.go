package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagehand-ci/stagehand/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate metrics over recorded runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openHistory()
		if err != nil {
			return err
		}
		defer db.Close()

		since, _ := cmd.Flags().GetString("since")

		summaries, err := stats.QueryPipelineSummaries(db, since)
		if err != nil {
			return err
		}
		durations, err := stats.QueryStageDurations(db, since)
		if err != nil {
			return err
		}
		failures, err := stats.QueryStageFailureRates(db, since)
		if err != nil {
			return err
		}
		throughput, err := stats.QueryThroughput(db, since)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()

		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			out := struct {
				Pipelines  []stats.PipelineSummary  `json:"pipelines"`
				Stages     []stats.StageDuration    `json:"stage_durations"`
				Failures   []stats.StageFailureRate `json:"stage_failures"`
				Throughput []stats.Throughput       `json:"throughput"`
			}{summaries, durations, failures, throughput}
			data, merr := json.MarshalIndent(out, "", "  ")
			if merr != nil {
				return merr
			}
			fmt.Fprintln(w, string(data))
			return nil
		}

		if len(summaries) == 0 {
			fmt.Fprintln(w, "No finished runs recorded.")
			return nil
		}

		fmt.Fprintln(w, "Pipelines:")
		fmt.Fprintf(w, "  %-20s %-6s %-10s %-7s %-8s %-9s %s\n", "PIPELINE", "RUNS", "SUCCEEDED", "FAILED", "ABORTED", "SUCCESS%", "AVG(S)")
		for _, s := range summaries {
			fmt.Fprintf(w, "  %-20s %-6d %-10d %-7d %-8d %-9.1f %.1f\n",
				s.Pipeline, s.Runs, s.Succeeded, s.Failed, s.Aborted, s.SuccessRate, s.AvgSeconds)
		}

		if len(durations) > 0 {
			fmt.Fprintln(w, "\nStage durations (seconds):")
			fmt.Fprintf(w, "  %-20s %-8s %-8s %-8s %s\n", "STAGE", "SAMPLES", "AVG", "P50", "P95")
			for _, d := range durations {
				fmt.Fprintf(w, "  %-20s %-8d %-8.1f %-8.1f %.1f\n", d.Stage, d.Count, d.Avg, d.P50, d.P95)
			}
		}

		if len(failures) > 0 {
			fmt.Fprintln(w, "\nStage failures:")
			fmt.Fprintf(w, "  %-20s %-9s %-7s %-8s %s\n", "STAGE", "EXECUTED", "FAILED", "SKIPPED", "FAIL%")
			for _, f := range failures {
				fmt.Fprintf(w, "  %-20s %-9d %-7d %-8d %.1f\n", f.Stage, f.Executed, f.Failed, f.Skipped, f.FailRate)
			}
		}

		if len(throughput) > 0 {
			fmt.Fprintln(w, "\nWeekly throughput:")
			fmt.Fprintf(w, "  %-10s %-6s %-10s %-7s %-8s %s\n", "WEEK", "RUNS", "SUCCEEDED", "FAILED", "ABORTED", "AVG(S)")
			for _, t := range throughput {
				fmt.Fprintf(w, "  %-10s %-6d %-10d %-7d %-8d %.1f\n", t.Period, t.Runs, t.Succeeded, t.Failed, t.Aborted, t.AvgSeconds)
			}
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().String("since", "", "Only include runs started at/after this time (YYYY-MM-DD)")
	statsCmd.Flags().String("format", "text", "Output format: text or json")
}
