package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagehand-ci/stagehand/internal/artifact"
	"github.com/stagehand-ci/stagehand/internal/backend"
	"github.com/stagehand-ci/stagehand/internal/config"
	"github.com/stagehand-ci/stagehand/internal/engine"
	"github.com/stagehand-ci/stagehand/internal/history"
	"github.com/stagehand-ci/stagehand/internal/runstore"
)

var runCmd = &cobra.Command{
	Use:   "run [pipeline-file]",
	Short: "Execute a pipeline",
	Long: `Execute the stages of a pipeline file in order and print a run report.

Without an argument the pipeline file is discovered (./stagehand.yaml,
./pipeline.yaml, then $STAGEHAND_HOME/pipeline.yaml). SIGINT and SIGTERM
abort the run; post-actions still fire.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg *config.PipelineConfig
		var err error
		if len(args) == 1 {
			cfg, err = config.Load(args[0])
		} else {
			cfg, err = config.LoadDefault()
		}
		if err != nil {
			return exitError{exitConfig, err}
		}

		if errs := config.Validate(cfg); len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintln(cmd.ErrOrStderr(), e.Error())
			}
			return exitError{exitConfig, fmt.Errorf("pipeline %q: %d validation error(s)", cfg.Pipeline.Name, len(errs))}
		}

		envFlags, _ := cmd.Flags().GetStringArray("env")
		for _, kv := range envFlags {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return exitError{exitConfig, fmt.Errorf("bad --env value %q, want KEY=VALUE", kv)}
			}
			if cfg.Pipeline.Env == nil {
				cfg.Pipeline.Env = map[string]string{}
			}
			cfg.Pipeline.Env[k] = v
		}

		branch, _ := cmd.Flags().GetString("branch")
		if branch == "" {
			branch = os.Getenv("BRANCH_NAME")
		}
		buildNumber, _ := cmd.Flags().GetString("build-number")
		if buildNumber == "" {
			buildNumber = os.Getenv("BUILD_NUMBER")
		}
		workdir, _ := cmd.Flags().GetString("workdir")

		opts := engine.RunOpts{
			Workdir:     workdir,
			Branch:      branch,
			BuildNumber: buildNumber,
		}
		if timeoutStr, _ := cmd.Flags().GetString("timeout"); timeoutStr != "" {
			d, err := time.ParseDuration(timeoutStr)
			if err != nil {
				return exitError{exitConfig, fmt.Errorf("bad --timeout value %q: %v", timeoutStr, err)}
			}
			opts.StageTimeout = d
		}

		artifacts, err := artifact.DefaultStore()
		if err != nil {
			return fmt.Errorf("artifact store: %w", err)
		}

		eng := engine.New(backend.NewLocal(), artifacts)

		quiet, _ := cmd.Flags().GetBool("quiet")
		format, _ := cmd.Flags().GetString("format")
		if !quiet && format != "json" {
			eng.SetProgress(cmd.OutOrStdout())
		}

		observers := engine.MultiObserver{runstore.NewRecorder(runstore.DefaultStore())}

		noHistory, _ := cmd.Flags().GetBool("no-history")
		if !noHistory {
			dbPath, err := history.DefaultDBPath()
			if err != nil {
				return fmt.Errorf("db path: %w", err)
			}
			db, err := history.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()
			if err := db.Migrate(); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			observers = append(observers, history.NewObserver(db))

			dsn, _ := cmd.Flags().GetString("history-dsn")
			if dsn == "" {
				dsn = os.Getenv("STAGEHAND_POSTGRES_DSN")
			}
			if dsn != "" {
				sink, err := history.NewPostgresSink(cmd.Context(), dsn)
				if err != nil {
					return fmt.Errorf("postgres sink: %w", err)
				}
				defer sink.Close()
				observers = append(observers, sink)
			}
		}
		eng.SetObserver(observers)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := eng.Run(ctx, cfg, opts)
		if err != nil {
			return exitError{exitRunFailed, err}
		}

		if keep, _ := cmd.Flags().GetBool("keep-artifacts"); !keep {
			if err := artifacts.Purge(report.RunID); err != nil && !quiet {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: purge artifacts: %v\n", err)
			}
		}

		tail, _ := cmd.Flags().GetInt("tail")
		switch {
		case format == "json":
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
		case !quiet:
			renderReport(cmd.OutOrStdout(), report, tail)
		}

		if report.Failed() {
			return exitError{exitRunFailed, fmt.Errorf("run %s %s", report.RunID, report.Outcome)}
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("workdir", "", "Working directory for host stages (default: current directory)")
	runCmd.Flags().String("branch", "", "Branch injected as BRANCH (default: $BRANCH_NAME)")
	runCmd.Flags().String("build-number", "", "Build identifier injected as BUILD_NUMBER (default: $BUILD_NUMBER)")
	runCmd.Flags().StringArray("env", nil, "Extra pipeline environment entry KEY=VALUE (repeatable)")
	runCmd.Flags().String("timeout", "", "Override every stage timeout (e.g. 90s, 10m)")
	runCmd.Flags().Int("tail", 20, "Lines of output shown for failed stages (0 disables)")
	runCmd.Flags().String("format", "text", "Report format: text or json")
	runCmd.Flags().Bool("no-history", false, "Skip recording the run in the history database")
	runCmd.Flags().String("history-dsn", "", "Mirror history to Postgres at this DSN (default: $STAGEHAND_POSTGRES_DSN)")
	runCmd.Flags().Bool("keep-artifacts", false, "Keep stashed artifacts after the run instead of purging them")
	runCmd.Flags().BoolP("quiet", "q", false, "Suppress progress and report output")
}
