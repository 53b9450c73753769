package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

// Process exit codes. Runtime failures and aborted runs exit 1; malformed
// input (flags, pipeline files, descriptors) exits 2.
const (
	exitRunFailed = 1
	exitConfig    = 2
)

// exitError carries the exit code a command decided on.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "stagehand — a sequential pipeline runner",
	Long: `stagehand executes declarative build pipelines: ordered stages with guards,
per-stage environments, artifact stash/unstash, timeouts, and post-actions.

All state is stored in ~/.stagehand/ (SQLite for run history, JSON reports
and logs per run). Set STAGEHAND_HOME to relocate it.`,
	SilenceUsage: true,
}

// Execute runs the CLI and returns the process exit code: 0 on success,
// 1 when a run failed or aborted, 2 for malformed input.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		return 1
	}
	return 0
}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return exitError{exitConfig, err}
	})

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(serveCmd)
}
