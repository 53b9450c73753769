package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stagehand-ci/stagehand/internal/config"
	"github.com/stagehand-ci/stagehand/internal/descriptor"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a pipeline file or deployment descriptor",
	Long: `Validate a YAML document without executing anything. The document kind is
detected from the top-level key: "pipeline:" runs the pipeline validator,
"deployment:" runs the deployment descriptor validator.

Every finding is printed on its own line. Exit code 0 means valid, 2 means
malformed or invalid.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return exitError{exitConfig, err}
		}

		var probe map[string]interface{}
		if err := yaml.Unmarshal(data, &probe); err != nil {
			return exitError{exitConfig, fmt.Errorf("parsing %s: %w", path, err)}
		}
		_, isPipeline := probe["pipeline"]
		_, isDeployment := probe["deployment"]

		w := cmd.OutOrStdout()
		switch {
		case isPipeline:
			cfg, err := config.Load(path)
			if err != nil {
				return exitError{exitConfig, err}
			}
			if errs := config.Validate(cfg); len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintln(w, e.Error())
				}
				return exitError{exitConfig, fmt.Errorf("%s: %d validation error(s)", path, len(errs))}
			}
			fmt.Fprintf(w, "%s: valid pipeline %q (%d stages)\n", path, cfg.Pipeline.Name, len(cfg.Pipeline.Stages))

		case isDeployment:
			d, err := descriptor.Load(path)
			if err != nil {
				return exitError{exitConfig, err}
			}
			if errs := descriptor.Validate(d); len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintln(w, e.Error())
				}
				return exitError{exitConfig, fmt.Errorf("%s: %d validation error(s)", path, len(errs))}
			}
			fmt.Fprintf(w, "%s: valid deployment %q\n", path, d.Deployment.Name)

		default:
			return exitError{exitConfig, fmt.Errorf("%s: unknown document kind (want a top-level pipeline: or deployment: key)", path)}
		}
		return nil
	},
}
