package config

// PipelineConfig is the top-level configuration structure parsed from pipeline YAML.
type PipelineConfig struct {
	Pipeline Pipeline `yaml:"pipeline"`
}

// Pipeline defines the full pipeline: metadata, defaults, the global
// environment mapping, the ordered stage list, and post-actions.
type Pipeline struct {
	Name     string            `yaml:"name"`
	Defaults StageDefaults     `yaml:"defaults"`
	Env      map[string]string `yaml:"env"`
	Stages   []Stage           `yaml:"stages"`
	Post     Post              `yaml:"post"`
}

// StageDefaults holds default values applied to stages that don't specify their own.
type StageDefaults struct {
	Timeout string `yaml:"timeout"`
	Policy  string `yaml:"policy"`
	Workdir string `yaml:"workdir"`
}

// Error policies controlling how a stage failure propagates.
const (
	PolicyFailFast        = "fail-fast"
	PolicyContinueOnError = "continue-on-error"
)

// Fallbacks used when neither the stage nor the pipeline defaults set a value.
const (
	DefaultTimeout = "10m"
	DefaultWorkdir = "."
)

// Stage defines a single pipeline stage: where it runs, what it runs, and
// how its outcome propagates.
type Stage struct {
	Name    string            `yaml:"name"`
	Image   string            `yaml:"image"`
	Mounts  []string          `yaml:"mounts"`
	Args    []string          `yaml:"args"`
	Workdir string            `yaml:"workdir"`
	Env     map[string]string `yaml:"env"`
	Timeout string            `yaml:"timeout"`
	Policy  string            `yaml:"policy"`
	When    string            `yaml:"when"`
	Run     []string          `yaml:"run"`
	Stash   *Stash            `yaml:"stash"`
	Unstash []string          `yaml:"unstash"`
	Export  map[string]string `yaml:"export"`
}

// Stash declares files captured into the artifact store after a stage succeeds.
type Stash struct {
	Key   string   `yaml:"key"`
	Paths []string `yaml:"paths"`
}

// Post holds command lists run exactly once after the stage sequence.
// Always runs regardless of outcome; success and failure are mutually
// exclusive on the final outcome.
type Post struct {
	Always  []string `yaml:"always"`
	Success []string `yaml:"success"`
	Failure []string `yaml:"failure"`
}

// BuiltinEnv lists the variables the runner injects into every stage's
// environment view. Guard expressions and ${NAME} references may rely on
// these without declaring them.
var BuiltinEnv = []string{"RUN_ID", "PIPELINE", "BUILD_NUMBER", "BRANCH", "STAGE_NAME"}
