package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a pipeline configuration from the given YAML file path.
// Unknown fields are rejected so typos surface as load errors rather than
// silently ignored settings. After parsing, defaults are applied to stages
// that don't specify their own values.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline file: %w", err)
	}

	var cfg PipelineConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing pipeline YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a pipeline file in standard locations and loads
// the first one found. Search order: ./stagehand.yaml, ./pipeline.yaml,
// $STAGEHAND_HOME/pipeline.yaml.
func LoadDefault() (*PipelineConfig, error) {
	candidates := []string{"stagehand.yaml", "pipeline.yaml", filepath.Join(HomeDir(), "pipeline.yaml")}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no pipeline file found (searched: %v)", candidates)
}

// HomeDir returns the stagehand state root: $STAGEHAND_HOME if set,
// otherwise ~/.stagehand.
func HomeDir() string {
	if dir := os.Getenv("STAGEHAND_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stagehand"
	}
	return filepath.Join(home, ".stagehand")
}

// applyDefaults merges pipeline-level defaults into stages that don't set
// their own values, falling back to the package defaults when the pipeline
// sets none.
func applyDefaults(cfg *PipelineConfig) {
	p := &cfg.Pipeline

	if p.Defaults.Timeout == "" {
		p.Defaults.Timeout = DefaultTimeout
	}
	if p.Defaults.Policy == "" {
		p.Defaults.Policy = PolicyFailFast
	}
	if p.Defaults.Workdir == "" {
		p.Defaults.Workdir = DefaultWorkdir
	}

	for i := range p.Stages {
		s := &p.Stages[i]

		if s.Timeout == "" {
			s.Timeout = p.Defaults.Timeout
		}
		if s.Policy == "" {
			s.Policy = p.Defaults.Policy
		}
		if s.Workdir == "" {
			s.Workdir = p.Defaults.Workdir
		}
	}
}
