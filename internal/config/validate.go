package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/stagehand-ci/stagehand/internal/guard"
)

// ValidationError represents a single validation issue with a pipeline document.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// validPolicies is the set of recognized stage error policies.
var validPolicies = map[string]bool{
	PolicyFailFast:        true,
	PolicyContinueOnError: true,
}

// Validate checks a PipelineConfig for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
// Guard syntax is checked here; guard variable definedness is a runtime
// concern because exports and injected variables only exist during a run.
func Validate(cfg *PipelineConfig) []ValidationError {
	var errs []ValidationError
	p := cfg.Pipeline

	// Required fields
	if p.Name == "" {
		errs = append(errs, ValidationError{Field: "pipeline.name", Message: "is required"})
	}
	if len(p.Stages) == 0 {
		errs = append(errs, ValidationError{Field: "pipeline.stages", Message: "at least one stage is required"})
	}

	validateTimeout("pipeline.defaults.timeout", p.Defaults.Timeout, &errs)
	validatePolicy("pipeline.defaults.policy", p.Defaults.Policy, &errs)

	// Pipeline env values may reference injected builtins only: YAML maps
	// carry no ordering, so sibling references would be ambiguous. STAGE_NAME
	// is excluded here — the global env expands once at run start, before any
	// stage exists.
	globalBuiltins := make(map[string]bool, len(BuiltinEnv))
	var globalNames []string
	for _, name := range BuiltinEnv {
		if name == "STAGE_NAME" {
			continue
		}
		globalBuiltins[name] = true
		globalNames = append(globalNames, name)
	}
	for key, val := range p.Env {
		for _, ref := range Refs(val) {
			if !globalBuiltins[ref] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("pipeline.env.%s", key),
					Message: fmt.Sprintf("references %q; global env values may only reference builtins (%s)", ref, strings.Join(globalNames, ", ")),
				})
			}
		}
	}

	// Names available to ${NAME} references, grown stage by stage as
	// exports accumulate.
	avail := make(map[string]bool, len(BuiltinEnv)+len(p.Env))
	for _, name := range BuiltinEnv {
		avail[name] = true
	}
	for key := range p.Env {
		avail[key] = true
	}

	stageNames := make(map[string]bool)
	stashed := make(map[string]bool)

	for i, s := range p.Stages {
		prefix := fmt.Sprintf("pipeline.stages[%d]", i)

		if s.Name == "" {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: "is required"})
		} else if stageNames[s.Name] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".name",
				Message: fmt.Sprintf("duplicate stage name %q", s.Name),
			})
		}
		stageNames[s.Name] = true

		validateTimeout(prefix+".timeout", s.Timeout, &errs)
		validatePolicy(prefix+".policy", s.Policy, &errs)

		// Guard syntax is static; a guard that is literally false permits an
		// empty command list (the stage exists only to be skipped, e.g. while
		// a pipeline is being drafted).
		staticFalse := false
		if s.When != "" {
			expr, err := guard.Parse(s.When)
			if err != nil {
				errs = append(errs, ValidationError{
					Field:   prefix + ".when",
					Message: err.Error(),
				})
			} else if v, ok := expr.Static(); ok && !v {
				staticFalse = true
			}
		}

		if len(s.Run) == 0 && !staticFalse {
			errs = append(errs, ValidationError{Field: prefix + ".run", Message: "at least one command is required"})
		}
		for j, cmd := range s.Run {
			if strings.TrimSpace(cmd) == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.run[%d]", prefix, j),
					Message: "command is empty",
				})
			}
		}

		// Container-only fields
		if s.Image == "" {
			if len(s.Mounts) > 0 {
				errs = append(errs, ValidationError{Field: prefix + ".mounts", Message: "only valid when image is set"})
			}
			if len(s.Args) > 0 {
				errs = append(errs, ValidationError{Field: prefix + ".args", Message: "only valid when image is set"})
			}
		}

		if s.Stash != nil {
			if s.Stash.Key == "" {
				errs = append(errs, ValidationError{Field: prefix + ".stash.key", Message: "is required"})
			}
			if len(s.Stash.Paths) == 0 {
				errs = append(errs, ValidationError{Field: prefix + ".stash.paths", Message: "at least one path is required"})
			}
		}

		for _, key := range s.Unstash {
			if !stashed[key] {
				errs = append(errs, ValidationError{
					Field:   prefix + ".unstash",
					Message: fmt.Sprintf("references key %q not stashed by any earlier stage", key),
				})
			}
		}

		// ${NAME} references. Stage env values see the pre-stage view;
		// everything else on the stage also sees the stage's own env keys.
		validateRefs(prefix+".env", s.Env, avail, nil, &errs)

		stageView := make(map[string]bool, len(avail)+len(s.Env))
		for k := range avail {
			stageView[k] = true
		}
		for k := range s.Env {
			stageView[k] = true
		}
		validateRefs(prefix+".export", s.Export, stageView, nil, &errs)
		validateRefSlice(prefix+".image", []string{s.Image}, stageView, &errs)
		validateRefSlice(prefix+".args", s.Args, stageView, &errs)
		validateRefSlice(prefix+".mounts", s.Mounts, stageView, &errs)
		validateRefSlice(prefix+".workdir", []string{s.Workdir}, stageView, &errs)
		if s.Stash != nil {
			validateRefSlice(prefix+".stash.paths", s.Stash.Paths, stageView, &errs)
		}

		if s.Stash != nil && s.Stash.Key != "" {
			stashed[s.Stash.Key] = true
		}
		for k := range s.Export {
			avail[k] = true
		}
	}

	for _, set := range []struct {
		name string
		cmds []string
	}{
		{"always", p.Post.Always},
		{"success", p.Post.Success},
		{"failure", p.Post.Failure},
	} {
		for j, cmd := range set.cmds {
			if strings.TrimSpace(cmd) == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("pipeline.post.%s[%d]", set.name, j),
					Message: "command is empty",
				})
			}
		}
	}

	return errs
}

func validateTimeout(field, value string, errs *[]ValidationError) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", value)})
		return
	}
	if d <= 0 {
		*errs = append(*errs, ValidationError{Field: field, Message: "must be positive"})
	}
}

func validatePolicy(field, value string, errs *[]ValidationError) {
	if value != "" && !validPolicies[value] {
		*errs = append(*errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("unrecognized policy %q (want %s or %s)", value, PolicyFailFast, PolicyContinueOnError),
		})
	}
}

func validateRefs(field string, m map[string]string, avail map[string]bool, extra map[string]bool, errs *[]ValidationError) {
	for key, val := range m {
		for _, ref := range Refs(val) {
			if !avail[ref] && !extra[ref] {
				*errs = append(*errs, ValidationError{
					Field:   fmt.Sprintf("%s.%s", field, key),
					Message: fmt.Sprintf("references undefined variable %q", ref),
				})
			}
		}
	}
}

func validateRefSlice(field string, list []string, avail map[string]bool, errs *[]ValidationError) {
	for _, val := range list {
		for _, ref := range Refs(val) {
			if !avail[ref] {
				*errs = append(*errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("references undefined variable %q", ref),
				})
			}
		}
	}
}
